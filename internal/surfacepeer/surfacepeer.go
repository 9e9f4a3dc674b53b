// Package surfacepeer adapts an IPC connection from a surface context
// (popup, side panel, content script host) into a hub.Surface.
package surfacepeer

import (
	"context"
	"encoding/base64"
	"errors"
	"log/slog"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/clipvault/clipvault/internal/history"
	"github.com/clipvault/clipvault/internal/hub"
	"github.com/clipvault/clipvault/internal/message"
	"github.com/clipvault/clipvault/internal/op"
	"github.com/clipvault/clipvault/internal/syncer"
	"github.com/clipvault/clipvault/internal/wire"
)

const (
	pingInterval = 15 * time.Second
	pongDeadline = 10 * time.Second
	helloTimeout = 10 * time.Second
)

// Peer wraps a single surface connection as a hub.Surface.
type Peer struct {
	id     string
	conn   *wire.Conn
	h      *hub.Hub
	coord  *syncer.Coordinator
	hist   *history.Store
	token  string
	sendCh chan *message.Message
	pongCh chan struct{}

	// done is closed exactly once on teardown; every peer goroutine exits on
	// it. sendCh is never closed, so a late Send is a silent drop.
	done      chan struct{}
	closeOnce sync.Once

	pingEvery time.Duration
	pongWait  time.Duration

	mu       sync.RWMutex
	info     message.SurfaceInfo
	lastSeen atomic.Int64 // UnixNano
}

// New creates a Peer for conn. token may be empty to disable the handshake
// check.
func New(conn net.Conn, h *hub.Hub, coord *syncer.Coordinator, hist *history.Store, token string, key *[32]byte) *Peer {
	now := time.Now()
	id := conn.RemoteAddr().String()
	if id == "" || id == "@" {
		// Unix sockets often have no meaningful peer address.
		id = "surface/" + now.Format("150405.000000")
	}
	p := &Peer{
		id:     id,
		conn:   wire.New(conn, key),
		h:      h,
		coord:  coord,
		hist:   hist,
		token:  token,
		sendCh: make(chan *message.Message, 64),
		pongCh: make(chan struct{}, 1),
		done:   make(chan struct{}),

		pingEvery: pingInterval,
		pongWait:  pongDeadline,
		info: message.SurfaceInfo{
			ID:          id,
			Origin:      op.OriginContent,
			ConnectedAt: now,
			LastSeen:    now,
		},
	}
	p.lastSeen.Store(now.UnixNano())
	return p
}

func (p *Peer) ID() string { return p.id }

func (p *Peer) Info() message.SurfaceInfo {
	p.mu.RLock()
	defer p.mu.RUnlock()
	info := p.info
	info.LastSeen = time.Unix(0, p.lastSeen.Load())
	return info
}

// Send implements hub.Surface. Non-blocking; a full channel drops the
// message, which the heartbeat's state re-assertion repairs. Sends to a
// torn-down peer are dropped.
func (p *Peer) Send(msg *message.Message) {
	select {
	case <-p.done:
	case p.sendCh <- msg:
	default:
		slog.Warn("surface send channel full, dropping", "surface", p.id)
	}
}

// teardown signals every peer goroutine to exit and closes the connection.
// Safe to call from any goroutine, any number of times.
func (p *Peer) teardown() {
	p.closeOnce.Do(func() {
		close(p.done)
		_ = p.conn.Close()
	})
}

func (p *Peer) notifyAlive() {
	p.lastSeen.Store(time.Now().UnixNano())
	select {
	case p.pongCh <- struct{}{}:
	default:
	}
}

// Serve completes the hello handshake, registers with the hub, and runs the
// read/write/ping loops until the connection drops.
func (p *Peer) Serve() {
	defer p.teardown()
	log := slog.With("surface", p.id)

	// Hello handshake
	p.conn.SetReadDeadline(helloTimeout)
	hello, err := p.conn.ReadMsg()
	if err != nil {
		log.Warn("hello read failed", "err", err)
		return
	}
	p.conn.SetReadDeadline(0)

	if hello.Type != message.TypeHello {
		log.Warn("expected hello", "got", hello.Type)
		_ = p.conn.WriteMsg(&message.Message{Type: message.TypeError, Error: "hello_required"})
		return
	}
	if p.token != "" {
		tokenBytes, _ := base64.StdEncoding.DecodeString(hello.Payload)
		if string(tokenBytes) != p.token {
			log.Warn("auth failed")
			_ = p.conn.WriteMsg(&message.Message{Type: message.TypeError, Error: "auth_failed"})
			return
		}
	}

	p.mu.Lock()
	p.info.Origin = hello.OriginOf()
	p.info.Source = hello.Source
	p.mu.Unlock()

	log.Info("surface connected", "origin", hello.OriginOf(), "source", hello.Source)

	// Register
	p.h.Register(p)
	defer p.h.Unregister(p)

	// Writer
	go func() {
		for {
			select {
			case <-p.done:
				return
			case msg := <-p.sendCh:
				if err := p.conn.WriteMsg(msg); err != nil {
					log.Error("write failed", "err", err)
					p.teardown()
					return
				}
			}
		}
	}()

	// Ping loop
	go func() {
		ticker := time.NewTicker(p.pingEvery)
		defer ticker.Stop()
		for {
			select {
			case <-p.done:
				return
			case <-ticker.C:
			}
			p.Send(&message.Message{Type: message.TypePing})
			select {
			case <-p.pongCh:
			case <-p.done:
				return
			case <-time.After(p.pongWait):
				log.Warn("pong timeout, closing")
				p.teardown()
				return
			}
		}
	}()

	// Reader
	ctx := context.Background()
	for {
		msg, err := p.conn.ReadMsg()
		if err != nil {
			if !errors.Is(err, net.ErrClosed) {
				log.Info("connection closed", "err", err)
			}
			return
		}

		p.notifyAlive()
		p.handle(ctx, msg, log)
	}
}

// handle routes one incoming message.
func (p *Peer) handle(ctx context.Context, msg *message.Message, log *slog.Logger) {
	switch msg.Type {
	case message.TypeCopied:
		if msg.Content == "" {
			log.Debug("ignoring empty copy")
			return
		}
		item := history.NewTextItem(msg.Content, p.source())
		o := op.NewCreate(item, msg.OriginOf())
		hub.LogOperation("clipboard copy received", o)
		if err := p.coord.Submit(ctx, o); err != nil {
			log.Warn("copy rejected", "err", err)
			p.Send(&message.Message{Type: message.TypeError, Error: err.Error()})
		}

	case message.TypePasted:
		// Telemetry only.
		log.Debug("clipboard paste reported", "origin", msg.OriginOf())

	case message.TypeGetHistory:
		st := p.hist.Snapshot()
		p.Send(&message.Message{Type: message.TypeHistory, History: &st})

	case message.TypeSyncOperation:
		if msg.Operation == nil {
			p.Send(&message.Message{Type: message.TypeError, Error: "operation_required"})
			return
		}
		o := *msg.Operation
		hub.LogOperation("sync operation received", o)
		if err := p.coord.HandleIncoming(ctx, o); err != nil {
			log.Warn("operation rejected", "err", err)
			p.Send(&message.Message{Type: message.TypeError, Error: err.Error()})
			return
		}
		// Forward to every other surface; the originator already applied it.
		p.h.Forward(msg, p.id)

	case message.TypeGetStatus:
		st := p.coord.Status()
		p.Send(&message.Message{
			Type:     message.TypeStatus,
			Status:   &st,
			Surfaces: p.h.Surfaces(),
		})

	case message.TypeGetHealth:
		hr := p.coord.Health()
		p.Send(&message.Message{Type: message.TypeHealth, Health: &hr})

	case message.TypePing:
		p.Send(&message.Message{Type: message.TypePong})

	case message.TypePong:
		// handled by notifyAlive

	default:
		log.Warn("unexpected message type", "type", msg.Type)
	}
}

func (p *Peer) source() string {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.info.Source
}
