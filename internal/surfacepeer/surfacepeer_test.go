package surfacepeer

import (
	"encoding/base64"
	"net"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/clipvault/clipvault/internal/history"
	"github.com/clipvault/clipvault/internal/hub"
	"github.com/clipvault/clipvault/internal/message"
	"github.com/clipvault/clipvault/internal/op"
	"github.com/clipvault/clipvault/internal/store"
	"github.com/clipvault/clipvault/internal/syncer"
	"github.com/clipvault/clipvault/internal/wire"
)

// pipeAddr gives each net.Pipe end a distinct address so surfaces don't
// collide in the hub registry.
type pipeAddr string

func (a pipeAddr) Network() string { return "pipe" }
func (a pipeAddr) String() string  { return string(a) }

type namedConn struct {
	net.Conn
	name string
}

func (c namedConn) RemoteAddr() net.Addr { return pipeAddr(c.name) }

// daemon is the background side of the tests: the same wiring the serve
// command performs, minus the OS clipboard watcher.
type daemon struct {
	hist  *history.Store
	h     *hub.Hub
	coord *syncer.Coordinator
	token string
}

func newDaemon(t *testing.T, token string) *daemon {
	t.Helper()
	kv, err := store.Open(filepath.Join(t.TempDir(), "state.json"))
	require.NoError(t, err)
	hist, err := history.NewStore(kv, 50)
	require.NoError(t, err)

	h := hub.New()
	h.SetState(hist.Snapshot())
	coord := syncer.New(op.OriginBackground, hist, hub.Broadcaster{Hub: h},
		syncer.WithRetry(1, time.Millisecond))

	hist.OnChange(func(st history.State) {
		h.SetState(st)
		h.Forward(&message.Message{
			Type:    message.TypeUpdated,
			Origin:  op.OriginBackground,
			History: &st,
		}, "")
	})

	return &daemon{hist: hist, h: h, coord: coord, token: token}
}

// connect attaches a surface to the daemon and completes the hello handshake.
func (d *daemon) connect(t *testing.T, id string, origin op.Origin) *wire.Conn {
	t.Helper()
	server, client := net.Pipe()

	peer := New(namedConn{Conn: server, name: id}, d.h, d.coord, d.hist, d.token, nil)
	go peer.Serve()

	wc := wire.New(client, nil)
	t.Cleanup(func() { _ = wc.Close() })

	hello := &message.Message{Type: message.TypeHello, Origin: origin, Source: "test"}
	if d.token != "" {
		hello.Payload = base64.StdEncoding.EncodeToString([]byte(d.token))
	}
	require.NoError(t, wc.WriteMsg(hello))
	return wc
}

// readUntil reads messages until one of the wanted type arrives, answering
// pings and skipping unrelated broadcasts along the way.
func readUntil(t *testing.T, wc *wire.Conn, want message.Type) *message.Message {
	t.Helper()
	wc.SetReadDeadline(2 * time.Second)
	defer wc.SetReadDeadline(0)

	for {
		msg, err := wc.ReadMsg()
		require.NoError(t, err, "waiting for %s", want)
		switch msg.Type {
		case want:
			return msg
		case message.TypePing:
			require.NoError(t, wc.WriteMsg(&message.Message{Type: message.TypePong}))
		case message.TypeError:
			t.Fatalf("error while waiting for %s: %s", want, msg.Error)
		}
	}
}

func TestCopyPropagatesToOtherSurfaces(t *testing.T) {
	d := newDaemon(t, "")
	popup := d.connect(t, "popup-1", op.OriginPopup)
	panel := d.connect(t, "panel-1", op.OriginSidePanel)

	// Both surfaces get the canonical (empty) history on registration.
	first := readUntil(t, popup, message.TypeUpdated)
	require.NotNil(t, first.History)
	assert.Empty(t, first.History.Items)
	readUntil(t, panel, message.TypeUpdated)

	require.NoError(t, popup.WriteMsg(&message.Message{
		Type:    message.TypeCopied,
		Origin:  op.OriginPopup,
		Content: "hello",
	}))

	// Every surface observes the new canonical state.
	for _, wc := range []*wire.Conn{popup, panel} {
		upd := readUntil(t, wc, message.TypeUpdated)
		require.NotNil(t, upd.History)
		require.Len(t, upd.History.Items, 1)
		assert.Equal(t, "hello", upd.History.Items[0].Content)
		assert.Equal(t, "test", upd.History.Items[0].Source)
	}

	assert.Equal(t, 1, d.hist.Len())
}

func TestClearFromOneSurfaceEmptiesAll(t *testing.T) {
	d := newDaemon(t, "")
	popup := d.connect(t, "popup-1", op.OriginPopup)
	panel := d.connect(t, "panel-1", op.OriginSidePanel)
	readUntil(t, popup, message.TypeUpdated)
	readUntil(t, panel, message.TypeUpdated)

	require.NoError(t, popup.WriteMsg(&message.Message{
		Type:    message.TypeCopied,
		Origin:  op.OriginPopup,
		Content: "to be cleared",
	}))
	readUntil(t, panel, message.TypeUpdated)

	o := op.NewClear(time.Now().UnixMilli(), op.OriginPopup)
	require.NoError(t, popup.WriteMsg(&message.Message{
		Type:      message.TypeSyncOperation,
		Origin:    op.OriginPopup,
		Operation: &o,
	}))

	// The side panel observes the empty canonical state; it also receives the
	// forwarded operation itself, in no guaranteed order.
	for {
		upd := readUntil(t, panel, message.TypeUpdated)
		require.NotNil(t, upd.History)
		if len(upd.History.Items) == 0 {
			break
		}
	}
	assert.Equal(t, 0, d.hist.Len())
}

func TestGetHistoryRequestResponse(t *testing.T) {
	d := newDaemon(t, "")
	require.NoError(t, d.hist.ApplyCreate(history.Item{
		ID: "1", Content: "existing", Timestamp: 1, Kind: history.KindText,
	}))

	popup := d.connect(t, "popup-1", op.OriginPopup)
	readUntil(t, popup, message.TypeUpdated)

	require.NoError(t, popup.WriteMsg(&message.Message{Type: message.TypeGetHistory}))
	resp := readUntil(t, popup, message.TypeHistory)
	require.NotNil(t, resp.History)
	require.Len(t, resp.History.Items, 1)
	assert.Equal(t, "existing", resp.History.Items[0].Content)
}

func TestStatusListsConnectedSurfaces(t *testing.T) {
	d := newDaemon(t, "")
	popup := d.connect(t, "popup-1", op.OriginPopup)
	panel := d.connect(t, "panel-1", op.OriginSidePanel)
	readUntil(t, popup, message.TypeUpdated)
	readUntil(t, panel, message.TypeUpdated)

	require.NoError(t, popup.WriteMsg(&message.Message{Type: message.TypeGetStatus}))
	resp := readUntil(t, popup, message.TypeStatus)
	require.NotNil(t, resp.Status)
	assert.Len(t, resp.Surfaces, 2)

	origins := map[op.Origin]bool{}
	for _, s := range resp.Surfaces {
		origins[s.Origin] = true
	}
	assert.True(t, origins[op.OriginPopup])
	assert.True(t, origins[op.OriginSidePanel])
}

func TestHealthRequestResponse(t *testing.T) {
	d := newDaemon(t, "")
	popup := d.connect(t, "popup-1", op.OriginPopup)
	readUntil(t, popup, message.TypeUpdated)

	require.NoError(t, popup.WriteMsg(&message.Message{Type: message.TypeGetHealth}))
	resp := readUntil(t, popup, message.TypeHealth)
	require.NotNil(t, resp.Health)
	assert.NotEmpty(t, resp.Health.Level)
}

func TestInvalidOperationReturnsError(t *testing.T) {
	d := newDaemon(t, "")
	popup := d.connect(t, "popup-1", op.OriginPopup)
	readUntil(t, popup, message.TypeUpdated)

	o := op.Operation{Kind: "bogus", Timestamp: 1, Origin: op.OriginPopup}
	require.NoError(t, popup.WriteMsg(&message.Message{
		Type:      message.TypeSyncOperation,
		Origin:    op.OriginPopup,
		Operation: &o,
	}))

	popup.SetReadDeadline(2 * time.Second)
	msg, err := popup.ReadMsg()
	require.NoError(t, err)
	assert.Equal(t, message.TypeError, msg.Type)
	assert.Contains(t, msg.Error, "unknown kind")
	assert.Equal(t, 0, d.hist.Len())
}

func TestAuthRejectsBadToken(t *testing.T) {
	d := newDaemon(t, "right-token")
	server, client := net.Pipe()

	peer := New(namedConn{Conn: server, name: "popup-1"}, d.h, d.coord, d.hist, d.token, nil)
	go peer.Serve()

	wc := wire.New(client, nil)
	t.Cleanup(func() { _ = wc.Close() })

	require.NoError(t, wc.WriteMsg(&message.Message{
		Type:    message.TypeHello,
		Origin:  op.OriginPopup,
		Payload: base64.StdEncoding.EncodeToString([]byte("wrong-token")),
	}))

	wc.SetReadDeadline(2 * time.Second)
	msg, err := wc.ReadMsg()
	require.NoError(t, err)
	assert.Equal(t, message.TypeError, msg.Type)
	assert.Equal(t, "auth_failed", msg.Error)
	assert.Empty(t, d.h.Surfaces())
}

func TestDisconnectStopsPeerGoroutines(t *testing.T) {
	d := newDaemon(t, "")
	server, client := net.Pipe()

	peer := New(namedConn{Conn: server, name: "popup-1"}, d.h, d.coord, d.hist, "", nil)
	peer.pingEvery = 5 * time.Millisecond
	peer.pongWait = 5 * time.Millisecond

	served := make(chan struct{})
	go func() {
		peer.Serve()
		close(served)
	}()

	wc := wire.New(client, nil)
	require.NoError(t, wc.WriteMsg(&message.Message{
		Type: message.TypeHello, Origin: op.OriginPopup, Source: "test",
	}))
	readUntil(t, wc, message.TypeUpdated)

	require.NoError(t, wc.Close())
	select {
	case <-served:
	case <-time.After(2 * time.Second):
		t.Fatal("Serve did not return after disconnect")
	}
	assert.Empty(t, d.h.Surfaces())

	// Let the ping ticker fire a few more times after teardown; sending to a
	// torn-down peer must be a silent drop, never a crash.
	time.Sleep(30 * time.Millisecond)
	assert.NotPanics(t, func() {
		for i := 0; i < 70; i++ {
			peer.Send(&message.Message{Type: message.TypePing})
		}
	})
}

func TestHelloRequiredBeforeAnythingElse(t *testing.T) {
	d := newDaemon(t, "")
	server, client := net.Pipe()

	peer := New(namedConn{Conn: server, name: "popup-1"}, d.h, d.coord, d.hist, "", nil)
	go peer.Serve()

	wc := wire.New(client, nil)
	t.Cleanup(func() { _ = wc.Close() })

	require.NoError(t, wc.WriteMsg(&message.Message{Type: message.TypeGetHistory}))

	wc.SetReadDeadline(2 * time.Second)
	msg, err := wc.ReadMsg()
	require.NoError(t, err)
	assert.Equal(t, message.TypeError, msg.Type)
	assert.Equal(t, "hello_required", msg.Error)
}
