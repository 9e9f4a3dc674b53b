// Package hub implements the background-resident surface registry. It is
// transport-agnostic: surfaces register, receive messages via Send, and the
// hub fans mutations out to everyone except the originator.
//
// Delivery is best-effort by design: a surface that isn't currently open is
// simply not registered and receives nothing, which is not an error.
package hub

import (
	"context"
	"log/slog"
	"sync"

	"github.com/clipvault/clipvault/internal/history"
	"github.com/clipvault/clipvault/internal/message"
	"github.com/clipvault/clipvault/internal/op"
)

// Surface is anything that can receive messages from the hub.
type Surface interface {
	ID() string
	Info() message.SurfaceInfo
	// Send delivers a message to the surface. Must be non-blocking.
	Send(*message.Message)
}

// Hub routes messages between all registered surfaces and remembers the
// latest canonical history so a newly opened surface is brought up to date
// immediately.
type Hub struct {
	mu       sync.RWMutex
	surfaces map[string]Surface
	latest   *history.State
}

// New returns an empty Hub.
func New() *Hub {
	return &Hub{surfaces: make(map[string]Surface)}
}

// Register adds a surface and immediately delivers the latest canonical
// history, if one is known.
func (h *Hub) Register(s Surface) {
	h.mu.Lock()
	h.surfaces[s.ID()] = s
	latest := h.latest
	total := len(h.surfaces)
	h.mu.Unlock()

	info := s.Info()
	slog.Info("surface registered",
		"surface", s.ID(),
		"origin", info.Origin,
		"total", total,
	)

	if latest != nil {
		st := latest.Clone()
		s.Send(&message.Message{
			Type:    message.TypeUpdated,
			Origin:  op.OriginBackground,
			History: &st,
		})
	}
}

// Unregister removes a surface from the hub.
func (h *Hub) Unregister(s Surface) {
	h.mu.Lock()
	delete(h.surfaces, s.ID())
	total := len(h.surfaces)
	h.mu.Unlock()

	slog.Info("surface unregistered", "surface", s.ID(), "total", total)
}

// SetState records st as the latest canonical history for registration
// pushes. Called by the server on every history change.
func (h *Hub) SetState(st history.State) {
	h.mu.Lock()
	h.latest = &st
	h.mu.Unlock()
}

// Forward delivers msg to every registered surface except exceptID. Each
// send is independent; a full or dead surface drops the message, which is
// logged by the surface itself.
func (h *Hub) Forward(msg *message.Message, exceptID string) {
	h.mu.RLock()
	targets := make([]Surface, 0, len(h.surfaces))
	for id, s := range h.surfaces {
		if id == exceptID {
			continue
		}
		targets = append(targets, s)
	}
	h.mu.RUnlock()

	for _, s := range targets {
		s.Send(msg)
	}
}

// Surfaces returns a snapshot of all current surface metadata.
func (h *Hub) Surfaces() []message.SurfaceInfo {
	h.mu.RLock()
	defer h.mu.RUnlock()
	out := make([]message.SurfaceInfo, 0, len(h.surfaces))
	for _, s := range h.surfaces {
		out = append(out, s.Info())
	}
	return out
}

// Broadcaster adapts the hub to syncer.Broadcaster and
// syncer.StateBroadcaster. Fan-out cannot fail as a whole — per-surface
// delivery problems are swallowed by the surfaces — so both methods always
// succeed.
type Broadcaster struct {
	Hub *Hub
}

// Broadcast forwards a sync-operation message to every surface.
func (b Broadcaster) Broadcast(_ context.Context, o op.Operation) error {
	b.Hub.Forward(&message.Message{
		Type:      message.TypeSyncOperation,
		Origin:    o.Origin,
		Operation: &o,
	}, "")
	return nil
}

// BroadcastState re-asserts the canonical history to every surface.
func (b Broadcaster) BroadcastState(_ context.Context, st history.State) error {
	b.Hub.SetState(st)
	b.Hub.Forward(&message.Message{
		Type:    message.TypeUpdated,
		Origin:  op.OriginBackground,
		History: &st,
	}, "")
	return nil
}
