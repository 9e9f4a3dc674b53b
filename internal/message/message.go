// Package message defines the clipvault IPC protocol.
//
// All messages are newline-delimited JSON exchanged between surface contexts
// and the background daemon. Each message is exactly one line: <json>\n
package message

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/clipvault/clipvault/internal/history"
	"github.com/clipvault/clipvault/internal/op"
	"github.com/clipvault/clipvault/internal/syncer"
)

// Type identifies the kind of message.
type Type string

const (
	// TypeHello is the registration handshake a surface sends on connect.
	TypeHello Type = "hello"

	// TypeCopied reports a clipboard copy observed by a surface.
	TypeCopied Type = "clipboard-copied"
	// TypePasted reports a paste. Telemetry only; carries no mutation.
	TypePasted Type = "clipboard-pasted"

	// TypeGetHistory requests the canonical history (request/response).
	TypeGetHistory Type = "get-clipboard-history"
	// TypeHistory answers TypeGetHistory.
	TypeHistory Type = "clipboard-history"
	// TypeUpdated is the fire-and-forget broadcast of the canonical history
	// sent to every surface after a mutation.
	TypeUpdated Type = "clipboard-updated"

	// TypeSyncOperation carries one history mutation in either direction.
	TypeSyncOperation Type = "sync-operation"

	// TypeGetStatus / TypeStatus and TypeGetHealth / TypeHealth are the
	// UI-facing request/response pairs for sync health display.
	TypeGetStatus Type = "get-sync-status"
	TypeStatus    Type = "sync-status"
	TypeGetHealth Type = "get-sync-health"
	TypeHealth    Type = "sync-health"

	TypePing  Type = "ping"
	TypePong  Type = "pong"
	TypeError Type = "error"
)

// SurfaceInfo carries metadata about a connected surface, used in status
// responses.
type SurfaceInfo struct {
	ID          string    `json:"id"`
	Origin      op.Origin `json:"origin"`
	Source      string    `json:"source,omitempty"`
	ConnectedAt time.Time `json:"connected_at"`
	LastSeen    time.Time `json:"last_seen"`
}

// Message is the top-level wire envelope.
type Message struct {
	// Always present
	Type   Type      `json:"type"`
	Origin op.Origin `json:"origin,omitempty"`
	Source string    `json:"source,omitempty"`

	// HELLO — token is base64-encoded
	Payload string `json:"payload,omitempty"`

	// CLIPBOARD-COPIED / CLIPBOARD-PASTED
	Content string `json:"content,omitempty"`

	// SYNC-OPERATION
	Operation *op.Operation `json:"operation,omitempty"`

	// CLIPBOARD-HISTORY / CLIPBOARD-UPDATED
	History *history.State `json:"history,omitempty"`

	// SYNC-STATUS / SYNC-HEALTH
	Status   *syncer.Status       `json:"status,omitempty"`
	Health   *syncer.HealthReport `json:"health,omitempty"`
	Surfaces []SurfaceInfo        `json:"surfaces,omitempty"`

	// ERROR
	Error string `json:"error,omitempty"`
}

// Encode serialises the message to JSON without a trailing newline.
func (m *Message) Encode() ([]byte, error) {
	return json.Marshal(m)
}

// Decode deserialises a message from raw JSON bytes.
func Decode(b []byte) (*Message, error) {
	var m Message
	if err := json.Unmarshal(b, &m); err != nil {
		return nil, fmt.Errorf("message decode: %w", err)
	}
	return &m, nil
}

// OriginOf returns the effective origin, defaulting to content — the surface
// kind that observes copies without declaring itself.
func (m *Message) OriginOf() op.Origin {
	if op.KnownOrigin(m.Origin) {
		return m.Origin
	}
	return op.OriginContent
}
