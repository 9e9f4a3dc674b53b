// Package clip is the boundary to the OS clipboard capability. It exposes a
// small text-only Backend plus the error taxonomy the permission layer needs:
// a refused read is ErrNotAllowed (a normal outcome, not a failure), while an
// empty clipboard is ErrEmpty — the API was reachable, access is effectively
// usable.
package clip

import "errors"

var (
	// ErrNotAllowed means the OS refused clipboard access.
	ErrNotAllowed = errors.New("clipboard access not allowed")
	// ErrEmpty means the clipboard is readable but holds no text.
	ErrEmpty = errors.New("clipboard is empty")
)

// Backend is the interface all clipboard implementations satisfy.
type Backend interface {
	// Name returns a human-readable name for the backend.
	Name() string

	// ReadText returns the current clipboard text. Returns ErrNotAllowed
	// when access is refused and ErrEmpty when there is nothing to read.
	ReadText() (string, error)

	// WriteText replaces the clipboard contents with text.
	WriteText(text string) error

	// Watch returns a channel that receives a signal whenever the clipboard
	// changes. The channel is never closed; the caller should ReadText when
	// it receives. Implemented via polling where the platform has no native
	// change notification.
	Watch() <-chan struct{}

	// Close releases any resources held by the backend.
	Close()
}
