// Package permission tracks whether clipboard-read access is granted, denied,
// or unknown, and decides when to silently check, actively probe, or suppress
// re-prompting.
//
// The boundary is checked far more often than it is requested (every copy
// event), so the machine trusts the persisted record unless enough time has
// passed or the user has never been asked — and it never re-probes a user who
// said no within the cooldown window.
package permission

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/clipvault/clipvault/internal/clip"
)

// StorageKey is the persisted-state key for the permission record.
const StorageKey = "permissionStatus"

const (
	// DefaultReprobeInterval is how long a denial is trusted before one
	// silent re-probe is allowed.
	DefaultReprobeInterval = 7 * 24 * time.Hour
	// DefaultPromptCooldown is how long after a denial the user is not
	// prompted again.
	DefaultPromptCooldown = 30 * 24 * time.Hour
)

// State is the permission outcome recorded after a probe.
type State string

const (
	StateUnknown State = "unknown"
	StateGranted State = "granted"
	StateDenied  State = "denied"
)

// Record is the persisted permission document.
type Record struct {
	State         State `json:"state"`
	LastCheckedAt int64 `json:"lastCheckedAt"` // ms since epoch
	EverRequested bool  `json:"everRequested"`
}

// Prober attempts a live clipboard read. A nil error or any error other than
// clip.ErrNotAllowed means the capability is reachable.
type Prober interface {
	Probe(ctx context.Context) error
}

// ProbeFunc adapts a function to the Prober interface.
type ProbeFunc func(ctx context.Context) error

func (f ProbeFunc) Probe(ctx context.Context) error { return f(ctx) }

// Persister is the slice of the key-value store the machine needs.
type Persister interface {
	Get(key string, v any) (bool, error)
	Put(key string, v any) error
}

// Machine is the permission state machine. One owned instance per context.
type Machine struct {
	kv     Persister
	prober Prober

	reprobe  time.Duration
	cooldown time.Duration
	now      func() time.Time

	mu  sync.Mutex
	rec Record
}

// Option configures a Machine.
type Option func(*Machine)

// WithReprobeInterval overrides the silent re-probe interval.
func WithReprobeInterval(d time.Duration) Option {
	return func(m *Machine) { m.reprobe = d }
}

// WithPromptCooldown overrides the prompt cooldown.
func WithPromptCooldown(d time.Duration) Option {
	return func(m *Machine) { m.cooldown = d }
}

// WithClock overrides the time source. Tests only.
func WithClock(now func() time.Time) Option {
	return func(m *Machine) { m.now = now }
}

// New loads the persisted record (missing fields back-filled from defaults)
// and returns the machine.
func New(kv Persister, prober Prober, opts ...Option) (*Machine, error) {
	m := &Machine{
		kv:       kv,
		prober:   prober,
		reprobe:  DefaultReprobeInterval,
		cooldown: DefaultPromptCooldown,
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(m)
	}

	var rec Record
	found, err := kv.Get(StorageKey, &rec)
	if err != nil {
		slog.Warn("persisted permission record unreadable, using defaults", "err", err)
		rec = Record{}
	} else if !found {
		rec = Record{}
	}
	if rec.State != StateGranted && rec.State != StateDenied {
		rec.State = StateUnknown
	}
	m.rec = rec
	return m, nil
}

// Record returns a copy of the current record.
func (m *Machine) Record() Record {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.rec
}

// Check reports whether clipboard reads are currently authorized, probing the
// OS only when the cached state cannot answer: never asked before, or a
// denial older than the re-probe interval.
func (m *Machine) Check(ctx context.Context) bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	switch {
	case m.rec.State == StateGranted:
		return true
	case !m.rec.EverRequested:
		return m.probeLocked(ctx)
	case m.rec.State == StateDenied:
		elapsed := m.now().Sub(time.UnixMilli(m.rec.LastCheckedAt))
		if elapsed > m.reprobe {
			return m.probeLocked(ctx)
		}
		return false
	default:
		// unknown but already requested: trust one more probe
		return m.probeLocked(ctx)
	}
}

// Request actively triggers the OS permission prompt. Reading the clipboard
// API is itself what surfaces the prompt, so this is a probe that skips all
// cooldown gating. Equivalent to Check when already granted.
func (m *Machine) Request(ctx context.Context) bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.rec.State == StateGranted {
		return true
	}
	return m.probeLocked(ctx)
}

// ShouldPrompt reports whether the UI may show a permission-request banner:
// never when granted, always when never asked, and after a denial only once
// the long cooldown has elapsed.
func (m *Machine) ShouldPrompt() bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	switch {
	case m.rec.State == StateGranted:
		return false
	case !m.rec.EverRequested:
		return true
	case m.rec.State == StateDenied:
		return m.now().Sub(time.UnixMilli(m.rec.LastCheckedAt)) > m.cooldown
	default:
		return true
	}
}

// Reset forces the record back to its initial state. User-triggered escape
// hatch after an accidental denial.
func (m *Machine) Reset() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.rec = Record{State: StateUnknown}
	return m.persistLocked()
}

// probeLocked performs one live probe and records the observed outcome.
// A refusal is a normal false outcome; any other probe error (e.g. an empty
// clipboard) means the API itself is reachable and counts as granted.
// Must be called with m.mu held.
func (m *Machine) probeLocked(ctx context.Context) bool {
	err := m.prober.Probe(ctx)
	granted := err == nil || !errors.Is(err, clip.ErrNotAllowed)

	m.rec.EverRequested = true
	m.rec.LastCheckedAt = m.now().UnixMilli()
	if granted {
		m.rec.State = StateGranted
	} else {
		m.rec.State = StateDenied
	}

	if perr := m.persistLocked(); perr != nil {
		slog.Error("persisting permission record failed", "err", perr)
	}
	slog.Debug("permission probe", "granted", granted, "err", err)
	return granted
}

func (m *Machine) persistLocked() error {
	return m.kv.Put(StorageKey, m.rec)
}
