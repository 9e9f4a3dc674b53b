// Package syncer implements the per-context sync coordinator: it accepts
// local mutations, applies them optimistically, broadcasts them to the other
// surfaces with retry, merges incoming remote mutations, and exposes the
// aggregated sync status and health.
//
// The background context's coordinator is authoritative: every message is
// routed through it. Other contexts run the same type against their local
// view of the history.
package syncer

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/clipvault/clipvault/internal/history"
	"github.com/clipvault/clipvault/internal/op"
)

const (
	// DefaultMaxRetries is how many times a failed broadcast is retried.
	DefaultMaxRetries = 3
	// DefaultBackoff is the delay before the first retry; it doubles on
	// each subsequent attempt (1s, 2s, 4s).
	DefaultBackoff = time.Second
	// DefaultHeartbeatInterval is the period of the reconciliation pass that
	// re-broadcasts pending operations and re-asserts canonical state.
	DefaultHeartbeatInterval = 5 * time.Second

	healthyWindow  = time.Minute
	degradedWindow = 5 * time.Minute

	// seenLimit bounds the de-duplication window for redelivered operations.
	// History mutations are idempotent, so falling out of the window is
	// harmless.
	seenLimit = 512
)

// Status is a snapshot of the coordinator's sync state.
type Status struct {
	IsSyncing         bool           `json:"isSyncing"`
	LastSyncTime      int64          `json:"lastSyncTime"` // ms since epoch, 0 = never
	PendingOperations []op.Operation `json:"pendingOperations"`
	Error             string         `json:"error,omitempty"`
}

// HealthLevel grades a Status.
type HealthLevel string

const (
	HealthHealthy   HealthLevel = "healthy"
	HealthDegraded  HealthLevel = "degraded"
	HealthUnhealthy HealthLevel = "unhealthy"
)

// HealthReport is the human-readable assessment returned to UI surfaces.
type HealthReport struct {
	Level  HealthLevel `json:"level"`
	Issues []string    `json:"issues,omitempty"`
	Hints  []string    `json:"hints,omitempty"`
	Status Status      `json:"status"`
}

// Broadcaster delivers an operation to the other surfaces. Per-recipient
// failures are the broadcaster's concern (a surface that isn't open simply
// receives nothing); an error return means the broadcast attempt as a whole
// failed and will be retried.
type Broadcaster interface {
	Broadcast(ctx context.Context, o op.Operation) error
}

// StateBroadcaster is an optional interface a Broadcaster may implement to
// let the heartbeat re-assert the full canonical history to all surfaces.
type StateBroadcaster interface {
	Broadcaster
	BroadcastState(ctx context.Context, st history.State) error
}

// BroadcastFunc adapts a function to the Broadcaster interface.
type BroadcastFunc func(ctx context.Context, o op.Operation) error

func (f BroadcastFunc) Broadcast(ctx context.Context, o op.Operation) error { return f(ctx, o) }

// Coordinator orchestrates validation, optimistic application, broadcast
// with retry, and merge of incoming operations for one execution context.
type Coordinator struct {
	origin op.Origin
	hist   *history.Store
	bcast  Broadcaster

	maxRetries int
	backoff    time.Duration
	heartbeat  time.Duration
	now        func() time.Time

	mu        sync.Mutex
	pending   map[string]op.Operation
	syncing   bool
	lastSync  time.Time
	lastErr   string
	startedAt time.Time

	seen     map[string]struct{}
	seenFIFO []string
}

// Option configures a Coordinator.
type Option func(*Coordinator)

// WithRetry overrides the retry count and initial backoff. Tests use tiny
// backoffs here instead of stubbing time.
func WithRetry(maxRetries int, backoff time.Duration) Option {
	return func(c *Coordinator) {
		c.maxRetries = maxRetries
		c.backoff = backoff
	}
}

// WithHeartbeatInterval overrides the reconciliation period.
func WithHeartbeatInterval(d time.Duration) Option {
	return func(c *Coordinator) { c.heartbeat = d }
}

// WithClock overrides the time source. Tests only.
func WithClock(now func() time.Time) Option {
	return func(c *Coordinator) { c.now = now }
}

// New returns a coordinator for the given context origin.
func New(origin op.Origin, hist *history.Store, bcast Broadcaster, opts ...Option) *Coordinator {
	c := &Coordinator{
		origin:     origin,
		hist:       hist,
		bcast:      bcast,
		maxRetries: DefaultMaxRetries,
		backoff:    DefaultBackoff,
		heartbeat:  DefaultHeartbeatInterval,
		now:        time.Now,
		pending:    make(map[string]op.Operation),
		seen:       make(map[string]struct{}),
	}
	for _, opt := range opts {
		opt(c)
	}
	c.startedAt = c.now()
	return c
}

// Origin returns the surface context this coordinator runs in.
func (c *Coordinator) Origin() op.Origin { return c.origin }

// Submit validates a locally produced operation, applies it optimistically,
// and broadcasts it to the other surfaces with retry. Validation failures
// are returned immediately and mutate nothing; broadcast exhaustion is
// surfaced via Status().Error, never returned to the caller.
func (c *Coordinator) Submit(ctx context.Context, o op.Operation) error {
	if err := op.Validate(o); err != nil {
		return err
	}

	c.mu.Lock()
	c.pending[o.Key()] = o
	c.markSeenLocked(o.Key())
	c.mu.Unlock()

	if err := c.apply(o); err != nil {
		c.setError(fmt.Sprintf("applying %s operation: %v", o.Kind, err))
		return err
	}

	c.broadcastWithRetry(ctx, o)
	return nil
}

// HandleIncoming merges an operation delivered from a remote surface.
// Operations originating from the background are dropped immediately — the
// background forwards every mutation it sees, so accepting its echo would
// re-trigger it forever. Incoming operations are never re-broadcast.
func (c *Coordinator) HandleIncoming(ctx context.Context, o op.Operation) error {
	if o.Origin == op.OriginBackground {
		slog.Debug("dropping background echo", "kind", o.Kind, "item", o.Target())
		return nil
	}
	if err := op.Validate(o); err != nil {
		return err
	}

	c.mu.Lock()
	if _, dup := c.seen[o.Key()]; dup {
		c.mu.Unlock()
		slog.Debug("dropping duplicate operation", "key", o.Key())
		return nil
	}
	c.markSeenLocked(o.Key())
	c.mu.Unlock()

	if err := c.apply(o); err != nil {
		c.setError(fmt.Sprintf("applying remote %s operation: %v", o.Kind, err))
		return err
	}

	c.mu.Lock()
	c.lastSync = c.now()
	c.mu.Unlock()
	return nil
}

// Status returns a snapshot of the sync state, pending operations ordered by
// timestamp via conflict classification order.
func (c *Coordinator) Status() Status {
	c.mu.Lock()
	defer c.mu.Unlock()

	pending := make([]op.Operation, 0, len(c.pending))
	for _, o := range c.pending {
		pending = append(pending, o)
	}
	ordered := make([]op.Operation, 0, len(pending))
	for _, r := range op.ClassifyConflicts(pending) {
		ordered = append(ordered, r.Operation)
	}

	var last int64
	if !c.lastSync.IsZero() {
		last = c.lastSync.UnixMilli()
	}
	return Status{
		IsSyncing:         c.syncing,
		LastSyncTime:      last,
		PendingOperations: ordered,
		Error:             c.lastErr,
	}
}

// Health grades the current status: healthy means idle, error-free, nothing
// pending, and a successful sync within the last minute; a gap of up to five
// minutes degrades; anything beyond that, or a standing error, is unhealthy.
func (c *Coordinator) Health() HealthReport {
	st := c.Status()

	c.mu.Lock()
	ref := c.lastSync
	if ref.IsZero() {
		ref = c.startedAt
	}
	gap := c.now().Sub(ref)
	c.mu.Unlock()

	var issues, hints []string
	if st.Error != "" {
		issues = append(issues, "last sync failed: "+st.Error)
		hints = append(hints, "retry the operation", "check that the background daemon is reachable")
	}
	if n := len(st.PendingOperations); n > 0 {
		issues = append(issues, fmt.Sprintf("%d operation(s) awaiting delivery", n))
		hints = append(hints, "wait for the next reconciliation pass to flush pending operations")
	}
	if gap > degradedWindow {
		issues = append(issues, fmt.Sprintf("no successful sync in %s", gap.Round(time.Second)))
		hints = append(hints, "check connectivity to the background daemon")
	}

	var level HealthLevel
	switch {
	case st.Error != "" || gap > degradedWindow:
		level = HealthUnhealthy
	case st.IsSyncing || len(st.PendingOperations) > 0 || gap > healthyWindow:
		level = HealthDegraded
	default:
		level = HealthHealthy
	}

	return HealthReport{Level: level, Issues: issues, Hints: hints, Status: st}
}

// Run drives the periodic reconciliation heartbeat: re-broadcast anything
// still pending and re-assert the canonical state to all surfaces. Blocks
// until ctx is cancelled; call in a goroutine.
func (c *Coordinator) Run(ctx context.Context) {
	t := time.NewTicker(c.heartbeat)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			c.reconcile(ctx)
		}
	}
}

// reconcile performs one heartbeat pass.
func (c *Coordinator) reconcile(ctx context.Context) {
	c.mu.Lock()
	pending := make([]op.Operation, 0, len(c.pending))
	for _, o := range c.pending {
		pending = append(pending, o)
	}
	c.mu.Unlock()

	for _, o := range pending {
		if err := c.bcast.Broadcast(ctx, o); err != nil {
			slog.Warn("heartbeat re-broadcast failed", "kind", o.Kind, "err", err)
			continue
		}
		c.mu.Lock()
		delete(c.pending, o.Key())
		c.lastSync = c.now()
		if len(c.pending) == 0 {
			c.lastErr = ""
		}
		c.mu.Unlock()
	}

	if sb, ok := c.bcast.(StateBroadcaster); ok {
		if err := sb.BroadcastState(ctx, c.hist.Snapshot()); err != nil {
			slog.Warn("heartbeat state re-assertion failed", "err", err)
		}
	}
}

// broadcastWithRetry attempts the broadcast, retrying with exponential
// backoff. On success the operation leaves the pending set; after exhausting
// retries it stays pending for the heartbeat and the error is surfaced via
// status.
func (c *Coordinator) broadcastWithRetry(ctx context.Context, o op.Operation) {
	c.mu.Lock()
	c.syncing = true
	c.mu.Unlock()
	defer func() {
		c.mu.Lock()
		c.syncing = false
		c.mu.Unlock()
	}()

	delay := c.backoff
	var lastErr error
	for attempt := 0; attempt <= c.maxRetries; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return
			case <-time.After(delay):
			}
			delay *= 2
		}

		if err := c.bcast.Broadcast(ctx, o); err != nil {
			lastErr = err
			slog.Warn("broadcast failed",
				"kind", o.Kind,
				"attempt", attempt+1,
				"err", err,
			)
			continue
		}

		c.mu.Lock()
		delete(c.pending, o.Key())
		c.lastSync = c.now()
		c.lastErr = ""
		c.mu.Unlock()
		return
	}

	c.setError(fmt.Sprintf("broadcast of %s operation failed after %d attempts: %v",
		o.Kind, c.maxRetries+1, lastErr))
}

// apply routes an operation to the history store. The switch is exhaustive
// over the operation kinds; Validate has already rejected anything else.
func (c *Coordinator) apply(o op.Operation) error {
	switch o.Kind {
	case op.KindCreate:
		return c.hist.ApplyCreate(*o.Payload)
	case op.KindDelete:
		return c.hist.ApplyDelete(o.ItemID)
	case op.KindClear:
		return c.hist.ApplyClear()
	case op.KindUpdate:
		return c.hist.ApplyUpdate(*o.Payload)
	default:
		return fmt.Errorf("%w: unknown kind %q", op.ErrInvalid, o.Kind)
	}
}

func (c *Coordinator) setError(msg string) {
	c.mu.Lock()
	c.lastErr = msg
	c.mu.Unlock()
}

// markSeenLocked records an operation key in the bounded de-duplication
// window. Must be called with c.mu held.
func (c *Coordinator) markSeenLocked(key string) {
	if _, ok := c.seen[key]; ok {
		return
	}
	c.seen[key] = struct{}{}
	c.seenFIFO = append(c.seenFIFO, key)
	if len(c.seenFIFO) > seenLimit {
		oldest := c.seenFIFO[0]
		c.seenFIFO = c.seenFIFO[1:]
		delete(c.seen, oldest)
	}
}
