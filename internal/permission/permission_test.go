package permission

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/clipvault/clipvault/internal/clip"
	"github.com/clipvault/clipvault/internal/store"
)

type fakeProber struct {
	err   error
	calls int
}

func (p *fakeProber) Probe(context.Context) error {
	p.calls++
	return p.err
}

type clock struct {
	t time.Time
}

func (c *clock) now() time.Time          { return c.t }
func (c *clock) advance(d time.Duration) { c.t = c.t.Add(d) }

func newTestMachine(t *testing.T, p Prober, opts ...Option) *Machine {
	t.Helper()
	kv, err := store.Open(filepath.Join(t.TempDir(), "state.json"))
	require.NoError(t, err)
	m, err := New(kv, p, opts...)
	require.NoError(t, err)
	return m
}

func TestFirstCheckProbes(t *testing.T) {
	p := &fakeProber{}
	m := newTestMachine(t, p)

	assert.True(t, m.Check(context.Background()))
	assert.Equal(t, 1, p.calls)

	rec := m.Record()
	assert.Equal(t, StateGranted, rec.State)
	assert.True(t, rec.EverRequested)
	assert.Greater(t, rec.LastCheckedAt, int64(0))
}

func TestGrantedAnswersFromCache(t *testing.T) {
	p := &fakeProber{}
	m := newTestMachine(t, p)

	require.True(t, m.Check(context.Background()))
	require.True(t, m.Check(context.Background()))
	require.True(t, m.Check(context.Background()))
	assert.Equal(t, 1, p.calls)
}

func TestDenialCachedUntilReprobeInterval(t *testing.T) {
	ck := &clock{t: time.UnixMilli(1_700_000_000_000)}
	p := &fakeProber{err: clip.ErrNotAllowed}
	m := newTestMachine(t, p, WithClock(ck.now))

	assert.False(t, m.Check(context.Background()))
	assert.Equal(t, StateDenied, m.Record().State)

	// Within the interval the denial is trusted, no probe.
	ck.advance(6 * 24 * time.Hour)
	assert.False(t, m.Check(context.Background()))
	assert.Equal(t, 1, p.calls)

	// Past the interval one silent re-probe happens.
	ck.advance(2 * 24 * time.Hour)
	p.err = nil
	assert.True(t, m.Check(context.Background()))
	assert.Equal(t, 2, p.calls)
	assert.Equal(t, StateGranted, m.Record().State)
}

func TestNonDenialProbeErrorCountsAsGranted(t *testing.T) {
	p := &fakeProber{err: errors.New("clipboard empty")}
	m := newTestMachine(t, p)

	assert.True(t, m.Check(context.Background()))
	assert.Equal(t, StateGranted, m.Record().State)
}

func TestRequestAlwaysProbesUnlessGranted(t *testing.T) {
	ck := &clock{t: time.UnixMilli(1_700_000_000_000)}
	p := &fakeProber{err: clip.ErrNotAllowed}
	m := newTestMachine(t, p, WithClock(ck.now))

	assert.False(t, m.Check(context.Background()))
	assert.Equal(t, 1, p.calls)

	// A user-triggered request bypasses the re-probe interval.
	assert.False(t, m.Request(context.Background()))
	assert.Equal(t, 2, p.calls)

	p.err = nil
	assert.True(t, m.Request(context.Background()))
	assert.Equal(t, 3, p.calls)

	// Once granted, Request answers from cache.
	assert.True(t, m.Request(context.Background()))
	assert.Equal(t, 3, p.calls)
}

func TestShouldPrompt(t *testing.T) {
	ck := &clock{t: time.UnixMilli(1_700_000_000_000)}
	p := &fakeProber{err: clip.ErrNotAllowed}
	m := newTestMachine(t, p, WithClock(ck.now))

	// Never asked: always prompt.
	assert.True(t, m.ShouldPrompt())

	// Freshly denied: suppressed for the cooldown.
	require.False(t, m.Check(context.Background()))
	assert.False(t, m.ShouldPrompt())

	ck.advance(29 * 24 * time.Hour)
	assert.False(t, m.ShouldPrompt())

	ck.advance(2 * 24 * time.Hour)
	assert.True(t, m.ShouldPrompt())

	// Granted: never prompt.
	p.err = nil
	require.True(t, m.Request(context.Background()))
	assert.False(t, m.ShouldPrompt())
}

func TestReset(t *testing.T) {
	p := &fakeProber{err: clip.ErrNotAllowed}
	m := newTestMachine(t, p)

	require.False(t, m.Check(context.Background()))
	require.NoError(t, m.Reset())

	rec := m.Record()
	assert.Equal(t, StateUnknown, rec.State)
	assert.False(t, rec.EverRequested)
	assert.True(t, m.ShouldPrompt())

	// The next check probes again immediately.
	p.err = nil
	assert.True(t, m.Check(context.Background()))
}

func TestRecordPersistsAcrossInstances(t *testing.T) {
	path := filepath.Join(t.TempDir(), "state.json")
	kv, err := store.Open(path)
	require.NoError(t, err)

	p := &fakeProber{err: clip.ErrNotAllowed}
	m, err := New(kv, p)
	require.NoError(t, err)
	require.False(t, m.Check(context.Background()))

	kv2, err := store.Open(path)
	require.NoError(t, err)
	m2, err := New(kv2, p)
	require.NoError(t, err)

	rec := m2.Record()
	assert.Equal(t, StateDenied, rec.State)
	assert.True(t, rec.EverRequested)

	// The denial is still fresh, so no probe.
	calls := p.calls
	assert.False(t, m2.Check(context.Background()))
	assert.Equal(t, calls, p.calls)
}

func TestCustomIntervals(t *testing.T) {
	ck := &clock{t: time.UnixMilli(1_700_000_000_000)}
	p := &fakeProber{err: clip.ErrNotAllowed}
	m := newTestMachine(t, p,
		WithClock(ck.now),
		WithReprobeInterval(time.Minute),
		WithPromptCooldown(2*time.Minute),
	)

	require.False(t, m.Check(context.Background()))
	assert.Equal(t, 1, p.calls)

	ck.advance(90 * time.Second)
	require.False(t, m.Check(context.Background()))
	assert.Equal(t, 2, p.calls)
	assert.False(t, m.ShouldPrompt())

	ck.advance(3 * time.Minute)
	assert.True(t, m.ShouldPrompt())
}
