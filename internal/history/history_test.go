package history

import (
	"errors"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/clipvault/clipvault/internal/store"
)

func newTestStore(t *testing.T, maxItems int) (*Store, *store.Store) {
	t.Helper()
	kv, err := store.Open(filepath.Join(t.TempDir(), "state.json"))
	require.NoError(t, err)
	s, err := NewStore(kv, maxItems)
	require.NoError(t, err)
	return s, kv
}

func textItem(id, content string, ts int64) Item {
	return Item{ID: id, Content: content, Timestamp: ts, Kind: KindText}
}

func TestCreateNewestFirstAndEviction(t *testing.T) {
	s, _ := newTestStore(t, 2)

	require.NoError(t, s.ApplyCreate(textItem("1", "a", 1)))
	require.NoError(t, s.ApplyCreate(textItem("2", "b", 2)))
	require.NoError(t, s.ApplyCreate(textItem("3", "c", 3)))

	st := s.Snapshot()
	require.Len(t, st.Items, 2)
	assert.Equal(t, "c", st.Items[0].Content)
	assert.Equal(t, "b", st.Items[1].Content)
}

func TestCreateDuplicateIDIsNoOp(t *testing.T) {
	s, _ := newTestStore(t, 10)

	require.NoError(t, s.ApplyCreate(textItem("1", "a", 1)))
	require.NoError(t, s.ApplyCreate(textItem("2", "b", 2)))
	require.NoError(t, s.ApplyCreate(textItem("1", "a-again", 3)))

	st := s.Snapshot()
	require.Len(t, st.Items, 2)
	assert.Equal(t, "b", st.Items[0].Content)
	assert.Equal(t, "a", st.Items[1].Content) // original content kept
}

func TestDeleteIdempotent(t *testing.T) {
	s, _ := newTestStore(t, 10)

	require.NoError(t, s.ApplyCreate(textItem("1", "a", 1)))
	require.NoError(t, s.ApplyDelete("1"))
	assert.Equal(t, 0, s.Len())

	// Re-delivered delete.
	require.NoError(t, s.ApplyDelete("1"))
	assert.Equal(t, 0, s.Len())
}

func TestClear(t *testing.T) {
	s, _ := newTestStore(t, 10)

	require.NoError(t, s.ApplyCreate(textItem("1", "a", 1)))
	require.NoError(t, s.ApplyCreate(textItem("2", "b", 2)))
	require.NoError(t, s.ApplyClear())

	st := s.Snapshot()
	assert.NotNil(t, st.Items)
	assert.Empty(t, st.Items)

	// Clearing an empty history stays empty.
	require.NoError(t, s.ApplyClear())
	assert.Equal(t, 0, s.Len())
}

func TestUpdatePreservesOrder(t *testing.T) {
	s, _ := newTestStore(t, 10)

	require.NoError(t, s.ApplyCreate(textItem("1", "a", 1)))
	require.NoError(t, s.ApplyCreate(textItem("2", "b", 2)))
	require.NoError(t, s.ApplyUpdate(textItem("1", "a2", 3)))

	st := s.Snapshot()
	require.Len(t, st.Items, 2)
	assert.Equal(t, "b", st.Items[0].Content)
	assert.Equal(t, "a2", st.Items[1].Content)

	// Unknown ID is a no-op.
	require.NoError(t, s.ApplyUpdate(textItem("ghost", "x", 4)))
	assert.Equal(t, 2, s.Len())
}

func TestPersistAcrossReload(t *testing.T) {
	path := filepath.Join(t.TempDir(), "state.json")

	kv, err := store.Open(path)
	require.NoError(t, err)
	s, err := NewStore(kv, 10)
	require.NoError(t, err)
	require.NoError(t, s.ApplyCreate(textItem("1", "hello", 1)))

	kv2, err := store.Open(path)
	require.NoError(t, err)
	s2, err := NewStore(kv2, 0)
	require.NoError(t, err)

	st := s2.Snapshot()
	require.Len(t, st.Items, 1)
	assert.Equal(t, "hello", st.Items[0].Content)
	assert.Equal(t, 10, st.MaxItems)
}

func TestNewStoreShrinksToConfiguredCapacity(t *testing.T) {
	path := filepath.Join(t.TempDir(), "state.json")

	kv, err := store.Open(path)
	require.NoError(t, err)
	s, err := NewStore(kv, 10)
	require.NoError(t, err)
	for _, id := range []string{"1", "2", "3"} {
		require.NoError(t, s.ApplyCreate(textItem(id, id, 1)))
	}

	kv2, err := store.Open(path)
	require.NoError(t, err)
	s2, err := NewStore(kv2, 2)
	require.NoError(t, err)
	assert.Equal(t, 2, s2.Len())
	assert.Equal(t, 2, s2.Snapshot().MaxItems)
}

func TestNormalize(t *testing.T) {
	got := Normalize(State{
		Items: []Item{
			textItem("1", "a", 1),
			textItem("", "no id", 2),
			textItem("1", "dup", 3),
			textItem("2", "b", 4),
		},
		MaxItems: 0,
	})

	assert.Equal(t, DefaultMaxItems, got.MaxItems)
	require.Len(t, got.Items, 2)
	assert.Equal(t, "a", got.Items[0].Content)
	assert.Equal(t, "b", got.Items[1].Content)
}

func TestReset(t *testing.T) {
	s, _ := newTestStore(t, 10)
	require.NoError(t, s.ApplyCreate(textItem("old", "old", 1)))

	require.NoError(t, s.Reset(State{
		Items:    []Item{textItem("new", "new", 2)},
		MaxItems: 5,
	}))

	st := s.Snapshot()
	require.Len(t, st.Items, 1)
	assert.Equal(t, "new", st.Items[0].ID)
	assert.Equal(t, 5, st.MaxItems)
}

func TestOnChangeFiresAfterMutation(t *testing.T) {
	s, _ := newTestStore(t, 10)

	var snapshots []int
	s.OnChange(func(st State) { snapshots = append(snapshots, len(st.Items)) })

	require.NoError(t, s.ApplyCreate(textItem("1", "a", 1)))
	require.NoError(t, s.ApplyDelete("ghost")) // no-op, no callback
	require.NoError(t, s.ApplyClear())

	assert.Equal(t, []int{1, 0}, snapshots)
}

type failingPersister struct {
	fail bool
}

func (p *failingPersister) Get(string, any) (bool, error) { return false, nil }

func (p *failingPersister) Put(string, any) error {
	if p.fail {
		return errors.New("disk full")
	}
	return nil
}

func TestPersistFailureRollsBack(t *testing.T) {
	p := &failingPersister{}
	s, err := NewStore(p, 10)
	require.NoError(t, err)
	require.NoError(t, s.ApplyCreate(textItem("1", "a", 1)))

	p.fail = true
	err = s.ApplyCreate(textItem("2", "b", 2))
	require.Error(t, err)

	st := s.Snapshot()
	require.Len(t, st.Items, 1)
	assert.Equal(t, "1", st.Items[0].ID)
}
