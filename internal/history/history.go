// Package history holds the canonical bounded clipboard history and the
// invariant-preserving mutations on it.
//
// Invariants after every mutation:
//   - len(Items) <= MaxItems, newest first, oldest evicted on overflow
//   - no two items share an ID
//
// All mutations are idempotent and persist synchronously before returning,
// so a mutation redelivered by the sync layer is always safe to re-apply.
package history

import (
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
)

// StorageKey is the persisted-state key for the clipboard history.
const StorageKey = "clipboardHistory"

// DefaultMaxItems is the history capacity used when none is configured or
// the persisted value is malformed.
const DefaultMaxItems = 50

// ItemKind classifies an item payload. Only text is currently captured;
// image exists in the data model for forward compatibility of persisted state.
type ItemKind string

const (
	KindText  ItemKind = "text"
	KindImage ItemKind = "image"
)

// Item is one captured clipboard entry. Immutable once created except via an
// explicit update mutation.
type Item struct {
	ID        string   `json:"id"`
	Content   string   `json:"content"`
	Timestamp int64    `json:"timestamp"` // ms since epoch
	Kind      ItemKind `json:"kind"`
	Source    string   `json:"source,omitempty"`
}

// NewTextItem creates a text item with a fresh ID and the current time.
func NewTextItem(content, source string) Item {
	return Item{
		ID:        uuid.NewString(),
		Content:   content,
		Timestamp: time.Now().UnixMilli(),
		Kind:      KindText,
		Source:    source,
	}
}

// State is the persisted history document.
type State struct {
	Items    []Item `json:"items"`
	MaxItems int    `json:"maxItems"`
}

// Clone returns a deep copy of the state.
func (s State) Clone() State {
	out := State{MaxItems: s.MaxItems, Items: make([]Item, len(s.Items))}
	copy(out.Items, s.Items)
	return out
}

// Normalize returns a defensively repaired copy of s: Items is never nil,
// MaxItems is positive (substituting the default), duplicate IDs beyond the
// first occurrence are dropped, and the list is truncated to capacity.
func Normalize(s State) State {
	if s.MaxItems <= 0 {
		s.MaxItems = DefaultMaxItems
	}
	seen := make(map[string]struct{}, len(s.Items))
	items := make([]Item, 0, len(s.Items))
	for _, it := range s.Items {
		if it.ID == "" {
			continue
		}
		if _, dup := seen[it.ID]; dup {
			continue
		}
		seen[it.ID] = struct{}{}
		items = append(items, it)
		if len(items) == s.MaxItems {
			break
		}
	}
	s.Items = items
	return s
}

// Persister is the slice of the key-value store the history needs.
type Persister interface {
	Get(key string, v any) (bool, error)
	Put(key string, v any) error
}

// Store owns the in-memory history state and keeps it in sync with the
// persistence service.
type Store struct {
	kv Persister

	mu       sync.RWMutex
	state    State
	onChange []func(State)
}

// NewStore loads the persisted history (merging defaults over anything
// missing or malformed). If maxItems is positive it overrides the persisted
// capacity, truncating immediately.
func NewStore(kv Persister, maxItems int) (*Store, error) {
	var st State
	found, err := kv.Get(StorageKey, &st)
	if err != nil {
		slog.Warn("persisted history unreadable, using defaults", "err", err)
		st = State{}
	} else if !found {
		st = State{}
	}
	st = Normalize(st)
	if maxItems > 0 && maxItems != st.MaxItems {
		st.MaxItems = maxItems
		st = Normalize(st)
	}
	return &Store{kv: kv, state: st}, nil
}

// OnChange registers fn to be called with a snapshot after every successful
// mutation. Callbacks run on the mutating goroutine and must not block.
func (s *Store) OnChange(fn func(State)) {
	s.mu.Lock()
	s.onChange = append(s.onChange, fn)
	s.mu.Unlock()
}

// Snapshot returns a copy of the current state.
func (s *Store) Snapshot() State {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.state.Clone()
}

// Len returns the current number of items.
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.state.Items)
}

// ApplyCreate prepends item, evicting the oldest entries beyond capacity.
// Creating an ID that already exists is a no-op.
func (s *Store) ApplyCreate(item Item) error {
	return s.mutate(func(st *State) bool {
		for _, it := range st.Items {
			if it.ID == item.ID {
				return false
			}
		}
		st.Items = append([]Item{item}, st.Items...)
		if len(st.Items) > st.MaxItems {
			st.Items = st.Items[:st.MaxItems]
		}
		return true
	})
}

// ApplyDelete removes the item with the given ID if present.
func (s *Store) ApplyDelete(id string) error {
	return s.mutate(func(st *State) bool {
		for i, it := range st.Items {
			if it.ID == id {
				st.Items = append(st.Items[:i], st.Items[i+1:]...)
				return true
			}
		}
		return false
	})
}

// ApplyClear empties the history.
func (s *Store) ApplyClear() error {
	return s.mutate(func(st *State) bool {
		if len(st.Items) == 0 {
			return false
		}
		st.Items = []Item{}
		return true
	})
}

// ApplyUpdate replaces the item with a matching ID in place, preserving
// order. Updating an unknown ID is a no-op.
func (s *Store) ApplyUpdate(item Item) error {
	return s.mutate(func(st *State) bool {
		for i, it := range st.Items {
			if it.ID == item.ID {
				st.Items[i] = item
				return true
			}
		}
		return false
	})
}

// Reset replaces the whole state with incoming (normalized) and persists it.
// Used when the background re-asserts canonical state to a surface.
func (s *Store) Reset(incoming State) error {
	return s.mutate(func(st *State) bool {
		norm := Normalize(incoming)
		*st = norm
		return true
	})
}

// mutate runs fn against the state; if fn reports a change, the new state is
// persisted synchronously before listeners fire. On persist failure the
// in-memory change is rolled back and the error returned.
func (s *Store) mutate(fn func(*State) bool) error {
	s.mu.Lock()
	prev := s.state.Clone()
	next := s.state.Clone()
	if !fn(&next) {
		s.mu.Unlock()
		return nil
	}
	s.state = next
	if err := s.kv.Put(StorageKey, next); err != nil {
		s.state = prev
		s.mu.Unlock()
		return fmt.Errorf("persist history: %w", err)
	}
	snapshot := next.Clone()
	listeners := s.onChange
	s.mu.Unlock()

	for _, fn := range listeners {
		fn(snapshot)
	}
	return nil
}
