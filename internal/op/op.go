// Package op defines the unit of synchronization between clipvault contexts:
// a single proposed history mutation, tagged by kind, plus the stateless
// validation and conflict-classification rules applied to it.
//
// Go has no closed sum types, so the four kinds share one envelope struct;
// Validate enforces kind-specific completeness and consumers switch
// exhaustively on Kind with an error default.
package op

import (
	"errors"
	"fmt"
	"sort"

	"github.com/clipvault/clipvault/internal/history"
)

// ErrInvalid is wrapped by every validation failure. An invalid operation is
// never applied and never retried.
var ErrInvalid = errors.New("invalid operation")

// Kind tags the mutation an operation carries.
type Kind string

const (
	KindCreate Kind = "create"
	KindDelete Kind = "delete"
	KindClear  Kind = "clear"
	KindUpdate Kind = "update"
)

// Origin names the surface context that produced an operation.
type Origin string

const (
	OriginPopup      Origin = "popup"
	OriginSidePanel  Origin = "sidepanel"
	OriginContent    Origin = "content"
	OriginBackground Origin = "background"
)

// KnownOrigin reports whether o is one of the four surface contexts.
func KnownOrigin(o Origin) bool {
	switch o {
	case OriginPopup, OriginSidePanel, OriginContent, OriginBackground:
		return true
	}
	return false
}

// Operation is one proposed history mutation. Ephemeral: produced by a
// surface, consumed by the sync coordinator, never persisted beyond the
// in-memory pending set.
type Operation struct {
	Kind      Kind          `json:"kind"`
	ItemID    string        `json:"itemId,omitempty"`
	Payload   *history.Item `json:"payload,omitempty"`
	Timestamp int64         `json:"timestamp"` // ms since epoch
	Origin    Origin        `json:"origin"`
}

// NewCreate builds a create operation carrying item.
func NewCreate(item history.Item, origin Origin) Operation {
	return Operation{
		Kind:      KindCreate,
		ItemID:    item.ID,
		Payload:   &item,
		Timestamp: item.Timestamp,
		Origin:    origin,
	}
}

// NewDelete builds a delete operation for the given item ID at time ts.
func NewDelete(itemID string, ts int64, origin Origin) Operation {
	return Operation{Kind: KindDelete, ItemID: itemID, Timestamp: ts, Origin: origin}
}

// NewClear builds a clear-all operation at time ts.
func NewClear(ts int64, origin Origin) Operation {
	return Operation{Kind: KindClear, Timestamp: ts, Origin: origin}
}

// NewUpdate builds an update operation replacing the item with item.ID.
func NewUpdate(item history.Item, ts int64, origin Origin) Operation {
	return Operation{
		Kind:      KindUpdate,
		ItemID:    item.ID,
		Payload:   &item,
		Timestamp: ts,
		Origin:    origin,
	}
}

// Key returns a stable identity for de-duplicating redelivered operations.
func (o Operation) Key() string {
	return fmt.Sprintf("%s/%s/%d/%s", o.Kind, o.ItemID, o.Timestamp, o.Origin)
}

// Target returns the item ID an operation acts on ("" for clear).
func (o Operation) Target() string {
	if o.ItemID != "" {
		return o.ItemID
	}
	if o.Payload != nil {
		return o.Payload.ID
	}
	return ""
}

// Validate checks o against the rules, in order: recognized kind, positive
// timestamp, recognized origin, kind-specific payload completeness. Pure —
// no side effects, same input always yields the same result.
func Validate(o Operation) error {
	switch o.Kind {
	case KindCreate, KindDelete, KindClear, KindUpdate:
	default:
		return fmt.Errorf("%w: unknown kind %q", ErrInvalid, o.Kind)
	}
	if o.Timestamp <= 0 {
		return fmt.Errorf("%w: non-positive timestamp %d", ErrInvalid, o.Timestamp)
	}
	if !KnownOrigin(o.Origin) {
		return fmt.Errorf("%w: unknown origin %q", ErrInvalid, o.Origin)
	}

	switch o.Kind {
	case KindCreate, KindUpdate:
		if o.Payload == nil {
			return fmt.Errorf("%w: %s requires a payload", ErrInvalid, o.Kind)
		}
		if o.Payload.ID == "" {
			return fmt.Errorf("%w: %s payload missing id", ErrInvalid, o.Kind)
		}
		if o.Payload.Content == "" {
			return fmt.Errorf("%w: %s payload missing content", ErrInvalid, o.Kind)
		}
	case KindDelete:
		if o.ItemID == "" {
			return fmt.Errorf("%w: delete requires itemId", ErrInvalid)
		}
	case KindClear:
		// no payload requirements
	}
	return nil
}

// Resolution is the outcome of conflict classification for one operation.
type Resolution struct {
	Resolved  bool
	Operation Operation
	Reason    string
}

// ClassifyConflicts orders ops by timestamp ascending (stable on ties) and
// accepts at most one operation per target item ID: the earliest wins, later
// ones are flagged as conflicts. Clear operations target no item and never
// conflict — clear is idempotent and commutative, so multiple clears in one
// batch are all accepted.
func ClassifyConflicts(ops []Operation) []Resolution {
	ordered := make([]Operation, len(ops))
	copy(ordered, ops)
	sort.SliceStable(ordered, func(i, j int) bool {
		return ordered[i].Timestamp < ordered[j].Timestamp
	})

	accepted := make(map[string]struct{})
	out := make([]Resolution, 0, len(ordered))
	for _, o := range ordered {
		target := o.Target()
		if target == "" {
			out = append(out, Resolution{Resolved: true, Operation: o})
			continue
		}
		if _, taken := accepted[target]; taken {
			out = append(out, Resolution{
				Operation: o,
				Reason:    fmt.Sprintf("conflicts with earlier operation on item %s", target),
			})
			continue
		}
		accepted[target] = struct{}{}
		out = append(out, Resolution{Resolved: true, Operation: o})
	}
	return out
}
