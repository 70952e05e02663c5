// Package store is the persistence boundary for cost events: an idempotent
// batched upsert and a filtered, ordered, range-limited read.
package store

import (
	"context"
	"errors"
	"slices"
	"time"

	"github.com/zhaobenny/gasometer/internal/model"
)

// DefaultPageCap is the most rows a single Query returns, whatever range is
// requested.
const DefaultPageCap = 1000

var (
	// ErrNotConfigured is returned by every call on an Unavailable store.
	ErrNotConfigured = errors.New("store not configured")
	// ErrUnsupportedConflictKey is returned when Upsert is asked to resolve
	// conflicts on anything but model.ConflictKey.
	ErrUnsupportedConflictKey = errors.New("unsupported conflict key")
)

// Store is implemented by every backing store.
type Store interface {
	// Upsert writes rows, overwriting any stored row with the same conflict key.
	Upsert(ctx context.Context, rows []model.CostEvent, conflictKey []string) error
	// Query returns at most the store's page cap rows matching q.
	Query(ctx context.Context, q Query) ([]model.CostEvent, error)
	Ping(ctx context.Context) error
	Close() error
}

// Filter restricts a query. Nil fields do not filter. Time bounds are
// inclusive and compare instants.
type Filter struct {
	From *time.Time
	To   *time.Time
	Role *string
	Rig  *string
}

// Order is the sort direction on ended_at.
type Order int

const (
	Descending Order = iota
	Ascending
)

// Range selects rows Start through End inclusive, zero-based.
type Range struct {
	Start int
	End   int
}

// Len is the number of rows the range asks for.
func (r Range) Len() int {
	if r.End < r.Start {
		return 0
	}
	return r.End - r.Start + 1
}

// Query is one page request.
type Query struct {
	Filter Filter
	Order  Order
	Range  Range
}

// Error wraps a failure from the backing store with the operation name.
type Error struct {
	Op  string
	Err error
}

func (e *Error) Error() string { return "store " + e.Op + ": " + e.Err.Error() }

func (e *Error) Unwrap() error { return e.Err }

func wrap(op string, err error) error {
	if err == nil {
		return nil
	}
	return &Error{Op: op, Err: err}
}

// CheckConflictKey reports whether key is the composite natural key.
func CheckConflictKey(key []string) error {
	if !slices.Equal(key, model.ConflictKey) {
		return ErrUnsupportedConflictKey
	}
	return nil
}

// pageBounds clamps a range to the page cap and returns offset and limit.
func pageBounds(r Range, pageCap int) (offset, limit int) {
	offset = max(r.Start, 0)
	limit = r.Len()
	if r.Start < 0 {
		limit += r.Start
	}
	if pageCap > 0 && limit > pageCap {
		limit = pageCap
	}
	return offset, max(limit, 0)
}

// dedupe keeps the last row for each conflict key, preserving the order of
// first appearance. Postgres rejects a single upsert statement that touches
// the same key twice.
func dedupe(rows []model.CostEvent) []model.CostEvent {
	type key struct{ session, ended string }
	index := make(map[key]int, len(rows))
	out := make([]model.CostEvent, 0, len(rows))
	for _, r := range rows {
		k := key{r.SessionID, r.EndedAtKey()}
		if i, ok := index[k]; ok {
			out[i] = r
			continue
		}
		index[k] = len(out)
		out = append(out, r)
	}
	return out
}
