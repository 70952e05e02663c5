// Package storetest provides an in-memory store.Store for tests.
package storetest

import (
	"context"
	"sort"
	"sync"

	"github.com/zhaobenny/gasometer/internal/model"
	"github.com/zhaobenny/gasometer/internal/store"
)

// Fake keeps rows in memory and records every call. The zero value is not
// usable; call New.
type Fake struct {
	mu      sync.Mutex
	rows    []model.CostEvent
	index   map[naturalKey]int
	pageCap int

	// UpsertErr, when set, fails every Upsert.
	UpsertErr error
	// QueryErr, when set, fails every Query.
	QueryErr error
	// FailQueryAt fails the n-th Query call (1-based) with QueryErr or a
	// generic error. Zero disables it.
	FailQueryAt int

	Upserts [][]model.CostEvent
	Queries []store.Query
	Keys    [][]string
}

// New returns an empty fake with the given page cap (store.DefaultPageCap when zero).
func New(pageCap int) *Fake {
	if pageCap <= 0 {
		pageCap = store.DefaultPageCap
	}
	return &Fake{pageCap: pageCap, index: make(map[naturalKey]int)}
}

type naturalKey struct{ session, ended string }

// Seed stores rows without recording an Upsert call.
func (f *Fake) Seed(rows ...model.CostEvent) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, r := range rows {
		f.put(r)
	}
}

// Rows returns a copy of everything stored.
func (f *Fake) Rows() []model.CostEvent {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]model.CostEvent(nil), f.rows...)
}

func (f *Fake) put(r model.CostEvent) {
	k := naturalKey{r.SessionID, r.EndedAtKey()}
	if i, ok := f.index[k]; ok {
		f.rows[i] = r
		return
	}
	f.index[k] = len(f.rows)
	f.rows = append(f.rows, r)
}

func (f *Fake) Upsert(ctx context.Context, rows []model.CostEvent, conflictKey []string) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.Upserts = append(f.Upserts, append([]model.CostEvent(nil), rows...))
	f.Keys = append(f.Keys, conflictKey)
	if f.UpsertErr != nil {
		return &store.Error{Op: "upsert", Err: f.UpsertErr}
	}
	if err := store.CheckConflictKey(conflictKey); err != nil {
		return &store.Error{Op: "upsert", Err: err}
	}
	if err := ctx.Err(); err != nil {
		return &store.Error{Op: "upsert", Err: err}
	}
	for _, r := range rows {
		f.put(r)
	}
	return nil
}

func (f *Fake) Query(ctx context.Context, q store.Query) ([]model.CostEvent, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.Queries = append(f.Queries, q)
	if f.QueryErr != nil && f.FailQueryAt == 0 {
		return nil, &store.Error{Op: "query", Err: f.QueryErr}
	}
	if f.FailQueryAt > 0 && len(f.Queries) == f.FailQueryAt {
		err := f.QueryErr
		if err == nil {
			err = errPageFailed
		}
		return nil, &store.Error{Op: "query", Err: err}
	}
	if err := ctx.Err(); err != nil {
		return nil, &store.Error{Op: "query", Err: err}
	}

	var matched []model.CostEvent
	for _, r := range f.rows {
		if matches(r, q.Filter) {
			matched = append(matched, r)
		}
	}
	sort.SliceStable(matched, func(i, j int) bool {
		if q.Order == store.Ascending {
			return matched[i].EndedAtKey() < matched[j].EndedAtKey()
		}
		return matched[i].EndedAtKey() > matched[j].EndedAtKey()
	})

	start := max(q.Range.Start, 0)
	end := q.Range.End + 1
	if end-start > f.pageCap {
		end = start + f.pageCap
	}
	end = min(end, len(matched))
	if start >= end {
		return []model.CostEvent{}, nil
	}
	return append([]model.CostEvent(nil), matched[start:end]...), nil
}

func (f *Fake) Ping(ctx context.Context) error { return ctx.Err() }

func (f *Fake) Close() error { return nil }

type fakeError string

func (e fakeError) Error() string { return string(e) }

const errPageFailed = fakeError("injected page failure")

func matches(r model.CostEvent, flt store.Filter) bool {
	key := r.EndedAtKey()
	if flt.From != nil && key < model.FormatKeyTime(*flt.From) {
		return false
	}
	if flt.To != nil && key > model.FormatKeyTime(*flt.To) {
		return false
	}
	if flt.Role != nil && r.Role != *flt.Role {
		return false
	}
	if flt.Rig != nil && (r.Rig == nil || *r.Rig != *flt.Rig) {
		return false
	}
	return true
}
