// Package query lists raw cost events
package query

import (
	"context"
	"time"

	"github.com/zhaobenny/gasometer/internal/model"
	"github.com/zhaobenny/gasometer/internal/store"
)

// DefaultLimit is used when no positive limit is given
const DefaultLimit = 100

// Filters narrows a listing. Nil fields do not filter.
type Filters struct {
	From *time.Time
	To   *time.Time
	Role *string
	Rig  *string
}

// Page is one page of events, newest first
type Page struct {
	Rows  []model.CostEvent `json:"data"`
	Count int               `json:"count"`
}

// Service lists events from a store
type Service struct {
	store store.Store
}

// NewService creates a query service
func NewService(s store.Store) *Service {
	return &Service{store: s}
}

// List returns events ordered by ended_at descending. limit <= 0 means
// DefaultLimit, a negative offset means 0. Limits above the store page cap
// are truncated by the store.
func (s *Service) List(ctx context.Context, f Filters, limit, offset int) (Page, error) {
	if limit <= 0 {
		limit = DefaultLimit
	}
	offset = max(offset, 0)

	rows, err := s.store.Query(ctx, store.Query{
		Filter: store.Filter{From: f.From, To: f.To, Role: f.Role, Rig: f.Rig},
		Order:  store.Descending,
		Range:  store.Range{Start: offset, End: offset + limit - 1},
	})
	if err != nil {
		return Page{}, err
	}
	if rows == nil {
		rows = []model.CostEvent{}
	}
	return Page{Rows: rows, Count: len(rows)}, nil
}
