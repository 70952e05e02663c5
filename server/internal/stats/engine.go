// Package stats computes cost aggregates over every matching stored event,
// however many store pages that takes.
package stats

import (
	"context"
	"time"

	"github.com/zhaobenny/gasometer/internal/aggregate"
	"github.com/zhaobenny/gasometer/internal/model"
	"github.com/zhaobenny/gasometer/internal/store"
	"github.com/zhaobenny/gasometer/server/internal/metrics"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// Summary holds the three rolling windows
type Summary struct {
	Today aggregate.WindowTotal `json:"today"`
	Week  aggregate.WindowTotal `json:"week"`
	Month aggregate.WindowTotal `json:"month"`
}

// Engine aggregates cost events read from a store
type Engine struct {
	store    store.Store
	pageSize int
	now      func() time.Time
	loc      *time.Location
	logger   *zap.Logger
}

// Option configures an Engine
type Option func(*Engine)

// WithPageSize sets the fetch-all page size. It must not exceed the store's
// page cap, or a capped page would be mistaken for the last one.
func WithPageSize(n int) Option {
	return func(e *Engine) {
		if n > 0 {
			e.pageSize = n
		}
	}
}

// WithClock replaces time.Now
func WithClock(now func() time.Time) Option { return func(e *Engine) { e.now = now } }

// WithLocation sets the zone used for "today" and "month" boundaries
func WithLocation(loc *time.Location) Option { return func(e *Engine) { e.loc = loc } }

// WithLogger sets the logger
func WithLogger(l *zap.Logger) Option { return func(e *Engine) { e.logger = l } }

// NewEngine creates an engine over s
func NewEngine(s store.Store, opts ...Option) *Engine {
	e := &Engine{
		store:    s,
		pageSize: store.DefaultPageCap,
		now:      time.Now,
		loc:      time.Local,
		logger:   zap.NewNop(),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// FetchAll reads every row matching filter, one page at a time, until a
// page comes back short. Any page error aborts with that error.
func (e *Engine) FetchAll(ctx context.Context, filter store.Filter, order store.Order) ([]model.CostEvent, error) {
	var all []model.CostEvent
	for offset := 0; ; offset += e.pageSize {
		page, err := e.store.Query(ctx, store.Query{
			Filter: filter,
			Order:  order,
			Range:  store.Range{Start: offset, End: offset + e.pageSize - 1},
		})
		if err != nil {
			e.logger.Error("fetch-all page failed", zap.Int("offset", offset), zap.Error(err))
			return nil, err
		}
		metrics.StorePagesFetched.Inc()
		all = append(all, page...)
		if len(page) < e.pageSize {
			return all, nil
		}
	}
}

// Windows returns the start of today, the last seven days and this month
func (e *Engine) Windows(now time.Time) (today, week, month time.Time) {
	local := now.In(e.loc)
	today = time.Date(local.Year(), local.Month(), local.Day(), 0, 0, 0, 0, e.loc)
	week = now.Add(-7 * 24 * time.Hour)
	month = time.Date(local.Year(), local.Month(), 1, 0, 0, 0, 0, e.loc)
	return today, week, month
}

// Summary totals today, the last seven days and this month, each up to now.
// The windows are fetched concurrently; any failure fails the whole call.
func (e *Engine) Summary(ctx context.Context) (Summary, error) {
	now := e.now()
	todayStart, weekStart, monthStart := e.Windows(now)

	var out Summary
	g, ctx := errgroup.WithContext(ctx)
	window := func(from time.Time, dst *aggregate.WindowTotal) {
		g.Go(func() error {
			rows, err := e.FetchAll(ctx, store.Filter{From: &from, To: &now}, store.Descending)
			if err != nil {
				return err
			}
			*dst = aggregate.Totals(rows)
			return nil
		})
	}
	window(todayStart, &out.Today)
	window(weekStart, &out.Week)
	window(monthStart, &out.Month)

	if err := g.Wait(); err != nil {
		return Summary{}, err
	}
	return out, nil
}

// Daily groups events in [from, to] by UTC date and role
func (e *Engine) Daily(ctx context.Context, from, to *time.Time) ([]aggregate.DailyCost, error) {
	rows, err := e.FetchAll(ctx, store.Filter{From: from, To: to}, store.Ascending)
	if err != nil {
		return nil, err
	}
	return aggregate.ByDayRole(rows), nil
}

// Roles groups events in [from, to] by role
func (e *Engine) Roles(ctx context.Context, from, to *time.Time) ([]aggregate.RoleCost, error) {
	rows, err := e.FetchAll(ctx, store.Filter{From: from, To: to}, store.Descending)
	if err != nil {
		return nil, err
	}
	return aggregate.ByRole(rows), nil
}

// Rigs groups events in [from, to] by rig, keeping events without a rig
// in their own group
func (e *Engine) Rigs(ctx context.Context, from, to *time.Time) ([]aggregate.RigCost, error) {
	rows, err := e.FetchAll(ctx, store.Filter{From: from, To: to}, store.Descending)
	if err != nil {
		return nil, err
	}
	return aggregate.ByRig(rows), nil
}
