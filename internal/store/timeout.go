package store

import (
	"context"
	"time"

	"github.com/zhaobenny/gasometer/internal/model"
)

type timeoutStore struct {
	next    Store
	timeout time.Duration
}

// WithTimeout bounds every call on s by d. A non-positive d returns s unchanged.
func WithTimeout(s Store, d time.Duration) Store {
	if d <= 0 {
		return s
	}
	return &timeoutStore{next: s, timeout: d}
}

func (t *timeoutStore) Upsert(ctx context.Context, rows []model.CostEvent, conflictKey []string) error {
	ctx, cancel := context.WithTimeout(ctx, t.timeout)
	defer cancel()
	return t.next.Upsert(ctx, rows, conflictKey)
}

func (t *timeoutStore) Query(ctx context.Context, q Query) ([]model.CostEvent, error) {
	ctx, cancel := context.WithTimeout(ctx, t.timeout)
	defer cancel()
	return t.next.Query(ctx, q)
}

func (t *timeoutStore) Ping(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, t.timeout)
	defer cancel()
	return t.next.Ping(ctx)
}

func (t *timeoutStore) Close() error { return t.next.Close() }
