package store

import (
	"context"

	"github.com/zhaobenny/gasometer/internal/model"
)

// Unavailable stands in when no store is configured. Every call fails with
// ErrNotConfigured, so the server still starts and reports the problem per
// request.
type Unavailable struct{}

func (Unavailable) Upsert(context.Context, []model.CostEvent, []string) error {
	return wrap("upsert", ErrNotConfigured)
}

func (Unavailable) Query(context.Context, Query) ([]model.CostEvent, error) {
	return nil, wrap("query", ErrNotConfigured)
}

func (Unavailable) Ping(context.Context) error { return wrap("ping", ErrNotConfigured) }

func (Unavailable) Close() error { return nil }
