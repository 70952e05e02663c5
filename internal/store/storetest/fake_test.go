package storetest

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/zhaobenny/gasometer/internal/model"
	"github.com/zhaobenny/gasometer/internal/store"
)

func TestFake_CapsPages(t *testing.T) {
	f := New(3)
	for _, ts := range []string{"2026-02-26T10:00:00Z", "2026-02-26T11:00:00Z", "2026-02-26T12:00:00Z", "2026-02-26T13:00:00Z"} {
		f.Seed(model.CostEvent{SessionID: ts, Role: "mayor", EndedAt: ts})
	}

	rows, err := f.Query(context.Background(), store.Query{Range: store.Range{Start: 0, End: 9}})
	require.NoError(t, err)
	require.Len(t, rows, 3)
	assert.Equal(t, "2026-02-26T13:00:00Z", rows[0].SessionID)
}

func TestFake_FailQueryAt(t *testing.T) {
	f := New(0)
	f.FailQueryAt = 2
	ctx := context.Background()

	_, err := f.Query(ctx, store.Query{Range: store.Range{End: 9}})
	require.NoError(t, err)
	_, err = f.Query(ctx, store.Query{Range: store.Range{End: 9}})
	var serr *store.Error
	require.True(t, errors.As(err, &serr))
	assert.Len(t, f.Queries, 2)
}

func TestFake_UpsertRecordsAndOverwrites(t *testing.T) {
	f := New(0)
	ctx := context.Background()
	ev := model.CostEvent{SessionID: "s", Role: "mayor", CostUSD: 1, EndedAt: "2026-02-26T10:00:00Z"}
	require.NoError(t, f.Upsert(ctx, []model.CostEvent{ev}, model.ConflictKey))
	ev.CostUSD = 2
	ev.EndedAt = "2026-02-26T10:00:00+00:00"
	require.NoError(t, f.Upsert(ctx, []model.CostEvent{ev}, model.ConflictKey))

	assert.Len(t, f.Upserts, 2)
	require.Len(t, f.Rows(), 1)
	assert.Equal(t, 2.0, f.Rows()[0].CostUSD)

	assert.ErrorIs(t, f.Upsert(ctx, []model.CostEvent{ev}, []string{"session_id"}), store.ErrUnsupportedConflictKey)
}
