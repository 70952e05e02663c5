package sync

import (
	"context"

	"github.com/zhaobenny/gasometer/internal/model"
	"github.com/zhaobenny/gasometer/internal/parser"
	"github.com/zhaobenny/gasometer/internal/store"
)

const (
	// BackfillBatchSize is how many rows go into one upsert
	BackfillBatchSize = 50
	// ProgressEvery is how many batches pass between progress reports
	ProgressEvery = 5
)

// BackfillReport counts rows written and rows lost to failed batches
type BackfillReport struct {
	Inserted int
	Errors   int
}

// InferRigs fills a missing rig from the session id prefix
func InferRigs(events []model.CostEvent) {
	for i := range events {
		if events[i].Rig == nil {
			events[i].Rig = parser.RigFromSessionID(events[i].SessionID)
		}
	}
}

// BackfillCosts upserts events straight into s in batches, keyed on
// (session_id, ended_at). A failed batch counts all of its rows as errors and
// the run carries on. progress, if set, gets the running row count every
// ProgressEvery batches; onBatchError gets each failed batch.
func BackfillCosts(ctx context.Context, s store.Store, events []model.CostEvent, progress func(done, total int), onBatchError func(batch int, err error)) BackfillReport {
	var report BackfillReport
	total := len(events)

	for i, batch := 0, 1; i < total; i, batch = i+BackfillBatchSize, batch+1 {
		end := min(i+BackfillBatchSize, total)
		rows := events[i:end]

		if err := s.Upsert(ctx, rows, model.ConflictKey); err != nil {
			report.Errors += len(rows)
			if onBatchError != nil {
				onBatchError(batch, err)
			}
		} else {
			report.Inserted += len(rows)
		}

		if progress != nil && batch%ProgressEvery == 0 {
			progress(end, total)
		}
	}
	return report
}
