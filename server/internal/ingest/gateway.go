// Package ingest accepts cost events from publishers: authenticate,
// validate, persist, then publish.
package ingest

import (
	"context"
	"errors"
	"net/http"

	"github.com/zhaobenny/gasometer/internal/model"
	"github.com/zhaobenny/gasometer/internal/store"
	"github.com/zhaobenny/gasometer/server/internal/auth"
	"github.com/zhaobenny/gasometer/server/internal/metrics"
	"go.uber.org/zap"
)

// Publisher receives every event after it has been stored
type Publisher interface {
	Publish(msg model.BroadcastMessage)
}

// Result is the HTTP status and JSON body for an ingest attempt
type Result struct {
	Status int
	Body   any
}

// ErrorBody is the JSON error shape
type ErrorBody struct {
	Error   string        `json:"error"`
	Details []model.Issue `json:"details,omitempty"`
}

// StatusBody is the JSON success shape
type StatusBody struct {
	Status string `json:"status"`
}

// Gateway runs the ingest pipeline
type Gateway struct {
	store     store.Store
	publisher Publisher
	verifier  *auth.Verifier
	logger    *zap.Logger
}

// NewGateway creates a gateway. A nil publisher disables fan-out, a nil
// verifier leaves ingest open.
func NewGateway(s store.Store, p Publisher, v *auth.Verifier, logger *zap.Logger) *Gateway {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Gateway{store: s, publisher: p, verifier: v, logger: logger}
}

// Ingest authenticates, validates and stores one raw payload, then
// publishes the stored event. Publish only happens after a successful write.
func (g *Gateway) Ingest(ctx context.Context, payload []byte, authHeader string) Result {
	if err := g.verifier.Check(authHeader); err != nil {
		metrics.IngestTotal.WithLabelValues("unauthorized").Inc()
		return Result{Status: http.StatusUnauthorized, Body: ErrorBody{Error: "Unauthorized"}}
	}

	event, err := model.DecodeCostEvent(payload)
	if err != nil {
		metrics.IngestTotal.WithLabelValues("invalid").Inc()
		var verr *model.ValidationError
		if errors.As(err, &verr) {
			return Result{Status: http.StatusBadRequest, Body: ErrorBody{Error: "Invalid payload", Details: verr.Issues}}
		}
		return Result{Status: http.StatusBadRequest, Body: ErrorBody{Error: "Invalid payload"}}
	}

	if err := g.store.Upsert(ctx, []model.CostEvent{event}, model.ConflictKey); err != nil {
		metrics.IngestTotal.WithLabelValues("store_error").Inc()
		g.logger.Error("failed to store cost event",
			zap.String("session_id", event.SessionID),
			zap.String("ended_at", event.EndedAt),
			zap.Error(err),
		)
		return Result{Status: http.StatusInternalServerError, Body: ErrorBody{Error: "Database error"}}
	}

	if g.publisher != nil {
		g.publisher.Publish(model.BroadcastMessage{Type: model.MessageCostEvent, Data: &event})
	}

	metrics.IngestTotal.WithLabelValues("ingested").Inc()
	g.logger.Debug("cost event ingested",
		zap.String("session_id", event.SessionID),
		zap.String("role", event.Role),
		zap.Float64("cost_usd", event.CostUSD),
	)
	return Result{Status: http.StatusCreated, Body: StatusBody{Status: "ingested"}}
}
