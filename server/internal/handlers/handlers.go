package handlers

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/zhaobenny/gasometer/internal/model"
	"github.com/zhaobenny/gasometer/internal/store"
	"github.com/zhaobenny/gasometer/server/internal/ingest"
	"github.com/zhaobenny/gasometer/server/internal/query"
	"github.com/zhaobenny/gasometer/server/internal/stats"
	"go.uber.org/zap"
)

// maxIngestBody bounds a single ingest payload
const maxIngestBody = 1 << 20

// Handler holds dependencies for HTTP handlers
type Handler struct {
	store   store.Store
	gateway *ingest.Gateway
	query   *query.Service
	stats   *stats.Engine
	logger  *zap.Logger
}

// New creates a new Handler
func New(s store.Store, gateway *ingest.Gateway, q *query.Service, e *stats.Engine, logger *zap.Logger) *Handler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Handler{
		store:   s,
		gateway: gateway,
		query:   q,
		stats:   e,
		logger:  logger,
	}
}

// Routes registers every endpoint on mux. ingestLimit wraps the ingest
// endpoint and may be nil.
func (h *Handler) Routes(mux *http.ServeMux, ingestLimit func(http.Handler) http.Handler) {
	var ingestHandler http.Handler = http.HandlerFunc(h.Ingest)
	if ingestLimit != nil {
		ingestHandler = ingestLimit(ingestHandler)
	}
	mux.Handle("POST /api/ingest", ingestHandler)
	mux.HandleFunc("GET /api/costs", h.Costs)
	mux.HandleFunc("GET /api/stats/summary", h.Summary)
	mux.HandleFunc("GET /api/stats/daily", h.Daily)
	mux.HandleFunc("GET /api/stats/roles", h.Roles)
	mux.HandleFunc("GET /api/stats/rigs", h.Rigs)
	mux.HandleFunc("GET /health", h.Health)
	mux.Handle("GET /metrics", promhttp.Handler())
}

// Ingest handles POST /api/ingest
func (h *Handler) Ingest(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxIngestBody))
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			h.jsonError(w, "Payload too large", http.StatusRequestEntityTooLarge)
			return
		}
		h.jsonError(w, "Invalid payload", http.StatusBadRequest)
		return
	}

	res := h.gateway.Ingest(r.Context(), body, r.Header.Get("Authorization"))
	h.writeJSON(w, res.Status, res.Body)
}

// Costs handles GET /api/costs
func (h *Handler) Costs(w http.ResponseWriter, r *http.Request) {
	p := params{r: r}
	from := p.time("from")
	to := p.time("to")
	limit := p.int("limit")
	offset := p.int("offset")
	if p.failed() {
		h.paramError(w, p)
		return
	}

	page, err := h.query.List(r.Context(), query.Filters{
		From: from,
		To:   to,
		Role: p.optional("role"),
		Rig:  p.optional("rig"),
	}, limit, offset)
	if err != nil {
		h.logger.Error("costs query failed", zap.Error(err))
		h.writeJSON(w, http.StatusInternalServerError, map[string]string{
			"error":   "Query failed",
			"details": err.Error(),
		})
		return
	}

	h.writeJSON(w, http.StatusOK, page)
}

// Summary handles GET /api/stats/summary
func (h *Handler) Summary(w http.ResponseWriter, r *http.Request) {
	summary, err := h.stats.Summary(r.Context())
	if err != nil {
		h.queryFailed(w, "summary", err)
		return
	}
	h.writeJSON(w, http.StatusOK, summary)
}

// Daily handles GET /api/stats/daily
func (h *Handler) Daily(w http.ResponseWriter, r *http.Request) {
	from, to, ok := h.rangeParams(w, r)
	if !ok {
		return
	}
	data, err := h.stats.Daily(r.Context(), from, to)
	if err != nil {
		h.queryFailed(w, "daily", err)
		return
	}
	h.writeJSON(w, http.StatusOK, map[string]any{"data": data})
}

// Roles handles GET /api/stats/roles
func (h *Handler) Roles(w http.ResponseWriter, r *http.Request) {
	from, to, ok := h.rangeParams(w, r)
	if !ok {
		return
	}
	data, err := h.stats.Roles(r.Context(), from, to)
	if err != nil {
		h.queryFailed(w, "roles", err)
		return
	}
	h.writeJSON(w, http.StatusOK, map[string]any{"data": data})
}

// Rigs handles GET /api/stats/rigs
func (h *Handler) Rigs(w http.ResponseWriter, r *http.Request) {
	from, to, ok := h.rangeParams(w, r)
	if !ok {
		return
	}
	data, err := h.stats.Rigs(r.Context(), from, to)
	if err != nil {
		h.queryFailed(w, "rigs", err)
		return
	}
	h.writeJSON(w, http.StatusOK, map[string]any{"data": data})
}

// Health handles GET /health
func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	if err := h.store.Ping(r.Context()); err != nil {
		h.logger.Warn("health check failed", zap.Error(err))
		h.writeJSON(w, http.StatusServiceUnavailable, map[string]string{
			"status":  "unhealthy",
			"service": "gasometer-api",
			"error":   "store unavailable",
		})
		return
	}

	h.writeJSON(w, http.StatusOK, map[string]string{"status": "ok", "service": "gasometer-api"})
}

func (h *Handler) rangeParams(w http.ResponseWriter, r *http.Request) (from, to *time.Time, ok bool) {
	p := params{r: r}
	from = p.time("from")
	to = p.time("to")
	if p.failed() {
		h.paramError(w, p)
		return nil, nil, false
	}
	return from, to, true
}

func (h *Handler) queryFailed(w http.ResponseWriter, what string, err error) {
	h.logger.Error("stats query failed", zap.String("stat", what), zap.Error(err))
	h.jsonError(w, "Query failed", http.StatusInternalServerError)
}

func (h *Handler) paramError(w http.ResponseWriter, p params) {
	h.writeJSON(w, http.StatusBadRequest, ingest.ErrorBody{
		Error:   "Invalid query parameter",
		Details: p.issues,
	})
}

func (h *Handler) writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(body); err != nil {
		h.logger.Debug("failed to write response", zap.Error(err))
	}
}

func (h *Handler) jsonError(w http.ResponseWriter, message string, status int) {
	h.writeJSON(w, status, map[string]string{"error": message})
}

// params collects query parameter parse failures
type params struct {
	r      *http.Request
	issues []model.Issue
}

func (p *params) failed() bool { return len(p.issues) > 0 }

func (p *params) optional(name string) *string {
	if !p.r.URL.Query().Has(name) {
		return nil
	}
	v := p.r.URL.Query().Get(name)
	return &v
}

func (p *params) int(name string) int {
	v := p.r.URL.Query().Get(name)
	if v == "" {
		return 0
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		p.issues = append(p.issues, model.Issue{Field: name, Message: "expected an integer"})
		return 0
	}
	return n
}

func (p *params) time(name string) *time.Time {
	v := p.r.URL.Query().Get(name)
	if v == "" {
		return nil
	}
	t, err := ParseTime(v)
	if err != nil {
		p.issues = append(p.issues, model.Issue{Field: name, Message: err.Error()})
		return nil
	}
	return &t
}

// ParseTime accepts an RFC 3339 timestamp or a YYYY-MM-DD date, which means
// midnight UTC
func ParseTime(v string) (time.Time, error) {
	if t, err := time.Parse(time.RFC3339Nano, v); err == nil {
		return t, nil
	}
	if t, err := time.Parse(time.DateOnly, v); err == nil {
		return t, nil
	}
	return time.Time{}, fmt.Errorf("expected an RFC 3339 timestamp or YYYY-MM-DD date")
}
