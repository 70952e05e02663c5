package sync

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	gosync "sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/zhaobenny/gasometer/cli/internal/config"
	"github.com/zhaobenny/gasometer/internal/model"
	"github.com/zhaobenny/gasometer/internal/store/storetest"
)

func TestClient_Ingest(t *testing.T) {
	var gotAuth string
	var got map[string]any
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "/api/ingest", r.URL.Path)
		gotAuth = r.Header.Get("Authorization")
		body, _ := io.ReadAll(r.Body)
		json.Unmarshal(body, &got)
		w.WriteHeader(http.StatusCreated)
		w.Write([]byte(`{"status":"ingested"}`))
	}))
	defer srv.Close()

	c := NewClient(&config.Config{Server: srv.URL + "/", APIKey: "gaso_key"})
	err := c.Ingest(context.Background(), model.CostEvent{SessionID: "hq-mayor", Role: "mayor", CostUSD: 6.49, EndedAt: "2026-02-26T18:21:35.10899-05:00"})
	require.NoError(t, err)

	assert.Equal(t, "Bearer gaso_key", gotAuth)
	assert.Equal(t, "hq-mayor", got["session_id"])
	assert.Equal(t, "2026-02-26T18:21:35.10899-05:00", got["ended_at"])
}

func TestClient_IngestError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
		w.Write([]byte(`{"error":"Invalid payload","details":[{"field":"cost_usd","message":"required"}]}`))
	}))
	defer srv.Close()

	err := NewClient(&config.Config{Server: srv.URL}).Ingest(context.Background(), model.CostEvent{})
	var apiErr *APIError
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, http.StatusBadRequest, apiErr.Status)
	assert.Equal(t, "Invalid payload", apiErr.Message)
	assert.Contains(t, err.Error(), "cost_usd: required")
}

func TestClient_Stats(t *testing.T) {
	var queries []string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		queries = append(queries, r.URL.RawQuery)
		w.Header().Set("Content-Type", "application/json")
		switch r.URL.Path {
		case "/api/stats/summary":
			w.Write([]byte(`{"today":{"total_usd":1.5,"sessions":2},"week":{"total_usd":3,"sessions":4},"month":{"total_usd":9,"sessions":10}}`))
		case "/api/stats/roles":
			w.Write([]byte(`{"data":[{"role":"mayor","total_usd":2,"session_count":1}]}`))
		case "/api/stats/rigs":
			w.Write([]byte(`{"data":[{"rig":"gasometer","total_usd":2,"session_count":1},{"rig":null,"total_usd":1,"session_count":1}]}`))
		case "/api/stats/daily":
			w.Write([]byte(`{"data":[{"date":"2026-02-26","role":"mayor","total_usd":2,"session_count":1}]}`))
		default:
			http.NotFound(w, r)
		}
	}))
	defer srv.Close()

	c := NewClient(&config.Config{Server: srv.URL})
	ctx := context.Background()

	s, err := c.Summary(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1.5, s.Today.TotalUSD)
	assert.Equal(t, 10, s.Month.Sessions)

	from := time.Date(2026, 2, 1, 0, 0, 0, 0, time.UTC)
	roles, err := c.Roles(ctx, &from, nil)
	require.NoError(t, err)
	require.Len(t, roles, 1)
	assert.Equal(t, "from=2026-02-01T00%3A00%3A00Z", queries[1])

	rigs, err := c.Rigs(ctx, nil, nil)
	require.NoError(t, err)
	require.Len(t, rigs, 2)
	assert.Nil(t, rigs[1].Rig)

	daily, err := c.Daily(ctx, nil, nil)
	require.NoError(t, err)
	assert.Equal(t, "2026-02-26", daily[0].Date)
}

type recordingIngester struct {
	mu     gosync.Mutex
	events []model.CostEvent
	fail   map[string]bool
}

func (r *recordingIngester) Ingest(_ context.Context, ev model.CostEvent) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.fail[ev.SessionID] {
		return errors.New("refused")
	}
	r.events = append(r.events, ev)
	return nil
}

type flatPricer struct{}

func (flatPricer) Lookup(context.Context, string) model.ModelPricing {
	return model.ModelPricing{InputCostPerToken: 1e-6, OutputCostPerToken: 1e-6}
}

func writeTranscript(t *testing.T, dir, session string, tokens int) string {
	t.Helper()
	require.NoError(t, os.MkdirAll(dir, 0o755))
	path := filepath.Join(dir, session+".jsonl")
	line := fmt.Sprintf(`{"type":"assistant","timestamp":"2026-02-26T10:%02d:00Z","message":{"model":"claude-opus-4-6","usage":{"input_tokens":%d}}}`, tokens%60, tokens)
	require.NoError(t, os.WriteFile(path, []byte(line+"\n"), 0o644))
	return path
}

func TestSyncTranscripts(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "-home-gt-gasometer-polecats-obsidian")
	paths := []string{
		writeTranscript(t, dir, "s1", 10),
		writeTranscript(t, dir, "s2", 20),
		writeTranscript(t, dir, "s3", 30),
	}
	empty := filepath.Join(dir, "empty.jsonl")
	require.NoError(t, os.WriteFile(empty, []byte(`{"type":"user"}`+"\n"), 0o644))
	paths = append(paths, empty)

	ing := &recordingIngester{fail: map[string]bool{"s3": true}}
	var seen []string
	report, err := SyncTranscripts(context.Background(), ing, flatPricer{}, paths, TranscriptOptions{
		Workers: 2,
		OnEvent: func(path string, ev model.CostEvent, err error) { seen = append(seen, path) },
	})
	require.NoError(t, err)

	assert.Equal(t, 4, report.Files)
	assert.Equal(t, 2, report.Sent)
	assert.Equal(t, 1, report.Failed)
	assert.Equal(t, 1, report.Skipped)
	assert.InDelta(t, 30e-6, report.TotalUSD, 1e-12)
	assert.Equal(t, time.Date(2026, 2, 26, 10, 20, 0, 0, time.UTC), report.Latest.UTC())
	assert.Len(t, seen, 3)

	require.Len(t, ing.events, 2)
	for _, ev := range ing.events {
		assert.Equal(t, "polecat", ev.Role)
		assert.Equal(t, "gasometer", *ev.Rig)
		assert.Equal(t, "obsidian", *ev.Worker)
	}
}

func TestSyncTranscripts_GrowingSessionPostedOnceFinished(t *testing.T) {
	dir := t.TempDir()
	path := writeTranscript(t, dir, "s1", 10)
	cutoff := time.Now().Add(-DefaultIdle)
	ing := &recordingIngester{}

	report, err := SyncTranscripts(context.Background(), ing, flatPricer{}, []string{path}, TranscriptOptions{ActiveAfter: cutoff})
	require.NoError(t, err)
	assert.Equal(t, 1, report.Active)
	assert.Zero(t, report.Sent)
	assert.Empty(t, ing.events)

	f, err := os.OpenFile(path, os.O_APPEND|os.O_WRONLY, 0o644)
	require.NoError(t, err)
	_, err = f.WriteString(`{"type":"assistant","timestamp":"2026-02-26T10:45:00Z","message":{"usage":{"input_tokens":5}}}` + "\n")
	require.NoError(t, err)
	require.NoError(t, f.Close())

	// Still being written: nothing posted yet
	report, err = SyncTranscripts(context.Background(), ing, flatPricer{}, []string{path}, TranscriptOptions{ActiveAfter: cutoff})
	require.NoError(t, err)
	assert.Equal(t, 1, report.Active)
	assert.Empty(t, ing.events)

	idle := cutoff.Add(-5 * time.Minute)
	require.NoError(t, os.Chtimes(path, idle, idle))

	report, err = SyncTranscripts(context.Background(), ing, flatPricer{}, []string{path}, TranscriptOptions{ActiveAfter: cutoff})
	require.NoError(t, err)
	assert.Zero(t, report.Active)
	assert.Equal(t, 1, report.Sent)

	require.Len(t, ing.events, 1)
	assert.InDelta(t, 15e-6, ing.events[0].CostUSD, 1e-12)
	assert.Equal(t, "2026-02-26T10:45:00Z", ing.events[0].EndedAt)
}

func TestSyncTranscripts_DryRunPostsNothing(t *testing.T) {
	dir := t.TempDir()
	paths := []string{writeTranscript(t, dir, "s1", 10)}

	ing := &recordingIngester{}
	report, err := SyncTranscripts(context.Background(), ing, flatPricer{}, paths, TranscriptOptions{DryRun: true})
	require.NoError(t, err)
	assert.Equal(t, 1, report.Sent)
	assert.Empty(t, ing.events)
}

func TestSyncTranscripts_Cancelled(t *testing.T) {
	dir := t.TempDir()
	paths := []string{writeTranscript(t, dir, "s1", 10)}
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := SyncTranscripts(ctx, &recordingIngester{}, flatPricer{}, paths, TranscriptOptions{})
	assert.ErrorIs(t, err, context.Canceled)
}

func TestInferRigs(t *testing.T) {
	events := []model.CostEvent{
		{SessionID: "ga-polecat-obsidian"},
		{SessionID: "do-witness"},
		{SessionID: "hq-mayor"},
		{SessionID: "ca-crew", Rig: model.String("explicit")},
	}
	InferRigs(events)

	assert.Equal(t, "gasometer", *events[0].Rig)
	assert.Equal(t, "doccompare", *events[1].Rig)
	assert.Nil(t, events[2].Rig)
	assert.Equal(t, "explicit", *events[3].Rig)
}

func TestBackfillCosts(t *testing.T) {
	fake := storetest.New(0)
	events := make([]model.CostEvent, 0, 260)
	for i := 0; i < 260; i++ {
		events = append(events, model.CostEvent{
			SessionID: fmt.Sprintf("s%03d", i),
			Role:      "mayor",
			CostUSD:   0.01,
			EndedAt:   "2026-02-26T10:00:00Z",
		})
	}

	var progress [][2]int
	report := BackfillCosts(context.Background(), fake, events, func(done, total int) {
		progress = append(progress, [2]int{done, total})
	}, nil)

	assert.Equal(t, BackfillReport{Inserted: 260}, report)
	assert.Len(t, fake.Upserts, 6)
	assert.Len(t, fake.Upserts[5], 10)
	assert.Equal(t, model.ConflictKey, fake.Keys[0])
	assert.Equal(t, [][2]int{{250, 260}}, progress)
	assert.Len(t, fake.Rows(), 260)
}

func TestBackfillCosts_BatchErrorsCountRows(t *testing.T) {
	fake := storetest.New(0)
	fake.UpsertErr = errors.New("down")
	events := make([]model.CostEvent, 70)
	for i := range events {
		events[i] = model.CostEvent{SessionID: fmt.Sprintf("s%d", i), Role: "mayor", EndedAt: "2026-02-26T10:00:00Z"}
	}

	var failed []int
	report := BackfillCosts(context.Background(), fake, events, nil, func(batch int, err error) {
		failed = append(failed, batch)
	})
	assert.Equal(t, BackfillReport{Errors: 70}, report)
	assert.Equal(t, []int{1, 2}, failed)
}
