package commands

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	gosync "sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/zhaobenny/gasometer/cli/internal/config"
	"github.com/zhaobenny/gasometer/cli/internal/sync"
	"github.com/zhaobenny/gasometer/internal/apikey"
	"github.com/zhaobenny/gasometer/internal/pricing"
	"github.com/zhaobenny/gasometer/internal/store"
	"go.uber.org/zap"
)

// fakeServer records ingested events and serves canned stats
type fakeServer struct {
	mu     gosync.Mutex
	events []map[string]any
	auth   []string
	*httptest.Server
}

func newFakeServer(t *testing.T) *fakeServer {
	fs := &fakeServer{}
	fs.Server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		switch r.URL.Path {
		case "/api/ingest":
			var ev map[string]any
			body, _ := io.ReadAll(r.Body)
			json.Unmarshal(body, &ev)
			fs.mu.Lock()
			fs.events = append(fs.events, ev)
			fs.auth = append(fs.auth, r.Header.Get("Authorization"))
			fs.mu.Unlock()
			w.WriteHeader(http.StatusCreated)
			w.Write([]byte(`{"status":"ingested"}`))
		case "/api/stats/summary":
			w.Write([]byte(`{"today":{"total_usd":1.5,"sessions":2},"week":{"total_usd":3,"sessions":4},"month":{"total_usd":9,"sessions":10}}`))
		case "/api/stats/roles":
			w.Write([]byte(`{"data":[{"role":"mayor","total_usd":9,"session_count":10}]}`))
		case "/api/stats/rigs":
			w.Write([]byte(`{"data":[{"rig":null,"total_usd":9,"session_count":10}]}`))
		default:
			http.NotFound(w, r)
		}
	}))
	t.Cleanup(fs.Close)
	return fs
}

func (fs *fakeServer) ingested() []map[string]any {
	fs.mu.Lock()
	defer fs.mu.Unlock()
	return append([]map[string]any(nil), fs.events...)
}

// isolate points the CLI config at a temp file
func isolate(t *testing.T, cfg *config.Config) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "gasometer.yaml")
	t.Setenv("GASOMETER_CONFIG", path)
	t.Setenv("GASOMETER_URL", "")
	t.Setenv("GASOMETER_API_KEY", "")
	t.Setenv("COLUMNS", "120")
	if cfg != nil {
		require.NoError(t, config.SaveFile(path, cfg))
	}
	return path
}

func run(t *testing.T, stdin string, args ...string) (string, error) {
	t.Helper()
	root := NewRootCmd()
	var out bytes.Buffer
	root.SetOut(&out)
	root.SetErr(&out)
	root.SetIn(strings.NewReader(stdin))
	root.SetArgs(args)
	err := root.ExecuteContext(context.Background())
	return out.String(), err
}

func TestConfigCmd(t *testing.T) {
	path := isolate(t, nil)

	out, err := run(t, "", "config", "--show")
	require.NoError(t, err)
	assert.Contains(t, out, "No configuration found")

	_, err = run(t, "", "config", "--server", "http://localhost:3001", "--api-key", "gaso_0123456789abcdef")
	require.NoError(t, err)

	cfg, err := config.LoadFile(path)
	require.NoError(t, err)
	assert.Equal(t, "http://localhost:3001", cfg.Server)

	out, err = run(t, "", "config", "--show")
	require.NoError(t, err)
	assert.Contains(t, out, "Server: http://localhost:3001")
	assert.Contains(t, out, "gaso_01234...cdef")
	assert.NotContains(t, out, "gaso_0123456789abcdef")
}

const costLine = `{"session_id":"ga-polecat-obsidian","role":"polecat","worker":"obsidian","cost_usd":2.35,"ended_at":"2026-02-26T20:00:00Z"}`

func TestPushCmd_Stdin(t *testing.T) {
	srv := newFakeServer(t)
	isolate(t, &config.Config{Server: srv.URL, APIKey: "gaso_key"})

	out, err := run(t, `{"session_id":"old","role":"mayor","cost_usd":1,"ended_at":"2026-02-25T20:00:00Z"}`+"\n"+costLine+"\n", "push")
	require.NoError(t, err)
	assert.Contains(t, out, "Pushed ga-polecat-obsidian (polecat) $2.35")

	events := srv.ingested()
	require.Len(t, events, 1)
	assert.Equal(t, "ga-polecat-obsidian", events[0]["session_id"])
	assert.Equal(t, "Bearer gaso_key", srv.auth[0])
}

func TestPushCmd_File(t *testing.T) {
	srv := newFakeServer(t)
	isolate(t, &config.Config{Server: srv.URL})
	file := filepath.Join(t.TempDir(), "costs.jsonl")
	require.NoError(t, os.WriteFile(file, []byte(costLine+"\n"), 0o644))

	_, err := run(t, "", "push", file)
	require.NoError(t, err)
	assert.Len(t, srv.ingested(), 1)
}

func TestPushCmd_QuietNeverFails(t *testing.T) {
	isolate(t, &config.Config{Server: "http://127.0.0.1:1"})

	out, err := run(t, costLine, "push", "--quiet")
	assert.NoError(t, err)
	assert.Empty(t, out)

	_, err = run(t, costLine, "push")
	assert.Error(t, err)

	_, err = run(t, "not json", "push")
	assert.Error(t, err)
}

func TestPushCmd_NotConfigured(t *testing.T) {
	isolate(t, nil)
	_, err := run(t, costLine, "push")
	assert.ErrorIs(t, err, config.ErrNotConfigured)
}

func TestBackfillCostsCmd(t *testing.T) {
	isolate(t, nil)
	dir := t.TempDir()
	file := filepath.Join(dir, "costs.jsonl")
	dbPath := filepath.Join(dir, "gasometer.db")
	content := strings.Join([]string{
		costLine,
		`{"session_id":"do-witness","role":"witness","cost_usd":0.5,"ended_at":"2026-02-26T21:00:00Z"}`,
		`{"broken":`,
		`{"session_id":"do-witness","role":"witness","cost_usd":0.75,"ended_at":"2026-02-26T16:00:00-05:00"}`,
	}, "\n")
	require.NoError(t, os.WriteFile(file, []byte(content), 0o644))

	out, err := run(t, "", "backfill", "costs", "--file", file, "--db", dbPath)
	require.NoError(t, err)
	assert.Contains(t, out, "Found 4 cost records to backfill")
	assert.Contains(t, out, "Backfill complete: 3 inserted, 1 errors")

	s, err := store.OpenSQLite(dbPath, 0)
	require.NoError(t, err)
	defer s.Close()
	rows, err := s.Query(context.Background(), store.Query{Order: store.Ascending, Range: store.Range{Start: 0, End: 99}})
	require.NoError(t, err)
	require.Len(t, rows, 2)
	assert.Equal(t, "gasometer", *rows[0].Rig)
	assert.Equal(t, "doccompare", *rows[1].Rig)
	assert.Equal(t, 0.75, rows[1].CostUSD)
}

func TestBackfillCostsCmd_NeedsStore(t *testing.T) {
	isolate(t, nil)
	file := filepath.Join(t.TempDir(), "costs.jsonl")
	require.NoError(t, os.WriteFile(file, []byte(costLine), 0o644))

	_, err := run(t, "", "backfill", "costs", "--file", file)
	assert.ErrorIs(t, err, store.ErrNotConfigured)
}

func writeTranscript(t *testing.T, root, project, session string) string {
	t.Helper()
	dir := filepath.Join(root, project)
	require.NoError(t, os.MkdirAll(dir, 0o755))
	path := filepath.Join(dir, session+".jsonl")
	line := `{"type":"assistant","timestamp":"2026-02-26T10:00:00Z","message":{"model":"claude-sonnet-4-5","usage":{"input_tokens":1000000}}}`
	require.NoError(t, os.WriteFile(path, []byte(line+"\n"), 0o644))
	finished := time.Now().Add(-time.Hour)
	require.NoError(t, os.Chtimes(path, finished, finished))
	return path
}

func TestBackfillTranscriptsCmd_DryRun(t *testing.T) {
	isolate(t, nil)
	root := t.TempDir()
	writeTranscript(t, root, "-home-gt-gasometer-polecats-obsidian", "abc")

	out, err := run(t, "", "backfill", "transcripts", "--dir", root, "--dry-run", "--offline")
	require.NoError(t, err)
	assert.Contains(t, out, "Found 1 transcript files")
	assert.Contains(t, out, "abc polecat $3.00")
	assert.Contains(t, out, "Done: 1 would post ($3.00), 0 skipped, 0 still active, 0 failed")
}

func TestBackfillTranscriptsCmd_SkipsActiveSessions(t *testing.T) {
	srv := newFakeServer(t)
	isolate(t, &config.Config{Server: srv.URL})
	root := t.TempDir()
	writeTranscript(t, root, "-home-gt-mayor", "done")
	active := writeTranscript(t, root, "-home-gt-mayor", "running")
	now := time.Now()
	require.NoError(t, os.Chtimes(active, now, now))

	out, err := run(t, "", "backfill", "transcripts", "--dir", root, "--offline")
	require.NoError(t, err)
	assert.Contains(t, out, "Done: 1 posted ($3.00), 0 skipped, 1 still active, 0 failed")
	require.Len(t, srv.ingested(), 1)
	assert.Equal(t, "done", srv.ingested()[0]["session_id"])

	_, err = run(t, "", "backfill", "transcripts", "--dir", root, "--offline", "--idle", "0")
	require.NoError(t, err)
	assert.Len(t, srv.ingested(), 3)
}

func TestBackfillTranscriptsCmd_Posts(t *testing.T) {
	srv := newFakeServer(t)
	isolate(t, &config.Config{Server: srv.URL})
	root := t.TempDir()
	writeTranscript(t, root, "-home-gt-mayor", "s1")
	writeTranscript(t, root, "-home-gt-beads-crew", "s2")

	_, err := run(t, "", "backfill", "transcripts", "--dir", root, "--offline", "--workers", "2")
	require.NoError(t, err)

	events := srv.ingested()
	require.Len(t, events, 2)
	roles := map[string]bool{}
	for _, ev := range events {
		roles[ev["role"].(string)] = true
		assert.Equal(t, "claude-sonnet-4-5", ev["model"])
	}
	assert.Equal(t, map[string]bool{"mayor": true, "crew": true}, roles)
}

func TestWatchOnce_AdvancesSyncMark(t *testing.T) {
	srv := newFakeServer(t)
	path := isolate(t, &config.Config{Server: srv.URL})
	root := t.TempDir()
	writeTranscript(t, root, "-home-gt-mayor", "s1")

	out, err := run(t, "", "watch", "--dir", root, "--offline")
	require.NoError(t, err)
	assert.Contains(t, out, "Sync complete. 1 posted")

	cfg, err := config.LoadFile(path)
	require.NoError(t, err)
	require.NotNil(t, cfg.LastSyncAt)
	assert.Equal(t, srv.URL, cfg.Server)

	out, err = run(t, "", "watch", "--dir", root, "--offline")
	require.NoError(t, err)
	assert.Contains(t, out, "No new transcripts to sync.")
	assert.Len(t, srv.ingested(), 1)
}

func TestWatchCycle_PostsGrowingSessionOnceFinished(t *testing.T) {
	srv := newFakeServer(t)
	isolate(t, &config.Config{Server: srv.URL})
	root := t.TempDir()
	transcript := writeTranscript(t, root, "-home-gt-mayor", "s1")

	start := time.Now()
	require.NoError(t, os.Chtimes(transcript, start, start))
	prices := pricing.NewCatalog(pricing.WithOffline(true))
	log := zap.NewNop()

	// Session still running: nothing is posted
	report, err := watchCycle(context.Background(), start, root, sync.DefaultIdle, prices, log)
	require.NoError(t, err)
	assert.Equal(t, 1, report.Active)
	assert.Empty(t, srv.ingested())

	f, err := os.OpenFile(transcript, os.O_APPEND|os.O_WRONLY, 0o644)
	require.NoError(t, err)
	_, err = f.WriteString(`{"type":"assistant","timestamp":"2026-02-26T10:30:00Z","message":{"model":"claude-sonnet-4-5","usage":{"input_tokens":1000000}}}` + "\n")
	require.NoError(t, err)
	require.NoError(t, f.Close())
	lastWrite := start.Add(10 * time.Minute)
	require.NoError(t, os.Chtimes(transcript, lastWrite, lastWrite))

	// An hour later the session has been idle long enough
	report, err = watchCycle(context.Background(), start.Add(time.Hour), root, sync.DefaultIdle, prices, log)
	require.NoError(t, err)
	assert.Equal(t, 1, report.Sent)

	_, err = watchCycle(context.Background(), start.Add(2*time.Hour), root, sync.DefaultIdle, prices, log)
	require.NoError(t, err)

	events := srv.ingested()
	require.Len(t, events, 1)
	assert.InDelta(t, 6.0, events[0]["cost_usd"], 1e-9)
	assert.Equal(t, "2026-02-26T10:30:00Z", events[0]["ended_at"])
}

func TestWatch_RejectsUnknownAction(t *testing.T) {
	isolate(t, nil)
	_, err := run(t, "", "watch", "explode")
	assert.Error(t, err)
}

func TestStatsCmd(t *testing.T) {
	srv := newFakeServer(t)
	isolate(t, &config.Config{Server: srv.URL})

	out, err := run(t, "", "stats")
	require.NoError(t, err)
	assert.Contains(t, out, "Last 7 days")
	assert.Contains(t, out, "mayor")
	assert.Contains(t, out, "(none)")

	out, err = run(t, "", "stats", "--json")
	require.NoError(t, err)
	var report statsReport
	require.NoError(t, json.Unmarshal([]byte(out), &report))
	assert.Equal(t, 10, report.Summary.Month.Sessions)
	require.Len(t, report.Rigs, 1)
	assert.Nil(t, report.Rigs[0].Rig)

	_, err = run(t, "", "stats", "--from", "last tuesday")
	assert.Error(t, err)
}

func TestKeygenCmd(t *testing.T) {
	out, err := run(t, "", "keygen")
	require.NoError(t, err)

	var key, hash string
	for _, line := range strings.Split(out, "\n") {
		if v, ok := strings.CutPrefix(line, "API key:"); ok {
			key = strings.TrimSpace(v)
		}
		if v, ok := strings.CutPrefix(line, "Server hash:"); ok {
			hash = strings.TrimSpace(v)
		}
	}
	assert.True(t, strings.HasPrefix(key, apikey.Prefix))
	assert.True(t, apikey.Matches(hash, key))
}

func TestParseDate(t *testing.T) {
	got, err := parseDate("from", "2026-02-01")
	require.NoError(t, err)
	assert.Equal(t, time.Date(2026, 2, 1, 0, 0, 0, 0, time.UTC), *got)

	got, err = parseDate("from", "")
	require.NoError(t, err)
	assert.Nil(t, got)

	_, err = parseDate("to", "02/01/2026")
	assert.ErrorContains(t, err, "--to")
}
