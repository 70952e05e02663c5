package store

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	_ "github.com/mattn/go-sqlite3"
	"github.com/zhaobenny/gasometer/internal/model"
)

// SQLite stores cost events in a local SQLite database
type SQLite struct {
	db      *sql.DB
	pageCap int
}

// OpenSQLite opens a SQLite database connection
func OpenSQLite(dbPath string, pageCap int) (*SQLite, error) {
	db, err := sql.Open("sqlite3", dbPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// Enable WAL mode for better concurrency
	if _, err := db.Exec("PRAGMA journal_mode = WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to enable WAL mode: %w", err)
	}

	// Set busy timeout to avoid "database is locked" errors under concurrent load
	if _, err := db.Exec("PRAGMA busy_timeout = 5000"); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to set busy timeout: %w", err)
	}

	// In-memory databases are per connection
	if strings.Contains(dbPath, ":memory:") {
		db.SetMaxOpenConns(1)
	} else {
		db.SetMaxOpenConns(10)
		db.SetMaxIdleConns(5)
	}

	if pageCap <= 0 {
		pageCap = DefaultPageCap
	}
	return &SQLite{db: db, pageCap: pageCap}, nil
}

// Migrate creates the database schema
func (s *SQLite) Migrate(ctx context.Context) error {
	schema := `
	CREATE TABLE IF NOT EXISTS cost_events (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		session_id TEXT NOT NULL,
		role TEXT NOT NULL,
		worker TEXT,
		rig TEXT,
		cost_usd REAL NOT NULL,
		input_tokens INTEGER,
		output_tokens INTEGER,
		cache_read_tokens INTEGER,
		cache_create_tokens INTEGER,
		model TEXT,
		duration_sec REAL,
		beads_closed INTEGER,
		ended_at TEXT NOT NULL,
		ended_at_key TEXT NOT NULL,
		created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP,
		updated_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP,
		UNIQUE(session_id, ended_at_key)
	);

	CREATE INDEX IF NOT EXISTS idx_cost_events_ended ON cost_events(ended_at_key);
	CREATE INDEX IF NOT EXISTS idx_cost_events_role ON cost_events(role, ended_at_key);
	CREATE INDEX IF NOT EXISTS idx_cost_events_rig ON cost_events(rig, ended_at_key);
	`

	_, err := s.db.ExecContext(ctx, schema)
	return wrap("migrate", err)
}

// Upsert inserts rows, replacing any row with the same session and end time
func (s *SQLite) Upsert(ctx context.Context, rows []model.CostEvent, conflictKey []string) error {
	if err := CheckConflictKey(conflictKey); err != nil {
		return wrap("upsert", err)
	}
	if len(rows) == 0 {
		return nil
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return wrap("upsert", err)
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO cost_events
		(session_id, role, worker, rig, cost_usd, input_tokens, output_tokens,
		 cache_read_tokens, cache_create_tokens, model, duration_sec, beads_closed,
		 ended_at, ended_at_key)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(session_id, ended_at_key) DO UPDATE SET
			role = excluded.role,
			worker = excluded.worker,
			rig = excluded.rig,
			cost_usd = excluded.cost_usd,
			input_tokens = excluded.input_tokens,
			output_tokens = excluded.output_tokens,
			cache_read_tokens = excluded.cache_read_tokens,
			cache_create_tokens = excluded.cache_create_tokens,
			model = excluded.model,
			duration_sec = excluded.duration_sec,
			beads_closed = excluded.beads_closed,
			ended_at = excluded.ended_at,
			updated_at = CURRENT_TIMESTAMP
	`)
	if err != nil {
		return wrap("upsert", err)
	}
	defer stmt.Close()

	for _, r := range rows {
		_, err := stmt.ExecContext(ctx,
			r.SessionID, r.Role, r.Worker, r.Rig, r.CostUSD, r.InputTokens, r.OutputTokens,
			r.CacheReadTokens, r.CacheCreateTokens, r.Model, r.DurationSec, r.BeadsClosed,
			r.EndedAt, r.EndedAtKey(),
		)
		if err != nil {
			return wrap("upsert", err)
		}
	}

	return wrap("upsert", tx.Commit())
}

// Query returns one page of cost events
func (s *SQLite) Query(ctx context.Context, q Query) ([]model.CostEvent, error) {
	offset, limit := pageBounds(q.Range, s.pageCap)
	if limit == 0 {
		return []model.CostEvent{}, nil
	}

	var where []string
	var args []interface{}
	if q.Filter.From != nil {
		where = append(where, "ended_at_key >= ?")
		args = append(args, model.FormatKeyTime(*q.Filter.From))
	}
	if q.Filter.To != nil {
		where = append(where, "ended_at_key <= ?")
		args = append(args, model.FormatKeyTime(*q.Filter.To))
	}
	if q.Filter.Role != nil {
		where = append(where, "role = ?")
		args = append(args, *q.Filter.Role)
	}
	if q.Filter.Rig != nil {
		where = append(where, "rig = ?")
		args = append(args, *q.Filter.Rig)
	}

	query := `
		SELECT session_id, role, worker, rig, cost_usd, input_tokens, output_tokens,
		       cache_read_tokens, cache_create_tokens, model, duration_sec, beads_closed, ended_at
		FROM cost_events`
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}
	if q.Order == Ascending {
		query += " ORDER BY ended_at_key ASC, id ASC"
	} else {
		query += " ORDER BY ended_at_key DESC, id DESC"
	}
	query += " LIMIT ? OFFSET ?"
	args = append(args, limit, offset)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, wrap("query", err)
	}
	defer rows.Close()

	events := []model.CostEvent{}
	for rows.Next() {
		var (
			e                                   model.CostEvent
			worker, rig, modelName              sql.NullString
			input, output, cacheRead, cacheMake sql.NullInt64
			beads                               sql.NullInt64
			duration                            sql.NullFloat64
		)
		err := rows.Scan(&e.SessionID, &e.Role, &worker, &rig, &e.CostUSD, &input, &output,
			&cacheRead, &cacheMake, &modelName, &duration, &beads, &e.EndedAt)
		if err != nil {
			return nil, wrap("query", err)
		}
		e.Worker = nullString(worker)
		e.Rig = nullString(rig)
		e.Model = nullString(modelName)
		e.InputTokens = nullInt(input)
		e.OutputTokens = nullInt(output)
		e.CacheReadTokens = nullInt(cacheRead)
		e.CacheCreateTokens = nullInt(cacheMake)
		e.BeadsClosed = nullInt(beads)
		if duration.Valid {
			e.DurationSec = &duration.Float64
		}
		events = append(events, e)
	}
	if err := rows.Err(); err != nil {
		return nil, wrap("query", err)
	}

	return events, nil
}

// Ping checks database connectivity
func (s *SQLite) Ping(ctx context.Context) error {
	return wrap("ping", s.db.PingContext(ctx))
}

// Close closes the database
func (s *SQLite) Close() error {
	return s.db.Close()
}

func nullString(v sql.NullString) *string {
	if !v.Valid {
		return nil
	}
	return &v.String
}

func nullInt(v sql.NullInt64) *int64 {
	if !v.Valid {
		return nil
	}
	return &v.Int64
}
