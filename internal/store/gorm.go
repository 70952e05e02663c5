package store

import (
	"context"
	"fmt"
	"time"

	"github.com/zhaobenny/gasometer/internal/model"
	"go.uber.org/zap"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
	gormlogger "gorm.io/gorm/logger"
)

// costEventRow is the gorm mapping of the cost_events table.
type costEventRow struct {
	ID                uint     `gorm:"primaryKey"`
	SessionID         string   `gorm:"not null;uniqueIndex:idx_cost_events_natural,priority:1"`
	Role              string   `gorm:"not null;index:idx_cost_events_role,priority:1"`
	Worker            *string
	Rig               *string  `gorm:"index:idx_cost_events_rig,priority:1"`
	CostUSD           float64  `gorm:"column:cost_usd;not null"`
	InputTokens       *int64
	OutputTokens      *int64
	CacheReadTokens   *int64
	CacheCreateTokens *int64
	Model             *string
	DurationSec       *float64
	BeadsClosed       *int64
	EndedAt           string `gorm:"not null"`
	EndedAtKey        string `gorm:"not null;uniqueIndex:idx_cost_events_natural,priority:2;index:idx_cost_events_role,priority:2;index:idx_cost_events_rig,priority:2;index"`
	CreatedAt         time.Time
	UpdatedAt         time.Time
}

func (costEventRow) TableName() string { return "cost_events" }

func rowFromEvent(e model.CostEvent) costEventRow {
	return costEventRow{
		SessionID:         e.SessionID,
		Role:              e.Role,
		Worker:            e.Worker,
		Rig:               e.Rig,
		CostUSD:           e.CostUSD,
		InputTokens:       e.InputTokens,
		OutputTokens:      e.OutputTokens,
		CacheReadTokens:   e.CacheReadTokens,
		CacheCreateTokens: e.CacheCreateTokens,
		Model:             e.Model,
		DurationSec:       e.DurationSec,
		BeadsClosed:       e.BeadsClosed,
		EndedAt:           e.EndedAt,
		EndedAtKey:        e.EndedAtKey(),
	}
}

func (r costEventRow) event() model.CostEvent {
	return model.CostEvent{
		SessionID:         r.SessionID,
		Role:              r.Role,
		Worker:            r.Worker,
		Rig:               r.Rig,
		CostUSD:           r.CostUSD,
		InputTokens:       r.InputTokens,
		OutputTokens:      r.OutputTokens,
		CacheReadTokens:   r.CacheReadTokens,
		CacheCreateTokens: r.CacheCreateTokens,
		Model:             r.Model,
		DurationSec:       r.DurationSec,
		BeadsClosed:       r.BeadsClosed,
		EndedAt:           r.EndedAt,
	}
}

// upsertColumns are overwritten when a row with the same natural key exists.
var upsertColumns = []string{
	"role", "worker", "rig", "cost_usd",
	"input_tokens", "output_tokens", "cache_read_tokens", "cache_create_tokens",
	"model", "duration_sec", "beads_closed", "ended_at", "updated_at",
}

// Gorm stores cost events through gorm. Production runs it on Postgres.
type Gorm struct {
	db      *gorm.DB
	pageCap int
}

// OpenPostgres connects to Postgres and migrates the schema.
func OpenPostgres(ctx context.Context, dsn string, pageCap int, logger *zap.Logger) (*Gorm, error) {
	db, err := gorm.Open(postgres.Open(dsn), &gorm.Config{
		Logger: NewGormLogger(logger, 200*time.Millisecond),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to connect to postgres: %w", err)
	}

	sqlDB, err := db.DB()
	if err != nil {
		return nil, fmt.Errorf("failed to get sql.DB: %w", err)
	}
	sqlDB.SetMaxOpenConns(20)
	sqlDB.SetMaxIdleConns(5)
	sqlDB.SetConnMaxLifetime(30 * time.Minute)

	g := NewGorm(db, pageCap)
	if err := g.Migrate(ctx); err != nil {
		sqlDB.Close()
		return nil, err
	}
	return g, nil
}

// NewGorm wraps an open gorm connection. Call Migrate before use on a new database.
func NewGorm(db *gorm.DB, pageCap int) *Gorm {
	if pageCap <= 0 {
		pageCap = DefaultPageCap
	}
	return &Gorm{db: db, pageCap: pageCap}
}

// Migrate creates or updates the cost_events table.
func (g *Gorm) Migrate(ctx context.Context) error {
	return wrap("migrate", g.db.WithContext(ctx).AutoMigrate(&costEventRow{}))
}

// Upsert writes rows in one statement, overwriting rows with the same natural key.
func (g *Gorm) Upsert(ctx context.Context, rows []model.CostEvent, conflictKey []string) error {
	if err := CheckConflictKey(conflictKey); err != nil {
		return wrap("upsert", err)
	}
	rows = dedupe(rows)
	if len(rows) == 0 {
		return nil
	}

	records := make([]costEventRow, len(rows))
	for i, r := range rows {
		records[i] = rowFromEvent(r)
	}

	err := g.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "session_id"}, {Name: "ended_at_key"}},
		DoUpdates: clause.AssignmentColumns(upsertColumns),
	}).Create(&records).Error
	return wrap("upsert", err)
}

// Query returns one page of cost events.
func (g *Gorm) Query(ctx context.Context, q Query) ([]model.CostEvent, error) {
	offset, limit := pageBounds(q.Range, g.pageCap)
	if limit == 0 {
		return []model.CostEvent{}, nil
	}

	tx := g.db.WithContext(ctx).Model(&costEventRow{})
	if q.Filter.From != nil {
		tx = tx.Where("ended_at_key >= ?", model.FormatKeyTime(*q.Filter.From))
	}
	if q.Filter.To != nil {
		tx = tx.Where("ended_at_key <= ?", model.FormatKeyTime(*q.Filter.To))
	}
	if q.Filter.Role != nil {
		tx = tx.Where("role = ?", *q.Filter.Role)
	}
	if q.Filter.Rig != nil {
		tx = tx.Where("rig = ?", *q.Filter.Rig)
	}
	desc := q.Order != Ascending
	tx = tx.Order(clause.OrderByColumn{Column: clause.Column{Name: "ended_at_key"}, Desc: desc}).
		Order(clause.OrderByColumn{Column: clause.Column{Name: "id"}, Desc: desc})

	var records []costEventRow
	if err := tx.Offset(offset).Limit(limit).Find(&records).Error; err != nil {
		return nil, wrap("query", err)
	}

	events := make([]model.CostEvent, len(records))
	for i, r := range records {
		events[i] = r.event()
	}
	return events, nil
}

// Ping checks database connectivity.
func (g *Gorm) Ping(ctx context.Context) error {
	sqlDB, err := g.db.DB()
	if err != nil {
		return wrap("ping", err)
	}
	return wrap("ping", sqlDB.PingContext(ctx))
}

// Close closes the underlying connection pool.
func (g *Gorm) Close() error {
	sqlDB, err := g.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

// GormZapLogger sends gorm logs to zap.
type GormZapLogger struct {
	ZapLogger     *zap.Logger
	LogLevel      gormlogger.LogLevel
	SlowThreshold time.Duration
}

// NewGormLogger returns a gorm logger at warn level. A nil logger discards.
func NewGormLogger(logger *zap.Logger, slow time.Duration) *GormZapLogger {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &GormZapLogger{
		ZapLogger:     logger.Named("gorm"),
		LogLevel:      gormlogger.Warn,
		SlowThreshold: slow,
	}
}

func (l *GormZapLogger) LogMode(level gormlogger.LogLevel) gormlogger.Interface {
	newLogger := *l
	newLogger.LogLevel = level
	return &newLogger
}

func (l *GormZapLogger) Info(ctx context.Context, msg string, data ...interface{}) {
	if l.LogLevel >= gormlogger.Info {
		l.ZapLogger.Sugar().Infof(msg, data...)
	}
}

func (l *GormZapLogger) Warn(ctx context.Context, msg string, data ...interface{}) {
	if l.LogLevel >= gormlogger.Warn {
		l.ZapLogger.Sugar().Warnf(msg, data...)
	}
}

func (l *GormZapLogger) Error(ctx context.Context, msg string, data ...interface{}) {
	if l.LogLevel >= gormlogger.Error {
		l.ZapLogger.Sugar().Errorf(msg, data...)
	}
}

// Trace logs failed and slow statements. Successful ones go to debug at info level.
func (l *GormZapLogger) Trace(ctx context.Context, begin time.Time, fc func() (string, int64), err error) {
	if l.LogLevel <= gormlogger.Silent {
		return
	}

	elapsed := time.Since(begin)
	sql, rows := fc()
	fields := []zap.Field{
		zap.Duration("elapsed", elapsed),
		zap.String("sql", sql),
		zap.Int64("rows", rows),
	}

	switch {
	case err != nil && l.LogLevel >= gormlogger.Error:
		l.ZapLogger.Error("sql error", append(fields, zap.Error(err))...)
	case l.SlowThreshold > 0 && elapsed > l.SlowThreshold && l.LogLevel >= gormlogger.Warn:
		l.ZapLogger.Warn("slow sql", fields...)
	case l.LogLevel >= gormlogger.Info:
		l.ZapLogger.Debug("sql", fields...)
	}
}
