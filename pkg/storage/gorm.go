package storage

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jonboulle/clockwork"
	"github.com/mattn/go-sqlite3"
	"gorm.io/driver/postgres"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
	"gorm.io/gorm/logger"

	"github.com/jdziat/badc/pkg/core"
	"github.com/jdziat/badc/pkg/security"
)

// ErrRunNotFound is returned when a run id or source has no ledger entry.
var ErrRunNotFound = errors.New("badc: run not found")

// outcomeBatchSize bounds the rows per INSERT statement.
const outcomeBatchSize = 200

// Ledger records runs and chunk outcomes in a GORM database.
type Ledger struct {
	db         *gorm.DB
	clock      clockwork.Clock
	logger     *slog.Logger
	newBackOff func() backoff.BackOff
	poolOpts   []PoolOption
}

// LedgerOption configures a Ledger.
type LedgerOption interface {
	applyLedger(*Ledger)
}

type ledgerOptionFunc func(*Ledger)

func (f ledgerOptionFunc) applyLedger(l *Ledger) { f(l) }

// WithClock sets the clock used for run timestamps.
func WithClock(c clockwork.Clock) LedgerOption {
	return ledgerOptionFunc(func(l *Ledger) {
		l.clock = c
	})
}

// WithLogger sets the ledger logger.
func WithLogger(lg *slog.Logger) LedgerOption {
	return ledgerOptionFunc(func(l *Ledger) {
		l.logger = lg
	})
}

// WithBackOff sets the policy used to retry writes that hit a busy or
// locked database. The factory is called once per write.
func WithBackOff(f func() backoff.BackOff) LedgerOption {
	return ledgerOptionFunc(func(l *Ledger) {
		l.newBackOff = f
	})
}

// WithPool overrides connection pool settings applied by Open.
func WithPool(opts ...PoolOption) LedgerOption {
	return ledgerOptionFunc(func(l *Ledger) {
		l.poolOpts = append(l.poolOpts, opts...)
	})
}

// DefaultBackOff retries for up to ten seconds with a one second ceiling.
func DefaultBackOff() backoff.BackOff {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = 50 * time.Millisecond
	b.MaxInterval = time.Second
	b.MaxElapsedTime = 10 * time.Second
	return b
}

// New wraps an open database. Call Migrate before use.
func New(db *gorm.DB, opts ...LedgerOption) *Ledger {
	l := &Ledger{
		db:         db,
		clock:      clockwork.NewRealClock(),
		logger:     slog.Default(),
		newBackOff: DefaultBackOff,
	}
	for _, opt := range opts {
		opt.applyLedger(l)
	}
	return l
}

// Open connects to dsn, configures the pool and migrates the schema.
// DSNs starting with postgres:// or postgresql:// use PostgreSQL; anything
// else is a SQLite file path (or ":memory:").
func Open(dsn string, opts ...LedgerOption) (*Ledger, error) {
	if dsn == "" {
		return nil, fmt.Errorf("%w: empty ledger path", core.ErrLedgerUnavailable)
	}

	var (
		dialector gorm.Dialector
		pool      = ServerPool()
	)
	if isPostgresDSN(dsn) {
		dialector = postgres.Open(dsn)
	} else {
		if dsn != ":memory:" {
			if err := os.MkdirAll(filepath.Dir(dsn), 0o755); err != nil {
				return nil, fmt.Errorf("%w: %v", core.ErrLedgerUnavailable, err)
			}
			dsn += "?_busy_timeout=5000&_journal_mode=WAL"
		}
		dialector = sqlite.Open(dsn)
		pool = FilePool()
	}

	db, err := gorm.Open(dialector, &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		return nil, fmt.Errorf("%w: %v", core.ErrLedgerUnavailable, err)
	}

	l := New(db, opts...)
	if _, err := pool.apply(db, l.poolOpts...); err != nil {
		_ = l.Close()
		return nil, err
	}
	if err := l.Migrate(context.Background()); err != nil {
		_ = l.Close()
		return nil, fmt.Errorf("%w: migrate: %v", core.ErrLedgerUnavailable, err)
	}
	return l, nil
}

func isPostgresDSN(dsn string) bool {
	return strings.HasPrefix(dsn, "postgres://") || strings.HasPrefix(dsn, "postgresql://")
}

// Migrate creates the ledger tables.
func (l *Ledger) Migrate(ctx context.Context) error {
	return l.db.WithContext(ctx).AutoMigrate(&Run{}, &ChunkOutcome{})
}

// DB returns the underlying GORM handle.
func (l *Ledger) DB() *gorm.DB {
	return l.db
}

// Close closes the underlying connection pool.
func (l *Ledger) Close() error {
	sqlDB, err := l.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

// BeginRun records a new running run for source and returns it.
func (l *Ledger) BeginRun(ctx context.Context, source, telemetryLog, summaryPath string) (*Run, error) {
	run := &Run{
		ID:           uuid.NewString(),
		Source:       source,
		TelemetryLog: telemetryLog,
		SummaryPath:  summaryPath,
		Status:       RunRunning,
		StartedAt:    l.clock.Now().UTC(),
	}
	err := l.withRetry(ctx, "begin_run", func() error {
		return l.db.WithContext(ctx).Create(run).Error
	})
	if err != nil {
		return nil, err
	}
	l.logger.Debug("ledger run started", "run_id", run.ID, "source", source)
	return run, nil
}

// RecordSummary upserts every job outcome of summary under runID in one
// transaction and updates the run's job counts.
func (l *Ledger) RecordSummary(ctx context.Context, runID string, summary *core.RunSummary) error {
	if summary == nil {
		return core.ErrInvalidSummary
	}

	outcomes := make([]ChunkOutcome, 0, len(summary.Jobs))
	now := l.clock.Now().UTC()
	for chunkID, o := range summary.Jobs {
		outcomes = append(outcomes, ChunkOutcome{
			RunID:       runID,
			RecordingID: o.RecordingID,
			ChunkID:     chunkID,
			Status:      o.Status,
			Attempts:    o.Attempts,
			Retries:     o.Retries,
			Output:      o.Output,
			Error:       security.SanitizeErrorMessage(o.Error),
			Worker:      o.Worker,
			UpdatedAt:   now,
		})
	}

	return l.withRetry(ctx, "record_summary", func() error {
		return l.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
			result := tx.Model(&Run{}).
				Where("id = ?", runID).
				Updates(map[string]any{
					"jobs":   len(summary.Jobs),
					"failed": summary.Failed(),
				})
			if result.Error != nil {
				return result.Error
			}
			if result.RowsAffected == 0 {
				return fmt.Errorf("%w: %s", ErrRunNotFound, runID)
			}
			if len(outcomes) == 0 {
				return nil
			}
			return tx.Clauses(clause.OnConflict{
				Columns:   []clause.Column{{Name: "run_id"}, {Name: "recording_id"}, {Name: "chunk_id"}},
				UpdateAll: true,
			}).CreateInBatches(outcomes, outcomeBatchSize).Error
		})
	})
}

// FinishRun marks a run as succeeded, or failed when runErr is non-nil.
func (l *Ledger) FinishRun(ctx context.Context, runID string, runErr error) error {
	finished := l.clock.Now().UTC()
	updates := map[string]any{
		"status":      RunSucceeded,
		"finished_at": finished,
		"error":       "",
	}
	if runErr != nil {
		updates["status"] = RunFailed
		updates["error"] = security.SanitizeErrorMessage(runErr.Error())
	}

	var affected int64
	err := l.withRetry(ctx, "finish_run", func() error {
		result := l.db.WithContext(ctx).Model(&Run{}).Where("id = ?", runID).Updates(updates)
		affected = result.RowsAffected
		return result.Error
	})
	if err != nil {
		return err
	}
	if affected == 0 {
		return fmt.Errorf("%w: %s", ErrRunNotFound, runID)
	}
	return nil
}

// CompletedChunks returns the distinct chunks that succeeded in any run of
// source. An empty source matches every run.
func (l *Ledger) CompletedChunks(ctx context.Context, source string) ([]core.ChunkKey, error) {
	var rows []struct {
		RecordingID string
		ChunkID     string
	}
	q := l.db.WithContext(ctx).
		Model(&ChunkOutcome{}).
		Select("DISTINCT chunk_outcomes.recording_id, chunk_outcomes.chunk_id").
		Joins("JOIN runs ON runs.id = chunk_outcomes.run_id").
		Where("chunk_outcomes.status = ?", core.StatusSuccess)
	if source != "" {
		q = q.Where("runs.source = ?", source)
	}
	if err := q.Order("chunk_outcomes.recording_id, chunk_outcomes.chunk_id").Scan(&rows).Error; err != nil {
		return nil, err
	}

	keys := make([]core.ChunkKey, len(rows))
	for i, r := range rows {
		keys[i] = core.ChunkKey{RecordingID: r.RecordingID, ChunkID: r.ChunkID}
	}
	return keys, nil
}

// LatestRun returns the most recently started run of source.
func (l *Ledger) LatestRun(ctx context.Context, source string) (*Run, error) {
	var run Run
	err := l.db.WithContext(ctx).
		Where("source = ?", source).
		Order("started_at DESC").
		First(&run).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, fmt.Errorf("%w: %s", ErrRunNotFound, source)
	}
	if err != nil {
		return nil, err
	}
	return &run, nil
}

// Outcomes returns the chunk outcomes recorded for runID.
func (l *Ledger) Outcomes(ctx context.Context, runID string) ([]ChunkOutcome, error) {
	var outcomes []ChunkOutcome
	err := l.db.WithContext(ctx).
		Where("run_id = ?", runID).
		Order("recording_id, chunk_id").
		Find(&outcomes).Error
	return outcomes, err
}

func (l *Ledger) withRetry(ctx context.Context, op string, fn func() error) error {
	b := backoff.WithContext(l.newBackOff(), ctx)
	return backoff.RetryNotify(func() error {
		err := fn()
		if err != nil && !isTransient(err) {
			return backoff.Permanent(err)
		}
		return err
	}, b, func(err error, delay time.Duration) {
		l.logger.Warn("ledger write retrying", "op", op, "error", err, "delay", delay)
	})
}

// isTransient reports whether err is a lock or serialization conflict that
// may succeed when retried.
func isTransient(err error) bool {
	var sqliteErr sqlite3.Error
	if errors.As(err, &sqliteErr) {
		return sqliteErr.Code == sqlite3.ErrBusy || sqliteErr.Code == sqlite3.ErrLocked
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		// serialization_failure, deadlock_detected
		return pgErr.Code == "40001" || pgErr.Code == "40P01"
	}
	return false
}
