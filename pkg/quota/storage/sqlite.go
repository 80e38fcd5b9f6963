package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sync"
	"time"

	_ "modernc.org/sqlite" // SQLite driver

	"github.com/noteflow-ai/quotad/pkg/quota"
)

// SQLiteStore implements quota.Store using SQLite. It is the default durable
// backend for single-instance deployments: counters survive restarts and the
// conditional increment is a single conditional upsert statement, so the
// check and the increment cannot be separated by another writer.
//
// The store uses a write-ahead log (WAL) for better concurrent read
// performance and checkpoints it periodically in the background.
type SQLiteStore struct {
	db                 *sql.DB
	dbPath             string
	checkpointInterval time.Duration
	done               chan struct{}
	closeOnce          sync.Once

	// preparedStatements contains pre-compiled SQL statements
	incrementStmt     *sql.Stmt
	decrementStmt     *sql.Stmt
	countStmt         *sql.Stmt
	resetStmt         *sql.Stmt
	setOverrideStmt   *sql.Stmt
	getOverrideStmt   *sql.Stmt
	clearOverrideStmt *sql.Stmt
	appendAuditStmt   *sql.Stmt
	pruneStmt         *sql.Stmt
}

var _ quota.Store = (*SQLiteStore)(nil)

// SQLiteConfig configures the SQLite store.
type SQLiteConfig struct {
	// Path is the path to the SQLite database file.
	Path string

	// BusyTimeout is how long to wait for locks before failing.
	// Default: 5 seconds
	BusyTimeout time.Duration

	// CheckpointInterval is how often to checkpoint the WAL.
	// Default: 5 minutes
	CheckpointInterval time.Duration
}

// NewSQLiteStore opens (or creates) the database at path with default
// settings.
func NewSQLiteStore(path string) (*SQLiteStore, error) {
	return NewSQLiteStoreWithConfig(SQLiteConfig{Path: path})
}

// NewSQLiteStoreWithConfig opens a SQLite store with custom configuration.
func NewSQLiteStoreWithConfig(cfg SQLiteConfig) (*SQLiteStore, error) {
	if cfg.Path == "" {
		return nil, fmt.Errorf("db path cannot be empty")
	}
	if cfg.BusyTimeout == 0 {
		cfg.BusyTimeout = 5 * time.Second
	}
	if cfg.CheckpointInterval == 0 {
		cfg.CheckpointInterval = 5 * time.Minute
	}

	dsn := fmt.Sprintf("%s?_journal_mode=WAL&_busy_timeout=%d&_synchronous=NORMAL",
		cfg.Path, int(cfg.BusyTimeout.Milliseconds()))

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// SQLite only supports a single writer
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)

	store := &SQLiteStore{
		db:                 db,
		dbPath:             cfg.Path,
		checkpointInterval: cfg.CheckpointInterval,
		done:               make(chan struct{}),
	}

	if err := store.initSchema(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}

	if err := store.prepareStatements(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to prepare statements: %w", err)
	}

	go store.checkpointLoop()

	return store, nil
}

// initSchema creates the database schema if it doesn't exist.
func (s *SQLiteStore) initSchema() error {
	schema := `
	CREATE TABLE IF NOT EXISTS usage_counters (
		account_id TEXT NOT NULL,
		period_key TEXT NOT NULL,
		count INTEGER NOT NULL DEFAULT 0 CHECK (count >= 0),
		updated_at INTEGER NOT NULL,
		PRIMARY KEY (account_id, period_key)
	);

	CREATE TABLE IF NOT EXISTS limit_overrides (
		account_id TEXT PRIMARY KEY,
		limit_value INTEGER,
		updated_at INTEGER NOT NULL
	);

	CREATE TABLE IF NOT EXISTS audit_log (
		id TEXT PRIMARY KEY,
		actor TEXT NOT NULL,
		action TEXT NOT NULL,
		account_id TEXT NOT NULL,
		detail TEXT,
		created_at INTEGER NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_counters_period ON usage_counters(period_key);
	CREATE INDEX IF NOT EXISTS idx_audit_account ON audit_log(account_id, created_at);
	`

	_, err := s.db.Exec(schema)
	return err
}

// prepareStatements prepares SQL statements for reuse.
func (s *SQLiteStore) prepareStatements() error {
	var err error

	// The conditional increment is one statement: insert a fresh row at 1,
	// or bump an existing row only while its count is still below the
	// limit. RETURNING yields the new count exactly when the upsert
	// applied, so check and increment are indivisible at the store.
	s.incrementStmt, err = s.db.Prepare(`
		INSERT INTO usage_counters (account_id, period_key, count, updated_at)
		VALUES (?, ?, 1, ?)
		ON CONFLICT (account_id, period_key) DO UPDATE SET
			count = count + 1,
			updated_at = excluded.updated_at
		WHERE usage_counters.count < ?
		RETURNING count
	`)
	if err != nil {
		return fmt.Errorf("failed to prepare increment statement: %w", err)
	}

	s.decrementStmt, err = s.db.Prepare(`
		UPDATE usage_counters
		SET count = count - 1, updated_at = ?
		WHERE account_id = ? AND period_key = ? AND count > 0
	`)
	if err != nil {
		return fmt.Errorf("failed to prepare decrement statement: %w", err)
	}

	s.countStmt, err = s.db.Prepare(`
		SELECT count FROM usage_counters
		WHERE account_id = ? AND period_key = ?
	`)
	if err != nil {
		return fmt.Errorf("failed to prepare count statement: %w", err)
	}

	s.resetStmt, err = s.db.Prepare(`
		INSERT INTO usage_counters (account_id, period_key, count, updated_at)
		VALUES (?, ?, 0, ?)
		ON CONFLICT (account_id, period_key) DO UPDATE SET
			count = 0,
			updated_at = excluded.updated_at
	`)
	if err != nil {
		return fmt.Errorf("failed to prepare reset statement: %w", err)
	}

	s.setOverrideStmt, err = s.db.Prepare(`
		INSERT INTO limit_overrides (account_id, limit_value, updated_at)
		VALUES (?, ?, ?)
		ON CONFLICT (account_id) DO UPDATE SET
			limit_value = excluded.limit_value,
			updated_at = excluded.updated_at
	`)
	if err != nil {
		return fmt.Errorf("failed to prepare set override statement: %w", err)
	}

	s.getOverrideStmt, err = s.db.Prepare(`
		SELECT limit_value FROM limit_overrides WHERE account_id = ?
	`)
	if err != nil {
		return fmt.Errorf("failed to prepare get override statement: %w", err)
	}

	s.clearOverrideStmt, err = s.db.Prepare(`
		DELETE FROM limit_overrides WHERE account_id = ?
	`)
	if err != nil {
		return fmt.Errorf("failed to prepare clear override statement: %w", err)
	}

	s.appendAuditStmt, err = s.db.Prepare(`
		INSERT INTO audit_log (id, actor, action, account_id, detail, created_at)
		VALUES (?, ?, ?, ?, ?, ?)
	`)
	if err != nil {
		return fmt.Errorf("failed to prepare audit statement: %w", err)
	}

	s.pruneStmt, err = s.db.Prepare(`
		DELETE FROM usage_counters
		WHERE period_key < ? AND period_key != ?
	`)
	if err != nil {
		return fmt.Errorf("failed to prepare prune statement: %w", err)
	}

	return nil
}

// IncrementIfBelow implements quota.CounterStore.
func (s *SQLiteStore) IncrementIfBelow(ctx context.Context, accountID, periodKey string, limit int64) (int64, bool, error) {
	if accountID == "" {
		return 0, false, fmt.Errorf("account id cannot be empty")
	}

	// A limit of zero can never admit the initial insert, so skip straight
	// to reporting the current count.
	if limit <= 0 {
		count, err := s.Count(ctx, accountID, periodKey)
		return count, false, err
	}

	var count int64
	err := s.incrementStmt.QueryRowContext(ctx, accountID, periodKey, time.Now().Unix(), limit).Scan(&count)
	if errors.Is(err, sql.ErrNoRows) {
		// Upsert did not apply: the counter is already at the limit.
		count, err = s.Count(ctx, accountID, periodKey)
		return count, false, err
	}
	if err != nil {
		return 0, false, fmt.Errorf("failed to increment counter: %w", err)
	}
	return count, true, nil
}

// Decrement implements quota.CounterStore, flooring at zero.
func (s *SQLiteStore) Decrement(ctx context.Context, accountID, periodKey string) error {
	_, err := s.decrementStmt.ExecContext(ctx, time.Now().Unix(), accountID, periodKey)
	if err != nil {
		return fmt.Errorf("failed to decrement counter: %w", err)
	}
	return nil
}

// Count implements quota.CounterStore. A missing row reads as zero.
func (s *SQLiteStore) Count(ctx context.Context, accountID, periodKey string) (int64, error) {
	var count int64
	err := s.countStmt.QueryRowContext(ctx, accountID, periodKey).Scan(&count)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("failed to read counter: %w", err)
	}
	return count, nil
}

// ResetCounter implements quota.CounterStore.
func (s *SQLiteStore) ResetCounter(ctx context.Context, accountID, periodKey string) error {
	_, err := s.resetStmt.ExecContext(ctx, accountID, periodKey, time.Now().Unix())
	if err != nil {
		return fmt.Errorf("failed to reset counter: %w", err)
	}
	return nil
}

// SetOverride implements quota.OverrideStore. Unlimited is stored as NULL,
// never as a sentinel integer.
func (s *SQLiteStore) SetOverride(ctx context.Context, accountID string, limit quota.Limit) error {
	if accountID == "" {
		return fmt.Errorf("account id cannot be empty")
	}
	if err := limit.Validate(); err != nil {
		return err
	}

	var value sql.NullInt64
	if !limit.IsUnlimited() {
		value = sql.NullInt64{Int64: limit.Value(), Valid: true}
	}
	_, err := s.setOverrideStmt.ExecContext(ctx, accountID, value, time.Now().Unix())
	if err != nil {
		return fmt.Errorf("failed to set override: %w", err)
	}
	return nil
}

// Override implements quota.OverrideStore.
func (s *SQLiteStore) Override(ctx context.Context, accountID string) (quota.Limit, bool, error) {
	var value sql.NullInt64
	err := s.getOverrideStmt.QueryRowContext(ctx, accountID).Scan(&value)
	if errors.Is(err, sql.ErrNoRows) {
		return quota.Limit{}, false, nil
	}
	if err != nil {
		return quota.Limit{}, false, fmt.Errorf("failed to read override: %w", err)
	}
	if !value.Valid {
		return quota.Unlimited(), true, nil
	}
	return quota.Limited(value.Int64), true, nil
}

// ClearOverride implements quota.OverrideStore.
func (s *SQLiteStore) ClearOverride(ctx context.Context, accountID string) error {
	_, err := s.clearOverrideStmt.ExecContext(ctx, accountID)
	if err != nil {
		return fmt.Errorf("failed to clear override: %w", err)
	}
	return nil
}

// AppendAudit implements quota.AuditStore.
func (s *SQLiteStore) AppendAudit(ctx context.Context, rec quota.AuditRecord) error {
	_, err := s.appendAuditStmt.ExecContext(ctx,
		rec.ID, rec.Actor, rec.Action, rec.AccountID, rec.Detail, rec.CreatedAt.Unix())
	if err != nil {
		return fmt.Errorf("failed to append audit record: %w", err)
	}
	return nil
}

// ListAudit implements quota.AuditStore, newest first.
func (s *SQLiteStore) ListAudit(ctx context.Context, accountID string, n int) ([]quota.AuditRecord, error) {
	query := `
		SELECT id, actor, action, account_id, detail, created_at
		FROM audit_log
	`
	args := []any{}
	if accountID != "" {
		query += " WHERE account_id = ?"
		args = append(args, accountID)
	}
	query += " ORDER BY created_at DESC, id LIMIT ?"
	args = append(args, n)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list audit records: %w", err)
	}
	defer rows.Close()

	var out []quota.AuditRecord
	for rows.Next() {
		var rec quota.AuditRecord
		var detail sql.NullString
		var createdAt int64
		if err := rows.Scan(&rec.ID, &rec.Actor, &rec.Action, &rec.AccountID, &detail, &createdAt); err != nil {
			return nil, fmt.Errorf("failed to scan audit record: %w", err)
		}
		rec.Detail = detail.String
		rec.CreatedAt = time.Unix(createdAt, 0).UTC()
		out = append(out, rec)
	}
	return out, rows.Err()
}

// PruneCounters implements quota.Store. Daily period keys are ISO dates, so
// lexical comparison is time comparison; the lifetime sentinel is excluded
// explicitly.
func (s *SQLiteStore) PruneCounters(ctx context.Context, beforePeriodKey string) (int, error) {
	res, err := s.pruneStmt.ExecContext(ctx, beforePeriodKey, quota.LifetimePeriodKey)
	if err != nil {
		return 0, fmt.Errorf("failed to prune counters: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, err
	}
	return int(n), nil
}

// checkpointLoop periodically checkpoints the WAL to bound its size.
func (s *SQLiteStore) checkpointLoop() {
	ticker := time.NewTicker(s.checkpointInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			s.db.Exec("PRAGMA wal_checkpoint(TRUNCATE)")
		case <-s.done:
			return
		}
	}
}

// Close implements quota.Store.
func (s *SQLiteStore) Close() error {
	var err error
	s.closeOnce.Do(func() {
		close(s.done)
		for _, stmt := range []*sql.Stmt{
			s.incrementStmt, s.decrementStmt, s.countStmt, s.resetStmt,
			s.setOverrideStmt, s.getOverrideStmt, s.clearOverrideStmt,
			s.appendAuditStmt, s.pruneStmt,
		} {
			if stmt != nil {
				stmt.Close()
			}
		}
		err = s.db.Close()
	})
	return err
}
