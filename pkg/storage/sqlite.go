package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	_ "modernc.org/sqlite" // SQLite driver

	"brightreel-ai/reelgate/pkg/generation"
)

// SQLiteBackend implements Backend using SQLite for persistence.
// It is suitable for single-instance deployments where ledger rows and job
// records must survive restarts.
//
// The database is opened in WAL mode for better concurrent read
// performance, and all hot-path queries use prepared statements.
type SQLiteBackend struct {
	db        *sql.DB
	closeOnce sync.Once

	appendStmt     *sql.Stmt
	sumStmt        *sql.Stmt
	pruneSpendStmt *sql.Stmt
	saveJobStmt    *sql.Stmt
	getJobStmt     *sql.Stmt
	listJobsStmt   *sql.Stmt
	deleteJobsStmt *sql.Stmt
}

// SQLiteBackendConfig configures the SQLite backend.
type SQLiteBackendConfig struct {
	// DBPath is the path to the SQLite database file.
	DBPath string

	// BusyTimeout is how long to wait for locks before failing.
	// Default: 5 seconds
	BusyTimeout time.Duration
}

const schema = `
CREATE TABLE IF NOT EXISTS spend_ledger (
	id          INTEGER PRIMARY KEY AUTOINCREMENT,
	principal   TEXT    NOT NULL,
	amount_usd  REAL    NOT NULL,
	created_at  INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_spend_principal_time
	ON spend_ledger(principal, created_at);

CREATE TABLE IF NOT EXISTS jobs (
	id               TEXT PRIMARY KEY,
	principal        TEXT    NOT NULL,
	status           TEXT    NOT NULL,
	input_spec       TEXT    NOT NULL,
	operation_handle TEXT    NOT NULL DEFAULT '',
	retry_count      INTEGER NOT NULL DEFAULT 0,
	error_message    TEXT    NOT NULL DEFAULT '',
	output_metadata  TEXT,
	started_at       INTEGER NOT NULL,
	completed_at     INTEGER
);
CREATE INDEX IF NOT EXISTS idx_jobs_principal ON jobs(principal);
CREATE INDEX IF NOT EXISTS idx_jobs_completed ON jobs(status, completed_at);
`

// NewSQLiteBackend creates a new SQLite storage backend with default
// settings.
func NewSQLiteBackend(dbPath string) (*SQLiteBackend, error) {
	return NewSQLiteBackendWithConfig(SQLiteBackendConfig{DBPath: dbPath})
}

// NewSQLiteBackendWithConfig creates a new SQLite backend with custom
// configuration.
func NewSQLiteBackendWithConfig(cfg SQLiteBackendConfig) (*SQLiteBackend, error) {
	if cfg.DBPath == "" {
		return nil, fmt.Errorf("db path cannot be empty")
	}
	if cfg.BusyTimeout == 0 {
		cfg.BusyTimeout = 5 * time.Second
	}

	dsn := fmt.Sprintf("%s?_journal_mode=WAL&_busy_timeout=%d&_synchronous=NORMAL",
		cfg.DBPath, int(cfg.BusyTimeout.Milliseconds()))

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}

	b := &SQLiteBackend{db: db}
	if err := b.prepareStatements(); err != nil {
		db.Close()
		return nil, err
	}
	return b, nil
}

func (b *SQLiteBackend) prepareStatements() error {
	var err error

	b.appendStmt, err = b.db.Prepare(
		`INSERT INTO spend_ledger (principal, amount_usd, created_at) VALUES (?, ?, ?)`)
	if err != nil {
		return fmt.Errorf("failed to prepare append statement: %w", err)
	}

	b.sumStmt, err = b.db.Prepare(
		`SELECT COALESCE(SUM(amount_usd), 0) FROM spend_ledger WHERE principal = ? AND created_at >= ?`)
	if err != nil {
		return fmt.Errorf("failed to prepare sum statement: %w", err)
	}

	b.pruneSpendStmt, err = b.db.Prepare(
		`DELETE FROM spend_ledger WHERE created_at < ?`)
	if err != nil {
		return fmt.Errorf("failed to prepare prune statement: %w", err)
	}

	b.saveJobStmt, err = b.db.Prepare(
		`INSERT OR REPLACE INTO jobs
		 (id, principal, status, input_spec, operation_handle, retry_count, error_message, output_metadata, started_at, completed_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return fmt.Errorf("failed to prepare save job statement: %w", err)
	}

	b.getJobStmt, err = b.db.Prepare(
		`SELECT id, principal, status, input_spec, operation_handle, retry_count, error_message, output_metadata, started_at, completed_at
		 FROM jobs WHERE id = ?`)
	if err != nil {
		return fmt.Errorf("failed to prepare get job statement: %w", err)
	}

	b.listJobsStmt, err = b.db.Prepare(
		`SELECT id, principal, status, input_spec, operation_handle, retry_count, error_message, output_metadata, started_at, completed_at
		 FROM jobs WHERE principal = ? ORDER BY started_at DESC`)
	if err != nil {
		return fmt.Errorf("failed to prepare list jobs statement: %w", err)
	}

	b.deleteJobsStmt, err = b.db.Prepare(
		`DELETE FROM jobs WHERE status IN ('completed', 'failed') AND completed_at IS NOT NULL AND completed_at < ?`)
	if err != nil {
		return fmt.Errorf("failed to prepare delete jobs statement: %w", err)
	}

	return nil
}

// AppendSpend appends one ledger row.
func (b *SQLiteBackend) AppendSpend(ctx context.Context, entry SpendEntry) error {
	if entry.Principal == "" {
		return fmt.Errorf("principal cannot be empty")
	}
	if entry.Timestamp.IsZero() {
		entry.Timestamp = time.Now()
	}

	_, err := b.appendStmt.ExecContext(ctx, entry.Principal, entry.AmountUSD, entry.Timestamp.UnixNano())
	if err != nil {
		return fmt.Errorf("failed to append spend entry: %w", err)
	}
	return nil
}

// SumSpendSince returns the total spend for a principal since the given
// time.
func (b *SQLiteBackend) SumSpendSince(ctx context.Context, principal string, since time.Time) (float64, error) {
	var total float64
	err := b.sumStmt.QueryRowContext(ctx, principal, since.UnixNano()).Scan(&total)
	if err != nil {
		return 0, fmt.Errorf("failed to sum spend: %w", err)
	}
	return total, nil
}

// PruneSpendBefore deletes ledger rows older than the cutoff.
func (b *SQLiteBackend) PruneSpendBefore(ctx context.Context, cutoff time.Time) (int, error) {
	res, err := b.pruneSpendStmt.ExecContext(ctx, cutoff.UnixNano())
	if err != nil {
		return 0, fmt.Errorf("failed to prune spend ledger: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, err
	}
	return int(n), nil
}

// SaveJob inserts or replaces a job record (last write wins).
func (b *SQLiteBackend) SaveJob(ctx context.Context, job *generation.Job) error {
	if job == nil {
		return fmt.Errorf("job cannot be nil")
	}
	if job.ID == "" {
		return fmt.Errorf("job id cannot be empty")
	}

	specJSON, err := json.Marshal(job.InputSpec)
	if err != nil {
		return fmt.Errorf("failed to serialize input spec: %w", err)
	}

	var metaJSON sql.NullString
	if job.OutputMetadata != nil {
		data, err := json.Marshal(job.OutputMetadata)
		if err != nil {
			return fmt.Errorf("failed to serialize output metadata: %w", err)
		}
		metaJSON = sql.NullString{String: string(data), Valid: true}
	}

	var completedAt sql.NullInt64
	if !job.CompletedAt.IsZero() {
		completedAt = sql.NullInt64{Int64: job.CompletedAt.UnixNano(), Valid: true}
	}

	_, err = b.saveJobStmt.ExecContext(ctx,
		job.ID,
		job.Principal,
		string(job.Status),
		string(specJSON),
		job.OperationHandle,
		job.RetryCount,
		job.ErrorMessage,
		metaJSON,
		job.StartedAt.UnixNano(),
		completedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to save job: %w", err)
	}
	return nil
}

// GetJob returns the job record, or (nil, nil) if absent.
func (b *SQLiteBackend) GetJob(ctx context.Context, id string) (*generation.Job, error) {
	row := b.getJobStmt.QueryRowContext(ctx, id)
	job, err := scanJob(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load job: %w", err)
	}
	return job, nil
}

// ListJobs returns all job records for a principal, newest first.
func (b *SQLiteBackend) ListJobs(ctx context.Context, principal string) ([]*generation.Job, error) {
	rows, err := b.listJobsStmt.QueryContext(ctx, principal)
	if err != nil {
		return nil, fmt.Errorf("failed to list jobs: %w", err)
	}
	defer rows.Close()

	var jobs []*generation.Job
	for rows.Next() {
		job, err := scanJob(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan job: %w", err)
		}
		jobs = append(jobs, job)
	}
	return jobs, rows.Err()
}

// DeleteTerminalJobsBefore deletes terminal jobs completed before the
// cutoff.
func (b *SQLiteBackend) DeleteTerminalJobsBefore(ctx context.Context, cutoff time.Time) (int, error) {
	res, err := b.deleteJobsStmt.ExecContext(ctx, cutoff.UnixNano())
	if err != nil {
		return 0, fmt.Errorf("failed to delete terminal jobs: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, err
	}
	return int(n), nil
}

// Close releases the database handle and prepared statements.
func (b *SQLiteBackend) Close() error {
	var err error
	b.closeOnce.Do(func() {
		for _, stmt := range []*sql.Stmt{
			b.appendStmt, b.sumStmt, b.pruneSpendStmt,
			b.saveJobStmt, b.getJobStmt, b.listJobsStmt, b.deleteJobsStmt,
		} {
			if stmt != nil {
				stmt.Close()
			}
		}
		err = b.db.Close()
	})
	return err
}

// scanner abstracts *sql.Row and *sql.Rows for scanJob.
type scanner interface {
	Scan(dest ...any) error
}

func scanJob(s scanner) (*generation.Job, error) {
	var (
		job         generation.Job
		status      string
		specJSON    string
		metaJSON    sql.NullString
		startedAt   int64
		completedAt sql.NullInt64
	)

	err := s.Scan(
		&job.ID,
		&job.Principal,
		&status,
		&specJSON,
		&job.OperationHandle,
		&job.RetryCount,
		&job.ErrorMessage,
		&metaJSON,
		&startedAt,
		&completedAt,
	)
	if err != nil {
		return nil, err
	}

	job.Status = generation.Status(status)
	if err := json.Unmarshal([]byte(specJSON), &job.InputSpec); err != nil {
		return nil, fmt.Errorf("failed to deserialize input spec: %w", err)
	}
	if metaJSON.Valid {
		if err := json.Unmarshal([]byte(metaJSON.String), &job.OutputMetadata); err != nil {
			return nil, fmt.Errorf("failed to deserialize output metadata: %w", err)
		}
	}
	job.StartedAt = time.Unix(0, startedAt)
	if completedAt.Valid {
		job.CompletedAt = time.Unix(0, completedAt.Int64)
	}

	return &job, nil
}
