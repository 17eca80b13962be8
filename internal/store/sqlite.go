package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"modernc.org/sqlite"
	sqlite3 "modernc.org/sqlite/lib"

	"github.com/roomdoor/fan-out-call/internal/model"
)

const createRunsTable = `
CREATE TABLE IF NOT EXISTS runs (
    id                       INTEGER PRIMARY KEY AUTOINCREMENT,
    external_id              TEXT NOT NULL UNIQUE,
    borrower_id              TEXT NOT NULL,
    mode                     TEXT NOT NULL,
    requested_provider_count INTEGER NOT NULL,
    success_count            INTEGER NOT NULL DEFAULT 0,
    failure_count            INTEGER NOT NULL DEFAULT 0,
    status                   TEXT NOT NULL,
    failure_reason           TEXT NOT NULL DEFAULT '',
    started_at               DATETIME NOT NULL,
    finished_at              DATETIME
)`

const createCallResultsTable = `
CREATE TABLE IF NOT EXISTS call_results (
    id               INTEGER PRIMARY KEY AUTOINCREMENT,
    run_id           INTEGER NOT NULL REFERENCES runs(id),
    provider_code    TEXT NOT NULL,
    host             TEXT NOT NULL,
    url              TEXT NOT NULL,
    http_status      INTEGER,
    success          INTEGER NOT NULL,
    response_code    TEXT NOT NULL,
    response_message TEXT NOT NULL,
    approved_limit   INTEGER,
    latency_ms       INTEGER NOT NULL,
    error_detail     TEXT,
    request_payload  TEXT NOT NULL,
    response_payload TEXT NOT NULL,
    requested_at     DATETIME NOT NULL,
    responded_at     DATETIME NOT NULL,
    UNIQUE (run_id, provider_code)
)`

const (
	runColumns = `id, external_id, borrower_id, mode, requested_provider_count,
		success_count, failure_count, status, failure_reason, started_at, finished_at`

	callResultColumns = `id, run_id, provider_code, host, url, http_status, success,
		response_code, response_message, approved_limit, latency_ms, error_detail,
		request_payload, response_payload, requested_at, responded_at`
)

// Compile-time interface satisfaction check.
var _ Store = (*SQLiteStore)(nil)

// SQLiteStore implements Store using SQLite.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLiteStore opens the SQLite database at dbPath and runs migrations.
// An in-memory database is pinned to a single connection so every caller
// sees the same schema.
func NewSQLiteStore(dbPath string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	if dbPath == ":memory:" {
		db.SetMaxOpenConns(1)
	}

	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("set WAL mode: %w", err)
	}

	if _, err := db.Exec("PRAGMA busy_timeout = 5000"); err != nil {
		db.Close()
		return nil, fmt.Errorf("set busy timeout: %w", err)
	}

	if _, err := db.Exec(createRunsTable); err != nil {
		db.Close()
		return nil, fmt.Errorf("create runs table: %w", err)
	}

	if _, err := db.Exec(createCallResultsTable); err != nil {
		db.Close()
		return nil, fmt.Errorf("create call_results table: %w", err)
	}

	return &SQLiteStore{db: db}, nil
}

// Close closes the underlying database connection.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// Ping verifies the database is reachable.
func (s *SQLiteStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// CreateRun inserts a new run record and sets r.ID.
func (s *SQLiteStore) CreateRun(ctx context.Context, r *model.Run) error {
	res, err := s.db.ExecContext(ctx,
		`INSERT INTO runs (
			external_id, borrower_id, mode, requested_provider_count,
			success_count, failure_count, status, failure_reason, started_at, finished_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		r.ExternalID, r.BorrowerID, r.Mode, r.RequestedProviderCount,
		r.SuccessCount, r.FailureCount, string(r.Status), r.FailureReason, r.StartedAt, r.FinishedAt,
	)
	if err != nil {
		return fmt.Errorf("insert run: %w", classifySQLite(err))
	}

	id, err := res.LastInsertId()
	if err != nil {
		return fmt.Errorf("read run id: %w", err)
	}
	r.ID = id
	return nil
}

// GetRun retrieves a run by its numeric id.
func (s *SQLiteStore) GetRun(ctx context.Context, id int64) (*model.Run, error) {
	return s.scanRun(s.db.QueryRowContext(ctx,
		`SELECT `+runColumns+` FROM runs WHERE id = ?`, id))
}

// GetRunByExternalID retrieves a run by its external transaction id.
func (s *SQLiteStore) GetRunByExternalID(ctx context.Context, externalID string) (*model.Run, error) {
	return s.scanRun(s.db.QueryRowContext(ctx,
		`SELECT `+runColumns+` FROM runs WHERE external_id = ?`, externalID))
}

func (s *SQLiteStore) scanRun(row *sql.Row) (*model.Run, error) {
	r := &model.Run{}
	err := row.Scan(
		&r.ID, &r.ExternalID, &r.BorrowerID, &r.Mode, &r.RequestedProviderCount,
		&r.SuccessCount, &r.FailureCount, &r.Status, &r.FailureReason, &r.StartedAt, &r.FinishedAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get run: %w", classifySQLite(err))
	}
	return r, nil
}

// FinishRun writes the terminal state of a run. The update only applies to a
// run that is still in progress, so a run is finalized at most once.
func (s *SQLiteStore) FinishRun(ctx context.Context, f RunFinish) error {
	if !model.ValidTransition(model.StatusInProgress, f.Status) {
		return fmt.Errorf("%w: to %s", ErrInvalidTransition, f.Status)
	}

	result, err := s.db.ExecContext(ctx,
		`UPDATE runs SET status = ?, success_count = ?, failure_count = ?,
			failure_reason = ?, finished_at = ?
		WHERE id = ? AND status = ?`,
		string(f.Status), f.Counts.Success, f.Counts.Failure,
		f.FailureReason, f.FinishedAt.UTC(),
		f.RunID, string(model.StatusInProgress),
	)
	if err != nil {
		return fmt.Errorf("finish run: %w", classifySQLite(err))
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("check rows affected: %w", err)
	}
	if rowsAffected > 0 {
		return nil
	}

	current, err := s.GetRun(ctx, f.RunID)
	if err != nil {
		return err
	}
	return fmt.Errorf("%w: %s to %s", ErrInvalidTransition, current.Status, f.Status)
}

// InsertCallResult stores one call result and sets r.ID.
func (s *SQLiteStore) InsertCallResult(ctx context.Context, r *model.CallResult) error {
	res, err := s.db.ExecContext(ctx,
		`INSERT INTO call_results (
			run_id, provider_code, host, url, http_status, success,
			response_code, response_message, approved_limit, latency_ms, error_detail,
			request_payload, response_payload, requested_at, responded_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		r.RunID, r.ProviderCode, r.Host, r.URL, r.HTTPStatus, r.Success,
		r.ResponseCode, r.ResponseMessage, r.ApprovedLimit, r.LatencyMs, r.ErrorDetail,
		r.RequestPayload, r.ResponsePayload, r.RequestedAt.UTC(), r.RespondedAt.UTC(),
	)
	if err != nil {
		if isSQLiteUniqueViolation(err) {
			return fmt.Errorf("%w: run %d provider %s", ErrDuplicateResult, r.RunID, r.ProviderCode)
		}
		return fmt.Errorf("insert call result: %w", classifySQLite(err))
	}

	id, err := res.LastInsertId()
	if err != nil {
		return fmt.Errorf("read call result id: %w", err)
	}
	r.ID = id
	return nil
}

// CountCallResults returns the success and failure counts of the stored
// results for a run.
func (s *SQLiteStore) CountCallResults(ctx context.Context, runID int64) (model.ResultCounts, error) {
	var c model.ResultCounts
	err := s.db.QueryRowContext(ctx,
		`SELECT COALESCE(SUM(CASE WHEN success THEN 1 ELSE 0 END), 0),
			COALESCE(SUM(CASE WHEN success THEN 0 ELSE 1 END), 0)
		FROM call_results WHERE run_id = ?`, runID,
	).Scan(&c.Success, &c.Failure)
	if err != nil {
		return model.ResultCounts{}, fmt.Errorf("count call results: %w", classifySQLite(err))
	}
	return c, nil
}

// ListCallResults returns the stored results of a run in insertion order.
func (s *SQLiteStore) ListCallResults(ctx context.Context, runID int64) ([]*model.CallResult, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+callResultColumns+` FROM call_results WHERE run_id = ? ORDER BY id`, runID)
	if err != nil {
		return nil, fmt.Errorf("list call results: %w", classifySQLite(err))
	}
	defer rows.Close()

	var results []*model.CallResult
	for rows.Next() {
		r := &model.CallResult{}
		if err := rows.Scan(
			&r.ID, &r.RunID, &r.ProviderCode, &r.Host, &r.URL, &r.HTTPStatus, &r.Success,
			&r.ResponseCode, &r.ResponseMessage, &r.ApprovedLimit, &r.LatencyMs, &r.ErrorDetail,
			&r.RequestPayload, &r.ResponsePayload, &r.RequestedAt, &r.RespondedAt,
		); err != nil {
			return nil, fmt.Errorf("scan call result: %w", err)
		}
		results = append(results, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate call results: %w", err)
	}
	return results, nil
}

// GetRunStats computes aggregate statistics in a single read transaction.
func (s *SQLiteStore) GetRunStats(ctx context.Context) (*RunStats, error) {
	tx, err := s.db.BeginTx(ctx, &sql.TxOptions{ReadOnly: true})
	if err != nil {
		return nil, fmt.Errorf("begin read tx: %w", err)
	}
	defer tx.Rollback()

	stats := &RunStats{
		CountByStatus: make(map[string]int),
		CountByMode:   make(map[string]int),
	}

	for _, group := range []struct {
		column string
		into   map[string]int
	}{
		{"status", stats.CountByStatus},
		{"mode", stats.CountByMode},
	} {
		if err := countGrouped(ctx, tx, group.column, group.into); err != nil {
			return nil, err
		}
	}
	for _, n := range stats.CountByStatus {
		stats.Total += n
	}

	// Timestamps are stored in the driver's text format, so elapsed time is averaged in Go.
	rows, err := tx.QueryContext(ctx,
		`SELECT started_at, finished_at FROM runs WHERE finished_at IS NOT NULL`)
	if err != nil {
		return nil, fmt.Errorf("query finished runs: %w", err)
	}
	var totalElapsed time.Duration
	var finished int
	for rows.Next() {
		var started, done time.Time
		if err := rows.Scan(&started, &done); err != nil {
			rows.Close()
			return nil, fmt.Errorf("scan finished run: %w", err)
		}
		totalElapsed += done.Sub(started)
		finished++
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate finished runs: %w", err)
	}
	if finished > 0 {
		stats.AvgElapsedMS = float64(totalElapsed.Milliseconds()) / float64(finished)
	}

	var successes int
	if err := tx.QueryRowContext(ctx,
		`SELECT COUNT(*), COALESCE(SUM(CASE WHEN success THEN 1 ELSE 0 END), 0) FROM call_results`,
	).Scan(&stats.ProviderCalls, &successes); err != nil {
		return nil, fmt.Errorf("count provider calls: %w", err)
	}
	if stats.ProviderCalls > 0 {
		stats.ProviderSuccessRatio = float64(successes) / float64(stats.ProviderCalls)
	}

	return stats, nil
}

// countGrouped fills into with row counts grouped by column. column is
// always one of a fixed set of identifiers, never user input.
func countGrouped(ctx context.Context, tx *sql.Tx, column string, into map[string]int) error {
	rows, err := tx.QueryContext(ctx, "SELECT "+column+", COUNT(*) FROM runs GROUP BY "+column)
	if err != nil {
		return fmt.Errorf("count by %s: %w", column, err)
	}
	defer rows.Close()

	for rows.Next() {
		var key string
		var n int
		if err := rows.Scan(&key, &n); err != nil {
			return fmt.Errorf("scan %s count: %w", column, err)
		}
		into[key] = n
	}
	return rows.Err()
}

// classifySQLite wraps lock contention errors with ErrTransient.
func classifySQLite(err error) error {
	var se *sqlite.Error
	if errors.As(err, &se) {
		switch se.Code() & 0xff {
		case sqlite3.SQLITE_BUSY, sqlite3.SQLITE_LOCKED:
			return fmt.Errorf("%w: %w", ErrTransient, err)
		}
	}
	return err
}

func isSQLiteUniqueViolation(err error) bool {
	var se *sqlite.Error
	if !errors.As(err, &se) {
		return false
	}
	return se.Code() == sqlite3.SQLITE_CONSTRAINT_UNIQUE || se.Code() == sqlite3.SQLITE_CONSTRAINT_PRIMARYKEY
}
