package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/roomdoor/fan-out-call/internal/model"
)

var postgresSchema = []string{
	`CREATE TABLE IF NOT EXISTS runs (
		id                       BIGSERIAL PRIMARY KEY,
		external_id              TEXT NOT NULL UNIQUE,
		borrower_id              TEXT NOT NULL,
		mode                     TEXT NOT NULL,
		requested_provider_count INTEGER NOT NULL,
		success_count            INTEGER NOT NULL DEFAULT 0,
		failure_count            INTEGER NOT NULL DEFAULT 0,
		status                   TEXT NOT NULL,
		failure_reason           TEXT NOT NULL DEFAULT '',
		started_at               TIMESTAMPTZ NOT NULL,
		finished_at              TIMESTAMPTZ
	)`,
	`CREATE TABLE IF NOT EXISTS call_results (
		id               BIGSERIAL PRIMARY KEY,
		run_id           BIGINT NOT NULL REFERENCES runs(id),
		provider_code    TEXT NOT NULL,
		host             TEXT NOT NULL,
		url              TEXT NOT NULL,
		http_status      INTEGER,
		success          BOOLEAN NOT NULL,
		response_code    TEXT NOT NULL,
		response_message TEXT NOT NULL,
		approved_limit   BIGINT,
		latency_ms       BIGINT NOT NULL,
		error_detail     TEXT,
		request_payload  TEXT NOT NULL,
		response_payload TEXT NOT NULL,
		requested_at     TIMESTAMPTZ NOT NULL,
		responded_at     TIMESTAMPTZ NOT NULL,
		UNIQUE (run_id, provider_code)
	)`,
}

// SQLSTATE codes worth retrying.
var transientPgCodes = map[string]bool{
	"40001": true, // serialization_failure
	"40P01": true, // deadlock_detected
	"55P03": true, // lock_not_available
	"57P01": true, // admin_shutdown
	"53300": true, // too_many_connections
}

const pgUniqueViolation = "23505"

// Compile-time interface satisfaction check.
var _ Store = (*PostgresStore)(nil)

// PostgresStore implements Store on a pgx connection pool.
type PostgresStore struct {
	pool *pgxpool.Pool
}

// NewPool opens a pgx pool for dsn and verifies connectivity.
func NewPool(ctx context.Context, dsn string) (*pgxpool.Pool, error) {
	cfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("parse dsn: %w", err)
	}
	cfg.MaxConns = 20
	cfg.HealthCheckPeriod = 30 * time.Second

	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("new pool: %w", err)
	}

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := pool.Ping(pingCtx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping db: %w", err)
	}
	return pool, nil
}

// NewPostgresStore wraps pool and ensures the schema exists.
func NewPostgresStore(ctx context.Context, pool *pgxpool.Pool) (*PostgresStore, error) {
	for _, ddl := range postgresSchema {
		if _, err := pool.Exec(ctx, ddl); err != nil {
			return nil, fmt.Errorf("create schema: %w", err)
		}
	}
	return &PostgresStore{pool: pool}, nil
}

// Close closes the connection pool.
func (s *PostgresStore) Close() error {
	s.pool.Close()
	return nil
}

// Ping verifies the database is reachable.
func (s *PostgresStore) Ping(ctx context.Context) error {
	return s.pool.Ping(ctx)
}

// CreateRun inserts a new run record and sets r.ID.
func (s *PostgresStore) CreateRun(ctx context.Context, r *model.Run) error {
	query := `
		INSERT INTO runs (external_id, borrower_id, mode, requested_provider_count,
			success_count, failure_count, status, failure_reason, started_at, finished_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		RETURNING id
	`
	err := s.pool.QueryRow(ctx, query,
		r.ExternalID, r.BorrowerID, r.Mode, r.RequestedProviderCount,
		r.SuccessCount, r.FailureCount, string(r.Status), r.FailureReason, r.StartedAt, r.FinishedAt,
	).Scan(&r.ID)
	if err != nil {
		return fmt.Errorf("insert run: %w", classifyPostgres(err))
	}
	return nil
}

// GetRun retrieves a run by its numeric id.
func (s *PostgresStore) GetRun(ctx context.Context, id int64) (*model.Run, error) {
	return scanPgRun(s.pool.QueryRow(ctx, `SELECT `+runColumns+` FROM runs WHERE id = $1`, id))
}

// GetRunByExternalID retrieves a run by its external transaction id.
func (s *PostgresStore) GetRunByExternalID(ctx context.Context, externalID string) (*model.Run, error) {
	return scanPgRun(s.pool.QueryRow(ctx, `SELECT `+runColumns+` FROM runs WHERE external_id = $1`, externalID))
}

func scanPgRun(row pgx.Row) (*model.Run, error) {
	r := &model.Run{}
	var status string
	err := row.Scan(
		&r.ID, &r.ExternalID, &r.BorrowerID, &r.Mode, &r.RequestedProviderCount,
		&r.SuccessCount, &r.FailureCount, &status, &r.FailureReason, &r.StartedAt, &r.FinishedAt,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get run: %w", classifyPostgres(err))
	}
	r.Status = model.RunStatus(status)
	return r, nil
}

// FinishRun writes the terminal state of a run that is still in progress.
func (s *PostgresStore) FinishRun(ctx context.Context, f RunFinish) error {
	if !model.ValidTransition(model.StatusInProgress, f.Status) {
		return fmt.Errorf("%w: to %s", ErrInvalidTransition, f.Status)
	}

	query := `
		UPDATE runs
		SET status = $2, success_count = $3, failure_count = $4, failure_reason = $5, finished_at = $6
		WHERE id = $1 AND status = $7
	`
	tag, err := s.pool.Exec(ctx, query,
		f.RunID, string(f.Status), f.Counts.Success, f.Counts.Failure, f.FailureReason, f.FinishedAt.UTC(),
		string(model.StatusInProgress),
	)
	if err != nil {
		return fmt.Errorf("finish run: %w", classifyPostgres(err))
	}
	if tag.RowsAffected() > 0 {
		return nil
	}

	current, err := s.GetRun(ctx, f.RunID)
	if err != nil {
		return err
	}
	return fmt.Errorf("%w: %s to %s", ErrInvalidTransition, current.Status, f.Status)
}

// InsertCallResult stores one call result and sets r.ID.
func (s *PostgresStore) InsertCallResult(ctx context.Context, r *model.CallResult) error {
	query := `
		INSERT INTO call_results (run_id, provider_code, host, url, http_status, success,
			response_code, response_message, approved_limit, latency_ms, error_detail,
			request_payload, response_payload, requested_at, responded_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15)
		RETURNING id
	`
	err := s.pool.QueryRow(ctx, query,
		r.RunID, r.ProviderCode, r.Host, r.URL, r.HTTPStatus, r.Success,
		r.ResponseCode, r.ResponseMessage, r.ApprovedLimit, r.LatencyMs, r.ErrorDetail,
		r.RequestPayload, r.ResponsePayload, r.RequestedAt, r.RespondedAt,
	).Scan(&r.ID)
	if err != nil {
		if isPgUniqueViolation(err) {
			return fmt.Errorf("%w: run %d provider %s", ErrDuplicateResult, r.RunID, r.ProviderCode)
		}
		return fmt.Errorf("insert call result: %w", classifyPostgres(err))
	}
	return nil
}

// CountCallResults returns the success and failure counts of the stored
// results for a run.
func (s *PostgresStore) CountCallResults(ctx context.Context, runID int64) (model.ResultCounts, error) {
	var c model.ResultCounts
	err := s.pool.QueryRow(ctx, `
		SELECT COUNT(*) FILTER (WHERE success), COUNT(*) FILTER (WHERE NOT success)
		FROM call_results WHERE run_id = $1
	`, runID).Scan(&c.Success, &c.Failure)
	if err != nil {
		return model.ResultCounts{}, fmt.Errorf("count call results: %w", classifyPostgres(err))
	}
	return c, nil
}

// ListCallResults returns the stored results of a run in insertion order.
func (s *PostgresStore) ListCallResults(ctx context.Context, runID int64) ([]*model.CallResult, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT `+callResultColumns+` FROM call_results WHERE run_id = $1 ORDER BY id`, runID)
	if err != nil {
		return nil, fmt.Errorf("list call results: %w", classifyPostgres(err))
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
	return results, rows.Err()
}

// GetRunStats computes aggregate statistics across all runs.
func (s *PostgresStore) GetRunStats(ctx context.Context) (*RunStats, error) {
	stats := &RunStats{
		CountByStatus: make(map[string]int),
		CountByMode:   make(map[string]int),
	}

	rows, err := s.pool.Query(ctx, `SELECT status, mode, COUNT(*) FROM runs GROUP BY status, mode`)
	if err != nil {
		return nil, fmt.Errorf("count runs: %w", classifyPostgres(err))
	}
	for rows.Next() {
		var status, mode string
		var n int
		if err := rows.Scan(&status, &mode, &n); err != nil {
			rows.Close()
			return nil, fmt.Errorf("scan run count: %w", err)
		}
		stats.CountByStatus[status] += n
		stats.CountByMode[mode] += n
		stats.Total += n
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate run counts: %w", err)
	}

	err = s.pool.QueryRow(ctx, `
		SELECT COALESCE(AVG(EXTRACT(EPOCH FROM (finished_at - started_at)) * 1000), 0)::float8
		FROM runs WHERE finished_at IS NOT NULL
	`).Scan(&stats.AvgElapsedMS)
	if err != nil {
		return nil, fmt.Errorf("average elapsed: %w", classifyPostgres(err))
	}

	var successes int
	err = s.pool.QueryRow(ctx,
		`SELECT COUNT(*), COUNT(*) FILTER (WHERE success) FROM call_results`,
	).Scan(&stats.ProviderCalls, &successes)
	if err != nil {
		return nil, fmt.Errorf("count provider calls: %w", classifyPostgres(err))
	}
	if stats.ProviderCalls > 0 {
		stats.ProviderSuccessRatio = float64(successes) / float64(stats.ProviderCalls)
	}

	return stats, nil
}

// classifyPostgres wraps retryable server and connection errors with ErrTransient.
func classifyPostgres(err error) error {
	if isPgTransient(err) {
		return fmt.Errorf("%w: %w", ErrTransient, err)
	}
	return err
}

func isPgTransient(err error) bool {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		// Class 08: connection exception.
		return transientPgCodes[pgErr.Code] || len(pgErr.Code) == 5 && pgErr.Code[:2] == "08"
	}
	return pgconn.SafeToRetry(err) || pgconn.Timeout(err)
}

func isPgUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == pgUniqueViolation
	}
	return false
}
