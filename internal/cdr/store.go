// Package cdr writes call-detail records to PostgreSQL.
//
// One row is inserted per call at cleanup time, capturing who called, how
// long the call lasted, how many turns were exchanged and why the call
// ended. Recording is best-effort and never disturbs call teardown.
package cdr

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
)

const schema = `
CREATE TABLE IF NOT EXISTS call_records (
	id            BIGSERIAL PRIMARY KEY,
	call_id       TEXT        NOT NULL,
	caller_name   TEXT        NOT NULL DEFAULT '',
	caller_number TEXT        NOT NULL DEFAULT '',
	started_at    TIMESTAMPTZ NOT NULL,
	ended_at      TIMESTAMPTZ NOT NULL,
	duration_ms   BIGINT      NOT NULL,
	turns         INT         NOT NULL,
	dtmf_result   TEXT        NOT NULL DEFAULT '',
	end_reason    TEXT        NOT NULL DEFAULT ''
);
CREATE INDEX IF NOT EXISTS call_records_call_id_idx ON call_records (call_id);
`

// Record is one finished call.
type Record struct {
	CallID       string
	CallerName   string
	CallerNumber string
	StartedAt    time.Time
	EndedAt      time.Time
	Turns        int
	DTMFResult   string
	EndReason    string
}

// Store persists call records. A nil Store is valid and discards records.
type Store struct {
	log  *slog.Logger
	pool *pgxpool.Pool
}

// NewStore connects to PostgreSQL and ensures the schema exists.
func NewStore(ctx context.Context, log *slog.Logger, dsn string) (*Store, error) {
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, fmt.Errorf("cdr: connect: %w", err)
	}
	if _, err := pool.Exec(ctx, schema); err != nil {
		pool.Close()
		return nil, fmt.Errorf("cdr: ensure schema: %w", err)
	}
	return &Store{log: log, pool: pool}, nil
}

// Write inserts one call record. Failures are logged and swallowed.
func (s *Store) Write(ctx context.Context, r Record) {
	if s == nil {
		return
	}

	const q = `INSERT INTO call_records
		(call_id, caller_name, caller_number, started_at, ended_at, duration_ms, turns, dtmf_result, end_reason)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`

	durationMS := r.EndedAt.Sub(r.StartedAt).Milliseconds()
	_, err := s.pool.Exec(ctx, q,
		r.CallID, r.CallerName, r.CallerNumber,
		r.StartedAt, r.EndedAt, durationMS,
		r.Turns, r.DTMFResult, r.EndReason,
	)
	if err != nil {
		s.log.Warn("cdr write failed", "call_id", r.CallID, "error", err)
	}
}

// Ping verifies database connectivity.
func (s *Store) Ping(ctx context.Context) error {
	if s == nil {
		return nil
	}
	return s.pool.Ping(ctx)
}

// Close releases the connection pool.
func (s *Store) Close() {
	if s != nil {
		s.pool.Close()
	}
}
