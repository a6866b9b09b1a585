// Package postgres provides a PostgreSQL-backed [sessionlog.Store].
//
// Usage:
//
//	store, err := postgres.NewStore(ctx, dsn)
//	if err != nil { … }
//	defer store.Close()
//	_ = store.Save(ctx, rec)
package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/hugochiquito/clementine/internal/sessionlog"
)

var (
	_ sessionlog.Store  = (*Store)(nil)
	_ sessionlog.Pinger = (*Store)(nil)
)

const ddlSessions = `
CREATE TABLE IF NOT EXISTS endpoint_sessions (
    id                      TEXT             PRIMARY KEY,
    started_at              TIMESTAMPTZ      NOT NULL,
    ended_at                TIMESTAMPTZ      NOT NULL,
    sample_rate             INTEGER          NOT NULL,
    channels                INTEGER          NOT NULL,
    encoding                TEXT             NOT NULL DEFAULT '',
    outcome                 TEXT             NOT NULL,
    elapsed_ms              BIGINT           NOT NULL DEFAULT 0,
    speech_ms               BIGINT           NOT NULL DEFAULT 0,
    possibly_complete_at_ms BIGINT           NOT NULL DEFAULT -1,
    complete_at_ms          BIGINT           NOT NULL DEFAULT -1,
    frames                  BIGINT           NOT NULL DEFAULT 0,
    false_starts            INTEGER          NOT NULL DEFAULT 0,
    noise_level_db          DOUBLE PRECISION NOT NULL DEFAULT 0,
    error                   TEXT             NOT NULL DEFAULT ''
);

CREATE INDEX IF NOT EXISTS idx_endpoint_sessions_ended_at
    ON endpoint_sessions (ended_at DESC);

CREATE INDEX IF NOT EXISTS idx_endpoint_sessions_outcome
    ON endpoint_sessions (outcome);
`

// Migrate creates the session table and its indexes if they do not exist.
func Migrate(ctx context.Context, pool *pgxpool.Pool) error {
	if _, err := pool.Exec(ctx, ddlSessions); err != nil {
		return fmt.Errorf("postgres migrate: %w", err)
	}
	return nil
}

// Store keeps session records in the endpoint_sessions table. All methods
// are safe for concurrent use.
type Store struct {
	pool *pgxpool.Pool
}

// NewStore connects to dsn, verifies the connection and runs [Migrate].
func NewStore(ctx context.Context, dsn string) (*Store, error) {
	cfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("sessionlog postgres: parse dsn: %w", err)
	}
	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("sessionlog postgres: create pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("sessionlog postgres: ping: %w", err)
	}
	if err := Migrate(ctx, pool); err != nil {
		pool.Close()
		return nil, fmt.Errorf("sessionlog postgres: %w", err)
	}
	return &Store{pool: pool}, nil
}

// Save implements [sessionlog.Store]. Saving an existing ID replaces it.
func (s *Store) Save(ctx context.Context, rec sessionlog.Record) error {
	const q = `
		INSERT INTO endpoint_sessions
		    (id, started_at, ended_at, sample_rate, channels, encoding, outcome,
		     elapsed_ms, speech_ms, possibly_complete_at_ms, complete_at_ms,
		     frames, false_starts, noise_level_db, error)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15)
		ON CONFLICT (id) DO UPDATE SET
		    ended_at                = EXCLUDED.ended_at,
		    outcome                 = EXCLUDED.outcome,
		    elapsed_ms              = EXCLUDED.elapsed_ms,
		    speech_ms               = EXCLUDED.speech_ms,
		    possibly_complete_at_ms = EXCLUDED.possibly_complete_at_ms,
		    complete_at_ms          = EXCLUDED.complete_at_ms,
		    frames                  = EXCLUDED.frames,
		    false_starts            = EXCLUDED.false_starts,
		    noise_level_db          = EXCLUDED.noise_level_db,
		    error                   = EXCLUDED.error`

	_, err := s.pool.Exec(ctx, q,
		rec.ID,
		rec.StartedAt,
		rec.EndedAt,
		rec.SampleRate,
		rec.Channels,
		rec.Encoding,
		rec.Outcome,
		rec.ElapsedMS,
		rec.SpeechMS,
		rec.PossiblyCompleteAtMS,
		rec.CompleteAtMS,
		rec.Frames,
		rec.FalseStarts,
		rec.NoiseLevelDB,
		rec.Error,
	)
	if err != nil {
		return fmt.Errorf("sessionlog postgres: save: %w", err)
	}
	return nil
}

// Recent implements [sessionlog.Store].
func (s *Store) Recent(ctx context.Context, limit int) ([]sessionlog.Record, error) {
	q := `
		SELECT id, started_at, ended_at, sample_rate, channels, encoding, outcome,
		       elapsed_ms, speech_ms, possibly_complete_at_ms, complete_at_ms,
		       frames, false_starts, noise_level_db, error
		FROM   endpoint_sessions
		ORDER  BY ended_at DESC`
	var args []any
	if limit > 0 {
		q += "\nLIMIT $1"
		args = append(args, limit)
	}

	rows, err := s.pool.Query(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("sessionlog postgres: recent: %w", err)
	}
	recs, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (sessionlog.Record, error) {
		var r sessionlog.Record
		err := row.Scan(
			&r.ID, &r.StartedAt, &r.EndedAt, &r.SampleRate, &r.Channels, &r.Encoding, &r.Outcome,
			&r.ElapsedMS, &r.SpeechMS, &r.PossiblyCompleteAtMS, &r.CompleteAtMS,
			&r.Frames, &r.FalseStarts, &r.NoiseLevelDB, &r.Error,
		)
		return r, err
	})
	if err != nil {
		return nil, fmt.Errorf("sessionlog postgres: scan rows: %w", err)
	}
	if recs == nil {
		recs = []sessionlog.Record{}
	}
	return recs, nil
}

// Prune deletes records that ended more than olderThan ago and returns how
// many were removed.
func (s *Store) Prune(ctx context.Context, olderThan time.Duration) (int64, error) {
	tag, err := s.pool.Exec(ctx,
		`DELETE FROM endpoint_sessions WHERE ended_at < now() - ($1::bigint * interval '1 microsecond')`,
		olderThan.Microseconds(),
	)
	if err != nil {
		return 0, fmt.Errorf("sessionlog postgres: prune: %w", err)
	}
	return tag.RowsAffected(), nil
}

// Ping implements [sessionlog.Pinger].
func (s *Store) Ping(ctx context.Context) error {
	return s.pool.Ping(ctx)
}

// Close implements [sessionlog.Store].
func (s *Store) Close() error {
	s.pool.Close()
	return nil
}
