package store

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
)

type Store struct {
	pool *pgxpool.Pool
}

func New(ctx context.Context, databaseURL string) (*Store, error) {
	pool, err := pgxpool.New(ctx, databaseURL)
	if err != nil {
		return nil, fmt.Errorf("connect to database: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}
	return &Store{pool: pool}, nil
}

func (s *Store) Close() {
	s.pool.Close()
}

// EnsureSchema creates the feedback table when it does not exist yet.
func (s *Store) EnsureSchema(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, `
		CREATE TABLE IF NOT EXISTS reply_feedback (
			id               UUID PRIMARY KEY,
			recorded_at      TIMESTAMPTZ NOT NULL,
			source_message   TEXT NOT NULL,
			context_messages TEXT[] NOT NULL DEFAULT '{}',
			candidates       TEXT[] NOT NULL DEFAULT '{}',
			chosen           TEXT NOT NULL,
			chosen_slot      INT NOT NULL,
			model            TEXT NOT NULL DEFAULT ''
		)`)
	if err != nil {
		return fmt.Errorf("create reply_feedback: %w", err)
	}
	return nil
}
