package store

import (
	"context"
	"fmt"

	"github.com/google/uuid"

	"github.com/MikeSquared-Agency/quill/internal/feedback"
)

// Append implements feedback.Sink.
func (s *Store) Append(ctx context.Context, rec feedback.Record) error {
	_, err := s.WriteFeedback(ctx, rec)
	return err
}

// WriteFeedback inserts one preference record and returns its row id.
func (s *Store) WriteFeedback(ctx context.Context, rec feedback.Record) (uuid.UUID, error) {
	id := uuid.New()
	_, err := s.pool.Exec(ctx, `
		INSERT INTO reply_feedback (id, recorded_at, source_message, context_messages, candidates, chosen, chosen_slot, model)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
		id, rec.Timestamp, rec.SourceMessage, nonNil(rec.ContextMessages), nonNil(rec.Candidates), rec.Chosen, rec.ChosenSlot(), rec.Model,
	)
	if err != nil {
		return uuid.Nil, fmt.Errorf("insert feedback: %w", err)
	}
	return id, nil
}

// GetFeedbackByID fetches a stored record.
func (s *Store) GetFeedbackByID(ctx context.Context, id uuid.UUID) (*feedback.Record, error) {
	row := s.pool.QueryRow(ctx, `
		SELECT recorded_at, source_message, context_messages, candidates, chosen, model
		FROM reply_feedback WHERE id = $1`, id)

	var rec feedback.Record
	if err := row.Scan(&rec.Timestamp, &rec.SourceMessage, &rec.ContextMessages, &rec.Candidates, &rec.Chosen, &rec.Model); err != nil {
		return nil, fmt.Errorf("get feedback: %w", err)
	}
	rec.Timestamp = rec.Timestamp.UTC()
	return &rec, nil
}

// RecentFeedback returns up to limit records, newest first.
func (s *Store) RecentFeedback(ctx context.Context, limit int) ([]feedback.Record, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT recorded_at, source_message, context_messages, candidates, chosen, model
		FROM reply_feedback ORDER BY recorded_at DESC LIMIT $1`, limit)
	if err != nil {
		return nil, fmt.Errorf("query feedback: %w", err)
	}
	defer rows.Close()

	var out []feedback.Record
	for rows.Next() {
		var rec feedback.Record
		if err := rows.Scan(&rec.Timestamp, &rec.SourceMessage, &rec.ContextMessages, &rec.Candidates, &rec.Chosen, &rec.Model); err != nil {
			return nil, fmt.Errorf("scan feedback: %w", err)
		}
		rec.Timestamp = rec.Timestamp.UTC()
		out = append(out, rec)
	}
	return out, rows.Err()
}

func nonNil(s []string) []string {
	if s == nil {
		return []string{}
	}
	return s
}
