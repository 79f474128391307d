//go:build integration

package store

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/MikeSquared-Agency/quill/internal/feedback"
)

func setupTestStore(t *testing.T) *Store {
	t.Helper()
	dbURL := os.Getenv("DATABASE_URL")
	if dbURL == "" {
		t.Skip("DATABASE_URL not set, skipping integration test")
	}

	ctx := context.Background()
	s, err := New(ctx, dbURL)
	if err != nil {
		t.Fatalf("failed to connect: %v", err)
	}
	if err := s.EnsureSchema(ctx); err != nil {
		t.Fatalf("EnsureSchema failed: %v", err)
	}

	t.Cleanup(func() {
		s.Close()
	})
	return s
}

func TestIntegration_WriteAndReadFeedback(t *testing.T) {
	s := setupTestStore(t)
	ctx := context.Background()
	source := "integration-test-" + uuid.New().String()[:8]

	rec := feedback.NewRecord(time.Now(), source, []string{"m1", source}, []string{"a", "b", "c"}, "b", "qwen")

	id, err := s.WriteFeedback(ctx, rec)
	if err != nil {
		t.Fatalf("WriteFeedback failed: %v", err)
	}
	if id == uuid.Nil {
		t.Fatal("expected non-nil feedback ID")
	}

	got, err := s.GetFeedbackByID(ctx, id)
	if err != nil {
		t.Fatalf("GetFeedbackByID failed: %v", err)
	}
	if got.SourceMessage != source {
		t.Errorf("expected source %q, got %q", source, got.SourceMessage)
	}
	if got.Chosen != "b" || len(got.Candidates) != 3 {
		t.Errorf("unexpected record: %+v", got)
	}
	if !got.Timestamp.Equal(rec.Timestamp) {
		t.Errorf("expected timestamp %v, got %v", rec.Timestamp, got.Timestamp)
	}
}

func TestIntegration_AppendImplementsSink(t *testing.T) {
	s := setupTestStore(t)
	var sink feedback.Sink = s

	rec := feedback.NewRecord(time.Now(), "sink-test", nil, []string{"x"}, "custom", "qwen")
	if err := sink.Append(context.Background(), rec); err != nil {
		t.Fatalf("Append failed: %v", err)
	}

	recent, err := s.RecentFeedback(context.Background(), 5)
	if err != nil {
		t.Fatalf("RecentFeedback failed: %v", err)
	}
	if len(recent) == 0 {
		t.Fatal("expected at least one record")
	}
}
