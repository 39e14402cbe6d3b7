package postgres

import (
	"context"
	"testing"
	"time"

	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"

	"github.com/loykin/torquelog/internal/history"
	"github.com/loykin/torquelog/internal/store"
)

func TestPostgresSink_Integration(t *testing.T) {
	if testing.Short() {
		t.Skip("Skipping integration test in short mode")
	}

	ctx := context.Background()

	postgresContainer, err := postgres.Run(ctx,
		"postgres:15-alpine",
		postgres.WithDatabase("testdb"),
		postgres.WithUsername("testuser"),
		postgres.WithPassword("testpass"),
		testcontainers.WithWaitStrategy(
			wait.ForLog("database system is ready to accept connections").
				WithOccurrence(2).
				WithStartupTimeout(30*time.Second)),
	)
	if err != nil {
		t.Fatalf("Failed to start PostgreSQL container: %v", err)
	}
	defer func() {
		if err := postgresContainer.Terminate(ctx); err != nil {
			t.Errorf("Failed to terminate PostgreSQL container: %v", err)
		}
	}()

	connStr, err := postgresContainer.ConnectionString(ctx, "sslmode=disable")
	if err != nil {
		t.Fatalf("Failed to get connection string: %v", err)
	}

	sink, err := New(connStr)
	if err != nil {
		t.Fatalf("Failed to create PostgreSQL sink: %v", err)
	}
	defer func() {
		if err := sink.Close(); err != nil {
			t.Errorf("Failed to close sink: %v", err)
		}
	}()

	start := time.Now().Add(-time.Minute).UTC()
	sess := store.Session{ID: "pg-sid", Origin: "trip.csv", Status: store.StatusOngoing, StartedAt: &start}

	if err := sink.Send(ctx, history.Event{Type: history.EventStarted, OccurredAt: time.Now().UTC(), Session: sess}); err != nil {
		t.Fatalf("Failed to send start event: %v", err)
	}

	end := time.Now().UTC()
	sess.Status = store.StatusTerminated
	sess.EndedAt = &end
	sess.ReadingCount = 42
	if err := sink.Send(ctx, history.Event{Type: history.EventStopped, OccurredAt: end, Session: sess}); err != nil {
		t.Fatalf("Failed to send stop event: %v", err)
	}

	count, err := sink.Count(ctx, "pg-sid")
	if err != nil {
		t.Fatalf("Failed to query session_history: %v", err)
	}
	if count != 2 {
		t.Errorf("Expected 2 events in history, got %d", count)
	}
}

func TestPostgresSink_EmptyDSN(t *testing.T) {
	if _, err := New(""); err == nil {
		t.Fatal("expected error for empty DSN")
	}
}
