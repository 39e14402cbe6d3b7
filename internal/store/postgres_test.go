package store

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"

	"github.com/loykin/torquelog/internal/telemetry"
)

func TestPostgresStore_Integration(t *testing.T) {
	if testing.Short() {
		t.Skip("Skipping integration test in short mode")
	}

	ctx := context.Background()
	pgContainer, err := postgres.Run(ctx,
		"postgres:15-alpine",
		postgres.WithDatabase("torquelog"),
		postgres.WithUsername("torque"),
		postgres.WithPassword("torque"),
		testcontainers.WithWaitStrategy(
			wait.ForLog("database system is ready to accept connections").
				WithOccurrence(2).
				WithStartupTimeout(30*time.Second)),
	)
	if err != nil {
		t.Fatalf("Failed to start PostgreSQL container: %v", err)
	}
	defer func() {
		if err := pgContainer.Terminate(ctx); err != nil {
			t.Errorf("Failed to terminate PostgreSQL container: %v", err)
		}
	}()

	connStr, err := pgContainer.ConnectionString(ctx, "sslmode=disable")
	if err != nil {
		t.Fatalf("Failed to get connection string: %v", err)
	}

	s, err := OpenPostgres(connStr, Config{})
	if err != nil {
		t.Fatalf("open postgres: %v", err)
	}
	defer func() { _ = s.Close() }()

	if err := s.CreateSession(ctx, "pg-1", "trip.csv"); err != nil {
		t.Fatalf("create: %v", err)
	}
	if err := s.CreateSession(ctx, "pg-1", "trip.csv"); !errors.Is(err, ErrConflict) {
		t.Fatalf("expected ErrConflict, got %v", err)
	}

	start := time.Date(2017, 7, 18, 15, 37, 42, 0, time.UTC)
	if err := s.UpdateSessionStatus(ctx, "pg-1", StatusOngoing, &start); err != nil {
		t.Fatalf("start: %v", err)
	}
	for i := 0; i < 3; i++ {
		r := telemetry.Reading{Time: start.Add(time.Duration(i) * time.Minute), Latitude: 45 + float64(i)*0.001, Longitude: 5, Speed: float64(i)}
		if err := s.AppendReading(ctx, "pg-1", int64(i), r); err != nil {
			t.Fatalf("append %d: %v", i, err)
		}
	}
	if err := s.FinalizeSessionMetadata(ctx, "pg-1"); err != nil {
		t.Fatalf("finalize: %v", err)
	}
	if err := s.UpdateSessionStatus(ctx, "pg-1", StatusTerminated, nil); err != nil {
		t.Fatalf("stop: %v", err)
	}

	got, err := s.GetSession(ctx, "pg-1")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got.Status != StatusTerminated || got.ReadingCount != 3 || got.Duration() != 2*time.Minute {
		t.Fatalf("unexpected session: %+v", got)
	}

	if err := s.DeleteSession(ctx, "pg-1"); err != nil {
		t.Fatalf("delete: %v", err)
	}
	if n, _ := s.CountReadings(ctx, "pg-1"); n != 0 {
		t.Fatalf("expected readings removed, got %d", n)
	}
}
