package store

import (
	"context"
	"errors"
	"time"

	"github.com/loykin/torquelog/internal/telemetry"
)

var (
	ErrNotFound = errors.New("store: session not found")
	ErrConflict = errors.New("store: session already exists")
)

// Status is the persisted lifecycle status of a session.
type Status string

const (
	StatusCreated    Status = "CREATED"
	StatusOngoing    Status = "ONGOING"
	StatusTerminated Status = "TERMINATED"
)

func (s Status) Valid() bool {
	switch s {
	case StatusCreated, StatusOngoing, StatusTerminated:
		return true
	}
	return false
}

// Session is one imported log file worth of telemetry.
// StartedAt is set by start; EndedAt and the aggregates are set by finalize.
type Session struct {
	ID             string     `json:"id"`
	Origin         string     `json:"origin"`
	Status         Status     `json:"status"`
	StartedAt      *time.Time `json:"started_at,omitempty"`
	EndedAt        *time.Time `json:"ended_at,omitempty"`
	ReadingCount   int64      `json:"reading_count"`
	DistanceMeters float64    `json:"distance_m"`
	MaxSpeed       float64    `json:"max_speed"`
	CreatedAt      time.Time  `json:"created_at"`
	UpdatedAt      time.Time  `json:"updated_at"`
}

// Duration is EndedAt-StartedAt, or zero while either is unknown.
func (s Session) Duration() time.Duration {
	if s.StartedAt == nil || s.EndedAt == nil {
		return 0
	}
	return s.EndedAt.Sub(*s.StartedAt)
}

// Store persists sessions and their readings.
// Implementations are used from a single ingest goroutine plus read-only
// queries from the HTTP API, and must be safe for that.
type Store interface {
	EnsureSchema(ctx context.Context) error

	CreateSession(ctx context.Context, id, origin string) error
	DeleteSession(ctx context.Context, id string) error
	UpdateSessionStatus(ctx context.Context, id string, status Status, startedAt *time.Time) error
	FinalizeSessionMetadata(ctx context.Context, id string) error
	AppendReading(ctx context.Context, id string, seq int64, r telemetry.Reading) error

	GetSession(ctx context.Context, id string) (Session, error)
	ListSessions(ctx context.Context, limit int) ([]Session, error)
	Readings(ctx context.Context, id string) ([]telemetry.Reading, error)
	CountReadings(ctx context.Context, id string) (int64, error)

	Close() error
}

// Config holds connection pool settings shared by the SQL backends.
type Config struct {
	MaxOpenConns int           `mapstructure:"max_open_conns"`
	MaxIdleConns int           `mapstructure:"max_idle_conns"`
	ConnMaxAge   time.Duration `mapstructure:"conn_max_age"`
}
