package history

import (
	"context"
	"errors"
	"io"
	"time"

	"github.com/loykin/torquelog/internal/store"
)

// EventType defines the kind of session lifecycle event.
type EventType string

const (
	EventCreated   EventType = "created"
	EventStarted   EventType = "started"
	EventStopped   EventType = "stopped"
	EventRecreated EventType = "recreated"
)

// Event represents a session lifecycle event to be exported to external systems.
type Event struct {
	Type       EventType     `json:"type"`
	OccurredAt time.Time     `json:"occurred_at"`
	Session    store.Session `json:"session"`
}

// Sink is a destination for history events (analytics/statistics systems).
// Implementations must be safe for concurrent use.
type Sink interface {
	Send(ctx context.Context, e Event) error
}

// Fanout sends every event to all of its sinks. A failing sink does not
// prevent delivery to the others; the errors are joined.
type Fanout []Sink

func (f Fanout) Send(ctx context.Context, e Event) error {
	var errs []error
	for _, s := range f {
		if s == nil {
			continue
		}
		if err := s.Send(ctx, e); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Close closes every sink that holds resources.
func (f Fanout) Close() error {
	var errs []error
	for _, s := range f {
		if c, ok := s.(io.Closer); ok {
			if err := c.Close(); err != nil {
				errs = append(errs, err)
			}
		}
	}
	return errors.Join(errs...)
}

// Row flattens the session for tabular sinks. Nullable times stay nil.
type Row struct {
	OccurredAt     time.Time
	Event          string
	SessionID      string
	Origin         string
	Status         string
	StartedAt      *time.Time
	EndedAt        *time.Time
	ReadingCount   int64
	DistanceMeters float64
	MaxSpeed       float64
}

func (e Event) Row() Row {
	r := Row{
		OccurredAt:     e.OccurredAt.UTC(),
		Event:          string(e.Type),
		SessionID:      e.Session.ID,
		Origin:         e.Session.Origin,
		Status:         string(e.Session.Status),
		ReadingCount:   e.Session.ReadingCount,
		DistanceMeters: e.Session.DistanceMeters,
		MaxSpeed:       e.Session.MaxSpeed,
	}
	if e.Session.StartedAt != nil {
		t := e.Session.StartedAt.UTC()
		r.StartedAt = &t
	}
	if e.Session.EndedAt != nil {
		t := e.Session.EndedAt.UTC()
		r.EndedAt = &t
	}
	return r
}

// NullableTime converts an optional time into a database/sql argument.
func NullableTime(t *time.Time) any {
	if t == nil {
		return nil
	}
	return *t
}
