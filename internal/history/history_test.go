package history

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/loykin/torquelog/internal/store"
)

type recordingSink struct {
	mu     sync.Mutex
	events []Event
	err    error
	closed bool
}

func (r *recordingSink) Send(_ context.Context, e Event) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, e)
	return r.err
}

func (r *recordingSink) Close() error {
	r.closed = true
	return nil
}

func TestFanout_DeliversToAllSinks(t *testing.T) {
	boom := errors.New("sink down")
	a := &recordingSink{err: boom}
	b := &recordingSink{}
	f := Fanout{a, nil, b}

	e := Event{Type: EventCreated, OccurredAt: time.Now().UTC(), Session: store.Session{ID: "x", Origin: "trip.csv"}}
	err := f.Send(context.Background(), e)
	if !errors.Is(err, boom) {
		t.Fatalf("expected joined sink error, got %v", err)
	}
	if len(a.events) != 1 || len(b.events) != 1 {
		t.Fatalf("expected both sinks to receive the event: %d %d", len(a.events), len(b.events))
	}
	if err := f.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}
	if !a.closed || !b.closed {
		t.Fatalf("expected sinks closed")
	}
}

func TestFanout_Empty(t *testing.T) {
	if err := (Fanout{}).Send(context.Background(), Event{}); err != nil {
		t.Fatalf("empty fanout should not fail: %v", err)
	}
}

func TestEvent_Row(t *testing.T) {
	loc := time.FixedZone("CEST", 2*3600)
	start := time.Date(2017, 7, 18, 17, 37, 42, 0, loc)
	e := Event{
		Type:       EventStopped,
		OccurredAt: time.Date(2017, 7, 18, 18, 0, 0, 0, loc),
		Session: store.Session{
			ID: "sid", Origin: "trip.csv", Status: store.StatusTerminated,
			StartedAt: &start, ReadingCount: 12, DistanceMeters: 800, MaxSpeed: 21,
		},
	}
	r := e.Row()
	if r.Event != "stopped" || r.Status != "TERMINATED" || r.SessionID != "sid" {
		t.Fatalf("unexpected row: %+v", r)
	}
	if r.OccurredAt.Location() != time.UTC || r.StartedAt.Location() != time.UTC {
		t.Fatalf("expected UTC times")
	}
	if r.EndedAt != nil || NullableTime(r.EndedAt) != nil {
		t.Fatalf("expected nil end time")
	}
	if NullableTime(r.StartedAt) == nil {
		t.Fatalf("expected start time argument")
	}
}
