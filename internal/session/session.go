// Package session drives the lifecycle of one imported log file's session:
// ABSENT -> CREATED -> ONGOING -> TERMINATED, plus recreate for crash recovery.
package session

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/loykin/torquelog/internal/history"
	"github.com/loykin/torquelog/internal/metrics"
	"github.com/loykin/torquelog/internal/store"
	"github.com/loykin/torquelog/internal/telemetry"
)

// namespace scopes session IDs so that the same origin always maps to the
// same ID across runs and hosts.
var namespace = uuid.NewSHA1(uuid.NameSpaceURL, []byte("https://github.com/loykin/torquelog/session"))

// ID returns the deterministic session identifier for an origin.
func ID(origin string) string {
	return uuid.NewSHA1(namespace, []byte(origin)).String()
}

var (
	// ErrInvalidTransition is wrapped by every *TransitionError.
	ErrInvalidTransition = errors.New("session: invalid transition")
	// ErrForeignSession means the stored session under this ID was imported
	// from a different origin.
	ErrForeignSession = errors.New("session: id held by another origin")
)

// State is the in-memory lifecycle state of a session.
type State int

const (
	Absent State = iota
	Created
	Ongoing
	Terminated
)

func (s State) String() string {
	switch s {
	case Absent:
		return "ABSENT"
	case Created:
		return "CREATED"
	case Ongoing:
		return "ONGOING"
	case Terminated:
		return "TERMINATED"
	default:
		return fmt.Sprintf("State(%d)", int(s))
	}
}

// TransitionError reports an operation attempted from a state that does not allow it.
type TransitionError struct {
	Op   string
	From State
}

func (e *TransitionError) Error() string {
	return fmt.Sprintf("session: cannot %s from %s", e.Op, e.From)
}

func (e *TransitionError) Unwrap() error { return ErrInvalidTransition }

// Store is the part of store.Store a lifecycle writes through.
type Store interface {
	CreateSession(ctx context.Context, id, origin string) error
	DeleteSession(ctx context.Context, id string) error
	UpdateSessionStatus(ctx context.Context, id string, status store.Status, startedAt *time.Time) error
	FinalizeSessionMetadata(ctx context.Context, id string) error
	AppendReading(ctx context.Context, id string, seq int64, r telemetry.Reading) error
	GetSession(ctx context.Context, id string) (store.Session, error)
}

type Option func(*Lifecycle)

func WithLogger(l *slog.Logger) Option {
	return func(lc *Lifecycle) {
		if l != nil {
			lc.log = l
		}
	}
}

// WithSink publishes every transition to s. Delivery is best effort.
func WithSink(s history.Sink) Option {
	return func(lc *Lifecycle) { lc.sink = s }
}

func WithClock(now func() time.Time) Option {
	return func(lc *Lifecycle) {
		if now != nil {
			lc.now = now
		}
	}
}

// Lifecycle is the state machine for a single session. It is not safe for
// concurrent use; the ingest worker owns one lifecycle per file.
type Lifecycle struct {
	id     string
	origin string
	state  State
	seq    int64

	st   Store
	sink history.Sink
	log  *slog.Logger
	now  func() time.Time
}

func New(origin string, st Store, opts ...Option) *Lifecycle {
	id := ID(origin)
	lc := &Lifecycle{
		id:     id,
		origin: origin,
		state:  Absent,
		st:     st,
		log:    slog.Default(),
		now:    func() time.Time { return time.Now().UTC() },
	}
	for _, o := range opts {
		o(lc)
	}
	lc.log = lc.log.With("component", "session", "session_id", id, "origin", origin)
	return lc
}

func (lc *Lifecycle) ID() string     { return lc.id }
func (lc *Lifecycle) Origin() string { return lc.origin }
func (lc *Lifecycle) State() State   { return lc.state }

// Readings returns how many readings were ingested since the last create.
func (lc *Lifecycle) Readings() int64 { return lc.seq }

// Create persists a new session in CREATED state.
func (lc *Lifecycle) Create(ctx context.Context) error {
	if lc.state != Absent {
		return &TransitionError{Op: "create", From: lc.state}
	}
	if err := lc.st.CreateSession(ctx, lc.id, lc.origin); err != nil {
		return fmt.Errorf("create session %s: %w", lc.id, err)
	}
	lc.transition(ctx, Created, history.EventCreated)
	return nil
}

// Start records the session start time and moves it to ONGOING.
func (lc *Lifecycle) Start(ctx context.Context, startedAt time.Time) error {
	if lc.state != Created {
		return &TransitionError{Op: "start", From: lc.state}
	}
	ts := startedAt.UTC()
	if err := lc.st.UpdateSessionStatus(ctx, lc.id, store.StatusOngoing, &ts); err != nil {
		return fmt.Errorf("start session %s: %w", lc.id, err)
	}
	lc.transition(ctx, Ongoing, history.EventStarted)
	return nil
}

// Ingest appends one reading with the next sequence number.
func (lc *Lifecycle) Ingest(ctx context.Context, r telemetry.Reading) error {
	if lc.state != Ongoing {
		return &TransitionError{Op: "ingest", From: lc.state}
	}
	if err := lc.st.AppendReading(ctx, lc.id, lc.seq, r); err != nil {
		return fmt.Errorf("ingest into session %s: %w", lc.id, err)
	}
	lc.seq++
	return nil
}

// Stop finalizes the derived metadata and terminates the session.
func (lc *Lifecycle) Stop(ctx context.Context) error {
	if lc.state != Ongoing {
		return &TransitionError{Op: "stop", From: lc.state}
	}
	if err := lc.st.FinalizeSessionMetadata(ctx, lc.id); err != nil {
		return fmt.Errorf("finalize session %s: %w", lc.id, err)
	}
	if err := lc.st.UpdateSessionStatus(ctx, lc.id, store.StatusTerminated, nil); err != nil {
		return fmt.Errorf("stop session %s: %w", lc.id, err)
	}
	lc.transition(ctx, Terminated, history.EventStopped)
	return nil
}

// Recreate discards whatever the store holds under this session's ID and
// creates it again. Terminated sessions are never recreated, whether this
// lifecycle or an earlier run terminated them, and a session stored for a
// different origin is left untouched.
func (lc *Lifecycle) Recreate(ctx context.Context) error {
	if lc.state == Terminated {
		return &TransitionError{Op: "recreate", From: lc.state}
	}
	prev, err := lc.st.GetSession(ctx, lc.id)
	switch {
	case errors.Is(err, store.ErrNotFound):
	case err != nil:
		return fmt.Errorf("recreate session %s: %w", lc.id, err)
	case prev.Origin != lc.origin:
		return fmt.Errorf("recreate session %s: %w: %s", lc.id, ErrForeignSession, prev.Origin)
	case prev.Status == store.StatusTerminated:
		return &TransitionError{Op: "recreate", From: Terminated}
	}
	if err := lc.st.DeleteSession(ctx, lc.id); err != nil && !errors.Is(err, store.ErrNotFound) {
		return fmt.Errorf("recreate session %s: %w", lc.id, err)
	}
	if err := lc.st.CreateSession(ctx, lc.id, lc.origin); err != nil {
		// the old session is gone; only a fresh create can follow
		lc.state = Absent
		lc.seq = 0
		return fmt.Errorf("recreate session %s: %w", lc.id, err)
	}
	lc.seq = 0
	lc.transition(ctx, Created, history.EventRecreated)
	return nil
}

func (lc *Lifecycle) transition(ctx context.Context, to State, evt history.EventType) {
	from := lc.state
	lc.state = to
	metrics.RecordSessionTransition(from.String(), to.String())
	lc.log.Info("session transition", "from", from.String(), "to", to.String())
	if lc.sink == nil {
		return
	}
	sess, err := lc.st.GetSession(ctx, lc.id)
	if err != nil {
		sess = store.Session{ID: lc.id, Origin: lc.origin, Status: toStatus(to)}
	}
	e := history.Event{Type: evt, OccurredAt: lc.now(), Session: sess}
	if err := lc.sink.Send(ctx, e); err != nil {
		lc.log.Warn("history sink failed", "event", string(evt), "error", err)
	}
}

func toStatus(s State) store.Status {
	switch s {
	case Ongoing:
		return store.StatusOngoing
	case Terminated:
		return store.StatusTerminated
	default:
		return store.StatusCreated
	}
}
