package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/loykin/torquelog/internal/telemetry"
)

// Dialect selects SQL flavour details for SQLStore.
type Dialect string

const (
	DialectSQLite   Dialect = "sqlite"
	DialectPostgres Dialect = "postgres"
)

// SQLStore implements Store on database/sql for SQLite and PostgreSQL.
// Queries are written with '?' placeholders and rebound per dialect.
type SQLStore struct {
	db      *sql.DB
	dialect Dialect
	now     func() time.Time
}

// NewSQLStore wraps an open database handle. It does not create the schema.
func NewSQLStore(db *sql.DB, dialect Dialect) *SQLStore {
	return &SQLStore{db: db, dialect: dialect, now: func() time.Time { return time.Now().UTC() }}
}

func (s *SQLStore) Dialect() Dialect { return s.dialect }

func (s *SQLStore) DB() *sql.DB { return s.db }

func (s *SQLStore) Close() error { return s.db.Close() }

func (s *SQLStore) Ping(ctx context.Context) error { return s.db.PingContext(ctx) }

func (s *SQLStore) EnsureSchema(ctx context.Context) error {
	var stmts []string
	if s.dialect == DialectPostgres {
		stmts = []string{
			`CREATE TABLE IF NOT EXISTS sessions(
				id TEXT PRIMARY KEY,
				origin TEXT NOT NULL,
				status TEXT NOT NULL,
				started_at TIMESTAMPTZ NULL,
				ended_at TIMESTAMPTZ NULL,
				reading_count BIGINT NOT NULL DEFAULT 0,
				distance_m DOUBLE PRECISION NOT NULL DEFAULT 0,
				max_speed DOUBLE PRECISION NOT NULL DEFAULT 0,
				created_at TIMESTAMPTZ NOT NULL,
				updated_at TIMESTAMPTZ NOT NULL
			);`,
			`CREATE TABLE IF NOT EXISTS readings(
				session_id TEXT NOT NULL,
				seq BIGINT NOT NULL,
				ts TIMESTAMPTZ NOT NULL,
				latitude DOUBLE PRECISION NOT NULL,
				longitude DOUBLE PRECISION NOT NULL,
				altitude DOUBLE PRECISION NOT NULL,
				speed DOUBLE PRECISION NOT NULL,
				bearing DOUBLE PRECISION NOT NULL,
				accuracy DOUBLE PRECISION NOT NULL,
				fields TEXT NULL,
				PRIMARY KEY(session_id, seq)
			);`,
			`CREATE INDEX IF NOT EXISTS idx_sessions_origin ON sessions(origin);`,
			`CREATE INDEX IF NOT EXISTS idx_sessions_created_at ON sessions(created_at);`,
		}
	} else {
		stmts = []string{
			`CREATE TABLE IF NOT EXISTS sessions(
				id TEXT PRIMARY KEY,
				origin TEXT NOT NULL,
				status TEXT NOT NULL,
				started_at TIMESTAMP NULL,
				ended_at TIMESTAMP NULL,
				reading_count INTEGER NOT NULL DEFAULT 0,
				distance_m REAL NOT NULL DEFAULT 0,
				max_speed REAL NOT NULL DEFAULT 0,
				created_at TIMESTAMP NOT NULL,
				updated_at TIMESTAMP NOT NULL
			);`,
			`CREATE TABLE IF NOT EXISTS readings(
				session_id TEXT NOT NULL,
				seq INTEGER NOT NULL,
				ts TIMESTAMP NOT NULL,
				latitude REAL NOT NULL,
				longitude REAL NOT NULL,
				altitude REAL NOT NULL,
				speed REAL NOT NULL,
				bearing REAL NOT NULL,
				accuracy REAL NOT NULL,
				fields TEXT NULL,
				PRIMARY KEY(session_id, seq)
			);`,
			`CREATE INDEX IF NOT EXISTS idx_sessions_origin ON sessions(origin);`,
			`CREATE INDEX IF NOT EXISTS idx_sessions_created_at ON sessions(created_at);`,
		}
	}
	for _, q := range stmts {
		if _, err := s.db.ExecContext(ctx, q); err != nil {
			return fmt.Errorf("ensure schema: %w", err)
		}
	}
	return nil
}

func (s *SQLStore) CreateSession(ctx context.Context, id, origin string) error {
	now := s.now()
	res, err := s.db.ExecContext(ctx, s.rebind(`
		INSERT INTO sessions(id, origin, status, created_at, updated_at)
		VALUES(?, ?, ?, ?, ?)
		ON CONFLICT(id) DO NOTHING;`),
		id, origin, string(StatusCreated), now, now)
	if err != nil {
		return fmt.Errorf("create session %s: %w", id, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("create session %s: %w", id, err)
	}
	if n == 0 {
		return fmt.Errorf("%w: %s", ErrConflict, id)
	}
	return nil
}

// DeleteSession removes the session and all of its readings atomically.
func (s *SQLStore) DeleteSession(ctx context.Context, id string) (err error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("delete session %s: %w", id, err)
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()
	if _, err = tx.ExecContext(ctx, s.rebind(`DELETE FROM readings WHERE session_id=?;`), id); err != nil {
		return fmt.Errorf("delete readings %s: %w", id, err)
	}
	res, err := tx.ExecContext(ctx, s.rebind(`DELETE FROM sessions WHERE id=?;`), id)
	if err != nil {
		return fmt.Errorf("delete session %s: %w", id, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("delete session %s: %w", id, err)
	}
	if err = tx.Commit(); err != nil {
		return fmt.Errorf("delete session %s: %w", id, err)
	}
	if n == 0 {
		return fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	return nil
}

func (s *SQLStore) UpdateSessionStatus(ctx context.Context, id string, status Status, startedAt *time.Time) error {
	if !status.Valid() {
		return fmt.Errorf("update session %s: invalid status %q", id, status)
	}
	var (
		res sql.Result
		err error
	)
	if startedAt != nil {
		res, err = s.db.ExecContext(ctx, s.rebind(`
			UPDATE sessions SET status=?, started_at=?, updated_at=? WHERE id=?;`),
			string(status), startedAt.UTC(), s.now(), id)
	} else {
		res, err = s.db.ExecContext(ctx, s.rebind(`
			UPDATE sessions SET status=?, updated_at=? WHERE id=?;`),
			string(status), s.now(), id)
	}
	if err != nil {
		return fmt.Errorf("update session %s: %w", id, err)
	}
	return requireRow(res, id)
}

// FinalizeSessionMetadata recomputes the session aggregates from its stored readings.
func (s *SQLStore) FinalizeSessionMetadata(ctx context.Context, id string) error {
	sess, err := s.GetSession(ctx, id)
	if err != nil {
		return err
	}
	rows, err := s.db.QueryContext(ctx, s.rebind(`
		SELECT ts, latitude, longitude, speed FROM readings WHERE session_id=? ORDER BY seq;`), id)
	if err != nil {
		return fmt.Errorf("finalize session %s: %w", id, err)
	}
	var sum Summary
	for rows.Next() {
		var r telemetry.Reading
		if err := rows.Scan(&r.Time, &r.Latitude, &r.Longitude, &r.Speed); err != nil {
			_ = rows.Close()
			return fmt.Errorf("finalize session %s: %w", id, err)
		}
		sum.Add(r)
	}
	if err := rows.Err(); err != nil {
		_ = rows.Close()
		return fmt.Errorf("finalize session %s: %w", id, err)
	}
	_ = rows.Close()

	ended := interface{}(nil)
	if sum.Count > 0 {
		ended = sum.Last.UTC()
	} else if sess.StartedAt != nil {
		ended = sess.StartedAt.UTC()
	}
	res, err := s.db.ExecContext(ctx, s.rebind(`
		UPDATE sessions
		SET ended_at=?, reading_count=?, distance_m=?, max_speed=?, updated_at=?
		WHERE id=?;`),
		ended, sum.Count, sum.DistanceMeters, sum.MaxSpeed, s.now(), id)
	if err != nil {
		return fmt.Errorf("finalize session %s: %w", id, err)
	}
	return requireRow(res, id)
}

func (s *SQLStore) AppendReading(ctx context.Context, id string, seq int64, r telemetry.Reading) error {
	fields := interface{}(nil)
	if len(r.Fields) > 0 {
		b, err := json.Marshal(r.Fields)
		if err != nil {
			return fmt.Errorf("append reading %s/%d: %w", id, seq, err)
		}
		fields = string(b)
	}
	_, err := s.db.ExecContext(ctx, s.rebind(`
		INSERT INTO readings(session_id, seq, ts, latitude, longitude, altitude, speed, bearing, accuracy, fields)
		VALUES(?, ?, ?, ?, ?, ?, ?, ?, ?, ?);`),
		id, seq, r.Time.UTC(), r.Latitude, r.Longitude, r.Altitude, r.Speed, r.Bearing, r.Accuracy, fields)
	if err != nil {
		return fmt.Errorf("append reading %s/%d: %w", id, seq, err)
	}
	return nil
}

const sessionColumns = `id, origin, status, started_at, ended_at, reading_count, distance_m, max_speed, created_at, updated_at`

func (s *SQLStore) GetSession(ctx context.Context, id string) (Session, error) {
	row := s.db.QueryRowContext(ctx, s.rebind(`SELECT `+sessionColumns+` FROM sessions WHERE id=?;`), id)
	sess, err := scanSession(row)
	if errors.Is(err, sql.ErrNoRows) {
		return Session{}, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	if err != nil {
		return Session{}, fmt.Errorf("get session %s: %w", id, err)
	}
	return sess, nil
}

func (s *SQLStore) ListSessions(ctx context.Context, limit int) ([]Session, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.db.QueryContext(ctx, s.rebind(`
		SELECT `+sessionColumns+` FROM sessions ORDER BY created_at DESC, id LIMIT ?;`), limit)
	if err != nil {
		return nil, fmt.Errorf("list sessions: %w", err)
	}
	defer func() { _ = rows.Close() }()
	out := make([]Session, 0)
	for rows.Next() {
		sess, err := scanSession(rows)
		if err != nil {
			return nil, fmt.Errorf("list sessions: %w", err)
		}
		out = append(out, sess)
	}
	return out, rows.Err()
}

func (s *SQLStore) Readings(ctx context.Context, id string) ([]telemetry.Reading, error) {
	rows, err := s.db.QueryContext(ctx, s.rebind(`
		SELECT ts, latitude, longitude, altitude, speed, bearing, accuracy, fields
		FROM readings WHERE session_id=? ORDER BY seq;`), id)
	if err != nil {
		return nil, fmt.Errorf("readings %s: %w", id, err)
	}
	defer func() { _ = rows.Close() }()
	out := make([]telemetry.Reading, 0)
	for rows.Next() {
		var (
			r      telemetry.Reading
			fields sql.NullString
		)
		if err := rows.Scan(&r.Time, &r.Latitude, &r.Longitude, &r.Altitude, &r.Speed, &r.Bearing, &r.Accuracy, &fields); err != nil {
			return nil, fmt.Errorf("readings %s: %w", id, err)
		}
		if fields.Valid && fields.String != "" {
			if err := json.Unmarshal([]byte(fields.String), &r.Fields); err != nil {
				return nil, fmt.Errorf("readings %s: decode fields: %w", id, err)
			}
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

func (s *SQLStore) CountReadings(ctx context.Context, id string) (int64, error) {
	var n int64
	err := s.db.QueryRowContext(ctx, s.rebind(`SELECT COUNT(*) FROM readings WHERE session_id=?;`), id).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("count readings %s: %w", id, err)
	}
	return n, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanSession(row rowScanner) (Session, error) {
	var (
		sess    Session
		status  string
		started sql.NullTime
		ended   sql.NullTime
	)
	if err := row.Scan(&sess.ID, &sess.Origin, &status, &started, &ended,
		&sess.ReadingCount, &sess.DistanceMeters, &sess.MaxSpeed, &sess.CreatedAt, &sess.UpdatedAt); err != nil {
		return Session{}, err
	}
	sess.Status = Status(status)
	if started.Valid {
		t := started.Time.UTC()
		sess.StartedAt = &t
	}
	if ended.Valid {
		t := ended.Time.UTC()
		sess.EndedAt = &t
	}
	return sess, nil
}

func requireRow(res sql.Result, id string) error {
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	return nil
}

// rebind converts '?' placeholders to $n for PostgreSQL.
func (s *SQLStore) rebind(q string) string {
	if s.dialect != DialectPostgres {
		return q
	}
	var b strings.Builder
	b.Grow(len(q) + 8)
	n := 0
	for _, r := range q {
		if r == '?' {
			n++
			b.WriteByte('$')
			b.WriteString(strconv.Itoa(n))
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}
