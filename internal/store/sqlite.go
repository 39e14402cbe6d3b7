package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	_ "modernc.org/sqlite"
)

// OpenSQLite opens a SQLite database (modernc.org/sqlite driver, CGO-free)
// and ensures the schema. Use ":memory:" for an in-memory database.
func OpenSQLite(path string, cfg Config) (*SQLStore, error) {
	p := strings.TrimSpace(path)
	if p == "" {
		return nil, errors.New("empty sqlite path")
	}
	db, err := sql.Open("sqlite", p)
	if err != nil {
		return nil, fmt.Errorf("failed to open sqlite database: %w", err)
	}
	// SQLite works best with a single connection; an in-memory database
	// would otherwise be private to each pooled connection.
	if cfg.MaxOpenConns > 0 && p != ":memory:" {
		db.SetMaxOpenConns(cfg.MaxOpenConns)
	} else {
		db.SetMaxOpenConns(1)
	}
	if cfg.MaxIdleConns > 0 {
		db.SetMaxIdleConns(cfg.MaxIdleConns)
	}
	if cfg.ConnMaxAge > 0 && p != ":memory:" {
		db.SetConnMaxLifetime(cfg.ConnMaxAge)
	}
	// busy timeout helps with short concurrent locks from the HTTP API
	_, _ = db.Exec("PRAGMA busy_timeout=3000;")

	s := NewSQLStore(db, DialectSQLite)
	if err := s.EnsureSchema(context.Background()); err != nil {
		_ = db.Close()
		return nil, err
	}
	return s, nil
}
