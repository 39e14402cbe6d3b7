package factory

import (
	"errors"
	"strings"

	"github.com/loykin/torquelog/internal/store"
)

// NewFromDSN selects a store implementation based on DSN.
// Supported:
//   - sqlite:  "sqlite:///<path>", "sqlite://:memory:" or a bare filepath
//   - postgres: DSN starting with "postgres://" or "postgresql://"
func NewFromDSN(dsn string, cfg store.Config) (*store.SQLStore, error) {
	d := strings.TrimSpace(dsn)
	ld := strings.ToLower(d)
	if ld == "" {
		return nil, errors.New("empty DSN")
	}
	if strings.HasPrefix(ld, "postgres://") || strings.HasPrefix(ld, "postgresql://") {
		return store.OpenPostgres(d, cfg)
	}
	if strings.HasPrefix(ld, "sqlite://") {
		return store.OpenSQLite(d[len("sqlite://"):], cfg)
	}
	if strings.Contains(d, "://") {
		return nil, errors.New("unsupported DSN format: " + d)
	}
	return store.OpenSQLite(d, cfg)
}
