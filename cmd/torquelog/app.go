package main

import (
	"errors"
	"fmt"
	"io"
	"log/slog"

	"github.com/loykin/torquelog/internal/config"
	"github.com/loykin/torquelog/internal/history"
	historyfactory "github.com/loykin/torquelog/internal/history/factory"
	"github.com/loykin/torquelog/internal/ingest"
	"github.com/loykin/torquelog/internal/logger"
	"github.com/loykin/torquelog/internal/marker"
	"github.com/loykin/torquelog/internal/scanner"
	"github.com/loykin/torquelog/internal/store"
	storefactory "github.com/loykin/torquelog/internal/store/factory"
	"github.com/loykin/torquelog/internal/torque"
)

// app holds the resources shared by the commands that touch the store.
type app struct {
	cfg       *config.Config
	log       *slog.Logger
	logCloser io.Closer
	store     *store.SQLStore
	sinks     history.Fanout
}

func loadConfig(path string) (*config.Config, error) {
	if path == "" {
		return nil, errors.New("config file required. Use --config=torquelog.toml")
	}
	cfg, err := config.Load(path)
	if err != nil {
		return nil, fmt.Errorf("error loading config: %w", err)
	}
	return cfg, nil
}

func newLogger(c config.LogConfig, console io.Writer) (*slog.Logger, io.Closer, error) {
	return logger.New(logger.Config{
		Level:   c.Level,
		Format:  c.Format,
		Color:   c.Color,
		Console: console,
		File: logger.FileConfig{
			Path:       c.File.Path,
			MaxSizeMB:  c.File.MaxSizeMB,
			MaxBackups: c.File.MaxBackups,
			MaxAgeDays: c.File.MaxAgeDays,
			Compress:   c.File.Compress,
		},
	})
}

// openApp loads the config, builds the logger and opens the session store.
// History sinks are only opened when withSinks is set.
func openApp(path string, console io.Writer, withSinks bool) (*app, error) {
	cfg, err := loadConfig(path)
	if err != nil {
		return nil, err
	}
	l, closer, err := newLogger(cfg.Log, console)
	if err != nil {
		return nil, fmt.Errorf("init logger: %w", err)
	}
	a := &app{cfg: cfg, log: l, logCloser: closer}

	a.store, err = storefactory.NewFromDSN(cfg.Database.DSN, store.Config{
		MaxOpenConns: cfg.Database.MaxOpenConns,
		MaxIdleConns: cfg.Database.MaxIdleConns,
		ConnMaxAge:   cfg.Database.ConnMaxAge,
	})
	if err != nil {
		_ = a.Close()
		return nil, fmt.Errorf("open session store: %w", err)
	}
	if withSinks {
		a.sinks, err = historyfactory.NewSinksFromDSNs(cfg.History.Sinks)
		if err != nil {
			_ = a.Close()
			return nil, fmt.Errorf("open history sinks: %w", err)
		}
	}
	return a, nil
}

func (a *app) Close() error {
	var errs []error
	if a.sinks != nil {
		errs = append(errs, a.sinks.Close())
	}
	if a.store != nil {
		errs = append(errs, a.store.Close())
	}
	if a.logCloser != nil {
		errs = append(errs, a.logCloser.Close())
	}
	return errors.Join(errs...)
}

// newWorker wires the ingestion worker for the configured folder.
func (a *app) newWorker() (*ingest.Worker, error) {
	tl := a.cfg.TorqueLog
	sc, err := scanner.New(tl.Path, tl.Pattern, a.log)
	if err != nil {
		return nil, err
	}
	minSize, maxSize, err := tl.SizeBounds()
	if err != nil {
		return nil, err
	}
	loc, err := tl.TimeLocation()
	if err != nil {
		return nil, err
	}
	opts := []ingest.Option{
		ingest.WithLogger(a.log),
		ingest.WithDownsample(tl.Downsample),
	}
	if len(a.sinks) > 0 {
		opts = append(opts, ingest.WithSink(a.sinks))
	}
	return ingest.New(sc, marker.NewTracker(minSize, maxSize), torque.NewOpener(loc), a.store, opts...), nil
}
