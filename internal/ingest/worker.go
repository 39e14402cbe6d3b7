// Package ingest imports discovered log files into sessions, one sweep at a time.
package ingest

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"path/filepath"
	"strings"
	"sync/atomic"
	"time"

	"github.com/loykin/torquelog/internal/downsample"
	"github.com/loykin/torquelog/internal/history"
	"github.com/loykin/torquelog/internal/marker"
	"github.com/loykin/torquelog/internal/metrics"
	"github.com/loykin/torquelog/internal/scanner"
	"github.com/loykin/torquelog/internal/session"
	"github.com/loykin/torquelog/internal/store"
	"github.com/loykin/torquelog/internal/telemetry"
)

// Worker performs folder sweeps. It is a scheduler.Task.
// A Worker must not run two sweeps concurrently.
type Worker struct {
	scanner    *scanner.Scanner
	tracker    *marker.Tracker
	opener     telemetry.Opener
	store      session.Store
	sink       history.Sink
	downsample time.Duration
	log        *slog.Logger
	now        func() time.Time

	last atomic.Pointer[Report]
}

type Option func(*Worker)

func WithLogger(l *slog.Logger) Option {
	return func(w *Worker) {
		if l != nil {
			w.log = l
		}
	}
}

func WithSink(s history.Sink) Option { return func(w *Worker) { w.sink = s } }

// WithDownsample sets the minimum gap between stored readings. Zero keeps every reading.
func WithDownsample(d time.Duration) Option { return func(w *Worker) { w.downsample = d } }

func WithClock(now func() time.Time) Option {
	return func(w *Worker) {
		if now != nil {
			w.now = now
		}
	}
}

func New(sc *scanner.Scanner, tr *marker.Tracker, op telemetry.Opener, st session.Store, opts ...Option) *Worker {
	w := &Worker{
		scanner: sc,
		tracker: tr,
		opener:  op,
		store:   st,
		log:     slog.Default(),
		now:     time.Now,
	}
	for _, o := range opts {
		o(w)
	}
	w.log = w.log.With("component", "ingest")
	return w
}

func (w *Worker) Name() string { return "torque-ingest" }

// LastReport returns the report of the most recent sweep, or nil before the first.
func (w *Worker) LastReport() *Report { return w.last.Load() }

// RunOnce performs one sweep. Per-file failures are recorded in the report and
// never abort the sweep; only an unreadable watched folder is returned as an error.
func (w *Worker) RunOnce(ctx context.Context) error {
	rep := &Report{StartedAt: w.now()}
	defer func() {
		rep.FinishedAt = w.now()
		metrics.ObserveSweep(rep.Duration(), rep.FinishedAt)
		w.last.Store(rep)
	}()

	candidates, err := w.scanner.Find(ctx)
	if err != nil {
		rep.Error = err.Error()
		w.log.Error("folder scan failed", "root", w.scanner.Root, "error", err)
		return fmt.Errorf("sweep: %w", err)
	}
	rep.Found = len(candidates)
	metrics.AddDiscovered(len(candidates))

	for _, c := range candidates {
		if ctx.Err() != nil {
			break
		}
		rep.add(w.processFile(ctx, c.Path))
	}

	w.log.Info("sweep finished",
		"found", rep.Found,
		"imported", rep.Imported,
		"recovered", rep.Recovered,
		"skipped", rep.Skipped,
		"failed", rep.Failed,
		"duration", rep.Duration().String())
	return nil
}

func (w *Worker) processFile(ctx context.Context, path string) (res FileResult) {
	started := w.now()
	res = FileResult{Path: path}
	log := w.log.With("file", path)
	defer func() { res.Duration = w.now().Sub(started) }()

	state, err := w.tracker.Classify(path)
	if err != nil {
		return w.fail(log, res, StageClassify, err)
	}
	switch state {
	case marker.StateDone:
		log.Info("file already imported")
		return w.skip(res, state.String())
	case marker.StateTooSmall, marker.StateTooLarge:
		log.Warn("file size out of range", "state", state.String(),
			"min_size", w.tracker.MinSize, "max_size", w.tracker.MaxSize)
		return w.skip(res, state.String())
	case marker.StateBusy:
		log.Warn("file is locked by this process")
		return w.skip(res, state.String())
	}

	src, err := w.opener.Open(path)
	if err != nil {
		log.Error("cannot open log file", "error", err)
		return w.skip(res, "unreadable")
	}
	defer func() { _ = src.Close() }()

	origin := w.origin(path)
	lc := session.New(origin, w.store, session.WithLogger(w.log), session.WithSink(w.sink))
	res.SessionID = lc.ID()

	recovered := state == marker.StateLockedStale
	if recovered {
		log.Warn("stale lock found, re-importing from scratch", "lock", marker.LockPath(path))
		if err := lc.Recreate(ctx); err != nil {
			var te *session.TransitionError
			if errors.As(err, &te) && te.From == session.Terminated {
				// stopped earlier but the markers were never finished
				return w.finishImported(log, res, path, false)
			}
			return w.fail(log, res, StageRecreate, err)
		}
		if err := w.tracker.ClearStale(path); err != nil {
			return w.fail(log, res, StageLock, err)
		}
	} else {
		log.Info("file admitted", "origin", origin, "session_id", lc.ID())
	}
	if err := w.tracker.Acquire(path); err != nil {
		return w.fail(log, res, StageLock, err)
	}
	if !recovered {
		if err := lc.Create(ctx); err != nil {
			return w.createFailed(ctx, log, res, path, lc, err)
		}
	}

	if stage, err := w.stream(ctx, lc, src, &res); err != nil {
		// the lock stays on disk; the next sweep sees the file as stale
		w.tracker.Abandon(path)
		return w.fail(log, res, stage, err)
	}

	if err := w.tracker.Release(path); err != nil {
		w.tracker.Abandon(path)
		return w.fail(log, res, StageFinish, err)
	}
	if err := w.tracker.MarkDone(path); err != nil {
		return w.fail(log, res, StageFinish, err)
	}

	if recovered {
		res.Outcome = OutcomeRecovered
		metrics.IncRecovered()
	} else {
		res.Outcome = OutcomeImported
	}
	metrics.IncImported()
	log.Info("file imported", "session_id", lc.ID(), "read", res.Read, "kept", res.Kept,
		"recovered", recovered)
	return res
}

// stream runs start, the filtered reading loop and stop.
func (w *Worker) stream(ctx context.Context, lc *session.Lifecycle, src telemetry.Source, res *FileResult) (string, error) {
	if err := lc.Start(ctx, src.StartTime()); err != nil {
		return StageSession, err
	}
	sampler := downsample.New(w.downsample)
	defer func() {
		res.Read, res.Kept = sampler.Stats()
		metrics.AddReadings(res.Read, res.Kept)
	}()

	for {
		if err := ctx.Err(); err != nil {
			return StageCanceled, err
		}
		r, err := src.Next()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return StageRead, err
		}
		if kept, ok := sampler.Offer(r); ok {
			if err := lc.Ingest(ctx, kept); err != nil {
				return StageIngest, err
			}
		}
	}
	if tail, ok := sampler.Flush(); ok {
		if err := lc.Ingest(ctx, tail); err != nil {
			return StageIngest, err
		}
	}
	if err := lc.Stop(ctx); err != nil {
		return StageSession, err
	}
	return "", nil
}

// origin is the candidate's path relative to the watched folder, so files
// sharing a base name in different subfolders get distinct sessions.
func (w *Worker) origin(path string) string {
	rel, err := filepath.Rel(w.scanner.Root, path)
	if err != nil || rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		return filepath.Base(path)
	}
	return filepath.ToSlash(rel)
}

// createFailed handles a Create error on a fresh file. A session that an
// earlier run terminated for the same origin only lacks its done marker. A
// session held by another origin must never be recovered over, so the lock
// is removed instead of left for the stale path.
func (w *Worker) createFailed(ctx context.Context, log *slog.Logger, res FileResult, path string, lc *session.Lifecycle, err error) FileResult {
	if errors.Is(err, store.ErrConflict) {
		prev, gerr := w.store.GetSession(ctx, lc.ID())
		switch {
		case gerr != nil:
		case prev.Origin != lc.Origin():
			if rerr := w.tracker.Release(path); rerr != nil {
				log.Warn("cannot remove lock", "error", rerr)
			}
			return w.fail(log, res, StageSession,
				fmt.Errorf("%w: session %s belongs to %s", session.ErrForeignSession, lc.ID(), prev.Origin))
		case prev.Status == store.StatusTerminated:
			return w.finishImported(log, res, path, true)
		}
	}
	w.tracker.Abandon(path)
	return w.fail(log, res, StageSession, err)
}

// finishImported writes the done marker for a file whose session is already
// terminated. held tells whether this sweep acquired the lock.
func (w *Worker) finishImported(log *slog.Logger, res FileResult, path string, held bool) FileResult {
	var err error
	if held {
		err = w.tracker.Release(path)
	} else {
		err = w.tracker.ClearStale(path)
	}
	if err != nil {
		return w.fail(log, res, StageFinish, err)
	}
	if err := w.tracker.MarkDone(path); err != nil {
		return w.fail(log, res, StageFinish, err)
	}
	log.Info("session already terminated, marking file done", "session_id", res.SessionID)
	return w.skip(res, ReasonAlreadyImported)
}

func (w *Worker) skip(res FileResult, reason string) FileResult {
	res.Outcome = OutcomeSkipped
	res.Reason = reason
	metrics.IncSkipped(reason)
	return res
}

func (w *Worker) fail(log *slog.Logger, res FileResult, stage string, err error) FileResult {
	res.Outcome = OutcomeFailed
	res.Stage = stage
	res.Error = err.Error()
	metrics.IncFailed(stage)
	log.Error("file import failed", "stage", stage, "error", err)
	return res
}
