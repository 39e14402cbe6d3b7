package scheduler

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync/atomic"
	"time"
)

// Task is one unit of periodic work.
type Task interface {
	Name() string
	RunOnce(ctx context.Context) error
}

// Scheduler runs a Task every interval until its context is cancelled.
// Runs never overlap: the next wait starts after the previous run returns.
type Scheduler struct {
	task  Task
	every time.Duration
	log   *slog.Logger

	running atomic.Bool
	runs    atomic.Int64
	fails   atomic.Int64
}

func New(task Task, every time.Duration, l *slog.Logger) (*Scheduler, error) {
	if task == nil {
		return nil, errors.New("scheduler: nil task")
	}
	if every <= 0 {
		return nil, fmt.Errorf("scheduler: interval must be > 0, got %s", every)
	}
	if l == nil {
		l = slog.Default()
	}
	return &Scheduler{
		task:  task,
		every: every,
		log:   l.With("component", "scheduler", "task", task.Name()),
	}, nil
}

func (s *Scheduler) Every() time.Duration { return s.every }

// Runs returns how many times the task has been run.
func (s *Scheduler) Runs() int64 { return s.runs.Load() }

// Failures returns how many runs returned an error.
func (s *Scheduler) Failures() int64 { return s.fails.Load() }

// Run waits one interval, runs the task, and repeats. It returns nil once ctx
// is cancelled. A task error is logged and the loop continues.
func (s *Scheduler) Run(ctx context.Context) error {
	if !s.running.CompareAndSwap(false, true) {
		return errors.New("scheduler already started")
	}
	defer s.running.Store(false)

	t := time.NewTimer(s.every)
	defer t.Stop()
	s.log.Info("scheduler started", "every", s.every.String())
	for {
		select {
		case <-ctx.Done():
			s.log.Info("scheduler stopped", "runs", s.runs.Load())
			return nil
		case <-t.C:
		}
		// a tick may race with cancellation; cancellation wins
		if ctx.Err() != nil {
			continue
		}
		s.runs.Add(1)
		if err := s.task.RunOnce(ctx); err != nil {
			s.fails.Add(1)
			s.log.Error("task run failed", "error", err)
		}
		// the timer fired and was drained, so Reset starts a full wait
		t.Reset(s.every)
	}
}

// ParseEvery parses schedules of the form "@every <duration>" or a bare Go
// duration such as "30s".
func ParseEvery(expr string) (time.Duration, error) {
	expr = strings.TrimSpace(expr)
	durStr := expr
	if strings.HasPrefix(expr, "@every") {
		durStr = strings.TrimSpace(strings.TrimPrefix(expr, "@every"))
	} else if strings.HasPrefix(expr, "@") {
		return 0, fmt.Errorf("unsupported schedule: %s (only @every <duration> supported)", expr)
	}
	if durStr == "" {
		return 0, fmt.Errorf("empty schedule")
	}
	d, err := time.ParseDuration(durStr)
	if err != nil {
		return 0, fmt.Errorf("invalid @every duration: %w", err)
	}
	if d <= 0 {
		return 0, fmt.Errorf("@every duration must be > 0")
	}
	return d, nil
}
