package metrics

import (
	"errors"
	"net/http"
	"sync/atomic"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "torquelog"

// Package-level Prometheus collectors. They are registered via Register.
var (
	regOK atomic.Bool

	filesDiscovered = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "files_discovered_total",
			Help:      "Number of candidate log files found by folder sweeps.",
		},
	)
	filesSkipped = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "files_skipped_total",
			Help:      "Number of candidate files skipped, by reason.",
		}, []string{"reason"},
	)
	filesImported = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "files_imported_total",
			Help:      "Number of files fully imported and marked done.",
		},
	)
	filesRecovered = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "files_recovered_total",
			Help:      "Number of files re-imported after a stale lock.",
		},
	)
	filesFailed = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "files_failed_total",
			Help:      "Number of files whose import failed, by stage.",
		}, []string{"stage"},
	)
	readingsRead = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "readings_read_total",
			Help:      "Number of readings decoded from log files.",
		},
	)
	readingsKept = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "readings_kept_total",
			Help:      "Number of readings stored after downsampling.",
		},
	)
	sweepDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "sweep_duration_seconds",
			Help:      "Duration of one folder sweep.",
			Buckets:   prometheus.DefBuckets,
		},
	)
	sessionTransitions = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "session_transitions_total",
			Help:      "Number of session lifecycle transitions.",
		}, []string{"from", "to"},
	)
	lastSweep = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "last_sweep_timestamp_seconds",
			Help:      "Unix time of the last completed sweep.",
		},
	)
)

// Register registers all metrics with the provided registerer.
// It is safe to call multiple times; subsequent calls after success are no-ops.
func Register(r prometheus.Registerer) error {
	if regOK.Load() {
		return nil
	}
	cs := []prometheus.Collector{
		filesDiscovered, filesSkipped, filesImported, filesRecovered, filesFailed,
		readingsRead, readingsKept, sweepDuration, sessionTransitions, lastSweep,
	}
	for _, c := range cs {
		if err := r.Register(c); err != nil {
			// If already registered, ignore (allows double Register with default registry)
			var are prometheus.AlreadyRegisteredError
			if errors.As(err, &are) {
				continue
			}
			return err
		}
	}
	regOK.Store(true)
	return nil
}

// Handler returns an http.Handler that serves Prometheus metrics for the DefaultGatherer.
// The caller is responsible for starting an HTTP server and wiring the route.
func Handler() http.Handler { return promhttp.Handler() }

// Below are lightweight helpers used by internal packages to record metrics.
// They no-op if Register hasn't been called.

func AddDiscovered(n int) {
	if regOK.Load() {
		filesDiscovered.Add(float64(n))
	}
}

func IncSkipped(reason string) {
	if regOK.Load() {
		filesSkipped.WithLabelValues(reason).Inc()
	}
}

func IncImported() {
	if regOK.Load() {
		filesImported.Inc()
	}
}

func IncRecovered() {
	if regOK.Load() {
		filesRecovered.Inc()
	}
}

func IncFailed(stage string) {
	if regOK.Load() {
		filesFailed.WithLabelValues(stage).Inc()
	}
}

func AddReadings(read, kept int64) {
	if regOK.Load() {
		readingsRead.Add(float64(read))
		readingsKept.Add(float64(kept))
	}
}

func ObserveSweep(d time.Duration, at time.Time) {
	if regOK.Load() {
		sweepDuration.Observe(d.Seconds())
		lastSweep.Set(float64(at.Unix()))
	}
}

func RecordSessionTransition(from, to string) {
	if regOK.Load() {
		sessionTransitions.WithLabelValues(from, to).Inc()
	}
}
