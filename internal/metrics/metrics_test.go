package metrics

import (
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"
)

func value(t *testing.T, m prometheus.Metric) float64 {
	t.Helper()
	var out dto.Metric
	if err := m.Write(&out); err != nil {
		t.Fatalf("write metric: %v", err)
	}
	if out.Counter != nil {
		return out.GetCounter().GetValue()
	}
	return out.GetGauge().GetValue()
}

func TestRegisterIdempotentAndCountersWork(t *testing.T) {
	regOK.Store(false)
	reg := prometheus.NewRegistry()
	if err := Register(reg); err != nil {
		t.Fatalf("first register: %v", err)
	}
	// idempotent: calling again should be no-op
	if err := Register(reg); err != nil {
		t.Fatalf("second register: %v", err)
	}

	AddDiscovered(3)
	IncSkipped("done")
	IncSkipped("too_small")
	IncImported()
	IncRecovered()
	IncFailed("ingest")
	AddReadings(10, 4)
	ObserveSweep(250*time.Millisecond, time.Unix(1700000000, 0))
	RecordSessionTransition("CREATED", "ONGOING")

	mfs, err := reg.Gather()
	if err != nil {
		t.Fatalf("gather: %v", err)
	}
	wantNames := map[string]bool{
		"torquelog_files_discovered_total":       false,
		"torquelog_files_skipped_total":          false,
		"torquelog_files_imported_total":         false,
		"torquelog_files_recovered_total":        false,
		"torquelog_files_failed_total":           false,
		"torquelog_readings_read_total":          false,
		"torquelog_readings_kept_total":          false,
		"torquelog_sweep_duration_seconds":       false,
		"torquelog_session_transitions_total":    false,
		"torquelog_last_sweep_timestamp_seconds": false,
	}
	for _, mf := range mfs {
		n := mf.GetName()
		if _, ok := wantNames[n]; ok {
			wantNames[n] = true
			if len(mf.GetMetric()) == 0 {
				t.Fatalf("metric %s has no samples", n)
			}
		}
	}
	for n, ok := range wantNames {
		if !ok {
			t.Fatalf("expected to find metric %s", n)
		}
	}
	if got := value(t, lastSweep); got != 1700000000 {
		t.Fatalf("unexpected last sweep gauge: %v", got)
	}
}

func TestHelpersNoopBeforeRegister(t *testing.T) {
	original := regOK.Load()
	regOK.Store(false)
	defer regOK.Store(original)

	before := value(t, filesImported)
	IncImported()
	AddReadings(5, 5)
	RecordSessionTransition("ABSENT", "CREATED")
	if after := value(t, filesImported); after != before {
		t.Fatalf("expected no-op before Register, got %v -> %v", before, after)
	}
}

func TestHandlerServesMetrics(t *testing.T) {
	// Reset regOK gate to allow registration in this test regardless of previous tests.
	regOK.Store(false)
	if err := Register(prometheus.DefaultRegisterer); err != nil {
		t.Fatal(err)
	}

	srv := httptest.NewServer(Handler())
	defer srv.Close()

	IncImported()

	resp, err := http.Get(srv.URL)
	if err != nil {
		t.Fatalf("GET: %v", err)
	}
	defer func() { _ = resp.Body.Close() }()
	if resp.StatusCode != 200 {
		t.Fatalf("status: %d", resp.StatusCode)
	}
	b, _ := io.ReadAll(resp.Body)
	s := string(b)
	if !strings.Contains(s, "torquelog_files_imported_total") {
		t.Fatalf("metrics output missing files_imported_total: %s", s[:min(200, len(s))])
	}
}

func TestConcurrentIncrements(t *testing.T) {
	regOK.Store(false)
	reg := prometheus.NewRegistry()
	if err := Register(reg); err != nil {
		t.Fatal(err)
	}
	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			IncSkipped("busy")
			IncFailed("store")
			RecordSessionTransition("ONGOING", "TERMINATED")
		}()
	}
	wg.Wait()
	if _, err := reg.Gather(); err != nil {
		t.Fatalf("gather: %v", err)
	}
}
