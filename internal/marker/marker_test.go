package marker

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
)

func writeFile(t *testing.T, dir, name string, size int) string {
	t.Helper()
	p := filepath.Join(dir, name)
	if err := os.WriteFile(p, make([]byte, size), 0o644); err != nil {
		t.Fatalf("write %s: %v", p, err)
	}
	return p
}

func mustExist(t *testing.T, p string, want bool) {
	t.Helper()
	_, err := os.Stat(p)
	if got := err == nil; got != want {
		t.Fatalf("exists(%s)=%v, want %v (err=%v)", p, got, want, err)
	}
}

func classify(t *testing.T, tr *Tracker, p string) State {
	t.Helper()
	st, err := tr.Classify(p)
	if err != nil {
		t.Fatalf("classify %s: %v", p, err)
	}
	return st
}

func TestClassify_Ready(t *testing.T) {
	p := writeFile(t, t.TempDir(), "trip.csv", 100)
	if st := classify(t, NewTracker(0, 0), p); st != StateReady {
		t.Fatalf("expected ready, got %s", st)
	}
}

func TestClassify_DoneWinsOverEverything(t *testing.T) {
	dir := t.TempDir()
	p := writeFile(t, dir, "trip.csv", 1)
	writeFile(t, dir, "trip.csv.done", 0)
	writeFile(t, dir, "trip.csv.lock", 0)
	if st := classify(t, NewTracker(1000, 0), p); st != StateDone {
		t.Fatalf("expected done, got %s", st)
	}
}

func TestClassify_SizeBounds(t *testing.T) {
	dir := t.TempDir()
	p := writeFile(t, dir, "trip.csv", 50)
	tr := NewTracker(100, 200)
	if st := classify(t, tr, p); st != StateTooSmall {
		t.Fatalf("expected too_small, got %s", st)
	}
	// the file grows into range and becomes eligible
	writeFile(t, dir, "trip.csv", 150)
	if st := classify(t, tr, p); st != StateReady {
		t.Fatalf("expected ready, got %s", st)
	}
	writeFile(t, dir, "trip.csv", 250)
	if st := classify(t, tr, p); st != StateTooLarge {
		t.Fatalf("expected too_large, got %s", st)
	}
	// boundaries are inclusive
	writeFile(t, dir, "trip.csv", 200)
	if st := classify(t, tr, p); st != StateReady {
		t.Fatalf("expected ready at max bound, got %s", st)
	}
	writeFile(t, dir, "trip.csv", 100)
	if st := classify(t, tr, p); st != StateReady {
		t.Fatalf("expected ready at min bound, got %s", st)
	}
	mustExist(t, LockPath(p), false)
	mustExist(t, DonePath(p), false)
}

func TestClassify_SizeCheckedBeforeLock(t *testing.T) {
	dir := t.TempDir()
	p := writeFile(t, dir, "trip.csv", 1)
	writeFile(t, dir, "trip.csv.lock", 0)
	if st := classify(t, NewTracker(10, 0), p); st != StateTooSmall {
		t.Fatalf("expected too_small, got %s", st)
	}
}

func TestClassify_StaleVsBusy(t *testing.T) {
	dir := t.TempDir()
	p := writeFile(t, dir, "trip.csv", 1)
	writeFile(t, dir, "trip.csv.lock", 0)
	tr := NewTracker(0, 0)
	if st := classify(t, tr, p); st != StateLockedStale {
		t.Fatalf("expected locked_stale, got %s", st)
	}
	if err := tr.ClearStale(p); err != nil {
		t.Fatalf("clear stale: %v", err)
	}
	mustExist(t, LockPath(p), false)
	if err := tr.Acquire(p); err != nil {
		t.Fatalf("acquire: %v", err)
	}
	if st := classify(t, tr, p); st != StateBusy {
		t.Fatalf("expected busy while held, got %s", st)
	}
	if err := tr.ClearStale(p); !errors.Is(err, ErrNotStale) {
		t.Fatalf("expected ErrNotStale, got %v", err)
	}
}

func TestClassify_MissingFile(t *testing.T) {
	if _, err := NewTracker(0, 0).Classify(filepath.Join(t.TempDir(), "nope.csv")); err == nil {
		t.Fatalf("expected error for missing file")
	}
}

func TestAcquire_Conflict(t *testing.T) {
	dir := t.TempDir()
	p := writeFile(t, dir, "trip.csv", 1)
	writeFile(t, dir, "trip.csv.lock", 0)
	err := NewTracker(0, 0).Acquire(p)
	if !errors.Is(err, ErrLockConflict) {
		t.Fatalf("expected ErrLockConflict, got %v", err)
	}
}

func TestLifecycle_AcquireReleaseDone(t *testing.T) {
	p := writeFile(t, t.TempDir(), "trip.csv", 1)
	tr := NewTracker(0, 0)
	if err := tr.Acquire(p); err != nil {
		t.Fatalf("acquire: %v", err)
	}
	mustExist(t, LockPath(p), true)
	if fi, err := os.Stat(LockPath(p)); err != nil || fi.Size() != 0 {
		t.Fatalf("lock marker must be empty: %v %v", fi, err)
	}
	if err := tr.MarkDone(p); !errors.Is(err, ErrStillLocked) {
		t.Fatalf("expected ErrStillLocked, got %v", err)
	}
	if err := tr.Release(p); err != nil {
		t.Fatalf("release: %v", err)
	}
	if err := tr.Release(p); err != nil {
		t.Fatalf("second release should be a no-op: %v", err)
	}
	if err := tr.MarkDone(p); err != nil {
		t.Fatalf("mark done: %v", err)
	}
	mustExist(t, LockPath(p), false)
	mustExist(t, DonePath(p), true)
	if err := tr.MarkDone(p); !errors.Is(err, ErrAlreadyDone) {
		t.Fatalf("expected ErrAlreadyDone, got %v", err)
	}
	if st := classify(t, tr, p); st != StateDone {
		t.Fatalf("expected done, got %s", st)
	}
}

func TestAbandon_LeavesMarkerForRecovery(t *testing.T) {
	p := writeFile(t, t.TempDir(), "trip.csv", 1)
	tr := NewTracker(0, 0)
	if err := tr.Acquire(p); err != nil {
		t.Fatalf("acquire: %v", err)
	}
	tr.Abandon(p)
	mustExist(t, LockPath(p), true)
	if len(tr.Held()) != 0 {
		t.Fatalf("expected no held locks, got %v", tr.Held())
	}
	if st := classify(t, tr, p); st != StateLockedStale {
		t.Fatalf("expected locked_stale after abandon, got %s", st)
	}
}

func TestStateSkip(t *testing.T) {
	cases := map[State]bool{
		StateReady:       false,
		StateLockedStale: false,
		StateDone:        true,
		StateTooSmall:    true,
		StateTooLarge:    true,
		StateBusy:        true,
	}
	for st, want := range cases {
		if st.Skip() != want {
			t.Fatalf("%s.Skip()=%v, want %v", st, st.Skip(), want)
		}
	}
}
