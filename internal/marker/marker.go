package marker

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"sync"
)

const (
	LockSuffix = ".lock"
	DoneSuffix = ".done"
)

var (
	// ErrLockConflict means the lock marker appeared between Classify and Acquire,
	// i.e. another process is importing the same file.
	ErrLockConflict = errors.New("marker: lock already exists")
	ErrAlreadyDone  = errors.New("marker: done marker already exists")
	ErrStillLocked  = errors.New("marker: file is still locked by this tracker")
	ErrNotStale     = errors.New("marker: lock is held by this tracker")
)

// State is the on-disk processing state of a candidate file.
type State int

const (
	StateReady State = iota
	StateDone
	StateTooSmall
	StateTooLarge
	StateLockedStale
	StateBusy
)

func (s State) String() string {
	switch s {
	case StateReady:
		return "ready"
	case StateDone:
		return "done"
	case StateTooSmall:
		return "too_small"
	case StateTooLarge:
		return "too_large"
	case StateLockedStale:
		return "locked_stale"
	case StateBusy:
		return "busy"
	default:
		return "unknown"
	}
}

// Skip reports whether the file must not be imported in this sweep.
func (s State) Skip() bool {
	return s != StateReady && s != StateLockedStale
}

func LockPath(path string) string { return path + LockSuffix }
func DonePath(path string) string { return path + DoneSuffix }

// Tracker derives and mutates file processing state through sibling marker files.
// MinSize and MaxSize bound the accepted file size in bytes; zero means unbounded.
type Tracker struct {
	MinSize int64
	MaxSize int64

	mu   sync.Mutex
	held map[string]struct{}
}

func NewTracker(minSize, maxSize int64) *Tracker {
	return &Tracker{MinSize: minSize, MaxSize: maxSize, held: make(map[string]struct{})}
}

// Classify checks the done marker, then the size bounds, then the lock marker.
func (t *Tracker) Classify(path string) (State, error) {
	done, err := exists(DonePath(path))
	if err != nil {
		return StateReady, err
	}
	if done {
		return StateDone, nil
	}
	info, err := os.Stat(path)
	if err != nil {
		return StateReady, err
	}
	if t.MinSize > 0 && info.Size() < t.MinSize {
		return StateTooSmall, nil
	}
	if t.MaxSize > 0 && info.Size() > t.MaxSize {
		return StateTooLarge, nil
	}
	locked, err := exists(LockPath(path))
	if err != nil {
		return StateReady, err
	}
	if locked {
		if t.holds(path) {
			return StateBusy, nil
		}
		return StateLockedStale, nil
	}
	return StateReady, nil
}

// Acquire creates the lock marker exclusively.
func (t *Tracker) Acquire(path string) error {
	if err := createExclusive(LockPath(path)); err != nil {
		if errors.Is(err, fs.ErrExist) {
			return fmt.Errorf("%w: %s", ErrLockConflict, LockPath(path))
		}
		return err
	}
	t.mu.Lock()
	t.held[path] = struct{}{}
	t.mu.Unlock()
	return nil
}

// Release removes the lock marker. A missing marker is not an error.
func (t *Tracker) Release(path string) error {
	t.mu.Lock()
	delete(t.held, path)
	t.mu.Unlock()
	if err := os.Remove(LockPath(path)); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return err
	}
	return nil
}

// Abandon forgets a held lock without removing its marker, so the next
// Classify reports the file as stale and it gets re-imported from scratch.
func (t *Tracker) Abandon(path string) {
	t.mu.Lock()
	delete(t.held, path)
	t.mu.Unlock()
}

// ClearStale removes a lock marker left behind by a run that did not finish.
func (t *Tracker) ClearStale(path string) error {
	if t.holds(path) {
		return fmt.Errorf("%w: %s", ErrNotStale, path)
	}
	if err := os.Remove(LockPath(path)); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return err
	}
	return nil
}

// MarkDone creates the done marker exclusively. The lock must be released first.
func (t *Tracker) MarkDone(path string) error {
	if t.holds(path) {
		return fmt.Errorf("%w: %s", ErrStillLocked, path)
	}
	if err := createExclusive(DonePath(path)); err != nil {
		if errors.Is(err, fs.ErrExist) {
			return fmt.Errorf("%w: %s", ErrAlreadyDone, DonePath(path))
		}
		return err
	}
	return nil
}

// Held returns the paths currently locked by this tracker.
func (t *Tracker) Held() []string {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make([]string, 0, len(t.held))
	for p := range t.held {
		out = append(out, p)
	}
	return out
}

func (t *Tracker) holds(path string) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	_, ok := t.held[path]
	return ok
}

func createExclusive(path string) error {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0o644)
	if err != nil {
		return err
	}
	return f.Close()
}

func exists(path string) (bool, error) {
	_, err := os.Stat(path)
	if err == nil {
		return true, nil
	}
	if errors.Is(err, fs.ErrNotExist) {
		return false, nil
	}
	return false, err
}
