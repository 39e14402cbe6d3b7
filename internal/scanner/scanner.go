package scanner

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"
)

// ErrRootUnreadable is returned when the watched folder itself cannot be listed.
var ErrRootUnreadable = errors.New("scanner: watched folder unreadable")

// Marker suffixes owned by the marker package; files carrying them are never candidates.
var markerSuffixes = []string{".lock", ".done"}

// Candidate is a file discovered during one scan.
type Candidate struct {
	Path         string    `json:"path"`
	Size         int64     `json:"size"`
	Pattern      string    `json:"pattern"`
	DiscoveredAt time.Time `json:"discovered_at"`
}

// Scanner discovers candidate files below a root directory.
type Scanner struct {
	Root    string
	Pattern string
	Logger  *slog.Logger
}

func New(root, pattern string, l *slog.Logger) (*Scanner, error) {
	if strings.TrimSpace(pattern) == "" {
		return nil, errors.New("scanner: empty pattern")
	}
	if _, err := filepath.Match(pattern, ""); err != nil {
		return nil, fmt.Errorf("scanner: invalid pattern %q: %w", pattern, err)
	}
	abs, err := filepath.Abs(root)
	if err != nil {
		return nil, fmt.Errorf("scanner: resolve root: %w", err)
	}
	if l == nil {
		l = slog.Default()
	}
	return &Scanner{Root: abs, Pattern: pattern, Logger: l.With("component", "scanner")}, nil
}

// Find walks the root depth-first and returns every regular file whose base
// name matches the pattern. Unreadable subdirectories are skipped.
// The returned order is unspecified.
func (s *Scanner) Find(ctx context.Context) ([]Candidate, error) {
	info, err := os.Stat(s.Root)
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrRootUnreadable, s.Root, err)
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("%w: %s: not a directory", ErrRootUnreadable, s.Root)
	}
	now := time.Now()
	out := make([]Candidate, 0)
	err = filepath.WalkDir(s.Root, func(path string, d fs.DirEntry, err error) error {
		if cerr := ctx.Err(); cerr != nil {
			return cerr
		}
		if err != nil {
			if path == s.Root {
				return fmt.Errorf("%w: %s: %v", ErrRootUnreadable, s.Root, err)
			}
			s.Logger.Warn("Skipping unreadable path", "path", path, "error", err)
			if d != nil && d.IsDir() {
				return fs.SkipDir
			}
			return nil
		}
		if d.IsDir() || !d.Type().IsRegular() {
			return nil
		}
		name := d.Name()
		if isMarker(name) {
			return nil
		}
		ok, _ := filepath.Match(s.Pattern, name)
		if !ok {
			return nil
		}
		info, err := d.Info()
		if err != nil {
			// removed between listing and stat
			s.Logger.Debug("Skipping vanished file", "path", path, "error", err)
			return nil
		}
		out = append(out, Candidate{Path: path, Size: info.Size(), Pattern: s.Pattern, DiscoveredAt: now})
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// Find is a convenience wrapper for a one-off scan.
func Find(ctx context.Context, root, pattern string) ([]Candidate, error) {
	s, err := New(root, pattern, nil)
	if err != nil {
		return nil, err
	}
	return s.Find(ctx)
}

func isMarker(name string) bool {
	for _, suf := range markerSuffixes {
		if strings.HasSuffix(name, suf) {
			return true
		}
	}
	return false
}
