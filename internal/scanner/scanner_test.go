package scanner

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"runtime"
	"sort"
	"testing"

	"github.com/stretchr/testify/require"
)

func touch(t *testing.T, path string, size int) {
	t.Helper()
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
	require.NoError(t, os.WriteFile(path, make([]byte, size), 0o644))
}

func paths(cs []Candidate) []string {
	out := make([]string, 0, len(cs))
	for _, c := range cs {
		out = append(out, c.Path)
	}
	sort.Strings(out)
	return out
}

func TestFind_Recursive(t *testing.T) {
	root := t.TempDir()
	touch(t, filepath.Join(root, "trip1.csv"), 10)
	touch(t, filepath.Join(root, "a", "trip2.csv"), 20)
	touch(t, filepath.Join(root, "a", "b", "c", "trip3.csv"), 30)
	touch(t, filepath.Join(root, "a", "notes.txt"), 1)
	touch(t, filepath.Join(root, "trip1.csv.lock"), 0)
	touch(t, filepath.Join(root, "a", "trip2.csv.done"), 0)

	got, err := Find(context.Background(), root, "*.csv")
	require.NoError(t, err)
	require.Equal(t, []string{
		filepath.Join(root, "a", "b", "c", "trip3.csv"),
		filepath.Join(root, "a", "trip2.csv"),
		filepath.Join(root, "trip1.csv"),
	}, paths(got))

	for _, c := range got {
		require.True(t, filepath.IsAbs(c.Path))
		require.Equal(t, "*.csv", c.Pattern)
		require.False(t, c.DiscoveredAt.IsZero())
		if filepath.Base(c.Path) == "trip3.csv" {
			require.EqualValues(t, 30, c.Size)
		}
	}
}

func TestFind_MarkerPatternNeverMatches(t *testing.T) {
	root := t.TempDir()
	touch(t, filepath.Join(root, "trip.csv"), 1)
	touch(t, filepath.Join(root, "trip.csv.lock"), 0)
	touch(t, filepath.Join(root, "trip.csv.done"), 0)

	got, err := Find(context.Background(), root, "trip.csv*")
	require.NoError(t, err)
	require.Equal(t, []string{filepath.Join(root, "trip.csv")}, paths(got))
}

func TestFind_EmptyFolder(t *testing.T) {
	got, err := Find(context.Background(), t.TempDir(), "*.csv")
	require.NoError(t, err)
	require.Empty(t, got)
}

func TestFind_RootMissing(t *testing.T) {
	_, err := Find(context.Background(), filepath.Join(t.TempDir(), "missing"), "*.csv")
	require.Error(t, err)
	require.True(t, errors.Is(err, ErrRootUnreadable))
}

func TestFind_RootNotDirectory(t *testing.T) {
	file := filepath.Join(t.TempDir(), "trip.csv")
	touch(t, file, 1)
	_, err := Find(context.Background(), file, "*.csv")
	require.ErrorIs(t, err, ErrRootUnreadable)
}

func TestFind_RootNotListable(t *testing.T) {
	if runtime.GOOS == "windows" || os.Geteuid() == 0 {
		t.Skip("permission bits not enforced")
	}
	root := t.TempDir()
	touch(t, filepath.Join(root, "trip.csv"), 1)
	require.NoError(t, os.Chmod(root, 0o300))
	t.Cleanup(func() { _ = os.Chmod(root, 0o755) })

	_, err := Find(context.Background(), root, "*.csv")
	require.ErrorIs(t, err, ErrRootUnreadable)
}

func TestFind_BadPattern(t *testing.T) {
	_, err := New(t.TempDir(), "[", nil)
	require.ErrorIs(t, err, filepath.ErrBadPattern)

	_, err = New(t.TempDir(), "  ", nil)
	require.Error(t, err)
}

func TestFind_SkipsUnreadableSubdir(t *testing.T) {
	if runtime.GOOS == "windows" || os.Geteuid() == 0 {
		t.Skip("permission bits not enforced")
	}
	root := t.TempDir()
	touch(t, filepath.Join(root, "ok", "trip.csv"), 1)
	locked := filepath.Join(root, "locked")
	touch(t, filepath.Join(locked, "hidden.csv"), 1)
	require.NoError(t, os.Chmod(locked, 0o000))
	t.Cleanup(func() { _ = os.Chmod(locked, 0o755) })

	got, err := Find(context.Background(), root, "*.csv")
	require.NoError(t, err)
	require.Equal(t, []string{filepath.Join(root, "ok", "trip.csv")}, paths(got))
}

func TestFind_ContextCancelled(t *testing.T) {
	root := t.TempDir()
	touch(t, filepath.Join(root, "trip.csv"), 1)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := Find(ctx, root, "*.csv")
	require.ErrorIs(t, err, context.Canceled)
}
