package cleanup

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"docscan/internal/pagesource"
)

func touch(t *testing.T, path string, dir bool, mtime time.Time) {
	t.Helper()
	if dir {
		require.NoError(t, os.MkdirAll(path, 0o700))
		require.NoError(t, os.WriteFile(filepath.Join(path, "page.jpg"), []byte("x"), 0o600))
	} else {
		require.NoError(t, os.WriteFile(path, []byte("x"), 0o600))
	}
	require.NoError(t, os.Chtimes(path, mtime, mtime))
}

func TestSweepRemovesOnlyStaleEntries(t *testing.T) {
	dir := t.TempDir()
	now := time.Date(2024, 5, 1, 3, 0, 0, 0, time.UTC)

	stale := filepath.Join(dir, pagesource.TempDirPrefix+"old")
	fresh := filepath.Join(dir, pagesource.TempDirPrefix+"new")
	foreign := filepath.Join(dir, "upload-cache")
	stalePDF := filepath.Join(dir, "merged.pdf")

	touch(t, stale, true, now.Add(-48*time.Hour))
	touch(t, stalePDF, false, now.Add(-25*time.Hour))
	touch(t, fresh, true, now.Add(-time.Hour))
	touch(t, foreign, false, now.Add(-72*time.Hour))

	s := NewSweeper(dir, 24*time.Hour)
	s.now = func() time.Time { return now }

	report, err := s.Sweep(context.Background())
	require.NoError(t, err)
	require.ElementsMatch(t, []string{stale, stalePDF}, report.Removed)
	require.Equal(t, 1, report.Kept)
	require.Empty(t, report.Errors)

	require.NoDirExists(t, stale)
	require.NoFileExists(t, stalePDF)
	require.DirExists(t, fresh)
	require.FileExists(t, foreign)
}

func TestSweepMissingDir(t *testing.T) {
	s := NewSweeper(filepath.Join(t.TempDir(), "absent"), time.Hour)
	report, err := s.Sweep(context.Background())
	require.NoError(t, err)
	require.Empty(t, report.Removed)
}

func TestSweepCanceled(t *testing.T) {
	dir := t.TempDir()
	touch(t, filepath.Join(dir, pagesource.TempDirPrefix+"a"), true, time.Now().Add(-48*time.Hour))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := NewSweeper(dir, time.Hour).Sweep(ctx)
	require.ErrorIs(t, err, context.Canceled)
}

func TestSchedulerRejectsBadSpec(t *testing.T) {
	_, err := NewScheduler(NewSweeper(t.TempDir(), time.Hour), "every day")
	require.Error(t, err)
}

func TestSchedulerLifecycle(t *testing.T) {
	s, err := NewScheduler(NewSweeper(t.TempDir(), time.Hour), "0 3 * * *")
	require.NoError(t, err)

	s.Start()
	require.Eventually(t, func() bool { return !s.Next().IsZero() }, time.Second, 10*time.Millisecond)
	require.Equal(t, 3, s.Next().Hour())

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	s.Stop(ctx)
}

func TestSchedulerRunSweeps(t *testing.T) {
	dir := t.TempDir()
	stale := filepath.Join(dir, pagesource.TempDirPrefix+"old")
	touch(t, stale, true, time.Now().Add(-48*time.Hour))

	s, err := NewScheduler(NewSweeper(dir, time.Hour), "@hourly")
	require.NoError(t, err)

	s.run()
	require.NoDirExists(t, stale)
}
