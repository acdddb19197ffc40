// Package cleanup removes render scratch directories that outlived their run, for example
// after a crash or a killed pdftoppm.
package cleanup

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"docscan/internal/logger"
	"docscan/internal/pagesource"
)

// Report summarizes one sweep.
type Report struct {
	Removed []string
	Kept    int
	Errors  []error
}

// Sweeper deletes entries in Dir whose name matches one of Patterns and that are older
// than MaxAge.
type Sweeper struct {
	Dir      string
	Patterns []string // filepath.Match patterns
	MaxAge   time.Duration
	now      func() time.Time
}

// NewSweeper targets render directories created by the Poppler rasterizer and
// temporary PDF files.
func NewSweeper(dir string, maxAge time.Duration) *Sweeper {
	return &Sweeper{
		Dir:      dir,
		Patterns: []string{pagesource.TempDirPrefix + "*", "*.pdf"},
		MaxAge:   maxAge,
		now:      time.Now,
	}
}

func (s *Sweeper) matches(name string) bool {
	for _, pattern := range s.Patterns {
		if ok, _ := filepath.Match(pattern, name); ok {
			return true
		}
	}
	return false
}

// Sweep runs one pass. A missing Dir is not an error.
func (s *Sweeper) Sweep(ctx context.Context) (Report, error) {
	var report Report

	entries, err := os.ReadDir(s.Dir)
	if errors.Is(err, os.ErrNotExist) {
		return report, nil
	}
	if err != nil {
		return report, fmt.Errorf("read %s: %w", s.Dir, err)
	}

	cutoff := s.now().Add(-s.MaxAge)
	for _, entry := range entries {
		if err := ctx.Err(); err != nil {
			return report, err
		}
		if !s.matches(entry.Name()) {
			continue
		}
		info, err := entry.Info()
		if err != nil {
			// removed concurrently
			continue
		}
		if info.ModTime().After(cutoff) {
			report.Kept++
			continue
		}

		path := filepath.Join(s.Dir, entry.Name())
		if err := os.RemoveAll(path); err != nil {
			report.Errors = append(report.Errors, err)
			continue
		}
		report.Removed = append(report.Removed, path)
	}
	return report, nil
}

// Scheduler runs a Sweeper on a cron schedule.
type Scheduler struct {
	cron    *cron.Cron
	sweeper *Sweeper
	entry   cron.EntryID

	mu      sync.Mutex
	running bool
}

// NewScheduler validates spec (standard five-field cron) and registers the sweep.
func NewScheduler(sweeper *Sweeper, spec string) (*Scheduler, error) {
	s := &Scheduler{cron: cron.New(), sweeper: sweeper}

	entry, err := s.cron.AddFunc(spec, s.run)
	if err != nil {
		return nil, fmt.Errorf("failed to add cleanup job: %w", err)
	}
	s.entry = entry
	return s, nil
}

func (s *Scheduler) run() {
	log := logger.WithComponent("cleanup")

	s.mu.Lock()
	if s.running {
		s.mu.Unlock()
		log.Debug().Msg("Previous sweep still running, skipping")
		return
	}
	s.running = true
	s.mu.Unlock()

	defer func() {
		s.mu.Lock()
		s.running = false
		s.mu.Unlock()
	}()

	report, err := s.sweeper.Sweep(context.Background())
	if err != nil {
		log.Error().Err(err).Str("dir", s.sweeper.Dir).Msg("Temp sweep failed")
		return
	}
	event := log.Info()
	if len(report.Errors) > 0 {
		event = log.Warn().Errs("errors", report.Errors)
	}
	event.
		Int("removed", len(report.Removed)).
		Int("kept", report.Kept).
		Str("dir", s.sweeper.Dir).
		Msg("Temp sweep finished")
}

// Next reports when the sweep fires next; zero before Start.
func (s *Scheduler) Next() time.Time {
	return s.cron.Entry(s.entry).Next
}

func (s *Scheduler) Start() {
	l := logger.WithComponent("cleanup")
	l.Info().Msg("Starting temp cleanup scheduler")
	s.cron.Start()
}

// Stop halts scheduling and waits for a running sweep to finish or ctx to expire.
func (s *Scheduler) Stop(ctx context.Context) {
	done := s.cron.Stop()
	select {
	case <-done.Done():
	case <-ctx.Done():
	}
	l := logger.WithComponent("cleanup")
	l.Info().Msg("Temp cleanup scheduler stopped")
}
