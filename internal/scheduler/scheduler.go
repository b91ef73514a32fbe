// Package scheduler runs the sync engines on cron schedules inside the
// serve process.
package scheduler

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/go-co-op/gocron"
	"github.com/sirupsen/logrus"
)

// RunFunc is one scheduled run of an engine.
type RunFunc func(ctx context.Context) error

// Scheduler serialises every job it runs: two jobs never overlap, and a
// job whose previous run is still going is skipped by gocron.
type Scheduler struct {
	cron   *gocron.Scheduler
	logger *logrus.Logger
	// runMu is held for the whole of a run.
	runMu sync.Mutex
}

func New(logger *logrus.Logger) *Scheduler {
	if logger == nil {
		logger = logrus.New()
	}
	return &Scheduler{
		cron:   gocron.NewScheduler(time.UTC),
		logger: logger,
	}
}

// Add schedules run under a cron expression. An empty expression is ignored.
func (s *Scheduler) Add(ctx context.Context, name, expr string, run RunFunc) error {
	if expr == "" {
		return nil
	}
	if _, err := s.cron.Cron(expr).SingletonMode().Tag(name).Do(s.run, ctx, name, run); err != nil {
		return fmt.Errorf("schedule %s (%q): %w", name, expr, err)
	}
	s.logger.WithField("job", name).Infof("Scheduled with %q", expr)
	return nil
}

func (s *Scheduler) run(ctx context.Context, name string, run RunFunc) {
	s.runMu.Lock()
	defer s.runMu.Unlock()

	if ctx.Err() != nil {
		return
	}
	log := s.logger.WithField("job", name)
	start := time.Now()
	log.Info("Run started")
	if err := run(ctx); err != nil {
		log.WithError(err).Error("Run failed")
		return
	}
	log.WithField("elapsed", time.Since(start).Round(time.Millisecond)).Info("Run finished")
}

func (s *Scheduler) Len() int { return s.cron.Len() }

func (s *Scheduler) Start() { s.cron.StartAsync() }

// Stop halts scheduling and waits for a run in progress to finish.
func (s *Scheduler) Stop() {
	s.cron.Stop()
	s.runMu.Lock()
	defer s.runMu.Unlock()
}
