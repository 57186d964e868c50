package pipeline

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/withObsrvr/retail-sync/internal/logging"
)

// Job is anything that can perform one run. *Runner implements it.
type Job interface {
	Run(ctx context.Context, req Request) (*Result, error)
}

// Scheduler triggers a run immediately and then every interval. Each tick
// starts an independent run; a tick that finds the previous run still
// holding the lock is reported as busy and skipped.
type Scheduler struct {
	job      Job
	interval time.Duration
	req      Request
	log      *slog.Logger

	// OnResult, when set, is called after every run.
	OnResult func(*Result, error)
}

// NewScheduler creates a scheduler for req.
func NewScheduler(job Job, interval time.Duration, req Request) *Scheduler {
	return &Scheduler{
		job:      job,
		interval: interval,
		req:      req,
		log:      logging.Component("scheduler"),
	}
}

// Run blocks until ctx is done, then waits for in-flight runs to return.
func (s *Scheduler) Run(ctx context.Context) error {
	if s.interval <= 0 {
		return errors.New("scheduler: interval must be positive")
	}
	s.log.Info("starting", "interval", s.interval.String(), "destination", s.req.Destination)

	var wg sync.WaitGroup
	trigger := func() {
		wg.Add(1)
		go func() {
			defer wg.Done()
			res, err := s.job.Run(ctx, s.req)
			if s.OnResult != nil {
				s.OnResult(res, err)
			}
		}()
	}

	trigger()
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			s.log.Info("stopping, waiting for in-flight runs")
			wg.Wait()
			return nil
		case <-ticker.C:
			trigger()
		}
	}
}
