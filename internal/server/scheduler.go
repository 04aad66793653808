package server

import (
	"context"
	"fmt"
	"time"

	"github.com/robfig/cron/v3"
	"go.uber.org/zap"
)

// Scheduler runs periodic jobs as a lifecycle Service. Jobs share one cron
// runner; a job that is still running when its next tick arrives skips that
// tick instead of overlapping itself.
type Scheduler struct {
	cron *cron.Cron
	log  *zap.Logger
	done chan struct{}
}

// NewScheduler creates an empty Scheduler.
func NewScheduler(log *zap.Logger) *Scheduler {
	return &Scheduler{
		cron: cron.New(cron.WithChain(cron.SkipIfStillRunning(cron.DiscardLogger))),
		log:  log,
		done: make(chan struct{}),
	}
}

// AddEvery schedules job to run every interval. The context passed to job is
// cancelled when the scheduler stops.
//
// Precondition: interval must be positive. Must be called before Start.
func (s *Scheduler) AddEvery(name string, interval time.Duration, job func(ctx context.Context)) error {
	if interval <= 0 {
		return fmt.Errorf("job %s: interval must be positive, got %s", name, interval)
	}
	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		<-s.done
		cancel()
	}()
	_, err := s.cron.AddFunc(fmt.Sprintf("@every %s", interval), func() {
		started := time.Now()
		job(ctx)
		s.log.Debug("periodic job ran",
			zap.String("job", name),
			zap.Duration("elapsed", time.Since(started)),
		)
	})
	if err != nil {
		return fmt.Errorf("scheduling job %s: %w", name, err)
	}
	return nil
}

// Start runs the scheduler until Stop is called.
func (s *Scheduler) Start() error {
	s.cron.Start()
	<-s.done
	return nil
}

// Stop halts scheduling and waits for in-flight jobs to finish.
func (s *Scheduler) Stop() {
	close(s.done)
	<-s.cron.Stop().Done()
}
