package scheduler

import (
	"context"
	"errors"
	"time"

	"github.com/go-co-op/gocron"
	"go.uber.org/zap"
)

const DefaultInterval = 15 * time.Minute

// Job is one scheduled run. ctx is cancelled when the scheduler stops.
type Job func(ctx context.Context)

// Scheduler runs a job immediately and then on a fixed interval, never
// overlapping runs.
type Scheduler struct {
	scheduler *gocron.Scheduler
	interval  time.Duration
	job       Job
	logger    *zap.Logger

	ctx    context.Context
	cancel context.CancelFunc
}

func New(interval time.Duration, job Job, logger *zap.Logger) *Scheduler {
	if interval <= 0 {
		interval = DefaultInterval
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	s := gocron.NewScheduler(time.UTC)
	s.SingletonModeAll()
	ctx, cancel := context.WithCancel(context.Background())
	return &Scheduler{
		scheduler: s,
		interval:  interval,
		job:       job,
		logger:    logger,
		ctx:       ctx,
		cancel:    cancel,
	}
}

// Start schedules the job and starts the underlying scheduler.
func (s *Scheduler) Start() error {
	if s.job == nil {
		return errors.New("scheduler: no job configured")
	}
	_, err := s.scheduler.Every(s.interval).Do(func() {
		if s.ctx.Err() != nil {
			return
		}
		start := time.Now()
		s.logger.Debug("scheduled run starting")
		s.job(s.ctx)
		s.logger.Debug("scheduled run complete", zap.Duration("duration", time.Since(start)))
	})
	if err != nil {
		return err
	}
	s.logger.Info("scheduler started", zap.Duration("interval", s.interval))
	s.scheduler.StartAsync()
	return nil
}

// Stop cancels the running job's context and stops future runs.
func (s *Scheduler) Stop() {
	s.cancel()
	if s.scheduler != nil {
		s.scheduler.Stop()
	}
}
