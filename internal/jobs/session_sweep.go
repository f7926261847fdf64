package jobs

import (
	"fmt"
	"log/slog"
	"time"

	"github.com/go-co-op/gocron"
)

// Evictor closes sessions that have not been used for a while.
type Evictor interface {
	EvictIdle(maxIdle time.Duration) int
}

// SessionSweepJob periodically closes abandoned sessions.
type SessionSweepJob struct {
	scheduler *gocron.Scheduler
	evictor   Evictor
	interval  time.Duration
	maxIdle   time.Duration
	logger    *slog.Logger
}

func NewSessionSweepJob(evictor Evictor, interval, maxIdle time.Duration, logger *slog.Logger) *SessionSweepJob {
	return &SessionSweepJob{
		scheduler: gocron.NewScheduler(time.UTC),
		evictor:   evictor,
		interval:  interval,
		maxIdle:   maxIdle,
		logger:    logger,
	}
}

func (j *SessionSweepJob) Start() error {
	if _, err := j.scheduler.Every(j.interval).SingletonMode().Do(j.Run); err != nil {
		return fmt.Errorf("schedule session sweep: %w", err)
	}
	j.scheduler.StartAsync()
	j.logger.Info("Session sweep job started",
		"interval", j.interval.String(),
		"max_idle", j.maxIdle.String())
	return nil
}

// Run sweeps once.
func (j *SessionSweepJob) Run() {
	if evicted := j.evictor.EvictIdle(j.maxIdle); evicted > 0 {
		j.logger.Info("Closed idle sessions", "count", evicted)
	}
}

func (j *SessionSweepJob) Stop() {
	j.scheduler.Stop()
}
