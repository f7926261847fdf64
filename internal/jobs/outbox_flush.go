package jobs

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/go-co-op/gocron"
)

// Flusher is the part of the progress sync client the job drives.
type Flusher interface {
	Restore(ctx context.Context) (int, error)
	Flush(ctx context.Context) int
	Pending() int
}

// OutboxFlushJob periodically retries step-completion writes that exhausted
// their attempts and were parked in the outbox.
type OutboxFlushJob struct {
	scheduler *gocron.Scheduler
	flusher   Flusher
	interval  time.Duration
	logger    *slog.Logger
}

func NewOutboxFlushJob(flusher Flusher, interval time.Duration, logger *slog.Logger) *OutboxFlushJob {
	return &OutboxFlushJob{
		scheduler: gocron.NewScheduler(time.UTC),
		flusher:   flusher,
		interval:  interval,
		logger:    logger,
	}
}

// Start reloads the outbox once and then schedules the flush.
func (j *OutboxFlushJob) Start(ctx context.Context) error {
	restored, err := j.flusher.Restore(ctx)
	if err != nil {
		return fmt.Errorf("restore outbox: %w", err)
	}
	if restored > 0 {
		j.logger.Info("Restored pending progress commands", "count", restored)
	}

	if _, err := j.scheduler.Every(j.interval).SingletonMode().Do(j.Run); err != nil {
		return fmt.Errorf("schedule outbox flush: %w", err)
	}
	j.scheduler.StartAsync()
	j.logger.Info("Outbox flush job started", "interval", j.interval.String())
	return nil
}

// Run flushes once.
func (j *OutboxFlushJob) Run() {
	ctx, cancel := context.WithTimeout(context.Background(), j.interval)
	defer cancel()

	if kicked := j.flusher.Flush(ctx); kicked > 0 {
		j.logger.Info("Retrying parked progress commands",
			"queues", kicked,
			"pending", j.flusher.Pending())
	}
}

func (j *OutboxFlushJob) Stop() {
	j.scheduler.Stop()
}
