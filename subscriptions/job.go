package subscriptions

import (
	"context"
	"log/slog"
	"time"

	"github.com/food-bundles/food-bundles-bn-sub001/logging"
)

// Job runs SweepExpired on a fixed interval until its context ends.
type Job struct {
	svc      *Service
	interval time.Duration
	logger   *slog.Logger
}

func NewJob(svc *Service, interval time.Duration) *Job {
	if interval <= 0 {
		interval = time.Hour
	}
	return &Job{svc: svc, interval: interval, logger: logging.New("subscription_sweeper")}
}

func (j *Job) Run(ctx context.Context) {
	ticker := time.NewTicker(j.interval)
	defer ticker.Stop()
	j.logger.Info("subscription sweeper started", "interval", j.interval.String())
	for {
		select {
		case <-ctx.Done():
			j.logger.Info("subscription sweeper stopped")
			return
		case <-ticker.C:
			if _, err := j.svc.SweepExpired(ctx, j.svc.now()); err != nil {
				j.logger.Error("subscription sweep failed", "err", err)
			}
		}
	}
}
