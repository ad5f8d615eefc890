package jobs

import (
	"context"
	"time"

	"go.uber.org/zap"
)

// FollowUpJobName is the name of the stale qualified lead reminder job
const FollowUpJobName = "lead_follow_up"

// FollowUpService defines what the job needs from the follow-up service
type FollowUpService interface {
	// RunOnce sends reminders for leads that went stale before now
	RunOnce(ctx context.Context, now time.Time) (sent int, failed int, err error)
}

// FollowUpJob sends reminders to qualified leads that have not moved on
type FollowUpJob struct {
	service FollowUpService
	logger  *zap.Logger
	timeout time.Duration
	now     func() time.Time
}

// NewFollowUpJob creates the job. The timeout bounds one run.
func NewFollowUpJob(service FollowUpService, logger *zap.Logger, timeout time.Duration) *FollowUpJob {
	return &FollowUpJob{
		service: service,
		logger:  logger,
		timeout: timeout,
		now:     time.Now,
	}
}

// Run executes one sweep. Called by the scheduler.
func (j *FollowUpJob) Run() {
	ctx, cancel := context.WithTimeout(context.Background(), j.timeout)
	defer cancel()

	start := time.Now()
	sent, failed, err := j.service.RunOnce(ctx, j.now().UTC())
	if err != nil {
		j.logger.Error("lead follow-up run failed",
			zap.Int("reminders_sent", sent),
			zap.Int("reminders_failed", failed),
			zap.Error(err),
			zap.Duration("duration", time.Since(start)))
		return
	}

	j.logger.Info("lead follow-up run completed",
		zap.Int("reminders_sent", sent),
		zap.Int("reminders_failed", failed),
		zap.Duration("duration", time.Since(start)))
}

// RegisterFollowUpJob registers the reminder job with the scheduler.
// The cronExpr uses the six-field format, e.g. "0 0 9 * * *" for 09:00 every day.
func RegisterFollowUpJob(scheduler *Scheduler, service FollowUpService, logger *zap.Logger, cronExpr string, timeout time.Duration) error {
	job := NewFollowUpJob(service, logger, timeout)
	return scheduler.AddJob(FollowUpJobName, cronExpr, job.Run)
}
