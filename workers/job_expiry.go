package workers

import (
	"context"
	"time"

	"agent-market/services"

	"github.com/go-co-op/gocron/v2"
	"github.com/sirupsen/logrus"
)

// StartJobExpiry schedules the overdue job sweep. The caller shuts the
// returned scheduler down.
func StartJobExpiry(jobs *services.JobService, interval time.Duration, log logrus.FieldLogger) (gocron.Scheduler, error) {
	sched, err := gocron.NewScheduler(gocron.WithLocation(time.UTC))
	if err != nil {
		return nil, err
	}
	_, err = sched.NewJob(
		gocron.DurationJob(interval),
		gocron.NewTask(func() {
			ctx, cancel := context.WithTimeout(context.Background(), interval)
			defer cancel()
			if _, err := jobs.ExpireOverdueJobs(ctx); err != nil {
				log.WithError(err).Warn("job expiry sweep failed")
			}
		}),
		gocron.WithSingletonMode(gocron.LimitModeReschedule),
		gocron.WithName("expire-overdue-jobs"),
	)
	if err != nil {
		_ = sched.Shutdown()
		return nil, err
	}
	sched.Start()
	log.WithField("interval", interval).Info("job expiry scheduler started")
	return sched, nil
}
