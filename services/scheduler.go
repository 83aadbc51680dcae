// services/scheduler.go
package services

import (
	"context"
	"fmt"
	"time"

	"github.com/go-co-op/gocron/v2"
	"go.uber.org/zap"
)

const sweepTimeout = 5 * time.Minute

// StartSweepScheduler runs the party sweep in-process every interval. Runs never
// overlap; a slow sweep pushes the next one back.
func (s *SweepService) StartSweepScheduler(interval time.Duration) (gocron.Scheduler, error) {
	sched, err := gocron.NewScheduler()
	if err != nil {
		return nil, fmt.Errorf("create scheduler: %w", err)
	}

	_, err = sched.NewJob(
		gocron.DurationJob(interval),
		gocron.NewTask(func() {
			ctx, cancel := context.WithTimeout(context.Background(), sweepTimeout)
			defer cancel()
			if _, err := s.Run(ctx); err != nil {
				s.Log.Error("scheduled sweep failed", zap.Error(err))
			}
		}),
		gocron.WithSingletonMode(gocron.LimitModeReschedule),
		gocron.WithName("party-sweep"),
	)
	if err != nil {
		_ = sched.Shutdown()
		return nil, fmt.Errorf("schedule party sweep: %w", err)
	}

	sched.Start()
	s.Log.Info("party sweep scheduled", zap.Duration("interval", interval))
	return sched, nil
}
