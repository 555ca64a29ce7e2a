package bot

import (
	"context"
	"fmt"
	"time"

	"github.com/phuslu/log"
	"github.com/robfig/cron/v3"
)

// cronLogger routes cron's own messages to the process logger.
type cronLogger struct{}

func (cronLogger) Info(msg string, keysAndValues ...any) {
	log.Debug().KeysAndValues(keysAndValues...).Msg("cron: " + msg)
}

func (cronLogger) Error(err error, msg string, keysAndValues ...any) {
	log.Error().Err(err).KeysAndValues(keysAndValues...).Msg("cron: " + msg)
}

// Scheduler runs periodic jobs. A job still running when its next tick fires is skipped.
type Scheduler struct {
	c    *cron.Cron
	jobs int
}

func NewScheduler() *Scheduler {
	logger := cronLogger{}
	return &Scheduler{
		c: cron.New(
			cron.WithLogger(logger),
			cron.WithChain(cron.SkipIfStillRunning(logger), cron.Recover(logger)),
		),
	}
}

// Every schedules fn every interval. A non-positive interval disables the job.
func (s *Scheduler) Every(name string, interval time.Duration, fn func()) error {
	if interval <= 0 {
		log.Info().Str("job", name).Msg("job disabled")
		return nil
	}
	if _, err := s.c.AddFunc("@every "+interval.String(), fn); err != nil {
		return fmt.Errorf("could not set up %s job: %w", name, err)
	}
	s.jobs++
	log.Info().Str("job", name).Dur("interval", interval).Msg("job scheduled")
	return nil
}

// Jobs returns the number of scheduled jobs.
func (s *Scheduler) Jobs() int {
	return s.jobs
}

func (s *Scheduler) Start() {
	s.c.Start()
}

// Stop stops scheduling and waits for running jobs until ctx is done.
func (s *Scheduler) Stop(ctx context.Context) {
	select {
	case <-s.c.Stop().Done():
		log.Info().Msg("scheduler stopped")
	case <-ctx.Done():
		log.Warn().Msg("scheduler stop timed out with jobs still running")
	}
}
