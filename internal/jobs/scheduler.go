package jobs

import (
	"context"
	"fmt"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog"
)

// Scheduler is the single control loop advancing jobs independently of any
// HTTP request: a fixed-interval poll sweep plus a nightly retention pass.
type Scheduler struct {
	cron         *cron.Cron
	service      *Service
	pollInterval time.Duration
	log          zerolog.Logger
}

func NewScheduler(service *Service, pollInterval time.Duration, log zerolog.Logger) *Scheduler {
	// A sweep that outlives its interval must not overlap the next one: two
	// concurrent sweeps would poll the same jobs twice.
	chain := cron.WithChain(cron.SkipIfStillRunning(cronLogger{log}))
	return &Scheduler{
		cron:         cron.New(cron.WithSeconds(), chain),
		service:      service,
		pollInterval: pollInterval,
		log:          log,
	}
}

func (s *Scheduler) Start() error {
	if _, err := s.cron.AddFunc(fmt.Sprintf("@every %s", s.pollInterval), s.sweep); err != nil {
		return err
	}
	if _, err := s.cron.AddFunc("0 0 0 * * *", s.retention); err != nil {
		return err
	}

	s.cron.Start()
	s.log.Info().Dur("poll_interval", s.pollInterval).Msg("job scheduler started")
	return nil
}

// Stop waits for any in-flight sweep to finish, up to a short grace period.
func (s *Scheduler) Stop() {
	done := s.cron.Stop().Done()
	select {
	case <-done:
	case <-time.After(5 * time.Second):
		s.log.Warn().Msg("scheduler stop timed out")
	}
}

func (s *Scheduler) sweep() {
	ctx, cancel := context.WithTimeout(context.Background(), s.pollInterval)
	defer cancel()

	s.service.SweepActive(ctx)
}

func (s *Scheduler) retention() {
	ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
	defer cancel()

	s.service.EnforceRetention(ctx)
}

// cronLogger adapts zerolog to the cron.Logger interface so the job chain
// can report skipped runs.
type cronLogger struct {
	log zerolog.Logger
}

func (l cronLogger) Info(msg string, keysAndValues ...any) {
	l.log.Info().Fields(keysAndValues).Msg(msg)
}

func (l cronLogger) Error(err error, msg string, keysAndValues ...any) {
	l.log.Error().Err(err).Fields(keysAndValues).Msg(msg)
}
