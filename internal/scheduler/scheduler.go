package scheduler

import (
	"context"
	"time"

	"github.com/rs/zerolog"
)

// CycleFunc runs one sampling cycle.
type CycleFunc func(ctx context.Context) error

// Options tune scheduler behaviour.
type Options struct {
	Interval time.Duration
	// AlignToBucket waits for the next interval boundary instead of a full
	// interval after each cycle.
	AlignToBucket bool
	StartupDelay  time.Duration
}

// Scheduler drives the sampling cycle on a fixed cadence.
type Scheduler struct {
	opts   Options
	logger zerolog.Logger
	now    func() time.Time
}

// New constructs a Scheduler instance.
func New(opts Options, logger zerolog.Logger) *Scheduler {
	if opts.Interval <= 0 {
		panic("scheduler interval must be positive")
	}
	return &Scheduler{
		opts:   opts,
		logger: logger.With().Str("component", "scheduler").Logger(),
		now:    time.Now,
	}
}

// Run executes cycle immediately and then once per interval until ctx is
// cancelled. Cycle errors are logged and do not stop the loop. Cancellation is
// honoured between cycles and during the wait.
func (s *Scheduler) Run(ctx context.Context, cycle CycleFunc) error {
	if s.opts.StartupDelay > 0 {
		if err := sleep(ctx, s.opts.StartupDelay); err != nil {
			return err
		}
	}

	for {
		if err := ctx.Err(); err != nil {
			return err
		}

		started := s.now()
		if err := cycle(ctx); err != nil {
			s.logger.Error().Err(err).Msg("cycle failed")
		}
		s.logger.Debug().Dur("elapsed", s.now().Sub(started)).Msg("cycle finished")

		delay := s.nextDelay(s.now().UTC())
		s.logger.Debug().Dur("delay", delay).Msg("waiting for next cycle")
		if err := sleep(ctx, delay); err != nil {
			return err
		}
	}
}

func (s *Scheduler) nextDelay(now time.Time) time.Duration {
	if !s.opts.AlignToBucket {
		return s.opts.Interval
	}
	next := now.Truncate(s.opts.Interval)
	if !next.After(now) {
		next = next.Add(s.opts.Interval)
	}
	return next.Sub(now)
}

func sleep(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
