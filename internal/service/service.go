package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"weatherwatch/internal/alerting"
	"weatherwatch/internal/config"
	"weatherwatch/internal/fetcher"
	"weatherwatch/internal/scheduler"
	"weatherwatch/internal/storage"
)

// Recomputer rebuilds the daily summaries from the raw log.
type Recomputer interface {
	RecomputeAll(ctx context.Context) error
}

// ReadingAppender appends raw readings.
type ReadingAppender interface {
	AppendReading(ctx context.Context, reading storage.Reading) error
}

// AlertAppender appends fired alerts.
type AlertAppender interface {
	AppendAlert(ctx context.Context, alert storage.Alert) error
}

// Service orchestrates fetching, persistence, alerting and aggregation.
type Service struct {
	scheduler  *scheduler.Scheduler
	source     fetcher.ReadingSource
	readings   ReadingAppender
	alerts     AlertAppender
	aggregator Recomputer
	evaluator  *alerting.Evaluator
	notifier   alerting.Notifier
	logger     zerolog.Logger

	locations    []string
	fetchTimeout time.Duration
	concurrency  int
	locker       storage.AdvisoryLocker
	lockKey      int64
}

// CycleReport summarises one cycle.
type CycleReport struct {
	Fetched     int
	FetchFailed int
	WriteFailed int
	Alerts      int
}

type fetchResult struct {
	reading storage.Reading
	err     error
}

// New constructs the monitoring service. The evaluator is created here with a
// zeroed streak for every configured location.
func New(cfg *config.Config, sched *scheduler.Scheduler, source fetcher.ReadingSource, readings ReadingAppender, alerts AlertAppender, aggregator Recomputer, notifier alerting.Notifier, logger zerolog.Logger) *Service {
	locations := append([]string(nil), cfg.Locations...)

	var locker storage.AdvisoryLocker
	if l, ok := readings.(storage.AdvisoryLocker); ok {
		locker = l
	}

	concurrency := cfg.Scheduler.FetchConcurrency
	if concurrency < 1 {
		concurrency = 1
	}
	timeout := cfg.Scheduler.FetchTimeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}

	return &Service{
		scheduler:    sched,
		source:       source,
		readings:     readings,
		alerts:       alerts,
		aggregator:   aggregator,
		evaluator:    alerting.NewEvaluator(cfg.Alerting.ThresholdC, cfg.Alerting.ConsecutiveRequired, locations),
		notifier:     notifier,
		logger:       logger.With().Str("component", "service").Logger(),
		locations:    locations,
		fetchTimeout: timeout,
		concurrency:  concurrency,
		locker:       locker,
		lockKey:      cfg.Scheduler.AdvisoryLockKey,
	}
}

// Evaluator exposes the per-location alert state.
func (s *Service) Evaluator() *alerting.Evaluator {
	return s.evaluator
}

// Run begins the sampling loop.
func (s *Service) Run(ctx context.Context) error {
	if s.scheduler == nil {
		return fmt.Errorf("scheduler not configured")
	}
	return s.scheduler.Run(ctx, s.RunCycle)
}

// RunCycle executes one full cycle: every location is fetched, persisted and
// evaluated, then the daily summaries are recomputed once.
func (s *Service) RunCycle(ctx context.Context) error {
	_, err := s.runCycle(ctx)
	return err
}

func (s *Service) runCycle(ctx context.Context) (CycleReport, error) {
	logger := s.logger.With().Str("cycle_id", uuid.NewString()).Logger()

	unlock, proceed, err := s.acquireLock(ctx)
	if err != nil {
		return CycleReport{}, err
	}
	if !proceed {
		logger.Info().Msg("skip cycle because advisory lock held elsewhere")
		return CycleReport{}, nil
	}
	if unlock != nil {
		defer unlock()
	}

	var report CycleReport
	results := s.fetchAll(ctx)
	for i, loc := range s.locations {
		res := results[i]
		if res.err != nil {
			report.FetchFailed++
			event := logger.Warn()
			if !fetcher.IsTransient(res.err) && !errors.Is(res.err, context.Canceled) {
				event = logger.Error()
			}
			event.Err(res.err).Str("location", loc).Msg("fetch failed; skipping location this cycle")
			continue
		}
		report.Fetched++
		s.processReading(ctx, logger, loc, res.reading, &report)
	}

	if s.aggregator != nil {
		if err := s.aggregator.RecomputeAll(ctx); err != nil {
			return report, fmt.Errorf("recompute daily summaries: %w", err)
		}
	}

	logger.Info().
		Int("locations", len(s.locations)).
		Int("fetched", report.Fetched).
		Int("fetch_failed", report.FetchFailed).
		Int("write_failed", report.WriteFailed).
		Int("alerts", report.Alerts).
		Msg("cycle complete")
	return report, nil
}

// fetchAll fetches every location, at most s.concurrency at a time, each
// under its own timeout. Results keep the configured location order.
func (s *Service) fetchAll(ctx context.Context) []fetchResult {
	results := make([]fetchResult, len(s.locations))

	var g errgroup.Group
	g.SetLimit(s.concurrency)
	for i, loc := range s.locations {
		i, loc := i, loc
		g.Go(func() error {
			fetchCtx, cancel := context.WithTimeout(ctx, s.fetchTimeout)
			defer cancel()

			reading, err := s.source.Fetch(fetchCtx, loc)
			results[i] = fetchResult{reading: reading, err: err}
			return nil
		})
	}
	_ = g.Wait()
	return results
}

func (s *Service) processReading(ctx context.Context, logger zerolog.Logger, loc string, reading storage.Reading, report *CycleReport) {
	reading.Location = loc

	if s.readings != nil {
		if err := s.readings.AppendReading(ctx, reading); err != nil {
			report.WriteFailed++
			logger.Error().Err(err).Str("location", loc).Msg("failed to persist reading")
		}
	}

	// the streak advances even when the write failed
	fires := s.evaluator.Evaluate(loc, reading)
	logger.Debug().
		Str("location", loc).
		Float64("temperature_c", reading.TemperatureC).
		Str("condition", reading.Condition).
		Int("streak", s.evaluator.Streak(loc)).
		Bool("alert", fires).
		Msg("reading recorded")
	if !fires {
		return
	}

	report.Alerts++
	note := alerting.NewNotification(reading, s.evaluator.Threshold(), s.evaluator.Required())
	if s.alerts != nil {
		if err := s.alerts.AppendAlert(ctx, note.Alert); err != nil {
			report.WriteFailed++
			logger.Error().Err(err).Str("location", loc).Msg("failed to persist alert")
		}
	}
	if s.notifier != nil {
		if err := s.notifier.Notify(ctx, note); err != nil {
			logger.Error().Err(err).Str("location", loc).Msg("failed to dispatch alert")
		}
	}
}

func (s *Service) acquireLock(ctx context.Context) (func(), bool, error) {
	if s.lockKey == 0 || s.locker == nil {
		return nil, true, nil
	}
	unlock, acquired, err := s.locker.TryAdvisoryLock(ctx, s.lockKey)
	if err != nil {
		return nil, false, fmt.Errorf("acquire advisory lock: %w", err)
	}
	if !acquired {
		return nil, false, nil
	}
	return unlock, true, nil
}
