package app

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"weatherwatch/internal/alerting"
	"weatherwatch/internal/fetcher"
	"weatherwatch/internal/service"
	"weatherwatch/internal/storage"
)

// SimulateAlert feeds the given temperatures for one location through the
// evaluator and the configured notifiers, one cycle per temperature. Readings
// are kept in memory and the weather API is never called.
func (a *App) SimulateAlert(ctx context.Context, location string, temps []float64) error {
	location = strings.TrimSpace(location)
	if location == "" {
		return errors.New("--location is required")
	}
	if len(temps) == 0 {
		return errors.New("--temps needs at least one temperature")
	}

	notifier, closeNotifier, err := a.newNotifier(ctx)
	if err != nil {
		return err
	}
	defer closeNotifier()
	if notifier == nil {
		notifier = alerting.NewLogNotifier(a.Logger)
	}

	cfg := *a.Config
	cfg.Locations = []string{location}
	cfg.Scheduler.AdvisoryLockKey = 0

	store := storage.NewMemoryStore()
	agg, err := a.newAggregator(store)
	if err != nil {
		return err
	}

	source := newStaticSource(location, temps, time.Now().UTC(), cfg.Scheduler.Interval)
	svc := service.New(&cfg, nil, source, store, store, agg, notifier, a.Logger)

	for range temps {
		if err := svc.RunCycle(ctx); err != nil {
			return err
		}
	}

	alerts, err := store.ListRecentAlerts(ctx, location, len(temps))
	if err != nil {
		return err
	}
	fmt.Fprintf(a.Out, "%d reading(s), %d alert(s), final streak %d\n", len(temps), len(alerts), svc.Evaluator().Streak(location))
	return a.printAlerts(alerts)
}

// staticSource replays a fixed temperature sequence for one location.
type staticSource struct {
	mu       sync.Mutex
	location string
	temps    []float64
	start    time.Time
	step     time.Duration
	next     int
}

func newStaticSource(location string, temps []float64, start time.Time, step time.Duration) *staticSource {
	if step <= 0 {
		step = time.Minute
	}
	return &staticSource{location: location, temps: temps, start: start, step: step}
}

func (s *staticSource) Fetch(ctx context.Context, location string) (storage.Reading, error) {
	if err := ctx.Err(); err != nil {
		return storage.Reading{}, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if location != s.location {
		return storage.Reading{}, fmt.Errorf("%w: %s", fetcher.ErrNotFound, location)
	}
	if s.next >= len(s.temps) {
		return storage.Reading{}, fmt.Errorf("%w: simulated sequence exhausted", fetcher.ErrUnavailable)
	}

	temp := s.temps[s.next]
	observed := s.start.Add(time.Duration(s.next) * s.step)
	s.next++

	return storage.Reading{
		Location:     location,
		Condition:    "Simulated",
		TemperatureC: temp,
		FeelsLikeC:   temp,
		ObservedAt:   observed.Unix(),
	}, nil
}

var _ fetcher.ReadingSource = (*staticSource)(nil)
