package service

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"weatherwatch/internal/aggregation"
	"weatherwatch/internal/alerting"
	"weatherwatch/internal/config"
	"weatherwatch/internal/fetcher"
	"weatherwatch/internal/storage"
)

var base = time.Date(2024, 6, 1, 6, 0, 0, 0, time.UTC).Unix()

// scriptedSource replays a temperature per location per call.
type scriptedSource struct {
	mu    sync.Mutex
	temps map[string][]float64
	fail  map[string]map[int]bool
	calls map[string]int
	delay time.Duration
}

func newScriptedSource(temps map[string][]float64) *scriptedSource {
	return &scriptedSource{temps: temps, fail: map[string]map[int]bool{}, calls: map[string]int{}}
}

func (s *scriptedSource) failOn(loc string, call int) {
	if s.fail[loc] == nil {
		s.fail[loc] = map[int]bool{}
	}
	s.fail[loc][call] = true
}

func (s *scriptedSource) Fetch(ctx context.Context, loc string) (storage.Reading, error) {
	s.mu.Lock()
	call := s.calls[loc]
	s.calls[loc]++
	s.mu.Unlock()

	if s.delay > 0 {
		select {
		case <-time.After(s.delay):
		case <-ctx.Done():
			return storage.Reading{}, ctx.Err()
		}
	}
	if s.fail[loc][call] {
		return storage.Reading{}, fmt.Errorf("%w: connection reset", fetcher.ErrUnavailable)
	}
	temps := s.temps[loc]
	if call >= len(temps) {
		return storage.Reading{}, fmt.Errorf("%w: script exhausted", fetcher.ErrUnavailable)
	}
	return storage.Reading{
		Location:     loc,
		Condition:    "Clear",
		TemperatureC: temps[call],
		FeelsLikeC:   temps[call] + 1,
		ObservedAt:   base + int64(call)*300,
	}, nil
}

type recordingNotifier struct {
	notes []alerting.Notification
}

func (r *recordingNotifier) Notify(_ context.Context, note alerting.Notification) error {
	r.notes = append(r.notes, note)
	return nil
}

type countingAggregator struct {
	inner Recomputer
	calls int
}

func (c *countingAggregator) RecomputeAll(ctx context.Context) error {
	c.calls++
	if c.inner == nil {
		return nil
	}
	return c.inner.RecomputeAll(ctx)
}

func testConfig(locations ...string) *config.Config {
	return &config.Config{
		Locations: locations,
		Scheduler: config.SchedulerConfig{
			Interval:         time.Minute,
			FetchTimeout:     time.Second,
			FetchConcurrency: 1,
		},
		Alerting: config.AlertingConfig{ThresholdC: 35, ConsecutiveRequired: 2},
	}
}

type harness struct {
	svc      *Service
	store    *storage.MemoryStore
	agg      *countingAggregator
	notifier *recordingNotifier
}

func newHarness(cfg *config.Config, src fetcher.ReadingSource) *harness {
	store := storage.NewMemoryStore()
	agg := &countingAggregator{inner: aggregation.New(store, store, time.UTC, zerolog.Nop())}
	notifier := &recordingNotifier{}
	svc := New(cfg, nil, src, store, store, agg, notifier, zerolog.Nop())
	return &harness{svc: svc, store: store, agg: agg, notifier: notifier}
}

func TestDelhiAlertsAfterSecondConsecutiveExceedance(t *testing.T) {
	ctx := context.Background()
	src := newScriptedSource(map[string][]float64{"Delhi": {30, 31, 36, 37}})
	h := newHarness(testConfig("Delhi"), src)

	for i := 0; i < 2; i++ {
		require.NoError(t, h.svc.RunCycle(ctx))
	}
	alerts, err := h.store.ListRecentAlerts(ctx, "", 10)
	require.NoError(t, err)
	assert.Empty(t, alerts, "no alert after cycle 2")

	for i := 0; i < 2; i++ {
		require.NoError(t, h.svc.RunCycle(ctx))
	}
	alerts, err = h.store.ListRecentAlerts(ctx, "", 10)
	require.NoError(t, err)
	require.Len(t, alerts, 1)
	assert.Equal(t, "Delhi", alerts[0].Location)
	assert.Equal(t, 37.0, alerts[0].TemperatureC)
	assert.Equal(t, base+3*300, alerts[0].ObservedAt)

	require.Len(t, h.notifier.notes, 1)
	assert.Equal(t, 35.0, h.notifier.notes[0].ThresholdC)
	assert.Equal(t, 0, h.svc.Evaluator().Streak("Delhi"))
	assert.Equal(t, 4, h.agg.calls)

	sums, err := h.store.ListSummaries(ctx, "Delhi")
	require.NoError(t, err)
	require.Len(t, sums, 1)
	assert.Equal(t, 37.0, sums[0].MaxTempC)
	assert.Equal(t, 30.0, sums[0].MinTempC)
	assert.InDelta(t, 33.5, sums[0].AvgTempC, 1e-9)
}

func TestFetchFailureSkipsLocationAndKeepsStreak(t *testing.T) {
	ctx := context.Background()
	src := newScriptedSource(map[string][]float64{
		"Delhi":  {30, 31},
		"Mumbai": {36, 40, 36},
		"Pune":   {25, 26},
	})
	src.failOn("Mumbai", 1)
	h := newHarness(testConfig("Delhi", "Mumbai", "Pune"), src)

	require.NoError(t, h.svc.RunCycle(ctx))
	require.Equal(t, 1, h.svc.Evaluator().Streak("Mumbai"))

	require.NoError(t, h.svc.RunCycle(ctx))
	assert.Equal(t, 1, h.svc.Evaluator().Streak("Mumbai"), "a failed fetch leaves the streak untouched")
	assert.Equal(t, 2, h.agg.calls, "aggregation still runs on the failing cycle")

	readings, err := h.store.AllReadings(ctx)
	require.NoError(t, err)
	require.Len(t, readings, 5)
	perLocation := map[string]int{}
	for _, r := range readings {
		perLocation[r.Location]++
	}
	assert.Equal(t, map[string]int{"Delhi": 2, "Mumbai": 1, "Pune": 2}, perLocation)

	sums, err := h.store.ListSummaries(ctx, "Mumbai")
	require.NoError(t, err)
	require.Len(t, sums, 1)
	assert.Equal(t, 36.0, sums[0].MaxTempC, "the summary only reflects the successful reading")

	// the streak resumes where it was: 36 (cycle 1) + 36 (call 2) fires
	require.NoError(t, h.svc.RunCycle(ctx))
	alerts, err := h.store.ListRecentAlerts(ctx, "Mumbai", 10)
	require.NoError(t, err)
	assert.Len(t, alerts, 1)
}

func TestZeroLocationsStillAggregates(t *testing.T) {
	h := newHarness(testConfig(), newScriptedSource(nil))

	require.NoError(t, h.svc.RunCycle(context.Background()))
	assert.Equal(t, 1, h.agg.calls)
}

type failingAppender struct {
	inner  *storage.MemoryStore
	failOn string
}

func (f *failingAppender) AppendReading(ctx context.Context, r storage.Reading) error {
	if r.Location == f.failOn {
		return errors.New("disk full")
	}
	return f.inner.AppendReading(ctx, r)
}

func TestWriteFailureStillAdvancesStreakAndNextLocations(t *testing.T) {
	ctx := context.Background()
	store := storage.NewMemoryStore()
	src := newScriptedSource(map[string][]float64{
		"Delhi":   {36, 37},
		"Chennai": {30, 31},
	})
	agg := &countingAggregator{}
	notifier := &recordingNotifier{}
	cfg := testConfig("Delhi", "Chennai")
	svc := New(cfg, nil, src, &failingAppender{inner: store, failOn: "Delhi"}, store, agg, notifier, zerolog.Nop())

	report, err := svc.runCycle(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, report.WriteFailed)
	assert.Equal(t, 2, report.Fetched)
	assert.Equal(t, 1, svc.Evaluator().Streak("Delhi"))

	report, err = svc.runCycle(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, report.Alerts)

	alerts, err := store.ListRecentAlerts(ctx, "Delhi", 10)
	require.NoError(t, err)
	assert.Len(t, alerts, 1, "alert persists even though the reading writes failed")

	readings, err := store.AllReadings(ctx)
	require.NoError(t, err)
	require.Len(t, readings, 2)
	assert.Equal(t, "Chennai", readings[0].Location)
}

// barrierStore fails the test if aggregation overlaps an in-flight write.
type barrierStore struct {
	*storage.MemoryStore
	mu       sync.Mutex
	inflight int
	order    []string
	t        *testing.T
}

func (b *barrierStore) AppendReading(ctx context.Context, r storage.Reading) error {
	b.mu.Lock()
	b.inflight++
	b.order = append(b.order, r.Location)
	b.mu.Unlock()

	err := b.MemoryStore.AppendReading(ctx, r)

	b.mu.Lock()
	b.inflight--
	b.mu.Unlock()
	return err
}

func (b *barrierStore) RecomputeAll(context.Context) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	assert.Zero(b.t, b.inflight)
	return nil
}

func TestConcurrentFetchKeepsOrderAndBarrier(t *testing.T) {
	locations := []string{"Delhi", "Mumbai", "Chennai", "Bangalore", "Kolkata", "Hyderabad"}
	temps := map[string][]float64{}
	for _, loc := range locations {
		temps[loc] = []float64{30}
	}
	src := newScriptedSource(temps)
	src.delay = 20 * time.Millisecond

	cfg := testConfig(locations...)
	cfg.Scheduler.FetchConcurrency = len(locations)

	store := &barrierStore{MemoryStore: storage.NewMemoryStore(), t: t}
	svc := New(cfg, nil, src, store, store, store, nil, zerolog.Nop())

	start := time.Now()
	require.NoError(t, svc.RunCycle(context.Background()))
	assert.Less(t, time.Since(start), 6*src.delay, "fetches should overlap")
	assert.Equal(t, locations, store.order)
}

func TestFetchTimeoutIsTreatedAsFailure(t *testing.T) {
	src := newScriptedSource(map[string][]float64{"Delhi": {40}, "Mumbai": {40}})
	src.delay = time.Hour

	cfg := testConfig("Delhi", "Mumbai")
	cfg.Scheduler.FetchTimeout = 20 * time.Millisecond
	cfg.Scheduler.FetchConcurrency = 2
	h := newHarness(cfg, src)

	report, err := h.svc.runCycle(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 2, report.FetchFailed)
	assert.Equal(t, 1, h.agg.calls)
	assert.Equal(t, 0, h.svc.Evaluator().Streak("Delhi"))
}

type lockStub struct {
	*storage.MemoryStore
	acquired bool
	released bool
}

func (l *lockStub) TryAdvisoryLock(context.Context, int64) (func(), bool, error) {
	if !l.acquired {
		return nil, false, nil
	}
	return func() { l.released = true }, true, nil
}

func TestAdvisoryLockGatesCycle(t *testing.T) {
	src := newScriptedSource(map[string][]float64{"Delhi": {30, 31}})
	cfg := testConfig("Delhi")
	cfg.Scheduler.AdvisoryLockKey = 42

	held := &lockStub{MemoryStore: storage.NewMemoryStore()}
	agg := &countingAggregator{}
	svc := New(cfg, nil, src, held, held, agg, nil, zerolog.Nop())
	require.NoError(t, svc.RunCycle(context.Background()))
	assert.Equal(t, 0, agg.calls, "cycle skipped while another instance holds the lock")

	free := &lockStub{MemoryStore: storage.NewMemoryStore(), acquired: true}
	svc = New(cfg, nil, src, free, free, agg, nil, zerolog.Nop())
	require.NoError(t, svc.RunCycle(context.Background()))
	assert.Equal(t, 1, agg.calls)
	assert.True(t, free.released)
}

type erroringAggregator struct{}

func (erroringAggregator) RecomputeAll(context.Context) error { return errors.New("boom") }

func TestAggregationErrorIsReturned(t *testing.T) {
	src := newScriptedSource(map[string][]float64{"Delhi": {30}})
	store := storage.NewMemoryStore()
	svc := New(testConfig("Delhi"), nil, src, store, store, erroringAggregator{}, nil, zerolog.Nop())

	err := svc.RunCycle(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "recompute daily summaries")
}

func TestRunWithoutSchedulerFails(t *testing.T) {
	svc := New(testConfig(), nil, newScriptedSource(nil), nil, nil, nil, nil, zerolog.Nop())
	assert.Error(t, svc.Run(context.Background()))
}
