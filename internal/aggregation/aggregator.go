package aggregation

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/rs/zerolog"

	"weatherwatch/internal/storage"
)

// ReadingLister supplies the full raw reading log in insertion order.
type ReadingLister interface {
	AllReadings(ctx context.Context) ([]storage.Reading, error)
}

// SummaryWriter persists daily summaries keyed by (location, date).
type SummaryWriter interface {
	UpsertSummary(ctx context.Context, summary storage.DailySummary) error
}

// Aggregator recomputes daily summaries from the raw reading log.
type Aggregator struct {
	readings  ReadingLister
	summaries SummaryWriter
	zone      *time.Location
	logger    zerolog.Logger
}

// New constructs an Aggregator bucketing dates in zone (UTC when nil).
func New(readings ReadingLister, summaries SummaryWriter, zone *time.Location, logger zerolog.Logger) *Aggregator {
	if zone == nil {
		zone = time.UTC
	}
	return &Aggregator{
		readings:  readings,
		summaries: summaries,
		zone:      zone,
		logger:    logger.With().Str("component", "aggregator").Logger(),
	}
}

// RecomputeAll rescans every reading and upserts the summary of every
// (location, date) group. A failed upsert does not stop the others; all
// failures are returned joined.
func (a *Aggregator) RecomputeAll(ctx context.Context) error {
	readings, err := a.readings.AllReadings(ctx)
	if err != nil {
		return fmt.Errorf("load readings: %w", err)
	}

	summaries := Summarize(readings, a.zone)

	var errs []error
	for _, sum := range summaries {
		if err := a.summaries.UpsertSummary(ctx, sum); err != nil {
			a.logger.Error().Err(err).
				Str("location", sum.Location).
				Str("date", sum.Date.Format(time.DateOnly)).
				Msg("failed to upsert daily summary")
			errs = append(errs, err)
		}
	}

	a.logger.Debug().Int("readings", len(readings)).Int("summaries", len(summaries)).Int("failed", len(errs)).Msg("daily summaries recomputed")
	return errors.Join(errs...)
}

type groupKey struct {
	location string
	date     time.Time
}

type group struct {
	sum      float64
	count    int
	min      float64
	max      float64
	latestAt int64
	latest   string
}

// Summarize groups readings by location and calendar date in zone and derives
// each group's mean, extremes and dominant condition. The dominant condition
// belongs to the reading with the greatest ObservedAt; among equal timestamps
// the one appearing last in readings wins. Results are sorted by location then date.
func Summarize(readings []storage.Reading, zone *time.Location) []storage.DailySummary {
	if zone == nil {
		zone = time.UTC
	}

	groups := make(map[groupKey]*group)
	for _, r := range readings {
		key := groupKey{location: r.Location, date: storage.CalendarDate(r.ObservedTime(), zone)}
		g, ok := groups[key]
		if !ok {
			groups[key] = &group{
				sum:      r.TemperatureC,
				count:    1,
				min:      r.TemperatureC,
				max:      r.TemperatureC,
				latestAt: r.ObservedAt,
				latest:   r.Condition,
			}
			continue
		}

		g.sum += r.TemperatureC
		g.count++
		if r.TemperatureC < g.min {
			g.min = r.TemperatureC
		}
		if r.TemperatureC > g.max {
			g.max = r.TemperatureC
		}
		if r.ObservedAt >= g.latestAt {
			g.latestAt = r.ObservedAt
			g.latest = r.Condition
		}
	}

	out := make([]storage.DailySummary, 0, len(groups))
	for key, g := range groups {
		out = append(out, storage.DailySummary{
			Location:          key.location,
			Date:              key.date,
			AvgTempC:          clamp(g.sum/float64(g.count), g.min, g.max),
			MaxTempC:          g.max,
			MinTempC:          g.min,
			DominantCondition: g.latest,
		})
	}

	sort.Slice(out, func(i, j int) bool {
		if out[i].Location != out[j].Location {
			return out[i].Location < out[j].Location
		}
		return out[i].Date.Before(out[j].Date)
	})
	return out
}

// float rounding can push a mean of near-equal values a hair outside [lo, hi]
func clamp(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
