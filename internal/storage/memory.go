package storage

import (
	"context"
	"sort"
	"sync"
	"time"
)

type summaryKey struct {
	location string
	date     string
}

// MemoryStore is a concurrency-safe in-process implementation of the reading,
// summary and alert stores. Contents are lost on exit.
type MemoryStore struct {
	mu sync.RWMutex

	readings  []Reading
	summaries map[summaryKey]DailySummary
	alerts    []Alert
	nextSeq   int64
	nextAlert int64

	now func() time.Time
}

// NewMemoryStore creates an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		summaries: make(map[summaryKey]DailySummary),
		now:       func() time.Time { return time.Now().UTC() },
	}
}

// EnsureSchema is a no-op for the in-memory store.
func (m *MemoryStore) EnsureSchema(context.Context) error { return nil }

// AppendReading appends a reading and assigns its sequence number.
func (m *MemoryStore) AppendReading(_ context.Context, reading Reading) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.nextSeq++
	reading.Seq = m.nextSeq
	m.readings = append(m.readings, reading)
	return nil
}

// AllReadings returns a copy of every reading in insertion order.
func (m *MemoryStore) AllReadings(context.Context) ([]Reading, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := make([]Reading, len(m.readings))
	copy(out, m.readings)
	return out, nil
}

// ReadingsForDate lists one location's readings for a calendar date in zone,
// ordered by observation time then insertion.
func (m *MemoryStore) ReadingsForDate(_ context.Context, location string, date time.Time, zone *time.Location) ([]Reading, error) {
	from, to := DayBounds(date, zone)

	m.mu.RLock()
	defer m.mu.RUnlock()

	out := make([]Reading, 0)
	for _, r := range m.readings {
		if r.Location == location && r.ObservedAt >= from && r.ObservedAt < to {
			out = append(out, r)
		}
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].ObservedAt < out[j].ObservedAt })
	return out, nil
}

// ListRecentReadings lists the newest readings first.
func (m *MemoryStore) ListRecentReadings(_ context.Context, location string, limit int) ([]Reading, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := make([]Reading, 0, limit)
	for i := len(m.readings) - 1; i >= 0 && len(out) < limit; i-- {
		if location == "" || m.readings[i].Location == location {
			out = append(out, m.readings[i])
		}
	}
	return out, nil
}

// UpsertSummary inserts or overwrites the summary for (location, date).
func (m *MemoryStore) UpsertSummary(_ context.Context, summary DailySummary) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	summary.Date = CalendarDate(summary.Date, time.UTC)
	summary.UpdatedAt = m.now()
	m.summaries[summaryKey{location: summary.Location, date: summary.Date.Format(time.DateOnly)}] = summary
	return nil
}

// ListSummaries lists summaries ordered by location and date.
func (m *MemoryStore) ListSummaries(_ context.Context, location string) ([]DailySummary, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := make([]DailySummary, 0, len(m.summaries))
	for _, sum := range m.summaries {
		if location == "" || sum.Location == location {
			out = append(out, sum)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Location != out[j].Location {
			return out[i].Location < out[j].Location
		}
		return out[i].Date.Before(out[j].Date)
	})
	return out, nil
}

// AppendAlert appends a fired alert.
func (m *MemoryStore) AppendAlert(_ context.Context, alert Alert) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.nextAlert++
	alert.ID = m.nextAlert
	alert.CreatedAt = m.now()
	m.alerts = append(m.alerts, alert)
	return nil
}

// ListRecentAlerts lists the newest alerts first.
func (m *MemoryStore) ListRecentAlerts(_ context.Context, location string, limit int) ([]Alert, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := make([]Alert, 0, limit)
	for i := len(m.alerts) - 1; i >= 0 && len(out) < limit; i-- {
		if location == "" || m.alerts[i].Location == location {
			out = append(out, m.alerts[i])
		}
	}
	return out, nil
}

var (
	_ ReadingStore  = (*MemoryStore)(nil)
	_ SummaryStore  = (*MemoryStore)(nil)
	_ AlertStore    = (*MemoryStore)(nil)
	_ SchemaEnsurer = (*MemoryStore)(nil)
)
