package storage

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMemoryStoreAssignsInsertionSequence(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()

	require.NoError(t, store.AppendReading(ctx, Reading{Location: "Delhi", TemperatureC: 30, ObservedAt: 100}))
	require.NoError(t, store.AppendReading(ctx, Reading{Location: "Mumbai", TemperatureC: 29, ObservedAt: 50}))

	all, err := store.AllReadings(ctx)
	require.NoError(t, err)
	require.Len(t, all, 2)
	assert.Equal(t, int64(1), all[0].Seq)
	assert.Equal(t, "Delhi", all[0].Location)
	assert.Equal(t, int64(2), all[1].Seq)

	all[0].Location = "mutated"
	again, err := store.AllReadings(ctx)
	require.NoError(t, err)
	assert.Equal(t, "Delhi", again[0].Location, "AllReadings must return a copy")
}

func TestMemoryStoreUpsertSummaryOverwrites(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()
	date := time.Date(2024, 6, 1, 0, 0, 0, 0, time.UTC)

	require.NoError(t, store.UpsertSummary(ctx, DailySummary{Location: "Delhi", Date: date, AvgTempC: 30, DominantCondition: "Clear"}))
	require.NoError(t, store.UpsertSummary(ctx, DailySummary{Location: "Delhi", Date: date, AvgTempC: 33, DominantCondition: "Haze"}))
	require.NoError(t, store.UpsertSummary(ctx, DailySummary{Location: "Chennai", Date: date, AvgTempC: 31}))

	sums, err := store.ListSummaries(ctx, "")
	require.NoError(t, err)
	require.Len(t, sums, 2)
	assert.Equal(t, "Chennai", sums[0].Location)
	assert.Equal(t, "Delhi", sums[1].Location)
	assert.Equal(t, 33.0, sums[1].AvgTempC)
	assert.Equal(t, "Haze", sums[1].DominantCondition)

	delhi, err := store.ListSummaries(ctx, "Delhi")
	require.NoError(t, err)
	assert.Len(t, delhi, 1)
}

func TestMemoryStoreReadingsForDate(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()
	day := time.Date(2024, 6, 1, 0, 0, 0, 0, time.UTC)
	from, to := DayBounds(day, time.UTC)

	require.NoError(t, store.AppendReading(ctx, Reading{Location: "Delhi", ObservedAt: from + 3600}))
	require.NoError(t, store.AppendReading(ctx, Reading{Location: "Delhi", ObservedAt: from}))
	require.NoError(t, store.AppendReading(ctx, Reading{Location: "Delhi", ObservedAt: to}))
	require.NoError(t, store.AppendReading(ctx, Reading{Location: "Mumbai", ObservedAt: from + 10}))

	got, err := store.ReadingsForDate(ctx, "Delhi", day, time.UTC)
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, from, got[0].ObservedAt)
	assert.Equal(t, from+3600, got[1].ObservedAt)
}

func TestMemoryStoreRecentListsNewestFirst(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()

	for i := 0; i < 5; i++ {
		require.NoError(t, store.AppendAlert(ctx, Alert{Location: "Delhi", TemperatureC: float64(36 + i)}))
	}
	alerts, err := store.ListRecentAlerts(ctx, "Delhi", 2)
	require.NoError(t, err)
	require.Len(t, alerts, 2)
	assert.Equal(t, 40.0, alerts[0].TemperatureC)
	assert.Equal(t, int64(5), alerts[0].ID)
	assert.Equal(t, 39.0, alerts[1].TemperatureC)
}

func TestCalendarDateUsesZone(t *testing.T) {
	kolkata := time.FixedZone("IST", 5*3600+1800)
	instant := time.Date(2024, 6, 1, 20, 0, 0, 0, time.UTC)

	assert.Equal(t, time.Date(2024, 6, 1, 0, 0, 0, 0, time.UTC), CalendarDate(instant, time.UTC))
	assert.Equal(t, time.Date(2024, 6, 2, 0, 0, 0, 0, time.UTC), CalendarDate(instant, kolkata))
}
