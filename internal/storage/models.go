package storage

import "time"

// Reading is one instantaneous weather observation for a location.
type Reading struct {
	// Seq is the insertion sequence assigned by the store; zero until persisted.
	Seq          int64
	Location     string
	Condition    string
	TemperatureC float64
	FeelsLikeC   float64
	// ObservedAt is the observation time in epoch seconds.
	ObservedAt int64
}

// ObservedTime converts ObservedAt to a UTC time.
func (r Reading) ObservedTime() time.Time {
	return time.Unix(r.ObservedAt, 0).UTC()
}

// DailySummary aggregates one location's readings for one calendar date.
type DailySummary struct {
	Location string
	// Date is midnight UTC of the calendar day the readings were bucketed into.
	Date              time.Time
	AvgTempC          float64
	MaxTempC          float64
	MinTempC          float64
	DominantCondition string
	UpdatedAt         time.Time
}

// Alert records a fired consecutive-exceedance alert.
type Alert struct {
	ID           int64
	Location     string
	TemperatureC float64
	ObservedAt   int64
	CreatedAt    time.Time
}

// CalendarDate returns midnight UTC of the calendar day t falls on in zone.
func CalendarDate(t time.Time, zone *time.Location) time.Time {
	if zone == nil {
		zone = time.UTC
	}
	local := t.In(zone)
	return time.Date(local.Year(), local.Month(), local.Day(), 0, 0, 0, 0, time.UTC)
}

// DayBounds returns the [from, to) epoch-second window of a calendar date in zone.
func DayBounds(date time.Time, zone *time.Location) (int64, int64) {
	if zone == nil {
		zone = time.UTC
	}
	start := time.Date(date.Year(), date.Month(), date.Day(), 0, 0, 0, 0, zone)
	end := start.AddDate(0, 0, 1)
	return start.Unix(), end.Unix()
}
