package fetcher

import (
	"context"
	"errors"

	"weatherwatch/internal/storage"
)

var (
	// ErrUnavailable covers transport failures, timeouts, 5xx/429 responses and an open breaker.
	ErrUnavailable = errors.New("reading source unavailable")
	// ErrNotFound means the source does not know the location.
	ErrNotFound = errors.New("location not found")
	// ErrMalformedResponse means the source answered with data that cannot form a reading.
	ErrMalformedResponse = errors.New("malformed reading response")
)

// ReadingSource returns one instantaneous reading for a location.
type ReadingSource interface {
	Fetch(ctx context.Context, location string) (storage.Reading, error)
}

// IsTransient reports whether err is a fetch failure that should only skip the
// location for the current cycle.
func IsTransient(err error) bool {
	return errors.Is(err, ErrUnavailable) ||
		errors.Is(err, ErrNotFound) ||
		errors.Is(err, ErrMalformedResponse) ||
		errors.Is(err, context.DeadlineExceeded)
}

// KelvinToCelsius converts an absolute temperature to degrees Celsius.
func KelvinToCelsius(k float64) float64 {
	return k - 273.15
}
