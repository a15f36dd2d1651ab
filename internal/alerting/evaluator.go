package alerting

import "weatherwatch/internal/storage"

// Evaluator tracks, per location, how many consecutive readings exceeded the
// threshold and decides when an alert fires. It is not safe for concurrent use.
type Evaluator struct {
	threshold float64
	required  int
	streaks   map[string]int
}

// NewEvaluator builds an evaluator with a zeroed streak for every location.
// A required streak below one is treated as one.
func NewEvaluator(threshold float64, required int, locations []string) *Evaluator {
	if required < 1 {
		required = 1
	}
	streaks := make(map[string]int, len(locations))
	for _, loc := range locations {
		streaks[loc] = 0
	}
	return &Evaluator{threshold: threshold, required: required, streaks: streaks}
}

// Evaluate advances the location's streak with reading and reports whether an
// alert fires. A fire resets the streak so the next alert needs a full new run.
func (e *Evaluator) Evaluate(location string, reading storage.Reading) bool {
	if reading.TemperatureC <= e.threshold {
		e.streaks[location] = 0
		return false
	}

	e.streaks[location]++
	if e.streaks[location] >= e.required {
		e.streaks[location] = 0
		return true
	}
	return false
}

// Streak returns the current consecutive-exceedance count for location.
func (e *Evaluator) Streak(location string) int {
	return e.streaks[location]
}

// Threshold returns the configured threshold in °C.
func (e *Evaluator) Threshold() float64 { return e.threshold }

// Required returns the streak length that fires an alert.
func (e *Evaluator) Required() int { return e.required }
