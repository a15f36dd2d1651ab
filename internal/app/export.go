package app

import (
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"time"

	chart "github.com/wcharczuk/go-chart/v2"

	"weatherwatch/internal/storage"
)

// Export renders daily summaries as CSV and/or PNG.
func (a *App) Export(ctx context.Context, opts ExportOptions) error {
	if opts.CSVPath == "" && opts.PNGPath == "" {
		return errors.New("at least one of --csv or --png must be provided")
	}

	store, closeStore, err := a.openBackend(ctx, false)
	if err != nil {
		return fmt.Errorf("cannot export: %w", err)
	}
	defer closeStore()

	return a.export(ctx, store, opts)
}

func (a *App) export(ctx context.Context, store storage.SummaryStore, opts ExportOptions) error {
	if opts.CSVPath == "" && opts.PNGPath == "" {
		return errors.New("at least one of --csv or --png must be provided")
	}
	opts.MaxPoints = a.Config.ResolveMaxPoints(opts.MaxPoints)

	summaries, err := store.ListSummaries(ctx, opts.Location)
	if err != nil {
		return err
	}
	if len(summaries) == 0 {
		a.Logger.Info().Str("location", opts.Location).Msg("no daily summaries found for export")
		return nil
	}

	a.Logger.Info().Int("summaries", len(summaries)).Str("location", opts.Location).Msg("exporting daily summaries")

	if opts.CSVPath != "" {
		if err := writeSummariesCSV(opts.CSVPath, summaries); err != nil {
			return err
		}
	}

	if opts.PNGPath != "" {
		if err := writeSummariesPNG(opts.PNGPath, opts.Location, summaries, opts.MaxPoints); err != nil {
			return err
		}
	}

	return nil
}

func downsampleSummaries(summaries []storage.DailySummary, max int) []storage.DailySummary {
	if max <= 0 || len(summaries) <= max {
		return summaries
	}
	if max == 1 {
		return summaries[len(summaries)-1:]
	}

	result := make([]storage.DailySummary, 0, max)
	step := float64(len(summaries)-1) / float64(max-1)
	for i := 0; i < max; i++ {
		idx := int(math.Round(step * float64(i)))
		if idx >= len(summaries) {
			idx = len(summaries) - 1
		}
		result = append(result, summaries[idx])
	}
	return result
}

func writeSummariesCSV(path string, summaries []storage.DailySummary) error {
	if err := ensureDir(path); err != nil {
		return err
	}

	file, err := os.Create(path)
	if err != nil {
		return err
	}
	defer file.Close()

	writer := csv.NewWriter(file)

	header := []string{"location", "date", "avg_temp_c", "max_temp_c", "min_temp_c", "dominant_condition", "updated_at"}
	if err := writer.Write(header); err != nil {
		return err
	}

	for _, s := range summaries {
		updated := ""
		if !s.UpdatedAt.IsZero() {
			updated = s.UpdatedAt.UTC().Format(time.RFC3339)
		}
		record := []string{
			s.Location,
			s.Date.Format(time.DateOnly),
			formatCelsius(s.AvgTempC),
			formatCelsius(s.MaxTempC),
			formatCelsius(s.MinTempC),
			s.DominantCondition,
			updated,
		}
		if err := writer.Write(record); err != nil {
			return err
		}
	}

	writer.Flush()
	return writer.Error()
}

// groupByLocation splits summaries, already ordered by location and date,
// into per-location runs while keeping first-seen location order.
func groupByLocation(summaries []storage.DailySummary) ([]string, map[string][]storage.DailySummary) {
	var order []string
	groups := make(map[string][]storage.DailySummary)
	for _, s := range summaries {
		if _, ok := groups[s.Location]; !ok {
			order = append(order, s.Location)
		}
		groups[s.Location] = append(groups[s.Location], s)
	}
	return order, groups
}

// writeSummariesPNG draws avg/max/min lines for a single location, or one
// average line per location when no location was selected.
func writeSummariesPNG(path, location string, summaries []storage.DailySummary, maxPoints int) error {
	var series []chart.Series
	if location != "" {
		points := downsampleSummaries(summaries, maxPoints)
		if len(points) < 2 {
			return errors.New("need at least two days of summaries to draw a chart")
		}
		x := make([]time.Time, len(points))
		avg := make([]float64, len(points))
		hi := make([]float64, len(points))
		lo := make([]float64, len(points))
		for i, s := range points {
			x[i] = s.Date
			avg[i] = s.AvgTempC
			hi[i] = s.MaxTempC
			lo[i] = s.MinTempC
		}
		series = append(series,
			chart.TimeSeries{Name: "Avg", XValues: x, YValues: avg},
			chart.TimeSeries{Name: "Max", XValues: x, YValues: hi},
			chart.TimeSeries{Name: "Min", XValues: x, YValues: lo},
		)
	} else {
		order, groups := groupByLocation(summaries)
		for _, loc := range order {
			points := downsampleSummaries(groups[loc], maxPoints)
			if len(points) < 2 {
				continue
			}
			x := make([]time.Time, len(points))
			avg := make([]float64, len(points))
			for i, s := range points {
				x[i] = s.Date
				avg[i] = s.AvgTempC
			}
			series = append(series, chart.TimeSeries{Name: loc, XValues: x, YValues: avg})
		}
		if len(series) == 0 {
			return errors.New("need at least two days of summaries for some location to draw a chart")
		}
	}

	if err := ensureDir(path); err != nil {
		return err
	}

	tempFormatter := func(v interface{}) string {
		return chart.FloatValueFormatterWithFormat(v, "%.1f")
	}
	title := "Daily average temperature"
	if location != "" {
		title = "Daily temperature: " + location
	}
	graph := chart.Chart{
		Title:  title,
		Width:  1280,
		Height: 720,
		XAxis: chart.XAxis{
			ValueFormatter: chart.TimeDateValueFormatter,
		},
		YAxis: chart.YAxis{
			Name:           "Temperature (°C)",
			ValueFormatter: tempFormatter,
		},
		Series: series,
	}
	graph.Elements = []chart.Renderable{chart.Legend(&graph)}

	file, err := os.Create(path)
	if err != nil {
		return err
	}
	defer file.Close()

	return graph.Render(chart.PNG, file)
}

func ensureDir(path string) error {
	dir := filepath.Dir(path)
	if dir == "." || dir == "" {
		return nil
	}
	return os.MkdirAll(dir, 0o755)
}
