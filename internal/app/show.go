package app

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/shopspring/decimal"

	"weatherwatch/internal/storage"
)

// Show prints one of the stored tables.
func (a *App) Show(ctx context.Context, opts ShowOptions) error {
	store, closeStore, err := a.openBackend(ctx, false)
	if err != nil {
		return fmt.Errorf("cannot show %s: %w", opts.Table, err)
	}
	defer closeStore()

	return a.show(ctx, store, opts)
}

func (a *App) show(ctx context.Context, store backend, opts ShowOptions) error {
	if opts.Limit <= 0 {
		opts.Limit = 20
	}

	switch strings.ToLower(opts.Table) {
	case "", "readings":
		return a.showReadings(ctx, store, opts)
	case "summaries":
		return a.showSummaries(ctx, store, opts)
	case "alerts":
		return a.showAlerts(ctx, store, opts)
	default:
		return fmt.Errorf("unknown table %q (want readings, summaries or alerts)", opts.Table)
	}
}

func (a *App) showReadings(ctx context.Context, store backend, opts ShowOptions) error {
	var (
		readings []storage.Reading
		err      error
	)
	if opts.Date != nil {
		if opts.Location == "" {
			return errors.New("--date requires --location")
		}
		zone, zerr := a.Config.Aggregation.Zone()
		if zerr != nil {
			return zerr
		}
		readings, err = store.ReadingsForDate(ctx, opts.Location, *opts.Date, zone)
	} else {
		readings, err = store.ListRecentReadings(ctx, opts.Location, opts.Limit)
	}
	if err != nil {
		return err
	}
	if len(readings) == 0 {
		fmt.Fprintln(a.Out, "no readings found")
		return nil
	}

	writer := tabwriter.NewWriter(a.Out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(writer, "Observed (UTC)\tLocation\tCondition\tTemp °C\tFeels like °C")
	for _, r := range readings {
		fmt.Fprintf(writer, "%s\t%s\t%s\t%s\t%s\n",
			r.ObservedTime().Format(time.RFC3339),
			sanitizeInline(r.Location),
			sanitizeInline(r.Condition),
			formatCelsius(r.TemperatureC),
			formatCelsius(r.FeelsLikeC),
		)
	}
	return writer.Flush()
}

func (a *App) showSummaries(ctx context.Context, store backend, opts ShowOptions) error {
	summaries, err := store.ListSummaries(ctx, opts.Location)
	if err != nil {
		return err
	}
	if len(summaries) == 0 {
		fmt.Fprintln(a.Out, "no daily summaries found")
		return nil
	}

	writer := tabwriter.NewWriter(a.Out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(writer, "Date\tLocation\tAvg °C\tMax °C\tMin °C\tDominant condition")
	for _, s := range summaries {
		fmt.Fprintf(writer, "%s\t%s\t%s\t%s\t%s\t%s\n",
			s.Date.Format(time.DateOnly),
			sanitizeInline(s.Location),
			formatCelsius(s.AvgTempC),
			formatCelsius(s.MaxTempC),
			formatCelsius(s.MinTempC),
			sanitizeInline(s.DominantCondition),
		)
	}
	return writer.Flush()
}

func (a *App) showAlerts(ctx context.Context, store backend, opts ShowOptions) error {
	alerts, err := store.ListRecentAlerts(ctx, opts.Location, opts.Limit)
	if err != nil {
		return err
	}
	return a.printAlerts(alerts)
}

func (a *App) printAlerts(alerts []storage.Alert) error {
	if len(alerts) == 0 {
		fmt.Fprintln(a.Out, "no alerts found")
		return nil
	}

	writer := tabwriter.NewWriter(a.Out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(writer, "ID\tObserved (UTC)\tLocation\tTemp °C")
	for _, al := range alerts {
		fmt.Fprintf(writer, "%d\t%s\t%s\t%s\n",
			al.ID,
			time.Unix(al.ObservedAt, 0).UTC().Format(time.RFC3339),
			sanitizeInline(al.Location),
			formatCelsius(al.TemperatureC),
		)
	}
	return writer.Flush()
}

func formatCelsius(v float64) string {
	return decimal.NewFromFloat(v).StringFixed(1)
}

func sanitizeInline(v string) string {
	cleaned := strings.ReplaceAll(v, "\n", " ")
	cleaned = strings.ReplaceAll(cleaned, "\r", " ")
	return cleaned
}
