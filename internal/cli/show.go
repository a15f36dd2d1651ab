package cli

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"weatherwatch/internal/app"
)

var (
	showTable    string
	showLocation string
	showDate     string
	showLimit    int
)

var showCmd = &cobra.Command{
	Use:   "show",
	Short: "Display stored readings, daily summaries or alerts",
	RunE: func(cmd *cobra.Command, args []string) error {
		if showLimit <= 0 {
			return fmt.Errorf("--limit must be greater than zero")
		}

		opts := app.ShowOptions{
			Table:    showTable,
			Location: showLocation,
			Limit:    showLimit,
		}

		if showDate != "" {
			date, err := time.Parse(time.DateOnly, showDate)
			if err != nil {
				return fmt.Errorf("invalid --date value: %w", err)
			}
			opts.Date = &date
		}

		return getApp().Show(cmd.Context(), opts)
	},
}

func init() {
	showCmd.Flags().StringVar(&showTable, "table", "readings", "Table to display: readings, summaries or alerts")
	showCmd.Flags().StringVar(&showLocation, "location", "", "Only show rows for this location")
	showCmd.Flags().StringVar(&showDate, "date", "", "Show the readings of one calendar date (YYYY-MM-DD, needs --location)")
	showCmd.Flags().IntVar(&showLimit, "limit", 20, "Number of rows to display")
}
