package cli

import (
	"errors"

	"github.com/spf13/cobra"
)

var (
	simulateLocation string
	simulateTemps    []float64
)

var simulateCmd = &cobra.Command{
	Use:   "simulate-alert",
	Short: "Feed synthetic temperatures through the alert evaluator and notifiers",
	RunE: func(cmd *cobra.Command, args []string) error {
		if simulateLocation == "" {
			return errors.New("--location must be provided")
		}
		if len(simulateTemps) == 0 {
			return errors.New("--temps must list at least one temperature")
		}

		return getApp().SimulateAlert(cmd.Context(), simulateLocation, simulateTemps)
	},
}

func init() {
	simulateCmd.Flags().StringVar(&simulateLocation, "location", "", "Location name to simulate")
	simulateCmd.Flags().Float64SliceVar(&simulateTemps, "temps", nil, "Comma-separated temperatures in °C, one per cycle")
}
