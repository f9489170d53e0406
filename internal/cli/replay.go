package cli

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"bundleradar/internal/app"
)

var (
	replayFile     string
	replayStep     time.Duration
	replayStart    string
	replayDispatch bool
)

var replayCmd = &cobra.Command{
	Use:   "replay",
	Short: "Replay recorded feed frames (NDJSON) through the detector",
	RunE: func(cmd *cobra.Command, args []string) error {
		opts := app.ReplayOptions{
			File:     replayFile,
			Step:     replayStep,
			Dispatch: replayDispatch,
		}
		if replayStart != "" {
			start, err := time.Parse(time.RFC3339, replayStart)
			if err != nil {
				return fmt.Errorf("invalid --start value: %w", err)
			}
			opts.Start = start
		}

		_, err := getApp().Replay(cmd.Context(), opts)
		return err
	},
}

func init() {
	replayCmd.Flags().StringVar(&replayFile, "file", "", "NDJSON file with one raw feed message per line")
	replayCmd.Flags().DurationVar(&replayStep, "step", 100*time.Millisecond, "Virtual time between consecutive lines")
	replayCmd.Flags().StringVar(&replayStart, "start", "", "Virtual start time (RFC3339, defaults to now)")
	replayCmd.Flags().BoolVar(&replayDispatch, "dispatch", false, "Send detected alerts through the configured channels")
}
