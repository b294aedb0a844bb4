package commands

import (
	"log/slog"
	"time"

	"github.com/spf13/cobra"
)

var raiseForce bool

func init() {
	raiseCmd.Flags().BoolVar(&raiseForce, "force", false, "Bump even when the configured interval has not elapsed.")
	rootCmd.AddCommand(raiseCmd)
}

var raiseCmd = &cobra.Command{
	Use:   "raise",
	Short: "Bumps every listing category to the top of its board.",
	Run: func(cmd *cobra.Command, args []string) {
		t := createToolkit(cmd.Context())
		defer t.Close()

		interval := t.Settings.RaiseInterval()
		if raiseForce {
			interval = 0
		}

		start := time.Now()
		report, err := t.Raise.RaiseAll(cmd.Context(), interval)
		if err != nil {
			fatal("bump pass failed", err)
		}
		if report.Skipped {
			slog.Info("skipped, interval has not elapsed", "interval", interval)
			return
		}

		for nodeId, outcome := range report.Outcomes {
			if outcome.Err != nil {
				slog.Error("category failed", "node", nodeId, "err", outcome.Err)
				continue
			}
			slog.Info("category done", "node", nodeId, "raised", outcome.Raised, "msg", outcome.Message)
		}
		slog.Info("bump pass finished",
			"raised", report.RaisedCount(),
			"total", len(report.Outcomes),
			"seconds", time.Since(start).Seconds())
	},
}
