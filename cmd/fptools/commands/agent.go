package commands

import (
	"errors"
	"log/slog"

	"fptools-backend/lib/osutil"
	"fptools-backend/lib/pacing"
	"fptools-backend/lib/telemetry"
	"fptools-backend/services/agent"

	"github.com/spf13/cobra"
)

const agentLogKey = "agent_log"

func init() {
	rootCmd.AddCommand(agentCmd)
}

var agentCmd = &cobra.Command{
	Use:   "agent",
	Short: "Runs the polling loop until interrupted: chats, greetings, review replies and bumps.",
	Run: func(cmd *cobra.Command, args []string) {
		ctx := osutil.SignalContext()
		telemetry.InstrumentPerfStats(ctx)
		t := createToolkit(ctx)
		defer t.Close()

		a := agent.New(agent.Options{
			Chat:     t.Chat,
			Lots:     t.Lots,
			Orders:   t.Orders,
			Raise:    t.Raise,
			Settings: t.Settings,
			Store:    t.Store,
			Pace:     pacing.Default(),
			Log:      t.Log,
		})

		slog.Info("agent running", "interval", pacing.Default().PollInterval)
		err := a.Run(ctx)

		// keep the activity log around for `fptools logs export`
		if storeErr := t.Store.SetString(agentLogKey, t.Log.Export()); storeErr != nil {
			slog.Warn("failed to persist activity log", "err", storeErr)
		}
		if err != nil && !errors.Is(err, ctx.Err()) {
			fatal("agent stopped unexpectedly", err)
		}
	},
}
