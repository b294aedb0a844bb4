package commands

import (
	"errors"
	"fmt"
	"log/slog"
	"os"

	"fptools-backend/lib/kvstore"

	"github.com/spf13/cobra"
)

var logsOut string

func init() {
	logsExportCmd.Flags().StringVar(&logsOut, "out", "", "Write to a file instead of stdout.")
	logsCmd.AddCommand(logsExportCmd)
	rootCmd.AddCommand(logsCmd)
}

var logsCmd = &cobra.Command{
	Use:   "logs",
	Short: "Work with the agent's activity log.",
}

var logsExportCmd = &cobra.Command{
	Use:   "export [--out <file>]",
	Short: "Exports the activity log of the last agent run, oldest entry first.",
	Run: func(cmd *cobra.Command, args []string) {
		t := createToolkit(cmd.Context())
		defer t.Close()

		exported, err := t.Store.GetString(agentLogKey)
		if errors.Is(err, kvstore.ErrNotFound) {
			fatal("no agent run has been recorded yet", err)
		}
		if err != nil {
			fatal("failed to read activity log", err)
		}

		if logsOut == "" {
			fmt.Println(exported)
			return
		}
		if err := os.WriteFile(logsOut, []byte(exported+"\n"), 0644); err != nil {
			fatal("failed to write export", err)
		}
		slog.Info("exported", "file", logsOut)
	},
}
