package commands

import (
	"log/slog"
	"os"
	"strconv"

	"fptools-backend/lib/scrapers/funpay/lots"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"
)

var (
	toggleOn  bool
	toggleOff bool
)

func init() {
	toggleCmd.Flags().BoolVar(&toggleOn, "on", false, "Activate instead of flipping.")
	toggleCmd.Flags().BoolVar(&toggleOff, "off", false, "Deactivate instead of flipping.")
	lotsCmd.AddCommand(listCmd)
	lotsCmd.AddCommand(toggleCmd)
	lotsCmd.AddCommand(deleteCmd)
	rootCmd.AddCommand(lotsCmd)
}

var lotsCmd = &cobra.Command{
	Use:   "lots",
	Short: "Inspect and manage the account's listings.",
}

var listCmd = &cobra.Command{
	Use:   "list",
	Short: "Lists every listing, deactivated ones included.",
	Run: func(cmd *cobra.Command, args []string) {
		t := createToolkit(cmd.Context())
		defer t.Close()

		all, err := t.Lots.List(cmd.Context())
		if err != nil {
			fatal("failed to list listings", err)
		}

		w := table.NewWriter()
		w.SetOutputMirror(os.Stdout)
		w.AppendHeader(table.Row{"ID", "TITLE", "CATEGORY", "PRICE", "AMOUNT", "ACTIVE"})
		for _, lot := range all {
			price := ""
			if lot.Price != nil {
				price = strconv.FormatFloat(*lot.Price, 'f', -1, 64) + " " + lot.Currency
			}
			amount := ""
			if lot.Amount != nil {
				amount = strconv.Itoa(*lot.Amount)
			}
			w.AppendRow(table.Row{lot.Id, lot.Title, lot.CategoryName, price, amount, lot.Active})
		}
		w.Render()
	},
}

var toggleCmd = &cobra.Command{
	Use:   "toggle <lot id>... [--on|--off]",
	Short: "Flips listings between active and deactivated.",
	Args:  cobra.MinimumNArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		t := createToolkit(cmd.Context())
		defer t.Close()

		var force *bool
		if toggleOn {
			v := true
			force = &v
		} else if toggleOff {
			v := false
			force = &v
		}

		if len(args) > 1 && force != nil {
			batch := make([]lots.Lot, len(args))
			for i, id := range args {
				batch[i] = lots.Lot{Id: id}
			}
			for id, err := range t.Lots.BulkToggle(cmd.Context(), batch, *force) {
				if err != nil {
					slog.Error("toggle failed", "lot", id, "err", err)
				} else {
					slog.Info("toggled", "lot", id)
				}
			}
			return
		}

		for _, id := range args {
			if err := t.Lots.Toggle(cmd.Context(), lots.Lot{Id: id}, force); err != nil {
				slog.Error("toggle failed", "lot", id, "err", err)
				continue
			}
			slog.Info("toggled", "lot", id)
		}
	},
}

var deleteCmd = &cobra.Command{
	Use:   "delete <lot id>",
	Short: "Deletes a listing permanently.",
	Args:  cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		t := createToolkit(cmd.Context())
		defer t.Close()

		if err := t.Lots.Delete(cmd.Context(), args[0]); err != nil {
			fatal("failed to delete listing", err)
		}
		slog.Info("deleted", "lot", args[0])
	},
}
