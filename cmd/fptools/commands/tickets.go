package commands

import (
	"fmt"
	"log/slog"
	"os"
	"strings"

	"fptools-backend/lib/scrapers/funpay/support"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"
)

func init() {
	ticketsCmd.AddCommand(ticketsListCmd)
	ticketsCmd.AddCommand(ticketsShowCmd)
	ticketsCmd.AddCommand(ticketsCloseCmd)
	rootCmd.AddCommand(ticketsCmd)
}

var ticketsCmd = &cobra.Command{
	Use:   "tickets",
	Short: "Work with helpdesk tickets on the support portal.",
}

func createSupport(cmd *cobra.Command, t toolkit) *support.Client {
	client, err := support.NewClient(cmd.Context(), support.ClientOptions{
		Session: t.Core.Session,
	})
	if err != nil {
		fatal("failed to initialize portal client", err)
	}
	return client
}

var ticketsListCmd = &cobra.Command{
	Use:   "list",
	Short: "Lists the account's helpdesk tickets.",
	Run: func(cmd *cobra.Command, args []string) {
		t := createToolkit(cmd.Context())
		defer t.Close()

		tickets, err := createSupport(cmd, t).Tickets(cmd.Context())
		if err != nil {
			fatal("failed to list tickets", err)
		}

		w := table.NewWriter()
		w.SetOutputMirror(os.Stdout)
		w.AppendHeader(table.Row{"ID", "SUBJECT", "OPEN", "DATE"})
		for _, ticket := range tickets {
			w.AppendRow(table.Row{ticket.Id, ticket.Subject, ticket.Open, ticket.Date})
		}
		w.Render()
	},
}

var ticketsShowCmd = &cobra.Command{
	Use:   "show <ticket id>",
	Short: "Prints one ticket's thread.",
	Args:  cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		t := createToolkit(cmd.Context())
		defer t.Close()

		ticket, err := createSupport(cmd, t).Ticket(cmd.Context(), args[0])
		if err != nil {
			fatal("failed to load ticket", err)
		}

		status := "closed"
		if ticket.Open {
			status = "open"
		}
		fmt.Printf("#%s %s (%s)\n%s\n", ticket.Id, ticket.Subject, status, strings.Repeat("-", 40))
		for _, comment := range ticket.Comments {
			who := comment.Author
			if comment.Mine {
				who = "me"
			}
			fmt.Printf("[%s] %s: %s\n", comment.Time, who, comment.Text)
		}
	},
}

var ticketsCloseCmd = &cobra.Command{
	Use:   "close <ticket id>",
	Short: "Marks a ticket as resolved.",
	Args:  cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		t := createToolkit(cmd.Context())
		defer t.Close()

		if err := createSupport(cmd, t).Close(cmd.Context(), args[0]); err != nil {
			fatal("failed to close ticket", err)
		}
		slog.Info("closed", "ticket", args[0])
	},
}
