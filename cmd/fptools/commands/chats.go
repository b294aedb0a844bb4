package commands

import (
	"fmt"
	"log/slog"
	"os"
	"strings"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"
)

func init() {
	chatsCmd.AddCommand(chatsListCmd)
	chatsCmd.AddCommand(chatsHistoryCmd)
	chatsCmd.AddCommand(chatsSendCmd)
	rootCmd.AddCommand(chatsCmd)
}

var chatsCmd = &cobra.Command{
	Use:   "chats",
	Short: "Read and write the account's conversations.",
}

var chatsListCmd = &cobra.Command{
	Use:   "list",
	Short: "Lists conversations, most recent first.",
	Run: func(cmd *cobra.Command, args []string) {
		t := createToolkit(cmd.Context())
		defer t.Close()

		summaries, err := t.Chat.List(cmd.Context())
		if err != nil {
			fatal("failed to list chats", err)
		}

		w := table.NewWriter()
		w.SetOutputMirror(os.Stdout)
		w.AppendHeader(table.Row{"CHAT", "USER", "LAST MESSAGE", "UNREAD"})
		for _, s := range summaries {
			w.AppendRow(table.Row{s.Id, s.Username, s.LastMessage, s.Unread})
		}
		w.Render()
	},
}

var chatsHistoryCmd = &cobra.Command{
	Use:   "history <chat id>",
	Short: "Prints a conversation's messages.",
	Args:  cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		t := createToolkit(cmd.Context())
		defer t.Close()

		messages, err := t.Chat.History(cmd.Context(), args[0])
		if err != nil {
			fatal("failed to load history", err)
		}
		for _, m := range messages {
			who := m.Author
			if m.Mine {
				who = "me"
			}
			text := m.Text
			if text == "" && m.ImageUrl != "" {
				text = "[image] " + m.ImageUrl
			}
			fmt.Printf("[%s] %s: %s\n", m.Time, who, text)
		}
	},
}

var chatsSendCmd = &cobra.Command{
	Use:   "send <chat id> <message>...",
	Short: "Sends a message into a conversation.",
	Args:  cobra.MinimumNArgs(2),
	Run: func(cmd *cobra.Command, args []string) {
		t := createToolkit(cmd.Context())
		defer t.Close()

		content := strings.Join(args[1:], " ")
		if err := t.Chat.Send(cmd.Context(), args[0], content); err != nil {
			fatal("failed to send message", err)
		}
		slog.Info("sent", "chat", args[0])
	},
}
