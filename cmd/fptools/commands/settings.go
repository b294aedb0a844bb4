package commands

import (
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"fptools-backend/services/agent"

	"github.com/spf13/cobra"
)

var (
	greetingText     string
	greetingCooldown time.Duration
	greetingEnabled  bool
)

func init() {
	greetingCmd.Flags().StringVar(&greetingText, "text", "", "Greeting template, $username is substituted.")
	greetingCmd.Flags().DurationVar(&greetingCooldown, "cooldown", 24*time.Hour, "How long before the same chat is greeted again.")
	greetingCmd.Flags().BoolVar(&greetingEnabled, "enabled", true, "Whether greetings are sent at all.")

	settingsCmd.AddCommand(settingsShowCmd)
	settingsCmd.AddCommand(autoRaiseCmd)
	settingsCmd.AddCommand(autoResponseCmd)
	settingsCmd.AddCommand(autoReviewCmd)
	settingsCmd.AddCommand(raiseIntervalCmd)
	settingsCmd.AddCommand(greetingCmd)
	rootCmd.AddCommand(settingsCmd)
}

var settingsCmd = &cobra.Command{
	Use:   "settings",
	Short: "Reads and writes the agent's persisted settings.",
}

func parseOnOff(arg string) (bool, error) {
	switch arg {
	case "on", "true", "1":
		return true, nil
	case "off", "false", "0":
		return false, nil
	}
	return strconv.ParseBool(arg)
}

func boolSetting(use, short string, set func(s *agent.StoreSettings, v bool) error) *cobra.Command {
	return &cobra.Command{
		Use:   use + " <on|off>",
		Short: short,
		Args:  cobra.ExactArgs(1),
		Run: func(cmd *cobra.Command, args []string) {
			enabled, err := parseOnOff(args[0])
			if err != nil {
				fatal("expected on or off", err)
			}
			t := createToolkit(cmd.Context())
			defer t.Close()
			if err := set(t.Settings, enabled); err != nil {
				fatal("failed to save setting", err)
			}
			slog.Info("saved", "setting", use, "enabled", enabled)
		},
	}
}

var autoRaiseCmd = boolSetting("auto-raise",
	"Whether the agent bumps listings on its own.",
	func(s *agent.StoreSettings, v bool) error { return s.SetAutoRaise(v) })

var autoResponseCmd = boolSetting("auto-response",
	"Whether the agent answers configured commands in chat.",
	func(s *agent.StoreSettings, v bool) error { return s.SetAutoResponse(v) })

var autoReviewCmd = boolSetting("auto-review-reply",
	"Whether the agent answers buyer reviews from templates.",
	func(s *agent.StoreSettings, v bool) error { return s.SetAutoReviewReply(v) })

var raiseIntervalCmd = &cobra.Command{
	Use:   "raise-interval <duration>",
	Short: "How often the agent bumps listings, e.g. 4h or 30m.",
	Args:  cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		interval, err := time.ParseDuration(args[0])
		if err != nil {
			fatal("expected a duration like 4h", err)
		}
		t := createToolkit(cmd.Context())
		defer t.Close()
		if err := t.Settings.SetRaiseInterval(interval); err != nil {
			fatal("failed to save setting", err)
		}
		slog.Info("saved", "setting", "raise-interval", "interval", interval)
	},
}

var greetingCmd = &cobra.Command{
	Use:   "greeting --text <template>",
	Short: "Configures the first-contact greeting.",
	Run: func(cmd *cobra.Command, args []string) {
		t := createToolkit(cmd.Context())
		defer t.Close()
		err := t.Settings.SetGreeting(agent.Greeting{
			Enabled:  greetingEnabled,
			Text:     greetingText,
			Cooldown: greetingCooldown,
		})
		if err != nil {
			fatal("failed to save greeting", err)
		}
		slog.Info("saved", "setting", "greeting")
	},
}

var settingsShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Prints the current settings.",
	Run: func(cmd *cobra.Command, args []string) {
		t := createToolkit(cmd.Context())
		defer t.Close()

		greeting := t.Settings.Greeting()
		fmt.Printf("auto-raise:        %v\n", t.Settings.AutoRaise())
		fmt.Printf("auto-response:     %v\n", t.Settings.AutoResponse())
		fmt.Printf("auto-review-reply: %v\n", t.Settings.AutoReviewReply())
		fmt.Printf("raise-interval:    %s\n", t.Settings.RaiseInterval())
		fmt.Printf("greeting:          enabled=%v cooldown=%s %q\n", greeting.Enabled, greeting.Cooldown, greeting.Text)
		fmt.Printf("commands:          %d configured\n", len(t.Settings.Commands()))
	},
}
