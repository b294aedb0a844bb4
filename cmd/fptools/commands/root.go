package commands

import (
	"context"
	"fmt"
	"os"

	"fptools-backend/lib/restyutil"
	"fptools-backend/lib/scrapers/funpay/core"
	"fptools-backend/lib/scrapers/funpay/support"
	"fptools-backend/lib/telemetry"

	"github.com/spf13/cobra"
)

var (
	verbose    bool
	configPath string
)

var rootCmd = &cobra.Command{
	Use:   "fptools",
	Short: "fptools automates a FunPay seller account: chats, listings, bumps and reviews.",
	PersistentPreRun: func(cmd *cobra.Command, args []string) {
		telemetry.InitSlog(verbose)
		if verbose {
			core.SetRestyInstrumentOutput(restyutil.NewFilesystemOutput(".dev/resty/fptools"))
			support.SetRestyInstrumentOutput(restyutil.NewFilesystemOutput(".dev/resty/fptools-support"))
		}
	},
}

func init() {
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "Log debug output and dump http exchanges to .dev/resty.")
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "fptools.json5", "Path to the config file.")
}

func ExecuteContext(ctx context.Context) {
	if err := rootCmd.ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
