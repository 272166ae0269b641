package commands

import (
	"context"
	"fmt"
	"log/slog"
	"os"

	"newsdesk-backend/cmd/newsdesk-cli/globals"
	"newsdesk-backend/internal/components/telemetry"
	"newsdesk-backend/internal/config"
	"newsdesk-backend/internal/configutil"

	"github.com/spf13/cobra"
)

var (
	configName string
	verbose    bool
	dumpDir    string
)

func init() {
	rootCmd.PersistentFlags().StringVar(&configName, "config", "config.json5", "The config file, looked up in the working directory and its parents.")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "Log debug reports.")
	rootCmd.PersistentFlags().StringVar(&dumpDir, "dump-dir", "", "Write every login request and response to this directory (it is emptied first).")
}

var rootCmd = &cobra.Command{
	Use:   "newsdesk-cli",
	Short: "newsdesk-cli searches the news provider and manages its bearer credential.",
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		telemetry.InitSlog(verbose)

		cfg, err := configutil.ReadRecursively[config.Config](configName)
		if err != nil {
			return fmt.Errorf("read config: %w", err)
		}
		value, err := globals.Build(cmd.Context(), cfg, dumpDir, telemetry.NewSlogAPI(slog.Default()))
		if err != nil {
			return err
		}
		cmd.SetContext(globals.Set(cmd.Context(), value))
		return nil
	},
	SilenceUsage: true,
}

func ExecuteContext(ctx context.Context) {
	if err := rootCmd.ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
