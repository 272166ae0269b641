package commands

import (
	"context"
	"fmt"
	"os/signal"
	"syscall"
	"time"

	"newsdesk-backend/cmd/newsdesk-cli/globals"
	"newsdesk-backend/cmd/newsdesk-cli/utils"
	"newsdesk-backend/internal/components/chrono"
	"newsdesk-backend/internal/credstore"
	"newsdesk-backend/internal/tokeninfo"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"
)

var (
	extendDays     int
	watchSpec      string
	watchMarginMin int
)

func init() {
	extendCmd.Flags().IntVar(&extendDays, "days", 1, "The number of days to push the stored expiry back by.")
	watchCmd.Flags().StringVar(&watchSpec, "every", "@every 5m", "The cron spec of the credential check.")
	watchCmd.Flags().IntVar(&watchMarginMin, "margin", 15, "Refresh this many minutes before the credential expires.")

	tokenCmd.AddCommand(statusCmd, refreshCmd, extendCmd, watchCmd)
	rootCmd.AddCommand(tokenCmd)
}

func formatTime(t *time.Time) string {
	if t == nil || t.IsZero() {
		return "-"
	}
	return t.Local().Format(time.DateTime)
}

func renderStatus(record credstore.TokenRecord, res tokeninfo.Result, path string) {
	t := utils.NewTable()
	t.AppendHeader(table.Row{"Field", "Value"})
	t.AppendRows([]table.Row{
		{"File", path},
		{"Status", res.Status.String()},
		{"Time", res.TimeStatus},
		{"Subject", res.SubjectEmail},
		{"Issued at (claim)", formatTime(res.IssuedAt)},
		{"Expires at (claim)", formatTime(res.ExpiresAt)},
		{"Issued at (stored)", formatTime(&record.IssuedAt)},
		{"Expires at (stored)", formatTime(&record.ExpiresAt)},
		{"Credential", utils.Ellipsis(record.Credential, 48)},
	})
	t.Render()
}

var tokenCmd = &cobra.Command{
	Use:   "token",
	Short: "Inspects and maintains the stored bearer credential.",
}

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Shows the stored credential record and what its claims say.",
	Run: func(cmd *cobra.Command, args []string) {
		g := globals.Get(cmd.Context())
		record, res := g.Manager.Status(cmd.Context())
		renderStatus(record, res, g.Store.Path())
	},
}

var refreshCmd = &cobra.Command{
	Use:   "refresh",
	Short: "Walks the refresh chain even if the stored credential is still valid.",
	Run: func(cmd *cobra.Command, args []string) {
		g := globals.Get(cmd.Context())
		outcome := g.Manager.Refresh(cmd.Context())
		fmt.Printf("credential obtained through: %s\n", outcome.Strategy)

		record, res := g.Manager.Status(cmd.Context())
		renderStatus(record, res, g.Store.Path())
	},
}

var extendCmd = &cobra.Command{
	Use:   "extend [--days <n>]",
	Short: "Pushes back the expiry of the stored record without touching the credential.",
	RunE: func(cmd *cobra.Command, args []string) error {
		g := globals.Get(cmd.Context())
		if !g.Store.ExtendExpiry(cmd.Context(), extendDays) {
			return fmt.Errorf("could not extend the expiry of %s", g.Store.Path())
		}
		record, res := g.Manager.Status(cmd.Context())
		renderStatus(record, res, g.Store.Path())
		return nil
	},
}

var watchCmd = &cobra.Command{
	Use:   "watch [--every <cron spec>] [--margin <minutes>]",
	Short: "Keeps the stored credential fresh until interrupted.",
	RunE: func(cmd *cobra.Command, args []string) error {
		g := globals.Get(cmd.Context())

		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		cron := chrono.NewStandardCron(g.Tel)
		defer cron.Stop()

		err := g.Manager.StartKeepalive(ctx, cron, watchSpec, time.Duration(watchMarginMin)*time.Minute)
		if err != nil {
			return fmt.Errorf("schedule keepalive: %w", err)
		}
		// check once right away instead of waiting for the first tick
		g.Manager.GetUsableCredential(ctx)

		<-ctx.Done()
		if ctx.Err() == context.Canceled {
			return nil
		}
		return ctx.Err()
	},
}
