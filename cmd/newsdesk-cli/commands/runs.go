package commands

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"newsdesk-backend/cmd/newsdesk-cli/globals"
	"newsdesk-backend/cmd/newsdesk-cli/utils"
	"newsdesk-backend/internal/resultstore"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"
)

var runsDb string

func init() {
	runsCmd.PersistentFlags().StringVar(&runsDb, "db", "results.db", "The sqlite database search runs were written to.")
	runsCmd.AddCommand(runsShowCmd)
	rootCmd.AddCommand(runsCmd)
}

func openRuns(cmd *cobra.Command) (*resultstore.Store, error) {
	g := globals.Get(cmd.Context())
	return resultstore.Open(cmd.Context(), runsDb, g.Tel)
}

var runsCmd = &cobra.Command{
	Use:   "runs [--db <path/to/output.db>]",
	Short: "Lists the search runs stored in a database.",
	RunE: func(cmd *cobra.Command, args []string) error {
		store, err := openRuns(cmd)
		if err != nil {
			return err
		}
		defer store.Close()

		runs, err := store.Runs(cmd.Context())
		if err != nil {
			return err
		}

		t := utils.NewTable()
		t.AppendHeader(table.Row{"Run", "Started", "Query", "Scopes", "Range", "Articles", "Total", "Truncated"})
		for _, run := range runs {
			t.AppendRow(table.Row{
				run.ID,
				run.StartedAt.Format(time.DateTime),
				run.Query,
				strings.Join(run.Scopes, ", "),
				run.DateRange,
				run.Articles,
				run.TotalCount,
				run.Truncated,
			})
		}
		t.Render()
		return nil
	},
}

var runsShowCmd = &cobra.Command{
	Use:   "show <run id>",
	Short: "Prints the articles of a stored run.",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		runId, err := strconv.ParseInt(args[0], 10, 64)
		if err != nil {
			return fmt.Errorf("run id: %w", err)
		}

		store, err := openRuns(cmd)
		if err != nil {
			return err
		}
		defer store.Close()

		records, err := store.ArticlesForRun(cmd.Context(), runId)
		if err != nil {
			return err
		}

		t := utils.NewTable()
		t.AppendHeader(table.Row{"#", "Published", "Source", "Headline", "Url"})
		for i, rec := range records {
			t.AppendRow(table.Row{i + 1, rec.PublicationDate, rec.SourceName, utils.Ellipsis(rec.Headline, 60), rec.URL})
		}
		t.Render()
		return nil
	},
}
