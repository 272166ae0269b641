package commands

import (
	"errors"
	"fmt"
	"log/slog"
	"time"

	"newsdesk-backend/cmd/newsdesk-cli/globals"
	"newsdesk-backend/cmd/newsdesk-cli/utils"
	"newsdesk-backend/internal/resultstore"
	"newsdesk-backend/internal/scrapers/newsearch"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"
)

var (
	searchDays   int
	searchFrom   string
	searchTo     string
	searchRange  string
	searchScopes []string
	searchMax    int
	searchDb     string
)

func init() {
	searchCmd.Flags().IntVar(&searchDays, "days", 0, "Search the last n days, mapped to the nearest named range.")
	searchCmd.Flags().StringVar(&searchFrom, "from", "", "Start date (YYYY-MM-DD) of an explicit window.")
	searchCmd.Flags().StringVar(&searchTo, "to", "", "End date (YYYY-MM-DD) of an explicit window.")
	searchCmd.Flags().StringVar(&searchRange, "range", "", "A named range: LastDay, LastWeek, LastMonth or Last3Months.")
	searchCmd.Flags().StringSliceVar(&searchScopes, "scope", nil, "A content collection to search in, may be repeated.")
	searchCmd.Flags().IntVar(&searchMax, "max", 100, "The maximum number of articles to fetch.")
	searchCmd.Flags().StringVar(&searchDb, "db", "", "Write the run and its articles to this sqlite database.")

	searchCmd.MarkFlagsMutuallyExclusive("days", "from", "range")
	searchCmd.MarkFlagsMutuallyExclusive("days", "to", "range")
	searchCmd.MarkFlagsRequiredTogether("from", "to")

	rootCmd.AddCommand(searchCmd)
}

func dateWindow() (newsearch.DateWindow, error) {
	switch {
	case searchFrom != "":
		start, err := time.Parse(time.DateOnly, searchFrom)
		if err != nil {
			return newsearch.DateWindow{}, fmt.Errorf("--from: %w", err)
		}
		end, err := time.Parse(time.DateOnly, searchTo)
		if err != nil {
			return newsearch.DateWindow{}, fmt.Errorf("--to: %w", err)
		}
		return newsearch.Between(start, end), nil
	case searchRange != "":
		r, err := newsearch.ParseNamedRange(searchRange)
		if err != nil {
			return newsearch.DateWindow{}, err
		}
		return newsearch.Named(r), nil
	case searchDays > 0:
		return newsearch.LastDays(searchDays), nil
	}
	return newsearch.DateWindow{}, nil
}

var searchCmd = &cobra.Command{
	Use:   "search <text> [--days <n> | --from <date> --to <date> | --range <name>] [--scope <s>]... [--max <n>] [--db <path/to/output.db>]",
	Short: "Searches the provider and prints the articles found.",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		g := globals.Get(cmd.Context())

		window, err := dateWindow()
		if err != nil {
			return err
		}
		query := newsearch.Query{
			Text:       args[0],
			Window:     window,
			Scopes:     searchScopes,
			MaxResults: searchMax,
		}

		started := g.Time.Now()
		res, searchErr := g.Search.Search(cmd.Context(), query)

		var authErr *newsearch.AuthenticationError
		if errors.As(searchErr, &authErr) {
			slog.Warn("the provider rejected the credential, run the search again to resolve a fresh one")
		}
		if len(res.Records) == 0 && searchErr != nil {
			return searchErr
		}

		t := utils.NewTable()
		t.AppendHeader(table.Row{"#", "Published", "Source", "Headline", "Words"})
		for i, rec := range res.Records {
			t.AppendRow(table.Row{i + 1, rec.PublicationDate, rec.SourceName, utils.Ellipsis(rec.Headline, 80), rec.WordCount})
		}
		t.AppendFooter(table.Row{"", "", "", fmt.Sprintf("%d of %d (%d pages)", len(res.Records), res.TotalCount, res.Pages), ""})
		t.Render()

		if searchDb != "" {
			err = saveRun(cmd, query, res, started)
			if err != nil {
				return err
			}
		}
		return searchErr
	},
}

func saveRun(cmd *cobra.Command, query newsearch.Query, res newsearch.Result, started time.Time) error {
	g := globals.Get(cmd.Context())

	store, err := resultstore.Open(cmd.Context(), searchDb, g.Tel)
	if err != nil {
		return fmt.Errorf("open result store: %w", err)
	}
	defer store.Close()

	runId, err := store.SaveRun(cmd.Context(), resultstore.NewRunParams(query, res, started), res.Records)
	if err != nil {
		return fmt.Errorf("save run: %w", err)
	}

	counts, err := store.SourceCounts(cmd.Context(), runId)
	if err != nil {
		return err
	}
	t := utils.NewTable()
	t.SetTitle(fmt.Sprintf("run %d", runId))
	t.AppendHeader(table.Row{"Source", "Articles"})
	for _, c := range counts {
		t.AppendRow(table.Row{c.SourceName, c.Articles})
	}
	t.Render()
	return nil
}
