// Package resultstore keeps search runs and their articles in sqlite so they
// can be tabulated after the fact.
package resultstore

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"newsdesk-backend/internal/components/assert"
	"newsdesk-backend/internal/components/telemetry"
	"newsdesk-backend/internal/db"
	"newsdesk-backend/internal/scrapers/newsearch"

	_ "modernc.org/sqlite"
)

const (
	report_store_save_run = "store.save-run"
)

// RunParams describes the search a set of records came from.
type RunParams struct {
	Query      string
	Scopes     []string
	DateRange  string
	MaxResults int
	TotalCount int
	Pages      int
	Truncated  bool
	StartedAt  time.Time
}

// NewRunParams describes a finished search.
func NewRunParams(q newsearch.Query, res newsearch.Result, startedAt time.Time) RunParams {
	return RunParams{
		Query:      q.Text,
		Scopes:     q.Scopes,
		DateRange:  q.Window.String(),
		MaxResults: q.MaxResults,
		TotalCount: res.TotalCount,
		Pages:      res.Pages,
		Truncated:  res.Truncated,
		StartedAt:  startedAt,
	}
}

type Run struct {
	ID       int64
	Articles int
	RunParams
}

type SourceCount struct {
	SourceName string
	Articles   int
}

type Store struct {
	db     *sql.DB
	qry    *db.Queries
	makeTx db.MakeTx
	tel    telemetry.API
}

// Open opens (or creates) the sqlite database at path and applies the schema,
// ":memory:" gives a throwaway database.
func Open(ctx context.Context, path string, tel telemetry.API) (*Store, error) {
	assert.NotEmptyStr(path, "result store path")

	sqlite, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, err
	}
	// :memory: databases are per connection
	sqlite.SetMaxOpenConns(1)

	_, err = sqlite.ExecContext(ctx, db.Schema)
	if err != nil {
		sqlite.Close()
		return nil, fmt.Errorf("resultstore: apply schema: %w", err)
	}

	return &Store{
		db:     sqlite,
		qry:    db.New(sqlite),
		makeTx: db.NewMakeTx(sqlite),
		tel:    telemetry.NewScopedAPI("resultstore", tel),
	}, nil
}

func (s *Store) Close() error {
	return s.db.Close()
}

// SaveRun stores one run and its records in a single transaction. Articles
// are shared between runs by provider id, the latest copy wins.
func (s *Store) SaveRun(ctx context.Context, params RunParams, records []newsearch.Record) (int64, error) {
	tx, discard, commit, err := s.makeTx(ctx)
	if err != nil {
		return 0, err
	}
	defer discard()

	scopes, err := json.Marshal(params.Scopes)
	if err != nil {
		return 0, fmt.Errorf("marshal scopes: %w", err)
	}

	truncated := int64(0)
	if params.Truncated {
		truncated = 1
	}
	runId, err := tx.CreateRun(ctx, db.CreateRunParams{
		Query:      params.Query,
		Scopes:     string(scopes),
		DateRange:  params.DateRange,
		MaxResults: int64(params.MaxResults),
		TotalCount: int64(params.TotalCount),
		Pages:      int64(params.Pages),
		Truncated:  truncated,
		StartedAt:  params.StartedAt.Unix(),
	})
	if err != nil {
		s.tel.ReportBroken(report_store_save_run, fmt.Errorf("create run: %w", err), params.Query)
		return 0, err
	}

	for i, rec := range records {
		err = tx.UpsertArticle(ctx, db.UpsertArticleParams{
			ID:              rec.ID,
			SourceName:      rec.SourceName,
			Headline:        rec.Headline,
			PublicationDate: rec.PublicationDate,
			LoadDate:        rec.LoadDate,
			Author:          rec.Author,
			Snippet:         rec.Snippet,
			LanguageCode:    rec.LanguageCode,
			WordCount:       int64(rec.WordCount),
			Url:             rec.URL,
		})
		if err != nil {
			s.tel.ReportBroken(report_store_save_run, fmt.Errorf("upsert article: %w", err), rec.ID)
			return 0, err
		}
		err = tx.AddRunArticle(ctx, db.AddRunArticleParams{
			RunID:     runId,
			Position:  int64(i),
			ArticleID: rec.ID,
		})
		if err != nil {
			s.tel.ReportBroken(report_store_save_run, fmt.Errorf("add run article: %w", err), rec.ID)
			return 0, err
		}
	}

	err = commit()
	if err != nil {
		s.tel.ReportBroken(report_store_save_run, fmt.Errorf("commit: %w", err))
		return 0, err
	}
	return runId, nil
}

// Runs lists every stored run, latest first.
func (s *Store) Runs(ctx context.Context) ([]Run, error) {
	rows, err := s.qry.GetRuns(ctx)
	if err != nil {
		return nil, err
	}

	runs := make([]Run, len(rows))
	for i, row := range rows {
		var scopes []string
		err = json.Unmarshal([]byte(row.Scopes), &scopes)
		if err != nil {
			return nil, fmt.Errorf("run %d: unmarshal scopes: %w", row.ID, err)
		}
		runs[i] = Run{
			ID:       row.ID,
			Articles: int(row.ArticleCount),
			RunParams: RunParams{
				Query:      row.Query,
				Scopes:     scopes,
				DateRange:  row.DateRange,
				MaxResults: int(row.MaxResults),
				TotalCount: int(row.TotalCount),
				Pages:      int(row.Pages),
				Truncated:  row.Truncated != 0,
				StartedAt:  time.Unix(row.StartedAt, 0),
			},
		}
	}
	return runs, nil
}

// ArticlesForRun returns the records of a run in the order they were found.
func (s *Store) ArticlesForRun(ctx context.Context, runId int64) ([]newsearch.Record, error) {
	rows, err := s.qry.GetArticlesForRun(ctx, runId)
	if err != nil {
		return nil, err
	}

	records := make([]newsearch.Record, len(rows))
	for i, row := range rows {
		records[i] = newsearch.Record{
			ID:              row.ID,
			SourceName:      row.SourceName,
			Headline:        row.Headline,
			PublicationDate: row.PublicationDate,
			LoadDate:        row.LoadDate,
			Author:          row.Author,
			Snippet:         row.Snippet,
			LanguageCode:    row.LanguageCode,
			WordCount:       int(row.WordCount),
			URL:             row.Url,
		}
	}
	return records, nil
}

// SourceCounts tallies the articles of a run per source, largest first.
func (s *Store) SourceCounts(ctx context.Context, runId int64) ([]SourceCount, error) {
	rows, err := s.qry.GetSourceCounts(ctx, runId)
	if err != nil {
		return nil, err
	}

	counts := make([]SourceCount, len(rows))
	for i, row := range rows {
		counts[i] = SourceCount{
			SourceName: row.SourceName,
			Articles:   int(row.ArticleCount),
		}
	}
	return counts, nil
}
