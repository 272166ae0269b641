package newsearch

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"strings"
)

const wireDateLayout = "2006-01-02"

type dateRange struct {
	Named string `json:"named,omitempty"`
	Start string `json:"start,omitempty"`
	End   string `json:"end,omitempty"`
}

type searchRequest struct {
	Query       string     `json:"query"`
	Collections []string   `json:"collections"`
	DateRange   *dateRange `json:"date_range,omitempty"`
	Offset      int        `json:"offset"`
	Limit       int        `json:"limit"`
	Sort        string     `json:"sort"`
}

type searchHit struct {
	Id              string `json:"id"`
	SourceName      string `json:"source_name"`
	Headline        string `json:"headline"`
	PublicationDate string `json:"publication_date"`
	LoadDate        string `json:"load_date"`
	Author          string `json:"author"`
	Snippet         string `json:"snippet"`
	Language        string `json:"language"`
	WordCount       int    `json:"word_count"`
	Url             string `json:"url"`
}

type searchResponse struct {
	TotalCount *int         `json:"total_count"`
	Results    *[]searchHit `json:"results"`
}

func toDateRange(w DateWindow) *dateRange {
	switch {
	case w.explicit():
		return &dateRange{
			Start: w.Start.Format(wireDateLayout),
			End:   w.End.Format(wireDateLayout),
		}
	case w.Named != "":
		return &dateRange{Named: string(w.Named)}
	case w.Days > 0:
		return &dateRange{Named: string(NamedRangeForDays(w.Days))}
	}
	return nil
}

func newSearchRequest(q Query, offset int) searchRequest {
	collections := q.Scopes
	if collections == nil {
		collections = []string{}
	}
	return searchRequest{
		Query:       q.Text,
		Collections: collections,
		DateRange:   toDateRange(q.Window),
		Offset:      offset,
		Limit:       q.PageLimit,
		Sort:        q.Sort,
	}
}

// parsePage decodes one response body. A body that is not JSON, lacks the
// result list or total count, or holds a hit without id is malformed.
func parsePage(body []byte, articleBaseUrl string) ([]Record, int, error) {
	var res searchResponse
	err := json.Unmarshal(body, &res)
	if err != nil {
		return nil, 0, fmt.Errorf("json unmarshal: %w", err)
	}
	if res.Results == nil {
		return nil, 0, errors.New("response has no results field")
	}
	if res.TotalCount == nil {
		return nil, 0, errors.New("response has no total_count field")
	}

	records := make([]Record, 0, len(*res.Results))
	for i, hit := range *res.Results {
		if hit.Id == "" {
			return nil, 0, fmt.Errorf("result %d has no id", i)
		}
		link := hit.Url
		if link == "" && articleBaseUrl != "" {
			link = strings.TrimSuffix(articleBaseUrl, "/") + "/" + url.PathEscape(hit.Id)
		}
		records = append(records, Record{
			ID:              hit.Id,
			SourceName:      hit.SourceName,
			Headline:        hit.Headline,
			PublicationDate: hit.PublicationDate,
			LoadDate:        hit.LoadDate,
			Author:          hit.Author,
			Snippet:         hit.Snippet,
			LanguageCode:    hit.Language,
			WordCount:       hit.WordCount,
			URL:             link,
		})
	}
	return records, *res.TotalCount, nil
}
