package newsearch

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"newsdesk-backend/internal/components/telemetry"
	"newsdesk-backend/internal/config"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/require"
)

type staticCredential struct {
	calls atomic.Int32
}

func (s *staticCredential) GetUsableCredential(context.Context) string {
	s.calls.Add(1)
	return "header.payload.signature"
}

// provider serves pages of the given sizes in order, every page request is
// recorded.
type provider struct {
	pages []int
	total int
	// respond overrides the response of the page with the given index.
	respond func(w http.ResponseWriter, r *http.Request, page int) bool

	mutex    sync.Mutex
	requests []searchRequest
}

func (p *provider) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Header.Get("Authorization") != "Bearer header.payload.signature" {
		w.WriteHeader(http.StatusUnauthorized)
		return
	}

	var req searchRequest
	err := json.NewDecoder(r.Body).Decode(&req)
	if err != nil {
		w.WriteHeader(http.StatusBadRequest)
		return
	}

	p.mutex.Lock()
	page := len(p.requests)
	p.requests = append(p.requests, req)
	p.mutex.Unlock()

	if p.respond != nil && p.respond(w, r, page) {
		return
	}

	size := 0
	if page < len(p.pages) {
		size = p.pages[page]
	}
	hits := make([]searchHit, size)
	for i := range hits {
		hits[i] = searchHit{
			Id:         fmt.Sprintf("art-%d", req.Offset+i),
			SourceName: "Daily Bugle",
			Headline:   fmt.Sprintf("headline %d", req.Offset+i),
			Language:   "en",
			WordCount:  100 + i,
		}
	}
	total := p.total
	w.Header().Set("content-type", "application/json")
	json.NewEncoder(w).Encode(searchResponse{TotalCount: &total, Results: &hits})
}

func (p *provider) offsets() []int {
	p.mutex.Lock()
	defer p.mutex.Unlock()
	out := make([]int, len(p.requests))
	for i, req := range p.requests {
		out[i] = req.Offset
	}
	return out
}

func newTestClient(t *testing.T, p *provider) (*Client, *staticCredential) {
	srv := httptest.NewServer(p)
	t.Cleanup(srv.Close)

	credentials := &staticCredential{}
	client, err := NewClient(Options{
		Endpoint:       srv.URL + "/search",
		ArticleBaseUrl: "https://news.example.com/article/",
		PageLimit:      20,
		PageTimeout:    5 * time.Second,
		RateLimit:      config.RateLimitConfig{PerSecond: 1000, Burst: 10},
	}, credentials, &telemetry.Recorder{})
	require.NoError(t, err)
	return client, credentials
}

func TestPaginatesUntilShortPage(t *testing.T) {
	p := &provider{pages: []int{20, 20, 7}, total: 1000}
	client, credentials := newTestClient(t, p)

	res, err := client.Search(context.Background(), Query{Text: "tariffs", MaxResults: 100})
	require.NoError(t, err)
	require.Len(t, res.Records, 47)
	require.Equal(t, 3, res.Pages)
	require.False(t, res.Truncated)
	require.Equal(t, []int{0, 20, 40}, p.offsets())
	require.Equal(t, int32(1), credentials.calls.Load())

	for i, rec := range res.Records {
		require.Equal(t, fmt.Sprintf("art-%d", i), rec.ID)
	}
	require.Equal(t, "https://news.example.com/article/art-0", res.Records[0].URL)
}

func TestTruncatesToMaxResults(t *testing.T) {
	p := &provider{pages: []int{20, 20, 20}, total: 1000}
	client, _ := newTestClient(t, p)

	res, err := client.Search(context.Background(), Query{Text: "tariffs", MaxResults: 30})
	require.NoError(t, err)
	require.Len(t, res.Records, 30)
	require.Equal(t, 2, res.Pages)
	require.Equal(t, []int{0, 20}, p.offsets())
	require.Equal(t, "art-29", res.Records[29].ID)
}

func TestStopsAtTotalCount(t *testing.T) {
	p := &provider{pages: []int{20, 20, 20}, total: 40}
	client, _ := newTestClient(t, p)

	res, err := client.Search(context.Background(), Query{Text: "tariffs", MaxResults: 100})
	require.NoError(t, err)
	require.Len(t, res.Records, 40)
	require.Equal(t, 40, res.TotalCount)
	require.Equal(t, []int{0, 20}, p.offsets())
}

func TestEmptyFirstPage(t *testing.T) {
	p := &provider{pages: []int{0}, total: 0}
	client, _ := newTestClient(t, p)

	res, err := client.Search(context.Background(), Query{Text: "nothing", MaxResults: 10})
	require.NoError(t, err)
	require.Empty(t, res.Records)
	require.Equal(t, 1, res.Pages)
}

func TestStartsAtPageOffset(t *testing.T) {
	p := &provider{pages: []int{5}, total: 1000}
	client, _ := newTestClient(t, p)

	res, err := client.Search(context.Background(), Query{Text: "tariffs", PageOffset: 60, MaxResults: 10})
	require.NoError(t, err)
	require.Equal(t, []int{60}, p.offsets())
	require.Equal(t, "art-60", res.Records[0].ID)
}

func TestUnauthorizedAbortsWithoutRefresh(t *testing.T) {
	p := &provider{
		pages: []int{20, 20, 20},
		total: 1000,
		respond: func(w http.ResponseWriter, r *http.Request, page int) bool {
			if page == 1 {
				w.WriteHeader(http.StatusUnauthorized)
				return true
			}
			return false
		},
	}
	client, credentials := newTestClient(t, p)

	res, err := client.Search(context.Background(), Query{Text: "tariffs", MaxResults: 100})
	var authErr *AuthenticationError
	require.ErrorAs(t, err, &authErr)
	require.Equal(t, 20, authErr.Offset)
	require.Len(t, res.Records, 20)
	require.Equal(t, []int{0, 20}, p.offsets())
	require.Equal(t, int32(1), credentials.calls.Load())
	require.True(t, IsRetryable(err))
}

func TestServerErrorIsTransient(t *testing.T) {
	long := strings.Repeat("x", 4096)
	p := &provider{
		respond: func(w http.ResponseWriter, r *http.Request, page int) bool {
			w.WriteHeader(http.StatusBadGateway)
			w.Write([]byte(long))
			return true
		},
	}
	client, _ := newTestClient(t, p)

	_, err := client.Search(context.Background(), Query{Text: "tariffs", MaxResults: 100})
	var transient *TransientError
	require.ErrorAs(t, err, &transient)
	require.Equal(t, http.StatusBadGateway, transient.StatusCode)
	require.True(t, strings.HasPrefix(transient.Body, strings.Repeat("x", maxErrorBody)))
	require.Less(t, len(transient.Body), len(long))
}

func TestNetworkErrorIsTransient(t *testing.T) {
	client, err := NewClient(Options{
		Endpoint:  "http://search.invalid/search",
		Transport: failingTransport{},
		RateLimit: config.RateLimitConfig{PerSecond: 1000, Burst: 10},
	}, &staticCredential{}, &telemetry.Recorder{})
	require.NoError(t, err)

	_, err = client.Search(context.Background(), Query{Text: "tariffs", MaxResults: 10})
	var transient *TransientError
	require.ErrorAs(t, err, &transient)
	require.Zero(t, transient.StatusCode)
	require.ErrorIs(t, err, errConnectionRefused)
}

var errConnectionRefused = errors.New("connection refused")

type failingTransport struct{}

func (failingTransport) RoundTrip(*http.Request) (*http.Response, error) {
	return nil, errConnectionRefused
}

func TestMalformedPageKeepsEarlierRecords(t *testing.T) {
	p := &provider{
		pages: []int{20, 20, 20},
		total: 1000,
		respond: func(w http.ResponseWriter, r *http.Request, page int) bool {
			if page == 2 {
				w.Header().Set("content-type", "application/json")
				w.Write([]byte(`{"total_count": 1000, "results": "oops"`))
				return true
			}
			return false
		},
	}
	client, _ := newTestClient(t, p)

	res, err := client.Search(context.Background(), Query{Text: "tariffs", MaxResults: 100})
	var incomplete *PaginationIncomplete
	require.ErrorAs(t, err, &incomplete)
	require.Equal(t, 40, incomplete.Offset)
	require.Equal(t, 40, incomplete.Accumulated)
	require.Len(t, res.Records, 40)
	require.Equal(t, 2, res.Pages)
}

func TestCancellationReturnsAccumulated(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	p := &provider{
		pages: []int{20, 20, 20},
		total: 1000,
		respond: func(w http.ResponseWriter, r *http.Request, page int) bool {
			if page == 1 {
				cancel()
				<-r.Context().Done()
				return true
			}
			return false
		},
	}
	client, _ := newTestClient(t, p)

	res, err := client.Search(ctx, Query{Text: "tariffs", MaxResults: 100})
	require.ErrorIs(t, err, context.Canceled)
	require.True(t, res.Truncated)
	require.Len(t, res.Records, 20)
}

func TestRequestBody(t *testing.T) {
	p := &provider{pages: []int{1}, total: 1}
	client, _ := newTestClient(t, p)

	_, err := client.Search(context.Background(), Query{
		Text:       "central bank",
		Scopes:     []string{"newswires", "press"},
		Window:     LastDays(5),
		MaxResults: 10,
	})
	require.NoError(t, err)

	expected := []searchRequest{{
		Query:       "central bank",
		Collections: []string{"newswires", "press"},
		DateRange:   &dateRange{Named: "LastWeek"},
		Offset:      0,
		Limit:       20,
		Sort:        config.DefaultSort,
	}}
	if diff := cmp.Diff(expected, p.requests); diff != "" {
		t.Fatal(diff)
	}
}

func TestExplicitDateRange(t *testing.T) {
	start := time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC)
	end := time.Date(2024, 3, 31, 0, 0, 0, 0, time.UTC)
	require.Equal(
		t,
		&dateRange{Start: "2024-03-01", End: "2024-03-31"},
		toDateRange(Between(start, end)),
	)
	require.Nil(t, toDateRange(DateWindow{}))
	require.Equal(t, &dateRange{Named: "LastDay"}, toDateRange(LastDays(0)))
	require.Equal(t, &dateRange{Named: "LastDay"}, toDateRange(LastDays(1)))
	require.NoError(t, LastDays(0).validate())
	require.Equal(t, &dateRange{Named: "Last3Months"}, toDateRange(Named(Last3Months)))
}

func TestInvalidQueryIsNotSent(t *testing.T) {
	p := &provider{pages: []int{1}, total: 1}
	client, credentials := newTestClient(t, p)

	cases := []Query{
		{Text: "", MaxResults: 10},
		{Text: "x", MaxResults: 0},
		{Text: "x", MaxResults: 10, PageOffset: -1},
		{Text: "x", MaxResults: 10, Window: DateWindow{Days: -3}},
		{Text: "x", MaxResults: 10, Window: DateWindow{Days: 3, Named: LastDay}},
		{Text: "x", MaxResults: 10, Window: Named("Yesterday")},
		{Text: "x", MaxResults: 10, Window: Between(time.Now(), time.Now().Add(-time.Hour))},
	}
	for _, q := range cases {
		_, err := client.Search(context.Background(), q)
		require.ErrorIs(t, err, ErrInvalidQuery, "%+v", q)
		require.False(t, IsRetryable(err))
	}
	require.Empty(t, p.offsets())
	require.Zero(t, credentials.calls.Load())
}

func TestNamedRangeForDays(t *testing.T) {
	cases := []struct {
		days     int
		expected NamedRange
	}{
		{0, LastDay},
		{1, LastDay},
		{2, LastWeek},
		{7, LastWeek},
		{8, LastMonth},
		{30, LastMonth},
		{31, Last3Months},
		{90, Last3Months},
		{365, Last3Months},
	}
	for _, c := range cases {
		require.Equal(t, c.expected, NamedRangeForDays(c.days), "days=%d", c.days)
	}
}

func TestParsePageRejectsHitWithoutId(t *testing.T) {
	_, _, err := parsePage([]byte(`{"total_count": 1, "results": [{"headline": "x"}]}`), "")
	require.Error(t, err)

	_, _, err = parsePage([]byte(`{"total_count": 1}`), "")
	require.Error(t, err)

	records, total, err := parsePage([]byte(`{"total_count": 3, "results": [{"id": "a b", "url": ""}]}`), "https://n.example.com/a")
	require.NoError(t, err)
	require.Equal(t, 3, total)
	require.Equal(t, "https://n.example.com/a/a%20b", records[0].URL)
}
