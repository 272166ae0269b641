// Package newsearch drives the provider's offset paginated content search
// with the bearer credential handed out by the lifecycle manager.
package newsearch

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"newsdesk-backend/internal/components/assert"
	"newsdesk-backend/internal/components/telemetry"
	"newsdesk-backend/internal/config"

	"github.com/go-resty/resty/v2"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"golang.org/x/time/rate"
)

const (
	report_client_search = "client.search"
	report_client_page   = "client.page"
)

const maxErrorBody = 512

var tracer = otel.Tracer("newsdesk/scrapers/newsearch")

// CredentialSource hands out the bearer credential of a search. It never
// fails, a rejected credential surfaces as an AuthenticationError.
type CredentialSource interface {
	GetUsableCredential(ctx context.Context) string
}

type Options struct {
	Endpoint       string
	ArticleBaseUrl string
	PageLimit      int
	Sort           string
	// PageTimeout bounds every single page request.
	PageTimeout time.Duration
	ProxyUrl    string
	RateLimit   config.RateLimitConfig
	// Transport replaces the default transport, mostly for tests.
	Transport http.RoundTripper
}

func OptionsFromConfig(cfg config.Config) Options {
	return Options{
		Endpoint:       cfg.Search.Endpoint,
		ArticleBaseUrl: cfg.Search.ArticleBaseUrl,
		PageLimit:      cfg.Search.PageLimit,
		Sort:           cfg.Search.Sort,
		PageTimeout:    cfg.PageTimeout(),
		ProxyUrl:       cfg.ProxyUrl(),
		RateLimit:      cfg.RateLimit,
	}
}

type Client struct {
	http           *resty.Client
	credentials    CredentialSource
	endpoint       string
	articleBaseUrl string
	pageLimit      int
	sort           string
	pageTimeout    time.Duration

	tel telemetry.API
}

func NewClient(opts Options, credentials CredentialSource, tel telemetry.API) (*Client, error) {
	assert.NotNil(credentials, "credential source")
	assert.NotNil(tel, "telemetry")
	if opts.Endpoint == "" {
		return nil, fmt.Errorf("newsearch: no search endpoint configured")
	}
	if opts.PageLimit <= 0 {
		opts.PageLimit = config.DefaultPageLimit
	}
	if opts.Sort == "" {
		opts.Sort = config.DefaultSort
	}
	if opts.PageTimeout <= 0 {
		opts.PageTimeout = time.Minute
	}
	if opts.RateLimit.PerSecond <= 0 {
		opts.RateLimit.PerSecond = 2
	}
	if opts.RateLimit.Burst <= 0 {
		opts.RateLimit.Burst = 2
	}

	tel = telemetry.NewScopedAPI("newsearch", tel)

	httpClient := resty.New()
	if opts.Transport != nil {
		httpClient.SetTransport(opts.Transport)
	}
	if opts.ProxyUrl != "" {
		httpClient.SetProxy(opts.ProxyUrl)
	}
	httpClient.SetTimeout(opts.PageTimeout)
	httpClient.SetHeader("accept", "application/json")

	limiter := rate.NewLimiter(rate.Limit(opts.RateLimit.PerSecond), opts.RateLimit.Burst)
	httpClient.OnBeforeRequest(func(_ *resty.Client, req *resty.Request) error {
		return limiter.Wait(req.Context())
	})
	telemetry.InstrumentResty(httpClient, tel)

	return &Client{
		http:           httpClient,
		credentials:    credentials,
		endpoint:       opts.Endpoint,
		articleBaseUrl: opts.ArticleBaseUrl,
		pageLimit:      opts.PageLimit,
		sort:           opts.Sort,
		pageTimeout:    opts.PageTimeout,
		tel:            tel,
	}, nil
}

// Search pages through the results of q from q.PageOffset until MaxResults
// records, the provider's total or a short page is reached. The credential
// is resolved once, a 401 on any page aborts without refreshing it.
//
// On error the records of the pages already received are returned with it.
// A cancelled ctx yields those records with Truncated set and ctx.Err().
func (c *Client) Search(ctx context.Context, q Query) (Result, error) {
	if q.PageLimit == 0 {
		q.PageLimit = c.pageLimit
	}
	if q.Sort == "" {
		q.Sort = c.sort
	}
	err := q.Validate()
	if err != nil {
		return Result{}, err
	}

	ctx, span := tracer.Start(ctx, "newsearch:Search")
	defer span.End()
	span.SetAttributes(
		attribute.String("search.query", q.Text),
		attribute.Int("search.max_results", q.MaxResults),
	)

	credential := c.credentials.GetUsableCredential(ctx)

	result, err := c.paginate(ctx, credential, q)
	span.SetAttributes(
		attribute.Int("search.pages", result.Pages),
		attribute.Int("search.records", len(result.Records)),
	)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		c.tel.ReportWarning(report_client_search, err, q.Text, len(result.Records))
		return result, err
	}

	c.tel.ReportDebug(report_client_search, q.Text, result.Pages, len(result.Records), result.TotalCount)
	return result, nil
}

func (c *Client) paginate(ctx context.Context, credential string, q Query) (Result, error) {
	result := Result{Records: []Record{}}
	offset := q.PageOffset

	for {
		if ctx.Err() != nil {
			result.Truncated = true
			return result, ctx.Err()
		}

		records, total, err := c.fetchPage(ctx, credential, q, offset, len(result.Records))
		if err != nil {
			if ctx.Err() != nil {
				result.Truncated = true
				return result, ctx.Err()
			}
			return result, err
		}

		result.Pages++
		result.TotalCount = total
		result.Records = append(result.Records, records...)
		offset += len(records)

		if len(result.Records) >= q.MaxResults ||
			offset >= total ||
			len(records) < q.PageLimit {
			break
		}
	}

	if len(result.Records) > q.MaxResults {
		result.Records = result.Records[:q.MaxResults]
	}
	return result, nil
}

func (c *Client) fetchPage(ctx context.Context, credential string, q Query, offset, accumulated int) ([]Record, int, error) {
	pageCtx, cancel := context.WithTimeout(ctx, c.pageTimeout)
	defer cancel()

	res, err := c.http.R().
		SetContext(pageCtx).
		SetAuthToken(credential).
		SetBody(newSearchRequest(q, offset)).
		Post(c.endpoint)
	if err != nil {
		return nil, 0, &TransientError{Offset: offset, Err: err}
	}

	body := telemetry.TruncateBody(res.String(), maxErrorBody)
	if res.StatusCode() == http.StatusUnauthorized {
		return nil, 0, &AuthenticationError{Offset: offset, Body: body}
	}
	if !res.IsSuccess() {
		return nil, 0, &TransientError{Offset: offset, StatusCode: res.StatusCode(), Body: body}
	}

	records, total, err := parsePage(res.Body(), c.articleBaseUrl)
	if err != nil {
		return nil, 0, &PaginationIncomplete{Offset: offset, Accumulated: accumulated, Err: err}
	}

	c.tel.ReportDebug(report_client_page, offset, len(records), total)
	return records, total, nil
}

// IsRetryable reports whether a fresh Search call may succeed where err
// failed: authentication (with a newly resolved credential) and transient
// errors are, invalid queries and cancellations are not.
func IsRetryable(err error) bool {
	var authErr *AuthenticationError
	var transient *TransientError
	var incomplete *PaginationIncomplete
	return errors.As(err, &authErr) || errors.As(err, &transient) || errors.As(err, &incomplete)
}
