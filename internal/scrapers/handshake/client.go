// Package handshake emulates the browser login of the news provider and digs
// the bearer credential it ends up issuing out of the resulting session.
package handshake

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/cookiejar"
	"net/url"
	"time"

	"newsdesk-backend/internal/components/assert"
	"newsdesk-backend/internal/components/telemetry"
	"newsdesk-backend/internal/config"
	"newsdesk-backend/internal/tokeninfo"

	cloudflarebp "github.com/DaRealFreak/cloudflare-bp-go"
	"github.com/go-resty/resty/v2"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"golang.org/x/net/publicsuffix"
	"golang.org/x/time/rate"
)

const (
	report_client_attempt     = "client.attempt"
	report_client_step        = "client.step"
	report_client_recover     = "client.recover"
	report_client_new_session = "client.new-session"
)

const browserUserAgent = "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/123.0.0.0 Safari/537.36"

var tracer = otel.Tracer("newsdesk/scrapers/handshake")

// Introspector classifies candidate credentials.
type Introspector interface {
	Introspect(credential string) tokeninfo.Result
}

type Options struct {
	Identity    config.IdentityConfig
	Application config.ApplicationConfig
	ProxyUrl    string
	// StepTimeout bounds every single request of the handshake.
	StepTimeout      time.Duration
	RateLimit        config.RateLimitConfig
	BrowserEmulation bool

	Secrets      config.SecretProvider
	Introspector Introspector
	// Forms defaults to a GoqueryFormExtractor using Identity.FormSelector.
	Forms FormExtractor
	// Middleware wraps the round tripper of every attempt, requests leaving
	// it are seen by the Authorization header recorder.
	Middleware func(http.RoundTripper) http.RoundTripper
	// Dump, when set, receives every exchange of every attempt.
	Dump *telemetry.HttpDump
}

// OptionsFromConfig builds the handshake options of a validated config.
func OptionsFromConfig(cfg config.Config, secrets config.SecretProvider, introspector Introspector) Options {
	return Options{
		Identity:         cfg.Identity,
		Application:      cfg.Application,
		ProxyUrl:         cfg.ProxyUrl(),
		StepTimeout:      cfg.StepTimeout(),
		RateLimit:        cfg.RateLimit,
		BrowserEmulation: cfg.BrowserEmulation,
		Secrets:          secrets,
		Introspector:     introspector,
	}
}

// Client runs login attempts. Every attempt uses a fresh cookie jar, nothing
// is persisted by the client itself.
type Client struct {
	identity         config.IdentityConfig
	application      config.ApplicationConfig
	proxyUrl         *url.URL
	stepTimeout      time.Duration
	browserEmulation bool
	secrets          config.SecretProvider
	introspector     Introspector
	forms            FormExtractor
	middleware       func(http.RoundTripper) http.RoundTripper
	dump             *telemetry.HttpDump
	limiter          *rate.Limiter

	tel telemetry.API
}

func NewClient(opts Options, tel telemetry.API) (*Client, error) {
	assert.NotNil(opts.Secrets, "handshake secrets")
	assert.NotNil(tel, "telemetry")

	var proxyUrl *url.URL
	if opts.ProxyUrl != "" {
		parsed, err := url.Parse(opts.ProxyUrl)
		if err != nil {
			return nil, fmt.Errorf("handshake: parse proxy url: %w", err)
		}
		proxyUrl = parsed
	}
	if opts.StepTimeout <= 0 {
		opts.StepTimeout = 30 * time.Second
	}
	if opts.Introspector == nil {
		opts.Introspector = tokeninfo.NewIntrospector(nil)
	}
	if opts.Forms == nil {
		opts.Forms = NewGoqueryFormExtractor(opts.Identity.FormSelector)
	}
	if opts.Identity.CsrfCookie == "" {
		opts.Identity.CsrfCookie = config.DefaultCsrfCookie
	}
	if opts.Identity.CsrfField == "" {
		opts.Identity.CsrfField = config.DefaultCsrfField
	}
	if opts.Application.SessionCookie == "" {
		opts.Application.SessionCookie = config.DefaultSessionCookie
	}
	if opts.RateLimit.PerSecond <= 0 {
		opts.RateLimit.PerSecond = 2
	}
	if opts.RateLimit.Burst <= 0 {
		opts.RateLimit.Burst = 2
	}

	return &Client{
		identity:         opts.Identity,
		application:      opts.Application,
		proxyUrl:         proxyUrl,
		stepTimeout:      opts.StepTimeout,
		browserEmulation: opts.BrowserEmulation,
		secrets:          opts.Secrets,
		introspector:     opts.Introspector,
		forms:            opts.Forms,
		middleware:       opts.Middleware,
		dump:             opts.Dump,
		limiter:          rate.NewLimiter(rate.Limit(opts.RateLimit.PerSecond), opts.RateLimit.Burst),
		tel:              telemetry.NewScopedAPI("handshake", tel),
	}, nil
}

// Attempt runs one login from scratch and returns a bearer credential that
// introspects as valid. Every failure is an *Error matching
// ErrCredentialRecoveryFailed, raw network errors never escape.
func (c *Client) Attempt(ctx context.Context) (string, error) {
	ctx, span := tracer.Start(ctx, "handshake:Attempt")
	defer span.End()

	s, err := c.newSession()
	if err != nil {
		c.tel.ReportBroken(report_client_new_session, err)
		span.RecordError(err)
		span.SetStatus(codes.Error, "failed to create session")
		return "", &Error{State: StateStart, Err: err}
	}

	credential, err := s.run(ctx)
	span.SetAttributes(attribute.String("handshake.state", s.state.String()))
	if err != nil {
		herr := &Error{State: s.state, Err: err}
		c.tel.ReportWarning(report_client_attempt, err, s.state.String())
		span.RecordError(herr)
		span.SetStatus(codes.Error, herr.Error())
		return "", herr
	}

	c.tel.ReportDebug("credential recovered", s.recoveredBy)
	return credential, nil
}

func (c *Client) newHttp(jar http.CookieJar, transport http.RoundTripper, policy resty.RedirectPolicy) *resty.Client {
	httpClient := resty.New()
	httpClient.SetTransport(transport)
	httpClient.SetCookieJar(jar)
	httpClient.SetTimeout(c.stepTimeout)
	httpClient.SetHeader("user-agent", browserUserAgent)
	httpClient.SetRedirectPolicy(policy)

	httpClient.OnBeforeRequest(func(_ *resty.Client, req *resty.Request) error {
		return c.limiter.Wait(req.Context())
	})
	telemetry.InstrumentResty(httpClient, c.tel)
	if c.dump != nil {
		c.dump.Instrument(httpClient)
	}

	return httpClient
}

func (c *Client) newSession() (*session, error) {
	jar, err := cookiejar.New(&cookiejar.Options{PublicSuffixList: publicsuffix.List})
	if err != nil {
		return nil, err
	}

	base := http.DefaultTransport.(*http.Transport).Clone()
	if c.proxyUrl != nil {
		base.Proxy = http.ProxyURL(c.proxyUrl)
	}
	var transport http.RoundTripper = base
	if c.browserEmulation {
		transport = cloudflarebp.AddCloudFlareByPass(transport)
	}
	recorder := &headerRecorder{inner: transport}
	transport = recorder
	if c.middleware != nil {
		transport = c.middleware(transport)
	}

	doNotFollow := resty.RedirectPolicyFunc(func(*http.Request, []*http.Request) error {
		return http.ErrUseLastResponse
	})

	return &session{
		client:   c,
		jar:      jar,
		follow:   c.newHttp(jar, transport, resty.FlexibleRedirectPolicy(10)),
		noFollow: c.newHttp(jar, transport, doNotFollow),
		recorder: recorder,
		state:    StateStart,
	}, nil
}

type session struct {
	client   *Client
	jar      http.CookieJar
	follow   *resty.Client
	noFollow *resty.Client
	recorder *headerRecorder

	state       State
	visited     []*url.URL
	bodies      []string
	loginUrl    *url.URL
	csrf        string
	submission  *resty.Response
	form        HiddenForm
	recoveredBy string
}

func (s *session) run(ctx context.Context) (string, error) {
	steps := []struct {
		next State
		fn   func(ctx context.Context) error
	}{
		{StateLoginPageFetched, s.fetchLoginPage},
		{StateCsrfExtracted, s.extractCsrf},
		{StateCredentialsSubmitted, s.submitCredentials},
		{StateIntermediateFormFound, s.extractForm},
		{StateFormSubmitted, s.submitForm},
		{StateEntryPagesVisited, s.visitEntryPages},
	}

	for _, step := range steps {
		err := s.withTimeout(ctx, step.fn)
		if err != nil {
			return "", err
		}
		s.state = step.next
		s.client.tel.ReportDebug(report_client_step, s.state.String())
	}

	credential, ok := s.recover()
	if !ok {
		s.state = StateRecoveryFailed
		return "", ErrCredentialRecoveryFailed
	}
	s.state = StateCredentialRecovered
	return credential, nil
}

func (s *session) withTimeout(ctx context.Context, fn func(ctx context.Context) error) error {
	ctx, cancel := context.WithTimeout(ctx, s.client.stepTimeout)
	defer cancel()
	return fn(ctx)
}

func isSuccess(res *resty.Response) bool {
	return res.StatusCode() >= 200 && res.StatusCode() < 300
}

func finalUrl(res *resty.Response) *url.URL {
	if res.RawResponse != nil && res.RawResponse.Request != nil {
		return res.RawResponse.Request.URL
	}
	parsed, _ := url.Parse(res.Request.URL)
	return parsed
}

func (s *session) record(res *resty.Response) {
	if u := finalUrl(res); u != nil {
		s.visited = append(s.visited, u)
	}
	s.bodies = append(s.bodies, res.String())
}

func (s *session) fetchLoginPage(ctx context.Context) error {
	id := s.client.identity
	res, err := s.follow.R().
		SetContext(ctx).
		SetQueryParams(map[string]string{
			"client_id":     id.ClientId,
			"scope":         id.Scope,
			"response_type": id.ResponseType,
			"redirect_uri":  id.RedirectUri,
			"connection":    id.Connection,
			"protocol":      id.Protocol,
		}).
		Get(id.LoginUrl)
	if err != nil {
		return fmt.Errorf("login page request: %w", err)
	}
	if !isSuccess(res) {
		return &UnexpectedStatusError{Url: id.LoginUrl, StatusCode: res.StatusCode()}
	}
	s.record(res)
	s.loginUrl = finalUrl(res)
	return nil
}

// cookieValues collects the values of every cookie called name that the jar
// would send to any url this session has seen or is configured with.
func (s *session) cookieValues(name string) []string {
	candidates := append([]*url.URL{}, s.visited...)
	for _, raw := range []string{
		s.client.identity.LoginUrl,
		s.client.identity.CredentialsUrl,
		s.client.application.EntryUrl,
		s.client.application.ProbeSearchUrl,
	} {
		if u, err := url.Parse(raw); err == nil && raw != "" {
			candidates = append(candidates, u)
		}
	}

	seen := map[string]bool{}
	var values []string
	for _, u := range candidates {
		for _, cookie := range s.jar.Cookies(u) {
			if cookie.Name != name || cookie.Value == "" || seen[cookie.Value] {
				continue
			}
			seen[cookie.Value] = true
			values = append(values, cookie.Value)
		}
	}
	return values
}

func (s *session) extractCsrf(context.Context) error {
	values := s.cookieValues(s.client.identity.CsrfCookie)
	if len(values) == 0 {
		return ErrNoCsrfToken
	}
	s.csrf = values[0]
	return nil
}

func (s *session) submitCredentials(ctx context.Context) error {
	secrets, err := s.client.secrets.Secrets(ctx)
	if err != nil {
		return fmt.Errorf("read secrets: %w", err)
	}
	if secrets.Username == "" || secrets.Password == "" {
		return ErrMissingCredentials
	}

	state := ""
	if s.loginUrl != nil {
		state = s.loginUrl.Query().Get("state")
	}

	id := s.client.identity
	res, err := s.noFollow.R().
		SetContext(ctx).
		SetFormData(map[string]string{
			"client_id":     id.ClientId,
			"redirect_uri":  id.RedirectUri,
			"tenant":        id.Tenant,
			"response_type": id.ResponseType,
			"scope":         id.Scope,
			"username":      secrets.Username,
			"password":      secrets.Password,
			id.CsrfField:    s.csrf,
			"connection":    id.Connection,
			"state":         state,
		}).
		Post(id.CredentialsUrl)
	if err != nil {
		return fmt.Errorf("credentials request: %w", err)
	}
	if res.StatusCode() >= 400 {
		return &UnexpectedStatusError{Url: id.CredentialsUrl, StatusCode: res.StatusCode()}
	}
	s.record(res)
	s.submission = res
	return nil
}

func (s *session) extractForm(context.Context) error {
	form, err := s.client.forms.ExtractForm(s.submission.Body(), finalUrl(s.submission))
	if err != nil {
		if !errors.Is(err, ErrFormNotFound) {
			err = fmt.Errorf("%w: %v", ErrFormNotFound, err)
		}
		return err
	}
	s.form = form
	return nil
}

func (s *session) submitForm(ctx context.Context) error {
	res, err := s.follow.R().
		SetContext(ctx).
		SetFormData(s.form.Fields).
		Post(s.form.Action)
	if err != nil {
		return fmt.Errorf("intermediate form request: %w", err)
	}
	if !isSuccess(res) {
		s.client.tel.ReportWarning(
			report_client_step,
			&UnexpectedStatusError{Url: s.form.Action, StatusCode: res.StatusCode()},
			StateIntermediateFormFound.String(),
		)
	}
	s.record(res)
	return nil
}

// visitEntryPages only exists to make the application emit the credential
// somewhere observable, failures here are not fatal.
func (s *session) visitEntryPages(ctx context.Context) error {
	for _, target := range []string{
		s.client.application.EntryUrl,
		s.client.application.ProbeSearchUrl,
	} {
		if target == "" {
			continue
		}
		res, err := s.follow.R().
			SetContext(ctx).
			SetHeader("accept", "text/html,application/json").
			Get(target)
		if err != nil {
			s.client.tel.ReportWarning(
				report_client_step,
				fmt.Errorf("entry page request: %w", err),
				StateFormSubmitted.String(),
				target,
			)
			continue
		}
		s.record(res)
	}
	return nil
}

func (s *session) recover() (string, bool) {
	for _, strategy := range recoveryStrategies {
		candidates := strategy.candidate(s)
		for _, candidate := range candidates {
			res := s.client.introspector.Introspect(candidate)
			if res.Status == tokeninfo.Valid {
				s.recoveredBy = strategy.name
				return candidate, true
			}
			s.client.tel.ReportDebug(
				report_client_recover,
				strategy.name,
				fmt.Sprintf("rejected candidate: %s (%s)", res.Status, res.TimeStatus),
			)
		}
		if len(candidates) == 0 {
			s.client.tel.ReportDebug(report_client_recover, strategy.name, "no candidates")
		}
	}
	return "", false
}
