package handshake

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"net/url"
	"sync/atomic"
	"testing"
	"time"

	"newsdesk-backend/internal/components/chrono"
	"newsdesk-backend/internal/components/telemetry"
	"newsdesk-backend/internal/config"
	"newsdesk-backend/internal/tokeninfo"
	"newsdesk-backend/internal/tokeninfo/tokeninfotest"

	"github.com/stretchr/testify/require"
)

var now = time.Date(2024, 9, 1, 12, 0, 0, 0, time.UTC)

// provider fakes the identity provider and the protected application on one
// server. Every flag changes where (or whether) the credential shows up.
type provider struct {
	omitCsrf       bool
	omitForm       bool
	loginStatus    int
	cookieToken    string
	bodyToken      string
	credentialHits atomic.Int32
}

func (p *provider) handler() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /authorize", func(w http.ResponseWriter, r *http.Request) {
		if p.loginStatus != 0 {
			w.WriteHeader(p.loginStatus)
			return
		}
		q := r.URL.Query()
		if q.Get("client_id") != "client-id" || q.Get("connection") != "news" || q.Get("protocol") != "oauth2" {
			http.Error(w, "bad authorize params", http.StatusBadRequest)
			return
		}
		if !p.omitCsrf {
			http.SetCookie(w, &http.Cookie{Name: "_csrf", Value: "csrf-123", Path: "/"})
		}
		http.Redirect(w, r, "/login?state=state-xyz&client=client-id", http.StatusFound)
	})

	mux.HandleFunc("GET /login", func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `<html><body><div id="lock"></div></body></html>`)
	})

	mux.HandleFunc("POST /usernamepassword/login", func(w http.ResponseWriter, r *http.Request) {
		p.credentialHits.Add(1)
		err := r.ParseForm()
		if err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		csrf, err := r.Cookie("_csrf")
		if err != nil || csrf.Value != r.PostForm.Get("csrf_token") {
			http.Error(w, "invalid csrf", http.StatusForbidden)
			return
		}
		if r.PostForm.Get("username") != "alice@example.com" || r.PostForm.Get("password") != "hunter2" {
			http.Error(w, "wrong email or password", http.StatusUnauthorized)
			return
		}
		if r.PostForm.Get("state") != "state-xyz" || r.PostForm.Get("tenant") != "tenant" {
			http.Error(w, "bad state", http.StatusBadRequest)
			return
		}
		if p.omitForm {
			fmt.Fprint(w, `<html><body>Something went wrong</body></html>`)
			return
		}
		fmt.Fprint(w, `<html><body>
			<form method="post" name="hiddenform" action="/login/callback">
				<input type="hidden" name="wa" value="wsignin1.0">
				<input type="hidden" name="wresult" value="signed-result">
			</form>
		</body></html>`)
	})

	mux.HandleFunc("POST /login/callback", func(w http.ResponseWriter, r *http.Request) {
		if r.FormValue("wresult") != "signed-result" {
			http.Error(w, "bad wresult", http.StatusBadRequest)
			return
		}
		http.SetCookie(w, &http.Cookie{Name: "auth_session", Value: "session-1", Path: "/"})
		http.Redirect(w, r, "/app/", http.StatusFound)
	})

	mux.HandleFunc("GET /app/", func(w http.ResponseWriter, r *http.Request) {
		if _, err := r.Cookie("auth_session"); err != nil {
			http.Error(w, "no session", http.StatusUnauthorized)
			return
		}
		if p.cookieToken != "" {
			http.SetCookie(w, &http.Cookie{
				Name:  "sessionToken",
				Value: url.QueryEscape("Bearer " + p.cookieToken),
				Path:  "/",
			})
		}
		fmt.Fprint(w, `<html><body>app</body></html>`)
	})

	mux.HandleFunc("GET /app/search", func(w http.ResponseWriter, r *http.Request) {
		if p.bodyToken != "" {
			fmt.Fprintf(w, `{"config":{"headers":{"authorization":"Bearer %s"}}}`, p.bodyToken)
			return
		}
		fmt.Fprint(w, `{"results":[]}`)
	})

	return mux
}

type testSetup struct {
	server   *httptest.Server
	provider *provider
	tel      *telemetry.Recorder
}

func newTestClient(t *testing.T, p *provider, mutate func(*Options)) (*Client, testSetup) {
	server := httptest.NewServer(p.handler())
	t.Cleanup(server.Close)

	tel := &telemetry.Recorder{}
	opts := Options{
		Identity: config.IdentityConfig{
			LoginUrl:       server.URL + "/authorize",
			CredentialsUrl: server.URL + "/usernamepassword/login",
			ClientId:       "client-id",
			Scope:          "openid profile",
			ResponseType:   "code",
			RedirectUri:    server.URL + "/callback",
			Connection:     "news",
			Protocol:       "oauth2",
			Tenant:         "tenant",
		},
		Application: config.ApplicationConfig{
			EntryUrl:       server.URL + "/app/",
			ProbeSearchUrl: server.URL + "/app/search?q=probe",
		},
		StepTimeout: 5 * time.Second,
		RateLimit:   config.RateLimitConfig{PerSecond: 1000, Burst: 100},
		Secrets: config.NewStaticSecrets(config.SecretsConfig{
			Username: "alice@example.com",
			Password: "hunter2",
		}),
		Introspector: tokeninfo.NewIntrospector(chrono.NewFixed(now)),
	}
	if mutate != nil {
		mutate(&opts)
	}

	client, err := NewClient(opts, tel)
	require.NoError(t, err)
	return client, testSetup{server: server, provider: p, tel: tel}
}

func validToken() string {
	return tokeninfotest.MintExpiring("alice@example.com", now.Add(-time.Minute), now.Add(time.Hour))
}

func expiredToken() string {
	return tokeninfotest.MintExpiring("alice@example.com", now.Add(-2*time.Hour), now.Add(-time.Hour))
}

func TestAttemptRecoversFromCookie(t *testing.T) {
	token := validToken()
	client, setup := newTestClient(t, &provider{cookieToken: token, bodyToken: validToken() + "x"}, nil)

	credential, err := client.Attempt(context.Background())
	require.NoError(t, err)
	require.Equal(t, token, credential)
	require.Equal(t, int32(1), setup.provider.credentialHits.Load())
	require.True(t, setup.tel.Has("debug", "credential recovered"))
}

func TestAttemptRecoversFromBody(t *testing.T) {
	token := validToken()
	client, _ := newTestClient(t, &provider{bodyToken: token}, nil)

	credential, err := client.Attempt(context.Background())
	require.NoError(t, err)
	require.Equal(t, token, credential)
}

func TestAttemptSkipsExpiredCookieCandidate(t *testing.T) {
	token := validToken()
	client, _ := newTestClient(t, &provider{cookieToken: expiredToken(), bodyToken: token}, nil)

	credential, err := client.Attempt(context.Background())
	require.NoError(t, err)
	require.Equal(t, token, credential)
}

func TestAttemptRecoversFromRequestHeader(t *testing.T) {
	token := validToken()
	attachAuth := func(next http.RoundTripper) http.RoundTripper {
		return roundTripFunc(func(req *http.Request) (*http.Response, error) {
			if req.URL.Path == "/app/search" {
				req = req.Clone(req.Context())
				req.Header.Set("Authorization", "Bearer "+token)
			}
			return next.RoundTrip(req)
		})
	}
	client, _ := newTestClient(t, &provider{}, func(o *Options) {
		o.Middleware = attachAuth
	})

	credential, err := client.Attempt(context.Background())
	require.NoError(t, err)
	require.Equal(t, token, credential)
}

func TestHandshakeSendsNoAuthorizationOfItsOwn(t *testing.T) {
	var requests, withAuth atomic.Int32
	observe := func(next http.RoundTripper) http.RoundTripper {
		return roundTripFunc(func(req *http.Request) (*http.Response, error) {
			requests.Add(1)
			if req.Header.Get("Authorization") != "" {
				withAuth.Add(1)
			}
			return next.RoundTrip(req)
		})
	}
	client, _ := newTestClient(t, &provider{cookieToken: expiredToken()}, func(o *Options) {
		o.Middleware = observe
	})

	_, err := client.Attempt(context.Background())
	require.ErrorIs(t, err, ErrCredentialRecoveryFailed)
	require.Greater(t, requests.Load(), int32(0))
	require.Equal(t, int32(0), withAuth.Load())

	require.Empty(t, fromRequestHeader(&session{recorder: &headerRecorder{}}))
}

func TestAttemptNoCsrf(t *testing.T) {
	client, setup := newTestClient(t, &provider{omitCsrf: true, cookieToken: validToken()}, nil)

	_, err := client.Attempt(context.Background())
	require.ErrorIs(t, err, ErrNoCsrfToken)
	require.ErrorIs(t, err, ErrCredentialRecoveryFailed)

	var herr *Error
	require.True(t, errors.As(err, &herr))
	require.Equal(t, StateLoginPageFetched, herr.State)
	require.Equal(t, int32(0), setup.provider.credentialHits.Load())
	require.True(t, setup.tel.Has("warning", report_client_attempt))
}

func TestAttemptLoginPageError(t *testing.T) {
	client, _ := newTestClient(t, &provider{loginStatus: http.StatusServiceUnavailable}, nil)

	_, err := client.Attempt(context.Background())
	require.ErrorIs(t, err, ErrCredentialRecoveryFailed)

	var statusErr *UnexpectedStatusError
	require.True(t, errors.As(err, &statusErr))
	require.Equal(t, http.StatusServiceUnavailable, statusErr.StatusCode)

	var herr *Error
	require.True(t, errors.As(err, &herr))
	require.Equal(t, StateStart, herr.State)
}

func TestAttemptNetworkErrorIsFolded(t *testing.T) {
	client, setup := newTestClient(t, &provider{}, nil)
	setup.server.Close()

	_, err := client.Attempt(context.Background())
	require.ErrorIs(t, err, ErrCredentialRecoveryFailed)
	var herr *Error
	require.True(t, errors.As(err, &herr))
	require.Equal(t, StateStart, herr.State)
}

func TestAttemptFormNotFound(t *testing.T) {
	client, _ := newTestClient(t, &provider{omitForm: true, cookieToken: validToken()}, nil)

	_, err := client.Attempt(context.Background())
	require.ErrorIs(t, err, ErrFormNotFound)
	require.ErrorIs(t, err, ErrCredentialRecoveryFailed)

	var herr *Error
	require.True(t, errors.As(err, &herr))
	require.Equal(t, StateCredentialsSubmitted, herr.State)
}

func TestAttemptWrongPassword(t *testing.T) {
	client, _ := newTestClient(t, &provider{cookieToken: validToken()}, func(o *Options) {
		o.Secrets = config.NewStaticSecrets(config.SecretsConfig{
			Username: "alice@example.com",
			Password: "wrong",
		})
	})

	_, err := client.Attempt(context.Background())
	var statusErr *UnexpectedStatusError
	require.True(t, errors.As(err, &statusErr))
	require.Equal(t, http.StatusUnauthorized, statusErr.StatusCode)
}

func TestAttemptMissingSecrets(t *testing.T) {
	client, setup := newTestClient(t, &provider{cookieToken: validToken()}, func(o *Options) {
		o.Secrets = config.NewStaticSecrets(config.SecretsConfig{})
	})

	_, err := client.Attempt(context.Background())
	require.ErrorIs(t, err, ErrMissingCredentials)
	require.Equal(t, int32(0), setup.provider.credentialHits.Load())
}

func TestAttemptNothingRecoverable(t *testing.T) {
	client, _ := newTestClient(t, &provider{cookieToken: expiredToken()}, nil)

	_, err := client.Attempt(context.Background())
	require.ErrorIs(t, err, ErrCredentialRecoveryFailed)

	var herr *Error
	require.True(t, errors.As(err, &herr))
	require.Equal(t, StateRecoveryFailed, herr.State)
}

func TestAttemptUsesFreshSession(t *testing.T) {
	token := validToken()
	client, setup := newTestClient(t, &provider{cookieToken: token}, nil)

	for i := 0; i < 2; i++ {
		credential, err := client.Attempt(context.Background())
		require.NoError(t, err)
		require.Equal(t, token, credential)
	}
	require.Equal(t, int32(2), setup.provider.credentialHits.Load())
}

func TestStateString(t *testing.T) {
	require.Equal(t, "csrf-extracted", StateCsrfExtracted.String())
	require.Equal(t, "recovery-failed", StateRecoveryFailed.String())
	require.Equal(t, "state(42)", State(42).String())
}

type roundTripFunc func(req *http.Request) (*http.Response, error)

func (f roundTripFunc) RoundTrip(req *http.Request) (*http.Response, error) {
	return f(req)
}
