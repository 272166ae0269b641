package handshake

import (
	"net/http"
	"net/url"
	"regexp"
	"strings"
	"sync"
)

// three base64url segments, tolerating restored padding
const bearerPattern = `[A-Za-z0-9_\-]+=*\.[A-Za-z0-9_\-]+=*\.[A-Za-z0-9_\-]+=*`

var (
	dottedCredentialRegex = regexp.MustCompile(bearerPattern)
	bearerInBodyRegex     = regexp.MustCompile(`(?i)bearer\s+(` + bearerPattern + `)`)
)

// recoveryStrategy returns every candidate credential one signal source
// offers, best candidate first.
type recoveryStrategy struct {
	name      string
	candidate func(s *session) []string
}

// The order is empirical: it is the order in which the provider has been
// observed to expose the credential, not a documented protocol guarantee.
//
// The handshake itself never sends an Authorization header, so
// request-header only yields a candidate when Options.Middleware attaches
// one (an upstream that injects the session's bearer). Without middleware it
// always comes up empty and recovery rests on the first two strategies.
var recoveryStrategies = []recoveryStrategy{
	{name: "session-cookie", candidate: fromSessionCookie},
	{name: "response-body", candidate: fromResponseBodies},
	{name: "request-header", candidate: fromRequestHeader},
}

func fromSessionCookie(s *session) []string {
	var out []string
	for _, value := range s.cookieValues(s.client.application.SessionCookie) {
		decoded, err := url.QueryUnescape(value)
		if err != nil {
			decoded = value
		}
		out = append(out, dottedCredentialRegex.FindAllString(decoded, -1)...)
	}
	return out
}

func fromResponseBodies(s *session) []string {
	var out []string
	// later responses are closer to the application, look at them first
	for i := len(s.bodies) - 1; i >= 0; i-- {
		for _, match := range bearerInBodyRegex.FindAllStringSubmatch(s.bodies[i], -1) {
			out = append(out, match[1])
		}
	}
	return out
}

func fromRequestHeader(s *session) []string {
	header := s.recorder.LastAuthorization()
	if header == "" {
		return nil
	}
	fields := strings.Fields(header)
	if len(fields) == 2 && strings.EqualFold(fields[0], "bearer") {
		return []string{fields[1]}
	}
	if len(fields) == 1 {
		return []string{fields[0]}
	}
	return nil
}

// headerRecorder sits right above the network transport and remembers the
// last Authorization header that actually went out.
type headerRecorder struct {
	inner http.RoundTripper

	mutex sync.Mutex
	last  string
}

func (r *headerRecorder) RoundTrip(req *http.Request) (*http.Response, error) {
	if auth := req.Header.Get("Authorization"); auth != "" {
		r.mutex.Lock()
		r.last = auth
		r.mutex.Unlock()
	}
	return r.inner.RoundTrip(req)
}

func (r *headerRecorder) LastAuthorization() string {
	r.mutex.Lock()
	defer r.mutex.Unlock()
	return r.last
}
