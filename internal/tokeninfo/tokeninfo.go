// Package tokeninfo reads the claims of a dotted three-part bearer credential
// without verifying its signature. It answers "does this credential still look
// usable", it is never an authorization decision on its own.
package tokeninfo

import (
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"time"

	"newsdesk-backend/internal/components/chrono"

	"github.com/golang-jwt/jwt/v5"
)

type Status int

const (
	Malformed Status = iota
	Expired
	Valid
)

func (s Status) String() string {
	switch s {
	case Valid:
		return "valid"
	case Expired:
		return "expired"
	default:
		return "malformed"
	}
}

// Result is produced fresh on every call to Introspect and is never persisted.
type Result struct {
	Status       Status
	ExpiresAt    *time.Time
	IssuedAt     *time.Time
	SubjectEmail string
	// TimeStatus is a human readable remaining/overdue duration, it is derived
	// and not authoritative.
	TimeStatus string
	// Err explains why a credential is Malformed.
	Err error
}

type Introspector struct {
	time   chrono.API
	parser *jwt.Parser
}

func NewIntrospector(clock chrono.API) Introspector {
	if clock == nil {
		clock = chrono.NewStandardImpl()
	}
	return Introspector{
		time:   clock,
		parser: jwt.NewParser(jwt.WithPaddingAllowed()),
	}
}

func malformed(err error) Result {
	return Result{
		Status:     Malformed,
		TimeStatus: "unknown",
		Err:        err,
	}
}

// Introspect decodes the payload segment of credential and classifies it.
// It never panics and never returns an error, failures are reported as Malformed.
func (i Introspector) Introspect(credential string) Result {
	segments := strings.Split(strings.TrimSpace(credential), ".")
	if len(segments) != 3 {
		return malformed(fmt.Errorf("expected 3 segments, got %d", len(segments)))
	}

	payload, err := i.parser.DecodeSegment(segments[1])
	if err != nil {
		return malformed(fmt.Errorf("decode payload: %w", err))
	}
	var claims jwt.MapClaims
	err = json.Unmarshal(payload, &claims)
	if err != nil {
		return malformed(fmt.Errorf("unmarshal claims: %w", err))
	}

	exp, err := claims.GetExpirationTime()
	if err != nil {
		return malformed(fmt.Errorf("exp claim: %w", err))
	}
	iat, err := claims.GetIssuedAt()
	if err != nil {
		return malformed(fmt.Errorf("iat claim: %w", err))
	}

	res := Result{
		Status:       Expired,
		SubjectEmail: emailClaim(claims),
	}
	if iat != nil {
		issued := iat.Time
		res.IssuedAt = &issued
	}

	// without an expiry the validity is unknown, and unknown is not valid
	if exp == nil {
		res.TimeStatus = "no expiry claim"
		return res
	}

	expires := exp.Time
	res.ExpiresAt = &expires

	now := i.time.Now()
	if !now.After(expires) {
		res.Status = Valid
		res.TimeStatus = fmt.Sprintf("expires in %s", expires.Sub(now).Round(time.Second))
	} else {
		res.TimeStatus = fmt.Sprintf("expired %s ago", now.Sub(expires).Round(time.Second))
	}
	return res
}

var identityClaims = []string{"sub", "upn", "preferred_username", "unique_name"}

// emailClaim returns the first email-like identity claim, namespaced claims
// like "https://example.com/email" are accepted.
func emailClaim(claims jwt.MapClaims) string {
	if email, ok := claims["email"].(string); ok && email != "" {
		return email
	}

	keys := make([]string, 0, len(claims))
	for k := range claims {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		if !strings.HasSuffix(strings.ToLower(k), "email") {
			continue
		}
		if email, ok := claims[k].(string); ok && strings.Contains(email, "@") {
			return email
		}
	}

	for _, k := range identityClaims {
		if v, ok := claims[k].(string); ok && strings.Contains(v, "@") {
			return v
		}
	}
	return ""
}
