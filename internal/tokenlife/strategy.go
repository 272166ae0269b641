package tokenlife

import (
	"context"
	"fmt"

	"newsdesk-backend/internal/components/chrono"
	"newsdesk-backend/internal/components/telemetry"
	"newsdesk-backend/internal/config"
	"newsdesk-backend/internal/credstore"
	"newsdesk-backend/internal/tokeninfo"
)

const (
	report_strategy_handshake = "strategy.handshake"
	report_strategy_legacy    = "strategy.legacy"
	report_strategy_extend    = "strategy.extend-expiry"
)

// Strategy is one link of the fallback chain. AttemptRecovery reports
// failure through its bool, it never returns an empty credential with true.
type Strategy interface {
	Name() string
	AttemptRecovery(ctx context.Context) (credential string, ok bool)
}

// Store is the persisted credential slot.
type Store interface {
	Load(ctx context.Context) credstore.TokenRecord
	Save(ctx context.Context, record credstore.TokenRecord) bool
	ExtendExpiry(ctx context.Context, days int) bool
}

type Introspector interface {
	Introspect(credential string) tokeninfo.Result
}

// Handshaker runs one fresh login.
type Handshaker interface {
	Attempt(ctx context.Context) (string, error)
}

// recordFor builds the replacement record of a credential that introspected as valid.
func recordFor(credential string, res tokeninfo.Result, clock chrono.API) credstore.TokenRecord {
	record := credstore.TokenRecord{
		Credential:   credential,
		IssuedAt:     clock.Now(),
		SubjectEmail: res.SubjectEmail,
	}
	if res.IssuedAt != nil {
		record.IssuedAt = *res.IssuedAt
	}
	if res.ExpiresAt != nil {
		record.ExpiresAt = *res.ExpiresAt
	}
	return record
}

// acceptValid re-introspects a candidate and persists it when it is valid.
func acceptValid(ctx context.Context, id, credential string, store Store, introspector Introspector, clock chrono.API, tel telemetry.API) bool {
	res := introspector.Introspect(credential)
	if res.Status != tokeninfo.Valid {
		tel.ReportWarning(id, fmt.Errorf("candidate credential is %s", res.Status), res.TimeStatus)
		return false
	}
	if !store.Save(ctx, recordFor(credential, res, clock)) {
		// still usable for this process even though it could not be persisted
		tel.ReportWarning(id, fmt.Errorf("could not persist refreshed credential"))
	}
	return true
}

// HandshakeStrategy logs in from scratch.
type HandshakeStrategy struct {
	handshake    Handshaker
	store        Store
	introspector Introspector
	time         chrono.API
	tel          telemetry.API
}

func NewHandshakeStrategy(handshake Handshaker, store Store, introspector Introspector, clock chrono.API, tel telemetry.API) HandshakeStrategy {
	return HandshakeStrategy{
		handshake:    handshake,
		store:        store,
		introspector: introspector,
		time:         clock,
		tel:          tel,
	}
}

func (HandshakeStrategy) Name() string {
	return "handshake"
}

func (s HandshakeStrategy) AttemptRecovery(ctx context.Context) (string, bool) {
	credential, err := s.handshake.Attempt(ctx)
	if err != nil {
		s.tel.ReportWarning(report_strategy_handshake, err)
		return "", false
	}
	if !acceptValid(ctx, report_strategy_handshake, credential, s.store, s.introspector, s.time, s.tel) {
		return "", false
	}
	return credential, true
}

// LegacyStrategy falls back to a previously known-good credential from the
// secret provider.
type LegacyStrategy struct {
	secrets      config.SecretProvider
	store        Store
	introspector Introspector
	time         chrono.API
	tel          telemetry.API
}

func NewLegacyStrategy(secrets config.SecretProvider, store Store, introspector Introspector, clock chrono.API, tel telemetry.API) LegacyStrategy {
	return LegacyStrategy{
		secrets:      secrets,
		store:        store,
		introspector: introspector,
		time:         clock,
		tel:          tel,
	}
}

func (LegacyStrategy) Name() string {
	return "legacy-credential"
}

func (s LegacyStrategy) AttemptRecovery(ctx context.Context) (string, bool) {
	secrets, err := s.secrets.Secrets(ctx)
	if err != nil {
		s.tel.ReportWarning(report_strategy_legacy, err)
		return "", false
	}
	if secrets.LegacyCredential == "" {
		return "", false
	}
	if !acceptValid(ctx, report_strategy_legacy, secrets.LegacyCredential, s.store, s.introspector, s.time, s.tel) {
		return "", false
	}
	return secrets.LegacyCredential, true
}

// ExtendExpiryStrategy is the last resort: it pushes back the expiry of the
// stored record and hands out its (stale) credential anyway.
type ExtendExpiryStrategy struct {
	store Store
	days  int
	tel   telemetry.API
}

func NewExtendExpiryStrategy(store Store, days int, tel telemetry.API) ExtendExpiryStrategy {
	if days <= 0 {
		days = 1
	}
	return ExtendExpiryStrategy{store: store, days: days, tel: tel}
}

func (ExtendExpiryStrategy) Name() string {
	return "extend-expiry"
}

func (s ExtendExpiryStrategy) AttemptRecovery(ctx context.Context) (string, bool) {
	if !s.store.ExtendExpiry(ctx, s.days) {
		s.tel.ReportWarning(report_strategy_extend, fmt.Errorf("could not extend stored expiry"))
		return "", false
	}
	record := s.store.Load(ctx)
	if record.Credential == "" {
		return "", false
	}
	s.tel.ReportWarning(
		report_strategy_extend,
		fmt.Errorf("serving stale credential with extended expiry"),
		record.ExpiresAt,
	)
	return record.Credential, true
}
