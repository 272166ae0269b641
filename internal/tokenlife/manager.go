// Package tokenlife decides whether the stored bearer credential is still
// usable and walks the refresh/fallback chain when it is not.
package tokenlife

import (
	"context"
	"sync/atomic"
	"time"

	"newsdesk-backend/internal/components/assert"
	"newsdesk-backend/internal/components/chrono"
	"newsdesk-backend/internal/components/telemetry"
	"newsdesk-backend/internal/credstore"
	"newsdesk-backend/internal/tokeninfo"

	"golang.org/x/sync/singleflight"
)

const (
	report_manager_check     = "manager.check"
	report_manager_refresh   = "manager.refresh"
	report_manager_strategy  = "manager.strategy"
	report_manager_keepalive = "manager.keepalive"
)

// the process only ever holds one credential. Forced refreshes get their own
// key so they never join an unforced flight that stops at its validity re-check.
const (
	refreshKey       = "credential"
	forcedRefreshKey = "credential.forced"
)

// StaleStrategy names the outcome where every strategy failed and the stored
// credential was served as-is.
const StaleStrategy = "stale"

// Outcome is the result of walking the fallback chain.
type Outcome struct {
	Credential string
	// Strategy is the name of the strategy that produced the credential,
	// "" when the stored credential turned out to be valid already.
	Strategy string
}

// Manager resolves a usable credential. It never fails: every path ends in a
// non-empty credential, failed strategies are reported and skipped.
type Manager struct {
	store        Store
	introspector Introspector
	strategies   []Strategy
	time         chrono.API
	tel          telemetry.API

	group     singleflight.Group
	refreshes atomic.Int64
}

// NewManager takes the fallback chain as data, strategies are tried in order.
func NewManager(store Store, introspector Introspector, strategies []Strategy, clock chrono.API, tel telemetry.API) *Manager {
	assert.NotNil(store, "credential store")
	assert.NotNil(introspector, "introspector")
	if clock == nil {
		clock = chrono.NewStandardImpl()
	}
	return &Manager{
		store:        store,
		introspector: introspector,
		strategies:   strategies,
		time:         clock,
		tel:          telemetry.NewScopedAPI("tokenlife", tel),
	}
}

// GetUsableCredential returns the stored credential when it is valid,
// otherwise it refreshes it. Concurrent callers share one refresh.
func (m *Manager) GetUsableCredential(ctx context.Context) string {
	record := m.store.Load(ctx)
	res := m.introspector.Introspect(record.Credential)
	if res.Status == tokeninfo.Valid {
		return record.Credential
	}

	m.tel.ReportDebug(report_manager_check, res.Status.String(), res.TimeStatus)
	return m.refresh(ctx, false).Credential
}

// Refresh walks the fallback chain even if the stored credential is valid.
// Concurrent forced calls share one walk, a forced call never reuses the
// result of a GetUsableCredential refresh.
func (m *Manager) Refresh(ctx context.Context) Outcome {
	return m.refresh(ctx, true)
}

// Status returns the stored record with a fresh introspection of it.
func (m *Manager) Status(ctx context.Context) (credstore.TokenRecord, tokeninfo.Result) {
	record := m.store.Load(ctx)
	return record, m.introspector.Introspect(record.Credential)
}

// Refreshes is the number of times the fallback chain was walked.
func (m *Manager) Refreshes() int64 {
	return m.refreshes.Load()
}

func (m *Manager) refresh(ctx context.Context, force bool) Outcome {
	// a caller giving up must not abort the refresh other callers wait on,
	// every handshake step carries its own timeout
	flightCtx := context.WithoutCancel(ctx)
	key := refreshKey
	if force {
		key = forcedRefreshKey
	}
	ch := m.group.DoChan(key, func() (any, error) {
		return m.walkChain(flightCtx, force), nil
	})

	select {
	case res := <-ch:
		return res.Val.(Outcome)
	case <-ctx.Done():
		m.tel.ReportWarning(report_manager_refresh, ctx.Err())
		return Outcome{Credential: m.store.Load(ctx).Credential, Strategy: StaleStrategy}
	}
}

func (m *Manager) walkChain(ctx context.Context, force bool) Outcome {
	record := m.store.Load(ctx)
	if !force {
		// another flight may have refreshed the record since this caller checked
		res := m.introspector.Introspect(record.Credential)
		if res.Status == tokeninfo.Valid {
			return Outcome{Credential: record.Credential}
		}
	}

	n := m.refreshes.Add(1)
	m.tel.ReportCount(report_manager_refresh, n)

	for _, strategy := range m.strategies {
		start := time.Now()
		credential, ok := strategy.AttemptRecovery(ctx)
		if ok && credential != "" {
			m.tel.ReportDebug(
				report_manager_strategy,
				strategy.Name(),
				"succeeded",
				time.Since(start).String(),
			)
			return Outcome{Credential: credential, Strategy: strategy.Name()}
		}
		m.tel.ReportWarning(report_manager_strategy, strategy.Name(), "failed", time.Since(start).String())
	}

	m.tel.ReportWarning(report_manager_refresh, "every strategy failed, serving stored credential")
	return Outcome{Credential: m.store.Load(ctx).Credential, Strategy: StaleStrategy}
}
