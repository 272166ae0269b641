package tokenlife

import (
	"context"
	"time"

	"newsdesk-backend/internal/components/chrono"
	"newsdesk-backend/internal/tokeninfo"
)

// StartKeepalive checks the stored credential on the given cron spec and
// refreshes it ahead of time once it is within margin of expiring.
func (m *Manager) StartKeepalive(ctx context.Context, cron chrono.CronAPI, spec string, margin time.Duration) error {
	return cron.Cron(spec, func() {
		if ctx.Err() != nil {
			return
		}
		m.keepalive(ctx, margin)
	})
}

func (m *Manager) keepalive(ctx context.Context, margin time.Duration) {
	record, res := m.Status(ctx)
	if res.Status == tokeninfo.Valid && res.ExpiresAt != nil && res.ExpiresAt.Sub(m.time.Now()) > margin {
		m.tel.ReportDebug(report_manager_keepalive, "credential still fresh", res.TimeStatus)
		return
	}

	outcome := m.Refresh(ctx)
	if outcome.Credential == record.Credential {
		m.tel.ReportWarning(report_manager_keepalive, "credential unchanged after refresh", outcome.Strategy)
		return
	}
	m.tel.ReportDebug(report_manager_keepalive, "credential refreshed", outcome.Strategy)
}
