package tokenlife

import (
	"context"
	"testing"
	"time"

	"newsdesk-backend/internal/config"

	"github.com/stretchr/testify/require"
)

type manualCron struct {
	spec     string
	callback func()
}

func (c *manualCron) Cron(spec string, callback func()) error {
	c.spec = spec
	c.callback = callback
	return nil
}

func TestKeepaliveRefreshesNearExpiry(t *testing.T) {
	fresh := validToken("alice@example.com")
	// valid for another hour
	f := newFixture(
		t,
		config.SecretsConfig{DefaultCredential: validToken("alice@example.com")},
		&stubHandshake{credential: fresh},
	)

	cron := &manualCron{}
	require.NoError(t, f.manager.StartKeepalive(context.Background(), cron, "@every 5m", 10*time.Minute))
	require.Equal(t, "@every 5m", cron.spec)

	cron.callback()
	require.Equal(t, int32(0), f.handshake.calls.Load())

	// 55 minutes later the credential is inside the margin
	f.clock.Set(now.Add(55 * time.Minute))
	cron.callback()
	require.Equal(t, int32(1), f.handshake.calls.Load())
}

func TestKeepaliveStopsWithContext(t *testing.T) {
	f := newFixture(
		t,
		config.SecretsConfig{DefaultCredential: expiredToken("alice@example.com")},
		&stubHandshake{credential: validToken("alice@example.com")},
	)

	ctx, cancel := context.WithCancel(context.Background())
	cron := &manualCron{}
	require.NoError(t, f.manager.StartKeepalive(ctx, cron, "@every 1m", time.Minute))
	cancel()

	cron.callback()
	require.Equal(t, int32(0), f.handshake.calls.Load())
}
