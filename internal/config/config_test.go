package config

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func validConfig() Config {
	return Config{
		Identity: IdentityConfig{
			LoginUrl:       "https://login.example.com/authorize",
			CredentialsUrl: "https://login.example.com/usernamepassword/login",
			ClientId:       "client",
		},
		Application: ApplicationConfig{
			EntryUrl:       "https://app.example.com/",
			ProbeSearchUrl: "https://app.example.com/search?q=test",
		},
		Search: SearchConfig{
			Endpoint: "https://api.example.com/v1/search",
		},
	}
}

func TestWithDefaults(t *testing.T) {
	cfg := validConfig().WithDefaults()
	require.Equal(t, DefaultCredentialFile, cfg.CredentialFile)
	require.Equal(t, 30*24*time.Hour, cfg.DefaultValidity())
	require.Equal(t, 30*time.Second, cfg.StepTimeout())
	require.Equal(t, DefaultCsrfCookie, cfg.Identity.CsrfCookie)
	require.Equal(t, DefaultPageLimit, cfg.Search.PageLimit)
	require.Equal(t, float64(2), cfg.RateLimit.PerSecond)
}

func TestValidate(t *testing.T) {
	require.NoError(t, validConfig().Validate())

	missing := validConfig()
	missing.Search.Endpoint = ""
	require.ErrorContains(t, missing.Validate(), "search.endpoint")

	badProxy := validConfig()
	badProxy.Proxy = ProxyConfig{Enabled: true, Url: "::not a url"}
	require.ErrorContains(t, badProxy.Validate(), "proxy.url")
}

func TestProxyUrl(t *testing.T) {
	cfg := validConfig()
	cfg.Proxy = ProxyConfig{Enabled: false, Url: "http://proxy:3128"}
	require.Equal(t, "", cfg.ProxyUrl())
	cfg.Proxy.Enabled = true
	require.Equal(t, "http://proxy:3128", cfg.ProxyUrl())
}

func TestChainSecrets(t *testing.T) {
	env := EnvSecrets{lookup: func(key string) (string, bool) {
		if key == EnvPassword {
			return "from-env", true
		}
		return "", false
	}}
	static := NewStaticSecrets(SecretsConfig{
		Username:          "alice@example.com",
		Password:          "from-file",
		DefaultCredential: "a.b.c",
	})

	secrets, err := ChainSecrets{env, static}.Secrets(context.Background())
	require.NoError(t, err)
	require.Equal(t, "alice@example.com", secrets.Username)
	require.Equal(t, "from-env", secrets.Password)
	require.Equal(t, "a.b.c", secrets.DefaultCredential)
	require.Equal(t, "", secrets.LegacyCredential)
}
