// Package config holds the single configuration value that is built once at
// process start and handed to every component of the search subsystem.
package config

import (
	"fmt"
	"net/url"
	"time"
)

type ProxyConfig struct {
	Enabled bool   `json:"enabled"`
	Url     string `json:"url"`
}

// IdentityConfig describes the identity provider the login handshake talks to.
type IdentityConfig struct {
	LoginUrl       string `json:"login_url"`
	CredentialsUrl string `json:"credentials_url"`
	ClientId       string `json:"client_id"`
	Scope          string `json:"scope"`
	ResponseType   string `json:"response_type"`
	RedirectUri    string `json:"redirect_uri"`
	Connection     string `json:"connection"`
	Protocol       string `json:"protocol"`
	Tenant         string `json:"tenant"`
	CsrfCookie     string `json:"csrf_cookie"`
	CsrfField      string `json:"csrf_field"`
	FormSelector   string `json:"form_selector"`
}

// ApplicationConfig describes the protected application that eventually
// hands out the bearer credential.
type ApplicationConfig struct {
	EntryUrl       string `json:"entry_url"`
	ProbeSearchUrl string `json:"probe_search_url"`
	SessionCookie  string `json:"session_cookie"`
}

type SearchConfig struct {
	Endpoint           string `json:"endpoint"`
	ArticleBaseUrl     string `json:"article_base_url"`
	PageLimit          int    `json:"page_limit"`
	Sort               string `json:"sort"`
	PageTimeoutSeconds int    `json:"page_timeout_seconds"`
}

type RateLimitConfig struct {
	PerSecond float64 `json:"per_second"`
	Burst     int     `json:"burst"`
}

// SecretsConfig carries secrets read from the config file, it is only ever
// consumed through StaticSecrets.
type SecretsConfig struct {
	Username          string `json:"username"`
	Password          string `json:"password"`
	DefaultCredential string `json:"default_credential"`
	LegacyCredential  string `json:"legacy_credential"`
}

type Config struct {
	CredentialFile      string            `json:"credential_file"`
	DefaultValidityDays int               `json:"default_validity_days"`
	ExtendDays          int               `json:"extend_days"`
	StepTimeoutSeconds  int               `json:"step_timeout_seconds"`
	BrowserEmulation    bool              `json:"browser_emulation"`
	Proxy               ProxyConfig       `json:"proxy"`
	Identity            IdentityConfig    `json:"identity"`
	Application         ApplicationConfig `json:"application"`
	Search              SearchConfig      `json:"search"`
	RateLimit           RateLimitConfig   `json:"rate_limit"`
	Secrets             SecretsConfig     `json:"secrets"`
}

const (
	DefaultCredentialFile = "credential.json"
	DefaultCsrfCookie     = "_csrf"
	DefaultCsrfField      = "csrf_token"
	DefaultFormSelector   = "form[name]"
	DefaultSessionCookie  = "sessionToken"
	DefaultPageLimit      = 20
	DefaultSort           = "date_desc"
)

// WithDefaults returns a copy of the config where every unset optional field
// has its default value.
func (c Config) WithDefaults() Config {
	if c.CredentialFile == "" {
		c.CredentialFile = DefaultCredentialFile
	}
	if c.DefaultValidityDays <= 0 {
		c.DefaultValidityDays = 30
	}
	if c.ExtendDays <= 0 {
		c.ExtendDays = 1
	}
	if c.StepTimeoutSeconds <= 0 {
		c.StepTimeoutSeconds = 30
	}
	if c.Identity.ResponseType == "" {
		c.Identity.ResponseType = "code"
	}
	if c.Identity.Protocol == "" {
		c.Identity.Protocol = "oauth2"
	}
	if c.Identity.CsrfCookie == "" {
		c.Identity.CsrfCookie = DefaultCsrfCookie
	}
	if c.Identity.CsrfField == "" {
		c.Identity.CsrfField = DefaultCsrfField
	}
	if c.Identity.FormSelector == "" {
		c.Identity.FormSelector = DefaultFormSelector
	}
	if c.Application.SessionCookie == "" {
		c.Application.SessionCookie = DefaultSessionCookie
	}
	if c.Search.PageLimit <= 0 {
		c.Search.PageLimit = DefaultPageLimit
	}
	if c.Search.Sort == "" {
		c.Search.Sort = DefaultSort
	}
	if c.Search.PageTimeoutSeconds <= 0 {
		c.Search.PageTimeoutSeconds = 60
	}
	if c.RateLimit.PerSecond <= 0 {
		c.RateLimit.PerSecond = 2
	}
	if c.RateLimit.Burst <= 0 {
		c.RateLimit.Burst = 2
	}
	return c
}

// Validate checks that every endpoint the subsystem needs is present and parseable.
func (c Config) Validate() error {
	if c.Identity.ClientId == "" {
		return fmt.Errorf("config: identity.client_id is required")
	}
	urls := []struct {
		name  string
		value string
	}{
		{"identity.login_url", c.Identity.LoginUrl},
		{"identity.credentials_url", c.Identity.CredentialsUrl},
		{"application.entry_url", c.Application.EntryUrl},
		{"application.probe_search_url", c.Application.ProbeSearchUrl},
		{"search.endpoint", c.Search.Endpoint},
	}
	for _, field := range urls {
		if field.value == "" {
			return fmt.Errorf("config: %s is required", field.name)
		}
		if _, err := url.ParseRequestURI(field.value); err != nil {
			return fmt.Errorf("config: %s: %w", field.name, err)
		}
	}
	if c.Proxy.Enabled {
		if _, err := url.ParseRequestURI(c.Proxy.Url); err != nil {
			return fmt.Errorf("config: proxy.url: %w", err)
		}
	}
	return nil
}

func (c Config) StepTimeout() time.Duration {
	return time.Duration(c.StepTimeoutSeconds) * time.Second
}

func (c Config) PageTimeout() time.Duration {
	return time.Duration(c.Search.PageTimeoutSeconds) * time.Second
}

func (c Config) DefaultValidity() time.Duration {
	return time.Duration(c.DefaultValidityDays) * 24 * time.Hour
}

// ProxyUrl returns the proxy to use or "" when proxying is disabled.
func (c Config) ProxyUrl() string {
	if !c.Proxy.Enabled {
		return ""
	}
	return c.Proxy.Url
}
