package config

import (
	"context"
	"os"
)

// Secrets are the values that must never be compiled into the binary.
type Secrets struct {
	Username string
	Password string
	// DefaultCredential seeds the credential store on first run.
	DefaultCredential string
	// LegacyCredential is a previously known-good bearer credential tried when
	// a fresh login fails.
	LegacyCredential string
}

// SecretProvider is the only way components receive secrets.
type SecretProvider interface {
	Secrets(ctx context.Context) (Secrets, error)
}

// StaticSecrets serves the secrets section of the config file.
type StaticSecrets struct {
	cfg SecretsConfig
}

func NewStaticSecrets(cfg SecretsConfig) StaticSecrets {
	return StaticSecrets{cfg: cfg}
}

func (s StaticSecrets) Secrets(context.Context) (Secrets, error) {
	return Secrets{
		Username:          s.cfg.Username,
		Password:          s.cfg.Password,
		DefaultCredential: s.cfg.DefaultCredential,
		LegacyCredential:  s.cfg.LegacyCredential,
	}, nil
}

const (
	EnvUsername     = "NEWSDESK_USERNAME"
	EnvPassword     = "NEWSDESK_PASSWORD"
	EnvDefaultToken = "NEWSDESK_DEFAULT_TOKEN"
	EnvLegacyToken  = "NEWSDESK_LEGACY_TOKEN"
)

// EnvSecrets reads secrets from the process environment.
type EnvSecrets struct {
	lookup func(string) (string, bool)
}

func NewEnvSecrets() EnvSecrets {
	return EnvSecrets{lookup: os.LookupEnv}
}

func (e EnvSecrets) Secrets(context.Context) (Secrets, error) {
	get := func(key string) string {
		v, _ := e.lookup(key)
		return v
	}
	return Secrets{
		Username:          get(EnvUsername),
		Password:          get(EnvPassword),
		DefaultCredential: get(EnvDefaultToken),
		LegacyCredential:  get(EnvLegacyToken),
	}, nil
}

// ChainSecrets merges providers field by field, the first provider with a
// non-empty value for a field wins.
type ChainSecrets []SecretProvider

func (c ChainSecrets) Secrets(ctx context.Context) (Secrets, error) {
	var out Secrets
	for _, p := range c {
		s, err := p.Secrets(ctx)
		if err != nil {
			return Secrets{}, err
		}
		if out.Username == "" {
			out.Username = s.Username
		}
		if out.Password == "" {
			out.Password = s.Password
		}
		if out.DefaultCredential == "" {
			out.DefaultCredential = s.DefaultCredential
		}
		if out.LegacyCredential == "" {
			out.LegacyCredential = s.LegacyCredential
		}
	}
	return out, nil
}
