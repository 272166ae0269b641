package globals

import (
	"context"
	"fmt"

	"newsdesk-backend/internal/components/chrono"
	"newsdesk-backend/internal/components/telemetry"
	"newsdesk-backend/internal/config"
	"newsdesk-backend/internal/credstore"
	"newsdesk-backend/internal/scrapers/handshake"
	"newsdesk-backend/internal/scrapers/newsearch"
	"newsdesk-backend/internal/tokeninfo"
	"newsdesk-backend/internal/tokenlife"
)

type ctxKey struct{}

// Value is everything the commands share, built once from the config.
type Value struct {
	Config  config.Config
	Tel     telemetry.API
	Time    chrono.API
	Store   *credstore.FileStore
	Manager *tokenlife.Manager
	Search  *newsearch.Client
}

func Set(ctx context.Context, value *Value) context.Context {
	return context.WithValue(ctx, ctxKey{}, value)
}

func Get(ctx context.Context) *Value {
	return ctx.Value(ctxKey{}).(*Value)
}

// Build wires the credential store, the handshake, the lifecycle manager and
// the search client. Environment secrets take precedence over the config file.
// A non-empty dumpDir receives every handshake exchange.
func Build(ctx context.Context, cfg config.Config, dumpDir string, tel telemetry.API) (*Value, error) {
	cfg = cfg.WithDefaults()
	err := cfg.Validate()
	if err != nil {
		return nil, err
	}

	clock := chrono.NewStandardImpl()
	secrets := config.ChainSecrets{
		config.NewEnvSecrets(),
		config.NewStaticSecrets(cfg.Secrets),
	}

	store, err := credstore.NewFileStore(ctx, credstore.Options{
		Path:            cfg.CredentialFile,
		DefaultValidity: cfg.DefaultValidity(),
		Secrets:         secrets,
		Time:            clock,
	}, tel)
	if err != nil {
		return nil, fmt.Errorf("credential store: %w", err)
	}

	introspector := tokeninfo.NewIntrospector(clock)
	opts := handshake.OptionsFromConfig(cfg, secrets, introspector)
	if dumpDir != "" {
		dump, err := telemetry.NewHttpDump(dumpDir, tel)
		if err != nil {
			return nil, fmt.Errorf("http dump: %w", err)
		}
		opts.Dump = &dump
	}
	hs, err := handshake.NewClient(opts, tel)
	if err != nil {
		return nil, fmt.Errorf("handshake client: %w", err)
	}

	manager := tokenlife.NewManager(store, introspector, []tokenlife.Strategy{
		tokenlife.NewHandshakeStrategy(hs, store, introspector, clock, tel),
		tokenlife.NewLegacyStrategy(secrets, store, introspector, clock, tel),
		tokenlife.NewExtendExpiryStrategy(store, cfg.ExtendDays, tel),
	}, clock, tel)

	search, err := newsearch.NewClient(newsearch.OptionsFromConfig(cfg), manager, tel)
	if err != nil {
		return nil, fmt.Errorf("search client: %w", err)
	}

	return &Value{
		Config:  cfg,
		Tel:     tel,
		Time:    clock,
		Store:   store,
		Manager: manager,
		Search:  search,
	}, nil
}
