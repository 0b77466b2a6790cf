package main

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/jackc/pgx/v5/pgxpool"
	goredis "github.com/redis/go-redis/v9"

	"github.com/dmitrymomot/tierkeep/pkg/clientip"
	"github.com/dmitrymomot/tierkeep/pkg/config"
	"github.com/dmitrymomot/tierkeep/pkg/environment"
	"github.com/dmitrymomot/tierkeep/pkg/logger"
	"github.com/dmitrymomot/tierkeep/pkg/pg"
	"github.com/dmitrymomot/tierkeep/pkg/redis"
	"github.com/dmitrymomot/tierkeep/pkg/requestid"
	entitlement "github.com/dmitrymomot/tierkeep/pkg/subscription"
	store "github.com/dmitrymomot/tierkeep/svc/subscription"
)

// Supported BILLING_GATEWAY values.
const (
	gatewayStripe = "stripe"
	gatewayPaddle = "paddle"
)

type appConfig struct {
	Gateway string `env:"BILLING_GATEWAY" envDefault:"stripe"`
}

// app holds the process-wide dependencies shared by every command.
type app struct {
	env    environment.Environment
	log    *slog.Logger
	pgCfg  pg.Config
	pool   *pgxpool.Pool
	redis  *goredis.Client
	rdsCfg redis.Config

	service         entitlement.Service
	engineCfg       entitlement.Config
	signatureHeader string
}

func newLogger() (*slog.Logger, environment.Environment, error) {
	var cfg logger.Config
	if err := config.Load(&cfg); err != nil {
		return nil, "", fmt.Errorf("load logger config: %w", err)
	}

	log, err := logger.NewFromConfig(cfg, logger.WithContextExtractors(
		requestid.LoggerExtractor(),
		environment.LoggerExtractor(),
		clientip.LoggerExtractor(),
	))
	if err != nil {
		return nil, "", err
	}
	logger.SetAsDefault(log)

	return log, environment.Parse(cfg.Env), nil
}

// connectDB opens the pool and brings the schema up to date.
func connectDB(ctx context.Context, log *slog.Logger) (*pgxpool.Pool, pg.Config, error) {
	var cfg pg.Config
	if err := config.Load(&cfg); err != nil {
		return nil, cfg, fmt.Errorf("load postgres config: %w", err)
	}

	pool, err := pg.Connect(ctx, cfg)
	if err != nil {
		return nil, cfg, err
	}
	if err := pg.Migrate(ctx, pool, store.Migrations(), cfg, log); err != nil {
		pool.Close()
		return nil, cfg, err
	}
	return pool, cfg, nil
}

// bootstrap wires storage, the billing gateway and the entitlement engine.
// The caller must invoke close once done.
func bootstrap(ctx context.Context) (*app, func(), error) {
	log, env, err := newLogger()
	if err != nil {
		return nil, nil, err
	}

	a := &app{env: env, log: log}
	closers := make([]func(), 0, 2)
	closeAll := func() {
		for i := len(closers) - 1; i >= 0; i-- {
			closers[i]()
		}
	}

	a.pool, a.pgCfg, err = connectDB(ctx, log)
	if err != nil {
		return nil, nil, err
	}
	closers = append(closers, a.pool.Close)

	if err := config.Load(&a.rdsCfg); err != nil {
		closeAll()
		return nil, nil, fmt.Errorf("load redis config: %w", err)
	}
	a.redis, err = redis.Connect(ctx, a.rdsCfg)
	if err != nil {
		closeAll()
		return nil, nil, err
	}
	closers = append(closers, func() {
		if err := a.redis.Close(); err != nil {
			log.Error("failed to close redis client", logger.Error(err))
		}
	})

	if err := a.buildService(); err != nil {
		closeAll()
		return nil, nil, err
	}

	return a, closeAll, nil
}

func (a *app) buildService() error {
	var (
		appCfg     appConfig
		catalogCfg entitlement.CatalogConfig
		appStore   entitlement.AppStoreConfig
	)
	if err := config.Load(&appCfg); err != nil {
		return fmt.Errorf("load app config: %w", err)
	}
	if err := config.Load(&a.engineCfg); err != nil {
		return fmt.Errorf("load subscription config: %w", err)
	}
	if err := config.Load(&catalogCfg); err != nil {
		return fmt.Errorf("load catalog config: %w", err)
	}
	if err := config.Load(&appStore); err != nil {
		return fmt.Errorf("load app store config: %w", err)
	}

	catalog, err := entitlement.NewCatalogFromConfig(catalogCfg)
	if err != nil {
		return err
	}

	gateway, err := a.newGateway(appCfg.Gateway)
	if err != nil {
		return err
	}

	opts := []entitlement.ServiceOption{
		entitlement.WithConfig(a.engineCfg),
		entitlement.WithLogger(a.log),
		entitlement.WithEventDeduper(redis.NewDeduper(a.redis, a.rdsCfg.KeyPrefix, a.rdsCfg.DedupeTTL)),
	}
	if appStore.Enabled() {
		verifier, err := entitlement.NewAppStoreClient(appStore)
		if err != nil {
			return err
		}
		opts = append(opts, entitlement.WithStoreVerifier(verifier))
	} else {
		a.log.Info("app store purchases disabled: APPSTORE_ISSUER_ID is not set")
	}

	a.service = entitlement.NewService(catalog, store.NewPGStore(a.pool), gateway, opts...)
	return nil
}

func (a *app) newGateway(name string) (entitlement.Gateway, error) {
	switch strings.ToLower(name) {
	case gatewayStripe:
		var cfg entitlement.StripeConfig
		if err := config.Load(&cfg); err != nil {
			return nil, fmt.Errorf("load stripe config: %w", err)
		}
		a.signatureHeader = entitlement.StripeSignatureHeader
		return entitlement.NewStripeGateway(cfg)
	case gatewayPaddle:
		var cfg entitlement.PaddleConfig
		if err := config.Load(&cfg); err != nil {
			return nil, fmt.Errorf("load paddle config: %w", err)
		}
		a.signatureHeader = entitlement.PaddleSignatureHeader
		return entitlement.NewPaddleGateway(cfg)
	default:
		return nil, fmt.Errorf("unsupported billing gateway %q: use %q or %q", name, gatewayStripe, gatewayPaddle)
	}
}
