package main

import (
	"context"
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/dmitrymomot/tierkeep/handler"
	"github.com/dmitrymomot/tierkeep/modules/subscription"
	"github.com/dmitrymomot/tierkeep/pkg/clientip"
	"github.com/dmitrymomot/tierkeep/pkg/config"
	"github.com/dmitrymomot/tierkeep/pkg/environment"
	"github.com/dmitrymomot/tierkeep/pkg/httpserver"
	"github.com/dmitrymomot/tierkeep/pkg/logger"
	"github.com/dmitrymomot/tierkeep/pkg/metrics"
	"github.com/dmitrymomot/tierkeep/pkg/pg"
	"github.com/dmitrymomot/tierkeep/pkg/ratelimiter"
	"github.com/dmitrymomot/tierkeep/pkg/redis"
	"github.com/dmitrymomot/tierkeep/pkg/requestid"
	"github.com/dmitrymomot/tierkeep/pkg/scheduler"
)

const sweepTaskName = "subscription-sweep"

// limitsConfig bounds trial, checkout and purchase attempts per client IP.
type limitsConfig struct {
	Enabled bool               `env:"RATE_LIMIT_ENABLED" envDefault:"true"`
	Abuse   ratelimiter.Config `envPrefix:"RATE_LIMIT_"`
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the HTTP API and the periodic expiry sweep",
	RunE: func(cmd *cobra.Command, args []string) error {
		return runServe(cmd.Context())
	},
}

func runServe(ctx context.Context) error {
	a, closeApp, err := bootstrap(ctx)
	if err != nil {
		return err
	}
	defer closeApp()

	var (
		httpCfg   httpserver.Config
		apiCfg    subscription.Config
		limitsCfg limitsConfig
	)
	if err := config.Load(&httpCfg); err != nil {
		return err
	}
	if err := config.Load(&apiCfg); err != nil {
		return err
	}
	if err := config.Load(&limitsCfg); err != nil {
		return err
	}
	if apiCfg.WebhookSignatureHeader == "" {
		apiCfg.WebhookSignatureHeader = a.signatureHeader
	}
	if apiCfg.InternalSecret == "" {
		a.log.Warn("INTERNAL_API_SECRET is not set: internal paid tier grants are disabled")
	}

	errorHandler := handler.NewErrorHandler(a.log)

	var moduleOpts []subscription.Option
	if limitsCfg.Enabled {
		bucket, err := ratelimiter.NewBucket(redis.NewRateLimitStore(a.redis, a.rdsCfg.KeyPrefix), limitsCfg.Abuse)
		if err != nil {
			return err
		}
		moduleOpts = append(moduleOpts, subscription.WithLimiter(ratelimiter.Middleware(bucket, clientip.KeyFunc,
			ratelimiter.WithDeniedHandler(subscription.RenderRateLimited),
		)))
	}

	r := chi.NewRouter()
	r.Use(
		clientip.Middleware,
		requestid.Middleware,
		environment.Middleware(a.env),
		middleware.Recoverer,
		metrics.Middleware,
	)

	r.Get("/healthz", httpserver.HealthCheckHandler(a.log))
	r.Get("/readyz", httpserver.HealthCheckHandler(a.log,
		pg.Healthcheck(a.pool),
		redis.Healthcheck(a.redis),
	))
	r.Handle("/metrics", metrics.Handler())

	r.Mount("/", subscription.Router(subscription.RouterOptions{
		Entitlements: subscription.NewEntitlementService(apiCfg, a.service, a.log, errorHandler, moduleOpts...),
		Apple:        subscription.NewAppleService(a.service, a.log, errorHandler, moduleOpts...),
	}))

	sched := scheduler.New(
		scheduler.WithLocker(redis.NewLocker(a.redis, a.rdsCfg.KeyPrefix)),
		scheduler.WithLogger(a.log.With(logger.Component("scheduler"))),
	)
	if err := sched.AddTask(sweepTaskName, scheduler.Every(a.engineCfg.SweepInterval), sweepJob(a)); err != nil {
		return err
	}

	server := httpserver.NewFromConfig(httpCfg, httpserver.WithLogger(a.log))

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return server.Run(gctx, r)
	})
	g.Go(func() error {
		return sched.Start(gctx)
	})

	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	a.log.Info("tierkeep stopped")
	return nil
}
