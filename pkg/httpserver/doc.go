// Package httpserver wraps net/http with context-driven graceful shutdown,
// configurable timeouts and health-check handlers.
//
// Run blocks until the supplied context is cancelled, then shuts the server
// down with http.Server.Shutdown bounded by the shutdown timeout. The caller
// owns signal handling:
//
//	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
//	defer stop()
//
//	r := chi.NewRouter()
//	r.Get("/healthz", httpserver.HealthCheckHandler(log))
//	r.Get("/readyz", httpserver.HealthCheckHandler(log, pg.Healthcheck(pool), redis.Healthcheck(rdb)))
//
//	srv := httpserver.NewFromConfig(cfg, httpserver.WithLogger(log))
//	if err := srv.Run(ctx, r); err != nil {
//		log.Error("server stopped", "err", err)
//	}
//
// Listen failures are wrapped with ErrStart, serve failures with ErrServe and
// drain timeouts with ErrShutdown. Ready and Addr expose the bound listener,
// which is how tests on port 0 find the server.
package httpserver
