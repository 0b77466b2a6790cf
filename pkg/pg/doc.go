// Package pg bootstraps the PostgreSQL layer on top of pgx/v5.
//
// Config is populated from the environment (PG_* variables). Connect opens a
// *pgxpool.Pool with retry, Migrate applies embedded goose migrations through
// the same pool, and Healthcheck backs the readiness probe:
//
//	cfg, err := config.Load[pg.Config]()
//	pool, err := pg.Connect(ctx, cfg)
//	defer pool.Close()
//
//	if err := pg.Migrate(ctx, pool, migrations.FS, cfg, slog.Default()); err != nil {
//		return err
//	}
//
// The error helpers classify *pgconn.PgError values so callers can branch on
// unique violations or retryable serialization failures without importing
// pgconn themselves.
package pg
