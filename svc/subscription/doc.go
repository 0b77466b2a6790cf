// Package subscription holds the PostgreSQL persistence for the entitlement
// engine in pkg/subscription.
//
// PGStore implements subscription.Store over two tables created by the
// embedded goose migrations (see Migrations):
//
//   - entitlements keeps one row per user. Mutations lock the row with
//     SELECT ... FOR UPDATE inside a transaction, and downgrades are a single
//     conditional UPDATE that only touches entitlement columns.
//   - device_trials is the append-only trial ledger keyed by device ID.
//     Concurrent claims for one device serialize on its primary key.
//
// Wiring:
//
//	pool, err := pg.Connect(ctx, pgCfg)
//	if err := pg.Migrate(ctx, pool, subscription.Migrations(), pgCfg, log); err != nil {
//		return err
//	}
//	store := subscription.NewPGStore(pool)
package subscription
