package subscription

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/dmitrymomot/tierkeep/pkg/pg"
	entitlement "github.com/dmitrymomot/tierkeep/pkg/subscription"
)

// DB is the subset of *pgxpool.Pool used by PGStore.
type DB interface {
	Begin(ctx context.Context) (pgx.Tx, error)
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// querier is satisfied by both DB and pgx.Tx.
type querier interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// PGStore persists entitlement records and the device trial ledger in PostgreSQL.
// Each mutation runs in its own transaction holding the user's row lock.
type PGStore struct {
	db  DB
	now func() time.Time
}

var _ entitlement.Store = (*PGStore)(nil)

// NewPGStore creates a PGStore on top of db.
func NewPGStore(db DB) *PGStore {
	return &PGStore{
		db:  db,
		now: func() time.Time { return time.Now().UTC() },
	}
}

const recordColumns = `user_id, subscription_type, subscription_expires_at, auto_renew, cancelled_at,
	stripe_customer_id, stripe_subscription_id,
	apple_original_transaction_id, apple_transaction_id, apple_product_id,
	trial_used, trial_started_at, trial_ends_at, trial_plan_type,
	created_at, updated_at`

const ensureRecordSQL = `INSERT INTO entitlements (user_id, created_at, updated_at)
	VALUES ($1, $2, $2)
	ON CONFLICT (user_id) DO NOTHING`

func (s *PGStore) GetOrCreate(ctx context.Context, userID uuid.UUID) (*entitlement.Record, error) {
	if _, err := s.db.Exec(ctx, ensureRecordSQL, userID, s.now()); err != nil {
		return nil, fmt.Errorf("create entitlement record: %w", err)
	}
	return s.Get(ctx, userID)
}

func (s *PGStore) Get(ctx context.Context, userID uuid.UUID) (*entitlement.Record, error) {
	row := s.db.QueryRow(ctx, `SELECT `+recordColumns+` FROM entitlements WHERE user_id = $1`, userID)
	return scanRecord(row)
}

func (s *PGStore) FindByGatewayCustomer(ctx context.Context, customerRef string) (*entitlement.Record, error) {
	if customerRef == "" {
		return nil, entitlement.ErrRecordNotFound
	}
	row := s.db.QueryRow(ctx,
		`SELECT `+recordColumns+` FROM entitlements WHERE stripe_customer_id = $1 LIMIT 1`,
		customerRef)
	return scanRecord(row)
}

func (s *PGStore) Update(ctx context.Context, userID uuid.UUID, fn entitlement.UpdateFunc) (*entitlement.Record, error) {
	var result *entitlement.Record

	err := pgx.BeginFunc(ctx, s.db, func(tx pgx.Tx) error {
		current, err := s.lockRecord(ctx, tx, userID)
		if err != nil {
			return err
		}

		working := current.Clone()
		changed, err := fn(working)
		if err != nil {
			return err
		}
		if !changed {
			result = current
			return nil
		}

		working.UserID = userID
		working.UpdatedAt = s.now()
		if err := writeRecord(ctx, tx, working); err != nil {
			return err
		}
		result = working
		return nil
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}

const downgradeSQL = `UPDATE entitlements SET
	subscription_type = 'free',
	subscription_expires_at = NULL,
	auto_renew = FALSE,
	cancelled_at = COALESCE(cancelled_at, $2),
	stripe_subscription_id = '',
	apple_original_transaction_id = '',
	apple_transaction_id = '',
	apple_product_id = '',
	updated_at = $2
WHERE user_id = $1
	AND subscription_type <> 'free'
	AND ($3::timestamptz IS NULL OR (subscription_expires_at IS NOT NULL AND subscription_expires_at < $3))
	AND ($4::boolean IS NULL OR auto_renew = $4)
	AND ($5::text IS NULL OR stripe_subscription_id = $5)`

// Downgrade issues a single conditional UPDATE touching only entitlement columns.
func (s *PGStore) Downgrade(ctx context.Context, userID uuid.UUID, cond entitlement.DowngradeCondition, now time.Time) (bool, error) {
	tag, err := s.db.Exec(ctx, downgradeSQL,
		userID, now, cond.ExpiredBefore, cond.AutoRenew, cond.GatewaySubscriptionRef)
	if err != nil {
		return false, fmt.Errorf("downgrade entitlement: %w", err)
	}
	return tag.RowsAffected() == 1, nil
}

func (s *PGStore) ListSweepCandidates(ctx context.Context, q entitlement.SweepQuery) ([]*entitlement.Record, error) {
	var limit any
	if q.Limit > 0 {
		limit = q.Limit
	}

	rows, err := s.db.Query(ctx, `SELECT `+recordColumns+` FROM entitlements
		WHERE subscription_type <> 'free'
			AND subscription_expires_at IS NOT NULL
			AND subscription_expires_at < $1
			AND auto_renew = $2
			AND user_id > $3
		ORDER BY user_id
		LIMIT $4`,
		q.ExpiredBefore, q.AutoRenew, q.After, limit)
	if err != nil {
		return nil, fmt.Errorf("list sweep candidates: %w", err)
	}
	defer rows.Close()

	var out []*entitlement.Record
	for rows.Next() {
		r, err := scanRecord(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list sweep candidates: %w", err)
	}
	return out, nil
}

func (s *PGStore) DeviceTrial(ctx context.Context, deviceID string) (*entitlement.TrialLedgerEntry, error) {
	entry, err := scanLedgerEntry(s.db.QueryRow(ctx,
		`SELECT device_id, user_id, plan_type, trial_started_at FROM device_trials WHERE device_id = $1`,
		deviceID))
	if pg.IsNotFoundError(err) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("load device trial: %w", err)
	}
	return entry, nil
}

// RecordTrial locks the user's row, claims the device in the ledger and
// applies the trial in one transaction. Concurrent claims of the same device
// serialize on the ledger primary key.
func (s *PGStore) RecordTrial(ctx context.Context, ts entitlement.TrialStart) (bool, error) {
	created := false

	err := pgx.BeginFunc(ctx, s.db, func(tx pgx.Tx) error {
		rec, err := s.lockRecord(ctx, tx, ts.UserID)
		if err != nil {
			return err
		}

		var claimed string
		err = tx.QueryRow(ctx, `INSERT INTO device_trials (device_id, user_id, plan_type, trial_started_at)
			VALUES ($1, $2, $3, $4)
			ON CONFLICT (device_id) DO NOTHING
			RETURNING device_id`,
			ts.DeviceID, ts.UserID, string(ts.PlanType), ts.StartedAt).Scan(&claimed)
		switch {
		case pg.IsNotFoundError(err):
			existing, err := scanLedgerEntry(tx.QueryRow(ctx,
				`SELECT device_id, user_id, plan_type, trial_started_at FROM device_trials WHERE device_id = $1`,
				ts.DeviceID))
			if err != nil {
				return fmt.Errorf("load device trial: %w", err)
			}
			if existing.UserID == ts.UserID {
				return nil
			}
			return errors.Join(entitlement.ErrTrialAlreadyConsumed, entitlement.ErrDeviceTrialUsed)
		case err != nil:
			return fmt.Errorf("claim device trial: %w", err)
		}

		if rec.TrialUsed {
			return errors.Join(entitlement.ErrTrialAlreadyConsumed, entitlement.ErrUserTrialUsed)
		}

		working := rec.Clone()
		if err := working.ApplyTrialStart(ts); err != nil {
			return err
		}
		if err := writeRecord(ctx, tx, working); err != nil {
			return err
		}
		created = true
		return nil
	})
	if err != nil {
		return false, err
	}
	return created, nil
}

// lockRecord creates the row if needed and returns it under FOR UPDATE.
func (s *PGStore) lockRecord(ctx context.Context, tx pgx.Tx, userID uuid.UUID) (*entitlement.Record, error) {
	if _, err := tx.Exec(ctx, ensureRecordSQL, userID, s.now()); err != nil {
		return nil, fmt.Errorf("create entitlement record: %w", err)
	}
	return scanRecord(tx.QueryRow(ctx,
		`SELECT `+recordColumns+` FROM entitlements WHERE user_id = $1 FOR UPDATE`, userID))
}

func writeRecord(ctx context.Context, q querier, r *entitlement.Record) error {
	_, err := q.Exec(ctx, `UPDATE entitlements SET
		subscription_type = $2,
		subscription_expires_at = $3,
		auto_renew = $4,
		cancelled_at = $5,
		stripe_customer_id = $6,
		stripe_subscription_id = $7,
		apple_original_transaction_id = $8,
		apple_transaction_id = $9,
		apple_product_id = $10,
		trial_used = $11,
		trial_started_at = $12,
		trial_ends_at = $13,
		trial_plan_type = $14,
		updated_at = $15
	WHERE user_id = $1`,
		r.UserID, string(r.Tier), r.ExpiresAt, r.AutoRenew, r.CancelledAt,
		r.GatewayCustomerRef, r.GatewaySubscriptionRef,
		r.StoreOriginalTransactionRef, r.StoreTransactionRef, r.StoreProductRef,
		r.TrialUsed, r.TrialStartedAt, r.TrialEndsAt, string(r.TrialTier),
		r.UpdatedAt)
	if err != nil {
		return fmt.Errorf("write entitlement record: %w", err)
	}
	return nil
}

func scanRecord(row pgx.Row) (*entitlement.Record, error) {
	var (
		r         entitlement.Record
		tier      string
		trialTier string
	)
	err := row.Scan(
		&r.UserID, &tier, &r.ExpiresAt, &r.AutoRenew, &r.CancelledAt,
		&r.GatewayCustomerRef, &r.GatewaySubscriptionRef,
		&r.StoreOriginalTransactionRef, &r.StoreTransactionRef, &r.StoreProductRef,
		&r.TrialUsed, &r.TrialStartedAt, &r.TrialEndsAt, &trialTier,
		&r.CreatedAt, &r.UpdatedAt,
	)
	if pg.IsNotFoundError(err) {
		return nil, entitlement.ErrRecordNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("scan entitlement record: %w", err)
	}
	r.Tier = entitlement.Tier(tier)
	r.TrialTier = entitlement.Tier(trialTier)
	return &r, nil
}

func scanLedgerEntry(row pgx.Row) (*entitlement.TrialLedgerEntry, error) {
	var (
		e    entitlement.TrialLedgerEntry
		plan string
	)
	if err := row.Scan(&e.DeviceID, &e.UserID, &plan, &e.TrialStartedAt); err != nil {
		return nil, err
	}
	e.PlanType = entitlement.Tier(plan)
	return &e, nil
}
