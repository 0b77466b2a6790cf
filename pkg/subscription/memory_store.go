package subscription

import (
	"bytes"
	"context"
	"errors"
	"slices"
	"sync"
	"time"

	"github.com/google/uuid"
)

// MemoryStore is an in-process Store. It is safe for concurrent use and
// is intended for tests and single-instance development setups.
type MemoryStore struct {
	mu      sync.Mutex
	records map[uuid.UUID]*Record
	devices map[string]TrialLedgerEntry
	now     func() time.Time
}

// NewMemoryStore creates an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		records: make(map[uuid.UUID]*Record),
		devices: make(map[string]TrialLedgerEntry),
		now:     func() time.Time { return time.Now().UTC() },
	}
}

// Put replaces the stored record. Used to seed state.
func (m *MemoryStore) Put(r *Record) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.records[r.UserID] = r.Clone()
}

// LedgerSize returns the number of device ledger rows.
func (m *MemoryStore) LedgerSize() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.devices)
}

func (m *MemoryStore) GetOrCreate(_ context.Context, userID uuid.UUID) (*Record, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.getOrCreateLocked(userID).Clone(), nil
}

func (m *MemoryStore) Get(_ context.Context, userID uuid.UUID) (*Record, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	r, ok := m.records[userID]
	if !ok {
		return nil, ErrRecordNotFound
	}
	return r.Clone(), nil
}

func (m *MemoryStore) FindByGatewayCustomer(_ context.Context, customerRef string) (*Record, error) {
	if customerRef == "" {
		return nil, ErrRecordNotFound
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, r := range m.records {
		if r.GatewayCustomerRef == customerRef {
			return r.Clone(), nil
		}
	}
	return nil, ErrRecordNotFound
}

func (m *MemoryStore) Update(_ context.Context, userID uuid.UUID, fn UpdateFunc) (*Record, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	current := m.getOrCreateLocked(userID)
	working := current.Clone()

	changed, err := fn(working)
	if err != nil {
		return nil, err
	}
	if !changed {
		return current.Clone(), nil
	}

	working.UserID = userID
	working.UpdatedAt = m.now()
	m.records[userID] = working
	return working.Clone(), nil
}

func (m *MemoryStore) Downgrade(_ context.Context, userID uuid.UUID, cond DowngradeCondition, now time.Time) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	r, ok := m.records[userID]
	if !ok || !cond.Matches(r) {
		return false, nil
	}
	r.ApplyDowngrade(now)
	return true, nil
}

func (m *MemoryStore) ListSweepCandidates(_ context.Context, q SweepQuery) ([]*Record, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var out []*Record
	for _, r := range m.records {
		if !r.Tier.IsPaid() || r.ExpiresAt == nil || r.AutoRenew != q.AutoRenew {
			continue
		}
		if !r.ExpiresAt.Before(q.ExpiredBefore) {
			continue
		}
		if q.After != uuid.Nil && bytes.Compare(r.UserID[:], q.After[:]) <= 0 {
			continue
		}
		out = append(out, r.Clone())
	}

	slices.SortFunc(out, func(a, b *Record) int {
		return bytes.Compare(a.UserID[:], b.UserID[:])
	})
	if q.Limit > 0 && len(out) > q.Limit {
		out = out[:q.Limit]
	}
	return out, nil
}

func (m *MemoryStore) DeviceTrial(_ context.Context, deviceID string) (*TrialLedgerEntry, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	e, ok := m.devices[deviceID]
	if !ok {
		return nil, nil
	}
	return &e, nil
}

func (m *MemoryStore) RecordTrial(_ context.Context, ts TrialStart) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if e, ok := m.devices[ts.DeviceID]; ok {
		if e.UserID == ts.UserID {
			return false, nil
		}
		return false, errors.Join(ErrTrialAlreadyConsumed, ErrDeviceTrialUsed)
	}

	r := m.getOrCreateLocked(ts.UserID)
	if r.TrialUsed {
		return false, errors.Join(ErrTrialAlreadyConsumed, ErrUserTrialUsed)
	}

	working := r.Clone()
	if err := working.ApplyTrialStart(ts); err != nil {
		return false, err
	}

	m.records[ts.UserID] = working
	m.devices[ts.DeviceID] = TrialLedgerEntry{
		DeviceID:       ts.DeviceID,
		UserID:         ts.UserID,
		PlanType:       ts.PlanType,
		TrialStartedAt: ts.StartedAt,
	}
	return true, nil
}

func (m *MemoryStore) getOrCreateLocked(userID uuid.UUID) *Record {
	r, ok := m.records[userID]
	if !ok {
		r = NewRecord(userID, m.now())
		m.records[userID] = r
	}
	return r
}
