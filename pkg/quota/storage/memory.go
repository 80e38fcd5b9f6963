package storage

import (
	"context"
	"sync"

	"github.com/noteflow-ai/quotad/pkg/quota"
)

// MemoryStore is an in-memory quota.Store. State is lost on restart, so it
// suits tests and single-process deployments where durability does not
// matter. All operations take one mutex, which makes the conditional
// increment trivially atomic.
type MemoryStore struct {
	mu        sync.Mutex
	counters  map[counterKey]int64
	overrides map[string]quota.Limit
	audit     []quota.AuditRecord
}

type counterKey struct {
	accountID string
	periodKey string
}

var _ quota.Store = (*MemoryStore)(nil)

// NewMemoryStore creates an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		counters:  make(map[counterKey]int64),
		overrides: make(map[string]quota.Limit),
	}
}

// IncrementIfBelow implements quota.CounterStore.
func (s *MemoryStore) IncrementIfBelow(_ context.Context, accountID, periodKey string, limit int64) (int64, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	key := counterKey{accountID, periodKey}
	count := s.counters[key]
	if count >= limit {
		return count, false, nil
	}
	count++
	s.counters[key] = count
	return count, true, nil
}

// Decrement implements quota.CounterStore, flooring at zero.
func (s *MemoryStore) Decrement(_ context.Context, accountID, periodKey string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	key := counterKey{accountID, periodKey}
	if count := s.counters[key]; count > 0 {
		s.counters[key] = count - 1
	}
	return nil
}

// Count implements quota.CounterStore. A missing row reads as zero.
func (s *MemoryStore) Count(_ context.Context, accountID, periodKey string) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.counters[counterKey{accountID, periodKey}], nil
}

// ResetCounter implements quota.CounterStore.
func (s *MemoryStore) ResetCounter(_ context.Context, accountID, periodKey string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.counters[counterKey{accountID, periodKey}] = 0
	return nil
}

// HasCounter reports whether a counter row exists for (accountID, periodKey).
// Tests use it to verify that unlimited accounts never create rows.
func (s *MemoryStore) HasCounter(accountID, periodKey string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.counters[counterKey{accountID, periodKey}]
	return ok
}

// SetOverride implements quota.OverrideStore.
func (s *MemoryStore) SetOverride(_ context.Context, accountID string, limit quota.Limit) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.overrides[accountID] = limit
	return nil
}

// Override implements quota.OverrideStore.
func (s *MemoryStore) Override(_ context.Context, accountID string) (quota.Limit, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	limit, ok := s.overrides[accountID]
	return limit, ok, nil
}

// ClearOverride implements quota.OverrideStore.
func (s *MemoryStore) ClearOverride(_ context.Context, accountID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.overrides, accountID)
	return nil
}

// AppendAudit implements quota.AuditStore.
func (s *MemoryStore) AppendAudit(_ context.Context, rec quota.AuditRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.audit = append(s.audit, rec)
	return nil
}

// ListAudit implements quota.AuditStore, newest first.
func (s *MemoryStore) ListAudit(_ context.Context, accountID string, n int) ([]quota.AuditRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var out []quota.AuditRecord
	for i := len(s.audit) - 1; i >= 0 && len(out) < n; i-- {
		if accountID != "" && s.audit[i].AccountID != accountID {
			continue
		}
		out = append(out, s.audit[i])
	}
	return out, nil
}

// PruneCounters implements quota.Store.
func (s *MemoryStore) PruneCounters(_ context.Context, beforePeriodKey string) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	deleted := 0
	for key := range s.counters {
		if key.periodKey != quota.LifetimePeriodKey && key.periodKey < beforePeriodKey {
			delete(s.counters, key)
			deleted++
		}
	}
	return deleted, nil
}

// Close implements quota.Store. No-op for the memory backend.
func (s *MemoryStore) Close() error {
	return nil
}
