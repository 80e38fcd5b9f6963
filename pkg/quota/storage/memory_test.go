package storage

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/noteflow-ai/quotad/pkg/quota"
)

func TestMemoryStore_IncrementIfBelow(t *testing.T) {
	store := NewMemoryStore()
	defer store.Close()
	ctx := context.Background()

	for i := int64(1); i <= 3; i++ {
		count, applied, err := store.IncrementIfBelow(ctx, "acct-1", "2026-08-31", 3)
		if err != nil {
			t.Fatalf("IncrementIfBelow failed: %v", err)
		}
		if !applied || count != i {
			t.Errorf("call %d: expected applied with count %d, got applied=%v count=%d", i, i, applied, count)
		}
	}

	count, applied, err := store.IncrementIfBelow(ctx, "acct-1", "2026-08-31", 3)
	if err != nil {
		t.Fatalf("IncrementIfBelow failed: %v", err)
	}
	if applied {
		t.Error("increment at the limit must not apply")
	}
	if count != 3 {
		t.Errorf("expected count to stay at 3, got %d", count)
	}
}

func TestMemoryStore_IncrementIsolatedByPeriod(t *testing.T) {
	store := NewMemoryStore()
	defer store.Close()
	ctx := context.Background()

	if _, applied, _ := store.IncrementIfBelow(ctx, "acct-1", "2026-08-31", 1); !applied {
		t.Fatal("first period increment should apply")
	}
	if _, applied, _ := store.IncrementIfBelow(ctx, "acct-1", "2026-09-01", 1); !applied {
		t.Error("a new period key starts from an implicit zero counter")
	}
}

func TestMemoryStore_ConcurrentIncrements(t *testing.T) {
	store := NewMemoryStore()
	defer store.Close()
	ctx := context.Background()

	const limit = 5
	const callers = 50

	var wg sync.WaitGroup
	var mu sync.Mutex
	applied := 0

	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, ok, err := store.IncrementIfBelow(ctx, "acct-1", "2026-08-31", limit)
			if err != nil {
				t.Errorf("IncrementIfBelow failed: %v", err)
				return
			}
			if ok {
				mu.Lock()
				applied++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	if applied != limit {
		t.Errorf("expected exactly %d applied increments, got %d", limit, applied)
	}
	count, _ := store.Count(ctx, "acct-1", "2026-08-31")
	if count != limit {
		t.Errorf("expected final count %d, got %d", limit, count)
	}
}

func TestMemoryStore_DecrementFloorsAtZero(t *testing.T) {
	store := NewMemoryStore()
	defer store.Close()
	ctx := context.Background()

	if err := store.Decrement(ctx, "acct-1", "2026-08-31"); err != nil {
		t.Fatalf("Decrement on missing row failed: %v", err)
	}
	count, _ := store.Count(ctx, "acct-1", "2026-08-31")
	if count != 0 {
		t.Errorf("count must not go negative, got %d", count)
	}

	store.IncrementIfBelow(ctx, "acct-1", "2026-08-31", 5)
	store.Decrement(ctx, "acct-1", "2026-08-31")
	count, _ = store.Count(ctx, "acct-1", "2026-08-31")
	if count != 0 {
		t.Errorf("expected count 0 after decrement, got %d", count)
	}
}

func TestMemoryStore_Overrides(t *testing.T) {
	store := NewMemoryStore()
	defer store.Close()
	ctx := context.Background()

	if _, ok, _ := store.Override(ctx, "acct-1"); ok {
		t.Error("no override should exist initially")
	}

	store.SetOverride(ctx, "acct-1", quota.Unlimited())
	limit, ok, err := store.Override(ctx, "acct-1")
	if err != nil || !ok {
		t.Fatalf("Override failed: ok=%v err=%v", ok, err)
	}
	if !limit.IsUnlimited() {
		t.Error("expected unlimited override")
	}

	store.ClearOverride(ctx, "acct-1")
	if _, ok, _ := store.Override(ctx, "acct-1"); ok {
		t.Error("override should be cleared")
	}
}

func TestMemoryStore_PruneCounters(t *testing.T) {
	store := NewMemoryStore()
	defer store.Close()
	ctx := context.Background()

	store.IncrementIfBelow(ctx, "acct-1", "2026-05-01", 10)
	store.IncrementIfBelow(ctx, "acct-1", "2026-08-31", 10)
	store.IncrementIfBelow(ctx, "acct-2", quota.LifetimePeriodKey, 10)

	deleted, err := store.PruneCounters(ctx, "2026-06-01")
	if err != nil {
		t.Fatalf("PruneCounters failed: %v", err)
	}
	if deleted != 1 {
		t.Errorf("expected 1 row pruned, got %d", deleted)
	}

	if !store.HasCounter("acct-1", "2026-08-31") {
		t.Error("recent counter should be retained")
	}
	if !store.HasCounter("acct-2", quota.LifetimePeriodKey) {
		t.Error("lifetime counter must never be pruned")
	}
	if store.HasCounter("acct-1", "2026-05-01") {
		t.Error("expired counter should be pruned")
	}
}

func TestMemoryStore_Audit(t *testing.T) {
	store := NewMemoryStore()
	defer store.Close()
	ctx := context.Background()

	base := time.Date(2026, 8, 31, 10, 0, 0, 0, time.UTC)
	records := []quota.AuditRecord{
		{ID: "1", Actor: "alice", Action: "set_limit", AccountID: "acct-1", CreatedAt: base},
		{ID: "2", Actor: "bob", Action: "reset_usage", AccountID: "acct-2", CreatedAt: base.Add(time.Minute)},
		{ID: "3", Actor: "alice", Action: "reset_usage", AccountID: "acct-1", CreatedAt: base.Add(2 * time.Minute)},
	}
	for _, rec := range records {
		if err := store.AppendAudit(ctx, rec); err != nil {
			t.Fatalf("AppendAudit failed: %v", err)
		}
	}

	all, err := store.ListAudit(ctx, "", 10)
	if err != nil {
		t.Fatalf("ListAudit failed: %v", err)
	}
	if len(all) != 3 {
		t.Fatalf("expected 3 records, got %d", len(all))
	}
	if all[0].ID != "3" {
		t.Errorf("expected newest first, got %s", all[0].ID)
	}

	filtered, err := store.ListAudit(ctx, "acct-1", 10)
	if err != nil {
		t.Fatalf("ListAudit failed: %v", err)
	}
	if len(filtered) != 2 {
		t.Errorf("expected 2 records for acct-1, got %d", len(filtered))
	}
}
