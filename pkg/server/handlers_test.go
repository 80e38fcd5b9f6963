package server

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/noteflow-ai/quotad/pkg/config"
	"github.com/noteflow-ai/quotad/pkg/quota"
	"github.com/noteflow-ai/quotad/pkg/quota/admin"
	"github.com/noteflow-ai/quotad/pkg/quota/storage"
)

type checkResponseBody struct {
	Allowed   bool       `json:"allowed"`
	Remaining *int64     `json:"remaining"`
	Limit     *any       `json:"limit"`
	ResetAt   *time.Time `json:"resetAt"`
	Code      string     `json:"code"`
}

// failingCounters simulates an unreachable counter store.
type failingCounters struct{}

func (failingCounters) IncrementIfBelow(context.Context, string, string, int64) (int64, bool, error) {
	return 0, false, errors.New("connection refused")
}
func (failingCounters) Decrement(context.Context, string, string) error {
	return errors.New("connection refused")
}
func (failingCounters) Count(context.Context, string, string) (int64, error) {
	return 0, errors.New("connection refused")
}
func (failingCounters) ResetCounter(context.Context, string, string) error {
	return errors.New("connection refused")
}

func newTestServer(t *testing.T, counters quota.CounterStore) (http.Handler, *storage.MemoryStore) {
	t.Helper()

	store := storage.NewMemoryStore()
	t.Cleanup(func() { store.Close() })
	if counters == nil {
		counters = store
	}

	clock := quota.NewClock(quota.GranularityDaily)
	dir := quota.NewStaticDirectory(map[string]string{
		"acct-free":    "free",
		"acct-premium": "premium",
	}, "free", true)
	resolver := quota.NewResolver(store, dir, quota.Policy{
		Tiers:   map[string]quota.Limit{"premium": quota.Unlimited()},
		Default: quota.Limited(2),
	})
	guard := quota.NewGuard(quota.GuardConfig{
		Store:    counters,
		Resolver: resolver,
		Clock:    clock,
	})
	adminSvc := admin.NewService(store, resolver, clock, nil)

	cfg := config.DefaultConfig()
	srv := NewServer(&cfg.Server, guard, adminSvc, nil, nil)
	return srv.setupRoutes(), store
}

func doJSON(t *testing.T, handler http.Handler, method, path, body string, headers map[string]string) *httptest.ResponseRecorder {
	t.Helper()

	req := httptest.NewRequest(method, path, strings.NewReader(body))
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	return rec
}

func TestHandleCheck_Allowed(t *testing.T) {
	handler, _ := newTestServer(t, nil)

	rec := doJSON(t, handler, http.MethodPost, "/v1/quota/check", `{"accountId":"acct-free","resourceKey":"note_generation"}`, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body)
	}

	var resp checkResponseBody
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}
	if !resp.Allowed || resp.Code != "OK" {
		t.Errorf("expected allowed OK, got %+v", resp)
	}
	if resp.Remaining == nil || *resp.Remaining != 1 {
		t.Errorf("expected remaining 1, got %v", resp.Remaining)
	}
	if resp.ResetAt == nil || !resp.ResetAt.After(time.Now()) {
		t.Errorf("expected future resetAt, got %v", resp.ResetAt)
	}
}

func TestHandleCheck_Denied(t *testing.T) {
	handler, _ := newTestServer(t, nil)

	body := `{"accountId":"acct-free"}`
	doJSON(t, handler, http.MethodPost, "/v1/quota/check", body, nil)
	doJSON(t, handler, http.MethodPost, "/v1/quota/check", body, nil)

	rec := doJSON(t, handler, http.MethodPost, "/v1/quota/check", body, nil)
	if rec.Code != http.StatusTooManyRequests {
		t.Fatalf("expected 429, got %d: %s", rec.Code, rec.Body)
	}

	retryAfter := rec.Header().Get("Retry-After")
	if retryAfter == "" {
		t.Error("expected Retry-After header on denial")
	} else if n, err := strconv.Atoi(retryAfter); err != nil || n < 1 {
		t.Errorf("Retry-After must be a positive integer, got %q", retryAfter)
	}

	var resp checkResponseBody
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}
	if resp.Allowed || resp.Code != "QUOTA_EXCEEDED" {
		t.Errorf("expected denied QUOTA_EXCEEDED, got %+v", resp)
	}
	if resp.Limit == nil {
		t.Error("denial must still report the effective limit")
	}
}

func TestHandleCheck_UnlimitedAccount(t *testing.T) {
	handler, store := newTestServer(t, nil)

	rec := doJSON(t, handler, http.MethodPost, "/v1/quota/check", `{"accountId":"acct-premium"}`, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body)
	}

	var resp checkResponseBody
	json.Unmarshal(rec.Body.Bytes(), &resp)
	if !resp.Allowed {
		t.Error("unlimited account must be allowed")
	}
	if resp.Remaining != nil {
		t.Errorf("unlimited account has no remaining count, got %d", *resp.Remaining)
	}

	// No counter row is created for unlimited accounts.
	key := quota.NewClock(quota.GranularityDaily).PeriodKey()
	if store.HasCounter("acct-premium", key) {
		t.Error("unlimited check must not touch the counter store")
	}
}

func TestHandleCheck_UnknownAccount(t *testing.T) {
	handler, _ := newTestServer(t, nil)

	rec := doJSON(t, handler, http.MethodPost, "/v1/quota/check", `{"accountId":"nobody"}`, nil)
	if rec.Code != http.StatusNotFound {
		t.Errorf("expected 404 for unknown account, got %d", rec.Code)
	}
}

func TestHandleCheck_StoreUnavailableFailsClosed(t *testing.T) {
	handler, _ := newTestServer(t, failingCounters{})

	rec := doJSON(t, handler, http.MethodPost, "/v1/quota/check", `{"accountId":"acct-free"}`, nil)
	if rec.Code != http.StatusServiceUnavailable {
		t.Fatalf("expected 503, got %d: %s", rec.Code, rec.Body)
	}

	var resp checkResponseBody
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}
	if resp.Allowed {
		t.Error("store failure must never be reported as allowed")
	}
	if resp.Code != "STORE_UNAVAILABLE" {
		t.Errorf("expected STORE_UNAVAILABLE, got %s", resp.Code)
	}
	if resp.Limit != nil {
		t.Error("unavailable store has no trustworthy limit to report")
	}
}

func TestHandleCheck_BadRequest(t *testing.T) {
	handler, _ := newTestServer(t, nil)

	if rec := doJSON(t, handler, http.MethodPost, "/v1/quota/check", `not json`, nil); rec.Code != http.StatusBadRequest {
		t.Errorf("expected 400 for malformed body, got %d", rec.Code)
	}
	if rec := doJSON(t, handler, http.MethodPost, "/v1/quota/check", `{}`, nil); rec.Code != http.StatusBadRequest {
		t.Errorf("expected 400 for missing accountId, got %d", rec.Code)
	}
}

func TestHandleRelease(t *testing.T) {
	handler, store := newTestServer(t, nil)
	ctx := context.Background()

	doJSON(t, handler, http.MethodPost, "/v1/quota/check", `{"accountId":"acct-free"}`, nil)

	key := quota.NewClock(quota.GranularityDaily).PeriodKey()
	if count, _ := store.Count(ctx, "acct-free", key); count != 1 {
		t.Fatalf("expected count 1 after check, got %d", count)
	}

	rec := doJSON(t, handler, http.MethodPost, "/v1/quota/release", `{"accountId":"acct-free"}`, nil)
	if rec.Code != http.StatusAccepted {
		t.Fatalf("expected 202, got %d", rec.Code)
	}

	// The decrement runs off the response path; poll for it.
	deadline := time.Now().Add(2 * time.Second)
	for {
		count, _ := store.Count(ctx, "acct-free", key)
		if count == 0 {
			break
		}
		if time.Now().After(deadline) {
			t.Fatalf("release never landed, count still %d", count)
		}
		time.Sleep(10 * time.Millisecond)
	}
}

func TestAdminEndpoints(t *testing.T) {
	handler, _ := newTestServer(t, nil)

	// Lower the account's limit via override.
	rec := doJSON(t, handler, http.MethodPut, "/v1/admin/limits/acct-free", `{"limit":1}`,
		map[string]string{"X-Actor": "alice"})
	if rec.Code != http.StatusNoContent {
		t.Fatalf("set limit: expected 204, got %d: %s", rec.Code, rec.Body)
	}

	// The override takes effect on the next check.
	doJSON(t, handler, http.MethodPost, "/v1/quota/check", `{"accountId":"acct-free"}`, nil)
	if rec := doJSON(t, handler, http.MethodPost, "/v1/quota/check", `{"accountId":"acct-free"}`, nil); rec.Code != http.StatusTooManyRequests {
		t.Errorf("expected 429 under override limit 1, got %d", rec.Code)
	}

	// Usage reflects the override.
	rec = doJSON(t, handler, http.MethodGet, "/v1/admin/usage/acct-free", "", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("get usage: expected 200, got %d", rec.Code)
	}
	var usage struct {
		Used      int64  `json:"used"`
		Remaining *int64 `json:"remaining"`
	}
	json.Unmarshal(rec.Body.Bytes(), &usage)
	if usage.Used != 1 || usage.Remaining == nil || *usage.Remaining != 0 {
		t.Errorf("unexpected usage: %+v", usage)
	}

	// Reset restores the full limit for the period.
	rec = doJSON(t, handler, http.MethodPost, "/v1/admin/usage/acct-free/reset", "",
		map[string]string{"X-Actor": "alice"})
	if rec.Code != http.StatusNoContent {
		t.Fatalf("reset: expected 204, got %d", rec.Code)
	}
	if rec := doJSON(t, handler, http.MethodPost, "/v1/quota/check", `{"accountId":"acct-free"}`, nil); rec.Code != http.StatusOK {
		t.Errorf("expected 200 after reset, got %d", rec.Code)
	}

	// Clear the override; the tier default (2) applies again.
	rec = doJSON(t, handler, http.MethodDelete, "/v1/admin/limits/acct-free", "",
		map[string]string{"X-Actor": "alice"})
	if rec.Code != http.StatusNoContent {
		t.Fatalf("clear limit: expected 204, got %d", rec.Code)
	}

	// Every mutation above is in the audit trail, newest first.
	rec = doJSON(t, handler, http.MethodGet, "/v1/admin/audit?account=acct-free", "", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("audit: expected 200, got %d", rec.Code)
	}
	var records []quota.AuditRecord
	if err := json.Unmarshal(rec.Body.Bytes(), &records); err != nil {
		t.Fatalf("failed to decode audit response: %v", err)
	}
	if len(records) != 3 {
		t.Fatalf("expected 3 audit records, got %d", len(records))
	}
	if records[0].Action != "clear_limit" || records[0].Actor != "alice" {
		t.Errorf("unexpected newest audit record: %+v", records[0])
	}
}

func TestHandleSetLimit_RejectsNegative(t *testing.T) {
	handler, _ := newTestServer(t, nil)

	rec := doJSON(t, handler, http.MethodPut, "/v1/admin/limits/acct-free", `{"limit":-3}`, nil)
	if rec.Code != http.StatusBadRequest {
		t.Errorf("expected 400 for negative limit, got %d", rec.Code)
	}
}

func TestHandleSetLimit_Unlimited(t *testing.T) {
	handler, _ := newTestServer(t, nil)

	rec := doJSON(t, handler, http.MethodPut, "/v1/admin/limits/acct-free", `{"limit":"unlimited"}`, nil)
	if rec.Code != http.StatusNoContent {
		t.Fatalf("expected 204, got %d: %s", rec.Code, rec.Body)
	}

	// Exceed the old tier default; the override makes it irrelevant.
	for i := 0; i < 5; i++ {
		if rec := doJSON(t, handler, http.MethodPost, "/v1/quota/check", `{"accountId":"acct-free"}`, nil); rec.Code != http.StatusOK {
			t.Fatalf("check %d: expected 200 under unlimited override, got %d", i, rec.Code)
		}
	}
}

func TestHandleHealth(t *testing.T) {
	handler, _ := newTestServer(t, nil)

	rec := doJSON(t, handler, http.MethodGet, "/healthz", "", nil)
	if rec.Code != http.StatusOK {
		t.Errorf("expected 200, got %d", rec.Code)
	}
}
