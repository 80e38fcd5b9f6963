package server

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/noteflow-ai/quotad/pkg/quota"
)

// releaseTimeout bounds the background release call. Release is fire and
// forget relative to the caller's response path.
const releaseTimeout = 10 * time.Second

type checkRequest struct {
	AccountID   string `json:"accountId"`
	ResourceKey string `json:"resourceKey"`
}

type checkResponse struct {
	Allowed   bool         `json:"allowed"`
	Remaining *int64       `json:"remaining"`
	Limit     *quota.Limit `json:"limit"`
	ResetAt   *time.Time   `json:"resetAt"`
	Code      string       `json:"code"`
}

type releaseRequest struct {
	AccountID string `json:"accountId"`
	PeriodKey string `json:"periodKey"`
}

type setLimitRequest struct {
	Limit quota.Limit `json:"limit"`
}

type resetUsageRequest struct {
	PeriodKey string `json:"periodKey"`
}

type errorResponse struct {
	Error string `json:"error"`
	Code  string `json:"code,omitempty"`
}

// handleCheck runs one quota check and reserves a unit when allowed.
func (s *Server) handleCheck(w http.ResponseWriter, r *http.Request) {
	var req checkRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body", "")
		return
	}
	if req.AccountID == "" {
		writeError(w, http.StatusBadRequest, "accountId is required", "")
		return
	}

	decision, err := s.guard.TryConsume(r.Context(), req.AccountID, req.ResourceKey)
	if err != nil {
		switch {
		case errors.Is(err, quota.ErrStoreUnavailable):
			writeJSON(w, http.StatusServiceUnavailable, decisionResponse(decision))
		case errors.Is(err, quota.ErrInvalidAccount):
			writeError(w, http.StatusNotFound, err.Error(), "")
		default:
			writeError(w, http.StatusInternalServerError, "quota check failed", "")
		}
		return
	}

	if !decision.Allowed {
		if !decision.ResetAt.IsZero() {
			retryAfter := int(time.Until(decision.ResetAt).Seconds())
			if retryAfter < 1 {
				retryAfter = 1
			}
			w.Header().Set("Retry-After", strconv.Itoa(retryAfter))
		}
		writeJSON(w, http.StatusTooManyRequests, decisionResponse(decision))
		return
	}

	writeJSON(w, http.StatusOK, decisionResponse(decision))
}

// handleRelease returns a reserved unit after a failed protected operation.
// The decrement runs off the request path; the caller gets 202 immediately.
func (s *Server) handleRelease(w http.ResponseWriter, r *http.Request) {
	var req releaseRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body", "")
		return
	}
	if req.AccountID == "" {
		writeError(w, http.StatusBadRequest, "accountId is required", "")
		return
	}

	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), releaseTimeout)
		defer cancel()
		s.guard.Release(ctx, req.AccountID, req.PeriodKey)
	}()

	w.WriteHeader(http.StatusAccepted)
}

// handleGetUsage reports an account's standing within the current period.
func (s *Server) handleGetUsage(w http.ResponseWriter, r *http.Request) {
	usage, err := s.admin.GetUsage(r.Context(), r.PathValue("account"))
	if err != nil {
		writeAdminError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, usage)
}

// handleResetUsage zeroes the named (or current) period's counter.
func (s *Server) handleResetUsage(w http.ResponseWriter, r *http.Request) {
	var req resetUsageRequest
	if r.ContentLength > 0 {
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, http.StatusBadRequest, "invalid request body", "")
			return
		}
	}

	err := s.admin.ResetUsage(r.Context(), actor(r), r.PathValue("account"), req.PeriodKey)
	if err != nil {
		writeAdminError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// handleSetLimit upserts a per-account limit override.
func (s *Server) handleSetLimit(w http.ResponseWriter, r *http.Request) {
	var req setLimitRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body", "")
		return
	}

	err := s.admin.SetLimit(r.Context(), actor(r), r.PathValue("account"), req.Limit)
	if err != nil {
		writeAdminError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// handleClearLimit removes a per-account limit override.
func (s *Server) handleClearLimit(w http.ResponseWriter, r *http.Request) {
	err := s.admin.ClearLimit(r.Context(), actor(r), r.PathValue("account"))
	if err != nil {
		writeAdminError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// handleAudit lists recent administrative mutations, newest first.
func (s *Server) handleAudit(w http.ResponseWriter, r *http.Request) {
	n := 100
	if v := r.URL.Query().Get("limit"); v != "" {
		parsed, err := strconv.Atoi(v)
		if err != nil || parsed < 1 {
			writeError(w, http.StatusBadRequest, "invalid limit parameter", "")
			return
		}
		n = parsed
	}

	records, err := s.admin.Audit(r.Context(), r.URL.Query().Get("account"), n)
	if err != nil {
		writeAdminError(w, err)
		return
	}
	if records == nil {
		records = []quota.AuditRecord{}
	}
	writeJSON(w, http.StatusOK, records)
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// actor identifies the operator for the audit trail. Authentication is the
// platform's concern; the engine records whatever principal the gateway
// forwarded.
func actor(r *http.Request) string {
	if a := r.Header.Get("X-Actor"); a != "" {
		return a
	}
	return "api"
}

func decisionResponse(d quota.Decision) checkResponse {
	resp := checkResponse{
		Allowed: d.Allowed,
		Code:    string(d.Code),
	}
	if d.Code != quota.CodeStoreUnavailable {
		limit := d.Limit
		resp.Limit = &limit
	}
	if d.Allowed && !d.Limit.IsUnlimited() {
		remaining := d.Remaining
		resp.Remaining = &remaining
	}
	if !d.ResetAt.IsZero() {
		resetAt := d.ResetAt
		resp.ResetAt = &resetAt
	}
	return resp
}

func writeAdminError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, quota.ErrInvalidLimit):
		writeError(w, http.StatusBadRequest, err.Error(), "")
	case errors.Is(err, quota.ErrInvalidAccount):
		writeError(w, http.StatusNotFound, err.Error(), "")
	case errors.Is(err, quota.ErrStoreUnavailable):
		writeError(w, http.StatusServiceUnavailable, err.Error(), string(quota.CodeStoreUnavailable))
	default:
		writeError(w, http.StatusInternalServerError, err.Error(), "")
	}
}

func writeError(w http.ResponseWriter, status int, msg, code string) {
	writeJSON(w, status, errorResponse{Error: msg, Code: code})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}
