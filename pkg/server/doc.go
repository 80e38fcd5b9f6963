// Package server exposes the quota engine over HTTP.
//
// Application endpoints:
//
//	POST /v1/quota/check    {accountId, resourceKey} -> decision
//	POST /v1/quota/release  {accountId, periodKey}   -> 202 Accepted
//
// A denied check returns 429 Too Many Requests with the limit and reset
// instant; an unreachable counter store returns 503 with code
// STORE_UNAVAILABLE (never a silent allow).
//
// Admin endpoints (out-of-band operator surface, X-Actor header feeds the
// audit trail):
//
//	GET    /v1/admin/usage/{account}
//	POST   /v1/admin/usage/{account}/reset
//	PUT    /v1/admin/limits/{account}
//	DELETE /v1/admin/limits/{account}
//	GET    /v1/admin/audit
//
// Plus /healthz and, when metrics are enabled, /metrics.
package server
