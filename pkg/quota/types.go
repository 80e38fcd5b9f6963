package quota

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

// Code classifies the outcome of a quota check for the calling layer.
type Code string

const (
	// CodeOK indicates the reservation was granted.
	CodeOK Code = "OK"

	// CodeQuotaExceeded indicates the account is at its limit for the period.
	CodeQuotaExceeded Code = "QUOTA_EXCEEDED"

	// CodeStoreUnavailable indicates the counter store could not be reached.
	// The check fails closed: this is never reported as allowed.
	CodeStoreUnavailable Code = "STORE_UNAVAILABLE"
)

// Error types for quota enforcement.
var (
	// ErrStoreUnavailable is returned when the counter store cannot be
	// reached. Callers must treat this as a denial, never as an allow.
	ErrStoreUnavailable = errors.New("counter store unavailable")

	// ErrInvalidAccount is returned when the account id is not recognized
	// by the directory backing the limit resolver.
	ErrInvalidAccount = errors.New("unknown account")

	// ErrInvalidLimit is returned when a malformed limit (for example a
	// negative count) is rejected at configuration or admin write time.
	ErrInvalidLimit = errors.New("invalid limit")
)

// Limit is the effective quota for an account within one period. It is a
// tagged value: either a finite non-negative count or unlimited. Unlimited is
// a distinct variant, never a large sentinel integer, so unlimited accounts
// provably cannot be capped by coincidence.
type Limit struct {
	unlimited bool
	n         int64
}

// Limited returns a finite limit of n reservations per period.
func Limited(n int64) Limit {
	return Limit{n: n}
}

// Unlimited returns the unlimited limit. Accounts resolved to it bypass
// counter bookkeeping entirely.
func Unlimited() Limit {
	return Limit{unlimited: true}
}

// IsUnlimited reports whether the limit is the unlimited variant.
func (l Limit) IsUnlimited() bool {
	return l.unlimited
}

// Value returns the finite count. It is only meaningful when IsUnlimited
// reports false.
func (l Limit) Value() int64 {
	return l.n
}

// Validate rejects malformed limits before they reach enforcement.
func (l Limit) Validate() error {
	if !l.unlimited && l.n < 0 {
		return fmt.Errorf("%w: negative limit %d", ErrInvalidLimit, l.n)
	}
	return nil
}

// String returns the decimal count or "unlimited".
func (l Limit) String() string {
	if l.unlimited {
		return "unlimited"
	}
	return strconv.FormatInt(l.n, 10)
}

// ParseLimit parses "unlimited" or a non-negative decimal count.
func ParseLimit(s string) (Limit, error) {
	if s == "unlimited" {
		return Unlimited(), nil
	}
	n, err := strconv.ParseInt(s, 10, 64)
	if err != nil {
		return Limit{}, fmt.Errorf("%w: %q", ErrInvalidLimit, s)
	}
	l := Limited(n)
	if err := l.Validate(); err != nil {
		return Limit{}, err
	}
	return l, nil
}

// MarshalJSON encodes a finite limit as a number and unlimited as the string
// "unlimited", matching the wire contract of the quota check response.
func (l Limit) MarshalJSON() ([]byte, error) {
	if l.unlimited {
		return json.Marshal("unlimited")
	}
	return json.Marshal(l.n)
}

// UnmarshalJSON accepts a number or the string "unlimited".
func (l *Limit) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err == nil {
		parsed, err := ParseLimit(s)
		if err != nil {
			return err
		}
		*l = parsed
		return nil
	}
	var n int64
	if err := json.Unmarshal(data, &n); err != nil {
		return fmt.Errorf("%w: %s", ErrInvalidLimit, data)
	}
	*l = Limited(n)
	return l.Validate()
}

// UnmarshalYAML accepts a number or the string "unlimited", so configuration
// files can write tier defaults like `premium: unlimited`.
func (l *Limit) UnmarshalYAML(node *yaml.Node) error {
	var s string
	if err := node.Decode(&s); err == nil {
		parsed, err := ParseLimit(s)
		if err != nil {
			return err
		}
		*l = parsed
		return nil
	}
	var n int64
	if err := node.Decode(&n); err != nil {
		return fmt.Errorf("%w: %s", ErrInvalidLimit, node.Value)
	}
	*l = Limited(n)
	return l.Validate()
}

// Decision is the result of a quota check.
type Decision struct {
	// Allowed indicates whether one unit was reserved.
	Allowed bool `json:"allowed"`

	// Code classifies the outcome for the calling layer.
	Code Code `json:"code"`

	// Limit is the effective limit the check was evaluated against.
	Limit Limit `json:"limit"`

	// Remaining is the number of reservations left in the period. It is
	// meaningful only for allowed decisions against a finite limit;
	// unlimited decisions have no remaining count.
	Remaining int64 `json:"remaining"`

	// ResetAt is when the period rolls over and availability returns to
	// the full limit. Zero for lifetime metering (no automatic reset).
	ResetAt time.Time `json:"resetAt"`

	// PeriodKey identifies the period the reservation was charged to.
	// Callers pass it back to Release if the protected operation fails.
	PeriodKey string `json:"periodKey"`
}

// AuditRecord captures one administrative mutation (override or reset).
// Admin operations bypass normal metering, so every one is recorded with
// actor and timestamp.
type AuditRecord struct {
	ID        string    `json:"id"`
	Actor     string    `json:"actor"`
	Action    string    `json:"action"`
	AccountID string    `json:"accountId"`
	Detail    string    `json:"detail,omitempty"`
	CreatedAt time.Time `json:"createdAt"`
}

// CounterStore is the durable (account id, period key) -> count mapping.
// Implementations must be safe for concurrent use.
type CounterStore interface {
	// IncrementIfBelow atomically increments the counter for
	// (accountID, periodKey) by one and returns the new count, but only if
	// the current count is strictly less than limit. A missing row counts
	// as zero. The comparison and the increment must be one indivisible
	// operation against the store: a read-then-compare-then-write split
	// lets two racing callers both observe "under limit" and both proceed.
	// When the counter is already at the limit nothing is mutated and the
	// current count is returned with applied=false.
	IncrementIfBelow(ctx context.Context, accountID, periodKey string, limit int64) (count int64, applied bool, err error)

	// Decrement atomically decrements the counter by one, flooring at
	// zero. Used to release a reservation after a failed protected
	// operation.
	Decrement(ctx context.Context, accountID, periodKey string) error

	// Count returns the consumed count for (accountID, periodKey).
	// A missing row reads as zero.
	Count(ctx context.Context, accountID, periodKey string) (int64, error)

	// ResetCounter sets the counter for (accountID, periodKey) to zero.
	ResetCounter(ctx context.Context, accountID, periodKey string) error
}

// OverrideStore persists explicit per-account limit overrides.
type OverrideStore interface {
	// SetOverride upserts the override for an account. It takes effect on
	// the next check; in-flight reservations are unaffected.
	SetOverride(ctx context.Context, accountID string, limit Limit) error

	// Override returns the override for an account, with ok=false when no
	// override exists (meaning: use tier/global defaults).
	Override(ctx context.Context, accountID string) (limit Limit, ok bool, err error)

	// ClearOverride removes the override for an account. No-op if absent.
	ClearOverride(ctx context.Context, accountID string) error
}

// AuditStore persists the administrative audit trail.
type AuditStore interface {
	// AppendAudit records one administrative mutation.
	AppendAudit(ctx context.Context, rec AuditRecord) error

	// ListAudit returns up to n most recent records, newest first,
	// optionally filtered to one account (empty accountID means all).
	ListAudit(ctx context.Context, accountID string, n int) ([]AuditRecord, error)
}

// Store is the full persistence surface of the engine: counters, overrides,
// and the audit trail. pkg/quota/storage provides memory, SQLite, and Redis
// implementations.
type Store interface {
	CounterStore
	OverrideStore
	AuditStore

	// PruneCounters deletes counter rows whose period key sorts before the
	// cutoff (daily keys are ISO dates, so lexical order is time order).
	// The lifetime sentinel is never pruned. Returns rows deleted.
	PruneCounters(ctx context.Context, beforePeriodKey string) (int, error)

	// Close releases backend resources.
	Close() error
}
