package quota

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"
)

// Guard makes the atomic allow/deny decision for one unit of a metered
// resource and reserves that unit when allowed.
//
// The reservation is charged up front, before the protected operation runs.
// If the protected operation then fails (including timeout or cancellation),
// the caller releases the reservation so transient failures do not
// permanently cost the account its quota.
type Guard struct {
	store    CounterStore
	resolver *Resolver
	clock    *Clock
	logger   *slog.Logger
	metrics  Metrics
}

// GuardConfig configures a Guard. Store, Resolver, and Clock are required;
// Logger and Metrics default to slog.Default and NopMetrics.
type GuardConfig struct {
	Store    CounterStore
	Resolver *Resolver
	Clock    *Clock
	Logger   *slog.Logger
	Metrics  Metrics
}

// NewGuard creates a Guard.
func NewGuard(cfg GuardConfig) *Guard {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	metrics := cfg.Metrics
	if metrics == nil {
		metrics = NopMetrics()
	}
	return &Guard{
		store:    cfg.Store,
		resolver: cfg.Resolver,
		clock:    cfg.Clock,
		logger:   logger.With("component", "quota.guard"),
		metrics:  metrics,
	}
}

// TryConsume decides whether accountID may consume one unit of resourceKey
// right now and, if so, reserves that unit.
//
// Exactly limit reservations are ever granted per (account, period)
// regardless of how many callers race: the check and the increment are one
// indivisible store operation, never a read-then-decide-then-write split.
//
// Outcomes:
//   - Allowed decision, nil error: one unit reserved.
//   - Denied decision with CodeQuotaExceeded, nil error: at limit, nothing
//     mutated. An expected business outcome, not a system error.
//   - Error wrapping ErrStoreUnavailable (decision CodeStoreUnavailable):
//     the store was unreachable. The check fails closed.
//   - Error wrapping ErrInvalidAccount: the resolver does not recognize the
//     account.
func (g *Guard) TryConsume(ctx context.Context, accountID, resourceKey string) (Decision, error) {
	start := time.Now()

	periodKey := g.clock.PeriodKey()
	resetAt := g.clock.NextReset()

	limit, err := g.resolver.Resolve(ctx, accountID)
	if err != nil {
		return g.failClosed(accountID, resourceKey, start, err)
	}

	// Unlimited accounts skip counter bookkeeping entirely: no row is
	// created, no race is possible.
	if limit.IsUnlimited() {
		d := Decision{
			Allowed:   true,
			Code:      CodeOK,
			Limit:     limit,
			ResetAt:   resetAt,
			PeriodKey: periodKey,
		}
		g.observeCheck(d.Code, start)
		return d, nil
	}

	count, applied, err := g.store.IncrementIfBelow(ctx, accountID, periodKey, limit.Value())
	if err != nil {
		g.metrics.ObserveStoreError("increment_if_below")
		return g.failClosed(accountID, resourceKey, start, fmt.Errorf("%w: %v", ErrStoreUnavailable, err))
	}

	if !applied {
		d := Decision{
			Allowed:   false,
			Code:      CodeQuotaExceeded,
			Limit:     limit,
			ResetAt:   resetAt,
			PeriodKey: periodKey,
		}
		g.logger.Info("quota exceeded",
			"account_id", accountID,
			"resource_key", resourceKey,
			"limit", limit.Value(),
			"period_key", periodKey,
		)
		g.observeCheck(d.Code, start)
		return d, nil
	}

	d := Decision{
		Allowed:   true,
		Code:      CodeOK,
		Limit:     limit,
		Remaining: limit.Value() - count,
		ResetAt:   resetAt,
		PeriodKey: periodKey,
	}
	g.observeCheck(d.Code, start)
	return d, nil
}

// Release returns one previously reserved unit after the protected operation
// failed. It is best-effort: the decrement floors at zero and failures are
// logged rather than retried, since the caller's response must not block on
// compensation.
func (g *Guard) Release(ctx context.Context, accountID, periodKey string) error {
	if periodKey == "" {
		periodKey = g.clock.PeriodKey()
	}
	if err := g.store.Decrement(ctx, accountID, periodKey); err != nil {
		g.metrics.ObserveRelease(false)
		g.metrics.ObserveStoreError("decrement")
		g.logger.Warn("release failed",
			"account_id", accountID,
			"period_key", periodKey,
			"error", err,
		)
		return fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}
	g.metrics.ObserveRelease(true)
	return nil
}

// failClosed turns a resolver or store failure into a denial. Silently
// bypassing the check on infrastructure failure would defeat the component,
// so an unreachable store is reported as a distinct error, never as allowed.
func (g *Guard) failClosed(accountID, resourceKey string, start time.Time, err error) (Decision, error) {
	d := Decision{Allowed: false}
	if errors.Is(err, ErrStoreUnavailable) {
		d.Code = CodeStoreUnavailable
		g.logger.Error("quota check failed closed",
			"account_id", accountID,
			"resource_key", resourceKey,
			"error", err,
		)
	}
	g.observeCheck(d.Code, start)
	return d, err
}

func (g *Guard) observeCheck(code Code, start time.Time) {
	g.metrics.ObserveCheck(code, time.Since(start))
}
