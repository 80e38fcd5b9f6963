// Package quota implements per-account usage quota enforcement for metered
// resources.
//
// # Overview
//
// The package decides, atomically, whether an account may consume one unit of
// a metered resource (an AI generation call) right now. It supports:
//
//   - Configurable limits (finite or unlimited) per account, tier, or globally
//   - Daily or lifetime metering periods with implicit reset on rollover
//   - A reserve/release pattern so failed protected operations do not cost quota
//   - Administrative overrides and resets with an audit trail
//
// # Architecture
//
// The engine is composed of small parts, leaves first:
//
//   - Clock: maps "now" to a period key and the next reset instant
//   - Resolver: override > tier default > global default limit resolution
//   - CounterStore: durable (account, period) counters with one atomic
//     conditional-increment primitive (see pkg/quota/storage for backends)
//   - Guard: the allow/deny decision plus reservation and release
//
// # Correctness
//
// The single correctness-critical contract is the conditional increment:
// "increment the counter only if its current value is strictly below the
// limit" must be one indivisible store operation. The Guard never reads a
// count, compares it, and writes in separate steps, so at most limit
// reservations are ever granted per (account, period) no matter how many
// callers race. If the store is unreachable the Guard fails closed.
//
// # Usage
//
//	clock := quota.NewClock(quota.GranularityDaily)
//	resolver := quota.NewResolver(store, directory, policy)
//	guard := quota.NewGuard(quota.GuardConfig{
//	    Store:    store,
//	    Resolver: resolver,
//	    Clock:    clock,
//	})
//
//	decision, err := guard.TryConsume(ctx, accountID, "ai.summary")
//	if err != nil {
//	    return err // store unavailable or unknown account
//	}
//	if !decision.Allowed {
//	    return errTooManyRequests // surface 429 with decision.ResetAt
//	}
//	if err := generate(ctx); err != nil {
//	    guard.Release(ctx, accountID, decision.PeriodKey)
//	    return err
//	}
//
// # Thread Safety
//
// All types are safe for concurrent use. Per-account contention is resolved
// entirely inside the store's atomic primitive; the Guard holds no in-process
// lock across store I/O.
package quota
