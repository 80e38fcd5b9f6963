// Package retention prunes usage counter rows from expired periods.
//
// Counter rows become logically obsolete once the clock advances past their
// period key, but they are retained for a configurable window so operators
// can audit historical consumption. The Pruner deletes rows older than that
// window; the Scheduler runs it on a cron schedule (daily at 3 AM by
// default).
//
// Pruning only applies to daily granularity. Lifetime counters are the
// account's permanent record and are never pruned.
package retention
