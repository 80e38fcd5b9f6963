// Package admin provides the out-of-band administrative surface of the
// quota engine: setting per-account limit overrides, resetting usage
// counters, and inspecting current usage.
//
// Administrative mutations bypass normal metering, so every one is recorded
// in the audit trail with the acting operator and a timestamp. Overrides
// take effect on the next quota check; an in-flight reservation is never
// retroactively re-evaluated.
package admin
