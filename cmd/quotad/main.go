// Quotad enforces per-account usage quotas for metered AI generation calls.
//
// It answers one question atomically: may this account consume one unit of
// this metered resource right now? Limits are configurable per account, tier,
// or globally, with daily or lifetime metering periods.
//
// Usage:
//
//	# Start the quota server with default configuration
//	quotad run
//
//	# Start with a custom configuration file
//	quotad run --config /etc/quotad/config.yaml
//
//	# One-shot quota check against the configured store
//	quotad check --account acct-123
//
//	# Administrative operations
//	quotad limits set acct-123 unlimited --actor alice
//	quotad limits reset acct-123
//	quotad limits get acct-123
//	quotad limits audit
//
//	# Show version information
//	quotad version
package main

func main() {
	Execute()
}
