package quota

import "time"

// Metrics receives observations from the Guard. pkg/telemetry/metrics
// provides a Prometheus implementation; NopMetrics is used when telemetry is
// disabled.
type Metrics interface {
	// ObserveCheck records one quota check with its outcome and duration.
	ObserveCheck(code Code, d time.Duration)

	// ObserveRelease records one release attempt.
	ObserveRelease(ok bool)

	// ObserveStoreError records a counter store failure for the given
	// operation name.
	ObserveStoreError(op string)
}

type nopMetrics struct{}

func (nopMetrics) ObserveCheck(Code, time.Duration) {}
func (nopMetrics) ObserveRelease(bool)              {}
func (nopMetrics) ObserveStoreError(string)         {}

// NopMetrics returns a Metrics that discards all observations.
func NopMetrics() Metrics {
	return nopMetrics{}
}
