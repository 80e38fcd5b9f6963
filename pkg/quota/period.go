package quota

import (
	"fmt"
	"time"
)

// Granularity selects how usage periods are bounded. It is configuration,
// not code: switching a deployment between daily and lifetime metering must
// not require re-deriving the algorithm.
type Granularity string

const (
	// GranularityDaily meters per UTC calendar day; availability returns
	// to the full limit at the next UTC midnight.
	GranularityDaily Granularity = "daily"

	// GranularityLifetime meters once per account, ever; quota never
	// replenishes automatically.
	GranularityLifetime Granularity = "lifetime"
)

// LifetimePeriodKey is the constant period key used for lifetime metering.
const LifetimePeriodKey = "lifetime"

// dailyKeyLayout formats daily period keys as UTC calendar dates. The layout
// sorts lexicographically in time order, which retention pruning relies on.
const dailyKeyLayout = "2006-01-02"

// ParseGranularity validates a configured granularity value.
func ParseGranularity(s string) (Granularity, error) {
	switch Granularity(s) {
	case GranularityDaily:
		return GranularityDaily, nil
	case GranularityLifetime:
		return GranularityLifetime, nil
	default:
		return "", fmt.Errorf("invalid granularity %q (want %q or %q)", s, GranularityDaily, GranularityLifetime)
	}
}

// Clock maps "now" to a period key and the next reset instant for a fixed
// granularity. The zero-cost sentinel for lifetime metering means a Clock is
// pure computation; it holds no mutable state.
type Clock struct {
	granularity Granularity
	now         func() time.Time
}

// NewClock creates a Clock for the given granularity using wall time.
func NewClock(g Granularity) *Clock {
	return NewClockAt(g, time.Now)
}

// NewClockAt creates a Clock with an injectable time source. Used by tests to
// simulate period rollover.
func NewClockAt(g Granularity, now func() time.Time) *Clock {
	if now == nil {
		now = time.Now
	}
	return &Clock{granularity: g, now: now}
}

// Granularity returns the clock's configured granularity.
func (c *Clock) Granularity() Granularity {
	return c.granularity
}

// Now returns the clock's current time in UTC.
func (c *Clock) Now() time.Time {
	return c.now().UTC()
}

// PeriodKey returns the key identifying the current usage period: the UTC
// calendar date for daily granularity, a constant sentinel for lifetime.
func (c *Clock) PeriodKey() string {
	if c.granularity == GranularityLifetime {
		return LifetimePeriodKey
	}
	return c.Now().Format(dailyKeyLayout)
}

// NextReset returns the instant the current period rolls over: the next UTC
// midnight for daily granularity. Lifetime metering never resets, reported as
// the zero time.
func (c *Clock) NextReset() time.Time {
	if c.granularity == GranularityLifetime {
		return time.Time{}
	}
	now := c.Now()
	return time.Date(now.Year(), now.Month(), now.Day()+1, 0, 0, 0, 0, time.UTC)
}

// DailyKey formats an arbitrary instant as a daily period key. Retention
// pruning uses it to compute cutoffs.
func DailyKey(t time.Time) string {
	return t.UTC().Format(dailyKeyLayout)
}
