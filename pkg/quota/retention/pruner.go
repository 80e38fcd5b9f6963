package retention

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/noteflow-ai/quotad/pkg/quota"
)

// Pruner deletes counter rows whose period ended more than the retention
// window ago.
type Pruner struct {
	store  quota.Store
	clock  *quota.Clock
	config Config
	logger *slog.Logger
}

// Config controls retention behavior.
type Config struct {
	// Enabled turns pruning on.
	Enabled bool

	// Days is the number of past daily periods to retain. Rows with older
	// period keys are deleted. Default: 90.
	Days int

	// Schedule is the cron expression for automatic pruning runs.
	// Default: "0 3 * * *" (daily at 3 AM).
	Schedule string
}

// NewPruner creates a Pruner.
func NewPruner(store quota.Store, clock *quota.Clock, cfg Config, logger *slog.Logger) *Pruner {
	if cfg.Days <= 0 {
		cfg.Days = 90
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Pruner{
		store:  store,
		clock:  clock,
		config: cfg,
		logger: logger.With("component", "quota.retention"),
	}
}

// Run prunes once and returns the number of rows deleted. Lifetime
// granularity has a single permanent period, so there is nothing to prune.
func (p *Pruner) Run(ctx context.Context) (int, error) {
	if p.clock.Granularity() != quota.GranularityDaily {
		return 0, nil
	}

	cutoff := quota.DailyKey(p.clock.Now().AddDate(0, 0, -p.config.Days))
	deleted, err := p.store.PruneCounters(ctx, cutoff)
	if err != nil {
		return 0, fmt.Errorf("pruning counters before %s: %w", cutoff, err)
	}

	if deleted > 0 {
		p.logger.Info("pruned expired counters",
			"deleted", deleted,
			"cutoff", cutoff,
			"retention_days", p.config.Days,
		)
	}
	return deleted, nil
}

// Cutoff returns the oldest period key that Run would retain right now.
func (p *Pruner) Cutoff() string {
	return quota.DailyKey(p.clock.Now().AddDate(0, 0, -p.config.Days))
}
