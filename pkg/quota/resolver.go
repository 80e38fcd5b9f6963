package quota

import (
	"context"
	"fmt"
	"sync"
)

// Directory resolves an account id to its tier. It is the boundary to the
// external auth collaborator that owns account creation; the engine never
// creates accounts, only references them.
type Directory interface {
	// Tier returns the tier name for an account. Unrecognized accounts
	// return ErrInvalidAccount.
	Tier(ctx context.Context, accountID string) (string, error)
}

// StaticDirectory is a Directory backed by a fixed account -> tier map,
// typically loaded from configuration. When Strict is false, unknown
// accounts fall back to DefaultTier instead of being rejected.
type StaticDirectory struct {
	accounts    map[string]string
	defaultTier string
	strict      bool
}

// NewStaticDirectory creates a StaticDirectory. accounts may be nil.
func NewStaticDirectory(accounts map[string]string, defaultTier string, strict bool) *StaticDirectory {
	return &StaticDirectory{
		accounts:    accounts,
		defaultTier: defaultTier,
		strict:      strict,
	}
}

// Tier implements Directory.
func (d *StaticDirectory) Tier(_ context.Context, accountID string) (string, error) {
	if accountID == "" {
		return "", fmt.Errorf("%w: empty account id", ErrInvalidAccount)
	}
	if tier, ok := d.accounts[accountID]; ok {
		return tier, nil
	}
	if d.strict {
		return "", fmt.Errorf("%w: %q", ErrInvalidAccount, accountID)
	}
	return d.defaultTier, nil
}

// Policy holds the tier-derived and global default limits. It is the
// data-not-code half of the business rule: which limit applies is policy,
// how it is enforced is the Guard.
type Policy struct {
	// Tiers maps tier names to their default limit. A premium tier is
	// typically mapped to Unlimited().
	Tiers map[string]Limit

	// Default applies when the account's tier has no entry in Tiers.
	Default Limit
}

// Validate rejects malformed tier or default limits.
func (p Policy) Validate() error {
	if err := p.Default.Validate(); err != nil {
		return fmt.Errorf("default limit: %w", err)
	}
	for tier, limit := range p.Tiers {
		if err := limit.Validate(); err != nil {
			return fmt.Errorf("tier %q: %w", tier, err)
		}
	}
	return nil
}

// Resolver computes the effective limit for an account. Resolution order:
// explicit per-account override, else tier default, else global default.
// Overrides are read fresh from the store on every call so administrative
// changes take effect on the next check without caching hazards.
type Resolver struct {
	overrides OverrideStore
	dir       Directory

	mu     sync.RWMutex
	policy Policy
}

// NewResolver creates a Resolver. overrides may be nil for deployments with
// no admin override path (resolution then starts at the tier default).
func NewResolver(overrides OverrideStore, dir Directory, policy Policy) *Resolver {
	return &Resolver{
		overrides: overrides,
		dir:       dir,
		policy:    policy,
	}
}

// SetPolicy swaps the tier/global defaults. Called on configuration hot
// reload; in-flight resolutions keep the policy they started with.
func (r *Resolver) SetPolicy(policy Policy) {
	r.mu.Lock()
	r.policy = policy
	r.mu.Unlock()
}

// Resolve returns the effective limit for an account.
func (r *Resolver) Resolve(ctx context.Context, accountID string) (Limit, error) {
	if r.overrides != nil {
		limit, ok, err := r.overrides.Override(ctx, accountID)
		if err != nil {
			return Limit{}, fmt.Errorf("%w: reading override: %v", ErrStoreUnavailable, err)
		}
		if ok {
			return limit, nil
		}
	}

	tier, err := r.dir.Tier(ctx, accountID)
	if err != nil {
		return Limit{}, err
	}

	r.mu.RLock()
	defer r.mu.RUnlock()
	if limit, ok := r.policy.Tiers[tier]; ok {
		return limit, nil
	}
	return r.policy.Default, nil
}
