package admin

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/google/uuid"

	"github.com/noteflow-ai/quotad/pkg/quota"
)

// Audit action names.
const (
	ActionSetLimit   = "set_limit"
	ActionClearLimit = "clear_limit"
	ActionResetUsage = "reset_usage"
)

// Usage reports an account's standing within the current period.
type Usage struct {
	AccountID string      `json:"accountId"`
	Limit     quota.Limit `json:"limit"`
	Used      int64       `json:"used"`
	Remaining *int64      `json:"remaining"`
	PeriodKey string      `json:"periodKey"`
}

// Service implements the administrative operations. All mutations are
// idempotent and audited.
type Service struct {
	store    quota.Store
	resolver *quota.Resolver
	clock    *quota.Clock
	logger   *slog.Logger
}

// NewService creates an admin Service.
func NewService(store quota.Store, resolver *quota.Resolver, clock *quota.Clock, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{
		store:    store,
		resolver: resolver,
		clock:    clock,
		logger:   logger.With("component", "quota.admin"),
	}
}

// SetLimit upserts a per-account limit override. Malformed limits (negative
// counts) are rejected here so they never reach enforcement. The override
// applies from the next quota check.
func (s *Service) SetLimit(ctx context.Context, actor, accountID string, limit quota.Limit) error {
	if accountID == "" {
		return fmt.Errorf("%w: empty account id", quota.ErrInvalidAccount)
	}
	if err := limit.Validate(); err != nil {
		return err
	}

	if err := s.store.SetOverride(ctx, accountID, limit); err != nil {
		return fmt.Errorf("%w: %v", quota.ErrStoreUnavailable, err)
	}

	s.audit(ctx, actor, ActionSetLimit, accountID, "limit="+limit.String())
	return nil
}

// ClearLimit removes a per-account override so the account falls back to its
// tier or global default. No-op if no override exists.
func (s *Service) ClearLimit(ctx context.Context, actor, accountID string) error {
	if accountID == "" {
		return fmt.Errorf("%w: empty account id", quota.ErrInvalidAccount)
	}

	if err := s.store.ClearOverride(ctx, accountID); err != nil {
		return fmt.Errorf("%w: %v", quota.ErrStoreUnavailable, err)
	}

	s.audit(ctx, actor, ActionClearLimit, accountID, "")
	return nil
}

// ResetUsage sets the counter for the named period back to zero. An empty
// periodKey means the current period. The period key itself is unchanged, so
// the reset does not disturb the rollover schedule.
func (s *Service) ResetUsage(ctx context.Context, actor, accountID, periodKey string) error {
	if accountID == "" {
		return fmt.Errorf("%w: empty account id", quota.ErrInvalidAccount)
	}
	if periodKey == "" {
		periodKey = s.clock.PeriodKey()
	}

	if err := s.store.ResetCounter(ctx, accountID, periodKey); err != nil {
		return fmt.Errorf("%w: %v", quota.ErrStoreUnavailable, err)
	}

	s.audit(ctx, actor, ActionResetUsage, accountID, "period_key="+periodKey)
	return nil
}

// GetUsage returns the account's effective limit and consumption for the
// current period. Remaining is nil for unlimited accounts.
func (s *Service) GetUsage(ctx context.Context, accountID string) (Usage, error) {
	limit, err := s.resolver.Resolve(ctx, accountID)
	if err != nil {
		return Usage{}, err
	}

	periodKey := s.clock.PeriodKey()
	used, err := s.store.Count(ctx, accountID, periodKey)
	if err != nil {
		return Usage{}, fmt.Errorf("%w: %v", quota.ErrStoreUnavailable, err)
	}

	usage := Usage{
		AccountID: accountID,
		Limit:     limit,
		Used:      used,
		PeriodKey: periodKey,
	}
	if !limit.IsUnlimited() {
		remaining := limit.Value() - used
		if remaining < 0 {
			remaining = 0
		}
		usage.Remaining = &remaining
	}
	return usage, nil
}

// Audit returns up to n most recent audit records, newest first, optionally
// filtered to one account.
func (s *Service) Audit(ctx context.Context, accountID string, n int) ([]quota.AuditRecord, error) {
	records, err := s.store.ListAudit(ctx, accountID, n)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", quota.ErrStoreUnavailable, err)
	}
	return records, nil
}

// audit records an administrative mutation. The mutation itself already
// succeeded, so a failure to persist the record is logged rather than
// unwound.
func (s *Service) audit(ctx context.Context, actor, action, accountID, detail string) {
	rec := quota.AuditRecord{
		ID:        uuid.New().String(),
		Actor:     actor,
		Action:    action,
		AccountID: accountID,
		Detail:    detail,
		CreatedAt: s.clock.Now(),
	}
	if err := s.store.AppendAudit(ctx, rec); err != nil {
		s.logger.Warn("failed to persist audit record",
			"action", action,
			"account_id", accountID,
			"actor", actor,
			"error", err,
		)
	}
	s.logger.Info("admin operation",
		"action", action,
		"account_id", accountID,
		"actor", actor,
		"detail", detail,
		"audit_id", rec.ID,
	)
}
