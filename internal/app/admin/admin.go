// Package admin gates destructive administrative actions behind an explicit
// confirmation. Nothing here knows about terminals or HTTP: the caller
// supplies a domain.Confirmer.
package admin

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/tutu-network/loyalty/internal/domain"
)

// Engine is the subset of the engine the admin service drives.
type Engine interface {
	GetAccount(ctx context.Context, accountID string) (domain.Account, error)
	SetAccountTier(ctx context.Context, req domain.SetTierRequest) (domain.Account, error)
	ClearAccountTier(ctx context.Context, accountID string) (domain.Account, error)
	SetDiscountOverride(ctx context.Context, req domain.SetOverrideRequest) (domain.Account, error)
	ClearDiscountOverride(ctx context.Context, accountID string) (domain.Account, error)
	RejectReferral(ctx context.Context, redemptionID, reason string) (domain.ReferralRedemption, error)
	AdjustPoints(ctx context.Context, req domain.AdjustPointsRequest) (domain.LedgerEntry, error)
}

// Action names.
const (
	ActionSetTier        = "set-tier"
	ActionClearTier      = "clear-tier"
	ActionSetOverride    = "set-override"
	ActionClearOverride  = "clear-override"
	ActionRejectReferral = "reject-referral"
	ActionAdjustPoints   = "adjust-points"
)

// Service runs admin actions after confirmation.
type Service struct {
	engine Engine
	log    *slog.Logger
}

// New creates an admin service.
func New(engine Engine, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{engine: engine, log: logger.With("component", "admin")}
}

func (s *Service) confirm(ctx context.Context, c domain.Confirmer, a domain.Action) (domain.Outcome, error) {
	if c == nil {
		return domain.Outcome{}, fmt.Errorf("%w: no confirmer for %s", domain.ErrCancelled, a.Name)
	}
	out, err := c.Confirm(ctx, a)
	if err != nil {
		s.log.Info("admin action cancelled", "action", a.Name, "account_id", a.AccountID, "target", a.Target)
		return domain.Outcome{}, fmt.Errorf("%s: %w", a.Name, err)
	}
	if !out.Confirmed {
		s.log.Info("admin action declined", "action", a.Name, "account_id", a.AccountID, "target", a.Target)
		return domain.Outcome{}, fmt.Errorf("%s: %w", a.Name, domain.ErrCancelled)
	}
	return out, nil
}

func (s *Service) audit(a domain.Action, out domain.Outcome) {
	s.log.Info("admin action applied",
		"action", a.Name, "account_id", a.AccountID, "target", a.Target, "by", out.By)
}

// SetTier pins an account to a tier.
func (s *Service) SetTier(ctx context.Context, c domain.Confirmer, req domain.SetTierRequest) (domain.Account, error) {
	if err := req.Validate(); err != nil {
		return domain.Account{}, err
	}
	cur, err := s.engine.GetAccount(ctx, req.AccountID)
	if err != nil {
		return domain.Account{}, err
	}
	a := domain.Action{
		Name:      ActionSetTier,
		AccountID: req.AccountID,
		Target:    req.TierKey,
		Detail:    fmt.Sprintf("pin %s to tier %s (currently %s)", req.AccountID, req.TierKey, tierLabel(cur)),
	}
	out, err := s.confirm(ctx, c, a)
	if err != nil {
		return domain.Account{}, err
	}
	acc, err := s.engine.SetAccountTier(ctx, req)
	if err != nil {
		return domain.Account{}, err
	}
	s.audit(a, out)
	return acc, nil
}

// ClearTier removes an admin tier pin.
func (s *Service) ClearTier(ctx context.Context, c domain.Confirmer, accountID string) (domain.Account, error) {
	cur, err := s.engine.GetAccount(ctx, accountID)
	if err != nil {
		return domain.Account{}, err
	}
	a := domain.Action{
		Name:      ActionClearTier,
		AccountID: accountID,
		Detail:    fmt.Sprintf("remove the %s tier pin from %s", tierLabel(cur), accountID),
	}
	out, err := s.confirm(ctx, c, a)
	if err != nil {
		return domain.Account{}, err
	}
	acc, err := s.engine.ClearAccountTier(ctx, accountID)
	if err != nil {
		return domain.Account{}, err
	}
	s.audit(a, out)
	return acc, nil
}

// SetOverride stores a negotiated discount.
func (s *Service) SetOverride(ctx context.Context, c domain.Confirmer, req domain.SetOverrideRequest) (domain.Account, error) {
	if err := req.Validate(); err != nil {
		return domain.Account{}, err
	}
	limit := "no spend limit"
	if req.SpendLimit != nil {
		limit = "spend limit " + req.SpendLimit.String()
	}
	a := domain.Action{
		Name:      ActionSetOverride,
		AccountID: req.AccountID,
		Target:    req.DiscountPct.String(),
		Detail:    fmt.Sprintf("give %s a %s%% discount, %s", req.AccountID, req.DiscountPct, limit),
	}
	out, err := s.confirm(ctx, c, a)
	if err != nil {
		return domain.Account{}, err
	}
	acc, err := s.engine.SetDiscountOverride(ctx, req)
	if err != nil {
		return domain.Account{}, err
	}
	s.audit(a, out)
	return acc, nil
}

// ClearOverride removes a negotiated discount.
func (s *Service) ClearOverride(ctx context.Context, c domain.Confirmer, accountID string) (domain.Account, error) {
	if _, err := s.engine.GetAccount(ctx, accountID); err != nil {
		return domain.Account{}, err
	}
	a := domain.Action{
		Name:      ActionClearOverride,
		AccountID: accountID,
		Detail:    fmt.Sprintf("remove the negotiated discount of %s", accountID),
	}
	out, err := s.confirm(ctx, c, a)
	if err != nil {
		return domain.Account{}, err
	}
	acc, err := s.engine.ClearDiscountOverride(ctx, accountID)
	if err != nil {
		return domain.Account{}, err
	}
	s.audit(a, out)
	return acc, nil
}

// RejectReferral rejects a pending referral redemption.
func (s *Service) RejectReferral(ctx context.Context, c domain.Confirmer, redemptionID, reason string) (domain.ReferralRedemption, error) {
	if !domain.ValidID(redemptionID) {
		return domain.ReferralRedemption{}, domain.Validationf("redemption_id %q is not a valid identifier", redemptionID)
	}
	a := domain.Action{
		Name:   ActionRejectReferral,
		Target: redemptionID,
		Detail: fmt.Sprintf("reject referral redemption %s: %s", redemptionID, reason),
	}
	out, err := s.confirm(ctx, c, a)
	if err != nil {
		return domain.ReferralRedemption{}, err
	}
	r, err := s.engine.RejectReferral(ctx, redemptionID, reason)
	if err != nil {
		return domain.ReferralRedemption{}, err
	}
	s.audit(a, out)
	return r, nil
}

// AdjustPoints records a correction. Only negative adjustments need
// confirmation.
func (s *Service) AdjustPoints(ctx context.Context, c domain.Confirmer, req domain.AdjustPointsRequest) (domain.LedgerEntry, error) {
	if err := req.Validate(); err != nil {
		return domain.LedgerEntry{}, err
	}
	a := domain.Action{
		Name:      ActionAdjustPoints,
		AccountID: req.AccountID,
		Target:    fmt.Sprintf("%+d", req.Delta),
		Detail:    fmt.Sprintf("adjust %s by %+d points: %s", req.AccountID, req.Delta, req.Note),
	}
	out := domain.Outcome{Confirmed: true}
	if req.Delta < 0 {
		var err error
		if out, err = s.confirm(ctx, c, a); err != nil {
			return domain.LedgerEntry{}, err
		}
	}
	entry, err := s.engine.AdjustPoints(ctx, req)
	if err != nil {
		return domain.LedgerEntry{}, err
	}
	s.audit(a, out)
	return entry, nil
}

func tierLabel(a domain.Account) string {
	if a.AssignedTierKey == nil {
		return "unassigned"
	}
	if a.TierSource == domain.TierSourceAdmin {
		return *a.AssignedTierKey + " (admin)"
	}
	return *a.AssignedTierKey
}
