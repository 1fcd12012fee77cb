package domain

import (
	"regexp"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// ─── Boundary Request Types ─────────────────────────────────────────────────
// One typed request per exposed operation. Validate is called at the edge
// (HTTP, CLI) before any service runs.

var idPattern = regexp.MustCompile(`^[A-Za-z0-9][A-Za-z0-9._:-]{0,127}$`)

// ValidID reports whether id is an acceptable external identifier.
func ValidID(id string) bool { return idPattern.MatchString(id) }

func requireID(field, id string) error {
	if !ValidID(id) {
		return Validationf("%s %q is not a valid identifier", field, id)
	}
	return nil
}

// OrderCompleted is consumed from the order subsystem.
type OrderCompleted struct {
	OrderID     string          `json:"order_id"`
	AccountID   string          `json:"account_id"`
	AmountHT    decimal.Decimal `json:"amount_ht"`
	Currency    string          `json:"currency"`
	CompletedAt time.Time       `json:"completed_at"`
}

// Validate checks the event.
func (e OrderCompleted) Validate() error {
	if err := requireID("order_id", e.OrderID); err != nil {
		return err
	}
	if err := requireID("account_id", e.AccountID); err != nil {
		return err
	}
	if e.AmountHT.IsNegative() {
		return ErrNegativeAmount
	}
	if len(strings.TrimSpace(e.Currency)) != 3 {
		return Validationf("currency %q must be an ISO-4217 code", e.Currency)
	}
	if e.CompletedAt.IsZero() {
		return Validationf("completed_at is required")
	}
	return nil
}

// OrderCompletedResult summarises the synchronous order-completion pipeline.
type OrderCompletedResult struct {
	Award    AwardResult    `json:"award"`
	Referral *QualifyResult `json:"referral,omitempty"`
}

// UpsertAccountRequest carries account facts from the account subsystem.
type UpsertAccountRequest struct {
	AccountID string      `json:"account_id"`
	Kind      AccountKind `json:"account_kind"`
	CreatedAt time.Time   `json:"created_at"`
	Active    *bool       `json:"active,omitempty"`
}

// Validate checks the request.
func (r UpsertAccountRequest) Validate() error {
	if err := requireID("account_id", r.AccountID); err != nil {
		return err
	}
	if !r.Kind.Valid() {
		return Validationf("account_kind %q must be b2b or b2c", r.Kind)
	}
	return nil
}

// FreezeOrderRequest asks for the discount to be frozen on an order.
type FreezeOrderRequest struct {
	OrderID   string           `json:"order_id"`
	AccountID string           `json:"account_id"`
	AmountHT  *decimal.Decimal `json:"amount_ht,omitempty"`
	Currency  string           `json:"currency,omitempty"`
}

// Validate checks the request.
func (r FreezeOrderRequest) Validate() error {
	if err := requireID("order_id", r.OrderID); err != nil {
		return err
	}
	if err := requireID("account_id", r.AccountID); err != nil {
		return err
	}
	if r.AmountHT != nil && r.AmountHT.IsNegative() {
		return ErrNegativeAmount
	}
	return nil
}

// AwardPointsRequest credits points for a finalized order.
type AwardPointsRequest struct {
	OrderID   string          `json:"order_id"`
	AccountID string          `json:"account_id"`
	AmountHT  decimal.Decimal `json:"amount_ht"`
}

// Validate checks the request.
func (r AwardPointsRequest) Validate() error {
	if err := requireID("order_id", r.OrderID); err != nil {
		return err
	}
	if err := requireID("account_id", r.AccountID); err != nil {
		return err
	}
	if r.AmountHT.IsNegative() {
		return ErrNegativeAmount
	}
	return nil
}

// RedeemRewardRequest spends points on a reward.
type RedeemRewardRequest struct {
	AccountID string `json:"account_id"`
	RewardID  string `json:"reward_id"`
}

// Validate checks the request.
func (r RedeemRewardRequest) Validate() error {
	if err := requireID("account_id", r.AccountID); err != nil {
		return err
	}
	return requireID("reward_id", r.RewardID)
}

// AdjustPointsRequest records an admin correction.
type AdjustPointsRequest struct {
	AccountID string `json:"account_id"`
	Delta     int64  `json:"delta"`
	Note      string `json:"note"`
}

// Validate checks the request.
func (r AdjustPointsRequest) Validate() error {
	if err := requireID("account_id", r.AccountID); err != nil {
		return err
	}
	if r.Delta == 0 {
		return Validationf("delta must be non-zero")
	}
	if strings.TrimSpace(r.Note) == "" {
		return Validationf("note is required for adjustments")
	}
	return nil
}

// AttributeReferralRequest records a signup with a referral code.
type AttributeReferralRequest struct {
	Code         string `json:"code"`
	NewAccountID string `json:"account_id"`
}

// Validate checks the request. The code format is checked by the attributor.
func (r AttributeReferralRequest) Validate() error {
	if strings.TrimSpace(r.Code) == "" {
		return ErrInvalidCode
	}
	return requireID("account_id", r.NewAccountID)
}

// QualifyReferralRequest qualifies a pending redemption.
type QualifyReferralRequest struct {
	RedemptionID string `json:"redemption_id"`
	OrderID      string `json:"order_id"`
}

// Validate checks the request.
func (r QualifyReferralRequest) Validate() error {
	if err := requireID("redemption_id", r.RedemptionID); err != nil {
		return err
	}
	return requireID("order_id", r.OrderID)
}

// SetTierRequest pins an account to a tier.
type SetTierRequest struct {
	AccountID string `json:"account_id"`
	TierKey   string `json:"tier_key"`
}

// Validate checks the request.
func (r SetTierRequest) Validate() error {
	if err := requireID("account_id", r.AccountID); err != nil {
		return err
	}
	if strings.TrimSpace(r.TierKey) == "" {
		return Validationf("tier_key is required")
	}
	return nil
}

// SetOverrideRequest sets a negotiated discount for an account.
type SetOverrideRequest struct {
	AccountID   string           `json:"account_id"`
	DiscountPct decimal.Decimal  `json:"discount_pct"`
	SpendLimit  *decimal.Decimal `json:"spend_limit,omitempty"`
}

// Validate checks the request.
func (r SetOverrideRequest) Validate() error {
	if err := requireID("account_id", r.AccountID); err != nil {
		return err
	}
	if r.DiscountPct.IsNegative() || r.DiscountPct.GreaterThan(hundred) {
		return Validationf("discount_pct %s outside [0, 100]", r.DiscountPct)
	}
	if r.SpendLimit != nil && r.SpendLimit.IsNegative() {
		return Validationf("spend_limit must not be negative")
	}
	return nil
}

// TierSnapshotRow is the admin display row of GetTierSnapshot.
type TierSnapshotRow struct {
	AccountID string          `json:"account_id"`
	TierKey   string          `json:"tier_key"`
	RankPct   decimal.Decimal `json:"rank_pct"`
}
