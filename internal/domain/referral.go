package domain

import "time"

// ─── Referral Types ─────────────────────────────────────────────────────────

// ReferralCode is a shareable code owned by one account.
type ReferralCode struct {
	Code           string    `json:"code"`
	OwnerAccountID string    `json:"owner_account_id"`
	CreatedAt      time.Time `json:"created_at"`
}

// RedemptionStatus is the state of a referral redemption.
// Pending → Qualified and Pending → Rejected are the only transitions.
type RedemptionStatus string

const (
	RedemptionPending   RedemptionStatus = "pending"
	RedemptionQualified RedemptionStatus = "qualified"
	RedemptionRejected  RedemptionStatus = "rejected"
)

// Terminal reports whether no further transition is allowed.
func (s RedemptionStatus) Terminal() bool {
	return s == RedemptionQualified || s == RedemptionRejected
}

// ReferralRedemption records that ReferredAccountID signed up with Code.
type ReferralRedemption struct {
	ID                string           `json:"id"`
	Code              string           `json:"referral_code"`
	ReferrerAccountID string           `json:"referrer_account_id"`
	ReferredAccountID string           `json:"referred_account_id"`
	Status            RedemptionStatus `json:"status"`
	QualifyingOrderID *string          `json:"qualifying_order_id,omitempty"`
	RejectReason      string           `json:"reject_reason,omitempty"`
	CreatedAt         time.Time        `json:"created_at"`
	UpdatedAt         time.Time        `json:"updated_at"`
}

// QualifyResult reports a successful qualification.
type QualifyResult struct {
	Redemption     ReferralRedemption `json:"redemption"`
	RewardPoints   int64              `json:"reward_points"`
	RewardRecorded bool               `json:"reward_recorded"`
}
