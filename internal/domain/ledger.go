package domain

import (
	"fmt"
	"time"
)

// ─── Points Ledger Types ────────────────────────────────────────────────────
// The ledger is append-only: balance is the sum of deltas, nothing else.

// EntryReason is the business reason for a ledger entry.
type EntryReason string

const (
	ReasonAccrual        EntryReason = "accrual"
	ReasonRedemption     EntryReason = "redemption"
	ReasonAdjustment     EntryReason = "adjustment"
	ReasonReferralReward EntryReason = "referral_reward"
)

// LedgerEntry is a single row in the points ledger.
type LedgerEntry struct {
	ID             string      `json:"id"`
	AccountID      string      `json:"account_id"`
	Delta          int64       `json:"delta"`
	Reason         EntryReason `json:"reason"`
	IdempotencyKey *string     `json:"idempotency_key,omitempty"`
	OrderID        string      `json:"order_id,omitempty"`
	RewardID       string      `json:"reward_id,omitempty"`
	Note           string      `json:"note,omitempty"`
	CreatedAt      time.Time   `json:"created_at"`
}

// AccrualKey is the idempotency key of an order's points accrual.
func AccrualKey(accountID, orderID string) string {
	return entryKey(ReasonAccrual, accountID, orderID)
}

// ReferralRewardKey is the idempotency key of a referrer's reward.
func ReferralRewardKey(referrerID, redemptionID string) string {
	return entryKey(ReasonReferralReward, referrerID, redemptionID)
}

// entryKey length-prefixes the account id: ids may contain ':' and
// ("a:b", "c") must not collide with ("a", "b:c").
func entryKey(reason EntryReason, accountID, ref string) string {
	return fmt.Sprintf("%s:%d:%s:%s", reason, len(accountID), accountID, ref)
}

// Reward is an item of the reward catalog redeemable for points.
type Reward struct {
	ID         string `json:"id"`
	Title      string `json:"title"`
	PointsCost int64  `json:"points_cost"`
	Active     bool   `json:"active"`
}

// AwardResult reports the outcome of an accrual.
type AwardResult struct {
	AccountID string `json:"account_id"`
	OrderID   string `json:"order_id"`
	Points    int64  `json:"points"`
	// Duplicate is true when the accrual had already been recorded.
	Duplicate bool  `json:"duplicate"`
	Balance   int64 `json:"balance"`
}
