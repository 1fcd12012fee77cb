// Package domain contains pure business types with ZERO infrastructure imports.
// This is the innermost ring of the loyalty engine — it depends on nothing but
// the decimal type used for money and percentages.
package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// ─── Account Types ──────────────────────────────────────────────────────────

// AccountKind distinguishes business from consumer accounts.
type AccountKind string

const (
	AccountB2B AccountKind = "b2b"
	AccountB2C AccountKind = "b2c"
)

// Valid reports whether k is a known account kind.
func (k AccountKind) Valid() bool {
	return k == AccountB2B || k == AccountB2C
}

// TierSource records who set an account's tier.
type TierSource string

const (
	TierSourceNone     TierSource = ""
	TierSourceComputed TierSource = "computed"
	TierSourceAdmin    TierSource = "admin"
)

// Account is the engine's view of a customer account.
// The points balance is deliberately absent: it is always summed from the ledger.
type Account struct {
	ID               string           `json:"id"`
	CreatedAt        time.Time        `json:"created_at"`
	Kind             AccountKind      `json:"account_kind"`
	Active           bool             `json:"active"`
	AssignedTierKey  *string          `json:"assigned_tier_key,omitempty"`
	TierSource       TierSource       `json:"tier_source,omitempty"`
	DiscountOverride *decimal.Decimal `json:"custom_discount_override,omitempty"`
	SpendLimit       *decimal.Decimal `json:"custom_spend_limit,omitempty"`
	UpdatedAt        time.Time        `json:"updated_at"`
}

// HasAdminTier reports whether an administrator pinned the account's tier.
func (a Account) HasAdminTier() bool {
	return a.TierSource == TierSourceAdmin && a.AssignedTierKey != nil
}

// ─── Order Types ────────────────────────────────────────────────────────────

// OrderStatus is the lifecycle state of an order as seen by the engine.
type OrderStatus string

const (
	OrderStatusCreated   OrderStatus = "created"
	OrderStatusCompleted OrderStatus = "completed"
)

// Order is the external order entity. The engine writes AppliedDiscountPct and
// AppliedTierKey exactly once and never recomputes them.
type Order struct {
	ID                 string           `json:"id"`
	AccountID          string           `json:"account_id"`
	AmountHT           decimal.Decimal  `json:"amount_ht"`
	Currency           string           `json:"currency"`
	Status             OrderStatus      `json:"status"`
	CreatedAt          time.Time        `json:"created_at"`
	CompletedAt        *time.Time       `json:"completed_at,omitempty"`
	AppliedDiscountPct *decimal.Decimal `json:"applied_discount_pct,omitempty"`
	AppliedTierKey     *string          `json:"applied_tier_key,omitempty"`
	AppliedSource      DiscountSource   `json:"applied_source,omitempty"`
	FrozenAt           *time.Time       `json:"frozen_at,omitempty"`
}

// Frozen reports whether a discount was already recorded on the order.
func (o Order) Frozen() bool {
	return o.AppliedDiscountPct != nil
}

// ─── Discount Types ─────────────────────────────────────────────────────────

// DiscountSource names the precedence rule that produced a discount.
type DiscountSource string

const (
	DiscountFromOverride DiscountSource = "override"
	DiscountFromTier     DiscountSource = "tier"
)

// DiscountQuote is the resolved discount for an account at a point in time.
type DiscountQuote struct {
	AccountID   string          `json:"account_id"`
	DiscountPct decimal.Decimal `json:"discount_pct"`
	TierKey     string          `json:"tier_key"`
	Source      DiscountSource  `json:"source"`
	// SnapshotVersion is the spend snapshot consulted for the override limit (0 = none).
	SnapshotVersion int64 `json:"snapshot_version"`
}

// ─── Snapshot Types ─────────────────────────────────────────────────────────

// SpendEntry is one account's trailing spend inside a snapshot.
type SpendEntry struct {
	AccountID string          `json:"account_id"`
	Spend     decimal.Decimal `json:"trailing_spend"`
}

// SpendSnapshot is a versioned, point-in-time map of trailing spend.
type SpendSnapshot struct {
	Version     int64        `json:"version"`
	StartedAt   time.Time    `json:"started_at"`
	ComputedAt  time.Time    `json:"computed_at"`
	WindowStart time.Time    `json:"window_start"`
	WindowEnd   time.Time    `json:"window_end"`
	Entries     []SpendEntry `json:"entries,omitempty"`
}

// TierSnapshotEntry is one account's computed rank and tier.
type TierSnapshotEntry struct {
	AccountID string          `json:"account_id"`
	TierKey   string          `json:"tier_key"`
	Rank      int             `json:"rank"`
	RankPct   decimal.Decimal `json:"rank_pct"`
	Spend     decimal.Decimal `json:"trailing_spend"`
}

// TierSnapshot is the output of one tier resolution run.
type TierSnapshot struct {
	Version      int64               `json:"version"`
	SpendVersion int64               `json:"spend_version"`
	StartedAt    time.Time           `json:"started_at"`
	ComputedAt   time.Time           `json:"computed_at"`
	Entries      []TierSnapshotEntry `json:"entries"`
}
