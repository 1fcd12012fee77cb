package observability

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// ─── Points Metrics ─────────────────────────────────────────────────────────

// PointsAwarded tracks points credited by accrual.
var PointsAwarded = promauto.NewCounter(prometheus.CounterOpts{
	Namespace: "loyalty",
	Subsystem: "points",
	Name:      "awarded_total",
	Help:      "Total points credited for completed orders.",
})

// PointsRedeemed tracks points spent on rewards.
var PointsRedeemed = promauto.NewCounter(prometheus.CounterOpts{
	Namespace: "loyalty",
	Subsystem: "points",
	Name:      "redeemed_total",
	Help:      "Total points debited by reward redemptions.",
})

// PointsDuplicates tracks accrual requests that were already recorded.
var PointsDuplicates = promauto.NewCounter(prometheus.CounterOpts{
	Namespace: "loyalty",
	Subsystem: "points",
	Name:      "duplicate_accruals_total",
	Help:      "Total accrual requests ignored as duplicates.",
})

// PointsRejected tracks redemptions refused for insufficient balance.
var PointsRejected = promauto.NewCounter(prometheus.CounterOpts{
	Namespace: "loyalty",
	Subsystem: "points",
	Name:      "insufficient_balance_total",
	Help:      "Total redemptions or adjustments refused for insufficient balance.",
})

// ─── Discount Metrics ───────────────────────────────────────────────────────

// DiscountResolutions tracks discount lookups by precedence source.
var DiscountResolutions = promauto.NewCounterVec(prometheus.CounterOpts{
	Namespace: "loyalty",
	Subsystem: "discount",
	Name:      "resolutions_total",
	Help:      "Total discount resolutions by source (override, tier).",
}, []string{"source"})

// OrdersFrozen tracks discounts written onto orders.
var OrdersFrozen = promauto.NewCounter(prometheus.CounterOpts{
	Namespace: "loyalty",
	Subsystem: "discount",
	Name:      "orders_frozen_total",
	Help:      "Total orders whose discount was frozen.",
})

// ─── Referral Metrics ───────────────────────────────────────────────────────

// ReferralTransitions tracks referral lifecycle events.
var ReferralTransitions = promauto.NewCounterVec(prometheus.CounterOpts{
	Namespace: "loyalty",
	Subsystem: "referral",
	Name:      "transitions_total",
	Help:      "Total referral transitions by resulting status.",
}, []string{"status"})

// ─── Job Metrics ────────────────────────────────────────────────────────────

// JobRuns tracks batch job runs by outcome.
var JobRuns = promauto.NewCounterVec(prometheus.CounterOpts{
	Namespace: "loyalty",
	Subsystem: "jobs",
	Name:      "runs_total",
	Help:      "Total batch job runs by job and status.",
}, []string{"job", "status"})

// JobDuration tracks batch job duration.
var JobDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
	Namespace: "loyalty",
	Subsystem: "jobs",
	Name:      "duration_seconds",
	Help:      "Batch job run duration in seconds.",
	Buckets:   []float64{0.01, 0.05, 0.1, 0.5, 1, 5, 15, 60},
}, []string{"job"})

// SnapshotVersion tracks the newest published snapshot version per kind.
var SnapshotVersion = promauto.NewGaugeVec(prometheus.GaugeOpts{
	Namespace: "loyalty",
	Subsystem: "snapshots",
	Name:      "version",
	Help:      "Newest published snapshot version (spend, tier).",
}, []string{"kind"})

// AccountsPerTier tracks how many accounts hold each tier.
var AccountsPerTier = promauto.NewGaugeVec(prometheus.GaugeOpts{
	Namespace: "loyalty",
	Subsystem: "tiers",
	Name:      "accounts",
	Help:      "Number of accounts assigned to each tier.",
}, []string{"tier"})

// ─── API Metrics ────────────────────────────────────────────────────────────

// APIRequests tracks HTTP requests by route pattern and status class.
var APIRequests = promauto.NewCounterVec(prometheus.CounterOpts{
	Namespace: "loyalty",
	Subsystem: "api",
	Name:      "requests_total",
	Help:      "Total API requests by route and status code.",
}, []string{"route", "code"})

// APIRateLimited tracks requests refused by the rate limiter.
var APIRateLimited = promauto.NewCounter(prometheus.CounterOpts{
	Namespace: "loyalty",
	Subsystem: "api",
	Name:      "rate_limited_total",
	Help:      "Total API requests refused by the rate limiter.",
})
