// Package engine is the loyalty engine facade. It wires the services and is
// the single entry point for the HTTP API, the CLI and the order pipeline.
//
// Synchronous paths (discounts, points, referrals) only read committed
// snapshots. Batch paths (spend aggregation, tier resolution) run through the
// scheduler and never fail a synchronous call.
package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/tutu-network/loyalty/internal/app/discount"
	"github.com/tutu-network/loyalty/internal/app/points"
	"github.com/tutu-network/loyalty/internal/app/referral"
	"github.com/tutu-network/loyalty/internal/app/scheduler"
	"github.com/tutu-network/loyalty/internal/app/spend"
	"github.com/tutu-network/loyalty/internal/app/tiering"
	"github.com/tutu-network/loyalty/internal/domain"
	"github.com/tutu-network/loyalty/internal/infra/observability"
	"github.com/tutu-network/loyalty/internal/infra/sqlite"
)

// Config aggregates the service configurations.
type Config struct {
	Points        points.Config
	Referral      referral.Config
	Spend         spend.Config
	Tiers         tiering.Config
	Scheduler     scheduler.Config
	RunLog        observability.RunLogConfig
	SpendInterval time.Duration // 0 = manual only
	TierInterval  time.Duration // 0 = manual only
}

// DefaultConfig returns engine defaults.
func DefaultConfig() Config {
	return Config{
		Points:        points.DefaultConfig(),
		Referral:      referral.DefaultConfig(),
		Spend:         spend.DefaultConfig(),
		Tiers:         tiering.DefaultConfig(),
		Scheduler:     scheduler.DefaultConfig(),
		RunLog:        observability.DefaultRunLogConfig(),
		SpendInterval: time.Hour,
		TierInterval:  24 * time.Hour,
	}
}

// Engine is the loyalty engine.
type Engine struct {
	db        *sqlite.DB
	cfg       Config
	log       *slog.Logger
	discounts *discount.Calculator
	points    *points.Ledger
	referrals *referral.Attributor
	spend     *spend.Aggregator
	tiers     *tiering.Resolver
	sched     *scheduler.Scheduler
}

// New wires an engine on db.
func New(cfg Config, db *sqlite.DB, logger *slog.Logger) *Engine {
	if logger == nil {
		logger = slog.Default()
	}
	ledger := points.New(cfg.Points, db, logger)
	e := &Engine{
		db:        db,
		cfg:       cfg,
		log:       logger.With("component", "engine"),
		discounts: discount.New(db, logger),
		points:    ledger,
		referrals: referral.New(cfg.Referral, db, ledger, logger),
		spend:     spend.New(cfg.Spend, db, logger),
		tiers:     tiering.NewResolver(cfg.Tiers, db, logger),
		sched:     scheduler.New(cfg.Scheduler, observability.NewRunLog(cfg.RunLog), logger),
	}
	e.sched.Register(scheduler.Job{
		Name:     spend.JobName,
		Interval: cfg.SpendInterval,
		Run: func(ctx context.Context, now time.Time) (int64, error) {
			snap, err := e.spend.Run(ctx, now)
			if err != nil {
				return 0, err
			}
			return snap.Version, nil
		},
	})
	e.sched.Register(scheduler.Job{
		Name:     tiering.JobName,
		Interval: cfg.TierInterval,
		Run: func(ctx context.Context, now time.Time) (int64, error) {
			snap, err := e.tiers.Run(ctx, now)
			if err != nil {
				return 0, err
			}
			return snap.Version, nil
		},
	})
	return e
}

// Start launches the periodic batch jobs. They stop when ctx is cancelled.
func (e *Engine) Start(ctx context.Context) { e.sched.Start(ctx) }

// Wait blocks until the periodic jobs have stopped.
func (e *Engine) Wait() { e.sched.Wait() }

// ─── Discounts ──────────────────────────────────────────────────────────────

// ResolveDiscount returns the discount the account would receive now.
func (e *Engine) ResolveDiscount(ctx context.Context, accountID string) (domain.DiscountQuote, error) {
	if !domain.ValidID(accountID) {
		return domain.DiscountQuote{}, domain.Validationf("account_id %q is not a valid identifier", accountID)
	}
	return e.discounts.Resolve(ctx, accountID)
}

// FreezeOrderDiscount records the discount on an order once.
func (e *Engine) FreezeOrderDiscount(ctx context.Context, req domain.FreezeOrderRequest) (domain.DiscountQuote, error) {
	return e.discounts.Freeze(ctx, req)
}

// ─── Points ─────────────────────────────────────────────────────────────────

// AwardPoints credits an order's points exactly once.
func (e *Engine) AwardPoints(ctx context.Context, req domain.AwardPointsRequest) (domain.AwardResult, error) {
	return e.points.Award(ctx, req.OrderID, req.AccountID, req.AmountHT)
}

// RedeemReward spends points on a catalog reward.
func (e *Engine) RedeemReward(ctx context.Context, req domain.RedeemRewardRequest) (domain.LedgerEntry, error) {
	return e.points.Redeem(ctx, req.AccountID, req.RewardID)
}

// AdjustPoints records an administrative correction.
func (e *Engine) AdjustPoints(ctx context.Context, req domain.AdjustPointsRequest) (domain.LedgerEntry, error) {
	return e.points.Adjust(ctx, req.AccountID, req.Delta, req.Note)
}

// GetBalance returns the account's points balance.
func (e *Engine) GetBalance(ctx context.Context, accountID string) (int64, error) {
	if !domain.ValidID(accountID) {
		return 0, domain.Validationf("account_id %q is not a valid identifier", accountID)
	}
	return e.points.Balance(ctx, accountID)
}

// Entries returns the account's ledger history, newest first.
func (e *Engine) Entries(ctx context.Context, accountID string, limit int) ([]domain.LedgerEntry, error) {
	if !domain.ValidID(accountID) {
		return nil, domain.Validationf("account_id %q is not a valid identifier", accountID)
	}
	return e.points.Entries(ctx, accountID, limit)
}

// ─── Referrals ──────────────────────────────────────────────────────────────

// GenerateReferralCode returns the account's referral code.
func (e *Engine) GenerateReferralCode(ctx context.Context, accountID string) (domain.ReferralCode, error) {
	return e.referrals.GenerateCode(ctx, accountID)
}

// AttributeReferral records a signup made with a referral code.
func (e *Engine) AttributeReferral(ctx context.Context, req domain.AttributeReferralRequest) (domain.ReferralRedemption, error) {
	return e.referrals.Attribute(ctx, req.Code, req.NewAccountID)
}

// QualifyReferral qualifies a pending redemption and rewards the referrer.
func (e *Engine) QualifyReferral(ctx context.Context, req domain.QualifyReferralRequest) (domain.QualifyResult, error) {
	return e.referrals.Qualify(ctx, req.RedemptionID, req.OrderID)
}

// RejectReferral rejects a pending redemption.
func (e *Engine) RejectReferral(ctx context.Context, redemptionID, reason string) (domain.ReferralRedemption, error) {
	return e.referrals.Reject(ctx, redemptionID, reason)
}

// Redemptions lists the redemptions of the account's referral code.
func (e *Engine) Redemptions(ctx context.Context, referrerID string) ([]domain.ReferralRedemption, error) {
	return e.referrals.Redemptions(ctx, referrerID)
}

// ─── Order Pipeline ─────────────────────────────────────────────────────────

// HandleOrderCompleted consumes an order-completed event: it records the order,
// awards points and qualifies the account's pending referral. Each step is
// idempotent, so redelivering the same event changes nothing.
func (e *Engine) HandleOrderCompleted(ctx context.Context, ev domain.OrderCompleted) (domain.OrderCompletedResult, error) {
	if err := ev.Validate(); err != nil {
		return domain.OrderCompletedResult{}, err
	}

	var res domain.OrderCompletedResult
	err := e.db.WithTx(ctx, func(tx *sqlite.DB) error {
		existing, err := tx.GetOrder(ctx, ev.OrderID)
		switch {
		case errors.Is(err, domain.ErrOrderNotFound):
		case err != nil:
			return err
		case existing.AccountID != ev.AccountID:
			return fmt.Errorf("%w: order %s", domain.ErrOrderAccountMismatch, ev.OrderID)
		}
		if err := tx.RecordCompletedOrder(ctx, ev); err != nil {
			return fmt.Errorf("record order: %w", err)
		}
		res.Award, err = e.points.WithDB(tx).Award(ctx, ev.OrderID, ev.AccountID, ev.AmountHT)
		return err
	})
	if err != nil {
		return domain.OrderCompletedResult{}, err
	}

	if !e.cfg.Referral.Qualifies(ev.AmountHT) {
		return res, nil
	}
	pending, err := e.referrals.PendingFor(ctx, ev.AccountID)
	if err != nil {
		return res, fmt.Errorf("look up pending referral: %w", err)
	}
	if pending == nil {
		return res, nil
	}
	q, err := e.referrals.Qualify(ctx, pending.ID, ev.OrderID)
	switch {
	case errors.Is(err, domain.ErrRedemptionSettled):
		// A concurrent delivery qualified it first.
	case err != nil:
		return res, fmt.Errorf("qualify referral: %w", err)
	default:
		res.Referral = &q
	}
	return res, nil
}

// ─── Accounts & Tiers ───────────────────────────────────────────────────────

// UpsertAccount records account facts from the account subsystem. Active
// defaults to true when omitted.
func (e *Engine) UpsertAccount(ctx context.Context, req domain.UpsertAccountRequest) (domain.Account, error) {
	if err := req.Validate(); err != nil {
		return domain.Account{}, err
	}
	active := true
	if req.Active != nil {
		active = *req.Active
	}
	var acc domain.Account
	err := e.db.WithTx(ctx, func(tx *sqlite.DB) error {
		err := tx.UpsertAccount(ctx, domain.Account{
			ID:        req.AccountID,
			Kind:      req.Kind,
			Active:    active,
			CreatedAt: req.CreatedAt,
		})
		if err != nil {
			return err
		}
		acc, err = tx.GetAccount(ctx, req.AccountID)
		return err
	})
	return acc, err
}

// GetAccount returns the engine's view of an account.
func (e *Engine) GetAccount(ctx context.Context, accountID string) (domain.Account, error) {
	return e.db.GetAccount(ctx, accountID)
}

// SetAccountTier pins an account to a tier. The tier must exist.
func (e *Engine) SetAccountTier(ctx context.Context, req domain.SetTierRequest) (domain.Account, error) {
	if err := req.Validate(); err != nil {
		return domain.Account{}, err
	}
	var acc domain.Account
	err := e.db.WithTx(ctx, func(tx *sqlite.DB) error {
		ts, err := tierSet(ctx, tx)
		if err != nil {
			return err
		}
		if _, ok := ts.Get(req.TierKey); !ok {
			return fmt.Errorf("%w %q", domain.ErrTierNotFound, req.TierKey)
		}
		if err := tx.SetAdminTier(ctx, req.AccountID, req.TierKey); err != nil {
			return err
		}
		acc, err = tx.GetAccount(ctx, req.AccountID)
		return err
	})
	if err != nil {
		return domain.Account{}, err
	}
	e.log.Info("admin tier set", "account_id", req.AccountID, "tier", req.TierKey)
	return acc, nil
}

// ClearAccountTier removes an admin pin and restores the last computed tier.
func (e *Engine) ClearAccountTier(ctx context.Context, accountID string) (domain.Account, error) {
	var acc domain.Account
	err := e.db.WithTx(ctx, func(tx *sqlite.DB) error {
		restore, err := tx.ComputedTierFor(ctx, accountID)
		if err != nil {
			return err
		}
		if err := tx.ClearAdminTier(ctx, accountID, restore); err != nil {
			return err
		}
		acc, err = tx.GetAccount(ctx, accountID)
		return err
	})
	if err != nil {
		return domain.Account{}, err
	}
	e.log.Info("admin tier cleared", "account_id", accountID)
	return acc, nil
}

// SetDiscountOverride stores a negotiated discount.
func (e *Engine) SetDiscountOverride(ctx context.Context, req domain.SetOverrideRequest) (domain.Account, error) {
	if err := req.Validate(); err != nil {
		return domain.Account{}, err
	}
	var acc domain.Account
	err := e.db.WithTx(ctx, func(tx *sqlite.DB) error {
		if err := tx.SetDiscountOverride(ctx, req.AccountID, req.DiscountPct, req.SpendLimit); err != nil {
			return err
		}
		var err error
		acc, err = tx.GetAccount(ctx, req.AccountID)
		return err
	})
	if err != nil {
		return domain.Account{}, err
	}
	e.log.Info("discount override set", "account_id", req.AccountID, "discount_pct", req.DiscountPct.String())
	return acc, nil
}

// ClearDiscountOverride removes the negotiated discount.
func (e *Engine) ClearDiscountOverride(ctx context.Context, accountID string) (domain.Account, error) {
	var acc domain.Account
	err := e.db.WithTx(ctx, func(tx *sqlite.DB) error {
		if err := tx.ClearDiscountOverride(ctx, accountID); err != nil {
			return err
		}
		var err error
		acc, err = tx.GetAccount(ctx, accountID)
		return err
	})
	if err != nil {
		return domain.Account{}, err
	}
	e.log.Info("discount override cleared", "account_id", accountID)
	return acc, nil
}

// TierView is a tier definition with its resolved discount.
type TierView struct {
	domain.TierDefinition
	EffectiveDiscountPct string `json:"effective_discount_pct"`
}

// ListTiers returns the tier definitions ordered by key.
func (e *Engine) ListTiers(ctx context.Context) ([]TierView, error) {
	ts, err := tierSet(ctx, e.db)
	if err != nil {
		return nil, err
	}
	all := ts.All()
	out := make([]TierView, 0, len(all))
	for _, d := range all {
		pct, err := ts.EffectiveDiscount(d.Key)
		if err != nil {
			return nil, err
		}
		out = append(out, TierView{TierDefinition: d, EffectiveDiscountPct: pct.String()})
	}
	return out, nil
}

// ListRewards returns the reward catalog.
func (e *Engine) ListRewards(ctx context.Context) ([]domain.Reward, error) {
	return e.db.ListRewards(ctx)
}

// GetTierSnapshot returns the newest tier snapshot as display rows, ordered by
// rank. It is empty before the first resolution run.
func (e *Engine) GetTierSnapshot(ctx context.Context) ([]domain.TierSnapshotRow, error) {
	snap, err := e.db.LatestTierSnapshot(ctx)
	if errors.Is(err, domain.ErrNoSnapshot) {
		return []domain.TierSnapshotRow{}, nil
	}
	if err != nil {
		return nil, err
	}
	rows := make([]domain.TierSnapshotRow, len(snap.Entries))
	for i, en := range snap.Entries {
		rows[i] = domain.TierSnapshotRow{AccountID: en.AccountID, TierKey: en.TierKey, RankPct: en.RankPct}
	}
	return rows, nil
}

func tierSet(ctx context.Context, db *sqlite.DB) (*domain.TierSet, error) {
	defs, err := db.ListTierDefinitions(ctx)
	if err != nil {
		return nil, fmt.Errorf("load tier definitions: %w", err)
	}
	return domain.NewTierSet(defs)
}

// ─── Batch Jobs ─────────────────────────────────────────────────────────────

// RunSpendAggregation runs the spend aggregation job now.
func (e *Engine) RunSpendAggregation(ctx context.Context) (observability.Run, error) {
	return e.sched.Trigger(ctx, spend.JobName)
}

// RunTierResolution runs the tier resolution job now.
func (e *Engine) RunTierResolution(ctx context.Context) (observability.Run, error) {
	return e.sched.Trigger(ctx, tiering.JobName)
}

// Runs returns the most recent job runs, oldest first.
func (e *Engine) Runs(limit int) []observability.Run {
	return e.sched.RunLog().Runs(limit)
}

// SchedulerStats returns the batch scheduler's counters.
func (e *Engine) SchedulerStats() scheduler.Stats {
	return e.sched.Stats()
}

// Ping checks the database.
func (e *Engine) Ping(ctx context.Context) error {
	return e.db.Ping(ctx)
}
