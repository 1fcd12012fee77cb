// Package points implements the loyalty points ledger.
//
// The ledger is append-only: every credit and debit is an entry, and a
// balance is the sum of an account's entries. Accruals carry an idempotency
// key derived from (account, order), so a redelivered order never credits
// twice.
package points

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"time"

	"github.com/shopspring/decimal"

	"github.com/tutu-network/loyalty/internal/domain"
	"github.com/tutu-network/loyalty/internal/infra/observability"
	"github.com/tutu-network/loyalty/internal/infra/sqlite"
)

// Config controls accrual.
type Config struct {
	PerEuro decimal.Decimal // points per currency unit of amount_ht (default: 1)
}

// DefaultConfig returns one point per euro.
func DefaultConfig() Config {
	return Config{PerEuro: decimal.NewFromInt(1)}
}

// Ledger records point movements.
type Ledger struct {
	db  *sqlite.DB
	cfg Config
	log *slog.Logger
	now func() time.Time
}

// New creates a ledger.
func New(cfg Config, db *sqlite.DB, logger *slog.Logger) *Ledger {
	if logger == nil {
		logger = slog.Default()
	}
	return &Ledger{db: db, cfg: cfg, log: logger.With("component", "points"), now: time.Now}
}

// WithDB returns a copy of the ledger bound to db, typically a transaction.
func (l *Ledger) WithDB(db *sqlite.DB) *Ledger {
	cp := *l
	cp.db = db
	return &cp
}

var maxPoints = decimal.NewFromInt(math.MaxInt64)

// PointsFor returns floor(amount × per_euro). Amounts whose points do not fit
// in an int64 are a validation error.
func (l *Ledger) PointsFor(amount decimal.Decimal) (int64, error) {
	pts := amount.Mul(l.cfg.PerEuro).Floor()
	if pts.Cmp(maxPoints) > 0 {
		return 0, domain.Validationf("amount_ht %s earns more points than a ledger entry can hold", amount)
	}
	return pts.IntPart(), nil
}

// Award credits points for a finalized order exactly once. A repeated call for
// the same (order, account) is reported as Duplicate and writes nothing.
func (l *Ledger) Award(ctx context.Context, orderID, accountID string, amountHT decimal.Decimal) (domain.AwardResult, error) {
	req := domain.AwardPointsRequest{OrderID: orderID, AccountID: accountID, AmountHT: amountHT}
	if err := req.Validate(); err != nil {
		return domain.AwardResult{}, err
	}
	pts, err := l.PointsFor(amountHT)
	if err != nil {
		return domain.AwardResult{}, err
	}
	res := domain.AwardResult{AccountID: accountID, OrderID: orderID, Points: pts}

	err = l.db.WithTx(ctx, func(tx *sqlite.DB) error {
		if res.Points > 0 {
			key := domain.AccrualKey(accountID, orderID)
			inserted, err := tx.AppendEntry(ctx, &domain.LedgerEntry{
				AccountID:      accountID,
				Delta:          res.Points,
				Reason:         domain.ReasonAccrual,
				IdempotencyKey: &key,
				OrderID:        orderID,
				CreatedAt:      l.now(),
			})
			if err != nil {
				return fmt.Errorf("append accrual: %w", err)
			}
			res.Duplicate = !inserted
		}
		bal, err := tx.Balance(ctx, accountID)
		res.Balance = bal
		return err
	})
	if err != nil {
		return domain.AwardResult{}, err
	}

	if res.Duplicate {
		observability.PointsDuplicates.Inc()
		l.log.Debug("duplicate accrual ignored", "order_id", orderID, "account_id", accountID)
	} else if res.Points > 0 {
		observability.PointsAwarded.Add(float64(res.Points))
		l.log.Info("points awarded", "order_id", orderID, "account_id", accountID,
			"points", res.Points, "balance", res.Balance)
	}
	return res, nil
}

// Redeem spends points on a reward. The balance check and the debit run in one
// IMMEDIATE transaction so concurrent redemptions can never overdraw.
func (l *Ledger) Redeem(ctx context.Context, accountID, rewardID string) (domain.LedgerEntry, error) {
	req := domain.RedeemRewardRequest{AccountID: accountID, RewardID: rewardID}
	if err := req.Validate(); err != nil {
		return domain.LedgerEntry{}, err
	}

	var entry domain.LedgerEntry
	err := l.db.WithTx(ctx, func(tx *sqlite.DB) error {
		if _, err := tx.GetAccount(ctx, accountID); err != nil {
			return err
		}
		reward, err := tx.GetReward(ctx, rewardID)
		if err != nil {
			return err
		}
		if !reward.Active {
			return fmt.Errorf("%w %q (inactive)", domain.ErrRewardNotFound, rewardID)
		}
		bal, err := tx.Balance(ctx, accountID)
		if err != nil {
			return err
		}
		if bal < reward.PointsCost {
			return fmt.Errorf("%w: balance %d, reward %s costs %d",
				domain.ErrInsufficientPoints, bal, rewardID, reward.PointsCost)
		}
		entry = domain.LedgerEntry{
			AccountID: accountID,
			Delta:     -reward.PointsCost,
			Reason:    domain.ReasonRedemption,
			RewardID:  rewardID,
			Note:      reward.Title,
			CreatedAt: l.now(),
		}
		_, err = tx.AppendEntry(ctx, &entry)
		return err
	})
	if err != nil {
		if domain.KindOf(err) == domain.KindState {
			observability.PointsRejected.Inc()
		}
		return domain.LedgerEntry{}, err
	}

	observability.PointsRedeemed.Add(float64(-entry.Delta))
	l.log.Info("reward redeemed", "account_id", accountID, "reward_id", rewardID, "points", -entry.Delta)
	return entry, nil
}

// Adjust records an administrative correction. A negative adjustment cannot
// take the balance below zero.
func (l *Ledger) Adjust(ctx context.Context, accountID string, delta int64, note string) (domain.LedgerEntry, error) {
	req := domain.AdjustPointsRequest{AccountID: accountID, Delta: delta, Note: note}
	if err := req.Validate(); err != nil {
		return domain.LedgerEntry{}, err
	}

	var entry domain.LedgerEntry
	err := l.db.WithTx(ctx, func(tx *sqlite.DB) error {
		if _, err := tx.GetAccount(ctx, accountID); err != nil {
			return err
		}
		if delta < 0 {
			bal, err := tx.Balance(ctx, accountID)
			if err != nil {
				return err
			}
			if bal+delta < 0 {
				return fmt.Errorf("%w: balance %d, adjustment %d", domain.ErrInsufficientPoints, bal, delta)
			}
		}
		entry = domain.LedgerEntry{
			AccountID: accountID,
			Delta:     delta,
			Reason:    domain.ReasonAdjustment,
			Note:      note,
			CreatedAt: l.now(),
		}
		_, err := tx.AppendEntry(ctx, &entry)
		return err
	})
	if err != nil {
		if domain.KindOf(err) == domain.KindState {
			observability.PointsRejected.Inc()
		}
		return domain.LedgerEntry{}, err
	}
	l.log.Info("points adjusted", "account_id", accountID, "delta", delta, "note", note)
	return entry, nil
}

// Credit appends a keyed credit. It reports false when the key was already
// used, which is not an error.
func (l *Ledger) Credit(ctx context.Context, accountID string, points int64, key string, reason domain.EntryReason) (bool, error) {
	if points <= 0 {
		return false, domain.Validationf("credit of %d points must be positive", points)
	}
	if key == "" {
		return false, domain.Validationf("credit requires an idempotency key")
	}
	inserted, err := l.db.AppendEntry(ctx, &domain.LedgerEntry{
		AccountID:      accountID,
		Delta:          points,
		Reason:         reason,
		IdempotencyKey: &key,
		CreatedAt:      l.now(),
	})
	if err != nil {
		return false, fmt.Errorf("append credit: %w", err)
	}
	if inserted {
		observability.PointsAwarded.Add(float64(points))
	}
	return inserted, nil
}

// Balance returns the sum of the account's entries.
func (l *Ledger) Balance(ctx context.Context, accountID string) (int64, error) {
	return l.db.Balance(ctx, accountID)
}

// Entries returns the account's most recent entries, newest first.
func (l *Ledger) Entries(ctx context.Context, accountID string, limit int) ([]domain.LedgerEntry, error) {
	return l.db.Entries(ctx, accountID, limit)
}
