// Package discount resolves the discount an account receives and freezes it
// onto orders.
//
// Precedence:
//  1. A negotiated override applies while the account's trailing spend in the
//     latest spend snapshot is within its spend limit (no limit = always).
//  2. Otherwise the assigned tier applies, or the baseline tier when none is
//     assigned. An inheriting tier grants parent discount + its own bonus.
//  3. The result is clamped to [0, 100].
package discount

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/shopspring/decimal"

	"github.com/tutu-network/loyalty/internal/domain"
	"github.com/tutu-network/loyalty/internal/infra/observability"
	"github.com/tutu-network/loyalty/internal/infra/sqlite"
)

// Calculator resolves and freezes discounts.
type Calculator struct {
	db  *sqlite.DB
	log *slog.Logger
	now func() time.Time
}

// New creates a calculator.
func New(db *sqlite.DB, logger *slog.Logger) *Calculator {
	if logger == nil {
		logger = slog.Default()
	}
	return &Calculator{db: db, log: logger.With("component", "discount"), now: time.Now}
}

// Resolve returns the discount the account would receive right now.
func (c *Calculator) Resolve(ctx context.Context, accountID string) (domain.DiscountQuote, error) {
	q, err := c.resolve(ctx, c.db, accountID)
	if err != nil {
		return domain.DiscountQuote{}, err
	}
	observability.DiscountResolutions.WithLabelValues(string(q.Source)).Inc()
	return q, nil
}

func (c *Calculator) resolve(ctx context.Context, db *sqlite.DB, accountID string) (domain.DiscountQuote, error) {
	acc, err := db.GetAccount(ctx, accountID)
	if err != nil {
		return domain.DiscountQuote{}, err
	}
	defs, err := db.ListTierDefinitions(ctx)
	if err != nil {
		return domain.DiscountQuote{}, fmt.Errorf("load tier definitions: %w", err)
	}
	ts, err := domain.NewTierSet(defs)
	if err != nil {
		return domain.DiscountQuote{}, err
	}

	tierKey := ts.Baseline().Key
	if acc.AssignedTierKey != nil {
		tierKey = *acc.AssignedTierKey
	}
	tierPct, err := ts.EffectiveDiscount(tierKey)
	if errors.Is(err, domain.ErrTierNotFound) {
		return domain.DiscountQuote{}, domain.Configurationf("account %s is assigned unknown tier %q", accountID, tierKey)
	}
	if err != nil {
		return domain.DiscountQuote{}, err
	}

	q := domain.DiscountQuote{
		AccountID:   accountID,
		DiscountPct: tierPct,
		TierKey:     tierKey,
		Source:      domain.DiscountFromTier,
	}
	if acc.DiscountOverride == nil {
		return q, nil
	}

	spent, version, err := db.LatestSpendFor(ctx, accountID)
	if err != nil {
		return domain.DiscountQuote{}, fmt.Errorf("load trailing spend: %w", err)
	}
	q.SnapshotVersion = version
	if withinLimit(spent, acc.SpendLimit) {
		q.DiscountPct = domain.ClampPct(*acc.DiscountOverride)
		q.Source = domain.DiscountFromOverride
	}
	return q, nil
}

func withinLimit(spent decimal.Decimal, limit *decimal.Decimal) bool {
	return limit == nil || spent.LessThanOrEqual(*limit)
}

// Freeze resolves the discount for an order and records it on the order in one
// transaction. Repeating a freeze returns the originally frozen quote.
func (c *Calculator) Freeze(ctx context.Context, req domain.FreezeOrderRequest) (domain.DiscountQuote, error) {
	if err := req.Validate(); err != nil {
		return domain.DiscountQuote{}, err
	}
	var q domain.DiscountQuote
	err := c.db.WithTx(ctx, func(tx *sqlite.DB) error {
		var err error
		q, err = c.FreezeTx(ctx, tx, req)
		return err
	})
	return q, err
}

// FreezeTx is Freeze inside a transaction owned by the caller.
func (c *Calculator) FreezeTx(ctx context.Context, tx *sqlite.DB, req domain.FreezeOrderRequest) (domain.DiscountQuote, error) {
	order, err := tx.GetOrder(ctx, req.OrderID)
	if errors.Is(err, domain.ErrOrderNotFound) {
		o := domain.Order{ID: req.OrderID, AccountID: req.AccountID, Currency: req.Currency, CreatedAt: c.now()}
		if req.AmountHT != nil {
			o.AmountHT = *req.AmountHT
		}
		if err := tx.EnsureOrder(ctx, o); err != nil {
			return domain.DiscountQuote{}, fmt.Errorf("create order: %w", err)
		}
		order, err = tx.GetOrder(ctx, req.OrderID)
	}
	if err != nil {
		return domain.DiscountQuote{}, err
	}
	if order.AccountID != req.AccountID {
		return domain.DiscountQuote{}, fmt.Errorf("%w: order %s", domain.ErrOrderAccountMismatch, req.OrderID)
	}
	if order.Frozen() {
		return frozenQuote(order), nil
	}

	q, err := c.resolve(ctx, tx, req.AccountID)
	if err != nil {
		return domain.DiscountQuote{}, err
	}
	if err := tx.FreezeOrderDiscount(ctx, req.OrderID, q, c.now()); err != nil {
		return domain.DiscountQuote{}, err
	}

	observability.DiscountResolutions.WithLabelValues(string(q.Source)).Inc()
	observability.OrdersFrozen.Inc()
	c.log.Info("order discount frozen",
		"order_id", req.OrderID, "account_id", req.AccountID,
		"discount_pct", q.DiscountPct.String(), "tier", q.TierKey, "source", q.Source)
	return q, nil
}

func frozenQuote(o domain.Order) domain.DiscountQuote {
	q := domain.DiscountQuote{
		AccountID:   o.AccountID,
		DiscountPct: *o.AppliedDiscountPct,
		Source:      o.AppliedSource,
	}
	if o.AppliedTierKey != nil {
		q.TierKey = *o.AppliedTierKey
	}
	return q
}
