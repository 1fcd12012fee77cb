package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"github.com/tutu-network/loyalty/internal/domain"
)

// ─── Order Operations ───────────────────────────────────────────────────────

const orderColumns = `id, account_id, amount_ht, currency, status, created_at,
	completed_at, applied_discount_pct, applied_tier_key, applied_source, frozen_at`

// GetOrder returns an order or domain.ErrOrderNotFound.
func (db *DB) GetOrder(ctx context.Context, id string) (domain.Order, error) {
	row := db.q.QueryRowContext(ctx, `SELECT `+orderColumns+` FROM orders WHERE id = ?`, id)
	o, err := scanOrder(row)
	if errors.Is(err, sql.ErrNoRows) {
		return domain.Order{}, fmt.Errorf("%w %q", domain.ErrOrderNotFound, id)
	}
	return o, err
}

// EnsureOrder inserts the order row if it does not exist yet.
// Existing rows are left untouched.
func (db *DB) EnsureOrder(ctx context.Context, o domain.Order) error {
	created := o.CreatedAt
	if created.IsZero() {
		created = time.Now()
	}
	currency := o.Currency
	if currency == "" {
		currency = "EUR"
	}
	_, err := db.q.ExecContext(ctx, `
		INSERT INTO orders (id, account_id, amount_ht, currency, status, created_at)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO NOTHING
	`, o.ID, o.AccountID, o.AmountHT.String(), currency, string(domain.OrderStatusCreated), fmtTime(created))
	return err
}

// FreezeOrderDiscount writes the applied discount, tier and source once. It
// returns domain.ErrOrderFrozen if the order already carries a frozen discount.
func (db *DB) FreezeOrderDiscount(ctx context.Context, orderID string, q domain.DiscountQuote, at time.Time) error {
	res, err := db.q.ExecContext(ctx, `
		UPDATE orders
		SET applied_discount_pct = ?, applied_tier_key = ?, applied_source = ?, frozen_at = ?
		WHERE id = ? AND applied_discount_pct IS NULL
	`, q.DiscountPct.String(), q.TierKey, string(q.Source), fmtTime(at), orderID)
	if IsFrozenViolation(err) {
		return domain.ErrOrderFrozen
	}
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return domain.ErrOrderFrozen
	}
	return nil
}

// RecordCompletedOrder upserts an order as completed. The frozen discount
// columns are never part of this statement.
func (db *DB) RecordCompletedOrder(ctx context.Context, e domain.OrderCompleted) error {
	_, err := db.q.ExecContext(ctx, `
		INSERT INTO orders (id, account_id, amount_ht, currency, status, created_at, completed_at)
		VALUES (?, ?, ?, ?, 'completed', ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			amount_ht    = excluded.amount_ht,
			currency     = excluded.currency,
			status       = 'completed',
			completed_at = COALESCE(orders.completed_at, excluded.completed_at)
	`, e.OrderID, e.AccountID, e.AmountHT.String(), e.Currency,
		fmtTime(e.CompletedAt), fmtTime(e.CompletedAt))
	return err
}

// ForEachCompletedOrder streams completed orders with completed_at in (from, to].
func (db *DB) ForEachCompletedOrder(ctx context.Context, from, to time.Time, fn func(accountID string, amount decimal.Decimal) error) error {
	rows, err := db.q.QueryContext(ctx, `
		SELECT account_id, amount_ht FROM orders
		WHERE status = 'completed' AND completed_at > ? AND completed_at <= ?
	`, fmtTime(from), fmtTime(to))
	if err != nil {
		return err
	}
	defer rows.Close()

	for rows.Next() {
		var accountID, amountStr string
		if err := rows.Scan(&accountID, &amountStr); err != nil {
			return err
		}
		amount, err := parseDecimal(amountStr)
		if err != nil {
			return fmt.Errorf("order amount %q: %w", amountStr, err)
		}
		if err := fn(accountID, amount); err != nil {
			return err
		}
	}
	return rows.Err()
}

func scanOrder(row rowScanner) (domain.Order, error) {
	var (
		o                             domain.Order
		amountStr, status, createdStr string
		completed, frozenAt           sql.NullString
		pct, tierKey, source          sql.NullString
	)
	if err := row.Scan(&o.ID, &o.AccountID, &amountStr, &o.Currency, &status, &createdStr,
		&completed, &pct, &tierKey, &source, &frozenAt); err != nil {
		return domain.Order{}, err
	}
	o.Status = domain.OrderStatus(status)
	o.CreatedAt = parseTime(createdStr)
	o.CompletedAt = parseTimePtr(completed)
	o.FrozenAt = parseTimePtr(frozenAt)
	o.AppliedTierKey = stringPtr(tierKey)
	o.AppliedSource = domain.DiscountSource(source.String)

	var err error
	if o.AmountHT, err = parseDecimal(amountStr); err != nil {
		return domain.Order{}, fmt.Errorf("order %s amount: %w", o.ID, err)
	}
	if o.AppliedDiscountPct, err = parseDecimalPtr(pct); err != nil {
		return domain.Order{}, fmt.Errorf("order %s discount: %w", o.ID, err)
	}
	return o, nil
}
