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

// ─── Account Operations ─────────────────────────────────────────────────────

const accountColumns = `id, kind, active, assigned_tier_key, tier_source,
	discount_override, spend_limit, created_at, updated_at`

// UpsertAccount inserts an account or refreshes its external facts.
// Engine-owned fields (tier, override) are never touched here.
func (db *DB) UpsertAccount(ctx context.Context, a domain.Account) error {
	now := fmtTime(time.Now())
	created := a.CreatedAt
	if created.IsZero() {
		created = time.Now()
	}
	_, err := db.q.ExecContext(ctx, `
		INSERT INTO accounts (id, kind, active, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			kind       = excluded.kind,
			active     = excluded.active,
			updated_at = excluded.updated_at
	`, a.ID, string(a.Kind), boolInt(a.Active), fmtTime(created), now)
	return err
}

// GetAccount returns the account or domain.ErrAccountNotFound.
func (db *DB) GetAccount(ctx context.Context, id string) (domain.Account, error) {
	row := db.q.QueryRowContext(ctx, `SELECT `+accountColumns+` FROM accounts WHERE id = ?`, id)
	a, err := scanAccount(row)
	if errors.Is(err, sql.ErrNoRows) {
		return domain.Account{}, fmt.Errorf("%w %q", domain.ErrAccountNotFound, id)
	}
	return a, err
}

// EligibleFilter selects the ranking population.
type EligibleFilter struct {
	IncludeB2C      bool
	IncludeInactive bool
}

// ListEligibleAccountIDs returns the ids of accounts that take part in ranking.
func (db *DB) ListEligibleAccountIDs(ctx context.Context, f EligibleFilter) ([]string, error) {
	rows, err := db.q.QueryContext(ctx, `
		SELECT id FROM accounts
		WHERE (kind = 'b2b' OR ? = 1)
		  AND (active = 1 OR ? = 1)
		ORDER BY id
	`, boolInt(f.IncludeB2C), boolInt(f.IncludeInactive))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

// ApplyComputedTier records a computed tier unless an admin pinned the account.
// It reports whether the row changed.
func (db *DB) ApplyComputedTier(ctx context.Context, accountID, tierKey string) (bool, error) {
	res, err := db.q.ExecContext(ctx, `
		UPDATE accounts
		SET assigned_tier_key = ?, tier_source = 'computed', updated_at = ?
		WHERE id = ? AND tier_source <> 'admin'
		  AND (assigned_tier_key IS NULL OR assigned_tier_key <> ? OR tier_source <> 'computed')
	`, tierKey, fmtTime(time.Now()), accountID, tierKey)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	return n > 0, err
}

// ClearUnrankedComputedTiers drops the computed tier of every account missing
// from tier snapshot version, returning it to the baseline. Admin pins stay.
func (db *DB) ClearUnrankedComputedTiers(ctx context.Context, version int64) (int64, error) {
	res, err := db.q.ExecContext(ctx, `
		UPDATE accounts
		SET assigned_tier_key = NULL, tier_source = '', updated_at = ?
		WHERE tier_source = 'computed'
		  AND id NOT IN (SELECT account_id FROM tier_snapshot_entries WHERE version = ?)
	`, fmtTime(time.Now()), version)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

// SetAdminTier pins an account to a tier chosen by an administrator.
func (db *DB) SetAdminTier(ctx context.Context, accountID, tierKey string) error {
	res, err := db.q.ExecContext(ctx, `
		UPDATE accounts
		SET assigned_tier_key = ?, tier_source = 'admin', updated_at = ?
		WHERE id = ?
	`, tierKey, fmtTime(time.Now()), accountID)
	return requireRow(res, err, domain.ErrAccountNotFound, accountID)
}

// ClearAdminTier removes an admin pin. restore is the computed tier to fall
// back to (nil leaves the account unassigned until the next resolution run).
func (db *DB) ClearAdminTier(ctx context.Context, accountID string, restore *string) error {
	source := ""
	if restore != nil {
		source = string(domain.TierSourceComputed)
	}
	res, err := db.q.ExecContext(ctx, `
		UPDATE accounts
		SET assigned_tier_key = ?, tier_source = ?, updated_at = ?
		WHERE id = ?
	`, nullString(restore), source, fmtTime(time.Now()), accountID)
	return requireRow(res, err, domain.ErrAccountNotFound, accountID)
}

// SetDiscountOverride stores a negotiated discount and its spend cap.
func (db *DB) SetDiscountOverride(ctx context.Context, accountID string, pct decimal.Decimal, limit *decimal.Decimal) error {
	res, err := db.q.ExecContext(ctx, `
		UPDATE accounts
		SET discount_override = ?, spend_limit = ?, updated_at = ?
		WHERE id = ?
	`, pct.String(), decimalPtr(limit), fmtTime(time.Now()), accountID)
	return requireRow(res, err, domain.ErrAccountNotFound, accountID)
}

// ClearDiscountOverride removes the negotiated discount.
func (db *DB) ClearDiscountOverride(ctx context.Context, accountID string) error {
	res, err := db.q.ExecContext(ctx, `
		UPDATE accounts
		SET discount_override = NULL, spend_limit = NULL, updated_at = ?
		WHERE id = ?
	`, fmtTime(time.Now()), accountID)
	return requireRow(res, err, domain.ErrAccountNotFound, accountID)
}

// CountAccountsByTier returns the number of accounts per assigned tier.
func (db *DB) CountAccountsByTier(ctx context.Context) (map[string]int, error) {
	rows, err := db.q.QueryContext(ctx, `
		SELECT COALESCE(assigned_tier_key, ''), COUNT(*) FROM accounts GROUP BY 1
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := make(map[string]int)
	for rows.Next() {
		var key string
		var n int
		if err := rows.Scan(&key, &n); err != nil {
			return nil, err
		}
		out[key] = n
	}
	return out, rows.Err()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanAccount(row rowScanner) (domain.Account, error) {
	var (
		a                      domain.Account
		kind, source           string
		active                 int
		tierKey                sql.NullString
		override, limit        sql.NullString
		createdStr, updatedStr string
	)
	if err := row.Scan(&a.ID, &kind, &active, &tierKey, &source,
		&override, &limit, &createdStr, &updatedStr); err != nil {
		return domain.Account{}, err
	}
	a.Kind = domain.AccountKind(kind)
	a.Active = active == 1
	a.AssignedTierKey = stringPtr(tierKey)
	a.TierSource = domain.TierSource(source)
	a.CreatedAt = parseTime(createdStr)
	a.UpdatedAt = parseTime(updatedStr)

	var err error
	if a.DiscountOverride, err = parseDecimalPtr(override); err != nil {
		return domain.Account{}, fmt.Errorf("account %s override: %w", a.ID, err)
	}
	if a.SpendLimit, err = parseDecimalPtr(limit); err != nil {
		return domain.Account{}, fmt.Errorf("account %s spend limit: %w", a.ID, err)
	}
	return a, nil
}

func requireRow(res sql.Result, err error, notFound error, id string) error {
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return fmt.Errorf("%w %q", notFound, id)
	}
	return nil
}
