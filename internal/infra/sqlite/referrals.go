package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/tutu-network/loyalty/internal/domain"
)

// ─── Referral Code Operations ───────────────────────────────────────────────

// InsertReferralCode stores a new code. A taken code yields
// domain.ErrCodeCollision; callers retry with a fresh code.
func (db *DB) InsertReferralCode(ctx context.Context, c domain.ReferralCode) error {
	_, err := db.q.ExecContext(ctx, `
		INSERT INTO referral_codes (code, owner_account_id, created_at) VALUES (?, ?, ?)
	`, c.Code, c.OwnerAccountID, fmtTime(c.CreatedAt))
	if IsUniqueViolation(err) {
		return domain.ErrCodeCollision
	}
	return err
}

// GetReferralCode looks a code up or returns domain.ErrCodeNotFound.
func (db *DB) GetReferralCode(ctx context.Context, code string) (domain.ReferralCode, error) {
	return db.getReferralCode(ctx, `code = ?`, code)
}

// GetReferralCodeByOwner returns the code owned by an account or
// domain.ErrCodeNotFound.
func (db *DB) GetReferralCodeByOwner(ctx context.Context, ownerID string) (domain.ReferralCode, error) {
	return db.getReferralCode(ctx, `owner_account_id = ?`, ownerID)
}

func (db *DB) getReferralCode(ctx context.Context, where, arg string) (domain.ReferralCode, error) {
	var c domain.ReferralCode
	var created string
	err := db.q.QueryRowContext(ctx, `
		SELECT code, owner_account_id, created_at FROM referral_codes WHERE `+where, arg,
	).Scan(&c.Code, &c.OwnerAccountID, &created)
	if errors.Is(err, sql.ErrNoRows) {
		return domain.ReferralCode{}, fmt.Errorf("%w %q", domain.ErrCodeNotFound, arg)
	}
	if err != nil {
		return domain.ReferralCode{}, err
	}
	c.CreatedAt = parseTime(created)
	return c, nil
}

// ─── Referral Redemption Operations ─────────────────────────────────────────

const redemptionColumns = `id, code, referrer_account_id, referred_account_id, status,
	qualifying_order_id, reject_reason, created_at, updated_at`

// InsertRedemption records a pending redemption. A referred account that
// already redeemed a code yields domain.ErrAlreadyRedeemed.
func (db *DB) InsertRedemption(ctx context.Context, r domain.ReferralRedemption) error {
	_, err := db.q.ExecContext(ctx, `
		INSERT INTO referral_redemptions (id, code, referrer_account_id, referred_account_id, status, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`, r.ID, r.Code, r.ReferrerAccountID, r.ReferredAccountID, string(r.Status),
		fmtTime(r.CreatedAt), fmtTime(r.UpdatedAt))
	if IsUniqueViolation(err) {
		return domain.ErrAlreadyRedeemed
	}
	return err
}

// GetRedemption returns a redemption or domain.ErrRedemptionNotFound.
func (db *DB) GetRedemption(ctx context.Context, id string) (domain.ReferralRedemption, error) {
	row := db.q.QueryRowContext(ctx, `SELECT `+redemptionColumns+` FROM referral_redemptions WHERE id = ?`, id)
	r, err := scanRedemption(row)
	if errors.Is(err, sql.ErrNoRows) {
		return domain.ReferralRedemption{}, fmt.Errorf("%w %q", domain.ErrRedemptionNotFound, id)
	}
	return r, err
}

// GetRedemptionByReferred returns the redemption of a referred account or
// domain.ErrRedemptionNotFound.
func (db *DB) GetRedemptionByReferred(ctx context.Context, accountID string) (domain.ReferralRedemption, error) {
	row := db.q.QueryRowContext(ctx, `
		SELECT `+redemptionColumns+` FROM referral_redemptions WHERE referred_account_id = ?
	`, accountID)
	r, err := scanRedemption(row)
	if errors.Is(err, sql.ErrNoRows) {
		return domain.ReferralRedemption{}, fmt.Errorf("%w for account %q", domain.ErrRedemptionNotFound, accountID)
	}
	return r, err
}

// ListRedemptionsByReferrer returns the redemptions of a referrer's code.
func (db *DB) ListRedemptionsByReferrer(ctx context.Context, referrerID string) ([]domain.ReferralRedemption, error) {
	rows, err := db.q.QueryContext(ctx, `
		SELECT `+redemptionColumns+` FROM referral_redemptions
		WHERE referrer_account_id = ? ORDER BY created_at, id
	`, referrerID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []domain.ReferralRedemption
	for rows.Next() {
		r, err := scanRedemption(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

// QualifyRedemption moves a pending redemption to qualified. It reports false
// when the redemption was no longer pending, so only one caller ever wins.
func (db *DB) QualifyRedemption(ctx context.Context, id, orderID string, at time.Time) (bool, error) {
	return db.settleRedemption(ctx, `
		UPDATE referral_redemptions
		SET status = 'qualified', qualifying_order_id = ?, updated_at = ?
		WHERE id = ? AND status = 'pending'
	`, orderID, fmtTime(at), id)
}

// RejectRedemption moves a pending redemption to rejected.
func (db *DB) RejectRedemption(ctx context.Context, id, reason string, at time.Time) (bool, error) {
	return db.settleRedemption(ctx, `
		UPDATE referral_redemptions
		SET status = 'rejected', reject_reason = ?, updated_at = ?
		WHERE id = ? AND status = 'pending'
	`, reason, fmtTime(at), id)
}

func (db *DB) settleRedemption(ctx context.Context, query string, args ...any) (bool, error) {
	res, err := db.q.ExecContext(ctx, query, args...)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	return n == 1, err
}

func scanRedemption(row rowScanner) (domain.ReferralRedemption, error) {
	var (
		r                domain.ReferralRedemption
		status           string
		created, updated string
		orderID          sql.NullString
	)
	if err := row.Scan(&r.ID, &r.Code, &r.ReferrerAccountID, &r.ReferredAccountID, &status,
		&orderID, &r.RejectReason, &created, &updated); err != nil {
		return domain.ReferralRedemption{}, err
	}
	r.Status = domain.RedemptionStatus(status)
	r.QualifyingOrderID = stringPtr(orderID)
	r.CreatedAt = parseTime(created)
	r.UpdatedAt = parseTime(updated)
	return r, nil
}
