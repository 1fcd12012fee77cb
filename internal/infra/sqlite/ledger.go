package sqlite

import (
	"context"
	"database/sql"
	"time"

	"github.com/google/uuid"

	"github.com/tutu-network/loyalty/internal/domain"
)

// ─── Points Ledger Operations ───────────────────────────────────────────────

// AppendEntry appends a ledger entry. Entries carrying an idempotency key that
// is already recorded are skipped; inserted reports whether a row was written.
// ID and CreatedAt are filled in when empty.
func (db *DB) AppendEntry(ctx context.Context, e *domain.LedgerEntry) (inserted bool, err error) {
	if e.ID == "" {
		e.ID = uuid.New().String()
	}
	if e.CreatedAt.IsZero() {
		e.CreatedAt = time.Now().UTC()
	}
	res, err := db.q.ExecContext(ctx, `
		INSERT INTO points_ledger (id, account_id, delta, reason, idempotency_key, order_id, reward_id, note, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(idempotency_key) DO NOTHING
	`, e.ID, e.AccountID, e.Delta, string(e.Reason), nullString(e.IdempotencyKey),
		emptyToNull(e.OrderID), emptyToNull(e.RewardID), e.Note, fmtTime(e.CreatedAt))
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	return n > 0, err
}

// Balance returns the sum of all ledger deltas for an account.
func (db *DB) Balance(ctx context.Context, accountID string) (int64, error) {
	var bal int64
	err := db.q.QueryRowContext(ctx, `
		SELECT COALESCE(SUM(delta), 0) FROM points_ledger WHERE account_id = ?
	`, accountID).Scan(&bal)
	return bal, err
}

// Entries returns an account's ledger entries, newest first.
func (db *DB) Entries(ctx context.Context, accountID string, limit int) ([]domain.LedgerEntry, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := db.q.QueryContext(ctx, `
		SELECT id, account_id, delta, reason, idempotency_key, order_id, reward_id, note, created_at
		FROM points_ledger WHERE account_id = ?
		ORDER BY seq DESC LIMIT ?
	`, accountID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []domain.LedgerEntry
	for rows.Next() {
		var (
			e                 domain.LedgerEntry
			reason, created   string
			key, order, rewID sql.NullString
		)
		if err := rows.Scan(&e.ID, &e.AccountID, &e.Delta, &reason, &key, &order, &rewID, &e.Note, &created); err != nil {
			return nil, err
		}
		e.Reason = domain.EntryReason(reason)
		e.IdempotencyKey = stringPtr(key)
		e.OrderID = order.String
		e.RewardID = rewID.String
		e.CreatedAt = parseTime(created)
		out = append(out, e)
	}
	return out, rows.Err()
}
