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

// ─── Spend Snapshot Operations ──────────────────────────────────────────────

// PublishSpendSnapshot stores a new spend snapshot and returns its version.
// A snapshot whose run started before the newest published one is rejected
// with domain.ErrStaleSnapshot, so a slow run never replaces newer data.
func (db *DB) PublishSpendSnapshot(ctx context.Context, s domain.SpendSnapshot) (int64, error) {
	var version int64
	err := db.WithTx(ctx, func(tx *DB) error {
		var newest sql.NullString
		if err := tx.q.QueryRowContext(ctx, `SELECT MAX(started_at) FROM spend_snapshots`).Scan(&newest); err != nil {
			return err
		}
		if newest.Valid && newest.String > fmtTime(s.StartedAt) {
			return domain.ErrStaleSnapshot
		}

		res, err := tx.q.ExecContext(ctx, `
			INSERT INTO spend_snapshots (started_at, computed_at, window_start, window_end, account_count)
			VALUES (?, ?, ?, ?, ?)
		`, fmtTime(s.StartedAt), fmtTime(s.ComputedAt), fmtTime(s.WindowStart), fmtTime(s.WindowEnd), len(s.Entries))
		if err != nil {
			return err
		}
		if version, err = res.LastInsertId(); err != nil {
			return err
		}
		for _, e := range s.Entries {
			if _, err := tx.q.ExecContext(ctx, `
				INSERT INTO spend_snapshot_entries (version, account_id, trailing_spend)
				VALUES (?, ?, ?)
			`, version, e.AccountID, e.Spend.String()); err != nil {
				return fmt.Errorf("insert spend entry %s: %w", e.AccountID, err)
			}
		}
		return nil
	})
	return version, err
}

// LatestSpendSnapshot returns the newest spend snapshot, with its entries when
// withEntries is true. Returns domain.ErrNoSnapshot when none exists.
func (db *DB) LatestSpendSnapshot(ctx context.Context, withEntries bool) (domain.SpendSnapshot, error) {
	var s domain.SpendSnapshot
	var started, computed, wStart, wEnd string
	err := db.q.QueryRowContext(ctx, `
		SELECT version, started_at, computed_at, window_start, window_end
		FROM spend_snapshots ORDER BY version DESC LIMIT 1
	`).Scan(&s.Version, &started, &computed, &wStart, &wEnd)
	if errors.Is(err, sql.ErrNoRows) {
		return domain.SpendSnapshot{}, domain.ErrNoSnapshot
	}
	if err != nil {
		return domain.SpendSnapshot{}, err
	}
	s.StartedAt = parseTime(started)
	s.ComputedAt = parseTime(computed)
	s.WindowStart = parseTime(wStart)
	s.WindowEnd = parseTime(wEnd)

	if !withEntries {
		return s, nil
	}
	rows, err := db.q.QueryContext(ctx, `
		SELECT account_id, trailing_spend FROM spend_snapshot_entries
		WHERE version = ? ORDER BY account_id
	`, s.Version)
	if err != nil {
		return domain.SpendSnapshot{}, err
	}
	defer rows.Close()
	for rows.Next() {
		var e domain.SpendEntry
		var spend string
		if err := rows.Scan(&e.AccountID, &spend); err != nil {
			return domain.SpendSnapshot{}, err
		}
		if e.Spend, err = parseDecimal(spend); err != nil {
			return domain.SpendSnapshot{}, fmt.Errorf("spend of %s: %w", e.AccountID, err)
		}
		s.Entries = append(s.Entries, e)
	}
	return s, rows.Err()
}

// LatestSpendFor returns an account's trailing spend in the newest snapshot and
// that snapshot's version. An account missing from the snapshot has zero spend;
// version 0 means no snapshot has been published yet.
func (db *DB) LatestSpendFor(ctx context.Context, accountID string) (decimal.Decimal, int64, error) {
	var version sql.NullInt64
	if err := db.q.QueryRowContext(ctx, `SELECT MAX(version) FROM spend_snapshots`).Scan(&version); err != nil {
		return decimal.Zero, 0, err
	}
	if !version.Valid {
		return decimal.Zero, 0, nil
	}
	var spend string
	err := db.q.QueryRowContext(ctx, `
		SELECT trailing_spend FROM spend_snapshot_entries WHERE version = ? AND account_id = ?
	`, version.Int64, accountID).Scan(&spend)
	if errors.Is(err, sql.ErrNoRows) {
		return decimal.Zero, version.Int64, nil
	}
	if err != nil {
		return decimal.Zero, 0, err
	}
	d, err := parseDecimal(spend)
	return d, version.Int64, err
}

// ─── Tier Snapshot Operations ───────────────────────────────────────────────

// PublishTierSnapshot stores a tier snapshot and returns its version.
// It is rejected with domain.ErrStaleSnapshot when a tier snapshot built from a
// newer spend snapshot, or started later, is already published.
func (db *DB) PublishTierSnapshot(ctx context.Context, s domain.TierSnapshot) (int64, error) {
	var version int64
	err := db.WithTx(ctx, func(tx *DB) error {
		var newestSpend sql.NullInt64
		var newestStart sql.NullString
		if err := tx.q.QueryRowContext(ctx, `
			SELECT spend_version, started_at FROM tier_snapshots ORDER BY version DESC LIMIT 1
		`).Scan(&newestSpend, &newestStart); err != nil && !errors.Is(err, sql.ErrNoRows) {
			return err
		}
		if newestSpend.Valid && newestSpend.Int64 > s.SpendVersion {
			return domain.ErrStaleSnapshot
		}
		if newestStart.Valid && newestStart.String > fmtTime(s.StartedAt) {
			return domain.ErrStaleSnapshot
		}

		res, err := tx.q.ExecContext(ctx, `
			INSERT INTO tier_snapshots (spend_version, started_at, computed_at) VALUES (?, ?, ?)
		`, s.SpendVersion, fmtTime(s.StartedAt), fmtTime(s.ComputedAt))
		if err != nil {
			return err
		}
		if version, err = res.LastInsertId(); err != nil {
			return err
		}
		for _, e := range s.Entries {
			if _, err := tx.q.ExecContext(ctx, `
				INSERT INTO tier_snapshot_entries (version, account_id, tier_key, rank, rank_pct, trailing_spend)
				VALUES (?, ?, ?, ?, ?, ?)
			`, version, e.AccountID, e.TierKey, e.Rank, e.RankPct.String(), e.Spend.String()); err != nil {
				return fmt.Errorf("insert tier entry %s: %w", e.AccountID, err)
			}
		}
		return nil
	})
	return version, err
}

// LatestTierSnapshot returns the newest tier snapshot with its entries ordered
// by rank. Returns domain.ErrNoSnapshot when none exists.
func (db *DB) LatestTierSnapshot(ctx context.Context) (domain.TierSnapshot, error) {
	var s domain.TierSnapshot
	var started, computed string
	err := db.q.QueryRowContext(ctx, `
		SELECT version, spend_version, started_at, computed_at
		FROM tier_snapshots ORDER BY version DESC LIMIT 1
	`).Scan(&s.Version, &s.SpendVersion, &started, &computed)
	if errors.Is(err, sql.ErrNoRows) {
		return domain.TierSnapshot{}, domain.ErrNoSnapshot
	}
	if err != nil {
		return domain.TierSnapshot{}, err
	}
	s.StartedAt = parseTime(started)
	s.ComputedAt = parseTime(computed)

	rows, err := db.q.QueryContext(ctx, `
		SELECT account_id, tier_key, rank, rank_pct, trailing_spend
		FROM tier_snapshot_entries WHERE version = ? ORDER BY rank
	`, s.Version)
	if err != nil {
		return domain.TierSnapshot{}, err
	}
	defer rows.Close()
	for rows.Next() {
		var e domain.TierSnapshotEntry
		var pct, spend string
		if err := rows.Scan(&e.AccountID, &e.TierKey, &e.Rank, &pct, &spend); err != nil {
			return domain.TierSnapshot{}, err
		}
		if e.RankPct, err = parseDecimal(pct); err != nil {
			return domain.TierSnapshot{}, err
		}
		if e.Spend, err = parseDecimal(spend); err != nil {
			return domain.TierSnapshot{}, err
		}
		s.Entries = append(s.Entries, e)
	}
	return s, rows.Err()
}

// ComputedTierFor returns the tier the newest tier snapshot computed for an
// account, or nil if the account is absent or no snapshot exists.
func (db *DB) ComputedTierFor(ctx context.Context, accountID string) (*string, error) {
	var key string
	err := db.q.QueryRowContext(ctx, `
		SELECT e.tier_key FROM tier_snapshot_entries e
		WHERE e.version = (SELECT MAX(version) FROM tier_snapshots) AND e.account_id = ?
	`, accountID).Scan(&key)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &key, nil
}

// ─── Job Lease Operations ───────────────────────────────────────────────────

// AcquireLease takes the named lease for holder until now+ttl. It succeeds
// when the lease is free, expired, or already held by holder.
func (db *DB) AcquireLease(ctx context.Context, name, holder string, now time.Time, ttl time.Duration) (bool, error) {
	res, err := db.q.ExecContext(ctx, `
		INSERT INTO job_leases (name, holder, acquired_at, expires_at)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(name) DO UPDATE SET
			holder      = excluded.holder,
			acquired_at = excluded.acquired_at,
			expires_at  = excluded.expires_at
		WHERE job_leases.expires_at <= excluded.acquired_at OR job_leases.holder = excluded.holder
	`, name, holder, fmtTime(now), fmtTime(now.Add(ttl)))
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	return n > 0, err
}

// ReleaseLease frees the named lease if holder still owns it.
func (db *DB) ReleaseLease(ctx context.Context, name, holder string) error {
	_, err := db.q.ExecContext(ctx, `DELETE FROM job_leases WHERE name = ? AND holder = ?`, name, holder)
	return err
}
