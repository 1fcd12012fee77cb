package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/tutu-network/loyalty/internal/domain"
)

// ─── Tier Definition Operations ─────────────────────────────────────────────

// ReplaceTierDefinitions swaps the whole tier catalog for defs.
// Call inside WithTx so readers never observe a partial catalog.
func (db *DB) ReplaceTierDefinitions(ctx context.Context, defs []domain.TierDefinition) error {
	if _, err := db.q.ExecContext(ctx, `DELETE FROM tier_definitions`); err != nil {
		return err
	}
	for _, d := range defs {
		_, err := db.q.ExecContext(ctx, `
			INSERT INTO tier_definitions (key_name, display_name, discount_pct, rule, threshold_pct, inherits_from, admin_assignable)
			VALUES (?, ?, ?, ?, ?, ?, ?)
		`, d.Key, d.DisplayName, d.DiscountPct.String(), string(d.Rule), d.ThresholdPct.String(),
			emptyToNull(d.InheritsFrom), boolInt(d.AdminAssignable))
		if err != nil {
			return fmt.Errorf("insert tier %s: %w", d.Key, err)
		}
	}
	return nil
}

// ListTierDefinitions returns all tier definitions ordered by key.
func (db *DB) ListTierDefinitions(ctx context.Context) ([]domain.TierDefinition, error) {
	rows, err := db.q.QueryContext(ctx, `
		SELECT key_name, display_name, discount_pct, rule, threshold_pct, inherits_from, admin_assignable
		FROM tier_definitions ORDER BY key_name
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var defs []domain.TierDefinition
	for rows.Next() {
		var (
			d                      domain.TierDefinition
			rule, discount, thresh string
			inherits               sql.NullString
			admin                  int
		)
		if err := rows.Scan(&d.Key, &d.DisplayName, &discount, &rule, &thresh, &inherits, &admin); err != nil {
			return nil, err
		}
		d.Rule = domain.TierRule(rule)
		d.InheritsFrom = inherits.String
		d.AdminAssignable = admin == 1
		if d.DiscountPct, err = parseDecimal(discount); err != nil {
			return nil, fmt.Errorf("tier %s discount: %w", d.Key, err)
		}
		if d.ThresholdPct, err = parseDecimal(thresh); err != nil {
			return nil, fmt.Errorf("tier %s threshold: %w", d.Key, err)
		}
		defs = append(defs, d)
	}
	return defs, rows.Err()
}

// ─── Reward Operations ──────────────────────────────────────────────────────

// UpsertReward inserts or updates a catalog reward.
func (db *DB) UpsertReward(ctx context.Context, r domain.Reward) error {
	_, err := db.q.ExecContext(ctx, `
		INSERT INTO rewards (id, title, points_cost, active)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			title       = excluded.title,
			points_cost = excluded.points_cost,
			active      = excluded.active
	`, r.ID, r.Title, r.PointsCost, boolInt(r.Active))
	return err
}

// GetReward returns a reward or domain.ErrRewardNotFound.
func (db *DB) GetReward(ctx context.Context, id string) (domain.Reward, error) {
	var r domain.Reward
	var active int
	err := db.q.QueryRowContext(ctx, `
		SELECT id, title, points_cost, active FROM rewards WHERE id = ?
	`, id).Scan(&r.ID, &r.Title, &r.PointsCost, &active)
	if errors.Is(err, sql.ErrNoRows) {
		return domain.Reward{}, fmt.Errorf("%w %q", domain.ErrRewardNotFound, id)
	}
	r.Active = active == 1
	return r, err
}

// ListRewards returns the reward catalog ordered by cost.
func (db *DB) ListRewards(ctx context.Context) ([]domain.Reward, error) {
	rows, err := db.q.QueryContext(ctx, `
		SELECT id, title, points_cost, active FROM rewards ORDER BY points_cost, id
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []domain.Reward
	for rows.Next() {
		var r domain.Reward
		var active int
		if err := rows.Scan(&r.ID, &r.Title, &r.PointsCost, &active); err != nil {
			return nil, err
		}
		r.Active = active == 1
		out = append(out, r)
	}
	return out, rows.Err()
}
