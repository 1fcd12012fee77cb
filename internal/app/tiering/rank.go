// Package tiering assigns pricing tiers from spend snapshots.
//
// Rank is the pure percentile algorithm; Resolver runs it against the latest
// spend snapshot and persists the result.
package tiering

import (
	"sort"

	"github.com/shopspring/decimal"

	"github.com/tutu-network/loyalty/internal/domain"
)

// Rank assigns a tier to every entry.
//
// Accounts are ordered by spend descending, ties broken by account id. For
// 0-based rank r among N accounts, rank_pct = (r+1)/N*100 and the first
// percentile tier (most exclusive first) with threshold >= rank_pct wins;
// accounts matching none receive the baseline tier. Admin tiers are never
// produced. The comparison is done as threshold*N >= (r+1)*100 so no rounding
// is involved.
func Rank(entries []domain.SpendEntry, defs []domain.TierDefinition) ([]domain.TierSnapshotEntry, error) {
	ts, err := domain.NewTierSet(defs)
	if err != nil {
		return nil, err
	}
	return RankWith(entries, ts), nil
}

// RankWith is Rank over an already validated tier set.
func RankWith(entries []domain.SpendEntry, ts *domain.TierSet) []domain.TierSnapshotEntry {
	sorted := make([]domain.SpendEntry, len(entries))
	copy(sorted, entries)
	sort.SliceStable(sorted, func(i, j int) bool {
		if c := sorted[i].Spend.Cmp(sorted[j].Spend); c != 0 {
			return c > 0
		}
		return sorted[i].AccountID < sorted[j].AccountID
	})

	n := int64(len(sorted))
	if n == 0 {
		return nil
	}
	total := decimal.NewFromInt(n)
	percentile := ts.Percentile()
	baseline := ts.Baseline().Key

	out := make([]domain.TierSnapshotEntry, len(sorted))
	for r, e := range sorted {
		pos := decimal.NewFromInt(int64(r+1) * 100)
		tier := baseline
		for _, def := range percentile {
			if def.ThresholdPct.Mul(total).GreaterThanOrEqual(pos) {
				tier = def.Key
				break
			}
		}
		out[r] = domain.TierSnapshotEntry{
			AccountID: e.AccountID,
			TierKey:   tier,
			Rank:      r + 1,
			RankPct:   pos.DivRound(total, 4),
			Spend:     e.Spend,
		}
	}
	return out
}
