package domain

import (
	"sort"

	"github.com/shopspring/decimal"
)

// ─── Tier Types ─────────────────────────────────────────────────────────────

// TierRule is how an account qualifies for a tier.
type TierRule string

const (
	// RuleBaseline is the default tier; no threshold.
	RuleBaseline TierRule = "baseline"
	// RulePercentile qualifies the top ThresholdPct percent of ranked accounts.
	RulePercentile TierRule = "percentile"
	// RuleAdmin tiers are only ever assigned by an administrator.
	RuleAdmin TierRule = "admin"
)

// TierDefinition describes one pricing tier.
//
// For a tier with InheritsFrom set, DiscountPct is an additive bonus on top of
// the parent's discount, not a standalone value.
type TierDefinition struct {
	Key             string          `json:"key_name"`
	DisplayName     string          `json:"display_name"`
	DiscountPct     decimal.Decimal `json:"discount_percentage"`
	Rule            TierRule        `json:"rule"`
	ThresholdPct    decimal.Decimal `json:"threshold_pct,omitempty"`
	InheritsFrom    string          `json:"inherits_from,omitempty"`
	AdminAssignable bool            `json:"is_admin_assignable"`
}

var hundred = decimal.NewFromInt(100)

// ClampPct clamps a percentage to [0, 100].
func ClampPct(p decimal.Decimal) decimal.Decimal {
	if p.IsNegative() {
		return decimal.Zero
	}
	if p.GreaterThan(hundred) {
		return hundred
	}
	return p
}

// TierSet is a validated, indexed collection of tier definitions.
type TierSet struct {
	byKey      map[string]TierDefinition
	baseline   TierDefinition
	percentile []TierDefinition // ascending threshold: most exclusive first
}

// NewTierSet validates defs and indexes them.
//
// Rules: keys unique and non-empty; exactly one baseline tier; discounts within
// [0, 100]; percentile thresholds within (0, 100] and strictly ordered; percentile
// tiers are never admin-assignable; inheritance points at an existing tier, never
// at itself, and is at most one level deep.
func NewTierSet(defs []TierDefinition) (*TierSet, error) {
	ts := &TierSet{byKey: make(map[string]TierDefinition, len(defs))}
	baselines := 0
	for _, d := range defs {
		if d.Key == "" {
			return nil, Configurationf("tier with empty key")
		}
		if _, dup := ts.byKey[d.Key]; dup {
			return nil, Configurationf("duplicate tier key %q", d.Key)
		}
		if d.DiscountPct.IsNegative() || d.DiscountPct.GreaterThan(hundred) {
			return nil, Configurationf("tier %q discount %s outside [0, 100]", d.Key, d.DiscountPct)
		}
		switch d.Rule {
		case RuleBaseline:
			baselines++
			ts.baseline = d
		case RulePercentile:
			if !d.ThresholdPct.IsPositive() || d.ThresholdPct.GreaterThan(hundred) {
				return nil, Configurationf("tier %q threshold %s outside (0, 100]", d.Key, d.ThresholdPct)
			}
			if d.AdminAssignable {
				return nil, Configurationf("percentile tier %q cannot be admin-assignable", d.Key)
			}
			ts.percentile = append(ts.percentile, d)
		case RuleAdmin:
			if !d.AdminAssignable {
				return nil, Configurationf("admin tier %q must be admin-assignable", d.Key)
			}
		default:
			return nil, Configurationf("tier %q has unknown rule %q", d.Key, d.Rule)
		}
		ts.byKey[d.Key] = d
	}
	if baselines != 1 {
		return nil, ErrBaselineCount
	}

	sort.SliceStable(ts.percentile, func(i, j int) bool {
		return ts.percentile[i].ThresholdPct.LessThan(ts.percentile[j].ThresholdPct)
	})
	for i := 1; i < len(ts.percentile); i++ {
		if ts.percentile[i].ThresholdPct.Equal(ts.percentile[i-1].ThresholdPct) {
			return nil, ErrThresholdOrdering
		}
	}

	for _, d := range ts.byKey {
		if err := ts.checkInheritance(d); err != nil {
			return nil, err
		}
	}
	return ts, nil
}

func (ts *TierSet) checkInheritance(d TierDefinition) error {
	if d.InheritsFrom == "" {
		return nil
	}
	if d.InheritsFrom == d.Key {
		return ErrTierCycle
	}
	parent, ok := ts.byKey[d.InheritsFrom]
	if !ok {
		return Configurationf("tier %q inherits from unknown tier %q", d.Key, d.InheritsFrom)
	}
	if parent.InheritsFrom != "" {
		if parent.InheritsFrom == d.Key {
			return ErrTierCycle
		}
		return ErrTierDepth
	}
	return nil
}

// Get returns the definition for key.
func (ts *TierSet) Get(key string) (TierDefinition, bool) {
	d, ok := ts.byKey[key]
	return d, ok
}

// Baseline returns the default tier.
func (ts *TierSet) Baseline() TierDefinition { return ts.baseline }

// Percentile returns percentile tiers, most exclusive first.
func (ts *TierSet) Percentile() []TierDefinition {
	out := make([]TierDefinition, len(ts.percentile))
	copy(out, ts.percentile)
	return out
}

// All returns every definition ordered by key.
func (ts *TierSet) All() []TierDefinition {
	out := make([]TierDefinition, 0, len(ts.byKey))
	for _, d := range ts.byKey {
		out = append(out, d)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Key < out[j].Key })
	return out
}

// EffectiveDiscount resolves the discount a tier grants.
//
//	non-inheriting: discount
//	inheriting:     parent.discount + bonus
//
// The result is clamped to [0, 100].
func (ts *TierSet) EffectiveDiscount(key string) (decimal.Decimal, error) {
	d, ok := ts.byKey[key]
	if !ok {
		return decimal.Zero, ErrTierNotFound
	}
	if d.InheritsFrom == "" {
		return ClampPct(d.DiscountPct), nil
	}
	if err := ts.checkInheritance(d); err != nil {
		return decimal.Zero, err
	}
	parent := ts.byKey[d.InheritsFrom]
	return ClampPct(parent.DiscountPct.Add(d.DiscountPct)), nil
}
