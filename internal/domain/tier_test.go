package domain

import (
	"errors"
	"testing"

	"github.com/shopspring/decimal"
)

// ─── TierSet Tests ──────────────────────────────────────────────────────────

func pct(s string) decimal.Decimal { return decimal.RequireFromString(s) }

func defaultDefs() []TierDefinition {
	return []TierDefinition{
		{Key: "collaborateur", Rule: RuleBaseline, DiscountPct: pct("0")},
		{Key: "partenaire", Rule: RulePercentile, ThresholdPct: pct("25"), DiscountPct: pct("5")},
		{Key: "visionnaire", Rule: RulePercentile, ThresholdPct: pct("5"), DiscountPct: pct("10")},
		{Key: "ambassadeur", Rule: RuleAdmin, DiscountPct: pct("5"), InheritsFrom: "visionnaire", AdminAssignable: true},
	}
}

func TestNewTierSet_Default(t *testing.T) {
	ts, err := NewTierSet(defaultDefs())
	if err != nil {
		t.Fatalf("NewTierSet() error: %v", err)
	}
	if ts.Baseline().Key != "collaborateur" {
		t.Errorf("Baseline() = %q, want collaborateur", ts.Baseline().Key)
	}
	perc := ts.Percentile()
	if len(perc) != 2 || perc[0].Key != "visionnaire" || perc[1].Key != "partenaire" {
		t.Errorf("Percentile() should be most exclusive first, got %+v", perc)
	}
	all := ts.All()
	if len(all) != 4 || all[0].Key != "ambassadeur" {
		t.Errorf("All() should be ordered by key, got %d entries starting %q", len(all), all[0].Key)
	}
}

func TestEffectiveDiscount(t *testing.T) {
	ts, err := NewTierSet(defaultDefs())
	if err != nil {
		t.Fatalf("NewTierSet() error: %v", err)
	}

	tests := []struct {
		key  string
		want string
	}{
		{"collaborateur", "0"},
		{"partenaire", "5"},
		{"visionnaire", "10"},
		{"ambassadeur", "15"},
	}
	for _, tt := range tests {
		t.Run(tt.key, func(t *testing.T) {
			got, err := ts.EffectiveDiscount(tt.key)
			if err != nil {
				t.Fatalf("EffectiveDiscount(%q) error: %v", tt.key, err)
			}
			if !got.Equal(pct(tt.want)) {
				t.Errorf("EffectiveDiscount(%q) = %s, want %s", tt.key, got, tt.want)
			}
		})
	}

	if _, err := ts.EffectiveDiscount("platine"); !errors.Is(err, ErrTierNotFound) {
		t.Errorf("unknown tier: got %v, want ErrTierNotFound", err)
	}
}

func TestEffectiveDiscount_Clamped(t *testing.T) {
	defs := defaultDefs()
	defs[2].DiscountPct = pct("90")
	defs[3].DiscountPct = pct("30")
	ts, err := NewTierSet(defs)
	if err != nil {
		t.Fatalf("NewTierSet() error: %v", err)
	}
	got, _ := ts.EffectiveDiscount("ambassadeur")
	if !got.Equal(hundred) {
		t.Errorf("EffectiveDiscount = %s, want clamped to 100", got)
	}
}

func TestNewTierSet_Invalid(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func([]TierDefinition) []TierDefinition
		wantErr error
	}{
		{"no baseline", func(d []TierDefinition) []TierDefinition { return d[1:] }, ErrBaselineCount},
		{"two baselines", func(d []TierDefinition) []TierDefinition {
			return append(d, TierDefinition{Key: "bis", Rule: RuleBaseline})
		}, ErrBaselineCount},
		{"equal thresholds", func(d []TierDefinition) []TierDefinition {
			d[1].ThresholdPct = pct("5")
			return d
		}, ErrThresholdOrdering},
		{"self inheritance", func(d []TierDefinition) []TierDefinition {
			d[3].InheritsFrom = "ambassadeur"
			return d
		}, ErrTierCycle},
		{"two-level inheritance", func(d []TierDefinition) []TierDefinition {
			d[2].InheritsFrom = "partenaire"
			return d
		}, ErrTierDepth},
		{"mutual inheritance", func(d []TierDefinition) []TierDefinition {
			d[2].InheritsFrom = "ambassadeur"
			return d
		}, ErrTierCycle},
		{"unknown parent", func(d []TierDefinition) []TierDefinition {
			d[3].InheritsFrom = "platine"
			return d
		}, ErrConfiguration},
		{"discount over 100", func(d []TierDefinition) []TierDefinition {
			d[1].DiscountPct = pct("101")
			return d
		}, ErrConfiguration},
		{"threshold zero", func(d []TierDefinition) []TierDefinition {
			d[1].ThresholdPct = decimal.Zero
			return d
		}, ErrConfiguration},
		{"assignable percentile", func(d []TierDefinition) []TierDefinition {
			d[1].AdminAssignable = true
			return d
		}, ErrConfiguration},
		{"duplicate key", func(d []TierDefinition) []TierDefinition {
			return append(d, d[1])
		}, ErrConfiguration},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := NewTierSet(tt.mutate(defaultDefs()))
			if !errors.Is(err, tt.wantErr) {
				t.Errorf("NewTierSet() error = %v, want %v", err, tt.wantErr)
			}
			if KindOf(err) != KindConfiguration {
				t.Errorf("KindOf() = %q, want configuration", KindOf(err))
			}
		})
	}
}

func TestClampPct(t *testing.T) {
	if got := ClampPct(pct("-3")); !got.IsZero() {
		t.Errorf("ClampPct(-3) = %s", got)
	}
	if got := ClampPct(pct("120")); !got.Equal(hundred) {
		t.Errorf("ClampPct(120) = %s", got)
	}
	if got := ClampPct(pct("12.5")); !got.Equal(pct("12.5")) {
		t.Errorf("ClampPct(12.5) = %s", got)
	}
}
