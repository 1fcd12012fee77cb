package catalog

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/shopspring/decimal"

	"github.com/tutu-network/loyalty/internal/domain"
	"github.com/tutu-network/loyalty/internal/infra/sqlite"
)

func TestLookupDefaultTiers(t *testing.T) {
	c := Default()
	tests := []struct {
		key      string
		wantRule domain.TierRule
		wantPct  int64
	}{
		{"collaborateur", domain.RuleBaseline, 0},
		{"partenaire", domain.RulePercentile, 5},
		{"visionnaire", domain.RulePercentile, 10},
		{"ambassadeur", domain.RuleAdmin, 5},
	}
	for _, tt := range tests {
		t.Run(tt.key, func(t *testing.T) {
			def := c.Lookup(tt.key)
			if def == nil {
				t.Fatalf("Lookup(%q) returned nil", tt.key)
			}
			if def.Rule != tt.wantRule {
				t.Errorf("Rule = %s, want %s", def.Rule, tt.wantRule)
			}
			if !def.DiscountPct.Equal(decimal.NewFromInt(tt.wantPct)) {
				t.Errorf("DiscountPct = %s, want %d", def.DiscountPct, tt.wantPct)
			}
		})
	}
}

func TestLookupUnknownTier(t *testing.T) {
	if def := Default().Lookup("platine"); def != nil {
		t.Errorf("Lookup(platine) = %v, want nil", def)
	}
}

func TestDefaultAmbassadeurDiscount(t *testing.T) {
	pct, err := Default().TierSet().EffectiveDiscount("ambassadeur")
	if err != nil {
		t.Fatalf("EffectiveDiscount: %v", err)
	}
	if !pct.Equal(decimal.NewFromInt(15)) {
		t.Errorf("ambassadeur = %s, want 15 (visionnaire 10 + bonus 5)", pct)
	}
}

func TestDefaultRewardsNotEmpty(t *testing.T) {
	c := Default()
	if len(c.Rewards) != 3 {
		t.Fatalf("rewards = %d, want 3", len(c.Rewards))
	}
	for _, r := range c.Rewards {
		if !r.Active {
			t.Errorf("reward %s inactive by default", r.ID)
		}
	}
}

func TestParse_Invalid(t *testing.T) {
	tests := []struct {
		name string
		yaml string
		want error
	}{
		{
			name: "no baseline",
			yaml: `
tiers:
  - {key: partenaire, rule: percentile, threshold_pct: "25", discount_pct: "5"}
`,
			want: domain.ErrBaselineCount,
		},
		{
			name: "duplicate thresholds",
			yaml: `
tiers:
  - {key: base, rule: baseline, discount_pct: "0"}
  - {key: a, rule: percentile, threshold_pct: "10", discount_pct: "5"}
  - {key: b, rule: percentile, threshold_pct: "10", discount_pct: "7"}
`,
			want: domain.ErrThresholdOrdering,
		},
		{
			name: "inheritance too deep",
			yaml: `
tiers:
  - {key: base, rule: baseline, discount_pct: "0"}
  - {key: a, rule: percentile, threshold_pct: "10", discount_pct: "5"}
  - {key: b, rule: admin, discount_pct: "1", inherits_from: a, admin_assignable: true}
  - {key: c, rule: admin, discount_pct: "1", inherits_from: b, admin_assignable: true}
`,
			want: domain.ErrTierDepth,
		},
		{
			name: "negative discount",
			yaml: `
tiers:
  - {key: base, rule: baseline, discount_pct: "-1"}
`,
			want: domain.ErrConfiguration,
		},
		{
			name: "reward with zero cost",
			yaml: `
tiers:
  - {key: base, rule: baseline, discount_pct: "0"}
rewards:
  - {id: free, title: Free, points_cost: 0}
`,
			want: domain.ErrConfiguration,
		},
		{
			name: "unknown field",
			yaml: `
tiers:
  - {key: base, rule: baseline, discount: "0"}
`,
			want: domain.ErrConfiguration,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Parse([]byte(tt.yaml))
			if !errors.Is(err, tt.want) {
				t.Errorf("Parse() error = %v, want %v", err, tt.want)
			}
			if !errors.Is(err, domain.ErrConfiguration) {
				t.Errorf("Parse() error %v is not a configuration error", err)
			}
		})
	}
}

func TestLoad_File(t *testing.T) {
	path := filepath.Join(t.TempDir(), "catalog.yaml")
	data := `
tiers:
  - {key: standard, rule: baseline, discount_pct: "0"}
  - {key: gold, rule: percentile, threshold_pct: "10", discount_pct: "2.5%"}
rewards:
  - {id: mug, title: Mug, points_cost: 120, active: false}
`
	if err := os.WriteFile(path, []byte(data), 0o644); err != nil {
		t.Fatal(err)
	}
	c, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if def := c.Lookup("gold"); def == nil || !def.DiscountPct.Equal(decimal.RequireFromString("2.5")) {
		t.Errorf("gold = %v, want 2.5%%", def)
	}
	if c.Rewards[0].Active {
		t.Error("mug should be inactive")
	}
}

func TestSync(t *testing.T) {
	db, err := sqlite.Open(t.TempDir())
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer db.Close()
	ctx := context.Background()

	if err := Sync(ctx, db, Default()); err != nil {
		t.Fatalf("Sync: %v", err)
	}
	// A second sync replaces rather than duplicates.
	if err := Sync(ctx, db, Default()); err != nil {
		t.Fatalf("second Sync: %v", err)
	}
	defs, err := db.ListTierDefinitions(ctx)
	if err != nil {
		t.Fatalf("ListTierDefinitions: %v", err)
	}
	if len(defs) != 4 {
		t.Errorf("stored tiers = %d, want 4", len(defs))
	}
	if _, err := domain.NewTierSet(defs); err != nil {
		t.Errorf("stored tiers do not round-trip: %v", err)
	}
	rewards, _ := db.ListRewards(ctx)
	if len(rewards) != 3 {
		t.Errorf("stored rewards = %d, want 3", len(rewards))
	}
}
