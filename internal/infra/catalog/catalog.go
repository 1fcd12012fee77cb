// Package catalog loads the tier and reward catalog.
//
// The catalog is a YAML document; a built-in default ships with the binary and
// can be replaced by a file. At startup it is validated and synced into the
// database, where the rest of the engine reads it.
package catalog

import (
	"bytes"
	"context"
	_ "embed"
	"fmt"
	"os"
	"strings"

	"github.com/shopspring/decimal"
	"gopkg.in/yaml.v3"

	"github.com/tutu-network/loyalty/internal/domain"
	"github.com/tutu-network/loyalty/internal/infra/sqlite"
)

//go:embed default.yaml
var defaultYAML []byte

// ─── File Format ────────────────────────────────────────────────────────────

type fileFormat struct {
	Tiers   []tierEntry   `yaml:"tiers"`
	Rewards []rewardEntry `yaml:"rewards"`
}

// Percentages are strings so that "2.5" keeps its exact decimal value.
type tierEntry struct {
	Key             string `yaml:"key"`
	DisplayName     string `yaml:"display_name"`
	Rule            string `yaml:"rule"`
	DiscountPct     string `yaml:"discount_pct"`
	ThresholdPct    string `yaml:"threshold_pct"`
	InheritsFrom    string `yaml:"inherits_from"`
	AdminAssignable bool   `yaml:"admin_assignable"`
}

type rewardEntry struct {
	ID         string `yaml:"id"`
	Title      string `yaml:"title"`
	PointsCost int64  `yaml:"points_cost"`
	Active     *bool  `yaml:"active"`
}

// ─── Catalog ────────────────────────────────────────────────────────────────

// Catalog is a validated set of tier definitions and rewards.
type Catalog struct {
	Tiers   []domain.TierDefinition
	Rewards []domain.Reward
	set     *domain.TierSet
}

// Default returns the built-in catalog.
func Default() *Catalog {
	c, err := Parse(defaultYAML)
	if err != nil {
		panic(fmt.Sprintf("catalog: built-in default is invalid: %v", err))
	}
	return c
}

// Load reads a catalog file. An empty path returns the built-in default.
func Load(path string) (*Catalog, error) {
	if path == "" {
		return Default(), nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read catalog: %w", err)
	}
	c, err := Parse(data)
	if err != nil {
		return nil, fmt.Errorf("catalog %s: %w", path, err)
	}
	return c, nil
}

// Parse decodes and validates a YAML catalog.
func Parse(data []byte) (*Catalog, error) {
	var f fileFormat
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(&f); err != nil {
		return nil, domain.Configurationf("parse catalog: %v", err)
	}

	c := &Catalog{}
	for _, t := range f.Tiers {
		def, err := t.definition()
		if err != nil {
			return nil, err
		}
		c.Tiers = append(c.Tiers, def)
	}
	for _, r := range f.Rewards {
		active := true
		if r.Active != nil {
			active = *r.Active
		}
		c.Rewards = append(c.Rewards, domain.Reward{
			ID: r.ID, Title: r.Title, PointsCost: r.PointsCost, Active: active,
		})
	}
	if err := c.Validate(); err != nil {
		return nil, err
	}
	return c, nil
}

func (t tierEntry) definition() (domain.TierDefinition, error) {
	def := domain.TierDefinition{
		Key:             strings.TrimSpace(t.Key),
		DisplayName:     t.DisplayName,
		Rule:            domain.TierRule(strings.ToLower(strings.TrimSpace(t.Rule))),
		InheritsFrom:    strings.TrimSpace(t.InheritsFrom),
		AdminAssignable: t.AdminAssignable,
	}
	if def.DisplayName == "" {
		def.DisplayName = def.Key
	}
	var err error
	if def.DiscountPct, err = parsePct(t.DiscountPct); err != nil {
		return def, domain.Configurationf("tier %q discount_pct: %v", def.Key, err)
	}
	if def.ThresholdPct, err = parsePct(t.ThresholdPct); err != nil {
		return def, domain.Configurationf("tier %q threshold_pct: %v", def.Key, err)
	}
	return def, nil
}

func parsePct(s string) (decimal.Decimal, error) {
	s = strings.TrimSuffix(strings.TrimSpace(s), "%")
	if s == "" {
		return decimal.Zero, nil
	}
	return decimal.NewFromString(s)
}

// Validate checks tier rules and rewards. All failures are configuration errors.
func (c *Catalog) Validate() error {
	set, err := domain.NewTierSet(c.Tiers)
	if err != nil {
		return err
	}
	seen := make(map[string]bool, len(c.Rewards))
	for _, r := range c.Rewards {
		if !domain.ValidID(r.ID) {
			return domain.Configurationf("reward id %q is not a valid identifier", r.ID)
		}
		if seen[r.ID] {
			return domain.Configurationf("duplicate reward id %q", r.ID)
		}
		seen[r.ID] = true
		if r.PointsCost <= 0 {
			return domain.Configurationf("reward %q points_cost must be positive", r.ID)
		}
	}
	c.set = set
	return nil
}

// TierSet returns the validated tier set.
func (c *Catalog) TierSet() *domain.TierSet { return c.set }

// Lookup returns the tier definition for key, or nil.
func (c *Catalog) Lookup(key string) *domain.TierDefinition {
	def, ok := c.set.Get(strings.TrimSpace(key))
	if !ok {
		return nil
	}
	return &def
}

// Sync replaces the stored tier definitions and upserts every reward in one
// transaction. Rewards missing from the catalog are left as they are.
func Sync(ctx context.Context, db *sqlite.DB, c *Catalog) error {
	return db.WithTx(ctx, func(tx *sqlite.DB) error {
		if err := tx.ReplaceTierDefinitions(ctx, c.Tiers); err != nil {
			return fmt.Errorf("sync tiers: %w", err)
		}
		for _, r := range c.Rewards {
			if err := tx.UpsertReward(ctx, r); err != nil {
				return fmt.Errorf("sync reward %s: %w", r.ID, err)
			}
		}
		return nil
	})
}
