package daemon

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/shopspring/decimal"
)

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()

	if cfg.API.Host != "127.0.0.1" {
		t.Errorf("API.Host = %q, want %q", cfg.API.Host, "127.0.0.1")
	}
	if cfg.API.Port != 8470 {
		t.Errorf("API.Port = %d, want %d", cfg.API.Port, 8470)
	}
	if !cfg.API.Metrics {
		t.Error("API.Metrics should be true by default")
	}
	if cfg.Points.PerEuro != "1" {
		t.Errorf("Points.PerEuro = %q, want 1", cfg.Points.PerEuro)
	}
	if cfg.Tiers.IncludeB2C || cfg.Tiers.IncludeInactive {
		t.Error("ranking population should default to active B2B accounts")
	}
	if err := cfg.Validate(); err != nil {
		t.Errorf("Validate() = %v, want nil", err)
	}
}

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "loyalty.toml")
	if err := os.WriteFile(path, []byte(body), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return path
}

func TestLoad_OverlaysDefaults(t *testing.T) {
	path := writeConfig(t, `
[api]
port = 9000

[points]
per_euro = "1.5"

[referral]
reward_points = 250
min_order_amount = "30"

[tiers]
recompute_interval = "6h"
include_b2c = true
`)
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load() error: %v", err)
	}
	if cfg.API.Port != 9000 {
		t.Errorf("API.Port = %d, want 9000", cfg.API.Port)
	}
	if cfg.API.Host != "127.0.0.1" {
		t.Errorf("API.Host = %q, default should survive", cfg.API.Host)
	}

	ec := cfg.Engine()
	if !ec.Points.PerEuro.Equal(decimal.RequireFromString("1.5")) {
		t.Errorf("PerEuro = %s, want 1.5", ec.Points.PerEuro)
	}
	if ec.Referral.RewardPoints != 250 || !ec.Referral.MinOrderAmount.Equal(decimal.NewFromInt(30)) {
		t.Errorf("Referral = %+v", ec.Referral)
	}
	if ec.TierInterval != 6*time.Hour {
		t.Errorf("TierInterval = %v, want 6h", ec.TierInterval)
	}
	if ec.SpendInterval != time.Hour {
		t.Errorf("SpendInterval = %v, want 1h", ec.SpendInterval)
	}
	if ec.Spend.Window != 8760*time.Hour {
		t.Errorf("Window = %v, want 8760h", ec.Spend.Window)
	}
	if !ec.Spend.Eligible.IncludeB2C || ec.Spend.Eligible.IncludeInactive {
		t.Errorf("Eligible = %+v", ec.Spend.Eligible)
	}
}

func TestLoad_MissingFiles(t *testing.T) {
	chdir(t, t.TempDir())

	cfg, err := Load("")
	if err != nil {
		t.Fatalf("Load(\"\") with no default file: %v", err)
	}
	if cfg.API.Port != DefaultConfig().API.Port {
		t.Errorf("expected defaults, got port %d", cfg.API.Port)
	}

	if _, err := Load("does-not-exist.toml"); err == nil {
		t.Error("an explicit missing file should fail")
	}
}

func TestLoad_UnknownKey(t *testing.T) {
	path := writeConfig(t, "[api]\nprot = 1\n")
	_, err := Load(path)
	if err == nil || !strings.Contains(err.Error(), "api.prot") {
		t.Errorf("Load() error = %v, want unknown key api.prot", err)
	}
}

func TestLoad_EnvOverrides(t *testing.T) {
	t.Setenv(EnvDBPath, "/var/lib/loyalty/db.sqlite")
	t.Setenv(EnvAPIPort, "9100")

	cfg, err := Load(writeConfig(t, "[database]\npath = \"file.db\"\n"))
	if err != nil {
		t.Fatalf("Load() error: %v", err)
	}
	if cfg.Database.Path != "/var/lib/loyalty/db.sqlite" {
		t.Errorf("Database.Path = %q", cfg.Database.Path)
	}
	if cfg.Addr() != "127.0.0.1:9100" {
		t.Errorf("Addr() = %q", cfg.Addr())
	}

	t.Setenv(EnvAPIPort, "http")
	if _, err := Load(writeConfig(t, "")); err == nil {
		t.Error("non-numeric port override should fail")
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
		want   string
	}{
		{"port", func(c *Config) { c.API.Port = 0 }, "api.port"},
		{"per euro", func(c *Config) { c.Points.PerEuro = "0" }, "points.per_euro"},
		{"per euro text", func(c *Config) { c.Points.PerEuro = "one" }, "points.per_euro"},
		{"min order", func(c *Config) { c.Referral.MinOrderAmount = "-1" }, "referral.min_order_amount"},
		{"reward", func(c *Config) { c.Referral.RewardPoints = -1 }, "referral.reward_points"},
		{"window", func(c *Config) { c.Spend.Window = "0" }, "spend.window"},
		{"bad duration", func(c *Config) { c.Jobs.LeaseTTL = "ten minutes" }, "jobs.lease_ttl"},
		{"negative interval", func(c *Config) { c.Spend.Interval = "-1h" }, "spend.interval"},
		{"log level", func(c *Config) { c.Log.Level = "loud" }, "log.level"},
		{"log format", func(c *Config) { c.Log.Format = "xml" }, "log.format"},
		{"db path", func(c *Config) { c.Database.Path = " " }, "database.path"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tt.mutate(&cfg)
			err := cfg.Validate()
			if err == nil || !strings.Contains(err.Error(), tt.want) {
				t.Errorf("Validate() = %v, want error mentioning %q", err, tt.want)
			}
		})
	}
}

func TestValidate_ZeroIntervalDisablesSchedule(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Spend.Interval = "0"
	cfg.Tiers.RecomputeInterval = ""
	if err := cfg.Validate(); err != nil {
		t.Fatalf("Validate() = %v", err)
	}
	ec := cfg.Engine()
	if ec.SpendInterval != 0 || ec.TierInterval != 0 {
		t.Errorf("intervals = %v/%v, want manual only", ec.SpendInterval, ec.TierInterval)
	}
}

// chdir changes the working directory for the duration of the test and
// restores it on cleanup (equivalent of testing.T.Chdir, which needs Go 1.24).
func chdir(t *testing.T, dir string) {
	t.Helper()
	prev, err := os.Getwd()
	if err != nil {
		t.Fatal(err)
	}
	if err := os.Chdir(dir); err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() {
		if err := os.Chdir(prev); err != nil {
			t.Fatal(err)
		}
	})
}
