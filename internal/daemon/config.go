// Package daemon holds the loyaltyd process configuration.
package daemon

import (
	"errors"
	"fmt"
	"net"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/shopspring/decimal"

	"github.com/tutu-network/loyalty/internal/app/engine"
	"github.com/tutu-network/loyalty/internal/infra/observability"
	"github.com/tutu-network/loyalty/internal/infra/sqlite"
)

// Environment overrides.
const (
	EnvDBPath  = "LOYALTY_DB_PATH"
	EnvAPIPort = "LOYALTY_API_PORT"
)

// DefaultPath is the config file read when --config is not given.
const DefaultPath = "loyalty.toml"

// Config is the loyaltyd configuration file.
type Config struct {
	API      APIConfig      `toml:"api"`
	Database DatabaseConfig `toml:"database"`
	Points   PointsConfig   `toml:"points"`
	Referral ReferralConfig `toml:"referral"`
	Spend    SpendConfig    `toml:"spend"`
	Tiers    TiersConfig    `toml:"tiers"`
	Jobs     JobsConfig     `toml:"jobs"`
	Log      LogConfig      `toml:"log"`
}

// APIConfig configures the HTTP API.
type APIConfig struct {
	Host      string  `toml:"host"`
	Port      int     `toml:"port"`
	Metrics   bool    `toml:"metrics"`
	RateLimit float64 `toml:"rate_limit"` // mutating requests per second per client, 0 = unlimited
	RateBurst int     `toml:"rate_burst"`
}

// DatabaseConfig configures storage.
type DatabaseConfig struct {
	Path string `toml:"path"`
}

// PointsConfig configures accrual.
type PointsConfig struct {
	PerEuro string `toml:"per_euro"`
}

// ReferralConfig configures referral rewards.
type ReferralConfig struct {
	RewardPoints   int64  `toml:"reward_points"`
	MinOrderAmount string `toml:"min_order_amount"`
}

// SpendConfig configures spend aggregation.
type SpendConfig struct {
	Window   string `toml:"window"`
	Interval string `toml:"interval"`
}

// TiersConfig configures tier resolution.
type TiersConfig struct {
	Catalog           string `toml:"catalog"`
	RecomputeInterval string `toml:"recompute_interval"`
	IncludeB2C        bool   `toml:"include_b2c"`
	IncludeInactive   bool   `toml:"include_inactive"`
}

// JobsConfig configures batch jobs.
type JobsConfig struct {
	LeaseTTL string `toml:"lease_ttl"`
	Timeout  string `toml:"timeout"`
	History  int    `toml:"history"`
}

// LogConfig configures logging.
type LogConfig struct {
	Level      string `toml:"level"`
	Format     string `toml:"format"`
	File       string `toml:"file"`
	MaxSizeMB  int    `toml:"max_size_mb"`
	MaxBackups int    `toml:"max_backups"`
}

// DefaultConfig returns the built-in configuration.
func DefaultConfig() Config {
	return Config{
		API: APIConfig{
			Host:      "127.0.0.1",
			Port:      8470,
			Metrics:   true,
			RateLimit: 50,
			RateBurst: 100,
		},
		Database: DatabaseConfig{Path: "loyalty.db"},
		Points:   PointsConfig{PerEuro: "1"},
		Referral: ReferralConfig{RewardPoints: 500, MinOrderAmount: "0"},
		Spend:    SpendConfig{Window: "8760h", Interval: "1h"},
		Tiers:    TiersConfig{RecomputeInterval: "24h"},
		Jobs:     JobsConfig{LeaseTTL: "10m", Timeout: "5m", History: 500},
		Log:      LogConfig{Level: "info", Format: "json", MaxSizeMB: 100, MaxBackups: 5},
	}
}

// Load reads path over the defaults and applies environment overrides. A
// missing file at the default path is not an error.
func Load(path string) (Config, error) {
	cfg := DefaultConfig()
	explicit := path != ""
	if !explicit {
		path = DefaultPath
	}

	meta, err := toml.DecodeFile(path, &cfg)
	switch {
	case errors.Is(err, os.ErrNotExist) && !explicit:
	case err != nil:
		return Config{}, fmt.Errorf("read config %s: %w", path, err)
	default:
		if undecoded := meta.Undecoded(); len(undecoded) > 0 {
			keys := make([]string, len(undecoded))
			for i, k := range undecoded {
				keys[i] = k.String()
			}
			return Config{}, fmt.Errorf("config %s: unknown keys %s", path, strings.Join(keys, ", "))
		}
	}

	if err := cfg.applyEnv(); err != nil {
		return Config{}, err
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (c *Config) applyEnv() error {
	if v := strings.TrimSpace(os.Getenv(EnvDBPath)); v != "" {
		c.Database.Path = v
	}
	if v := strings.TrimSpace(os.Getenv(EnvAPIPort)); v != "" {
		port, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("%s=%q: %w", EnvAPIPort, v, err)
		}
		c.API.Port = port
	}
	return nil
}

// Validate rejects values the engine cannot run with.
func (c Config) Validate() error {
	var errs []error
	if c.API.Port < 1 || c.API.Port > 65535 {
		errs = append(errs, fmt.Errorf("api.port %d out of range", c.API.Port))
	}
	if c.API.RateLimit < 0 || c.API.RateBurst < 0 {
		errs = append(errs, errors.New("api.rate_limit and api.rate_burst must not be negative"))
	}
	if strings.TrimSpace(c.Database.Path) == "" {
		errs = append(errs, errors.New("database.path is required"))
	}
	if d, err := decimal.NewFromString(c.Points.PerEuro); err != nil || !d.IsPositive() {
		errs = append(errs, fmt.Errorf("points.per_euro %q must be a positive number", c.Points.PerEuro))
	}
	if c.Referral.RewardPoints < 0 {
		errs = append(errs, errors.New("referral.reward_points must not be negative"))
	}
	if d, err := decimal.NewFromString(c.Referral.MinOrderAmount); err != nil || d.IsNegative() {
		errs = append(errs, fmt.Errorf("referral.min_order_amount %q must be a non-negative number", c.Referral.MinOrderAmount))
	}
	durations := []struct {
		key, val string
		zeroOK   bool
	}{
		{"spend.window", c.Spend.Window, false},
		{"spend.interval", c.Spend.Interval, true},
		{"tiers.recompute_interval", c.Tiers.RecomputeInterval, true},
		{"jobs.lease_ttl", c.Jobs.LeaseTTL, false},
		{"jobs.timeout", c.Jobs.Timeout, false},
	}
	for _, d := range durations {
		v, err := parseDuration(d.val)
		switch {
		case err != nil:
			errs = append(errs, fmt.Errorf("%s: %w", d.key, err))
		case v < 0, v == 0 && !d.zeroOK:
			errs = append(errs, fmt.Errorf("%s %q must be positive", d.key, d.val))
		}
	}
	if _, err := observability.ParseLevel(c.Log.Level); err != nil {
		errs = append(errs, fmt.Errorf("log.level: %w", err))
	}
	if f := c.Log.Format; f != "json" && f != "text" {
		errs = append(errs, fmt.Errorf("log.format %q must be json or text", f))
	}
	return errors.Join(errs...)
}

// Addr is the API listen address.
func (c Config) Addr() string {
	return net.JoinHostPort(c.API.Host, strconv.Itoa(c.API.Port))
}

// Logging converts the log section.
func (c Config) Logging() observability.LogConfig {
	return observability.LogConfig{
		Level:      c.Log.Level,
		Format:     c.Log.Format,
		File:       c.Log.File,
		MaxSizeMB:  c.Log.MaxSizeMB,
		MaxBackups: c.Log.MaxBackups,
	}
}

// Engine converts the file configuration into engine configuration. Call
// Validate first; Engine assumes well-formed values.
func (c Config) Engine() engine.Config {
	ec := engine.DefaultConfig()
	ec.Points.PerEuro = decimal.RequireFromString(c.Points.PerEuro)
	ec.Referral.RewardPoints = c.Referral.RewardPoints
	ec.Referral.MinOrderAmount = decimal.RequireFromString(c.Referral.MinOrderAmount)
	ec.Spend.Window = mustDuration(c.Spend.Window)
	ec.Spend.LeaseTTL = mustDuration(c.Jobs.LeaseTTL)
	ec.Spend.Eligible = sqlite.EligibleFilter{
		IncludeB2C:      c.Tiers.IncludeB2C,
		IncludeInactive: c.Tiers.IncludeInactive,
	}
	ec.Tiers.LeaseTTL = mustDuration(c.Jobs.LeaseTTL)
	ec.Scheduler.DefaultTimeout = mustDuration(c.Jobs.Timeout)
	ec.SpendInterval = mustDuration(c.Spend.Interval)
	ec.TierInterval = mustDuration(c.Tiers.RecomputeInterval)
	if c.Jobs.History > 0 {
		ec.RunLog.MaxRuns = c.Jobs.History
	}
	return ec
}

func parseDuration(s string) (time.Duration, error) {
	s = strings.TrimSpace(s)
	if s == "" || s == "0" {
		return 0, nil
	}
	return time.ParseDuration(s)
}

func mustDuration(s string) time.Duration {
	d, _ := parseDuration(s)
	return d
}
