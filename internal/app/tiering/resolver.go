package tiering

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/tutu-network/loyalty/internal/domain"
	"github.com/tutu-network/loyalty/internal/infra/observability"
	"github.com/tutu-network/loyalty/internal/infra/sqlite"
)

// JobName is the lease and run-log name of the resolution job.
const JobName = "tier-resolution"

// Config controls the resolver.
type Config struct {
	LeaseTTL time.Duration // job lease expiry (default: 10m)
}

// DefaultConfig returns resolver defaults.
func DefaultConfig() Config {
	return Config{LeaseTTL: 10 * time.Minute}
}

// Resolver recomputes tier assignments from the latest spend snapshot.
type Resolver struct {
	db     *sqlite.DB
	cfg    Config
	log    *slog.Logger
	holder string
}

// NewResolver creates a resolver.
func NewResolver(cfg Config, db *sqlite.DB, logger *slog.Logger) *Resolver {
	if logger == nil {
		logger = slog.Default()
	}
	return &Resolver{
		db:     db,
		cfg:    cfg,
		log:    logger.With("component", "tiering"),
		holder: uuid.New().String(),
	}
}

// Run ranks the latest spend snapshot, publishes a tier snapshot and writes
// computed tiers onto accounts. Accounts that left the ranked population fall
// back to the baseline; admin-pinned accounts keep their tier.
// Same snapshot and same definitions always give the same assignment.
func (r *Resolver) Run(ctx context.Context, now time.Time) (*domain.TierSnapshot, error) {
	now = now.UTC()
	ok, err := r.db.AcquireLease(ctx, JobName, r.holder, now, r.cfg.LeaseTTL)
	if err != nil {
		return nil, fmt.Errorf("acquire lease: %w", err)
	}
	if !ok {
		return nil, domain.ErrLeaseHeld
	}
	defer func() {
		if err := r.db.ReleaseLease(context.WithoutCancel(ctx), JobName, r.holder); err != nil {
			r.log.Warn("release lease failed", "error", err)
		}
	}()

	spend, err := r.db.LatestSpendSnapshot(ctx, true)
	if err != nil {
		return nil, fmt.Errorf("load spend snapshot: %w", err)
	}
	defs, err := r.db.ListTierDefinitions(ctx)
	if err != nil {
		return nil, fmt.Errorf("load tier definitions: %w", err)
	}
	entries, err := Rank(spend.Entries, defs)
	if err != nil {
		return nil, err
	}

	snap := &domain.TierSnapshot{
		SpendVersion: spend.Version,
		StartedAt:    now,
		Entries:      entries,
	}

	var changed int
	err = r.db.WithTx(ctx, func(tx *sqlite.DB) error {
		snap.ComputedAt = time.Now().UTC()
		version, err := tx.PublishTierSnapshot(ctx, *snap)
		if err != nil {
			return err
		}
		snap.Version = version
		for _, e := range entries {
			ok, err := tx.ApplyComputedTier(ctx, e.AccountID, e.TierKey)
			if err != nil {
				return fmt.Errorf("apply tier to %s: %w", e.AccountID, err)
			}
			if ok {
				changed++
			}
		}
		cleared, err := tx.ClearUnrankedComputedTiers(ctx, version)
		if err != nil {
			return fmt.Errorf("clear unranked tiers: %w", err)
		}
		changed += int(cleared)
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("publish tier snapshot: %w", err)
	}

	observability.SnapshotVersion.WithLabelValues("tier").Set(float64(snap.Version))
	r.refreshTierGauge(ctx)
	r.log.Info("tier snapshot published",
		"version", snap.Version, "spend_version", spend.Version,
		"accounts", len(entries), "changed", changed)
	return snap, nil
}

func (r *Resolver) refreshTierGauge(ctx context.Context) {
	counts, err := r.db.CountAccountsByTier(ctx)
	if err != nil {
		r.log.Warn("count accounts by tier failed", "error", err)
		return
	}
	observability.AccountsPerTier.Reset()
	for tier, n := range counts {
		if tier == "" {
			tier = "unassigned"
		}
		observability.AccountsPerTier.WithLabelValues(tier).Set(float64(n))
	}
}
