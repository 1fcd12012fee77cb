// Package spend computes trailing spend per account from completed orders and
// publishes versioned spend snapshots.
//
// A run:
//  1. Takes the cross-process job lease
//  2. Sums amount_ht of completed orders inside the trailing window
//  3. Publishes a new snapshot that includes every eligible account
//
// A failed run leaves the previous snapshot in place.
package spend

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/tutu-network/loyalty/internal/domain"
	"github.com/tutu-network/loyalty/internal/infra/observability"
	"github.com/tutu-network/loyalty/internal/infra/sqlite"
)

// JobName is the lease and run-log name of the aggregation job.
const JobName = "spend-aggregation"

// Config controls the aggregation window and population.
type Config struct {
	Window   time.Duration         // trailing window (default: 8760h)
	LeaseTTL time.Duration         // job lease expiry (default: 10m)
	Eligible sqlite.EligibleFilter // ranking population
}

// DefaultConfig returns a 12-month window over active B2B accounts.
func DefaultConfig() Config {
	return Config{
		Window:   365 * 24 * time.Hour,
		LeaseTTL: 10 * time.Minute,
	}
}

// Aggregator builds spend snapshots.
type Aggregator struct {
	db     *sqlite.DB
	cfg    Config
	log    *slog.Logger
	holder string
}

// New creates an aggregator.
func New(cfg Config, db *sqlite.DB, logger *slog.Logger) *Aggregator {
	if logger == nil {
		logger = slog.Default()
	}
	return &Aggregator{
		db:     db,
		cfg:    cfg,
		log:    logger.With("component", "spend"),
		holder: uuid.New().String(),
	}
}

// Run aggregates completed orders in (now-window, now] and publishes the result.
func (a *Aggregator) Run(ctx context.Context, now time.Time) (*domain.SpendSnapshot, error) {
	now = now.UTC()
	ok, err := a.db.AcquireLease(ctx, JobName, a.holder, now, a.cfg.LeaseTTL)
	if err != nil {
		return nil, fmt.Errorf("acquire lease: %w", err)
	}
	if !ok {
		return nil, domain.ErrLeaseHeld
	}
	defer func() {
		if err := a.db.ReleaseLease(context.WithoutCancel(ctx), JobName, a.holder); err != nil {
			a.log.Warn("release lease failed", "error", err)
		}
	}()

	snap := &domain.SpendSnapshot{
		StartedAt:   now,
		WindowStart: now.Add(-a.cfg.Window),
		WindowEnd:   now,
	}

	ids, err := a.db.ListEligibleAccountIDs(ctx, a.cfg.Eligible)
	if err != nil {
		return nil, fmt.Errorf("list eligible accounts: %w", err)
	}
	totals := make(map[string]decimal.Decimal, len(ids))
	for _, id := range ids {
		totals[id] = decimal.Zero
	}

	var orders int
	err = a.db.ForEachCompletedOrder(ctx, snap.WindowStart, snap.WindowEnd, func(accountID string, amount decimal.Decimal) error {
		if err := ctx.Err(); err != nil {
			return err
		}
		sum, eligible := totals[accountID]
		if !eligible {
			return nil
		}
		totals[accountID] = sum.Add(amount)
		orders++
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("scan orders: %w", err)
	}

	snap.Entries = make([]domain.SpendEntry, 0, len(totals))
	for id, sum := range totals {
		snap.Entries = append(snap.Entries, domain.SpendEntry{AccountID: id, Spend: sum})
	}
	sort.Slice(snap.Entries, func(i, j int) bool { return snap.Entries[i].AccountID < snap.Entries[j].AccountID })

	snap.ComputedAt = time.Now().UTC()
	version, err := a.db.PublishSpendSnapshot(ctx, *snap)
	if err != nil {
		return nil, fmt.Errorf("publish spend snapshot: %w", err)
	}
	snap.Version = version

	observability.SnapshotVersion.WithLabelValues("spend").Set(float64(version))
	a.log.Info("spend snapshot published",
		"version", version, "accounts", len(snap.Entries), "orders", orders,
		"window_start", snap.WindowStart, "window_end", snap.WindowEnd)
	return snap, nil
}
