// Package cli implements the loyaltyd command line.
package cli

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"

	"github.com/spf13/cobra"

	"github.com/tutu-network/loyalty/internal/app/engine"
	"github.com/tutu-network/loyalty/internal/daemon"
	"github.com/tutu-network/loyalty/internal/infra/catalog"
	"github.com/tutu-network/loyalty/internal/infra/observability"
	"github.com/tutu-network/loyalty/internal/infra/sqlite"
)

const serviceName = "loyaltyd"

// options are the persistent flags shared by every command.
type options struct {
	configPath string
	yes        bool
}

// NewRootCmd builds the loyaltyd command tree.
func NewRootCmd() *cobra.Command {
	o := &options{}
	root := &cobra.Command{
		Use:   serviceName,
		Short: "Loyalty tier, discount and rewards engine",
		Long: `loyaltyd ranks accounts by trailing spend into discount tiers, keeps
a points ledger, and attributes referral rewards.

Run "loyaltyd serve" for the HTTP API and scheduled jobs. The other commands
open the same database directly for one-off operations.`,
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVarP(&o.configPath, "config", "c", "", "Path to config file (default ./"+daemon.DefaultPath+")")

	root.AddCommand(
		newServeCmd(o),
		newAccountsCmd(o),
		newDiscountCmd(o),
		newPointsCmd(o),
		newReferralCmd(o),
		newTiersCmd(o),
		newJobsCmd(o),
		newAdminCmd(o),
	)
	return root
}

// Execute runs the command line against ctx.
func Execute(ctx context.Context) error {
	return NewRootCmd().ExecuteContext(ctx)
}

// ─── Runtime ────────────────────────────────────────────────────────────────

// runtime is an opened configuration, database and engine.
type runtime struct {
	cfg    daemon.Config
	log    *slog.Logger
	db     *sqlite.DB
	engine *engine.Engine
	closer io.Closer
}

// open loads the configuration and opens the engine. The daemon logs to its
// configured sink; one-off commands log to stderr.
func (o *options) open(cmd *cobra.Command, daemonLogging bool) (*runtime, error) {
	cfg, err := daemon.Load(o.configPath)
	if err != nil {
		return nil, err
	}

	var (
		logger *slog.Logger
		closer io.Closer = nopCloser{}
	)
	if daemonLogging {
		logger, closer, err = observability.SetupLogger(serviceName, cfg.Logging())
		if err != nil {
			return nil, err
		}
	} else {
		level, err := observability.ParseLevel(cfg.Log.Level)
		if err != nil {
			return nil, err
		}
		logger = observability.NewLogger(cmd.ErrOrStderr(), serviceName, level, "text")
	}

	db, err := sqlite.OpenPath(cfg.Database.Path)
	if err != nil {
		closer.Close()
		return nil, fmt.Errorf("open database: %w", err)
	}

	cat := catalog.Default()
	if cfg.Tiers.Catalog != "" {
		if cat, err = catalog.Load(cfg.Tiers.Catalog); err != nil {
			db.Close()
			closer.Close()
			return nil, err
		}
	}
	if err := catalog.Sync(cmd.Context(), db, cat); err != nil {
		db.Close()
		closer.Close()
		return nil, fmt.Errorf("sync catalog: %w", err)
	}

	return &runtime{
		cfg:    cfg,
		log:    logger,
		db:     db,
		engine: engine.New(cfg.Engine(), db, logger),
		closer: closer,
	}, nil
}

func (rt *runtime) Close() error {
	return errors.Join(rt.db.Close(), rt.closer.Close())
}

// withEngine opens the runtime for a one-off command and closes it afterwards.
func (o *options) withEngine(cmd *cobra.Command, fn func(*runtime) error) error {
	rt, err := o.open(cmd, false)
	if err != nil {
		return err
	}
	defer rt.Close()
	return fn(rt)
}

type nopCloser struct{}

func (nopCloser) Close() error { return nil }

func printJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
