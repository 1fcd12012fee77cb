package cli

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/tutu-network/loyalty/internal/api"
	"github.com/tutu-network/loyalty/internal/app/admin"
)

const shutdownTimeout = 15 * time.Second

func newServeCmd(o *options) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP API and the scheduled jobs",
		Long: `Serve the loyalty HTTP API and run spend aggregation and tier resolution
on their configured intervals. SIGINT or SIGTERM drains in-flight requests
and waits for running jobs before exiting.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runServe(cmd, o)
		},
	}
}

func runServe(cmd *cobra.Command, o *options) error {
	rt, err := o.open(cmd, true)
	if err != nil {
		return err
	}
	defer rt.Close()

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	rt.engine.Start(ctx)

	srv := api.NewServer(rt.engine, admin.New(rt.engine, rt.log), rt.log)
	if rt.cfg.API.Metrics {
		srv.EnableMetrics()
	}
	srv.SetRateLimit(rt.cfg.API.RateLimit, rt.cfg.API.RateBurst)

	httpSrv := &http.Server{
		Addr:              rt.cfg.Addr(),
		Handler:           srv.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		rt.log.Info("listening", "addr", httpSrv.Addr, "db", rt.cfg.Database.Path)
		if err := httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	var serveErr error
	select {
	case <-ctx.Done():
		rt.log.Info("shutting down")
	case serveErr = <-errCh:
	}
	stop()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := httpSrv.Shutdown(shutdownCtx); err != nil && serveErr == nil {
		serveErr = err
	}
	rt.engine.Wait()
	return serveErr
}
