package main

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/loykin/torquelog/internal/metrics"
	"github.com/loykin/torquelog/internal/scheduler"
	"github.com/loykin/torquelog/internal/server"
	tlsconf "github.com/loykin/torquelog/internal/tls"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"
)

func createServeCommand(globalFlags *GlobalFlags) *cobra.Command {
	serveFlags := &ServeFlags{}

	cmd := &cobra.Command{
		Use:   "serve [config.toml]",
		Short: "Poll the log folder and serve the session API",
		Long: `Start the long running importer. Every check_every interval the
watched folder is swept for new Torque logs; when [server] is enabled the
read-only session API (and /metrics) is served alongside.

Examples:
  torquelog serve --config=torquelog.toml
  torquelog serve torquelog.toml --sweep-on-start=false`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			serveFlags.ConfigPath = globalFlags.ConfigPath
			if len(args) > 0 {
				serveFlags.ConfigPath = args[0]
			}
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return runServe(ctx, serveFlags, cmd.ErrOrStderr())
		},
	}

	cmd.Flags().BoolVar(&serveFlags.SweepOnStart, "sweep-on-start", true, "sweep once immediately instead of waiting for the first interval")

	return cmd
}

// runServe blocks until ctx is cancelled. A watched folder that cannot be
// read on the first sweep is fatal; later sweep failures are only logged.
func runServe(ctx context.Context, flags *ServeFlags, console io.Writer) error {
	a, err := openApp(flags.ConfigPath, console, true)
	if err != nil {
		return err
	}
	defer func() { _ = a.Close() }()

	worker, err := a.newWorker()
	if err != nil {
		return fmt.Errorf("init worker: %w", err)
	}
	every, err := a.cfg.TorqueLog.Interval()
	if err != nil {
		return err
	}
	sched, err := scheduler.New(worker, every, a.log)
	if err != nil {
		return err
	}

	srvCfg := a.cfg.Server
	if srvCfg.Metrics {
		if err := metrics.Register(prometheus.DefaultRegisterer); err != nil {
			a.log.Warn("failed to register metrics", "error", err)
		}
	}

	if flags.SweepOnStart {
		if err := worker.RunOnce(ctx); err != nil {
			return err
		}
	}

	var srv *http.Server
	if srvCfg.Enabled {
		tlsCfg, err := tlsconf.Setup(srvCfg.TLS)
		if err != nil {
			return fmt.Errorf("setup tls: %w", err)
		}
		router := server.NewRouter(a.store, worker, srvCfg.BasePath)
		if srvCfg.Metrics {
			router.WithMetrics(metrics.Handler())
		}
		srv = server.NewServer(srvCfg.Listen, router.Handler())
		srv.TLSConfig = tlsCfg
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return sched.Run(gctx) })
	if srv != nil {
		g.Go(func() error { return server.Serve(gctx, srv, a.log.With("component", "http")) })
	}

	a.log.Info("torquelog started",
		"path", a.cfg.TorqueLog.Path,
		"pattern", a.cfg.TorqueLog.Pattern,
		"every", every.String(),
		"api", srvCfg.Enabled,
		"tls", srv != nil && srv.TLSConfig != nil)
	err = g.Wait()
	a.log.Info("torquelog stopped")
	return err
}
