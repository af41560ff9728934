package serverrun

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"golang.org/x/sync/errgroup"

	"github.com/dmwm/workqueue/internal/cmd/client/transports"
	cfgpkg "github.com/dmwm/workqueue/internal/config"
	"github.com/dmwm/workqueue/internal/observability"
	"github.com/dmwm/workqueue/internal/queuesync"
	"github.com/dmwm/workqueue/internal/runtime"
	grpcserver "github.com/dmwm/workqueue/internal/server/grpc"
	httpserver "github.com/dmwm/workqueue/internal/server/http"
	logpkg "github.com/dmwm/workqueue/pkg/log"
)

// Options controls Run.
type Options struct {
	Config cfgpkg.Config
	// Logger overrides the logger built from Config.Log.
	Logger logpkg.Logger
	// Parent overrides dialing Config.Queue.ParentURL for local queues.
	Parent queuesync.Parent
}

// LoadConfig reads the config file at path (defaults when empty), applies
// WQ_* environment overrides and fills in the data directory.
func LoadConfig(path string) (cfgpkg.Config, error) {
	cfg := cfgpkg.Default()
	if path != "" {
		var err error
		if cfg, err = cfgpkg.Load(path); err != nil {
			return cfg, err
		}
	}
	if err := cfgpkg.FromEnv(&cfg); err != nil {
		return cfg, err
	}
	if cfg.Storage.DataDir == "" {
		cfg.Storage.DataDir = filepath.Join(cfgpkg.DefaultDataDir(), cfg.Queue.Name)
	}
	return cfg, cfg.Validate()
}

// Run opens the queue, starts its loops and serves gRPC and HTTP until ctx
// is canceled, a server fails, or a loop stops.
func Run(ctx context.Context, opts Options) error {
	sctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()
	cfg := opts.Config

	logger := opts.Logger
	if logger == nil {
		var err error
		if logger, err = logpkg.ApplyConfig(&cfg.Log); err != nil {
			return fmt.Errorf("logger: %w", err)
		}
		restore := logpkg.RedirectStdLog(logger)
		defer restore()
	}

	shutdownTracing, err := observability.InitTracing(sctx, "workqueue", cfg.Queue.Name, cfg.Tracing)
	if err != nil {
		return fmt.Errorf("tracing: %w", err)
	}
	defer func() { _ = shutdownTracing(context.Background()) }()

	parent := opts.Parent
	if parent == nil && cfg.Queue.Kind == cfgpkg.KindLocal {
		tr, err := transports.DialGrpc(cfg.Queue.ParentURL)
		if err != nil {
			return fmt.Errorf("dial parent %s: %w", cfg.Queue.ParentURL, err)
		}
		defer tr.Close()
		parent = tr
	}

	rt, err := runtime.Open(sctx, runtime.Options{Config: cfg, Logger: logger, Parent: parent})
	if err != nil {
		return err
	}
	defer rt.Close()
	if err := rt.Start(sctx); err != nil {
		return fmt.Errorf("start loops: %w", err)
	}

	logger.Info("starting work queue",
		logpkg.Str("queue", cfg.Queue.Name),
		logpkg.Str("kind", cfg.Queue.Kind),
		logpkg.Str("parent", cfg.Queue.ParentURL),
		logpkg.Str("grpc", cfg.Server.GRPCAddr),
		logpkg.Str("http", cfg.Server.HTTPAddr),
		logpkg.Str("store", cfg.Storage.Backend),
		logpkg.Str("handoff", cfg.Handoff.Kind),
	)

	gsrv := grpcserver.New(rt, logger)
	hsrv := httpserver.New(rt, logger)

	g, gctx := errgroup.WithContext(sctx)
	g.Go(func() error { return gsrv.ListenAndServe(gctx, cfg.Server.GRPCAddr) })
	if cfg.Server.HTTPAddr != "" {
		g.Go(func() error { return hsrv.ListenAndServe(gctx, cfg.Server.HTTPAddr) })
	}
	g.Go(func() error {
		select {
		case <-gctx.Done():
			return nil
		case err := <-rt.Failures():
			return fmt.Errorf("queue loop stopped: %w", err)
		}
	})
	err = g.Wait()
	// Stop serving before the store closes.
	gsrv.Close()
	hsrv.Close()
	if err != nil {
		logger.Error("work queue stopped", logpkg.Err(err))
		return err
	}
	logger.Info("work queue stopped")
	return nil
}
