package commands

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/rsteinwert/csserver/internal/logger"
	"github.com/rsteinwert/csserver/internal/telemetry"
	"github.com/rsteinwert/csserver/pkg/access"
	"github.com/rsteinwert/csserver/pkg/adminhttp"
	"github.com/rsteinwert/csserver/pkg/config"
	"github.com/rsteinwert/csserver/pkg/identity"
	"github.com/rsteinwert/csserver/pkg/metrics"
	"github.com/rsteinwert/csserver/pkg/server"
	"github.com/rsteinwert/csserver/pkg/session"
)

const defaultDB = "db"

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the content server",
	RunE:  runServe,
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg, err := config.MustLoad(GetConfigFile())
	if err != nil {
		return err
	}

	if err := InitLogger(cfg); err != nil {
		return err
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	telemetryShutdown, err := telemetry.Init(ctx, telemetry.Config{
		Enabled:        cfg.Telemetry.Enabled,
		ServiceName:    cfg.Telemetry.ServiceName,
		ServiceVersion: Version,
		Endpoint:       cfg.Telemetry.Endpoint,
		Insecure:       cfg.Telemetry.Insecure,
		SampleRate:     cfg.Telemetry.SampleRate,
	})
	if err != nil {
		return fmt.Errorf("initializing telemetry: %w", err)
	}
	defer func() {
		if err := telemetryShutdown(ctx); err != nil {
			logger.Error("telemetry shutdown error", logger.Err(err))
		}
	}()

	profilingShutdown, err := telemetry.InitProfiling(telemetry.ProfilingConfig{
		Enabled:        cfg.Profiling.Enabled,
		ServiceName:    cfg.Profiling.ApplicationName,
		ServiceVersion: Version,
		Endpoint:       cfg.Profiling.ServerAddress,
		ProfileTypes:   cfg.Profiling.ProfileTypes,
	})
	if err != nil {
		return fmt.Errorf("initializing profiling: %w", err)
	}
	defer func() {
		if err := profilingShutdown(); err != nil {
			logger.Error("profiling shutdown error", logger.Err(err))
		}
	}()

	idm, err := identity.Open(filepath.Join(cfg.Data.RootDir, "accounts"))
	if err != nil {
		return fmt.Errorf("opening account store: %w", err)
	}

	sm, err := session.NewManager()
	if err != nil {
		return fmt.Errorf("starting session manager: %w", err)
	}
	defer func() { _ = sm.Close() }()

	am := access.NewManager()
	if err := am.AddDB(defaultDB, filepath.Join(cfg.Data.RootDir, "collections"), cfg.Data.RulesFile); err != nil {
		return fmt.Errorf("registering database: %w", err)
	}
	if err := bootstrapCollections(am); err != nil {
		return fmt.Errorf("bootstrapping collections: %w", err)
	}

	var reg *metrics.Registry
	if cfg.Metrics.Enabled {
		reg = metrics.NewRegistry()
		adminSrv := &http.Server{Addr: cfg.Metrics.Addr, Handler: adminhttp.NewRouter(reg.Gatherer())}
		go func() {
			if err := adminSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				logger.Error("admin HTTP server stopped", logger.Err(err))
			}
		}()
		defer func() {
			if err := adminSrv.Shutdown(ctx); err != nil {
				logger.Error("admin HTTP server shutdown error", logger.Err(err))
			}
		}()
	}

	srv := server.New(server.Config{
		ListenAddr:  cfg.Server.ListenAddr,
		CertFile:    cfg.Server.CertFile,
		KeyFile:     cfg.Server.KeyFile,
		WorkerCount: cfg.Server.WorkerCount,
		ReadTimeout: cfg.Server.ReadTimeout,
	}, idm, sm, am, reg)

	serveDone := make(chan error, 1)
	go func() { serveDone <- srv.Serve() }()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	select {
	case <-sigCh:
		signal.Stop(sigCh)
		srv.Shutdown()
		return <-serveDone
	case err := <-serveDone:
		return err
	}
}

// bootstrapCollections creates the two top-level collections every
// database needs before it can serve traffic: "users" (private, keyed
// by uid) and "public" (shared, readable by anyone). Both calls are
// idempotent against an already-bootstrapped tree.
func bootstrapCollections(am *access.Manager) error {
	adminCtx := access.Ctx{IsAdmin: true}
	for _, name := range []string{"users", "public"} {
		exists, err := am.CollectionExists(defaultDB, name, adminCtx)
		if err != nil {
			return err
		}
		if exists {
			continue
		}
		if err := am.AddCollection(defaultDB, name, adminCtx); err != nil {
			return err
		}
	}
	return nil
}
