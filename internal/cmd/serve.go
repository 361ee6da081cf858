package cmd

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"path/filepath"
	"time"

	"github.com/spf13/cobra"

	"github.com/opsdesk/opsdesk/internal/api"
	"github.com/opsdesk/opsdesk/internal/config"
	"github.com/opsdesk/opsdesk/internal/health"
	"github.com/opsdesk/opsdesk/internal/idp"
	"github.com/opsdesk/opsdesk/internal/log"
	"github.com/opsdesk/opsdesk/internal/metrics"
	"github.com/opsdesk/opsdesk/internal/permcache"
	"github.com/opsdesk/opsdesk/internal/server"
	"github.com/opsdesk/opsdesk/internal/session"
	"github.com/opsdesk/opsdesk/internal/tenant"
	"github.com/opsdesk/opsdesk/internal/version"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the opsdesk HTTP server",
	Long: `Start the opsdesk HTTP server.

The server exposes the session and tenant API under /api/v1, Prometheus
metrics under /metrics, and health probe endpoints:
  /health/live    - liveness probe
  /health/ready   - readiness probe
  /health/startup - startup probe
  /healthz        - readiness alias

Configuration comes from OPSDESK_* environment variables and an
optional opsdesk.yaml file. The server shuts down gracefully on SIGINT
or SIGTERM, draining connections up to the configured timeout.`,
	RunE: runServe,
}

func init() {
	rootCmd.AddCommand(serveCmd)
}

func runServe(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()

	cfg, err := config.Load()
	if err != nil {
		return err
	}

	info := version.GetInfo()
	logger := log.New(log.Config{
		Level:          log.ParseLevel(cfg.Logging.Level),
		Format:         log.ParseFormat(cfg.Logging.Format),
		Output:         log.OutputStdout(),
		ServiceName:    "opsdesk",
		ServiceVersion: info.Version,
	})
	log.SetDefaultLogger(logger)

	// Identity and tenant backends.
	signer := idp.NewTokenSigner([]byte(cfg.Auth.SigningKey), cfg.Auth.Issuer, cfg.Auth.TokenTTL)
	provider := idp.NewLocalProvider(signer, idp.LocalProviderConfig{
		MaxFailedAttempts: cfg.Auth.MaxFailedAttempts,
	})

	backend := tenant.NewLocalBackend(provider)
	if cfg.Tenants.SeedFile != "" {
		if err := backend.LoadSeed(cfg.Tenants.SeedFile); err != nil {
			return err
		}
		logger.Info("tenant registry loaded", "seed_file", cfg.Tenants.SeedFile)
	}

	m := metrics.GetDefault()

	// Session machinery.
	dir := tenant.NewDirectory(backend, m, logger)
	cache := permcache.NewCache(5 * time.Minute)
	loader := permcache.NewLoader(cache, backend.FetchAuthorization, backend.FetchWorkflowRoles, m, logger)
	switcher := tenant.NewSwitcher(backend, provider, dir, loader, m, logger)

	statePath := cfg.State.File
	if statePath == "" {
		statePath = defaultStatePath()
	}
	store := session.NewStateStore(statePath)

	coord := session.NewCoordinator(session.Config{
		Provider:  provider,
		Backend:   backend,
		Directory: dir,
		Loader:    loader,
		Switcher:  switcher,
		Store:     store,
		Metrics:   m,
		Logger:    logger,
	})
	defer coord.Close()
	coord.Initialize(ctx)

	// HTTP surface.
	apiHandler := api.New(api.Config{
		Coordinator:        coord,
		Provider:           provider,
		Metrics:            m,
		Logger:             logger,
		LoginRatePerMinute: float64(cfg.RateLimit.LoginPerMinute),
		LoginBurst:         cfg.RateLimit.Burst,
	})

	pm := health.NewProbeManager(info.Version)
	pm.AddChecker(health.NewIdentityProviderChecker(provider))
	pm.AddChecker(health.NewStateStoreChecker(store))

	listenAddr := fmt.Sprintf("%s:%s", cfg.Server.Address, cfg.Server.Port)
	srv := server.New(pm, apiHandler.Router(), metrics.Handler(), server.Config{
		Address:         listenAddr,
		ShutdownTimeout: cfg.Server.ShutdownTimeout,
		ReadTimeout:     cfg.Server.ReadTimeout,
		WriteTimeout:    cfg.Server.WriteTimeout,
		IdleTimeout:     cfg.Server.IdleTimeout,
	})

	logger.Info("opsdesk server starting",
		"version", info.Version,
		"addr", listenAddr,
		"state_file", statePath,
	)

	serverErr := make(chan error, 1)
	go func() {
		if err := srv.Start(); err != nil && err != http.ErrServerClosed {
			serverErr <- err
		}
	}()

	select {
	case err := <-serverErr:
		return fmt.Errorf("server error: %w", err)

	case <-ctx.Done():
		logger.Info("shutdown signal received, draining connections")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout+5*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("shutdown error: %w", err)
		}
		logger.Info("server stopped")
		return nil
	}
}

func defaultStatePath() string {
	base, err := os.UserConfigDir()
	if err != nil {
		return filepath.Join(os.TempDir(), "opsdesk", "state.yaml")
	}
	return filepath.Join(base, "opsdesk", "state.yaml")
}
