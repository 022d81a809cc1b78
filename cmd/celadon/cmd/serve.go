package cmd

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/celadon-dev/celadon/internal/auth"
	"github.com/celadon-dev/celadon/internal/config"
	"github.com/celadon-dev/celadon/internal/engine"
	"github.com/celadon-dev/celadon/internal/metrics"
	"github.com/celadon-dev/celadon/internal/relay"
	"github.com/celadon-dev/celadon/internal/server"
	"github.com/celadon-dev/celadon/internal/state"
	"github.com/celadon-dev/celadon/internal/workflow"
)

var servePort int

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the HTTP API server",
	Long:  "Start the HTTP API server. With CELADON_DB_PATH set the server runs multi-tenant against the database; otherwise it serves the single-tenant file workspace.",
	RunE:  runServe,
}

func init() {
	rootCmd.AddCommand(serveCmd)
	serveCmd.Flags().IntVar(&servePort, "port", 0, "Listen port (overrides CELADON_HTTP_PORT)")
}

func runServe(_ *cobra.Command, _ []string) error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}
	if servePort != 0 {
		cfg.HTTPPort = servePort
	}
	logger := newLogger(cfg)
	logger.Info().
		Int("port", cfg.HTTPPort).
		Bool("multi_tenant", cfg.MultiTenant()).
		Msg("starting celadon server")

	var (
		backend state.Backend
		authSvc *auth.Service
		db      *state.DB
	)
	resolver := config.NewResolver(nil, logger)
	if cfg.MultiTenant() {
		db, err = state.OpenDB(cfg.DBPath, cfg.Storage(), logger)
		if err != nil {
			return err
		}
		defer db.Close()
		backend = db
		resolver = config.NewResolver(db, logger)
		authSvc = auth.New(db, cfg.TokenSecret, cfg.TokenTTL, cfg.AdminEmail, logger)
		go sweepTokens(db, logger)
	} else {
		backend = state.NewFileBackend(logger)
	}

	m := metrics.New()
	gw := engine.NewGateway(resolver, cfg.EngineURL, cfg.SessionDir(), logger)
	svc := workflow.New(backend, gw, relay.New(logger), m, "", logger)
	srv := server.New(cfg, svc, authSvc, db, m, logger)

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigCh
		logger.Info().Msg("shutting down")
		_ = srv.Shutdown()
	}()

	return srv.Start()
}

// sweepTokens periodically removes expired token rows so revoked and
// stale sessions do not accumulate in the database. Runs for the life
// of the process.
func sweepTokens(db *state.DB, logger zerolog.Logger) {
	ticker := time.NewTicker(time.Hour)
	defer ticker.Stop()
	for range ticker.C {
		n, err := db.CleanupTokens(context.Background())
		if err != nil {
			logger.Warn().Err(err).Msg("token cleanup failed")
			continue
		}
		if n > 0 {
			logger.Info().Int("removed", n).Msg("expired tokens removed")
		}
	}
}
