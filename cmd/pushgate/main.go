package main

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/pagerapp/pushgate/internal/api"
	"github.com/pagerapp/pushgate/internal/config"
	"github.com/pagerapp/pushgate/internal/credential"
	"github.com/pagerapp/pushgate/internal/delivery"
	"github.com/pagerapp/pushgate/internal/dispatch"
	"github.com/pagerapp/pushgate/internal/gateway"
	"github.com/pagerapp/pushgate/internal/storage"
)

var version = "0.1.0"

func main() {
	rootCmd := &cobra.Command{
		Use:   "pushgate",
		Short: "pushgate - push-notification delivery service",
	}

	var configPath string
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "", "path to config file")

	rootCmd.AddCommand(serveCmd(&configPath))
	rootCmd.AddCommand(migrateCmd(&configPath))
	rootCmd.AddCommand(metricsCmd(&configPath))
	rootCmd.AddCommand(versionCmd())

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func serveCmd(configPath *string) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Start the pushgate server",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(*configPath)
			if err != nil {
				return fmt.Errorf("failed to load config: %w", err)
			}

			log := setupLogger(cfg.Logging)

			store, err := setupStorage(cfg.Storage, log)
			if err != nil {
				return fmt.Errorf("failed to setup storage: %w", err)
			}
			defer store.Close()

			if err := store.Migrate(context.Background()); err != nil {
				return fmt.Errorf("failed to run migrations: %w", err)
			}
			log.Info().Msg("database migrations completed")

			transport, session := setupTransport(cfg.APNS, log)

			worker := delivery.NewWorker(store, transport, cfg.APNS.BundleID, cfg.Queue.MaxAttempts, cfg.Queue.BackoffBase, log)
			pool := delivery.NewPool(cfg.Queue, worker, store, log)

			policy := dispatch.NewPolicy(store, transport, store, cfg.APNS.BundleID, log)
			policy.RegisterClearTokenFunc(store.ClearLiveActivityToken)
			worker.SetDeadTokenHook(policy.HandleDeadLiveToken)

			ctx, cancel := context.WithCancel(context.Background())
			defer cancel()
			pool.Start(ctx)

			server := api.NewServer(cfg.Server, store, policy, log)
			go func() {
				if err := server.Start(); err != nil && err != http.ErrServerClosed {
					log.Fatal().Err(err).Msg("server error")
				}
			}()

			log.Info().
				Str("version", version).
				Int("port", cfg.Server.Port).
				Int("workers", cfg.Queue.Workers).
				Bool("mock_transport", session == nil).
				Msg("pushgate is running")

			quit := make(chan os.Signal, 1)
			signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
			<-quit

			log.Info().Msg("shutting down...")

			// Drain order: stop taking jobs, let active sends finish,
			// then drop the gateway connection and the HTTP server.
			pool.Stop()
			if session != nil {
				session.Close()
			}
			if err := server.Shutdown(10 * time.Second); err != nil {
				log.Error().Err(err).Msg("server shutdown error")
			}

			log.Info().Msg("pushgate stopped")
			return nil
		},
	}
}

func migrateCmd(configPath *string) *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Run database migrations",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(*configPath)
			if err != nil {
				return fmt.Errorf("failed to load config: %w", err)
			}

			log := setupLogger(cfg.Logging)

			store, err := setupStorage(cfg.Storage, log)
			if err != nil {
				return fmt.Errorf("failed to setup storage: %w", err)
			}
			defer store.Close()

			if err := store.Migrate(context.Background()); err != nil {
				return fmt.Errorf("migration failed: %w", err)
			}

			log.Info().Msg("migrations completed successfully")
			return nil
		},
	}
}

func metricsCmd(configPath *string) *cobra.Command {
	return &cobra.Command{
		Use:   "metrics",
		Short: "Print queue metrics",
		RunE: func(cmd *cobra.Command, args []string) error {
			store, cleanup, err := storeFromConfig(*configPath)
			if err != nil {
				return err
			}
			defer cleanup()

			metrics, err := store.QueueMetrics(context.Background())
			if err != nil {
				return fmt.Errorf("failed to get queue metrics: %w", err)
			}

			out, _ := json.MarshalIndent(metrics, "", "  ")
			fmt.Println(string(out))
			return nil
		},
	}
}

func versionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Printf("pushgate v%s\n", version)
		},
	}
}

func setupLogger(cfg config.LoggingConfig) zerolog.Logger {
	level, err := zerolog.ParseLevel(cfg.Level)
	if err != nil {
		level = zerolog.InfoLevel
	}
	zerolog.SetGlobalLevel(level)

	if cfg.Format == "console" {
		return zerolog.New(zerolog.ConsoleWriter{Out: os.Stdout}).
			With().Timestamp().Logger()
	}
	return zerolog.New(os.Stdout).With().Timestamp().Logger()
}

func setupStorage(cfg config.StorageConfig, log zerolog.Logger) (storage.Storage, error) {
	switch cfg.Driver {
	case "sqlite":
		log.Info().Str("path", cfg.SQLite.Path).Msg("using SQLite storage")
		return storage.NewSQLite(cfg.SQLite.Path)
	default:
		return nil, fmt.Errorf("unsupported storage driver: %s", cfg.Driver)
	}
}

// setupTransport builds the gateway session, or a logging mock when no
// signing key is configured so development setups keep working.
func setupTransport(cfg config.APNSConfig, log zerolog.Logger) (gateway.Transport, *gateway.Session) {
	if cfg.KeyPath == "" {
		log.Warn().Msg("no APNs signing key configured, using mock transport")
		return gateway.NewMockTransport(log), nil
	}

	creds, err := credential.NewProviderFromFile(cfg.KeyPath, cfg.KeyID, cfg.TeamID)
	if err != nil {
		log.Error().Err(err).Msg("failed to load APNs signing key, using mock transport")
		return gateway.NewMockTransport(log), nil
	}

	host := gateway.HostSandbox
	if cfg.Production {
		host = gateway.HostProduction
	}
	session := gateway.NewSession(gateway.SessionConfig{
		Host:           host,
		ConnectTimeout: cfg.ConnectTimeout,
		RequestTimeout: cfg.RequestTimeout,
	}, creds, log)
	return session, session
}

func storeFromConfig(configPath string) (storage.Storage, func(), error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to load config: %w", err)
	}

	log := setupLogger(cfg.Logging)
	store, err := setupStorage(cfg.Storage, log)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to setup storage: %w", err)
	}

	if err := store.Migrate(context.Background()); err != nil {
		store.Close()
		return nil, nil, fmt.Errorf("failed to run migrations: %w", err)
	}

	return store, func() { store.Close() }, nil
}
