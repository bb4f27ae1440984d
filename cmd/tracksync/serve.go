package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/tracksync/tracksync"
	"github.com/tracksync/tracksync/infrastructure/api"
	v1 "github.com/tracksync/tracksync/infrastructure/api/v1"
	"github.com/tracksync/tracksync/internal/log"
)

func serveCmd() *cobra.Command {
	var (
		envFile string
		host    string
		port    int
	)

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the trackers and the HTTP admin API",
		Long: `Start the trackers and the HTTP admin API.

Configuration is loaded in the following order (later sources override earlier):
  1. Default values
  2. .env file (if --env-file specified or .env exists in current directory)
  3. Environment variables
  4. Command line flags

Environment variables:
  TRACKSYNC_HOST                   Server host to bind to (default: 0.0.0.0)
  TRACKSYNC_PORT                   Server port to listen on (default: 8983)
  TRACKSYNC_DATA_DIR               Data directory (default: ~/.tracksync)
  TRACKSYNC_DB_URL                 Index database URL (default: sqlite:///{data_dir}/tracksync.db)
  TRACKSYNC_LOG_LEVEL              Log level: DEBUG, INFO, WARN, ERROR (default: INFO)
  TRACKSYNC_LOG_FORMAT             Log format: pretty, json (default: pretty)
  TRACKSYNC_CORE                   Core name this instance tracks (default: alfresco)
  TRACKSYNC_TENANT                 Default tenant domain
  TRACKSYNC_API_KEYS               Comma-separated admin API keys
  TRACKSYNC_SHARDS_FILE            Shard policy YAML file

  TRACKSYNC_REPO_*                 Content repository connection
    BASE_URL                       Repository API base URL (required)
    TIMEOUT                        Request timeout in seconds (default: 30)
    MAX_RETRIES                    Retry attempts (default: 3)

  TRACKSYNC_TRACKER_*              Tracker polling
    INTERVAL                       Metadata/ACL poll interval in seconds (default: 15)
    CONTENT_INTERVAL               Content poll interval in seconds (default: 60)
    BATCH_SIZE                     Transactions per poll (default: 2000)
    NODE_BATCH_SIZE                Nodes per metadata fetch (default: 50)
    HOLE_RETENTION                 Commit-time hole rescan window in seconds (default: 3600)
    CASCADE_ENABLED                Track descendant path cascades (default: true)
    CONTENT_ENABLED                Track content updates (default: true)
    CACHE_SIZE                     Processed-id cache size (default: 4096)

  TRACKSYNC_HEALTH_*               Consistency reporting
    WINDOW_SIZE                    Facet window width (default: 2048)
    PARALLELISM                    Concurrent facet windows (default: 4)`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(envFile, host, port)
		},
	}

	cmd.Flags().StringVar(&envFile, "env-file", "", "Path to .env file (default: .env in current directory)")
	cmd.Flags().StringVar(&host, "host", "", "Server host to bind to (default: 0.0.0.0)")
	cmd.Flags().IntVar(&port, "port", 0, "Server port to listen on (default: 8983)")

	return cmd
}

func runServe(envFile, host string, port int) error {
	cfg, err := loadConfig(envFile)
	if err != nil {
		return err
	}
	if host != "" {
		cfg = cfg.WithHost(host)
	}
	if port != 0 {
		cfg = cfg.WithPort(port)
	}
	addr := cfg.Addr()

	dataDir, err := cfg.PrepareDataDir()
	if err != nil {
		return err
	}

	logger := log.New(os.Stderr, log.Format(cfg.LogFormat()), cfg.LogLevel())

	opts := []tracksync.Option{
		tracksync.WithDataDir(dataDir),
		tracksync.WithLogger(logger),
		tracksync.WithCore(cfg.Core()),
		tracksync.WithRepoConfig(cfg.Repo()),
		tracksync.WithTrackerConfig(cfg.Tracker()),
		tracksync.WithHealthConfig(cfg.Health()),
	}

	dbURL := cfg.DBURL()
	if strings.HasPrefix(dbURL, "sqlite:///") {
		opts = append(opts, tracksync.WithSQLite(strings.TrimPrefix(dbURL, "sqlite:///")))
	} else {
		opts = append(opts, tracksync.WithPostgres(dbURL))
	}

	if tenant := cfg.Tenant(); tenant != "" {
		opts = append(opts, tracksync.WithTenant(tenant))
	}
	if keys := cfg.APIKeys(); len(keys) > 0 {
		opts = append(opts, tracksync.WithAPIKeys(keys...))
	}
	if shards := cfg.ShardsFile(); shards != "" {
		opts = append(opts, tracksync.WithShardsFile(shards))
	}

	attrs := append([]slog.Attr{slog.String("version", version)}, cfg.LogAttrs()...)
	logger.LogAttrs(context.Background(), slog.LevelInfo, "starting tracksync", attrs...)

	client, err := tracksync.New(opts...)
	if err != nil {
		return fmt.Errorf("create tracksync client: %w", err)
	}
	defer func() {
		if err := client.Close(); err != nil {
			logger.Error("failed to close tracksync client", slog.Any("error", err))
		}
	}()

	cores := map[string]v1.Core{
		client.Core(): {Admin: client.Admin, Shards: client.Shards},
	}
	adminServer := api.NewAdminServer(cores, cfg.APIKeys(), logger)

	router := adminServer.Router()
	router.Get("/health", healthHandler)
	router.Get("/healthz", healthHandler)
	router.Get("/", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		_, _ = fmt.Fprintf(w, `{"name":"tracksync","version":"%s","core":"%s"}`, version, client.Core())
	})
	adminServer.MountRoutes()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		<-sigChan
		logger.Info("shutting down server")
		cancel()
		if err := adminServer.Shutdown(ctx); err != nil {
			logger.Error("shutdown error", slog.Any("error", err))
		}
	}()

	logger.Info("starting admin server", slog.String("addr", addr))
	if err := adminServer.ListenAndServe(addr); err != nil {
		return fmt.Errorf("server error: %w", err)
	}
	return nil
}

func healthHandler(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte(`{"status":"healthy"}`))
}
