// Package tracksync keeps a search index consistent with a content
// repository. A Client owns the polling trackers that pull metadata,
// ACL and content changes from the repository, project them into index
// documents, and commit them transactionally, plus the admin services
// that check, fix, reindex and purge the index.
//
// Usage:
//
//	client, err := tracksync.New(
//		tracksync.WithSQLite("/tmp/tracksync.db"),
//		tracksync.WithRepoBaseURL("http://localhost:8080/alfresco"),
//	)
//	if err != nil {
//		log.Fatal(err)
//	}
//	defer client.Close()
//
//	report, err := client.Admin.Check(ctx)
package tracksync

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync/atomic"

	"github.com/tracksync/tracksync/application/service"
	"github.com/tracksync/tracksync/domain/shard"
	"github.com/tracksync/tracksync/infrastructure/index"
	"github.com/tracksync/tracksync/infrastructure/repo"
	"github.com/tracksync/tracksync/internal/config"
	"github.com/tracksync/tracksync/internal/database"
	"github.com/tracksync/tracksync/internal/log"
)

// Client is the top-level tracksync handle. The exported services are
// safe for concurrent use.
type Client struct {
	// Admin exposes check, fix, reindex, purge, retry and summary for
	// the tracked core.
	Admin *service.Admin

	// Shards manages the core's identifier-range policy. Its operations
	// fail with service.ErrNoRangePolicy when no range policy is
	// configured.
	Shards *service.ShardManager

	// Metadata, Acl and Content are the pollers. They are normally
	// driven by the scheduler; with WithoutScheduler their RunOnce can
	// be called directly. Content is nil unless content tracking is
	// enabled.
	Metadata *service.MetadataTracker
	Acl      *service.AclTracker
	Content  *service.ContentTracker

	// Models watches repository content-model diffs and feeds the
	// incompatibility ledger surfaced by Admin.Summary.
	Models *service.ModelMonitor

	core    string
	apiKeys []string

	db        database.Database
	scheduler *service.Scheduler
	logger    *slog.Logger

	cancel context.CancelFunc
	closed atomic.Bool
}

// New creates a Client, opens the index database, runs migrations and,
// unless disabled, starts the background tracker scheduler.
func New(opts ...Option) (*Client, error) {
	cfg := newClientConfig()
	for _, opt := range opts {
		opt(cfg)
	}

	logger := cfg.logger
	if logger == nil {
		logger = log.New(os.Stderr, log.FormatJSON, config.DefaultLogLevel)
	}

	if cfg.repo.BaseURL() == "" {
		return nil, fmt.Errorf("repository base URL is required, use WithRepoBaseURL or WithRepoConfig")
	}

	dbURL, err := resolveDBURL(cfg)
	if err != nil {
		return nil, err
	}

	ctx, cancel := context.WithCancel(context.Background())

	db, err := database.NewDatabase(ctx, dbURL)
	if err != nil {
		cancel()
		return nil, fmt.Errorf("open index database: %w", err)
	}
	if err := index.AutoMigrate(db); err != nil {
		cancel()
		_ = db.Close()
		return nil, fmt.Errorf("migrate index database: %w", err)
	}

	engine := index.NewEngine(db, logger)
	states := index.NewStateStore(db)
	repoClient := repo.NewHTTPClient(cfg.repo.BaseURL(),
		repo.WithTimeout(cfg.repo.Timeout()),
		repo.WithMaxRetries(cfg.repo.MaxRetries()))
	syncer := service.NewSynchronizer(cfg.tenant)
	registry := service.NewRegistry()

	router, rangePolicy, err := loadRouter(cfg.shardsFile)
	if err != nil {
		cancel()
		_ = db.Close()
		return nil, err
	}

	var cascade *service.CascadeTracker
	if cfg.tracker.CascadeEnabled() {
		cascade = service.NewCascadeTracker(cfg.core, repoClient, engine, syncer, registry, nil, nil, logger)
	}

	metadata, err := service.NewMetadataTracker(cfg.core, repoClient, engine, states, syncer, registry, router, cascade, cfg.tracker, logger)
	if err != nil {
		cancel()
		_ = db.Close()
		return nil, err
	}
	aclTracker, err := service.NewAclTracker(cfg.core, repoClient, engine, states, syncer, registry, router, cfg.tracker, logger)
	if err != nil {
		cancel()
		_ = db.Close()
		return nil, err
	}
	var content *service.ContentTracker
	if cfg.tracker.ContentEnabled() {
		content = service.NewContentTracker(cfg.core, repoClient, engine, syncer, registry, cfg.tracker, logger)
	}

	healthReporter := service.NewHealthReporter(engine, cfg.health, logger)
	ledger := service.NewModelLedger(logger)
	admin := service.NewAdmin(cfg.core, repoClient, engine, states, syncer, registry, healthReporter, ledger, logger)
	shardManager := service.NewShardManager(rangePolicy, engine, logger)
	models := service.NewModelMonitor(cfg.core, repoClient, ledger, logger)

	scheduler := service.NewScheduler(logger)
	scheduler.Add(metadata, cfg.tracker.Interval())
	scheduler.Add(aclTracker, cfg.tracker.Interval())
	if content != nil {
		scheduler.Add(content, cfg.tracker.ContentInterval())
	}
	scheduler.Add(models, cfg.tracker.Interval())

	c := &Client{
		Admin:     admin,
		Shards:    shardManager,
		Metadata:  metadata,
		Acl:       aclTracker,
		Content:   content,
		Models:    models,
		core:      cfg.core,
		apiKeys:   cfg.apiKeys,
		db:        db,
		scheduler: scheduler,
		logger:    logger,
		cancel:    cancel,
	}

	if cfg.startScheduler {
		scheduler.Start(ctx)
	}

	logger.Info("tracksync client ready",
		slog.String("core", cfg.core),
		slog.Bool("scheduler", cfg.startScheduler),
		slog.Bool("cascade", cascade != nil),
		slog.Bool("content", content != nil))
	return c, nil
}

// Close stops the scheduler, waits for in-flight tracker runs and
// closes the index database. Close is idempotent.
func (c *Client) Close() error {
	if !c.closed.CompareAndSwap(false, true) {
		return nil
	}
	c.cancel()
	c.scheduler.Stop()
	if err := c.db.Close(); err != nil {
		return fmt.Errorf("close index database: %w", err)
	}
	c.logger.Info("tracksync client closed", slog.String("core", c.core))
	return nil
}

// Core returns the tracked core name.
func (c *Client) Core() string { return c.core }

// APIKeys returns the configured admin API keys.
func (c *Client) APIKeys() []string { return c.apiKeys }

// Logger returns the client's logger.
func (c *Client) Logger() *slog.Logger { return c.logger }

func resolveDBURL(cfg *clientConfig) (string, error) {
	switch cfg.dbType {
	case databaseSQLite:
		if err := os.MkdirAll(filepath.Dir(cfg.sqlitePath), 0o750); err != nil {
			return "", fmt.Errorf("create database dir: %w", err)
		}
		return "sqlite:///" + cfg.sqlitePath, nil
	case databasePostgres:
		return cfg.postgresDSN, nil
	default:
		dir := cfg.dataDir
		if dir == "" {
			home, err := os.UserHomeDir()
			if err != nil {
				return "", fmt.Errorf("resolve home dir: %w", err)
			}
			dir = filepath.Join(home, ".tracksync")
		}
		if err := os.MkdirAll(dir, 0o750); err != nil {
			return "", fmt.Errorf("create data dir: %w", err)
		}
		return "sqlite:///" + filepath.Join(dir, "tracksync.db"), nil
	}
}

// loadRouter builds the shard router from the policy file. A range
// policy comes back wrapped in a LiveRangePolicy, shared between the
// shard manager and the trackers so an expansion published by one is
// immediately visible to the other without a data race.
func loadRouter(path string) (shard.Router, *shard.LiveRangePolicy, error) {
	if path == "" {
		return nil, nil, nil
	}
	sf, err := config.LoadShardsFile(path)
	if err != nil {
		return nil, nil, err
	}
	router, err := sf.Router()
	if err != nil {
		return nil, nil, err
	}
	if rp, ok := router.(shard.RangePolicy); ok {
		live := shard.NewLiveRangePolicy(rp)
		return live, live, nil
	}
	return router, nil, nil
}
