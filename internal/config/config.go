package config

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"
)

// Default configuration values.
const (
	DefaultHost            = "0.0.0.0"
	DefaultPort            = 8983
	DefaultLogLevel        = "INFO"
	DefaultCore            = "alfresco"
	DefaultBatchSize       = 2000
	DefaultNodeBatchSize   = 50
	DefaultCacheSize       = 4096
	DefaultWindowSize      = int64(2048)
	DefaultParallelism     = 4
	DefaultTrackerInterval = 15 * time.Second
	DefaultContentInterval = 60 * time.Second
	DefaultHoleRetention   = time.Hour
	DefaultRepoTimeout     = 30 * time.Second
	DefaultRepoMaxRetries  = 3
)

// LogFormat represents the log output format.
type LogFormat string

// LogFormat values.
const (
	LogFormatPretty LogFormat = "pretty"
	LogFormatJSON   LogFormat = "json"
)

// RepoConfig configures the content repository connection.
type RepoConfig struct {
	baseURL    string
	timeout    time.Duration
	maxRetries int
}

// NewRepoConfig creates a RepoConfig with defaults.
func NewRepoConfig(baseURL string) RepoConfig {
	return RepoConfig{
		baseURL:    baseURL,
		timeout:    DefaultRepoTimeout,
		maxRetries: DefaultRepoMaxRetries,
	}
}

// BaseURL returns the repository API base URL.
func (r RepoConfig) BaseURL() string { return r.baseURL }

// Timeout returns the request timeout.
func (r RepoConfig) Timeout() time.Duration { return r.timeout }

// MaxRetries returns the maximum request retry count.
func (r RepoConfig) MaxRetries() int { return r.maxRetries }

// WithTimeout returns a copy with the given timeout.
func (r RepoConfig) WithTimeout(d time.Duration) RepoConfig {
	r.timeout = d
	return r
}

// WithMaxRetries returns a copy with the given retry count.
func (r RepoConfig) WithMaxRetries(n int) RepoConfig {
	r.maxRetries = n
	return r
}

// TrackerConfig configures the polling trackers.
type TrackerConfig struct {
	interval        time.Duration
	contentInterval time.Duration
	batchSize       int
	nodeBatchSize   int
	holeRetention   time.Duration
	cascadeEnabled  bool
	contentEnabled  bool
	cacheSize       int
}

// NewTrackerConfig creates a TrackerConfig with defaults.
func NewTrackerConfig() TrackerConfig {
	return TrackerConfig{
		interval:        DefaultTrackerInterval,
		contentInterval: DefaultContentInterval,
		batchSize:       DefaultBatchSize,
		nodeBatchSize:   DefaultNodeBatchSize,
		holeRetention:   DefaultHoleRetention,
		cascadeEnabled:  true,
		contentEnabled:  true,
		cacheSize:       DefaultCacheSize,
	}
}

// Interval returns the poll cadence.
func (t TrackerConfig) Interval() time.Duration { return t.interval }

// ContentInterval returns the content pass cadence.
func (t TrackerConfig) ContentInterval() time.Duration { return t.contentInterval }

// BatchSize returns the per-run transaction batch bound.
func (t TrackerConfig) BatchSize() int { return t.batchSize }

// NodeBatchSize returns the per-fetch node batch bound.
func (t TrackerConfig) NodeBatchSize() int { return t.nodeBatchSize }

// HoleRetention returns the out-of-order commit tolerance window.
func (t TrackerConfig) HoleRetention() time.Duration { return t.holeRetention }

// CascadeEnabled reports whether cascade tracking is on.
func (t TrackerConfig) CascadeEnabled() bool { return t.cascadeEnabled }

// ContentEnabled reports whether the content pass is on.
func (t TrackerConfig) ContentEnabled() bool { return t.contentEnabled }

// CacheSize returns the recently-processed id cache capacity.
func (t TrackerConfig) CacheSize() int { return t.cacheSize }

// WithInterval returns a copy with the given poll cadence.
func (t TrackerConfig) WithInterval(d time.Duration) TrackerConfig {
	t.interval = d
	return t
}

// WithContentInterval returns a copy with the given content cadence.
func (t TrackerConfig) WithContentInterval(d time.Duration) TrackerConfig {
	t.contentInterval = d
	return t
}

// WithBatchSize returns a copy with the given batch bound.
func (t TrackerConfig) WithBatchSize(n int) TrackerConfig {
	if n > 0 {
		t.batchSize = n
	}
	return t
}

// WithNodeBatchSize returns a copy with the given node batch bound.
func (t TrackerConfig) WithNodeBatchSize(n int) TrackerConfig {
	if n > 0 {
		t.nodeBatchSize = n
	}
	return t
}

// WithHoleRetention returns a copy with the given retention window.
func (t TrackerConfig) WithHoleRetention(d time.Duration) TrackerConfig {
	t.holeRetention = d
	return t
}

// WithCascadeEnabled returns a copy with cascade tracking toggled.
func (t TrackerConfig) WithCascadeEnabled(enabled bool) TrackerConfig {
	t.cascadeEnabled = enabled
	return t
}

// WithContentEnabled returns a copy with the content pass toggled.
func (t TrackerConfig) WithContentEnabled(enabled bool) TrackerConfig {
	t.contentEnabled = enabled
	return t
}

// WithCacheSize returns a copy with the given cache capacity.
func (t TrackerConfig) WithCacheSize(n int) TrackerConfig {
	if n > 0 {
		t.cacheSize = n
	}
	return t
}

// HealthConfig configures the index health reporter.
type HealthConfig struct {
	windowSize  int64
	parallelism int
}

// NewHealthConfig creates a HealthConfig with defaults.
func NewHealthConfig() HealthConfig {
	return HealthConfig{
		windowSize:  DefaultWindowSize,
		parallelism: DefaultParallelism,
	}
}

// WindowSize returns the id-space window per facet query.
func (h HealthConfig) WindowSize() int64 { return h.windowSize }

// Parallelism returns the concurrent window bound.
func (h HealthConfig) Parallelism() int { return h.parallelism }

// WithWindowSize returns a copy with the given window size.
func (h HealthConfig) WithWindowSize(n int64) HealthConfig {
	if n > 0 {
		h.windowSize = n
	}
	return h
}

// WithParallelism returns a copy with the given parallelism bound.
func (h HealthConfig) WithParallelism(n int) HealthConfig {
	if n > 0 {
		h.parallelism = n
	}
	return h
}

// AppConfig is the assembled, immutable application configuration.
type AppConfig struct {
	host       string
	port       int
	dataDir    string
	dbURL      string
	logLevel   string
	logFormat  LogFormat
	core       string
	tenant     string
	shardsFile string
	apiKeys    []string
	repo       RepoConfig
	tracker    TrackerConfig
	health     HealthConfig
}

// NewAppConfig creates an AppConfig with defaults.
func NewAppConfig() AppConfig {
	return AppConfig{
		host:      DefaultHost,
		port:      DefaultPort,
		logLevel:  DefaultLogLevel,
		logFormat: LogFormatPretty,
		core:      DefaultCore,
		tracker:   NewTrackerConfig(),
		health:    NewHealthConfig(),
	}
}

// FromEnv converts an EnvConfig into an AppConfig.
func FromEnv(env EnvConfig) AppConfig {
	cfg := NewAppConfig()
	cfg.host = env.Host
	cfg.port = env.Port
	cfg.dataDir = env.DataDir
	cfg.dbURL = env.DBURL
	cfg.logLevel = env.LogLevel
	cfg.logFormat = LogFormat(env.LogFormat)
	cfg.core = env.Core
	cfg.tenant = env.Tenant
	cfg.shardsFile = env.ShardsFile
	cfg.apiKeys = env.APIKeys
	cfg.repo = NewRepoConfig(env.Repo.BaseURL).
		WithTimeout(seconds(env.Repo.Timeout)).
		WithMaxRetries(env.Repo.MaxRetries)
	cfg.tracker = NewTrackerConfig().
		WithInterval(seconds(env.Tracker.Interval)).
		WithContentInterval(seconds(env.Tracker.ContentInterval)).
		WithBatchSize(env.Tracker.BatchSize).
		WithNodeBatchSize(env.Tracker.NodeBatchSize).
		WithHoleRetention(seconds(env.Tracker.HoleRetention)).
		WithCascadeEnabled(env.Tracker.CascadeEnabled).
		WithContentEnabled(env.Tracker.ContentEnabled).
		WithCacheSize(env.Tracker.CacheSize)
	cfg.health = NewHealthConfig().
		WithWindowSize(env.Health.WindowSize).
		WithParallelism(env.Health.Parallelism)
	return cfg
}

// Host returns the admin server host.
func (c AppConfig) Host() string { return c.host }

// Port returns the admin server port.
func (c AppConfig) Port() int { return c.port }

// Addr returns the host:port bind address.
func (c AppConfig) Addr() string {
	return fmt.Sprintf("%s:%d", c.host, c.port)
}

// DataDir returns the data directory, defaulting to ~/.tracksync.
func (c AppConfig) DataDir() string {
	if c.dataDir != "" {
		return c.dataDir
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return ".tracksync"
	}
	return filepath.Join(home, ".tracksync")
}

// DBURL returns the index database URL, defaulting to a SQLite file
// under the data directory.
func (c AppConfig) DBURL() string {
	if c.dbURL != "" {
		return c.dbURL
	}
	return "sqlite:///" + filepath.Join(c.DataDir(), "tracksync.db")
}

// LogLevel returns the log verbosity level.
func (c AppConfig) LogLevel() string { return c.logLevel }

// LogFormat returns the log output format.
func (c AppConfig) LogFormat() LogFormat { return c.logFormat }

// Core returns the tracked core name.
func (c AppConfig) Core() string { return c.core }

// Tenant returns the default tenant domain.
func (c AppConfig) Tenant() string { return c.tenant }

// ShardsFile returns the shard policy file path.
func (c AppConfig) ShardsFile() string { return c.shardsFile }

// APIKeys returns the admin API keys.
func (c AppConfig) APIKeys() []string { return c.apiKeys }

// WithHost returns a copy bound to the given host.
func (c AppConfig) WithHost(host string) AppConfig {
	c.host = host
	return c
}

// WithPort returns a copy bound to the given port.
func (c AppConfig) WithPort(port int) AppConfig {
	c.port = port
	return c
}

// Repo returns the repository client config.
func (c AppConfig) Repo() RepoConfig { return c.repo }

// Tracker returns the tracker config.
func (c AppConfig) Tracker() TrackerConfig { return c.tracker }

// Health returns the health reporter config.
func (c AppConfig) Health() HealthConfig { return c.health }

// PrepareDataDir ensures the data directory exists and returns it.
func (c AppConfig) PrepareDataDir() (string, error) {
	dir := c.DataDir()
	if err := os.MkdirAll(dir, 0o750); err != nil {
		return "", fmt.Errorf("create data dir: %w", err)
	}
	return dir, nil
}

// LogAttrs returns slog attributes for logging the configuration.
// Credentials inside a Postgres URL are masked.
func (c AppConfig) LogAttrs() []slog.Attr {
	return []slog.Attr{
		slog.String("core", c.core),
		slog.String("addr", c.Addr()),
		slog.String("db_url", c.maskedDBURL()),
		slog.String("repo_base_url", c.repo.BaseURL()),
		slog.String("log_level", c.logLevel),
		slog.Duration("tracker_interval", c.tracker.Interval()),
		slog.Duration("hole_retention", c.tracker.HoleRetention()),
		slog.Bool("cascade_enabled", c.tracker.CascadeEnabled()),
		slog.Bool("content_enabled", c.tracker.ContentEnabled()),
	}
}

func (c AppConfig) maskedDBURL() string {
	url := c.DBURL()
	if strings.HasPrefix(url, "sqlite:") {
		return url
	}
	return "postgres://***@***"
}
