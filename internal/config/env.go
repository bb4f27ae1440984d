// Package config provides application configuration.
package config

import (
	"fmt"
	"time"

	"github.com/kelseyhightower/envconfig"
)

// envPrefix is stripped from every environment variable name below.
const envPrefix = "TRACKSYNC"

// EnvConfig holds all environment-based configuration. Field names map
// to environment variables with the TRACKSYNC_ prefix; nested structs
// use an underscore delimiter (e.g. TRACKSYNC_REPO_BASE_URL).
type EnvConfig struct {
	// Host is the admin server host to bind to.
	// Env: TRACKSYNC_HOST (default: 0.0.0.0)
	Host string `envconfig:"HOST" default:"0.0.0.0"`

	// Port is the admin server port.
	// Env: TRACKSYNC_PORT (default: 8983)
	Port int `envconfig:"PORT" default:"8983"`

	// DBURL is the index database connection URL.
	// Env: TRACKSYNC_DB_URL
	// Default: sqlite:///{data_dir}/tracksync.db
	DBURL string `envconfig:"DB_URL"`

	// DataDir is the data directory path.
	// Env: TRACKSYNC_DATA_DIR (default: ~/.tracksync)
	DataDir string `envconfig:"DATA_DIR"`

	// LogLevel is the log verbosity level.
	// Env: TRACKSYNC_LOG_LEVEL (default: INFO)
	LogLevel string `envconfig:"LOG_LEVEL" default:"INFO"`

	// LogFormat is the log output format (pretty or json).
	// Env: TRACKSYNC_LOG_FORMAT (default: pretty)
	LogFormat string `envconfig:"LOG_FORMAT" default:"pretty"`

	// Core is the core name this instance tracks.
	// Env: TRACKSYNC_CORE (default: alfresco)
	Core string `envconfig:"CORE" default:"alfresco"`

	// Tenant is the default tenant domain.
	// Env: TRACKSYNC_TENANT
	Tenant string `envconfig:"TENANT"`

	// APIKeys lists keys accepted for mutating admin API requests.
	// Env: TRACKSYNC_API_KEYS (comma-separated)
	APIKeys []string `envconfig:"API_KEYS"`

	// ShardsFile is the path to the shard policy YAML file.
	// Env: TRACKSYNC_SHARDS_FILE
	ShardsFile string `envconfig:"SHARDS_FILE"`

	// Repo configures the content repository connection.
	Repo RepoEnv `envconfig:"REPO"`

	// Tracker configures the polling trackers.
	Tracker TrackerEnv `envconfig:"TRACKER"`

	// Health configures the index health reporter.
	Health HealthEnv `envconfig:"HEALTH"`
}

// RepoEnv holds environment configuration for the repository client.
type RepoEnv struct {
	// BaseURL is the repository pull API base URL.
	// Env: TRACKSYNC_REPO_BASE_URL
	BaseURL string `envconfig:"BASE_URL"`

	// Timeout is the request timeout in seconds.
	// Env: TRACKSYNC_REPO_TIMEOUT (default: 30)
	Timeout float64 `envconfig:"TIMEOUT" default:"30"`

	// MaxRetries is the maximum number of request retries.
	// Env: TRACKSYNC_REPO_MAX_RETRIES (default: 3)
	MaxRetries int `envconfig:"MAX_RETRIES" default:"3"`
}

// TrackerEnv holds environment configuration for the trackers.
type TrackerEnv struct {
	// Interval is the poll cadence in seconds.
	// Env: TRACKSYNC_TRACKER_INTERVAL (default: 15)
	Interval float64 `envconfig:"INTERVAL" default:"15"`

	// ContentInterval is the content pass cadence in seconds. The
	// content pass runs slower than metadata on purpose.
	// Env: TRACKSYNC_TRACKER_CONTENT_INTERVAL (default: 60)
	ContentInterval float64 `envconfig:"CONTENT_INTERVAL" default:"60"`

	// BatchSize bounds the number of transactions or change-sets per run.
	// Env: TRACKSYNC_TRACKER_BATCH_SIZE (default: 2000)
	BatchSize int `envconfig:"BATCH_SIZE" default:"2000"`

	// NodeBatchSize bounds the number of nodes per metadata fetch.
	// Env: TRACKSYNC_TRACKER_NODE_BATCH_SIZE (default: 50)
	NodeBatchSize int `envconfig:"NODE_BATCH_SIZE" default:"50"`

	// HoleRetention is the out-of-order commit tolerance in seconds.
	// Env: TRACKSYNC_TRACKER_HOLE_RETENTION (default: 3600)
	HoleRetention float64 `envconfig:"HOLE_RETENTION" default:"3600"`

	// CascadeEnabled toggles cascade tracking of descendant paths.
	// Env: TRACKSYNC_TRACKER_CASCADE_ENABLED (default: true)
	CascadeEnabled bool `envconfig:"CASCADE_ENABLED" default:"true"`

	// ContentEnabled toggles the decoupled content-fetch pass.
	// Env: TRACKSYNC_TRACKER_CONTENT_ENABLED (default: true)
	ContentEnabled bool `envconfig:"CONTENT_ENABLED" default:"true"`

	// CacheSize bounds the recently-processed id caches.
	// Env: TRACKSYNC_TRACKER_CACHE_SIZE (default: 4096)
	CacheSize int `envconfig:"CACHE_SIZE" default:"4096"`
}

// HealthEnv holds environment configuration for the health reporter.
type HealthEnv struct {
	// WindowSize is the id-space window per facet query.
	// Env: TRACKSYNC_HEALTH_WINDOW_SIZE (default: 2048)
	WindowSize int64 `envconfig:"WINDOW_SIZE" default:"2048"`

	// Parallelism bounds concurrent facet windows.
	// Env: TRACKSYNC_HEALTH_PARALLELISM (default: 4)
	Parallelism int `envconfig:"PARALLELISM" default:"4"`
}

// LoadEnv reads EnvConfig from the environment.
func LoadEnv() (EnvConfig, error) {
	var env EnvConfig
	if err := envconfig.Process(envPrefix, &env); err != nil {
		return EnvConfig{}, fmt.Errorf("process environment: %w", err)
	}
	return env, nil
}

// seconds converts a float64 seconds value to a Duration.
func seconds(v float64) time.Duration {
	return time.Duration(v * float64(time.Second))
}
