package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tracksync/tracksync/domain/shard"
)

func TestFromEnv(t *testing.T) {
	env := EnvConfig{
		Host:      "127.0.0.1",
		Port:      9999,
		LogLevel:  "DEBUG",
		LogFormat: "json",
		Core:      "archive",
		Tenant:    "t1",
		Repo:      RepoEnv{BaseURL: "http://repo:8080", Timeout: 10, MaxRetries: 2},
		Tracker: TrackerEnv{
			Interval:        5,
			ContentInterval: 30,
			BatchSize:       100,
			NodeBatchSize:   10,
			HoleRetention:   1800,
			CascadeEnabled:  true,
			ContentEnabled:  false,
			CacheSize:       128,
		},
		Health: HealthEnv{WindowSize: 512, Parallelism: 2},
	}

	cfg := FromEnv(env)

	assert.Equal(t, "127.0.0.1:9999", cfg.Addr())
	assert.Equal(t, "archive", cfg.Core())
	assert.Equal(t, "t1", cfg.Tenant())
	assert.Equal(t, LogFormatJSON, cfg.LogFormat())
	assert.Equal(t, 10*time.Second, cfg.Repo().Timeout())
	assert.Equal(t, 5*time.Second, cfg.Tracker().Interval())
	assert.Equal(t, 30*time.Minute, cfg.Tracker().HoleRetention())
	assert.Equal(t, 100, cfg.Tracker().BatchSize())
	assert.False(t, cfg.Tracker().ContentEnabled())
	assert.Equal(t, int64(512), cfg.Health().WindowSize())
}

func TestDBURL_DefaultsToSQLiteUnderDataDir(t *testing.T) {
	cfg := NewAppConfig()
	url := cfg.DBURL()
	assert.Contains(t, url, "sqlite:///")
	assert.Contains(t, url, "tracksync.db")
}

func TestMaskedDBURL(t *testing.T) {
	env := EnvConfig{DBURL: "postgres://user:secret@db:5432/idx"}
	cfg := FromEnv(env)
	for _, attr := range cfg.LogAttrs() {
		assert.NotContains(t, attr.Value.String(), "secret")
	}
}

func TestLoadShardsFile_Range(t *testing.T) {
	path := filepath.Join(t.TempDir(), "shards.yml")
	content := []byte("policy: range\nrange:\n  start: 0\n  end: 1000\n")
	require.NoError(t, os.WriteFile(path, content, 0o600))

	sf, err := LoadShardsFile(path)
	require.NoError(t, err)

	router, err := sf.Router()
	require.NoError(t, err)
	rp, ok := router.(shard.RangePolicy)
	require.True(t, ok)
	assert.Equal(t, int64(1000), rp.End())
	assert.True(t, router.Owns(999))
	assert.False(t, router.Owns(1000))
}

func TestLoadShardsFile_ExplicitLayoutValidated(t *testing.T) {
	path := filepath.Join(t.TempDir(), "shards.yml")
	content := []byte(`policy: explicit
explicit:
  shard_count: 4
  replication_factor: 1
  owned: [0, 1]
  layout:
    node1: [0, 1]
    node2: [3]
`)
	require.NoError(t, os.WriteFile(path, content, 0o600))

	sf, err := LoadShardsFile(path)
	require.NoError(t, err)

	_, err = sf.Router()
	assert.ErrorIs(t, err, shard.ErrShardGap)
}

func TestShardsFile_NoPolicyMeansOwnEverything(t *testing.T) {
	router, err := ShardsFile{}.Router()
	require.NoError(t, err)
	assert.Nil(t, router)
}
