package config

import (
	"testing"

	"github.com/spf13/viper"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadConfig_Defaults(t *testing.T) {
	viper.Reset()
	t.Cleanup(viper.Reset)

	cfg, err := LoadConfig()
	require.NoError(t, err)

	assert.Equal(t, []string{"http://localhost:9200"}, cfg.Elasticsearch.Addresses)
	assert.Equal(t, "localhost:6379", cfg.Redis.Addr)
	assert.Equal(t, 500, cfg.Ingest.BulkSize)
	assert.Equal(t, 4, cfg.Ingest.Workers)
	assert.Equal(t, 25, cfg.Search.DefaultPageSize)
	assert.Equal(t, 1000, cfg.Search.ExportBatchSize)
	assert.Zero(t, cfg.Search.ExportMaxResults, "exports are unbounded by default")
	assert.True(t, cfg.Repair.Enabled)
	assert.False(t, cfg.Repair.DryRun)
	assert.Equal(t, "info", cfg.Logging.Level)
}

func TestLoadConfig_ResolvesSQLitePathFromDataDir(t *testing.T) {
	viper.Reset()
	t.Cleanup(viper.Reset)

	t.Setenv("ARGUS_DATA_DIR", "/var/lib/argus")

	cfg, err := LoadConfig()
	require.NoError(t, err)
	assert.Equal(t, "/var/lib/argus", cfg.DataPaths.DataDir)
	assert.Equal(t, "/var/lib/argus/argus.db", cfg.DataPaths.SQLitePath)
}

func TestLoadConfig_EnvOverrides(t *testing.T) {
	viper.Reset()
	t.Cleanup(viper.Reset)

	t.Setenv("ARGUS_REDIS_ADDR", "redis.internal:6380")
	t.Setenv("ARGUS_LOG_LEVEL", "debug")

	cfg, err := LoadConfig()
	require.NoError(t, err)
	assert.Equal(t, "redis.internal:6380", cfg.Redis.Addr)
	assert.Equal(t, "debug", cfg.Logging.Level)
}

func TestValidateConfig_RejectsBadValues(t *testing.T) {
	valid := func() *Config {
		var cfg Config
		cfg.Elasticsearch.Addresses = []string{"http://localhost:9200"}
		cfg.Ingest.Workers = 4
		cfg.Ingest.BulkSize = 500
		cfg.Repair.IntervalSeconds = 300
		return &cfg
	}

	require.NoError(t, validateConfig(valid()))

	cfg := valid()
	cfg.Elasticsearch.Addresses = nil
	assert.Error(t, validateConfig(cfg))

	cfg = valid()
	cfg.Ingest.Workers = 0
	assert.Error(t, validateConfig(cfg))

	cfg = valid()
	cfg.Ingest.BulkSize = 0
	assert.Error(t, validateConfig(cfg))

	cfg = valid()
	cfg.Repair.IntervalSeconds = 0
	assert.Error(t, validateConfig(cfg))
}

func TestDurationHelpers(t *testing.T) {
	viper.Reset()
	t.Cleanup(viper.Reset)

	cfg, err := LoadConfig()
	require.NoError(t, err)
	assert.Equal(t, "30s", cfg.EngineTimeout().String())
	assert.Equal(t, "2m0s", cfg.ScrollKeepAlive().String())
	assert.Equal(t, "5m0s", cfg.RepairInterval().String())
}
