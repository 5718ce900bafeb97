// Package config loads service configuration from config.yaml and
// ARGUS_-prefixed environment variables, with sane defaults for a
// single-node deployment.
package config

import (
	"fmt"
	"path/filepath"
	"time"

	"github.com/spf13/viper"
)

// DataPaths holds data directory and file path configuration. Paths can
// be overridden via environment variables.
type DataPaths struct {
	// DataDir is the base data directory (ARGUS_DATA_DIR, default: ./data)
	DataDir string `mapstructure:"data_dir"`
	// SQLitePath is the case-file database path (ARGUS_SQLITE_PATH, default: ${DataDir}/argus.db)
	SQLitePath string `mapstructure:"sqlite_path"`
}

// Config holds all configuration for the service.
type Config struct {
	DataPaths DataPaths `mapstructure:"data_paths"`

	Elasticsearch struct {
		Addresses      []string `mapstructure:"addresses"`
		Username       string   `mapstructure:"username"`
		Password       string   `mapstructure:"password"`
		TimeoutSeconds int      `mapstructure:"timeout_seconds"`
	} `mapstructure:"elasticsearch"`

	Redis struct {
		Addr     string `mapstructure:"addr"`
		Password string `mapstructure:"password"`
		DB       int    `mapstructure:"db"`
		PoolSize int    `mapstructure:"pool_size"`
	} `mapstructure:"redis"`

	Ingest struct {
		BulkSize int `mapstructure:"bulk_size"`
		Workers  int `mapstructure:"workers"`
	} `mapstructure:"ingest"`

	Search struct {
		DefaultPageSize        int `mapstructure:"default_page_size"`
		ScrollKeepAliveSeconds int `mapstructure:"scroll_keepalive_seconds"`
		ExportBatchSize        int `mapstructure:"export_batch_size"`
		ExportMaxResults       int `mapstructure:"export_max_results"` // 0 = unbounded
	} `mapstructure:"search"`

	Repair struct {
		Enabled         bool `mapstructure:"enabled"`
		IntervalSeconds int  `mapstructure:"interval_seconds"`
		DryRun          bool `mapstructure:"dry_run"`
	} `mapstructure:"repair"`

	Metrics struct {
		Enabled bool `mapstructure:"enabled"`
		Port    int  `mapstructure:"port"`
	} `mapstructure:"metrics"`

	Logging struct {
		Level string `mapstructure:"level"`
	} `mapstructure:"logging"`
}

func setDefaults() {
	viper.SetDefault("data_paths.data_dir", "./data")
	viper.SetDefault("data_paths.sqlite_path", "") // Empty = derive from data_dir

	viper.SetDefault("elasticsearch.addresses", []string{"http://localhost:9200"})
	viper.SetDefault("elasticsearch.username", "")
	viper.SetDefault("elasticsearch.password", "")
	viper.SetDefault("elasticsearch.timeout_seconds", 30)

	viper.SetDefault("redis.addr", "localhost:6379")
	viper.SetDefault("redis.password", "")
	viper.SetDefault("redis.db", 0)
	viper.SetDefault("redis.pool_size", 10)

	viper.SetDefault("ingest.bulk_size", 500)
	viper.SetDefault("ingest.workers", 4)

	viper.SetDefault("search.default_page_size", 25)
	viper.SetDefault("search.scroll_keepalive_seconds", 120)
	viper.SetDefault("search.export_batch_size", 1000)
	viper.SetDefault("search.export_max_results", 0)

	viper.SetDefault("repair.enabled", true)
	viper.SetDefault("repair.interval_seconds", 300)
	viper.SetDefault("repair.dry_run", false)

	viper.SetDefault("metrics.enabled", true)
	viper.SetDefault("metrics.port", 9090)

	viper.SetDefault("logging.level", "info")
}

func loadFromEnv() {
	viper.SetEnvPrefix("ARGUS")
	viper.AutomaticEnv()

	_ = viper.BindEnv("data_paths.data_dir", "ARGUS_DATA_DIR")
	_ = viper.BindEnv("data_paths.sqlite_path", "ARGUS_SQLITE_PATH")
	_ = viper.BindEnv("redis.addr", "ARGUS_REDIS_ADDR")
	_ = viper.BindEnv("elasticsearch.addresses", "ARGUS_ES_ADDRESSES")
	_ = viper.BindEnv("logging.level", "ARGUS_LOG_LEVEL")
}

func validateConfig(config *Config) error {
	if len(config.Elasticsearch.Addresses) == 0 {
		return fmt.Errorf("elasticsearch.addresses must not be empty")
	}
	if config.Ingest.Workers < 1 {
		return fmt.Errorf("ingest.workers must be at least 1, got %d", config.Ingest.Workers)
	}
	if config.Ingest.BulkSize < 1 {
		return fmt.Errorf("ingest.bulk_size must be at least 1, got %d", config.Ingest.BulkSize)
	}
	if config.Repair.IntervalSeconds < 1 {
		return fmt.Errorf("repair.interval_seconds must be at least 1, got %d", config.Repair.IntervalSeconds)
	}
	return nil
}

// LoadConfig loads configuration from file and environment variables.
func LoadConfig() (*Config, error) {
	viper.SetConfigName("config")
	viper.SetConfigType("yaml")
	viper.AddConfigPath(".")
	viper.AddConfigPath("./config")

	setDefaults()
	loadFromEnv()

	if err := viper.ReadInConfig(); err != nil {
		// Config file not found, will use defaults and env vars
	}

	var config Config
	if err := viper.Unmarshal(&config); err != nil {
		return nil, fmt.Errorf("unable to decode config: %w", err)
	}

	if err := validateConfig(&config); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	config.ResolveDataPaths()
	return &config, nil
}

// ResolveDataPaths derives unset paths from DataDir.
func (c *Config) ResolveDataPaths() {
	dataDir := c.DataPaths.DataDir
	if dataDir == "" {
		dataDir = "./data"
	}
	if c.DataPaths.SQLitePath == "" {
		c.DataPaths.SQLitePath = filepath.Join(dataDir, "argus.db")
	} else if !filepath.IsAbs(c.DataPaths.SQLitePath) {
		c.DataPaths.SQLitePath = filepath.Clean(c.DataPaths.SQLitePath)
	}
	c.DataPaths.DataDir = dataDir
}

// EngineTimeout returns the per-call search engine timeout.
func (c *Config) EngineTimeout() time.Duration {
	return time.Duration(c.Elasticsearch.TimeoutSeconds) * time.Second
}

// ScrollKeepAlive returns how long export cursors stay resident between
// batches.
func (c *Config) ScrollKeepAlive() time.Duration {
	return time.Duration(c.Search.ScrollKeepAliveSeconds) * time.Second
}

// RepairInterval returns the period between consistency sweeps.
func (c *Config) RepairInterval() time.Duration {
	return time.Duration(c.Repair.IntervalSeconds) * time.Second
}
