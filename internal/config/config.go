// Package config provides configuration management using Viper
package config

import (
	"fmt"
	"log"
	"path/filepath"
	"sync"

	"github.com/spf13/viper"
)

// Environment types
const (
	Development = "development"
	Production  = "production"
	Test        = "test"
)

// LogLevel represents the logging level for the application
type LogLevel string

// Available log levels
const (
	LogLevelDebug LogLevel = "debug"
	LogLevelInfo  LogLevel = "info"
	LogLevelWarn  LogLevel = "warn"
	LogLevelError LogLevel = "error"
)

// Database types
const (
	SQLiteDatabase     = "sqlite"
	ClickHouseDatabase = "clickhouse"
)

// Config holds all configuration parameters for the application
type Config struct {
	// Application settings
	AppName     string   `mapstructure:"appname"`
	AppPort     string   `mapstructure:"appport"`
	Environment string   `mapstructure:"environment"`
	LogLevel    LogLevel `mapstructure:"loglevel"`

	// File paths
	DatabasePath string `mapstructure:"storagepath"`
	DatabaseName string `mapstructure:"-"` // Derived from other settings
	GeoDBPath    string `mapstructure:"geodbpath"`

	// Logging settings
	LogsDirectory    string `mapstructure:"logsdir"`
	LogsMaxSizeInMb  int    `mapstructure:"logsmaxsizeinmb"`
	LogsMaxBackups   int    `mapstructure:"logsmaxbackups"`
	LogsMaxAgeInDays int    `mapstructure:"logsmaxageindays"`

	// Database settings
	DatabaseType         string `mapstructure:"dbtype"`
	DatabaseMaxOpenConns int    `mapstructure:"dbmaxopenconns"`
	DatabaseMaxIdleConns int    `mapstructure:"dbmaxidleconns"`

	// ClickHouse settings, used when dbtype is clickhouse
	ClickHouseAddr     string `mapstructure:"clickhouseaddr"`
	ClickHouseDatabase string `mapstructure:"clickhousedatabase"`
	ClickHouseUser     string `mapstructure:"clickhouseuser"`
	ClickHousePassword string `mapstructure:"clickhousepassword"`

	// Query evaluation settings
	QueryWorkers      int `mapstructure:"queryworkers"`
	ActorPageSize     int `mapstructure:"actorpagesize"`
	ExperimentSamples int `mapstructure:"experimentsamples"`
}

var (
	cfg  *Config
	once sync.Once
)

// GetConfig returns the application configuration
func GetConfig() *Config {
	once.Do(func() {
		v := viper.New()

		// Set defaults
		v.SetDefault("appname", "insightcore")
		v.SetDefault("appport", "3000")
		v.SetDefault("environment", Development)
		v.SetDefault("loglevel", string(LogLevelDebug))
		v.SetDefault("storagepath", "storage")
		v.SetDefault("geodbpath", "storage/GeoLite2-City.mmdb")
		v.SetDefault("logsdir", "logs")
		v.SetDefault("logsmaxsizeinmb", 20)
		v.SetDefault("logsmaxbackups", 10)
		v.SetDefault("logsmaxageindays", 30)
		v.SetDefault("dbtype", SQLiteDatabase)
		v.SetDefault("dbmaxopenconns", 0)
		v.SetDefault("dbmaxidleconns", 0)
		v.SetDefault("clickhouseaddr", "localhost:9000")
		v.SetDefault("clickhousedatabase", "insightcore")
		v.SetDefault("clickhouseuser", "default")
		v.SetDefault("clickhousepassword", "")
		v.SetDefault("queryworkers", 0) // 0 = GOMAXPROCS
		v.SetDefault("actorpagesize", 100)
		v.SetDefault("experimentsamples", 20000)

		// Bind environment variables
		v.BindEnv("appname", "INSIGHTCORE_APP_NAME")
		v.BindEnv("appport", "INSIGHTCORE_APP_PORT")
		v.BindEnv("environment", "INSIGHTCORE_ENV")
		v.BindEnv("loglevel", "INSIGHTCORE_LOG_LEVEL")
		v.BindEnv("storagepath", "INSIGHTCORE_STORAGE_PATH")
		v.BindEnv("geodbpath", "INSIGHTCORE_GEO_DB_PATH")
		v.BindEnv("logsdir", "INSIGHTCORE_LOGS_DIR")
		v.BindEnv("logsmaxsizeinmb", "INSIGHTCORE_LOGS_MAX_SIZE_IN_MB")
		v.BindEnv("logsmaxbackups", "INSIGHTCORE_LOGS_MAX_BACKUPS")
		v.BindEnv("logsmaxageindays", "INSIGHTCORE_LOGS_MAX_AGE_IN_DAYS")
		v.BindEnv("dbtype", "INSIGHTCORE_DB_TYPE")
		v.BindEnv("dbmaxopenconns", "INSIGHTCORE_DB_MAX_OPEN_CONNS")
		v.BindEnv("dbmaxidleconns", "INSIGHTCORE_DB_MAX_IDLE_CONNS")
		v.BindEnv("clickhouseaddr", "INSIGHTCORE_CLICKHOUSE_ADDR")
		v.BindEnv("clickhousedatabase", "INSIGHTCORE_CLICKHOUSE_DATABASE")
		v.BindEnv("clickhouseuser", "INSIGHTCORE_CLICKHOUSE_USER")
		v.BindEnv("clickhousepassword", "INSIGHTCORE_CLICKHOUSE_PASSWORD")
		v.BindEnv("queryworkers", "INSIGHTCORE_QUERY_WORKERS")
		v.BindEnv("actorpagesize", "INSIGHTCORE_ACTOR_PAGE_SIZE")
		v.BindEnv("experimentsamples", "INSIGHTCORE_EXPERIMENT_SAMPLES")

		cfg = &Config{}
		if err := v.Unmarshal(cfg); err != nil {
			log.Fatalf("config: failed to unmarshal configuration: %v", err)
		}

		// Validate
		if err := cfg.validate(); err != nil {
			log.Fatalf("config: invalid configuration: %v", err)
		}

		// Set derived values
		cfg.DatabaseName = cfg.GetDatabasePath()
	})
	return cfg
}

// validate checks the configuration for errors
func (c *Config) validate() error {
	validEnvs := map[string]bool{
		Development: true,
		Production:  true,
		Test:        true,
	}
	if !validEnvs[c.Environment] {
		return fmt.Errorf("invalid environment: %s", c.Environment)
	}

	validDBTypes := map[string]bool{
		SQLiteDatabase:     true,
		ClickHouseDatabase: true,
	}
	if !validDBTypes[c.DatabaseType] {
		return fmt.Errorf("invalid database type: %s", c.DatabaseType)
	}

	return nil
}

// GetDatabasePath returns the appropriate database path based on environment
func (c *Config) GetDatabasePath() string {
	if c.DatabaseName == "" {
		c.DatabaseName = filepath.Join(c.DatabasePath,
			fmt.Sprintf("%s-%s.db", c.AppName, c.Environment))
	}
	return c.DatabaseName
}

// IsDevelopment returns true if the environment is development
func (c *Config) IsDevelopment() bool {
	return c.Environment == Development
}

// IsProduction returns true if the environment is production
func (c *Config) IsProduction() bool {
	return c.Environment == Production
}

// IsTest returns true if the environment is test
func (c *Config) IsTest() bool {
	return c.Environment == Test
}

// GetMaxOpenConns returns the appropriate MaxOpenConns value based on environment
// If explicitly set via env var, uses that value. Otherwise:
// - Test: 1 (required for E2E test stability)
// - Development/Production: 10 (allows concurrent reads for parallel queries)
func (c *Config) GetMaxOpenConns() int {
	if c.DatabaseMaxOpenConns > 0 {
		return c.DatabaseMaxOpenConns
	}

	if c.Environment == Test {
		return 1
	}
	return 10
}

// GetMaxIdleConns returns the appropriate MaxIdleConns value based on environment
func (c *Config) GetMaxIdleConns() int {
	if c.DatabaseMaxIdleConns > 0 {
		return c.DatabaseMaxIdleConns
	}

	if c.Environment == Test {
		return 1
	}
	return 5
}
