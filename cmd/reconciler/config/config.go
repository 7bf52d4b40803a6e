// Package config loads reconciler settings from flags, environment, an
// optional config file and a .env file, and turns them into the component
// configurations used by the commands.
package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"

	"settlement-reconciler/internal/api"
	"settlement-reconciler/internal/ingest"
	"settlement-reconciler/internal/reconciler"
	"settlement-reconciler/internal/store/sqlstore"
	"settlement-reconciler/pkg/errors"
	"settlement-reconciler/pkg/logger"
)

// EnvPrefix is prepended to every environment variable, so server.addr is
// read from RECONCILER_SERVER_ADDR.
const EnvPrefix = "RECONCILER"

const (
	DriverMemory = "memory"
	DriverMySQL  = "mysql"
)

// Config is the full set of reconciler settings.
type Config struct {
	Server  ServerConfig  `mapstructure:"server"`
	Store   StoreConfig   `mapstructure:"store"`
	Redis   RedisConfig   `mapstructure:"redis"`
	Summary SummaryConfig `mapstructure:"summary"`
	Upload  UploadConfig  `mapstructure:"upload"`
	Log     LogConfig     `mapstructure:"log"`
}

// ServerConfig configures the HTTP API. A zero RateLimit disables request
// throttling.
type ServerConfig struct {
	Addr            string        `mapstructure:"addr"`
	CORSOrigins     []string      `mapstructure:"cors_origins"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
	RateLimit       float64       `mapstructure:"rate_limit"`
	RateBurst       int           `mapstructure:"rate_burst"`
}

type StoreConfig struct {
	Driver    string `mapstructure:"driver"`
	DSN       string `mapstructure:"dsn"`
	BatchSize int    `mapstructure:"batch_size"`
	Tracing   bool   `mapstructure:"tracing"`
}

// RedisConfig enables the distributed period lock when Addr is set.
type RedisConfig struct {
	Addr     string        `mapstructure:"addr"`
	Password string        `mapstructure:"password"`
	DB       int           `mapstructure:"db"`
	LockTTL  time.Duration `mapstructure:"lock_ttl"`
}

type SummaryConfig struct {
	Retries   int           `mapstructure:"retries"`
	RetryBase time.Duration `mapstructure:"retry_base"`
	CacheTTL  time.Duration `mapstructure:"cache_ttl"`
}

type UploadConfig struct {
	MaxBytes int64 `mapstructure:"max_bytes"`
}

type LogConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
	Output string `mapstructure:"output"`
	File   string `mapstructure:"file"`
}

// SetDefaults registers the default of every key on v. Keys must have a
// default for AutomaticEnv to reach them during Unmarshal.
func SetDefaults(v *viper.Viper) {
	v.SetDefault("server.addr", api.DefaultConfig().Addr)
	v.SetDefault("server.cors_origins", []string{"*"})
	v.SetDefault("server.shutdown_timeout", api.DefaultConfig().ShutdownTimeout)
	v.SetDefault("server.rate_limit", api.DefaultConfig().RateLimit)
	v.SetDefault("server.rate_burst", api.DefaultConfig().RateBurst)

	v.SetDefault("store.driver", DriverMemory)
	v.SetDefault("store.dsn", "")
	v.SetDefault("store.batch_size", sqlstore.DefaultConfig().BatchSize)
	v.SetDefault("store.tracing", true)

	v.SetDefault("redis.addr", "")
	v.SetDefault("redis.password", "")
	v.SetDefault("redis.db", 0)
	v.SetDefault("redis.lock_ttl", 5*time.Minute)

	v.SetDefault("summary.retries", reconciler.DefaultMaxRetries)
	v.SetDefault("summary.retry_base", reconciler.DefaultRetryBase)
	v.SetDefault("summary.cache_ttl", time.Duration(0))

	v.SetDefault("upload.max_bytes", ingest.DefaultMaxUploadBytes)

	v.SetDefault("log.level", string(logger.InfoLevel))
	v.SetDefault("log.format", string(logger.TextFormat))
	v.SetDefault("log.output", string(logger.StderrOutput))
	v.SetDefault("log.file", "")
}

// BindEnv makes v read RECONCILER_* variables, with dots in keys mapped to
// underscores.
func BindEnv(v *viper.Viper) {
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))
	v.AutomaticEnv()
}

// LoadDotEnv loads KEY=VALUE pairs from the given files into the process
// environment without overriding variables that are already set. Missing
// files are ignored.
func LoadDotEnv(paths ...string) error {
	if len(paths) == 0 {
		paths = []string{".env"}
	}
	for _, path := range paths {
		if _, err := os.Stat(path); os.IsNotExist(err) {
			continue
		}
		if err := godotenv.Load(path); err != nil {
			return errors.ConfigurationError(errors.CodeInvalidConfig, "env_file", path, err)
		}
	}
	return nil
}

// Load reads the settings from v and validates them.
func Load(v *viper.Viper) (*Config, error) {
	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, errors.ConfigurationError(errors.CodeInvalidConfig, "config", v.ConfigFileUsed(), err)
	}
	cfg.Server.CORSOrigins = splitList(cfg.Server.CORSOrigins)
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// splitList flattens comma separated entries, which is how a list arrives
// from a single environment variable.
func splitList(in []string) []string {
	var out []string
	for _, item := range in {
		for _, part := range strings.Split(item, ",") {
			if part = strings.TrimSpace(part); part != "" {
				out = append(out, part)
			}
		}
	}
	return out
}

// Validate checks every setting that has a closed set of values or a lower
// bound.
func (c *Config) Validate() error {
	switch c.Store.Driver {
	case DriverMemory:
	case DriverMySQL:
		if strings.TrimSpace(c.Store.DSN) == "" {
			return errors.ConfigurationError(errors.CodeMissingConfig, "store.dsn", "", nil)
		}
	default:
		return errors.ConfigurationError(errors.CodeInvalidConfig, "store.driver", c.Store.Driver,
			fmt.Errorf("expected %s or %s", DriverMemory, DriverMySQL))
	}
	if c.Server.RateLimit < 0 {
		return errors.ConfigurationError(errors.CodeInvalidConfig, "server.rate_limit", c.Server.RateLimit, nil)
	}
	if c.Server.RateLimit > 0 && c.Server.RateBurst <= 0 {
		return errors.ConfigurationError(errors.CodeInvalidConfig, "server.rate_burst", c.Server.RateBurst, nil)
	}
	if c.Store.BatchSize <= 0 {
		return errors.ConfigurationError(errors.CodeInvalidConfig, "store.batch_size", c.Store.BatchSize, nil)
	}
	if c.Summary.Retries < 0 {
		return errors.ConfigurationError(errors.CodeInvalidConfig, "summary.retries", c.Summary.Retries, nil)
	}
	if c.Summary.RetryBase < 0 {
		return errors.ConfigurationError(errors.CodeInvalidConfig, "summary.retry_base", c.Summary.RetryBase, nil)
	}
	if c.Upload.MaxBytes <= 0 {
		return errors.ConfigurationError(errors.CodeInvalidConfig, "upload.max_bytes", c.Upload.MaxBytes, nil)
	}
	if err := c.LoggerConfig().Validate(); err != nil {
		return errors.ConfigurationError(errors.CodeInvalidConfig, "log", c.Log, err)
	}
	return nil
}

// LoggerConfig converts the log section.
func (c *Config) LoggerConfig() *logger.Config {
	return &logger.Config{
		Level:  logger.Level(strings.ToLower(c.Log.Level)),
		Format: logger.Format(strings.ToLower(c.Log.Format)),
		Output: logger.Output(strings.ToLower(c.Log.Output)),
		File:   c.Log.File,
	}
}

// SQLConfig converts the store section for the MySQL driver.
func (c *Config) SQLConfig() sqlstore.Config {
	cfg := sqlstore.DefaultConfig()
	cfg.DSN = c.Store.DSN
	cfg.BatchSize = c.Store.BatchSize
	cfg.Tracing = c.Store.Tracing
	return cfg
}

// APIConfig converts the server section.
func (c *Config) APIConfig() api.Config {
	cfg := api.DefaultConfig()
	cfg.Addr = c.Server.Addr
	cfg.CORSOrigins = c.Server.CORSOrigins
	cfg.MaxUploadBytes = c.Upload.MaxBytes
	cfg.RateLimit = c.Server.RateLimit
	cfg.RateBurst = c.Server.RateBurst
	if c.Server.ShutdownTimeout > 0 {
		cfg.ShutdownTimeout = c.Server.ShutdownTimeout
	}
	return cfg
}

// AggregatorOptions converts the summary section.
func (c *Config) AggregatorOptions() []reconciler.AggregatorOption {
	return []reconciler.AggregatorOption{
		reconciler.WithRetry(c.Summary.Retries, c.Summary.RetryBase),
		reconciler.WithCacheTTL(c.Summary.CacheTTL),
	}
}
