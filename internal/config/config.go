// Package config loads service configuration from an optional YAML file and
// the environment.
package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Storage backends.
const (
	BackendMemory   = "memory"
	BackendPostgres = "postgres"
	BackendBolt     = "bolt"
)

// Config holds the configuration for the service.
type Config struct {
	HTTP struct {
		Port            int           `mapstructure:"port"`
		ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
	} `mapstructure:"http"`
	Database struct {
		URL string `mapstructure:"url"`
	} `mapstructure:"database"`
	Storage struct {
		Rules         string `mapstructure:"rules"`
		Logs          string `mapstructure:"logs"`
		BoltPath      string `mapstructure:"bolt_path"`
		MemoryPerRule int    `mapstructure:"memory_per_rule"`
	} `mapstructure:"storage"`
	Cache struct {
		TTL       time.Duration `mapstructure:"ttl"`
		RedisAddr string        `mapstructure:"redis_addr"`
	} `mapstructure:"cache"`
	Scheduler struct {
		Enabled bool `mapstructure:"enabled"`
	} `mapstructure:"scheduler"`
	Webhook struct {
		DefaultTimeout time.Duration `mapstructure:"default_timeout"`
		DefaultRetries int           `mapstructure:"default_retries"`
		MaxConcurrency int           `mapstructure:"max_concurrency"`
		UserAgent      string        `mapstructure:"user_agent"`
	} `mapstructure:"webhook"`
	Log struct {
		Level      string `mapstructure:"level"`
		SampleRate int    `mapstructure:"sample_rate"`
		OTEL       bool   `mapstructure:"otel"`
	} `mapstructure:"log"`
}

// New returns a viper instance with every key defaulted and bound to the
// environment. AUTOMATE_HTTP_PORT sets http.port; DATABASE_URL, PORT,
// LOG_LEVEL and OTEL_ENABLED are honored as well.
func New() *viper.Viper {
	v := viper.New()

	v.SetDefault("http.port", 8080)
	v.SetDefault("http.shutdown_timeout", 30*time.Second)
	v.SetDefault("database.url", "")
	v.SetDefault("storage.rules", BackendMemory)
	v.SetDefault("storage.logs", BackendMemory)
	v.SetDefault("storage.bolt_path", "automate.db")
	v.SetDefault("storage.memory_per_rule", 500)
	v.SetDefault("cache.ttl", 30*time.Second)
	v.SetDefault("cache.redis_addr", "")
	v.SetDefault("scheduler.enabled", true)
	v.SetDefault("webhook.default_timeout", 10*time.Second)
	v.SetDefault("webhook.default_retries", 3)
	v.SetDefault("webhook.max_concurrency", 4)
	v.SetDefault("webhook.user_agent", "automate-webhook/1.0")
	v.SetDefault("log.level", "INFO")
	v.SetDefault("log.sample_rate", 1)
	v.SetDefault("log.otel", false)

	v.SetEnvPrefix("AUTOMATE")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	_ = v.BindEnv("database.url", "AUTOMATE_DATABASE_URL", "DATABASE_URL")
	_ = v.BindEnv("http.port", "AUTOMATE_HTTP_PORT", "PORT")
	_ = v.BindEnv("log.level", "AUTOMATE_LOG_LEVEL", "LOG_LEVEL")
	_ = v.BindEnv("log.otel", "AUTOMATE_LOG_OTEL", "OTEL_ENABLED")

	return v
}

// Load reads file, if given, into v and decodes the result. Values from the
// environment and bound flags win over the file.
func Load(v *viper.Viper, file string) (*Config, error) {
	if file != "" {
		v.SetConfigFile(file)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("read config %s: %w", file, err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate reports every inconsistent setting at once.
func (c *Config) Validate() error {
	var errs []error

	if c.HTTP.Port <= 0 || c.HTTP.Port > 65535 {
		errs = append(errs, fmt.Errorf("http.port %d out of range", c.HTTP.Port))
	}
	switch c.Storage.Rules {
	case BackendMemory, BackendPostgres:
	default:
		errs = append(errs, fmt.Errorf("storage.rules must be memory or postgres, got %q", c.Storage.Rules))
	}
	switch c.Storage.Logs {
	case BackendMemory, BackendPostgres:
	case BackendBolt:
		if c.Storage.BoltPath == "" {
			errs = append(errs, errors.New("storage.bolt_path is required for bolt logs"))
		}
	default:
		errs = append(errs, fmt.Errorf("storage.logs must be memory, postgres or bolt, got %q", c.Storage.Logs))
	}
	if c.usesPostgres() && c.Database.URL == "" {
		errs = append(errs, errors.New("database.url is required for postgres storage"))
	}
	if c.Webhook.DefaultTimeout < time.Second || c.Webhook.DefaultTimeout > 30*time.Second {
		errs = append(errs, fmt.Errorf("webhook.default_timeout %s must be between 1s and 30s", c.Webhook.DefaultTimeout))
	}
	if c.Webhook.DefaultRetries < 0 || c.Webhook.DefaultRetries > 10 {
		errs = append(errs, fmt.Errorf("webhook.default_retries %d must be between 0 and 10", c.Webhook.DefaultRetries))
	}
	if c.Webhook.MaxConcurrency < 1 {
		errs = append(errs, errors.New("webhook.max_concurrency must be at least 1"))
	}

	return errors.Join(errs...)
}

func (c *Config) usesPostgres() bool {
	return c.Storage.Rules == BackendPostgres || c.Storage.Logs == BackendPostgres
}
