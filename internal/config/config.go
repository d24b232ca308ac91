package config

import (
	"fmt"
	"strings"

	"github.com/rotisserie/eris"
	"github.com/spf13/viper"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Config holds the full application configuration.
type Config struct {
	Store     StoreConfig     `yaml:"store" mapstructure:"store"`
	Registry  RegistryConfig  `yaml:"registry" mapstructure:"registry"`
	Anthropic AnthropicConfig `yaml:"anthropic" mapstructure:"anthropic"`
	Resolve   ResolveConfig   `yaml:"resolve" mapstructure:"resolve"`
	Batch     BatchConfig     `yaml:"batch" mapstructure:"batch"`
	Ownership OwnershipConfig `yaml:"ownership" mapstructure:"ownership"`
	Server    ServerConfig    `yaml:"server" mapstructure:"server"`
	Log       LogConfig       `yaml:"log" mapstructure:"log"`
}

// StoreConfig configures the database backend.
type StoreConfig struct {
	Driver      string `yaml:"driver" mapstructure:"driver"`
	DatabaseURL string `yaml:"database_url" mapstructure:"database_url"`
	SQLitePath  string `yaml:"sqlite_path" mapstructure:"sqlite_path"`
	MaxConns    int32  `yaml:"max_conns" mapstructure:"max_conns"`
	MinConns    int32  `yaml:"min_conns" mapstructure:"min_conns"`
}

// RegistryConfig configures the charity register client.
type RegistryConfig struct {
	Key          string        `yaml:"key" mapstructure:"key"`
	BaseURL      string        `yaml:"base_url" mapstructure:"base_url"`
	Mock         bool          `yaml:"mock" mapstructure:"mock"`
	FixturesPath string        `yaml:"fixtures_path" mapstructure:"fixtures_path"`
	RateLimit    float64       `yaml:"rate_limit" mapstructure:"rate_limit"`
	Burst        int           `yaml:"burst" mapstructure:"burst"`
	TimeoutSecs  int           `yaml:"timeout_secs" mapstructure:"timeout_secs"`
	Retry        RetryConfig   `yaml:"retry" mapstructure:"retry"`
	Breaker      BreakerConfig `yaml:"breaker" mapstructure:"breaker"`
}

// UseMock reports whether the offline fixture register should be used.
func (r RegistryConfig) UseMock() bool {
	return r.Mock || r.Key == ""
}

// RetryConfig configures retries of register calls.
type RetryConfig struct {
	MaxAttempts      int `yaml:"max_attempts" mapstructure:"max_attempts"`
	InitialBackoffMs int `yaml:"initial_backoff_ms" mapstructure:"initial_backoff_ms"`
	MaxBackoffMs     int `yaml:"max_backoff_ms" mapstructure:"max_backoff_ms"`
}

// BreakerConfig configures the register circuit breaker.
type BreakerConfig struct {
	FailureThreshold int `yaml:"failure_threshold" mapstructure:"failure_threshold"`
	OpenTimeoutSecs  int `yaml:"open_timeout_secs" mapstructure:"open_timeout_secs"`
}

// AnthropicConfig holds Anthropic API settings.
type AnthropicConfig struct {
	Key         string `yaml:"key" mapstructure:"key"`
	Model       string `yaml:"model" mapstructure:"model"`
	MaxTokens   int    `yaml:"max_tokens" mapstructure:"max_tokens"`
	TimeoutSecs int    `yaml:"timeout_secs" mapstructure:"timeout_secs"`
}

// ResolveConfig configures the matching stages.
type ResolveConfig struct {
	SearchPageSize int     `yaml:"search_page_size" mapstructure:"search_page_size"`
	MaxCandidates  int     `yaml:"max_candidates" mapstructure:"max_candidates"`
	ExactThreshold float64 `yaml:"exact_threshold" mapstructure:"exact_threshold"`
	UseAI          bool    `yaml:"use_ai" mapstructure:"use_ai"`
}

// BatchConfig configures batch processing.
type BatchConfig struct {
	Concurrency int `yaml:"concurrency" mapstructure:"concurrency"`
}

// OwnershipConfig configures tree building.
type OwnershipConfig struct {
	MaxDepth int `yaml:"max_depth" mapstructure:"max_depth"`
}

// ServerConfig configures the HTTP server.
type ServerConfig struct {
	Port           int      `yaml:"port" mapstructure:"port"`
	AllowedOrigins []string `yaml:"allowed_origins" mapstructure:"allowed_origins"`
	MaxUploadMB    int      `yaml:"max_upload_mb" mapstructure:"max_upload_mb"`
}

// LogConfig configures logging.
type LogConfig struct {
	Level  string `yaml:"level" mapstructure:"level"`
	Format string `yaml:"format" mapstructure:"format"`
}

// Load reads configuration from file and environment.
func Load() (*Config, error) {
	v := viper.New()

	// Config file
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")

	// Environment
	v.SetEnvPrefix("CHARITY")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	// Keys without defaults are only seen by Unmarshal when bound.
	for _, key := range []string{"store.database_url", "registry.key", "registry.base_url", "registry.fixtures_path", "anthropic.key"} {
		if err := v.BindEnv(key); err != nil {
			return nil, eris.Wrapf(err, "config: bind env %s", key)
		}
	}

	// Defaults
	v.SetDefault("store.driver", "sqlite")
	v.SetDefault("store.sqlite_path", "charity.db")
	v.SetDefault("store.max_conns", 10)
	v.SetDefault("store.min_conns", 2)
	v.SetDefault("registry.mock", false)
	v.SetDefault("registry.rate_limit", 5.0)
	v.SetDefault("registry.burst", 5)
	v.SetDefault("registry.timeout_secs", 30)
	v.SetDefault("registry.retry.max_attempts", 3)
	v.SetDefault("registry.retry.initial_backoff_ms", 500)
	v.SetDefault("registry.retry.max_backoff_ms", 10000)
	v.SetDefault("registry.breaker.failure_threshold", 5)
	v.SetDefault("registry.breaker.open_timeout_secs", 30)
	v.SetDefault("anthropic.model", "claude-haiku-4-5-20251001")
	v.SetDefault("anthropic.max_tokens", 512)
	v.SetDefault("anthropic.timeout_secs", 60)
	v.SetDefault("resolve.search_page_size", 10)
	v.SetDefault("resolve.max_candidates", 5)
	v.SetDefault("resolve.exact_threshold", 0.95)
	v.SetDefault("resolve.use_ai", false)
	v.SetDefault("batch.concurrency", 5)
	v.SetDefault("ownership.max_depth", 3)
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.allowed_origins", []string{"http://localhost:3000"})
	v.SetDefault("server.max_upload_mb", 10)
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "json")

	// Read config file (optional)
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, eris.Wrap(err, "config: read file")
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, eris.Wrap(err, "config: unmarshal")
	}

	return &cfg, nil
}

// Validate checks the settings a command mode needs. Modes: "cli" (any
// command touching the store), "serve" and "ai" (commands that were asked
// to use AI disambiguation).
func (c *Config) Validate(mode string) error {
	var errs []string

	switch c.Store.Driver {
	case "sqlite":
		if c.Store.SQLitePath == "" {
			errs = append(errs, "store.sqlite_path is required for the sqlite driver")
		}
	case "postgres":
		if c.Store.DatabaseURL == "" {
			errs = append(errs, "store.database_url is required for the postgres driver")
		}
	default:
		errs = append(errs, fmt.Sprintf("store.driver must be sqlite or postgres, got %q", c.Store.Driver))
	}

	if c.Batch.Concurrency < 1 || c.Batch.Concurrency > 50 {
		errs = append(errs, "batch.concurrency must be between 1 and 50")
	}
	if c.Resolve.ExactThreshold <= 0 || c.Resolve.ExactThreshold > 1 {
		errs = append(errs, "resolve.exact_threshold must be in (0, 1]")
	}
	if c.Resolve.MaxCandidates < 1 {
		errs = append(errs, "resolve.max_candidates must be >= 1")
	}
	if c.Ownership.MaxDepth < 1 || c.Ownership.MaxDepth > 10 {
		errs = append(errs, "ownership.max_depth must be between 1 and 10")
	}

	switch mode {
	case "cli":
	case "serve":
		if c.Server.Port <= 0 {
			errs = append(errs, "server.port must be > 0")
		}
	case "ai":
		if c.Anthropic.Key == "" {
			errs = append(errs, "anthropic.key is required for AI disambiguation")
		}
	default:
		return eris.Errorf("config: unknown mode %q", mode)
	}

	if len(errs) > 0 {
		return eris.Errorf("config: %s", strings.Join(errs, "; "))
	}
	return nil
}

// InitLogger initializes the global zap logger.
func InitLogger(cfg LogConfig) error {
	var zapCfg zap.Config
	if cfg.Format == "console" {
		zapCfg = zap.NewDevelopmentConfig()
	} else {
		zapCfg = zap.NewProductionConfig()
	}

	level, err := zapcore.ParseLevel(cfg.Level)
	if err != nil {
		return eris.Wrap(err, "config: parse log level")
	}
	zapCfg.Level.SetLevel(level)

	logger, err := zapCfg.Build()
	if err != nil {
		return eris.Wrap(err, "config: build logger")
	}
	zap.ReplaceGlobals(logger)

	return nil
}
