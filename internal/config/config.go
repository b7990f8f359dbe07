package config

import (
	"strings"

	"github.com/rotisserie/eris"
	"github.com/spf13/viper"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Config holds the full application configuration.
type Config struct {
	Store      StoreConfig      `yaml:"store" mapstructure:"store"`
	Refresh    RefreshConfig    `yaml:"refresh" mapstructure:"refresh"`
	History    HistoryConfig    `yaml:"history" mapstructure:"history"`
	Signal     SignalConfig     `yaml:"signal" mapstructure:"signal"`
	Currency   CurrencyConfig   `yaml:"currency" mapstructure:"currency"`
	Notify     NotifyConfig     `yaml:"notify" mapstructure:"notify"`
	Monitoring MonitoringConfig `yaml:"monitoring" mapstructure:"monitoring"`
	Server     ServerConfig     `yaml:"server" mapstructure:"server"`
	Log        LogConfig        `yaml:"log" mapstructure:"log"`
}

// StoreConfig configures the database backend.
type StoreConfig struct {
	Driver      string `yaml:"driver" mapstructure:"driver"`
	DatabaseURL string `yaml:"database_url" mapstructure:"database_url"`
	MaxConns    int32  `yaml:"max_conns" mapstructure:"max_conns"`
	MinConns    int32  `yaml:"min_conns" mapstructure:"min_conns"`
}

// RefreshConfig configures the reconciliation pass.
type RefreshConfig struct {
	MaxConcurrentDomains int `yaml:"max_concurrent_domains" mapstructure:"max_concurrent_domains"`
	IntervalMins         int `yaml:"interval_mins" mapstructure:"interval_mins"`
}

// HistoryConfig configures the historical price source.
type HistoryConfig struct {
	BaseURL      string  `yaml:"base_url" mapstructure:"base_url"`
	Key          string  `yaml:"key" mapstructure:"key"`
	BatchSize    int     `yaml:"batch_size" mapstructure:"batch_size"`
	RatePerSec   float64 `yaml:"rate_per_sec" mapstructure:"rate_per_sec"`
	CacheTTLMins int     `yaml:"cache_ttl_mins" mapstructure:"cache_ttl_mins"`
	TimeoutSecs  int     `yaml:"timeout_secs" mapstructure:"timeout_secs"`
}

// SignalConfig configures live page fetching and extraction.
type SignalConfig struct {
	BaseURL     string  `yaml:"base_url" mapstructure:"base_url"`
	TimeoutSecs int     `yaml:"timeout_secs" mapstructure:"timeout_secs"`
	SanityFloor float64 `yaml:"sanity_floor" mapstructure:"sanity_floor"`
}

// CurrencyConfig configures domain currency validation.
type CurrencyConfig struct {
	// TablePath points at an optional YAML file overriding the built-in
	// domain to currency table.
	TablePath string `yaml:"table_path" mapstructure:"table_path"`
}

// NotifyConfig configures drop thresholds and delivery.
type NotifyConfig struct {
	AbsoluteDrop float64 `yaml:"absolute_drop" mapstructure:"absolute_drop"`
	RelativeDrop float64 `yaml:"relative_drop" mapstructure:"relative_drop"`
	WebhookURL   string  `yaml:"webhook_url" mapstructure:"webhook_url"`
}

// MonitoringConfig configures alerting thresholds.
type MonitoringConfig struct {
	WebhookURL            string  `yaml:"webhook_url" mapstructure:"webhook_url"`
	LookupFailThreshold   float64 `yaml:"lookup_fail_threshold" mapstructure:"lookup_fail_threshold"`
	SignalRejectThreshold float64 `yaml:"signal_reject_threshold" mapstructure:"signal_reject_threshold"`
	AnomalyThreshold      int     `yaml:"anomaly_threshold" mapstructure:"anomaly_threshold"`
	CheckIntervalSecs     int     `yaml:"check_interval_secs" mapstructure:"check_interval_secs"`
}

// ServerConfig configures the HTTP API.
type ServerConfig struct {
	Port int `yaml:"port" mapstructure:"port"`
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
	v.SetEnvPrefix("DROPWATCH")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Defaults
	v.SetDefault("store.driver", "sqlite")
	v.SetDefault("store.database_url", "dropwatch.db")
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "json")
	v.SetDefault("server.port", 8080)
	v.SetDefault("refresh.max_concurrent_domains", 4)
	v.SetDefault("refresh.interval_mins", 30)
	v.SetDefault("history.batch_size", 100)
	v.SetDefault("history.rate_per_sec", 1.0)
	v.SetDefault("history.cache_ttl_mins", 30)
	v.SetDefault("history.timeout_secs", 30)
	v.SetDefault("signal.timeout_secs", 20)
	v.SetDefault("signal.sanity_floor", 1.0)
	v.SetDefault("notify.absolute_drop", 1.0)
	v.SetDefault("notify.relative_drop", 0.05)
	v.SetDefault("monitoring.lookup_fail_threshold", 0.25)
	v.SetDefault("monitoring.signal_reject_threshold", 0.50)
	v.SetDefault("monitoring.anomaly_threshold", 20)
	v.SetDefault("monitoring.check_interval_secs", 300)

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

// Validate checks the fields a given mode of operation depends on. Mode is
// the top-level command: "refresh", "serve", or "items".
func (c *Config) Validate(mode string) error {
	var missing []string

	if c.Store.Driver != "sqlite" && c.Store.Driver != "postgres" {
		missing = append(missing, "store.driver must be sqlite or postgres")
	}
	if c.Store.DatabaseURL == "" {
		missing = append(missing, "store.database_url is required")
	}

	switch mode {
	case "items":
	case "refresh", "serve":
		if c.Refresh.MaxConcurrentDomains < 1 || c.Refresh.MaxConcurrentDomains > 32 {
			missing = append(missing, "refresh.max_concurrent_domains must be between 1 and 32")
		}
		if c.History.BatchSize < 1 || c.History.BatchSize > 100 {
			missing = append(missing, "history.batch_size must be between 1 and 100")
		}
		if c.Notify.AbsoluteDrop < 0 {
			missing = append(missing, "notify.absolute_drop must be >= 0")
		}
		if c.Notify.RelativeDrop < 0 || c.Notify.RelativeDrop >= 1 {
			missing = append(missing, "notify.relative_drop must be in [0, 1)")
		}
		if mode == "serve" && c.Server.Port <= 0 {
			missing = append(missing, "server.port must be > 0")
		}
	default:
		return eris.Errorf("config: unknown mode %q", mode)
	}

	if len(missing) > 0 {
		return eris.Errorf("config: %s", strings.Join(missing, "; "))
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
