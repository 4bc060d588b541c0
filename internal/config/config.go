package config

import (
	"strings"
	"time"
	_ "time/tzdata" // plant time zones must resolve on minimal images

	"github.com/rotisserie/eris"
	"github.com/shopspring/decimal"
	"github.com/spf13/viper"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/sells-group/pcp-cli/internal/model"
	"github.com/sells-group/pcp-cli/internal/resilience"
)

// Config holds the full application configuration.
type Config struct {
	Store      StoreConfig      `yaml:"store" mapstructure:"store"`
	Cache      CacheConfig      `yaml:"cache" mapstructure:"cache"`
	Realtime   RealtimeConfig   `yaml:"realtime" mapstructure:"realtime"`
	Plant      PlantConfig      `yaml:"plant" mapstructure:"plant"`
	Resilience ResilienceConfig `yaml:"resilience" mapstructure:"resilience"`
	Server     ServerConfig     `yaml:"server" mapstructure:"server"`
	Ingest     IngestConfig     `yaml:"ingest" mapstructure:"ingest"`
	Export     ExportConfig     `yaml:"export" mapstructure:"export"`
	Monitoring MonitoringConfig `yaml:"monitoring" mapstructure:"monitoring"`
	Log        LogConfig        `yaml:"log" mapstructure:"log"`
}

// DefaultSQLitePath is used when the sqlite driver has no database_url.
const DefaultSQLitePath = "pcp.db"

// StoreConfig configures the document database backend.
type StoreConfig struct {
	Driver       string        `yaml:"driver" mapstructure:"driver"`
	DatabaseURL  string        `yaml:"database_url" mapstructure:"database_url"`
	Database     string        `yaml:"database" mapstructure:"database"`
	PollInterval time.Duration `yaml:"poll_interval" mapstructure:"poll_interval"`
	MaxConns     int32         `yaml:"max_conns" mapstructure:"max_conns"`
	MinConns     int32         `yaml:"min_conns" mapstructure:"min_conns"`
}

// CacheConfig configures the read cache.
type CacheConfig struct {
	TTL time.Duration `yaml:"ttl" mapstructure:"ttl"`
}

// RealtimeConfig configures subscription recomputes.
type RealtimeConfig struct {
	Debounce time.Duration `yaml:"debounce" mapstructure:"debounce"`
}

// PlantConfig holds plant-level settings. The targets are the fallback used
// when the store has no system configuration record.
type PlantConfig struct {
	Timezone            string  `yaml:"timezone" mapstructure:"timezone"`
	MonthlyTarget       float64 `yaml:"monthly_target" mapstructure:"monthly_target"`
	WorkingDaysPerMonth int     `yaml:"working_days_per_month" mapstructure:"working_days_per_month"`
}

// ResilienceConfig configures store read retries and the circuit breaker.
type ResilienceConfig struct {
	MaxAttempts      int           `yaml:"max_attempts" mapstructure:"max_attempts"`
	InitialBackoff   time.Duration `yaml:"initial_backoff" mapstructure:"initial_backoff"`
	MaxBackoff       time.Duration `yaml:"max_backoff" mapstructure:"max_backoff"`
	FailureThreshold int           `yaml:"failure_threshold" mapstructure:"failure_threshold"`
	ResetTimeout     time.Duration `yaml:"reset_timeout" mapstructure:"reset_timeout"`
}

// ServerConfig configures the dashboard API server.
type ServerConfig struct {
	Port         int      `yaml:"port" mapstructure:"port"`
	RefreshRPS   float64  `yaml:"refresh_rps" mapstructure:"refresh_rps"`
	RefreshBurst int      `yaml:"refresh_burst" mapstructure:"refresh_burst"`
	CORSOrigins  []string `yaml:"cors_origins" mapstructure:"cors_origins"`
}

// IngestConfig configures seed file ingestion.
type IngestConfig struct {
	Dir string `yaml:"dir" mapstructure:"dir"`
}

// ExportConfig configures workbook export.
type ExportConfig struct {
	Dir string `yaml:"dir" mapstructure:"dir"`
}

// MonitoringConfig configures production alerts sent by serve. Alerts are
// disabled while WebhookURL is empty.
type MonitoringConfig struct {
	WebhookURL    string        `yaml:"webhook_url" mapstructure:"webhook_url"`
	CheckInterval time.Duration `yaml:"check_interval" mapstructure:"check_interval"`
	// AttainmentThreshold is the month-to-date attainment percent below
	// which a target alert fires. 0 disables the check.
	AttainmentThreshold float64 `yaml:"attainment_threshold" mapstructure:"attainment_threshold"`
	// MaxIssues is the normalization issue count above which a data quality
	// alert fires. 0 disables the check.
	MaxIssues int `yaml:"max_issues" mapstructure:"max_issues"`
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
	v.SetEnvPrefix("PCP")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Defaults
	v.SetDefault("store.driver", "sqlite")
	v.SetDefault("store.database", "pcp")
	v.SetDefault("store.poll_interval", "2s")
	v.SetDefault("cache.ttl", "5m")
	v.SetDefault("realtime.debounce", "500ms")
	v.SetDefault("plant.timezone", "America/Sao_Paulo")
	v.SetDefault("plant.monthly_target", 0)
	v.SetDefault("plant.working_days_per_month", 22)
	v.SetDefault("resilience.max_attempts", 3)
	v.SetDefault("resilience.initial_backoff", "200ms")
	v.SetDefault("resilience.max_backoff", "5s")
	v.SetDefault("resilience.failure_threshold", 5)
	v.SetDefault("resilience.reset_timeout", "30s")
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.refresh_rps", 1.0)
	v.SetDefault("server.refresh_burst", 3)
	v.SetDefault("server.cors_origins", []string{"*"})
	v.SetDefault("ingest.dir", "seed")
	v.SetDefault("export.dir", ".")
	v.SetDefault("monitoring.check_interval", "5m")
	v.SetDefault("monitoring.attainment_threshold", 80.0)
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

// Location loads the plant time zone.
func (c *Config) Location() (*time.Location, error) {
	loc, err := time.LoadLocation(c.Plant.Timezone)
	if err != nil {
		return nil, eris.Wrapf(err, "config: load timezone %q", c.Plant.Timezone)
	}
	return loc, nil
}

// FallbackSystemConfig converts the plant targets into the model type.
func (c *Config) FallbackSystemConfig() model.SystemConfig {
	return model.SystemConfig{
		MonthlyTarget:       decimal.NewFromFloat(c.Plant.MonthlyTarget),
		WorkingDaysPerMonth: c.Plant.WorkingDaysPerMonth,
	}
}

// Policy builds the store read policy.
func (c *Config) Policy() *resilience.Policy {
	return resilience.NewPolicy("store:"+c.Store.Driver,
		resilience.RetryConfig{
			MaxAttempts:    c.Resilience.MaxAttempts,
			InitialBackoff: c.Resilience.InitialBackoff,
			MaxBackoff:     c.Resilience.MaxBackoff,
			JitterFraction: resilience.DefaultRetryConfig().JitterFraction,
		},
		resilience.CircuitBreakerConfig{
			FailureThreshold: c.Resilience.FailureThreshold,
			ResetTimeout:     c.Resilience.ResetTimeout,
		},
	)
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
