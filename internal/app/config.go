package app

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/mitchellh/mapstructure"
	"github.com/spf13/viper"
)

// Config represents the runtime configuration for the Raqeeb backend.
type Config struct {
	Server     ServerConfig     `mapstructure:"server"`
	Database   DatabaseConfig   `mapstructure:"database"`
	Feed       FeedConfig       `mapstructure:"feed"`
	Pipeline   PipelineConfig   `mapstructure:"pipeline"`
	Email      EmailConfig      `mapstructure:"email"`
	Monitoring MonitoringConfig `mapstructure:"monitoring"`
}

// ServerConfig configures the HTTP server.
type ServerConfig struct {
	Port     int    `mapstructure:"port"`
	LogLevel string `mapstructure:"log_level"`
}

// DatabaseConfig describes connection options for the supported databases.
type DatabaseConfig struct {
	Driver   string       `mapstructure:"driver"`
	Path     string       `mapstructure:"path"`
	DSN      string       `mapstructure:"dsn"`
	Postgres DBAuthConfig `mapstructure:"postgres"`
	MySQL    DBAuthConfig `mapstructure:"mysql"`
}

// DBAuthConfig represents host based database parameters.
type DBAuthConfig struct {
	Enabled  bool   `mapstructure:"enabled"`
	Host     string `mapstructure:"host"`
	Port     int    `mapstructure:"port"`
	Database string `mapstructure:"database"`
	Username string `mapstructure:"username"`
	Password string `mapstructure:"password"`
}

// FeedConfig points at the upstream announcement feed.
type FeedConfig struct {
	URL           string        `mapstructure:"url"`
	DetailBaseURL string        `mapstructure:"detail_base_url"`
	Timeout       time.Duration `mapstructure:"timeout"`
	MaxAttempts   int           `mapstructure:"max_attempts"`
	BackoffBase   time.Duration `mapstructure:"backoff_base"`
}

// PipelineConfig controls the trigger endpoints and the built-in scheduler.
type PipelineConfig struct {
	TriggerSecret string          `mapstructure:"trigger_secret"`
	MatchWindow   time.Duration   `mapstructure:"match_window"`
	Scheduler     SchedulerConfig `mapstructure:"scheduler"`
}

// SchedulerConfig runs the pipeline on cron expressions when no external
// trigger infrastructure is available.
type SchedulerConfig struct {
	Enabled    bool   `mapstructure:"enabled"`
	IngestSpec string `mapstructure:"ingest_spec"`
	DigestSpec string `mapstructure:"digest_spec"`
}

// EmailConfig captures outbound email settings.
type EmailConfig struct {
	SMTP SMTPConfig `mapstructure:"smtp"`
}

// SMTPConfig defines SMTP dialer settings for sending email.
type SMTPConfig struct {
	Enabled  bool          `mapstructure:"enabled"`
	Host     string        `mapstructure:"host"`
	Port     int           `mapstructure:"port"`
	Username string        `mapstructure:"username"`
	Password string        `mapstructure:"password"`
	From     string        `mapstructure:"from"`
	UseTLS   bool          `mapstructure:"use_tls"`
	Timeout  time.Duration `mapstructure:"timeout"`
}

// MonitoringConfig enables health checks and metrics.
type MonitoringConfig struct {
	Prometheus PrometheusConfig `mapstructure:"prometheus"`
	Health     HealthConfig     `mapstructure:"health_check"`
}

// PrometheusConfig toggles metrics endpoints.
type PrometheusConfig struct {
	Enabled  bool   `mapstructure:"enabled"`
	Endpoint string `mapstructure:"endpoint"`
}

// HealthConfig toggles health endpoints.
type HealthConfig struct {
	Enabled bool `mapstructure:"enabled"`
}

// LoadConfig initialises application configuration using Viper with sensible defaults.
func LoadConfig(paths ...string) (*Config, error) {
	v := viper.New()
	v.SetConfigName("config")
	v.SetConfigType("yaml")

	v.AddConfigPath("./config")
	for _, path := range paths {
		v.AddConfigPath(path)
	}

	setDefaults(v)

	v.SetEnvPrefix("RAQEEB")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		var cfgErr viper.ConfigFileNotFoundError
		if !errors.As(err, &cfgErr) {
			return nil, fmt.Errorf("config: read file: %w", err)
		}
	}

	var config Config
	if err := v.Unmarshal(&config, decodeHook()); err != nil {
		return nil, fmt.Errorf("config: unmarshal: %w", err)
	}

	return &config, nil
}

// setDefaults registers a default for every configuration key. AutomaticEnv
// only resolves keys viper already knows about, so keys without a meaningful
// default still get a zero-value entry to make their env override reachable.
func setDefaults(v *viper.Viper) {
	v.SetDefault("server.port", 8000)
	v.SetDefault("server.log_level", "info")

	v.SetDefault("database.driver", "sqlite")
	v.SetDefault("database.path", "./data/raqeeb.sqlite")
	v.SetDefault("database.dsn", "")
	for _, db := range []string{"postgres", "mysql"} {
		v.SetDefault("database."+db+".enabled", false)
		v.SetDefault("database."+db+".host", "")
		v.SetDefault("database."+db+".port", 0)
		v.SetDefault("database."+db+".database", "")
		v.SetDefault("database."+db+".username", "")
		v.SetDefault("database."+db+".password", "")
	}

	v.SetDefault("feed.url", "")
	v.SetDefault("feed.detail_base_url", "")
	v.SetDefault("feed.timeout", "15s")
	v.SetDefault("feed.max_attempts", 3)
	v.SetDefault("feed.backoff_base", "1s")

	v.SetDefault("pipeline.trigger_secret", "")
	v.SetDefault("pipeline.match_window", "24h")
	v.SetDefault("pipeline.scheduler.enabled", false)
	v.SetDefault("pipeline.scheduler.ingest_spec", "*/15 * * * *")
	v.SetDefault("pipeline.scheduler.digest_spec", "*/5 * * * *")

	v.SetDefault("email.smtp.enabled", false)
	v.SetDefault("email.smtp.host", "")
	v.SetDefault("email.smtp.port", 587)
	v.SetDefault("email.smtp.username", "")
	v.SetDefault("email.smtp.password", "")
	v.SetDefault("email.smtp.from", "")
	v.SetDefault("email.smtp.use_tls", true)
	v.SetDefault("email.smtp.timeout", "10s")

	v.SetDefault("monitoring.prometheus.enabled", true)
	v.SetDefault("monitoring.prometheus.endpoint", "/metrics")
	v.SetDefault("monitoring.health_check.enabled", true)
}

func decodeHook() viper.DecoderConfigOption {
	return func(dc *mapstructure.DecoderConfig) {
		dc.TagName = "mapstructure"
		dc.DecodeHook = mapstructure.ComposeDecodeHookFunc(
			mapstructure.StringToTimeDurationHookFunc(),
			mapstructure.StringToSliceHookFunc(","),
		)
	}
}
