package config

import (
	"errors"
	"fmt"
	"math"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/go-viper/mapstructure/v2"
	"github.com/joho/godotenv"
	"github.com/spf13/viper"

	"weatherwatch/internal/logging"
)

// ErrInvalidConfig classifies configuration problems detected at startup.
var ErrInvalidConfig = errors.New("invalid configuration")

// DefaultLocations mirrors the set of cities monitored out of the box.
var DefaultLocations = []string{"Delhi", "Mumbai", "Chennai", "Bangalore", "Kolkata", "Hyderabad"}

var validate = validator.New()

// Config materialises application configuration.
type Config struct {
	App         AppConfig         `mapstructure:"app"`
	Logging     logging.Config    `mapstructure:"logging"`
	Database    DatabaseConfig    `mapstructure:"database"`
	Scheduler   SchedulerConfig   `mapstructure:"scheduler"`
	Locations   []string          `mapstructure:"locations" validate:"unique,dive,required"`
	Source      SourceConfig      `mapstructure:"source"`
	Alerting    AlertingConfig    `mapstructure:"alerting"`
	Aggregation AggregationConfig `mapstructure:"aggregation"`
	Export      ExportConfig      `mapstructure:"export"`
}

// AppConfig general metadata.
type AppConfig struct {
	Name        string `mapstructure:"name"`
	Environment string `mapstructure:"environment"`
}

// DatabaseConfig encapsulates PostgreSQL connectivity.
type DatabaseConfig struct {
	DSN             string        `mapstructure:"dsn"`
	MaxOpenConns    int           `mapstructure:"max_open_conns" validate:"gte=0"`
	MaxIdleConns    int           `mapstructure:"max_idle_conns" validate:"gte=0"`
	ConnMaxLifetime time.Duration `mapstructure:"conn_max_lifetime"`
}

// SchedulerConfig governs sampling cadence.
type SchedulerConfig struct {
	Interval         time.Duration `mapstructure:"interval" validate:"gt=0"`
	AlignToBucket    bool          `mapstructure:"align_to_bucket"`
	AdvisoryLockKey  int64         `mapstructure:"advisory_lock_key"`
	StartupDelay     time.Duration `mapstructure:"startup_delay" validate:"gte=0"`
	FetchTimeout     time.Duration `mapstructure:"fetch_timeout" validate:"gt=0"`
	FetchConcurrency int           `mapstructure:"fetch_concurrency" validate:"gte=1"`
}

// SourceConfig captures OpenWeatherMap connectivity.
type SourceConfig struct {
	BaseURL            string        `mapstructure:"base_url" validate:"required,url"`
	APIKey             string        `mapstructure:"api_key"`
	RequestTimeout     time.Duration `mapstructure:"request_timeout" validate:"gt=0"`
	UserAgent          string        `mapstructure:"user_agent"`
	BreakerMaxFailures uint32        `mapstructure:"breaker_max_failures" validate:"gte=1"`
	BreakerOpenTimeout time.Duration `mapstructure:"breaker_open_timeout" validate:"gt=0"`
}

// AlertingConfig defines the hysteresis threshold and routing.
type AlertingConfig struct {
	ThresholdC          float64        `mapstructure:"threshold_c"`
	ConsecutiveRequired int            `mapstructure:"consecutive_required" validate:"gte=1"`
	Channels            []string       `mapstructure:"channels" validate:"dive,oneof=log telegram redis"`
	Telegram            TelegramConfig `mapstructure:"telegram"`
	Redis               RedisConfig    `mapstructure:"redis"`
}

// TelegramConfig describes the Telegram alert channel.
type TelegramConfig struct {
	BotToken string `mapstructure:"bot_token"`
	ChatID   string `mapstructure:"chat_id"`
	APIBase  string `mapstructure:"api_base"`
}

// RedisConfig describes the Redis pub/sub alert channel.
type RedisConfig struct {
	Addr     string `mapstructure:"addr"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
	Channel  string `mapstructure:"channel"`
}

// AggregationConfig fixes how epoch timestamps are bucketed into calendar dates.
type AggregationConfig struct {
	Timezone string `mapstructure:"timezone" validate:"required"`
}

// ExportConfig sets CLI export behaviour.
type ExportConfig struct {
	MaxDataPoints int `mapstructure:"max_data_points" validate:"gt=0"`
}

// Load builds configuration from .env, file, environment, and defaults.
func Load(path string) (*Config, error) {
	// a missing .env file is normal outside local development
	_ = godotenv.Load()

	v := viper.New()
	v.SetEnvPrefix("WEATHERWATCH")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
	}

	if err := readConfig(v); err != nil {
		return nil, err
	}

	var cfg Config
	if err := v.Unmarshal(&cfg, decodeHook()); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}
	cfg.Locations = trimAll(cfg.Locations)
	cfg.Alerting.Channels = trimAll(cfg.Alerting.Channels)
	for i, ch := range cfg.Alerting.Channels {
		cfg.Alerting.Channels[i] = strings.ToLower(ch)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

func readConfig(v *viper.Viper) error {
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); ok {
			return nil
		}
		return fmt.Errorf("read config: %w", err)
	}
	return nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("app.name", "weatherwatch")
	v.SetDefault("app.environment", "development")

	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "json")

	v.SetDefault("scheduler.interval", "5m")
	v.SetDefault("scheduler.align_to_bucket", false)
	v.SetDefault("scheduler.advisory_lock_key", int64(0x77657468))
	v.SetDefault("scheduler.startup_delay", "0s")
	v.SetDefault("scheduler.fetch_timeout", "10s")
	v.SetDefault("scheduler.fetch_concurrency", 1)

	v.SetDefault("locations", DefaultLocations)

	v.SetDefault("source.base_url", "https://api.openweathermap.org/data/2.5")
	v.SetDefault("source.request_timeout", "10s")
	v.SetDefault("source.user_agent", "weatherwatch/1.0")
	v.SetDefault("source.breaker_max_failures", 5)
	v.SetDefault("source.breaker_open_timeout", "1m")

	v.SetDefault("alerting.threshold_c", 35.0)
	v.SetDefault("alerting.consecutive_required", 2)
	v.SetDefault("alerting.channels", []string{"log"})
	v.SetDefault("alerting.telegram.api_base", "https://api.telegram.org")
	v.SetDefault("alerting.redis.channel", "weatherwatch:alerts")

	v.SetDefault("aggregation.timezone", "UTC")

	v.SetDefault("export.max_data_points", 1000)

	v.SetDefault("database.max_open_conns", 10)
	v.SetDefault("database.max_idle_conns", 5)
	v.SetDefault("database.conn_max_lifetime", "30m")
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

func trimAll(in []string) []string {
	out := make([]string, 0, len(in))
	for _, item := range in {
		out = append(out, strings.TrimSpace(item))
	}
	return out
}

// Validate performs sanity checks on the configuration values.
func (c *Config) Validate() error {
	if err := validate.Struct(c); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidConfig, err)
	}
	if math.IsNaN(c.Alerting.ThresholdC) || math.IsInf(c.Alerting.ThresholdC, 0) {
		return fmt.Errorf("%w: alerting.threshold_c must be a finite number", ErrInvalidConfig)
	}
	if _, err := c.Aggregation.Zone(); err != nil {
		return fmt.Errorf("%w: aggregation.timezone: %v", ErrInvalidConfig, err)
	}
	if c.Alerting.ChannelEnabled("telegram") {
		if c.Alerting.Telegram.BotToken == "" {
			return fmt.Errorf("%w: alerting.telegram.bot_token is required", ErrInvalidConfig)
		}
		if c.Alerting.Telegram.ChatID == "" {
			return fmt.Errorf("%w: alerting.telegram.chat_id is required", ErrInvalidConfig)
		}
	}
	if c.Alerting.ChannelEnabled("redis") {
		if c.Alerting.Redis.Addr == "" {
			return fmt.Errorf("%w: alerting.redis.addr is required", ErrInvalidConfig)
		}
		if c.Alerting.Redis.Channel == "" {
			return fmt.Errorf("%w: alerting.redis.channel is required", ErrInvalidConfig)
		}
	}
	return nil
}

// RequireSource checks the settings only the sampling loop needs. Locations
// cannot be fetched without an API key.
func (c *Config) RequireSource() error {
	if len(c.Locations) > 0 && strings.TrimSpace(c.Source.APIKey) == "" {
		return fmt.Errorf("%w: source.api_key is required to sample %d location(s)", ErrInvalidConfig, len(c.Locations))
	}
	return nil
}

// Zone resolves the configured bucketing time zone.
func (a AggregationConfig) Zone() (*time.Location, error) {
	return time.LoadLocation(a.Timezone)
}

// ResolveMaxPoints returns either the CLI override or config default.
func (c *Config) ResolveMaxPoints(override int) int {
	if override > 0 {
		return override
	}
	return c.Export.MaxDataPoints
}

// ChannelEnabled reports whether an alert channel is listed.
func (a AlertingConfig) ChannelEnabled(name string) bool {
	for _, ch := range a.Channels {
		if ch == name {
			return true
		}
	}
	return false
}
