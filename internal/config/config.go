package config

import (
	"strings"
	"time"

	"github.com/spf13/viper"
)

type Config struct {
	App       AppConfig       `mapstructure:"app"`
	Server    ServerConfig    `mapstructure:"server"`
	Log       LogConfig       `mapstructure:"log"`
	DB        DBConfig        `mapstructure:"db"`
	Notion    NotionConfig    `mapstructure:"notion"`
	RateLimit RateLimitConfig `mapstructure:"rate_limit"`
	Breaker   BreakerConfig   `mapstructure:"breaker"`
	Sync      SyncConfig      `mapstructure:"sync"`
	Queue     QueueConfig     `mapstructure:"queue"`
	Conflict  ConflictConfig  `mapstructure:"conflict"`
	Schedule  ScheduleConfig  `mapstructure:"schedule"`
	Cron      CronConfig      `mapstructure:"cron"`
}

type AppConfig struct {
	Env string `mapstructure:"env"`
}

type ServerConfig struct {
	HTTPAddr string `mapstructure:"http_addr"`
}

type LogConfig struct {
	Level             string `mapstructure:"level"`
	Encoding          string `mapstructure:"encoding"`
	Development       bool   `mapstructure:"development"`
	Sampling          bool   `mapstructure:"sampling"`
	DisableCaller     bool   `mapstructure:"disable_caller"`
	DisableStacktrace bool   `mapstructure:"disable_stacktrace"`
}

type DBConfig struct {
	// DSN empty means "run an embedded dev server" (see internal/db).
	DSN             string        `mapstructure:"dsn"`
	MaxOpenConns    int           `mapstructure:"max_open_conns"`
	MaxIdleConns    int           `mapstructure:"max_idle_conns"`
	ConnMaxLifetime time.Duration `mapstructure:"conn_max_lifetime"`
	ConnMaxIdleTime time.Duration `mapstructure:"conn_max_idle_time"`
	Timezone        string        `mapstructure:"timezone"`
	EmbeddedDataDir string        `mapstructure:"embedded_data_dir"`
	EmbeddedPort    int           `mapstructure:"embedded_port"`
}

type NotionConfig struct {
	BaseURL string        `mapstructure:"base_url"`
	Token   string        `mapstructure:"token"`
	Version string        `mapstructure:"version"`
	Timeout time.Duration `mapstructure:"timeout"`

	// Shared secret for webhook signature checks; empty disables them.
	WebhookSecret string `mapstructure:"webhook_secret"`

	// Entity type -> Notion database id; seeds sync_settings on first boot.
	Databases map[string]string `mapstructure:"databases"`
}

type RateLimitConfig struct {
	RequestsPerSecond float64 `mapstructure:"requests_per_second"`
	Burst             int     `mapstructure:"burst"`
	Concurrency       int     `mapstructure:"concurrency"`
}

type BreakerConfig struct {
	TripThreshold int           `mapstructure:"trip_threshold"`
	Cooldown      time.Duration `mapstructure:"cooldown"`
}

type SyncConfig struct {
	PageSize               int           `mapstructure:"page_size"`
	BatchSize              int           `mapstructure:"batch_size"`
	DefaultPollingInterval time.Duration `mapstructure:"default_polling_interval"`
	DefaultCacheTTL        time.Duration `mapstructure:"default_cache_ttl"`
	InitialSyncOnBoot      bool          `mapstructure:"initial_sync_on_boot"`
	ValidateMappingOnBoot  bool          `mapstructure:"validate_mapping_on_boot"`
	CacheSweepInterval     time.Duration `mapstructure:"cache_sweep_interval"`
}

type QueueConfig struct {
	Workers             int           `mapstructure:"workers"`
	IdleDelay           time.Duration `mapstructure:"idle_delay"`
	MaxAttempts         int           `mapstructure:"max_attempts"`
	BackoffInitialDelay time.Duration `mapstructure:"backoff_initial_delay"`
	BackoffMultiplier   float64       `mapstructure:"backoff_multiplier"`
	CompletedRetention  time.Duration `mapstructure:"completed_retention"`
}

type ConflictConfig struct {
	ResolvedRetention time.Duration `mapstructure:"resolved_retention"`
}

type ScheduleConfig struct {
	WorkdayHours float64 `mapstructure:"workday_hours"`
}

type CronConfig struct {
	Enabled        bool   `mapstructure:"enabled"`
	Reconciliation string `mapstructure:"reconciliation"`
	QueuePurge     string `mapstructure:"queue_purge"`
	ConflictPurge  string `mapstructure:"conflict_purge"`
	CacheSweep     string `mapstructure:"cache_sweep"`
}

func Load(path string, envOnly bool) (Config, error) {
	v := viper.New()
	v.SetEnvPrefix("NS")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.SetConfigFile(path)
	v.SetConfigType("yaml")
	v.AutomaticEnv()
	v.SetDefault("app.env", "dev")
	v.SetDefault("server.http_addr", ":8080")
	v.SetDefault("log.level", "info")
	v.SetDefault("log.encoding", "console")
	v.SetDefault("log.development", true)
	v.SetDefault("log.sampling", false)
	v.SetDefault("log.disable_caller", false)
	v.SetDefault("log.disable_stacktrace", false)
	v.SetDefault("db.dsn", "")
	v.SetDefault("db.max_open_conns", 20)
	v.SetDefault("db.max_idle_conns", 5)
	v.SetDefault("db.conn_max_lifetime", "30m")
	v.SetDefault("db.conn_max_idle_time", "5m")
	v.SetDefault("db.timezone", "UTC")
	v.SetDefault("db.embedded_data_dir", ".devdata/pg")
	v.SetDefault("db.embedded_port", 5433)
	v.SetDefault("notion.base_url", "https://api.notion.com")
	v.SetDefault("notion.token", "")
	v.SetDefault("notion.version", "2022-06-28")
	v.SetDefault("notion.timeout", "15s")
	v.SetDefault("notion.webhook_secret", "")
	v.SetDefault("rate_limit.requests_per_second", 3)
	v.SetDefault("rate_limit.burst", 5)
	v.SetDefault("rate_limit.concurrency", 1)
	v.SetDefault("breaker.trip_threshold", 3)
	v.SetDefault("breaker.cooldown", "5m")
	v.SetDefault("sync.page_size", 100)
	v.SetDefault("sync.batch_size", 10)
	v.SetDefault("sync.default_polling_interval", "15m")
	v.SetDefault("sync.default_cache_ttl", "24h")
	v.SetDefault("sync.initial_sync_on_boot", true)
	v.SetDefault("sync.validate_mapping_on_boot", true)
	v.SetDefault("sync.cache_sweep_interval", "10m")
	v.SetDefault("queue.workers", 2)
	v.SetDefault("queue.idle_delay", "2s")
	v.SetDefault("queue.max_attempts", 5)
	v.SetDefault("queue.backoff_initial_delay", "5m")
	v.SetDefault("queue.backoff_multiplier", 2.0)
	v.SetDefault("queue.completed_retention", "168h")
	v.SetDefault("conflict.resolved_retention", "2160h")
	v.SetDefault("schedule.workday_hours", 8)
	v.SetDefault("cron.enabled", true)
	v.SetDefault("cron.reconciliation", "0 0 3 * * *")
	v.SetDefault("cron.queue_purge", "0 30 4 * * *")
	v.SetDefault("cron.conflict_purge", "0 45 4 * * *")
	v.SetDefault("cron.cache_sweep", "@every 10m")

	if !envOnly {
		if err := v.ReadInConfig(); err != nil {
			return Config{}, err
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, err
	}

	return cfg, nil
}
