package config

type Config struct {
	Platform  PlatformConfig  `json:"platform"`
	Logging   LoggingConfig   `json:"logging"`
	Scheduler SchedulerConfig `json:"scheduler"`
	Executor  ExecutorConfig  `json:"executor,omitempty"`
	Delivery  DeliveryConfig  `json:"delivery,omitempty"`
	Queue     QueueConfig     `json:"queue,omitempty"`
	Storage   StorageConfig   `json:"storage,omitempty"`
	Ledger    LedgerConfig    `json:"ledger,omitempty"`
	Admin     AdminConfig     `json:"admin,omitempty"`
}

// PlatformConfig selects the messaging platform.
//
// Driver values: "discord", "telegram", "dryrun" (log only).
type PlatformConfig struct {
	Driver   string         `json:"driver"`
	Discord  DiscordConfig  `json:"discord,omitempty"`
	Telegram TelegramConfig `json:"telegram,omitempty"`
	// OpsChannel receives mirrored warnings when logging.ops is enabled.
	// Telegram accepts "<chat>" or "<chat>:<thread>".
	OpsChannel string `json:"ops_channel,omitempty"`
}

type DiscordConfig struct {
	Token string `json:"token,omitempty"` // do not log
	// RequestTimeout is a Go duration string (e.g. "15s").
	RequestTimeout string `json:"request_timeout,omitempty"`
}

type TelegramConfig struct {
	Token string `json:"token,omitempty"` // do not log
}

type LoggingConfig struct {
	Level   string      `json:"level"`
	Console bool        `json:"console"`
	File    LoggingFile `json:"file"`
	Ops     LoggingOps  `json:"ops,omitempty"`
}

type LoggingFile struct {
	Enabled bool   `json:"enabled"`
	Path    string `json:"path"`
}

type LoggingOps struct {
	Enabled    bool   `json:"enabled"`
	MinLevel   string `json:"min_level,omitempty"`
	RatePerSec int    `json:"rate_per_sec,omitempty"`
}

// SchedulerConfig controls trigger registration.
//
// Schedule strings accept cron expressions (5 or 6 fields, descriptors),
// "every:<duration>", "daily:HH:MM" and "weekly:<day> HH:MM". Use "off" to
// disable a system schedule.
type SchedulerConfig struct {
	Enabled  bool   `json:"enabled"`
	Timezone string `json:"timezone,omitempty"`
	// SeasonStart is a date (YYYY-MM-DD) in Timezone marking week 1.
	SeasonStart string `json:"season_start,omitempty"`

	Cleanup       string `json:"cleanup,omitempty"`
	ContentPoster string `json:"content_poster,omitempty"`
	PlatformSync  string `json:"platform_sync,omitempty"`

	Leagues       []LeagueConfig `json:"leagues,omitempty"`
	ReminderHours []int          `json:"reminder_hours,omitempty"`
}

type LeagueConfig struct {
	ID         string `json:"id"`
	Timezone   string `json:"timezone,omitempty"`
	Digest     string `json:"digest,omitempty"`
	Sync       string `json:"sync,omitempty"`
	Highlights string `json:"highlights,omitempty"`
	Rivalry    string `json:"rivalry,omitempty"`
}

// ExecutorConfig sizes the worker pool that runs fired triggers.
//
// Defaults (when fields are omitted/zero):
//   - workers: 4
//   - queue_size: 256
//   - default_timeout: "0s" (disabled)
//   - history_size: 200
type ExecutorConfig struct {
	Workers        int    `json:"workers,omitempty"`
	QueueSize      int    `json:"queue_size,omitempty"`
	DefaultTimeout string `json:"default_timeout,omitempty"`
	HistorySize    int    `json:"history_size,omitempty"`
}

// DeliveryConfig controls retries and the global send limiter.
//
// Defaults: max_attempts 3, retry_base "1s", retry_max_delay "30s",
// rate_limit 5 per rate_window "1m", send_timeout "10s".
type DeliveryConfig struct {
	MaxAttempts   int    `json:"max_attempts,omitempty"`
	RetryBase     string `json:"retry_base,omitempty"`
	RetryMaxDelay string `json:"retry_max_delay,omitempty"`
	RateLimit     int    `json:"rate_limit,omitempty"`
	RateWindow    string `json:"rate_window,omitempty"`
	SendTimeout   string `json:"send_timeout,omitempty"`
}

type QueueConfig struct {
	Templates map[string]string `json:"templates,omitempty"`
	BatchSize int               `json:"batch_size,omitempty"`
}

// StorageConfig selects the primary store.
//
// Example:
//
//	storage: { driver: sqlite, path: ./leaguebot.db }
type StorageConfig struct {
	Driver      string `json:"driver,omitempty"` // memory | sqlite | postgres
	Path        string `json:"path,omitempty"`
	DSN         string `json:"dsn,omitempty"` // do not log
	BusyTimeout string `json:"busy_timeout,omitempty"`
	MaxConns    int32  `json:"max_conns,omitempty"`
}

type LedgerConfig struct {
	Driver        string `json:"driver,omitempty"` // store | redis | file
	RedisAddr     string `json:"redis_addr,omitempty"`
	RedisPassword string `json:"redis_password,omitempty"` // do not log
	RedisDB       int    `json:"redis_db,omitempty"`
	RedisPrefix   string `json:"redis_prefix,omitempty"`
	RedisTTL      string `json:"redis_ttl,omitempty"`
	WriteThrough  bool   `json:"write_through,omitempty"`
	Path          string `json:"path,omitempty"`
}

// AdminConfig controls the admin HTTP server.
//
// Security note:
//   - Prefer binding to localhost (e.g. "127.0.0.1:8090").
//   - If you bind to a non-loopback address, set a token or explicitly allow_insecure.
type AdminConfig struct {
	Enabled       bool   `json:"enabled"`
	Addr          string `json:"addr,omitempty"`
	Token         string `json:"token,omitempty"` // do not log
	AllowInsecure bool   `json:"allow_insecure,omitempty"`
	Pprof         bool   `json:"pprof,omitempty"`

	ReadTimeout  string `json:"read_timeout,omitempty"`
	WriteTimeout string `json:"write_timeout,omitempty"`
	IdleTimeout  string `json:"idle_timeout,omitempty"`
}
