package config

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

// SeasonStartLayout is the accepted format of scheduler.season_start.
const SeasonStartLayout = "2006-01-02"

// Validate checks field shapes that do not need the runtime components.
// Schedule expressions are checked by the scheduler itself.
func Validate(cfg *Config) error {
	if cfg == nil {
		return errors.New("config is nil")
	}
	var errs []error
	add := func(format string, args ...any) { errs = append(errs, fmt.Errorf(format, args...)) }

	switch strings.ToLower(strings.TrimSpace(cfg.Platform.Driver)) {
	case "", "dryrun":
	case "discord":
		if strings.TrimSpace(cfg.Platform.Discord.Token) == "" {
			add("platform.discord.token is required when platform.driver=discord (or set %s)", EnvDiscordToken)
		}
	case "telegram":
		if strings.TrimSpace(cfg.Platform.Telegram.Token) == "" {
			add("platform.telegram.token is required when platform.driver=telegram (or set %s)", EnvTelegramToken)
		}
	default:
		add("unknown platform.driver: %s", cfg.Platform.Driver)
	}
	if cfg.Logging.Ops.Enabled && strings.TrimSpace(cfg.Platform.OpsChannel) == "" {
		add("logging.ops.enabled requires platform.ops_channel")
	}

	sc := cfg.Scheduler
	if tz := strings.TrimSpace(sc.Timezone); tz != "" {
		if _, err := time.LoadLocation(tz); err != nil {
			add("scheduler.timezone: %w", err)
		}
	}
	if s := strings.TrimSpace(sc.SeasonStart); s != "" {
		if _, err := time.Parse(SeasonStartLayout, s); err != nil {
			add("scheduler.season_start: want YYYY-MM-DD: %w", err)
		}
	}
	for _, h := range sc.ReminderHours {
		if h <= 0 {
			add("scheduler.reminder_hours: offsets must be > 0, got %d", h)
		}
	}
	seen := map[string]bool{}
	for i, l := range sc.Leagues {
		id := strings.TrimSpace(l.ID)
		if id == "" {
			add("scheduler.leagues[%d].id is required", i)
			continue
		}
		if seen[id] {
			add("scheduler.leagues[%d]: duplicate id %q", i, id)
		}
		seen[id] = true
		if tz := strings.TrimSpace(l.Timezone); tz != "" {
			if _, err := time.LoadLocation(tz); err != nil {
				add("scheduler.leagues[%d].timezone: %w", i, err)
			}
		}
	}

	if cfg.Executor.Workers < 0 || cfg.Executor.QueueSize < 0 || cfg.Executor.HistorySize < 0 {
		add("executor: sizes must be >= 0")
	}
	if cfg.Delivery.MaxAttempts < 0 || cfg.Delivery.RateLimit < 0 {
		add("delivery: max_attempts and rate_limit must be >= 0")
	}
	if cfg.Queue.BatchSize < 0 {
		add("queue.batch_size must be >= 0")
	}

	durations := []struct{ path, raw string }{
		{"platform.discord.request_timeout", cfg.Platform.Discord.RequestTimeout},
		{"executor.default_timeout", cfg.Executor.DefaultTimeout},
		{"delivery.retry_base", cfg.Delivery.RetryBase},
		{"delivery.retry_max_delay", cfg.Delivery.RetryMaxDelay},
		{"delivery.rate_window", cfg.Delivery.RateWindow},
		{"delivery.send_timeout", cfg.Delivery.SendTimeout},
		{"storage.busy_timeout", cfg.Storage.BusyTimeout},
		{"ledger.redis_ttl", cfg.Ledger.RedisTTL},
		{"admin.read_timeout", cfg.Admin.ReadTimeout},
		{"admin.write_timeout", cfg.Admin.WriteTimeout},
		{"admin.idle_timeout", cfg.Admin.IdleTimeout},
	}
	for _, d := range durations {
		if _, err := ParseDuration(d.path, d.raw, 0); err != nil {
			errs = append(errs, err)
		}
	}

	switch strings.ToLower(strings.TrimSpace(cfg.Storage.Driver)) {
	case "", "memory":
	case "sqlite", "sqlite3":
		if strings.TrimSpace(cfg.Storage.Path) == "" {
			add("storage.path is required when storage.driver=sqlite")
		}
	case "postgres", "postgresql", "pgx":
		if strings.TrimSpace(cfg.Storage.DSN) == "" {
			add("storage.dsn is required when storage.driver=postgres (or set %s)", EnvDatabaseDSN)
		}
	default:
		add("unknown storage.driver: %s", cfg.Storage.Driver)
	}

	switch strings.ToLower(strings.TrimSpace(cfg.Ledger.Driver)) {
	case "", "store":
	case "redis":
		if strings.TrimSpace(cfg.Ledger.RedisAddr) == "" {
			add("ledger.redis_addr is required when ledger.driver=redis")
		}
	case "file":
		if strings.TrimSpace(cfg.Ledger.Path) == "" {
			add("ledger.path is required when ledger.driver=file")
		}
	default:
		add("unknown ledger.driver: %s", cfg.Ledger.Driver)
	}

	return errors.Join(errs...)
}
