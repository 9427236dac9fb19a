package config

import (
	"reflect"
	"strings"

	"leaguebot/pkg/logx"
)

// SummarizeConfigChange returns (1) a compact list of changed sections and
// (2) safe structured attrs for logging (never includes secrets like tokens).
func SummarizeConfigChange(oldCfg, newCfg *Config) ([]string, []logx.Field) {
	if oldCfg == nil {
		oldCfg = &Config{}
	}
	if newCfg == nil {
		newCfg = &Config{}
	}

	changed := make([]string, 0, 9)
	attrs := make([]logx.Field, 0, 20)

	// Platform (never log tokens)
	op, np := oldCfg.Platform, newCfg.Platform
	if !strings.EqualFold(strings.TrimSpace(op.Driver), strings.TrimSpace(np.Driver)) ||
		strings.TrimSpace(op.OpsChannel) != strings.TrimSpace(np.OpsChannel) ||
		strings.TrimSpace(op.Discord.RequestTimeout) != strings.TrimSpace(np.Discord.RequestTimeout) ||
		op.Discord.Token != np.Discord.Token ||
		op.Telegram.Token != np.Telegram.Token {
		changed = append(changed, "platform")
		attrs = append(attrs,
			logx.String("platform.driver", strings.TrimSpace(np.Driver)),
			logx.Bool("platform.ops_channel_set", strings.TrimSpace(np.OpsChannel) != ""),
			logx.Bool("platform.token_changed", op.Discord.Token != np.Discord.Token || op.Telegram.Token != np.Telegram.Token),
		)
	}

	if !reflect.DeepEqual(oldCfg.Logging, newCfg.Logging) {
		changed = append(changed, "logging")
		attrs = append(attrs,
			logx.String("logx.level", newCfg.Logging.Level),
			logx.Bool("logx.console", newCfg.Logging.Console),
			logx.Bool("logx.file_enabled", newCfg.Logging.File.Enabled),
			logx.Bool("logx.ops_enabled", newCfg.Logging.Ops.Enabled),
		)
	}

	if !reflect.DeepEqual(oldCfg.Scheduler, newCfg.Scheduler) {
		changed = append(changed, "scheduler")
		attrs = append(attrs,
			logx.Bool("scheduler.enabled", newCfg.Scheduler.Enabled),
			logx.String("scheduler.timezone", strings.TrimSpace(newCfg.Scheduler.Timezone)),
			logx.Int("scheduler.leagues", len(newCfg.Scheduler.Leagues)),
		)
	}

	if oldCfg.Executor != newCfg.Executor {
		changed = append(changed, "executor")
		attrs = append(attrs,
			logx.Int("executor.workers", newCfg.Executor.Workers),
			logx.Int("executor.queue_size", newCfg.Executor.QueueSize),
		)
	}

	if oldCfg.Delivery != newCfg.Delivery {
		changed = append(changed, "delivery")
		attrs = append(attrs,
			logx.Int("delivery.max_attempts", newCfg.Delivery.MaxAttempts),
			logx.Int("delivery.rate_limit", newCfg.Delivery.RateLimit),
			logx.String("delivery.rate_window", strings.TrimSpace(newCfg.Delivery.RateWindow)),
		)
	}

	if !reflect.DeepEqual(oldCfg.Queue, newCfg.Queue) {
		changed = append(changed, "queue")
		attrs = append(attrs,
			logx.Int("queue.templates", len(newCfg.Queue.Templates)),
			logx.Int("queue.batch_size", newCfg.Queue.BatchSize),
		)
	}

	// Storage (never log dsn)
	if oldCfg.Storage != newCfg.Storage {
		changed = append(changed, "storage")
		attrs = append(attrs,
			logx.String("storage.driver", strings.TrimSpace(newCfg.Storage.Driver)),
			logx.String("storage.path", strings.TrimSpace(newCfg.Storage.Path)),
			logx.Bool("storage.dsn_set", strings.TrimSpace(newCfg.Storage.DSN) != ""),
		)
	}

	if oldCfg.Ledger != newCfg.Ledger {
		changed = append(changed, "ledger")
		attrs = append(attrs,
			logx.String("ledger.driver", strings.TrimSpace(newCfg.Ledger.Driver)),
			logx.String("ledger.redis_addr", strings.TrimSpace(newCfg.Ledger.RedisAddr)),
		)
	}

	// Admin (never log token)
	oa, na := oldCfg.Admin, newCfg.Admin
	if oa != na {
		changed = append(changed, "admin")
		attrs = append(attrs,
			logx.Bool("admin.enabled", na.Enabled),
			logx.String("admin.addr", strings.TrimSpace(na.Addr)),
			logx.Bool("admin.token_set", strings.TrimSpace(na.Token) != ""),
			logx.Bool("admin.allow_insecure", na.AllowInsecure),
			logx.Bool("admin.pprof", na.Pprof),
		)
	}

	return changed, attrs
}

// RestartRequired lists changed sections that are only read at startup.
func RestartRequired(changed []string) []string {
	var out []string
	for _, s := range changed {
		switch s {
		case "platform", "storage", "ledger":
			out = append(out, s)
		}
	}
	return out
}
