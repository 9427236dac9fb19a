package app

import (
	"fmt"
	"io"
	"strings"
	"time"

	"leaguebot/internal/admin"
	"leaguebot/internal/config"
	"leaguebot/internal/delivery"
	"leaguebot/internal/executor"
	"leaguebot/internal/platform"
	"leaguebot/internal/platform/discord"
	"leaguebot/internal/platform/telegram"
	"leaguebot/internal/queue"
	"leaguebot/internal/scheduler"
	"leaguebot/internal/storage"
	"leaguebot/pkg/logx"
)

func mapLogConfig(cfg *config.Config) logx.Config {
	return logx.Config{
		Level:   cfg.Logging.Level,
		Console: cfg.Logging.Console,
		File: logx.FileConfig{
			Enabled: cfg.Logging.File.Enabled,
			Path:    cfg.Logging.File.Path,
		},
		Ops: logx.OpsConfig{
			Enabled:    cfg.Logging.Ops.Enabled,
			ChannelID:  cfg.Platform.OpsChannel,
			MinLevel:   cfg.Logging.Ops.MinLevel,
			RatePerSec: cfg.Logging.Ops.RatePerSec,
		},
	}
}

func mapSchedulerConfig(cfg *config.Config) (scheduler.Config, error) {
	sc := cfg.Scheduler
	out := scheduler.Config{
		Enabled:       sc.Enabled,
		Timezone:      strings.TrimSpace(sc.Timezone),
		Cleanup:       sc.Cleanup,
		ContentPoster: sc.ContentPoster,
		PlatformSync:  sc.PlatformSync,
		ReminderHours: append([]int(nil), sc.ReminderHours...),
	}
	if raw := strings.TrimSpace(sc.SeasonStart); raw != "" {
		loc := time.UTC
		if out.Timezone != "" {
			l, err := time.LoadLocation(out.Timezone)
			if err != nil {
				return scheduler.Config{}, fmt.Errorf("scheduler.timezone: %w", err)
			}
			loc = l
		}
		t, err := time.ParseInLocation(config.SeasonStartLayout, raw, loc)
		if err != nil {
			return scheduler.Config{}, fmt.Errorf("scheduler.season_start: %w", err)
		}
		out.SeasonStart = t
	}
	for _, l := range sc.Leagues {
		out.Leagues = append(out.Leagues, scheduler.LeagueSchedule{
			ID:         strings.TrimSpace(l.ID),
			Timezone:   strings.TrimSpace(l.Timezone),
			Digest:     l.Digest,
			Sync:       l.Sync,
			Highlights: l.Highlights,
			Rivalry:    l.Rivalry,
		})
	}
	return out, nil
}

func mapExecutorConfig(cfg *config.Config) (executor.Config, error) {
	ec := cfg.Executor
	timeout, err := config.ParseDuration("executor.default_timeout", ec.DefaultTimeout, 0)
	if err != nil {
		return executor.Config{}, err
	}
	return executor.Config{
		Workers:        ec.Workers,
		QueueSize:      ec.QueueSize,
		DefaultTimeout: timeout,
		HistorySize:    ec.HistorySize,
	}, nil
}

func mapDeliveryConfig(cfg *config.Config) (delivery.Config, error) {
	dc := cfg.Delivery
	out := delivery.Config{MaxAttempts: dc.MaxAttempts, RateLimit: dc.RateLimit}
	var err error
	if out.RetryBase, err = config.ParseDuration("delivery.retry_base", dc.RetryBase, 0); err != nil {
		return delivery.Config{}, err
	}
	if out.RetryMaxDelay, err = config.ParseDuration("delivery.retry_max_delay", dc.RetryMaxDelay, 0); err != nil {
		return delivery.Config{}, err
	}
	if out.RateWindow, err = config.ParseDuration("delivery.rate_window", dc.RateWindow, 0); err != nil {
		return delivery.Config{}, err
	}
	if out.SendTimeout, err = config.ParseDuration("delivery.send_timeout", dc.SendTimeout, 0); err != nil {
		return delivery.Config{}, err
	}
	return out, nil
}

func mapQueueConfig(cfg *config.Config) queue.Config {
	return queue.Config{Templates: cfg.Queue.Templates, BatchSize: cfg.Queue.BatchSize}
}

func mapStorageConfig(cfg *config.Config) (storage.Config, error) {
	sc := cfg.Storage
	busy, err := config.ParseDuration("storage.busy_timeout", sc.BusyTimeout, time.Second)
	if err != nil {
		return storage.Config{}, err
	}
	return storage.Config{
		Driver:      strings.TrimSpace(sc.Driver),
		Path:        strings.TrimSpace(sc.Path),
		DSN:         strings.TrimSpace(sc.DSN),
		BusyTimeout: busy,
		MaxConns:    sc.MaxConns,
	}, nil
}

func mapLedgerConfig(cfg *config.Config) (storage.LedgerConfig, error) {
	lc := cfg.Ledger
	ttl, err := config.ParseDuration("ledger.redis_ttl", lc.RedisTTL, 0)
	if err != nil {
		return storage.LedgerConfig{}, err
	}
	return storage.LedgerConfig{
		Driver:        strings.TrimSpace(lc.Driver),
		RedisAddr:     strings.TrimSpace(lc.RedisAddr),
		RedisPassword: lc.RedisPassword,
		RedisDB:       lc.RedisDB,
		RedisPrefix:   lc.RedisPrefix,
		RedisTTL:      ttl,
		WriteThrough:  lc.WriteThrough,
		Path:          strings.TrimSpace(lc.Path),
	}, nil
}

func mapAdminConfig(cfg *config.Config) (admin.Config, error) {
	ac := cfg.Admin
	out := admin.Config{
		Enabled:       ac.Enabled,
		Addr:          strings.TrimSpace(ac.Addr),
		Token:         strings.TrimSpace(ac.Token),
		AllowInsecure: ac.AllowInsecure,
		Pprof:         ac.Pprof,
	}
	var err error
	if out.ReadTimeout, err = config.ParseDuration("admin.read_timeout", ac.ReadTimeout, 0); err != nil {
		return admin.Config{}, err
	}
	if out.WriteTimeout, err = config.ParseDuration("admin.write_timeout", ac.WriteTimeout, 0); err != nil {
		return admin.Config{}, err
	}
	if out.IdleTimeout, err = config.ParseDuration("admin.idle_timeout", ac.IdleTimeout, 0); err != nil {
		return admin.Config{}, err
	}
	return out, nil
}

// openMessenger builds the platform adapter. The closer is nil when the
// adapter holds nothing to release.
func openMessenger(cfg *config.Config, log logx.Logger) (platform.Messenger, io.Closer, error) {
	pc := cfg.Platform
	switch driver := strings.ToLower(strings.TrimSpace(pc.Driver)); driver {
	case "", "dryrun":
		return platform.NewDryRun(log), nil, nil
	case "discord":
		timeout, err := config.ParseDuration("platform.discord.request_timeout", pc.Discord.RequestTimeout, 0)
		if err != nil {
			return nil, nil, err
		}
		a, err := discord.New(discord.Config{Token: pc.Discord.Token, RequestTimeout: timeout}, log)
		if err != nil {
			return nil, nil, err
		}
		return a, a, nil
	case "telegram":
		a, err := telegram.New(telegram.Config{Token: pc.Telegram.Token}, log)
		if err != nil {
			return nil, nil, err
		}
		return a, a, nil
	default:
		return nil, nil, fmt.Errorf("unknown platform.driver: %s", driver)
	}
}
