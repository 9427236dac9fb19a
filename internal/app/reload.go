package app

import (
	"context"
	"strings"

	"leaguebot/internal/config"
	"leaguebot/pkg/logx"
)

// validate maps every live section so a bad reload is rejected before commit.
func (a *App) validate(cfg *config.Config) error {
	scfg, err := mapSchedulerConfig(cfg)
	if err != nil {
		return err
	}
	if err := a.sched.Validate(scfg); err != nil {
		return err
	}
	if _, err := mapExecutorConfig(cfg); err != nil {
		return err
	}
	if _, err := mapDeliveryConfig(cfg); err != nil {
		return err
	}
	if _, err := mapAdminConfig(cfg); err != nil {
		return err
	}
	if _, err := mapStorageConfig(cfg); err != nil {
		return err
	}
	_, err = mapLedgerConfig(cfg)
	return err
}

func (a *App) reloadLoop(ctx context.Context, sub chan *config.Config) {
	defer a.cfgm.Unsubscribe(sub)
	// Track last applied config to generate a safe diff summary.
	lastApplied := a.cfgm.Get()
	for {
		select {
		case <-ctx.Done():
			return
		case newCfg, ok := <-sub:
			if !ok {
				return
			}
			// Coalesce bursts: keep only the latest config in the channel.
		drain:
			for {
				select {
				case newer := <-sub:
					if newer != nil {
						newCfg = newer
					}
				default:
					break drain
				}
			}
			a.applyConfig(ctx, lastApplied, newCfg)
			lastApplied = newCfg
		}
	}
}

// applyConfig pushes live sections into running components. Sections read
// only at startup are reported as needing a restart.
func (a *App) applyConfig(ctx context.Context, oldCfg, newCfg *config.Config) {
	if newCfg == nil {
		return
	}
	sections, attrs := config.SummarizeConfigChange(oldCfg, newCfg)
	if len(sections) == 0 {
		a.log.Info("config reloaded (no changes)")
		return
	}
	fields := append([]logx.Field{logx.String("changed", strings.Join(sections, ","))}, attrs...)
	a.log.Debug("config change summary", fields...)

	if restart := config.RestartRequired(sections); len(restart) > 0 {
		a.log.Warn("config changed; restart required for changes to take effect", logx.Strings("sections", restart))
	}

	for _, s := range sections {
		switch s {
		case "logging":
			a.logs.Apply(mapLogConfig(newCfg))
		case "queue":
			a.queue.Apply(mapQueueConfig(newCfg))
		case "delivery":
			dcfg, err := mapDeliveryConfig(newCfg)
			if err != nil {
				a.log.Warn("invalid delivery config; keeping previous", logx.Err(err))
				continue
			}
			a.delivery.Apply(dcfg)
		case "executor":
			ecfg, err := mapExecutorConfig(newCfg)
			if err != nil {
				a.log.Warn("invalid executor config; keeping previous", logx.Err(err))
				continue
			}
			// Pool size changes wait for the next start; the timeout is live.
			a.exec.Apply(ecfg)
		case "scheduler":
			prev := a.sched.Enabled()
			scfg, err := mapSchedulerConfig(newCfg)
			if err == nil {
				err = a.sched.Apply(scfg)
			}
			if err != nil {
				a.log.Warn("invalid scheduler config; keeping previous", logx.Err(err))
				continue
			}
			switch {
			case prev && !scfg.Enabled:
				a.log.Info("scheduler disabled via config")
			case !prev && scfg.Enabled:
				a.log.Info("scheduler enabled via config")
			}
		case "admin":
			acfg, err := mapAdminConfig(newCfg)
			if err != nil {
				a.log.Warn("invalid admin config; keeping previous", logx.Err(err))
				continue
			}
			// ctx outlives this call: a restarted listener is bound to it.
			a.admin.Reconfigure(ctx, acfg)
		}
	}

	a.log.Info("config reloaded", fields...)
}
