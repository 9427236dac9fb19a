package scheduler

import (
	"errors"
	"fmt"
	"strings"

	"leaguebot/internal/eventbus"
	"leaguebot/internal/executor"
)

type systemSpec struct {
	key     string
	spec    string
	tz      string
	event   string
	league  string
	overlap executor.OverlapPolicy
}

func disabled(spec string) bool {
	v := strings.ToLower(strings.TrimSpace(spec))
	return v == "" || v == "off" || v == "-"
}

// systemSpecs expands cfg into the system entries it describes.
func (s *Service) systemSpecs(cfg Config) []systemSpec {
	var out []systemSpec
	add := func(sp systemSpec) {
		if !disabled(sp.spec) {
			out = append(out, sp)
		}
	}
	add(systemSpec{key: "system:cleanup", spec: cfg.Cleanup, tz: cfg.Timezone, event: eventbus.CleanupDue})
	add(systemSpec{key: "system:content_poster", spec: cfg.ContentPoster, tz: cfg.Timezone, event: eventbus.ContentPosterDue, overlap: executor.OverlapSkipIfRunning})
	add(systemSpec{key: "system:platform_sync", spec: cfg.PlatformSync, tz: cfg.Timezone, event: eventbus.SleeperSyncDue})

	for _, l := range cfg.Leagues {
		id := strings.TrimSpace(l.ID)
		if id == "" {
			continue
		}
		tz := l.Timezone
		if strings.TrimSpace(tz) == "" {
			tz = cfg.Timezone
		}
		prefix := "league:" + id + ":"
		add(systemSpec{key: prefix + "digest", spec: l.Digest, tz: tz, event: eventbus.DigestDue, league: id})
		add(systemSpec{key: prefix + "sync", spec: l.Sync, tz: tz, event: eventbus.SyncDue, league: id})
		add(systemSpec{key: prefix + "highlights", spec: l.Highlights, tz: tz, event: eventbus.HighlightsDue, league: id})
		add(systemSpec{key: prefix + "rivalry", spec: l.Rivalry, tz: tz, event: eventbus.RivalryDue, league: id})
	}
	return out
}

// SetupSystemSchedules (re)registers every configured system entry and
// removes system entries no longer configured. Calling it repeatedly
// leaves exactly one entry per key.
func (s *Service) SetupSystemSchedules() error {
	cfg := s.config()
	specs := s.systemSpecs(cfg)

	want := make(map[string]struct{}, len(specs))
	var errs []error
	for _, sp := range specs {
		want[sp.key] = struct{}{}
		payload := map[string]any{eventbus.KeyTimezone: sp.tz}
		if sp.league != "" {
			payload[eventbus.KeyLeagueID] = sp.league
		}
		err := s.reg.Schedule(sp.key, sp.spec, sp.tz, s.emit(sp.event, payload),
			WithKind(KindSystem),
			WithDescription(sp.event),
			WithOverlap(sp.overlap),
		)
		if err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", sp.key, err))
		}
	}
	for _, k := range s.reg.Keys(KindSystem) {
		if _, ok := want[k]; !ok && isSystemKey(k) {
			s.reg.Unschedule(k)
		}
	}
	return errors.Join(errs...)
}

// isSystemKey reports whether key is one SetupSystemSchedules generates.
func isSystemKey(key string) bool {
	return strings.HasPrefix(key, "system:") || strings.HasPrefix(key, "league:")
}
