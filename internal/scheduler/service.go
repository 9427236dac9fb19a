package scheduler

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"leaguebot/internal/eventbus"
	"leaguebot/internal/storage"
	"leaguebot/pkg/logx"
)

// Service turns schedules, reminders and stored jobs into bus events.
type Service struct {
	mu  sync.Mutex
	cfg Config

	reg  *Registry
	bus  eventbus.Bus
	jobs storage.JobStore
	log  logx.Logger

	now func() time.Time
}

// New wires a scheduler. jobs may be nil when no database jobs are used;
// runner may be nil to run triggers inline.
func New(cfg Config, jobs storage.JobStore, bus eventbus.Bus, runner Runner, log logx.Logger) *Service {
	if log.IsZero() {
		log = logx.Nop()
	}
	base := log
	log = log.With(logx.Component("scheduler"))
	return &Service{
		cfg:  cfg.withDefaults(),
		reg:  NewRegistry(runner, base),
		bus:  bus,
		jobs: jobs,
		log:  log,
		now:  time.Now,
	}
}

func (s *Service) Registry() *Registry { return s.reg }

func (s *Service) config() Config {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cfg
}

func (s *Service) Enabled() bool { return s.config().Enabled }

// Start registers system schedules and stored jobs, then starts firing.
// A disabled scheduler registers nothing.
func (s *Service) Start(ctx context.Context) error {
	cfg := s.config()
	if !cfg.Enabled {
		s.log.Info("scheduler disabled")
		return nil
	}
	if err := s.SetupSystemSchedules(); err != nil {
		return err
	}
	n, err := s.LoadJobsFromDatabase(ctx)
	if err != nil {
		s.log.Warn("some jobs were not scheduled", logx.Err(err))
	}
	s.reg.Start(ctx)
	s.log.Info("scheduler started", logx.String("tz", cfg.Timezone), logx.Int("jobs", n), logx.Int("entries", s.reg.Len()))
	return nil
}

func (s *Service) Stop(ctx context.Context) {
	start := time.Now()
	s.reg.Stop(ctx)
	s.log.Info("scheduler stopped", logx.Duration("took", time.Since(start)))
}

// Apply swaps the config and rebuilds system schedules. Disabling also
// drops database jobs; they are reloaded when the scheduler is enabled
// again. Reminders and custom entries are left alone.
func (s *Service) Apply(cfg Config) error {
	cfg = cfg.withDefaults()
	if err := s.validate(cfg); err != nil {
		return err
	}
	s.mu.Lock()
	wasEnabled := s.cfg.Enabled
	s.cfg = cfg
	s.mu.Unlock()

	if !cfg.Enabled {
		for _, kind := range []Kind{KindSystem, KindJob} {
			for _, k := range s.reg.Keys(kind) {
				s.reg.Unschedule(k)
			}
		}
		return nil
	}
	if err := s.SetupSystemSchedules(); err != nil {
		return err
	}
	if !wasEnabled {
		if _, err := s.LoadJobsFromDatabase(context.Background()); err != nil {
			s.log.Warn("some jobs were not scheduled", logx.Err(err))
		}
		s.reg.Start(context.Background())
	}
	return nil
}

// Schedule registers a custom recurring entry. An empty tz uses the
// configured default.
func (s *Service) Schedule(key, spec, tz string, fn Func, opts ...Option) error {
	if strings.TrimSpace(tz) == "" {
		tz = s.config().Timezone
	}
	return s.reg.Schedule(key, spec, tz, fn, opts...)
}

func (s *Service) Unschedule(key string) bool { return s.reg.Unschedule(key) }

// Validate reports whether Apply would accept cfg, without applying it.
func (s *Service) Validate(cfg Config) error { return s.validate(cfg.withDefaults()) }

func (s *Service) Tasks() []TaskInfo { return s.reg.Tasks() }

// emit returns a Func publishing name with a fresh copy of payload.
func (s *Service) emit(name string, payload map[string]any) Func {
	return func(ctx context.Context) error {
		if s.bus == nil {
			return nil
		}
		data := make(map[string]any, len(payload)+2)
		for k, v := range payload {
			data[k] = v
		}
		now := s.now()
		data[eventbus.KeyFiredAt] = now
		if w, ok := s.week(now); ok {
			data[eventbus.KeyWeek] = w
		}
		return s.bus.Publish(ctx, name, data)
	}
}

// week returns the 1-based season week containing t, or 0 before the
// season starts.
func (s *Service) week(t time.Time) (int, bool) {
	start := s.config().SeasonStart
	if start.IsZero() {
		return 0, false
	}
	if t.Before(start) {
		return 0, true
	}
	return int(t.Sub(start)/(7*24*time.Hour)) + 1, true
}

func (s *Service) validate(cfg Config) error {
	if tz := strings.TrimSpace(cfg.Timezone); tz != "" {
		if _, err := time.LoadLocation(tz); err != nil {
			return fmt.Errorf("%w: timezone %q: %v", ErrInvalidSpec, tz, err)
		}
	}
	for _, sp := range s.systemSpecs(cfg) {
		if err := s.reg.Validate(sp.spec, sp.tz); err != nil {
			return fmt.Errorf("%s: %w", sp.key, err)
		}
	}
	for _, h := range cfg.ReminderHours {
		if h < 0 {
			return fmt.Errorf("reminder hours must be >= 0, got %d", h)
		}
	}
	return nil
}
