package scheduler

import (
	"context"
	"errors"
	"time"

	"leaguebot/internal/executor"
)

var (
	// ErrInvalidSpec wraps every schedule or timezone validation failure.
	ErrInvalidSpec    = errors.New("invalid schedule")
	ErrUnknownJobKind = errors.New("unknown job kind")
)

// Func is the body of a scheduled entry.
type Func func(ctx context.Context) error

// Runner executes fired entries. *executor.Service satisfies it.
type Runner interface {
	Submit(t executor.Task) error
}

// Kind groups registry entries by origin.
type Kind string

const (
	// KindCustom is the default for entries registered through Schedule;
	// they live until Unschedule.
	KindCustom   Kind = "custom"
	KindSystem   Kind = "system"
	KindJob      Kind = "job"
	KindReminder Kind = "reminder"
)

// Config controls the scheduler service.
type Config struct {
	Enabled  bool
	Timezone string // IANA TZ used when an entry has none
	// SeasonStart is the first day of week 1. Zero disables the week field.
	SeasonStart time.Time

	// Global system schedules. "off" disables an entry.
	Cleanup       string
	ContentPoster string
	PlatformSync  string

	Leagues []LeagueSchedule

	// ReminderHours are the default offsets for ScheduleReminder.
	ReminderHours []int
}

// LeagueSchedule holds the per-league system schedules. Empty fields are
// not scheduled.
type LeagueSchedule struct {
	ID         string
	Timezone   string
	Digest     string
	Sync       string
	Highlights string
	Rivalry    string
}

const (
	DefaultCleanup       = "0 3 * * *"
	DefaultContentPoster = "*/5 * * * *"
	DefaultPlatformSync  = "@hourly"
)

func (c Config) withDefaults() Config {
	if c.Cleanup == "" {
		c.Cleanup = DefaultCleanup
	}
	if c.ContentPoster == "" {
		c.ContentPoster = DefaultContentPoster
	}
	if c.PlatformSync == "" {
		c.PlatformSync = DefaultPlatformSync
	}
	if len(c.ReminderHours) == 0 {
		c.ReminderHours = []int{24, 1}
	}
	return c
}

// TaskInfo is a read-only view of one registry entry.
type TaskInfo struct {
	Key         string    `json:"key"`
	Kind        Kind      `json:"kind"`
	Spec        string    `json:"spec,omitempty"`
	Timezone    string    `json:"timezone,omitempty"`
	Description string    `json:"description,omitempty"`
	Running     bool      `json:"running"`
	Next        time.Time `json:"next,omitempty"`
	Prev        time.Time `json:"prev,omitempty"`
	At          time.Time `json:"at,omitempty"`
}
