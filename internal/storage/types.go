package storage

import (
	"encoding/json"
	"errors"
	"time"
	"unicode/utf8"
)

var (
	ErrNotFound = errors.New("storage: not found")
	// ErrTerminal is returned when a transition targets a row that already
	// left its initial state.
	ErrTerminal = errors.New("storage: already in a terminal state")
	ErrClosed   = errors.New("storage: closed")
)

// Config configures the primary store.
type Config struct {
	Driver      string
	Path        string // sqlite file
	DSN         string // postgres
	BusyTimeout time.Duration
	MaxConns    int32
}

type JobKind string

const (
	KindWeeklyRecap   JobKind = "weekly_recap"
	KindAnnouncements JobKind = "announcements"
	KindSleeperSync   JobKind = "sleeper_sync"
	KindHighlights    JobKind = "highlights"
	KindRivalry       JobKind = "rivalry"
	KindReminders     JobKind = "reminders"
	KindDigest        JobKind = "digest"
	KindCleanup       JobKind = "cleanup"
)

// JobDefinition is a league-scoped recurring job stored in the database.
type JobDefinition struct {
	ID       string          `json:"id"`
	LeagueID string          `json:"league_id"`
	Kind     JobKind         `json:"kind"`
	Cron     string          `json:"cron"`
	Timezone string          `json:"timezone,omitempty"`
	Enabled  bool            `json:"enabled"`
	Config   json.RawMessage `json:"config,omitempty"`
}

type RunStatus string

const (
	RunRunning RunStatus = "RUNNING"
	RunSuccess RunStatus = "SUCCESS"
	RunFailed  RunStatus = "FAILED"
)

func (s RunStatus) Terminal() bool { return s == RunSuccess || s == RunFailed }

// JobRun is one execution of a JobDefinition. Rows are append-only.
type JobRun struct {
	ID         string          `json:"id"`
	JobID      string          `json:"job_id"`
	Status     RunStatus       `json:"status"`
	StartedAt  time.Time       `json:"started_at"`
	FinishedAt time.Time       `json:"finished_at,omitempty"`
	Detail     json.RawMessage `json:"detail,omitempty"`
}

// JobFailure keeps the most recent failure per job.
type JobFailure struct {
	JobID     string    `json:"job_id"`
	LastError string    `json:"last_error"`
	Count     int       `json:"count"`
	UpdatedAt time.Time `json:"updated_at"`
}

type QueueStatus string

const (
	QueueQueued  QueueStatus = "queued"
	QueuePosted  QueueStatus = "posted"
	QueueSkipped QueueStatus = "skipped"
)

// ContentQueueItem is a pending outbound message. Items are never deleted.
type ContentQueueItem struct {
	ID          string          `json:"id"`
	LeagueID    string          `json:"league_id"`
	ChannelID   string          `json:"channel_id"`
	ScheduledAt time.Time       `json:"scheduled_at"`
	TemplateID  string          `json:"template_id"`
	Payload     json.RawMessage `json:"payload,omitempty"`
	Status      QueueStatus     `json:"status"`
	MessageID   string          `json:"message_id,omitempty"`
	SkipReason  string          `json:"skip_reason,omitempty"`
	CreatedAt   time.Time       `json:"created_at"`
	UpdatedAt   time.Time       `json:"updated_at"`
}

type DeliveryType string

const (
	DeliveryMessagePosted DeliveryType = "MESSAGE_POSTED"
	DeliveryDMSent        DeliveryType = "DM_SENT"
	DeliveryReactionAdded DeliveryType = "REACTION_ADDED"
)

// DeliveryEvent is one idempotency ledger row. IdempotencyKey is unique.
type DeliveryEvent struct {
	ID             string          `json:"id"`
	Type           DeliveryType    `json:"type"`
	IdempotencyKey string          `json:"idempotency_key"`
	Payload        json.RawMessage `json:"payload"`
	CreatedAt      time.Time       `json:"created_at"`
}

// MaxErrorExcerpt bounds error text persisted for runs, failures and skips.
const MaxErrorExcerpt = 500

// Excerpt truncates s to at most MaxErrorExcerpt bytes, backing off to a
// rune boundary so TEXT columns never receive invalid UTF-8.
func Excerpt(s string) string {
	if len(s) <= MaxErrorExcerpt {
		return s
	}
	cut := MaxErrorExcerpt
	for cut > 0 && !utf8.RuneStart(s[cut]) {
		cut--
	}
	return s[:cut]
}
