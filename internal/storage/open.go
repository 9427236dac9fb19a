package storage

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"leaguebot/pkg/logx"
)

// JobStore persists job definitions and their execution records.
type JobStore interface {
	Jobs(ctx context.Context) ([]JobDefinition, error)
	EnabledJobs(ctx context.Context) ([]JobDefinition, error)
	UpsertJob(ctx context.Context, j JobDefinition) error

	CreateJobRun(ctx context.Context, jobID string, startedAt time.Time) (JobRun, error)
	// FinishJobRun moves a RUNNING run to SUCCESS or FAILED. Any other
	// starting state yields ErrTerminal.
	FinishJobRun(ctx context.Context, runID string, status RunStatus, finishedAt time.Time, detail json.RawMessage) error
	JobRuns(ctx context.Context, jobID string, limit int) ([]JobRun, error)

	UpsertJobFailure(ctx context.Context, jobID, lastError string, at time.Time) (JobFailure, error)
	ClearJobFailure(ctx context.Context, jobID string) error
	JobFailures(ctx context.Context) ([]JobFailure, error)
}

// QueueStore persists the content queue.
type QueueStore interface {
	CreateContentItem(ctx context.Context, it ContentQueueItem) (ContentQueueItem, error)
	ContentItem(ctx context.Context, id string) (ContentQueueItem, error)
	// DueContentItems returns queued items with ScheduledAt <= now, oldest first.
	DueContentItems(ctx context.Context, now time.Time, limit int) ([]ContentQueueItem, error)
	// MarkContentPosted and MarkContentSkipped only act on queued items and
	// return ErrTerminal otherwise.
	MarkContentPosted(ctx context.Context, id, messageID string, at time.Time) error
	MarkContentSkipped(ctx context.Context, id, reason string, at time.Time) error
}

// Ledger is the durable idempotency ledger for outbound deliveries.
type Ledger interface {
	GetDelivery(ctx context.Context, key string) (DeliveryEvent, bool, error)
	// InsertDelivery stores ev unless its key already exists. It returns the
	// row that owns the key and whether ev was the one inserted.
	InsertDelivery(ctx context.Context, ev DeliveryEvent) (DeliveryEvent, bool, error)
}

type Store interface {
	JobStore
	QueueStore
	Ledger
	Close() error
}

// Open initializes the configured store. An empty driver means "memory".
func Open(ctx context.Context, cfg Config, log logx.Logger) (Store, error) {
	if log.IsZero() {
		log = logx.Nop()
	}
	log = log.With(logx.Component("storage"))

	switch driver := strings.ToLower(strings.TrimSpace(cfg.Driver)); driver {
	case "", "memory":
		return NewMemory(), nil
	case "sqlite", "sqlite3":
		return openSQLite(ctx, cfg, log)
	case "postgres", "postgresql", "pgx":
		return openPostgres(ctx, cfg, log)
	default:
		return nil, fmt.Errorf("unknown storage driver: %s", driver)
	}
}
