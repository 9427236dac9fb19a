package storage

import (
	"context"
	_ "embed"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"leaguebot/pkg/logx"
)

//go:embed postgres_migrations.sql
var postgresMigrations string

type pgStore struct {
	pool *pgxpool.Pool
	log  logx.Logger
}

func openPostgres(ctx context.Context, cfg Config, log logx.Logger) (Store, error) {
	dsn := strings.TrimSpace(cfg.DSN)
	if dsn == "" {
		return nil, errors.New("storage.dsn is required for postgres driver")
	}
	pcfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("parse postgres dsn: %w", err)
	}
	if cfg.MaxConns > 0 {
		pcfg.MaxConns = cfg.MaxConns
	}
	pool, err := pgxpool.NewWithConfig(ctx, pcfg)
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}
	if _, err := pool.Exec(ctx, postgresMigrations); err != nil {
		pool.Close()
		return nil, fmt.Errorf("postgres migrate: %w", err)
	}
	log.Info("postgres store opened", logx.String("host", pcfg.ConnConfig.Host))
	return &pgStore{pool: pool, log: log}, nil
}

func (s *pgStore) Close() error {
	if s.pool != nil {
		s.pool.Close()
	}
	return nil
}

func (s *pgStore) Jobs(ctx context.Context) ([]JobDefinition, error) {
	return s.queryJobs(ctx, `SELECT `+jobColumns+` FROM job_definitions ORDER BY id`)
}

func (s *pgStore) EnabledJobs(ctx context.Context) ([]JobDefinition, error) {
	return s.queryJobs(ctx, `SELECT `+jobColumns+` FROM job_definitions WHERE enabled ORDER BY id`)
}

func (s *pgStore) queryJobs(ctx context.Context, q string) ([]JobDefinition, error) {
	rows, err := s.pool.Query(ctx, q)
	if err != nil {
		return nil, fmt.Errorf("query jobs: %w", err)
	}
	defer rows.Close()

	var out []JobDefinition
	for rows.Next() {
		var (
			j    JobDefinition
			kind string
			tz   *string
			cfg  []byte
		)
		if err := rows.Scan(&j.ID, &j.LeagueID, &kind, &j.Cron, &tz, &j.Enabled, &cfg); err != nil {
			return nil, fmt.Errorf("scan job: %w", err)
		}
		j.Kind = JobKind(kind)
		if tz != nil {
			j.Timezone = *tz
		}
		if len(cfg) > 0 {
			j.Config = json.RawMessage(cfg)
		}
		out = append(out, j)
	}
	return out, rows.Err()
}

func (s *pgStore) UpsertJob(ctx context.Context, j JobDefinition) error {
	if strings.TrimSpace(j.ID) == "" {
		j.ID = uuid.NewString()
	}
	_, err := s.pool.Exec(ctx, `
		INSERT INTO job_definitions (`+jobColumns+`) VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (id) DO UPDATE SET league_id = EXCLUDED.league_id, kind = EXCLUDED.kind, cron = EXCLUDED.cron,
		  timezone = EXCLUDED.timezone, enabled = EXCLUDED.enabled, config = EXCLUDED.config
	`, j.ID, j.LeagueID, string(j.Kind), j.Cron, nullStr(j.Timezone), j.Enabled, nullRaw(j.Config))
	return err
}

func (s *pgStore) CreateJobRun(ctx context.Context, jobID string, startedAt time.Time) (JobRun, error) {
	r := JobRun{ID: uuid.NewString(), JobID: jobID, Status: RunRunning, StartedAt: startedAt}
	_, err := s.pool.Exec(ctx, `
		INSERT INTO job_runs (id, job_id, status, started_at) VALUES ($1, $2, $3, $4)
	`, r.ID, r.JobID, string(r.Status), startedAt)
	if err != nil {
		return JobRun{}, fmt.Errorf("insert job run: %w", err)
	}
	return r, nil
}

func (s *pgStore) FinishJobRun(ctx context.Context, runID string, status RunStatus, finishedAt time.Time, detail json.RawMessage) error {
	if !status.Terminal() {
		return ErrTerminal
	}
	tag, err := s.pool.Exec(ctx, `
		UPDATE job_runs SET status = $2, finished_at = $3, detail = $4
		WHERE id = $1 AND status = $5
	`, runID, string(status), finishedAt, nullRaw(detail), string(RunRunning))
	if err != nil {
		return err
	}
	return s.checkTransition(ctx, tag, `SELECT status FROM job_runs WHERE id = $1`, runID)
}

func (s *pgStore) JobRuns(ctx context.Context, jobID string, limit int) ([]JobRun, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.pool.Query(ctx, `
		SELECT id, job_id, status, started_at, finished_at, detail FROM job_runs
		WHERE job_id = $1 ORDER BY started_at DESC LIMIT $2
	`, jobID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []JobRun
	for rows.Next() {
		var (
			r        JobRun
			status   string
			finished *time.Time
			detail   []byte
		)
		if err := rows.Scan(&r.ID, &r.JobID, &status, &r.StartedAt, &finished, &detail); err != nil {
			return nil, err
		}
		r.Status = RunStatus(status)
		if finished != nil {
			r.FinishedAt = *finished
		}
		if len(detail) > 0 {
			r.Detail = json.RawMessage(detail)
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

func (s *pgStore) UpsertJobFailure(ctx context.Context, jobID, lastError string, at time.Time) (JobFailure, error) {
	f := JobFailure{JobID: jobID}
	err := s.pool.QueryRow(ctx, `
		INSERT INTO job_failures (job_id, last_error, failure_count, updated_at) VALUES ($1, $2, 1, $3)
		ON CONFLICT (job_id) DO UPDATE SET last_error = EXCLUDED.last_error,
		  failure_count = job_failures.failure_count + 1, updated_at = EXCLUDED.updated_at
		RETURNING last_error, failure_count, updated_at
	`, jobID, Excerpt(lastError), at).Scan(&f.LastError, &f.Count, &f.UpdatedAt)
	if err != nil {
		return JobFailure{}, fmt.Errorf("upsert job failure: %w", err)
	}
	return f, nil
}

func (s *pgStore) ClearJobFailure(ctx context.Context, jobID string) error {
	_, err := s.pool.Exec(ctx, `DELETE FROM job_failures WHERE job_id = $1`, jobID)
	return err
}

func (s *pgStore) JobFailures(ctx context.Context) ([]JobFailure, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT job_id, last_error, failure_count, updated_at FROM job_failures ORDER BY job_id
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []JobFailure
	for rows.Next() {
		var f JobFailure
		if err := rows.Scan(&f.JobID, &f.LastError, &f.Count, &f.UpdatedAt); err != nil {
			return nil, err
		}
		out = append(out, f)
	}
	return out, rows.Err()
}

func (s *pgStore) CreateContentItem(ctx context.Context, it ContentQueueItem) (ContentQueueItem, error) {
	if it.ID == "" {
		it.ID = uuid.NewString()
	}
	if it.CreatedAt.IsZero() {
		it.CreatedAt = time.Now().UTC()
	}
	it.UpdatedAt = it.CreatedAt
	it.Status = QueueQueued
	_, err := s.pool.Exec(ctx, `
		INSERT INTO content_queue (`+itemColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, NULL, NULL, $8, $8)
	`, it.ID, it.LeagueID, it.ChannelID, it.ScheduledAt, it.TemplateID, nullRaw(it.Payload), string(it.Status), it.CreatedAt)
	if err != nil {
		return ContentQueueItem{}, fmt.Errorf("insert content item: %w", err)
	}
	return it, nil
}

func (s *pgStore) ContentItem(ctx context.Context, id string) (ContentQueueItem, error) {
	items, err := s.queryItems(ctx, `SELECT `+itemColumns+` FROM content_queue WHERE id = $1`, id)
	if err != nil {
		return ContentQueueItem{}, err
	}
	if len(items) == 0 {
		return ContentQueueItem{}, ErrNotFound
	}
	return items[0], nil
}

func (s *pgStore) DueContentItems(ctx context.Context, now time.Time, limit int) ([]ContentQueueItem, error) {
	q := `
		SELECT ` + itemColumns + ` FROM content_queue
		WHERE status = $1 AND scheduled_at <= $2
		ORDER BY scheduled_at, created_at, id`
	args := []any{string(QueueQueued), now}
	if limit > 0 {
		q += ` LIMIT $3`
		args = append(args, limit)
	}
	return s.queryItems(ctx, q, args...)
}

func (s *pgStore) queryItems(ctx context.Context, q string, args ...any) ([]ContentQueueItem, error) {
	rows, err := s.pool.Query(ctx, q, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []ContentQueueItem
	for rows.Next() {
		var (
			it            ContentQueueItem
			payload       []byte
			status        string
			msgID, reason *string
		)
		if err := rows.Scan(&it.ID, &it.LeagueID, &it.ChannelID, &it.ScheduledAt, &it.TemplateID, &payload,
			&status, &msgID, &reason, &it.CreatedAt, &it.UpdatedAt); err != nil {
			return nil, err
		}
		if len(payload) > 0 {
			it.Payload = json.RawMessage(payload)
		}
		it.Status = QueueStatus(status)
		if msgID != nil {
			it.MessageID = *msgID
		}
		if reason != nil {
			it.SkipReason = *reason
		}
		out = append(out, it)
	}
	return out, rows.Err()
}

func (s *pgStore) MarkContentPosted(ctx context.Context, id, messageID string, at time.Time) error {
	tag, err := s.pool.Exec(ctx, `
		UPDATE content_queue SET status = $2, message_id = $3, updated_at = $4
		WHERE id = $1 AND status = $5
	`, id, string(QueuePosted), messageID, at, string(QueueQueued))
	if err != nil {
		return err
	}
	return s.checkTransition(ctx, tag, `SELECT status FROM content_queue WHERE id = $1`, id)
}

func (s *pgStore) MarkContentSkipped(ctx context.Context, id, reason string, at time.Time) error {
	tag, err := s.pool.Exec(ctx, `
		UPDATE content_queue SET status = $2, skip_reason = $3, updated_at = $4
		WHERE id = $1 AND status = $5
	`, id, string(QueueSkipped), nullStr(Excerpt(reason)), at, string(QueueQueued))
	if err != nil {
		return err
	}
	return s.checkTransition(ctx, tag, `SELECT status FROM content_queue WHERE id = $1`, id)
}

func (s *pgStore) checkTransition(ctx context.Context, tag pgconn.CommandTag, probe, id string) error {
	if tag.RowsAffected() > 0 {
		return nil
	}
	var status string
	err := s.pool.QueryRow(ctx, probe, id).Scan(&status)
	if errors.Is(err, pgx.ErrNoRows) {
		return ErrNotFound
	}
	if err != nil {
		return err
	}
	return ErrTerminal
}

func (s *pgStore) GetDelivery(ctx context.Context, key string) (DeliveryEvent, bool, error) {
	var (
		ev      DeliveryEvent
		typ     string
		payload []byte
	)
	err := s.pool.QueryRow(ctx, `
		SELECT id, type, idempotency_key, payload, created_at FROM delivery_events WHERE idempotency_key = $1
	`, key).Scan(&ev.ID, &typ, &ev.IdempotencyKey, &payload, &ev.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return DeliveryEvent{}, false, nil
	}
	if err != nil {
		return DeliveryEvent{}, false, fmt.Errorf("query delivery event: %w", err)
	}
	ev.Type = DeliveryType(typ)
	if len(payload) > 0 {
		ev.Payload = json.RawMessage(payload)
	}
	return ev, true, nil
}

func (s *pgStore) InsertDelivery(ctx context.Context, ev DeliveryEvent) (DeliveryEvent, bool, error) {
	if ev.ID == "" {
		ev.ID = uuid.NewString()
	}
	if ev.CreatedAt.IsZero() {
		ev.CreatedAt = time.Now().UTC()
	}
	tag, err := s.pool.Exec(ctx, `
		INSERT INTO delivery_events (id, type, idempotency_key, payload, created_at)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (idempotency_key) DO NOTHING
	`, ev.ID, string(ev.Type), ev.IdempotencyKey, nullRaw(ev.Payload), ev.CreatedAt)
	if err != nil {
		return DeliveryEvent{}, false, fmt.Errorf("insert delivery event: %w", err)
	}
	if tag.RowsAffected() > 0 {
		return ev, true, nil
	}
	cur, ok, err := s.GetDelivery(ctx, ev.IdempotencyKey)
	if err != nil {
		return DeliveryEvent{}, false, err
	}
	if !ok {
		return DeliveryEvent{}, false, errors.New("idempotency conflict but no existing delivery found")
	}
	return cur, false, nil
}
