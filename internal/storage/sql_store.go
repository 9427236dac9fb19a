package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"strings"
	"time"

	"github.com/google/uuid"

	"leaguebot/pkg/logx"
)

// sqlStore implements Store on database/sql with "?" placeholders (SQLite).
type sqlStore struct {
	db  *sql.DB
	log logx.Logger
}

func newSQLStore(db *sql.DB, log logx.Logger) *sqlStore {
	return &sqlStore{db: db, log: log}
}

func (s *sqlStore) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

const jobColumns = `id, league_id, kind, cron, timezone, enabled, config`

func (s *sqlStore) Jobs(ctx context.Context) ([]JobDefinition, error) {
	return s.queryJobs(ctx, `SELECT `+jobColumns+` FROM job_definitions ORDER BY id`)
}

func (s *sqlStore) EnabledJobs(ctx context.Context) ([]JobDefinition, error) {
	return s.queryJobs(ctx, `SELECT `+jobColumns+` FROM job_definitions WHERE enabled = 1 ORDER BY id`)
}

func (s *sqlStore) queryJobs(ctx context.Context, q string) ([]JobDefinition, error) {
	rows, err := s.db.QueryContext(ctx, q)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []JobDefinition
	for rows.Next() {
		var (
			j       JobDefinition
			kind    string
			tz, cfg sql.NullString
			enabled int
		)
		if err := rows.Scan(&j.ID, &j.LeagueID, &kind, &j.Cron, &tz, &enabled, &cfg); err != nil {
			return nil, err
		}
		j.Kind = JobKind(kind)
		j.Timezone = tz.String
		j.Enabled = enabled != 0
		j.Config = rawOrNil(cfg)
		out = append(out, j)
	}
	return out, rows.Err()
}

func (s *sqlStore) UpsertJob(ctx context.Context, j JobDefinition) error {
	if strings.TrimSpace(j.ID) == "" {
		j.ID = uuid.NewString()
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO job_definitions(`+jobColumns+`) VALUES(?,?,?,?,?,?,?)
		 ON CONFLICT(id) DO UPDATE SET league_id=excluded.league_id, kind=excluded.kind, cron=excluded.cron,
		   timezone=excluded.timezone, enabled=excluded.enabled, config=excluded.config`,
		j.ID, j.LeagueID, string(j.Kind), j.Cron, nullStr(j.Timezone), boolInt(j.Enabled), nullRaw(j.Config),
	)
	return err
}

func (s *sqlStore) CreateJobRun(ctx context.Context, jobID string, startedAt time.Time) (JobRun, error) {
	r := JobRun{ID: uuid.NewString(), JobID: jobID, Status: RunRunning, StartedAt: startedAt}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO job_runs(id, job_id, status, started_at) VALUES(?,?,?,?)`,
		r.ID, r.JobID, string(r.Status), startedAt.UnixMilli(),
	)
	if err != nil {
		return JobRun{}, err
	}
	return r, nil
}

func (s *sqlStore) FinishJobRun(ctx context.Context, runID string, status RunStatus, finishedAt time.Time, detail json.RawMessage) error {
	if !status.Terminal() {
		return ErrTerminal
	}
	res, err := s.db.ExecContext(ctx,
		`UPDATE job_runs SET status = ?, finished_at = ?, detail = ? WHERE id = ? AND status = ?`,
		string(status), finishedAt.UnixMilli(), nullRaw(detail), runID, string(RunRunning),
	)
	if err != nil {
		return err
	}
	return s.checkTransition(ctx, res, `SELECT status FROM job_runs WHERE id = ?`, runID)
}

func (s *sqlStore) JobRuns(ctx context.Context, jobID string, limit int) ([]JobRun, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, job_id, status, started_at, finished_at, detail FROM job_runs
		 WHERE job_id = ? ORDER BY started_at DESC LIMIT ?`, jobID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []JobRun
	for rows.Next() {
		var (
			r        JobRun
			status   string
			started  int64
			finished sql.NullInt64
			detail   sql.NullString
		)
		if err := rows.Scan(&r.ID, &r.JobID, &status, &started, &finished, &detail); err != nil {
			return nil, err
		}
		r.Status = RunStatus(status)
		r.StartedAt = time.UnixMilli(started).UTC()
		if finished.Valid {
			r.FinishedAt = time.UnixMilli(finished.Int64).UTC()
		}
		r.Detail = rawOrNil(detail)
		out = append(out, r)
	}
	return out, rows.Err()
}

func (s *sqlStore) UpsertJobFailure(ctx context.Context, jobID, lastError string, at time.Time) (JobFailure, error) {
	lastError = Excerpt(lastError)
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO job_failures(job_id, last_error, failure_count, updated_at) VALUES(?,?,1,?)
		 ON CONFLICT(job_id) DO UPDATE SET last_error=excluded.last_error,
		   failure_count=job_failures.failure_count+1, updated_at=excluded.updated_at`,
		jobID, lastError, at.UnixMilli(),
	)
	if err != nil {
		return JobFailure{}, err
	}
	f := JobFailure{JobID: jobID}
	var updated int64
	err = s.db.QueryRowContext(ctx,
		`SELECT last_error, failure_count, updated_at FROM job_failures WHERE job_id = ?`, jobID,
	).Scan(&f.LastError, &f.Count, &updated)
	if err != nil {
		return JobFailure{}, err
	}
	f.UpdatedAt = time.UnixMilli(updated).UTC()
	return f, nil
}

func (s *sqlStore) ClearJobFailure(ctx context.Context, jobID string) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM job_failures WHERE job_id = ?`, jobID)
	return err
}

func (s *sqlStore) JobFailures(ctx context.Context) ([]JobFailure, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT job_id, last_error, failure_count, updated_at FROM job_failures ORDER BY job_id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []JobFailure
	for rows.Next() {
		var (
			f       JobFailure
			updated int64
		)
		if err := rows.Scan(&f.JobID, &f.LastError, &f.Count, &updated); err != nil {
			return nil, err
		}
		f.UpdatedAt = time.UnixMilli(updated).UTC()
		out = append(out, f)
	}
	return out, rows.Err()
}

const itemColumns = `id, league_id, channel_id, scheduled_at, template_id, payload, status, message_id, skip_reason, created_at, updated_at`

func (s *sqlStore) CreateContentItem(ctx context.Context, it ContentQueueItem) (ContentQueueItem, error) {
	if it.ID == "" {
		it.ID = uuid.NewString()
	}
	if it.CreatedAt.IsZero() {
		it.CreatedAt = time.Now().UTC()
	}
	it.UpdatedAt = it.CreatedAt
	it.Status = QueueQueued
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO content_queue(`+itemColumns+`) VALUES(?,?,?,?,?,?,?,?,?,?,?)`,
		it.ID, it.LeagueID, it.ChannelID, it.ScheduledAt.UnixMilli(), it.TemplateID, nullRaw(it.Payload),
		string(it.Status), nil, nil, it.CreatedAt.UnixMilli(), it.UpdatedAt.UnixMilli(),
	)
	if err != nil {
		return ContentQueueItem{}, err
	}
	return it, nil
}

func (s *sqlStore) ContentItem(ctx context.Context, id string) (ContentQueueItem, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT `+itemColumns+` FROM content_queue WHERE id = ?`, id)
	if err != nil {
		return ContentQueueItem{}, err
	}
	items, err := scanItems(rows)
	if err != nil {
		return ContentQueueItem{}, err
	}
	if len(items) == 0 {
		return ContentQueueItem{}, ErrNotFound
	}
	return items[0], nil
}

func (s *sqlStore) DueContentItems(ctx context.Context, now time.Time, limit int) ([]ContentQueueItem, error) {
	q := `SELECT ` + itemColumns + ` FROM content_queue
		 WHERE status = ? AND scheduled_at <= ? ORDER BY scheduled_at, created_at, id`
	args := []any{string(QueueQueued), now.UnixMilli()}
	// A non-positive limit fetches every due item.
	if limit > 0 {
		q += ` LIMIT ?`
		args = append(args, limit)
	}
	rows, err := s.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, err
	}
	return scanItems(rows)
}

func scanItems(rows *sql.Rows) ([]ContentQueueItem, error) {
	defer rows.Close()
	var out []ContentQueueItem
	for rows.Next() {
		var (
			it                      ContentQueueItem
			scheduled, created, upd int64
			payload, msgID, skip    sql.NullString
			status                  string
		)
		if err := rows.Scan(&it.ID, &it.LeagueID, &it.ChannelID, &scheduled, &it.TemplateID, &payload,
			&status, &msgID, &skip, &created, &upd); err != nil {
			return nil, err
		}
		it.ScheduledAt = time.UnixMilli(scheduled).UTC()
		it.Payload = rawOrNil(payload)
		it.Status = QueueStatus(status)
		it.MessageID = msgID.String
		it.SkipReason = skip.String
		it.CreatedAt = time.UnixMilli(created).UTC()
		it.UpdatedAt = time.UnixMilli(upd).UTC()
		out = append(out, it)
	}
	return out, rows.Err()
}

func (s *sqlStore) MarkContentPosted(ctx context.Context, id, messageID string, at time.Time) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE content_queue SET status = ?, message_id = ?, updated_at = ? WHERE id = ? AND status = ?`,
		string(QueuePosted), messageID, at.UnixMilli(), id, string(QueueQueued),
	)
	if err != nil {
		return err
	}
	return s.checkTransition(ctx, res, `SELECT status FROM content_queue WHERE id = ?`, id)
}

func (s *sqlStore) MarkContentSkipped(ctx context.Context, id, reason string, at time.Time) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE content_queue SET status = ?, skip_reason = ?, updated_at = ? WHERE id = ? AND status = ?`,
		string(QueueSkipped), nullStr(Excerpt(reason)), at.UnixMilli(), id, string(QueueQueued),
	)
	if err != nil {
		return err
	}
	return s.checkTransition(ctx, res, `SELECT status FROM content_queue WHERE id = ?`, id)
}

// checkTransition maps a zero-row guarded UPDATE to ErrNotFound or ErrTerminal.
func (s *sqlStore) checkTransition(ctx context.Context, res sql.Result, probe, id string) error {
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n > 0 {
		return nil
	}
	var status string
	err = s.db.QueryRowContext(ctx, probe, id).Scan(&status)
	if errors.Is(err, sql.ErrNoRows) {
		return ErrNotFound
	}
	if err != nil {
		return err
	}
	return ErrTerminal
}

func (s *sqlStore) GetDelivery(ctx context.Context, key string) (DeliveryEvent, bool, error) {
	var (
		ev      DeliveryEvent
		typ     string
		payload sql.NullString
		created int64
	)
	err := s.db.QueryRowContext(ctx,
		`SELECT id, type, idempotency_key, payload, created_at FROM delivery_events WHERE idempotency_key = ?`, key,
	).Scan(&ev.ID, &typ, &ev.IdempotencyKey, &payload, &created)
	if errors.Is(err, sql.ErrNoRows) {
		return DeliveryEvent{}, false, nil
	}
	if err != nil {
		return DeliveryEvent{}, false, err
	}
	ev.Type = DeliveryType(typ)
	ev.Payload = rawOrNil(payload)
	ev.CreatedAt = time.UnixMilli(created).UTC()
	return ev, true, nil
}

func (s *sqlStore) InsertDelivery(ctx context.Context, ev DeliveryEvent) (DeliveryEvent, bool, error) {
	if ev.ID == "" {
		ev.ID = uuid.NewString()
	}
	if ev.CreatedAt.IsZero() {
		ev.CreatedAt = time.Now().UTC()
	}
	res, err := s.db.ExecContext(ctx,
		`INSERT INTO delivery_events(id, type, idempotency_key, payload, created_at) VALUES(?,?,?,?,?)
		 ON CONFLICT(idempotency_key) DO NOTHING`,
		ev.ID, string(ev.Type), ev.IdempotencyKey, nullRaw(ev.Payload), ev.CreatedAt.UnixMilli(),
	)
	if err != nil {
		return DeliveryEvent{}, false, err
	}
	if n, err := res.RowsAffected(); err == nil && n > 0 {
		return ev, true, nil
	}
	cur, ok, err := s.GetDelivery(ctx, ev.IdempotencyKey)
	if err != nil {
		return DeliveryEvent{}, false, err
	}
	if !ok {
		return DeliveryEvent{}, false, ErrNotFound
	}
	return cur, false, nil
}

func nullStr(v string) any {
	if strings.TrimSpace(v) == "" {
		return nil
	}
	return v
}

func nullRaw(b json.RawMessage) any {
	if len(b) == 0 {
		return nil
	}
	return string(b)
}

func rawOrNil(v sql.NullString) json.RawMessage {
	if !v.Valid || v.String == "" {
		return nil
	}
	return json.RawMessage(v.String)
}

func boolInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
