package scheduler

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"leaguebot/internal/eventbus"
	"leaguebot/internal/metrics"
	"leaguebot/internal/storage"
	"leaguebot/pkg/logx"
)

var jobEvents = map[storage.JobKind]string{
	storage.KindWeeklyRecap:   eventbus.RecapDue,
	storage.KindAnnouncements: eventbus.ContentPosterDue,
	storage.KindSleeperSync:   eventbus.SleeperSyncDue,
	storage.KindHighlights:    eventbus.HighlightsDue,
	storage.KindRivalry:       eventbus.RivalryDue,
	storage.KindReminders:     eventbus.ReminderJobDue,
	storage.KindDigest:        eventbus.DigestDue,
}

// EventForKind maps a job kind to the event its runs publish.
func EventForKind(k storage.JobKind) (string, bool) {
	ev, ok := jobEvents[k]
	return ev, ok
}

// LoadJobsFromDatabase schedules every enabled job under its id. Jobs with
// an invalid schedule are skipped; their errors are joined into the
// returned error. The count covers scheduled jobs only.
func (s *Service) LoadJobsFromDatabase(ctx context.Context) (int, error) {
	if s.jobs == nil {
		return 0, nil
	}
	jobs, err := s.jobs.EnabledJobs(ctx)
	if err != nil {
		return 0, fmt.Errorf("load jobs: %w", err)
	}
	def := s.config().Timezone

	n := 0
	var errs []error
	for _, j := range jobs {
		if !j.Enabled {
			continue
		}
		job := j
		tz := job.Timezone
		if strings.TrimSpace(tz) == "" {
			tz = def
		}
		err := s.reg.Schedule(job.ID, job.Cron, tz,
			func(ctx context.Context) error { return s.RunJob(ctx, job) },
			WithKind(KindJob),
			WithDescription(fmt.Sprintf("%s league=%s", job.Kind, job.LeagueID)),
		)
		if err != nil {
			s.log.Warn("job not scheduled", logx.String("job_id", job.ID), logx.String("cron", job.Cron), logx.Err(err))
			errs = append(errs, fmt.Errorf("job %s: %w", job.ID, err))
			continue
		}
		n++
	}
	s.log.Info("jobs loaded", logx.Int("scheduled", n), logx.Int("invalid", len(errs)))
	return n, errors.Join(errs...)
}

// RefreshJobs unschedules every job-derived entry and reloads from the
// database. System and reminder entries are not touched.
func (s *Service) RefreshJobs(ctx context.Context) (int, error) {
	removed := 0
	for _, k := range s.reg.Keys(KindJob) {
		if s.reg.Unschedule(k) {
			removed++
		}
	}
	s.log.Debug("job entries cleared", logx.Int("removed", removed))
	return s.LoadJobsFromDatabase(ctx)
}

// RunJob executes one run of job: it records a RUNNING JobRun, publishes
// the job's event and finishes the run as SUCCESS or FAILED. A failure
// upserts the job's JobFailure row; a success clears it. The returned
// error is the run's failure, if any.
func (s *Service) RunJob(ctx context.Context, job storage.JobDefinition) error {
	if s.jobs == nil {
		return errors.New("job store not configured")
	}
	log := s.log.With(logx.String("job_id", job.ID), logx.String("kind", string(job.Kind)))

	run, err := s.jobs.CreateJobRun(ctx, job.ID, s.now())
	if err != nil {
		log.Error("job run not recorded", logx.Err(err))
		return fmt.Errorf("create job run: %w", err)
	}

	event, runErr := s.publishJob(ctx, job)

	// Bookkeeping must land even when the trigger context is gone.
	bg := context.WithoutCancel(ctx)
	status := storage.RunSuccess
	detail := map[string]any{"event": event}
	if runErr != nil {
		status = storage.RunFailed
		excerpt := storage.Excerpt(runErr.Error())
		detail["error"] = excerpt
		f, ferr := s.jobs.UpsertJobFailure(bg, job.ID, excerpt, s.now())
		if ferr != nil {
			log.Error("job failure not recorded", logx.Err(ferr))
		} else {
			log.Warn("job run failed", logx.Int("failures", f.Count), logx.Err(runErr))
		}
	} else if cerr := s.jobs.ClearJobFailure(bg, job.ID); cerr != nil {
		log.Warn("job failure not cleared", logx.Err(cerr))
	}

	raw, _ := json.Marshal(detail)
	if ferr := s.jobs.FinishJobRun(bg, run.ID, status, s.now(), raw); ferr != nil {
		log.Error("job run not finished", logx.String("run_id", run.ID), logx.Err(ferr))
	}
	metrics.JobRuns.WithLabelValues(string(job.Kind), string(status)).Inc()
	if runErr == nil {
		log.Debug("job run succeeded", logx.String("run_id", run.ID), logx.String("event", event))
	}
	return runErr
}

func (s *Service) publishJob(ctx context.Context, job storage.JobDefinition) (string, error) {
	event, ok := EventForKind(job.Kind)
	if !ok {
		return "", fmt.Errorf("%w: %q", ErrUnknownJobKind, job.Kind)
	}
	var cfg any
	if len(job.Config) > 0 {
		if err := json.Unmarshal(job.Config, &cfg); err != nil {
			return event, fmt.Errorf("invalid job config: %w", err)
		}
	}
	tz := job.Timezone
	if strings.TrimSpace(tz) == "" {
		tz = s.config().Timezone
	}
	payload := map[string]any{
		eventbus.KeyLeagueID: job.LeagueID,
		eventbus.KeyJobID:    job.ID,
		eventbus.KeyConfig:   cfg,
		eventbus.KeyTimezone: tz,
	}
	return event, s.emit(event, payload)(ctx)
}
