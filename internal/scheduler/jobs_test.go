package scheduler

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"leaguebot/internal/eventbus"
	"leaguebot/internal/storage"
)

func job(id, league string, kind storage.JobKind, cron string, enabled bool) storage.JobDefinition {
	return storage.JobDefinition{ID: id, LeagueID: league, Kind: kind, Cron: cron, Enabled: enabled}
}

func TestEventForKind(t *testing.T) {
	t.Parallel()
	tests := []struct {
		kind storage.JobKind
		want string
		ok   bool
	}{
		{storage.KindWeeklyRecap, eventbus.RecapDue, true},
		{storage.KindAnnouncements, eventbus.ContentPosterDue, true},
		{storage.KindSleeperSync, eventbus.SleeperSyncDue, true},
		{storage.KindHighlights, eventbus.HighlightsDue, true},
		{storage.KindRivalry, eventbus.RivalryDue, true},
		{storage.KindReminders, eventbus.ReminderJobDue, true},
		{storage.KindDigest, eventbus.DigestDue, true},
		{storage.KindCleanup, "", false},
		{"mystery", "", false},
	}
	for _, tt := range tests {
		got, ok := EventForKind(tt.kind)
		if got != tt.want || ok != tt.ok {
			t.Fatalf("EventForKind(%q) = %q,%v want %q,%v", tt.kind, got, ok, tt.want, tt.ok)
		}
	}
}

func TestRunJobSuccess(t *testing.T) {
	t.Parallel()
	store := storage.NewMemory()
	s, bus := newTestService(t, Config{Enabled: true, Timezone: "UTC"}, store)
	got := capture(bus, eventbus.RecapDue)

	j := job("j1", "L1", storage.KindWeeklyRecap, "0 9 * * 2", true)
	j.Config = json.RawMessage(`{"channel":"c1"}`)
	require.NoError(t, s.RunJob(context.Background(), j))

	events := got.all()
	require.Len(t, events, 1)
	p := events[0].Payload()
	assert.Equal(t, "L1", p[eventbus.KeyLeagueID])
	assert.Equal(t, "j1", p[eventbus.KeyJobID])
	assert.Equal(t, map[string]any{"channel": "c1"}, p[eventbus.KeyConfig])
	assert.Equal(t, "UTC", p[eventbus.KeyTimezone])

	runs, err := store.JobRuns(context.Background(), "j1", 0)
	require.NoError(t, err)
	require.Len(t, runs, 1)
	assert.Equal(t, storage.RunSuccess, runs[0].Status)
	assert.False(t, runs[0].FinishedAt.IsZero())
}

func TestJobFailuresAreIsolatedAndCounted(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	store := storage.NewMemory()
	s, bus := newTestService(t, Config{Enabled: true}, store)

	failing := true
	bus.Subscribe(eventbus.HighlightsDue, func(_ context.Context, e eventbus.Event) error {
		if e.Payload()[eventbus.KeyLeagueID] == "bad" && failing {
			return errors.New("league fetch failed")
		}
		return nil
	})

	bad := job("bad-job", "bad", storage.KindHighlights, "@daily", true)
	good := job("good-job", "good", storage.KindHighlights, "@daily", true)

	require.Error(t, s.RunJob(ctx, bad))
	require.NoError(t, s.RunJob(ctx, good))
	require.Error(t, s.RunJob(ctx, bad))

	failures, err := store.JobFailures(ctx)
	require.NoError(t, err)
	require.Len(t, failures, 1)
	assert.Equal(t, "bad-job", failures[0].JobID)
	assert.Equal(t, 2, failures[0].Count)
	assert.Contains(t, failures[0].LastError, "league fetch failed")

	runs, err := store.JobRuns(ctx, "bad-job", 0)
	require.NoError(t, err)
	require.Len(t, runs, 2)
	for _, r := range runs {
		assert.Equal(t, storage.RunFailed, r.Status)
		assert.Contains(t, string(r.Detail), "league fetch failed")
	}
	goodRuns, err := store.JobRuns(ctx, "good-job", 0)
	require.NoError(t, err)
	require.Len(t, goodRuns, 1)
	assert.Equal(t, storage.RunSuccess, goodRuns[0].Status)

	// A later success clears the failure row.
	failing = false
	require.NoError(t, s.RunJob(ctx, bad))
	failures, err = store.JobFailures(ctx)
	require.NoError(t, err)
	assert.Empty(t, failures)
}

func TestRunJobUnknownKindFailsRun(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	store := storage.NewMemory()
	s, _ := newTestService(t, Config{Enabled: true}, store)

	for _, k := range []storage.JobKind{"mystery", storage.KindCleanup} {
		err := s.RunJob(ctx, job("j-"+string(k), "L1", k, "@daily", true))
		require.ErrorIs(t, err, ErrUnknownJobKind)
		runs, rerr := store.JobRuns(ctx, "j-"+string(k), 0)
		require.NoError(t, rerr)
		require.Len(t, runs, 1)
		assert.Equal(t, storage.RunFailed, runs[0].Status)
	}
}

func TestRunJobErrorExcerptIsTruncated(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	store := storage.NewMemory()
	s, bus := newTestService(t, Config{Enabled: true}, store)
	bus.Subscribe(eventbus.DigestDue, func(context.Context, eventbus.Event) error {
		return errors.New(strings.Repeat("x", 2000))
	})

	require.Error(t, s.RunJob(ctx, job("j", "L", storage.KindDigest, "@daily", true)))
	failures, err := store.JobFailures(ctx)
	require.NoError(t, err)
	require.Len(t, failures, 1)
	assert.Len(t, failures[0].LastError, storage.MaxErrorExcerpt)
}

func TestRunJobInvalidConfigFails(t *testing.T) {
	t.Parallel()
	store := storage.NewMemory()
	s, _ := newTestService(t, Config{Enabled: true}, store)

	j := job("j", "L", storage.KindDigest, "@daily", true)
	j.Config = json.RawMessage(`{not json`)
	err := s.RunJob(context.Background(), j)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "invalid job config")
}

func TestLoadAndRefreshJobs(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	store := storage.NewMemory()
	for _, j := range []storage.JobDefinition{
		job("a", "L1", storage.KindDigest, "0 9 * * 2", true),
		job("b", "L1", storage.KindRivalry, "weekly:fri 17:00", true),
		job("c", "L2", storage.KindDigest, "0 9 * * 2", false),
		job("d", "L2", storage.KindDigest, "not a cron", true),
	} {
		require.NoError(t, store.UpsertJob(ctx, j))
	}
	s, _ := newTestService(t, Config{Enabled: true}, store)
	require.NoError(t, s.SetupSystemSchedules())
	systemKeys := s.Registry().Keys(KindSystem)

	n, err := s.LoadJobsFromDatabase(ctx)
	assert.Equal(t, 2, n)
	require.ErrorIs(t, err, ErrInvalidSpec)
	assert.Equal(t, []string{"a", "b"}, s.Registry().Keys(KindJob))

	b := job("b", "L1", storage.KindRivalry, "weekly:fri 17:00", false)
	require.NoError(t, store.UpsertJob(ctx, b))
	require.NoError(t, store.UpsertJob(ctx, job("d", "L2", storage.KindDigest, "0 8 * * 1", true)))

	n, err = s.RefreshJobs(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, n)
	assert.Equal(t, []string{"a", "d"}, s.Registry().Keys(KindJob))
	assert.Equal(t, systemKeys, s.Registry().Keys(KindSystem))
}

func TestLoadJobsWithoutStore(t *testing.T) {
	t.Parallel()
	s, _ := newTestService(t, Config{Enabled: true}, nil)
	n, err := s.LoadJobsFromDatabase(context.Background())
	require.NoError(t, err)
	assert.Zero(t, n)
	assert.Error(t, s.RunJob(context.Background(), job("x", "L", storage.KindDigest, "@daily", true)))
}
