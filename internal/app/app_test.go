package app

import (
	"context"
	"os"
	"path/filepath"
	"strconv"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"leaguebot/internal/config"
	"leaguebot/internal/eventbus"
	"leaguebot/internal/scheduler"
	"leaguebot/internal/storage"
)

type sent struct {
	channel string
	body    string
}

type fakeMessenger struct {
	mu   sync.Mutex
	msgs []sent
}

func (f *fakeMessenger) SendMessage(_ context.Context, channelID, body string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.msgs = append(f.msgs, sent{channel: channelID, body: body})
	return "m" + strconv.Itoa(len(f.msgs)), nil
}

func (f *fakeMessenger) SendDM(ctx context.Context, userID, body string) (string, error) {
	return f.SendMessage(ctx, "dm:"+userID, body)
}

func (f *fakeMessenger) AddReaction(context.Context, string, string, string) error { return nil }

func (f *fakeMessenger) all() []sent {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]sent(nil), f.msgs...)
}

const testConfig = `
platform:
  driver: dryrun
logging:
  level: error
  console: false
  file:
    enabled: false
    path: ""
scheduler:
  enabled: true
  timezone: UTC
  content_poster: "off"
  cleanup: "off"
  platform_sync: "off"
  leagues:
    - id: lg1
      digest: "weekly:tue 09:00"
queue:
  templates:
    recap: "Recap for {{leagueId}}"
storage:
  driver: memory
admin:
  enabled: false
`

func newTestApp(t *testing.T, body string) (*App, *fakeMessenger) {
	t.Helper()
	path := filepath.Join(t.TempDir(), "leaguebot.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))

	fm := &fakeMessenger{}
	a, err := New(context.Background(), path, WithMessenger(fm))
	require.NoError(t, err)
	return a, fm
}

func startTestApp(t *testing.T, a *App) {
	t.Helper()
	require.NoError(t, a.Start(context.Background()))
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = a.Stop(ctx, StopAppStop)
	})
}

func TestContentPosterDueDeliversQueuedItems(t *testing.T) {
	a, fm := newTestApp(t, testConfig)
	startTestApp(t, a)
	ctx := context.Background()

	due, err := a.Queue().Enqueue(ctx, "lg1", "chan-1", time.Now().Add(-time.Minute), "recap", map[string]any{"leagueId": "lg1"})
	require.NoError(t, err)
	later, err := a.Queue().Enqueue(ctx, "lg1", "chan-1", time.Now().Add(time.Hour), "recap", nil)
	require.NoError(t, err)

	require.NoError(t, a.Bus().Publish(ctx, eventbus.ContentPosterDue, map[string]any{}))

	require.Equal(t, []sent{{channel: "chan-1", body: "Recap for lg1"}}, fm.all())

	got, err := a.Store().ContentItem(ctx, due.ID)
	require.NoError(t, err)
	require.Equal(t, storage.QueuePosted, got.Status)
	require.Equal(t, "m1", got.MessageID)

	got, err = a.Store().ContentItem(ctx, later.ID)
	require.NoError(t, err)
	require.Equal(t, storage.QueueQueued, got.Status)
}

func TestStartRegistersLeagueSchedules(t *testing.T) {
	a, _ := newTestApp(t, testConfig)
	startTestApp(t, a)

	require.Equal(t, []string{"league:lg1:digest"}, a.Scheduler().Registry().Keys(scheduler.KindSystem))
	st, ok := a.status().(status)
	require.True(t, ok)
	require.True(t, st.SchedulerOn)
	require.Equal(t, 1, st.Entries)
	require.True(t, st.Executor.Running)
}

func TestApplyConfigUpdatesLiveSections(t *testing.T) {
	a, fm := newTestApp(t, testConfig)
	startTestApp(t, a)
	ctx := context.Background()

	oldCfg := a.cfgm.Get()
	next := *oldCfg
	next.Queue = config.QueueConfig{Templates: map[string]string{"recap": "New recap {{leagueId}}"}}
	next.Scheduler.Enabled = false
	next.Scheduler.Leagues = nil

	a.applyConfig(ctx, oldCfg, &next)

	require.Empty(t, a.Scheduler().Registry().Keys(scheduler.KindSystem))
	require.False(t, a.Scheduler().Enabled())

	_, err := a.Queue().Enqueue(ctx, "lg1", "chan-2", time.Now().Add(-time.Second), "recap", map[string]any{"leagueId": "lg1"})
	require.NoError(t, err)
	n, err := a.Queue().PostQueued(ctx, time.Now())
	require.NoError(t, err)
	require.Equal(t, 1, n)
	require.Equal(t, "New recap lg1", fm.all()[0].body)
}

func TestValidateRejectsBadSchedule(t *testing.T) {
	a, _ := newTestApp(t, testConfig)
	t.Cleanup(func() { _ = a.Stop(context.Background(), StopAppStop) })

	bad := *a.cfgm.Get()
	bad.Scheduler.Cleanup = "99 99 * * *"
	require.ErrorIs(t, a.validate(&bad), scheduler.ErrInvalidSpec)

	bad = *a.cfgm.Get()
	bad.Delivery.RetryBase = "later"
	require.Error(t, a.validate(&bad))

	require.NoError(t, a.validate(a.cfgm.Get()))
}

func TestNewRejectsInvalidConfig(t *testing.T) {
	path := filepath.Join(t.TempDir(), "leaguebot.yaml")
	require.NoError(t, os.WriteFile(path, []byte("platform:\n  driver: discord\n"), 0o600))
	_, err := New(context.Background(), path)
	require.ErrorContains(t, err, "platform.discord.token")
}
