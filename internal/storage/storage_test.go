package storage

import (
	"context"
	"encoding/json"
	"path/filepath"
	"strings"
	"testing"
	"time"
	"unicode/utf8"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"leaguebot/pkg/logx"
)

// exerciseStore runs the shared contract against any Store implementation.
func exerciseStore(t *testing.T, st Store) {
	t.Helper()
	ctx := context.Background()
	base := time.Date(2025, 9, 7, 12, 0, 0, 0, time.UTC)

	t.Run("jobs", func(t *testing.T) {
		require.NoError(t, st.UpsertJob(ctx, JobDefinition{ID: "j1", LeagueID: "L1", Kind: KindDigest, Cron: "0 9 * * 2", Enabled: true, Config: json.RawMessage(`{"a":1}`)}))
		require.NoError(t, st.UpsertJob(ctx, JobDefinition{ID: "j2", LeagueID: "L1", Kind: KindRivalry, Cron: "0 9 * * 3", Enabled: false}))

		all, err := st.Jobs(ctx)
		require.NoError(t, err)
		assert.Len(t, all, 2)

		enabled, err := st.EnabledJobs(ctx)
		require.NoError(t, err)
		require.Len(t, enabled, 1)
		assert.Equal(t, "j1", enabled[0].ID)
		assert.JSONEq(t, `{"a":1}`, string(enabled[0].Config))
	})

	t.Run("job run terminal once", func(t *testing.T) {
		run, err := st.CreateJobRun(ctx, "j1", base)
		require.NoError(t, err)
		assert.Equal(t, RunRunning, run.Status)

		require.NoError(t, st.FinishJobRun(ctx, run.ID, RunSuccess, base.Add(time.Second), nil))
		assert.ErrorIs(t, st.FinishJobRun(ctx, run.ID, RunFailed, base.Add(2*time.Second), nil), ErrTerminal)
		assert.ErrorIs(t, st.FinishJobRun(ctx, "missing", RunFailed, base, nil), ErrNotFound)

		runs, err := st.JobRuns(ctx, "j1", 10)
		require.NoError(t, err)
		require.Len(t, runs, 1)
		assert.Equal(t, RunSuccess, runs[0].Status)
	})

	t.Run("job failure upsert counts", func(t *testing.T) {
		long := make([]byte, 900)
		for i := range long {
			long[i] = 'x'
		}
		f1, err := st.UpsertJobFailure(ctx, "j9", "boom", base)
		require.NoError(t, err)
		assert.Equal(t, 1, f1.Count)

		f2, err := st.UpsertJobFailure(ctx, "j9", string(long), base.Add(time.Minute))
		require.NoError(t, err)
		assert.Equal(t, 2, f2.Count)
		assert.Len(t, f2.LastError, MaxErrorExcerpt)

		fs, err := st.JobFailures(ctx)
		require.NoError(t, err)
		require.Len(t, fs, 1)

		require.NoError(t, st.ClearJobFailure(ctx, "j9"))
		fs, err = st.JobFailures(ctx)
		require.NoError(t, err)
		assert.Empty(t, fs)
	})

	t.Run("content queue", func(t *testing.T) {
		late, err := st.CreateContentItem(ctx, ContentQueueItem{LeagueID: "L1", ChannelID: "C", ScheduledAt: base.Add(-time.Minute), TemplateID: "t"})
		require.NoError(t, err)
		early, err := st.CreateContentItem(ctx, ContentQueueItem{LeagueID: "L1", ChannelID: "C", ScheduledAt: base.Add(-time.Hour), TemplateID: "t"})
		require.NoError(t, err)
		_, err = st.CreateContentItem(ctx, ContentQueueItem{LeagueID: "L1", ChannelID: "C", ScheduledAt: base.Add(time.Hour), TemplateID: "t"})
		require.NoError(t, err)

		due, err := st.DueContentItems(ctx, base, 0)
		require.NoError(t, err)
		require.Len(t, due, 2)
		assert.Equal(t, early.ID, due[0].ID)
		assert.Equal(t, late.ID, due[1].ID)

		require.NoError(t, st.MarkContentPosted(ctx, early.ID, "m-1", base))
		assert.ErrorIs(t, st.MarkContentSkipped(ctx, early.ID, "late", base), ErrTerminal)
		require.NoError(t, st.MarkContentSkipped(ctx, late.ID, "platform down", base))
		assert.ErrorIs(t, st.MarkContentPosted(ctx, late.ID, "m-2", base), ErrTerminal)
		assert.ErrorIs(t, st.MarkContentPosted(ctx, "nope", "m-3", base), ErrNotFound)

		got, err := st.ContentItem(ctx, early.ID)
		require.NoError(t, err)
		assert.Equal(t, QueuePosted, got.Status)
		assert.Equal(t, "m-1", got.MessageID)

		due, err = st.DueContentItems(ctx, base, 0)
		require.NoError(t, err)
		assert.Empty(t, due)
	})

	t.Run("due items are not capped", func(t *testing.T) {
		const n = 520
		for i := 0; i < n; i++ {
			_, err := st.CreateContentItem(ctx, ContentQueueItem{LeagueID: "L2", ChannelID: "C", ScheduledAt: base.Add(-time.Duration(i+1) * time.Second), TemplateID: "t"})
			require.NoError(t, err)
		}
		due, err := st.DueContentItems(ctx, base, 0)
		require.NoError(t, err)
		assert.Len(t, due, n)
		assert.True(t, due[0].ScheduledAt.Before(due[n-1].ScheduledAt))

		capped, err := st.DueContentItems(ctx, base, 10)
		require.NoError(t, err)
		assert.Len(t, capped, 10)

		for _, it := range due {
			require.NoError(t, st.MarkContentSkipped(ctx, it.ID, "cleanup", base))
		}
	})

	t.Run("ledger unique key", func(t *testing.T) {
		exerciseLedger(t, st)
	})
}

func exerciseLedger(t *testing.T, l Ledger) {
	t.Helper()
	ctx := context.Background()

	_, ok, err := l.GetDelivery(ctx, "k1")
	require.NoError(t, err)
	assert.False(t, ok)

	first, inserted, err := l.InsertDelivery(ctx, DeliveryEvent{Type: DeliveryMessagePosted, IdempotencyKey: "k1", Payload: json.RawMessage(`{"message_id":"m1"}`)})
	require.NoError(t, err)
	assert.True(t, inserted)

	second, inserted, err := l.InsertDelivery(ctx, DeliveryEvent{Type: DeliveryMessagePosted, IdempotencyKey: "k1", Payload: json.RawMessage(`{"message_id":"m2"}`)})
	require.NoError(t, err)
	assert.False(t, inserted)
	assert.Equal(t, first.ID, second.ID)
	assert.JSONEq(t, `{"message_id":"m1"}`, string(second.Payload))

	got, ok, err := l.GetDelivery(ctx, "k1")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, first.ID, got.ID)
}

func TestMemoryStore(t *testing.T) {
	t.Parallel()
	exerciseStore(t, NewMemory())
}

func TestSQLiteStore(t *testing.T) {
	t.Parallel()
	st, err := Open(context.Background(), Config{Driver: "sqlite", Path: filepath.Join(t.TempDir(), "lb.db")}, logx.Nop())
	require.NoError(t, err)
	t.Cleanup(func() { _ = st.Close() })
	exerciseStore(t, st)
}

func TestOpenUnknownDriver(t *testing.T) {
	t.Parallel()
	_, err := Open(context.Background(), Config{Driver: "mongo"}, logx.Nop())
	require.Error(t, err)
}

func TestExcerpt(t *testing.T) {
	t.Parallel()
	assert.Equal(t, "short", Excerpt("short"))
	s := string(make([]byte, 501))
	assert.Len(t, Excerpt(s), 500)

	// "é" is two bytes and straddles the cut.
	split := Excerpt(strings.Repeat("a", 499) + "é tail")
	assert.True(t, utf8.ValidString(split))
	assert.Equal(t, strings.Repeat("a", 499), split)

	multi := Excerpt(strings.Repeat("日本", 200))
	assert.True(t, utf8.ValidString(multi))
	assert.LessOrEqual(t, len(multi), MaxErrorExcerpt)
}
