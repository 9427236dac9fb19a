package storage

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"leaguebot/pkg/logx"
)

func newTestRedis(t *testing.T) (*miniredis.Miniredis, *redis.Client) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return mr, client
}

func TestRedisLedgerStandalone(t *testing.T) {
	t.Parallel()
	mr, client := newTestRedis(t)
	l := newRedisLedger(client, "t:", 0, nil, logx.Nop())

	exerciseLedger(t, l)
	assert.True(t, mr.Exists("t:k1"))
}

func TestRedisLedgerWriteThrough(t *testing.T) {
	t.Parallel()
	mr, client := newTestRedis(t)
	primary := NewMemory()
	l := newRedisLedger(client, "t:", 0, primary, logx.Nop())

	exerciseLedger(t, l)

	_, ok, err := primary.GetDelivery(context.Background(), "k1")
	require.NoError(t, err)
	assert.True(t, ok, "primary store stays authoritative")

	// A cold cache falls back to the primary store and refills.
	mr.FlushAll()
	_, ok, err = l.GetDelivery(context.Background(), "k1")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.True(t, mr.Exists("t:k1"))
}

func TestFileLedgerReplay(t *testing.T) {
	t.Parallel()
	path := filepath.Join(t.TempDir(), "ledger.jsonl")

	l, err := OpenFileLedger(path, logx.Nop())
	require.NoError(t, err)
	exerciseLedger(t, l)
	require.NoError(t, l.Close())

	reopened, err := OpenFileLedger(path, logx.Nop())
	require.NoError(t, err)
	t.Cleanup(func() { _ = reopened.Close() })

	ev, ok, err := reopened.GetDelivery(context.Background(), "k1")
	require.NoError(t, err)
	require.True(t, ok)
	assert.JSONEq(t, `{"message_id":"m1"}`, string(ev.Payload))
}

func TestOpenLedgerDefaultsToPrimary(t *testing.T) {
	t.Parallel()
	primary := NewMemory()
	l, closer, err := OpenLedger(context.Background(), LedgerConfig{}, primary, logx.Nop())
	require.NoError(t, err)
	require.NoError(t, closer.Close())
	assert.Equal(t, primary, l)
}
