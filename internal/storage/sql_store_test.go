package storage

import (
	"context"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"leaguebot/pkg/logx"
)

func newMockStore(t *testing.T) (*sqlStore, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	return newSQLStore(db, logx.Nop()), mock
}

func TestSQLMarkPostedOnTerminalItem(t *testing.T) {
	t.Parallel()
	st, mock := newMockStore(t)

	mock.ExpectExec(`UPDATE content_queue SET status`).
		WithArgs("posted", "m-1", sqlmock.AnyArg(), "item-1", "queued").
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectQuery(`SELECT status FROM content_queue`).
		WithArgs("item-1").
		WillReturnRows(sqlmock.NewRows([]string{"status"}).AddRow("skipped"))

	err := st.MarkContentPosted(context.Background(), "item-1", "m-1", time.Now())
	assert.ErrorIs(t, err, ErrTerminal)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestSQLFinishRunMissing(t *testing.T) {
	t.Parallel()
	st, mock := newMockStore(t)

	mock.ExpectExec(`UPDATE job_runs SET status`).
		WithArgs("FAILED", sqlmock.AnyArg(), nil, "run-1", "RUNNING").
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectQuery(`SELECT status FROM job_runs`).
		WithArgs("run-1").
		WillReturnRows(sqlmock.NewRows([]string{"status"}))

	err := st.FinishJobRun(context.Background(), "run-1", RunFailed, time.Now(), nil)
	assert.ErrorIs(t, err, ErrNotFound)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestSQLInsertDeliveryConflictReturnsOwner(t *testing.T) {
	t.Parallel()
	st, mock := newMockStore(t)

	mock.ExpectExec(`INSERT INTO delivery_events`).
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectQuery(`SELECT id, type, idempotency_key, payload, created_at FROM delivery_events`).
		WithArgs("content:1").
		WillReturnRows(sqlmock.NewRows([]string{"id", "type", "idempotency_key", "payload", "created_at"}).
			AddRow("ev-owner", "MESSAGE_POSTED", "content:1", `{"message_id":"m"}`, int64(1700000000000)))

	got, inserted, err := st.InsertDelivery(context.Background(), DeliveryEvent{Type: DeliveryMessagePosted, IdempotencyKey: "content:1"})
	require.NoError(t, err)
	assert.False(t, inserted)
	assert.Equal(t, "ev-owner", got.ID)
	require.NoError(t, mock.ExpectationsWereMet())
}
