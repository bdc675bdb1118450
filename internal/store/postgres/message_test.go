package postgres

import (
	"context"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMessageStoreCreateAssignsSequence(t *testing.T) {
	pool, mock := newMockPool(t)
	store := NewMessageStore(pool)

	mock.ExpectQuery("INSERT INTO messages").
		WithArgs("m1", "t1", "thread1", "user", "hello", sqlmock.AnyArg(), sqlmock.AnyArg()).
		WillReturnRows(sqlmock.NewRows([]string{"sequence"}).AddRow(int64(3)))

	msg, err := store.Create(context.Background(), "m1", "t1", "thread1", "user", "hello", JSONB{})
	require.NoError(t, err)
	assert.Equal(t, int64(3), msg.Sequence)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestMessageStoreGetHistoryAppliesFilters(t *testing.T) {
	pool, mock := newMockPool(t)
	store := NewMessageStore(pool)

	since := time.Now().Add(-time.Hour)
	fromSeq := int64(2)
	rows := sqlmock.NewRows([]string{"id", "task_id", "thread_id", "sequence", "role", "content", "metadata", "created_at"}).
		AddRow("m1", "t1", "thread1", int64(2), "user", "hi", []byte(`{}`), time.Now()).
		AddRow("m2", "t1", "thread1", int64(3), "assistant", "hello", []byte(`{}`), time.Now())

	mock.ExpectQuery("SELECT id, task_id, thread_id, sequence, role, content, metadata, created_at").
		WithArgs("t1", "thread1", "user", since, fromSeq, 10).
		WillReturnRows(rows)

	msgs, err := store.GetHistory(context.Background(), "t1", "thread1", HistoryFilter{
		Role: "user", Since: &since, FromSeq: &fromSeq, Limit: 10,
	})
	require.NoError(t, err)
	assert.Len(t, msgs, 2)
	assert.Equal(t, int64(2), msgs[0].Sequence)
}

func TestMessageStoreGetHistoryNoFiltersReturnsAll(t *testing.T) {
	pool, mock := newMockPool(t)
	store := NewMessageStore(pool)

	rows := sqlmock.NewRows([]string{"id", "task_id", "thread_id", "sequence", "role", "content", "metadata", "created_at"}).
		AddRow("m1", "t1", "thread1", int64(0), "user", "hi", []byte(`{}`), time.Now())

	mock.ExpectQuery("SELECT id, task_id, thread_id, sequence, role, content, metadata, created_at").
		WithArgs("t1", "thread1").
		WillReturnRows(rows)

	msgs, err := store.GetHistory(context.Background(), "t1", "thread1", HistoryFilter{})
	require.NoError(t, err)
	assert.Len(t, msgs, 1)
}
