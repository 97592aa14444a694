package admin

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/taskdeck/eventrelay/pkg/common"
	"github.com/taskdeck/eventrelay/pkg/logger"
	"github.com/taskdeck/eventrelay/pkg/memory"
	"github.com/taskdeck/eventrelay/pkg/metrics"
)

func TestMain(m *testing.M) {
	metrics.Register()
	m.Run()
}

func deadLetterFixture(t *testing.T, store common.OutboxStore) string {
	t.Helper()
	ctx := context.Background()

	msg := &common.OutboxMessage{
		EventType:   "task.created",
		AggregateID: "project-7",
		Payload:     []byte(`{"task_id":"42"}`),
	}
	require.NoError(t, store.Append(ctx, msg))

	batch, err := store.ClaimBatch(ctx, 1, time.Minute)
	require.NoError(t, err)
	require.Len(t, batch, 1)
	require.NoError(t, store.MoveToDeadLetter(ctx, msg.ID, "handler exploded"))
	return msg.ID
}

func TestRetryRequeuesAndRemovesDeadLetter(t *testing.T) {
	dl := memory.NewDeadLetterStore()
	outbox := memory.NewOutboxStore(dl)
	svc := NewService(outbox, dl, logger.Nop())
	ctx := context.Background()

	originalID := deadLetterFixture(t, outbox)

	letters, _, err := svc.List(ctx, 1, 10, common.DeadLetterFilter{})
	require.NoError(t, err)
	require.Len(t, letters, 1)

	newID, err := svc.Retry(ctx, letters[0].ID)
	require.NoError(t, err)
	assert.NotEqual(t, originalID, newID, "requeue produces a fresh outbox message")

	// The requeued message is pending with a reset retry budget and the
	// original payload.
	requeued, ok := outbox.Get(newID)
	require.True(t, ok)
	assert.Equal(t, common.StatusPending, requeued.Status)
	assert.Equal(t, 0, requeued.RetryCount)
	assert.Equal(t, "task.created", requeued.EventType)
	assert.Equal(t, "project-7", requeued.AggregateID)
	assert.JSONEq(t, `{"task_id":"42"}`, string(requeued.Payload))

	// The dead letter row is gone.
	assert.Equal(t, 0, dl.Len())
}

func TestRetryRepeatedDoesNotDuplicate(t *testing.T) {
	dl := memory.NewDeadLetterStore()
	outbox := memory.NewOutboxStore(dl)
	svc := NewService(outbox, dl, logger.Nop())
	ctx := context.Background()

	deadLetterFixture(t, outbox)

	letters, _, err := svc.List(ctx, 1, 10, common.DeadLetterFilter{})
	require.NoError(t, err)
	require.Len(t, letters, 1)

	_, err = svc.Retry(ctx, letters[0].ID)
	require.NoError(t, err)

	// An operator hitting retry again on the same dead letter must not
	// produce a second envelope; the row is already gone.
	_, err = svc.Retry(ctx, letters[0].ID)
	assert.ErrorIs(t, err, common.ErrNotFound)

	stats, err := svc.OutboxStats(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(1), stats.Pending)
	assert.Equal(t, 0, dl.Len())
}

func TestRetryUnknownDeadLetter(t *testing.T) {
	dl := memory.NewDeadLetterStore()
	svc := NewService(memory.NewOutboxStore(dl), dl, logger.Nop())

	_, err := svc.Retry(context.Background(), "missing")
	assert.ErrorIs(t, err, common.ErrNotFound)
}

func TestDeleteLeavesNoTrace(t *testing.T) {
	dl := memory.NewDeadLetterStore()
	outbox := memory.NewOutboxStore(dl)
	svc := NewService(outbox, dl, logger.Nop())
	ctx := context.Background()

	deadLetterFixture(t, outbox)

	letters, _, err := svc.List(ctx, 1, 10, common.DeadLetterFilter{})
	require.NoError(t, err)
	require.Len(t, letters, 1)

	require.NoError(t, svc.Delete(ctx, letters[0].ID))
	assert.Equal(t, 0, dl.Len())

	stats, err := svc.OutboxStats(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(0), stats.Pending)
	assert.Equal(t, int64(0), stats.Processing)
}

func TestListFiltersByEventType(t *testing.T) {
	dl := memory.NewDeadLetterStore()
	outbox := memory.NewOutboxStore(dl)
	svc := NewService(outbox, dl, logger.Nop())
	ctx := context.Background()

	deadLetterFixture(t, outbox)

	letters, total, err := svc.List(ctx, 1, 10, common.DeadLetterFilter{EventType: "task.created"})
	require.NoError(t, err)
	assert.Equal(t, int64(1), total)
	require.Len(t, letters, 1)

	letters, total, err = svc.List(ctx, 1, 10, common.DeadLetterFilter{EventType: "sprint.created"})
	require.NoError(t, err)
	assert.Equal(t, int64(0), total)
	assert.Empty(t, letters)
}
