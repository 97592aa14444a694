package projection

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/taskdeck/eventrelay/pkg/common"
	"github.com/taskdeck/eventrelay/pkg/logger"
	"github.com/taskdeck/eventrelay/pkg/memory"
)

func TestReaderReturnsVersionedRecord(t *testing.T) {
	store := memory.NewReadModelStore()
	handler := NewTaskBoardHandler(store, logger.Nop())
	reader := NewReader(store)
	ctx := context.Background()

	require.NoError(t, handler.Handle(ctx, taskMessage(t, EventTaskCreated, TaskEvent{
		TaskID: "1", ProjectID: "p", Status: StatusTodo, StoryPoints: 2,
	})))

	record, err := reader.GetReadModel(ctx, KindTaskBoard, "p")
	require.NoError(t, err)
	assert.Equal(t, int64(1), record.Version)
	assert.False(t, record.LastUpdated.IsZero())
}

func TestReaderUnknownKind(t *testing.T) {
	reader := NewReader(memory.NewReadModelStore())

	_, err := reader.GetReadModel(context.Background(), "leaderboard", "p")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unknown read model kind")
}

func TestReaderMissingKey(t *testing.T) {
	reader := NewReader(memory.NewReadModelStore())

	_, err := reader.GetReadModel(context.Background(), KindProjectOverview, "nope")
	assert.ErrorIs(t, err, common.ErrNotFound)
}
