package projection

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/taskdeck/eventrelay/pkg/common"
	"github.com/taskdeck/eventrelay/pkg/logger"
	"github.com/taskdeck/eventrelay/pkg/memory"
)

func taskMessage(t *testing.T, eventType string, event TaskEvent) *common.OutboxMessage {
	t.Helper()
	payload, err := json.Marshal(event)
	require.NoError(t, err)
	return &common.OutboxMessage{
		ID:          "msg-" + eventType + "-" + event.TaskID,
		EventType:   eventType,
		AggregateID: event.ProjectID,
		Payload:     payload,
	}
}

func loadBoard(t *testing.T, store common.ReadModelStore, projectID string) (*TaskBoard, int64) {
	t.Helper()
	record, err := store.Get(context.Background(), KindTaskBoard, projectID)
	require.NoError(t, err)

	var board TaskBoard
	require.NoError(t, json.Unmarshal(record.Data, &board))
	return &board, record.Version
}

func TestTaskBoardEndToEnd(t *testing.T) {
	store := memory.NewReadModelStore()
	handler := NewTaskBoardHandler(store, logger.Nop())
	ctx := context.Background()

	// Create task 42 in project 7 with status todo and 3 points.
	err := handler.Handle(ctx, taskMessage(t, EventTaskCreated, TaskEvent{
		TaskID: "42", ProjectID: "7", Title: "Fix login", Status: StatusTodo, StoryPoints: 3,
	}))
	require.NoError(t, err)

	board, version := loadBoard(t, store, "7")
	assert.Equal(t, int64(1), version)
	assert.Equal(t, 1, board.TodoCount)
	assert.Equal(t, 0, board.InProgressCount)
	assert.Equal(t, 3, board.TotalStoryPoints)

	// Move task 42 to in progress.
	err = handler.Handle(ctx, taskMessage(t, EventTaskUpdated, TaskEvent{
		TaskID: "42", ProjectID: "7", Title: "Fix login", Status: StatusInProgress, OldStatus: StatusTodo, StoryPoints: 3,
	}))
	require.NoError(t, err)

	board, version = loadBoard(t, store, "7")
	assert.Equal(t, int64(2), version)
	assert.Equal(t, 0, board.TodoCount)
	assert.Equal(t, 1, board.InProgressCount)
	assert.Equal(t, 3, board.InProgressStoryPoints)
	assert.Equal(t, 3, board.TotalStoryPoints)

	// Delete task 42.
	err = handler.Handle(ctx, taskMessage(t, EventTaskDeleted, TaskEvent{
		TaskID: "42", ProjectID: "7",
	}))
	require.NoError(t, err)

	board, version = loadBoard(t, store, "7")
	assert.Equal(t, int64(3), version)
	assert.Equal(t, 0, board.TodoCount)
	assert.Equal(t, 0, board.InProgressCount)
	assert.Equal(t, 0, board.DoneCount)
	assert.Equal(t, 0, board.TotalStoryPoints)
}

func TestTaskBoardIdempotence(t *testing.T) {
	tests := []struct {
		name      string
		eventType string
		event     TaskEvent
	}{
		{
			name:      "created twice",
			eventType: EventTaskCreated,
			event:     TaskEvent{TaskID: "1", ProjectID: "p", Status: StatusTodo, StoryPoints: 5},
		},
		{
			name:      "updated twice",
			eventType: EventTaskUpdated,
			event:     TaskEvent{TaskID: "1", ProjectID: "p", Status: StatusDone, OldStatus: StatusTodo, StoryPoints: 5},
		},
		{
			name:      "deleted twice",
			eventType: EventTaskDeleted,
			event:     TaskEvent{TaskID: "1", ProjectID: "p"},
		},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			store := memory.NewReadModelStore()
			handler := NewTaskBoardHandler(store, logger.Nop())
			ctx := context.Background()

			// Seed the board so updates and deletes have something to act on.
			require.NoError(t, handler.Handle(ctx, taskMessage(t, EventTaskCreated, TaskEvent{
				TaskID: "1", ProjectID: "p", Status: StatusTodo, StoryPoints: 5,
			})))

			msg := taskMessage(t, tc.eventType, tc.event)
			require.NoError(t, handler.Handle(ctx, msg))
			first, firstVersion := loadBoard(t, store, "p")

			require.NoError(t, handler.Handle(ctx, msg))
			second, secondVersion := loadBoard(t, store, "p")

			// Version moves, data does not.
			assert.Equal(t, firstVersion+1, secondVersion)
			assert.Equal(t, first, second)
		})
	}
}

func TestTaskBoardConvergesUnderReordering(t *testing.T) {
	created := TaskEvent{TaskID: "5", ProjectID: "p", Status: StatusTodo, StoryPoints: 2}
	updated := TaskEvent{TaskID: "5", ProjectID: "p", Status: StatusDone, OldStatus: StatusTodo, StoryPoints: 2}

	orders := map[string][]struct {
		eventType string
		event     TaskEvent
	}{
		"created then updated": {{EventTaskCreated, created}, {EventTaskUpdated, updated}},
		"updated then created": {{EventTaskUpdated, updated}, {EventTaskCreated, created}},
	}

	for name, sequence := range orders {
		t.Run(name, func(t *testing.T) {
			store := memory.NewReadModelStore()
			handler := NewTaskBoardHandler(store, logger.Nop())
			ctx := context.Background()

			for _, step := range sequence {
				require.NoError(t, handler.Handle(ctx, taskMessage(t, step.eventType, step.event)))
			}

			board, _ := loadBoard(t, store, "p")
			assert.Len(t, board.Buckets[StatusDone], 1)
			assert.Equal(t, "5", board.Buckets[StatusDone][0].ID)
			assert.Empty(t, board.Buckets[StatusTodo])
			assert.Equal(t, 1, board.DoneCount)
			assert.Equal(t, 2, board.DoneStoryPoints)
		})
	}
}

func TestTaskBoardStaleCreateKeepsUpdatedFields(t *testing.T) {
	store := memory.NewReadModelStore()
	handler := NewTaskBoardHandler(store, logger.Nop())
	ctx := context.Background()

	created := taskMessage(t, EventTaskCreated, TaskEvent{
		TaskID: "9", ProjectID: "p", Title: "Draft", Status: StatusTodo, StoryPoints: 3,
	})
	require.NoError(t, handler.Handle(ctx, created))
	require.NoError(t, handler.Handle(ctx, taskMessage(t, EventTaskUpdated, TaskEvent{
		TaskID: "9", ProjectID: "p", Title: "Final", Status: StatusDone, OldStatus: StatusTodo, StoryPoints: 8,
	})))

	// A redelivered create must not regress the title or points the update
	// established.
	require.NoError(t, handler.Handle(ctx, created))

	board, _ := loadBoard(t, store, "p")
	require.Len(t, board.Buckets[StatusDone], 1)
	assert.Equal(t, "Final", board.Buckets[StatusDone][0].Title)
	assert.Equal(t, 8, board.Buckets[StatusDone][0].StoryPoints)
	assert.Equal(t, 8, board.TotalStoryPoints)
	assert.Empty(t, board.Buckets[StatusTodo])
}

func TestTaskBoardMalformedPayloadIsPermanent(t *testing.T) {
	handler := NewTaskBoardHandler(memory.NewReadModelStore(), logger.Nop())

	err := handler.Handle(context.Background(), &common.OutboxMessage{
		ID:        "bad",
		EventType: EventTaskCreated,
		Payload:   []byte("{not json"),
	})
	require.Error(t, err)
	assert.True(t, common.IsPermanent(err))

	// Missing required ids is just as unrecoverable.
	err = handler.Handle(context.Background(), taskMessage(t, EventTaskCreated, TaskEvent{TaskID: "1"}))
	require.Error(t, err)
	assert.True(t, common.IsPermanent(err))
}

func TestTaskBoardLazilyCreated(t *testing.T) {
	store := memory.NewReadModelStore()

	// No events yet: the read model does not exist.
	_, err := store.Get(context.Background(), KindTaskBoard, "p")
	assert.ErrorIs(t, err, common.ErrNotFound)
}
