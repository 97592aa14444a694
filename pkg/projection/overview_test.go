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

func sprintMessage(t *testing.T, eventType string, event SprintEvent) *common.OutboxMessage {
	t.Helper()
	payload, err := json.Marshal(event)
	require.NoError(t, err)
	return &common.OutboxMessage{
		ID:          "msg-" + eventType + "-" + event.SprintID,
		EventType:   eventType,
		AggregateID: event.ProjectID,
		Payload:     payload,
	}
}

func loadOverview(t *testing.T, store common.ReadModelStore, projectID string) (*ProjectOverview, int64) {
	t.Helper()
	record, err := store.Get(context.Background(), KindProjectOverview, projectID)
	require.NoError(t, err)

	var overview ProjectOverview
	require.NoError(t, json.Unmarshal(record.Data, &overview))
	return &overview, record.Version
}

func TestProjectOverviewCounts(t *testing.T) {
	store := memory.NewReadModelStore()
	handler := NewProjectOverviewHandler(store, logger.Nop())
	ctx := context.Background()

	require.NoError(t, handler.Handle(ctx, taskMessage(t, EventTaskCreated, TaskEvent{
		TaskID: "1", ProjectID: "p", Status: StatusTodo, StoryPoints: 3,
	})))
	require.NoError(t, handler.Handle(ctx, taskMessage(t, EventTaskCreated, TaskEvent{
		TaskID: "2", ProjectID: "p", Status: StatusDone, StoryPoints: 5,
	})))
	require.NoError(t, handler.Handle(ctx, sprintMessage(t, EventSprintCreated, SprintEvent{
		SprintID: "s1", ProjectID: "p", Name: "Sprint 1",
	})))

	overview, version := loadOverview(t, store, "p")
	assert.Equal(t, int64(3), version)
	assert.Equal(t, 2, overview.TotalTasks)
	assert.Equal(t, 1, overview.TodoCount)
	assert.Equal(t, 1, overview.DoneCount)
	assert.Equal(t, 8, overview.TotalStoryPoints)
	assert.Equal(t, 5, overview.CompletedStoryPoints)
	assert.InDelta(t, 50.0, overview.CompletionPercent, 0.001)
	assert.Equal(t, 1, overview.ActiveSprints)

	require.NoError(t, handler.Handle(ctx, sprintMessage(t, EventSprintCompleted, SprintEvent{
		SprintID: "s1", ProjectID: "p",
	})))
	require.NoError(t, handler.Handle(ctx, taskMessage(t, EventTaskDeleted, TaskEvent{
		TaskID: "2", ProjectID: "p",
	})))

	overview, version = loadOverview(t, store, "p")
	assert.Equal(t, int64(5), version)
	assert.Equal(t, 1, overview.TotalTasks)
	assert.Equal(t, 0, overview.ActiveSprints)
	assert.Equal(t, 1, overview.CompletedSprints)
	assert.Equal(t, 3, overview.TotalStoryPoints)
	assert.Equal(t, 0.0, overview.CompletionPercent)
}

func TestProjectOverviewSprintCompletedBeforeCreated(t *testing.T) {
	store := memory.NewReadModelStore()
	handler := NewProjectOverviewHandler(store, logger.Nop())
	ctx := context.Background()

	// Redelivery can replay the create after the completion.
	require.NoError(t, handler.Handle(ctx, sprintMessage(t, EventSprintCompleted, SprintEvent{
		SprintID: "s1", ProjectID: "p",
	})))
	require.NoError(t, handler.Handle(ctx, sprintMessage(t, EventSprintCreated, SprintEvent{
		SprintID: "s1", ProjectID: "p", Name: "Sprint 1",
	})))

	overview, _ := loadOverview(t, store, "p")
	assert.Equal(t, 0, overview.ActiveSprints)
	assert.Equal(t, 1, overview.CompletedSprints)
}

func TestProjectOverviewStaleCreateKeepsUpdatedFields(t *testing.T) {
	store := memory.NewReadModelStore()
	handler := NewProjectOverviewHandler(store, logger.Nop())
	ctx := context.Background()

	created := taskMessage(t, EventTaskCreated, TaskEvent{
		TaskID: "1", ProjectID: "p", Status: StatusTodo, StoryPoints: 3,
	})
	require.NoError(t, handler.Handle(ctx, created))
	require.NoError(t, handler.Handle(ctx, taskMessage(t, EventTaskUpdated, TaskEvent{
		TaskID: "1", ProjectID: "p", Status: StatusInProgress, OldStatus: StatusTodo, StoryPoints: 8,
	})))
	require.NoError(t, handler.Handle(ctx, created))

	overview, _ := loadOverview(t, store, "p")
	assert.Equal(t, 1, overview.InProgressCount)
	assert.Equal(t, 0, overview.TodoCount)
	assert.Equal(t, 8, overview.TotalStoryPoints)
}

func TestProjectOverviewIdempotence(t *testing.T) {
	store := memory.NewReadModelStore()
	handler := NewProjectOverviewHandler(store, logger.Nop())
	ctx := context.Background()

	msg := taskMessage(t, EventTaskUpdated, TaskEvent{
		TaskID: "1", ProjectID: "p", Status: StatusDone, StoryPoints: 3,
	})

	require.NoError(t, handler.Handle(ctx, msg))
	first, firstVersion := loadOverview(t, store, "p")

	require.NoError(t, handler.Handle(ctx, msg))
	second, secondVersion := loadOverview(t, store, "p")

	assert.Equal(t, firstVersion+1, secondVersion)
	assert.Equal(t, first, second)
}
