// Package projection maintains the denormalized read models consumed by the
// query side: task boards, project overviews and sprint summaries.
package projection

import (
	"encoding/json"

	"github.com/taskdeck/eventrelay/pkg/common"
)

// Event types understood by the projection handlers.
const (
	EventTaskCreated     = "task.created"
	EventTaskUpdated     = "task.updated"
	EventTaskDeleted     = "task.deleted"
	EventSprintCreated   = "sprint.created"
	EventSprintCompleted = "sprint.completed"
)

// TaskEventTypes lists the task-related event types.
var TaskEventTypes = []string{EventTaskCreated, EventTaskUpdated, EventTaskDeleted}

// SprintEventTypes lists the sprint-related event types.
var SprintEventTypes = []string{EventSprintCreated, EventSprintCompleted}

// TaskStatus is a task's board column.
type TaskStatus string

const (
	StatusTodo       TaskStatus = "todo"
	StatusInProgress TaskStatus = "in_progress"
	StatusDone       TaskStatus = "done"
)

// BucketOrder is the canonical column order of a task board.
var BucketOrder = []TaskStatus{StatusTodo, StatusInProgress, StatusDone}

// TaskEvent is the payload of task.created / task.updated / task.deleted.
// Updates carry the old status and old sprint id when they changed.
type TaskEvent struct {
	TaskID      string     `json:"task_id"`
	ProjectID   string     `json:"project_id"`
	SprintID    string     `json:"sprint_id,omitempty"`
	OldSprintID string     `json:"old_sprint_id,omitempty"`
	Title       string     `json:"title,omitempty"`
	Status      TaskStatus `json:"status,omitempty"`
	OldStatus   TaskStatus `json:"old_status,omitempty"`
	StoryPoints int        `json:"story_points,omitempty"`
	Assignee    string     `json:"assignee,omitempty"`
}

// SprintEvent is the payload of sprint.created / sprint.completed.
type SprintEvent struct {
	SprintID  string `json:"sprint_id"`
	ProjectID string `json:"project_id"`
	Name      string `json:"name,omitempty"`
}

// decodeTaskEvent parses a task payload. A payload that cannot be decoded is
// a permanent failure; retrying it will never help.
func decodeTaskEvent(msg *common.OutboxMessage) (*TaskEvent, error) {
	var event TaskEvent
	if err := json.Unmarshal(msg.Payload, &event); err != nil {
		return nil, common.Permanent(err, "malformed task event payload")
	}
	if event.TaskID == "" || event.ProjectID == "" {
		return nil, common.Permanentf("task event %s missing task_id or project_id", msg.ID)
	}
	return &event, nil
}

func decodeSprintEvent(msg *common.OutboxMessage) (*SprintEvent, error) {
	var event SprintEvent
	if err := json.Unmarshal(msg.Payload, &event); err != nil {
		return nil, common.Permanent(err, "malformed sprint event payload")
	}
	if event.SprintID == "" || event.ProjectID == "" {
		return nil, common.Permanentf("sprint event %s missing sprint_id or project_id", msg.ID)
	}
	return &event, nil
}
