package projection

import (
	"context"
	"encoding/json"

	"github.com/taskdeck/eventrelay/pkg/common"
	"github.com/taskdeck/eventrelay/pkg/logger"
)

// SprintSummary is the per-sprint read model: committed and completed points
// plus task counts, derived from id-keyed task refs.
type SprintSummary struct {
	SprintID  string             `json:"sprint_id"`
	ProjectID string             `json:"project_id"`
	Name      string             `json:"name,omitempty"`
	State     string             `json:"state"`
	Tasks     map[string]taskRef `json:"tasks"`

	TaskCount       int `json:"task_count"`
	TodoCount       int `json:"todo_count"`
	InProgressCount int `json:"in_progress_count"`
	DoneCount       int `json:"done_count"`

	CommittedPoints int `json:"committed_points"`
	CompletedPoints int `json:"completed_points"`
}

func NewSprintSummary(sprintID, projectID string) *SprintSummary {
	return &SprintSummary{
		SprintID:  sprintID,
		ProjectID: projectID,
		State:     SprintStateActive,
		Tasks:     make(map[string]taskRef),
	}
}

func (s *SprintSummary) recount() {
	s.TaskCount = len(s.Tasks)
	s.TodoCount, s.InProgressCount, s.DoneCount = 0, 0, 0
	s.CommittedPoints, s.CompletedPoints = 0, 0

	for _, ref := range s.Tasks {
		s.CommittedPoints += ref.StoryPoints
		switch ref.Status {
		case StatusTodo:
			s.TodoCount++
		case StatusInProgress:
			s.InProgressCount++
		case StatusDone:
			s.DoneCount++
			s.CompletedPoints += ref.StoryPoints
		}
	}
}

// SprintSummaryHandler applies sprint and task events to sprint summaries. A
// task that moves between sprints touches two summaries: removal from the old
// one and insertion into the new one.
type SprintSummaryHandler struct {
	store  common.ReadModelStore
	logger *logger.Logger
}

func NewSprintSummaryHandler(store common.ReadModelStore, log *logger.Logger) *SprintSummaryHandler {
	return &SprintSummaryHandler{store: store, logger: log}
}

func (h *SprintSummaryHandler) Name() string {
	return "sprint_summary"
}

func (h *SprintSummaryHandler) Handle(ctx context.Context, msg *common.OutboxMessage) error {
	switch msg.EventType {
	case EventSprintCreated, EventSprintCompleted:
		event, err := decodeSprintEvent(msg)
		if err != nil {
			return err
		}
		return h.apply(ctx, event.SprintID, event.ProjectID, func(summary *SprintSummary) {
			if msg.EventType == EventSprintCompleted {
				summary.State = SprintStateCompleted
				return
			}
			if summary.Name == "" {
				summary.Name = event.Name
			}
		})

	case EventTaskCreated, EventTaskUpdated, EventTaskDeleted:
		event, err := decodeTaskEvent(msg)
		if err != nil {
			return err
		}
		return h.applyTask(ctx, msg.EventType, event)

	default:
		return common.Permanentf("sprint summary cannot apply event type %s", msg.EventType)
	}
}

func (h *SprintSummaryHandler) applyTask(ctx context.Context, eventType string, event *TaskEvent) error {
	// A move between sprints removes the task from the old summary first.
	if eventType == EventTaskUpdated && event.OldSprintID != "" && event.OldSprintID != event.SprintID {
		err := h.apply(ctx, event.OldSprintID, event.ProjectID, func(summary *SprintSummary) {
			delete(summary.Tasks, event.TaskID)
		})
		if err != nil {
			return err
		}
	}

	// Backlog tasks belong to no sprint.
	if event.SprintID == "" {
		return nil
	}

	return h.apply(ctx, event.SprintID, event.ProjectID, func(summary *SprintSummary) {
		switch eventType {
		case EventTaskCreated:
			// Stale redelivery after an update: keep the newer ref whole.
			if _, ok := summary.Tasks[event.TaskID]; ok {
				return
			}
			ref := taskRef{Status: event.Status, StoryPoints: event.StoryPoints}
			if ref.Status == "" {
				ref.Status = StatusTodo
			}
			summary.Tasks[event.TaskID] = ref
		case EventTaskUpdated:
			summary.Tasks[event.TaskID] = taskRef{Status: event.Status, StoryPoints: event.StoryPoints}
		case EventTaskDeleted:
			delete(summary.Tasks, event.TaskID)
		}
	})
}

func (h *SprintSummaryHandler) apply(ctx context.Context, sprintID, projectID string, mutate func(*SprintSummary)) error {
	return applyRecord(ctx, h.store, KindSprintSummary, sprintID, func(data []byte) ([]byte, error) {
		summary := NewSprintSummary(sprintID, projectID)
		if data != nil {
			if err := json.Unmarshal(data, summary); err != nil {
				return nil, common.Permanent(err, "corrupt sprint summary record")
			}
		}
		if summary.Tasks == nil {
			summary.Tasks = make(map[string]taskRef)
		}

		mutate(summary)
		summary.recount()
		return json.Marshal(summary)
	})
}

var _ common.EventHandler = (*SprintSummaryHandler)(nil)
