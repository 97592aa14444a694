package projection

import (
	"context"
	"encoding/json"

	"github.com/taskdeck/eventrelay/pkg/common"
	"github.com/taskdeck/eventrelay/pkg/logger"
)

// Sprint lifecycle states tracked by the overview and sprint summaries.
const (
	SprintStateActive    = "active"
	SprintStateCompleted = "completed"
)

type taskRef struct {
	Status      TaskStatus `json:"status"`
	StoryPoints int        `json:"story_points"`
}

type sprintRef struct {
	State string `json:"state"`
}

// ProjectOverview is the per-project rollup read model. It keeps id-keyed
// refs and derives every count from them, so redelivered events cannot skew
// the totals.
type ProjectOverview struct {
	ProjectID string               `json:"project_id"`
	Tasks     map[string]taskRef   `json:"tasks"`
	Sprints   map[string]sprintRef `json:"sprints"`

	TotalTasks      int `json:"total_tasks"`
	TodoCount       int `json:"todo_count"`
	InProgressCount int `json:"in_progress_count"`
	DoneCount       int `json:"done_count"`

	TotalStoryPoints     int     `json:"total_story_points"`
	CompletedStoryPoints int     `json:"completed_story_points"`
	CompletionPercent    float64 `json:"completion_percent"`

	ActiveSprints    int `json:"active_sprints"`
	CompletedSprints int `json:"completed_sprints"`
}

func NewProjectOverview(projectID string) *ProjectOverview {
	return &ProjectOverview{
		ProjectID: projectID,
		Tasks:     make(map[string]taskRef),
		Sprints:   make(map[string]sprintRef),
	}
}

func (o *ProjectOverview) recount() {
	o.TotalTasks = len(o.Tasks)
	o.TodoCount, o.InProgressCount, o.DoneCount = 0, 0, 0
	o.TotalStoryPoints, o.CompletedStoryPoints = 0, 0

	for _, ref := range o.Tasks {
		o.TotalStoryPoints += ref.StoryPoints
		switch ref.Status {
		case StatusTodo:
			o.TodoCount++
		case StatusInProgress:
			o.InProgressCount++
		case StatusDone:
			o.DoneCount++
			o.CompletedStoryPoints += ref.StoryPoints
		}
	}

	o.CompletionPercent = 0
	if o.TotalTasks > 0 {
		o.CompletionPercent = float64(o.DoneCount) / float64(o.TotalTasks) * 100
	}

	o.ActiveSprints, o.CompletedSprints = 0, 0
	for _, ref := range o.Sprints {
		switch ref.State {
		case SprintStateActive:
			o.ActiveSprints++
		case SprintStateCompleted:
			o.CompletedSprints++
		}
	}
}

// ProjectOverviewHandler applies task and sprint events to the per-project
// overview.
type ProjectOverviewHandler struct {
	store  common.ReadModelStore
	logger *logger.Logger
}

func NewProjectOverviewHandler(store common.ReadModelStore, log *logger.Logger) *ProjectOverviewHandler {
	return &ProjectOverviewHandler{store: store, logger: log}
}

func (h *ProjectOverviewHandler) Name() string {
	return "project_overview"
}

func (h *ProjectOverviewHandler) Handle(ctx context.Context, msg *common.OutboxMessage) error {
	switch msg.EventType {
	case EventTaskCreated, EventTaskUpdated, EventTaskDeleted:
		event, err := decodeTaskEvent(msg)
		if err != nil {
			return err
		}
		return h.apply(ctx, event.ProjectID, func(overview *ProjectOverview) {
			h.applyTask(overview, msg.EventType, event)
		})
	case EventSprintCreated, EventSprintCompleted:
		event, err := decodeSprintEvent(msg)
		if err != nil {
			return err
		}
		return h.apply(ctx, event.ProjectID, func(overview *ProjectOverview) {
			h.applySprint(overview, msg.EventType, event)
		})
	default:
		return common.Permanentf("project overview cannot apply event type %s", msg.EventType)
	}
}

func (h *ProjectOverviewHandler) apply(ctx context.Context, projectID string, mutate func(*ProjectOverview)) error {
	return applyRecord(ctx, h.store, KindProjectOverview, projectID, func(data []byte) ([]byte, error) {
		overview := NewProjectOverview(projectID)
		if data != nil {
			if err := json.Unmarshal(data, overview); err != nil {
				return nil, common.Permanent(err, "corrupt project overview record")
			}
		}
		if overview.Tasks == nil {
			overview.Tasks = make(map[string]taskRef)
		}
		if overview.Sprints == nil {
			overview.Sprints = make(map[string]sprintRef)
		}

		mutate(overview)
		overview.recount()
		return json.Marshal(overview)
	})
}

func (h *ProjectOverviewHandler) applyTask(overview *ProjectOverview, eventType string, event *TaskEvent) {
	switch eventType {
	case EventTaskCreated:
		// A create that arrives after an update for the same task is a
		// stale redelivery; keep the whole ref the update established.
		if _, ok := overview.Tasks[event.TaskID]; ok {
			return
		}
		ref := taskRef{Status: event.Status, StoryPoints: event.StoryPoints}
		if ref.Status == "" {
			ref.Status = StatusTodo
		}
		overview.Tasks[event.TaskID] = ref
	case EventTaskUpdated:
		overview.Tasks[event.TaskID] = taskRef{Status: event.Status, StoryPoints: event.StoryPoints}
	case EventTaskDeleted:
		delete(overview.Tasks, event.TaskID)
	}
}

func (h *ProjectOverviewHandler) applySprint(overview *ProjectOverview, eventType string, event *SprintEvent) {
	switch eventType {
	case EventSprintCreated:
		// Completed stays completed even when the create is redelivered
		// out of order.
		if existing, ok := overview.Sprints[event.SprintID]; ok && existing.State == SprintStateCompleted {
			return
		}
		overview.Sprints[event.SprintID] = sprintRef{State: SprintStateActive}
	case EventSprintCompleted:
		overview.Sprints[event.SprintID] = sprintRef{State: SprintStateCompleted}
	}
}

var _ common.EventHandler = (*ProjectOverviewHandler)(nil)
