package projection

import (
	"context"
	"encoding/json"

	"github.com/taskdeck/eventrelay/pkg/common"
	"github.com/taskdeck/eventrelay/pkg/logger"
)

// TaskSummary is the owned value object a board keeps per task. It carries no
// reference back to the source aggregate.
type TaskSummary struct {
	ID          string     `json:"id"`
	Title       string     `json:"title"`
	Status      TaskStatus `json:"status"`
	StoryPoints int        `json:"story_points"`
	Assignee    string     `json:"assignee,omitempty"`
}

// TaskBoard is the per-project read model: one bucket per board column plus
// counts and sums derived from bucket contents.
type TaskBoard struct {
	ProjectID string                       `json:"project_id"`
	Buckets   map[TaskStatus][]TaskSummary `json:"buckets"`

	TodoCount       int `json:"todo_count"`
	InProgressCount int `json:"in_progress_count"`
	DoneCount       int `json:"done_count"`

	TodoStoryPoints       int `json:"todo_story_points"`
	InProgressStoryPoints int `json:"in_progress_story_points"`
	DoneStoryPoints       int `json:"done_story_points"`
	TotalStoryPoints      int `json:"total_story_points"`
}

// NewTaskBoard creates an empty board for a project.
func NewTaskBoard(projectID string) *TaskBoard {
	return &TaskBoard{
		ProjectID: projectID,
		Buckets:   make(map[TaskStatus][]TaskSummary),
	}
}

// bucketOf returns the bucket currently holding the task, if any.
func (b *TaskBoard) bucketOf(taskID string) (TaskStatus, bool) {
	for status, bucket := range b.Buckets {
		for _, summary := range bucket {
			if summary.ID == taskID {
				return status, true
			}
		}
	}
	return "", false
}

// remove deletes the task from every bucket. A no-op when absent, so a
// redelivered delete changes nothing.
func (b *TaskBoard) remove(taskID string) {
	for status, bucket := range b.Buckets {
		filtered := bucket[:0]
		for _, summary := range bucket {
			if summary.ID != taskID {
				filtered = append(filtered, summary)
			}
		}
		b.Buckets[status] = filtered
	}
}

// insert places the summary into the bucket for its status, replacing any
// prior entry for the same id anywhere on the board.
func (b *TaskBoard) insert(summary TaskSummary) {
	b.remove(summary.ID)
	b.Buckets[summary.Status] = append(b.Buckets[summary.Status], summary)
}

// recount recomputes every derived count and sum from bucket contents.
// Counters are never accumulated incrementally; that would drift under
// redelivery.
func (b *TaskBoard) recount() {
	b.TodoCount, b.InProgressCount, b.DoneCount = 0, 0, 0
	b.TodoStoryPoints, b.InProgressStoryPoints, b.DoneStoryPoints, b.TotalStoryPoints = 0, 0, 0, 0

	for status, bucket := range b.Buckets {
		for _, summary := range bucket {
			b.TotalStoryPoints += summary.StoryPoints
			switch status {
			case StatusTodo:
				b.TodoCount++
				b.TodoStoryPoints += summary.StoryPoints
			case StatusInProgress:
				b.InProgressCount++
				b.InProgressStoryPoints += summary.StoryPoints
			case StatusDone:
				b.DoneCount++
				b.DoneStoryPoints += summary.StoryPoints
			}
		}
	}
}

// TaskBoardHandler applies task events to the per-project task board.
type TaskBoardHandler struct {
	store  common.ReadModelStore
	logger *logger.Logger
}

func NewTaskBoardHandler(store common.ReadModelStore, log *logger.Logger) *TaskBoardHandler {
	return &TaskBoardHandler{store: store, logger: log}
}

func (h *TaskBoardHandler) Name() string {
	return "task_board"
}

func (h *TaskBoardHandler) Handle(ctx context.Context, msg *common.OutboxMessage) error {
	event, err := decodeTaskEvent(msg)
	if err != nil {
		return err
	}

	return applyRecord(ctx, h.store, KindTaskBoard, event.ProjectID, func(data []byte) ([]byte, error) {
		board := NewTaskBoard(event.ProjectID)
		if data != nil {
			if err := json.Unmarshal(data, board); err != nil {
				return nil, common.Permanent(err, "corrupt task board record")
			}
		}
		if board.Buckets == nil {
			board.Buckets = make(map[TaskStatus][]TaskSummary)
		}

		switch msg.EventType {
		case EventTaskCreated:
			h.applyCreated(board, event)
		case EventTaskUpdated:
			h.applyUpdated(board, event)
		case EventTaskDeleted:
			board.remove(event.TaskID)
		default:
			return nil, common.Permanentf("task board cannot apply event type %s", msg.EventType)
		}

		board.recount()
		return json.Marshal(board)
	})
}

// applyCreated inserts the task into the bucket implied by its status. When
// the task is already on the board the create is a stale redelivery that
// arrived after an update; the board already holds the newer summary, so keep
// it whole and the later event wins regardless of arrival order.
func (h *TaskBoardHandler) applyCreated(board *TaskBoard, event *TaskEvent) {
	if _, ok := board.bucketOf(event.TaskID); ok {
		return
	}
	board.insert(summaryFromEvent(event))
}

// applyUpdated moves the task between buckets when the status changed, and
// otherwise replaces the summary in place. Both paths are remove-then-insert
// by id, so a redelivered update cannot duplicate the task.
func (h *TaskBoardHandler) applyUpdated(board *TaskBoard, event *TaskEvent) {
	if event.OldStatus != "" && event.OldStatus != event.Status {
		// Removal by id is a no-op when the old bucket no longer holds
		// the task.
		board.remove(event.TaskID)
	}
	board.insert(summaryFromEvent(event))
}

func summaryFromEvent(event *TaskEvent) TaskSummary {
	status := event.Status
	if status == "" {
		status = StatusTodo
	}
	return TaskSummary{
		ID:          event.TaskID,
		Title:       event.Title,
		Status:      status,
		StoryPoints: event.StoryPoints,
		Assignee:    event.Assignee,
	}
}

var _ common.EventHandler = (*TaskBoardHandler)(nil)
