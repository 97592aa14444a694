// Package memory holds in-memory store implementations with the same
// semantics as the Postgres ones. They back unit tests and local development
// where a database is not available.
package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"

	"github.com/taskdeck/eventrelay/pkg/common"
)

// OutboxStore is a mutex-guarded outbox. Claim semantics mirror the SQL
// store: a message is claimable when pending and due, or when left in
// processing longer than the visibility timeout.
type OutboxStore struct {
	mu         sync.Mutex
	messages   map[string]*common.OutboxMessage
	deadLetter *DeadLetterStore
	now        func() time.Time
}

// NewOutboxStore creates an in-memory outbox that dead-letters into dl.
func NewOutboxStore(dl *DeadLetterStore) *OutboxStore {
	return &OutboxStore{
		messages:   make(map[string]*common.OutboxMessage),
		deadLetter: dl,
		now:        func() time.Time { return time.Now().UTC() },
	}
}

// SetClock overrides the store's clock. Test hook.
func (s *OutboxStore) SetClock(now func() time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.now = now
}

func (s *OutboxStore) Append(ctx context.Context, msg *common.OutboxMessage) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if msg.ID == "" {
		id, err := uuid.NewV7()
		if err != nil {
			return errors.Wrap(err, "failed to generate message id")
		}
		msg.ID = id.String()
	}
	if msg.CreatedAt.IsZero() {
		msg.CreatedAt = s.now()
	}
	msg.Status = common.StatusPending

	stored := *msg
	s.messages[msg.ID] = &stored
	return nil
}

func (s *OutboxStore) ClaimBatch(ctx context.Context, limit int, visibilityTimeout time.Duration) ([]*common.OutboxMessage, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	var due []*common.OutboxMessage
	for _, msg := range s.messages {
		switch msg.Status {
		case common.StatusPending:
			if msg.NextRetryAt == nil || !msg.NextRetryAt.After(now) {
				due = append(due, msg)
			}
		case common.StatusProcessing:
			if msg.ClaimedAt != nil && now.Sub(*msg.ClaimedAt) > visibilityTimeout {
				due = append(due, msg)
			}
		}
	}

	sort.Slice(due, func(i, j int) bool { return due[i].CreatedAt.Before(due[j].CreatedAt) })
	if len(due) > limit {
		due = due[:limit]
	}

	batch := make([]*common.OutboxMessage, 0, len(due))
	for _, msg := range due {
		claimedAt := now
		msg.Status = common.StatusProcessing
		msg.ClaimedAt = &claimedAt

		copied := *msg
		batch = append(batch, &copied)
	}
	return batch, nil
}

func (s *OutboxStore) MarkDelivered(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	msg, ok := s.messages[id]
	if !ok || msg.Status != common.StatusProcessing {
		return errors.Wrapf(common.ErrNotFound, "no processing message with id %s", id)
	}
	msg.Status = common.StatusDelivered
	return nil
}

func (s *OutboxStore) ScheduleRetry(ctx context.Context, id string, nextRetryAt time.Time, reason string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	msg, ok := s.messages[id]
	if !ok || msg.Status != common.StatusProcessing {
		return errors.Wrapf(common.ErrNotFound, "no processing message with id %s", id)
	}
	msg.Status = common.StatusPending
	msg.RetryCount++
	msg.NextRetryAt = &nextRetryAt
	msg.LastError = reason
	msg.ClaimedAt = nil
	return nil
}

func (s *OutboxStore) MoveToDeadLetter(ctx context.Context, id string, reason string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	msg, ok := s.messages[id]
	if !ok {
		return errors.Wrapf(common.ErrNotFound, "no outbox message with id %s", id)
	}

	dlID, err := uuid.NewV7()
	if err != nil {
		return errors.Wrap(err, "failed to generate dead letter id")
	}

	firstFailed := msg.CreatedAt
	if msg.ClaimedAt != nil {
		firstFailed = *msg.ClaimedAt
	}

	dl := &common.DeadLetterMessage{
		ID:                dlID.String(),
		OutboxID:          msg.ID,
		EventType:         msg.EventType,
		AggregateID:       msg.AggregateID,
		Payload:           msg.Payload,
		FailureReason:     reason,
		RetryCountAtDeath: msg.RetryCount,
		FirstFailedAt:     firstFailed,
		DeadLetteredAt:    s.now(),
	}
	if err := s.deadLetter.Insert(ctx, dl); err != nil {
		return err
	}

	delete(s.messages, id)
	return nil
}

// RequeueFromDeadLetter moves a dead letter back into the outbox as a fresh
// pending message with a reset retry budget. The dead-letter row and the new
// message change together.
func (s *OutboxStore) RequeueFromDeadLetter(ctx context.Context, deadLetterID string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	id, err := uuid.NewV7()
	if err != nil {
		return "", errors.Wrap(err, "failed to generate message id")
	}

	dl, ok := s.deadLetter.take(deadLetterID)
	if !ok {
		return "", errors.Wrapf(common.ErrNotFound, "dead letter %s", deadLetterID)
	}

	msg := &common.OutboxMessage{
		ID:          id.String(),
		EventType:   dl.EventType,
		AggregateID: dl.AggregateID,
		Payload:     dl.Payload,
		Status:      common.StatusPending,
		CreatedAt:   s.now(),
	}
	s.messages[msg.ID] = msg
	return msg.ID, nil
}

func (s *OutboxStore) Stats(ctx context.Context) (common.OutboxStats, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var stats common.OutboxStats
	for _, msg := range s.messages {
		switch msg.Status {
		case common.StatusPending:
			stats.Pending++
		case common.StatusProcessing:
			stats.Processing++
		case common.StatusDelivered:
			stats.Delivered++
		}
	}
	return stats, nil
}

// Get returns a copy of the stored message. Test helper.
func (s *OutboxStore) Get(id string) (*common.OutboxMessage, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	msg, ok := s.messages[id]
	if !ok {
		return nil, false
	}
	copied := *msg
	return &copied, true
}

var _ common.OutboxStore = (*OutboxStore)(nil)
