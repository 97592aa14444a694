package memory

import (
	"context"
	"sort"
	"sync"

	"github.com/pkg/errors"

	"github.com/taskdeck/eventrelay/pkg/common"
)

// DeadLetterStore is a mutex-guarded dead-letter holding area.
type DeadLetterStore struct {
	mu       sync.Mutex
	messages map[string]*common.DeadLetterMessage
}

func NewDeadLetterStore() *DeadLetterStore {
	return &DeadLetterStore{messages: make(map[string]*common.DeadLetterMessage)}
}

func (s *DeadLetterStore) Insert(ctx context.Context, msg *common.DeadLetterMessage) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	stored := *msg
	s.messages[msg.ID] = &stored
	return nil
}

func (s *DeadLetterStore) Get(ctx context.Context, id string) (*common.DeadLetterMessage, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	msg, ok := s.messages[id]
	if !ok {
		return nil, errors.Wrapf(common.ErrNotFound, "dead letter %s", id)
	}
	copied := *msg
	return &copied, nil
}

func (s *DeadLetterStore) List(ctx context.Context, page, pageSize int, filter common.DeadLetterFilter) ([]*common.DeadLetterMessage, int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if page < 1 {
		page = 1
	}
	if pageSize < 1 {
		pageSize = 50
	}

	var matched []*common.DeadLetterMessage
	for _, msg := range s.messages {
		if filter.EventType != "" && msg.EventType != filter.EventType {
			continue
		}
		if !filter.From.IsZero() && msg.DeadLetteredAt.Before(filter.From) {
			continue
		}
		if !filter.To.IsZero() && msg.DeadLetteredAt.After(filter.To) {
			continue
		}
		matched = append(matched, msg)
	}

	sort.Slice(matched, func(i, j int) bool {
		return matched[i].DeadLetteredAt.After(matched[j].DeadLetteredAt)
	})

	total := int64(len(matched))
	start := (page - 1) * pageSize
	if start >= len(matched) {
		return nil, total, nil
	}
	end := start + pageSize
	if end > len(matched) {
		end = len(matched)
	}

	out := make([]*common.DeadLetterMessage, 0, end-start)
	for _, msg := range matched[start:end] {
		copied := *msg
		out = append(out, &copied)
	}
	return out, total, nil
}

func (s *DeadLetterStore) Delete(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.messages[id]; !ok {
		return errors.Wrapf(common.ErrNotFound, "dead letter %s", id)
	}
	delete(s.messages, id)
	return nil
}

// take removes and returns the dead letter in one locked step, so a requeue
// cannot race a concurrent delete.
func (s *DeadLetterStore) take(id string) (*common.DeadLetterMessage, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	msg, ok := s.messages[id]
	if !ok {
		return nil, false
	}
	delete(s.messages, id)
	copied := *msg
	return &copied, true
}

// Len reports the number of stored dead letters. Test helper.
func (s *DeadLetterStore) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.messages)
}

var _ common.DeadLetterStore = (*DeadLetterStore)(nil)
