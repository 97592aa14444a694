package common

import (
	"context"
	"time"
)

// Status is the lifecycle state of an outbox message.
type Status string

const (
	StatusPending    Status = "pending"
	StatusProcessing Status = "processing"
	StatusDelivered  Status = "delivered"
)

// OutboxMessage is a durable event envelope written in the same unit of work
// as the business mutation that raised it.
type OutboxMessage struct {
	ID          string
	EventType   string
	AggregateID string
	Payload     []byte
	Status      Status
	CreatedAt   time.Time
	ClaimedAt   *time.Time
	RetryCount  int
	NextRetryAt *time.Time
	LastError   string
}

// DeadLetterMessage is an envelope that exhausted its retry budget.
type DeadLetterMessage struct {
	ID                string
	OutboxID          string
	EventType         string
	AggregateID       string
	Payload           []byte
	FailureReason     string
	RetryCountAtDeath int
	FirstFailedAt     time.Time
	DeadLetteredAt    time.Time
}

// ReadModelRecord is a versioned projection row keyed by the aggregate it
// summarizes. Data is the serialized read model.
type ReadModelRecord struct {
	Kind        string
	Key         string
	Data        []byte
	Version     int64
	LastUpdated time.Time
}

// OutboxStats holds message counts by status for operational visibility.
type OutboxStats struct {
	Pending    int64
	Processing int64
	Delivered  int64
}

// OutboxStore is the durable append-only store of pending envelopes.
type OutboxStore interface {
	// Append persists a new pending message. Writers on the request path go
	// through producer.RaiseEvent so the insert shares the business
	// transaction; Append on the bare store is used by admin requeue.
	Append(ctx context.Context, msg *OutboxMessage) error

	// ClaimBatch atomically selects up to limit messages that are pending
	// and due, or stuck in processing longer than visibilityTimeout, marks
	// them processing with a fresh claim time and returns them oldest
	// first. Two concurrent callers never receive the same message.
	ClaimBatch(ctx context.Context, limit int, visibilityTimeout time.Duration) ([]*OutboxMessage, error)

	// MarkDelivered terminates a message's lifecycle on success.
	MarkDelivered(ctx context.Context, id string) error

	// ScheduleRetry resets a claimed message to pending, increments its
	// retry count and records when it becomes due again.
	ScheduleRetry(ctx context.Context, id string, nextRetryAt time.Time, reason string) error

	// MoveToDeadLetter atomically removes the message from the outbox and
	// inserts a dead-letter record carrying the failure reason.
	MoveToDeadLetter(ctx context.Context, id string, reason string) error

	// RequeueFromDeadLetter is the reverse move: it atomically deletes the
	// dead-letter record and inserts a fresh pending message with a reset
	// retry budget, returning the new message id. The envelope never exists
	// in both stores or in neither.
	RequeueFromDeadLetter(ctx context.Context, deadLetterID string) (string, error)

	// Stats reports message counts by status.
	Stats(ctx context.Context) (OutboxStats, error)
}

// DeadLetterFilter narrows List results. Zero values mean no filtering.
type DeadLetterFilter struct {
	EventType string
	From      time.Time
	To        time.Time
}

// DeadLetterStore holds envelopes awaiting operator intervention.
type DeadLetterStore interface {
	Insert(ctx context.Context, msg *DeadLetterMessage) error
	Get(ctx context.Context, id string) (*DeadLetterMessage, error)
	// List returns a page of dead letters, newest first.
	List(ctx context.Context, page, pageSize int, filter DeadLetterFilter) ([]*DeadLetterMessage, int64, error)
	Delete(ctx context.Context, id string) error
}

// ReadModelStore persists versioned projections.
type ReadModelStore interface {
	// Get returns the record for (kind, key) or ErrNotFound.
	Get(ctx context.Context, kind, key string) (*ReadModelRecord, error)

	// Save upserts the record if its stored version still equals
	// expectedVersion (0 for a row that does not exist yet). Returns
	// ErrVersionConflict when the optimistic check fails.
	Save(ctx context.Context, record *ReadModelRecord, expectedVersion int64) error
}

// EventHandler applies a single event. Implementations must be idempotent:
// handling the same envelope twice leaves the same observable state.
type EventHandler interface {
	Name() string
	Handle(ctx context.Context, msg *OutboxMessage) error
}
