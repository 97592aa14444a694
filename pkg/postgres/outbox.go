package postgres

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/pkg/errors"

	"github.com/taskdeck/eventrelay/pkg/common"
	"github.com/taskdeck/eventrelay/pkg/logger"
	"github.com/taskdeck/eventrelay/pkg/metrics"
)

// OutboxStore implements common.OutboxStore on top of the outbox_messages
// table. Claims are a single conditional update over a SKIP LOCKED select, so
// concurrent workers never receive the same row.
type OutboxStore struct {
	pool   *pgxpool.Pool
	logger *logger.Logger
}

// NewOutboxStore creates a Postgres-backed outbox store.
func NewOutboxStore(pool *pgxpool.Pool, log *logger.Logger) *OutboxStore {
	return &OutboxStore{
		pool:   pool,
		logger: log,
	}
}

// Append persists a new pending message.
func (s *OutboxStore) Append(ctx context.Context, msg *common.OutboxMessage) error {
	if msg.ID == "" {
		id, err := uuid.NewV7()
		if err != nil {
			return errors.Wrap(err, "failed to generate message id")
		}
		msg.ID = id.String()
	}
	if msg.CreatedAt.IsZero() {
		msg.CreatedAt = time.Now().UTC()
	}
	msg.Status = common.StatusPending

	_, err := s.pool.Exec(ctx,
		`INSERT INTO outbox_messages (id, event_type, aggregate_id, payload, status, created_at, retry_count, last_error)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
		msg.ID, msg.EventType, msg.AggregateID, msg.Payload, msg.Status, msg.CreatedAt, msg.RetryCount, msg.LastError)
	if err != nil {
		metrics.AppendFailures.WithLabelValues(msg.EventType).Inc()
		return errors.Wrap(err, "failed to append outbox message")
	}
	metrics.EventsAppended.WithLabelValues(msg.EventType).Inc()
	return nil
}

// ClaimBatch picks up to limit due messages oldest first and flips them to
// processing. Rows stuck in processing longer than visibilityTimeout are
// reclaimed the same way, which bounds the window a crashed worker can hold
// a message.
func (s *OutboxStore) ClaimBatch(ctx context.Context, limit int, visibilityTimeout time.Duration) ([]*common.OutboxMessage, error) {
	rows, err := s.pool.Query(ctx,
		`WITH picked AS (
			SELECT id FROM outbox_messages
			WHERE (status = 'pending' AND (next_retry_at IS NULL OR next_retry_at <= now()))
			   OR (status = 'processing' AND claimed_at < now() - make_interval(secs => $2))
			ORDER BY created_at
			LIMIT $1
			FOR UPDATE SKIP LOCKED
		), claimed AS (
			UPDATE outbox_messages m
			SET status = 'processing', claimed_at = now()
			FROM picked
			WHERE m.id = picked.id
			RETURNING m.id, m.event_type, m.aggregate_id, m.payload, m.status, m.created_at, m.claimed_at, m.retry_count, m.next_retry_at, m.last_error
		)
		SELECT * FROM claimed ORDER BY created_at`,
		limit, visibilityTimeout.Seconds())
	if err != nil {
		return nil, errors.Wrap(err, "failed to claim outbox batch")
	}
	defer rows.Close()

	var batch []*common.OutboxMessage
	for rows.Next() {
		msg, err := scanOutboxMessage(rows)
		if err != nil {
			return nil, err
		}
		batch = append(batch, msg)
	}
	if err := rows.Err(); err != nil {
		return nil, errors.Wrap(err, "failed to read claimed batch")
	}

	return batch, nil
}

// MarkDelivered terminates a claimed message's lifecycle on success.
func (s *OutboxStore) MarkDelivered(ctx context.Context, id string) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE outbox_messages SET status = 'delivered' WHERE id = $1 AND status = 'processing'`, id)
	if err != nil {
		return errors.Wrap(err, "failed to mark message delivered")
	}
	if tag.RowsAffected() == 0 {
		return errors.Wrapf(common.ErrNotFound, "no processing message with id %s", id)
	}
	return nil
}

// ScheduleRetry puts a claimed message back to pending with an incremented
// retry count, due again at nextRetryAt.
func (s *OutboxStore) ScheduleRetry(ctx context.Context, id string, nextRetryAt time.Time, reason string) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE outbox_messages
		 SET status = 'pending', retry_count = retry_count + 1, next_retry_at = $2, last_error = $3, claimed_at = NULL
		 WHERE id = $1 AND status = 'processing'`,
		id, nextRetryAt, reason)
	if err != nil {
		return errors.Wrap(err, "failed to schedule retry")
	}
	if tag.RowsAffected() == 0 {
		return errors.Wrapf(common.ErrNotFound, "no processing message with id %s", id)
	}
	return nil
}

// MoveToDeadLetter removes the outbox row and inserts the dead-letter row in
// one statement, so the envelope cannot exist in both stores or in neither.
func (s *OutboxStore) MoveToDeadLetter(ctx context.Context, id string, reason string) error {
	dlID, err := uuid.NewV7()
	if err != nil {
		return errors.Wrap(err, "failed to generate dead letter id")
	}

	tag, err := s.pool.Exec(ctx,
		`WITH moved AS (
			DELETE FROM outbox_messages WHERE id = $1
			RETURNING id, event_type, aggregate_id, payload, retry_count, created_at, claimed_at
		)
		INSERT INTO dead_letter_messages
			(id, outbox_id, event_type, aggregate_id, payload, failure_reason, retry_count_at_death, first_failed_at, dead_lettered_at)
		SELECT $2, id, event_type, aggregate_id, payload, $3, retry_count, COALESCE(claimed_at, created_at), now()
		FROM moved`,
		id, dlID.String(), reason)
	if err != nil {
		return errors.Wrap(err, "failed to move message to dead letter store")
	}
	if tag.RowsAffected() == 0 {
		return errors.Wrapf(common.ErrNotFound, "no outbox message with id %s", id)
	}

	s.logger.Warn("message dead lettered", "outbox_id", id, "reason", reason)
	return nil
}

// RequeueFromDeadLetter moves a dead letter back into the outbox in one
// statement, the mirror of MoveToDeadLetter: the dead-letter row is deleted
// and a fresh pending message with a reset retry budget takes its place.
func (s *OutboxStore) RequeueFromDeadLetter(ctx context.Context, deadLetterID string) (string, error) {
	id, err := uuid.NewV7()
	if err != nil {
		return "", errors.Wrap(err, "failed to generate message id")
	}

	tag, err := s.pool.Exec(ctx,
		`WITH moved AS (
			DELETE FROM dead_letter_messages WHERE id = $1
			RETURNING event_type, aggregate_id, payload
		)
		INSERT INTO outbox_messages
			(id, event_type, aggregate_id, payload, status, created_at, retry_count, last_error)
		SELECT $2, event_type, aggregate_id, payload, 'pending', now(), 0, ''
		FROM moved`,
		deadLetterID, id.String())
	if err != nil {
		return "", errors.Wrap(err, "failed to requeue dead letter")
	}
	if tag.RowsAffected() == 0 {
		return "", errors.Wrapf(common.ErrNotFound, "dead letter %s", deadLetterID)
	}

	s.logger.Info("dead letter requeued", "dead_letter_id", deadLetterID, "outbox_id", id.String())
	return id.String(), nil
}

// Stats reports message counts by status.
func (s *OutboxStore) Stats(ctx context.Context) (common.OutboxStats, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT status, count(*) FROM outbox_messages GROUP BY status`)
	if err != nil {
		return common.OutboxStats{}, errors.Wrap(err, "failed to query outbox stats")
	}
	defer rows.Close()

	var stats common.OutboxStats
	for rows.Next() {
		var status string
		var count int64
		if err := rows.Scan(&status, &count); err != nil {
			return common.OutboxStats{}, errors.Wrap(err, "failed to scan outbox stats")
		}
		switch common.Status(status) {
		case common.StatusPending:
			stats.Pending = count
		case common.StatusProcessing:
			stats.Processing = count
		case common.StatusDelivered:
			stats.Delivered = count
		}
	}
	return stats, errors.Wrap(rows.Err(), "failed to read outbox stats")
}

var _ common.OutboxStore = (*OutboxStore)(nil)

func scanOutboxMessage(row pgx.Row) (*common.OutboxMessage, error) {
	var msg common.OutboxMessage
	err := row.Scan(&msg.ID, &msg.EventType, &msg.AggregateID, &msg.Payload, &msg.Status,
		&msg.CreatedAt, &msg.ClaimedAt, &msg.RetryCount, &msg.NextRetryAt, &msg.LastError)
	if err != nil {
		return nil, errors.Wrap(err, "failed to scan outbox message")
	}
	return &msg, nil
}
