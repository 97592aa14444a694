package postgres

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/pkg/errors"

	"github.com/taskdeck/eventrelay/pkg/common"
)

// DeadLetterStore implements common.DeadLetterStore over the
// dead_letter_messages table.
type DeadLetterStore struct {
	pool *pgxpool.Pool
}

func NewDeadLetterStore(pool *pgxpool.Pool) *DeadLetterStore {
	return &DeadLetterStore{pool: pool}
}

const deadLetterColumns = `id, outbox_id, event_type, aggregate_id, payload, failure_reason, retry_count_at_death, first_failed_at, dead_lettered_at`

func (s *DeadLetterStore) Insert(ctx context.Context, msg *common.DeadLetterMessage) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO dead_letter_messages (`+deadLetterColumns+`)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`,
		msg.ID, msg.OutboxID, msg.EventType, msg.AggregateID, msg.Payload,
		msg.FailureReason, msg.RetryCountAtDeath, msg.FirstFailedAt, msg.DeadLetteredAt)
	return errors.Wrap(err, "failed to insert dead letter")
}

func (s *DeadLetterStore) Get(ctx context.Context, id string) (*common.DeadLetterMessage, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT `+deadLetterColumns+` FROM dead_letter_messages WHERE id = $1`, id)

	var msg common.DeadLetterMessage
	err := row.Scan(&msg.ID, &msg.OutboxID, &msg.EventType, &msg.AggregateID, &msg.Payload,
		&msg.FailureReason, &msg.RetryCountAtDeath, &msg.FirstFailedAt, &msg.DeadLetteredAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, errors.Wrapf(common.ErrNotFound, "dead letter %s", id)
		}
		return nil, errors.Wrap(err, "failed to get dead letter")
	}
	return &msg, nil
}

// List returns one page of dead letters newest first, plus the total count
// matching the filter.
func (s *DeadLetterStore) List(ctx context.Context, page, pageSize int, filter common.DeadLetterFilter) ([]*common.DeadLetterMessage, int64, error) {
	if page < 1 {
		page = 1
	}
	if pageSize < 1 {
		pageSize = 50
	}

	where := "TRUE"
	args := []any{}
	if filter.EventType != "" {
		args = append(args, filter.EventType)
		where += fmt.Sprintf(" AND event_type = $%d", len(args))
	}
	if !filter.From.IsZero() {
		args = append(args, filter.From)
		where += fmt.Sprintf(" AND dead_lettered_at >= $%d", len(args))
	}
	if !filter.To.IsZero() {
		args = append(args, filter.To)
		where += fmt.Sprintf(" AND dead_lettered_at <= $%d", len(args))
	}

	var total int64
	if err := s.pool.QueryRow(ctx,
		`SELECT count(*) FROM dead_letter_messages WHERE `+where, args...).Scan(&total); err != nil {
		return nil, 0, errors.Wrap(err, "failed to count dead letters")
	}

	args = append(args, pageSize, (page-1)*pageSize)
	rows, err := s.pool.Query(ctx,
		`SELECT `+deadLetterColumns+` FROM dead_letter_messages WHERE `+where+
			fmt.Sprintf(` ORDER BY dead_lettered_at DESC LIMIT $%d OFFSET $%d`, len(args)-1, len(args)),
		args...)
	if err != nil {
		return nil, 0, errors.Wrap(err, "failed to list dead letters")
	}
	defer rows.Close()

	var out []*common.DeadLetterMessage
	for rows.Next() {
		var msg common.DeadLetterMessage
		if err := rows.Scan(&msg.ID, &msg.OutboxID, &msg.EventType, &msg.AggregateID, &msg.Payload,
			&msg.FailureReason, &msg.RetryCountAtDeath, &msg.FirstFailedAt, &msg.DeadLetteredAt); err != nil {
			return nil, 0, errors.Wrap(err, "failed to scan dead letter")
		}
		out = append(out, &msg)
	}
	return out, total, errors.Wrap(rows.Err(), "failed to read dead letters")
}

func (s *DeadLetterStore) Delete(ctx context.Context, id string) error {
	tag, err := s.pool.Exec(ctx, `DELETE FROM dead_letter_messages WHERE id = $1`, id)
	if err != nil {
		return errors.Wrap(err, "failed to delete dead letter")
	}
	if tag.RowsAffected() == 0 {
		return errors.Wrapf(common.ErrNotFound, "dead letter %s", id)
	}
	return nil
}

var _ common.DeadLetterStore = (*DeadLetterStore)(nil)
