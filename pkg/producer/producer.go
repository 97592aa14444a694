package producer

import (
	"context"
	"database/sql"
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/pkg/errors"

	"github.com/taskdeck/eventrelay/pkg/logger"
)

// EventProducer defines the interface for raising events on the write path.
type EventProducer interface {
	// RaiseEvent appends an outbox message for the given aggregate. It must
	// run on the same transaction as the business write: if the transaction
	// rolls back, no message exists.
	RaiseEvent(ctx context.Context, aggregateID, eventType string, payload any) (string, error)

	// WithTx creates a producer bound to the provided transaction or
	// connection.
	WithTx(conn any) (EventProducer, error)
}

// PostgresProducer implements EventProducer over any supported connection type.
type PostgresProducer struct {
	conn   any
	logger *logger.Logger
}

// NewPostgresProducer creates an unbound producer. Call WithTx before
// RaiseEvent so the insert joins the caller's unit of work.
func NewPostgresProducer(log *logger.Logger) *PostgresProducer {
	return &PostgresProducer{logger: log}
}

// WithTx creates a producer instance that uses the provided transaction or
// connection.
func (p *PostgresProducer) WithTx(conn any) (EventProducer, error) {
	if conn == nil {
		return nil, errors.New("connection cannot be nil")
	}

	switch conn.(type) {
	case *pgx.Conn, pgx.Tx, *pgxpool.Pool, *sql.DB, *sql.Tx:
		// These are all acceptable types
	default:
		return nil, errors.New("unsupported connection type")
	}

	return &PostgresProducer{
		conn:   conn,
		logger: p.logger,
	}, nil
}

// RaiseEvent marshals the payload and inserts the outbox row on the bound
// connection.
func (p *PostgresProducer) RaiseEvent(ctx context.Context, aggregateID, eventType string, payload any) (string, error) {
	if aggregateID == "" {
		return "", errors.New("aggregate ID is required")
	}
	if eventType == "" {
		return "", errors.New("event type is required")
	}
	if p.conn == nil {
		return "", errors.New("producer is not bound to a connection, call WithTx first")
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return "", errors.Wrap(err, "failed to marshal payload")
	}

	eventID, err := uuid.NewV7()
	if err != nil {
		return "", errors.Wrap(err, "failed to generate event id")
	}
	createdAt := time.Now().UTC()

	err = p.execSQL(ctx,
		`INSERT INTO outbox_messages (id, event_type, aggregate_id, payload, status, created_at, retry_count, last_error)
		 VALUES ($1, $2, $3, $4, 'pending', $5, 0, '')`,
		eventID.String(), eventType, aggregateID, body, createdAt)
	if err != nil {
		return "", errors.Wrap(err, "failed to append outbox message")
	}

	p.logger.Debug("raised event",
		"id", eventID.String(),
		"aggregate_id", aggregateID,
		"event_type", eventType)

	return eventID.String(), nil
}

// execSQL executes SQL on the appropriate connection type
func (p *PostgresProducer) execSQL(ctx context.Context, query string, args ...any) error {
	switch conn := p.conn.(type) {
	case *pgx.Conn:
		_, err := conn.Exec(ctx, query, args...)
		return err
	case pgx.Tx:
		_, err := conn.Exec(ctx, query, args...)
		return err
	case *pgxpool.Pool:
		_, err := conn.Exec(ctx, query, args...)
		return err
	case *sql.DB:
		_, err := conn.ExecContext(ctx, query, args...)
		return err
	case *sql.Tx:
		_, err := conn.ExecContext(ctx, query, args...)
		return err
	default:
		return errors.New("unsupported connection type")
	}
}
