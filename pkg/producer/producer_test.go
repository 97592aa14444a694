package producer

import (
	"context"
	"database/sql"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/taskdeck/eventrelay/pkg/logger"
)

func TestWithTxRejectsNilConnection(t *testing.T) {
	p := NewPostgresProducer(logger.Nop())

	_, err := p.WithTx(nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "connection cannot be nil")
}

func TestWithTxRejectsUnsupportedType(t *testing.T) {
	p := NewPostgresProducer(logger.Nop())

	_, err := p.WithTx("not a connection")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unsupported connection type")
}

func TestWithTxAcceptsSupportedTypes(t *testing.T) {
	p := NewPostgresProducer(logger.Nop())

	bound, err := p.WithTx(&sql.DB{})
	require.NoError(t, err)
	assert.NotNil(t, bound)

	// The original producer stays unbound.
	_, err = p.RaiseEvent(context.Background(), "project-7", "task.created", map[string]string{})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "not bound to a connection")
}

func TestRaiseEventValidation(t *testing.T) {
	p := NewPostgresProducer(logger.Nop())
	bound, err := p.WithTx(&sql.DB{})
	require.NoError(t, err)

	_, err = bound.RaiseEvent(context.Background(), "", "task.created", nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "aggregate ID is required")

	_, err = bound.RaiseEvent(context.Background(), "project-7", "", nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "event type is required")
}

func TestRaiseEventRejectsUnmarshalablePayload(t *testing.T) {
	p := NewPostgresProducer(logger.Nop())
	bound, err := p.WithTx(&sql.DB{})
	require.NoError(t, err)

	_, err = bound.RaiseEvent(context.Background(), "project-7", "task.created", make(chan int))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to marshal payload")
}
