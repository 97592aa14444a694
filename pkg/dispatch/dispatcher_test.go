package dispatch

import (
	"context"
	"testing"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/taskdeck/eventrelay/pkg/common"
	"github.com/taskdeck/eventrelay/pkg/logger"
	"github.com/taskdeck/eventrelay/pkg/metrics"
)

func TestMain(m *testing.M) {
	metrics.Register()
	m.Run()
}

type recordingHandler struct {
	name string
	err  error
	log  *[]string
}

func (h *recordingHandler) Name() string { return h.name }

func (h *recordingHandler) Handle(ctx context.Context, msg *common.OutboxMessage) error {
	*h.log = append(*h.log, h.name)
	return h.err
}

func TestDispatchInvokesHandlersInRegistrationOrder(t *testing.T) {
	d := NewDispatcher(logger.Nop())

	var calls []string
	require.NoError(t, d.Register("task.created", &recordingHandler{name: "board", log: &calls}))
	require.NoError(t, d.Register("task.created", &recordingHandler{name: "overview", log: &calls}))

	err := d.Dispatch(context.Background(), &common.OutboxMessage{ID: "1", EventType: "task.created"})
	require.NoError(t, err)
	assert.Equal(t, []string{"board", "overview"}, calls)
}

func TestDispatchUnknownEventTypeIsNoOp(t *testing.T) {
	d := NewDispatcher(logger.Nop())

	err := d.Dispatch(context.Background(), &common.OutboxMessage{ID: "1", EventType: "comment.created"})
	assert.NoError(t, err)
}

func TestDispatchFirstErrorFailsEnvelope(t *testing.T) {
	d := NewDispatcher(logger.Nop())

	var calls []string
	require.NoError(t, d.Register("task.created", &recordingHandler{name: "board", log: &calls}))
	require.NoError(t, d.Register("task.created", &recordingHandler{name: "overview", err: errors.New("boom"), log: &calls}))
	require.NoError(t, d.Register("task.created", &recordingHandler{name: "sprint", log: &calls}))

	err := d.Dispatch(context.Background(), &common.OutboxMessage{ID: "1", EventType: "task.created"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "handler overview failed")
	assert.Equal(t, []string{"board", "overview"}, calls, "handlers after the failure are skipped")
}

func TestDispatchPreservesPermanentErrors(t *testing.T) {
	d := NewDispatcher(logger.Nop())

	var calls []string
	permanent := common.Permanent(errors.New("bad json"), "malformed payload")
	require.NoError(t, d.Register("task.created", &recordingHandler{name: "board", err: permanent, log: &calls}))

	err := d.Dispatch(context.Background(), &common.OutboxMessage{ID: "1", EventType: "task.created"})
	require.Error(t, err)
	assert.True(t, common.IsPermanent(err), "wrapping must not hide the permanent classification")
}

func TestRegisterValidation(t *testing.T) {
	d := NewDispatcher(logger.Nop())

	var calls []string
	assert.Error(t, d.Register("", &recordingHandler{name: "board", log: &calls}))
	assert.Error(t, d.Register("task.created", nil))
}

func TestRegisterAll(t *testing.T) {
	d := NewDispatcher(logger.Nop())

	var calls []string
	types := []string{"task.created", "task.updated", "task.deleted"}
	require.NoError(t, d.RegisterAll(types, &recordingHandler{name: "board", log: &calls}))

	assert.ElementsMatch(t, types, d.EventTypes())
}
