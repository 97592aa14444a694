// Package dispatch maps event-type names to registered projection handlers.
package dispatch

import (
	"context"
	"sync"
	"time"

	"github.com/pkg/errors"

	"github.com/taskdeck/eventrelay/pkg/common"
	"github.com/taskdeck/eventrelay/pkg/logger"
	"github.com/taskdeck/eventrelay/pkg/metrics"
)

// Dispatcher routes an envelope to every handler registered for its event
// type. Handlers for different read models are independent and must not share
// mutable state.
type Dispatcher struct {
	mu       sync.RWMutex
	handlers map[string][]common.EventHandler
	logger   *logger.Logger
}

func NewDispatcher(log *logger.Logger) *Dispatcher {
	return &Dispatcher{
		handlers: make(map[string][]common.EventHandler),
		logger:   log,
	}
}

// Register adds a handler for an event type. Multiple handlers per type are
// invoked in registration order.
func (d *Dispatcher) Register(eventType string, handler common.EventHandler) error {
	if eventType == "" {
		return errors.New("event type is required")
	}
	if handler == nil {
		return errors.New("handler is required")
	}

	d.mu.Lock()
	defer d.mu.Unlock()

	d.handlers[eventType] = append(d.handlers[eventType], handler)
	d.logger.Info("registered handler",
		"event_type", eventType,
		"handler", handler.Name())
	return nil
}

// RegisterAll adds the handler for each of the given event types.
func (d *Dispatcher) RegisterAll(eventTypes []string, handler common.EventHandler) error {
	for _, eventType := range eventTypes {
		if err := d.Register(eventType, handler); err != nil {
			return err
		}
	}
	return nil
}

// Dispatch invokes every registered handler. The first error fails the whole
// envelope: the processor retries it and handler idempotence makes re-running
// the handlers that already succeeded a no-op.
func (d *Dispatcher) Dispatch(ctx context.Context, msg *common.OutboxMessage) error {
	d.mu.RLock()
	handlers := d.handlers[msg.EventType]
	d.mu.RUnlock()

	if len(handlers) == 0 {
		d.logger.Debug("no handler registered for event type",
			"id", msg.ID,
			"event_type", msg.EventType)
		return nil
	}

	for _, handler := range handlers {
		start := time.Now()
		err := handler.Handle(ctx, msg)
		metrics.HandlerLatency.WithLabelValues(handler.Name(), msg.EventType).Observe(time.Since(start).Seconds())
		if err != nil {
			metrics.HandlerFailures.WithLabelValues(handler.Name(), msg.EventType).Inc()
			return errors.Wrapf(err, "handler %s failed", handler.Name())
		}
	}
	return nil
}

// EventTypes returns the registered event types. Used by the relay wiring.
func (d *Dispatcher) EventTypes() []string {
	d.mu.RLock()
	defer d.mu.RUnlock()

	types := make([]string, 0, len(d.handlers))
	for eventType := range d.handlers {
		types = append(types, eventType)
	}
	return types
}
