// Package processor runs the background worker pool that drains the outbox.
package processor

import (
	"context"
	"sync"
	"time"

	"github.com/pkg/errors"

	"github.com/taskdeck/eventrelay/pkg/common"
	"github.com/taskdeck/eventrelay/pkg/dispatch"
	"github.com/taskdeck/eventrelay/pkg/logger"
	"github.com/taskdeck/eventrelay/pkg/metrics"
)

// Config represents the configuration for the processor pool.
type Config struct {
	Workers           int
	PollInterval      time.Duration
	BatchSize         int
	VisibilityTimeout time.Duration
	MaxRetries        int
	DispatchTimeout   time.Duration
	BackoffBase       time.Duration
	BackoffMax        time.Duration
}

func (cfg *Config) applyDefaults() {
	if cfg.Workers <= 0 {
		cfg.Workers = 4
	}
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = time.Second
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 25
	}
	if cfg.VisibilityTimeout <= 0 {
		cfg.VisibilityTimeout = 30 * time.Second
	}
	if cfg.MaxRetries <= 0 {
		cfg.MaxRetries = 5
	}
	if cfg.DispatchTimeout <= 0 {
		cfg.DispatchTimeout = 10 * time.Second
	}
	if cfg.BackoffBase <= 0 {
		cfg.BackoffBase = 2 * time.Second
	}
	if cfg.BackoffMax <= 0 {
		cfg.BackoffMax = 5 * time.Minute
	}
}

// Processor claims pending envelopes, dispatches them and resolves the
// outcome. Workers are independent: correctness under concurrency comes from
// the store's conditional claim, not from coordination between workers.
type Processor struct {
	store      common.OutboxStore
	dispatcher *dispatch.Dispatcher
	logger     *logger.Logger
	cfg        Config

	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewProcessor creates a processor pool over the given store and dispatcher.
func NewProcessor(store common.OutboxStore, dispatcher *dispatch.Dispatcher, log *logger.Logger, cfg Config) *Processor {
	cfg.applyDefaults()
	return &Processor{
		store:      store,
		dispatcher: dispatcher,
		logger:     log,
		cfg:        cfg,
	}
}

// Start launches the worker pool. Workers run until Stop or until ctx is
// cancelled; either way each worker finishes the batch it already claimed.
func (p *Processor) Start(ctx context.Context) error {
	if p.cancel != nil {
		return errors.New("processor already started")
	}

	runCtx, cancel := context.WithCancel(ctx)
	p.cancel = cancel

	p.logger.Info("starting outbox processor",
		"workers", p.cfg.Workers,
		"poll_interval", p.cfg.PollInterval,
		"batch_size", p.cfg.BatchSize,
		"max_retries", p.cfg.MaxRetries)

	for i := 0; i < p.cfg.Workers; i++ {
		p.wg.Add(1)
		go p.runWorker(runCtx, i)
	}
	return nil
}

// Stop signals all workers and waits for in-flight batches to resolve.
// Unresolved messages stay in processing and are reclaimed after the
// visibility timeout, so nothing is lost on a hard crash either.
func (p *Processor) Stop() {
	if p.cancel == nil {
		return
	}
	p.cancel()
	p.wg.Wait()
	p.logger.Info("outbox processor stopped")
}

func (p *Processor) runWorker(ctx context.Context, id int) {
	defer p.wg.Done()

	log := p.logger.With("worker", id)
	ticker := time.NewTicker(p.cfg.PollInterval)
	defer ticker.Stop()

	// Drain once at startup so a restart does not wait a full interval.
	p.processBatch(ctx, log)

	for {
		select {
		case <-ctx.Done():
			log.Debug("worker stopping", "reason", ctx.Err())
			return
		case <-ticker.C:
			p.processBatch(ctx, log)
		}
	}
}

func (p *Processor) processBatch(ctx context.Context, log *logger.Logger) {
	batch, err := p.store.ClaimBatch(ctx, p.cfg.BatchSize, p.cfg.VisibilityTimeout)
	if err != nil {
		if ctx.Err() == nil {
			log.Error("failed to claim batch", err)
		}
		return
	}
	if len(batch) == 0 {
		return
	}
	metrics.MessagesClaimed.Add(float64(len(batch)))

	// Dispatch on a cancel-detached context so shutdown lets the claimed
	// batch finish instead of abandoning half-applied messages.
	workCtx := context.WithoutCancel(ctx)
	for _, msg := range batch {
		p.processMessage(workCtx, log, msg)
	}
}

func (p *Processor) processMessage(ctx context.Context, log *logger.Logger, msg *common.OutboxMessage) {
	dispatchCtx, cancel := context.WithTimeout(ctx, p.cfg.DispatchTimeout)
	defer cancel()

	start := time.Now()
	err := p.dispatcher.Dispatch(dispatchCtx, msg)
	metrics.DispatchLatency.WithLabelValues(msg.EventType).Observe(time.Since(start).Seconds())

	if err == nil {
		if err := p.store.MarkDelivered(ctx, msg.ID); err != nil {
			log.Error("failed to mark message delivered", err,
				"id", msg.ID,
				"aggregate_id", msg.AggregateID,
				"event_type", msg.EventType)
			return
		}
		metrics.MessagesDelivered.WithLabelValues(msg.EventType).Inc()
		log.Debug("message delivered", "id", msg.ID, "event_type", msg.EventType)
		return
	}

	p.resolveFailure(ctx, log, msg, err)
}

// resolveFailure schedules a retry or dead-letters the message. Permanent
// failures skip the remaining retry budget; a poison payload gains nothing
// from four more attempts.
func (p *Processor) resolveFailure(ctx context.Context, log *logger.Logger, msg *common.OutboxMessage, dispatchErr error) {
	log.Error("dispatch failed", dispatchErr,
		"id", msg.ID,
		"aggregate_id", msg.AggregateID,
		"event_type", msg.EventType,
		"retry_count", msg.RetryCount)

	if common.IsPermanent(dispatchErr) {
		p.deadLetter(ctx, log, msg, dispatchErr, "permanent")
		return
	}

	if msg.RetryCount < p.cfg.MaxRetries {
		nextRetryAt := time.Now().UTC().Add(backoff(msg.RetryCount, p.cfg.BackoffBase, p.cfg.BackoffMax))
		if err := p.store.ScheduleRetry(ctx, msg.ID, nextRetryAt, dispatchErr.Error()); err != nil {
			log.Error("failed to schedule retry", err, "id", msg.ID)
			return
		}
		metrics.RetriesScheduled.WithLabelValues(msg.EventType).Inc()
		return
	}

	p.deadLetter(ctx, log, msg, dispatchErr, "retries_exhausted")
}

func (p *Processor) deadLetter(ctx context.Context, log *logger.Logger, msg *common.OutboxMessage, dispatchErr error, reason string) {
	if err := p.store.MoveToDeadLetter(ctx, msg.ID, dispatchErr.Error()); err != nil {
		log.Error("failed to move message to dead letter store", err,
			"id", msg.ID,
			"aggregate_id", msg.AggregateID,
			"event_type", msg.EventType)
		return
	}
	metrics.MessagesDeadLettered.WithLabelValues(msg.EventType, reason).Inc()
}
