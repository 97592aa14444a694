// Package admin exposes operator recovery over the dead-letter store.
// Authorization belongs to the surface that mounts it, not here.
package admin

import (
	"context"

	"github.com/taskdeck/eventrelay/pkg/common"
	"github.com/taskdeck/eventrelay/pkg/logger"
	"github.com/taskdeck/eventrelay/pkg/metrics"
)

// Service implements list/retry/delete over dead letters plus outbox
// statistics. Poison messages are never auto-retried: an operator resubmits
// explicitly after fixing the root cause, which keeps an unrecoverable
// payload from looping forever.
type Service struct {
	outbox     common.OutboxStore
	deadLetter common.DeadLetterStore
	logger     *logger.Logger
}

func NewService(outbox common.OutboxStore, deadLetter common.DeadLetterStore, log *logger.Logger) *Service {
	return &Service{
		outbox:     outbox,
		deadLetter: deadLetter,
		logger:     log,
	}
}

// List returns one page of dead letters, newest first.
func (s *Service) List(ctx context.Context, page, pageSize int, filter common.DeadLetterFilter) ([]*common.DeadLetterMessage, int64, error) {
	return s.deadLetter.List(ctx, page, pageSize, filter)
}

// Retry moves a dead letter back into the outbox as a fresh pending message
// with its retry budget reset. The move is a single store operation, so a
// failure partway through cannot leave the envelope in both stores and a
// repeated retry cannot duplicate it.
func (s *Service) Retry(ctx context.Context, id string) (string, error) {
	outboxID, err := s.outbox.RequeueFromDeadLetter(ctx, id)
	if err != nil {
		return "", err
	}

	metrics.DeadLettersRequeued.Inc()
	s.logger.Info("dead letter requeued",
		"dead_letter_id", id,
		"outbox_id", outboxID)
	return outboxID, nil
}

// Delete permanently removes a dead letter. No other row is touched.
func (s *Service) Delete(ctx context.Context, id string) error {
	if err := s.deadLetter.Delete(ctx, id); err != nil {
		return err
	}
	metrics.DeadLettersPurged.Inc()
	s.logger.Info("dead letter purged", "dead_letter_id", id)
	return nil
}

// OutboxStats reports in-flight message counts by status.
func (s *Service) OutboxStats(ctx context.Context) (common.OutboxStats, error) {
	stats, err := s.outbox.Stats(ctx)
	if err != nil {
		return common.OutboxStats{}, err
	}
	metrics.OutboxBacklog.WithLabelValues(string(common.StatusPending)).Set(float64(stats.Pending))
	metrics.OutboxBacklog.WithLabelValues(string(common.StatusProcessing)).Set(float64(stats.Processing))
	metrics.OutboxBacklog.WithLabelValues(string(common.StatusDelivered)).Set(float64(stats.Delivered))
	return stats, nil
}
