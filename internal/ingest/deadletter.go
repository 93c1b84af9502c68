package ingest

import (
	"context"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/djesaja/backstage-ingest/internal/metrics"
	"github.com/djesaja/backstage-ingest/internal/model"
	"github.com/djesaja/backstage-ingest/internal/resilience"
)

// DLQ is the queue surface DeadLetterSink writes to.
type DLQ interface {
	EnqueueDLQ(ctx context.Context, entry resilience.DLQEntry) error
}

// DeadLetterSink parks units the wrapped Ingester fails on, so one bad unit
// never stops a crawl.
type DeadLetterSink struct {
	next       Ingester
	dlq        DLQ
	maxRetries int
	metrics    *metrics.Metrics
	now        func() time.Time
}

// NewDeadLetterSink wraps next. Failed units get maxRetries replays.
func NewDeadLetterSink(next Ingester, dlq DLQ, maxRetries int, m *metrics.Metrics) *DeadLetterSink {
	return &DeadLetterSink{next: next, dlq: dlq, maxRetries: maxRetries, metrics: m, now: time.Now}
}

// Ingest forwards to the wrapped Ingester. On failure the unit is enqueued
// and the error swallowed; only a failed enqueue is returned.
func (d *DeadLetterSink) Ingest(ctx context.Context, unit model.ManagerUnit, period string) (Stats, error) {
	stats, err := d.next.Ingest(ctx, unit, period)
	if err == nil {
		return stats, nil
	}

	now := d.now().UTC()
	entry := resilience.DLQEntry{
		ID:           uuid.New().String(),
		Period:       period,
		Unit:         unit,
		Error:        err.Error(),
		ErrorType:    resilience.ClassifyError(err),
		MaxRetries:   d.maxRetries,
		CreatedAt:    now,
		LastFailedAt: now,
	}
	entry.NextRetryAt = entry.NextRetry(now)

	zap.L().Warn("ingest: parking unit in dead letter queue",
		zap.String("manager", unit.Name()),
		zap.String("period", period),
		zap.String("error_type", entry.ErrorType),
		zap.Error(err),
	)
	if qErr := d.dlq.EnqueueDLQ(ctx, entry); qErr != nil {
		return stats, qErr
	}
	d.metrics.DeadLettered()
	return stats, nil
}
