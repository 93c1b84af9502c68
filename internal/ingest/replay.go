package ingest

import (
	"context"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/djesaja/backstage-ingest/internal/resilience"
)

// ReplayQueue is the queue surface Replay needs.
type ReplayQueue interface {
	DequeueDLQ(ctx context.Context, filter resilience.DLQFilter) ([]resilience.DLQEntry, error)
	IncrementDLQRetry(ctx context.Context, id string, nextRetryAt time.Time, lastErr string) error
	RemoveDLQ(ctx context.Context, id string) error
}

// ReplayResult counts the outcome of one Replay pass.
type ReplayResult struct {
	Replayed int `json:"replayed"`
	Failed   int `json:"failed"`
}

// Replay re-ingests due dead letter entries. Successes leave the queue;
// failures are rescheduled with backoff until their retries run out.
func Replay(ctx context.Context, q ReplayQueue, in Ingester, filter resilience.DLQFilter) (ReplayResult, error) {
	entries, err := q.DequeueDLQ(ctx, filter)
	if err != nil {
		return ReplayResult{}, eris.Wrap(err, "ingest: dequeue dlq")
	}

	var res ReplayResult
	for _, e := range entries {
		if err := ctx.Err(); err != nil {
			return res, err
		}

		if _, ingestErr := in.Ingest(ctx, e.Unit, e.Period); ingestErr != nil {
			e.RetryCount++
			if err := q.IncrementDLQRetry(ctx, e.ID, e.NextRetry(time.Now()), ingestErr.Error()); err != nil {
				return res, err
			}
			zap.L().Warn("ingest: replay failed",
				zap.String("dlq_id", e.ID),
				zap.Int("retry_count", e.RetryCount),
				zap.Bool("exhausted", !e.CanRetry()),
				zap.Error(ingestErr),
			)
			res.Failed++
			continue
		}

		if err := q.RemoveDLQ(ctx, e.ID); err != nil {
			return res, err
		}
		res.Replayed++
	}
	return res, nil
}
