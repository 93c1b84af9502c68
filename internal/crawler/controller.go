package crawler

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/djesaja/backstage-ingest/internal/metrics"
	"github.com/djesaja/backstage-ingest/internal/resilience"
)

var (
	// ErrNoRows means an attempt finished without reading a manager row.
	ErrNoRows = errors.New("crawler: no manager rows read")
	// ErrRetriesExhausted means every attempt failed.
	ErrRetriesExhausted = errors.New("crawler: retries exhausted")
)

// RetriesExhaustedError carries the attempt count and the last failure. It
// matches ErrRetriesExhausted and unwraps to the last cause.
type RetriesExhaustedError struct {
	Attempts int
	Last     error
}

func (e *RetriesExhaustedError) Error() string {
	return fmt.Sprintf("crawler: retries exhausted after %d attempts: %v", e.Attempts, e.Last)
}

func (e *RetriesExhaustedError) Unwrap() error { return e.Last }

func (e *RetriesExhaustedError) Is(target error) bool { return target == ErrRetriesExhausted }

// Result summarizes a controller run.
type Result struct {
	Attempts int `json:"attempts"`
	Managers int `json:"managers"`
	Creators int `json:"creators"`
	// Partial is set when the successful attempt ended on a surface error
	// after some managers were read.
	Partial bool `json:"partial,omitempty"`
}

// Controller retries whole crawl attempts, each in a fresh session, until
// one reads at least one manager row.
type Controller struct {
	factory SessionFactory
	crawler *Crawler
	retry   resilience.RetryConfig
	metrics *metrics.Metrics
	log     *zap.Logger
}

// NewController allows maxAttempts attempts spaced by backoff.
func NewController(factory SessionFactory, c *Crawler, maxAttempts int, backoff time.Duration, m *metrics.Metrics) *Controller {
	retry := resilience.ConstantBackoff(maxAttempts, backoff)
	retry.OnRetry = resilience.RetryLogger("crawler", "crawl")
	return &Controller{
		factory: factory,
		crawler: c,
		retry:   retry,
		metrics: m,
		log:     zap.L().With(zap.String("component", "crawler.controller")),
	}
}

// Run crawls until an attempt succeeds. When every attempt fails the error
// matches ErrRetriesExhausted. Cancellation returns ctx's error.
func (c *Controller) Run(ctx context.Context, emit EmitFunc) (Result, error) {
	var res Result
	stats, err := resilience.DoVal(ctx, c.retry, func(ctx context.Context) (Stats, error) {
		res.Attempts++
		c.metrics.Attempt()
		c.log.Info("crawl attempt", zap.Int("attempt", res.Attempts))
		return c.attempt(ctx, emit, &res)
	})
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return res, ctxErr
		}
		return res, &RetriesExhaustedError{Attempts: res.Attempts, Last: err}
	}
	res.Managers = stats.Managers
	res.Creators = stats.Creators
	return res, nil
}

func (c *Controller) attempt(ctx context.Context, emit EmitFunc, res *Result) (Stats, error) {
	sess, err := c.factory.Open(ctx)
	if err != nil {
		return Stats{}, eris.Wrap(err, "crawler: open session")
	}
	defer func() {
		if cerr := sess.Close(); cerr != nil {
			c.log.Warn("close session failed", zap.Error(cerr))
		}
	}()

	stats, err := c.crawler.Crawl(ctx, sess, emit)
	switch {
	case err != nil && ctx.Err() != nil:
		return stats, err
	case err != nil && stats.SawManager:
		c.log.Warn("crawl ended early", zap.Int("managers", stats.Managers), zap.Error(err))
		res.Partial = true
		return stats, nil
	case err != nil:
		return stats, err
	case !stats.SawManager:
		return stats, ErrNoRows
	}
	return stats, nil
}
