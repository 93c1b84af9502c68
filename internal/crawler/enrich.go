package crawler

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/djesaja/backstage-ingest/internal/metrics"
	"github.com/djesaja/backstage-ingest/internal/model"
)

// Enricher captures a creator's identity from the profile request the page
// fires when the row's avatar is hovered.
type Enricher struct {
	surface Surface
	marker  string
	timeout time.Duration
	metrics *metrics.Metrics
	log     *zap.Logger
}

// NewEnricher returns an Enricher that waits up to timeout for a response
// whose URL contains marker.
func NewEnricher(s Surface, marker string, timeout time.Duration, m *metrics.Metrics) *Enricher {
	return &Enricher{
		surface: s,
		marker:  marker,
		timeout: timeout,
		metrics: m,
		log:     zap.L().With(zap.String("component", "crawler.enrich")),
	}
}

// Enrich hovers the row of the named creator and decodes the profile
// response. Any failure returns the zero Enrichment; enrichment never fails
// the row.
func (e *Enricher) Enrich(ctx context.Context, row Row, creator string) model.Enrichment {
	start := time.Now()
	body, err := e.surface.AwaitResponse(ctx, e.marker, e.timeout, row.HoverProfile)
	if err != nil {
		e.metrics.EnrichMiss()
		e.log.Warn("profile response not captured",
			zap.String("creator", creator),
			zap.Duration("timeout", e.timeout),
			zap.Error(err),
		)
		return model.Enrichment{}
	}
	e.metrics.EnrichLatency(time.Since(start))

	enr, err := ParseProfile(body)
	if err != nil {
		e.metrics.EnrichMiss()
		e.log.Warn("profile response unreadable", zap.String("creator", creator), zap.Error(err))
		return model.Enrichment{}
	}
	return enr
}
