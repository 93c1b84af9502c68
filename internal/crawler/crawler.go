package crawler

import (
	"context"
	"strings"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/djesaja/backstage-ingest/internal/grid"
	"github.com/djesaja/backstage-ingest/internal/metrics"
	"github.com/djesaja/backstage-ingest/internal/model"
)

// EmitFunc receives each manager unit as soon as it is complete. An error
// is logged and counted; the crawl continues.
type EmitFunc func(ctx context.Context, unit model.ManagerUnit) error

// Options tunes a Crawler.
type Options struct {
	Layout        *grid.Layout
	CellTimeout   time.Duration
	ModalTimeout  time.Duration
	EnrichTimeout time.Duration
	ProfileMarker string
	// YieldEvery pauses for Yield after that many creators in one modal.
	// Zero disables.
	YieldEvery int
	Yield      time.Duration
	// Limit stops after that many managers. Zero means no limit.
	Limit int
}

// Stats summarizes one pass over the grid.
type Stats struct {
	Managers   int
	Creators   int
	SawManager bool
}

// Crawler walks the manager grid page by page.
type Crawler struct {
	opts    Options
	pacer   *Pacer
	metrics *metrics.Metrics
	log     *zap.Logger
}

// New returns a Crawler. pacer and m may be nil.
func New(opts Options, pacer *Pacer, m *metrics.Metrics) *Crawler {
	return &Crawler{
		opts:    opts,
		pacer:   pacer,
		metrics: m,
		log:     zap.L().With(zap.String("component", "crawler")),
	}
}

// Crawl performs one pass over s, emitting a unit per non-header manager
// row. A surface error ends the pass and is returned with the stats gathered
// so far.
func (c *Crawler) Crawl(ctx context.Context, s Surface, emit EmitFunc) (Stats, error) {
	if c.opts.Layout == nil {
		return Stats{}, eris.New("crawler: layout is required")
	}
	var stats Stats
	enricher := NewEnricher(s, c.opts.ProfileMarker, c.opts.EnrichTimeout, c.metrics)
	manager := c.opts.Layout.Manager

	for page := 1; ; page++ {
		rows, err := s.Rows(ctx, ScopeGrid)
		if err != nil {
			return stats, eris.Wrapf(err, "crawler: list rows on page %d", page)
		}
		c.log.Debug("manager page", zap.Int("page", page), zap.Int("rows", len(rows)))

		for _, row := range rows {
			if err := ctx.Err(); err != nil {
				return stats, err
			}
			fields := grid.ReadRow(ctx, row, manager.Columns, c.opts.CellTimeout)
			name := fields[model.FieldName]
			if manager.IsHeader(name) {
				continue
			}
			stats.SawManager = true

			unit := model.ManagerUnit{Fields: fields}
			if hasCreators(fields[model.FieldEligibleCreators]) {
				unit.Creators, err = c.crawlDetail(ctx, s, enricher, row, name)
				if err != nil {
					return stats, err
				}
			}
			c.metrics.CreatorsRead(len(unit.Creators))

			if err := emit(ctx, unit); err != nil {
				c.metrics.EmitFailure()
				c.log.Error("emit manager unit failed", zap.String("manager", name), zap.Error(err))
			} else {
				c.metrics.ManagerEmitted()
			}
			stats.Managers++
			stats.Creators += len(unit.Creators)

			if c.opts.Limit > 0 && stats.Managers >= c.opts.Limit {
				c.log.Info("manager limit reached", zap.Int("limit", c.opts.Limit))
				return stats, nil
			}
			if err := c.pacer.Wait(ctx); err != nil {
				return stats, err
			}
		}

		more, err := s.Next(ctx, ScopeGrid)
		if err != nil {
			return stats, eris.Wrapf(err, "crawler: advance past page %d", page)
		}
		if !more {
			return stats, nil
		}
		if err := c.pacer.Pause(ctx, ActionPage); err != nil {
			return stats, err
		}
	}
}

// hasCreators reports whether the eligible count may be non-zero. Only a
// literal zero skips the drill-down; an unreadable count still gets one.
func hasCreators(eligible string) bool {
	return strings.TrimSpace(eligible) != "0"
}
