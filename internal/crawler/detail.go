package crawler

import (
	"context"

	"go.uber.org/zap"

	"github.com/djesaja/backstage-ingest/internal/grid"
	"github.com/djesaja/backstage-ingest/internal/model"
)

type detailState int

const (
	stateOpening detailState = iota
	stateReading
	statePaginating
	stateClosing
	stateDone
)

func (s detailState) String() string {
	switch s {
	case stateOpening:
		return "opening"
	case stateReading:
		return "reading"
	case statePaginating:
		return "paginating"
	case stateClosing:
		return "closing"
	default:
		return "done"
	}
}

// detailCrawler reads the creator modal of one manager row.
type detailCrawler struct {
	c        *Crawler
	surface  Surface
	enricher *Enricher
	log      *zap.Logger

	creators []model.CreatorEntry
	read     int
}

// crawlDetail drives Opening → Reading ⇄ Paginating → Closing for row. It
// returns whatever creators were read; a modal that never opens yields none.
// Only context cancellation is returned as an error.
func (c *Crawler) crawlDetail(ctx context.Context, s Surface, enricher *Enricher, row Row, manager string) ([]model.CreatorEntry, error) {
	d := &detailCrawler{
		c:        c,
		surface:  s,
		enricher: enricher,
		log:      c.log.With(zap.String("manager", manager)),
	}

	state := stateOpening
	for state != stateDone {
		if err := ctx.Err(); err != nil {
			return d.creators, err
		}
		next := d.step(ctx, state, row)
		d.log.Debug("detail transition", zap.Stringer("from", state), zap.Stringer("to", next))
		state = next
	}
	return d.creators, ctx.Err()
}

func (d *detailCrawler) step(ctx context.Context, state detailState, row Row) detailState {
	switch state {
	case stateOpening:
		return d.open(ctx, row)
	case stateReading:
		return d.readPage(ctx)
	case statePaginating:
		return d.paginate(ctx)
	case stateClosing:
		if err := d.surface.CloseModal(ctx); err != nil {
			d.log.Warn("close modal failed", zap.Error(err))
		}
		_ = d.c.pacer.Pause(ctx, ActionRow)
		return stateDone
	default:
		return stateDone
	}
}

func (d *detailCrawler) open(ctx context.Context, row Row) detailState {
	col := d.c.opts.Layout.Manager.DrillDownColumn
	ok, err := row.HasDrillDown(ctx, col)
	if err != nil || !ok {
		d.log.Info("no drill-down control", zap.Error(err))
		return stateDone
	}
	if err := row.ClickDrillDown(ctx, col); err != nil {
		d.log.Warn("drill-down click failed", zap.Error(err))
		return stateDone
	}
	_ = d.c.pacer.Pause(ctx, ActionClick)

	if err := d.surface.WaitModal(ctx, d.c.opts.ModalTimeout); err != nil {
		d.c.metrics.ModalTimeout()
		d.log.Warn("modal did not open", zap.Error(err))
		return stateClosing
	}
	return stateReading
}

func (d *detailCrawler) readPage(ctx context.Context) detailState {
	rows, err := d.surface.Rows(ctx, ScopeModal)
	if err != nil {
		d.log.Warn("list modal rows failed", zap.Error(err))
		return stateClosing
	}

	creator := d.c.opts.Layout.Creator
	for _, r := range rows {
		if ctx.Err() != nil {
			return stateClosing
		}
		fields := grid.ReadRow(ctx, r, creator.Columns, d.c.opts.CellTimeout)
		if creator.IsHeader(fields[model.FieldName]) {
			continue
		}
		if err := d.c.pacer.Wait(ctx); err != nil {
			return stateClosing
		}
		d.creators = append(d.creators, model.CreatorEntry{
			Fields:     fields,
			Enrichment: d.enricher.Enrich(ctx, r, fields[model.FieldName]),
		})
		d.read++
		if every := d.c.opts.YieldEvery; every > 0 && d.read%every == 0 {
			d.log.Debug("yielding", zap.Int("read", d.read))
			_ = sleep(ctx, d.c.opts.Yield)
		}
	}
	return statePaginating
}

func (d *detailCrawler) paginate(ctx context.Context) detailState {
	more, err := d.surface.Next(ctx, ScopeModal)
	if err != nil {
		d.log.Warn("modal pagination failed", zap.Error(err))
		return stateClosing
	}
	if !more {
		return stateClosing
	}
	_ = d.c.pacer.Pause(ctx, ActionClick)
	return stateReading
}
