package crawler

import (
	"context"
	"math/rand/v2"
	"time"

	"golang.org/x/time/rate"
)

// Action is a kind of UI action the pacer spaces out.
type Action int

const (
	// ActionRow follows a manager row whose modal was closed.
	ActionRow Action = iota
	// ActionClick follows a drill-down or modal pagination click.
	ActionClick
	// ActionPage follows a grid page change.
	ActionPage
)

func (a Action) String() string {
	switch a {
	case ActionRow:
		return "row"
	case ActionClick:
		return "click"
	case ActionPage:
		return "page"
	default:
		return "unknown"
	}
}

// Span is the range a settle delay is drawn from.
type Span struct {
	Min, Max time.Duration
}

// Pacer spaces UI actions. Every action passes a shared rate limit; actions
// that change what the page shows also sleep a random delay from their span.
// Hovers only pass the limit, so with the default spans it is the limit that
// sets the hover cadence inside a modal. A nil *Pacer does not wait.
type Pacer struct {
	limiter *rate.Limiter
	spans   map[Action]Span
}

// NewPacer allows actionsPerSec UI actions per second. Zero means no limit.
// Actions without a span settle for no time.
func NewPacer(actionsPerSec int, spans map[Action]Span) *Pacer {
	limit := rate.Inf
	if actionsPerSec > 0 {
		limit = rate.Limit(actionsPerSec)
	}
	norm := make(map[Action]Span, len(spans))
	for a, s := range spans {
		if s.Max < s.Min {
			s.Max = s.Min
		}
		norm[a] = s
	}
	return &Pacer{limiter: rate.NewLimiter(limit, 1), spans: norm}
}

// Wait blocks until the rate limit admits another action.
func (p *Pacer) Wait(ctx context.Context) error {
	if p == nil {
		return nil
	}
	return p.limiter.Wait(ctx)
}

// Pause waits for the rate limit, then for a settle delay drawn from the
// span of a.
func (p *Pacer) Pause(ctx context.Context, a Action) error {
	if p == nil {
		return nil
	}
	if err := p.limiter.Wait(ctx); err != nil {
		return err
	}
	return sleep(ctx, p.jitter(a))
}

func (p *Pacer) jitter(a Action) time.Duration {
	s := p.spans[a]
	if s.Max <= s.Min {
		return s.Min
	}
	return s.Min + rand.N(s.Max-s.Min+1)
}

// sleep waits d or until ctx is done.
func sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
