// Package browser drives the dashboard through a Chromium instance
// controlled over the DevTools protocol.
package browser

import (
	"context"
	"encoding/base64"
	"fmt"
	"strings"
	"time"

	"github.com/go-rod/rod"
	"github.com/go-rod/rod/lib/input"
	"github.com/go-rod/rod/lib/launcher"
	"github.com/go-rod/rod/lib/proto"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/djesaja/backstage-ingest/internal/config"
	"github.com/djesaja/backstage-ingest/internal/crawler"
)

const (
	settleDelay = 2 * time.Second
	closeDelay  = 500 * time.Millisecond
	hoverReset  = 150 * time.Millisecond
)

// Factory opens one browser session per crawl attempt.
type Factory struct {
	browser config.BrowserConfig
	scrape  config.ScrapeConfig
	period  string
	log     *zap.Logger
}

// NewFactory returns a Factory that opens the dashboard for period.
func NewFactory(b config.BrowserConfig, s config.ScrapeConfig, period string) *Factory {
	return &Factory{
		browser: b,
		scrape:  s,
		period:  period,
		log:     zap.L().With(zap.String("component", "browser")),
	}
}

// Open launches a browser, restores the saved session and waits for the
// manager grid to render.
func (f *Factory) Open(ctx context.Context) (crawler.Session, error) {
	target, err := DashboardURL(f.scrape, f.period)
	if err != nil {
		return nil, err
	}
	state, err := LoadStorageState(f.browser.StorageState)
	if err != nil {
		return nil, err
	}

	l := launcher.New().Context(ctx).Headless(f.browser.Headless)
	if f.browser.Bin != "" {
		l = l.Bin(f.browser.Bin)
	}
	controlURL, err := l.Launch()
	if err != nil {
		return nil, eris.Wrap(err, "browser: launch")
	}

	s := &Session{
		launcher: l,
		sel:      f.scrape.Selectors,
		scrape:   f.scrape,
		log:      f.log,
	}
	if err := s.start(ctx, controlURL, state, target, f.browser); err != nil {
		_ = s.Close()
		return nil, err
	}
	return s, nil
}

// Session is one page on the dashboard. It implements crawler.Surface.
type Session struct {
	launcher *launcher.Launcher
	browser  *rod.Browser
	page     *rod.Page
	sel      config.SelectorConfig
	scrape   config.ScrapeConfig
	log      *zap.Logger
}

func (s *Session) start(ctx context.Context, controlURL string, state *StorageState, target string, cfg config.BrowserConfig) error {
	b := rod.New().ControlURL(controlURL).Context(ctx)
	if err := b.Connect(); err != nil {
		return eris.Wrap(err, "browser: connect")
	}
	s.browser = b

	if cookies := state.CookieParams(); len(cookies) > 0 {
		if err := b.SetCookies(cookies); err != nil {
			return eris.Wrap(err, "browser: restore cookies")
		}
	}

	page, err := b.Page(proto.TargetCreateTarget{})
	if err != nil {
		return eris.Wrap(err, "browser: new page")
	}
	s.page = page

	if err := page.SetViewport(&proto.EmulationSetDeviceMetricsOverride{
		Width:             cfg.ViewportWidth,
		Height:            cfg.ViewportHeight,
		DeviceScaleFactor: 1,
	}); err != nil {
		return eris.Wrap(err, "browser: set viewport")
	}

	script, err := state.LocalStorageScript()
	if err != nil {
		return err
	}
	if script != "" {
		if _, err := page.EvalOnNewDocument(script); err != nil {
			return eris.Wrap(err, "browser: restore local storage")
		}
	}

	if err := (proto.NetworkEnable{}).Call(page); err != nil {
		return eris.Wrap(err, "browser: enable network events")
	}

	s.log.Info("opening dashboard", zap.String("url", target))
	nav := page.Timeout(config.Ms(s.scrape.GridTimeoutMs))
	if err := nav.Navigate(target); err != nil {
		return eris.Wrap(err, "browser: navigate")
	}
	if _, err := nav.Element(s.sel.Row); err != nil {
		return eris.Wrap(err, "browser: wait for grid")
	}
	return sleep(ctx, settleDelay)
}

// Close shuts the browser down and removes its profile directory.
func (s *Session) Close() error {
	var err error
	if s.browser != nil {
		err = s.browser.Close()
	}
	if s.launcher != nil {
		s.launcher.Kill()
		s.launcher.Cleanup()
	}
	if err != nil {
		return eris.Wrap(err, "browser: close")
	}
	return nil
}

// Rows waits briefly for the scope's first row, then lists all rendered rows.
func (s *Session) Rows(ctx context.Context, scope crawler.Scope) ([]crawler.Row, error) {
	sel, wait := s.sel.Row, config.Ms(s.scrape.GridTimeoutMs)
	if scope == crawler.ScopeModal {
		sel, wait = s.sel.ModalRow, config.Ms(s.scrape.ModalTimeoutMs)
	}

	page := s.page.Context(ctx)
	if _, err := page.Timeout(wait).Element(sel); err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, nil
	}
	els, err := page.Elements(sel)
	if err != nil {
		return nil, eris.Wrapf(err, "browser: list %s rows", scope)
	}
	rows := make([]crawler.Row, len(els))
	for i, el := range els {
		rows[i] = &row{el: el, session: s}
	}
	return rows, nil
}

// Next clicks the scope's next-page control unless it is absent or disabled.
func (s *Session) Next(ctx context.Context, scope crawler.Scope) (bool, error) {
	sel := s.sel.PageNext
	if scope == crawler.ScopeModal {
		sel = s.sel.ModalNext
	}
	ok, el, err := s.page.Context(ctx).Has(sel)
	if err != nil {
		return false, eris.Wrapf(err, "browser: find %s next control", scope)
	}
	if !ok {
		return false, nil
	}
	disabled, err := el.Attribute("aria-disabled")
	if err != nil {
		return false, eris.Wrapf(err, "browser: read %s next control", scope)
	}
	if disabled != nil && *disabled == "true" {
		return false, nil
	}
	if err := el.Click(proto.InputMouseButtonLeft, 1); err != nil {
		return false, eris.Wrapf(err, "browser: click %s next control", scope)
	}
	return true, nil
}

// WaitModal waits for a dialog or side sheet to render.
func (s *Session) WaitModal(ctx context.Context, timeout time.Duration) error {
	if _, err := s.page.Context(ctx).Timeout(timeout).Element(s.sel.Modal); err != nil {
		return eris.Wrap(err, "browser: wait for modal")
	}
	return nil
}

// CloseModal clicks the modal's close button, falling back to Escape.
func (s *Session) CloseModal(ctx context.Context) error {
	page := s.page.Context(ctx)
	ok, el, err := page.Has(s.sel.ModalClose)
	if err == nil && ok {
		if err := el.Click(proto.InputMouseButtonLeft, 1); err == nil {
			return sleep(ctx, closeDelay)
		}
	}
	if err := page.KeyActions().Press(input.Escape).Do(); err != nil {
		return eris.Wrap(err, "browser: press escape")
	}
	return nil
}

// AwaitResponse captures the body of the first response whose URL contains
// marker after trigger runs.
func (s *Session) AwaitResponse(ctx context.Context, marker string, timeout time.Duration, trigger func(ctx context.Context) error) ([]byte, error) {
	return awaitResponse(ctx, pageEvents{page: s.page}, marker, timeout, trigger)
}

// responseSource is the slice of the DevTools network domain that response
// capture needs.
type responseSource interface {
	// listen starts watching for a finished response whose URL contains
	// marker. The returned wait blocks until one arrives or ctx ends.
	listen(ctx context.Context, marker string) (wait func() (proto.NetworkRequestID, error))
	body(ctx context.Context, id proto.NetworkRequestID) ([]byte, error)
}

// awaitResponse arms the listener, runs trigger, then waits at most timeout
// for the matching response. The listener is always armed before trigger so
// a fast response cannot be missed.
func awaitResponse(ctx context.Context, src responseSource, marker string, timeout time.Duration, trigger func(ctx context.Context) error) ([]byte, error) {
	wctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	wait := src.listen(wctx, marker)
	if err := trigger(wctx); err != nil {
		return nil, eris.Wrap(err, "browser: trigger")
	}
	id, err := wait()
	if err != nil {
		return nil, eris.Wrapf(err, "browser: await %s response", marker)
	}
	return src.body(ctx, id)
}

// pageEvents reads network events from a rod page.
type pageEvents struct {
	page *rod.Page
}

func (p pageEvents) listen(ctx context.Context, marker string) func() (proto.NetworkRequestID, error) {
	var (
		requestID proto.NetworkRequestID
		finished  bool
	)
	wait := p.page.Context(ctx).EachEvent(
		func(e *proto.NetworkResponseReceived) {
			if requestID == "" && e.Response != nil && strings.Contains(e.Response.URL, marker) {
				requestID = e.RequestID
			}
		},
		func(e *proto.NetworkLoadingFinished) bool {
			finished = requestID != "" && e.RequestID == requestID
			return finished
		},
	)
	return func() (proto.NetworkRequestID, error) {
		wait()
		if !finished {
			if err := ctx.Err(); err != nil {
				return "", err
			}
			return "", eris.New("browser: event stream closed")
		}
		return requestID, nil
	}
}

func (p pageEvents) body(ctx context.Context, id proto.NetworkRequestID) ([]byte, error) {
	res, err := proto.NetworkGetResponseBody{RequestID: id}.Call(p.page.Context(ctx))
	if err != nil {
		return nil, eris.Wrap(err, "browser: read response body")
	}
	return decodeBody(res)
}

func decodeBody(res *proto.NetworkGetResponseBodyResult) ([]byte, error) {
	if res.Base64Encoded {
		body, err := base64.StdEncoding.DecodeString(res.Body)
		if err != nil {
			return nil, eris.Wrap(err, "browser: decode response body")
		}
		return body, nil
	}
	return []byte(res.Body), nil
}

// row is a grid row element.
type row struct {
	el      *rod.Element
	session *Session
}

func (r *row) cellSelector(col int) string {
	return fmt.Sprintf(r.session.sel.Cell, col)
}

func (r *row) Cell(ctx context.Context, col int) (string, error) {
	cell, err := r.el.Context(ctx).Element(r.cellSelector(col))
	if err != nil {
		return "", err
	}
	return cell.Text()
}

func (r *row) HasDrillDown(ctx context.Context, col int) (bool, error) {
	ok, _, err := r.el.Context(ctx).Has(r.cellSelector(col) + " " + r.session.sel.DrillDown)
	return ok, err
}

func (r *row) ClickDrillDown(ctx context.Context, col int) error {
	btn, err := r.el.Context(ctx).Element(r.cellSelector(col) + " " + r.session.sel.DrillDown)
	if err != nil {
		return eris.Wrap(err, "browser: find drill-down control")
	}
	return btn.Click(proto.InputMouseButtonLeft, 1)
}

func (r *row) HoverProfile(ctx context.Context) error {
	el := r.el.Context(ctx)
	if err := el.ScrollIntoView(); err != nil {
		return eris.Wrap(err, "browser: scroll row")
	}
	if err := r.session.page.Context(ctx).Mouse.MoveTo(proto.Point{}); err != nil {
		return eris.Wrap(err, "browser: reset mouse")
	}
	if err := sleep(ctx, hoverReset); err != nil {
		return err
	}
	avatar, err := el.Element(r.session.sel.ProfileHover)
	if err != nil {
		return eris.Wrap(err, "browser: find avatar")
	}
	return avatar.Hover()
}

func sleep(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
