package crawler

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/djesaja/backstage-ingest/internal/grid"
)

var errTimeout = errors.New("fake: timeout")

type fakeRow struct {
	cells   map[int]string
	drill   bool
	profile []byte
	modal   [][]*fakeRow
	// modalFails keeps the modal from appearing after a click.
	modalFails bool
	// profileDelay holds the profile response back after the hover.
	profileDelay time.Duration

	surface *fakeSurface
	hovered int
}

func (r *fakeRow) Cell(_ context.Context, col int) (string, error) {
	v, ok := r.cells[col]
	if !ok {
		return "", errTimeout
	}
	return v, nil
}

func (r *fakeRow) HasDrillDown(_ context.Context, _ int) (bool, error) {
	return r.drill, nil
}

func (r *fakeRow) ClickDrillDown(_ context.Context, _ int) error {
	s := r.surface
	s.clicks++
	s.modalPages = r.modal
	s.modalPage = 0
	s.modalOpen = !r.modalFails
	return nil
}

func (r *fakeRow) HoverProfile(_ context.Context) error {
	r.hovered++
	r.surface.hovering = r
	ev := "hover:"
	if !r.surface.listening {
		ev = "unarmed-hover:"
	}
	r.surface.events = append(r.surface.events, ev+r.cells[1])
	return nil
}

// awaitCall is one AwaitResponse invocation as the surface saw it.
type awaitCall struct {
	marker  string
	timeout time.Duration
}

type fakeSurface struct {
	pages      [][]*fakeRow
	page       int
	rowsErr    error
	modalPages [][]*fakeRow
	modalPage  int
	modalOpen  bool
	hovering   *fakeRow

	// events logs hovers and profile responses in the order they happen.
	events    []string
	awaits    []awaitCall
	listening bool

	clicks int
	closes int
	closed bool
}

func newFakeSurface(pages ...[]*fakeRow) *fakeSurface {
	s := &fakeSurface{pages: pages}
	for _, p := range pages {
		for _, r := range p {
			s.adopt(r)
		}
	}
	return s
}

func (s *fakeSurface) adopt(r *fakeRow) {
	r.surface = s
	for _, p := range r.modal {
		for _, c := range p {
			c.surface = s
		}
	}
}

func rowsOf(rs []*fakeRow) []Row {
	out := make([]Row, len(rs))
	for i, r := range rs {
		out[i] = r
	}
	return out
}

func (s *fakeSurface) Rows(_ context.Context, scope Scope) ([]Row, error) {
	if scope == ScopeModal {
		if !s.modalOpen || s.modalPage >= len(s.modalPages) {
			return nil, nil
		}
		return rowsOf(s.modalPages[s.modalPage]), nil
	}
	if s.rowsErr != nil {
		return nil, s.rowsErr
	}
	if s.page >= len(s.pages) {
		return nil, nil
	}
	return rowsOf(s.pages[s.page]), nil
}

func (s *fakeSurface) Next(_ context.Context, scope Scope) (bool, error) {
	if scope == ScopeModal {
		if s.modalPage+1 >= len(s.modalPages) {
			return false, nil
		}
		s.modalPage++
		return true, nil
	}
	if s.page+1 >= len(s.pages) {
		return false, nil
	}
	s.page++
	return true, nil
}

func (s *fakeSurface) WaitModal(_ context.Context, _ time.Duration) error {
	if !s.modalOpen {
		return errTimeout
	}
	return nil
}

func (s *fakeSurface) CloseModal(_ context.Context) error {
	s.closes++
	s.modalOpen = false
	return nil
}

// AwaitResponse arms before running trigger and honors timeout: a row whose
// profileDelay exceeds it gets no response.
func (s *fakeSurface) AwaitResponse(ctx context.Context, marker string, timeout time.Duration, trigger func(context.Context) error) ([]byte, error) {
	wctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	s.awaits = append(s.awaits, awaitCall{marker: marker, timeout: timeout})
	s.listening = true
	defer func() { s.listening = false }()
	s.hovering = nil
	if err := trigger(wctx); err != nil {
		return nil, err
	}
	r := s.hovering
	if r == nil || r.profile == nil {
		return nil, errTimeout
	}
	if r.profileDelay > 0 {
		t := time.NewTimer(r.profileDelay)
		defer t.Stop()
		select {
		case <-wctx.Done():
			s.events = append(s.events, "timeout:"+r.cells[1])
			return nil, wctx.Err()
		case <-t.C:
		}
	}
	s.events = append(s.events, "response:"+r.cells[1])
	return r.profile, nil
}

func (s *fakeSurface) Close() error {
	s.closed = true
	return nil
}

// managerRow builds a manager grid row. creatorPages become the modal.
func managerRow(name, eligible string, creatorPages ...[]*fakeRow) *fakeRow {
	return &fakeRow{
		cells: map[int]string{
			1: name, 2: eligible, 3: "$1,000", 4: "5,000",
			5: "1", 6: "2", 7: "3", 8: "4",
		},
		drill: eligible != "0",
		modal: creatorPages,
	}
}

func headerRow() *fakeRow {
	return &fakeRow{cells: map[int]string{1: "Creator Network Manager", 2: "Eligible creators"}}
}

func creatorHeader() *fakeRow {
	return &fakeRow{cells: map[int]string{1: "Creator", 2: "Estimated bonus"}}
}

// creatorRow builds a creator modal row whose profile carries uid.
func creatorRow(name, uid string) *fakeRow {
	r := &fakeRow{cells: map[int]string{
		1: name, 2: "$12.50", 3: "M1, M2", 4: "1,200", 5: "7", 6: "3h 20m",
	}}
	if uid != "" {
		r.profile = []byte(fmt.Sprintf(`{"HostBaseInfo":{"CreatorID":"%s","nickname":"%s","AgentInfo":{"AgentID":"m-1","AgentName":"mgr@example.com"}}}`, uid, name))
	}
	return r
}

func creatorPage(prefix string, n int) []*fakeRow {
	rows := make([]*fakeRow, n)
	for i := range rows {
		rows[i] = creatorRow(fmt.Sprintf("%s%d", prefix, i), fmt.Sprintf("%s-uid-%d", prefix, i))
	}
	return rows
}

func testOptions(t *testing.T) Options {
	t.Helper()
	layout, err := grid.DefaultLayout()
	require.NoError(t, err)
	return Options{
		Layout:        layout,
		CellTimeout:   time.Second,
		ModalTimeout:  time.Second,
		EnrichTimeout: time.Second,
		ProfileMarker: "anchor_profile",
	}
}

type fakeFactory struct {
	sessions []*fakeSurface
	opened   int
	openErr  error
}

func (f *fakeFactory) Open(_ context.Context) (Session, error) {
	if f.openErr != nil {
		f.opened++
		return nil, f.openErr
	}
	if f.opened >= len(f.sessions) {
		f.opened++
		return newFakeSurface(), nil
	}
	s := f.sessions[f.opened]
	f.opened++
	return s, nil
}
