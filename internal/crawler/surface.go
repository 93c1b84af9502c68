// Package crawler walks the two-level manager/creator grid and emits one
// manager unit at a time.
package crawler

import (
	"context"
	"time"

	"github.com/djesaja/backstage-ingest/internal/grid"
)

// Scope selects which grid an operation addresses.
type Scope int

const (
	// ScopeGrid is the top-level manager grid.
	ScopeGrid Scope = iota
	// ScopeModal is the creator grid inside the drill-down modal.
	ScopeModal
)

func (s Scope) String() string {
	if s == ScopeModal {
		return "modal"
	}
	return "grid"
}

// Row is one rendered grid row.
type Row interface {
	grid.Row

	// HasDrillDown reports whether the cell in column col holds a
	// drill-down control.
	HasDrillDown(ctx context.Context, col int) (bool, error)
	// ClickDrillDown clicks the drill-down control in column col.
	ClickDrillDown(ctx context.Context, col int) error
	// HoverProfile scrolls the row into view, parks the mouse and hovers
	// the row's avatar, which makes the page fetch the profile.
	HoverProfile(ctx context.Context) error
}

// Surface is the remote UI as the crawler drives it. One Surface is one
// stateful browser page and is not safe for concurrent use.
type Surface interface {
	// Rows returns the rows currently rendered in scope.
	Rows(ctx context.Context, scope Scope) ([]Row, error)
	// Next clicks the enabled "next page" control of scope. It returns
	// false when the control is absent or disabled.
	Next(ctx context.Context, scope Scope) (bool, error)
	// WaitModal waits for the drill-down modal to appear.
	WaitModal(ctx context.Context, timeout time.Duration) error
	// CloseModal dismisses the modal with its close button, or Escape.
	CloseModal(ctx context.Context) error
	// AwaitResponse arms a listener for a response whose URL contains
	// marker, runs trigger, and returns the body of the first match. It
	// gives up after timeout.
	AwaitResponse(ctx context.Context, marker string, timeout time.Duration, trigger func(ctx context.Context) error) ([]byte, error)
}

// Session is a Surface bound to a freshly opened browser session.
type Session interface {
	Surface
	Close() error
}

// SessionFactory opens a session positioned on the manager grid.
type SessionFactory interface {
	Open(ctx context.Context) (Session, error)
}
