// Package store persists periods, actors, per-period manager and creator
// records, ingest runs and the dead letter queue.
package store

import (
	"context"
	"time"

	"github.com/rotisserie/eris"

	"github.com/djesaja/backstage-ingest/internal/model"
	"github.com/djesaja/backstage-ingest/internal/resilience"
)

// ErrNotFound is returned by single-row lookups that match nothing.
var ErrNotFound = eris.New("store: not found")

// RunFilter specifies criteria for listing runs.
type RunFilter struct {
	Period string          `json:"period,omitempty"`
	Status model.RunStatus `json:"status,omitempty"`
	Limit  int             `json:"limit,omitempty"`
}

// Tx is the unit of atomic work. Everything done through one Tx commits or
// rolls back together.
type Tx interface {
	GetOrCreatePeriod(ctx context.Context, code string) (*model.Period, error)

	ActorByUID(ctx context.Context, uid string) (*model.Actor, error)
	ActorByUsername(ctx context.Context, username string) (*model.Actor, error)
	UsernameTaken(ctx context.Context, username string, excludeID int64) (bool, error)
	EmailTaken(ctx context.Context, email string, excludeID int64) (bool, error)
	CreateActor(ctx context.Context, a *model.Actor) error
	UpdateActor(ctx context.Context, a *model.Actor) error

	UpsertManager(ctx context.Context, r *model.ManagerRecord) error
	UpsertCreator(ctx context.Context, r *model.CreatorRecord) error
}

// Store defines the persistence interface for the ingestion pipeline.
type Store interface {
	// InTx runs fn in a transaction, committing when fn returns nil.
	InTx(ctx context.Context, fn func(tx Tx) error) error

	// Reads
	GetPeriod(ctx context.Context, code string) (*model.Period, error)
	GetActor(ctx context.Context, id int64) (*model.Actor, error)
	ListActors(ctx context.Context) ([]model.Actor, error)
	ListManagerRecords(ctx context.Context, periodID int64) ([]model.ManagerRecord, error)
	ListCreatorRecords(ctx context.Context, periodID int64) ([]model.CreatorRecord, error)

	// Runs
	CreateRun(ctx context.Context, period string) (*model.Run, error)
	FinishRun(ctx context.Context, runID string, status model.RunStatus, result model.RunResult) error
	ActiveRun(ctx context.Context, period string, since time.Time) (*model.Run, error)
	ListRuns(ctx context.Context, filter RunFilter) ([]model.Run, error)

	// Dead letter queue
	EnqueueDLQ(ctx context.Context, entry resilience.DLQEntry) error
	DequeueDLQ(ctx context.Context, filter resilience.DLQFilter) ([]resilience.DLQEntry, error)
	ListDLQ(ctx context.Context, filter resilience.DLQFilter) ([]resilience.DLQEntry, error)
	IncrementDLQRetry(ctx context.Context, id string, nextRetryAt time.Time, lastErr string) error
	RemoveDLQ(ctx context.Context, id string) error

	// Lifecycle
	Migrate(ctx context.Context) error
	Close() error
}

func limitOrDefault(n int) int {
	if n <= 0 {
		return 100
	}
	return n
}
