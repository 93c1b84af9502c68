// Package ingest persists manager units for a reporting period.
package ingest

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/djesaja/backstage-ingest/internal/identity"
	"github.com/djesaja/backstage-ingest/internal/metrics"
	"github.com/djesaja/backstage-ingest/internal/model"
	"github.com/djesaja/backstage-ingest/internal/parse"
	"github.com/djesaja/backstage-ingest/internal/store"
)

// DefaultBatchSize is the number of creators committed per transaction.
const DefaultBatchSize = 10

// missingID is the placeholder the profile payload uses for an absent id.
const missingID = "N/A"

// Ingester consumes one manager unit for a period.
type Ingester interface {
	Ingest(ctx context.Context, unit model.ManagerUnit, period string) (Stats, error)
}

// Stats summarizes one Ingest call.
type Stats struct {
	Creators int `json:"creators"`
	Skipped  int `json:"skipped"`
	Batches  int `json:"batches"`
	// ManagerSkipped is set when the manager could not be identified and
	// nothing was written.
	ManagerSkipped bool `json:"manager_skipped,omitempty"`
}

// Sink upserts manager units. It is safe for concurrent use; units for the
// same period are serialized.
type Sink struct {
	store     store.Store
	resolver  *identity.Resolver
	batchSize int
	metrics   *metrics.Metrics
	locks     *periodLocks
	log       *zap.Logger
}

// NewSink returns a Sink writing to st. batchSize <= 0 selects DefaultBatchSize.
func NewSink(st store.Store, batchSize int, m *metrics.Metrics) *Sink {
	if batchSize <= 0 {
		batchSize = DefaultBatchSize
	}
	return &Sink{
		store:     st,
		resolver:  identity.NewResolver(),
		batchSize: batchSize,
		metrics:   m,
		locks:     newPeriodLocks(),
		log:       zap.L().With(zap.String("component", "ingest")),
	}
}

// Ingest resolves the unit's manager, upserts its record for period, then
// upserts creators in batches. Each batch commits on its own; on a batch
// failure earlier batches stay committed and the error is returned. A
// manager whose identity cannot be resolved is skipped without error.
func (s *Sink) Ingest(ctx context.Context, unit model.ManagerUnit, period string) (Stats, error) {
	unlock := s.locks.lock(period)
	defer unlock()

	log := s.log.With(zap.String("period", period), zap.String("manager", unit.Name()))

	var (
		periodID  int64
		managerID int64
	)
	err := s.store.InTx(ctx, func(tx store.Tx) error {
		p, err := tx.GetOrCreatePeriod(ctx, period)
		if err != nil {
			return err
		}
		periodID = p.ID

		uid, email := unit.ManagerIdentity()
		actor, _, err := s.resolver.Resolve(ctx, tx, identity.Claim{
			UID:      uid,
			Username: unit.Name(),
			Role:     model.RoleManager,
			Name:     unit.Name(),
			Email:    email,
		})
		if err != nil {
			return err
		}

		rec := managerRecord(unit, uid, actor.ID, p.ID)
		if err := tx.UpsertManager(ctx, rec); err != nil {
			return err
		}
		managerID = rec.ID
		return nil
	})
	if errors.Is(err, identity.ErrUnresolvable) {
		log.Warn("skipping manager without uid or name")
		return Stats{ManagerSkipped: true}, nil
	}
	if err != nil {
		return Stats{}, eris.Wrapf(err, "ingest: manager %q", unit.Name())
	}

	var stats Stats
	for start := 0; start < len(unit.Creators); start += s.batchSize {
		end := min(start+s.batchSize, len(unit.Creators))
		batch := unit.Creators[start:end]

		began := time.Now()
		var saved, skipped int
		err := s.store.InTx(ctx, func(tx store.Tx) error {
			saved, skipped = 0, 0
			for _, c := range batch {
				ok, err := s.ingestCreator(ctx, tx, c, periodID, managerID)
				if err != nil {
					return err
				}
				if ok {
					saved++
				} else {
					skipped++
				}
			}
			return nil
		})
		s.metrics.BatchDuration(time.Since(began))
		if err != nil {
			return stats, eris.Wrapf(err, "ingest: creators %d-%d of %q", start+1, end, unit.Name())
		}

		stats.Batches++
		stats.Creators += saved
		stats.Skipped += skipped
		log.Debug("saved creator batch",
			zap.Int("from", start+1),
			zap.Int("to", end),
			zap.Int("saved", saved),
		)
	}

	log.Info("ingested manager",
		zap.Int("creators", stats.Creators),
		zap.Int("skipped", stats.Skipped),
	)
	return stats, nil
}

// ingestCreator upserts one creator entry. It reports false for entries
// skipped for a missing name or external id.
func (s *Sink) ingestCreator(ctx context.Context, tx store.Tx, c model.CreatorEntry, periodID, managerID int64) (bool, error) {
	name := c.Name()
	uid := c.Enrichment.CreatorID
	if name == "" || uid == "" || uid == missingID {
		s.log.Warn("skipping creator without name or id",
			zap.String("creator", name),
			zap.String("creator_id", uid),
		)
		s.metrics.SkippedCreator()
		return false, nil
	}

	actor, _, err := s.resolver.Resolve(ctx, tx, identity.Claim{
		UID:      uid,
		Username: name,
		Role:     model.RoleCreator,
		Name:     c.Enrichment.Nickname,
	})
	if errors.Is(err, identity.ErrUnresolvable) {
		s.metrics.SkippedCreator()
		return false, nil
	}
	if err != nil {
		return false, err
	}

	rec := &model.CreatorRecord{
		CreatorUID:        uid,
		PeriodID:          periodID,
		ActorID:           actor.ID,
		ManagerID:         managerID,
		GroupName:         c.Enrichment.GroupName,
		BonusContribution: parse.Money(c.Fields[model.FieldBonus]),
		Milestones:        parse.Milestones(c.Fields[model.FieldMilestones]),
		Diamonds:          parse.Diamonds(c.Fields[model.FieldDiamonds]),
		ValidLiveDays:     parse.Days(c.Fields[model.FieldValidDays]),
		LiveDuration:      parse.Duration(c.Fields[model.FieldLiveDuration]),
	}
	if err := tx.UpsertCreator(ctx, rec); err != nil {
		return false, err
	}
	return true, nil
}

func managerRecord(unit model.ManagerUnit, uid string, actorID, periodID int64) *model.ManagerRecord {
	f := unit.Fields
	return &model.ManagerRecord{
		ActorID:           actorID,
		PeriodID:          periodID,
		ManagerUID:        uid,
		EligibleCreators:  parse.Int(f[model.FieldEligibleCreators]),
		BonusContribution: parse.Money(f[model.FieldBonus]),
		Diamonds:          parse.Diamonds(f[model.FieldDiamonds]),
		M05:               parse.Int(f[model.FieldM05]),
		M1:                parse.Int(f[model.FieldM1]),
		M2:                parse.Int(f[model.FieldM2]),
		M1R:               parse.Int(f[model.FieldM1R]),
	}
}

// periodLocks hands out one mutex per period code.
type periodLocks struct {
	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

func newPeriodLocks() *periodLocks {
	return &periodLocks{locks: make(map[string]*sync.Mutex)}
}

func (p *periodLocks) lock(period string) (unlock func()) {
	p.mu.Lock()
	l, ok := p.locks[period]
	if !ok {
		l = &sync.Mutex{}
		p.locks[period] = l
	}
	p.mu.Unlock()

	l.Lock()
	return l.Unlock
}
