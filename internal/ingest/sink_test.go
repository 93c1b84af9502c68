package ingest

import (
	"context"
	"fmt"
	"path/filepath"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/djesaja/backstage-ingest/internal/model"
	"github.com/djesaja/backstage-ingest/internal/store"
)

const testPeriod = "202601"

func newTestStore(t *testing.T) store.Store {
	t.Helper()
	st, err := store.NewSQLite(filepath.Join(t.TempDir(), "ingest.db"))
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() }) //nolint:errcheck
	require.NoError(t, st.Migrate(context.Background()))
	return st
}

func creator(name, id, managerID string) model.CreatorEntry {
	return model.CreatorEntry{
		Fields: map[string]string{
			model.FieldName:         name,
			model.FieldBonus:        "$1,234.50 bonus",
			model.FieldDiamonds:     "12,345 💎",
			model.FieldMilestones:   "Tier 1\nTier 2",
			model.FieldValidDays:    "12 days",
			model.FieldLiveDuration: "33.5h",
		},
		Enrichment: model.Enrichment{
			OK:        id != "",
			CreatorID: id,
			Nickname:  name + " Nick",
			ManagerID: managerID,
			GroupName: "Group A",
		},
	}
}

func unit(name, eligible string, creators ...model.CreatorEntry) model.ManagerUnit {
	return model.ManagerUnit{
		Fields: map[string]string{
			model.FieldName:             name,
			model.FieldEligibleCreators: eligible,
			model.FieldBonus:            "$99.00",
			model.FieldDiamonds:         "1,000",
			model.FieldM05:              "1",
			model.FieldM1:               "2",
			model.FieldM2:               "-",
			model.FieldM1R:              "",
		},
		Creators: creators,
	}
}

func records(t *testing.T, st store.Store) ([]model.ManagerRecord, []model.CreatorRecord) {
	t.Helper()
	ctx := context.Background()
	p, err := st.GetPeriod(ctx, testPeriod)
	require.NoError(t, err)
	mgrs, err := st.ListManagerRecords(ctx, p.ID)
	require.NoError(t, err)
	creators, err := st.ListCreatorRecords(ctx, p.ID)
	require.NoError(t, err)
	return mgrs, creators
}

func TestSink_IngestParsesFields(t *testing.T) {
	st := newTestStore(t)
	s := NewSink(st, 10, nil)

	stats, err := s.Ingest(context.Background(), unit("Agency One", "1", creator("alice", "C1", "M1")), testPeriod)
	require.NoError(t, err)
	assert.Equal(t, Stats{Creators: 1, Batches: 1}, stats)

	mgrs, creators := records(t, st)
	require.Len(t, mgrs, 1)
	assert.Equal(t, "M1", mgrs[0].ManagerUID)
	assert.Equal(t, 1, mgrs[0].EligibleCreators)
	assert.Equal(t, 99.0, mgrs[0].BonusContribution)
	assert.Equal(t, 1000, mgrs[0].Diamonds)
	assert.Equal(t, 1, mgrs[0].M05)
	assert.Equal(t, 2, mgrs[0].M1)
	assert.Equal(t, 0, mgrs[0].M2)

	require.Len(t, creators, 1)
	c := creators[0]
	assert.Equal(t, "C1", c.CreatorUID)
	assert.Equal(t, mgrs[0].ID, c.ManagerID)
	assert.Equal(t, 1234.5, c.BonusContribution)
	assert.Equal(t, 12345, c.Diamonds)
	assert.Equal(t, []string{"Tier 1", "Tier 2"}, c.Milestones)
	assert.Equal(t, 12, c.ValidLiveDays)
	assert.Equal(t, 33.5, c.LiveDuration)
	assert.Equal(t, "Group A", c.GroupName)

	mgrActor, err := st.GetActor(context.Background(), mgrs[0].ActorID)
	require.NoError(t, err)
	assert.Equal(t, model.RoleManager, mgrActor.Role)
	assert.Equal(t, "M1", mgrActor.UID)
}

func TestSink_Idempotent(t *testing.T) {
	st := newTestStore(t)
	s := NewSink(st, 10, nil)
	u := unit("Agency One", "2", creator("alice", "C1", "M1"), creator("bob", "C2", "M1"))

	for range 2 {
		_, err := s.Ingest(context.Background(), u, testPeriod)
		require.NoError(t, err)
	}

	mgrs, creators := records(t, st)
	assert.Len(t, mgrs, 1)
	assert.Len(t, creators, 2)

	actors, err := st.ListActors(context.Background())
	require.NoError(t, err)
	assert.Len(t, actors, 3)
}

func TestSink_ZeroEligibleHasNoCreators(t *testing.T) {
	st := newTestStore(t)
	s := NewSink(st, 10, nil)

	stats, err := s.Ingest(context.Background(), unit("Quiet Agency", "0"), testPeriod)
	require.NoError(t, err)
	assert.Equal(t, Stats{}, stats)

	mgrs, creators := records(t, st)
	require.Len(t, mgrs, 1)
	assert.Equal(t, 0, mgrs[0].EligibleCreators)
	assert.Empty(t, creators)
}

func TestSink_ManagerReassignment(t *testing.T) {
	st := newTestStore(t)
	s := NewSink(st, 10, nil)
	ctx := context.Background()

	_, err := s.Ingest(ctx, unit("Manager A", "1", creator("alice", "C1", "MA")), testPeriod)
	require.NoError(t, err)
	_, err = s.Ingest(ctx, unit("Manager B", "1", creator("alice", "C1", "MB")), testPeriod)
	require.NoError(t, err)

	mgrs, creators := records(t, st)
	require.Len(t, mgrs, 2)
	require.Len(t, creators, 1)

	var managerB model.ManagerRecord
	for _, m := range mgrs {
		if m.ManagerUID == "MB" {
			managerB = m
		}
	}
	assert.Equal(t, managerB.ID, creators[0].ManagerID)
}

func TestSink_SkipsCreatorsWithoutNameOrID(t *testing.T) {
	st := newTestStore(t)
	s := NewSink(st, 10, nil)

	u := unit("Agency", "4",
		creator("alice", "C1", "M1"),
		creator("noid", "", "M1"),
		creator("placeholder", "N/A", "M1"),
		creator("", "C4", "M1"),
	)
	stats, err := s.Ingest(context.Background(), u, testPeriod)
	require.NoError(t, err)
	assert.Equal(t, 1, stats.Creators)
	assert.Equal(t, 3, stats.Skipped)

	_, creators := records(t, st)
	require.Len(t, creators, 1)
	assert.Equal(t, "C1", creators[0].CreatorUID)
}

func TestSink_Batches(t *testing.T) {
	st := newTestStore(t)
	s := NewSink(st, 10, nil)

	var cs []model.CreatorEntry
	for i := range 25 {
		cs = append(cs, creator(fmt.Sprintf("c%d", i), fmt.Sprintf("C%d", i), "M1"))
	}
	stats, err := s.Ingest(context.Background(), unit("Big Agency", "25", cs...), testPeriod)
	require.NoError(t, err)
	assert.Equal(t, 3, stats.Batches)
	assert.Equal(t, 25, stats.Creators)
}

func TestSink_UnresolvableManagerSkipped(t *testing.T) {
	st := newTestStore(t)
	s := NewSink(st, 10, nil)

	u := unit("", "1", creator("alice", "C1", ""))
	stats, err := s.Ingest(context.Background(), u, testPeriod)
	require.NoError(t, err)
	assert.Equal(t, Stats{ManagerSkipped: true}, stats)

	actors, err := st.ListActors(context.Background())
	require.NoError(t, err)
	assert.Empty(t, actors)
}

func TestSink_RejectsBadPeriod(t *testing.T) {
	st := newTestStore(t)
	s := NewSink(st, 10, nil)

	_, err := s.Ingest(context.Background(), unit("Agency", "0"), "2026")
	require.Error(t, err)
}

// failingStore fails UpsertCreator for one creator uid.
type failingStore struct {
	store.Store
	failUID string
}

func (f *failingStore) InTx(ctx context.Context, fn func(tx store.Tx) error) error {
	return f.Store.InTx(ctx, func(tx store.Tx) error {
		return fn(&failingTx{Tx: tx, failUID: f.failUID})
	})
}

type failingTx struct {
	store.Tx
	failUID string
}

func (f *failingTx) UpsertCreator(ctx context.Context, r *model.CreatorRecord) error {
	if r.CreatorUID == f.failUID {
		return assert.AnError
	}
	return f.Tx.UpsertCreator(ctx, r)
}

func TestSink_FailedBatchKeepsEarlierBatches(t *testing.T) {
	st := newTestStore(t)
	s := NewSink(&failingStore{Store: st, failUID: "C3"}, 2, nil)

	u := unit("Agency", "4",
		creator("a", "C1", "M1"),
		creator("b", "C2", "M1"),
		creator("c", "C3", "M1"),
		creator("d", "C4", "M1"),
	)
	stats, err := s.Ingest(context.Background(), u, testPeriod)
	require.ErrorIs(t, err, assert.AnError)
	assert.Equal(t, 1, stats.Batches)
	assert.Equal(t, 2, stats.Creators)

	mgrs, creators := records(t, st)
	assert.Len(t, mgrs, 1)
	require.Len(t, creators, 2)
	assert.Equal(t, "C1", creators[0].CreatorUID)
	assert.Equal(t, "C2", creators[1].CreatorUID)
}

func TestSink_ConcurrentSamePeriod(t *testing.T) {
	st := newTestStore(t)
	s := NewSink(st, 10, nil)
	u := unit("Agency", "1", creator("alice", "C1", "M1"))

	var wg sync.WaitGroup
	errs := make([]error, 4)
	for i := range errs {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, errs[i] = s.Ingest(context.Background(), u, testPeriod)
		}(i)
	}
	wg.Wait()

	for _, err := range errs {
		require.NoError(t, err)
	}
	mgrs, creators := records(t, st)
	assert.Len(t, mgrs, 1)
	assert.Len(t, creators, 1)
}

func TestPeriodLocks_SamePeriodSharesMutex(t *testing.T) {
	l := newPeriodLocks()
	unlock := l.lock("202601")

	acquired := make(chan struct{})
	go func() {
		u := l.lock("202601")
		close(acquired)
		u()
	}()

	other := l.lock("202602")
	other()

	select {
	case <-acquired:
		t.Fatal("second lock on same period acquired while held")
	default:
	}
	unlock()
	<-acquired
}
