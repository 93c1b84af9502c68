package store

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/djesaja/backstage-ingest/internal/model"
)

func newTestSQLite(t *testing.T) Store {
	t.Helper()
	dbPath := filepath.Join(t.TempDir(), "test.db")
	s, err := NewSQLite(dbPath)
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() }) //nolint:errcheck
	require.NoError(t, s.Migrate(context.Background()))
	return s
}

func storeTestSuite(t *testing.T, newStore func(t *testing.T) Store) {
	t.Run("GetOrCreatePeriod", func(t *testing.T) {
		s := newStore(t)
		ctx := context.Background()

		var first, second *model.Period
		require.NoError(t, s.InTx(ctx, func(tx Tx) error {
			var err error
			first, err = tx.GetOrCreatePeriod(ctx, "202601")
			return err
		}))
		require.NoError(t, s.InTx(ctx, func(tx Tx) error {
			var err error
			second, err = tx.GetOrCreatePeriod(ctx, "202601")
			return err
		}))

		assert.Equal(t, first.ID, second.ID)
		assert.Equal(t, 2026, second.Year)
		assert.Equal(t, 1, second.Month)

		got, err := s.GetPeriod(ctx, "202601")
		require.NoError(t, err)
		assert.Equal(t, first.ID, got.ID)
	})

	t.Run("GetOrCreatePeriodRejectsBadCode", func(t *testing.T) {
		s := newStore(t)
		ctx := context.Background()

		err := s.InTx(ctx, func(tx Tx) error {
			_, err := tx.GetOrCreatePeriod(ctx, "2026-1")
			return err
		})
		require.Error(t, err)
	})

	t.Run("GetPeriodNotFound", func(t *testing.T) {
		s := newStore(t)
		_, err := s.GetPeriod(context.Background(), "199901")
		assert.ErrorIs(t, err, ErrNotFound)
	})

	t.Run("ActorLifecycle", func(t *testing.T) {
		s := newStore(t)
		ctx := context.Background()

		a := &model.Actor{Username: "alice", Role: model.RoleCreator, Password: "x"}
		require.NoError(t, s.InTx(ctx, func(tx Tx) error { return tx.CreateActor(ctx, a) }))
		require.NotZero(t, a.ID)

		require.NoError(t, s.InTx(ctx, func(tx Tx) error {
			_, err := tx.ActorByUID(ctx, "U1")
			assert.ErrorIs(t, err, ErrNotFound)

			got, err := tx.ActorByUsername(ctx, "alice")
			require.NoError(t, err)
			assert.Equal(t, a.ID, got.ID)
			assert.Empty(t, got.UID)

			got.UID = "U1"
			got.Email = "alice@example.com"
			got.EmailVerified = true
			return tx.UpdateActor(ctx, got)
		}))

		got, err := s.GetActor(ctx, a.ID)
		require.NoError(t, err)
		assert.Equal(t, "U1", got.UID)
		assert.Equal(t, "alice@example.com", got.Email)
		assert.True(t, got.EmailVerified)
		assert.Equal(t, model.RoleCreator, got.Role)
	})

	t.Run("ActorsWithoutUIDOrEmailCoexist", func(t *testing.T) {
		s := newStore(t)
		ctx := context.Background()

		require.NoError(t, s.InTx(ctx, func(tx Tx) error {
			if err := tx.CreateActor(ctx, &model.Actor{Username: "a", Role: model.RoleCreator}); err != nil {
				return err
			}
			return tx.CreateActor(ctx, &model.Actor{Username: "b", Role: model.RoleCreator})
		}))

		actors, err := s.ListActors(ctx)
		require.NoError(t, err)
		assert.Len(t, actors, 2)
	})

	t.Run("UsernameAndEmailTaken", func(t *testing.T) {
		s := newStore(t)
		ctx := context.Background()

		a := &model.Actor{Username: "bob", Email: "bob@example.com", Role: model.RoleManager}
		require.NoError(t, s.InTx(ctx, func(tx Tx) error { return tx.CreateActor(ctx, a) }))

		require.NoError(t, s.InTx(ctx, func(tx Tx) error {
			taken, err := tx.UsernameTaken(ctx, "bob", 0)
			require.NoError(t, err)
			assert.True(t, taken)

			taken, err = tx.UsernameTaken(ctx, "bob", a.ID)
			require.NoError(t, err)
			assert.False(t, taken)

			taken, err = tx.EmailTaken(ctx, "bob@example.com", 0)
			require.NoError(t, err)
			assert.True(t, taken)

			taken, err = tx.EmailTaken(ctx, "nobody@example.com", 0)
			require.NoError(t, err)
			assert.False(t, taken)
			return nil
		}))
	})

	t.Run("UpsertRecordsIsIdempotent", func(t *testing.T) {
		s := newStore(t)
		ctx := context.Background()

		upsert := func(diamonds int) (managerID, creatorID int64) {
			require.NoError(t, s.InTx(ctx, func(tx Tx) error {
				p, err := tx.GetOrCreatePeriod(ctx, "202602")
				if err != nil {
					return err
				}
				mgr, err := tx.ActorByUsername(ctx, "mgr")
				if err != nil {
					mgr = &model.Actor{Username: "mgr", Role: model.RoleManager}
					if err := tx.CreateActor(ctx, mgr); err != nil {
						return err
					}
				}
				mr := &model.ManagerRecord{ActorID: mgr.ID, PeriodID: p.ID, Diamonds: diamonds}
				if err := tx.UpsertManager(ctx, mr); err != nil {
					return err
				}
				cr := &model.CreatorRecord{
					CreatorUID: "C1", PeriodID: p.ID, ActorID: mgr.ID, ManagerID: mr.ID,
					Diamonds: diamonds, Milestones: []string{"Tier 1"},
				}
				if err := tx.UpsertCreator(ctx, cr); err != nil {
					return err
				}
				managerID, creatorID = mr.ID, cr.ID
				return nil
			}))
			return managerID, creatorID
		}

		m1, c1 := upsert(10)
		m2, c2 := upsert(20)
		assert.Equal(t, m1, m2)
		assert.Equal(t, c1, c2)

		p, err := s.GetPeriod(ctx, "202602")
		require.NoError(t, err)

		mgrs, err := s.ListManagerRecords(ctx, p.ID)
		require.NoError(t, err)
		require.Len(t, mgrs, 1)
		assert.Equal(t, 20, mgrs[0].Diamonds)

		creators, err := s.ListCreatorRecords(ctx, p.ID)
		require.NoError(t, err)
		require.Len(t, creators, 1)
		assert.Equal(t, 20, creators[0].Diamonds)
		assert.Equal(t, []string{"Tier 1"}, creators[0].Milestones)
	})

	t.Run("InTxRollsBack", func(t *testing.T) {
		s := newStore(t)
		ctx := context.Background()

		err := s.InTx(ctx, func(tx Tx) error {
			if err := tx.CreateActor(ctx, &model.Actor{Username: "ghost", Role: model.RoleCreator}); err != nil {
				return err
			}
			return assert.AnError
		})
		require.ErrorIs(t, err, assert.AnError)

		actors, err := s.ListActors(ctx)
		require.NoError(t, err)
		assert.Empty(t, actors)
	})

	t.Run("RunLifecycle", func(t *testing.T) {
		s := newStore(t)
		ctx := context.Background()

		run, err := s.CreateRun(ctx, "202603")
		require.NoError(t, err)
		assert.Equal(t, model.RunStatusRunning, run.Status)

		active, err := s.ActiveRun(ctx, "202603", time.Now().Add(-time.Hour))
		require.NoError(t, err)
		require.NotNil(t, active)
		assert.Equal(t, run.ID, active.ID)

		stale, err := s.ActiveRun(ctx, "202603", time.Now().Add(time.Hour))
		require.NoError(t, err)
		assert.Nil(t, stale)

		require.NoError(t, s.FinishRun(ctx, run.ID, model.RunStatusComplete,
			model.RunResult{Attempts: 2, Managers: 3, Creators: 7}))

		active, err = s.ActiveRun(ctx, "202603", time.Now().Add(-time.Hour))
		require.NoError(t, err)
		assert.Nil(t, active)

		runs, err := s.ListRuns(ctx, RunFilter{Period: "202603"})
		require.NoError(t, err)
		require.Len(t, runs, 1)
		assert.Equal(t, model.RunStatusComplete, runs[0].Status)
		assert.Equal(t, 2, runs[0].Attempts)
		assert.Equal(t, 7, runs[0].Creators)
		assert.NotNil(t, runs[0].FinishedAt)
	})

	t.Run("FinishRunNotFound", func(t *testing.T) {
		s := newStore(t)
		err := s.FinishRun(context.Background(), "missing", model.RunStatusFailed, model.RunResult{})
		require.Error(t, err)
		assert.Contains(t, err.Error(), "run not found")
	})
}

func TestSQLiteStore(t *testing.T) {
	storeTestSuite(t, newTestSQLite)
}
