package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/djesaja/backstage-ingest/internal/db"
	"github.com/djesaja/backstage-ingest/internal/model"
	"github.com/djesaja/backstage-ingest/internal/resilience"
)

// PostgresStore implements Store using pgxpool.
type PostgresStore struct {
	pool    db.Pool
	closeFn func()
}

// PoolConfig holds optional connection pool tuning parameters.
type PoolConfig struct {
	MaxConns int32 `yaml:"max_conns" mapstructure:"max_conns"`
	MinConns int32 `yaml:"min_conns" mapstructure:"min_conns"`
}

// NewPostgres creates a PostgresStore with a connection pool.
func NewPostgres(ctx context.Context, connString string, poolCfg *PoolConfig) (*PostgresStore, error) {
	pgxCfg, err := pgxpool.ParseConfig(connString)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: parse config")
	}

	maxConns := int32(4)
	minConns := int32(1)
	if poolCfg != nil {
		if poolCfg.MaxConns > 0 {
			maxConns = poolCfg.MaxConns
		}
		if poolCfg.MinConns > 0 {
			minConns = poolCfg.MinConns
		}
	}
	pgxCfg.MaxConns = maxConns
	pgxCfg.MinConns = minConns
	pgxCfg.MaxConnLifetime = 30 * time.Minute
	pgxCfg.MaxConnIdleTime = 5 * time.Minute

	pool, err := pgxpool.NewWithConfig(ctx, pgxCfg)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: create pool")
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, eris.Wrap(err, "postgres: ping")
	}
	return &PostgresStore{pool: pool, closeFn: pool.Close}, nil
}

const postgresMigration = `
CREATE TABLE IF NOT EXISTS periods (
	id         BIGINT GENERATED ALWAYS AS IDENTITY PRIMARY KEY,
	code       TEXT NOT NULL UNIQUE,
	year       INTEGER NOT NULL,
	month      INTEGER NOT NULL,
	created_at TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE TABLE IF NOT EXISTS actors (
	id             BIGINT GENERATED ALWAYS AS IDENTITY PRIMARY KEY,
	uid            TEXT UNIQUE,
	username       TEXT NOT NULL UNIQUE,
	name           TEXT,
	email          TEXT UNIQUE,
	email_verified BOOLEAN NOT NULL DEFAULT false,
	role           TEXT NOT NULL,
	password       TEXT NOT NULL,
	created_at     TIMESTAMPTZ NOT NULL DEFAULT now(),
	updated_at     TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE TABLE IF NOT EXISTS manager_records (
	id                           BIGINT GENERATED ALWAYS AS IDENTITY PRIMARY KEY,
	actor_id                     BIGINT NOT NULL REFERENCES actors(id),
	period_id                    BIGINT NOT NULL REFERENCES periods(id),
	manager_uid                  TEXT NOT NULL DEFAULT '',
	eligible_creators            INTEGER NOT NULL DEFAULT 0,
	estimated_bonus_contribution DOUBLE PRECISION NOT NULL DEFAULT 0,
	diamonds                     INTEGER NOT NULL DEFAULT 0,
	m0_5                         INTEGER NOT NULL DEFAULT 0,
	m1                           INTEGER NOT NULL DEFAULT 0,
	m2                           INTEGER NOT NULL DEFAULT 0,
	m1r                          INTEGER NOT NULL DEFAULT 0,
	created_at                   TIMESTAMPTZ NOT NULL DEFAULT now(),
	updated_at                   TIMESTAMPTZ NOT NULL DEFAULT now(),
	UNIQUE (actor_id, period_id)
);

CREATE TABLE IF NOT EXISTS creator_records (
	id                           BIGINT GENERATED ALWAYS AS IDENTITY PRIMARY KEY,
	creator_uid                  TEXT NOT NULL,
	period_id                    BIGINT NOT NULL REFERENCES periods(id),
	actor_id                     BIGINT NOT NULL REFERENCES actors(id),
	manager_id                   BIGINT NOT NULL REFERENCES manager_records(id) ON DELETE CASCADE,
	group_name                   TEXT NOT NULL DEFAULT '',
	estimated_bonus_contribution DOUBLE PRECISION NOT NULL DEFAULT 0,
	achieved_milestones          JSONB NOT NULL DEFAULT '[]',
	diamonds                     INTEGER NOT NULL DEFAULT 0,
	valid_go_live_days           INTEGER NOT NULL DEFAULT 0,
	live_duration                DOUBLE PRECISION NOT NULL DEFAULT 0,
	created_at                   TIMESTAMPTZ NOT NULL DEFAULT now(),
	updated_at                   TIMESTAMPTZ NOT NULL DEFAULT now(),
	UNIQUE (creator_uid, period_id)
);

CREATE TABLE IF NOT EXISTS ingest_runs (
	id          TEXT PRIMARY KEY,
	period      TEXT NOT NULL,
	status      TEXT NOT NULL,
	attempts    INTEGER NOT NULL DEFAULT 0,
	managers    INTEGER NOT NULL DEFAULT 0,
	creators    INTEGER NOT NULL DEFAULT 0,
	error       TEXT NOT NULL DEFAULT '',
	started_at  TIMESTAMPTZ NOT NULL DEFAULT now(),
	finished_at TIMESTAMPTZ
);

CREATE TABLE IF NOT EXISTS dead_letter_queue (
	id             TEXT PRIMARY KEY DEFAULT gen_random_uuid()::text,
	period         TEXT NOT NULL,
	unit           JSONB NOT NULL,
	error          TEXT NOT NULL,
	error_type     TEXT NOT NULL DEFAULT 'transient',
	retry_count    INTEGER NOT NULL DEFAULT 0,
	max_retries    INTEGER NOT NULL DEFAULT 3,
	next_retry_at  TIMESTAMPTZ NOT NULL,
	created_at     TIMESTAMPTZ NOT NULL DEFAULT now(),
	last_failed_at TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE INDEX IF NOT EXISTS idx_creator_records_manager ON creator_records(manager_id);
CREATE INDEX IF NOT EXISTS idx_ingest_runs_period ON ingest_runs(period, status);
CREATE INDEX IF NOT EXISTS idx_dlq_next_retry ON dead_letter_queue(next_retry_at);
`

func (s *PostgresStore) Migrate(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, postgresMigration)
	return eris.Wrap(err, "postgres: migrate")
}

func (s *PostgresStore) Close() error {
	if s.closeFn != nil {
		s.closeFn()
	}
	return nil
}

func (s *PostgresStore) InTx(ctx context.Context, fn func(tx Tx) error) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return eris.Wrap(err, "postgres: begin tx")
	}
	if err := fn(&pgTx{tx: tx}); err != nil {
		if rbErr := tx.Rollback(ctx); rbErr != nil {
			zap.L().Warn("postgres: rollback failed", zap.Error(rbErr))
		}
		return err
	}
	return eris.Wrap(tx.Commit(ctx), "postgres: commit tx")
}

// querier is the read surface shared by the pool and a transaction.
type querier interface {
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// --- Reads ---

const pgActorCols = `id, COALESCE(uid, ''), username, COALESCE(name, ''), COALESCE(email, ''),
	email_verified, role, password, created_at, updated_at`

const pgManagerCols = `id, actor_id, period_id, manager_uid, eligible_creators,
	estimated_bonus_contribution, diamonds, m0_5, m1, m2, m1r, created_at, updated_at`

const pgCreatorCols = `id, creator_uid, period_id, actor_id, manager_id, group_name,
	estimated_bonus_contribution, achieved_milestones, diamonds, valid_go_live_days,
	live_duration, created_at, updated_at`

const pgRunCols = `id, period, status, attempts, managers, creators, error, started_at, finished_at`

const pgDLQCols = `id, period, unit, error, error_type, retry_count, max_retries,
	next_retry_at, created_at, last_failed_at`

func (s *PostgresStore) GetPeriod(ctx context.Context, code string) (*model.Period, error) {
	return getPgPeriod(ctx, s.pool, code)
}

func (s *PostgresStore) GetActor(ctx context.Context, id int64) (*model.Actor, error) {
	return getPgActor(ctx, s.pool, `SELECT `+pgActorCols+` FROM actors WHERE id = $1`, id)
}

func (s *PostgresStore) ListActors(ctx context.Context) ([]model.Actor, error) {
	rows, err := s.pool.Query(ctx, `SELECT `+pgActorCols+` FROM actors ORDER BY id`)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: list actors")
	}
	defer rows.Close()

	var actors []model.Actor
	for rows.Next() {
		a, err := scanPgActor(rows)
		if err != nil {
			return nil, err
		}
		actors = append(actors, *a)
	}
	return actors, eris.Wrap(rows.Err(), "postgres: list actors iterate")
}

func (s *PostgresStore) ListManagerRecords(ctx context.Context, periodID int64) ([]model.ManagerRecord, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT `+pgManagerCols+` FROM manager_records WHERE period_id = $1 ORDER BY id`, periodID)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: list manager records")
	}
	defer rows.Close()

	var recs []model.ManagerRecord
	for rows.Next() {
		var r model.ManagerRecord
		if err := rows.Scan(&r.ID, &r.ActorID, &r.PeriodID, &r.ManagerUID, &r.EligibleCreators,
			&r.BonusContribution, &r.Diamonds, &r.M05, &r.M1, &r.M2, &r.M1R,
			&r.CreatedAt, &r.UpdatedAt); err != nil {
			return nil, eris.Wrap(err, "postgres: scan manager record")
		}
		recs = append(recs, r)
	}
	return recs, eris.Wrap(rows.Err(), "postgres: list manager records iterate")
}

func (s *PostgresStore) ListCreatorRecords(ctx context.Context, periodID int64) ([]model.CreatorRecord, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT `+pgCreatorCols+` FROM creator_records WHERE period_id = $1 ORDER BY id`, periodID)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: list creator records")
	}
	defer rows.Close()

	var recs []model.CreatorRecord
	for rows.Next() {
		var r model.CreatorRecord
		var milestones []byte
		if err := rows.Scan(&r.ID, &r.CreatorUID, &r.PeriodID, &r.ActorID, &r.ManagerID, &r.GroupName,
			&r.BonusContribution, &milestones, &r.Diamonds, &r.ValidLiveDays,
			&r.LiveDuration, &r.CreatedAt, &r.UpdatedAt); err != nil {
			return nil, eris.Wrap(err, "postgres: scan creator record")
		}
		if r.Milestones, err = unmarshalMilestones(milestones); err != nil {
			return nil, err
		}
		recs = append(recs, r)
	}
	return recs, eris.Wrap(rows.Err(), "postgres: list creator records iterate")
}

// --- Runs ---

func (s *PostgresStore) CreateRun(ctx context.Context, period string) (*model.Run, error) {
	run := &model.Run{
		ID:        uuid.New().String(),
		Period:    period,
		Status:    model.RunStatusRunning,
		StartedAt: time.Now().UTC(),
	}
	_, err := s.pool.Exec(ctx,
		`INSERT INTO ingest_runs (id, period, status, started_at) VALUES ($1, $2, $3, $4)`,
		run.ID, run.Period, string(run.Status), run.StartedAt,
	)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: insert run")
	}
	return run, nil
}

func (s *PostgresStore) FinishRun(ctx context.Context, runID string, status model.RunStatus, result model.RunResult) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE ingest_runs SET status = $1, attempts = $2, managers = $3, creators = $4, error = $5, finished_at = $6
		 WHERE id = $7`,
		string(status), result.Attempts, result.Managers, result.Creators, result.Error, time.Now().UTC(), runID,
	)
	if err != nil {
		return eris.Wrapf(err, "postgres: finish run %s", runID)
	}
	if tag.RowsAffected() == 0 {
		return eris.Errorf("run not found: %s", runID)
	}
	return nil
}

func (s *PostgresStore) ActiveRun(ctx context.Context, period string, since time.Time) (*model.Run, error) {
	var r model.Run
	var status string
	err := s.pool.QueryRow(ctx,
		`SELECT `+pgRunCols+` FROM ingest_runs WHERE period = $1 AND status = $2 AND started_at >= $3
		 ORDER BY started_at DESC LIMIT 1`,
		period, string(model.RunStatusRunning), since.UTC(),
	).Scan(&r.ID, &r.Period, &status, &r.Attempts, &r.Managers, &r.Creators, &r.Error, &r.StartedAt, &r.FinishedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, eris.Wrap(err, "postgres: active run")
	}
	r.Status = model.RunStatus(status)
	return &r, nil
}

func (s *PostgresStore) ListRuns(ctx context.Context, filter RunFilter) ([]model.Run, error) {
	query := `SELECT ` + pgRunCols + ` FROM ingest_runs WHERE true`
	args := []any{}
	argIdx := 1

	if filter.Period != "" {
		query += fmt.Sprintf(` AND period = $%d`, argIdx)
		args = append(args, filter.Period)
		argIdx++
	}
	if filter.Status != "" {
		query += fmt.Sprintf(` AND status = $%d`, argIdx)
		args = append(args, string(filter.Status))
		argIdx++
	}
	query += fmt.Sprintf(` ORDER BY started_at DESC LIMIT $%d`, argIdx)
	args = append(args, limitOrDefault(filter.Limit))

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: list runs")
	}
	defer rows.Close()

	var runs []model.Run
	for rows.Next() {
		var r model.Run
		var status string
		if err := rows.Scan(&r.ID, &r.Period, &status, &r.Attempts, &r.Managers, &r.Creators,
			&r.Error, &r.StartedAt, &r.FinishedAt); err != nil {
			return nil, eris.Wrap(err, "postgres: scan run")
		}
		r.Status = model.RunStatus(status)
		runs = append(runs, r)
	}
	return runs, eris.Wrap(rows.Err(), "postgres: list runs iterate")
}

// --- Dead letter queue ---

func (s *PostgresStore) EnqueueDLQ(ctx context.Context, entry resilience.DLQEntry) error {
	unitJSON, err := marshalUnit(entry)
	if err != nil {
		return err
	}
	if entry.ID == "" {
		entry.ID = uuid.New().String()
	}

	_, err = s.pool.Exec(ctx,
		`INSERT INTO dead_letter_queue
		 (id, period, unit, error, error_type, retry_count, max_retries, next_retry_at, created_at, last_failed_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		 ON CONFLICT (id) DO UPDATE SET
		   unit = $3, error = $4, error_type = $5, retry_count = $6,
		   next_retry_at = $8, last_failed_at = $10`,
		entry.ID, entry.Period, unitJSON, entry.Error, entry.ErrorType,
		entry.RetryCount, entry.MaxRetries,
		entry.NextRetryAt, entry.CreatedAt, entry.LastFailedAt,
	)
	return eris.Wrap(err, "postgres: enqueue dlq")
}

// DequeueDLQ returns entries that are due and still have retries left.
func (s *PostgresStore) DequeueDLQ(ctx context.Context, filter resilience.DLQFilter) ([]resilience.DLQEntry, error) {
	return s.selectDLQ(ctx, filter, true)
}

// ListDLQ returns all entries regardless of schedule.
func (s *PostgresStore) ListDLQ(ctx context.Context, filter resilience.DLQFilter) ([]resilience.DLQEntry, error) {
	return s.selectDLQ(ctx, filter, false)
}

func (s *PostgresStore) selectDLQ(ctx context.Context, filter resilience.DLQFilter, dueOnly bool) ([]resilience.DLQEntry, error) {
	query := `SELECT ` + pgDLQCols + ` FROM dead_letter_queue WHERE true`
	args := []any{}
	argIdx := 1

	if dueOnly {
		query += ` AND next_retry_at <= now() AND retry_count < max_retries`
	}
	if filter.Period != "" {
		query += fmt.Sprintf(` AND period = $%d`, argIdx)
		args = append(args, filter.Period)
		argIdx++
	}
	if filter.ErrorType != "" {
		query += fmt.Sprintf(` AND error_type = $%d`, argIdx)
		args = append(args, filter.ErrorType)
		argIdx++
	}
	query += fmt.Sprintf(` ORDER BY next_retry_at ASC LIMIT $%d`, argIdx)
	args = append(args, limitOrDefault(filter.Limit))

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: select dlq")
	}
	defer rows.Close()

	var entries []resilience.DLQEntry
	for rows.Next() {
		var e resilience.DLQEntry
		var unitJSON []byte
		if err := rows.Scan(&e.ID, &e.Period, &unitJSON, &e.Error, &e.ErrorType,
			&e.RetryCount, &e.MaxRetries, &e.NextRetryAt, &e.CreatedAt, &e.LastFailedAt); err != nil {
			return nil, eris.Wrap(err, "postgres: scan dlq entry")
		}
		if err := json.Unmarshal(unitJSON, &e.Unit); err != nil {
			return nil, eris.Wrap(err, "postgres: unmarshal dlq unit")
		}
		entries = append(entries, e)
	}
	return entries, eris.Wrap(rows.Err(), "postgres: select dlq iterate")
}

func (s *PostgresStore) IncrementDLQRetry(ctx context.Context, id string, nextRetryAt time.Time, lastErr string) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE dead_letter_queue
		 SET retry_count = retry_count + 1, next_retry_at = $1, error = $2, last_failed_at = now()
		 WHERE id = $3`,
		nextRetryAt, lastErr, id,
	)
	if err != nil {
		return eris.Wrapf(err, "postgres: increment dlq retry %s", id)
	}
	if tag.RowsAffected() == 0 {
		return eris.Errorf("dlq_entry not found: %s", id)
	}
	return nil
}

func (s *PostgresStore) RemoveDLQ(ctx context.Context, id string) error {
	_, err := s.pool.Exec(ctx, `DELETE FROM dead_letter_queue WHERE id = $1`, id)
	return eris.Wrap(err, "postgres: remove dlq")
}

// --- Transaction ---

type pgTx struct {
	tx pgx.Tx
}

var (
	pgPeriodInsert  = db.MustUpsertSQL(db.Postgres, periodInsert)
	pgManagerUpsert = db.MustUpsertSQL(db.Postgres, managerUpsert)
	pgCreatorUpsert = db.MustUpsertSQL(db.Postgres, creatorUpsert)
)

func (t *pgTx) GetOrCreatePeriod(ctx context.Context, code string) (*model.Period, error) {
	p, err := model.ParsePeriod(code)
	if err != nil {
		return nil, err
	}
	if _, err := t.tx.Exec(ctx, pgPeriodInsert, p.Code, p.Year, p.Month, time.Now().UTC()); err != nil {
		return nil, eris.Wrapf(err, "postgres: insert period %s", code)
	}
	return getPgPeriod(ctx, t.tx, code)
}

func (t *pgTx) ActorByUID(ctx context.Context, uid string) (*model.Actor, error) {
	return getPgActor(ctx, t.tx, `SELECT `+pgActorCols+` FROM actors WHERE uid = $1`, uid)
}

func (t *pgTx) ActorByUsername(ctx context.Context, username string) (*model.Actor, error) {
	return getPgActor(ctx, t.tx, `SELECT `+pgActorCols+` FROM actors WHERE username = $1`, username)
}

func (t *pgTx) UsernameTaken(ctx context.Context, username string, excludeID int64) (bool, error) {
	var taken bool
	err := t.tx.QueryRow(ctx,
		`SELECT EXISTS (SELECT 1 FROM actors WHERE username = $1 AND id <> $2)`, username, excludeID,
	).Scan(&taken)
	return taken, eris.Wrap(err, "postgres: username taken")
}

func (t *pgTx) EmailTaken(ctx context.Context, email string, excludeID int64) (bool, error) {
	var taken bool
	err := t.tx.QueryRow(ctx,
		`SELECT EXISTS (SELECT 1 FROM actors WHERE email = $1 AND id <> $2)`, email, excludeID,
	).Scan(&taken)
	return taken, eris.Wrap(err, "postgres: email taken")
}

func (t *pgTx) CreateActor(ctx context.Context, a *model.Actor) error {
	now := time.Now().UTC()
	a.CreatedAt, a.UpdatedAt = now, now
	err := t.tx.QueryRow(ctx,
		`INSERT INTO actors (uid, username, name, email, email_verified, role, password, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9) RETURNING id`,
		nullIfEmpty(a.UID), a.Username, nullIfEmpty(a.Name), nullIfEmpty(a.Email),
		a.EmailVerified, string(a.Role), a.Password, now, now,
	).Scan(&a.ID)
	return eris.Wrapf(err, "postgres: create actor %s", a.Username)
}

func (t *pgTx) UpdateActor(ctx context.Context, a *model.Actor) error {
	a.UpdatedAt = time.Now().UTC()
	tag, err := t.tx.Exec(ctx,
		`UPDATE actors SET uid = $1, username = $2, name = $3, email = $4, email_verified = $5, role = $6, updated_at = $7
		 WHERE id = $8`,
		nullIfEmpty(a.UID), a.Username, nullIfEmpty(a.Name), nullIfEmpty(a.Email),
		a.EmailVerified, string(a.Role), a.UpdatedAt, a.ID,
	)
	if err != nil {
		return eris.Wrapf(err, "postgres: update actor %d", a.ID)
	}
	if tag.RowsAffected() == 0 {
		return eris.Errorf("actor not found: %d", a.ID)
	}
	return nil
}

func (t *pgTx) UpsertManager(ctx context.Context, r *model.ManagerRecord) error {
	err := t.tx.QueryRow(ctx, pgManagerUpsert, managerArgs(r)...).Scan(&r.ID)
	return eris.Wrap(err, "postgres: upsert manager record")
}

func (t *pgTx) UpsertCreator(ctx context.Context, r *model.CreatorRecord) error {
	args, err := creatorArgs(r)
	if err != nil {
		return err
	}
	err = t.tx.QueryRow(ctx, pgCreatorUpsert, args...).Scan(&r.ID)
	return eris.Wrapf(err, "postgres: upsert creator record %s", r.CreatorUID)
}

// helpers

func getPgPeriod(ctx context.Context, q querier, code string) (*model.Period, error) {
	var p model.Period
	err := q.QueryRow(ctx,
		`SELECT id, code, year, month, created_at FROM periods WHERE code = $1`, code,
	).Scan(&p.ID, &p.Code, &p.Year, &p.Month, &p.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, eris.Wrapf(err, "postgres: get period %s", code)
	}
	return &p, nil
}

func getPgActor(ctx context.Context, q querier, query string, arg any) (*model.Actor, error) {
	a, err := scanPgActor(q.QueryRow(ctx, query, arg))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	return a, err
}

type scannable interface {
	Scan(dest ...any) error
}

func scanPgActor(row scannable) (*model.Actor, error) {
	var a model.Actor
	var role string
	err := row.Scan(&a.ID, &a.UID, &a.Username, &a.Name, &a.Email,
		&a.EmailVerified, &role, &a.Password, &a.CreatedAt, &a.UpdatedAt)
	a.Role = model.Role(role)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, err
	}
	if err != nil {
		return nil, eris.Wrap(err, "postgres: scan actor")
	}
	return &a, nil
}
