package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	_ "modernc.org/sqlite"

	"github.com/djesaja/backstage-ingest/internal/db"
	"github.com/djesaja/backstage-ingest/internal/model"
	"github.com/djesaja/backstage-ingest/internal/resilience"
)

// SQLiteStore implements Store using sqlx over modernc.org/sqlite.
type SQLiteStore struct {
	db *sqlx.DB
}

var sqlitePragmas = []string{
	"_pragma=foreign_keys(1)",
	"_pragma=busy_timeout(5000)",
	"_pragma=journal_mode(WAL)",
	"_pragma=synchronous(NORMAL)",
}

// NewSQLite opens a SQLite database at the given path. The pool holds a
// single connection; SQLite serializes writers anyway.
func NewSQLite(dsn string) (*SQLiteStore, error) {
	sep := "?"
	if strings.Contains(dsn, "?") {
		sep = "&"
	}
	conn, err := sqlx.Open("sqlite", dsn+sep+strings.Join(sqlitePragmas, "&"))
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: open")
	}
	conn.SetMaxOpenConns(1)
	if err := conn.Ping(); err != nil {
		conn.Close() //nolint:errcheck
		return nil, eris.Wrap(err, "sqlite: ping")
	}
	return &SQLiteStore{db: conn}, nil
}

const sqliteMigration = `
CREATE TABLE IF NOT EXISTS periods (
	id         INTEGER PRIMARY KEY AUTOINCREMENT,
	code       TEXT NOT NULL UNIQUE,
	year       INTEGER NOT NULL,
	month      INTEGER NOT NULL,
	created_at DATETIME NOT NULL
);

CREATE TABLE IF NOT EXISTS actors (
	id             INTEGER PRIMARY KEY AUTOINCREMENT,
	uid            TEXT UNIQUE,
	username       TEXT NOT NULL UNIQUE,
	name           TEXT,
	email          TEXT UNIQUE,
	email_verified INTEGER NOT NULL DEFAULT 0,
	role           TEXT NOT NULL,
	password       TEXT NOT NULL,
	created_at     DATETIME NOT NULL,
	updated_at     DATETIME NOT NULL
);

CREATE TABLE IF NOT EXISTS manager_records (
	id                           INTEGER PRIMARY KEY AUTOINCREMENT,
	actor_id                     INTEGER NOT NULL REFERENCES actors(id),
	period_id                    INTEGER NOT NULL REFERENCES periods(id),
	manager_uid                  TEXT NOT NULL DEFAULT '',
	eligible_creators            INTEGER NOT NULL DEFAULT 0,
	estimated_bonus_contribution REAL NOT NULL DEFAULT 0,
	diamonds                     INTEGER NOT NULL DEFAULT 0,
	m0_5                         INTEGER NOT NULL DEFAULT 0,
	m1                           INTEGER NOT NULL DEFAULT 0,
	m2                           INTEGER NOT NULL DEFAULT 0,
	m1r                          INTEGER NOT NULL DEFAULT 0,
	created_at                   DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
	updated_at                   DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
	UNIQUE (actor_id, period_id)
);

CREATE TABLE IF NOT EXISTS creator_records (
	id                           INTEGER PRIMARY KEY AUTOINCREMENT,
	creator_uid                  TEXT NOT NULL,
	period_id                    INTEGER NOT NULL REFERENCES periods(id),
	actor_id                     INTEGER NOT NULL REFERENCES actors(id),
	manager_id                   INTEGER NOT NULL REFERENCES manager_records(id) ON DELETE CASCADE,
	group_name                   TEXT NOT NULL DEFAULT '',
	estimated_bonus_contribution REAL NOT NULL DEFAULT 0,
	achieved_milestones          TEXT NOT NULL DEFAULT '[]',
	diamonds                     INTEGER NOT NULL DEFAULT 0,
	valid_go_live_days           INTEGER NOT NULL DEFAULT 0,
	live_duration                REAL NOT NULL DEFAULT 0,
	created_at                   DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
	updated_at                   DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
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
	started_at  DATETIME NOT NULL,
	finished_at DATETIME
);

CREATE TABLE IF NOT EXISTS dead_letter_queue (
	id             TEXT PRIMARY KEY,
	period         TEXT NOT NULL,
	unit           TEXT NOT NULL,
	error          TEXT NOT NULL,
	error_type     TEXT NOT NULL DEFAULT 'transient',
	retry_count    INTEGER NOT NULL DEFAULT 0,
	max_retries    INTEGER NOT NULL DEFAULT 3,
	next_retry_at  DATETIME NOT NULL,
	created_at     DATETIME NOT NULL,
	last_failed_at DATETIME NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_creator_records_manager ON creator_records(manager_id);
CREATE INDEX IF NOT EXISTS idx_ingest_runs_period ON ingest_runs(period, status);
CREATE INDEX IF NOT EXISTS idx_dlq_next_retry ON dead_letter_queue(next_retry_at);
`

func (s *SQLiteStore) Migrate(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, sqliteMigration)
	return eris.Wrap(err, "sqlite: migrate")
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// InTx runs fn inside a transaction. fn must only use the Tx it is given:
// the pool has one connection.
func (s *SQLiteStore) InTx(ctx context.Context, fn func(tx Tx) error) error {
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return eris.Wrap(err, "sqlite: begin tx")
	}
	if err := fn(&sqliteTx{tx: tx}); err != nil {
		if rbErr := tx.Rollback(); rbErr != nil {
			zap.L().Warn("sqlite: rollback failed", zap.Error(rbErr))
		}
		return err
	}
	return eris.Wrap(tx.Commit(), "sqlite: commit tx")
}

// --- Reads ---

const sqliteActorCols = `id, COALESCE(uid, '') AS uid, username, COALESCE(name, '') AS name,
	COALESCE(email, '') AS email, email_verified, role, password, created_at, updated_at`

func (s *SQLiteStore) GetPeriod(ctx context.Context, code string) (*model.Period, error) {
	var p model.Period
	err := s.db.GetContext(ctx, &p, `SELECT id, code, year, month, created_at FROM periods WHERE code = ?`, code)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, eris.Wrapf(err, "sqlite: get period %s", code)
	}
	return &p, nil
}

func (s *SQLiteStore) GetActor(ctx context.Context, id int64) (*model.Actor, error) {
	return getSQLiteActor(ctx, s.db, `SELECT `+sqliteActorCols+` FROM actors WHERE id = ?`, id)
}

func (s *SQLiteStore) ListActors(ctx context.Context) ([]model.Actor, error) {
	var actors []model.Actor
	err := s.db.SelectContext(ctx, &actors, `SELECT `+sqliteActorCols+` FROM actors ORDER BY id`)
	return actors, eris.Wrap(err, "sqlite: list actors")
}

func (s *SQLiteStore) ListManagerRecords(ctx context.Context, periodID int64) ([]model.ManagerRecord, error) {
	var recs []model.ManagerRecord
	err := s.db.SelectContext(ctx, &recs,
		`SELECT * FROM manager_records WHERE period_id = ? ORDER BY id`, periodID)
	return recs, eris.Wrap(err, "sqlite: list manager records")
}

type sqliteCreatorRow struct {
	model.CreatorRecord
	MilestonesJSON string `db:"achieved_milestones"`
}

func (s *SQLiteStore) ListCreatorRecords(ctx context.Context, periodID int64) ([]model.CreatorRecord, error) {
	var rows []sqliteCreatorRow
	if err := s.db.SelectContext(ctx, &rows,
		`SELECT * FROM creator_records WHERE period_id = ? ORDER BY id`, periodID); err != nil {
		return nil, eris.Wrap(err, "sqlite: list creator records")
	}
	recs := make([]model.CreatorRecord, 0, len(rows))
	for _, r := range rows {
		m, err := unmarshalMilestones([]byte(r.MilestonesJSON))
		if err != nil {
			return nil, err
		}
		r.CreatorRecord.Milestones = m
		recs = append(recs, r.CreatorRecord)
	}
	return recs, nil
}

// --- Runs ---

func (s *SQLiteStore) CreateRun(ctx context.Context, period string) (*model.Run, error) {
	run := &model.Run{
		ID:        uuid.New().String(),
		Period:    period,
		Status:    model.RunStatusRunning,
		StartedAt: time.Now().UTC(),
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO ingest_runs (id, period, status, started_at) VALUES (?, ?, ?, ?)`,
		run.ID, run.Period, string(run.Status), run.StartedAt,
	)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: insert run")
	}
	return run, nil
}

func (s *SQLiteStore) FinishRun(ctx context.Context, runID string, status model.RunStatus, result model.RunResult) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE ingest_runs SET status = ?, attempts = ?, managers = ?, creators = ?, error = ?, finished_at = ?
		 WHERE id = ?`,
		string(status), result.Attempts, result.Managers, result.Creators, result.Error, time.Now().UTC(), runID,
	)
	if err != nil {
		return eris.Wrapf(err, "sqlite: finish run %s", runID)
	}
	return checkRowsAffected(res, "run", runID)
}

func (s *SQLiteStore) ActiveRun(ctx context.Context, period string, since time.Time) (*model.Run, error) {
	var r model.Run
	err := s.db.GetContext(ctx, &r,
		`SELECT * FROM ingest_runs WHERE period = ? AND status = ? AND started_at >= ?
		 ORDER BY started_at DESC LIMIT 1`,
		period, string(model.RunStatusRunning), since.UTC(),
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: active run")
	}
	return &r, nil
}

func (s *SQLiteStore) ListRuns(ctx context.Context, filter RunFilter) ([]model.Run, error) {
	query := `SELECT * FROM ingest_runs WHERE 1=1`
	var args []any
	if filter.Period != "" {
		query += ` AND period = ?`
		args = append(args, filter.Period)
	}
	if filter.Status != "" {
		query += ` AND status = ?`
		args = append(args, string(filter.Status))
	}
	query += ` ORDER BY started_at DESC LIMIT ?`
	args = append(args, limitOrDefault(filter.Limit))

	var runs []model.Run
	err := s.db.SelectContext(ctx, &runs, query, args...)
	return runs, eris.Wrap(err, "sqlite: list runs")
}

// --- Dead letter queue ---

func (s *SQLiteStore) EnqueueDLQ(ctx context.Context, entry resilience.DLQEntry) error {
	unitJSON, err := marshalUnit(entry)
	if err != nil {
		return err
	}
	if entry.ID == "" {
		entry.ID = uuid.New().String()
	}

	_, err = s.db.ExecContext(ctx,
		`INSERT INTO dead_letter_queue
		 (id, period, unit, error, error_type, retry_count, max_retries, next_retry_at, created_at, last_failed_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		 ON CONFLICT (id) DO UPDATE SET
		   unit = excluded.unit, error = excluded.error, error_type = excluded.error_type,
		   retry_count = excluded.retry_count, next_retry_at = excluded.next_retry_at,
		   last_failed_at = excluded.last_failed_at`,
		entry.ID, entry.Period, unitJSON, entry.Error, entry.ErrorType,
		entry.RetryCount, entry.MaxRetries,
		entry.NextRetryAt.UTC(), entry.CreatedAt.UTC(), entry.LastFailedAt.UTC(),
	)
	return eris.Wrap(err, "sqlite: enqueue dlq")
}

type sqliteDLQRow struct {
	ID           string    `db:"id"`
	Period       string    `db:"period"`
	Unit         string    `db:"unit"`
	Error        string    `db:"error"`
	ErrorType    string    `db:"error_type"`
	RetryCount   int       `db:"retry_count"`
	MaxRetries   int       `db:"max_retries"`
	NextRetryAt  time.Time `db:"next_retry_at"`
	CreatedAt    time.Time `db:"created_at"`
	LastFailedAt time.Time `db:"last_failed_at"`
}

func (r sqliteDLQRow) entry() (resilience.DLQEntry, error) {
	e := resilience.DLQEntry{
		ID:           r.ID,
		Period:       r.Period,
		Error:        r.Error,
		ErrorType:    r.ErrorType,
		RetryCount:   r.RetryCount,
		MaxRetries:   r.MaxRetries,
		NextRetryAt:  r.NextRetryAt,
		CreatedAt:    r.CreatedAt,
		LastFailedAt: r.LastFailedAt,
	}
	if err := json.Unmarshal([]byte(r.Unit), &e.Unit); err != nil {
		return e, eris.Wrap(err, "sqlite: unmarshal dlq unit")
	}
	return e, nil
}

// DequeueDLQ returns entries that are due and still have retries left.
func (s *SQLiteStore) DequeueDLQ(ctx context.Context, filter resilience.DLQFilter) ([]resilience.DLQEntry, error) {
	return s.selectDLQ(ctx, filter, true)
}

// ListDLQ returns all entries regardless of schedule.
func (s *SQLiteStore) ListDLQ(ctx context.Context, filter resilience.DLQFilter) ([]resilience.DLQEntry, error) {
	return s.selectDLQ(ctx, filter, false)
}

func (s *SQLiteStore) selectDLQ(ctx context.Context, filter resilience.DLQFilter, dueOnly bool) ([]resilience.DLQEntry, error) {
	query := `SELECT * FROM dead_letter_queue WHERE 1=1`
	var args []any
	if dueOnly {
		query += ` AND next_retry_at <= ? AND retry_count < max_retries`
		args = append(args, time.Now().UTC())
	}
	if filter.Period != "" {
		query += ` AND period = ?`
		args = append(args, filter.Period)
	}
	if filter.ErrorType != "" {
		query += ` AND error_type = ?`
		args = append(args, filter.ErrorType)
	}
	query += ` ORDER BY next_retry_at ASC LIMIT ?`
	args = append(args, limitOrDefault(filter.Limit))

	var rows []sqliteDLQRow
	if err := s.db.SelectContext(ctx, &rows, query, args...); err != nil {
		return nil, eris.Wrap(err, "sqlite: select dlq")
	}
	entries := make([]resilience.DLQEntry, 0, len(rows))
	for _, r := range rows {
		e, err := r.entry()
		if err != nil {
			return nil, err
		}
		entries = append(entries, e)
	}
	return entries, nil
}

func (s *SQLiteStore) IncrementDLQRetry(ctx context.Context, id string, nextRetryAt time.Time, lastErr string) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE dead_letter_queue
		 SET retry_count = retry_count + 1, next_retry_at = ?, error = ?, last_failed_at = ?
		 WHERE id = ?`,
		nextRetryAt.UTC(), lastErr, time.Now().UTC(), id,
	)
	if err != nil {
		return eris.Wrapf(err, "sqlite: increment dlq retry %s", id)
	}
	return checkRowsAffected(res, "dlq_entry", id)
}

func (s *SQLiteStore) RemoveDLQ(ctx context.Context, id string) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM dead_letter_queue WHERE id = ?`, id)
	return eris.Wrap(err, "sqlite: remove dlq")
}

// --- Transaction ---

type sqliteTx struct {
	tx *sqlx.Tx
}

var (
	sqlitePeriodInsert  = db.MustUpsertSQL(db.SQLite, periodInsert)
	sqliteManagerUpsert = db.MustUpsertSQL(db.SQLite, managerUpsert)
	sqliteCreatorUpsert = db.MustUpsertSQL(db.SQLite, creatorUpsert)
)

func (t *sqliteTx) GetOrCreatePeriod(ctx context.Context, code string) (*model.Period, error) {
	p, err := model.ParsePeriod(code)
	if err != nil {
		return nil, err
	}
	if _, err := t.tx.ExecContext(ctx, sqlitePeriodInsert, p.Code, p.Year, p.Month, time.Now().UTC()); err != nil {
		return nil, eris.Wrapf(err, "sqlite: insert period %s", code)
	}
	if err := t.tx.GetContext(ctx, &p, `SELECT id, code, year, month, created_at FROM periods WHERE code = ?`, code); err != nil {
		return nil, eris.Wrapf(err, "sqlite: get period %s", code)
	}
	return &p, nil
}

func (t *sqliteTx) ActorByUID(ctx context.Context, uid string) (*model.Actor, error) {
	return getSQLiteActor(ctx, t.tx, `SELECT `+sqliteActorCols+` FROM actors WHERE uid = ?`, uid)
}

func (t *sqliteTx) ActorByUsername(ctx context.Context, username string) (*model.Actor, error) {
	return getSQLiteActor(ctx, t.tx, `SELECT `+sqliteActorCols+` FROM actors WHERE username = ?`, username)
}

func (t *sqliteTx) UsernameTaken(ctx context.Context, username string, excludeID int64) (bool, error) {
	var n int
	err := t.tx.GetContext(ctx, &n, `SELECT COUNT(*) FROM actors WHERE username = ? AND id <> ?`, username, excludeID)
	return n > 0, eris.Wrap(err, "sqlite: username taken")
}

func (t *sqliteTx) EmailTaken(ctx context.Context, email string, excludeID int64) (bool, error) {
	var n int
	err := t.tx.GetContext(ctx, &n, `SELECT COUNT(*) FROM actors WHERE email = ? AND id <> ?`, email, excludeID)
	return n > 0, eris.Wrap(err, "sqlite: email taken")
}

func (t *sqliteTx) CreateActor(ctx context.Context, a *model.Actor) error {
	now := time.Now().UTC()
	a.CreatedAt, a.UpdatedAt = now, now
	err := t.tx.QueryRowxContext(ctx,
		`INSERT INTO actors (uid, username, name, email, email_verified, role, password, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?) RETURNING id`,
		nullIfEmpty(a.UID), a.Username, nullIfEmpty(a.Name), nullIfEmpty(a.Email),
		a.EmailVerified, string(a.Role), a.Password, now, now,
	).Scan(&a.ID)
	return eris.Wrapf(err, "sqlite: create actor %s", a.Username)
}

func (t *sqliteTx) UpdateActor(ctx context.Context, a *model.Actor) error {
	a.UpdatedAt = time.Now().UTC()
	res, err := t.tx.ExecContext(ctx,
		`UPDATE actors SET uid = ?, username = ?, name = ?, email = ?, email_verified = ?, role = ?, updated_at = ?
		 WHERE id = ?`,
		nullIfEmpty(a.UID), a.Username, nullIfEmpty(a.Name), nullIfEmpty(a.Email),
		a.EmailVerified, string(a.Role), a.UpdatedAt, a.ID,
	)
	if err != nil {
		return eris.Wrapf(err, "sqlite: update actor %d", a.ID)
	}
	return checkRowsAffected(res, "actor", a.Username)
}

func (t *sqliteTx) UpsertManager(ctx context.Context, r *model.ManagerRecord) error {
	err := t.tx.QueryRowxContext(ctx, sqliteManagerUpsert, managerArgs(r)...).Scan(&r.ID)
	return eris.Wrap(err, "sqlite: upsert manager record")
}

func (t *sqliteTx) UpsertCreator(ctx context.Context, r *model.CreatorRecord) error {
	args, err := creatorArgs(r)
	if err != nil {
		return err
	}
	err = t.tx.QueryRowxContext(ctx, sqliteCreatorUpsert, args...).Scan(&r.ID)
	return eris.Wrapf(err, "sqlite: upsert creator record %s", r.CreatorUID)
}

// helpers

func getSQLiteActor(ctx context.Context, q sqlx.QueryerContext, query string, arg any) (*model.Actor, error) {
	var a model.Actor
	err := sqlx.GetContext(ctx, q, &a, query, arg)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: get actor")
	}
	return &a, nil
}

func checkRowsAffected(res sql.Result, entity, id string) error {
	n, err := res.RowsAffected()
	if err != nil {
		return eris.Wrap(err, "rows affected")
	}
	if n == 0 {
		return eris.Errorf("%s not found: %s", entity, id)
	}
	return nil
}
