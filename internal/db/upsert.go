package db

import (
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/rotisserie/eris"
)

// Dialect selects the bind placeholder style of a statement.
type Dialect int

const (
	// Postgres binds with $1, $2, ...
	Postgres Dialect = iota
	// SQLite binds with ?.
	SQLite
)

func (d Dialect) placeholder(i int) string {
	if d == SQLite {
		return "?"
	}
	return fmt.Sprintf("$%d", i)
}

// UpsertConfig defines the parameters for a single-row upsert.
type UpsertConfig struct {
	Table        string   // target table (e.g., "creator_records")
	Columns      []string // all columns being inserted, in bind order
	ConflictKeys []string // columns forming the unique constraint
	UpdateCols   []string // columns to update on conflict; nil = all non-conflict columns
	Touch        string   // optional timestamp column set to CURRENT_TIMESTAMP on conflict
	Returning    string   // optional column to return
}

// UpsertSQL builds an INSERT ... ON CONFLICT (keys) DO UPDATE statement.
// Both Postgres and SQLite accept the generated syntax.
func UpsertSQL(d Dialect, cfg UpsertConfig) (string, error) {
	if len(cfg.Columns) == 0 {
		return "", eris.New("db: upsert: no columns specified")
	}
	if len(cfg.ConflictKeys) == 0 {
		return "", eris.New("db: upsert: no conflict keys specified")
	}

	updateCols := cfg.UpdateCols
	if updateCols == nil {
		conflictSet := make(map[string]bool, len(cfg.ConflictKeys))
		for _, k := range cfg.ConflictKeys {
			conflictSet[k] = true
		}
		for _, c := range cfg.Columns {
			if !conflictSet[c] {
				updateCols = append(updateCols, c)
			}
		}
	}

	placeholders := make([]string, len(cfg.Columns))
	for i := range cfg.Columns {
		placeholders[i] = d.placeholder(i + 1)
	}

	setClauses := make([]string, 0, len(updateCols)+1)
	for _, col := range updateCols {
		q := pgx.Identifier{col}.Sanitize()
		setClauses = append(setClauses, fmt.Sprintf("%s = excluded.%s", q, q))
	}
	if cfg.Touch != "" {
		setClauses = append(setClauses, fmt.Sprintf("%s = CURRENT_TIMESTAMP", pgx.Identifier{cfg.Touch}.Sanitize()))
	}

	var b strings.Builder
	fmt.Fprintf(&b, "INSERT INTO %s (%s) VALUES (%s) ON CONFLICT (%s)",
		sanitizeTable(cfg.Table),
		quoteAndJoin(cfg.Columns),
		strings.Join(placeholders, ", "),
		quoteAndJoin(cfg.ConflictKeys),
	)
	if len(setClauses) == 0 {
		b.WriteString(" DO NOTHING")
	} else {
		b.WriteString(" DO UPDATE SET ")
		b.WriteString(strings.Join(setClauses, ", "))
	}
	if cfg.Returning != "" {
		b.WriteString(" RETURNING ")
		b.WriteString(pgx.Identifier{cfg.Returning}.Sanitize())
	}
	return b.String(), nil
}

// MustUpsertSQL is UpsertSQL for statically known configs.
func MustUpsertSQL(d Dialect, cfg UpsertConfig) string {
	q, err := UpsertSQL(d, cfg)
	if err != nil {
		panic(err)
	}
	return q
}

// sanitizeTable handles schema-qualified table names like "backstage.actors".
func sanitizeTable(table string) string {
	parts := strings.SplitN(table, ".", 2)
	if len(parts) == 2 {
		return pgx.Identifier{parts[0], parts[1]}.Sanitize()
	}
	return pgx.Identifier{table}.Sanitize()
}

// quoteAndJoin quotes each column name and joins with commas.
func quoteAndJoin(cols []string) string {
	quoted := make([]string, len(cols))
	for i, c := range cols {
		quoted[i] = pgx.Identifier{c}.Sanitize()
	}
	return strings.Join(quoted, ", ")
}
