package store

import (
	"encoding/json"

	"github.com/rotisserie/eris"

	"github.com/djesaja/backstage-ingest/internal/db"
	"github.com/djesaja/backstage-ingest/internal/model"
	"github.com/djesaja/backstage-ingest/internal/resilience"
)

var periodInsert = db.UpsertConfig{
	Table:        "periods",
	Columns:      []string{"code", "year", "month", "created_at"},
	ConflictKeys: []string{"code"},
	UpdateCols:   []string{},
}

var managerUpsert = db.UpsertConfig{
	Table: "manager_records",
	Columns: []string{
		"actor_id", "period_id", "manager_uid", "eligible_creators",
		"estimated_bonus_contribution", "diamonds", "m0_5", "m1", "m2", "m1r",
	},
	ConflictKeys: []string{"actor_id", "period_id"},
	Touch:        "updated_at",
	Returning:    "id",
}

var creatorUpsert = db.UpsertConfig{
	Table: "creator_records",
	Columns: []string{
		"creator_uid", "period_id", "actor_id", "manager_id", "group_name",
		"estimated_bonus_contribution", "achieved_milestones", "diamonds",
		"valid_go_live_days", "live_duration",
	},
	ConflictKeys: []string{"creator_uid", "period_id"},
	Touch:        "updated_at",
	Returning:    "id",
}

func managerArgs(r *model.ManagerRecord) []any {
	return []any{
		r.ActorID, r.PeriodID, r.ManagerUID, r.EligibleCreators,
		r.BonusContribution, r.Diamonds, r.M05, r.M1, r.M2, r.M1R,
	}
}

func creatorArgs(r *model.CreatorRecord) ([]any, error) {
	milestones, err := marshalMilestones(r.Milestones)
	if err != nil {
		return nil, err
	}
	return []any{
		r.CreatorUID, r.PeriodID, r.ActorID, r.ManagerID, r.GroupName,
		r.BonusContribution, milestones, r.Diamonds,
		r.ValidLiveDays, r.LiveDuration,
	}, nil
}

func marshalMilestones(m []string) (string, error) {
	if m == nil {
		m = []string{}
	}
	b, err := json.Marshal(m)
	if err != nil {
		return "", eris.Wrap(err, "store: marshal milestones")
	}
	return string(b), nil
}

func unmarshalMilestones(raw []byte) ([]string, error) {
	m := []string{}
	if len(raw) == 0 {
		return m, nil
	}
	if err := json.Unmarshal(raw, &m); err != nil {
		return nil, eris.Wrap(err, "store: unmarshal milestones")
	}
	return m, nil
}

func marshalUnit(e resilience.DLQEntry) (string, error) {
	b, err := json.Marshal(e.Unit)
	if err != nil {
		return "", eris.Wrap(err, "store: marshal dlq unit")
	}
	return string(b), nil
}

// nullIfEmpty maps absent optional identity fields to NULL so the unique
// indexes on uid and email ignore them.
func nullIfEmpty(s string) any {
	if s == "" {
		return nil
	}
	return s
}
