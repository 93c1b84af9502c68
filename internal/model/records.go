package model

import "time"

// ManagerRecord holds a manager's aggregates for one period.
// Unique on (ActorID, PeriodID).
type ManagerRecord struct {
	ID                int64     `db:"id" json:"id"`
	ActorID           int64     `db:"actor_id" json:"actor_id"`
	PeriodID          int64     `db:"period_id" json:"period_id"`
	ManagerUID        string    `db:"manager_uid" json:"manager_uid,omitempty"`
	EligibleCreators  int       `db:"eligible_creators" json:"eligible_creators"`
	BonusContribution float64   `db:"estimated_bonus_contribution" json:"estimated_bonus_contribution"`
	Diamonds          int       `db:"diamonds" json:"diamonds"`
	M05               int       `db:"m0_5" json:"m0_5"`
	M1                int       `db:"m1" json:"m1"`
	M2                int       `db:"m2" json:"m2"`
	M1R               int       `db:"m1r" json:"m1r"`
	CreatedAt         time.Time `db:"created_at" json:"created_at"`
	UpdatedAt         time.Time `db:"updated_at" json:"updated_at"`
}

// CreatorRecord holds one creator's figures for one period.
// Unique on (CreatorUID, PeriodID); ManagerID always points at the manager
// seen in the most recent scrape.
type CreatorRecord struct {
	ID                int64     `db:"id" json:"id"`
	CreatorUID        string    `db:"creator_uid" json:"creator_uid"`
	PeriodID          int64     `db:"period_id" json:"period_id"`
	ActorID           int64     `db:"actor_id" json:"actor_id"`
	ManagerID         int64     `db:"manager_id" json:"manager_id"`
	GroupName         string    `db:"group_name" json:"group_name,omitempty"`
	BonusContribution float64   `db:"estimated_bonus_contribution" json:"estimated_bonus_contribution"`
	Milestones        []string  `db:"-" json:"achieved_milestones"`
	Diamonds          int       `db:"diamonds" json:"diamonds"`
	ValidLiveDays     int       `db:"valid_go_live_days" json:"valid_go_live_days"`
	LiveDuration      float64   `db:"live_duration" json:"live_duration"`
	CreatedAt         time.Time `db:"created_at" json:"created_at"`
	UpdatedAt         time.Time `db:"updated_at" json:"updated_at"`
}
