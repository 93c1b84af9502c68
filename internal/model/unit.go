package model

// Raw field names produced by the grid reader. The manager and creator
// grids share names where the column means the same thing.
const (
	FieldName             = "name"
	FieldEligibleCreators = "eligible_creators"
	FieldBonus            = "estimated_bonus"
	FieldDiamonds         = "diamonds"
	FieldM05              = "m0_5"
	FieldM1               = "m1"
	FieldM2               = "m2"
	FieldM1R              = "m1r"
	FieldMilestones       = "achieved_milestones"
	FieldValidDays        = "valid_live_days"
	FieldLiveDuration     = "live_duration"
)

// Enrichment is identity metadata captured from the profile side channel.
// The zero value means "not enriched" and is always valid.
type Enrichment struct {
	OK           bool   `json:"ok"`
	CreatorID    string `json:"creator_id,omitempty"`
	UserID       string `json:"user_id,omitempty"`
	Nickname     string `json:"nickname,omitempty"`
	DisplayID    string `json:"display_id,omitempty"`
	ManagerID    string `json:"manager_id,omitempty"`
	ManagerEmail string `json:"manager_email,omitempty"`
	GroupName    string `json:"group_name,omitempty"`
}

// CreatorEntry is one raw creator row plus its enrichment.
type CreatorEntry struct {
	Fields     map[string]string `json:"fields"`
	Enrichment Enrichment        `json:"enrichment"`
}

// Name returns the creator's display name as read from the grid.
func (c CreatorEntry) Name() string {
	return c.Fields[FieldName]
}

// ManagerUnit is the streaming unit: one manager row and the creators read
// from its drill-down modal, in grid order.
type ManagerUnit struct {
	Fields   map[string]string `json:"fields"`
	Creators []CreatorEntry    `json:"creators"`
}

// Name returns the manager's display name as read from the grid.
func (u ManagerUnit) Name() string {
	return u.Fields[FieldName]
}

// ManagerIdentity returns the manager's external id and email, taken from the
// first creator whose enrichment carries either.
func (u ManagerUnit) ManagerIdentity() (uid, email string) {
	for _, c := range u.Creators {
		if uid == "" {
			uid = c.Enrichment.ManagerID
		}
		if email == "" {
			email = c.Enrichment.ManagerEmail
		}
		if uid != "" || email != "" {
			break
		}
	}
	return uid, email
}
