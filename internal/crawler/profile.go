package crawler

import (
	"bytes"
	"encoding/json"

	"github.com/rotisserie/eris"

	"github.com/djesaja/backstage-ingest/internal/model"
)

// flexString accepts a JSON string or number. The profile endpoint is not
// consistent about id types.
type flexString string

func (f *flexString) UnmarshalJSON(b []byte) error {
	b = bytes.TrimSpace(b)
	if len(b) == 0 || bytes.Equal(b, []byte("null")) {
		*f = ""
		return nil
	}
	if b[0] == '"' {
		var s string
		if err := json.Unmarshal(b, &s); err != nil {
			return err
		}
		*f = flexString(s)
		return nil
	}
	var n json.Number
	if err := json.Unmarshal(b, &n); err != nil {
		return err
	}
	*f = flexString(n.String())
	return nil
}

type profileIdentity struct {
	CreatorID flexString `json:"CreatorID"`
	UserID    flexString `json:"user_id"`
	Nickname  flexString `json:"nickname"`
	DisplayID flexString `json:"display_id"`
}

type agentInfo struct {
	AgentID   flexString `json:"AgentID"`
	AgentName flexString `json:"AgentName"`
	GroupName flexString `json:"GroupName"`
}

type profilePayload struct {
	profileIdentity
	HostBaseInfo *struct {
		profileIdentity
		AgentInfo *agentInfo `json:"AgentInfo"`
	} `json:"HostBaseInfo"`
}

// ParseProfile decodes an anchor profile response. Every field is optional;
// HostBaseInfo values win over top-level ones.
func ParseProfile(body []byte) (model.Enrichment, error) {
	var p profilePayload
	if err := json.Unmarshal(body, &p); err != nil {
		return model.Enrichment{}, eris.Wrap(err, "crawler: decode profile")
	}

	id := p.profileIdentity
	var agent agentInfo
	if h := p.HostBaseInfo; h != nil {
		id = profileIdentity{
			CreatorID: first(h.CreatorID, p.CreatorID),
			UserID:    first(h.UserID, p.UserID),
			Nickname:  first(h.Nickname, p.Nickname),
			DisplayID: first(h.DisplayID, p.DisplayID),
		}
		if h.AgentInfo != nil {
			agent = *h.AgentInfo
		}
	}

	return model.Enrichment{
		OK:           true,
		CreatorID:    string(id.CreatorID),
		UserID:       string(id.UserID),
		Nickname:     string(id.Nickname),
		DisplayID:    string(id.DisplayID),
		ManagerID:    string(agent.AgentID),
		ManagerEmail: string(agent.AgentName),
		GroupName:    string(agent.GroupName),
	}, nil
}

func first(a, b flexString) flexString {
	if a != "" {
		return a
	}
	return b
}
