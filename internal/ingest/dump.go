package ingest

import (
	"bytes"
	"encoding/json"
	"strings"

	"github.com/rotisserie/eris"

	"github.com/djesaja/backstage-ingest/internal/model"
)

// Column titles used as keys by the legacy scraper's JSON output.
const (
	legacyManager   = "Creator Network manager"
	legacyCreator   = "Creator"
	legacyEligible  = "Eligible creators"
	legacyBonus     = "Estimated bonus contribution"
	legacyDiamonds  = "Diamonds"
	legacyM05       = "M0.5"
	legacyM1        = "M1"
	legacyM2        = "M2"
	legacyM1R       = "M1R"
	legacyMilestone = "Achieved milestones"
	legacyValidDays = "Valid go LIVE days"
	legacyDuration  = "LIVE duration"
)

var legacyManagerFields = map[string]string{
	legacyManager:  model.FieldName,
	legacyEligible: model.FieldEligibleCreators,
	legacyBonus:    model.FieldBonus,
	legacyDiamonds: model.FieldDiamonds,
	legacyM05:      model.FieldM05,
	legacyM1:       model.FieldM1,
	legacyM2:       model.FieldM2,
	legacyM1R:      model.FieldM1R,
}

var legacyCreatorFields = map[string]string{
	legacyCreator:   model.FieldName,
	legacyBonus:     model.FieldBonus,
	legacyMilestone: model.FieldMilestones,
	legacyDiamonds:  model.FieldDiamonds,
	legacyValidDays: model.FieldValidDays,
	legacyDuration:  model.FieldLiveDuration,
}

// DecodeDump decodes a JSON array of manager units. Each element is either a
// model.ManagerUnit or a record keyed by grid column titles as the legacy
// scraper wrote them. A unit without a manager name is an error.
func DecodeDump(data []byte) ([]model.ManagerUnit, error) {
	var raw []map[string]json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, eris.Wrap(err, "ingest: decode dump")
	}

	units := make([]model.ManagerUnit, 0, len(raw))
	for i, rec := range raw {
		var (
			u   model.ManagerUnit
			err error
		)
		switch {
		case rec["fields"] != nil:
			u, err = decodeNative(rec)
		case rec[legacyManager] != nil:
			u, err = decodeLegacy(rec)
		default:
			err = eris.New("unrecognized unit format")
		}
		if err != nil {
			return nil, eris.Wrapf(err, "ingest: dump unit %d", i)
		}
		if strings.TrimSpace(u.Name()) == "" {
			return nil, eris.Errorf("ingest: dump unit %d has no manager name", i)
		}
		units = append(units, u)
	}
	return units, nil
}

func decodeNative(rec map[string]json.RawMessage) (model.ManagerUnit, error) {
	var u model.ManagerUnit
	b, err := json.Marshal(rec)
	if err != nil {
		return u, err
	}
	err = json.Unmarshal(b, &u)
	return u, err
}

func decodeLegacy(rec map[string]json.RawMessage) (model.ManagerUnit, error) {
	u := model.ManagerUnit{Fields: make(map[string]string, len(legacyManagerFields))}
	for key, field := range legacyManagerFields {
		v, err := legacyText(rec[key])
		if err != nil {
			return u, eris.Wrapf(err, "field %q", key)
		}
		u.Fields[field] = v
	}

	var creators []map[string]json.RawMessage
	if c := rec["creators"]; c != nil && !isNull(c) {
		if err := json.Unmarshal(c, &creators); err != nil {
			return u, eris.Wrap(err, "creators")
		}
	}
	for j, c := range creators {
		entry, err := decodeLegacyCreator(c)
		if err != nil {
			return u, eris.Wrapf(err, "creator %d", j)
		}
		u.Creators = append(u.Creators, entry)
	}
	return u, nil
}

func decodeLegacyCreator(rec map[string]json.RawMessage) (model.CreatorEntry, error) {
	entry := model.CreatorEntry{Fields: make(map[string]string, len(legacyCreatorFields))}
	for key, field := range legacyCreatorFields {
		v, err := legacyText(rec[key])
		if err != nil {
			return entry, eris.Wrapf(err, "field %q", key)
		}
		entry.Fields[field] = v
	}

	text := func(key string) (string, error) {
		v, err := legacyText(rec[key])
		if err != nil {
			return "", eris.Wrapf(err, "field %q", key)
		}
		if v == missingID {
			return "", nil
		}
		return v, nil
	}
	var err error
	enr := &entry.Enrichment
	for key, dst := range map[string]*string{
		"CreatorID":    &enr.CreatorID,
		"CreatorName":  &enr.Nickname,
		"ManagerID":    &enr.ManagerID,
		"ManagerEmail": &enr.ManagerEmail,
		"GroupName":    &enr.GroupName,
	} {
		if *dst, err = text(key); err != nil {
			return entry, err
		}
	}
	enr.OK = enr.CreatorID != ""
	return entry, nil
}

// legacyText reads a string, number or null as text.
func legacyText(raw json.RawMessage) (string, error) {
	if raw == nil || isNull(raw) {
		return "", nil
	}
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return strings.TrimSpace(s), nil
	}
	var n json.Number
	if err := json.Unmarshal(raw, &n); err != nil {
		return "", eris.New("want a string or number")
	}
	return n.String(), nil
}

func isNull(raw json.RawMessage) bool {
	return bytes.Equal(bytes.TrimSpace(raw), []byte("null"))
}
