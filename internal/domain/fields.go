package domain

import (
	"fmt"
	"time"
)

// Origin identifies which upstream system produced a payload. Each origin has
// its own key spellings, captured by one explicit mapping function below
// instead of runtime alias probing.
type Origin string

const (
	// OriginLiveAPI is the authoritative networked store's live API.
	OriginLiveAPI Origin = "live-api"
	// OriginReplica is the replicated authoritative table projection.
	OriginReplica Origin = "replica"
	// OriginLegacyCache is the locally cached legacy store.
	OriginLegacyCache Origin = "legacy-cache"
	// OriginAny marks a payload of unknown provenance; mapping consults every
	// origin in fallback order and the first non-empty value per field wins.
	OriginAny Origin = "any"
)

// FieldSet is the canonical projection of one document observation. Empty
// strings and nil dates mean the origin did not supply the field.
type FieldSet struct {
	Status           string
	StatusCode       string
	Channel          string
	Situation        string
	RegistrationDate *time.Time
	SituationDate    *time.Time
	ClearanceDate    *time.Time
}

// IsZero reports whether no field carries a value.
func (f FieldSet) IsZero() bool {
	return f.Status == "" && f.StatusCode == "" && f.Channel == "" && f.Situation == "" &&
		f.RegistrationDate == nil && f.SituationDate == nil && f.ClearanceDate == nil
}

// Normalize applies the documented fallbacks: an empty situation defaults to
// the status text, and an empty status code falls back to the raw status
// string. The status-code fallback is a deliberate approximation, not a real
// coded enumeration.
func (f FieldSet) Normalize() FieldSet {
	if f.Situation == "" && f.Status != "" {
		f.Situation = f.Status
	}
	if f.StatusCode == "" && f.Status != "" {
		f.StatusCode = f.Status
	}
	return f
}

// ExtractFields projects a raw payload into the canonical field set for the
// given origin and kind. Returned warnings describe values that were present
// but unparseable and therefore treated as absent; callers are expected to
// surface them to operators.
func ExtractFields(origin Origin, kind DocumentKind, payload Payload) (FieldSet, []string) {
	ex := &extraction{payload: payload}

	var fields FieldSet
	switch origin {
	case OriginLiveAPI:
		fields = mapLiveAPI(kind, ex)
	case OriginReplica:
		fields = mapReplica(kind, ex)
	case OriginLegacyCache:
		fields = mapLegacyCache(kind, ex)
	default:
		fields = mergeFieldSets(
			mapLiveAPI(kind, ex),
			mapReplica(kind, ex),
			mapLegacyCache(kind, ex),
		)
	}

	return fields.Normalize(), ex.warnings
}

// extraction accumulates parse warnings while reading one payload.
type extraction struct {
	payload  Payload
	warnings []string
}

func (ex *extraction) str(key string) string {
	return ex.payload.String(key)
}

func (ex *extraction) date(key string) *time.Time {
	ts, bad := ex.payload.Time(key)
	if bad {
		ex.warnings = append(ex.warnings,
			fmt.Sprintf("unparseable date %q=%q treated as absent", key, ex.payload.String(key)))
	}
	return ts
}

// mapLiveAPI reads the live API's camelCase key spellings. The manifest
// endpoint names its status field after the cargo lifecycle.
func mapLiveAPI(kind DocumentKind, ex *extraction) FieldSet {
	fields := FieldSet{
		Status:           ex.str("status"),
		StatusCode:       ex.str("statusCode"),
		Channel:          ex.str("customsChannel"),
		Situation:        ex.str("situation"),
		RegistrationDate: ex.date("registrationDate"),
		SituationDate:    ex.date("situationDate"),
		ClearanceDate:    ex.date("clearanceDate"),
	}
	if kind == KindCargoManifest {
		if v := ex.str("cargoStatus"); v != "" {
			fields.Status = v
		}
	}
	if kind == KindUnifiedImportDeclaration {
		if v := ex.str("duimpChannel"); v != "" {
			fields.Channel = v
		}
	}
	return fields
}

// mapReplica reads the replicated table's snake_case column names.
func mapReplica(kind DocumentKind, ex *extraction) FieldSet {
	fields := FieldSet{
		Status:           ex.str("status_text"),
		StatusCode:       ex.str("status_code"),
		Channel:          ex.str("channel"),
		Situation:        ex.str("situation"),
		RegistrationDate: ex.date("registration_date"),
		SituationDate:    ex.date("situation_date"),
		ClearanceDate:    ex.date("clearance_date"),
	}
	if kind == KindTerminalControl {
		if v := ex.str("terminal_status"); v != "" {
			fields.Status = v
		}
	}
	return fields
}

// mapLegacyCache reads the legacy cache's abbreviated column names.
func mapLegacyCache(_ DocumentKind, ex *extraction) FieldSet {
	return FieldSet{
		Status:           ex.str("st_doc"),
		StatusCode:       ex.str("cd_status"),
		Channel:          ex.str("canal"),
		Situation:        ex.str("ds_situation"),
		RegistrationDate: ex.date("dt_registration"),
		SituationDate:    ex.date("dt_situation"),
		ClearanceDate:    ex.date("dt_clearance"),
	}
}

// mergeFieldSets keeps, per field, the first non-empty value in argument order.
func mergeFieldSets(sets ...FieldSet) FieldSet {
	var out FieldSet
	for _, set := range sets {
		if out.Status == "" {
			out.Status = set.Status
		}
		if out.StatusCode == "" {
			out.StatusCode = set.StatusCode
		}
		if out.Channel == "" {
			out.Channel = set.Channel
		}
		if out.Situation == "" {
			out.Situation = set.Situation
		}
		if out.RegistrationDate == nil {
			out.RegistrationDate = set.RegistrationDate
		}
		if out.SituationDate == nil {
			out.SituationDate = set.SituationDate
		}
		if out.ClearanceDate == nil {
			out.ClearanceDate = set.ClearanceDate
		}
	}
	return out
}
