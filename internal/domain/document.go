package domain

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// DocumentKind identifies one of the customs document families tracked by the engine.
type DocumentKind string

const (
	KindCargoManifest            DocumentKind = "CARGO_MANIFEST"
	KindImportDeclaration        DocumentKind = "IMPORT_DECLARATION"
	KindUnifiedImportDeclaration DocumentKind = "UNIFIED_IMPORT_DECLARATION"
	KindTerminalControl          DocumentKind = "TERMINAL_CONTROL"
)

// Kinds lists every supported document kind in a stable order.
func Kinds() []DocumentKind {
	return []DocumentKind{
		KindCargoManifest,
		KindImportDeclaration,
		KindUnifiedImportDeclaration,
		KindTerminalControl,
	}
}

// ParseKind converts a user supplied kind string into a DocumentKind.
func ParseKind(value string) (DocumentKind, error) {
	kind := DocumentKind(value)
	for _, known := range Kinds() {
		if kind == known {
			return known, nil
		}
	}
	return "", fmt.Errorf("unknown document kind %q", value)
}

// Identity is the composite natural key naming one customs record.
// Version is empty for kinds that do not carry revisions.
type Identity struct {
	Number  string       `json:"number"`
	Kind    DocumentKind `json:"kind"`
	Version string       `json:"version,omitempty"`
}

func (id Identity) String() string {
	if id.Version == "" {
		return fmt.Sprintf("%s/%s", id.Kind, id.Number)
	}
	return fmt.Sprintf("%s/%s@%s", id.Kind, id.Number, id.Version)
}

// Snapshot is the single current-believed-state row for one Identity.
// It is created on first observation and mutated in place afterwards,
// never deleted.
type Snapshot struct {
	ID               uuid.UUID       `json:"id"`
	Number           string          `json:"number"`
	Kind             DocumentKind    `json:"kind"`
	Version          string          `json:"version,omitempty"`
	Status           string          `json:"status,omitempty"`
	StatusCode       string          `json:"status_code,omitempty"`
	Channel          string          `json:"channel,omitempty"`
	Situation        string          `json:"situation,omitempty"`
	RegistrationDate *time.Time      `json:"registration_date,omitempty"`
	SituationDate    *time.Time      `json:"situation_date,omitempty"`
	ClearanceDate    *time.Time      `json:"clearance_date,omitempty"`
	ProcessRef       string          `json:"process_ref,omitempty"`
	RawPayload       json.RawMessage `json:"raw_payload,omitempty"`
	Source           string          `json:"source,omitempty"`
	SyncedAt         time.Time       `json:"synced_at"`
	CreatedAt        time.Time       `json:"created_at"`
	UpdatedAt        time.Time       `json:"updated_at"`
}

// Identity returns the natural key of the snapshot.
func (s Snapshot) Identity() Identity {
	return Identity{Number: s.Number, Kind: s.Kind, Version: s.Version}
}

// HistoryRecord is one immutable audit row describing a detected field change.
// Records are append-only and are never written for a first observation.
type HistoryRecord struct {
	ID          uuid.UUID       `json:"id"`
	SnapshotID  *uuid.UUID      `json:"snapshot_id,omitempty"`
	Number      string          `json:"number"`
	Kind        DocumentKind    `json:"kind"`
	Version     string          `json:"version,omitempty"`
	EventAt     time.Time       `json:"event_at"`
	EventKind   string          `json:"event_kind"`
	Field       string          `json:"field"`
	Previous    string          `json:"previous"`
	New         string          `json:"new"`
	Description string          `json:"description"`
	RawPayload  json.RawMessage `json:"raw_payload,omitempty"`
	Source      string          `json:"source,omitempty"`
	Actor       string          `json:"actor,omitempty"`
	CreatedAt   time.Time       `json:"created_at"`
}

// ImportCosts carries the derived financial aggregates of one import declaration.
type ImportCosts struct {
	Number           string    `json:"number"`
	ProcessRef       string    `json:"process_ref,omitempty"`
	MerchandiseValue float64   `json:"merchandise_value"`
	Freight          float64   `json:"freight"`
	DutiesPaid       float64   `json:"duties_paid"`
	Currency         string    `json:"currency,omitempty"`
	CreatedAt        time.Time `json:"created_at"`
}
