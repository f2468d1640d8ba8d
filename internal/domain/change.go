package domain

import (
	"fmt"
	"time"
)

// EventFieldChanged is the event kind recorded for a detected field delta.
const EventFieldChanged = "FIELD_CHANGED"

// nullMarker is the stringified form of an absent value on either side of a
// comparison.
const nullMarker = "null"

const dateFormat = "2006-01-02"

// Change describes one detected field-level delta between the stored snapshot
// and a fresh observation.
type Change struct {
	EventKind string    `json:"event_kind"`
	Field     string    `json:"field"`
	Previous  string    `json:"previous"`
	New       string    `json:"new"`
	At        time.Time `json:"at"`
}

// Description renders the human-readable audit line stored with the change.
func (c Change) Description() string {
	return fmt.Sprintf("%s changed from %s to %s", c.Field, c.Previous, c.New)
}

// comparedField pairs a canonical field name with its stringified readers on
// both sides. The list and its order are fixed; fields outside it never
// produce history rows.
type comparedField struct {
	name string
	prev func(Snapshot) string
	next func(FieldSet) string
}

var comparedFields = []comparedField{
	{
		name: "status",
		prev: func(s Snapshot) string { return stringify(s.Status) },
		next: func(f FieldSet) string { return stringify(f.Status) },
	},
	{
		name: "channel",
		prev: func(s Snapshot) string { return stringify(s.Channel) },
		next: func(f FieldSet) string { return stringify(f.Channel) },
	},
	{
		name: "registration_date",
		prev: func(s Snapshot) string { return stringifyDate(s.RegistrationDate) },
		next: func(f FieldSet) string { return stringifyDate(f.RegistrationDate) },
	},
	{
		name: "situation_date",
		prev: func(s Snapshot) string { return stringifyDate(s.SituationDate) },
		next: func(f FieldSet) string { return stringifyDate(f.SituationDate) },
	},
	{
		name: "clearance_date",
		prev: func(s Snapshot) string { return stringifyDate(s.ClearanceDate) },
		next: func(f FieldSet) string { return stringifyDate(f.ClearanceDate) },
	},
}

// DetectChanges diffs a freshly extracted field set against the previously
// stored snapshot. No entries are emitted when prev is nil (inception is not
// a change), and a new null value never produces an entry: partial payloads
// must not register spurious "field cleared" events.
func DetectChanges(prev *Snapshot, fields FieldSet, at time.Time) []Change {
	if prev == nil {
		return nil
	}

	var changes []Change
	for _, field := range comparedFields {
		newValue := field.next(fields)
		if newValue == nullMarker {
			continue
		}
		oldValue := field.prev(*prev)
		if oldValue == newValue {
			continue
		}
		changes = append(changes, Change{
			EventKind: EventFieldChanged,
			Field:     field.name,
			Previous:  oldValue,
			New:       newValue,
			At:        at,
		})
	}
	return changes
}

func stringify(value string) string {
	if value == "" {
		return nullMarker
	}
	return value
}

func stringifyDate(value *time.Time) string {
	if value == nil {
		return nullMarker
	}
	return value.Format(dateFormat)
}
