package integration

import (
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
)

// ---------------------------------------------------------------------------
// FieldType is the normalized remote field type
// ---------------------------------------------------------------------------

// FieldType is the normalized type of a discovered field
type FieldType string

const (
	FieldTypeString   FieldType = "string"
	FieldTypeNumber   FieldType = "number"
	FieldTypeBoolean  FieldType = "boolean"
	FieldTypeDate     FieldType = "date"
	FieldTypeDateTime FieldType = "datetime"
	FieldTypePicklist FieldType = "picklist"
	FieldTypeTextarea FieldType = "textarea"
	FieldTypeEmail    FieldType = "email"
	FieldTypePhone    FieldType = "phone"
	FieldTypeURL      FieldType = "url"
)

// IsValid returns true if the field type is known
func (t FieldType) IsValid() bool {
	switch t {
	case FieldTypeString, FieldTypeNumber, FieldTypeBoolean, FieldTypeDate, FieldTypeDateTime,
		FieldTypePicklist, FieldTypeTextarea, FieldTypeEmail, FieldTypePhone, FieldTypeURL:
		return true
	default:
		return false
	}
}

// NormalizeFieldType maps unknown values to FieldTypeString.
func NormalizeFieldType(t FieldType) FieldType {
	if t.IsValid() {
		return t
	}
	return FieldTypeString
}

// PicklistValue is one option of a picklist field
type PicklistValue struct {
	Label string `json:"label"`
	Value string `json:"value"`
}

// ---------------------------------------------------------------------------
// DiscoveredField
// ---------------------------------------------------------------------------

// DiscoveredField describes one field of a remote object type.
// (ConnectionID, ObjectType, Name) is unique.
type DiscoveredField struct {
	ID             uuid.UUID
	ConnectionID   uuid.UUID
	ObjectType     ObjectType
	Name           string
	Label          string
	Type           FieldType
	IsRequired     bool
	IsCustom       bool
	IsReadOnly     bool
	PicklistValues []PicklistValue
	Description    string
	DiscoveredAt   time.Time
}

// PrepareBatch stamps a freshly discovered batch for storage under one
// (connectionID, objectType) key. Duplicate names keep the first occurrence.
func PrepareBatch(connectionID uuid.UUID, objectType ObjectType, fields []DiscoveredField, at time.Time) []DiscoveredField {
	seen := make(map[string]struct{}, len(fields))
	out := make([]DiscoveredField, 0, len(fields))
	for _, f := range fields {
		if f.Name == "" {
			continue
		}
		if _, dup := seen[f.Name]; dup {
			continue
		}
		seen[f.Name] = struct{}{}
		f.ID = uuid.New()
		f.ConnectionID = connectionID
		f.ObjectType = objectType
		f.Type = NormalizeFieldType(f.Type)
		if f.Label == "" {
			f.Label = f.Name
		}
		f.DiscoveredAt = at
		out = append(out, f)
	}
	return out
}

// SortFields orders built-in fields before custom ones, then by label
// (case-insensitive), then by name and object type.
func SortFields(fields []DiscoveredField) {
	sort.SliceStable(fields, func(i, j int) bool {
		a, b := fields[i], fields[j]
		if a.IsCustom != b.IsCustom {
			return !a.IsCustom
		}
		la, lb := strings.ToLower(a.Label), strings.ToLower(b.Label)
		if la != lb {
			return la < lb
		}
		if a.Name != b.Name {
			return a.Name < b.Name
		}
		return a.ObjectType < b.ObjectType
	})
}
