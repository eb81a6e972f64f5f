package crm

import (
	"context"
	"fmt"
	"net/http"
	"sort"
	"strings"

	"github.com/crmgateway/backend/internal/domain/integration"
)

// hubspotObjectPaths maps normalized object types to HubSpot object names.
// Activities are discovered through the notes schema.
var hubspotObjectPaths = map[integration.ObjectType]string{
	integration.ObjectTypeContact:  "contacts",
	integration.ObjectTypeCompany:  "companies",
	integration.ObjectTypeDeal:     "deals",
	integration.ObjectTypeActivity: "notes",
}

// hubspotRequiredProperties are the primary identifying properties HubSpot
// expects on create.
var hubspotRequiredProperties = map[integration.ObjectType]map[string]bool{
	integration.ObjectTypeContact:  {"email": true},
	integration.ObjectTypeCompany:  {"name": true},
	integration.ObjectTypeDeal:     {"dealname": true},
	integration.ObjectTypeActivity: {"hs_timestamp": true},
}

func hubspotObjectPath(objectType integration.ObjectType) (string, error) {
	path, ok := hubspotObjectPaths[objectType]
	if !ok {
		return "", fmt.Errorf("%w: %q", integration.ErrInvalidObjectType, objectType)
	}
	return path, nil
}

// DiscoverFields lists the HubSpot properties of one object type.
func (a *HubSpotAdapter) DiscoverFields(ctx context.Context, objectType integration.ObjectType) ([]integration.DiscoveredField, error) {
	path, err := hubspotObjectPath(objectType)
	if err != nil {
		return nil, err
	}

	var resp hubspotPropertiesResponse
	if err := a.doJSON(ctx, http.MethodGet, "/crm/v3/properties/"+path, nil, &resp); err != nil {
		return nil, err
	}

	required := hubspotRequiredProperties[objectType]
	fields := make([]integration.DiscoveredField, 0, len(resp.Results))
	for _, p := range resp.Results {
		fields = append(fields, convertHubSpotProperty(objectType, p, required[p.Name]))
	}
	return fields, nil
}

func convertHubSpotProperty(objectType integration.ObjectType, p hubspotProperty, required bool) integration.DiscoveredField {
	fieldType := mapHubSpotFieldType(p)

	field := integration.DiscoveredField{
		ObjectType:  objectType,
		Name:        p.Name,
		Label:       p.Label,
		Type:        fieldType,
		IsRequired:  required,
		IsCustom:    !p.HubspotDefined,
		IsReadOnly:  p.Calculated || (p.ModificationMetadata != nil && p.ModificationMetadata.ReadOnlyValue),
		Description: p.Description,
	}
	if fieldType == integration.FieldTypePicklist {
		field.PicklistValues = convertHubSpotOptions(p.Options)
	}
	return field
}

// convertHubSpotOptions keeps visible options in display order.
func convertHubSpotOptions(options []hubspotPropertyOption) []integration.PicklistValue {
	visible := make([]hubspotPropertyOption, 0, len(options))
	for _, o := range options {
		if !o.Hidden {
			visible = append(visible, o)
		}
	}
	sort.SliceStable(visible, func(i, j int) bool {
		return visible[i].DisplayOrder < visible[j].DisplayOrder
	})

	values := make([]integration.PicklistValue, 0, len(visible))
	for _, o := range visible {
		values = append(values, integration.PicklistValue{Label: o.Label, Value: o.Value})
	}
	return values
}

// mapHubSpotFieldType normalizes a HubSpot property type. Unknown types become string.
func mapHubSpotFieldType(p hubspotProperty) integration.FieldType {
	switch p.Type {
	case "bool":
		return integration.FieldTypeBoolean
	case "enumeration":
		if p.FieldType == "booleancheckbox" {
			return integration.FieldTypeBoolean
		}
		return integration.FieldTypePicklist
	case "number":
		return integration.FieldTypeNumber
	case "date":
		return integration.FieldTypeDate
	case "datetime":
		return integration.FieldTypeDateTime
	case "phone_number":
		return integration.FieldTypePhone
	case "string":
		return mapHubSpotStringField(p)
	default:
		return integration.FieldTypeString
	}
}

func mapHubSpotStringField(p hubspotProperty) integration.FieldType {
	switch p.FieldType {
	case "textarea", "html":
		return integration.FieldTypeTextarea
	case "phonenumber":
		return integration.FieldTypePhone
	}

	name := strings.ToLower(p.Name)
	switch {
	case name == "email" || strings.HasSuffix(name, "_email"):
		return integration.FieldTypeEmail
	case name == "website" || name == "domain" || strings.HasSuffix(name, "_url"):
		return integration.FieldTypeURL
	case name == "phone" || name == "mobilephone" || strings.HasSuffix(name, "_phone"):
		return integration.FieldTypePhone
	default:
		return integration.FieldTypeString
	}
}
