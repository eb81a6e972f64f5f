package crm

// HubSpot API request and response types

// hubspotObject is a CRM v3 object as returned by the objects APIs.
// Property values may be JSON null.
type hubspotObject struct {
	ID         string             `json:"id"`
	Properties map[string]*string `json:"properties"`
	CreatedAt  string             `json:"createdAt"`
	UpdatedAt  string             `json:"updatedAt"`
	Archived   bool               `json:"archived"`
}

// hubspotObjectInput is the body of create and update calls.
type hubspotObjectInput struct {
	Properties   map[string]string           `json:"properties"`
	Associations []hubspotAssociationRequest `json:"associations,omitempty"`
}

type hubspotAssociationRequest struct {
	To    hubspotAssociationTarget `json:"to"`
	Types []hubspotAssociationType `json:"types"`
}

type hubspotAssociationTarget struct {
	ID string `json:"id"`
}

type hubspotAssociationType struct {
	AssociationCategory string `json:"associationCategory"`
	AssociationTypeID   int    `json:"associationTypeId"`
}

// hubspotSearchRequest is the body of POST /crm/v3/objects/{type}/search.
type hubspotSearchRequest struct {
	Query        string               `json:"query,omitempty"`
	FilterGroups []hubspotFilterGroup `json:"filterGroups,omitempty"`
	Sorts        []hubspotSort        `json:"sorts,omitempty"`
	Properties   []string             `json:"properties,omitempty"`
	Limit        int                  `json:"limit"`
	After        string               `json:"after,omitempty"`
}

// hubspotFilterGroup is a group of filters combined with AND.
type hubspotFilterGroup struct {
	Filters []hubspotFilter `json:"filters"`
}

type hubspotFilter struct {
	PropertyName string `json:"propertyName"`
	Operator     string `json:"operator"`
	Value        string `json:"value,omitempty"`
}

type hubspotSort struct {
	PropertyName string `json:"propertyName"`
	Direction    string `json:"direction"`
}

type hubspotSearchResponse struct {
	Total   int             `json:"total"`
	Results []hubspotObject `json:"results"`
	Paging  *struct {
		Next struct {
			After string `json:"after"`
		} `json:"next"`
	} `json:"paging,omitempty"`
}

// hubspotListResponse is the body of GET /crm/v3/objects/{type}.
type hubspotListResponse struct {
	Results []hubspotObject `json:"results"`
}

// hubspotProperty is a property definition from /crm/v3/properties/{type}.
type hubspotProperty struct {
	Name                 string                       `json:"name"`
	Label                string                       `json:"label"`
	Type                 string                       `json:"type"`
	FieldType            string                       `json:"fieldType"`
	Description          string                       `json:"description"`
	Options              []hubspotPropertyOption      `json:"options"`
	Hidden               bool                         `json:"hidden"`
	Calculated           bool                         `json:"calculated"`
	HubspotDefined       bool                         `json:"hubspotDefined"`
	ModificationMetadata *hubspotModificationMetadata `json:"modificationMetadata,omitempty"`
}

type hubspotPropertyOption struct {
	Label        string `json:"label"`
	Value        string `json:"value"`
	DisplayOrder int    `json:"displayOrder"`
	Hidden       bool   `json:"hidden"`
}

type hubspotModificationMetadata struct {
	ReadOnlyValue bool `json:"readOnlyValue"`
}

type hubspotPropertiesResponse struct {
	Results []hubspotProperty `json:"results"`
}

// hubspotError is the standard HubSpot error payload.
type hubspotError struct {
	Status        string               `json:"status"`
	Message       string               `json:"message"`
	CorrelationID string               `json:"correlationId"`
	Category      string               `json:"category"`
	Context       map[string][]string  `json:"context,omitempty"`
	Errors        []hubspotErrorDetail `json:"errors,omitempty"`
}

type hubspotErrorDetail struct {
	Message string              `json:"message"`
	Context map[string][]string `json:"context,omitempty"`
}

// HubSpot error categories the classifier cares about.
const (
	hubspotCategoryMissingScopes = "MISSING_SCOPES"
	hubspotCategoryRateLimits    = "RATE_LIMITS"
)
