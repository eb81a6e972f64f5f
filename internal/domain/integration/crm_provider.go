package integration

import (
	"context"
	"time"

	"github.com/shopspring/decimal"
)

// ---------------------------------------------------------------------------
// ObjectType represents the normalized CRM entity kinds
// ---------------------------------------------------------------------------

// ObjectType is one of the gateway's normalized CRM entity kinds
type ObjectType string

const (
	ObjectTypeContact  ObjectType = "contact"
	ObjectTypeCompany  ObjectType = "company"
	ObjectTypeDeal     ObjectType = "deal"
	ObjectTypeActivity ObjectType = "activity"
)

// DiscoverableObjectTypes are the types discovered when no type is given.
var DiscoverableObjectTypes = []ObjectType{ObjectTypeContact, ObjectTypeCompany, ObjectTypeDeal}

// IsValid returns true if the object type is known
func (t ObjectType) IsValid() bool {
	switch t {
	case ObjectTypeContact, ObjectTypeCompany, ObjectTypeDeal, ObjectTypeActivity:
		return true
	default:
		return false
	}
}

// String returns the string representation of ObjectType
func (t ObjectType) String() string {
	return string(t)
}

// ParseObjectType parses s, returning ErrInvalidObjectType for unknown values.
func ParseObjectType(s string) (ObjectType, error) {
	t := ObjectType(s)
	if !t.IsValid() {
		return "", ErrInvalidObjectType
	}
	return t, nil
}

// ---------------------------------------------------------------------------
// CRM records
// ---------------------------------------------------------------------------

// Contact is a CRM person record. Extra holds every provider-native property,
// including the ones hoisted into the typed fields.
type Contact struct {
	ID        string
	Email     string
	FirstName string
	LastName  string
	Phone     string
	Company   string
	JobTitle  string
	CreatedAt *time.Time
	UpdatedAt *time.Time
	Extra     map[string]any
}

// Company is a CRM organization record.
type Company struct {
	ID        string
	Name      string
	Domain    string
	Industry  string
	Phone     string
	City      string
	Country   string
	CreatedAt *time.Time
	UpdatedAt *time.Time
	Extra     map[string]any
}

// Deal is a CRM opportunity record.
type Deal struct {
	ID        string
	Name      string
	Amount    *decimal.Decimal
	Stage     string
	Pipeline  string
	CloseDate *time.Time
	CreatedAt *time.Time
	UpdatedAt *time.Time
	Extra     map[string]any
}

// ActivityType enumerates loggable engagement kinds
type ActivityType string

const (
	ActivityTypeNote    ActivityType = "note"
	ActivityTypeCall    ActivityType = "call"
	ActivityTypeEmail   ActivityType = "email"
	ActivityTypeMeeting ActivityType = "meeting"
	ActivityTypeTask    ActivityType = "task"
)

// IsValid returns true if the activity type is known
func (t ActivityType) IsValid() bool {
	switch t {
	case ActivityTypeNote, ActivityTypeCall, ActivityTypeEmail, ActivityTypeMeeting, ActivityTypeTask:
		return true
	default:
		return false
	}
}

// Activity is an engagement logged against CRM records.
type Activity struct {
	ID         string
	Type       ActivityType
	Subject    string
	Body       string
	OccurredAt time.Time
	ContactID  string
	CompanyID  string
	DealID     string
	Extra      map[string]any
}

// ActivityFilter scopes GetActivities. Both fields empty means no filter.
type ActivityFilter struct {
	ContactID string
	CompanyID string
}

// ---------------------------------------------------------------------------
// Search
// ---------------------------------------------------------------------------

const (
	DefaultSearchLimit = 10
	MaxSearchLimit     = 100
)

// SearchQuery is a provider-neutral predicate bag. Empty predicates match
// everything and return a bounded page.
type SearchQuery struct {
	Email  string
	Phone  string
	Name   string
	Domain string
	Stage  string
	Limit  int
}

// IsEmpty reports whether no predicate is set
func (q SearchQuery) IsEmpty() bool {
	return q.Email == "" && q.Phone == "" && q.Name == "" && q.Domain == "" && q.Stage == ""
}

// EffectiveLimit clamps Limit to [1, MaxSearchLimit], defaulting to DefaultSearchLimit.
func (q SearchQuery) EffectiveLimit() int {
	switch {
	case q.Limit <= 0:
		return DefaultSearchLimit
	case q.Limit > MaxSearchLimit:
		return MaxSearchLimit
	default:
		return q.Limit
	}
}

// ---------------------------------------------------------------------------
// Provider port
// ---------------------------------------------------------------------------

// Provider is implemented by every CRM vendor adapter. Every method may block
// on network I/O and fail independently. Implementations classify failures
// into the package error taxonomy and never retry on their own.
type Provider interface {
	CRMType() CRMType

	Authenticate(ctx context.Context, creds Credentials) error
	RefreshAuthentication(ctx context.Context) error
	// Credentials returns the current in-memory credentials, including any
	// tokens obtained by RefreshAuthentication.
	Credentials() Credentials
	Disconnect(ctx context.Context) error

	DiscoverFields(ctx context.Context, objectType ObjectType) ([]DiscoveredField, error)

	GetContact(ctx context.Context, id string) (*Contact, error)
	SearchContacts(ctx context.Context, query SearchQuery) ([]Contact, error)
	CreateContact(ctx context.Context, contact Contact) (*Contact, error)
	UpdateContact(ctx context.Context, id string, contact Contact) (*Contact, error)

	GetCompany(ctx context.Context, id string) (*Company, error)
	SearchCompanies(ctx context.Context, query SearchQuery) ([]Company, error)
	CreateCompany(ctx context.Context, company Company) (*Company, error)
	UpdateCompany(ctx context.Context, id string, company Company) (*Company, error)

	GetDeal(ctx context.Context, id string) (*Deal, error)
	SearchDeals(ctx context.Context, query SearchQuery) ([]Deal, error)
	CreateDeal(ctx context.Context, deal Deal) (*Deal, error)
	UpdateDeal(ctx context.Context, id string, deal Deal) (*Deal, error)

	LogActivity(ctx context.Context, activity Activity) (*Activity, error)
	GetActivities(ctx context.Context, filter ActivityFilter) ([]Activity, error)
}

// ProviderFactory builds an unauthenticated provider for one connection.
type ProviderFactory interface {
	NewProvider(crmType CRMType, config map[string]any) (Provider, error)
}
