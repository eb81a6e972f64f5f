package crm

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/crmgateway/backend/internal/domain/integration"
)

// Default properties requested on reads, per object type.
var (
	hubspotContactProperties = []string{"email", "firstname", "lastname", "phone", "company", "jobtitle", "createdate", "lastmodifieddate"}
	hubspotCompanyProperties = []string{"name", "domain", "industry", "phone", "city", "country", "createdate", "hs_lastmodifieddate"}
	hubspotDealProperties    = []string{"dealname", "amount", "dealstage", "pipeline", "closedate", "createdate", "hs_lastmodifieddate"}
)

// Search operators
const (
	hubspotOpEQ            = "EQ"
	hubspotOpContainsToken = "CONTAINS_TOKEN"
)

// ---------------------------------------------------------------------------
// Contacts
// ---------------------------------------------------------------------------

// GetContact fetches one contact by HubSpot id
func (a *HubSpotAdapter) GetContact(ctx context.Context, id string) (*integration.Contact, error) {
	obj, err := a.getObject(ctx, "contacts", id, hubspotContactProperties)
	if err != nil {
		return nil, err
	}
	contact := contactFromHubSpot(obj)
	return &contact, nil
}

// SearchContacts matches on email, phone or free-text name.
func (a *HubSpotAdapter) SearchContacts(ctx context.Context, query integration.SearchQuery) ([]integration.Contact, error) {
	var filters []hubspotFilter
	filters = appendFilter(filters, "email", hubspotOpEQ, query.Email)
	filters = appendFilter(filters, "phone", hubspotOpEQ, query.Phone)

	req := newSearchRequest(filters, hubspotContactProperties, query.EffectiveLimit())
	req.Query = query.Name

	objs, err := a.searchObjects(ctx, "contacts", req)
	if err != nil {
		return nil, err
	}
	contacts := make([]integration.Contact, 0, len(objs))
	for i := range objs {
		contacts = append(contacts, contactFromHubSpot(&objs[i]))
	}
	return contacts, nil
}

// CreateContact creates a contact from the typed fields plus Extra
func (a *HubSpotAdapter) CreateContact(ctx context.Context, contact integration.Contact) (*integration.Contact, error) {
	obj, err := a.createObject(ctx, "contacts", hubspotObjectInput{Properties: contactProperties(contact)})
	if err != nil {
		return nil, err
	}
	created := contactFromHubSpot(obj)
	return &created, nil
}

// UpdateContact patches only the non-empty fields
func (a *HubSpotAdapter) UpdateContact(ctx context.Context, id string, contact integration.Contact) (*integration.Contact, error) {
	obj, err := a.updateObject(ctx, "contacts", id, contactProperties(contact))
	if err != nil {
		return nil, err
	}
	updated := contactFromHubSpot(obj)
	return &updated, nil
}

func contactFromHubSpot(obj *hubspotObject) integration.Contact {
	props := obj.Properties
	return integration.Contact{
		ID:        obj.ID,
		Email:     propString(props, "email"),
		FirstName: propString(props, "firstname"),
		LastName:  propString(props, "lastname"),
		Phone:     propString(props, "phone"),
		Company:   propString(props, "company"),
		JobTitle:  propString(props, "jobtitle"),
		CreatedAt: parseHubSpotTime(obj.CreatedAt),
		UpdatedAt: parseHubSpotTime(obj.UpdatedAt),
		Extra:     extraFromProperties(props),
	}
}

func contactProperties(c integration.Contact) map[string]string {
	props := propertiesFromExtra(c.Extra)
	setProp(props, "email", c.Email)
	setProp(props, "firstname", c.FirstName)
	setProp(props, "lastname", c.LastName)
	setProp(props, "phone", c.Phone)
	setProp(props, "company", c.Company)
	setProp(props, "jobtitle", c.JobTitle)
	return props
}

// ---------------------------------------------------------------------------
// Companies
// ---------------------------------------------------------------------------

// GetCompany fetches one company by HubSpot id
func (a *HubSpotAdapter) GetCompany(ctx context.Context, id string) (*integration.Company, error) {
	obj, err := a.getObject(ctx, "companies", id, hubspotCompanyProperties)
	if err != nil {
		return nil, err
	}
	company := companyFromHubSpot(obj)
	return &company, nil
}

// SearchCompanies matches on name tokens, domain or phone.
func (a *HubSpotAdapter) SearchCompanies(ctx context.Context, query integration.SearchQuery) ([]integration.Company, error) {
	var filters []hubspotFilter
	filters = appendFilter(filters, "name", hubspotOpContainsToken, query.Name)
	filters = appendFilter(filters, "domain", hubspotOpEQ, query.Domain)
	filters = appendFilter(filters, "phone", hubspotOpEQ, query.Phone)

	objs, err := a.searchObjects(ctx, "companies", newSearchRequest(filters, hubspotCompanyProperties, query.EffectiveLimit()))
	if err != nil {
		return nil, err
	}
	companies := make([]integration.Company, 0, len(objs))
	for i := range objs {
		companies = append(companies, companyFromHubSpot(&objs[i]))
	}
	return companies, nil
}

// CreateCompany creates a company
func (a *HubSpotAdapter) CreateCompany(ctx context.Context, company integration.Company) (*integration.Company, error) {
	obj, err := a.createObject(ctx, "companies", hubspotObjectInput{Properties: companyProperties(company)})
	if err != nil {
		return nil, err
	}
	created := companyFromHubSpot(obj)
	return &created, nil
}

// UpdateCompany patches only the non-empty fields
func (a *HubSpotAdapter) UpdateCompany(ctx context.Context, id string, company integration.Company) (*integration.Company, error) {
	obj, err := a.updateObject(ctx, "companies", id, companyProperties(company))
	if err != nil {
		return nil, err
	}
	updated := companyFromHubSpot(obj)
	return &updated, nil
}

func companyFromHubSpot(obj *hubspotObject) integration.Company {
	props := obj.Properties
	return integration.Company{
		ID:        obj.ID,
		Name:      propString(props, "name"),
		Domain:    propString(props, "domain"),
		Industry:  propString(props, "industry"),
		Phone:     propString(props, "phone"),
		City:      propString(props, "city"),
		Country:   propString(props, "country"),
		CreatedAt: parseHubSpotTime(obj.CreatedAt),
		UpdatedAt: parseHubSpotTime(obj.UpdatedAt),
		Extra:     extraFromProperties(props),
	}
}

func companyProperties(c integration.Company) map[string]string {
	props := propertiesFromExtra(c.Extra)
	setProp(props, "name", c.Name)
	setProp(props, "domain", c.Domain)
	setProp(props, "industry", c.Industry)
	setProp(props, "phone", c.Phone)
	setProp(props, "city", c.City)
	setProp(props, "country", c.Country)
	return props
}

// ---------------------------------------------------------------------------
// Deals
// ---------------------------------------------------------------------------

// GetDeal fetches one deal by HubSpot id
func (a *HubSpotAdapter) GetDeal(ctx context.Context, id string) (*integration.Deal, error) {
	obj, err := a.getObject(ctx, "deals", id, hubspotDealProperties)
	if err != nil {
		return nil, err
	}
	deal := dealFromHubSpot(obj)
	return &deal, nil
}

// SearchDeals matches on name tokens and stage.
func (a *HubSpotAdapter) SearchDeals(ctx context.Context, query integration.SearchQuery) ([]integration.Deal, error) {
	var filters []hubspotFilter
	filters = appendFilter(filters, "dealname", hubspotOpContainsToken, query.Name)
	filters = appendFilter(filters, "dealstage", hubspotOpEQ, query.Stage)

	objs, err := a.searchObjects(ctx, "deals", newSearchRequest(filters, hubspotDealProperties, query.EffectiveLimit()))
	if err != nil {
		return nil, err
	}
	deals := make([]integration.Deal, 0, len(objs))
	for i := range objs {
		deals = append(deals, dealFromHubSpot(&objs[i]))
	}
	return deals, nil
}

// CreateDeal creates a deal
func (a *HubSpotAdapter) CreateDeal(ctx context.Context, deal integration.Deal) (*integration.Deal, error) {
	obj, err := a.createObject(ctx, "deals", hubspotObjectInput{Properties: dealProperties(deal)})
	if err != nil {
		return nil, err
	}
	created := dealFromHubSpot(obj)
	return &created, nil
}

// UpdateDeal patches only the non-empty fields
func (a *HubSpotAdapter) UpdateDeal(ctx context.Context, id string, deal integration.Deal) (*integration.Deal, error) {
	obj, err := a.updateObject(ctx, "deals", id, dealProperties(deal))
	if err != nil {
		return nil, err
	}
	updated := dealFromHubSpot(obj)
	return &updated, nil
}

func dealFromHubSpot(obj *hubspotObject) integration.Deal {
	props := obj.Properties
	deal := integration.Deal{
		ID:        obj.ID,
		Name:      propString(props, "dealname"),
		Stage:     propString(props, "dealstage"),
		Pipeline:  propString(props, "pipeline"),
		CloseDate: parseHubSpotTime(propString(props, "closedate")),
		CreatedAt: parseHubSpotTime(obj.CreatedAt),
		UpdatedAt: parseHubSpotTime(obj.UpdatedAt),
		Extra:     extraFromProperties(props),
	}
	if raw := propString(props, "amount"); raw != "" {
		if amount, err := decimal.NewFromString(raw); err == nil {
			deal.Amount = &amount
		}
	}
	return deal
}

func dealProperties(d integration.Deal) map[string]string {
	props := propertiesFromExtra(d.Extra)
	setProp(props, "dealname", d.Name)
	setProp(props, "dealstage", d.Stage)
	setProp(props, "pipeline", d.Pipeline)
	if d.Amount != nil {
		props["amount"] = d.Amount.String()
	}
	if d.CloseDate != nil {
		props["closedate"] = d.CloseDate.UTC().Format(time.RFC3339)
	}
	return props
}

// ---------------------------------------------------------------------------
// Object helpers
// ---------------------------------------------------------------------------

func (a *HubSpotAdapter) getObject(ctx context.Context, objectPath, id string, properties []string) (*hubspotObject, error) {
	if strings.TrimSpace(id) == "" {
		return nil, &integration.ValidationError{Fields: map[string]string{"id": "is required"}}
	}
	q := url.Values{}
	q.Set("properties", strings.Join(properties, ","))

	var obj hubspotObject
	path := fmt.Sprintf("/crm/v3/objects/%s/%s?%s", objectPath, url.PathEscape(id), q.Encode())
	if err := a.doJSON(ctx, http.MethodGet, path, nil, &obj); err != nil {
		return nil, err
	}
	return &obj, nil
}

func (a *HubSpotAdapter) searchObjects(ctx context.Context, objectPath string, req hubspotSearchRequest) ([]hubspotObject, error) {
	var resp hubspotSearchResponse
	if err := a.doJSON(ctx, http.MethodPost, "/crm/v3/objects/"+objectPath+"/search", req, &resp); err != nil {
		return nil, err
	}
	return resp.Results, nil
}

func (a *HubSpotAdapter) createObject(ctx context.Context, objectPath string, input hubspotObjectInput) (*hubspotObject, error) {
	var obj hubspotObject
	if err := a.doJSON(ctx, http.MethodPost, "/crm/v3/objects/"+objectPath, input, &obj); err != nil {
		return nil, err
	}
	return &obj, nil
}

func (a *HubSpotAdapter) updateObject(ctx context.Context, objectPath, id string, properties map[string]string) (*hubspotObject, error) {
	if strings.TrimSpace(id) == "" {
		return nil, &integration.ValidationError{Fields: map[string]string{"id": "is required"}}
	}
	var obj hubspotObject
	path := "/crm/v3/objects/" + objectPath + "/" + url.PathEscape(id)
	if err := a.doJSON(ctx, http.MethodPatch, path, hubspotObjectInput{Properties: properties}, &obj); err != nil {
		return nil, err
	}
	return &obj, nil
}

// newSearchRequest builds a single AND filter group. No filters means an
// unfiltered page of at most limit records.
func newSearchRequest(filters []hubspotFilter, properties []string, limit int) hubspotSearchRequest {
	req := hubspotSearchRequest{
		Properties: properties,
		Limit:      limit,
	}
	if len(filters) > 0 {
		req.FilterGroups = []hubspotFilterGroup{{Filters: filters}}
	}
	return req
}

func appendFilter(filters []hubspotFilter, property, operator, value string) []hubspotFilter {
	value = strings.TrimSpace(value)
	if value == "" {
		return filters
	}
	return append(filters, hubspotFilter{PropertyName: property, Operator: operator, Value: value})
}

func propString(props map[string]*string, key string) string {
	if v, ok := props[key]; ok && v != nil {
		return *v
	}
	return ""
}

// extraFromProperties exposes every vendor property, nulls included.
func extraFromProperties(props map[string]*string) map[string]any {
	extra := make(map[string]any, len(props))
	for k, v := range props {
		if v == nil {
			extra[k] = nil
			continue
		}
		extra[k] = *v
	}
	return extra
}

// propertiesFromExtra flattens Extra into a HubSpot property bag. Typed
// fields set afterwards take precedence.
func propertiesFromExtra(extra map[string]any) map[string]string {
	props := make(map[string]string, len(extra)+8)
	for k, v := range extra {
		switch val := v.(type) {
		case nil:
			continue
		case string:
			props[k] = val
		case bool:
			props[k] = strconv.FormatBool(val)
		case time.Time:
			props[k] = val.UTC().Format(time.RFC3339)
		case fmt.Stringer:
			props[k] = val.String()
		default:
			props[k] = fmt.Sprint(val)
		}
	}
	return props
}

func setProp(props map[string]string, key, value string) {
	if value != "" {
		props[key] = value
	}
}

// parseHubSpotTime accepts RFC 3339 timestamps, plain dates and epoch millis.
func parseHubSpotTime(raw string) *time.Time {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil
	}
	for _, layout := range []string{time.RFC3339Nano, "2006-01-02"} {
		if t, err := time.Parse(layout, raw); err == nil {
			return &t
		}
	}
	if ms, err := strconv.ParseInt(raw, 10, 64); err == nil {
		t := time.UnixMilli(ms).UTC()
		return &t
	}
	return nil
}
