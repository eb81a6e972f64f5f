package crm

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/crmgateway/backend/internal/domain/integration"
)

// hubspotEngagement describes how one activity type is stored in HubSpot.
type hubspotEngagement struct {
	objectPath      string
	subjectProperty string
	bodyProperty    string
	// HUBSPOT_DEFINED association type ids from the engagement to each record
	toContact int
	toCompany int
	toDeal    int
}

var hubspotEngagements = map[integration.ActivityType]hubspotEngagement{
	integration.ActivityTypeNote:    {"notes", "", "hs_note_body", 202, 190, 214},
	integration.ActivityTypeCall:    {"calls", "hs_call_title", "hs_call_body", 194, 182, 206},
	integration.ActivityTypeEmail:   {"emails", "hs_email_subject", "hs_email_text", 198, 186, 210},
	integration.ActivityTypeMeeting: {"meetings", "hs_meeting_title", "hs_meeting_body", 200, 188, 212},
	integration.ActivityTypeTask:    {"tasks", "hs_task_subject", "hs_task_body", 204, 192, 216},
}

// hubspotActivityOrder fixes the query order of GetActivities.
var hubspotActivityOrder = []integration.ActivityType{
	integration.ActivityTypeNote,
	integration.ActivityTypeCall,
	integration.ActivityTypeEmail,
	integration.ActivityTypeMeeting,
	integration.ActivityTypeTask,
}

const hubspotAssociationCategory = "HUBSPOT_DEFINED"

// LogActivity creates an engagement and associates it with the given records.
func (a *HubSpotAdapter) LogActivity(ctx context.Context, activity integration.Activity) (*integration.Activity, error) {
	if activity.Type == "" {
		activity.Type = integration.ActivityTypeNote
	}
	eng, ok := hubspotEngagements[activity.Type]
	if !ok {
		return nil, &integration.ValidationError{Fields: map[string]string{"type": fmt.Sprintf("unsupported activity type %q", activity.Type)}}
	}
	if activity.OccurredAt.IsZero() {
		activity.OccurredAt = time.Now().UTC()
	}

	input := hubspotObjectInput{
		Properties:   activityProperties(eng, activity),
		Associations: activityAssociations(eng, activity),
	}
	obj, err := a.createObject(ctx, eng.objectPath, input)
	if err != nil {
		return nil, err
	}

	logged := activityFromHubSpot(activity.Type, eng, obj)
	logged.ContactID = activity.ContactID
	logged.CompanyID = activity.CompanyID
	logged.DealID = activity.DealID
	return &logged, nil
}

// GetActivities searches every engagement type by association, newest first.
func (a *HubSpotAdapter) GetActivities(ctx context.Context, filter integration.ActivityFilter) ([]integration.Activity, error) {
	var filters []hubspotFilter
	filters = appendFilter(filters, "associations.contact", hubspotOpEQ, filter.ContactID)
	filters = appendFilter(filters, "associations.company", hubspotOpEQ, filter.CompanyID)

	var activities []integration.Activity
	for _, activityType := range hubspotActivityOrder {
		eng := hubspotEngagements[activityType]

		properties := []string{"hs_timestamp", eng.bodyProperty}
		if eng.subjectProperty != "" {
			properties = append(properties, eng.subjectProperty)
		}
		req := newSearchRequest(filters, properties, integration.DefaultSearchLimit)
		req.Sorts = []hubspotSort{{PropertyName: "hs_timestamp", Direction: "DESCENDING"}}

		objs, err := a.searchObjects(ctx, eng.objectPath, req)
		if err != nil {
			return nil, err
		}
		for i := range objs {
			act := activityFromHubSpot(activityType, eng, &objs[i])
			act.ContactID = filter.ContactID
			act.CompanyID = filter.CompanyID
			activities = append(activities, act)
		}
	}

	sort.SliceStable(activities, func(i, j int) bool {
		return activities[i].OccurredAt.After(activities[j].OccurredAt)
	})
	return activities, nil
}

func activityProperties(eng hubspotEngagement, activity integration.Activity) map[string]string {
	props := propertiesFromExtra(activity.Extra)
	props["hs_timestamp"] = activity.OccurredAt.UTC().Format(time.RFC3339)
	setProp(props, eng.bodyProperty, activity.Body)
	if eng.subjectProperty != "" {
		setProp(props, eng.subjectProperty, activity.Subject)
	}
	switch activity.Type {
	case integration.ActivityTypeEmail:
		if _, ok := props["hs_email_direction"]; !ok {
			props["hs_email_direction"] = "EMAIL"
		}
	case integration.ActivityTypeMeeting:
		if _, ok := props["hs_meeting_start_time"]; !ok {
			props["hs_meeting_start_time"] = props["hs_timestamp"]
		}
	}
	return props
}

func activityAssociations(eng hubspotEngagement, activity integration.Activity) []hubspotAssociationRequest {
	var assocs []hubspotAssociationRequest
	add := func(id string, typeID int) {
		if id == "" {
			return
		}
		assocs = append(assocs, hubspotAssociationRequest{
			To: hubspotAssociationTarget{ID: id},
			Types: []hubspotAssociationType{{
				AssociationCategory: hubspotAssociationCategory,
				AssociationTypeID:   typeID,
			}},
		})
	}
	add(activity.ContactID, eng.toContact)
	add(activity.CompanyID, eng.toCompany)
	add(activity.DealID, eng.toDeal)
	return assocs
}

func activityFromHubSpot(activityType integration.ActivityType, eng hubspotEngagement, obj *hubspotObject) integration.Activity {
	props := obj.Properties
	act := integration.Activity{
		ID:    obj.ID,
		Type:  activityType,
		Body:  propString(props, eng.bodyProperty),
		Extra: extraFromProperties(props),
	}
	if eng.subjectProperty != "" {
		act.Subject = propString(props, eng.subjectProperty)
	}
	if ts := parseHubSpotTime(propString(props, "hs_timestamp")); ts != nil {
		act.OccurredAt = *ts
	} else if created := parseHubSpotTime(obj.CreatedAt); created != nil {
		act.OccurredAt = *created
	}
	return act
}
