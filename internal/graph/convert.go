package graph

import (
	"time"

	"github.com/microsoftgraph/msgraph-sdk-go/models"
)

// graphTimeLayout is the fractional-seconds layout Graph uses for the
// dateTime part of dateTimeTimeZone values.
const graphTimeLayout = "2006-01-02T15:04:05.9999999"

func ptr[T any](v T) *T { return &v }

// eventFromSDK flattens an SDK event into a plain [Event]. Missing optional
// fields become zero values; marker properties are pulled out of the
// expanded singleValueExtendedProperties collection.
func eventFromSDK(raw models.Eventable) Event {
	var ev Event

	if v := raw.GetId(); v != nil {
		ev.ID = *v
	}
	if v := raw.GetICalUId(); v != nil {
		ev.ICalUID = *v
	}
	if v := raw.GetSubject(); v != nil {
		ev.Subject = *v
	}
	if body := raw.GetBody(); body != nil && body.GetContent() != nil {
		ev.BodyText = *body.GetContent()
	}
	if loc := raw.GetLocation(); loc != nil && loc.GetDisplayName() != nil {
		ev.Location = *loc.GetDisplayName()
	}

	ev.Start = parseGraphTime(raw.GetStart())
	ev.End = parseGraphTime(raw.GetEnd())

	if v := raw.GetIsAllDay(); v != nil {
		ev.AllDay = *v
	}
	if v := raw.GetIsCancelled(); v != nil {
		ev.IsCancelled = *v
	}
	ev.Categories = raw.GetCategories()

	if org := raw.GetOrganizer(); org != nil {
		if addr := org.GetEmailAddress(); addr != nil && addr.GetAddress() != nil {
			ev.Organizer = *addr.GetAddress()
		}
	}

	for _, att := range raw.GetAttendees() {
		addr := att.GetEmailAddress()
		if addr == nil || addr.GetAddress() == nil {
			continue
		}
		if t := att.GetTypeEscaped(); t != nil && *t == models.OPTIONAL_ATTENDEETYPE {
			ev.OptionalAttendees = append(ev.OptionalAttendees, *addr.GetAddress())
		} else {
			ev.RequiredAttendees = append(ev.RequiredAttendees, *addr.GetAddress())
		}
	}

	if rec := raw.GetRecurrence(); rec != nil {
		ev.IsRecurring = true
		if pat := rec.GetPattern(); pat != nil && pat.GetTypeEscaped() != nil {
			ev.RecurrencePattern = pat.GetTypeEscaped().String()
		}
	}

	if v := raw.GetLastModifiedDateTime(); v != nil {
		ev.LastModified = v.UTC()
	}

	for _, prop := range raw.GetSingleValueExtendedProperties() {
		if prop.GetId() == nil || prop.GetValue() == nil {
			continue
		}
		switch *prop.GetId() {
		case PropSourceID:
			ev.SourceID = *prop.GetValue()
		case PropSourceLastModified:
			ev.SourceLastModified = *prop.GetValue()
		}
	}

	return ev
}

// sdkEventFromEvent builds the SDK event body for a create or full-overwrite
// patch. Attendees and organizer are intentionally never set: the mirrored
// copy must not send invitations from the destination mailbox.
func sdkEventFromEvent(ev Event) *models.Event {
	out := models.NewEvent()

	out.SetSubject(ptr(ev.Subject))

	body := models.NewItemBody()
	body.SetContentType(ptr(models.TEXT_BODYTYPE))
	body.SetContent(ptr(ev.BodyText))
	out.SetBody(body)

	if ev.Location != "" {
		loc := models.NewLocation()
		loc.SetDisplayName(ptr(ev.Location))
		out.SetLocation(loc)
	}

	out.SetStart(dateTimeTimeZone(ev.Start))
	out.SetEnd(dateTimeTimeZone(ev.End))
	out.SetIsAllDay(ptr(ev.AllDay))

	if len(ev.Categories) > 0 {
		out.SetCategories(ev.Categories)
	}

	// A mirror copy never needs a reminder popup or an RSVP.
	out.SetIsReminderOn(ptr(false))
	out.SetResponseRequested(ptr(false))

	srcID := models.NewSingleValueLegacyExtendedProperty()
	srcID.SetId(ptr(PropSourceID))
	srcID.SetValue(ptr(ev.SourceID))

	srcMod := models.NewSingleValueLegacyExtendedProperty()
	srcMod.SetId(ptr(PropSourceLastModified))
	srcMod.SetValue(ptr(ev.SourceLastModified))

	out.SetSingleValueExtendedProperties([]models.SingleValueLegacyExtendedPropertyable{srcID, srcMod})

	return out
}

// dateTimeTimeZone converts a time to Graph's dateTimeTimeZone shape, always
// in UTC.
func dateTimeTimeZone(t time.Time) *models.DateTimeTimeZone {
	dtz := models.NewDateTimeTimeZone()
	dtz.SetDateTime(ptr(t.UTC().Format(graphTimeLayout)))
	dtz.SetTimeZone(ptr("UTC"))
	return dtz
}

// parseGraphTime parses a dateTimeTimeZone value. Graph reports event times
// in UTC unless a Prefer header says otherwise, so the zone name is treated
// as UTC; an unparsable value yields the zero time.
func parseGraphTime(dtz models.DateTimeTimeZoneable) time.Time {
	if dtz == nil || dtz.GetDateTime() == nil {
		return time.Time{}
	}
	v := *dtz.GetDateTime()

	for _, layout := range []string{graphTimeLayout, "2006-01-02T15:04:05", time.RFC3339} {
		if t, err := time.Parse(layout, v); err == nil {
			return t.UTC()
		}
	}
	return time.Time{}
}
