package ews

import (
	"fmt"
	"strings"
	"time"

	"github.com/calmirror/calmirror/internal/model"
)

// itemFromXML normalises a decoded EWS calendar item. The calendar UID is
// the stable identifier shared with the Graph side; items without one (or
// without usable times) are rejected.
func itemFromXML(ci calendarItemXML, mailbox string) (*model.CalendarItem, error) {
	if ci.UID == "" {
		return nil, fmt.Errorf("item has no UID")
	}

	start, err := parseEWSTime(ci.Start)
	if err != nil {
		return nil, fmt.Errorf("item %q has unusable start time: %w", ci.Subject, err)
	}
	end, err := parseEWSTime(ci.End)
	if err != nil {
		return nil, fmt.Errorf("item %q has unusable end time: %w", ci.Subject, err)
	}

	lastModified, err := parseEWSTime(ci.LastModifiedTime)
	if err != nil {
		// Without a modification stamp every cycle would rewrite the item;
		// fall back to the start time so change detection stays stable.
		lastModified = start
	}

	body := ci.Body.Text
	if ci.Body.BodyType == "HTML" {
		// Text shape was requested, but some servers answer HTML anyway.
		body = strings.TrimSpace(body)
	}

	return &model.CalendarItem{
		ID:                ci.UID,
		Subject:           ci.Subject,
		Body:              body,
		Location:          ci.Location,
		Start:             start.UTC(),
		End:               end.UTC(),
		AllDay:            ci.IsAllDayEvent,
		RequiredAttendees: attendeeAddresses(ci.RequiredAttendees),
		OptionalAttendees: attendeeAddresses(ci.OptionalAttendees),
		Organizer:         ci.Organizer.Mailbox.EmailAddress,
		Categories:        strings.Join(ci.Categories, ","),
		IsRecurring:       ci.IsRecurring || ci.Recurrence.present(),
		RecurrencePattern: ci.Recurrence.pattern(),
		LastModified:      lastModified.UTC(),
		SourceMailbox:     mailbox,
		Cancelled:         ci.IsCancelled,
	}, nil
}

func attendeeAddresses(attendees []attendeeXML) []string {
	if len(attendees) == 0 {
		return nil
	}
	out := make([]string, 0, len(attendees))
	for _, a := range attendees {
		if a.Mailbox.EmailAddress != "" {
			out = append(out, a.Mailbox.EmailAddress)
		}
	}
	return out
}

// parseEWSTime accepts the UTC forms Exchange emits for calendar fields.
func parseEWSTime(value string) (time.Time, error) {
	if value == "" {
		return time.Time{}, fmt.Errorf("empty timestamp")
	}
	for _, layout := range []string{ewsTimeLayout, time.RFC3339} {
		if t, err := time.Parse(layout, value); err == nil {
			return t, nil
		}
	}
	return time.Time{}, fmt.Errorf("unparsable timestamp %q", value)
}
