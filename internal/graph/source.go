package graph

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/calmirror/calmirror/internal/model"
)

// Source fetches calendar items from an Exchange Online mailbox. It is the
// "online" implementation of the engine's source contract; the "onpremise"
// counterpart lives in the ews package.
type Source struct {
	api EventsAPI
	log *slog.Logger
}

// NewSource creates a Source reading through the given Graph client.
func NewSource(api EventsAPI, logger *slog.Logger) *Source {
	return &Source{api: api, log: logger}
}

// Fetch returns the normalised calendar items of mailbox within
// [start, end). It fails only when the mailbox cannot be read at all;
// individual items that cannot be normalised are logged and skipped.
func (s *Source) Fetch(ctx context.Context, mailbox string, start, end time.Time, label string) ([]*model.CalendarItem, error) {
	events, err := s.api.ListCalendarView(ctx, mailbox, start, end)
	if err != nil {
		return nil, fmt.Errorf("fetching calendar for %s: %w", mailbox, err)
	}

	items := make([]*model.CalendarItem, 0, len(events))
	for i := range events {
		item, err := eventToItem(&events[i], mailbox)
		if err != nil {
			s.log.Warn("skipping unparsable event",
				"mapping", label,
				"mailbox", mailbox,
				"subject", events[i].Subject,
				"error", err,
			)
			continue
		}
		items = append(items, item)
	}

	s.log.Debug("source fetch complete", "mapping", label, "mailbox", mailbox, "items", len(items))
	return items, nil
}

// eventToItem normalises a Graph event. The iCalendar UID is the stable
// identifier; an event without one (or without usable times) is rejected.
func eventToItem(ev *Event, mailbox string) (*model.CalendarItem, error) {
	if ev.ICalUID == "" {
		return nil, fmt.Errorf("event has no iCalUId")
	}
	if ev.Start.IsZero() || ev.End.IsZero() {
		return nil, fmt.Errorf("event %q has unusable start or end time", ev.Subject)
	}

	lastModified := ev.LastModified
	if lastModified.IsZero() {
		// Without a modification stamp every cycle would rewrite the item;
		// fall back to the start time so change detection stays stable.
		lastModified = ev.Start
	}

	return &model.CalendarItem{
		ID:                ev.ICalUID,
		Subject:           ev.Subject,
		Body:              ev.BodyText,
		Location:          ev.Location,
		Start:             ev.Start.UTC(),
		End:               ev.End.UTC(),
		AllDay:            ev.AllDay,
		RequiredAttendees: ev.RequiredAttendees,
		OptionalAttendees: ev.OptionalAttendees,
		Organizer:         ev.Organizer,
		Categories:        strings.Join(ev.Categories, ","),
		IsRecurring:       ev.IsRecurring,
		RecurrencePattern: ev.RecurrencePattern,
		LastModified:      lastModified.UTC(),
		SourceMailbox:     mailbox,
		Cancelled:         ev.IsCancelled,
	}, nil
}
