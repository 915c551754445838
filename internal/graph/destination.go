package graph

import (
	"context"
	"log/slog"
	"strings"
	"time"

	"github.com/calmirror/calmirror/internal/model"
)

// Destination writes normalised calendar items into Exchange Online
// mailboxes, tracking each copy through the marker extended properties.
//
// Business-level failures never surface as errors: SyncItem returns
// [model.OutcomeFailed], DeleteItem returns false, and ListSyncedSourceIDs
// returns an empty list — the engine turns all of these into counters.
type Destination struct {
	api EventsAPI
	log *slog.Logger
}

// NewDestination creates a Destination writing through the given Graph client.
func NewDestination(api EventsAPI, logger *slog.Logger) *Destination {
	return &Destination{api: api, log: logger}
}

// SyncItem creates or updates the destination copy of item.
//
// The existing copy is looked up by the source-identifier marker. When one
// is found and force is false, the item is only written if its last-modified
// timestamp is strictly greater than the stored marker timestamp; otherwise
// the call returns [model.OutcomeNoChange] without touching the mailbox.
func (d *Destination) SyncItem(ctx context.Context, item *model.CalendarItem, force bool) model.Outcome {
	matches, err := d.api.FindBySourceID(ctx, item.DestinationMailbox, item.ID)
	if err != nil {
		d.log.Error("marker lookup failed",
			"mapping", item.MappingLabel,
			"source_id", item.ID,
			"error", err,
		)
		return model.OutcomeFailed
	}

	if len(matches) > 1 {
		// At most one destination event per marker is an invariant the
		// write path maintains; more than one match means something else
		// wrote duplicates. Use the first and surface the rest in the log.
		d.log.Warn("multiple destination events share one marker, using first",
			"mapping", item.MappingLabel,
			"source_id", item.ID,
			"matches", len(matches),
		)
	}

	if len(matches) > 0 {
		existing := matches[0]

		if !force && !modifiedSince(item, existing.SourceLastModified) {
			return model.OutcomeNoChange
		}

		if err := d.api.UpdateEvent(ctx, item.DestinationMailbox, existing.ID, destinationEvent(item)); err != nil {
			d.log.Error("updating destination event failed",
				"mapping", item.MappingLabel,
				"source_id", item.ID,
				"subject", item.Subject,
				"error", err,
			)
			return model.OutcomeFailed
		}
		return model.OutcomeUpdated
	}

	if _, err := d.api.CreateEvent(ctx, item.DestinationMailbox, destinationEvent(item)); err != nil {
		d.log.Error("creating destination event failed",
			"mapping", item.MappingLabel,
			"source_id", item.ID,
			"subject", item.Subject,
			"error", err,
		)
		return model.OutcomeFailed
	}
	return model.OutcomeCreated
}

// DeleteItem removes the destination event carrying the given source
// identifier. A missing event counts as success (the delete is idempotent);
// false is returned only when the adapter itself failed.
func (d *Destination) DeleteItem(ctx context.Context, destinationMailbox, sourceID, label string) bool {
	matches, err := d.api.FindBySourceID(ctx, destinationMailbox, sourceID)
	if err != nil {
		d.log.Error("marker lookup for delete failed",
			"mapping", label,
			"source_id", sourceID,
			"error", err,
		)
		return false
	}
	if len(matches) == 0 {
		return true
	}
	if len(matches) > 1 {
		d.log.Warn("multiple destination events share one marker, deleting first",
			"mapping", label,
			"source_id", sourceID,
			"matches", len(matches),
		)
	}

	if err := d.api.DeleteEvent(ctx, destinationMailbox, matches[0].ID); err != nil {
		d.log.Error("deleting destination event failed",
			"mapping", label,
			"source_id", sourceID,
			"error", err,
		)
		return false
	}
	return true
}

// ListSyncedSourceIDs enumerates the source identifiers marked on
// destination events within the window. Failures degrade to an empty list
// (logged) so the rest of reconciliation keeps going.
func (d *Destination) ListSyncedSourceIDs(ctx context.Context, destinationMailbox string, start, end time.Time, label string) []string {
	events, err := d.api.ListCalendarView(ctx, destinationMailbox, start, end)
	if err != nil {
		d.log.Error("listing destination markers failed",
			"mapping", label,
			"mailbox", destinationMailbox,
			"error", err,
		)
		return nil
	}

	seen := make(map[string]bool, len(events))
	ids := make([]string, 0, len(events))
	for _, ev := range events {
		if ev.SourceID == "" || seen[ev.SourceID] {
			continue
		}
		seen[ev.SourceID] = true
		ids = append(ids, ev.SourceID)
	}
	return ids
}

// modifiedSince reports whether the incoming item is strictly newer than the
// stored marker timestamp. An unparsable marker forces a write so the event
// gets a valid marker back.
func modifiedSince(item *model.CalendarItem, storedMarker string) bool {
	stored, err := time.Parse(time.RFC3339, storedMarker)
	if err != nil {
		return true
	}
	return item.LastModified.After(stored)
}

// destinationEvent builds the attachment-free, attendee-free destination
// copy of item, with both marker properties set.
func destinationEvent(item *model.CalendarItem) Event {
	return Event{
		Subject:            item.Subject,
		BodyText:           item.Body,
		Location:           item.Location,
		Start:              item.Start,
		End:                item.End,
		AllDay:             item.AllDay,
		Categories:         splitCategories(item.Categories),
		SourceID:           item.ID,
		SourceLastModified: item.LastModified.UTC().Format(time.RFC3339),
	}
}

func splitCategories(joined string) []string {
	if joined == "" {
		return nil
	}
	parts := strings.Split(joined, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}
