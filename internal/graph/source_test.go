package graph

import (
	"context"
	"log/slog"
	"testing"
	"time"
)

func TestSourceFetch_Normalises(t *testing.T) {
	api := newMockEventsAPI()
	start := time.Date(2026, 9, 1, 9, 0, 0, 0, time.UTC)
	api.seed("rooma@corp.example", Event{
		ICalUID:           "uid-1",
		Subject:           "Standup",
		BodyText:          "Daily standup",
		Location:          "Room A",
		Start:             start,
		End:               start.Add(30 * time.Minute),
		Categories:        []string{"Internal", "Recurring"},
		Organizer:         "alice@corp.example",
		RequiredAttendees: []string{"bob@corp.example"},
		IsRecurring:       true,
		RecurrencePattern: "daily",
		LastModified:      start.Add(-24 * time.Hour),
	})

	src := NewSource(api, slog.Default())
	items, err := src.Fetch(context.Background(), "rooma@corp.example", start.Add(-time.Hour), start.Add(time.Hour), "test")
	if err != nil {
		t.Fatalf("Fetch: %v", err)
	}
	if len(items) != 1 {
		t.Fatalf("items = %d, want 1", len(items))
	}

	item := items[0]
	if item.ID != "uid-1" {
		t.Errorf("ID = %q, want the iCalendar UID", item.ID)
	}
	if item.Categories != "Internal,Recurring" {
		t.Errorf("Categories = %q, want comma-joined", item.Categories)
	}
	if item.SourceMailbox != "rooma@corp.example" {
		t.Errorf("SourceMailbox = %q", item.SourceMailbox)
	}
	if !item.IsRecurring || item.RecurrencePattern != "daily" {
		t.Errorf("recurrence not carried over: %+v", item)
	}
}

func TestSourceFetch_SkipsUnparsableItems(t *testing.T) {
	api := newMockEventsAPI()
	start := time.Date(2026, 9, 1, 9, 0, 0, 0, time.UTC)
	api.seed("rooma@corp.example",
		// No iCalUID → skipped, not fatal.
		Event{Subject: "broken", Start: start, End: start.Add(time.Hour)},
		Event{ICalUID: "uid-2", Subject: "ok", Start: start, End: start.Add(time.Hour), LastModified: start},
	)

	src := NewSource(api, slog.Default())
	items, err := src.Fetch(context.Background(), "rooma@corp.example", start.Add(-time.Hour), start.Add(2*time.Hour), "test")
	if err != nil {
		t.Fatalf("Fetch must not fail on per-item errors: %v", err)
	}
	if len(items) != 1 || items[0].ID != "uid-2" {
		t.Errorf("items = %+v, want only uid-2", items)
	}
}

func TestSourceFetch_CancelledItemsAreFlaggedNotDropped(t *testing.T) {
	api := newMockEventsAPI()
	start := time.Date(2026, 9, 1, 9, 0, 0, 0, time.UTC)
	api.seed("rooma@corp.example", Event{
		ICalUID:      "uid-1",
		Subject:      "Cancelled: Standup",
		Start:        start,
		End:          start.Add(time.Hour),
		LastModified: start,
		IsCancelled:  true,
	})

	src := NewSource(api, slog.Default())
	items, err := src.Fetch(context.Background(), "rooma@corp.example", start.Add(-time.Hour), start.Add(2*time.Hour), "test")
	if err != nil {
		t.Fatalf("Fetch: %v", err)
	}
	if len(items) != 1 || !items[0].Cancelled {
		t.Errorf("cancelled occurrence must be returned with the flag set, got %+v", items)
	}
}

func TestSourceFetch_ConnectionFailurePropagates(t *testing.T) {
	api := newMockEventsAPI()
	api.failList = true

	src := NewSource(api, slog.Default())
	if _, err := src.Fetch(context.Background(), "rooma@corp.example", time.Now(), time.Now().Add(time.Hour), "test"); err == nil {
		t.Fatal("connection-level failure must propagate")
	}
}

func TestSourceFetch_MissingLastModifiedFallsBackToStart(t *testing.T) {
	api := newMockEventsAPI()
	start := time.Date(2026, 9, 1, 9, 0, 0, 0, time.UTC)
	api.seed("rooma@corp.example", Event{
		ICalUID: "uid-1",
		Start:   start,
		End:     start.Add(time.Hour),
	})

	src := NewSource(api, slog.Default())
	items, err := src.Fetch(context.Background(), "rooma@corp.example", start.Add(-time.Hour), start.Add(2*time.Hour), "test")
	if err != nil {
		t.Fatalf("Fetch: %v", err)
	}
	if !items[0].LastModified.Equal(start) {
		t.Errorf("LastModified = %v, want fallback to start %v", items[0].LastModified, start)
	}
}
