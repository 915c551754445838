package graph

import (
	"testing"
	"time"

	"github.com/microsoftgraph/msgraph-sdk-go/models"
)

func TestParseGraphTime(t *testing.T) {
	tests := []struct {
		name     string
		dateTime string
		want     time.Time
	}{
		{
			name:     "fractional seconds",
			dateTime: "2026-09-01T09:30:00.0000000",
			want:     time.Date(2026, 9, 1, 9, 30, 0, 0, time.UTC),
		},
		{
			name:     "plain seconds",
			dateTime: "2026-09-01T09:30:00",
			want:     time.Date(2026, 9, 1, 9, 30, 0, 0, time.UTC),
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			dtz := models.NewDateTimeTimeZone()
			dtz.SetDateTime(&tt.dateTime)
			tz := "UTC"
			dtz.SetTimeZone(&tz)

			if got := parseGraphTime(dtz); !got.Equal(tt.want) {
				t.Errorf("parseGraphTime(%q) = %v, want %v", tt.dateTime, got, tt.want)
			}
		})
	}

	if got := parseGraphTime(nil); !got.IsZero() {
		t.Errorf("parseGraphTime(nil) = %v, want zero", got)
	}

	bad := models.NewDateTimeTimeZone()
	s := "not a time"
	bad.SetDateTime(&s)
	if got := parseGraphTime(bad); !got.IsZero() {
		t.Errorf("parseGraphTime(garbage) = %v, want zero", got)
	}
}

func TestEventRoundTripThroughSDK(t *testing.T) {
	in := Event{
		Subject:            "Planning",
		BodyText:           "Quarterly planning",
		Location:           "Room A",
		Start:              time.Date(2026, 9, 1, 9, 0, 0, 0, time.UTC),
		End:                time.Date(2026, 9, 1, 10, 0, 0, 0, time.UTC),
		AllDay:             false,
		Categories:         []string{"Internal"},
		SourceID:           "uid-1",
		SourceLastModified: "2026-08-20T12:00:00Z",
	}

	out := eventFromSDK(sdkEventFromEvent(in))

	if out.Subject != in.Subject || out.BodyText != in.BodyText || out.Location != in.Location {
		t.Errorf("text fields lost: %+v", out)
	}
	if !out.Start.Equal(in.Start) || !out.End.Equal(in.End) {
		t.Errorf("times lost: start %v end %v", out.Start, out.End)
	}
	if len(out.Categories) != 1 || out.Categories[0] != "Internal" {
		t.Errorf("categories lost: %v", out.Categories)
	}
	if out.SourceID != "uid-1" || out.SourceLastModified != "2026-08-20T12:00:00Z" {
		t.Errorf("markers lost: %q / %q", out.SourceID, out.SourceLastModified)
	}
}

func TestSDKEventNeverCarriesAttendees(t *testing.T) {
	ev := sdkEventFromEvent(Event{
		Subject:           "Planning",
		RequiredAttendees: []string{"alice@corp.example"},
		Organizer:         "bob@corp.example",
		Start:             time.Now(),
		End:               time.Now().Add(time.Hour),
	})

	if len(ev.GetAttendees()) != 0 {
		t.Error("destination event body must not contain attendees")
	}
	if ev.GetOrganizer() != nil {
		t.Error("destination event body must not contain an organizer")
	}
	if on := ev.GetIsReminderOn(); on == nil || *on {
		t.Error("reminder must be off on mirrored events")
	}
}

func TestEscapeODataLiteral(t *testing.T) {
	if got := escapeODataLiteral("O'Brien"); got != "O''Brien" {
		t.Errorf("escapeODataLiteral = %q", got)
	}
}
