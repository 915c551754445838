package ews

import (
	"encoding/xml"
	"strings"
	"testing"
	"time"
)

const sampleGetItemResponse = `<?xml version="1.0" encoding="utf-8"?>
<s:Envelope xmlns:s="http://schemas.xmlsoap.org/soap/envelope/">
  <s:Body>
    <m:GetItemResponse xmlns:m="http://schemas.microsoft.com/exchange/services/2006/messages"
                       xmlns:t="http://schemas.microsoft.com/exchange/services/2006/types">
      <m:ResponseMessages>
        <m:GetItemResponseMessage ResponseClass="Success">
          <m:ResponseCode>NoError</m:ResponseCode>
          <m:Items>
            <t:CalendarItem>
              <t:ItemId Id="AAMkAGI2..." ChangeKey="DwAAABYA"/>
              <t:Subject>Quarterly review</t:Subject>
              <t:Body BodyType="Text">Bring the numbers.</t:Body>
              <t:Categories>
                <t:String>Finance</t:String>
                <t:String>Important</t:String>
              </t:Categories>
              <t:LastModifiedTime>2026-08-20T10:15:00Z</t:LastModifiedTime>
              <t:UID>040000008200E00074C5B7101A82E008</t:UID>
              <t:Start>2026-09-01T09:00:00Z</t:Start>
              <t:End>2026-09-01T10:30:00Z</t:End>
              <t:IsAllDayEvent>false</t:IsAllDayEvent>
              <t:IsCancelled>false</t:IsCancelled>
              <t:IsRecurring>true</t:IsRecurring>
              <t:Location>Room 4.01</t:Location>
              <t:Organizer>
                <t:Mailbox>
                  <t:Name>Alex Chef</t:Name>
                  <t:EmailAddress>alex@corp.example</t:EmailAddress>
                </t:Mailbox>
              </t:Organizer>
              <t:RequiredAttendees>
                <t:Attendee>
                  <t:Mailbox>
                    <t:Name>Kim</t:Name>
                    <t:EmailAddress>kim@corp.example</t:EmailAddress>
                  </t:Mailbox>
                </t:Attendee>
              </t:RequiredAttendees>
              <t:OptionalAttendees>
                <t:Attendee>
                  <t:Mailbox>
                    <t:EmailAddress>sam@corp.example</t:EmailAddress>
                  </t:Mailbox>
                </t:Attendee>
              </t:OptionalAttendees>
              <t:Recurrence>
                <t:WeeklyRecurrence>
                  <t:Interval>1</t:Interval>
                  <t:DaysOfWeek>Tuesday</t:DaysOfWeek>
                </t:WeeklyRecurrence>
              </t:Recurrence>
            </t:CalendarItem>
          </m:Items>
        </m:GetItemResponseMessage>
      </m:ResponseMessages>
    </m:GetItemResponse>
  </s:Body>
</s:Envelope>`

func decodeSampleItem(t *testing.T) calendarItemXML {
	t.Helper()
	var env getItemEnvelope
	if err := xml.Unmarshal([]byte(sampleGetItemResponse), &env); err != nil {
		t.Fatalf("unmarshal sample response: %v", err)
	}
	if len(env.Messages) != 1 || len(env.Messages[0].Items) != 1 {
		t.Fatalf("expected one message with one item, got %+v", env.Messages)
	}
	return env.Messages[0].Items[0]
}

func TestItemFromXML(t *testing.T) {
	item, err := itemFromXML(decodeSampleItem(t), "alex@corp.example")
	if err != nil {
		t.Fatalf("itemFromXML: %v", err)
	}

	if item.ID != "040000008200E00074C5B7101A82E008" {
		t.Errorf("ID = %q, want the calendar UID", item.ID)
	}
	if item.Subject != "Quarterly review" {
		t.Errorf("Subject = %q", item.Subject)
	}
	if item.Body != "Bring the numbers." {
		t.Errorf("Body = %q", item.Body)
	}
	if item.Location != "Room 4.01" {
		t.Errorf("Location = %q", item.Location)
	}
	if item.Categories != "Finance,Important" {
		t.Errorf("Categories = %q", item.Categories)
	}
	if item.Organizer != "alex@corp.example" {
		t.Errorf("Organizer = %q", item.Organizer)
	}
	if len(item.RequiredAttendees) != 1 || item.RequiredAttendees[0] != "kim@corp.example" {
		t.Errorf("RequiredAttendees = %v", item.RequiredAttendees)
	}
	if len(item.OptionalAttendees) != 1 || item.OptionalAttendees[0] != "sam@corp.example" {
		t.Errorf("OptionalAttendees = %v", item.OptionalAttendees)
	}

	wantStart := time.Date(2026, 9, 1, 9, 0, 0, 0, time.UTC)
	if !item.Start.Equal(wantStart) {
		t.Errorf("Start = %v, want %v", item.Start, wantStart)
	}
	wantModified := time.Date(2026, 8, 20, 10, 15, 0, 0, time.UTC)
	if !item.LastModified.Equal(wantModified) {
		t.Errorf("LastModified = %v, want %v", item.LastModified, wantModified)
	}

	if !item.IsRecurring {
		t.Error("IsRecurring = false, want true")
	}
	if item.RecurrencePattern != "weekly on Tuesday" {
		t.Errorf("RecurrencePattern = %q", item.RecurrencePattern)
	}
	if item.Cancelled {
		t.Error("Cancelled = true, want false")
	}
	if item.SourceMailbox != "alex@corp.example" {
		t.Errorf("SourceMailbox = %q", item.SourceMailbox)
	}
}

func TestItemFromXMLRejectsMissingUID(t *testing.T) {
	ci := decodeSampleItem(t)
	ci.UID = ""
	if _, err := itemFromXML(ci, "alex@corp.example"); err == nil {
		t.Fatal("expected error for item without UID")
	}
}

func TestItemFromXMLRejectsBadTimes(t *testing.T) {
	ci := decodeSampleItem(t)
	ci.Start = "not-a-time"
	if _, err := itemFromXML(ci, "alex@corp.example"); err == nil {
		t.Fatal("expected error for unparsable start time")
	}
}

func TestItemFromXMLFallsBackToStartForLastModified(t *testing.T) {
	ci := decodeSampleItem(t)
	ci.LastModifiedTime = ""
	item, err := itemFromXML(ci, "alex@corp.example")
	if err != nil {
		t.Fatalf("itemFromXML: %v", err)
	}
	if !item.LastModified.Equal(item.Start) {
		t.Errorf("LastModified = %v, want fallback to Start %v", item.LastModified, item.Start)
	}
}

func TestRecurrencePatternLabels(t *testing.T) {
	tests := []struct {
		name string
		rec  recurrenceXML
		want string
	}{
		{"none", recurrenceXML{}, ""},
		{"daily", recurrenceXML{Daily: &recurrenceInterval{Interval: 1}}, "daily"},
		{"weekly plain", recurrenceXML{Weekly: &weeklyRecurrence{Interval: 2}}, "weekly"},
		{"weekly with days", recurrenceXML{Weekly: &weeklyRecurrence{Interval: 1, DaysOfWeek: "Monday Friday"}}, "weekly on Monday Friday"},
		{"monthly", recurrenceXML{AbsoluteMonthly: &recurrenceInterval{Interval: 1}}, "monthly"},
		{"yearly", recurrenceXML{AbsoluteYearly: &struct{}{}}, "yearly"},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			if got := tc.rec.pattern(); got != tc.want {
				t.Errorf("pattern() = %q, want %q", got, tc.want)
			}
		})
	}
}

func TestBuildRequestsEscapeMailbox(t *testing.T) {
	req := buildFindItemRequest("a&b@corp.example", "2026-08-19T00:00:00Z", "2026-10-25T00:00:00Z", 512)
	if !strings.Contains(req, "a&amp;b@corp.example") {
		t.Error("mailbox address was not XML-escaped")
	}
	if strings.Contains(req, "a&b@") {
		t.Error("raw ampersand leaked into the envelope")
	}
	if !strings.Contains(req, "<t:SmtpAddress>a&amp;b@corp.example</t:SmtpAddress>") {
		t.Error("impersonation header missing the mailbox address")
	}
}
