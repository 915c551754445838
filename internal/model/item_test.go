package model

import "testing"

func TestMappingLabel(t *testing.T) {
	tests := []struct {
		name    string
		mapping MailboxMapping
		want    string
	}{
		{
			name: "explicit name wins",
			mapping: MailboxMapping{
				Name:               "Front Desk",
				SourceMailbox:      "frontdesk@corp.example",
				DestinationMailbox: "frontdesk@cloud.example",
			},
			want: "Front Desk",
		},
		{
			name: "derived from local parts",
			mapping: MailboxMapping{
				SourceMailbox:      "rooma@corp.example",
				DestinationMailbox: "room-a@cloud.example",
			},
			want: "rooma -> room-a",
		},
		{
			name: "address without at sign used verbatim",
			mapping: MailboxMapping{
				SourceMailbox:      "rooma",
				DestinationMailbox: "room-a@cloud.example",
			},
			want: "rooma -> room-a",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.mapping.Label(); got != tt.want {
				t.Errorf("Label() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestSourceTypeValid(t *testing.T) {
	if !SourceOnPremise.Valid() || !SourceOnline.Valid() {
		t.Error("known source types must be valid")
	}
	if SourceType("imap").Valid() {
		t.Error("unknown source type must be invalid")
	}
}

func TestOutcomeString(t *testing.T) {
	tests := []struct {
		outcome Outcome
		want    string
	}{
		{OutcomeCreated, "Created"},
		{OutcomeUpdated, "Updated"},
		{OutcomeNoChange, "NoChange"},
		{OutcomeFailed, "Failed"},
		{Outcome(42), "Failed"},
	}
	for _, tt := range tests {
		if got := tt.outcome.String(); got != tt.want {
			t.Errorf("Outcome(%d).String() = %q, want %q", tt.outcome, got, tt.want)
		}
	}
}
