// Package model defines shared types used across the reconciliation engine
// and the source/destination adapters.
package model

import (
	"strings"
	"time"
)

// SourceType identifies which adapter serves a mapping's source mailbox.
type SourceType string

const (
	// SourceOnPremise is a classic Exchange server reached via EWS.
	SourceOnPremise SourceType = "onpremise"
	// SourceOnline is an Exchange Online mailbox reached via Microsoft Graph.
	SourceOnline SourceType = "online"
)

// Valid reports whether t is one of the known source types.
func (t SourceType) Valid() bool {
	return t == SourceOnPremise || t == SourceOnline
}

// CalendarItem is the normalised representation of a calendar entry shared
// between the source adapters, the destination adapter, and the engine.
//
// ID is the item's stable identifier within its source mailbox (the
// iCalendar UID as reported by the provider). It is the join key for change
// detection and orphan deletion and must not change across fetches.
type CalendarItem struct {
	ID string

	Subject  string
	Body     string
	Location string

	// Start and End are UTC-normalised.
	Start  time.Time
	End    time.Time
	AllDay bool

	RequiredAttendees []string
	OptionalAttendees []string
	Organizer         string

	// Categories is the comma-joined category list.
	Categories string

	IsRecurring       bool
	RecurrencePattern string

	// LastModified is the provider-reported modification time, UTC.
	// Compared against the destination marker for change detection.
	LastModified time.Time

	SourceMailbox string

	// DestinationMailbox and MappingLabel are stamped by the engine before
	// the item is dispatched to the destination adapter.
	DestinationMailbox string
	MappingLabel       string

	// Cancelled marks occurrences the source reports as cancelled. The
	// engine deletes these from the destination instead of syncing them.
	Cancelled bool
}

// MailboxMapping pairs a source mailbox with the destination mailbox its
// calendar is mirrored into. Loaded once per cycle from configuration and
// immutable during the cycle.
type MailboxMapping struct {
	Name               string
	SourceMailbox      string
	DestinationMailbox string
	SourceType         SourceType
}

// Label returns the mapping's display name, deriving
// "localpart(source) -> localpart(destination)" when no name is configured.
func (m MailboxMapping) Label() string {
	if m.Name != "" {
		return m.Name
	}
	return localPart(m.SourceMailbox) + " -> " + localPart(m.DestinationMailbox)
}

func localPart(addr string) string {
	if i := strings.IndexByte(addr, '@'); i >= 0 {
		return addr[:i]
	}
	return addr
}

// Outcome is the result of syncing a single item to the destination.
type Outcome int

const (
	// OutcomeFailed means the write (or the lookup before it) failed.
	OutcomeFailed Outcome = iota
	// OutcomeCreated means a new destination event was created.
	OutcomeCreated
	// OutcomeUpdated means an existing destination event was rewritten.
	OutcomeUpdated
	// OutcomeNoChange means the stored marker was already current.
	OutcomeNoChange
)

// String returns the human-readable label for the outcome.
func (o Outcome) String() string {
	switch o {
	case OutcomeCreated:
		return "Created"
	case OutcomeUpdated:
		return "Updated"
	case OutcomeNoChange:
		return "NoChange"
	default:
		return "Failed"
	}
}
