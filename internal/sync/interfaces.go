// Package sync implements the one-way reconciliation engine for calmirror.
// It pulls calendar items from source mailboxes, mirrors them into their
// destination mailboxes via marker-based change detection, and deletes
// cancelled and orphaned destination copies.
//
// The package contains two main components:
//
//   - [Reconciler] performs a single batch over all configured mappings.
//   - [Engine] runs the scheduled loop and serves manual triggers, both
//     gated by the status tracker's cycle lock.
package sync

import (
	"context"
	"time"

	"github.com/calmirror/calmirror/internal/model"
	"github.com/calmirror/calmirror/internal/state"
)

// Source fetches the calendar items of one mailbox within a window.
// Implemented by [graph.Source] ("online") and [ews.Adapter] ("onpremise").
type Source interface {
	Fetch(ctx context.Context, mailbox string, start, end time.Time, label string) ([]*model.CalendarItem, error)
}

// Destination writes mirrored items into Exchange Online mailboxes.
// Implemented by [graph.Destination]. Business failures surface as outcomes
// and booleans, never as errors (the reconciler turns them into counters).
type Destination interface {
	SyncItem(ctx context.Context, item *model.CalendarItem, force bool) model.Outcome
	DeleteItem(ctx context.Context, destinationMailbox, sourceID, label string) bool
	ListSyncedSourceIDs(ctx context.Context, destinationMailbox string, start, end time.Time, label string) []string
}

// StateStore persists per-mailbox sync cursors across restarts.
// Implemented by [state.Store].
type StateStore interface {
	Load(ctx context.Context) (*state.SyncState, error)
	Save(ctx context.Context, st *state.SyncState) error
}

// RunRecorder persists completed batches for the history endpoint.
// Implemented by [history.Store]. Recording is best-effort; a failure is
// logged and never fails the cycle.
type RunRecorder interface {
	RecordRun(ctx context.Context, run RunRecord) error
}

// RunRecord describes one completed batch.
type RunRecord struct {
	ID        string
	Trigger   string // "scheduled" or "manual"
	Force     bool
	StartedAt time.Time
	Duration  time.Duration
	Stats     Stats
	Results   []MappingResult
}
