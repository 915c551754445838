// Package status tracks the in-memory run state of the reconciliation
// service: running/enabled flags, cumulative counters, per-mapping results,
// and the mutual-exclusion gate that keeps at most one cycle in flight.
package status

import (
	"sync"
	"time"
)

// MailboxStatus holds the accumulated counters for one mapping, keyed by its
// display label.
type MailboxStatus struct {
	Evaluated int       `json:"evaluated"`
	Created   int       `json:"created"`
	Updated   int       `json:"updated"`
	Deleted   int       `json:"deleted"`
	Unchanged int       `json:"unchanged"`
	Errors    int       `json:"errors"`
	LastSync  time.Time `json:"last_sync"`
	Status    string    `json:"status"`
}

// Snapshot is an immutable copy of the tracker state. Callers may hold it
// indefinitely without observing later mutations.
type Snapshot struct {
	Running     bool                     `json:"running"`
	SyncEnabled bool                     `json:"sync_enabled"`
	LastSync    time.Time                `json:"last_sync"`
	NextSync    time.Time                `json:"next_sync"`
	ItemsSynced int                      `json:"items_synced"`
	Errors      int                      `json:"errors"`
	Mailboxes   map[string]MailboxStatus `json:"mailboxes"`
}

// Tracker is the concurrency-safe status record and cycle lock. All
// mutations happen under one mutex so aggregate and per-mailbox counters
// stay consistent with each other.
type Tracker struct {
	mu sync.Mutex

	locked  bool
	running bool
	enabled bool

	lastSync time.Time
	nextSync time.Time

	itemsSynced int
	errors      int
	mailboxes   map[string]*MailboxStatus
}

// NewTracker returns a Tracker with scheduled sync enabled.
func NewTracker() *Tracker {
	return &Tracker{
		enabled:   true,
		mailboxes: make(map[string]*MailboxStatus),
	}
}

// TryAcquire attempts to take the cycle lock without blocking. It returns
// true on success; the caller must then call Release. The lock is not
// reentrant.
func (t *Tracker) TryAcquire() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.locked {
		return false
	}
	t.locked = true
	return true
}

// Release frees the cycle lock.
func (t *Tracker) Release() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.locked = false
}

// StartSync marks the beginning of a reconciliation batch.
func (t *Tracker) StartSync() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.running = true
}

// EndSync marks the end of a batch and records its completion time.
func (t *Tracker) EndSync() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.running = false
	t.lastSync = time.Now().UTC()
}

// IsRunning reports whether a batch is currently in flight.
func (t *Tracker) IsRunning() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.running
}

// IsSyncEnabled reports whether scheduled cycles are enabled.
func (t *Tracker) IsSyncEnabled() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.enabled
}

// SetSyncEnabled toggles scheduled cycles. A running batch is not
// interrupted; the next tick simply skips.
func (t *Tracker) SetSyncEnabled(enabled bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.enabled = enabled
}

// SetNextSync records when the scheduler will fire next.
func (t *Tracker) SetNextSync(next time.Time) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.nextSync = next
}

// UpdateMailboxStatus records a brief result for a mapping: created and
// error counts plus a status string. Counters accumulate.
func (t *Tracker) UpdateMailboxStatus(label string, created, errors int, statusText string) {
	t.UpdateMailboxStatusDetailed(label, 0, created, 0, 0, 0, errors, statusText)
}

// UpdateMailboxStatusDetailed records a full per-mapping result. All counts
// are added to the mapping's running totals; the status string and last-sync
// timestamp are replaced.
func (t *Tracker) UpdateMailboxStatusDetailed(label string, evaluated, created, updated, deleted, unchanged, errors int, statusText string) {
	t.mu.Lock()
	defer t.mu.Unlock()

	ms, ok := t.mailboxes[label]
	if !ok {
		ms = &MailboxStatus{}
		t.mailboxes[label] = ms
	}
	ms.Evaluated += evaluated
	ms.Created += created
	ms.Updated += updated
	ms.Deleted += deleted
	ms.Unchanged += unchanged
	ms.Errors += errors
	ms.LastSync = time.Now().UTC()
	ms.Status = statusText

	t.itemsSynced += created + updated
	t.errors += errors
}

// Snapshot returns a deep copy of the current state.
func (t *Tracker) Snapshot() Snapshot {
	t.mu.Lock()
	defer t.mu.Unlock()

	mailboxes := make(map[string]MailboxStatus, len(t.mailboxes))
	for label, ms := range t.mailboxes {
		mailboxes[label] = *ms
	}
	return Snapshot{
		Running:     t.running,
		SyncEnabled: t.enabled,
		LastSync:    t.lastSync,
		NextSync:    t.nextSync,
		ItemsSynced: t.itemsSynced,
		Errors:      t.errors,
		Mailboxes:   mailboxes,
	}
}
