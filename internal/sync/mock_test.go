package sync

import (
	"context"
	"errors"
	"io"
	"log/slog"
	gosync "sync"
	"time"

	"github.com/calmirror/calmirror/internal/model"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// mockSource serves canned items per mailbox and can be told to fail.
type mockSource struct {
	mu      gosync.Mutex
	items   map[string][]*model.CalendarItem
	fail    map[string]bool
	fetches int
}

func newMockSource() *mockSource {
	return &mockSource{
		items: make(map[string][]*model.CalendarItem),
		fail:  make(map[string]bool),
	}
}

func (m *mockSource) set(mailbox string, items ...*model.CalendarItem) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.items[mailbox] = items
}

func (m *mockSource) failFor(mailbox string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.fail[mailbox] = true
}

func (m *mockSource) Fetch(ctx context.Context, mailbox string, start, end time.Time, label string) ([]*model.CalendarItem, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.fetches++
	if m.fail[mailbox] {
		return nil, errors.New("connection refused")
	}
	// Hand out copies so the reconciler's stamping never leaks back into
	// the canned data.
	items := make([]*model.CalendarItem, 0, len(m.items[mailbox]))
	for _, it := range m.items[mailbox] {
		cp := *it
		items = append(items, &cp)
	}
	return items, nil
}

// destEvent is a fake destination copy tracked by its marker.
type destEvent struct {
	sourceID     string
	lastModified time.Time
}

// mockDestination honours the marker contract in memory: strictly newer
// timestamps (or force) write, everything else is NoChange.
type mockDestination struct {
	mu     gosync.Mutex
	events map[string]map[string]*destEvent // mailbox → sourceID → event

	failSync   bool
	failDelete bool
	failList   bool

	// onSync, when set, runs on every SyncItem call before the write.
	onSync func()

	creates int
	updates int
	deletes int
}

func newMockDestination() *mockDestination {
	return &mockDestination{events: make(map[string]map[string]*destEvent)}
}

func (m *mockDestination) mailbox(name string) map[string]*destEvent {
	if m.events[name] == nil {
		m.events[name] = make(map[string]*destEvent)
	}
	return m.events[name]
}

func (m *mockDestination) seed(mailbox, sourceID string, lastModified time.Time) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.mailbox(mailbox)[sourceID] = &destEvent{sourceID: sourceID, lastModified: lastModified}
}

func (m *mockDestination) has(mailbox, sourceID string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.mailbox(mailbox)[sourceID]
	return ok
}

func (m *mockDestination) SyncItem(ctx context.Context, item *model.CalendarItem, force bool) model.Outcome {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.onSync != nil {
		m.onSync()
	}
	if m.failSync {
		return model.OutcomeFailed
	}

	box := m.mailbox(item.DestinationMailbox)
	existing, ok := box[item.ID]
	if ok {
		if !force && !item.LastModified.After(existing.lastModified) {
			return model.OutcomeNoChange
		}
		existing.lastModified = item.LastModified
		m.updates++
		return model.OutcomeUpdated
	}

	box[item.ID] = &destEvent{sourceID: item.ID, lastModified: item.LastModified}
	m.creates++
	return model.OutcomeCreated
}

func (m *mockDestination) DeleteItem(ctx context.Context, destinationMailbox, sourceID, label string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.failDelete {
		return false
	}
	box := m.mailbox(destinationMailbox)
	if _, ok := box[sourceID]; ok {
		delete(box, sourceID)
		m.deletes++
	}
	return true
}

func (m *mockDestination) ListSyncedSourceIDs(ctx context.Context, destinationMailbox string, start, end time.Time, label string) []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.failList {
		return nil
	}
	box := m.mailbox(destinationMailbox)
	ids := make([]string, 0, len(box))
	for id := range box {
		ids = append(ids, id)
	}
	return ids
}

// mockRecorder captures run records handed to it.
type mockRecorder struct {
	mu      gosync.Mutex
	records []RunRecord
	fail    bool
}

func (m *mockRecorder) RecordRun(ctx context.Context, run RunRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.fail {
		return errors.New("history database unavailable")
	}
	m.records = append(m.records, run)
	return nil
}

func (m *mockRecorder) count() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.records)
}
