package graph

import (
	"context"
	"fmt"
	"sync"
	"time"
)

// mockEventsAPI is an in-memory EventsAPI holding one event list per mailbox.
type mockEventsAPI struct {
	mu     sync.Mutex
	events map[string][]Event // mailbox → events
	nextID int

	failList   bool
	failFind   bool
	failCreate bool
	failUpdate bool
	failDelete bool

	creates int
	updates int
	deletes int
}

func newMockEventsAPI() *mockEventsAPI {
	return &mockEventsAPI{events: make(map[string][]Event)}
}

func (m *mockEventsAPI) seed(mailbox string, events ...Event) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for i := range events {
		m.nextID++
		if events[i].ID == "" {
			events[i].ID = fmt.Sprintf("ev-%d", m.nextID)
		}
	}
	m.events[mailbox] = append(m.events[mailbox], events...)
}

func (m *mockEventsAPI) ListCalendarView(_ context.Context, mailbox string, start, end time.Time) ([]Event, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.failList {
		return nil, fmt.Errorf("list failed")
	}

	var out []Event
	for _, ev := range m.events[mailbox] {
		if ev.Start.Before(end) && ev.End.After(start) {
			out = append(out, ev)
		}
	}
	return out, nil
}

func (m *mockEventsAPI) FindBySourceID(_ context.Context, mailbox, sourceID string) ([]Event, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.failFind {
		return nil, fmt.Errorf("find failed")
	}

	var out []Event
	for _, ev := range m.events[mailbox] {
		if ev.SourceID == sourceID {
			out = append(out, ev)
		}
	}
	return out, nil
}

func (m *mockEventsAPI) CreateEvent(_ context.Context, mailbox string, ev Event) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.failCreate {
		return "", fmt.Errorf("create failed")
	}

	m.nextID++
	m.creates++
	ev.ID = fmt.Sprintf("ev-%d", m.nextID)
	m.events[mailbox] = append(m.events[mailbox], ev)
	return ev.ID, nil
}

func (m *mockEventsAPI) UpdateEvent(_ context.Context, mailbox, eventID string, ev Event) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.failUpdate {
		return fmt.Errorf("update failed")
	}

	events := m.events[mailbox]
	for i := range events {
		if events[i].ID == eventID {
			ev.ID = eventID
			events[i] = ev
			m.updates++
			return nil
		}
	}
	return fmt.Errorf("event %q not found in %s", eventID, mailbox)
}

func (m *mockEventsAPI) DeleteEvent(_ context.Context, mailbox, eventID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.failDelete {
		return fmt.Errorf("delete failed")
	}

	events := m.events[mailbox]
	for i := range events {
		if events[i].ID == eventID {
			m.events[mailbox] = append(events[:i], events[i+1:]...)
			m.deletes++
			return nil
		}
	}
	return fmt.Errorf("event %q not found in %s", eventID, mailbox)
}

func (m *mockEventsAPI) eventsIn(mailbox string) []Event {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]Event, len(m.events[mailbox]))
	copy(out, m.events[mailbox])
	return out
}
