package status

import (
	"sync"
	"testing"
	"time"
)

func TestTryAcquire_Exclusive(t *testing.T) {
	tr := NewTracker()

	if !tr.TryAcquire() {
		t.Fatal("first TryAcquire must succeed")
	}
	if tr.TryAcquire() {
		t.Fatal("second TryAcquire must fail while held")
	}

	tr.Release()
	if !tr.TryAcquire() {
		t.Fatal("TryAcquire must succeed after Release")
	}
}

func TestTryAcquire_Concurrent(t *testing.T) {
	tr := NewTracker()

	const attempts = 32
	var wg sync.WaitGroup
	acquired := make(chan struct{}, attempts)

	for range attempts {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if tr.TryAcquire() {
				acquired <- struct{}{}
			}
		}()
	}
	wg.Wait()
	close(acquired)

	var n int
	for range acquired {
		n++
	}
	if n != 1 {
		t.Errorf("concurrent TryAcquire succeeded %d times, want exactly 1", n)
	}
}

func TestStartEndSync(t *testing.T) {
	tr := NewTracker()

	tr.StartSync()
	if !tr.IsRunning() {
		t.Error("IsRunning = false after StartSync")
	}

	tr.EndSync()
	if tr.IsRunning() {
		t.Error("IsRunning = true after EndSync")
	}
	if tr.Snapshot().LastSync.IsZero() {
		t.Error("EndSync must record LastSync")
	}
}

func TestUpdateMailboxStatus_Accumulates(t *testing.T) {
	tr := NewTracker()

	tr.UpdateMailboxStatusDetailed("rooma -> room-a", 10, 3, 2, 1, 4, 1, "Completed with errors")
	tr.UpdateMailboxStatusDetailed("rooma -> room-a", 5, 1, 0, 0, 4, 0, "Completed")

	snap := tr.Snapshot()
	ms, ok := snap.Mailboxes["rooma -> room-a"]
	if !ok {
		t.Fatal("mailbox status missing from snapshot")
	}

	if ms.Evaluated != 15 || ms.Created != 4 || ms.Updated != 2 || ms.Deleted != 1 || ms.Unchanged != 8 || ms.Errors != 1 {
		t.Errorf("accumulated counters wrong: %+v", ms)
	}
	if ms.Status != "Completed" {
		t.Errorf("Status = %q, want latest value", ms.Status)
	}

	if snap.ItemsSynced != 6 { // created + updated across both calls
		t.Errorf("ItemsSynced = %d, want 6", snap.ItemsSynced)
	}
	if snap.Errors != 1 {
		t.Errorf("Errors = %d, want 1", snap.Errors)
	}
}

func TestUpdateMailboxStatus_Brief(t *testing.T) {
	tr := NewTracker()
	tr.UpdateMailboxStatus("info -> info", 2, 1, "Failed: connection refused")

	ms := tr.Snapshot().Mailboxes["info -> info"]
	if ms.Created != 2 || ms.Errors != 1 {
		t.Errorf("brief update counters wrong: %+v", ms)
	}
	if ms.Status != "Failed: connection refused" {
		t.Errorf("Status = %q", ms.Status)
	}
}

func TestSnapshot_IsACopy(t *testing.T) {
	tr := NewTracker()
	tr.UpdateMailboxStatus("a -> a", 1, 0, "Completed")

	snap := tr.Snapshot()
	entry := snap.Mailboxes["a -> a"]
	entry.Created = 999
	snap.Mailboxes["a -> a"] = entry

	if tr.Snapshot().Mailboxes["a -> a"].Created != 1 {
		t.Error("mutating a snapshot must not affect tracker state")
	}
}

func TestSyncEnabledToggle(t *testing.T) {
	tr := NewTracker()
	if !tr.IsSyncEnabled() {
		t.Error("sync must start enabled")
	}
	tr.SetSyncEnabled(false)
	if tr.IsSyncEnabled() {
		t.Error("SetSyncEnabled(false) not applied")
	}
}

func TestSetNextSync(t *testing.T) {
	tr := NewTracker()
	next := time.Now().Add(5 * time.Minute)
	tr.SetNextSync(next)
	if !tr.Snapshot().NextSync.Equal(next) {
		t.Error("NextSync not recorded")
	}
}
