package sync

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/calmirror/calmirror/internal/model"
	"github.com/calmirror/calmirror/internal/status"
)

const (
	statusCompleted   = "Completed"
	statusWithErrors  = "Completed with errors"
	statusFetchFailed = "Failed"
	statusInterrupted = "Interrupted"
)

// Stats aggregates the counters of one batch across all mappings.
type Stats struct {
	Evaluated int
	Created   int
	Updated   int
	Deleted   int
	Unchanged int
	Errors    int
}

func (s *Stats) add(r MappingResult) {
	s.Evaluated += r.Evaluated
	s.Created += r.Created
	s.Updated += r.Updated
	s.Deleted += r.Deleted
	s.Unchanged += r.Unchanged
	s.Errors += r.Errors
}

// MappingResult is the outcome of reconciling one mapping.
//
// Updated additionally counts successful deletions (a deletion is a kind of
// update for reporting purposes); Deleted tracks them on their own so the
// detailed per-mapping view stays exact.
type MappingResult struct {
	Label     string
	Evaluated int
	Created   int
	Updated   int
	Deleted   int
	Unchanged int
	Errors    int
	Status    string

	// FetchFailed marks mappings whose source could not be read at all.
	// Their cursor is not advanced.
	FetchFailed bool

	// Interrupted marks mappings cut short by cancellation mid-cycle.
	// The counters cover only the items processed before the cut; the
	// cursor is not advanced.
	Interrupted bool
}

// Reconciler performs one full batch over all configured mappings. It is
// stateless between calls; durable state lives in the [StateStore] and the
// markers on the destination events.
type Reconciler struct {
	sources map[model.SourceType]Source
	dest    Destination
	store   StateStore
	tracker *status.Tracker

	lookbackDays    int
	lookforwardDays int
	throttle        time.Duration

	log *slog.Logger
}

// NewReconciler creates a Reconciler wired to the given adapters, state
// store, and status tracker. sources maps each configured source type to its
// adapter; throttle is the fixed pause between destination writes.
func NewReconciler(sources map[model.SourceType]Source, dest Destination, store StateStore, tracker *status.Tracker, lookbackDays, lookforwardDays int, throttle time.Duration, logger *slog.Logger) *Reconciler {
	return &Reconciler{
		sources:         sources,
		dest:            dest,
		store:           store,
		tracker:         tracker,
		lookbackDays:    lookbackDays,
		lookforwardDays: lookforwardDays,
		throttle:        throttle,
		log:             logger,
	}
}

// Run performs one batch: all mappings strictly in order, wrapped in the
// tracker's start/end markers, with state persisted once at the end.
//
// One mapping's failure never aborts the batch; it is recorded in that
// mapping's result and the loop moves on. Run itself errors only on context
// cancellation.
func (r *Reconciler) Run(ctx context.Context, mappings []model.MailboxMapping, force bool) (Stats, []MappingResult, error) {
	started := time.Now()

	r.tracker.StartSync()
	defer r.tracker.EndSync()

	st, err := r.store.Load(ctx)
	if err != nil {
		return Stats{}, nil, fmt.Errorf("loading sync state: %w", err)
	}

	var stats Stats
	results := make([]MappingResult, 0, len(mappings))

	for _, mapping := range mappings {
		if err := ctx.Err(); err != nil {
			return stats, results, err
		}

		res := r.reconcileMapping(ctx, mapping, force)
		stats.add(res)
		results = append(results, res)

		r.tracker.UpdateMailboxStatusDetailed(res.Label,
			res.Evaluated, res.Created, res.Updated, res.Deleted, res.Unchanged, res.Errors,
			res.Status)

		if !res.FetchFailed && !res.Interrupted {
			st.Advance(mapping.SourceMailbox, time.Now().UTC())
		}
	}

	// Persist once per batch, even after partial failures. The cursor is
	// informational; a save failure must not fail the batch.
	if err := r.store.Save(ctx, st); err != nil {
		r.log.Error("persisting sync state failed", "error", err)
	}

	r.log.Info("batch complete",
		"mappings", len(mappings),
		"evaluated", stats.Evaluated,
		"created", stats.Created,
		"updated", stats.Updated,
		"deleted", stats.Deleted,
		"unchanged", stats.Unchanged,
		"errors", stats.Errors,
		"duration", time.Since(started).Round(time.Millisecond),
	)

	return stats, results, nil
}

// reconcileMapping runs the per-mapping cycle: fetch, partition active vs
// cancelled, sync active items, delete cancelled items, delete orphans,
// aggregate.
func (r *Reconciler) reconcileMapping(ctx context.Context, mapping model.MailboxMapping, force bool) MappingResult {
	label := mapping.Label()
	res := MappingResult{Label: label}

	src, ok := r.sources[mapping.SourceType]
	if !ok {
		r.log.Error("no source adapter for mapping",
			"mapping", label, "sourceType", mapping.SourceType)
		res.Errors = 1
		res.Status = statusFetchFailed
		res.FetchFailed = true
		return res
	}

	now := time.Now().UTC()
	windowStart := now.AddDate(0, 0, -r.lookbackDays)
	windowEnd := now.AddDate(0, 0, r.lookforwardDays)

	items, err := src.Fetch(ctx, mapping.SourceMailbox, windowStart, windowEnd, label)
	if err != nil {
		r.log.Error("fetching source mailbox failed",
			"mapping", label, "mailbox", mapping.SourceMailbox, "error", err)
		res.Errors = 1
		res.Status = statusFetchFailed
		res.FetchFailed = true
		return res
	}

	var active, cancelled []*model.CalendarItem
	for _, item := range items {
		if item.Cancelled {
			cancelled = append(cancelled, item)
		} else {
			active = append(active, item)
		}
	}
	res.Evaluated = len(active) + len(cancelled)

	activeIDs := make(map[string]bool, len(active))

	for _, item := range active {
		activeIDs[item.ID] = true
		item.DestinationMailbox = mapping.DestinationMailbox
		item.MappingLabel = label

		switch r.dest.SyncItem(ctx, item, force) {
		case model.OutcomeCreated:
			res.Created++
		case model.OutcomeUpdated:
			res.Updated++
		case model.OutcomeNoChange:
			res.Unchanged++
		default:
			res.Errors++
		}

		if r.pause(ctx) != nil {
			return interrupted(res)
		}
	}

	for _, item := range cancelled {
		if r.dest.DeleteItem(ctx, mapping.DestinationMailbox, item.ID, label) {
			res.Deleted++
			res.Updated++
		} else {
			res.Errors++
		}
		if r.pause(ctx) != nil {
			return interrupted(res)
		}
	}

	// Orphans: markers on the destination whose source id is no longer
	// among the active items. An empty listing (including the degraded
	// empty-on-failure case) simply means no orphans this cycle.
	for _, sourceID := range r.dest.ListSyncedSourceIDs(ctx, mapping.DestinationMailbox, windowStart, windowEnd, label) {
		if activeIDs[sourceID] {
			continue
		}
		r.log.Info("deleting orphaned destination event",
			"mapping", label, "source_id", sourceID)
		if r.dest.DeleteItem(ctx, mapping.DestinationMailbox, sourceID, label) {
			res.Deleted++
			res.Updated++
		} else {
			res.Errors++
		}
		if r.pause(ctx) != nil {
			return interrupted(res)
		}
	}

	r.log.Debug("mapping reconciled",
		"mapping", label,
		"evaluated", res.Evaluated,
		"created", res.Created,
		"updated", res.Updated,
		"deleted", res.Deleted,
		"unchanged", res.Unchanged,
		"errors", res.Errors,
	)

	return finish(res)
}

func finish(res MappingResult) MappingResult {
	if res.Errors > 0 {
		res.Status = statusWithErrors
	} else {
		res.Status = statusCompleted
	}
	return res
}

// interrupted stamps a mapping cut short by cancellation. The partial
// counters stay as they are; the status makes clear they are partial.
func interrupted(res MappingResult) MappingResult {
	res.Status = statusInterrupted
	res.Interrupted = true
	return res
}

// pause sleeps for the inter-write throttle, waking early on cancellation.
func (r *Reconciler) pause(ctx context.Context) error {
	if r.throttle <= 0 {
		return ctx.Err()
	}
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-time.After(r.throttle):
		return nil
	}
}
