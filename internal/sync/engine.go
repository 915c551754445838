package sync

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	gosync "sync"
	"time"

	"github.com/google/uuid"
	"github.com/robfig/cron/v3"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/metric/noop"
	"go.opentelemetry.io/otel/trace"

	"github.com/calmirror/calmirror/internal/model"
	"github.com/calmirror/calmirror/internal/status"
)

const (
	otelScope       = "calmirror/sync"
	spanCycle       = "sync.cycle"
	metricCreated   = "calmirror.sync.items.created"
	metricUpdated   = "calmirror.sync.items.updated"
	metricDeleted   = "calmirror.sync.items.deleted"
	metricUnchanged = "calmirror.sync.items.unchanged"
	metricErrors    = "calmirror.sync.errors"
)

// ErrSyncInProgress is returned when a cycle cannot start because another
// one holds the lock. Lock contention is an expected outcome, not a fault.
var ErrSyncInProgress = errors.New("a sync cycle is already in progress")

// Engine orchestrates the sync lifecycle: the scheduled loop plus manual
// out-of-band triggers, both funnelled through the tracker's cycle lock so
// at most one cycle runs process-wide. Create one with [NewEngine] and start
// the loop with [Engine.Run].
type Engine struct {
	reconciler *Reconciler
	tracker    *status.Tracker
	recorder   RunRecorder // may be nil
	mappings   []model.MailboxMapping
	interval   time.Duration
	log        *slog.Logger

	mu      gosync.Mutex
	baseCtx context.Context // set by Run; manual triggers inherit it

	// OTel instruments are always non-nil (no-op when telemetry is disabled).
	tracer       trace.Tracer
	cntCreated   metric.Int64Counter
	cntUpdated   metric.Int64Counter
	cntDeleted   metric.Int64Counter
	cntUnchanged metric.Int64Counter
	cntErrors    metric.Int64Counter
}

// NewEngine creates an Engine. recorder may be nil to skip run history.
func NewEngine(reconciler *Reconciler, tracker *status.Tracker, recorder RunRecorder, mappings []model.MailboxMapping, interval time.Duration, logger *slog.Logger) *Engine {
	meter := otel.Meter(otelScope)

	mustCounter := func(name, desc string) metric.Int64Counter {
		c, err := meter.Int64Counter(name, metric.WithDescription(desc))
		if err != nil {
			logger.Error("creating OTel counter", "name", name, "error", err)
			return noop.Int64Counter{}
		}
		return c
	}

	return &Engine{
		reconciler: reconciler,
		tracker:    tracker,
		recorder:   recorder,
		mappings:   mappings,
		interval:   interval,
		log:        logger,

		tracer:       otel.Tracer(otelScope),
		cntCreated:   mustCounter(metricCreated, "Destination events created during sync"),
		cntUpdated:   mustCounter(metricUpdated, "Destination events updated during sync"),
		cntDeleted:   mustCounter(metricDeleted, "Destination events deleted during sync"),
		cntUnchanged: mustCounter(metricUnchanged, "Items skipped as unchanged during sync"),
		cntErrors:    mustCounter(metricErrors, "Errors encountered during sync"),
	}
}

// Run starts the scheduled loop and blocks until ctx is cancelled. An
// immediate first cycle runs before the interval starts ticking. A tick that
// finds sync disabled or the lock held skips entirely; there is no queueing.
func (e *Engine) Run(ctx context.Context) error {
	e.mu.Lock()
	e.baseCtx = ctx
	e.mu.Unlock()

	c := cron.New()
	var entryID cron.EntryID
	entryID, err := c.AddFunc(fmt.Sprintf("@every %s", e.interval), func() {
		e.tick(ctx)
		e.tracker.SetNextSync(c.Entry(entryID).Next)
	})
	if err != nil {
		return fmt.Errorf("scheduling sync every %s: %w", e.interval, err)
	}

	e.tick(ctx)

	c.Start()
	e.tracker.SetNextSync(c.Entry(entryID).Next)
	e.log.Info("sync engine started", "interval", e.interval, "mappings", len(e.mappings))

	<-ctx.Done()

	// Stop returns once the tick currently in flight (if any) has finished.
	<-c.Stop().Done()
	e.log.Info("sync engine shutting down")
	return ctx.Err()
}

// tick runs one scheduled cycle, skipping when sync is disabled or another
// cycle holds the lock.
func (e *Engine) tick(ctx context.Context) {
	if ctx.Err() != nil {
		return
	}
	if !e.tracker.IsSyncEnabled() {
		e.log.Debug("scheduled sync is disabled, skipping tick")
		return
	}
	if !e.tracker.TryAcquire() {
		e.log.Info("previous cycle still running, skipping tick")
		return
	}
	defer e.tracker.Release()

	if _, err := e.cycle(ctx, false, "scheduled"); err != nil {
		e.log.Error("scheduled cycle failed", "error", err)
	}
}

// RunOnce performs a single cycle and blocks until it completes. It returns
// [ErrSyncInProgress] when another cycle holds the lock.
func (e *Engine) RunOnce(ctx context.Context, force bool) (Stats, error) {
	if !e.tracker.TryAcquire() {
		return Stats{}, ErrSyncInProgress
	}
	defer e.tracker.Release()
	return e.cycle(ctx, force, "manual")
}

// TriggerManual starts an out-of-band cycle in the background. It returns
// [ErrSyncInProgress] without side effects when another cycle holds the
// lock; otherwise the lock is held until the background cycle finishes.
func (e *Engine) TriggerManual(force bool) error {
	if !e.tracker.TryAcquire() {
		return ErrSyncInProgress
	}

	e.mu.Lock()
	ctx := e.baseCtx
	e.mu.Unlock()
	if ctx == nil {
		ctx = context.Background()
	}

	go func() {
		defer e.tracker.Release()
		if _, err := e.cycle(ctx, force, "manual"); err != nil {
			e.log.Error("manual cycle failed", "error", err)
		}
	}()
	return nil
}

// cycle runs one full batch under a trace span, records metrics, and writes
// the run history entry. The caller must hold the cycle lock.
func (e *Engine) cycle(ctx context.Context, force bool, trigger string) (Stats, error) {
	ctx, span := e.tracer.Start(ctx, spanCycle)
	defer span.End()

	started := time.Now().UTC()
	stats, results, err := e.reconciler.Run(ctx, e.mappings, force)
	duration := time.Since(started)

	if stats.Created > 0 {
		e.cntCreated.Add(ctx, int64(stats.Created))
	}
	if stats.Updated > 0 {
		e.cntUpdated.Add(ctx, int64(stats.Updated))
	}
	if stats.Deleted > 0 {
		e.cntDeleted.Add(ctx, int64(stats.Deleted))
	}
	if stats.Unchanged > 0 {
		e.cntUnchanged.Add(ctx, int64(stats.Unchanged))
	}
	if stats.Errors > 0 {
		e.cntErrors.Add(ctx, int64(stats.Errors))
	}

	span.SetAttributes(
		attribute.String("sync.trigger", trigger),
		attribute.Bool("sync.force", force),
		attribute.Int("sync.evaluated", stats.Evaluated),
		attribute.Int("sync.created", stats.Created),
		attribute.Int("sync.updated", stats.Updated),
		attribute.Int("sync.deleted", stats.Deleted),
		attribute.Int("sync.unchanged", stats.Unchanged),
		attribute.Int("sync.errors", stats.Errors),
	)
	if err != nil {
		span.RecordError(err)
		return stats, err
	}

	if e.recorder != nil {
		record := RunRecord{
			ID:        uuid.NewString(),
			Trigger:   trigger,
			Force:     force,
			StartedAt: started,
			Duration:  duration,
			Stats:     stats,
			Results:   results,
		}
		if err := e.recorder.RecordRun(ctx, record); err != nil {
			e.log.Error("recording run history failed", "run_id", record.ID, "error", err)
		}
	}

	return stats, nil
}
