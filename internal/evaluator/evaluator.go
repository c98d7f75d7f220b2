// Package evaluator implements the single-leader periodic cycle (C3)
// spec.md §4.3 describes: acquire an advisory lock, load candidates,
// reap exhausted manifests, decide what's due, enqueue it, release.
package evaluator

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/chainsharp/scheduler/internal/domain/schedule"
	"github.com/chainsharp/scheduler/internal/domain/workqueue"
	"github.com/chainsharp/scheduler/internal/observability"
	"github.com/chainsharp/scheduler/internal/reaper"
	"github.com/chainsharp/scheduler/internal/store"
	"github.com/chainsharp/scheduler/internal/utils"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// LockName is the literal advisory-lock key spec.md §9 specifies.
const LockName = "chainsharp_manifest_manager"

var lockKey = utils.AdvisoryLockKey(LockName)

// Config tunes one evaluator instance.
type Config struct {
	PollInterval time.Duration

	// AdminWorkflowNames lists workflow type-names excluded from the
	// global active-job pre-filter in step 4 ("administrative"
	// workflows that should never count against a tenant's capacity).
	AdminWorkflowNames []string

	// GlobalMaxActiveJobs, when set, caps total concurrently active
	// executions across all tenants; nil means unlimited (the
	// dispatcher's own layered limits still apply).
	GlobalMaxActiveJobs *int
}

var tracer = otel.Tracer("scheduler-evaluator")

// Evaluator owns the periodic tick. base is the root, non-transactional
// DataContext every cycle opens a fresh BeginTransaction from.
type Evaluator struct {
	base store.DataContext
	cfg  Config
	prom *observability.Prom
	log  *slog.Logger
}

func New(base store.DataContext, cfg Config, prom *observability.Prom, log *slog.Logger) *Evaluator {
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = 30 * time.Second
	}
	if log == nil {
		log = slog.Default()
	}
	return &Evaluator{base: base, cfg: cfg, prom: prom, log: log}
}

// Run ticks until ctx is cancelled, mirroring the teacher's
// requeueLoop ticker shape.
func (e *Evaluator) Run(ctx context.Context) {
	t := time.NewTicker(e.cfg.PollInterval)
	defer t.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			if err := e.RunOnce(ctx); err != nil {
				e.log.ErrorContext(ctx, "evaluator.cycle_error", "err", err)
			}
		}
	}
}

// RunOnce executes exactly one cycle of spec.md §4.3's six steps.
// Exceptions inside a cycle are logged and swallowed by Run; RunOnce
// itself returns the error so tests can assert on it directly.
func (e *Evaluator) RunOnce(ctx context.Context) error {
	ctx, span := tracer.Start(ctx, "evaluator.cycle")
	defer span.End()

	start := time.Now()
	acquired := false
	defer func() {
		if e.prom != nil {
			e.prom.EvaluatorCycleDuration.WithLabelValues(boolLabel(acquired)).Observe(time.Since(start).Seconds())
		}
	}()

	txDC, tx, err := e.base.BeginTransaction(ctx)
	if err != nil {
		span.RecordError(err)
		return err
	}

	ok, err := txDC.TryAdvisoryLock(ctx, lockKey)
	if err != nil {
		_ = tx.Rollback(ctx)
		span.RecordError(err)
		return err
	}
	if !ok {
		// Another replica holds the lock this tick; nothing to do.
		return tx.Rollback(ctx)
	}
	acquired = true

	if err := e.cycle(ctx, txDC); err != nil {
		_ = tx.Rollback(ctx)
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return err
	}

	if err := tx.Commit(ctx); err != nil {
		span.RecordError(err)
		return err
	}
	span.SetStatus(codes.Ok, "")
	return nil
}

func (e *Evaluator) cycle(ctx context.Context, dc store.DataContext) error {
	candidates, err := dc.Manifests().LoadCandidates(ctx)
	if err != nil {
		return err
	}
	if e.prom != nil {
		e.prom.EvaluatorCandidates.Set(float64(len(candidates)))
	}

	newlyDeadLettered, err := reaper.Reap(ctx, dc, candidates, e.prom, e.log)
	if err != nil {
		return err
	}

	var globalActive int
	if e.cfg.GlobalMaxActiveJobs != nil {
		counts, err := dc.Executions().LoadActiveCounts(ctx, e.cfg.AdminWorkflowNames)
		if err != nil {
			return err
		}
		globalActive = counts.GlobalActive
	}

	now := time.Now().UTC()
	enqueuedThisTick := 0

	for _, c := range candidates {
		if c.Manifest.ScheduleType == schedule.TypeNone {
			continue
		}
		if newlyDeadLettered[c.Manifest.ID] {
			continue
		}
		if c.HasActiveExecution || c.HasQueuedWork {
			continue
		}
		if c.Manifest.ScheduleType == schedule.TypeDormantDependent {
			continue
		}

		if e.cfg.GlobalMaxActiveJobs != nil && globalActive+enqueuedThisTick >= *e.cfg.GlobalMaxActiveJobs {
			// The dispatcher will drain this tick; stop producing more.
			break
		}

		due := c.Manifest.Schedule().ShouldRunNow(now, schedule.CandidateState{
			IsEnabled:             c.Manifest.IsEnabled,
			HasAwaitingDeadLetter: c.HasAwaitingDeadLetter,
			HasActiveExecution:    c.HasActiveExecution,
			HasQueuedWork:         c.HasQueuedWork,
			LastSuccessfulRun:     c.Manifest.LastSuccessfulRun,
			Parent:                parentState(c),
		})
		if !due {
			continue
		}

		entry := workqueue.New(workqueue.CreateRequest{
			WorkflowName:  c.Manifest.WorkflowName,
			Input:         c.Manifest.InputProperties,
			InputTypeName: c.Manifest.InputTypeName,
			ManifestID:    &c.Manifest.ID,
			Priority:      c.Manifest.EnqueuePriority(c.Group.Priority),
		})
		if _, err := dc.WorkQueue().Enqueue(ctx, entry); err != nil {
			if errors.Is(err, workqueue.ErrDuplicateQueued) {
				continue
			}
			return err
		}

		enqueuedThisTick++
		if e.prom != nil {
			e.prom.ManifestsEnqueued.WithLabelValues(string(c.Manifest.ScheduleType)).Inc()
		}
	}

	return nil
}

func parentState(c store.CandidateView) *schedule.ParentState {
	if c.Manifest.DependsOnManifestID == nil {
		return nil
	}
	return &schedule.ParentState{LastSuccessfulRun: c.ParentLastSuccessful}
}

func boolLabel(b bool) string {
	if b {
		return "true"
	}
	return "false"
}
