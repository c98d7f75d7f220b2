// Package executor is the entry point the worker pool invokes with
// (execution_id, input) (C6, spec.md §4.6): load, validate state,
// transition, initialize the dormant context, resolve and run the
// user workflow, and record the outcome.
package executor

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"runtime/debug"
	"time"

	"github.com/chainsharp/scheduler/internal/domain/execution"
	"github.com/chainsharp/scheduler/internal/dormant"
	"github.com/chainsharp/scheduler/internal/observability"
	"github.com/chainsharp/scheduler/internal/registry"
	"github.com/chainsharp/scheduler/internal/store"
	"github.com/chainsharp/scheduler/internal/workflowengine"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

var (
	ErrUnknownExecution     = errors.New("executor: unknown execution")
	ErrIllegalRetry         = errors.New("executor: execution is not pending")
	ErrUnregisteredWorkflow = registry.ErrUnregisteredWorkflow
)

// FailureEvent is what the executor hands to the alert hook on a
// terminal failure (§4.6 step 8 / §4.10).
type FailureEvent struct {
	ManifestID       *int64
	WorkflowName     string
	ExecutionID      int64
	FailureStep      string
	FailureException string
	FailureReason    string
}

// AlertHook is the minimal shape the executor needs from the alerting
// subsystem (C10); internal/alert.Hook satisfies this structurally so
// the executor package never imports internal/alert.
type AlertHook interface {
	Notify(ctx context.Context, event FailureEvent)
}

// noopHook is used when the caller wires no alerting.
type noopHook struct{}

func (noopHook) Notify(context.Context, FailureEvent) {}

var tracer = otel.Tracer("scheduler-executor")

// cancelPollInterval is how often the executor polls
// metadata.cancel_requested while a workflow runs, per spec.md §4.6
// step 9's "best effort" cooperative cancellation.
const cancelPollInterval = 500 * time.Millisecond

type Executor struct {
	dc   store.DataContext
	reg  *registry.Registry
	hook AlertHook
	prom *observability.Prom
	log  *slog.Logger
}

func New(dc store.DataContext, reg *registry.Registry, hook AlertHook, prom *observability.Prom, log *slog.Logger) *Executor {
	if hook == nil {
		hook = noopHook{}
	}
	if log == nil {
		log = slog.Default()
	}
	return &Executor{dc: dc, reg: reg, hook: hook, prom: prom, log: log}
}

// Handler adapts Run to the taskserver.Handler signature.
func (e *Executor) Handler(ctx context.Context, executionID int64, input json.RawMessage) {
	if err := e.Run(ctx, executionID); err != nil {
		e.log.ErrorContext(ctx, "executor.run_error", "execution_id", executionID, "err", err)
	}
}

// Run executes the chain from spec.md §4.6 for one execution id.
func (e *Executor) Run(ctx context.Context, executionID int64) error {
	md, err := e.dc.Executions().GetByID(ctx, executionID)
	if err != nil {
		if errors.Is(err, execution.ErrMetadataNotFound) {
			return ErrUnknownExecution
		}
		return err
	}

	if md.WorkflowState != execution.StatePending {
		return ErrIllegalRetry
	}

	ctx, span := tracer.Start(ctx, "execution.run", trace.WithAttributes(
		attribute.Int64("execution.id", md.ID),
		attribute.String("execution.name", md.Name),
	))
	defer span.End()

	if e.prom != nil {
		e.prom.ExecutionsInFlight.Inc()
		defer e.prom.ExecutionsInFlight.Dec()
	}

	if err := md.Start(); err != nil {
		span.RecordError(err)
		return err
	}
	if err := e.dc.Executions().Update(ctx, md); err != nil {
		span.RecordError(err)
		return err
	}

	dormantCtx := dormant.New(e.dc, md.ManifestID, e.log)

	factory, err := e.reg.Resolve(md.InputTypeName)
	if err != nil {
		e.finishFailed(ctx, md, "resolve_workflow", "unregistered_workflow", err.Error(), "")
		return err
	}

	input, err := e.reg.DecodeInput(md.InputTypeName, md.Input)
	if err != nil {
		e.finishFailed(ctx, md, "decode_input", "invalid_input", err.Error(), "")
		return err
	}

	workflow := factory()

	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	go e.watchCancellation(runCtx, cancel, md.ID)

	start := time.Now()
	output, werr := workflow.Run(workflowengine.RequestContext{
		Ctx:        runCtx,
		Data:       e.dc,
		Dormant:    dormantCtx,
		MetadataID: md.ID,
	}, input)
	duration := time.Since(start)

	if werr != nil {
		span.RecordError(errors.New(werr.Reason))
		span.SetStatus(codes.Error, werr.Reason)
		e.observeResult(md.Name, "failed", duration)
		e.finishFailed(ctx, md, werr.Step, werr.Exception, werr.Reason, werr.Stack)
		return werr
	}

	span.SetStatus(codes.Ok, "completed")
	e.observeResult(md.Name, "completed", duration)
	return e.finishCompleted(ctx, md, output)
}

func (e *Executor) observeResult(workflowName, result string, d time.Duration) {
	if e.prom == nil {
		return
	}
	e.prom.ExecutionDuration.WithLabelValues(workflowName, result).Observe(d.Seconds())
	e.prom.ExecutionResults.WithLabelValues(workflowName, result).Inc()
}

func (e *Executor) finishCompleted(ctx context.Context, md execution.Metadata, output any) error {
	var raw json.RawMessage
	if output != nil {
		encoded, err := json.Marshal(output)
		if err != nil {
			return err
		}
		raw = encoded
	}
	if err := md.Complete(raw); err != nil {
		return err
	}
	if err := e.dc.Executions().Update(ctx, md); err != nil {
		return err
	}
	if md.ManifestID != nil {
		if err := e.dc.Manifests().SetLastSuccessfulRun(ctx, *md.ManifestID, time.Now().UTC()); err != nil {
			return err
		}
	}
	e.log.InfoContext(ctx, "executor.completed", "execution_id", md.ID, "name", md.Name)
	return nil
}

func (e *Executor) finishFailed(ctx context.Context, md execution.Metadata, step, exception, reason, stack string) {
	if stack == "" {
		stack = string(debug.Stack())
	}
	if err := md.Fail(step, exception, reason, stack); err != nil {
		e.log.ErrorContext(ctx, "executor.fail_transition_error", "execution_id", md.ID, "err", err)
		return
	}
	if err := e.dc.Executions().Update(ctx, md); err != nil {
		e.log.ErrorContext(ctx, "executor.update_error", "execution_id", md.ID, "err", err)
		return
	}

	e.log.ErrorContext(ctx, "executor.failed", "execution_id", md.ID, "name", md.Name, "step", step, "reason", reason)
	e.hook.Notify(ctx, FailureEvent{
		ManifestID:       md.ManifestID,
		WorkflowName:     md.Name,
		ExecutionID:      md.ID,
		FailureStep:      step,
		FailureException: exception,
		FailureReason:    reason,
	})
}

// watchCancellation polls cancel_requested and cancels runCtx the
// first time it observes it set, per spec.md §4.6 step 9.
func (e *Executor) watchCancellation(ctx context.Context, cancel context.CancelFunc, executionID int64) {
	ticker := time.NewTicker(cancelPollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			md, err := e.dc.Executions().GetByID(ctx, executionID)
			if err != nil {
				continue
			}
			if md.CancelRequested {
				cancel()
				return
			}
		}
	}
}
