// Package dispatcher implements the capacity-aware dispatch cycle
// (C4) spec.md §4.4 describes: load queued work in priority order,
// apply the layered global/group limit walk, and hand each selected
// entry to the background task server.
package dispatcher

import (
	"context"
	"log/slog"
	"time"

	"github.com/chainsharp/scheduler/internal/domain/execution"
	"github.com/chainsharp/scheduler/internal/domain/manifest"
	"github.com/chainsharp/scheduler/internal/domain/manifestgroup"
	"github.com/chainsharp/scheduler/internal/domain/workqueue"
	"github.com/chainsharp/scheduler/internal/observability"
	"github.com/chainsharp/scheduler/internal/registry"
	"github.com/chainsharp/scheduler/internal/store"
	"github.com/chainsharp/scheduler/internal/taskserver"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/codes"
)

type Config struct {
	PollInterval        time.Duration
	AdminWorkflowNames  []string
	GlobalMaxActiveJobs *int
}

var tracer = otel.Tracer("scheduler-dispatcher")

// Dispatcher owns the periodic dispatch tick.
type Dispatcher struct {
	base  store.DataContext
	tasks taskserver.BackgroundTaskServer
	reg   *registry.Registry
	cfg   Config
	prom  *observability.Prom
	log   *slog.Logger
}

func New(base store.DataContext, tasks taskserver.BackgroundTaskServer, reg *registry.Registry, cfg Config, prom *observability.Prom, log *slog.Logger) *Dispatcher {
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = 2 * time.Second
	}
	if log == nil {
		log = slog.Default()
	}
	return &Dispatcher{base: base, tasks: tasks, reg: reg, cfg: cfg, prom: prom, log: log}
}

func (d *Dispatcher) Run(ctx context.Context) {
	t := time.NewTicker(d.cfg.PollInterval)
	defer t.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			if err := d.RunOnce(ctx); err != nil {
				d.log.ErrorContext(ctx, "dispatcher.cycle_error", "err", err)
			}
		}
	}
}

// RunOnce executes one dispatch cycle per spec.md §4.4's four steps.
func (d *Dispatcher) RunOnce(ctx context.Context) error {
	ctx, span := tracer.Start(ctx, "dispatcher.cycle")
	defer span.End()

	queued, err := d.base.WorkQueue().LoadQueuedForDispatch(ctx)
	if err != nil {
		span.RecordError(err)
		return err
	}
	if d.prom != nil {
		d.prom.DispatchQueueDepth.Set(float64(len(queued)))
	}
	if len(queued) == 0 {
		return nil
	}

	counts, err := d.base.Executions().LoadActiveCounts(ctx, d.cfg.AdminWorkflowNames)
	if err != nil {
		span.RecordError(err)
		return err
	}
	if d.prom != nil {
		d.prom.DispatchGlobalActive.Set(float64(counts.GlobalActive))
	}

	if d.cfg.GlobalMaxActiveJobs != nil && counts.GlobalActive >= *d.cfg.GlobalMaxActiveJobs {
		d.log.InfoContext(ctx, "dispatcher.cycle_short_circuit", "global_active", counts.GlobalActive, "limit", *d.cfg.GlobalMaxActiveJobs)
		return nil
	}

	groupOf, err := d.loadGroups(ctx, queued)
	if err != nil {
		span.RecordError(err)
		return err
	}
	if d.prom != nil {
		seen := make(map[int64]bool)
		for _, mg := range groupOf {
			if seen[mg.group.ID] {
				continue
			}
			seen[mg.group.ID] = true
			d.prom.DispatchGroupActive.WithLabelValues(mg.group.Name).Set(float64(counts.GroupActive[mg.group.ID]))
		}
	}

	selected := d.applyLimits(queued, counts, groupOf)

	for _, e := range selected {
		if err := d.dispatchOne(ctx, e); err != nil {
			d.log.ErrorContext(ctx, "dispatcher.dispatch_entry_error", "entry_id", e.ID, "err", err)
			if d.prom != nil {
				d.prom.DispatchedTotal.WithLabelValues("error").Inc()
			}
			continue
		}
		if d.prom != nil {
			d.prom.DispatchedTotal.WithLabelValues("dispatched").Inc()
		}
	}

	span.SetStatus(codes.Ok, "")
	return nil
}

// manifestGroup bundles the per-entry manifest/group pair the capacity
// walk needs, resolved once per distinct manifest id up front.
type manifestGroup struct {
	manifest manifest.Manifest
	group    manifestgroup.ManifestGroup
}

func (d *Dispatcher) loadGroups(ctx context.Context, queued []workqueue.Entry) (map[int64]manifestGroup, error) {
	out := make(map[int64]manifestGroup)
	for _, e := range queued {
		if e.ManifestID == nil {
			continue
		}
		if _, ok := out[*e.ManifestID]; ok {
			continue
		}
		m, err := d.base.Manifests().GetByID(ctx, *e.ManifestID)
		if err != nil {
			return nil, err
		}
		g, err := d.base.ManifestGroups().GetByID(ctx, m.ManifestGroupID)
		if err != nil {
			return nil, err
		}
		out[*e.ManifestID] = manifestGroup{manifest: m, group: g}
	}
	return out, nil
}

// applyLimits walks the priority-ordered queue maintaining the two
// running tallies spec.md §4.4 step 3 describes: a hard global ceiling
// that stops the cycle, and a per-group ceiling that only skips that
// one entry so lower-priority groups are not starved.
func (d *Dispatcher) applyLimits(queued []workqueue.Entry, counts store.ActiveCounts, groupOf map[int64]manifestGroup) []workqueue.Entry {
	var selected []workqueue.Entry
	globalDispatched := 0
	groupDispatched := make(map[int64]int)

	for _, e := range queued {
		if d.cfg.GlobalMaxActiveJobs != nil && counts.GlobalActive+globalDispatched >= *d.cfg.GlobalMaxActiveJobs {
			break
		}

		if e.ManifestID != nil {
			mg, ok := groupOf[*e.ManifestID]
			if ok && !mg.group.Unlimited() {
				groupID := mg.manifest.ManifestGroupID
				groupLimit := *mg.group.MaxActiveJobs
				if counts.GroupActive[groupID]+groupDispatched[groupID] >= groupLimit {
					if d.prom != nil {
						d.prom.DispatchedTotal.WithLabelValues("skipped_group").Inc()
					}
					continue
				}
				groupDispatched[groupID]++
			}
		}

		globalDispatched++
		selected = append(selected, e)
	}

	return selected
}

// dispatchOne implements spec.md §4.4 step 4 for a single entry: the
// resolve/deserialize pass is purely a fail-fast validation — the raw
// bytes, not the decoded value, are what the execution row and the
// task server carry forward, since the executor (§4.6) decodes again
// using the same registry.
func (d *Dispatcher) dispatchOne(ctx context.Context, e workqueue.Entry) error {
	if _, err := d.reg.DecodeInput(e.InputTypeName, e.Input); err != nil {
		return err
	}

	md, err := d.base.Executions().Create(ctx, execution.New(execution.CreateRequest{
		Name:          e.WorkflowName,
		InputTypeName: e.InputTypeName,
		Input:         e.Input,
		ManifestID:    e.ManifestID,
	}))
	if err != nil {
		return err
	}

	if err := d.base.WorkQueue().MarkDispatched(ctx, e.ID, md.ID); err != nil {
		return err
	}

	_, err = d.tasks.Enqueue(ctx, md.ID, e.Input)
	return err
}
