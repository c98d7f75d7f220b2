// Package dormant implements the scoped per-execution API (C8) that
// lets a running workflow selectively activate its declared dormant
// children, per spec.md §4.8.
package dormant

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"

	"github.com/chainsharp/scheduler/internal/domain/manifest"
	"github.com/chainsharp/scheduler/internal/domain/schedule"
	"github.com/chainsharp/scheduler/internal/domain/workqueue"
	"github.com/chainsharp/scheduler/internal/store"
)

var (
	ErrNotInExecution  = errors.New("dormant: no execution context bound")
	ErrUnknownManifest = errors.New("dormant: unknown child manifest")
	ErrNotDormant      = errors.New("dormant: child is not schedule_type=dormant_dependent")
	ErrNotChildOfParent = errors.New("dormant: child does not depend on the activating parent")
)

// Activation is one (child, input) pair for ActivateMany.
type Activation struct {
	ChildExternalID string
	Input           json.RawMessage
}

// Context is bound to a single in-flight execution and its owning
// manifest. The executor constructs one at step 4 of §4.6 and threads
// it through the RequestContext every step receives.
type Context struct {
	dc               store.DataContext
	parentManifestID int64
	log              *slog.Logger
}

// New binds a dormant.Context to the manifest currently executing.
// Passing a zero parentManifestID (ad-hoc/manual triggers have no
// manifest) yields a Context whose every Activate call fails with
// ErrNotInExecution, matching spec.md §4.8's "Context is initialized
// (we are inside an execution)" precondition.
func New(dc store.DataContext, parentManifestID *int64, log *slog.Logger) *Context {
	if log == nil {
		log = slog.Default()
	}
	c := &Context{dc: dc, log: log}
	if parentManifestID != nil {
		c.parentManifestID = *parentManifestID
	} else {
		c.parentManifestID = 0
	}
	return c
}

func (c *Context) bound() bool { return c.parentManifestID != 0 }

// Activate enqueues the named dormant child with runtime-chosen input,
// enforcing the four preconditions of spec.md §4.8 and silently
// skipping (logged) if the child already has pending work.
func (c *Context) Activate(ctx context.Context, childExternalID string, input json.RawMessage) error {
	if !c.bound() {
		return ErrNotInExecution
	}

	child, err := c.dc.Manifests().GetByExternalID(ctx, childExternalID)
	if err != nil {
		if errors.Is(err, manifest.ErrManifestNotFound) {
			return ErrUnknownManifest
		}
		return err
	}
	if child.ScheduleType != schedule.TypeDormantDependent {
		return ErrNotDormant
	}
	if child.DependsOnManifestID == nil || *child.DependsOnManifestID != c.parentManifestID {
		return ErrNotChildOfParent
	}

	if _, queued, err := c.dc.WorkQueue().GetByManifestID(ctx, child.ID); err != nil {
		return err
	} else if queued {
		c.log.Info("dormant activation skipped: already queued", "child_external_id", childExternalID)
		return nil
	}
	if active, err := c.dc.Executions().HasActiveByManifestID(ctx, child.ID); err != nil {
		return err
	} else if active {
		c.log.Info("dormant activation skipped: execution already pending or in_progress", "child_external_id", childExternalID)
		return nil
	}

	group, err := c.dc.ManifestGroups().GetByID(ctx, child.ManifestGroupID)
	if err != nil {
		return err
	}

	// group.priority + DependentPriorityBoost unconditionally, per
	// spec.md §4.8 — not manifest.EnqueuePriority, which only boosts
	// schedule_type=dependent, never dormant_dependent.
	entry := workqueue.New(workqueue.CreateRequest{
		WorkflowName:  child.WorkflowName,
		Input:         input,
		InputTypeName: child.InputTypeName,
		ManifestID:    &child.ID,
		Priority:      group.Priority + manifest.DependentPriorityBoost,
	})
	if _, err := c.dc.WorkQueue().Enqueue(ctx, entry); err != nil {
		if errors.Is(err, workqueue.ErrDuplicateQueued) {
			c.log.Info("dormant activation skipped: duplicate queued entry", "child_external_id", childExternalID)
			return nil
		}
		return err
	}
	c.log.Info("dormant child activated", "child_external_id", childExternalID, "parent_manifest_id", c.parentManifestID)
	return nil
}

// ActivateMany runs every activation inside one transaction, per
// spec.md §4.8's "transactional batch."
func (c *Context) ActivateMany(ctx context.Context, activations []Activation) error {
	if !c.bound() {
		return ErrNotInExecution
	}

	txDC, tx, err := c.dc.BeginTransaction(ctx)
	if err != nil {
		return err
	}
	txCtx := &Context{dc: txDC, parentManifestID: c.parentManifestID, log: c.log}

	for _, a := range activations {
		if err := txCtx.Activate(ctx, a.ChildExternalID, a.Input); err != nil {
			_ = tx.Rollback(ctx)
			return err
		}
	}
	return tx.Commit(ctx)
}
