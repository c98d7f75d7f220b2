package dormant_test

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/chainsharp/scheduler/internal/dispatcher"
	"github.com/chainsharp/scheduler/internal/domain/manifest"
	"github.com/chainsharp/scheduler/internal/domain/manifestgroup"
	"github.com/chainsharp/scheduler/internal/domain/schedule"
	"github.com/chainsharp/scheduler/internal/dormant"
	"github.com/chainsharp/scheduler/internal/examples/workflows"
	"github.com/chainsharp/scheduler/internal/registry"
	"github.com/chainsharp/scheduler/internal/store/memory"
	"github.com/chainsharp/scheduler/internal/taskserver"
)

func TestActivate_EnforcesPreconditionsAndBoostsPriority(t *testing.T) {
	st := memory.New()
	dc := st.DataContext()
	ctx := context.Background()

	group, err := dc.ManifestGroups().Upsert(ctx, manifestgroup.New(manifestgroup.CreateRequest{
		Name:     "ingest",
		Priority: 5,
	}))
	require.NoError(t, err)

	parent, err := dc.Manifests().Upsert(ctx, manifest.New(manifest.CreateRequest{
		ExternalID:      "parent",
		WorkflowName:    "extract_tx",
		InputTypeName:   "extract_tx",
		ScheduleType:    schedule.TypeCron,
		CronExpression:  strPtr("*/5 * * * *"),
		ManifestGroupID: group.ID,
	}))
	require.NoError(t, err)

	child, err := dc.Manifests().Upsert(ctx, manifest.New(manifest.CreateRequest{
		ExternalID:          "child",
		WorkflowName:        "dq_tx",
		InputTypeName:       "dq_tx",
		ScheduleType:        schedule.TypeDormantDependent,
		DependsOnManifestID: &parent.ID,
		ManifestGroupID:     group.ID,
	}))
	require.NoError(t, err)

	dctx := dormant.New(dc, &parent.ID, nil)
	require.NoError(t, dctx.Activate(ctx, "child", []byte(`{"anomalyCount":7}`)))

	entry, queued, err := dc.WorkQueue().GetByManifestID(ctx, child.ID)
	require.NoError(t, err)
	require.True(t, queued)
	require.Equal(t, group.Priority+manifest.DependentPriorityBoost, entry.Priority)

	// Idempotent: a second activation is silently skipped, not duplicated.
	require.NoError(t, dctx.Activate(ctx, "child", []byte(`{"anomalyCount":7}`)))
}

func TestActivate_RejectsWrongParent(t *testing.T) {
	st := memory.New()
	dc := st.DataContext()
	ctx := context.Background()

	group, err := dc.ManifestGroups().Upsert(ctx, manifestgroup.New(manifestgroup.CreateRequest{Name: "g", Priority: 0}))
	require.NoError(t, err)

	realParent, err := dc.Manifests().Upsert(ctx, manifest.New(manifest.CreateRequest{
		ExternalID: "real-parent", WorkflowName: "extract_tx", InputTypeName: "extract_tx",
		ScheduleType: schedule.TypeCron, CronExpression: strPtr("*/5 * * * *"), ManifestGroupID: group.ID,
	}))
	require.NoError(t, err)

	otherParent, err := dc.Manifests().Upsert(ctx, manifest.New(manifest.CreateRequest{
		ExternalID: "other-parent", WorkflowName: "extract_tx", InputTypeName: "extract_tx",
		ScheduleType: schedule.TypeCron, CronExpression: strPtr("*/5 * * * *"), ManifestGroupID: group.ID,
	}))
	require.NoError(t, err)

	_, err = dc.Manifests().Upsert(ctx, manifest.New(manifest.CreateRequest{
		ExternalID: "child", WorkflowName: "dq_tx", InputTypeName: "dq_tx",
		ScheduleType: schedule.TypeDormantDependent, DependsOnManifestID: &realParent.ID, ManifestGroupID: group.ID,
	}))
	require.NoError(t, err)

	dctx := dormant.New(dc, &otherParent.ID, nil)
	err = dctx.Activate(ctx, "child", nil)
	require.ErrorIs(t, err, dormant.ErrNotChildOfParent)
}

func TestActivate_RequiresBoundExecution(t *testing.T) {
	st := memory.New()
	dc := st.DataContext()

	dctx := dormant.New(dc, nil, nil)
	err := dctx.Activate(context.Background(), "anything", nil)
	require.ErrorIs(t, err, dormant.ErrNotInExecution)
}

// TestActivate_SkipsSecondActivationAfterDispatch covers the half of
// the idempotency law the status=queued check alone misses: once the
// dispatcher has moved a prior activation's entry to status=dispatched
// and its execution is still pending/in_progress, a second Activate
// for the same child must not create another queue entry.
func TestActivate_SkipsSecondActivationAfterDispatch(t *testing.T) {
	st := memory.New()
	dc := st.DataContext()
	ctx := context.Background()
	reg := registry.New()
	require.NoError(t, workflows.Register(reg))

	group, err := dc.ManifestGroups().Upsert(ctx, manifestgroup.New(manifestgroup.CreateRequest{Name: "ingest", Priority: 5}))
	require.NoError(t, err)

	parent, err := dc.Manifests().Upsert(ctx, manifest.New(manifest.CreateRequest{
		ExternalID: "parent", WorkflowName: "extract_tx", InputTypeName: "extract_tx",
		ScheduleType: schedule.TypeCron, CronExpression: strPtr("*/5 * * * *"), ManifestGroupID: group.ID,
	}))
	require.NoError(t, err)

	child, err := dc.Manifests().Upsert(ctx, manifest.New(manifest.CreateRequest{
		ExternalID: "child", WorkflowName: "dq_tx", InputTypeName: "dq_tx",
		ScheduleType: schedule.TypeDormantDependent, DependsOnManifestID: &parent.ID, ManifestGroupID: group.ID,
	}))
	require.NoError(t, err)

	dctx := dormant.New(dc, &parent.ID, nil)
	require.NoError(t, dctx.Activate(ctx, "child", []byte(`{"anomalyCount":7}`)))

	tasks := &noopTaskServer{}
	disp := dispatcher.New(dc, tasks, reg, dispatcher.Config{PollInterval: time.Minute}, nil, nil)
	require.NoError(t, disp.RunOnce(ctx))

	_, queued, err := dc.WorkQueue().GetByManifestID(ctx, child.ID)
	require.NoError(t, err)
	require.False(t, queued, "dispatched entries are no longer status=queued")

	require.NoError(t, dctx.Activate(ctx, "child", []byte(`{"anomalyCount":9}`)))

	_, queued, err = dc.WorkQueue().GetByManifestID(ctx, child.ID)
	require.NoError(t, err)
	require.False(t, queued, "re-activation must not create a second queue entry while the dispatched execution is still active")
}

type noopTaskServer struct{}

func (noopTaskServer) Enqueue(ctx context.Context, executionID int64, input json.RawMessage) (taskserver.Handle, error) {
	return taskserver.Handle(executionID), nil
}
func (noopTaskServer) ScheduleAt(ctx context.Context, executionID int64, input json.RawMessage, at time.Time) (taskserver.Handle, error) {
	return taskserver.Handle(executionID), nil
}
func (noopTaskServer) TryCancel(taskserver.Handle) bool { return false }

func strPtr(s string) *string { return &s }
