package dispatcher_test

import (
	"context"
	"encoding/json"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/chainsharp/scheduler/internal/dispatcher"
	"github.com/chainsharp/scheduler/internal/domain/execution"
	"github.com/chainsharp/scheduler/internal/domain/manifest"
	"github.com/chainsharp/scheduler/internal/domain/manifestgroup"
	"github.com/chainsharp/scheduler/internal/domain/schedule"
	"github.com/chainsharp/scheduler/internal/domain/workqueue"
	"github.com/chainsharp/scheduler/internal/examples/workflows"
	"github.com/chainsharp/scheduler/internal/registry"
	"github.com/chainsharp/scheduler/internal/store/memory"
	"github.com/chainsharp/scheduler/internal/taskserver"
)

func newRegistry(t *testing.T) *registry.Registry {
	t.Helper()
	reg := registry.New()
	require.NoError(t, workflows.Register(reg))
	return reg
}

type recordingTaskServer struct {
	mu       sync.Mutex
	executed []int64
}

func (r *recordingTaskServer) Enqueue(ctx context.Context, executionID int64, input json.RawMessage) (taskserver.Handle, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.executed = append(r.executed, executionID)
	return taskserver.Handle(executionID), nil
}
func (r *recordingTaskServer) ScheduleAt(ctx context.Context, executionID int64, input json.RawMessage, at time.Time) (taskserver.Handle, error) {
	return r.Enqueue(ctx, executionID, input)
}
func (r *recordingTaskServer) TryCancel(taskserver.Handle) bool { return false }

func TestRunOnce_DispatchesQueuedEntryAndCreatesExecution(t *testing.T) {
	st := memory.New()
	dc := st.DataContext()
	ctx := context.Background()
	reg := newRegistry(t)

	group, err := dc.ManifestGroups().Upsert(ctx, manifestgroup.New(manifestgroup.CreateRequest{Name: "g", Priority: 1}))
	require.NoError(t, err)

	m, err := dc.Manifests().Upsert(ctx, manifest.New(manifest.CreateRequest{
		ExternalID: "hello-job", WorkflowName: "hello", InputTypeName: "hello",
		ScheduleType: schedule.TypeCron, CronExpression: strPtr("*/5 * * * *"), ManifestGroupID: group.ID,
	}))
	require.NoError(t, err)

	_, err = dc.WorkQueue().Enqueue(ctx, workqueue.New(workqueue.CreateRequest{
		WorkflowName: "hello", InputTypeName: "hello", Input: []byte(`{"name":"ada"}`),
		ManifestID: &m.ID, Priority: group.Priority,
	}))
	require.NoError(t, err)

	tasks := &recordingTaskServer{}
	disp := dispatcher.New(dc, tasks, reg, dispatcher.Config{PollInterval: time.Minute}, nil, nil)
	require.NoError(t, disp.RunOnce(ctx))

	require.Len(t, tasks.executed, 1)

	entry, queued, err := dc.WorkQueue().GetByManifestID(ctx, m.ID)
	require.NoError(t, err)
	require.False(t, queued, "dispatched entries are no longer status=queued")
	_ = entry
}

func TestRunOnce_GroupLimitSkipsWithoutBlockingOthers(t *testing.T) {
	st := memory.New()
	dc := st.DataContext()
	ctx := context.Background()
	reg := newRegistry(t)

	limited := 1
	saturatedGroup, err := dc.ManifestGroups().Upsert(ctx, manifestgroup.New(manifestgroup.CreateRequest{
		Name: "saturated", Priority: 10, MaxActiveJobs: &limited,
	}))
	require.NoError(t, err)
	openGroup, err := dc.ManifestGroups().Upsert(ctx, manifestgroup.New(manifestgroup.CreateRequest{Name: "open", Priority: 1}))
	require.NoError(t, err)

	m1, err := dc.Manifests().Upsert(ctx, manifest.New(manifest.CreateRequest{
		ExternalID: "saturated-job", WorkflowName: "hello", InputTypeName: "hello",
		ScheduleType: schedule.TypeCron, CronExpression: strPtr("*/5 * * * *"), ManifestGroupID: saturatedGroup.ID,
	}))
	require.NoError(t, err)
	m2, err := dc.Manifests().Upsert(ctx, manifest.New(manifest.CreateRequest{
		ExternalID: "open-job", WorkflowName: "hello", InputTypeName: "hello",
		ScheduleType: schedule.TypeCron, CronExpression: strPtr("*/5 * * * *"), ManifestGroupID: openGroup.ID,
	}))
	require.NoError(t, err)

	// One already-active execution saturates the first group's limit.
	_, err = dc.Executions().Create(ctx, execution.New(execution.CreateRequest{
		Name: "hello", InputTypeName: "hello", ManifestID: &m1.ID,
	}))
	require.NoError(t, err)

	_, err = dc.WorkQueue().Enqueue(ctx, workqueue.New(workqueue.CreateRequest{
		WorkflowName: "hello", InputTypeName: "hello", Input: []byte(`{"name":"a"}`),
		ManifestID: &m1.ID, Priority: saturatedGroup.Priority,
	}))
	require.NoError(t, err)
	_, err = dc.WorkQueue().Enqueue(ctx, workqueue.New(workqueue.CreateRequest{
		WorkflowName: "hello", InputTypeName: "hello", Input: []byte(`{"name":"b"}`),
		ManifestID: &m2.ID, Priority: openGroup.Priority,
	}))
	require.NoError(t, err)

	tasks := &recordingTaskServer{}
	disp := dispatcher.New(dc, tasks, reg, dispatcher.Config{PollInterval: time.Minute}, nil, nil)
	require.NoError(t, disp.RunOnce(ctx))

	require.Len(t, tasks.executed, 1)

	_, m1StillQueued, err := dc.WorkQueue().GetByManifestID(ctx, m1.ID)
	require.NoError(t, err)
	require.True(t, m1StillQueued, "saturated group's entry must stay queued, not be dropped")

	_, m2StillQueued, err := dc.WorkQueue().GetByManifestID(ctx, m2.ID)
	require.NoError(t, err)
	require.False(t, m2StillQueued, "the open group's entry must dispatch despite the other group's saturation")
}

// TestRunOnce_GroupPriorityDominatesEntryPriority covers spec.md §4.4
// step 1's three-key order: group priority is the dominant key, so a
// manually-triggered manifest with a high raw entry.Priority must not
// jump ahead of scheduled work from a higher-priority group (§8
// scenario 3).
func TestRunOnce_GroupPriorityDominatesEntryPriority(t *testing.T) {
	st := memory.New()
	dc := st.DataContext()
	ctx := context.Background()
	reg := newRegistry(t)

	lowGroup, err := dc.ManifestGroups().Upsert(ctx, manifestgroup.New(manifestgroup.CreateRequest{Name: "low", Priority: 1}))
	require.NoError(t, err)
	highGroup, err := dc.ManifestGroups().Upsert(ctx, manifestgroup.New(manifestgroup.CreateRequest{Name: "high", Priority: 10}))
	require.NoError(t, err)

	lowM, err := dc.Manifests().Upsert(ctx, manifest.New(manifest.CreateRequest{
		ExternalID: "low-group-high-entry", WorkflowName: "hello", InputTypeName: "hello",
		ScheduleType: schedule.TypeCron, CronExpression: strPtr("*/5 * * * *"), ManifestGroupID: lowGroup.ID,
	}))
	require.NoError(t, err)
	highM, err := dc.Manifests().Upsert(ctx, manifest.New(manifest.CreateRequest{
		ExternalID: "high-group-low-entry", WorkflowName: "hello", InputTypeName: "hello",
		ScheduleType: schedule.TypeCron, CronExpression: strPtr("*/5 * * * *"), ManifestGroupID: highGroup.ID,
	}))
	require.NoError(t, err)

	// lowM carries a manifest-level priority far above highM's, as a
	// manual trigger would set from the manifest's own Priority field,
	// independent of and on a different scale from group.Priority.
	_, err = dc.WorkQueue().Enqueue(ctx, workqueue.New(workqueue.CreateRequest{
		WorkflowName: "hello", InputTypeName: "hello", Input: []byte(`{"name":"a"}`),
		ManifestID: &lowM.ID, Priority: 100,
	}))
	require.NoError(t, err)
	_, err = dc.WorkQueue().Enqueue(ctx, workqueue.New(workqueue.CreateRequest{
		WorkflowName: "hello", InputTypeName: "hello", Input: []byte(`{"name":"b"}`),
		ManifestID: &highM.ID, Priority: 1,
	}))
	require.NoError(t, err)

	tasks := &recordingTaskServer{}
	disp := dispatcher.New(dc, tasks, reg, dispatcher.Config{PollInterval: time.Minute}, nil, nil)
	require.NoError(t, disp.RunOnce(ctx))
	require.Len(t, tasks.executed, 2)

	first, err := dc.Executions().GetByID(ctx, tasks.executed[0])
	require.NoError(t, err)
	require.NotNil(t, first.ManifestID)
	require.Equal(t, highM.ID, *first.ManifestID, "higher-priority group's entry must dispatch first despite the lower raw entry priority")

	second, err := dc.Executions().GetByID(ctx, tasks.executed[1])
	require.NoError(t, err)
	require.NotNil(t, second.ManifestID)
	require.Equal(t, lowM.ID, *second.ManifestID)
}

func strPtr(s string) *string { return &s }
