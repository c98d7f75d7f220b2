package evaluator_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/chainsharp/scheduler/internal/domain/execution"
	"github.com/chainsharp/scheduler/internal/domain/manifest"
	"github.com/chainsharp/scheduler/internal/domain/manifestgroup"
	"github.com/chainsharp/scheduler/internal/domain/schedule"
	"github.com/chainsharp/scheduler/internal/evaluator"
	"github.com/chainsharp/scheduler/internal/store/memory"
)

func TestRunOnce_EnqueuesDueIntervalManifest(t *testing.T) {
	st := memory.New()
	dc := st.DataContext()
	ctx := context.Background()

	group, err := dc.ManifestGroups().Upsert(ctx, manifestgroup.New(manifestgroup.CreateRequest{Name: "g", Priority: 2}))
	require.NoError(t, err)

	m, err := dc.Manifests().Upsert(ctx, manifest.New(manifest.CreateRequest{
		ExternalID: "interval-job", WorkflowName: "hello", InputTypeName: "hello",
		ScheduleType: schedule.TypeInterval, IntervalSeconds: intPtr(60),
		ManifestGroupID: group.ID, InputProperties: []byte(`{"name":"x"}`),
	}))
	require.NoError(t, err)

	ev := evaluator.New(dc, evaluator.Config{PollInterval: time.Minute}, nil, nil)
	require.NoError(t, ev.RunOnce(ctx))

	entry, queued, err := dc.WorkQueue().GetByManifestID(ctx, m.ID)
	require.NoError(t, err)
	require.True(t, queued)
	require.Equal(t, group.Priority, entry.Priority)

	// A second tick must not duplicate the queued entry.
	require.NoError(t, ev.RunOnce(ctx))
	_, stillOneQueued, err := dc.WorkQueue().GetByManifestID(ctx, m.ID)
	require.NoError(t, err)
	require.True(t, stillOneQueued)
}

func TestRunOnce_DeadLettersExhaustedManifestBeforeEnqueue(t *testing.T) {
	st := memory.New()
	dc := st.DataContext()
	ctx := context.Background()

	group, err := dc.ManifestGroups().Upsert(ctx, manifestgroup.New(manifestgroup.CreateRequest{Name: "g", Priority: 0}))
	require.NoError(t, err)

	m, err := dc.Manifests().Upsert(ctx, manifest.New(manifest.CreateRequest{
		ExternalID: "flaky-job", WorkflowName: "flaky", InputTypeName: "flaky",
		ScheduleType: schedule.TypeInterval, IntervalSeconds: intPtr(60),
		ManifestGroupID: group.ID, MaxRetries: 2,
	}))
	require.NoError(t, err)

	for i := 0; i < 2; i++ {
		md, err := dc.Executions().Create(ctx, execution.New(execution.CreateRequest{
			Name: "flaky", InputTypeName: "flaky", ManifestID: &m.ID,
		}))
		require.NoError(t, err)
		require.NoError(t, md.Start())
		require.NoError(t, dc.Executions().Update(ctx, md))
		require.NoError(t, md.Fail("call_upstream", "timeout", "timeout contacting upstream", ""))
		require.NoError(t, dc.Executions().Update(ctx, md))
	}

	ev := evaluator.New(dc, evaluator.Config{PollInterval: time.Minute}, nil, nil)
	require.NoError(t, ev.RunOnce(ctx))

	_, queued, err := dc.WorkQueue().GetByManifestID(ctx, m.ID)
	require.NoError(t, err)
	require.False(t, queued, "a newly dead-lettered manifest must not also be enqueued in the same cycle")

	_, open, err := dc.DeadLetters().GetOpenForManifest(ctx, m.ID)
	require.NoError(t, err)
	require.True(t, open)
}

func TestRunOnce_DormantDependentNeverEnqueuedByEvaluator(t *testing.T) {
	st := memory.New()
	dc := st.DataContext()
	ctx := context.Background()

	group, err := dc.ManifestGroups().Upsert(ctx, manifestgroup.New(manifestgroup.CreateRequest{Name: "g", Priority: 0}))
	require.NoError(t, err)

	parent, err := dc.Manifests().Upsert(ctx, manifest.New(manifest.CreateRequest{
		ExternalID: "parent", WorkflowName: "extract_tx", InputTypeName: "extract_tx",
		ScheduleType: schedule.TypeInterval, IntervalSeconds: intPtr(60), ManifestGroupID: group.ID,
	}))
	require.NoError(t, err)

	child, err := dc.Manifests().Upsert(ctx, manifest.New(manifest.CreateRequest{
		ExternalID: "child", WorkflowName: "dq_tx", InputTypeName: "dq_tx",
		ScheduleType: schedule.TypeDormantDependent, DependsOnManifestID: &parent.ID, ManifestGroupID: group.ID,
	}))
	require.NoError(t, err)

	ev := evaluator.New(dc, evaluator.Config{PollInterval: time.Minute}, nil, nil)
	require.NoError(t, ev.RunOnce(ctx))

	_, queued, err := dc.WorkQueue().GetByManifestID(ctx, child.ID)
	require.NoError(t, err)
	require.False(t, queued)
}

func intPtr(i int) *int { return &i }
