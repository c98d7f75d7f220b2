package reaper_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/chainsharp/scheduler/internal/domain/deadletter"
	"github.com/chainsharp/scheduler/internal/domain/manifest"
	"github.com/chainsharp/scheduler/internal/domain/manifestgroup"
	"github.com/chainsharp/scheduler/internal/domain/schedule"
	"github.com/chainsharp/scheduler/internal/reaper"
	"github.com/chainsharp/scheduler/internal/store"
	"github.com/chainsharp/scheduler/internal/store/memory"
)

func TestReap_PromotesManifestAtMaxRetries(t *testing.T) {
	st := memory.New()
	dc := st.DataContext()
	ctx := context.Background()

	group, err := dc.ManifestGroups().Upsert(ctx, manifestgroup.New(manifestgroup.CreateRequest{Name: "g", Priority: 0}))
	require.NoError(t, err)

	m, err := dc.Manifests().Upsert(ctx, manifest.New(manifest.CreateRequest{
		ExternalID: "flaky-job", WorkflowName: "flaky", InputTypeName: "flaky",
		ScheduleType: schedule.TypeInterval, IntervalSeconds: intPtr(60),
		ManifestGroupID: group.ID, MaxRetries: 3,
	}))
	require.NoError(t, err)

	candidates := []store.CandidateView{
		{Manifest: m, Group: group, FailedCount: 3, HasAwaitingDeadLetter: false},
	}

	newlyDL, err := reaper.Reap(ctx, dc, candidates, nil, nil)
	require.NoError(t, err)
	require.True(t, newlyDL[m.ID])

	dl, open, err := dc.DeadLetters().GetOpenForManifest(ctx, m.ID)
	require.NoError(t, err)
	require.True(t, open)
	require.Equal(t, deadletter.ReasonMaxRetriesExceeded, dl.Reason)
	require.Equal(t, 3, dl.RetryCountAtDeadLetter)
}

func TestReap_SkipsBelowThresholdAndAlreadyDeadLettered(t *testing.T) {
	st := memory.New()
	dc := st.DataContext()
	ctx := context.Background()

	group, err := dc.ManifestGroups().Upsert(ctx, manifestgroup.New(manifestgroup.CreateRequest{Name: "g", Priority: 0}))
	require.NoError(t, err)

	belowThreshold, err := dc.Manifests().Upsert(ctx, manifest.New(manifest.CreateRequest{
		ExternalID: "below", WorkflowName: "flaky", InputTypeName: "flaky",
		ScheduleType: schedule.TypeInterval, IntervalSeconds: intPtr(60),
		ManifestGroupID: group.ID, MaxRetries: 5,
	}))
	require.NoError(t, err)

	alreadyDL, err := dc.Manifests().Upsert(ctx, manifest.New(manifest.CreateRequest{
		ExternalID: "already", WorkflowName: "flaky", InputTypeName: "flaky",
		ScheduleType: schedule.TypeInterval, IntervalSeconds: intPtr(60),
		ManifestGroupID: group.ID, MaxRetries: 1,
	}))
	require.NoError(t, err)

	candidates := []store.CandidateView{
		{Manifest: belowThreshold, Group: group, FailedCount: 2, HasAwaitingDeadLetter: false},
		{Manifest: alreadyDL, Group: group, FailedCount: 9, HasAwaitingDeadLetter: true},
	}

	newlyDL, err := reaper.Reap(ctx, dc, candidates, nil, nil)
	require.NoError(t, err)
	require.Empty(t, newlyDL)

	_, open, err := dc.DeadLetters().GetOpenForManifest(ctx, belowThreshold.ID)
	require.NoError(t, err)
	require.False(t, open)
}

func intPtr(i int) *int { return &i }
