package alert_test

import (
	"context"
	"encoding/json"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/chainsharp/scheduler/internal/alert"
	"github.com/chainsharp/scheduler/internal/domain/execution"
	"github.com/chainsharp/scheduler/internal/executor"
	"github.com/chainsharp/scheduler/internal/store/memory"
)

type recordingSender struct {
	mu   sync.Mutex
	sent []alert.Context
}

func (r *recordingSender) Send(ctx context.Context, ac alert.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.sent = append(r.sent, ac)
	return nil
}

func (r *recordingSender) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.sent)
}

func TestNotify_EmitsImmediatelyWhenMinimumFailuresIsOne(t *testing.T) {
	dc := memory.New().DataContext()
	sender := &recordingSender{}

	h := alert.NewHook(dc, []alert.Config{
		{WorkflowName: "extract_tx", MinimumFailures: 1},
	}, []alert.Sender{sender}, nil, nil)

	h.Notify(context.Background(), executor.FailureEvent{
		WorkflowName: "extract_tx", ExecutionID: 1,
		FailureStep: "call_upstream", FailureException: "timeout", FailureReason: "upstream timed out",
	})

	require.Equal(t, 1, sender.count())
	require.Equal(t, 1, sender.sent[0].FailureCount)
	require.Equal(t, 1, sender.sent[0].ExceptionFrequency["timeout"])
}

func TestNotify_WindowedConfigWaitsForMinimumFailures(t *testing.T) {
	dc := memory.New().DataContext()
	ctx := context.Background()
	sender := &recordingSender{}

	h := alert.NewHook(dc, []alert.Config{
		{WorkflowName: "dq_tx", TimeWindow: time.Hour, MinimumFailures: 2},
	}, []alert.Sender{sender}, nil, nil)

	fail := func() {
		md, err := dc.Executions().Create(ctx, execution.New(execution.CreateRequest{Name: "dq_tx", InputTypeName: "dq_tx", Input: json.RawMessage(`{}`)}))
		require.NoError(t, err)
		require.NoError(t, md.Start())
		require.NoError(t, md.Fail("validate", "bad_row", "row failed validation", ""))
		require.NoError(t, dc.Executions().Update(ctx, md))

		h.Notify(ctx, executor.FailureEvent{
			WorkflowName: "dq_tx", ExecutionID: md.ID,
			FailureStep: "validate", FailureException: "bad_row", FailureReason: "row failed validation",
		})
	}

	fail()
	require.Equal(t, 0, sender.count(), "first failure alone must not cross minimum_failures=2")

	fail()
	require.Equal(t, 1, sender.count())
	require.Equal(t, 2, sender.sent[0].FailureCount)
}

func TestNotify_DebouncesWithinCooldown(t *testing.T) {
	dc := memory.New().DataContext()
	sender := &recordingSender{}

	h := alert.NewHook(dc, []alert.Config{
		{WorkflowName: "extract_tx", MinimumFailures: 1, CooldownPeriod: time.Hour},
	}, []alert.Sender{sender}, nil, nil)

	event := executor.FailureEvent{WorkflowName: "extract_tx", ExecutionID: 1, FailureException: "timeout", FailureReason: "timed out"}
	h.Notify(context.Background(), event)
	h.Notify(context.Background(), event)

	require.Equal(t, 1, sender.count(), "second alert within cooldown_period must be suppressed")
}

func TestNotify_IgnoresWorkflowWithNoConfig(t *testing.T) {
	dc := memory.New().DataContext()
	sender := &recordingSender{}

	h := alert.NewHook(dc, nil, []alert.Sender{sender}, nil, nil)
	h.Notify(context.Background(), executor.FailureEvent{WorkflowName: "unconfigured", ExecutionID: 1})

	require.Equal(t, 0, sender.count())
}
