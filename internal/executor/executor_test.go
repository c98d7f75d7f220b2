package executor_test

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/chainsharp/scheduler/internal/domain/execution"
	"github.com/chainsharp/scheduler/internal/examples/workflows"
	"github.com/chainsharp/scheduler/internal/executor"
	"github.com/chainsharp/scheduler/internal/registry"
	"github.com/chainsharp/scheduler/internal/store/memory"
)

func newRegistry(t *testing.T) *registry.Registry {
	t.Helper()
	reg := registry.New()
	require.NoError(t, workflows.Register(reg))
	return reg
}

func TestExecutorRun_Completes(t *testing.T) {
	st := memory.New()
	dc := st.DataContext()
	reg := newRegistry(t)

	input, err := json.Marshal(workflows.HelloInput{Name: "ada"})
	require.NoError(t, err)

	md, err := dc.Executions().Create(context.Background(), execution.New(execution.CreateRequest{
		Name:  "hello",
		Input: input,
	}))
	require.NoError(t, err)
	require.Equal(t, execution.StatePending, md.WorkflowState)

	exec := executor.New(dc, reg, nil, nil, nil)
	require.NoError(t, exec.Run(context.Background(), md.ID))

	got, err := dc.Executions().GetByID(context.Background(), md.ID)
	require.NoError(t, err)
	require.Equal(t, execution.StateCompleted, got.WorkflowState)

	var out workflows.HelloOutput
	require.NoError(t, json.Unmarshal(got.Output, &out))
	require.Equal(t, "hello, ada", out.Greeting)
}

func TestExecutorRun_FailsAndNotifiesHook(t *testing.T) {
	st := memory.New()
	dc := st.DataContext()
	reg := newRegistry(t)

	input, err := json.Marshal(workflows.FlakyInput{SourceID: "src-1"})
	require.NoError(t, err)

	md, err := dc.Executions().Create(context.Background(), execution.New(execution.CreateRequest{
		Name:  "flaky",
		Input: input,
	}))
	require.NoError(t, err)

	var notified *executor.FailureEvent
	hook := recordingHook{onNotify: func(ev executor.FailureEvent) { notified = &ev }}

	exec := executor.New(dc, reg, hook, nil, nil)
	err = exec.Run(context.Background(), md.ID)
	require.Error(t, err)

	got, err := dc.Executions().GetByID(context.Background(), md.ID)
	require.NoError(t, err)
	require.Equal(t, execution.StateFailed, got.WorkflowState)
	require.NotNil(t, got.FailureReason)

	require.NotNil(t, notified)
	require.Equal(t, md.ID, notified.ExecutionID)
	require.Equal(t, "flaky", notified.WorkflowName)
}

func TestExecutorRun_RejectsNonPending(t *testing.T) {
	st := memory.New()
	dc := st.DataContext()
	reg := newRegistry(t)

	md, err := dc.Executions().Create(context.Background(), execution.New(execution.CreateRequest{
		Name:  "hello",
		Input: json.RawMessage(`{"name":"x"}`),
	}))
	require.NoError(t, err)
	require.NoError(t, md.Start())
	require.NoError(t, dc.Executions().Update(context.Background(), md))

	exec := executor.New(dc, reg, nil, nil, nil)
	err = exec.Run(context.Background(), md.ID)
	require.ErrorIs(t, err, executor.ErrIllegalRetry)
}

func TestExecutorRun_UnknownExecution(t *testing.T) {
	st := memory.New()
	dc := st.DataContext()
	reg := newRegistry(t)

	exec := executor.New(dc, reg, nil, nil, nil)
	err := exec.Run(context.Background(), 999)
	require.ErrorIs(t, err, executor.ErrUnknownExecution)
}

type recordingHook struct {
	onNotify func(executor.FailureEvent)
}

func (r recordingHook) Notify(_ context.Context, ev executor.FailureEvent) {
	r.onNotify(ev)
}
