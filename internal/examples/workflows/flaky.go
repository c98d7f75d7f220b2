package workflows

import (
	"errors"
	"reflect"

	"github.com/chainsharp/scheduler/internal/workflowengine"
)

// FlakyInput backs scenario 4 (§8): a manifest whose workflow always
// fails, used to exercise the reaper's dead-letter promotion after
// max_retries cumulative failures.
type FlakyInput struct {
	SourceID string `json:"sourceId"`
}

// ErrFlakyTimeout is the fixed failure every invocation returns.
var ErrFlakyTimeout = errors.New("timeout contacting upstream")

func NewFlakyWorkflow() *workflowengine.Workflow {
	run := workflowengine.NewFuncStep("call_upstream", workflowengine.StepPlain,
		func(rc workflowengine.RequestContext, bag *workflowengine.MemoryBag) error {
			return ErrFlakyTimeout
		})
	return workflowengine.New("flaky", reflect.TypeOf(FlakyInput{}), nil, run)
}
