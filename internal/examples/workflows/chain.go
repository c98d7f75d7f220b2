package workflows

import (
	"reflect"

	"github.com/chainsharp/scheduler/internal/workflowengine"
)

// ExtractInput/Output, TransformInput/Output, DQInput/Output back
// scenario 2 (§8): an extract -> transform -> dq dependency chain
// where only scheduling eligibility (via last_successful_run) chains
// the three manifests, each with its own workflow and input.

type ExtractInput struct {
	SourceID string `json:"sourceId"`
}

type ExtractOutput struct {
	RowCount int `json:"rowCount"`
}

func NewExtractWorkflow() *workflowengine.Workflow {
	run := workflowengine.NewFuncStep("extract", workflowengine.StepExtract,
		func(rc workflowengine.RequestContext, bag *workflowengine.MemoryBag) error {
			in := workflowengine.BagMustGet[ExtractInput](bag)
			workflowengine.BagSet(bag, ExtractOutput{RowCount: len(in.SourceID) + 1})
			return nil
		})
	return workflowengine.New("extract", reflect.TypeOf(ExtractInput{}), reflect.TypeOf(ExtractOutput{}), run)
}

type TransformInput struct {
	SourceID string `json:"sourceId"`
}

type TransformOutput struct {
	RowCount int `json:"rowCount"`
}

func NewTransformWorkflow() *workflowengine.Workflow {
	run := workflowengine.NewFuncStep("transform", workflowengine.StepPlain,
		func(rc workflowengine.RequestContext, bag *workflowengine.MemoryBag) error {
			in := workflowengine.BagMustGet[TransformInput](bag)
			workflowengine.BagSet(bag, TransformOutput{RowCount: len(in.SourceID)})
			return nil
		})
	return workflowengine.New("transform", reflect.TypeOf(TransformInput{}), reflect.TypeOf(TransformOutput{}), run)
}

type DQInput struct {
	SourceID string `json:"sourceId"`
}

type DQOutput struct {
	Passed bool `json:"passed"`
}

func NewDQWorkflow() *workflowengine.Workflow {
	run := workflowengine.NewFuncStep("dq", workflowengine.StepPlain,
		func(rc workflowengine.RequestContext, bag *workflowengine.MemoryBag) error {
			workflowengine.BagSet(bag, DQOutput{Passed: true})
			return nil
		})
	return workflowengine.New("dq", reflect.TypeOf(DQInput{}), reflect.TypeOf(DQOutput{}), run)
}
