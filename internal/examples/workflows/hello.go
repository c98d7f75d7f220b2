// Package workflows ships the example user workflows spec.md §8's
// end-to-end scenarios exercise: a trivial greeting workflow and an
// extract/transform/dq chain (including a dormant-activation variant),
// all registered explicitly in Register rather than discovered by
// scanning.
package workflows

import (
	"reflect"

	"github.com/chainsharp/scheduler/internal/registry"
	"github.com/chainsharp/scheduler/internal/workflowengine"
)

// HelloInput/HelloOutput back scenario 1 (§8): a single-interval
// manifest with input {name:"x"} run every tick.
type HelloInput struct {
	Name string `json:"name"`
}

type HelloOutput struct {
	Greeting string `json:"greeting"`
}

func NewHelloWorkflow() *workflowengine.Workflow {
	greet := workflowengine.NewFuncStep("greet", workflowengine.StepPlain,
		func(rc workflowengine.RequestContext, bag *workflowengine.MemoryBag) error {
			in := workflowengine.BagMustGet[HelloInput](bag)
			workflowengine.BagSet(bag, HelloOutput{Greeting: "hello, " + in.Name})
			return nil
		})
	return workflowengine.New("hello", reflect.TypeOf(HelloInput{}), reflect.TypeOf(HelloOutput{}), greet)
}

// Register installs every example workflow into reg under the
// input_type_name a manifest's input_type_name field would name.
func Register(reg *registry.Registry) error {
	if err := reg.Register("hello", func() any { return HelloInput{} }, NewHelloWorkflow); err != nil {
		return err
	}
	if err := reg.Register("extract", func() any { return ExtractInput{} }, NewExtractWorkflow); err != nil {
		return err
	}
	if err := reg.Register("transform", func() any { return TransformInput{} }, NewTransformWorkflow); err != nil {
		return err
	}
	if err := reg.Register("dq", func() any { return DQInput{} }, NewDQWorkflow); err != nil {
		return err
	}
	if err := reg.Register("extract_tx", func() any { return ExtractTxInput{} }, NewExtractTxWorkflow); err != nil {
		return err
	}
	if err := reg.Register("dq_tx", func() any { return DQTxInput{} }, NewDQTxWorkflow); err != nil {
		return err
	}
	if err := reg.Register("flaky", func() any { return FlakyInput{} }, NewFlakyWorkflow); err != nil {
		return err
	}
	return nil
}
