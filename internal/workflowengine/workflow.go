package workflowengine

import (
	"errors"
	"reflect"
	"runtime/debug"
)

// ErrShortCircuit is returned by a StepShortCircuit step to end the
// workflow successfully without running its remaining steps.
var ErrShortCircuit = errors.New("workflowengine: short circuit")

// WorkflowError is the failure half of the sum-type result spec.md §3
// and §4.6 describe: success carries a result, failure carries an
// exception with captured failure_step/failure_exception/
// failure_reason/stack_trace.
type WorkflowError struct {
	Step      string
	Exception string
	Reason    string
	Stack     string
}

func (e *WorkflowError) Error() string {
	return e.Step + ": " + e.Reason
}

// Workflow is an ordered list of registered steps plus an input/output
// type pair.
type Workflow struct {
	Name       string
	InputType  reflect.Type
	OutputType reflect.Type
	Steps      []Step
}

// New constructs a Workflow from the given steps in order.
func New(name string, inputType, outputType reflect.Type, steps ...Step) *Workflow {
	return &Workflow{Name: name, InputType: inputType, OutputType: outputType, Steps: steps}
}

// Run seeds the memory bag with input, runs every step in order, and
// returns either the value of OutputType left in the bag or a
// WorkflowError describing which step failed and why.
func (w *Workflow) Run(rc RequestContext, input any) (output any, werr *WorkflowError) {
	defer func() {
		if r := recover(); r != nil {
			werr = &WorkflowError{
				Step:      "panic",
				Exception: "panic",
				Reason:    panicReason(r),
				Stack:     string(debug.Stack()),
			}
			output = nil
		}
	}()

	bag := NewMemoryBag()
	bag.items[reflect.TypeOf(input)] = input

	for _, step := range w.Steps {
		if rc.Ctx.Err() != nil {
			return nil, &WorkflowError{
				Step:      step.Name(),
				Exception: "cancelled",
				Reason:    rc.Ctx.Err().Error(),
			}
		}

		err := step.Run(rc, bag)
		if err == nil {
			continue
		}
		if step.Kind() == StepShortCircuit && errors.Is(err, ErrShortCircuit) {
			break
		}
		return nil, &WorkflowError{
			Step:      step.Name(),
			Exception: reflect.TypeOf(err).String(),
			Reason:    err.Error(),
			Stack:     string(debug.Stack()),
		}
	}

	if w.OutputType == nil {
		return nil, nil
	}
	out, ok := bag.items[w.OutputType]
	if !ok {
		return nil, &WorkflowError{
			Step:      "output",
			Exception: "missing_output",
			Reason:    "workflow completed without producing a " + w.OutputType.String(),
		}
	}
	return out, nil
}

func panicReason(r any) string {
	if err, ok := r.(error); ok {
		return err.Error()
	}
	if s, ok := r.(string); ok {
		return s
	}
	return "unrecoverable panic"
}
