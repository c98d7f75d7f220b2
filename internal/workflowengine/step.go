package workflowengine

import (
	"context"

	"github.com/chainsharp/scheduler/internal/dormant"
	"github.com/chainsharp/scheduler/internal/store"
)

// StepKind tags each registered step. Workflow.Run runs every step the
// same way; the only kind it treats specially is StepShortCircuit, whose
// ErrShortCircuit ends the workflow successfully.
type StepKind string

const (
	// StepPlain runs unconditionally and cannot halt the workflow
	// early.
	StepPlain StepKind = "plain"
	// StepShortCircuit may return ErrShortCircuit to stop the workflow
	// successfully before its remaining steps run (e.g. a validation
	// step that finds nothing to do).
	StepShortCircuit StepKind = "short_circuit"
	// StepExtract pulls external data into the bag (an I/O boundary).
	StepExtract StepKind = "extract"
	// StepChain labels a step that continues a chain of workflows; the
	// engine runs it like a plain step and does not invoke another
	// workflow itself.
	StepChain StepKind = "chain"
)

// RequestContext is the explicit per-execution scope Design Note 9
// calls for in place of DI scopes: every step receives the data-
// context handle, the dormant-dependent context, the execution's
// metadata id, and the cancellation signal, and nothing else.
type RequestContext struct {
	Ctx        context.Context
	Data       store.DataContext
	Dormant    *dormant.Context
	MetadataID int64
}

// Step is one unit of work in a Workflow. Implementations declare
// their dependencies as constructor parameters (explicit dependency
// list), never struct-tag injection.
type Step interface {
	Kind() StepKind
	Name() string
	Run(rc RequestContext, bag *MemoryBag) error
}

// baseStep is embedded by concrete steps to satisfy Kind/Name without
// repeating the same two one-line methods everywhere.
type baseStep struct {
	kind StepKind
	name string
}

func (s baseStep) Kind() StepKind { return s.kind }
func (s baseStep) Name() string   { return s.name }

// FuncStep adapts a plain function into a Step, for workflows whose
// steps have no state of their own beyond their closure.
type FuncStep struct {
	baseStep
	fn func(rc RequestContext, bag *MemoryBag) error
}

func NewFuncStep(name string, kind StepKind, fn func(rc RequestContext, bag *MemoryBag) error) *FuncStep {
	return &FuncStep{baseStep: baseStep{kind: kind, name: name}, fn: fn}
}

func (s *FuncStep) Run(rc RequestContext, bag *MemoryBag) error {
	return s.fn(rc, bag)
}
