// Package registry is the explicit, startup-time registration table
// for user workflows (spec.md §4.6 step 5: "Resolve workflow. Look up
// the user workflow by input type in the registry; fail with
// UnregisteredWorkflow if absent"). Grounded on the teacher's
// internal/jobs/codec.go + types.go: a closed enum with an explicit
// switch-based encode/decode table, generalized from "job type string
// -> payload struct" to "input type name -> workflow factory". No
// reflection-based package scanning is used anywhere in this package.
package registry

import (
	"encoding/json"
	"errors"
	"reflect"
	"sync"

	"github.com/chainsharp/scheduler/internal/workflowengine"
)

var (
	ErrUnregisteredWorkflow = errors.New("registry: unregistered workflow input type")
	ErrAlreadyRegistered    = errors.New("registry: workflow already registered for this input type")
)

// Factory builds a fresh Workflow instance. Decoding the opaque
// input_properties JSON blob into the declared input type is done by
// DecodeInput, not by the factory.
type Factory func() *workflowengine.Workflow

// entry pairs a workflow factory with the concrete Go type its input
// decodes into, so DecodeInput can unmarshal without reflection-based
// discovery — the type is named explicitly at Register time.
type entry struct {
	factory   Factory
	inputType reflect.Type
}

// Registry is the process-wide table of (input_type_name -> workflow).
// A single instance is constructed at startup and handed to the
// executor; it is safe for concurrent reads after registration.
type Registry struct {
	mu      sync.RWMutex
	byInput map[string]entry
}

func New() *Registry {
	return &Registry{byInput: make(map[string]entry)}
}

// Register associates inputTypeName (the manifest's input_type_name
// field) with factory and the zero value of the concrete input type
// newInput returns, used to decode input_properties/work_queue.input.
func (r *Registry) Register(inputTypeName string, newInput func() any, factory Factory) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.byInput[inputTypeName]; exists {
		return ErrAlreadyRegistered
	}
	r.byInput[inputTypeName] = entry{
		factory:   factory,
		inputType: reflect.TypeOf(newInput()),
	}
	return nil
}

// Resolve returns the workflow factory registered for inputTypeName.
func (r *Registry) Resolve(inputTypeName string) (Factory, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	e, ok := r.byInput[inputTypeName]
	if !ok {
		return nil, ErrUnregisteredWorkflow
	}
	return e.factory, nil
}

// DecodeInput unmarshals raw into a fresh value of the input type
// registered for inputTypeName, returning it as the workflow's input
// argument.
func (r *Registry) DecodeInput(inputTypeName string, raw json.RawMessage) (any, error) {
	r.mu.RLock()
	e, ok := r.byInput[inputTypeName]
	r.mu.RUnlock()
	if !ok {
		return nil, ErrUnregisteredWorkflow
	}

	ptr := reflect.New(e.inputType)
	if len(raw) > 0 {
		if err := json.Unmarshal(raw, ptr.Interface()); err != nil {
			return nil, err
		}
	}
	return ptr.Elem().Interface(), nil
}

// IsRegistered reports whether inputTypeName has a workflow, used by
// manifest validation (UnregisteredWorkflow per spec.md §4.6.5 is an
// executor-time failure, but ScheduleMany checks it eagerly too so bad
// manifests are rejected at registration time rather than at first
// fire).
func (r *Registry) IsRegistered(inputTypeName string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.byInput[inputTypeName]
	return ok
}
