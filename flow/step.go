package flow

import "context"

// RunContext is handed to a StepRunner for LLM, DeterministicAgent, and Tool
// steps. Vars is the evaluated variable snapshot (input, execution, workflow,
// and every already-completed step's output/error) that Parameters were
// interpolated against.
type RunContext struct {
	ExecutionID string
	WorkflowID  string
	Node        *Node
	Parameters  map[string]any
	Vars        map[string]any
}

// StepRunner dispatches an LLM, DeterministicAgent, or Tool step to whatever
// backs it — a provider adapter, a Func-Agent, or the tool registry. The
// engine never imports those packages directly; callers wire a StepRunner
// per step kind (or a shared dispatching one) at workflow registration.
type StepRunner interface {
	Run(ctx context.Context, rc *RunContext) (any, error)
}

// StepRunnerFunc adapts a function to StepRunner.
type StepRunnerFunc func(ctx context.Context, rc *RunContext) (any, error)

func (f StepRunnerFunc) Run(ctx context.Context, rc *RunContext) (any, error) {
	return f(ctx, rc)
}

// SuspensionGate hands a SuspendForInput step to the Conversation Manager
// and blocks until the step is resumed, cancelled, or the context is done.
// It is a narrow seam so this package never imports conversation directly.
type SuspensionGate interface {
	Await(ctx context.Context, executionID, stepID string, form map[string]any) (map[string]any, error)
}

// SuspensionGateFunc adapts a function to SuspensionGate.
type SuspensionGateFunc func(ctx context.Context, executionID, stepID string, form map[string]any) (map[string]any, error)

func (f SuspensionGateFunc) Await(ctx context.Context, executionID, stepID string, form map[string]any) (map[string]any, error) {
	return f(ctx, executionID, stepID, form)
}

// EventSink publishes observability events for the engine's own lifecycle.
// Mirrors funcagent.EventSink so both can be satisfied by the same eventbus
// adapter without either package importing eventbus.
type EventSink interface {
	Publish(domain, eventType string, payload map[string]any)
}
