package flow

import (
	"context"
	"sync"
	"time"
)

// ExecutionStatus is the lifecycle status of an Execution.
type ExecutionStatus string

const (
	ExecInitialized ExecutionStatus = "Initialized"
	ExecRunning     ExecutionStatus = "Running"
	ExecPaused      ExecutionStatus = "Paused"
	ExecCompleted   ExecutionStatus = "Completed"
	ExecFailed      ExecutionStatus = "Failed"
	ExecStopped     ExecutionStatus = "Stopped"
)

// StepStatus is the lifecycle status of a single StepResult.
type StepStatus string

const (
	StepPending   StepStatus = "Pending"
	StepRunning   StepStatus = "Running"
	StepCompleted StepStatus = "Completed"
	StepFailed    StepStatus = "Failed"
	StepSkipped   StepStatus = "Skipped"
	StepCancelled StepStatus = "Cancelled"
	StepPausedSt  StepStatus = "Paused"
	StepTimeoutSt StepStatus = "Timeout"
)

// StepResult is the latest recorded outcome of one step within an Execution.
type StepResult struct {
	Status    StepStatus
	Output    any
	Errors    []error
	Attempts  int
	StartedAt time.Time
	EndedAt   time.Time
}

// ExecutionMetrics aggregates counters across an Execution's lifetime.
type ExecutionMetrics struct {
	StartedAt time.Time
	EndedAt   time.Time
	Tokens    int
	Retries   int
}

// Execution is the per-invocation runtime entity produced by Engine.Execute.
// Its Results map is written only by the step that produced an entry and is
// safe to read concurrently via Result.
type Execution struct {
	mu       sync.RWMutex
	ID       string
	Workflow string
	Input    map[string]any
	Status   ExecutionStatus
	Results  map[string]*StepResult
	Frontier map[string]struct{}
	Metrics  ExecutionMetrics
	Err      error
	cancel   context.CancelFunc

	mergeBarriers sync.Map // nodeID -> *mergeBarrier
	claims        sync.Map // nodeID -> *nodeClaim
}

func newExecution(id, workflowID string, input map[string]any) *Execution {
	return &Execution{
		ID:       id,
		Workflow: workflowID,
		Input:    input,
		Status:   ExecInitialized,
		Results:  make(map[string]*StepResult),
		Frontier: make(map[string]struct{}),
		Metrics:  ExecutionMetrics{StartedAt: time.Now()},
	}
}

// nodeClaim lets the first goroutine to reach a node run it while any
// concurrent arrivals (converging fan-out branches) wait for and reuse its
// result instead of recomputing it, matching the idempotent-resume and
// memoised-output invariants.
type nodeClaim struct {
	done   chan struct{}
	result any
	err    error
}

// claim returns the node's claim slot and whether the caller is the first to
// reach it (and therefore responsible for executing it and closing done).
func (ex *Execution) claim(id string) (*nodeClaim, bool) {
	c := &nodeClaim{done: make(chan struct{})}
	actual, loaded := ex.claims.LoadOrStore(id, c)
	return actual.(*nodeClaim), !loaded
}

func (ex *Execution) setStatus(s ExecutionStatus) {
	ex.mu.Lock()
	ex.Status = s
	ex.mu.Unlock()
}

// GetStatus returns the current execution status.
func (ex *Execution) GetStatus() ExecutionStatus {
	ex.mu.RLock()
	defer ex.mu.RUnlock()
	return ex.Status
}

func (ex *Execution) result(id string) (*StepResult, bool) {
	ex.mu.RLock()
	defer ex.mu.RUnlock()
	r, ok := ex.Results[id]
	return r, ok
}

// Result returns a copy-safe view of a step's latest result.
func (ex *Execution) Result(id string) (StepResult, bool) {
	ex.mu.RLock()
	defer ex.mu.RUnlock()
	r, ok := ex.Results[id]
	if !ok {
		return StepResult{}, false
	}
	return *r, true
}

func (ex *Execution) setResult(id string, r *StepResult) {
	ex.mu.Lock()
	ex.Results[id] = r
	ex.mu.Unlock()
}

func (ex *Execution) markFrontier(id string, active bool) {
	ex.mu.Lock()
	if active {
		ex.Frontier[id] = struct{}{}
	} else {
		delete(ex.Frontier, id)
	}
	ex.mu.Unlock()
}

func (ex *Execution) snapshotVars() map[string]any {
	vars := map[string]any{
		"input":     map[string]any(ex.Input),
		"execution": map[string]any{"id": ex.ID},
		"workflow":  map[string]any{"id": ex.Workflow},
	}
	ex.mu.RLock()
	for id, r := range ex.Results {
		entry := map[string]any{"output": r.Output}
		if len(r.Errors) > 0 {
			entry["error"] = r.Errors[len(r.Errors)-1].Error()
		}
		vars[id] = entry
	}
	ex.mu.RUnlock()
	return vars
}

// snapshotVarsWith overlays extra bindings (e.g. a Loop's bound item) on top
// of the normal execution snapshot, without mutating Execution state.
func (ex *Execution) snapshotVarsWith(extra map[string]any) map[string]any {
	vars := ex.snapshotVars()
	for k, v := range extra {
		vars[k] = v
	}
	return vars
}

type mergeBarrier struct {
	mu   sync.Mutex
	need int
	got  map[string]any
	done chan struct{}
}
