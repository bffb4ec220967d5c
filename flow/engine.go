package flow

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/sync/semaphore"

	"github.com/archflow/archflow/archflowerr"
	"github.com/archflow/archflow/flow/expr"
)

// Config tunes an Engine.
type Config struct {
	DefaultRetryPolicy RetryPolicy
	DefaultTimeoutMs   int
	MaxParallel        int
	CircuitBreaker     CircuitBreakerConfig
	Suspend            SuspensionGate
	Events             EventSink
	Logger             *zap.Logger
}

// Engine registers Workflows as Graphs and executes them as Executions. It
// holds no per-run state beyond the registry and per-step circuit breakers;
// all run state lives on the Execution returned to the caller.
type Engine struct {
	mu         sync.RWMutex
	graphs     map[string]*Graph
	cfg        Config
	logger     *zap.Logger
	breakers   *circuitBreakerRegistry
	executions sync.Map // executionID -> *Execution
}

// NewEngine constructs an Engine with the given configuration, applying the
// same sane defaults the teacher's DAG executor applies (a no-op logger, a
// bounded default parallelism, a 60s default step timeout).
func NewEngine(cfg Config) *Engine {
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.MaxParallel <= 0 {
		cfg.MaxParallel = 8
	}
	if cfg.DefaultTimeoutMs <= 0 {
		cfg.DefaultTimeoutMs = 60_000
	}
	cbConfig := cfg.CircuitBreaker
	if cbConfig.FailureThreshold == 0 {
		cbConfig = DefaultCircuitBreakerConfig()
	}
	return &Engine{
		graphs:   make(map[string]*Graph),
		cfg:      cfg,
		logger:   logger.With(zap.String("component", "flow_engine")),
		breakers: newCircuitBreakerRegistry(cbConfig, cfg.Events, logger),
	}
}

// Register validates and stores a workflow graph under workflowID.
func (e *Engine) Register(workflowID string, g *Graph) error {
	if err := g.Validate(); err != nil {
		return err
	}
	e.mu.Lock()
	e.graphs[workflowID] = g
	e.mu.Unlock()
	return nil
}

// Unregister removes a workflow graph. Executions already running against it
// are unaffected, since they hold their own reference to the Graph.
func (e *Engine) Unregister(workflowID string) {
	e.mu.Lock()
	delete(e.graphs, workflowID)
	e.mu.Unlock()
}

// List returns every registered workflow id.
func (e *Engine) List() []string {
	e.mu.RLock()
	defer e.mu.RUnlock()
	ids := make([]string, 0, len(e.graphs))
	for id := range e.graphs {
		ids = append(ids, id)
	}
	return ids
}

func (e *Engine) graph(workflowID string) (*Graph, bool) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	g, ok := e.graphs[workflowID]
	return g, ok
}

// GetExecution looks up a previously started Execution by id.
func (e *Engine) GetExecution(id string) (*Execution, bool) {
	v, ok := e.executions.Load(id)
	if !ok {
		return nil, false
	}
	return v.(*Execution), true
}

// Cancel requests cancellation of a running Execution. It is a no-op if the
// execution is not found or was started via Execute (which has no cancel
// func of its own — the caller's context already owns that).
func (e *Engine) Cancel(id string) bool {
	v, ok := e.executions.Load(id)
	if !ok {
		return false
	}
	ex := v.(*Execution)
	ex.mu.Lock()
	cancel := ex.cancel
	ex.mu.Unlock()
	if cancel == nil {
		return false
	}
	cancel()
	return true
}

// Execute runs workflowID synchronously to completion (or failure/timeout)
// and returns its Execution.
func (e *Engine) Execute(ctx context.Context, workflowID string, input map[string]any) (*Execution, error) {
	g, ok := e.graph(workflowID)
	if !ok {
		return nil, archflowerr.New(archflowerr.KindNotFound, "workflow_not_found", fmt.Sprintf("workflow %q is not registered", workflowID))
	}
	ex := newExecution(uuid.NewString(), workflowID, input)
	e.executions.Store(ex.ID, ex)
	e.runGraph(ctx, ex, g)
	return ex, nil
}

// ExecuteAsync starts workflowID in a background goroutine and returns its
// Execution immediately, in Running status.
func (e *Engine) ExecuteAsync(ctx context.Context, workflowID string, input map[string]any) (*Execution, error) {
	g, ok := e.graph(workflowID)
	if !ok {
		return nil, archflowerr.New(archflowerr.KindNotFound, "workflow_not_found", fmt.Sprintf("workflow %q is not registered", workflowID))
	}
	runCtx, cancel := context.WithCancel(ctx)
	ex := newExecution(uuid.NewString(), workflowID, input)
	ex.cancel = cancel
	e.executions.Store(ex.ID, ex)
	go e.runGraph(runCtx, ex, g)
	return ex, nil
}

func (e *Engine) emit(domain, eventType string, payload map[string]any) {
	if e.cfg.Events == nil {
		return
	}
	e.cfg.Events.Publish(domain, eventType, payload)
}

func (e *Engine) runGraph(ctx context.Context, ex *Execution, g *Graph) {
	ex.setStatus(ExecRunning)
	e.emit("Audit", "TraceStart", map[string]any{"executionId": ex.ID, "workflowId": ex.Workflow})

	entry, ok := g.GetNode(g.Entry())
	if !ok {
		ex.mu.Lock()
		ex.Status, ex.Err = ExecFailed, archflowerr.New(archflowerr.KindValidation, "no_entry_node", "graph has no entry node")
		ex.mu.Unlock()
		return
	}

	output, err := e.executeChain(ctx, ex, g, entry, ex.Input)

	ex.mu.Lock()
	ex.Metrics.EndedAt = time.Now()
	if err != nil {
		ex.Status, ex.Err = ExecFailed, err
	} else {
		ex.Status = ExecCompleted
		if len(ex.Results) > 0 {
			ex.Results[finalOutputKey] = &StepResult{Status: StepCompleted, Output: output, EndedAt: time.Now()}
		}
	}
	status := ex.Status
	ex.mu.Unlock()

	if err != nil {
		e.emit("Audit", "TraceEnd", map[string]any{"executionId": ex.ID, "status": string(status), "error": err.Error()})
		return
	}
	e.emit("Audit", "TraceEnd", map[string]any{"executionId": ex.ID, "status": string(status)})
}

const finalOutputKey = "__final__"

// executeChain walks forward from node, dispatching each node and following
// its single selected continuation edge, until a terminal node (Output, a
// dead end, or an error with no error edge) is reached.
func (e *Engine) executeChain(ctx context.Context, ex *Execution, g *Graph, node *Node, input any) (any, error) {
	for {
		if node.Kind == StepMerge {
			output, proceed, err := e.arriveAtMerge(ctx, ex, g, node, input)
			if err != nil || !proceed {
				return output, err
			}
			cont, next, rerr := e.routeGeneric(ex, g, node, nil)
			if rerr != nil {
				return nil, rerr
			}
			if !cont {
				return output, nil
			}
			nextNode, ok := g.GetNode(next)
			if !ok {
				return nil, archflowerr.New(archflowerr.KindValidation, "missing_node", fmt.Sprintf("edge target %q not found", next)).WithStep(node.ID)
			}
			node, input = nextNode, output
			continue
		}

		output, cont, next, err := e.executeNode(ctx, ex, g, node, input)
		if err != nil {
			return nil, err
		}
		if !cont {
			return output, nil
		}
		nextNode, ok := g.GetNode(next)
		if !ok {
			return output, archflowerr.New(archflowerr.KindValidation, "missing_node", fmt.Sprintf("edge target %q not found", next)).WithStep(node.ID)
		}
		node, input = nextNode, output
	}
}

// executeNode dispatches a single node (memoised per Execution) and reports
// whether the chain should continue and, if so, to which node.
func (e *Engine) executeNode(ctx context.Context, ex *Execution, g *Graph, node *Node, input any) (any, bool, string, error) {
	claim, first := ex.claim(node.ID)
	if !first {
		select {
		case <-ctx.Done():
			return nil, false, "", ctx.Err()
		case <-claim.done:
			return claim.result, false, "", claim.err
		}
	}

	started := time.Now()
	ex.markFrontier(node.ID, true)
	defer ex.markFrontier(node.ID, false)
	e.emit("Tool", "ToolStart", map[string]any{"executionId": ex.ID, "stepId": node.ID, "kind": string(node.Kind)})

	breaker := e.breakers.getOrCreate(ex.Workflow + "/" + node.ID)
	if allowed, cbErr := breaker.allow(); !allowed {
		e.finishClaim(ex, claim, node.ID, nil, cbErr, StepFailed, started, 0)
		e.emit("Tool", "ToolError", map[string]any{"executionId": ex.ID, "stepId": node.ID, "error": cbErr.Error()})
		return nil, false, "", cbErr
	}

	output, attempts, err := e.dispatchWithRetry(ctx, ex, g, node, input, nil)
	if err != nil {
		breaker.recordFailure()
	} else {
		breaker.recordSuccess()
	}

	if err != nil {
		if edge := firstErrorEdge(g, node.ID); edge != nil {
			e.finishClaim(ex, claim, node.ID, nil, err, StepFailed, started, attempts)
			return nil, true, edge.To, nil
		}
		status := StepFailed
		if archflowerr.KindOf(err) == archflowerr.KindTimeout {
			status = StepTimeoutSt
		}
		e.finishClaim(ex, claim, node.ID, nil, err, status, started, attempts)
		e.emit("Tool", "ToolError", map[string]any{"executionId": ex.ID, "stepId": node.ID, "error": err.Error()})
		return nil, false, "", err
	}

	cont, next, rerr := e.route(ex, g, node, nil)
	if rerr != nil {
		e.finishClaim(ex, claim, node.ID, output, rerr, StepFailed, started, attempts)
		e.emit("Tool", "ToolError", map[string]any{"executionId": ex.ID, "stepId": node.ID, "error": rerr.Error()})
		return nil, false, "", rerr
	}
	e.finishClaim(ex, claim, node.ID, output, nil, StepCompleted, started, attempts)
	e.emit("Tool", "ToolComplete", map[string]any{"executionId": ex.ID, "stepId": node.ID})
	return output, cont, next, nil
}

func (e *Engine) finishClaim(ex *Execution, claim *nodeClaim, id string, output any, err error, status StepStatus, started time.Time, attempts int) {
	var errs []error
	if err != nil {
		errs = []error{err}
	}
	ex.setResult(id, &StepResult{
		Status:    status,
		Output:    output,
		Errors:    errs,
		Attempts:  attempts,
		StartedAt: started,
		EndedAt:   time.Now(),
	})
	claim.result, claim.err = output, err
	close(claim.done)
}

// route determines the single continuation edge for a node once it has
// produced output, or reports there is none (a terminal node). extra
// overlays additional variable bindings (e.g. a Loop's bound item) onto the
// expression context used to evaluate edge conditions.
func (e *Engine) route(ex *Execution, g *Graph, node *Node, extra map[string]any) (bool, string, error) {
	switch node.Kind {
	case StepOutput, StepParallelFanOut, StepLoop:
		return false, "", nil
	case StepCondition:
		return e.routeCondition(ex, g, node, extra)
	default:
		return e.routeGeneric(ex, g, node, extra)
	}
}

// routeGeneric selects the first outgoing non-error edge whose condition is
// satisfied (an empty condition is always satisfied), in declaration order.
func (e *Engine) routeGeneric(ex *Execution, g *Graph, node *Node, extra map[string]any) (bool, string, error) {
	ev := expr.New(ex.snapshotVarsWith(extra))
	edge, err := selectFirst(ev, g.OutEdges(node.ID))
	if err != nil {
		return false, "", err
	}
	if edge == nil {
		return false, "", nil
	}
	return true, edge.To, nil
}

// routeCondition evaluates the node's own boolean expression once and routes
// to the edge tagged for that outcome; additional edges are not evaluated.
func (e *Engine) routeCondition(ex *Execution, g *Graph, node *Node, extra map[string]any) (bool, string, error) {
	ev := expr.New(ex.snapshotVarsWith(extra))
	result, err := ev.EvalBool(node.Operation)
	if err != nil {
		return false, "", err
	}
	label := "false"
	if result {
		label = "true"
	}
	var fallback *Edge
	for _, edge := range g.OutEdges(node.ID) {
		if edge.IsError {
			continue
		}
		if edge.Condition == label {
			return true, edge.To, nil
		}
		if edge.Condition == "" && fallback == nil {
			fallback = edge
		}
	}
	if fallback != nil {
		return true, fallback.To, nil
	}
	return false, "", nil
}

func evalEdgeCondition(ev *expr.Evaluator, e *Edge) (bool, error) {
	if e.Condition == "" {
		return true, nil
	}
	return ev.EvalBool(e.Condition)
}

func selectFirst(ev *expr.Evaluator, edges []*Edge) (*Edge, error) {
	for _, e := range edges {
		if e.IsError {
			continue
		}
		ok, err := evalEdgeCondition(ev, e)
		if err != nil {
			return nil, err
		}
		if ok {
			return e, nil
		}
	}
	return nil, nil
}

func selectAll(ev *expr.Evaluator, edges []*Edge) ([]*Edge, error) {
	var selected []*Edge
	for _, e := range edges {
		if e.IsError {
			continue
		}
		ok, err := evalEdgeCondition(ev, e)
		if err != nil {
			return nil, err
		}
		if ok {
			selected = append(selected, e)
		}
	}
	return selected, nil
}

func firstErrorEdge(g *Graph, id string) *Edge {
	for _, e := range g.OutEdges(id) {
		if e.IsError {
			return e
		}
	}
	return nil
}

func (e *Engine) policyFor(node *Node) RetryPolicy {
	if node.RetryPolicy != nil {
		return *node.RetryPolicy
	}
	return e.cfg.DefaultRetryPolicy
}

func (e *Engine) timeoutFor(node *Node) time.Duration {
	ms := node.TimeoutMs
	if ms <= 0 {
		ms = e.cfg.DefaultTimeoutMs
	}
	return time.Duration(ms) * time.Millisecond
}

// dispatchWithRetry applies the step's (or workflow default's) retry policy
// around dispatchOnce, deriving a per-attempt timeout from the step/workflow
// config and retrying only errors the policy allows and that are themselves
// retryable (transport/timeout/provider kinds). extra overlays additional
// variable bindings (e.g. a Loop's bound item) for the duration of dispatch.
func (e *Engine) dispatchWithRetry(ctx context.Context, ex *Execution, g *Graph, node *Node, input any, extra map[string]any) (any, int, error) {
	policy := e.policyFor(node)
	maxAttempts := policy.attempts()
	var lastErr error

	for attempt := 1; attempt <= maxAttempts; attempt++ {
		stepCtx, cancel := context.WithTimeout(ctx, e.timeoutFor(node))
		output, err := e.dispatchOnce(stepCtx, ex, g, node, input, extra)
		timedOut := stepCtx.Err() != nil && ctx.Err() == nil
		cancel()

		if err == nil {
			return output, attempt, nil
		}
		if timedOut {
			err = archflowerr.Wrap(archflowerr.KindTimeout, "step_timeout", "step exceeded its timeout", err).WithStep(node.ID)
		}
		lastErr = err

		if ctx.Err() != nil {
			return nil, attempt, ctx.Err()
		}
		kind := archflowerr.KindOf(err)
		if attempt >= maxAttempts || !policy.allows(kind) || !archflowerr.Retryable(kind) {
			break
		}

		ex.mu.Lock()
		ex.Metrics.Retries++
		ex.mu.Unlock()

		select {
		case <-ctx.Done():
			return nil, attempt, ctx.Err()
		case <-time.After(policy.delay(attempt)):
		}
	}
	return nil, maxAttempts, lastErr
}

func (e *Engine) dispatchOnce(ctx context.Context, ex *Execution, g *Graph, node *Node, input any, extra map[string]any) (any, error) {
	switch node.Kind {
	case StepInput:
		return e.runInput(node, input)
	case StepOutput:
		return e.runOutput(ex, node, extra)
	case StepLLM, StepDeterministicAgent, StepTool:
		return e.runDispatch(ctx, ex, node, extra)
	case StepCondition:
		ev := expr.New(ex.snapshotVarsWith(extra))
		return ev.EvalBool(node.Operation)
	case StepParallelFanOut:
		return e.runParallel(ctx, ex, g, node, input)
	case StepLoop:
		return e.runLoop(ctx, ex, g, node, input)
	case StepSuspendForInput:
		return e.runSuspend(ctx, ex, node)
	default:
		return nil, archflowerr.New(archflowerr.KindValidation, "unknown_step_kind", fmt.Sprintf("unknown step kind %q", node.Kind)).WithStep(node.ID)
	}
}

func (e *Engine) runInput(node *Node, input any) (any, error) {
	if node.InputKey == "" {
		return input, nil
	}
	m, _ := input.(map[string]any)
	if m == nil {
		return nil, nil
	}
	return m[node.InputKey], nil
}

func (e *Engine) runOutput(ex *Execution, node *Node, extra map[string]any) (any, error) {
	ev := expr.New(ex.snapshotVarsWith(extra))
	return ev.Interpolate(node.OutputTemplate)
}

func (e *Engine) runDispatch(ctx context.Context, ex *Execution, node *Node, extra map[string]any) (any, error) {
	if node.Runner == nil {
		return nil, archflowerr.New(archflowerr.KindValidation, "no_runner", fmt.Sprintf("step %q has no runner configured", node.ID)).WithStep(node.ID)
	}
	ev := expr.New(ex.snapshotVarsWith(extra))
	params, err := interpolateParams(ev, node.Parameters)
	if err != nil {
		return nil, err
	}
	rc := &RunContext{
		ExecutionID: ex.ID,
		WorkflowID:  ex.Workflow,
		Node:        node,
		Parameters:  params,
		Vars:        ev.Vars,
	}
	return node.Runner.Run(ctx, rc)
}

func interpolateParams(ev *expr.Evaluator, params map[string]any) (map[string]any, error) {
	out := make(map[string]any, len(params))
	for k, v := range params {
		iv, err := interpolateValue(ev, v)
		if err != nil {
			return nil, err
		}
		out[k] = iv
	}
	return out, nil
}

func interpolateValue(ev *expr.Evaluator, v any) (any, error) {
	switch t := v.(type) {
	case string:
		return ev.Interpolate(t)
	case map[string]any:
		return interpolateParams(ev, t)
	case []any:
		out := make([]any, len(t))
		for i, item := range t {
			iv, err := interpolateValue(ev, item)
			if err != nil {
				return nil, err
			}
			out[i] = iv
		}
		return out, nil
	default:
		return v, nil
	}
}

// runParallel selects every outgoing edge whose condition is satisfied and
// executes each branch's chain concurrently, bounded by MaxParallel. It only
// fails the fan-out once every branch has reached a terminal state, per the
// "no branch failure propagates while a sibling is still progressing" rule.
func (e *Engine) runParallel(ctx context.Context, ex *Execution, g *Graph, node *Node, input any) (any, error) {
	ev := expr.New(ex.snapshotVars())
	edges, err := selectAll(ev, g.OutEdges(node.ID))
	if err != nil {
		return nil, err
	}
	if len(edges) == 0 {
		return input, nil
	}

	type branchOutcome struct {
		key    string
		output any
		err    error
	}
	results := make([]branchOutcome, len(edges))
	sem := semaphore.NewWeighted(int64(e.cfg.MaxParallel))
	var wg sync.WaitGroup

	for i, edge := range edges {
		wg.Add(1)
		if err := sem.Acquire(ctx, 1); err != nil {
			wg.Done()
			results[i] = branchOutcome{key: edge.To, err: err}
			continue
		}
		go func(i int, edge *Edge) {
			defer wg.Done()
			defer sem.Release(1)
			target, ok := g.GetNode(edge.To)
			if !ok {
				results[i] = branchOutcome{key: edge.To, err: archflowerr.New(archflowerr.KindValidation, "missing_node", fmt.Sprintf("fan-out target %q not found", edge.To))}
				return
			}
			out, err := e.executeChain(ctx, ex, g, target, input)
			results[i] = branchOutcome{key: edge.To, output: out, err: err}
		}(i, edge)
	}
	wg.Wait()

	merged := make(map[string]any, len(results))
	var firstErr error
	for _, r := range results {
		merged[r.key] = r.output
		if r.err != nil && firstErr == nil {
			firstErr = r.err
		}
	}
	return merged, firstErr
}

// arriveAtMerge implements the join barrier for a Merge node: every incoming
// branch records its contribution; only the branch that completes the
// barrier proceeds past the Merge node, carrying the merged map forward.
// Every other branch returns quietly (nil, false, nil) once the barrier
// closes.
func (e *Engine) arriveAtMerge(ctx context.Context, ex *Execution, g *Graph, node *Node, input any) (any, bool, error) {
	need := g.indegree(node.ID)
	if need < 1 {
		need = 1
	}
	barrierI, _ := ex.mergeBarriers.LoadOrStore(node.ID, &mergeBarrier{need: need, got: make(map[string]any), done: make(chan struct{})})
	barrier := barrierI.(*mergeBarrier)

	barrier.mu.Lock()
	key := fmt.Sprintf("branch%d", len(barrier.got))
	barrier.got[key] = input
	ready := len(barrier.got) >= barrier.need
	var snapshot map[string]any
	if ready {
		snapshot = make(map[string]any, len(barrier.got))
		for k, v := range barrier.got {
			snapshot[k] = v
		}
	}
	barrier.mu.Unlock()

	if !ready {
		select {
		case <-ctx.Done():
			return nil, false, ctx.Err()
		case <-barrier.done:
			return nil, false, nil
		}
	}

	ex.setResult(node.ID, &StepResult{Status: StepCompleted, Output: snapshot, StartedAt: time.Now(), EndedAt: time.Now()})
	e.emit("Tool", "ToolComplete", map[string]any{"executionId": ex.ID, "stepId": node.ID})
	close(barrier.done)
	return snapshot, true, nil
}

// runLoop iterates LoopConfig.ItemsExpr, running the step's outgoing body
// chain once per element with the element bound to LoopConfig.BindName.
// Iterations run sequentially unless the loop is marked Parallel, in which
// case at most MaxConcurrency bodies run at once. Each iteration's body
// results are recorded under a namespaced step id so repeated iterations of
// the same body node remain individually observable.
func (e *Engine) runLoop(ctx context.Context, ex *Execution, g *Graph, node *Node, input any) (any, error) {
	if node.LoopConfig == nil {
		return nil, archflowerr.New(archflowerr.KindValidation, "no_loop_config", fmt.Sprintf("loop step %q has no loop configuration", node.ID)).WithStep(node.ID)
	}
	cfg := node.LoopConfig

	ev := expr.New(ex.snapshotVars())
	raw, err := ev.Eval(cfg.ItemsExpr)
	if err != nil {
		return nil, err
	}
	items, ok := raw.([]any)
	if !ok {
		return nil, archflowerr.New(archflowerr.KindValidation, "loop_items_not_array", fmt.Sprintf("loop step %q items expression did not evaluate to an array", node.ID)).WithStep(node.ID)
	}

	body := g.OutEdges(node.ID)
	if len(body) == 0 || len(items) == 0 {
		return []any{}, nil
	}

	results := make([]any, len(items))
	errs := make([]error, len(items))
	sem := semaphore.NewWeighted(int64(cfg.concurrency()))
	var wg sync.WaitGroup

	for i, item := range items {
		wg.Add(1)
		if err := sem.Acquire(ctx, 1); err != nil {
			wg.Done()
			errs[i] = err
			continue
		}
		go func(i int, item any) {
			defer wg.Done()
			defer sem.Release(1)
			var extra map[string]any
			if cfg.BindName != "" {
				extra = map[string]any{cfg.BindName: item}
			}
			var out any
			var ierr error
			for _, edge := range body {
				target, ok := g.GetNode(edge.To)
				if !ok {
					ierr = archflowerr.New(archflowerr.KindValidation, "missing_node", fmt.Sprintf("loop body target %q not found", edge.To))
					break
				}
				resultKey := fmt.Sprintf("%s#%d", node.ID, i)
				out, ierr = e.runIsolatedChain(ctx, ex, g, target, item, extra, resultKey)
				if ierr != nil {
					break
				}
			}
			results[i] = out
			errs[i] = ierr
		}(i, item)
	}
	wg.Wait()

	for _, ierr := range errs {
		if ierr != nil {
			return results, ierr
		}
	}
	return results, nil
}

// runIsolatedChain is executeChain's sibling for loop-body iterations: it
// runs a single linear chain (Condition routing is supported; nested
// ParallelFanOut/Merge/Loop are not), recording each node's result under an
// iteration-namespaced key instead of the shared per-Execution claim table,
// so every iteration actually re-executes its body rather than being
// memoised away after the first.
func (e *Engine) runIsolatedChain(ctx context.Context, ex *Execution, g *Graph, node *Node, input any, extra map[string]any, resultKey string) (any, error) {
	output, attempts, err := e.dispatchWithRetry(ctx, ex, g, node, input, extra)
	status := StepCompleted
	if err != nil {
		status = StepFailed
		if edge := firstErrorEdge(g, node.ID); edge != nil {
			ex.setResult(resultKey, &StepResult{Status: status, Errors: []error{err}, Attempts: attempts, EndedAt: time.Now()})
			nextNode, ok := g.GetNode(edge.To)
			if ok {
				return e.runIsolatedChain(ctx, ex, g, nextNode, err.Error(), extra, resultKey)
			}
		}
		ex.setResult(resultKey, &StepResult{Status: status, Errors: []error{err}, Attempts: attempts, EndedAt: time.Now()})
		return nil, err
	}
	ex.setResult(resultKey, &StepResult{Status: status, Output: output, Attempts: attempts, EndedAt: time.Now()})

	if node.Kind == StepOutput || node.Kind == StepParallelFanOut || node.Kind == StepMerge || node.Kind == StepLoop {
		return output, nil
	}
	cont, next, rerr := e.route(ex, g, node, extra)
	if rerr != nil {
		return nil, rerr
	}
	if !cont {
		return output, nil
	}
	nextNode, ok := g.GetNode(next)
	if !ok {
		return output, nil
	}
	return e.runIsolatedChain(ctx, ex, g, nextNode, output, extra, resultKey)
}

func (e *Engine) runSuspend(ctx context.Context, ex *Execution, node *Node) (any, error) {
	if e.cfg.Suspend == nil {
		return nil, archflowerr.New(archflowerr.KindValidation, "suspension_not_configured", "no conversation manager wired for SuspendForInput").WithStep(node.ID)
	}
	form := node.Parameters
	ex.setStatus(ExecPaused)
	e.emit("Interaction", "SuspendForInput", map[string]any{"executionId": ex.ID, "stepId": node.ID, "form": form})

	data, err := e.cfg.Suspend.Await(ctx, ex.ID, node.ID, form)
	if err != nil {
		return nil, archflowerr.Wrap(archflowerr.KindCancelled, "suspend_not_resumed", "suspended step did not resume", err).WithStep(node.ID)
	}
	ex.setStatus(ExecRunning)
	return data, nil
}
