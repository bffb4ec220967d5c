package flow

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/archflow/archflow/archflowerr"
)

func echoRunner(key string) StepRunner {
	return StepRunnerFunc(func(ctx context.Context, rc *RunContext) (any, error) {
		return rc.Parameters[key], nil
	})
}

func linearGraph(runner StepRunner) *Graph {
	g := NewGraph()
	g.AddNode(&Node{ID: "in", Kind: StepInput})
	g.AddNode(&Node{ID: "work", Kind: StepTool, Runner: runner, Parameters: map[string]any{"value": "${input.value}"}})
	g.AddNode(&Node{ID: "out", Kind: StepOutput, OutputTemplate: "${work.output}"})
	g.AddEdge(&Edge{From: "in", To: "work"})
	g.AddEdge(&Edge{From: "work", To: "out"})
	g.SetEntry("in")
	return g
}

func TestEngine_LinearWorkflowCompletes(t *testing.T) {
	e := NewEngine(Config{})
	require.NoError(t, e.Register("wf", linearGraph(echoRunner("value"))))

	ex, err := e.Execute(context.Background(), "wf", map[string]any{"value": "hello"})
	require.NoError(t, err)
	assert.Equal(t, ExecCompleted, ex.GetStatus())

	r, ok := ex.Result("out")
	require.True(t, ok)
	assert.Equal(t, StepCompleted, r.Status)
	assert.Equal(t, "hello", r.Output)
}

// TestEngine_SuspendAndResume exercises a workflow that pauses on a
// SuspendForInput step and only completes once the gate resolves, matching
// the suspend/resume seed scenario.
func TestEngine_SuspendAndResume(t *testing.T) {
	resume := make(chan map[string]any, 1)
	gate := SuspensionGateFunc(func(ctx context.Context, executionID, stepID string, form map[string]any) (map[string]any, error) {
		select {
		case v := <-resume:
			return v, nil
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	})

	g := NewGraph()
	g.AddNode(&Node{ID: "in", Kind: StepInput})
	g.AddNode(&Node{ID: "ask", Kind: StepSuspendForInput, Parameters: map[string]any{"prompt": "approve?"}})
	g.AddNode(&Node{ID: "out", Kind: StepOutput, OutputTemplate: "${ask.output.approved}"})
	g.AddEdge(&Edge{From: "in", To: "ask"})
	g.AddEdge(&Edge{From: "ask", To: "out"})
	g.SetEntry("in")

	e := NewEngine(Config{Suspend: gate})
	require.NoError(t, e.Register("wf", g))

	ex, err := e.ExecuteAsync(context.Background(), "wf", nil)
	require.NoError(t, err)

	require.Eventually(t, func() bool { return ex.GetStatus() == ExecPaused }, time.Second, time.Millisecond)

	resume <- map[string]any{"approved": true}

	require.Eventually(t, func() bool { return ex.GetStatus() == ExecCompleted }, time.Second, time.Millisecond)

	r, ok := ex.Result("out")
	require.True(t, ok)
	assert.Equal(t, "true", r.Output)
}

// TestEngine_ParallelFanOutPartialFailure mirrors the seed scenario where a
// ParallelFanOut node has three sibling branches; one fails with no error
// edge of its own, but its siblings still reach StepCompleted and the
// Execution only fails once every branch has finished.
func TestEngine_ParallelFanOutPartialFailure(t *testing.T) {
	failing := StepRunnerFunc(func(ctx context.Context, rc *RunContext) (any, error) {
		return nil, archflowerr.New(archflowerr.KindValidation, "boom", "branch B failed")
	})
	slow := StepRunnerFunc(func(ctx context.Context, rc *RunContext) (any, error) {
		time.Sleep(20 * time.Millisecond)
		return "c-done", nil
	})

	g := NewGraph()
	g.AddNode(&Node{ID: "in", Kind: StepInput})
	g.AddNode(&Node{ID: "fan", Kind: StepParallelFanOut})
	g.AddNode(&Node{ID: "a", Kind: StepTool, Runner: echoRunner("value"), Parameters: map[string]any{"value": "a-done"}})
	g.AddNode(&Node{ID: "b", Kind: StepTool, Runner: failing})
	g.AddNode(&Node{ID: "c", Kind: StepTool, Runner: slow})
	g.AddEdge(&Edge{From: "in", To: "fan"})
	g.AddEdge(&Edge{From: "fan", To: "a"})
	g.AddEdge(&Edge{From: "fan", To: "b"})
	g.AddEdge(&Edge{From: "fan", To: "c"})
	g.SetEntry("in")

	e := NewEngine(Config{})
	require.NoError(t, e.Register("wf", g))

	ex, err := e.Execute(context.Background(), "wf", nil)
	require.NoError(t, err)
	assert.Equal(t, ExecFailed, ex.GetStatus())

	ra, ok := ex.Result("a")
	require.True(t, ok)
	assert.Equal(t, StepCompleted, ra.Status)

	rb, ok := ex.Result("b")
	require.True(t, ok)
	assert.Equal(t, StepFailed, rb.Status)

	rc, ok := ex.Result("c")
	require.True(t, ok)
	assert.Equal(t, StepCompleted, rc.Status)
}

func TestEngine_ConditionRoutesOnBoolExpression(t *testing.T) {
	g := NewGraph()
	g.AddNode(&Node{ID: "in", Kind: StepInput})
	g.AddNode(&Node{ID: "chk", Kind: StepCondition, Operation: "input.n > 10"})
	g.AddNode(&Node{ID: "big", Kind: StepOutput, OutputTemplate: "big"})
	g.AddNode(&Node{ID: "small", Kind: StepOutput, OutputTemplate: "small"})
	g.AddEdge(&Edge{From: "in", To: "chk"})
	g.AddEdge(&Edge{From: "chk", To: "big", Condition: "true"})
	g.AddEdge(&Edge{From: "chk", To: "small", Condition: "false"})
	g.SetEntry("in")

	e := NewEngine(Config{})
	require.NoError(t, e.Register("wf", g))

	ex, err := e.Execute(context.Background(), "wf", map[string]any{"n": float64(20)})
	require.NoError(t, err)
	assert.Equal(t, ExecCompleted, ex.GetStatus())
	r, ok := ex.Result("big")
	require.True(t, ok)
	assert.Equal(t, "big", r.Output)
	_, ok = ex.Result("small")
	assert.False(t, ok)
}

func TestEngine_RetryThenSucceed(t *testing.T) {
	calls := 0
	flaky := StepRunnerFunc(func(ctx context.Context, rc *RunContext) (any, error) {
		calls++
		if calls < 2 {
			return nil, archflowerr.New(archflowerr.KindTransport, "flaky", "transient failure")
		}
		return "ok", nil
	})

	g := NewGraph()
	g.AddNode(&Node{ID: "in", Kind: StepInput})
	g.AddNode(&Node{ID: "work", Kind: StepTool, Runner: flaky, RetryPolicy: &RetryPolicy{
		MaxAttempts:  3,
		InitialDelay: time.Millisecond,
	}})
	g.AddNode(&Node{ID: "out", Kind: StepOutput, OutputTemplate: "${work.output}"})
	g.AddEdge(&Edge{From: "in", To: "work"})
	g.AddEdge(&Edge{From: "work", To: "out"})
	g.SetEntry("in")

	e := NewEngine(Config{})
	require.NoError(t, e.Register("wf", g))

	ex, err := e.Execute(context.Background(), "wf", nil)
	require.NoError(t, err)
	assert.Equal(t, ExecCompleted, ex.GetStatus())
	assert.Equal(t, 2, calls)

	r, ok := ex.Result("work")
	require.True(t, ok)
	assert.Equal(t, 2, r.Attempts)
}

func TestEngine_NonRetryableErrorFailsFast(t *testing.T) {
	calls := 0
	bad := StepRunnerFunc(func(ctx context.Context, rc *RunContext) (any, error) {
		calls++
		return nil, archflowerr.New(archflowerr.KindValidation, "bad_input", "never retryable")
	})

	g := NewGraph()
	g.AddNode(&Node{ID: "in", Kind: StepInput})
	g.AddNode(&Node{ID: "work", Kind: StepTool, Runner: bad, RetryPolicy: &RetryPolicy{MaxAttempts: 5, InitialDelay: time.Millisecond}})
	g.SetEntry("in")
	g.AddEdge(&Edge{From: "in", To: "work"})

	e := NewEngine(Config{})
	require.NoError(t, e.Register("wf", g))

	ex, err := e.Execute(context.Background(), "wf", nil)
	require.NoError(t, err)
	assert.Equal(t, ExecFailed, ex.GetStatus())
	assert.Equal(t, 1, calls)
	assert.True(t, errors.Is(ex.Err, archflowerr.New(archflowerr.KindValidation, "", "")))
}

func TestEngine_LoopRunsOverEachItem(t *testing.T) {
	g := NewGraph()
	g.AddNode(&Node{ID: "in", Kind: StepInput})
	g.AddNode(&Node{ID: "loop", Kind: StepLoop, LoopConfig: &LoopConfig{ItemsExpr: "input.items", BindName: "item"}})
	g.AddNode(&Node{ID: "body", Kind: StepTool, Runner: echoRunner("item"), Parameters: map[string]any{"item": "${item}"}})
	g.AddEdge(&Edge{From: "in", To: "loop"})
	g.AddEdge(&Edge{From: "loop", To: "body"})
	g.SetEntry("in")

	e := NewEngine(Config{})
	require.NoError(t, e.Register("wf", g))

	ex, err := e.Execute(context.Background(), "wf", map[string]any{"items": []any{"x", "y", "z"}})
	require.NoError(t, err)
	assert.Equal(t, ExecCompleted, ex.GetStatus())

	r, ok := ex.Result("loop")
	require.True(t, ok)
	out, ok := r.Output.([]any)
	require.True(t, ok)
	assert.Len(t, out, 3)
}

func TestEngine_MergeWaitsForAllBranches(t *testing.T) {
	g := NewGraph()
	g.AddNode(&Node{ID: "in", Kind: StepInput})
	g.AddNode(&Node{ID: "fan", Kind: StepParallelFanOut})
	g.AddNode(&Node{ID: "a", Kind: StepTool, Runner: echoRunner("v"), Parameters: map[string]any{"v": "a"}})
	g.AddNode(&Node{ID: "b", Kind: StepTool, Runner: echoRunner("v"), Parameters: map[string]any{"v": "b"}})
	g.AddNode(&Node{ID: "merge", Kind: StepMerge})
	g.AddNode(&Node{ID: "out", Kind: StepOutput, OutputTemplate: "done"})
	g.AddEdge(&Edge{From: "in", To: "fan"})
	g.AddEdge(&Edge{From: "fan", To: "a"})
	g.AddEdge(&Edge{From: "fan", To: "b"})
	g.AddEdge(&Edge{From: "a", To: "merge"})
	g.AddEdge(&Edge{From: "b", To: "merge"})
	g.AddEdge(&Edge{From: "merge", To: "out"})
	g.SetEntry("in")

	e := NewEngine(Config{})
	require.NoError(t, e.Register("wf", g))

	ex, err := e.Execute(context.Background(), "wf", nil)
	require.NoError(t, err)
	assert.Equal(t, ExecCompleted, ex.GetStatus())

	r, ok := ex.Result("out")
	require.True(t, ok)
	assert.Equal(t, "done", r.Output)

	mr, ok := ex.Result("merge")
	require.True(t, ok)
	merged, ok := mr.Output.(map[string]any)
	require.True(t, ok)
	assert.Len(t, merged, 2)
}
