package toolregistry

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/archflow/archflow/tool"
)

func echoTool(name string) *tool.Descriptor {
	return &tool.Descriptor{
		Name: name,
		Invoker: tool.InvokerFunc(func(ctx context.Context, input map[string]any) (tool.Result, error) {
			return tool.Result{Status: tool.StatusSuccess, Data: input}, nil
		}),
	}
}

func TestRegister_RejectsDuplicateID(t *testing.T) {
	r := New(nil)
	require.NoError(t, r.Register("t1", echoTool("echo")))
	err := r.Register("t1", echoTool("echo2"))
	require.Error(t, err)
}

func TestRegisterUnregisterRegister_RoundTripEquivalence(t *testing.T) {
	r1 := New(nil)
	require.NoError(t, r1.Register("t1", echoTool("echo")))

	r2 := New(nil)
	require.NoError(t, r2.Register("t1", echoTool("echo")))
	_, err := r2.Unregister("t1")
	require.NoError(t, err)
	require.NoError(t, r2.Register("t1", echoTool("echo")))

	e1, ok1 := r1.ByID("t1")
	e2, ok2 := r2.ByID("t1")
	require.True(t, ok1)
	require.True(t, ok2)
	assert.Equal(t, e1.Descriptor.Name, e2.Descriptor.Name)
	assert.Len(t, r1.List(), 1)
	assert.Len(t, r2.List(), 1)
}

func TestExecute_BroadcastsLifecycleEvents(t *testing.T) {
	r := New(nil)
	var mu sync.Mutex
	var kinds []EventKind
	r.Subscribe(func(e Event) {
		mu.Lock()
		defer mu.Unlock()
		kinds = append(kinds, e.Kind)
	})

	require.NoError(t, r.Register("t1", echoTool("echo")))
	result := r.Execute(context.Background(), "t1", map[string]any{"x": 1})
	assert.True(t, result.Success)

	_, err := r.Unregister("t1")
	require.NoError(t, err)

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, []EventKind{EventRegistered, EventExecuted, EventUnregistered}, kinds)
}

func TestExecute_ToolNotFound(t *testing.T) {
	r := New(nil)
	result := r.Execute(context.Background(), "missing", nil)
	assert.False(t, result.Success)
	assert.Equal(t, "tool not found", result.Error)
}

func TestSubscribe_ListenerPanicIsSwallowed(t *testing.T) {
	r := New(nil)
	r.Subscribe(func(e Event) { panic("boom") })
	assert.NotPanics(t, func() {
		_ = r.Register("t1", echoTool("echo"))
	})
}

func TestCreateComposite_PipesOutputToNextInput(t *testing.T) {
	addOne := &tool.Descriptor{
		Name: "add-one",
		Invoker: tool.InvokerFunc(func(ctx context.Context, input map[string]any) (tool.Result, error) {
			n, _ := input["n"].(int)
			return tool.Result{Status: tool.StatusSuccess, Data: map[string]any{"n": n + 1}}, nil
		}),
	}
	composite := CreateComposite("add-two", "", []*tool.Descriptor{addOne, addOne})
	result, err := composite.Invoke(context.Background(), map[string]any{"n": 0})
	require.NoError(t, err)
	require.Equal(t, tool.StatusSuccess, result.Status)
	assert.Equal(t, 2, result.Data.(map[string]any)["n"])
}

func TestCreateComposite_MidChainFailureStops(t *testing.T) {
	failing := &tool.Descriptor{
		Name: "fail",
		Invoker: tool.InvokerFunc(func(ctx context.Context, input map[string]any) (tool.Result, error) {
			return tool.Result{}, errors.New("boom")
		}),
	}
	composite := CreateComposite("chain", "", []*tool.Descriptor{failing, echoTool("echo")})
	result, err := composite.Invoke(context.Background(), map[string]any{})
	require.NoError(t, err)
	assert.Equal(t, tool.StatusError, result.Status)
}

func TestCreateParallel_MergesByNameDespiteOneFailure(t *testing.T) {
	ok := &tool.Descriptor{
		Name: "ok",
		Invoker: tool.InvokerFunc(func(ctx context.Context, input map[string]any) (tool.Result, error) {
			return tool.Result{Status: tool.StatusSuccess, Data: "done"}, nil
		}),
	}
	bad := &tool.Descriptor{
		Name: "bad",
		Invoker: tool.InvokerFunc(func(ctx context.Context, input map[string]any) (tool.Result, error) {
			return tool.Result{}, errors.New("boom")
		}),
	}
	parallel := CreateParallel("fanout", "", []*tool.Descriptor{ok, bad})
	result, err := parallel.Invoke(context.Background(), map[string]any{})
	require.NoError(t, err)
	assert.Equal(t, tool.StatusError, result.Status)
	merged := result.Data.(map[string]any)
	assert.Equal(t, "done", merged["ok"])
	assert.NotContains(t, merged, "bad")
}
