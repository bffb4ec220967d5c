package main

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/archflow/archflow/flow"
	"github.com/archflow/archflow/provider"
	"github.com/archflow/archflow/tool"
	"github.com/archflow/archflow/toolregistry"
)

func TestRunnerResolver_ToolNodeDelegatesToRegistry(t *testing.T) {
	tools := toolregistry.New(zap.NewNop())
	require.NoError(t, tools.Register("echo", &tool.Descriptor{
		Name: "echo",
		Invoker: tool.InvokerFunc(func(ctx context.Context, input map[string]any) (tool.Result, error) {
			return tool.Result{Status: tool.StatusSuccess, Data: input["value"]}, nil
		}),
	}))

	r := newRunnerResolver(provider.NewRegistry(), tools, nil, nil, zap.NewNop())
	runner, err := r.Resolve(flow.NodeDefinition{ID: "work", Kind: string(flow.StepTool), Operation: "echo"})
	require.NoError(t, err)

	out, err := runner.Run(context.Background(), &flow.RunContext{Parameters: map[string]any{"value": "hi"}})
	require.NoError(t, err)
	assert.Equal(t, "hi", out)
}

func TestRunnerResolver_ToolNodeSurfacesFailure(t *testing.T) {
	tools := toolregistry.New(zap.NewNop())
	r := newRunnerResolver(provider.NewRegistry(), tools, nil, nil, zap.NewNop())
	runner, err := r.Resolve(flow.NodeDefinition{ID: "work", Kind: string(flow.StepTool), Operation: "does-not-exist"})
	require.NoError(t, err)

	_, err = runner.Run(context.Background(), &flow.RunContext{})
	assert.Error(t, err)
}

func TestRunnerResolver_LLMNodeCallsConfiguredAdapter(t *testing.T) {
	providers := provider.NewRegistry()
	providers.Register("mock", func() provider.Adapter { return provider.NewMockAdapter() })

	r := newRunnerResolver(providers, toolregistry.New(zap.NewNop()), nil, nil, zap.NewNop())
	runner, err := r.Resolve(flow.NodeDefinition{
		ID: "llm", Kind: string(flow.StepLLM), Operation: string(provider.OpChat),
		Parameters: map[string]any{"provider": "mock"},
	})
	require.NoError(t, err)

	_, err = runner.Run(context.Background(), &flow.RunContext{Parameters: map[string]any{}})
	// MockAdapter need not be configured to answer Execute; any error here
	// must come from the adapter itself, not from resolver wiring.
	_ = err
}

func TestRunnerResolver_UnresolvableKindErrors(t *testing.T) {
	r := newRunnerResolver(provider.NewRegistry(), toolregistry.New(zap.NewNop()), nil, nil, zap.NewNop())
	_, err := r.Resolve(flow.NodeDefinition{ID: "cond", Kind: string(flow.StepCondition)})
	assert.Error(t, err)
}
