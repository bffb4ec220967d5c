package main

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/archflow/archflow/archflowerr"
	"github.com/archflow/archflow/flow"
	"github.com/archflow/archflow/funcagent"
	"github.com/archflow/archflow/provider"
	"github.com/archflow/archflow/toolregistry"
)

// runnerResolver bridges flow.NodeDefinition (Operation/Parameters, as
// authored in a workflow YAML file) to the concrete provider registry,
// Func-Agent constructor, and tool registry. It is the one place a
// flow.NodeDefinition's free-form Parameters map gets a fixed meaning.
type runnerResolver struct {
	providers *provider.Registry
	tools     *toolregistry.Registry
	gate      funcagent.ConfirmationGate
	events    funcagent.EventSink
	logger    *zap.Logger
}

func newRunnerResolver(providers *provider.Registry, tools *toolregistry.Registry, gate funcagent.ConfirmationGate, events funcagent.EventSink, logger *zap.Logger) *runnerResolver {
	return &runnerResolver{providers: providers, tools: tools, gate: gate, events: events, logger: logger}
}

// Resolve implements flow.RunnerResolver.
func (r *runnerResolver) Resolve(node flow.NodeDefinition) (flow.StepRunner, error) {
	switch flow.StepKind(node.Kind) {
	case flow.StepTool:
		return r.toolRunner(node), nil
	case flow.StepLLM:
		return r.llmRunner(node), nil
	case flow.StepDeterministicAgent:
		return r.agentRunner(node)
	default:
		return nil, archflowerr.New(archflowerr.KindValidation, "unresolvable_node_kind", fmt.Sprintf("node %q has kind %q, which does not dispatch", node.ID, node.Kind))
	}
}

func (r *runnerResolver) toolRunner(node flow.NodeDefinition) flow.StepRunner {
	toolID := node.Operation
	return flow.StepRunnerFunc(func(ctx context.Context, rc *flow.RunContext) (any, error) {
		result := r.tools.Execute(ctx, toolID, rc.Parameters)
		if !result.Success {
			return nil, archflowerr.New(archflowerr.KindInternal, "tool_execution_failed", result.Error)
		}
		return result.Output, nil
	})
}

func (r *runnerResolver) llmRunner(node flow.NodeDefinition) flow.StepRunner {
	providerID, _ := node.Parameters["provider"].(string)
	op := provider.Operation(node.Operation)
	if op == "" {
		op = provider.OpChat
	}
	return flow.StepRunnerFunc(func(ctx context.Context, rc *flow.RunContext) (any, error) {
		adapter, err := r.providers.New(providerID)
		if err != nil {
			return nil, err
		}
		return adapter.Execute(ctx, op, rc.Parameters)
	})
}

func (r *runnerResolver) agentRunner(node flow.NodeDefinition) (flow.StepRunner, error) {
	providerID, _ := node.Parameters["provider"].(string)
	adapter, err := r.providers.New(providerID)
	if err != nil {
		return nil, fmt.Errorf("resolving agent runner for node %q: %w", node.ID, err)
	}

	mode := funcagent.ModeDeterministic
	if m, ok := node.Parameters["mode"].(string); ok && m != "" {
		mode = funcagent.Mode(m)
	}
	format := funcagent.FormatPlain
	if f, ok := node.Parameters["output_format"].(string); ok && f != "" {
		format = funcagent.OutputFormat(f)
	}

	cfg := funcagent.Config{
		Name:         node.ID,
		Mode:         mode,
		OutputFormat: format,
		TimeoutMs:    node.TimeoutMs,
	}
	agent := funcagent.New(cfg, adapter, r.gate, r.events, r.logger)

	return flow.StepRunnerFunc(func(ctx context.Context, rc *flow.RunContext) (any, error) {
		result, err := agent.Execute(ctx, rc.Parameters)
		if err != nil {
			return nil, err
		}
		if result.State != funcagent.RunSucceeded {
			return nil, archflowerr.New(archflowerr.KindProvider, "agent_run_"+string(result.ErrorKind), fmt.Sprintf("func-agent %q finished in state %s", node.ID, result.State))
		}
		return result.Output, nil
	}), nil
}
