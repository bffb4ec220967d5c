package flow

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const echoWorkflowYAML = `
name: echo-flow
entry: in
nodes:
  - id: in
    kind: Input
    next:
      - to: work
  - id: work
    kind: Tool
    operation: echo
    parameters:
      value: "${input.value}"
    next:
      - to: out
  - id: out
    kind: Output
    output_template: "${work.output}"
`

func TestParseDefinitionYAML_RoundTrips(t *testing.T) {
	def, err := ParseDefinitionYAML([]byte(echoWorkflowYAML))
	require.NoError(t, err)
	assert.Equal(t, "echo-flow", def.Name)
	assert.Equal(t, "in", def.Entry)
	require.Len(t, def.Nodes, 3)

	data, err := def.MarshalJSON()
	require.NoError(t, err)

	roundTripped, err := ParseDefinitionJSON(data)
	require.NoError(t, err)
	assert.Equal(t, def.Entry, roundTripped.Entry)
	assert.Len(t, roundTripped.Nodes, 3)
}

func TestDefinition_ValidateRejectsUnknownEntry(t *testing.T) {
	def, err := ParseDefinitionYAML([]byte(echoWorkflowYAML))
	require.NoError(t, err)
	def.Entry = "does-not-exist"
	assert.Error(t, def.Validate())
}

func TestDefinition_ValidateRejectsDuplicateNodeID(t *testing.T) {
	def, err := ParseDefinitionYAML([]byte(echoWorkflowYAML))
	require.NoError(t, err)
	def.Nodes = append(def.Nodes, NodeDefinition{ID: "in", Kind: "Input"})
	assert.Error(t, def.Validate())
}

func TestDefinition_ValidateRejectsEdgeToUnknownNode(t *testing.T) {
	def, err := ParseDefinitionYAML([]byte(echoWorkflowYAML))
	require.NoError(t, err)
	def.Nodes[0].Next = append(def.Nodes[0].Next, EdgeDefinition{To: "ghost"})
	assert.Error(t, def.Validate())
}

func TestCompile_ResolvesRunnersAndExecutes(t *testing.T) {
	def, err := ParseDefinitionYAML([]byte(echoWorkflowYAML))
	require.NoError(t, err)

	g, err := Compile(def, func(node NodeDefinition) (StepRunner, error) {
		assert.Equal(t, "echo", node.Operation)
		return StepRunnerFunc(func(ctx context.Context, rc *RunContext) (any, error) {
			return rc.Parameters["value"], nil
		}), nil
	})
	require.NoError(t, err)

	e := NewEngine(Config{})
	require.NoError(t, e.Register("echo-flow", g))

	ex, err := e.Execute(context.Background(), "echo-flow", map[string]any{"value": "hi"})
	require.NoError(t, err)
	assert.Equal(t, ExecCompleted, ex.GetStatus())
}

func TestCompile_ErrorsWithoutResolverForDispatchingNode(t *testing.T) {
	def, err := ParseDefinitionYAML([]byte(echoWorkflowYAML))
	require.NoError(t, err)
	_, err = Compile(def, nil)
	assert.Error(t, err)
}

func TestCompile_PropagatesRetryAndTimeoutDefaults(t *testing.T) {
	def, err := ParseDefinitionYAML([]byte(echoWorkflowYAML))
	require.NoError(t, err)
	def.DefaultTimeoutMs = 5000
	def.DefaultRetry = &RetryPolicyDefinition{MaxAttempts: 3}

	g, err := Compile(def, func(node NodeDefinition) (StepRunner, error) {
		return StepRunnerFunc(func(ctx context.Context, rc *RunContext) (any, error) {
			return nil, nil
		}), nil
	})
	require.NoError(t, err)

	n, ok := g.GetNode("work")
	require.True(t, ok)
	assert.Equal(t, 5000, n.TimeoutMs)
	require.NotNil(t, n.RetryPolicy)
	assert.Equal(t, 3, n.RetryPolicy.MaxAttempts)
}
