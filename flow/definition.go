package flow

import (
	"encoding/json"
	"fmt"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/archflow/archflow/archflowerr"
)

// Definition is the authored, serializable form of a Workflow: the format a
// user writes by hand and the engine compiles into a Graph. It carries
// parallel yaml/json struct tags so the same value can be authored as YAML
// and re-serialized as JSON at the MCP/API boundary.
type Definition struct {
	Name             string                 `yaml:"name" json:"name"`
	Description      string                 `yaml:"description,omitempty" json:"description,omitempty"`
	Entry            string                 `yaml:"entry" json:"entry"`
	DefaultTimeoutMs int                    `yaml:"default_timeout_ms,omitempty" json:"default_timeout_ms,omitempty"`
	DefaultRetry     *RetryPolicyDefinition `yaml:"default_retry,omitempty" json:"default_retry,omitempty"`
	Nodes            []NodeDefinition       `yaml:"nodes" json:"nodes"`
	Metadata         map[string]any         `yaml:"metadata,omitempty" json:"metadata,omitempty"`
}

// NodeDefinition is one authored node. Kind must be one of the StepKind
// string values; Operation/Parameters are interpreted by whatever
// RunnerResolver the caller supplies to Compile for LLM/DeterministicAgent/
// Tool kinds.
type NodeDefinition struct {
	ID             string                 `yaml:"id" json:"id"`
	Kind           string                 `yaml:"kind" json:"kind"`
	Operation      string                 `yaml:"operation,omitempty" json:"operation,omitempty"`
	Parameters     map[string]any         `yaml:"parameters,omitempty" json:"parameters,omitempty"`
	InputKey       string                 `yaml:"input_key,omitempty" json:"input_key,omitempty"`
	OutputTemplate string                 `yaml:"output_template,omitempty" json:"output_template,omitempty"`
	TimeoutMs      int                    `yaml:"timeout_ms,omitempty" json:"timeout_ms,omitempty"`
	Retry          *RetryPolicyDefinition `yaml:"retry,omitempty" json:"retry,omitempty"`
	Loop           *LoopDefinition        `yaml:"loop,omitempty" json:"loop,omitempty"`
	Next           []EdgeDefinition       `yaml:"next,omitempty" json:"next,omitempty"`
	Metadata       map[string]any         `yaml:"metadata,omitempty" json:"metadata,omitempty"`
}

// EdgeDefinition is one authored outgoing edge of a node.
type EdgeDefinition struct {
	To        string `yaml:"to" json:"to"`
	Condition string `yaml:"condition,omitempty" json:"condition,omitempty"`
	IsError   bool   `yaml:"is_error,omitempty" json:"is_error,omitempty"`
}

// LoopDefinition is the authored form of LoopConfig.
type LoopDefinition struct {
	ItemsExpr      string `yaml:"items_expr" json:"items_expr"`
	BindName       string `yaml:"bind_name" json:"bind_name"`
	Parallel       bool   `yaml:"parallel,omitempty" json:"parallel,omitempty"`
	MaxConcurrency int    `yaml:"max_concurrency,omitempty" json:"max_concurrency,omitempty"`
}

// RetryPolicyDefinition is the authored form of RetryPolicy. RetryOn holds
// archflowerr.Kind values as strings; an empty list adds no filter, and only
// archflowerr.Retryable kinds are ever retried.
type RetryPolicyDefinition struct {
	MaxAttempts       int           `yaml:"max_attempts,omitempty" json:"max_attempts,omitempty"`
	InitialDelay      time.Duration `yaml:"initial_delay,omitempty" json:"initial_delay,omitempty"`
	BackoffMultiplier float64       `yaml:"backoff_multiplier,omitempty" json:"backoff_multiplier,omitempty"`
	RetryOn           []string      `yaml:"retry_on,omitempty" json:"retry_on,omitempty"`
}

func (d *RetryPolicyDefinition) toPolicy() RetryPolicy {
	if d == nil {
		return RetryPolicy{}
	}
	kinds := make([]archflowerr.Kind, len(d.RetryOn))
	for i, k := range d.RetryOn {
		kinds[i] = archflowerr.Kind(k)
	}
	return RetryPolicy{
		MaxAttempts:       d.MaxAttempts,
		InitialDelay:      d.InitialDelay,
		BackoffMultiplier: d.BackoffMultiplier,
		RetryOn:           kinds,
	}
}

// ParseDefinitionYAML parses the authoring format.
func ParseDefinitionYAML(data []byte) (*Definition, error) {
	var def Definition
	if err := yaml.Unmarshal(data, &def); err != nil {
		return nil, archflowerr.New(archflowerr.KindValidation, "invalid_workflow_yaml", err.Error())
	}
	return &def, nil
}

// ParseDefinitionJSON parses the MCP/API wire format.
func ParseDefinitionJSON(data []byte) (*Definition, error) {
	var def Definition
	if err := json.Unmarshal(data, &def); err != nil {
		return nil, archflowerr.New(archflowerr.KindValidation, "invalid_workflow_json", err.Error())
	}
	return &def, nil
}

// MarshalJSON re-serializes a Definition for the MCP/API boundary.
func (d *Definition) MarshalJSON() ([]byte, error) {
	type alias Definition // avoid infinite recursion through this method
	return json.Marshal((*alias)(d))
}

// Validate checks structural well-formedness before Compile is attempted:
// a non-empty entry that names a real node, unique node IDs, and edges that
// only reference declared nodes.
func (d *Definition) Validate() error {
	if d.Entry == "" {
		return archflowerr.New(archflowerr.KindValidation, "missing_entry", "workflow definition has no entry node")
	}
	if len(d.Nodes) == 0 {
		return archflowerr.New(archflowerr.KindValidation, "no_nodes", "workflow definition has no nodes")
	}

	seen := make(map[string]bool, len(d.Nodes))
	for _, n := range d.Nodes {
		if n.ID == "" {
			return archflowerr.New(archflowerr.KindValidation, "node_missing_id", "a node is missing its id")
		}
		if seen[n.ID] {
			return archflowerr.New(archflowerr.KindValidation, "duplicate_node_id", fmt.Sprintf("duplicate node id %q", n.ID))
		}
		seen[n.ID] = true
		if !StepKind(n.Kind).valid() {
			return archflowerr.New(archflowerr.KindValidation, "unknown_node_kind", fmt.Sprintf("node %q has unknown kind %q", n.ID, n.Kind))
		}
	}
	if !seen[d.Entry] {
		return archflowerr.New(archflowerr.KindValidation, "unknown_entry", fmt.Sprintf("entry %q names no declared node", d.Entry))
	}
	for _, n := range d.Nodes {
		for _, e := range n.Next {
			if !seen[e.To] {
				return archflowerr.New(archflowerr.KindValidation, "unknown_edge_target", fmt.Sprintf("node %q has an edge to undeclared node %q", n.ID, e.To))
			}
		}
	}
	return nil
}

func (k StepKind) valid() bool {
	switch k {
	case StepInput, StepOutput, StepLLM, StepDeterministicAgent, StepTool,
		StepCondition, StepParallelFanOut, StepMerge, StepLoop, StepSuspendForInput:
		return true
	default:
		return false
	}
}

// RunnerResolver builds the StepRunner backing an LLM, DeterministicAgent, or
// Tool node. Compile calls it once per such node; kinds that don't dispatch
// (Input, Output, Condition, ParallelFanOut, Merge, Loop, SuspendForInput)
// never reach it.
type RunnerResolver func(node NodeDefinition) (StepRunner, error)

// Compile builds a Graph from a validated Definition, resolving each
// dispatching node's StepRunner via resolve. The returned Graph is ready to
// hand to Engine.Register.
func Compile(def *Definition, resolve RunnerResolver) (*Graph, error) {
	if err := def.Validate(); err != nil {
		return nil, err
	}

	g := NewGraph()
	for _, nd := range def.Nodes {
		node := &Node{
			ID:             nd.ID,
			Kind:           StepKind(nd.Kind),
			Operation:      nd.Operation,
			Parameters:     nd.Parameters,
			TimeoutMs:      nd.TimeoutMs,
			InputKey:       nd.InputKey,
			OutputTemplate: nd.OutputTemplate,
			Metadata:       nd.Metadata,
		}
		if nd.TimeoutMs == 0 && def.DefaultTimeoutMs != 0 {
			node.TimeoutMs = def.DefaultTimeoutMs
		}
		if nd.Retry != nil {
			p := nd.Retry.toPolicy()
			node.RetryPolicy = &p
		} else if def.DefaultRetry != nil {
			p := def.DefaultRetry.toPolicy()
			node.RetryPolicy = &p
		}
		if nd.Loop != nil {
			node.LoopConfig = &LoopConfig{
				ItemsExpr:      nd.Loop.ItemsExpr,
				BindName:       nd.Loop.BindName,
				Parallel:       nd.Loop.Parallel,
				MaxConcurrency: nd.Loop.MaxConcurrency,
			}
		}

		switch node.Kind {
		case StepLLM, StepDeterministicAgent, StepTool:
			if resolve == nil {
				return nil, archflowerr.New(archflowerr.KindValidation, "no_runner_resolver", fmt.Sprintf("node %q requires a StepRunner but none was supplied", nd.ID))
			}
			runner, err := resolve(nd)
			if err != nil {
				return nil, fmt.Errorf("resolving runner for node %q: %w", nd.ID, err)
			}
			node.Runner = runner
		}

		g.AddNode(node)
		for _, e := range nd.Next {
			g.AddEdge(&Edge{From: nd.ID, To: e.To, Condition: e.Condition, IsError: e.IsError})
		}
	}
	g.SetEntry(def.Entry)

	if err := g.Validate(); err != nil {
		return nil, err
	}
	return g, nil
}
