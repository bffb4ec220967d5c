// Package flow implements the workflow graph and its executor: the Flow
// Engine that drives a registered Workflow through an Execution, dispatching
// each Step to the deterministic agent executor, the tool registry, or a
// nested routing/fan-out/loop construct, per the step kind.
package flow

import (
	"fmt"
	"time"

	"github.com/archflow/archflow/archflowerr"
)

// StepKind enumerates the kinds of step a workflow graph node may be.
type StepKind string

const (
	StepInput              StepKind = "Input"
	StepOutput             StepKind = "Output"
	StepLLM                StepKind = "LLM"
	StepDeterministicAgent StepKind = "DeterministicAgent"
	StepTool               StepKind = "Tool"
	StepCondition          StepKind = "Condition"
	StepParallelFanOut     StepKind = "ParallelFanOut"
	StepMerge              StepKind = "Merge"
	StepLoop               StepKind = "Loop"
	StepSuspendForInput    StepKind = "SuspendForInput"
)

// RetryPolicy is shared by the Workflow default, a Step override, and (via
// its own copy in funcagent) the Deterministic Agent's strict retry policy.
type RetryPolicy struct {
	MaxAttempts       int
	InitialDelay      time.Duration
	BackoffMultiplier float64
	RetryOn           []archflowerr.Kind // empty adds no filter; only archflowerr.Retryable kinds are ever retried
}

func (p RetryPolicy) attempts() int {
	if p.MaxAttempts <= 0 {
		return 1
	}
	return p.MaxAttempts
}

func (p RetryPolicy) allows(kind archflowerr.Kind) bool {
	if len(p.RetryOn) == 0 {
		return true
	}
	for _, k := range p.RetryOn {
		if k == kind {
			return true
		}
	}
	return false
}

func (p RetryPolicy) delay(attempt int) time.Duration {
	mult := p.BackoffMultiplier
	if mult <= 0 {
		mult = 2.0
	}
	d := float64(p.InitialDelay)
	for i := 1; i < attempt; i++ {
		d *= mult
	}
	return time.Duration(d)
}

// LoopConfig configures a Loop step: ItemsExpr evaluates to the ordered
// sequence iterated; each element is bound to BindName in the expression
// context visible to the loop body. Iterations are sequential unless
// Parallel is set, in which case at most MaxConcurrency bodies run at once.
type LoopConfig struct {
	ItemsExpr      string
	BindName       string
	Parallel       bool
	MaxConcurrency int
}

func (l LoopConfig) concurrency() int {
	if !l.Parallel {
		return 1
	}
	if l.MaxConcurrency <= 0 {
		return 1
	}
	return l.MaxConcurrency
}

// Edge is a directed connection between two nodes. Condition, when
// non-empty, is a boolean expression evaluated against the run's variable
// context; an empty Condition is always satisfied. IsError marks the edge as
// the failure-routing edge for its From node.
type Edge struct {
	From      string
	To        string
	Condition string
	IsError   bool
}

// Node is a single step in the workflow graph.
type Node struct {
	ID             string
	Kind           StepKind
	Operation      string
	Parameters     map[string]any
	RetryPolicy    *RetryPolicy
	TimeoutMs      int
	LoopConfig     *LoopConfig
	InputKey       string
	OutputTemplate string
	Runner         StepRunner
	Metadata       map[string]any
}

// Graph is the directed structure of a registered Workflow: a fixed set of
// nodes, edges declared in a stable per-node order, and a single entry node.
// Once returned by NewGraph and populated, a Graph is read-only during
// Execution — it is never mutated by executeNode.
type Graph struct {
	nodes map[string]*Node
	edges map[string][]*Edge
	entry string
}

// NewGraph creates an empty graph.
func NewGraph() *Graph {
	return &Graph{
		nodes: make(map[string]*Node),
		edges: make(map[string][]*Edge),
	}
}

// AddNode registers a node in the graph.
func (g *Graph) AddNode(n *Node) {
	g.nodes[n.ID] = n
}

// AddEdge appends a directed edge, preserving declaration order.
func (g *Graph) AddEdge(e *Edge) {
	g.edges[e.From] = append(g.edges[e.From], e)
}

// SetEntry designates the entry node.
func (g *Graph) SetEntry(id string) { g.entry = id }

// Entry returns the entry node id.
func (g *Graph) Entry() string { return g.entry }

// GetNode looks up a node by id.
func (g *Graph) GetNode(id string) (*Node, bool) {
	n, ok := g.nodes[id]
	return n, ok
}

// OutEdges returns the outgoing edges of a node, in declaration order.
func (g *Graph) OutEdges(id string) []*Edge {
	return g.edges[id]
}

// Nodes returns every node in the graph.
func (g *Graph) Nodes() map[string]*Node {
	return g.nodes
}

func (g *Graph) indegree(id string) int {
	n := 0
	for _, edges := range g.edges {
		for _, e := range edges {
			if e.To == id {
				n++
			}
		}
	}
	return n
}

// Validate checks the invariants a registered Workflow must hold: exactly
// one entry node, every edge references existing nodes, and every node is
// reachable from entry.
func (g *Graph) Validate() error {
	if g.entry == "" {
		return archflowerr.New(archflowerr.KindValidation, "no_entry_node", "graph has no entry node")
	}
	if _, ok := g.nodes[g.entry]; !ok {
		return archflowerr.New(archflowerr.KindValidation, "entry_node_missing", fmt.Sprintf("entry node %q not found", g.entry))
	}
	for from, edges := range g.edges {
		if _, ok := g.nodes[from]; !ok {
			return archflowerr.New(archflowerr.KindValidation, "dangling_edge_source", fmt.Sprintf("edge source %q not found", from))
		}
		for _, e := range edges {
			if _, ok := g.nodes[e.To]; !ok {
				return archflowerr.New(archflowerr.KindValidation, "dangling_edge_target", fmt.Sprintf("edge target %q not found", e.To))
			}
		}
	}

	reachable := map[string]bool{g.entry: true}
	queue := []string{g.entry}
	for len(queue) > 0 {
		id := queue[0]
		queue = queue[1:]
		for _, e := range g.edges[id] {
			if !reachable[e.To] {
				reachable[e.To] = true
				queue = append(queue, e.To)
			}
		}
	}
	for id := range g.nodes {
		if !reachable[id] {
			return archflowerr.New(archflowerr.KindValidation, "unreachable_node", fmt.Sprintf("node %q is unreachable from entry", id))
		}
	}
	return nil
}
