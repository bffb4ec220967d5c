// Package tool defines the Tool descriptor and invocation contract shared
// by in-process tools, remote MCP tools, and workflows exposed as tools.
package tool

import (
	"context"
	"time"

	"github.com/archflow/archflow/schema"
)

// Status is the outcome of a single tool invocation.
type Status string

const (
	StatusSuccess     Status = "success"
	StatusError       Status = "error"
	StatusInterrupted Status = "interrupted"
	StatusSkipped     Status = "skipped"
)

// Result is returned by every Invoker.
type Result struct {
	Status    Status
	Data      any
	Message   string
	Err       error
	Timestamp time.Time
	Metadata  map[string]any
}

// Invoker is satisfied by an in-process function, a remote MCP endpoint
// adapter, or a workflow-as-tool wrapper.
type Invoker interface {
	Invoke(ctx context.Context, input map[string]any) (Result, error)
}

// InvokerFunc adapts a plain function to Invoker.
type InvokerFunc func(ctx context.Context, input map[string]any) (Result, error)

func (f InvokerFunc) Invoke(ctx context.Context, input map[string]any) (Result, error) {
	return f(ctx, input)
}

// Descriptor is the registered identity of a tool.
type Descriptor struct {
	Name        string
	Description string
	InputSchema *schema.Schema
	Invoker     Invoker
	Metadata    map[string]any
}

// ValidateInput runs the descriptor's input schema (if any) against input
// and returns the accumulated errors; a nil schema always validates.
func (d *Descriptor) ValidateInput(input map[string]any) []schema.ValidationError {
	if d.InputSchema == nil {
		return nil
	}
	return d.InputSchema.Validate(input)
}

// Invoke validates input against the descriptor's schema before dispatching
// to the underlying Invoker; validation failures short-circuit with a
// StatusError result rather than reaching the Invoker.
func (d *Descriptor) Invoke(ctx context.Context, input map[string]any) (Result, error) {
	if errs := d.ValidateInput(input); len(errs) > 0 {
		return Result{
			Status:    StatusError,
			Message:   "input schema validation failed",
			Metadata:  map[string]any{"validation_errors": errs},
			Timestamp: time.Now(),
		}, nil
	}
	return d.Invoker.Invoke(ctx, input)
}
