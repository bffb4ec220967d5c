package toolregistry

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"github.com/archflow/archflow/tool"
)

// CreateComposite builds a tool that pipes each member's output into the
// next member's input, sequentially. The composite's input is fed to the
// first member; its output is the last member's output.
func CreateComposite(name, description string, members []*tool.Descriptor) *tool.Descriptor {
	return &tool.Descriptor{
		Name:        name,
		Description: description,
		Invoker: tool.InvokerFunc(func(ctx context.Context, input map[string]any) (tool.Result, error) {
			current := input
			for i, m := range members {
				result, err := m.Invoke(ctx, current)
				if err != nil {
					return tool.Result{Status: tool.StatusError, Message: err.Error()}, nil
				}
				if result.Status != tool.StatusSuccess {
					return tool.Result{
						Status:  tool.StatusError,
						Message: fmt.Sprintf("composite step %d (%s) failed: %s", i, m.Name, result.Message),
					}, nil
				}
				next, ok := result.Data.(map[string]any)
				if !ok {
					return tool.Result{
						Status:  tool.StatusError,
						Message: fmt.Sprintf("composite step %d (%s) produced non-object output, cannot feed next step", i, m.Name),
					}, nil
				}
				current = next
			}
			return tool.Result{Status: tool.StatusSuccess, Data: current}, nil
		}),
	}
}

// CreateParallel builds an async-marked tool whose members all receive the
// same input concurrently; results are merged keyed by member name. A
// single member failure does not abort the others.
func CreateParallel(name, description string, members []*tool.Descriptor) *tool.Descriptor {
	return &tool.Descriptor{
		Name:        name,
		Description: description,
		Metadata:    map[string]any{"async": true},
		Invoker: tool.InvokerFunc(func(ctx context.Context, input map[string]any) (tool.Result, error) {
			merged := make(map[string]any, len(members))
			var failed []string
			var mu sync.Mutex
			var wg sync.WaitGroup

			for _, m := range members {
				m := m
				wg.Add(1)
				go func() {
					defer wg.Done()
					result, err := m.Invoke(ctx, input)
					mu.Lock()
					defer mu.Unlock()
					if err != nil || result.Status != tool.StatusSuccess {
						failed = append(failed, m.Name)
						return
					}
					merged[m.Name] = result.Data
				}()
			}
			wg.Wait()

			if len(failed) > 0 {
				return tool.Result{
					Status:   tool.StatusError,
					Data:     merged,
					Message:  fmt.Sprintf("parallel members failed: %s", strings.Join(failed, ", ")),
					Metadata: map[string]any{"failed": failed},
				}, nil
			}
			return tool.Result{Status: tool.StatusSuccess, Data: merged}, nil
		}),
	}
}
