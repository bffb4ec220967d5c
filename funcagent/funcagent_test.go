package funcagent

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/archflow/archflow/provider"
	"github.com/archflow/archflow/schema"
)

func ptr(f float64) *float64 { return &f }

func outputSchema() *schema.Schema {
	return &schema.Schema{
		Name: "Extraction",
		Fields: []schema.Field{
			{Name: "name", Type: schema.TypeString, Required: true},
			{Name: "age", Type: schema.TypeNumber, Required: true, Min: ptr(0)},
		},
	}
}

func TestExecute_TwoAttemptRepairSucceeds(t *testing.T) {
	adapter := provider.NewMockAdapter()
	require.NoError(t, adapter.Configure(provider.Config{APIKey: "k", MaxTokens: 1}))
	adapter.QueueChatResponse(provider.TextResult{Text: `{"name": "Ann"}`})
	adapter.QueueChatResponse(provider.TextResult{Text: `{"name": "Ann", "age": 30}`})

	agent := New(Config{
		Name:          "extractor",
		Mode:          ModeDeterministic,
		OutputFormat:  FormatJSON,
		OutputSchema:  outputSchema(),
		TimeoutMs:     5000,
		StrictRetryPolicy: StrictRetryPolicy{
			MaxAttempts:       3,
			InitialDelay:      time.Millisecond,
			BackoffMultiplier: 1,
			RetryOn:           []RetryOn{RetryOnSchemaError},
		},
	}, adapter, nil, nil, nil)

	result, err := agent.Execute(context.Background(), nil)
	require.NoError(t, err)
	assert.Equal(t, RunSucceeded, result.State)
	assert.Equal(t, 2, result.Attempts)
	out := result.Output.(map[string]any)
	assert.Equal(t, "Ann", out["name"])
}

func TestExecute_ExhaustsAfterMaxAttempts(t *testing.T) {
	adapter := provider.NewMockAdapter()
	require.NoError(t, adapter.Configure(provider.Config{APIKey: "k", MaxTokens: 1}))
	adapter.QueueChatResponse(provider.TextResult{Text: `{"name": "Ann"}`})
	adapter.QueueChatResponse(provider.TextResult{Text: `{"name": "Ann"}`})

	agent := New(Config{
		Mode:         ModeDeterministic,
		OutputFormat: FormatJSON,
		OutputSchema: outputSchema(),
		TimeoutMs:    5000,
		StrictRetryPolicy: StrictRetryPolicy{
			MaxAttempts:       2,
			InitialDelay:      time.Millisecond,
			BackoffMultiplier: 1,
			RetryOn:           []RetryOn{RetryOnSchemaError},
		},
	}, adapter, nil, nil, nil)

	result, err := agent.Execute(context.Background(), nil)
	require.NoError(t, err)
	assert.Equal(t, RunExhausted, result.State)
	assert.Equal(t, "SchemaViolation", result.ErrorKind)
	assert.NotEmpty(t, result.LastErrors)
}

func TestExecute_CreativeModeSkipsValidation(t *testing.T) {
	adapter := provider.NewMockAdapter()
	require.NoError(t, adapter.Configure(provider.Config{APIKey: "k", MaxTokens: 1}))
	adapter.QueueChatResponse(provider.TextResult{Text: `{"name": "Ann"}`})

	agent := New(Config{
		Mode:         ModeCreative,
		OutputFormat: FormatJSON,
		OutputSchema: outputSchema(),
		TimeoutMs:    5000,
	}, adapter, nil, nil, nil)

	result, err := agent.Execute(context.Background(), nil)
	require.NoError(t, err)
	assert.Equal(t, RunSucceeded, result.State)
}

func TestExecute_InputValidationFailsImmediately(t *testing.T) {
	agent := New(Config{
		InputSchema: &schema.Schema{Fields: []schema.Field{{Name: "x", Type: schema.TypeString, Required: true}}},
		TimeoutMs:   1000,
	}, provider.NewMockAdapter(), nil, nil, nil)

	result, err := agent.Execute(context.Background(), map[string]any{})
	require.NoError(t, err)
	assert.Equal(t, RunAborted, result.State)
	assert.Equal(t, "InputValidation", result.ErrorKind)
}

type rejectingGate struct{}

func (rejectingGate) RequestConfirmation(ctx context.Context, form map[string]any) (bool, error) {
	return false, nil
}

func TestExecute_ConfirmationRejectionAborts(t *testing.T) {
	agent := New(Config{
		RequireExplicitConfirmation: true,
		TimeoutMs:                   1000,
	}, provider.NewMockAdapter(), rejectingGate{}, nil, nil)

	result, err := agent.Execute(context.Background(), nil)
	require.NoError(t, err)
	assert.Equal(t, RunAborted, result.State)
	assert.Equal(t, "UserRejected", result.ErrorKind)
}
