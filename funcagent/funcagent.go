// Package funcagent implements the deterministic agent executor
// ("Func-Agent"): a single LLM step with schema-validated output and a
// strict, repair-prompt-driven retry loop.
package funcagent

import (
	"context"
	"fmt"
	"math"
	"math/rand"
	"time"

	"go.uber.org/zap"

	"github.com/archflow/archflow/archflowerr"
	"github.com/archflow/archflow/provider"
	"github.com/archflow/archflow/schema"
)

// Mode controls how strictly the output schema is enforced.
type Mode string

const (
	ModeDeterministic Mode = "Deterministic"
	ModeCreative      Mode = "Creative"
	ModeHybrid        Mode = "Hybrid"
)

// OutputFormat names the response encoding the agent is expected to
// produce.
type OutputFormat string

const (
	FormatJSON  OutputFormat = "JSON"
	FormatCSV   OutputFormat = "CSV"
	FormatXML   OutputFormat = "XML"
	FormatPlain OutputFormat = "Plain"
)

// AttemptState is a single attempt's position in the state machine
// Preparing → Calling → (Succeeded | ValidationFailed | TransportFailed | Timeout).
type AttemptState string

const (
	AttemptPreparing        AttemptState = "Preparing"
	AttemptCalling          AttemptState = "Calling"
	AttemptSucceeded        AttemptState = "Succeeded"
	AttemptValidationFailed AttemptState = "ValidationFailed"
	AttemptTransportFailed  AttemptState = "TransportFailed"
	AttemptTimeout          AttemptState = "Timeout"
)

// RunState is the terminal outcome of an execution.
type RunState string

const (
	RunSucceeded RunState = "Succeeded"
	RunExhausted RunState = "Exhausted"
	RunAborted   RunState = "Aborted"
)

// RetryOn enumerates the failure classes the strict retry policy applies to.
type RetryOn string

const (
	RetryOnSchemaError    RetryOn = "SchemaError"
	RetryOnTransientError RetryOn = "TransientError"
)

// StrictRetryPolicy governs attempt count and inter-attempt delay.
type StrictRetryPolicy struct {
	MaxAttempts       int
	InitialDelay      time.Duration
	BackoffMultiplier float64
	RetryOn           []RetryOn
}

func (p StrictRetryPolicy) allows(on RetryOn) bool {
	if len(p.RetryOn) == 0 {
		return true
	}
	for _, r := range p.RetryOn {
		if r == on {
			return true
		}
	}
	return false
}

// delay computes initialDelay * backoffMultiplier^(attempt-1) for the
// given 1-based attempt number.
func (p StrictRetryPolicy) delay(attempt int) time.Duration {
	mult := p.BackoffMultiplier
	if mult <= 0 {
		mult = 2.0
	}
	d := float64(p.InitialDelay) * math.Pow(mult, float64(attempt-1))
	return time.Duration(d)
}

// ConfirmationGate is consulted when Config.RequireExplicitConfirmation is
// set; it suspends the run and waits for an external affirmative/negative
// decision (wired to the Conversation Manager in production).
type ConfirmationGate interface {
	RequestConfirmation(ctx context.Context, form map[string]any) (bool, error)
}

// EventSink receives ToolStart/ToolComplete/ToolError observability
// events; satisfied by the streaming event bus.
type EventSink interface {
	Publish(domain, eventType string, payload map[string]any)
}

// Config configures one Func-Agent execution.
type Config struct {
	Name                        string
	Description                 string
	Mode                        Mode
	OutputFormat                OutputFormat
	OutputSchema                *schema.Schema
	InputSchema                 *schema.Schema
	StrictRetryPolicy           StrictRetryPolicy
	TimeoutMs                   int
	RequireExplicitConfirmation bool
}

// Agent runs Config against a provider.Adapter.
type Agent struct {
	Config    Config
	Adapter   provider.Adapter
	Gate      ConfirmationGate
	Events    EventSink
	Logger    *zap.Logger
	randDelay func(time.Duration) time.Duration
}

// New builds an Agent. adapter must already be Configure-d.
func New(cfg Config, adapter provider.Adapter, gate ConfirmationGate, events EventSink, logger *zap.Logger) *Agent {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Agent{
		Config:  cfg,
		Adapter: adapter,
		Gate:    gate,
		Events:  events,
		Logger:  logger.With(zap.String("component", "func_agent"), zap.String("agent", cfg.Name)),
		randDelay: func(base time.Duration) time.Duration {
			jitter := float64(base) * 0.25
			return base + time.Duration((rand.Float64()*2-1)*jitter)
		},
	}
}

// Result is the outcome of Execute.
type Result struct {
	State        RunState
	Output       any
	Attempts     int
	LastErrors   []schema.ValidationError
	ErrorKind    string
	PromptTokens int
	CompTokens   int
	LatencyMs    int64
}

// Execute runs the six-step contract against input.
func (a *Agent) Execute(ctx context.Context, input map[string]any) (Result, error) {
	start := time.Now()

	// Step 1: input validation.
	if a.Config.InputSchema != nil {
		if errs := a.Config.InputSchema.Validate(input); len(errs) > 0 {
			a.emit("ToolError", map[string]any{"reason": "InputValidation"})
			return Result{State: RunAborted, ErrorKind: "InputValidation", LastErrors: errs}, nil
		}
	}

	// Step 2: explicit confirmation gate.
	if a.Config.RequireExplicitConfirmation {
		if a.Gate == nil {
			return Result{}, archflowerr.New(archflowerr.KindInternal, "missing_confirmation_gate", "RequireExplicitConfirmation is set but no ConfirmationGate is configured")
		}
		affirmed, err := a.Gate.RequestConfirmation(ctx, map[string]any{"agent": a.Config.Name, "input": input})
		if err != nil {
			return Result{}, archflowerr.Wrap(archflowerr.KindCancelled, "confirmation_failed", err.Error(), err)
		}
		if !affirmed {
			a.emit("ToolError", map[string]any{"reason": "UserRejected"})
			return Result{State: RunAborted, ErrorKind: "UserRejected"}, nil
		}
	}

	a.emit("ToolStart", map[string]any{"agent": a.Config.Name})

	timeout := time.Duration(a.Config.TimeoutMs) * time.Millisecond
	if timeout <= 0 {
		timeout = 60 * time.Second
	}
	callCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	maxAttempts := a.Config.StrictRetryPolicy.MaxAttempts
	if maxAttempts < 1 {
		maxAttempts = 1
	}

	var lastErrs []schema.ValidationError
	var result Result
	result.State = RunExhausted

	prompt := a.basePrompt(input)

	for attempt := 1; attempt <= maxAttempts; attempt++ {
		result.Attempts = attempt
		state := AttemptPreparing
		_ = state

		state = AttemptCalling
		text, usage, err := a.callProvider(callCtx, prompt)
		result.PromptTokens += usage.PromptTokens
		result.CompTokens += usage.CompletionTokens

		if err != nil {
			if callCtx.Err() != nil {
				state = AttemptTimeout
				a.emit("ToolError", map[string]any{"reason": "Timeout", "attempt": attempt})
				result.State = RunAborted
				result.ErrorKind = "Timeout"
				result.LatencyMs = time.Since(start).Milliseconds()
				return result, nil
			}
			state = AttemptTransportFailed
			a.Logger.Warn("provider call failed", zap.Int("attempt", attempt), zap.Error(err))
			if a.Config.Mode == ModeDeterministic && a.Config.StrictRetryPolicy.allows(RetryOnTransientError) && attempt < maxAttempts {
				a.sleep(callCtx, a.Config.StrictRetryPolicy.delay(attempt))
				continue
			}
			result.ErrorKind = "TransportError"
			result.LatencyMs = time.Since(start).Milliseconds()
			a.emit("ToolError", map[string]any{"reason": "TransportError", "attempt": attempt})
			return result, nil
		}

		// Step 4: parse per outputFormat.
		parsed, parseErr := parse(a.Config.OutputFormat, text)
		if parseErr != nil {
			lastErrs = []schema.ValidationError{{Path: "$", Message: parseErr.Error()}}
			state = AttemptValidationFailed
			if a.shouldRetrySchema(attempt, maxAttempts) {
				prompt = a.repairPrompt(input, lastErrs)
				a.sleep(callCtx, a.Config.StrictRetryPolicy.delay(attempt))
				continue
			}
			break
		}

		// Step 5: schema validation, mode-gated.
		if a.Config.OutputSchema != nil && a.Config.Mode != ModeCreative {
			var errs []schema.ValidationError
			if a.Config.Mode == ModeHybrid {
				errs = validateStructureOnly(a.Config.OutputSchema, parsed)
			} else {
				errs = a.Config.OutputSchema.Validate(parsed)
			}
			if len(errs) > 0 {
				lastErrs = errs
				state = AttemptValidationFailed
				if a.shouldRetrySchema(attempt, maxAttempts) {
					prompt = a.repairPrompt(input, errs)
					a.sleep(callCtx, a.Config.StrictRetryPolicy.delay(attempt))
					continue
				}
				break
			}
		}

		state = AttemptSucceeded
		_ = state
		result.State = RunSucceeded
		result.Output = parsed
		result.LatencyMs = time.Since(start).Milliseconds()
		a.emit("ToolComplete", map[string]any{"agent": a.Config.Name, "attempts": attempt})
		return result, nil
	}

	result.ErrorKind = "SchemaViolation"
	result.LastErrors = lastErrs
	result.LatencyMs = time.Since(start).Milliseconds()
	a.emit("ToolError", map[string]any{"reason": "SchemaViolation", "attempts": result.Attempts})
	return result, nil
}

func (a *Agent) shouldRetrySchema(attempt, maxAttempts int) bool {
	return a.Config.Mode == ModeDeterministic && a.Config.StrictRetryPolicy.allows(RetryOnSchemaError) && attempt < maxAttempts
}

func (a *Agent) sleep(ctx context.Context, d time.Duration) {
	select {
	case <-ctx.Done():
	case <-time.After(a.randDelay(d)):
	}
}

func (a *Agent) basePrompt(input map[string]any) string {
	schemaDesc := ""
	if a.Config.OutputSchema != nil {
		schemaDesc = a.Config.OutputSchema.String()
	}
	return fmt.Sprintf("%s\n\nOutput format: %s\nOutput schema: %s\nInput: %v", a.Config.Description, a.Config.OutputFormat, schemaDesc, input)
}

func (a *Agent) repairPrompt(input map[string]any, errs []schema.ValidationError) string {
	base := a.basePrompt(input)
	return fmt.Sprintf("%s\n\nThe previous response violated the output schema:\n%s\nCorrect the response and try again.", base, formatValidationErrors(errs))
}

func formatValidationErrors(errs []schema.ValidationError) string {
	out := ""
	for _, e := range errs {
		out += fmt.Sprintf("- %s: %s\n", e.Path, e.Message)
	}
	return out
}

func (a *Agent) callProvider(ctx context.Context, prompt string) (string, provider.Usage, error) {
	raw, err := a.Adapter.Execute(ctx, provider.OpGenerate, []provider.Message{{Role: "user", Content: prompt}})
	if err != nil {
		return "", provider.Usage{}, err
	}
	result, ok := raw.(provider.TextResult)
	if !ok {
		return "", provider.Usage{}, archflowerr.New(archflowerr.KindProvider, "unexpected_result_type", "adapter did not return a TextResult")
	}
	return result.Text, result.Usage, nil
}

func (a *Agent) emit(eventType string, payload map[string]any) {
	if a.Events == nil {
		return
	}
	a.Events.Publish("Tool", eventType, payload)
}
