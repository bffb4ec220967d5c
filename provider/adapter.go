// Package provider defines the uniform LLM adapter surface (C1) over
// concrete provider SDKs, plus the provider registry.
package provider

import (
	"context"
	"time"

	"github.com/archflow/archflow/archflowerr"
)

// Operation enumerates the recognised adapter operations.
type Operation string

const (
	OpGenerate       Operation = "generate"
	OpChat           Operation = "chat"
	OpGenerateStream Operation = "generateStream"
	OpChatStream     Operation = "chatStream"
	OpEmbed          Operation = "embed"
	OpEmbedBatch     Operation = "embedBatch"
)

// Message is one turn in a chat history.
type Message struct {
	Role    string // "system" | "user" | "assistant" | "tool"
	Content string
}

// Usage reports token accounting for a call.
type Usage struct {
	PromptTokens     int
	CompletionTokens int
}

// Config holds an LLM Provider Config entity (spec.md §3).
type Config struct {
	Provider    string // openai, anthropic, azure, bedrock, vertex, watsonx, ollama, ...
	Model       string
	APIKey      string
	Endpoint    string
	Deployment  string
	Region      string
	Temperature float64 // [0,2]
	TopP        float64 // [0,1]
	MaxTokens   int     // > 0
	Timeout     time.Duration
}

// Validate enforces the decoding-parameter ranges from spec.md §3.
func (c Config) Validate() error {
	if c.APIKey == "" {
		return archflowerr.New(archflowerr.KindValidation, "missing_api_key", "api key is required")
	}
	if c.Temperature < 0 || c.Temperature > 2 {
		return archflowerr.New(archflowerr.KindValidation, "temperature_out_of_range", "temperature must be within [0,2]")
	}
	if c.TopP < 0 || c.TopP > 1 {
		return archflowerr.New(archflowerr.KindValidation, "top_p_out_of_range", "topP must be within [0,1]")
	}
	if c.MaxTokens <= 0 {
		return archflowerr.New(archflowerr.KindValidation, "max_tokens_invalid", "maxTokens must be > 0")
	}
	return nil
}

// StreamChunk is one element of a generate/chat stream.
type StreamChunk struct {
	Delta string
	Done  bool
	Err   error
}

// TextResult is returned by generate/chat.
type TextResult struct {
	Text    string
	Message Message // for chat: the assistant reply appended to history
	Usage   Usage
}

// EmbedResult is returned by embed/embedBatch.
type EmbedResult struct {
	Vectors [][]float32
}

// Adapter is the uniform LLM call surface implemented by every concrete
// provider.
type Adapter interface {
	// Name is the provider id this adapter answers to (e.g. "openai").
	Name() string

	// Capabilities lists the operations this adapter advertises. The openai,
	// anthropic and mock adapters in this package list stream operations
	// (generateStream, chatStream) that their Execute does not handle; such
	// a call returns ErrUnsupportedOperation.
	Capabilities() []Operation

	// Validate checks a Config without mutating adapter state.
	Validate(cfg Config) error

	// Configure applies cfg; subsequent Execute calls use it.
	Configure(cfg Config) error

	// Execute dispatches a recognised Operation. input/result shapes are
	// operation-specific: string for generate/embed, []Message for
	// chat/chatStream, []string for embedBatch.
	Execute(ctx context.Context, op Operation, input any) (any, error)

	// Shutdown releases adapter resources (connections, goroutines).
	Shutdown(ctx context.Context) error
}

// ErrNotConfigured is returned by Execute before Configure has succeeded.
func ErrNotConfigured() error {
	return archflowerr.New(archflowerr.KindValidation, "not_configured", "adapter has not been configured")
}

// ErrUnsupportedOperation is returned by Execute for an operation it does
// not handle, whether or not Capabilities() lists it.
func ErrUnsupportedOperation(op Operation) error {
	return archflowerr.New(archflowerr.KindValidation, "unsupported_operation", "operation not supported: "+string(op))
}
