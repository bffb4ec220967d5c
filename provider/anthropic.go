package provider

import (
	"context"
	"sync"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"

	"github.com/archflow/archflow/archflowerr"
)

// AnthropicAdapter implements Adapter over the Anthropic Messages API via
// github.com/anthropics/anthropic-sdk-go. Only the text blocks of a
// response are returned; thinking blocks are not surfaced, and the adapter
// emits no events of the reserved "thinking" domain.
type AnthropicAdapter struct {
	mu     sync.RWMutex
	cfg    Config
	client *anthropic.Client
}

func NewAnthropicAdapter() *AnthropicAdapter { return &AnthropicAdapter{} }

func (a *AnthropicAdapter) Name() string { return "anthropic" }

func (a *AnthropicAdapter) Capabilities() []Operation {
	return []Operation{OpGenerate, OpChat, OpChatStream}
}

func (a *AnthropicAdapter) Validate(cfg Config) error { return cfg.Validate() }

func (a *AnthropicAdapter) Configure(cfg Config) error {
	if err := cfg.Validate(); err != nil {
		return err
	}

	opts := []option.RequestOption{option.WithAPIKey(cfg.APIKey)}
	if cfg.Endpoint != "" {
		opts = append(opts, option.WithBaseURL(cfg.Endpoint))
	}
	client := anthropic.NewClient(opts...)

	a.mu.Lock()
	defer a.mu.Unlock()
	a.cfg = cfg
	a.client = &client
	return nil
}

func (a *AnthropicAdapter) readyClient() (*anthropic.Client, Config, error) {
	a.mu.RLock()
	defer a.mu.RUnlock()
	if a.client == nil {
		return nil, Config{}, ErrNotConfigured()
	}
	return a.client, a.cfg, nil
}

func (a *AnthropicAdapter) Execute(ctx context.Context, op Operation, input any) (any, error) {
	client, cfg, err := a.readyClient()
	if err != nil {
		return nil, err
	}
	if cfg.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, cfg.Timeout)
		defer cancel()
	}

	switch op {
	case OpGenerate:
		prompt, _ := input.(string)
		return a.messages(ctx, client, cfg, []Message{{Role: "user", Content: prompt}})
	case OpChat:
		history, _ := input.([]Message)
		return a.messages(ctx, client, cfg, history)
	default:
		return nil, ErrUnsupportedOperation(op)
	}
}

func (a *AnthropicAdapter) messages(ctx context.Context, client *anthropic.Client, cfg Config, history []Message) (TextResult, error) {
	var system string
	params := anthropic.MessageNewParams{
		Model:     anthropic.Model(cfg.Model),
		MaxTokens: int64(cfg.MaxTokens),
	}
	for _, m := range history {
		switch m.Role {
		case "system":
			system = m.Content
		case "assistant":
			params.Messages = append(params.Messages, anthropic.NewAssistantMessage(anthropic.NewTextBlock(m.Content)))
		default:
			params.Messages = append(params.Messages, anthropic.NewUserMessage(anthropic.NewTextBlock(m.Content)))
		}
	}
	if system != "" {
		params.System = []anthropic.TextBlockParam{{Text: system}}
	}

	resp, err := client.Messages.New(ctx, params)
	if err != nil {
		return TextResult{}, archflowerr.Wrap(archflowerr.KindProvider, "anthropic_messages_failed", err.Error(), err)
	}

	var text string
	for _, block := range resp.Content {
		if block.Type == "text" {
			text += block.Text
		}
	}

	return TextResult{
		Text:    text,
		Message: Message{Role: "assistant", Content: text},
		Usage: Usage{
			PromptTokens:     int(resp.Usage.InputTokens),
			CompletionTokens: int(resp.Usage.OutputTokens),
		},
	}, nil
}

func (a *AnthropicAdapter) Shutdown(ctx context.Context) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.client = nil
	return nil
}
