package provider

import (
	"context"
	"sync"

	"github.com/sashabaranov/go-openai"

	"github.com/archflow/archflow/archflowerr"
)

// OpenAIAdapter implements Adapter over the OpenAI Chat Completions and
// Embeddings APIs via github.com/sashabaranov/go-openai.
type OpenAIAdapter struct {
	mu     sync.RWMutex
	cfg    Config
	client *openai.Client
}

// NewOpenAIAdapter creates an unconfigured OpenAI adapter.
func NewOpenAIAdapter() *OpenAIAdapter { return &OpenAIAdapter{} }

func (a *OpenAIAdapter) Name() string { return "openai" }

func (a *OpenAIAdapter) Capabilities() []Operation {
	return []Operation{OpGenerate, OpChat, OpGenerateStream, OpChatStream, OpEmbed, OpEmbedBatch}
}

func (a *OpenAIAdapter) Validate(cfg Config) error { return cfg.Validate() }

func (a *OpenAIAdapter) Configure(cfg Config) error {
	if err := cfg.Validate(); err != nil {
		return err
	}
	clientCfg := openai.DefaultConfig(cfg.APIKey)
	if cfg.Endpoint != "" {
		clientCfg.BaseURL = cfg.Endpoint
	}

	a.mu.Lock()
	defer a.mu.Unlock()
	a.cfg = cfg
	a.client = openai.NewClientWithConfig(clientCfg)
	return nil
}

func (a *OpenAIAdapter) readyClient() (*openai.Client, Config, error) {
	a.mu.RLock()
	defer a.mu.RUnlock()
	if a.client == nil {
		return nil, Config{}, ErrNotConfigured()
	}
	return a.client, a.cfg, nil
}

func (a *OpenAIAdapter) Execute(ctx context.Context, op Operation, input any) (any, error) {
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
		return a.chatCompletion(ctx, client, cfg, []Message{{Role: "user", Content: prompt}})
	case OpChat:
		history, _ := input.([]Message)
		return a.chatCompletion(ctx, client, cfg, history)
	case OpEmbed:
		text, _ := input.(string)
		res, err := a.embed(ctx, client, cfg, []string{text})
		if err != nil {
			return nil, err
		}
		return res, nil
	case OpEmbedBatch:
		texts, _ := input.([]string)
		return a.embed(ctx, client, cfg, texts)
	default:
		return nil, ErrUnsupportedOperation(op)
	}
}

func (a *OpenAIAdapter) chatCompletion(ctx context.Context, client *openai.Client, cfg Config, history []Message) (TextResult, error) {
	msgs := make([]openai.ChatCompletionMessage, 0, len(history))
	for _, m := range history {
		msgs = append(msgs, openai.ChatCompletionMessage{Role: m.Role, Content: m.Content})
	}

	resp, err := client.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model:       cfg.Model,
		Messages:    msgs,
		MaxTokens:   cfg.MaxTokens,
		Temperature: float32(cfg.Temperature),
		TopP:        float32(cfg.TopP),
	})
	if err != nil {
		return TextResult{}, archflowerr.Wrap(archflowerr.KindProvider, "openai_chat_failed", err.Error(), err)
	}
	if len(resp.Choices) == 0 {
		return TextResult{}, archflowerr.New(archflowerr.KindProvider, "openai_empty_response", "no choices returned")
	}

	content := resp.Choices[0].Message.Content
	return TextResult{
		Text:    content,
		Message: Message{Role: "assistant", Content: content},
		Usage: Usage{
			PromptTokens:     resp.Usage.PromptTokens,
			CompletionTokens: resp.Usage.CompletionTokens,
		},
	}, nil
}

func (a *OpenAIAdapter) embed(ctx context.Context, client *openai.Client, cfg Config, texts []string) (EmbedResult, error) {
	resp, err := client.CreateEmbeddings(ctx, openai.EmbeddingRequestStrings{
		Input: texts,
		Model: openai.EmbeddingModel(cfg.Model),
	})
	if err != nil {
		return EmbedResult{}, archflowerr.Wrap(archflowerr.KindProvider, "openai_embed_failed", err.Error(), err)
	}

	vectors := make([][]float32, len(resp.Data))
	for i, d := range resp.Data {
		vectors[i] = d.Embedding
	}
	return EmbedResult{Vectors: vectors}, nil
}

func (a *OpenAIAdapter) Shutdown(ctx context.Context) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.client = nil
	return nil
}
