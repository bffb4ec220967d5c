package mcp

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"sync/atomic"

	"go.uber.org/zap"

	"github.com/archflow/archflow/archflowerr"
)

// ClientInfo identifies this client during the initialize handshake.
type ClientInfo struct {
	Name    string `json:"name"`
	Version string `json:"version"`
}

// ClientCapabilities declares what the client supports.
type ClientCapabilities struct {
	Sampling bool `json:"sampling,omitempty"`
}

// ServerCapabilities is what the server reported during initialize.
type ServerCapabilities struct {
	Resources          bool `json:"resources,omitempty"`
	ResourcesSubscribe bool `json:"resourcesSubscribe,omitempty"`
	Tools              bool `json:"tools,omitempty"`
	Prompts            bool `json:"prompts,omitempty"`
	Logging            bool `json:"logging,omitempty"`
}

// ToolDescriptor is a remote tool's descriptor as returned by tools/list.
type ToolDescriptor struct {
	Name        string         `json:"name"`
	Description string         `json:"description"`
	InputSchema map[string]any `json:"inputSchema"`
}

// Resource is an MCP resource as returned by resources/list and resources/read.
type Resource struct {
	URI      string `json:"uri"`
	Name     string `json:"name"`
	MimeType string `json:"mimeType,omitempty"`
	Content  any    `json:"content,omitempty"`
}

// PromptDescriptor is an MCP prompt as returned by prompts/list.
type PromptDescriptor struct {
	Name        string `json:"name"`
	Description string `json:"description"`
}

// ContentItem is one element of a tools/call result content list.
type ContentItem struct {
	Type string `json:"type"`
	Text string `json:"text,omitempty"`
}

// CallToolResult is the tools/call response shape.
type CallToolResult struct {
	Content []ContentItem `json:"content"`
	IsError bool          `json:"isError"`
}

// NotificationHandler processes an inbound notifications/* message.
type NotificationHandler func(ctx context.Context, method string, params json.RawMessage)

// Client is an MCP client over a Transport: it performs the initialize
// handshake, then exposes resources/tools/prompts operations. The resource
// operations are gated by the negotiated ServerCapabilities; the tools and
// prompts operations are sent without a capability check.
type Client struct {
	transport Transport
	logger    *zap.Logger
	pending   *pendingTable
	nextID    atomic.Int64

	mu           sync.RWMutex
	capabilities ServerCapabilities
	initialized  bool

	notifyMu sync.RWMutex
	notify   NotificationHandler

	readLoopOnce sync.Once
	readLoopDone chan struct{}
}

// NewClient wraps transport as an MCP client.
func NewClient(transport Transport, logger *zap.Logger) *Client {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Client{
		transport:    transport,
		logger:       logger.With(zap.String("component", "mcp_client")),
		pending:      newPendingTable(),
		readLoopDone: make(chan struct{}),
	}
}

// OnNotification installs the handler invoked for inbound notifications.
func (c *Client) OnNotification(h NotificationHandler) {
	c.notifyMu.Lock()
	defer c.notifyMu.Unlock()
	c.notify = h
}

func (c *Client) startReadLoop(ctx context.Context) {
	c.readLoopOnce.Do(func() {
		go func() {
			defer close(c.readLoopDone)
			for {
				msg, err := c.transport.Recv(ctx)
				if err != nil {
					c.pending.cancelAll(err)
					return
				}
				switch msg.Kind() {
				case KindResponse:
					c.pending.fulfil(msg)
				case KindNotification:
					c.notifyMu.RLock()
					h := c.notify
					c.notifyMu.RUnlock()
					if h != nil {
						h(ctx, msg.Method, msg.Params)
					}
				}
			}
		}()
	})
}

func (c *Client) call(ctx context.Context, method string, params any) (*Message, error) {
	id := fmt.Sprintf("%d", c.nextID.Add(1))
	req, err := NewRequest(id, method, params)
	if err != nil {
		return nil, archflowerr.Wrap(archflowerr.KindInternal, "mcp_encode_failed", err.Error(), err)
	}

	slot := c.pending.register(id)
	if err := c.transport.Send(ctx, req); err != nil {
		c.pending.release(id)
		return nil, archflowerr.Wrap(archflowerr.KindTransport, "mcp_send_failed", err.Error(), err)
	}

	select {
	case <-ctx.Done():
		c.pending.release(id)
		return nil, archflowerr.Wrap(archflowerr.KindCancelled, "mcp_call_cancelled", ctx.Err().Error(), ctx.Err())
	case resp := <-slot:
		if resp.Error != nil {
			return nil, archflowerr.Wrap(archflowerr.KindProvider, "mcp_rpc_error", resp.Error.Message, resp.Error)
		}
		return resp, nil
	}
}

// Initialize performs the MCP handshake and records the server's
// capabilities; it then sends notifications/initialized per spec.md §4.4.
func (c *Client) Initialize(ctx context.Context, info ClientInfo, caps ClientCapabilities) (ServerCapabilities, error) {
	c.startReadLoop(ctx)

	resp, err := c.call(ctx, "initialize", map[string]any{
		"protocolVersion": ProtocolVersion,
		"clientInfo":      info,
		"capabilities":    caps,
	})
	if err != nil {
		return ServerCapabilities{}, err
	}

	var result struct {
		Capabilities ServerCapabilities `json:"capabilities"`
	}
	if err := resp.UnmarshalResult(&result); err != nil {
		return ServerCapabilities{}, archflowerr.Wrap(archflowerr.KindInternal, "mcp_decode_failed", err.Error(), err)
	}

	c.mu.Lock()
	c.capabilities = result.Capabilities
	c.initialized = true
	c.mu.Unlock()

	notif, err := NewNotification("notifications/initialized", nil)
	if err != nil {
		return result.Capabilities, nil
	}
	_ = c.transport.Send(ctx, notif)

	return result.Capabilities, nil
}

func (c *Client) requireCapability(ok bool) error {
	c.mu.RLock()
	initialized := c.initialized
	c.mu.RUnlock()
	if !initialized {
		return archflowerr.New(archflowerr.KindValidation, "not_initialized", "client has not completed the initialize handshake")
	}
	if !ok {
		return archflowerr.New(archflowerr.KindValidation, "unsupported_operation", "server does not advertise this capability")
	}
	return nil
}

// ListResources implements resources/list, gated on capability Resources.
func (c *Client) ListResources(ctx context.Context) ([]Resource, error) {
	c.mu.RLock()
	ok := c.capabilities.Resources
	c.mu.RUnlock()
	if err := c.requireCapability(ok); err != nil {
		return nil, err
	}
	resp, err := c.call(ctx, "resources/list", nil)
	if err != nil {
		return nil, err
	}
	var result struct {
		Resources []Resource `json:"resources"`
	}
	if err := resp.UnmarshalResult(&result); err != nil {
		return nil, err
	}
	return result.Resources, nil
}

// ReadResource implements resources/read.
func (c *Client) ReadResource(ctx context.Context, uri string) (*Resource, error) {
	c.mu.RLock()
	ok := c.capabilities.Resources
	c.mu.RUnlock()
	if err := c.requireCapability(ok); err != nil {
		return nil, err
	}
	resp, err := c.call(ctx, "resources/read", map[string]any{"uri": uri})
	if err != nil {
		return nil, err
	}
	var res Resource
	if err := resp.UnmarshalResult(&res); err != nil {
		return nil, err
	}
	return &res, nil
}

// SubscribeResource implements resources/subscribe, gated on the subscribe
// sub-capability.
func (c *Client) SubscribeResource(ctx context.Context, uri string) error {
	c.mu.RLock()
	ok := c.capabilities.Resources && c.capabilities.ResourcesSubscribe
	c.mu.RUnlock()
	if err := c.requireCapability(ok); err != nil {
		return err
	}
	_, err := c.call(ctx, "resources/subscribe", map[string]any{"uri": uri})
	return err
}

// UnsubscribeResource implements resources/unsubscribe.
func (c *Client) UnsubscribeResource(ctx context.Context, uri string) error {
	c.mu.RLock()
	ok := c.capabilities.Resources && c.capabilities.ResourcesSubscribe
	c.mu.RUnlock()
	if err := c.requireCapability(ok); err != nil {
		return err
	}
	_, err := c.call(ctx, "resources/unsubscribe", map[string]any{"uri": uri})
	return err
}

// ListTools implements tools/list.
func (c *Client) ListTools(ctx context.Context) ([]ToolDescriptor, error) {
	resp, err := c.call(ctx, "tools/list", nil)
	if err != nil {
		return nil, err
	}
	var result struct {
		Tools []ToolDescriptor `json:"tools"`
	}
	if err := resp.UnmarshalResult(&result); err != nil {
		return nil, err
	}
	return result.Tools, nil
}

// CallTool implements tools/call.
func (c *Client) CallTool(ctx context.Context, name string, args map[string]any) (*CallToolResult, error) {
	resp, err := c.call(ctx, "tools/call", map[string]any{"name": name, "arguments": args})
	if err != nil {
		return nil, err
	}
	var result CallToolResult
	if err := resp.UnmarshalResult(&result); err != nil {
		return nil, err
	}
	return &result, nil
}

// ListPrompts implements prompts/list.
func (c *Client) ListPrompts(ctx context.Context) ([]PromptDescriptor, error) {
	resp, err := c.call(ctx, "prompts/list", nil)
	if err != nil {
		return nil, err
	}
	var result struct {
		Prompts []PromptDescriptor `json:"prompts"`
	}
	if err := resp.UnmarshalResult(&result); err != nil {
		return nil, err
	}
	return result.Prompts, nil
}

// GetPrompt implements prompts/get.
func (c *Client) GetPrompt(ctx context.Context, name string, args map[string]string) (string, error) {
	resp, err := c.call(ctx, "prompts/get", map[string]any{"name": name, "arguments": args})
	if err != nil {
		return "", err
	}
	var result struct {
		Text string `json:"text"`
	}
	if err := resp.UnmarshalResult(&result); err != nil {
		return "", err
	}
	return result.Text, nil
}

// Close shuts down the underlying transport.
func (c *Client) Close() error {
	return c.transport.Close()
}
