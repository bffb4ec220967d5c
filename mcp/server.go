package mcp

import (
	"context"
	"encoding/json"
	"errors"
	"sync"

	"go.uber.org/zap"

	"github.com/archflow/archflow/archflowerr"
)

// ToolHandler executes a registered tool call.
type ToolHandler func(ctx context.Context, args map[string]any) (any, error)

type registeredTool struct {
	descriptor ToolDescriptor
	handler    ToolHandler
}

// Server exposes a set of tools (typically workflow-as-tool wrappers, per
// spec.md §4.6) over the MCP JSON-RPC dispatch table. It is transport
// agnostic: Serve drives it over any Transport, and HandleMessage can be
// invoked directly for in-process / test use.
type Server struct {
	name    string
	version string
	caps    ServerCapabilities
	logger  *zap.Logger

	mu    sync.RWMutex
	tools map[string]registeredTool
}

// NewServer creates a tool-serving MCP server. Capabilities advertise only
// the tools surface; resources/prompts are not exposed by this server.
func NewServer(name, version string, logger *zap.Logger) *Server {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Server{
		name:    name,
		version: version,
		caps:    ServerCapabilities{Tools: true},
		logger:  logger.With(zap.String("component", "mcp_server")),
		tools:   make(map[string]registeredTool),
	}
}

// RegisterTool exposes a tool under tools/list and tools/call.
func (s *Server) RegisterTool(descriptor ToolDescriptor, handler ToolHandler) error {
	if descriptor.Name == "" {
		return archflowerr.New(archflowerr.KindValidation, "missing_tool_name", "tool descriptor requires a name")
	}
	if handler == nil {
		return archflowerr.New(archflowerr.KindValidation, "missing_tool_handler", "tool handler is required")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.tools[descriptor.Name] = registeredTool{descriptor: descriptor, handler: handler}
	s.logger.Info("tool registered", zap.String("name", descriptor.Name))
	return nil
}

// UnregisterTool removes a previously registered tool.
func (s *Server) UnregisterTool(name string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.tools, name)
	s.logger.Info("tool unregistered", zap.String("name", name))
}

// HandleMessage dispatches one inbound Message, returning the response to
// send (nil for notifications, which are fire-and-forget per spec.md §4.3).
func (s *Server) HandleMessage(ctx context.Context, msg *Message) *Message {
	if msg == nil {
		return NewErrorResponse(nil, CodeInvalidRequest, "empty message", nil)
	}

	switch msg.Kind() {
	case KindNotification:
		s.logger.Debug("notification received", zap.String("method", msg.Method))
		return nil
	case KindResponse:
		s.logger.Debug("unsolicited response ignored")
		return nil
	}

	result, rpcErr := s.dispatch(ctx, msg.Method, msg.Params)
	if rpcErr != nil {
		return &Message{JSONRPC: "2.0", ID: msg.ID, Error: rpcErr}
	}
	resp, err := NewResponse(msg.ID, result)
	if err != nil {
		return NewErrorResponse(msg.ID, CodeInternalError, err.Error(), nil)
	}
	return resp
}

func (s *Server) dispatch(ctx context.Context, method string, params json.RawMessage) (any, *RPCError) {
	switch method {
	case "initialize":
		return s.handleInitialize(), nil
	case "tools/list":
		return s.handleToolsList(), nil
	case "tools/call":
		return s.handleToolsCall(ctx, params)
	default:
		return nil, &RPCError{Code: CodeMethodNotFound, Message: "method not found: " + method}
	}
}

func (s *Server) handleInitialize() any {
	return map[string]any{
		"protocolVersion": ProtocolVersion,
		"capabilities":    s.caps,
		"serverInfo":      map[string]any{"name": s.name, "version": s.version},
	}
}

func (s *Server) handleToolsList() any {
	s.mu.RLock()
	defer s.mu.RUnlock()
	list := make([]ToolDescriptor, 0, len(s.tools))
	for _, t := range s.tools {
		list = append(list, t.descriptor)
	}
	return map[string]any{"tools": list}
}

// handleToolsCall never returns a JSON-RPC-level error for a failed tool
// invocation: per spec.md §4.4, a tool's own failure is surfaced as a
// successful response carrying isError=true, distinguishing "call
// mechanics failed" (RPCError) from "the tool itself failed" (isError).
func (s *Server) handleToolsCall(ctx context.Context, params json.RawMessage) (any, *RPCError) {
	var req struct {
		Name      string         `json:"name"`
		Arguments map[string]any `json:"arguments"`
	}
	if len(params) > 0 {
		if err := json.Unmarshal(params, &req); err != nil {
			return nil, &RPCError{Code: CodeInvalidParams, Message: err.Error()}
		}
	}
	if req.Name == "" {
		return nil, &RPCError{Code: CodeInvalidParams, Message: "missing required parameter: name"}
	}

	s.mu.RLock()
	tool, ok := s.tools[req.Name]
	s.mu.RUnlock()
	if !ok {
		return nil, &RPCError{Code: CodeMethodNotFound, Message: "tool not found: " + req.Name}
	}

	result, err := tool.handler(ctx, req.Arguments)
	if err != nil {
		return CallToolResult{
			Content: []ContentItem{{Type: "text", Text: err.Error()}},
			IsError: true,
		}, nil
	}
	return CallToolResult{
		Content: []ContentItem{{Type: "text", Text: renderToolResult(result)}},
		IsError: false,
	}, nil
}

// renderToolResult coerces a tool's return value into the text content
// item expected by CallToolResult; strings pass through, everything else
// is JSON-encoded.
func renderToolResult(v any) string {
	if s, ok := v.(string); ok {
		return s
	}
	b, err := json.Marshal(v)
	if err != nil {
		return ""
	}
	return string(b)
}

// Serve drives the dispatch loop over transport until ctx is cancelled or
// the transport fails.
func (s *Server) Serve(ctx context.Context, transport Transport) error {
	s.logger.Info("MCP server starting", zap.String("name", s.name))
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		msg, err := transport.Recv(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			var syntaxErr *json.SyntaxError
			var typeErr *json.UnmarshalTypeError
			if errors.As(err, &syntaxErr) || errors.As(err, &typeErr) {
				s.logger.Warn("malformed message skipped", zap.Error(err))
				continue
			}
			s.logger.Error("transport receive failed", zap.Error(err))
			return err
		}

		resp := s.HandleMessage(ctx, msg)
		if resp == nil {
			continue
		}
		if err := transport.Send(ctx, resp); err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			s.logger.Error("transport send failed", zap.Error(err))
		}
	}
}
