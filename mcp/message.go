// Package mcp implements the JSON-RPC 2.0 codec, transport, and
// client/server broker for the Model Context Protocol (C3, C4).
package mcp

import (
	"encoding/json"
	"fmt"
)

// ProtocolVersion is the MCP wire protocol version this broker speaks.
const ProtocolVersion = "2024-11-05"

// Reserved JSON-RPC 2.0 error codes (spec.md §4.3).
const (
	CodeParseError     = -32700
	CodeInvalidRequest = -32600
	CodeMethodNotFound = -32601
	CodeInvalidParams  = -32602
	CodeInternalError  = -32603
)

// Kind classifies a decoded Message.
type Kind int

const (
	KindRequest Kind = iota
	KindNotification
	KindResponse
)

// RPCError is the JSON-RPC 2.0 error object.
type RPCError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
	Data    any    `json:"data,omitempty"`
}

func (e *RPCError) Error() string {
	return fmt.Sprintf("mcp error %d: %s", e.Code, e.Message)
}

// Message is the unified wire representation of a Request, Notification,
// or Response. Its Kind is determined by the presence of ID and Method.
type Message struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      json.RawMessage `json:"id,omitempty"`
	Method  string          `json:"method,omitempty"`
	Params  json.RawMessage `json:"params,omitempty"`
	Result  json.RawMessage `json:"result,omitempty"`
	Error   *RPCError       `json:"error,omitempty"`
}

// Kind classifies the message per spec.md §4.3: both id and method →
// Request; method only → Notification; id only → Response.
func (m *Message) Kind() Kind {
	hasID := len(m.ID) > 0 && string(m.ID) != "null"
	hasMethod := m.Method != ""
	switch {
	case hasID && hasMethod:
		return KindRequest
	case hasMethod:
		return KindNotification
	default:
		return KindResponse
	}
}

// NewRequest builds a Request message.
func NewRequest(id string, method string, params any) (*Message, error) {
	idJSON, err := json.Marshal(id)
	if err != nil {
		return nil, err
	}
	paramsJSON, err := json.Marshal(params)
	if err != nil {
		return nil, err
	}
	return &Message{JSONRPC: "2.0", ID: idJSON, Method: method, Params: paramsJSON}, nil
}

// NewNotification builds a Notification message (no id).
func NewNotification(method string, params any) (*Message, error) {
	paramsJSON, err := json.Marshal(params)
	if err != nil {
		return nil, err
	}
	return &Message{JSONRPC: "2.0", Method: method, Params: paramsJSON}, nil
}

// NewResponse builds a successful Response message.
func NewResponse(id json.RawMessage, result any) (*Message, error) {
	resultJSON, err := json.Marshal(result)
	if err != nil {
		return nil, err
	}
	return &Message{JSONRPC: "2.0", ID: id, Result: resultJSON}, nil
}

// NewErrorResponse builds a failed Response message.
func NewErrorResponse(id json.RawMessage, code int, message string, data any) *Message {
	return &Message{JSONRPC: "2.0", ID: id, Error: &RPCError{Code: code, Message: message, Data: data}}
}

// IDString extracts the message id as a comparable string key, used to
// index the pending-request table.
func (m *Message) IDString() string {
	return string(m.ID)
}

// UnmarshalParams decodes Params into v.
func (m *Message) UnmarshalParams(v any) error {
	if len(m.Params) == 0 {
		return nil
	}
	return json.Unmarshal(m.Params, v)
}

// UnmarshalResult decodes Result into v.
func (m *Message) UnmarshalResult(v any) error {
	if len(m.Result) == 0 {
		return nil
	}
	return json.Unmarshal(m.Result, v)
}

// Encode serializes m as a single line (without trailing newline).
func Encode(m *Message) ([]byte, error) {
	return json.Marshal(m)
}

// Decode parses a single line into a Message.
func Decode(line []byte) (*Message, error) {
	var m Message
	if err := json.Unmarshal(line, &m); err != nil {
		return nil, err
	}
	return &m, nil
}
