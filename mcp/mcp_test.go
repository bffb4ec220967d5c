package mcp

import (
	"context"
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// wireUp connects a Client and Server over an in-memory duplex pipe and
// starts the server's dispatch loop.
func wireUp(t *testing.T) (*Client, *Server, func()) {
	t.Helper()
	clientConn, serverConn := net.Pipe()

	server := NewServer("archflow-test", "0.0.1", nil)
	client := NewClient(NewLineTransport(clientConn, clientConn, nil), nil)

	ctx, cancel := context.WithCancel(context.Background())
	serverDone := make(chan struct{})
	go func() {
		defer close(serverDone)
		_ = server.Serve(ctx, NewLineTransport(serverConn, serverConn, nil))
	}()

	cleanup := func() {
		cancel()
		_ = client.Close()
		_ = serverConn.Close()
		<-serverDone
	}
	return client, server, cleanup
}

func TestClientServer_InitializeHandshake(t *testing.T) {
	client, _, cleanup := wireUp(t)
	defer cleanup()

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	caps, err := client.Initialize(ctx, ClientInfo{Name: "archflow", Version: "0.0.1"}, ClientCapabilities{})
	require.NoError(t, err)
	assert.True(t, caps.Tools)
}

// TestEchoFlowAsTool implements the echo-flow tools/call scenario: a
// workflow exposed as an MCP tool that returns its input unchanged.
func TestEchoFlowAsTool(t *testing.T) {
	client, server, cleanup := wireUp(t)
	defer cleanup()

	err := server.RegisterTool(
		ToolDescriptor{
			Name:        "echo-flow",
			Description: "echoes its input back",
			InputSchema: map[string]any{"type": "object"},
		},
		func(ctx context.Context, args map[string]any) (any, error) {
			return args, nil
		},
	)
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	_, err = client.Initialize(ctx, ClientInfo{Name: "archflow", Version: "0.0.1"}, ClientCapabilities{})
	require.NoError(t, err)

	tools, err := client.ListTools(ctx)
	require.NoError(t, err)
	require.Len(t, tools, 1)
	assert.Equal(t, "echo-flow", tools[0].Name)

	result, err := client.CallTool(ctx, "echo-flow", map[string]any{"message": "hi"})
	require.NoError(t, err)
	assert.False(t, result.IsError)
	require.Len(t, result.Content, 1)
	assert.Contains(t, result.Content[0].Text, "hi")
}

func TestCallTool_HandlerErrorSurfacesAsIsError(t *testing.T) {
	client, server, cleanup := wireUp(t)
	defer cleanup()

	err := server.RegisterTool(
		ToolDescriptor{Name: "failing-flow", Description: "always fails"},
		func(ctx context.Context, args map[string]any) (any, error) {
			return nil, assertErr{}
		},
	)
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	_, err = client.Initialize(ctx, ClientInfo{Name: "archflow", Version: "0.0.1"}, ClientCapabilities{})
	require.NoError(t, err)

	result, err := client.CallTool(ctx, "failing-flow", nil)
	require.NoError(t, err) // the RPC call itself succeeds
	assert.True(t, result.IsError)
}

func TestCallTool_UnknownToolIsRPCError(t *testing.T) {
	client, _, cleanup := wireUp(t)
	defer cleanup()

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	_, err := client.Initialize(ctx, ClientInfo{Name: "archflow", Version: "0.0.1"}, ClientCapabilities{})
	require.NoError(t, err)

	_, err = client.CallTool(ctx, "does-not-exist", nil)
	require.Error(t, err)
}

func TestListResources_UnsupportedByToolOnlyServer(t *testing.T) {
	client, _, cleanup := wireUp(t)
	defer cleanup()

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	_, err := client.Initialize(ctx, ClientInfo{Name: "archflow", Version: "0.0.1"}, ClientCapabilities{})
	require.NoError(t, err)

	_, err = client.ListResources(ctx)
	require.Error(t, err)
}

type assertErr struct{}

func (assertErr) Error() string { return "handler failed" }
