package mcp

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"sync"

	"go.uber.org/zap"
)

// Transport delivers framed Messages over a byte stream: one whole
// message per line, blank lines ignored (spec.md §4.3).
type Transport interface {
	// Send writes one Message as a line.
	Send(ctx context.Context, m *Message) error
	// Recv blocks until the next Message line is available.
	Recv(ctx context.Context) (*Message, error)
	// Close releases the underlying stream.
	Close() error
}

// LineTransport implements Transport over an io.Reader/io.Writer pair,
// grounded on line-delimited stdio framing for MCP subprocess servers.
type LineTransport struct {
	w       io.Writer
	scanner *bufio.Scanner
	writeMu sync.Mutex
	logger  *zap.Logger
	closer  io.Closer
}

// NewLineTransport wraps r/w as a line-delimited MCP transport. If w
// also implements io.Closer, Close will close it.
func NewLineTransport(r io.Reader, w io.Writer, logger *zap.Logger) *LineTransport {
	if logger == nil {
		logger = zap.NewNop()
	}
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), 16*1024*1024)
	t := &LineTransport{w: w, scanner: scanner, logger: logger.With(zap.String("component", "mcp_transport"))}
	if c, ok := w.(io.Closer); ok {
		t.closer = c
	}
	return t
}

func (t *LineTransport) Send(ctx context.Context, m *Message) error {
	line, err := Encode(m)
	if err != nil {
		return fmt.Errorf("mcp: encode message: %w", err)
	}

	t.writeMu.Lock()
	defer t.writeMu.Unlock()
	if _, err := t.w.Write(append(line, '\n')); err != nil {
		return fmt.Errorf("mcp: write message: %w", err)
	}
	return nil
}

// Recv reads the next non-blank line. It respects ctx cancellation by
// running the blocking scan on a goroutine; a cancelled Recv leaves the
// scanner's underlying read mid-flight and the transport unusable for
// further Recv calls, matching the spec's "transport errors cancel all
// outstanding requests" failure semantics.
func (t *LineTransport) Recv(ctx context.Context) (*Message, error) {
	type result struct {
		msg *Message
		err error
	}
	ch := make(chan result, 1)

	go func() {
		for t.scanner.Scan() {
			line := t.scanner.Bytes()
			if len(line) == 0 {
				continue
			}
			m, err := Decode(line)
			ch <- result{m, err}
			return
		}
		err := t.scanner.Err()
		if err == nil {
			err = io.EOF
		}
		ch <- result{nil, err}
	}()

	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case r := <-ch:
		return r.msg, r.err
	}
}

func (t *LineTransport) Close() error {
	if t.closer != nil {
		return t.closer.Close()
	}
	return nil
}
