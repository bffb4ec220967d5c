/*
Package server manages the lifecycle of the plain HTTP listeners archflowd
exposes alongside the MCP transport: the /healthz probe and the Prometheus
/metrics endpoint. It wraps net/http.Server with non-blocking start, graceful
shutdown, and OS signal handling so runtime.Start/Shutdown can treat both
listeners identically.

# Overview

Manager wraps a net/http.Server and coordinates listening, serving, shutdown,
and error propagation through a single small API. Both HTTP and TLS startup
are supported, with SIGINT/SIGTERM handling built in for standalone use.

# Core types

  - Manager: holds the http.Server, its net.Listener, and an asynchronous
    error channel; exposes Start/StartTLS/Shutdown/WaitForShutdown.
  - Config: listen address, read/write/idle timeouts, max header size, and
    the graceful shutdown timeout.

# Capabilities

  - Non-blocking start: Start/StartTLS run the server on a background
    goroutine and return immediately.
  - Graceful shutdown: Shutdown drains in-flight requests within the
    configured timeout.
  - Signal handling: WaitForShutdown blocks on SIGINT/SIGTERM (or an
    asynchronous server error) and then shuts down.
  - Error propagation: Errors() exposes a channel callers can select on to
    notice a listener that died outside of Shutdown.
  - TLS support: StartTLS takes a certificate and key file.
  - Status queries: IsRunning/Addr report current state.
*/
package server
