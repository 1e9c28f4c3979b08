// Package transport implements the Stdio RPC Client: one child process
// speaking line-framed JSON-RPC 2.0 over its stdin/stdout, wrapped for
// request/response correlation, notification delivery, and graceful
// shutdown.
//
// The line-framing and request/response correlation themselves are not
// hand-rolled here — github.com/mark3labs/mcp-go's client package already
// implements exactly that machinery (the same way the teacher's own
// internal/agent/ask package consumes it). This package adds the pieces
// that library leaves to the caller: per-request timeout enforcement via
// context, a multi-handler notification registry, and idempotent
// connect/initialize/close semantics.
package transport

import (
	"context"
	"fmt"
	"sync"
	"time"

	mcpclient "github.com/mark3labs/mcp-go/client"
	"github.com/mark3labs/mcp-go/mcp"
	"github.com/rs/zerolog"
)

// ErrClosed is returned by any operation attempted after Close.
var ErrClosed = fmt.Errorf("transport: connection closed")

// NotificationHandler is invoked when the child sends a notification for
// the method it was registered against.
type NotificationHandler func(params map[string]any)

// Config describes how to spawn the child process.
type Config struct {
	Command string
	Args    []string
	Env     []string
	// ClientName/ClientVersion are not read by Connect or Initialize: the
	// initialize handshake always identifies this host as "mcpcore"
	// version "0.1.0".
	ClientName    string
	ClientVersion string
}

// Client wraps one mcp-go stdio client with the correlation and
// lifecycle semantics the orchestration core needs.
type Client struct {
	mu       sync.Mutex
	inner    *mcpclient.Client
	logger   zerolog.Logger
	closed   bool
	initOnce sync.Once
	initErr  error

	notifyMu sync.RWMutex
	handlers map[string][]NotificationHandler

	caps mcp.ServerCapabilities
}

// Connect spawns the child described by cfg. It fails with a wrapped
// error if the child cannot be started — the Config-errors/TransportError
// distinction of §7 is realized in Go simply as a returned error, since
// Go has no in-band exception channel to separate programmer mistakes
// from operational failures.
func Connect(cfg Config, logger zerolog.Logger) (*Client, error) {
	inner, err := mcpclient.NewStdioMCPClient(cfg.Command, cfg.Env, cfg.Args...)
	if err != nil {
		return nil, fmt.Errorf("transport: spawn %q: %w", cfg.Command, err)
	}
	c := &Client{
		inner:    inner,
		logger:   logger,
		handlers: make(map[string][]NotificationHandler),
	}
	inner.OnNotification(func(n mcp.JSONRPCNotification) {
		c.dispatchNotification(n.Method, n.Params.AdditionalFields)
	})
	return c, nil
}

// Initialize performs the MCP handshake. Idempotent: a second call
// observes the result of the first without re-sending the request.
func (c *Client) Initialize(ctx context.Context) (mcp.ServerCapabilities, error) {
	c.initOnce.Do(func() {
		req := mcp.InitializeRequest{}
		req.Params.ProtocolVersion = mcp.LATEST_PROTOCOL_VERSION
		req.Params.ClientInfo = mcp.Implementation{Name: "mcpcore", Version: "0.1.0"}
		req.Params.Capabilities = mcp.ClientCapabilities{Experimental: map[string]any{}}

		res, err := c.inner.Initialize(ctx, req)
		if err != nil {
			c.initErr = fmt.Errorf("transport: initialize: %w", err)
			return
		}
		c.caps = res.Capabilities
	})
	return c.caps, c.initErr
}

// ListTools fetches the current catalog, honoring timeout via context.
func (c *Client) ListTools(ctx context.Context, timeout time.Duration) ([]mcp.Tool, error) {
	if c.isClosed() {
		return nil, ErrClosed
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	res, err := c.inner.ListTools(ctx, mcp.ListToolsRequest{})
	if err != nil {
		return nil, classifyErr(ctx, err)
	}
	return res.Tools, nil
}

// CallTool invokes tools/call for name with arguments, bounded by timeout.
// Per §4.1, the timeout wraps only this call; it never tears down the
// underlying connection.
func (c *Client) CallTool(ctx context.Context, name string, arguments map[string]any, timeout time.Duration) (*mcp.CallToolResult, error) {
	if c.isClosed() {
		return nil, ErrClosed
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	req := mcp.CallToolRequest{}
	req.Params.Name = name
	req.Params.Arguments = arguments

	res, err := c.inner.CallTool(ctx, req)
	if err != nil {
		return nil, classifyErr(ctx, err)
	}
	return res, nil
}

// Ping is the cheap liveness probe used by health_check.
func (c *Client) Ping(ctx context.Context) error {
	if c.isClosed() {
		return ErrClosed
	}
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	return c.inner.Ping(ctx)
}

// OnNotification registers handler to run whenever the child sends a
// notification for method. Multiple handlers may be registered per
// method; all run, in registration order.
func (c *Client) OnNotification(method string, handler NotificationHandler) {
	c.notifyMu.Lock()
	defer c.notifyMu.Unlock()
	c.handlers[method] = append(c.handlers[method], handler)
}

func (c *Client) dispatchNotification(method string, params map[string]any) {
	c.notifyMu.RLock()
	handlers := append([]NotificationHandler(nil), c.handlers[method]...)
	c.notifyMu.RUnlock()
	for _, h := range handlers {
		h(params)
	}
}

// Close attempts graceful termination of the child and releases the
// underlying transport. Safe to call more than once.
func (c *Client) Close() error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closed = true
	c.mu.Unlock()

	if err := c.inner.Close(); err != nil {
		return fmt.Errorf("transport: close: %w", err)
	}
	return nil
}

func (c *Client) isClosed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closed
}

// classifyErr turns a context deadline into a plain, recognizable timeout
// error; any other error is passed through wrapped as a transport error.
func classifyErr(ctx context.Context, err error) error {
	if ctx.Err() == context.DeadlineExceeded {
		return context.DeadlineExceeded
	}
	return fmt.Errorf("transport: %w", err)
}
