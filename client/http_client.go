package client

import (
	"context"
	"strings"

	"github.com/nczempin/httpc-go-pipe/errors"
	"github.com/nczempin/httpc-go-pipe/protocol"
)

// HttpClient issues GET and POST requests over one HTTP/1.1 keep-alive
// connection. Responses are parsed incrementally as bytes arrive in the
// protocol's receive pipe; nothing waits for the whole message.
//
// A connection carries one request at a time. After any failed request the
// connection is broken and every later request fails until Disconnect and
// Connect are called again.
type HttpClient struct {
	protocol *protocol.Http1Protocol
}

// NewHttpClient wraps proto, which owns the connection and its buffers.
func NewHttpClient(proto *protocol.Http1Protocol) *HttpClient {
	return &HttpClient{
		protocol: proto,
	}
}

// Connect dials host:port and starts filling the receive pipe.
func (c *HttpClient) Connect(host string, port int) error {
	return c.protocol.Connect(host, port)
}

// Disconnect shuts the transport down and waits for the receive side to stop.
func (c *HttpClient) Disconnect() error {
	return c.protocol.Disconnect()
}

// GetSafe sends a GET and returns a response whose body is a private copy.
// When ctx ends before the response is complete the request fails as a
// truncated response and the connection is broken.
func (c *HttpClient) GetSafe(ctx context.Context, req *protocol.HttpRequest) (*protocol.HttpResponse, error) {
	if len(req.Body) > 0 {
		return nil, errors.NewInvalidArgumentError("GET request cannot have a body")
	}
	req.Method = protocol.MethodGet
	return c.protocol.PerformRequestSafe(ctx, req)
}

// GetUnsafe sends a GET without copying the body. Body aliases a buffer the
// protocol fills from the parser's body callback and reuses on the next
// request over this client, so it must not be kept past that.
func (c *HttpClient) GetUnsafe(ctx context.Context, req *protocol.HttpRequest) (*protocol.UnsafeHttpResponse, error) {
	if len(req.Body) > 0 {
		return nil, errors.NewInvalidArgumentError("GET request cannot have a body")
	}
	req.Method = protocol.MethodGet
	return c.protocol.PerformRequestUnsafe(ctx, req)
}

// PostSafe sends a POST and returns a response whose body is a private copy.
func (c *HttpClient) PostSafe(ctx context.Context, req *protocol.HttpRequest) (*protocol.HttpResponse, error) {
	if err := c.validatePostRequest(req); err != nil {
		return nil, err
	}
	req.Method = protocol.MethodPost
	return c.protocol.PerformRequestSafe(ctx, req)
}

// PostUnsafe is GetUnsafe for POST; the same body lifetime applies.
func (c *HttpClient) PostUnsafe(ctx context.Context, req *protocol.HttpRequest) (*protocol.UnsafeHttpResponse, error) {
	if err := c.validatePostRequest(req); err != nil {
		return nil, err
	}
	req.Method = protocol.MethodPost
	return c.protocol.PerformRequestUnsafe(ctx, req)
}

// validatePostRequest requires a body and an explicit Content-Length header.
func (c *HttpClient) validatePostRequest(req *protocol.HttpRequest) error {
	if len(req.Body) == 0 {
		return errors.NewInvalidArgumentError("POST request must have a body")
	}

	// Check for Content-Length header
	hasContentLength := false
	for _, header := range req.Headers {
		if strings.EqualFold(header.Key, "Content-Length") {
			hasContentLength = true
			break
		}
	}

	if !hasContentLength {
		return errors.NewInvalidArgumentError("POST request must have Content-Length header")
	}

	return nil
}
