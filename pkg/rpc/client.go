package rpc

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"sync"
	"time"

	apperrors "github.com/Adithya-Monish-Kumar-K/bani-align/pkg/errors"
)

// RemoteError is a failure reported by the server.
type RemoteError struct {
	Method  string
	Code    string
	Message string
}

func (e *RemoteError) Error() string {
	return fmt.Sprintf("rpc %s: %s", e.Method, e.Message)
}

// Unwrap maps the wire code back onto the shared sentinels.
func (e *RemoteError) Unwrap() error {
	switch e.Code {
	case CodeInvalidInput, CodeUnknownMethod:
		return apperrors.ErrInvalidInput
	case CodeNotFound:
		return apperrors.ErrSessionNotFound
	case CodeTimeout:
		return apperrors.ErrTimeout
	case CodeUnavailable:
		return apperrors.ErrUnavailable
	default:
		return apperrors.ErrInternal
	}
}

// Client holds one connection and serializes calls over it. A transport
// failure drops the connection; the next call redials.
type Client struct {
	addr        string
	dialTimeout time.Duration

	mu     sync.Mutex
	conn   net.Conn
	enc    *json.Encoder
	dec    *json.Decoder
	nextID uint64
	closed bool
}

// NewClient returns a client for addr. No connection is made until the
// first call.
func NewClient(addr string, dialTimeout time.Duration) *Client {
	return &Client{addr: addr, dialTimeout: dialTimeout}
}

// Dial connects eagerly.
func Dial(ctx context.Context, addr string, dialTimeout time.Duration) (*Client, error) {
	c := NewClient(addr, dialTimeout)
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.connect(ctx); err != nil {
		return nil, err
	}
	return c, nil
}

func (c *Client) connect(ctx context.Context) error {
	d := net.Dialer{Timeout: c.dialTimeout}
	conn, err := d.DialContext(ctx, "tcp", c.addr)
	if err != nil {
		return fmt.Errorf("%w: dialing %s: %v", apperrors.ErrUnavailable, c.addr, err)
	}
	c.conn = conn
	c.enc = json.NewEncoder(conn)
	c.dec = json.NewDecoder(conn)
	return nil
}

func (c *Client) drop() {
	if c.conn != nil {
		c.conn.Close()
		c.conn = nil
	}
}

// Call invokes method and decodes the response data into result, which may
// be nil. The ctx deadline bounds the round trip and is forwarded to the
// server.
func (c *Client) Call(ctx context.Context, method string, params, result any) error {
	raw, err := json.Marshal(params)
	if err != nil {
		return fmt.Errorf("marshaling params: %w", err)
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return fmt.Errorf("%w: client closed", apperrors.ErrUnavailable)
	}
	if c.conn == nil {
		if err := c.connect(ctx); err != nil {
			return err
		}
	}

	c.nextID++
	req := Request{Method: method, ID: c.nextID, Params: raw}
	deadline, hasDeadline := ctx.Deadline()
	if hasDeadline {
		req.TimeoutMs = time.Until(deadline).Milliseconds()
		if req.TimeoutMs <= 0 {
			return fmt.Errorf("%w: %v", apperrors.ErrTimeout, context.DeadlineExceeded)
		}
	}
	c.conn.SetDeadline(deadline)

	if err := c.enc.Encode(req); err != nil {
		c.drop()
		return transportError("sending request", err)
	}
	var resp Response
	if err := c.dec.Decode(&resp); err != nil {
		c.drop()
		return transportError("reading response", err)
	}
	if resp.ID != req.ID {
		c.drop()
		return fmt.Errorf("%w: response id %d for request %d", apperrors.ErrInternal, resp.ID, req.ID)
	}
	if resp.Error != "" {
		return &RemoteError{Method: method, Code: resp.Code, Message: resp.Error}
	}
	if result != nil && len(resp.Data) > 0 {
		if err := json.Unmarshal(resp.Data, result); err != nil {
			return fmt.Errorf("unmarshaling into result: %w", err)
		}
	}
	return nil
}

func transportError(op string, err error) error {
	var ne net.Error
	if errors.As(err, &ne) && ne.Timeout() {
		return fmt.Errorf("%w: %s: %v", apperrors.ErrTimeout, op, err)
	}
	return fmt.Errorf("%w: %s: %v", apperrors.ErrUnavailable, op, err)
}

// Close drops the connection; later calls fail.
func (c *Client) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.closed = true
	if c.conn == nil {
		return nil
	}
	err := c.conn.Close()
	c.conn = nil
	return err
}
