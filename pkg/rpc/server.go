// Package rpc is a small JSON-over-TCP request/response protocol used
// between services. Each connection carries newline-delimited JSON: a
// Request, then its Response, in order.
//
//	s := rpc.NewServer()
//	s.Register(proto.MethodSearchGlobal, func(ctx context.Context, req json.RawMessage) (any, error) {
//	    var in proto.SearchGlobalRequest
//	    if err := json.Unmarshal(req, &in); err != nil {
//	        return nil, err
//	    }
//	    ...
//	})
//	go s.Serve(":9100")
//
//	c := rpc.NewClient("localhost:9100", 5*time.Second)
//	var out proto.SearchResponse
//	err := c.Call(ctx, proto.MethodSearchGlobal, &proto.SearchGlobalRequest{Query: q}, &out)
package rpc

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"sync"
	"time"

	apperrors "github.com/Adithya-Monish-Kumar-K/bani-align/pkg/errors"
)

// Error codes carried in Response.Code so clients can rebuild sentinels.
const (
	CodeInvalidInput  = "invalid_input"
	CodeNotFound      = "not_found"
	CodeTimeout       = "timeout"
	CodeUnavailable   = "unavailable"
	CodeUnknownMethod = "unknown_method"
	CodeInternal      = "internal"
)

type HandlerFunc func(ctx context.Context, req json.RawMessage) (any, error)

type Request struct {
	Method string          `json:"method"`
	ID     uint64          `json:"id"`
	Params json.RawMessage `json:"params"`
	// TimeoutMs is the caller's remaining budget; zero means none.
	TimeoutMs int64 `json:"timeout_ms,omitempty"`
}

type Response struct {
	ID    uint64          `json:"id"`
	Data  json.RawMessage `json:"data,omitempty"`
	Error string          `json:"error,omitempty"`
	Code  string          `json:"code,omitempty"`
}

type Server struct {
	handlers map[string]HandlerFunc
	mu       sync.RWMutex
	listener net.Listener
	conns    map[net.Conn]struct{}
	wg       sync.WaitGroup
	done     chan struct{}
	stopOnce sync.Once
	logger   *slog.Logger
}

func NewServer() *Server {
	return &Server{
		handlers: make(map[string]HandlerFunc),
		conns:    make(map[net.Conn]struct{}),
		done:     make(chan struct{}),
		logger:   slog.Default().With("component", "rpc-server"),
	}
}

// Register adds a handler. Method names follow "Service.Method".
func (s *Server) Register(method string, h HandlerFunc) {
	s.mu.Lock()
	s.handlers[method] = h
	s.mu.Unlock()
	s.logger.Debug("method registered", "method", method)
}

func (s *Server) MethodCount() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.handlers)
}

// Serve listens on addr and blocks until Stop.
func (s *Server) Serve(addr string) error {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("listening on %s: %w", addr, err)
	}
	return s.ServeListener(ln)
}

// ServeListener accepts connections on ln until Stop.
func (s *Server) ServeListener(ln net.Listener) error {
	s.mu.Lock()
	s.listener = ln
	s.mu.Unlock()
	s.logger.Info("rpc server listening", "addr", ln.Addr().String())

	for {
		conn, err := ln.Accept()
		if err != nil {
			select {
			case <-s.done:
				return nil
			default:
			}
			var ne net.Error
			if errors.As(err, &ne) && ne.Timeout() {
				continue
			}
			return fmt.Errorf("accepting connection: %w", err)
		}
		s.mu.Lock()
		s.conns[conn] = struct{}{}
		s.mu.Unlock()
		s.wg.Add(1)
		go s.handleConn(conn)
	}
}

func (s *Server) handleConn(conn net.Conn) {
	defer s.wg.Done()
	defer func() {
		s.mu.Lock()
		delete(s.conns, conn)
		s.mu.Unlock()
		conn.Close()
	}()

	dec := json.NewDecoder(conn)
	enc := json.NewEncoder(conn)
	for {
		var req Request
		if err := dec.Decode(&req); err != nil {
			return
		}
		resp := s.dispatch(req)
		if err := enc.Encode(resp); err != nil {
			s.logger.Warn("write error", "method", req.Method, "error", err)
			return
		}
	}
}

func (s *Server) dispatch(req Request) Response {
	resp := Response{ID: req.ID}

	s.mu.RLock()
	h, ok := s.handlers[req.Method]
	s.mu.RUnlock()
	if !ok {
		resp.Error = fmt.Sprintf("unknown method: %s", req.Method)
		resp.Code = CodeUnknownMethod
		return resp
	}

	ctx := context.Background()
	if req.TimeoutMs > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, time.Duration(req.TimeoutMs)*time.Millisecond)
		defer cancel()
	}

	start := time.Now()
	data, err := h(ctx, req.Params)
	if err == nil {
		resp.Data, err = json.Marshal(data)
	}
	if err != nil {
		resp.Error = err.Error()
		resp.Code = codeOf(err)
	}
	s.logger.Debug("rpc handled",
		"method", req.Method,
		"id", req.ID,
		"code", resp.Code,
		"elapsed", time.Since(start),
	)
	return resp
}

func codeOf(err error) string {
	switch {
	case errors.Is(err, apperrors.ErrInvalidInput):
		return CodeInvalidInput
	case errors.Is(err, apperrors.ErrSessionNotFound):
		return CodeNotFound
	case errors.Is(err, apperrors.ErrTimeout), errors.Is(err, context.DeadlineExceeded):
		return CodeTimeout
	case errors.Is(err, apperrors.ErrUnavailable), errors.Is(err, apperrors.ErrCorpusUnavailable):
		return CodeUnavailable
	default:
		return CodeInternal
	}
}

// Addr returns the listening address, or nil before Serve.
func (s *Server) Addr() net.Addr {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.listener == nil {
		return nil
	}
	return s.listener.Addr()
}

// Stop closes the listener and open connections, then waits for handlers.
func (s *Server) Stop() {
	s.stopOnce.Do(func() {
		close(s.done)
		s.mu.Lock()
		if s.listener != nil {
			s.listener.Close()
		}
		for c := range s.conns {
			c.Close()
		}
		s.mu.Unlock()
		s.wg.Wait()
		s.logger.Info("rpc server stopped")
	})
}
