package rpc

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"testing"
	"time"

	apperrors "github.com/Adithya-Monish-Kumar-K/bani-align/pkg/errors"
)

type echoReq struct {
	Text string `json:"text"`
}

type echoResp struct {
	Text  string `json:"text"`
	Count int    `json:"count"`
}

func startServer(t *testing.T) (*Server, string) {
	t.Helper()
	s := NewServer()
	s.Register("Test.Echo", func(ctx context.Context, raw json.RawMessage) (any, error) {
		var in echoReq
		if err := json.Unmarshal(raw, &in); err != nil {
			return nil, err
		}
		return &echoResp{Text: in.Text, Count: len(in.Text)}, nil
	})
	s.Register("Test.Invalid", func(ctx context.Context, raw json.RawMessage) (any, error) {
		return nil, fmt.Errorf("%w: bad section", apperrors.ErrInvalidInput)
	})
	s.Register("Test.Block", func(ctx context.Context, raw json.RawMessage) (any, error) {
		<-ctx.Done()
		return nil, ctx.Err()
	})

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	go s.ServeListener(ln)
	t.Cleanup(s.Stop)
	return s, ln.Addr().String()
}

func TestCallRoundTrip(t *testing.T) {
	s, addr := startServer(t)
	if s.MethodCount() != 3 {
		t.Fatalf("MethodCount = %d, want 3", s.MethodCount())
	}
	c := NewClient(addr, time.Second)
	defer c.Close()

	for i := 0; i < 3; i++ {
		var out echoResp
		if err := c.Call(context.Background(), "Test.Echo", &echoReq{Text: "ਨਾਨਕ"}, &out); err != nil {
			t.Fatalf("Call: %v", err)
		}
		if out.Text != "ਨਾਨਕ" || out.Count != len("ਨਾਨਕ") {
			t.Errorf("got %+v", out)
		}
	}
}

func TestRemoteErrors(t *testing.T) {
	_, addr := startServer(t)
	c := NewClient(addr, time.Second)
	defer c.Close()

	err := c.Call(context.Background(), "Test.Invalid", struct{}{}, nil)
	var remote *RemoteError
	if !errors.As(err, &remote) || remote.Code != CodeInvalidInput {
		t.Fatalf("expected invalid_input RemoteError, got %v", err)
	}
	if !errors.Is(err, apperrors.ErrInvalidInput) {
		t.Errorf("expected ErrInvalidInput, got %v", err)
	}

	err = c.Call(context.Background(), "Test.Missing", struct{}{}, nil)
	if !errors.As(err, &remote) || remote.Code != CodeUnknownMethod {
		t.Fatalf("expected unknown_method, got %v", err)
	}
}

func TestCallDeadlineThenRedial(t *testing.T) {
	_, addr := startServer(t)
	c := NewClient(addr, time.Second)
	defer c.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	err := c.Call(ctx, "Test.Block", struct{}{}, nil)
	if !errors.Is(err, apperrors.ErrTimeout) {
		t.Fatalf("expected ErrTimeout, got %v", err)
	}

	var out echoResp
	if err := c.Call(context.Background(), "Test.Echo", &echoReq{Text: "ok"}, &out); err != nil {
		t.Fatalf("call after timeout: %v", err)
	}
	if out.Text != "ok" {
		t.Errorf("got %+v", out)
	}
}

func TestDialUnavailable(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	addr := ln.Addr().String()
	ln.Close()

	_, err = Dial(context.Background(), addr, 200*time.Millisecond)
	if !errors.Is(err, apperrors.ErrUnavailable) {
		t.Fatalf("expected ErrUnavailable, got %v", err)
	}
}

func TestClosedClient(t *testing.T) {
	_, addr := startServer(t)
	c := NewClient(addr, time.Second)
	c.Close()
	if err := c.Call(context.Background(), "Test.Echo", &echoReq{}, nil); !errors.Is(err, apperrors.ErrUnavailable) {
		t.Fatalf("expected ErrUnavailable, got %v", err)
	}
}
