package tracker

import (
	"context"
	"errors"
	"testing"
	"time"

	apperrors "github.com/Adithya-Monish-Kumar-K/bani-align/pkg/errors"
	"github.com/Adithya-Monish-Kumar-K/bani-align/pkg/proto"
	"github.com/Adithya-Monish-Kumar-K/bani-align/pkg/resilience"
)

type scriptedCaller struct {
	errs    []error
	resp    proto.SearchResponse
	calls   int
	methods []string
}

func (c *scriptedCaller) Call(ctx context.Context, method string, params, result any) error {
	c.calls++
	c.methods = append(c.methods, method)
	if len(c.errs) > 0 {
		err := c.errs[0]
		c.errs = c.errs[1:]
		if err != nil {
			return err
		}
	}
	if out, ok := result.(*proto.SearchResponse); ok {
		*out = c.resp
	}
	return nil
}

func TestRemoteSearcherRetriesTransportErrors(t *testing.T) {
	c := &scriptedCaller{
		errs: []error{apperrors.ErrUnavailable, apperrors.ErrUnavailable},
		resp: proto.SearchResponse{Found: true, Match: &proto.Match{SectionID: "japji-2", Score: 91}},
	}
	r := NewRemoteSearcher(c, time.Second, nil)

	m, err := r.SearchGlobal(context.Background(), "ਹੁਕਮੀ")
	if err != nil {
		t.Fatal(err)
	}
	if m == nil || m.SectionID != "japji-2" || c.calls != 3 {
		t.Fatalf("match=%+v calls=%d", m, c.calls)
	}
	if c.methods[0] != proto.MethodSearchGlobal {
		t.Errorf("method = %s", c.methods[0])
	}
}

func TestRemoteSearcherNotFound(t *testing.T) {
	c := &scriptedCaller{resp: proto.SearchResponse{Found: false}}
	r := NewRemoteSearcher(c, time.Second, nil)
	m, err := r.SearchSection(context.Background(), "japji-1", "ਕੁਝ")
	if err != nil || m != nil {
		t.Fatalf("m=%+v err=%v", m, err)
	}
	if c.methods[0] != proto.MethodSearchSection {
		t.Errorf("method = %s", c.methods[0])
	}
}

func TestRemoteSearcherDoesNotRetryBadRequests(t *testing.T) {
	var states []resilience.State
	c := &scriptedCaller{errs: []error{apperrors.ErrInvalidInput}}
	r := NewRemoteSearcher(c, time.Second, func(name string, s resilience.State) { states = append(states, s) })

	_, err := r.SearchSection(context.Background(), "nope", "ਕੁਝ")
	if !errors.Is(err, apperrors.ErrInvalidInput) || c.calls != 1 {
		t.Fatalf("err=%v calls=%d", err, c.calls)
	}
	if r.BreakerState() != resilience.StateClosed || len(states) != 0 {
		t.Errorf("bad request affected the breaker: %v", states)
	}
}

func TestRemoteSearcherOpensCircuit(t *testing.T) {
	errs := make([]error, 20)
	for i := range errs {
		errs[i] = apperrors.ErrUnavailable
	}
	c := &scriptedCaller{errs: errs}
	r := NewRemoteSearcher(c, time.Second, nil)
	r.retry.InitialDelay = time.Millisecond
	r.retry.MaxDelay = time.Millisecond

	for i := 0; i < 3; i++ {
		r.SearchGlobal(context.Background(), "ਕੁਝ")
	}
	if r.BreakerState() != resilience.StateOpen {
		t.Fatalf("breaker = %v, want open", r.BreakerState())
	}
	before := c.calls
	_, err := r.SearchGlobal(context.Background(), "ਕੁਝ")
	if !errors.Is(err, resilience.ErrCircuitOpen) || c.calls != before {
		t.Fatalf("err=%v calls %d -> %d", err, before, c.calls)
	}
}
