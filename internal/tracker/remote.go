package tracker

import (
	"context"
	"errors"
	"time"

	apperrors "github.com/Adithya-Monish-Kumar-K/bani-align/pkg/errors"
	"github.com/Adithya-Monish-Kumar-K/bani-align/pkg/proto"
	"github.com/Adithya-Monish-Kumar-K/bani-align/pkg/resilience"
)

// Caller is the RPC transport. *rpc.Client satisfies it.
type Caller interface {
	Call(ctx context.Context, method string, params, result any) error
}

// RemoteSearcher reaches the match service over RPC. Every call runs inside
// a circuit breaker and is retried on transport failures.
type RemoteSearcher struct {
	caller      Caller
	breaker     *resilience.CircuitBreaker
	retry       resilience.RetryConfig
	callTimeout time.Duration
}

// NewRemoteSearcher wraps caller. onState, if set, observes breaker
// transitions.
func NewRemoteSearcher(caller Caller, callTimeout time.Duration, onState func(name string, s resilience.State)) *RemoteSearcher {
	return &RemoteSearcher{
		caller: caller,
		breaker: resilience.NewCircuitBreaker("match-service", resilience.CircuitBreakerConfig{
			FailureThreshold: 5,
			ResetTimeout:     10 * time.Second,
			IsFailure:        isServerFault,
			OnStateChange:    onState,
		}),
		retry: resilience.RetryConfig{
			MaxAttempts:  3,
			InitialDelay: 50 * time.Millisecond,
			MaxDelay:     time.Second,
			Retryable:    retryable,
		},
		callTimeout: callTimeout,
	}
}

func (r *RemoteSearcher) SearchGlobal(ctx context.Context, query string) (*proto.Match, error) {
	return r.call(ctx, proto.MethodSearchGlobal, &proto.SearchGlobalRequest{Query: query})
}

func (r *RemoteSearcher) SearchSection(ctx context.Context, sectionID, query string) (*proto.Match, error) {
	return r.call(ctx, proto.MethodSearchSection, &proto.SearchSectionRequest{SectionID: sectionID, Query: query})
}

// Health asks the match service for its status.
func (r *RemoteSearcher) Health(ctx context.Context) error {
	return r.breaker.Execute(func() error {
		return resilience.WithTimeout(ctx, r.callTimeout, proto.MethodHealth, func(ctx context.Context) error {
			var resp proto.HealthCheckResponse
			return r.caller.Call(ctx, proto.MethodHealth, struct{}{}, &resp)
		})
	})
}

// BreakerState reports the circuit state for health output.
func (r *RemoteSearcher) BreakerState() resilience.State {
	return r.breaker.GetState()
}

func (r *RemoteSearcher) call(ctx context.Context, method string, req any) (*proto.Match, error) {
	var resp proto.SearchResponse
	err := resilience.Retry(ctx, method, r.retry, func(ctx context.Context) error {
		return r.breaker.Execute(func() error {
			if r.callTimeout > 0 {
				var cancel context.CancelFunc
				ctx, cancel = context.WithTimeout(ctx, r.callTimeout)
				defer cancel()
			}
			resp = proto.SearchResponse{}
			return r.caller.Call(ctx, method, req, &resp)
		})
	})
	if err != nil {
		return nil, err
	}
	if !resp.Found {
		return nil, nil
	}
	return resp.Match, nil
}

// Bad requests say nothing about the service's health.
func isServerFault(err error) bool {
	return !errors.Is(err, apperrors.ErrInvalidInput)
}

func retryable(err error) bool {
	return !errors.Is(err, apperrors.ErrInvalidInput) && !errors.Is(err, resilience.ErrCircuitOpen)
}
