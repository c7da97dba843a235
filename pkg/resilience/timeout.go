package resilience

import (
	"context"
	"fmt"
	"time"

	apperrors "github.com/Adithya-Monish-Kumar-K/bani-align/pkg/errors"
)

// WithTimeout runs fn under a context that expires after timeout. fn is
// expected to honour ctx; a late return is reported as ErrTimeout.
func WithTimeout(ctx context.Context, timeout time.Duration, name string, fn func(ctx context.Context) error) error {
	if timeout <= 0 {
		return fn(ctx)
	}
	tctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	done := make(chan error, 1)
	go func() { done <- fn(tctx) }()

	select {
	case err := <-done:
		return err
	case <-tctx.Done():
		if ctx.Err() != nil {
			return fmt.Errorf("%s: parent context done: %w", name, ctx.Err())
		}
		return fmt.Errorf("%w: %s exceeded %v", apperrors.ErrTimeout, name, timeout)
	}
}
