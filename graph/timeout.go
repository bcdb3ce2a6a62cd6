package graph

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// ErrCallTimeout indicates a single external call exceeded its own deadline
// while the request itself was still live.
var ErrCallTimeout = errors.New("external call exceeded its deadline")

// callWithTimeout runs fn under a per-call deadline derived from ctx.
//
// A zero timeout runs fn directly. When the per-call deadline fires but the
// parent context is still live, the returned error wraps ErrCallTimeout so
// callers can treat it as transient.
func callWithTimeout(ctx context.Context, timeout time.Duration, fn func(ctx context.Context) error) error {
	if timeout <= 0 {
		return fn(ctx)
	}

	callCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	err := fn(callCtx)
	if err != nil && ctx.Err() == nil && errors.Is(callCtx.Err(), context.DeadlineExceeded) {
		return fmt.Errorf("%w after %v: %w", ErrCallTimeout, timeout, err)
	}
	return err
}
