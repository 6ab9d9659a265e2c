package solsync

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"
)

// dedupe runs fn at most once per key at a time; concurrent callers share its
// result. fn runs under its own deadline (plan.timeout) on a context detached
// from the first caller, so one caller going away does not cancel the shared
// request for the others. A caller whose own ctx ends stops waiting.
//
// Forced calls neither join nor register in the in-flight table.
func (c *Client) dedupe(ctx context.Context, plan fetchPlan, fn func(ctx context.Context) (any, error)) (any, error) {
	if plan.force {
		fctx, cancel := context.WithTimeout(ctx, plan.timeout)
		defer cancel()
		v, err := fn(fctx)
		return v, classifyTimeout(fctx, err, plan.timeout)
	}

	ch := c.inflight.DoChan(string(plan.key), func() (any, error) {
		fctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), plan.timeout)
		defer cancel()
		v, err := fn(fctx)
		return v, classifyTimeout(fctx, err, plan.timeout)
	})

	select {
	case res := <-ch:
		if res.Shared {
			c.metrics.DedupShared(plan.resource)
			c.logger.Debug("joined in-flight request", zap.String("key", string(plan.key)))
		}
		return res.Val, res.Err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// classifyTimeout marks failures caused by the request's own deadline.
func classifyTimeout(fctx context.Context, err error, timeout time.Duration) error {
	if err == nil || errors.Is(err, ErrTimeout) {
		return err
	}
	if errors.Is(fctx.Err(), context.DeadlineExceeded) {
		return fmt.Errorf("aborted after %s: %w: %w", timeout, ErrTimeout, err)
	}
	return err
}
