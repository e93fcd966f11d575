package dispatch

import (
	"context"
	"fmt"
	"time"

	"github.com/hupe1980/driftwatch/budget"
	"github.com/hupe1980/driftwatch/core"
	"github.com/hupe1980/driftwatch/logging"
)

// Options configure a Gate.
type Options struct {
	// Retry bounds re-dispatch of transient failures.
	Retry RetryPolicy

	// Timeout applies per attempt; zero disables the attempt deadline.
	Timeout time.Duration

	// DefaultMaxTokens feeds the output-side admission estimate when a
	// request does not set MaxTokens.
	DefaultMaxTokens int

	Logger logging.Logger
}

// Gate is the single funnel for model dispatches. Every Send admits against
// the budget controller, runs under the per-call timeout and retries only
// transient failure classes.
//
// Contract:
//   - the admission permit is released on every path, with real usage on
//     success and zero usage on failure
//   - budget rejections are fatal and surface unretried
//   - after MaxAttempts the last error surfaces.
type Gate struct {
	controller *budget.Controller
	opts       Options
}

// New creates a Gate over the given budget controller.
func New(controller *budget.Controller, optFns ...func(o *Options)) *Gate {
	opts := Options{
		Retry:            DefaultRetryPolicy(),
		Timeout:          30 * time.Second,
		DefaultMaxTokens: 500,
		Logger:           logging.NoOpLogger{},
	}
	for _, fn := range optFns {
		fn(&opts)
	}
	if opts.Retry.MaxAttempts < 1 {
		opts.Retry.MaxAttempts = 1
	}
	return &Gate{controller: controller, opts: opts}
}

// Send dispatches req through drv under the gate's admission, timeout and
// retry policy and returns the complete response.
func (g *Gate) Send(ctx context.Context, drv core.ChatDriver, req core.ChatRequest) (*core.ChatResponse, error) {
	estIn := drv.EstimateTokens(req.Messages)
	estOut := req.MaxTokens
	if estOut <= 0 {
		estOut = g.opts.DefaultMaxTokens
	}

	var lastErr error
	for attempt := 1; attempt <= g.opts.Retry.MaxAttempts; attempt++ {
		resp, err := g.dispatchOnce(ctx, drv, req, estIn, estOut)
		if err == nil {
			return resp, nil
		}
		lastErr = err

		if core.IsBudgetExceeded(err) {
			// Fatal: the ledger will not recover within this run.
			return nil, err
		}
		if !core.IsRetryable(err) {
			return nil, err
		}
		if attempt == g.opts.Retry.MaxAttempts {
			break
		}

		delay := Backoff(g.opts.Retry, attempt)
		g.opts.Logger.Debug("Retrying dispatch", "model", req.Model, "attempt", attempt, "class", string(core.ClassOf(err)), "delay", delay)
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(delay):
		}
	}

	return nil, fmt.Errorf("dispatch failed after %d attempts: %w", g.opts.Retry.MaxAttempts, lastErr)
}

// dispatchOnce performs one admitted, timed dispatch. The permit is always
// released before returning.
func (g *Gate) dispatchOnce(ctx context.Context, drv core.ChatDriver, req core.ChatRequest, estIn, estOut int) (*core.ChatResponse, error) {
	permit, err := g.controller.Admit(ctx, req.Model, estIn, estOut)
	if err != nil {
		return nil, err
	}

	callCtx := ctx
	if g.opts.Timeout > 0 {
		var cancel context.CancelFunc
		callCtx, cancel = context.WithTimeout(ctx, g.opts.Timeout)
		defer cancel()
	}

	start := time.Now()
	resp, err := drv.Send(callCtx, req)
	if err != nil {
		g.controller.Release(permit, core.TokenUsage{})
		if callCtx.Err() == context.DeadlineExceeded && ctx.Err() == nil {
			err = &core.DriverError{
				Class:   core.ClassTimeout,
				Model:   req.Model,
				Message: fmt.Sprintf("dispatch timed out after %s", g.opts.Timeout),
				Cause:   err,
			}
		}
		g.opts.Logger.Warn("Dispatch failed", "model", req.Model, "class", string(core.ClassOf(err)), "duration", time.Since(start), "error", err)
		return nil, err
	}

	g.controller.Release(permit, resp.Usage)
	g.opts.Logger.Debug("Dispatch completed", "model", req.Model, "duration", time.Since(start), "total_tokens", resp.Usage.TotalTokens)
	return resp, nil
}
