package dispatch

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hupe1980/driftwatch/budget"
	"github.com/hupe1980/driftwatch/core"
)

// scriptDriver returns the scripted error for each call in order, then
// succeeds. It respects context cancellation while simulating latency.
type scriptDriver struct {
	mu      sync.Mutex
	calls   int
	errs    []error
	latency time.Duration
}

func (d *scriptDriver) Send(ctx context.Context, req core.ChatRequest) (*core.ChatResponse, error) {
	d.mu.Lock()
	idx := d.calls
	d.calls++
	d.mu.Unlock()

	if d.latency > 0 {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(d.latency):
		}
	}
	if idx < len(d.errs) && d.errs[idx] != nil {
		return nil, d.errs[idx]
	}
	return &core.ChatResponse{
		Role:    core.RoleAssistant,
		Content: "ok",
		Model:   req.Model,
		Usage:   core.TokenUsage{InputTokens: 100, OutputTokens: 50, TotalTokens: 150},
	}, nil
}

func (d *scriptDriver) EstimateTokens(core.History) int { return 10 }

func (d *scriptDriver) callCount() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.calls
}

func fastRetry(attempts int) RetryPolicy {
	return RetryPolicy{MaxAttempts: attempts, InitialDelay: time.Millisecond, MaxDelay: 10 * time.Millisecond, Factor: 2.0}
}

func rateLimited() error {
	return &core.DriverError{Class: core.ClassRateLimited, Provider: "test", Model: "m", Status: 429, Message: "slow down"}
}

func TestGate_SuccessReleasesActualUsage(t *testing.T) {
	ctrl := budget.New(budget.Limits{MaxConcurrent: 1, BudgetUSD: 10}, func(o *budget.Options) {
		o.Prices = budget.PriceTable{"m": {InputPer1K: 1.0, OutputPer1K: 1.0}}
	})
	gate := New(ctrl, func(o *Options) { o.Retry = fastRetry(3) })
	drv := &scriptDriver{}

	resp, err := gate.Send(context.Background(), drv, core.ChatRequest{Model: "m"})
	require.NoError(t, err)
	assert.Equal(t, "ok", resp.Content)
	assert.Equal(t, 1, drv.callCount())

	// 100 in + 50 out at 1 USD per 1K each.
	assert.InDelta(t, 0.15, ctrl.Spend(), 1e-9)
}

func TestGate_RetriesTransientThenSucceeds(t *testing.T) {
	ctrl := budget.New(budget.Limits{MaxConcurrent: 1})
	gate := New(ctrl, func(o *Options) { o.Retry = fastRetry(3) })
	drv := &scriptDriver{errs: []error{rateLimited(), rateLimited()}}

	resp, err := gate.Send(context.Background(), drv, core.ChatRequest{Model: "m"})
	require.NoError(t, err)
	assert.Equal(t, "ok", resp.Content)
	assert.Equal(t, 3, drv.callCount())
}

func TestGate_ExactlyMaxAttemptsOnPersistentFailure(t *testing.T) {
	ctrl := budget.New(budget.Limits{MaxConcurrent: 1})
	gate := New(ctrl, func(o *Options) { o.Retry = fastRetry(3) })
	drv := &scriptDriver{errs: []error{rateLimited(), rateLimited(), rateLimited(), rateLimited()}}

	_, err := gate.Send(context.Background(), drv, core.ChatRequest{Model: "m"})
	require.Error(t, err)
	assert.Equal(t, 3, drv.callCount(), "dispatches exactly MaxAttempts times")
	assert.Equal(t, core.ClassRateLimited, core.ClassOf(err))
	assert.Contains(t, err.Error(), "after 3 attempts")
}

func TestGate_BudgetRejectionIsNeverRetried(t *testing.T) {
	ctrl := budget.New(budget.Limits{MaxConcurrent: 1, BudgetUSD: 0.001}, func(o *budget.Options) {
		o.Prices = budget.PriceTable{"m": {InputPer1K: 1.0, OutputPer1K: 1.0}}
	})
	gate := New(ctrl, func(o *Options) { o.Retry = fastRetry(5) })
	drv := &scriptDriver{}

	_, err := gate.Send(context.Background(), drv, core.ChatRequest{Model: "m", MaxTokens: 1000})
	require.Error(t, err)
	assert.True(t, core.IsBudgetExceeded(err))
	assert.Equal(t, 0, drv.callCount(), "no dispatch once the ledger rejects")
}

func TestGate_NonRetryableErrorSurfacesImmediately(t *testing.T) {
	ctrl := budget.New(budget.Limits{MaxConcurrent: 1})
	gate := New(ctrl, func(o *Options) { o.Retry = fastRetry(5) })
	drv := &scriptDriver{errs: []error{context.Canceled}}

	_, err := gate.Send(context.Background(), drv, core.ChatRequest{Model: "m"})
	require.Error(t, err)
	assert.Equal(t, 1, drv.callCount())
}

func TestGate_TimeoutIsClassifiedAndRetried(t *testing.T) {
	ctrl := budget.New(budget.Limits{MaxConcurrent: 1})
	gate := New(ctrl, func(o *Options) {
		o.Retry = fastRetry(2)
		o.Timeout = 10 * time.Millisecond
	})
	drv := &scriptDriver{latency: 200 * time.Millisecond}

	_, err := gate.Send(context.Background(), drv, core.ChatRequest{Model: "m"})
	require.Error(t, err)
	assert.Equal(t, 2, drv.callCount())
	assert.Equal(t, core.ClassTimeout, core.ClassOf(err))
}

func TestGate_PermitReleasedOnFailure(t *testing.T) {
	ctrl := budget.New(budget.Limits{MaxConcurrent: 1})
	gate := New(ctrl, func(o *Options) { o.Retry = fastRetry(2) })
	drv := &scriptDriver{errs: []error{rateLimited(), rateLimited()}}

	_, err := gate.Send(context.Background(), drv, core.ChatRequest{Model: "m"})
	require.Error(t, err)

	// The slot must be free again; a fresh admit succeeds without blocking.
	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()
	permit, err := ctrl.Admit(ctx, "m", 0, 0)
	require.NoError(t, err)
	ctrl.Release(permit, core.TokenUsage{})
}

func TestGate_CancelDuringBackoffStopsRetrying(t *testing.T) {
	ctrl := budget.New(budget.Limits{MaxConcurrent: 1})
	gate := New(ctrl, func(o *Options) {
		o.Retry = RetryPolicy{MaxAttempts: 5, InitialDelay: 500 * time.Millisecond, Factor: 2.0}
	})
	drv := &scriptDriver{errs: []error{rateLimited(), rateLimited(), rateLimited(), rateLimited(), rateLimited()}}

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(20 * time.Millisecond)
		cancel()
	}()

	start := time.Now()
	_, err := gate.Send(ctx, drv, core.ChatRequest{Model: "m"})
	require.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, 1, drv.callCount())
	assert.Less(t, time.Since(start), 400*time.Millisecond, "cancellation should cut the backoff sleep short")
}
