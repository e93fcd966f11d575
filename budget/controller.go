package budget

import (
	"context"
	"fmt"
	"sync"

	"golang.org/x/sync/semaphore"
	"golang.org/x/time/rate"

	"github.com/hupe1980/driftwatch/core"
	"github.com/hupe1980/driftwatch/logging"
)

// Limits bounds the load a run may generate.
type Limits struct {
	// MaxConcurrent is the number of dispatches allowed in flight at once.
	// Zero or negative falls back to 4.
	MaxConcurrent int

	// BudgetUSD is the cumulative spend ceiling. Zero or negative means no
	// monetary ceiling.
	BudgetUSD float64

	// RequestsPerSecond smooths admission when positive.
	RequestsPerSecond float64
}

// Options configure optional collaborators of a Controller.
type Options struct {
	Prices PriceTable
	Logger logging.Logger
}

// Controller meters dispatch admission: concurrency slots plus a monetary
// ledger. All methods are safe for concurrent use.
//
// Contract:
//   - Admit blocks until a slot frees or ctx is done
//   - Admit rejects with BudgetExceededError when the ledger is exhausted or
//     the estimate would cross the ceiling; any rejection latches exhaustion
//   - Release must be called exactly once per admitted permit, on success and
//     failure paths alike; it returns the slot and records actual spend
//   - Spend never decreases.
type Controller struct {
	limits  Limits
	prices  PriceTable
	logger  logging.Logger
	slots   *semaphore.Weighted
	limiter *rate.Limiter

	mu        sync.Mutex
	spend     float64
	exhausted bool
}

// Permit is the proof of admission for one dispatch.
type Permit struct {
	model    string
	released bool
}

// New creates a Controller for the given limits.
func New(limits Limits, optFns ...func(o *Options)) *Controller {
	opts := Options{
		Prices: PriceTable{},
		Logger: logging.NoOpLogger{},
	}
	for _, fn := range optFns {
		fn(&opts)
	}

	if limits.MaxConcurrent <= 0 {
		limits.MaxConcurrent = 4
	}

	c := &Controller{
		limits: limits,
		prices: opts.Prices,
		logger: opts.Logger,
		slots:  semaphore.NewWeighted(int64(limits.MaxConcurrent)),
	}
	if limits.RequestsPerSecond > 0 {
		c.limiter = rate.NewLimiter(rate.Limit(limits.RequestsPerSecond), 1)
	}
	return c
}

// Admit blocks until a concurrency slot is available, verifies the estimated
// cost fits under the ceiling and returns a Permit. The estimate uses the
// price table; models missing from it are free and only contend for slots.
func (c *Controller) Admit(ctx context.Context, model string, estTokensIn, estTokensOut int) (*Permit, error) {
	if err := c.checkBudget(model, estTokensIn, estTokensOut); err != nil {
		return nil, err
	}

	if err := c.slots.Acquire(ctx, 1); err != nil {
		return nil, fmt.Errorf("acquire slot: %w", err)
	}

	// The ledger may have latched while this dispatch waited for a slot.
	if err := c.checkBudget(model, estTokensIn, estTokensOut); err != nil {
		c.slots.Release(1)
		return nil, err
	}

	if c.limiter != nil {
		if err := c.limiter.Wait(ctx); err != nil {
			c.slots.Release(1)
			return nil, fmt.Errorf("rate wait: %w", err)
		}
	}

	return &Permit{model: model}, nil
}

// Release returns the permit's slot and records the actual cost of the
// dispatch. Safe to call with zero usage on failure paths. Calling Release
// more than once for the same permit is a no-op.
func (c *Controller) Release(permit *Permit, usage core.TokenUsage) {
	if permit == nil {
		return
	}

	c.mu.Lock()
	if permit.released {
		c.mu.Unlock()
		return
	}
	permit.released = true

	cost := c.prices.Cost(permit.model, usage)
	c.spend += cost
	if c.limits.BudgetUSD > 0 && c.spend >= c.limits.BudgetUSD && !c.exhausted {
		c.exhausted = true
		c.logger.Warn("Budget exhausted", "spend", c.spend, "ceiling", c.limits.BudgetUSD)
	}
	c.mu.Unlock()

	c.slots.Release(1)

	if cost > 0 {
		c.logger.Debug("Dispatch cost recorded", "model", permit.model, "cost", cost, "total_tokens", usage.TotalTokens)
	}
}

// Spend returns the cumulative recorded spend in USD.
func (c *Controller) Spend() float64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.spend
}

// Exhausted reports whether the ceiling blocks further admission.
func (c *Controller) Exhausted() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.exhausted
}

// checkBudget rejects and latches when the ledger cannot cover the estimate.
func (c *Controller) checkBudget(model string, estTokensIn, estTokensOut int) error {
	if c.limits.BudgetUSD <= 0 {
		return nil
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if c.exhausted {
		return &core.BudgetExceededError{Spend: c.spend, Ceiling: c.limits.BudgetUSD}
	}
	estimate := c.prices.Estimate(model, estTokensIn, estTokensOut)
	if c.spend+estimate > c.limits.BudgetUSD {
		c.exhausted = true
		c.logger.Warn("Budget admission rejected", "model", model, "spend", c.spend, "estimate", estimate, "ceiling", c.limits.BudgetUSD)
		return &core.BudgetExceededError{Spend: c.spend, Ceiling: c.limits.BudgetUSD}
	}
	return nil
}
