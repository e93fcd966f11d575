package budget

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hupe1980/driftwatch/core"
)

func testTable() PriceTable {
	return PriceTable{
		"gpt-4o-mini": {InputPer1K: 0.15, OutputPer1K: 0.60},
	}
}

func TestController_AdmitReleaseRecordsSpend(t *testing.T) {
	c := New(Limits{MaxConcurrent: 2, BudgetUSD: 10}, func(o *Options) { o.Prices = testTable() })

	permit, err := c.Admit(context.Background(), "gpt-4o-mini", 100, 100)
	require.NoError(t, err)

	c.Release(permit, core.TokenUsage{InputTokens: 1000, OutputTokens: 1000, TotalTokens: 2000})

	assert.InDelta(t, 0.75, c.Spend(), 1e-9)
	assert.False(t, c.Exhausted())
}

func TestController_SpendIsMonotonic(t *testing.T) {
	c := New(Limits{MaxConcurrent: 4, BudgetUSD: 100}, func(o *Options) { o.Prices = testTable() })

	prev := 0.0
	for i := 0; i < 5; i++ {
		permit, err := c.Admit(context.Background(), "gpt-4o-mini", 10, 10)
		require.NoError(t, err)
		c.Release(permit, core.TokenUsage{InputTokens: 500, OutputTokens: 100})

		cur := c.Spend()
		assert.GreaterOrEqual(t, cur, prev)
		prev = cur
	}
}

func TestController_ExhaustionIsSticky(t *testing.T) {
	c := New(Limits{MaxConcurrent: 1, BudgetUSD: 0.10}, func(o *Options) { o.Prices = testTable() })

	permit, err := c.Admit(context.Background(), "gpt-4o-mini", 10, 10)
	require.NoError(t, err)
	// 1K input tokens cost 0.15 USD, crossing the 0.10 ceiling.
	c.Release(permit, core.TokenUsage{InputTokens: 1000})
	assert.True(t, c.Exhausted())

	// Every subsequent admission is rejected, even free ones.
	for i := 0; i < 3; i++ {
		_, err := c.Admit(context.Background(), "unpriced-model", 0, 0)
		require.Error(t, err)
		assert.True(t, core.IsBudgetExceeded(err))
	}
}

func TestController_OversizedEstimateLatches(t *testing.T) {
	c := New(Limits{MaxConcurrent: 2, BudgetUSD: 0.05}, func(o *Options) { o.Prices = testTable() })

	// 1K in / 1K out projects to 0.75 USD, far over the 0.05 ceiling.
	_, err := c.Admit(context.Background(), "gpt-4o-mini", 1000, 1000)
	require.Error(t, err)
	assert.True(t, core.IsBudgetExceeded(err))
	assert.True(t, c.Exhausted())
	assert.Zero(t, c.Spend())

	_, err = c.Admit(context.Background(), "unpriced-model", 0, 0)
	assert.True(t, core.IsBudgetExceeded(err))
}

func TestController_SlotsBlockUntilReleased(t *testing.T) {
	c := New(Limits{MaxConcurrent: 1})

	first, err := c.Admit(context.Background(), "m", 0, 0)
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	_, err = c.Admit(ctx, "m", 0, 0)
	require.ErrorIs(t, err, context.DeadlineExceeded)

	c.Release(first, core.TokenUsage{})

	second, err := c.Admit(context.Background(), "m", 0, 0)
	require.NoError(t, err)
	c.Release(second, core.TokenUsage{})
}

func TestController_ReleaseIsIdempotent(t *testing.T) {
	c := New(Limits{MaxConcurrent: 1, BudgetUSD: 10}, func(o *Options) { o.Prices = testTable() })

	permit, err := c.Admit(context.Background(), "gpt-4o-mini", 0, 0)
	require.NoError(t, err)

	usage := core.TokenUsage{InputTokens: 1000}
	c.Release(permit, usage)
	c.Release(permit, usage)

	assert.InDelta(t, 0.15, c.Spend(), 1e-9, "double release must not double-count spend")
}

func TestController_NoCeilingNeverExhausts(t *testing.T) {
	c := New(Limits{MaxConcurrent: 2}, func(o *Options) { o.Prices = testTable() })

	permit, err := c.Admit(context.Background(), "gpt-4o-mini", 1_000_000, 1_000_000)
	require.NoError(t, err)
	c.Release(permit, core.TokenUsage{InputTokens: 1_000_000})

	assert.False(t, c.Exhausted())
	assert.Greater(t, c.Spend(), 0.0)
}

func TestController_RateSmoothing(t *testing.T) {
	c := New(Limits{MaxConcurrent: 2, RequestsPerSecond: 1000})

	for i := 0; i < 3; i++ {
		permit, err := c.Admit(context.Background(), "m", 0, 0)
		require.NoError(t, err)
		c.Release(permit, core.TokenUsage{})
	}
}
