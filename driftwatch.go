// Package driftwatch provides a high-level façade over the runner and its
// services (model drivers, budget control, evaluation & sinks) enabling rapid
// construction of conversation drift probes. Most applications interact with
// this package by:
//  1. Creating a Driftwatch via New() (optionally overriding default in-memory services)
//  2. Registering one or more model drivers (openai, anthropic, mock)
//  3. Loading scenarios and running them asynchronously (Run) or synchronously (RunSync)
//
// The façade delegates orchestration to runner.Runner while keeping setup and
// usage ergonomics concise. All defaults are safe for local development and
// testing; production deployments typically supply budget limits, a pricing
// table, a durable sink and a structured logger.
package driftwatch

import (
	"context"
	"time"

	"github.com/hupe1980/driftwatch/budget"
	"github.com/hupe1980/driftwatch/core"
	"github.com/hupe1980/driftwatch/dispatch"
	"github.com/hupe1980/driftwatch/evaluation"
	"github.com/hupe1980/driftwatch/logging"
	"github.com/hupe1980/driftwatch/runner"
	"github.com/hupe1980/driftwatch/scenario"
	"github.com/hupe1980/driftwatch/sink"
)

// Options configures the Driftwatch instance.
type Options struct {
	// Limits bound spend, concurrency and request rate across every run
	// started from this instance. The zero value means four concurrent
	// dispatches and no monetary ceiling.
	Limits budget.Limits

	// Pricing converts token usage into ledger spend. Models missing from
	// the table cost zero.
	Pricing budget.PriceTable

	// Retry governs redispatch of transient provider failures.
	Retry dispatch.RetryPolicy

	// Timeout bounds each model call. Zero disables the per-call deadline.
	Timeout time.Duration

	// Generation is sent with every primary and probe dispatch unless a
	// scenario overrides it.
	Generation runner.Generation

	// ProbesPerPoint overrides the per-scenario probe count when positive.
	ProbesPerPoint int

	// Evaluators compute per-turn metrics (defaults to DefaultEvaluators).
	Evaluators []evaluation.Evaluator

	// Sink receives records, probe results and transcripts (defaults to an
	// in-memory sink).
	Sink core.Sink

	// Observer receives run lifecycle callbacks.
	Observer runner.Observer

	// Logger (defaults to NoOp logger if nil)
	Logger logging.Logger
}

// Driftwatch is the high-level façade aggregating the runner and its services.
type Driftwatch struct {
	opts   Options
	runner *runner.Runner
}

// DefaultEvaluators returns fresh instances of the built-in evaluator suite:
// pushback grading, anchor drift and response clustering.
func DefaultEvaluators() []evaluation.Evaluator {
	return []evaluation.Evaluator{
		evaluation.NewPushback(),
		evaluation.NewAnchorDrift(),
		evaluation.NewResponseClustering(),
	}
}

// New creates a new Driftwatch instance with optional overrides. Any unset
// service is initialized with an in-memory implementation.
func New(optFns ...func(o *Options)) *Driftwatch {
	opts := Options{
		Retry:      dispatch.DefaultRetryPolicy(),
		Generation: runner.DefaultGeneration,
		Evaluators: DefaultEvaluators(),
		Sink:       sink.NewMemory(),
		Logger:     logging.NoOpLogger{},
	}

	for _, fn := range optFns {
		fn(&opts)
	}

	controller := budget.New(opts.Limits, func(o *budget.Options) {
		o.Prices = opts.Pricing
		o.Logger = opts.Logger
	})

	r := runner.New(func(o *runner.Options) {
		o.Controller = controller
		o.Retry = opts.Retry
		o.Timeout = opts.Timeout
		o.Generation = opts.Generation
		o.ProbesPerPoint = opts.ProbesPerPoint
		o.Evaluators = opts.Evaluators
		o.Sink = opts.Sink
		o.Observer = opts.Observer
		o.Logger = opts.Logger
	})

	return &Driftwatch{opts: opts, runner: r}
}

// RegisterDriver makes a chat driver available under a model name. Runs
// resolve each requested model against this registry.
func (d *Driftwatch) RegisterDriver(model string, drv core.ChatDriver) {
	d.runner.RegisterDriver(model, drv)
}

// LoadScenarios reads a single scenario file or every .md file in a
// directory. Malformed files in a directory are skipped with a warning.
func (d *Driftwatch) LoadScenarios(path string) ([]*core.Scenario, error) {
	loader := scenario.NewLoader(func(o *scenario.LoaderOptions) {
		o.Logger = d.opts.Logger
	})

	return loader.Load(path)
}

// Estimate projects the worst-case cost of running the scenarios against
// the models, priced with this instance's table.
func (d *Driftwatch) Estimate(scenarios []*core.Scenario, models []string) float64 {
	return budget.EstimateScenarios(scenarios, models, d.opts.Pricing)
}

// Spend returns the cumulative ledger spend across all runs so far.
func (d *Driftwatch) Spend() float64 {
	return d.runner.Controller().Spend()
}

// Run starts an asynchronous run returning the run ID plus record & error
// channels. Stateful evaluators are reset first, so runs sharing one
// Driftwatch must execute sequentially; use separate instances to run
// concurrently. Pass nil branches to use the scenario's own.
func (d *Driftwatch) Run(
	ctx context.Context,
	sc *core.Scenario,
	models []string,
	branches []core.Branch,
) (string, <-chan core.MetricRecord, <-chan error, error) {
	d.resetEvaluators()
	return d.runner.Run(ctx, sc, models, branches)
}

// RunSync is a synchronous helper that drains the record channel and
// returns the collected records together with the run summary.
func (d *Driftwatch) RunSync(
	ctx context.Context,
	sc *core.Scenario,
	models []string,
	branches []core.Branch,
) ([]core.MetricRecord, *runner.Summary, error) {
	d.resetEvaluators()
	return d.runner.RunSync(ctx, sc, models, branches)
}

// Cancel stops a running run by ID.
func (d *Driftwatch) Cancel(runID string) error {
	return d.runner.Cancel(runID)
}

// Summary returns the retained summary of a finished run.
func (d *Driftwatch) Summary(runID string) (*runner.Summary, bool) {
	return d.runner.Summary(runID)
}

// resettable is implemented by evaluators that cache state across turns of
// a run, such as anchor reference embeddings.
type resettable interface {
	Reset()
}

func (d *Driftwatch) resetEvaluators() {
	for _, e := range d.opts.Evaluators {
		if r, ok := e.(resettable); ok {
			r.Reset()
		}
	}
}
