package runner

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/hupe1980/driftwatch/budget"
	"github.com/hupe1980/driftwatch/core"
	"github.com/hupe1980/driftwatch/dispatch"
	"github.com/hupe1980/driftwatch/evaluation"
	"github.com/hupe1980/driftwatch/logging"
)

// Generation holds the sampling parameters applied to every dispatch of a
// run. Primary turns and anchor probes use the same parameters so that
// probe answers are comparable to the live conversation.
type Generation struct {
	// Temperature is the sampling temperature passed to the driver.
	Temperature float64

	// MaxTokens caps the completion length of a single dispatch.
	MaxTokens int

	// Seed pins the provider-side sampling seed when non-zero. Providers
	// that do not support seeding ignore it.
	Seed int

	// Logprobs requests per-token log probabilities on responses.
	Logprobs bool

	// TopLogprobs sets how many alternatives are returned per token when
	// Logprobs is enabled.
	TopLogprobs int
}

// DefaultGeneration provides conservative defaults suitable for probing:
// moderate temperature, bounded completions, no logprobs.
var DefaultGeneration = Generation{
	Temperature: 0.7,
	MaxTokens:   1000,
	TopLogprobs: 5,
}

// BranchOutcome summarizes the terminal state of one (model, branch) pair.
type BranchOutcome struct {
	Model   string            `json:"model"`
	Branch  string            `json:"branch"`
	Status  core.BranchStatus `json:"status"`
	Turns   int               `json:"turns"`
	Records int               `json:"records"`

	// Err carries the terminal dispatch error for failed or budget-halted
	// branches, empty otherwise.
	Err string `json:"error,omitempty"`
}

// Summary aggregates a finished run: one outcome per (model, branch) pair
// plus the controller's accumulated spend at completion time.
type Summary struct {
	RunID    string          `json:"run_id"`
	Scenario string          `json:"scenario"`
	Outcomes []BranchOutcome `json:"outcomes"`
	Spend    float64         `json:"spend_usd"`
}

// Completed returns how many outcomes finished all scripted turns.
func (s *Summary) Completed() int {
	n := 0

	for _, o := range s.Outcomes {
		if o.Status == core.BranchCompleted {
			n++
		}
	}

	return n
}

// Options configures a Runner instance using the functional options pattern.
type Options struct {
	// Controller enforces spend and concurrency limits across the runner's
	// lifetime. Defaults to an unlimited controller.
	Controller *budget.Controller

	// Retry governs how transient dispatch failures are retried.
	// Defaults to dispatch.DefaultRetryPolicy().
	Retry dispatch.RetryPolicy

	// Timeout bounds a single dispatch attempt. Zero keeps the dispatch
	// gate's default.
	Timeout time.Duration

	// Evaluators compute per-turn metrics. Order matters: on a metric name
	// collision the earliest evaluator wins.
	Evaluators []evaluation.Evaluator

	// Sink persists records, probes and transcripts as they are produced.
	// Nil disables persistence; records still stream to the caller.
	Sink core.Sink

	// Observer receives lifecycle callbacks. Defaults to NoOpObserver.
	Observer Observer

	// Logger provides structured logging. Defaults to NoOp logger.
	Logger logging.Logger

	// RecordBufferSize sets the records channel buffer for Run.
	RecordBufferSize int

	// Generation holds the sampling parameters for all dispatches.
	Generation Generation

	// ProbesPerPoint overrides the scenario's probe count per anchor
	// question when greater than zero.
	ProbesPerPoint int
}

// Runner orchestrates drift probing runs. It expands a scenario into one
// executor per (model, branch) pair, runs them concurrently under a shared
// budget controller, and streams metric records back to the caller as
// branches progress.
//
// Branch failures stay local: a branch that fails or exhausts the budget
// finishes with a terminal outcome while its siblings keep running. The
// error channel returned by Run carries run-level failures only, such as
// cancellation of the caller's context.
//
// A Runner is safe for concurrent use. Drivers can be registered at any
// time, but registration should normally happen before the first run.
type Runner struct {
	controller *budget.Controller
	gate       *dispatch.Gate
	pipeline   *evaluation.Pipeline
	sink       core.Sink
	observer   Observer
	logger     logging.Logger

	gen            Generation
	probesPerPoint int
	recordBuffer   int

	drivers   map[string]core.ChatDriver
	driversMu sync.RWMutex

	activeRuns map[string]context.CancelFunc
	runsMu     sync.RWMutex

	summaries   map[string]*Summary
	summariesMu sync.RWMutex
}

// New creates a Runner with sensible defaults. Without options it runs
// unlimited (no spend ceiling), evaluates nothing, persists nothing and
// logs nowhere.
func New(optFns ...func(o *Options)) *Runner {
	opts := Options{
		Retry:            dispatch.DefaultRetryPolicy(),
		Observer:         NoOpObserver{},
		Logger:           logging.NoOpLogger{},
		RecordBufferSize: 64,
		Generation:       DefaultGeneration,
	}

	for _, fn := range optFns {
		fn(&opts)
	}

	if opts.Controller == nil {
		opts.Controller = budget.New(budget.Limits{})
	}

	gate := dispatch.New(opts.Controller, func(o *dispatch.Options) {
		o.Retry = opts.Retry
		o.Logger = opts.Logger

		if opts.Timeout > 0 {
			o.Timeout = opts.Timeout
		}

		if opts.Generation.MaxTokens > 0 {
			o.DefaultMaxTokens = opts.Generation.MaxTokens
		}
	})

	pipeline := evaluation.NewPipeline(opts.Evaluators, func(o *evaluation.PipelineOptions) {
		o.Logger = opts.Logger
	})

	return &Runner{
		controller:     opts.Controller,
		gate:           gate,
		pipeline:       pipeline,
		sink:           opts.Sink,
		observer:       opts.Observer,
		logger:         opts.Logger,
		gen:            opts.Generation,
		probesPerPoint: opts.ProbesPerPoint,
		recordBuffer:   opts.RecordBufferSize,
		drivers:        make(map[string]core.ChatDriver),
		activeRuns:     make(map[string]context.CancelFunc),
		summaries:      make(map[string]*Summary),
	}
}

// RegisterDriver makes a driver available under the given model name.
// Registering the same name again replaces the previous driver.
func (r *Runner) RegisterDriver(name string, drv core.ChatDriver) {
	r.driversMu.Lock()
	defer r.driversMu.Unlock()
	r.drivers[name] = drv
}

// Driver retrieves a registered driver by model name.
func (r *Runner) Driver(name string) (core.ChatDriver, bool) {
	r.driversMu.RLock()
	defer r.driversMu.RUnlock()
	drv, ok := r.drivers[name]

	return drv, ok
}

// Controller exposes the runner's budget controller, mainly so callers can
// inspect spend between runs.
func (r *Runner) Controller() *budget.Controller {
	return r.controller
}

// Run executes the scenario asynchronously across the given models and
// branches and returns channels for streaming results.
//
// A nil branches slice selects the scenario's own branches. Models and
// branches are deduplicated preserving first occurrence, so a pair runs at
// most once per run. Every model must have a registered driver; Run fails
// before starting any work otherwise.
//
// The records channel streams one MetricRecord per executed turn, across
// all pairs, in completion order. It is closed after every branch reached
// a terminal state. The error channel reports run-level failures and is
// closed together with the records channel; per-branch failures surface as
// outcomes in the summary instead.
func (r *Runner) Run(
	ctx context.Context,
	scenario *core.Scenario,
	models []string,
	branches []core.Branch,
) (string, <-chan core.MetricRecord, <-chan error, error) {
	if scenario == nil {
		return "", nil, nil, fmt.Errorf("scenario must not be nil")
	}

	if err := scenario.Validate(); err != nil {
		return "", nil, nil, fmt.Errorf("validate scenario %q: %w", scenario.Name, err)
	}

	if len(models) == 0 {
		return "", nil, nil, fmt.Errorf("at least one model is required")
	}

	models = dedupModels(models)

	if branches == nil {
		branches = scenario.Branches
	}

	branches = dedupBranches(branches)
	if len(branches) == 0 {
		return "", nil, nil, fmt.Errorf("at least one branch is required")
	}

	// Resolve all drivers up front so a missing registration fails the
	// run before any dispatch happens.
	drivers := make(map[string]core.ChatDriver, len(models))

	for _, model := range models {
		drv, ok := r.Driver(model)
		if !ok {
			return "", nil, nil, fmt.Errorf("no driver registered for model %q", model)
		}

		drivers[model] = drv
	}

	probesPerPoint := scenario.ProbesPerPoint
	if r.probesPerPoint > 0 {
		probesPerPoint = r.probesPerPoint
	}

	runID := uuid.NewString()

	recordsCh := make(chan core.MetricRecord, r.recordBuffer)
	errorsCh := make(chan error, 1)

	runCtx, cancel := context.WithCancel(ctx)

	r.runsMu.Lock()
	r.activeRuns[runID] = cancel
	r.runsMu.Unlock()

	r.observer.OnRunStarted(runID, scenario, models, branches)
	r.logger.Info("run started",
		"run_id", runID,
		"scenario", scenario.Name,
		"models", len(models),
		"branches", len(branches),
		"probes_per_point", probesPerPoint,
	)

	// One executor per (model, branch) pair. Outcomes land in a
	// preallocated slice; wg.Wait orders every write before the read in
	// the completion goroutine.
	outcomes := make([]BranchOutcome, len(models)*len(branches))

	var wg sync.WaitGroup

	idx := 0

	for _, model := range models {
		for _, branch := range branches {
			x := &branchExecutor{
				runID:          runID,
				scenario:       scenario,
				model:          model,
				branch:         branch,
				driver:         drivers[model],
				gate:           r.gate,
				pipeline:       r.pipeline,
				sink:           r.sink,
				observer:       r.observer,
				logger:         r.logger,
				gen:            r.gen,
				probesPerPoint: probesPerPoint,
				recordsCh:      recordsCh,
			}

			wg.Add(1)

			go func(i int, x *branchExecutor) {
				defer wg.Done()
				outcomes[i] = x.run(runCtx)
			}(idx, x)

			idx++
		}
	}

	go func() {
		wg.Wait()

		summary := &Summary{
			RunID:    runID,
			Scenario: scenario.Name,
			Outcomes: outcomes,
			Spend:    r.controller.Spend(),
		}

		// The summary must be retrievable before the records channel
		// closes so synchronous callers can drain, then look it up.
		r.summariesMu.Lock()
		r.summaries[runID] = summary
		r.summariesMu.Unlock()

		r.runsMu.Lock()
		delete(r.activeRuns, runID)
		r.runsMu.Unlock()
		cancel()

		if err := ctx.Err(); err != nil {
			errorsCh <- fmt.Errorf("run %s aborted: %w", runID, err)
		}

		r.logger.Info("run finished",
			"run_id", runID,
			"scenario", scenario.Name,
			"completed", summary.Completed(),
			"pairs", len(summary.Outcomes),
			"spend_usd", summary.Spend,
		)

		r.observer.OnRunCompleted(runID, summary)

		close(recordsCh)
		close(errorsCh)
	}()

	return runID, recordsCh, errorsCh, nil
}

// RunSync executes the scenario synchronously, collecting all streamed
// records, and returns them together with the run summary.
//
// On context cancellation it returns the records collected so far; the
// summary may be nil if the run had not finished by then.
func (r *Runner) RunSync(
	ctx context.Context,
	scenario *core.Scenario,
	models []string,
	branches []core.Branch,
) ([]core.MetricRecord, *Summary, error) {
	runID, recordsCh, errorsCh, err := r.Run(ctx, scenario, models, branches)
	if err != nil {
		return nil, nil, err
	}

	var records []core.MetricRecord

	for {
		select {
		case <-ctx.Done():
			summary, _ := r.Summary(runID)
			return records, summary, ctx.Err()

		case rec, ok := <-recordsCh:
			if !ok {
				summary, _ := r.Summary(runID)

				select {
				case err := <-errorsCh:
					return records, summary, err
				default:
					return records, summary, nil
				}
			}

			records = append(records, rec)

		case err := <-errorsCh:
			if err != nil {
				// The error lands just before the channels close;
				// drain the remaining buffered records first.
				for rec := range recordsCh {
					records = append(records, rec)
				}

				summary, _ := r.Summary(runID)

				return records, summary, err
			}
		}
	}
}

// Cancel stops a running run by ID. Branches terminate at their next
// dispatch or channel send; their partial outcomes still appear in the
// summary.
func (r *Runner) Cancel(runID string) error {
	r.runsMu.Lock()
	cancel, ok := r.activeRuns[runID]
	r.runsMu.Unlock()

	if !ok {
		return fmt.Errorf("run %s not found", runID)
	}

	cancel()
	r.logger.Info("run cancelled", "run_id", runID)

	return nil
}

// Summary retrieves the summary of a finished run. The boolean reports
// whether the run is known and finished; summaries are retained for the
// lifetime of the Runner.
func (r *Runner) Summary(runID string) (*Summary, bool) {
	r.summariesMu.RLock()
	defer r.summariesMu.RUnlock()
	s, ok := r.summaries[runID]

	return s, ok
}

func dedupModels(models []string) []string {
	seen := make(map[string]struct{}, len(models))
	out := make([]string, 0, len(models))

	for _, m := range models {
		if _, ok := seen[m]; ok {
			continue
		}

		seen[m] = struct{}{}

		out = append(out, m)
	}

	return out
}

func dedupBranches(branches []core.Branch) []core.Branch {
	seen := make(map[string]struct{}, len(branches))
	out := make([]core.Branch, 0, len(branches))

	for _, b := range branches {
		if _, ok := seen[b.ID]; ok {
			continue
		}

		seen[b.ID] = struct{}{}

		out = append(out, b)
	}

	return out
}
