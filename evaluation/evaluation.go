package evaluation

import (
	"context"
	"fmt"
	"sort"

	"github.com/hupe1980/driftwatch/core"
	"github.com/hupe1980/driftwatch/logging"
)

// Input carries everything an evaluator may inspect for one completed turn.
// All fields are read-only; evaluators must not mutate the history or the
// probe results.
type Input struct {
	// Scenario is the script being executed.
	Scenario *core.Scenario

	// Branch identifies the conversational arm this turn belongs to.
	Branch core.Branch

	// Model is the model identifier the branch runs against.
	Model string

	// Turn is the 1-based user-turn index.
	Turn int

	// Primary is the assistant reply to the scripted user turn. It is nil
	// when the primary dispatch failed.
	Primary *core.ChatResponse

	// Probes holds the anchor probe results of the turn in dispatch order,
	// including failed probes. Empty when the turn was not a probing point.
	Probes []core.AnchorProbeResult

	// History is the live transcript after the turn completed.
	History core.History
}

// FirstProbe returns the response of the first successful anchor probe of
// the turn, or nil when no probe succeeded. Evaluators treat this response
// as the turn's anchor answer.
func (in Input) FirstProbe() *core.ChatResponse {
	for _, p := range in.Probes {
		if p.OK() {
			return p.Response
		}
	}
	return nil
}

// ProbeResponses returns the successful probe responses in dispatch order.
func (in Input) ProbeResponses() []*core.ChatResponse {
	var responses []*core.ChatResponse
	for _, p := range in.Probes {
		if p.OK() {
			responses = append(responses, p.Response)
		}
	}
	return responses
}

// Evaluator scores one conversation turn. Implementations must be safe for
// concurrent use; branch executors run in parallel and share evaluator
// instances.
type Evaluator interface {
	// Name identifies the evaluator in error reports and collision notes.
	Name() string

	// Evaluate returns the evaluator's metrics for the turn. Returning an
	// error withholds all of the evaluator's metrics for this turn but never
	// affects the conversation itself.
	Evaluate(ctx context.Context, in Input) (map[string]any, error)
}

// TurnEvaluation is the merged outcome of running a pipeline over one turn.
type TurnEvaluation struct {
	// Values maps metric name to value across all contributing evaluators.
	Values map[string]any

	// Errors maps evaluator name to failure message for evaluators that
	// returned an error.
	Errors map[string]string

	// Annotations lists metric collisions that were resolved by keeping the
	// first writer's value.
	Annotations []string
}

// PipelineOptions configures a Pipeline.
type PipelineOptions struct {
	// Logger receives collision and failure notices.
	Logger logging.Logger
}

// Pipeline runs an ordered list of evaluators over completed turns and
// merges their metrics.
//
// Contract:
//   - evaluators run sequentially in registration order
//   - on a metric name collision the first writer wins; the loss is logged
//     and annotated on the turn
//   - an evaluator error withholds that evaluator's metrics and is recorded
//     under its name; the remaining evaluators still run.
type Pipeline struct {
	evaluators []Evaluator
	logger     logging.Logger
}

// NewPipeline creates a pipeline over the given evaluators.
func NewPipeline(evaluators []Evaluator, optFns ...func(o *PipelineOptions)) *Pipeline {
	opts := PipelineOptions{
		Logger: logging.NoOpLogger{},
	}

	for _, fn := range optFns {
		fn(&opts)
	}

	return &Pipeline{
		evaluators: evaluators,
		logger:     opts.Logger,
	}
}

// Run evaluates the turn with every evaluator and merges the results.
func (p *Pipeline) Run(ctx context.Context, in Input) TurnEvaluation {
	out := TurnEvaluation{
		Values: map[string]any{},
	}

	for _, ev := range p.evaluators {
		metrics, err := ev.Evaluate(ctx, in)
		if err != nil {
			if out.Errors == nil {
				out.Errors = map[string]string{}
			}

			out.Errors[ev.Name()] = err.Error()

			p.logger.Warn("evaluator failed",
				"evaluator", ev.Name(),
				"scenario", in.Scenario.Name,
				"branch", in.Branch.ID,
				"turn", in.Turn,
				"error", err,
			)

			continue
		}

		// Merge in sorted key order so collision notes are deterministic.
		keys := make([]string, 0, len(metrics))
		for k := range metrics {
			keys = append(keys, k)
		}

		sort.Strings(keys)

		for _, k := range keys {
			if _, taken := out.Values[k]; taken {
				note := fmt.Sprintf("metric %q from evaluator %q dropped: already set by an earlier evaluator", k, ev.Name())
				out.Annotations = append(out.Annotations, note)

				p.logger.Warn("metric collision",
					"metric", k,
					"evaluator", ev.Name(),
					"scenario", in.Scenario.Name,
					"branch", in.Branch.ID,
					"turn", in.Turn,
				)

				continue
			}

			out.Values[k] = metrics[k]
		}
	}

	return out
}
