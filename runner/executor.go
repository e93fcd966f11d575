package runner

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/hupe1980/driftwatch/core"
	"github.com/hupe1980/driftwatch/dispatch"
	"github.com/hupe1980/driftwatch/evaluation"
	"github.com/hupe1980/driftwatch/logging"
)

// conversationState is the mutable state of one branch. It is owned
// exclusively by its executor; nothing else reads or writes it while the
// branch runs.
type conversationState struct {
	history core.History
	status  core.BranchStatus
	turn    int
	records int
	usage   core.TokenUsage
	started time.Time
	termErr string
}

// branchExecutor walks one (model, branch) pair through the scripted turns.
// Turns are strictly sequential; only the anchor probes of a single turn
// fan out concurrently, each on a derived disposable history.
type branchExecutor struct {
	runID    string
	scenario *core.Scenario
	model    string
	branch   core.Branch

	driver   core.ChatDriver
	gate     *dispatch.Gate
	pipeline *evaluation.Pipeline
	sink     core.Sink
	observer Observer
	logger   logging.Logger

	gen            Generation
	probesPerPoint int

	recordsCh chan<- core.MetricRecord

	state conversationState
}

// run drives the branch to a terminal state and returns its outcome.
func (x *branchExecutor) run(ctx context.Context) BranchOutcome {
	x.state.status = core.BranchRunning
	x.state.started = time.Now().UTC()

	x.observer.OnBranchStarted(x.runID, x.model, x.branch)
	x.logger.Debug("branch started", "model", x.model, "branch", x.branch.ID)

	if sys, ok := x.scenario.SystemPrompt(); ok {
		x.state.history = append(x.state.history, core.Message{Role: core.RoleSystem, Content: sys})
	}

	totalTurns := x.scenario.UserTurnCount()

	userTurn := 0
	for _, t := range x.scenario.Turns {
		if t.Role != core.RoleUser {
			// System turns are seeded above; assistant turns are
			// placeholders whose content the model generates.
			continue
		}

		userTurn++
		if userTurn > totalTurns {
			break
		}

		if !x.executeTurn(ctx, userTurn, totalTurns, t.Content) {
			break
		}
	}

	if !x.state.status.Terminal() {
		x.state.status = core.BranchCompleted
	}

	return x.finish()
}

// executeTurn runs one scripted user turn end to end. It returns false when
// the branch reached a terminal state and must stop advancing.
func (x *branchExecutor) executeTurn(ctx context.Context, turn, totalTurns int, content string) bool {
	x.state.history = append(x.state.history, core.Message{Role: core.RoleUser, Content: content})
	x.state.turn = turn

	primary, err := x.gate.Send(ctx, x.driver, x.request(x.state.history))
	if err != nil {
		x.terminate(ctx, turn, err)
		return false
	}

	x.state.history = append(x.state.history, core.Message{Role: core.RoleAssistant, Content: primary.Content})
	x.state.usage = x.state.usage.Add(primary.Usage)

	var (
		probes     []core.AnchorProbeResult
		probeUsage core.TokenUsage
		halted     bool
	)

	if x.isProbingPoint(turn) {
		probes, halted = x.probeWave(ctx, turn)

		for _, p := range probes {
			if p.Response != nil {
				probeUsage = probeUsage.Add(p.Response.Usage)
			}

			x.writeProbe(p)
		}

		x.state.usage = x.state.usage.Add(probeUsage)

		if x.branch.AppendsAnchorToHistory {
			x.foldAnchorAnswers(probes)
		}
	}

	// A probe hitting the budget ceiling halts the branch like any other
	// dispatch, but only after the wave completed and folded.
	if halted {
		x.state.status = core.BranchBudgetHalted
	} else if turn == totalTurns {
		x.state.status = core.BranchCompleted
	}

	turnEval := x.pipeline.Run(ctx, evaluation.Input{
		Scenario: x.scenario,
		Branch:   x.branch,
		Model:    x.model,
		Turn:     turn,
		Primary:  primary,
		Probes:   probes,
		History:  x.state.history,
	})

	rec := core.MetricRecord{
		ID:            uuid.NewString(),
		RunID:         x.runID,
		Scenario:      x.scenario.Name,
		Model:         x.model,
		Branch:        x.branch.ID,
		Turn:          turn,
		Status:        x.state.status,
		Values:        turnEval.Values,
		Errors:        turnEval.Errors,
		Annotations:   turnEval.Annotations,
		TokensPrimary: primary.Usage,
		TokensProbes:  probeUsage,
		Probes:        probes,
		Timestamp:     time.Now().UTC(),
	}

	if halted {
		rec.Annotations = append(rec.Annotations, "branch halted: budget exhausted during anchor probes")
	}

	x.emit(ctx, rec)

	return !halted
}

// terminate emits the terminal record for a failed primary dispatch.
func (x *branchExecutor) terminate(ctx context.Context, turn int, err error) {
	status := core.BranchFailed
	if core.IsBudgetExceeded(err) {
		status = core.BranchBudgetHalted
	}

	x.state.status = status
	x.state.termErr = err.Error()

	x.logger.Warn("branch terminated",
		"model", x.model,
		"branch", x.branch.ID,
		"turn", turn,
		"status", string(status),
		"error", err,
	)

	x.emit(ctx, core.MetricRecord{
		ID:          uuid.NewString(),
		RunID:       x.runID,
		Scenario:    x.scenario.Name,
		Model:       x.model,
		Branch:      x.branch.ID,
		Turn:        turn,
		Status:      status,
		Errors:      map[string]string{"dispatch": err.Error()},
		Annotations: []string{fmt.Sprintf("branch terminated: %s", err)},
		Timestamp:   time.Now().UTC(),
	})
}

func (x *branchExecutor) isProbingPoint(turn int) bool {
	return len(x.scenario.AnchorQuestions) > 0 &&
		x.probesPerPoint > 0 &&
		x.scenario.IsAnchorPoint(turn)
}

// probeWave dispatches probesPerPoint probes per anchor question, all
// concurrently, and returns the results ordered by (question, probe) index
// plus whether any probe hit the budget ceiling. Every probe builds its own
// derived history; the live transcript is never touched. Failures stay
// local to their probe.
func (x *branchExecutor) probeWave(ctx context.Context, turn int) ([]core.AnchorProbeResult, bool) {
	total := len(x.scenario.AnchorQuestions) * x.probesPerPoint
	results := make([]core.AnchorProbeResult, total)
	errs := make([]error, total)

	var wg sync.WaitGroup

	start := time.Now()

	for qi, question := range x.scenario.AnchorQuestions {
		for pi := 0; pi < x.probesPerPoint; pi++ {
			wg.Add(1)

			go func(qi, pi int, question string) {
				defer wg.Done()

				idx := qi*x.probesPerPoint + pi

				derived := x.state.history.WithAppended(core.Message{Role: core.RoleUser, Content: question})

				result := core.AnchorProbeResult{
					Question:      question,
					QuestionIndex: qi,
					ProbeIndex:    pi,
					Turn:          turn,
					Timestamp:     time.Now().UTC(),
				}

				resp, err := x.gate.Send(ctx, x.driver, x.request(derived))
				if err != nil {
					result.Err = err.Error()
					errs[idx] = err
				} else {
					result.Response = resp
				}

				results[idx] = result
			}(qi, pi, question)
		}
	}

	wg.Wait()

	halted := false
	failed := 0

	for _, err := range errs {
		if err == nil {
			continue
		}

		failed++

		if core.IsBudgetExceeded(err) {
			halted = true
		}
	}

	x.logger.Debug("probe wave finished",
		"model", x.model,
		"branch", x.branch.ID,
		"turn", turn,
		"probes", total,
		"failed", failed,
		"duration", time.Since(start),
	)

	return results, halted
}

// foldAnchorAnswers appends one (question, answer) pair per anchor question
// to the live history, taking the first successful probe of each question.
// Questions whose probes all failed fold nothing.
func (x *branchExecutor) foldAnchorAnswers(probes []core.AnchorProbeResult) {
	for qi, question := range x.scenario.AnchorQuestions {
		for pi := 0; pi < x.probesPerPoint; pi++ {
			r := probes[qi*x.probesPerPoint+pi]
			if !r.OK() {
				continue
			}

			x.state.history = append(x.state.history,
				core.Message{Role: core.RoleUser, Content: question},
				core.Message{Role: core.RoleAssistant, Content: r.Answer()},
			)

			break
		}
	}
}

func (x *branchExecutor) request(h core.History) core.ChatRequest {
	return core.ChatRequest{
		Model:        x.model,
		Messages:     h,
		Temperature:  x.gen.Temperature,
		MaxTokens:    x.gen.MaxTokens,
		Seed:         x.gen.Seed,
		WantLogprobs: x.gen.Logprobs,
		TopLogprobs:  x.gen.TopLogprobs,
	}
}

// emit hands one record to the sink and the records channel. Sink failures
// are logged and dropped; the channel send honors run cancellation.
func (x *branchExecutor) emit(ctx context.Context, rec core.MetricRecord) {
	x.state.records++

	if x.sink != nil {
		if err := x.sink.WriteRecord(&rec); err != nil {
			x.logger.Warn("sink rejected record", "record_id", rec.ID, "error", err)
		}
	}

	select {
	case <-ctx.Done():
	case x.recordsCh <- rec:
	}

	x.observer.OnTurnCompleted(x.runID, &rec)
}

func (x *branchExecutor) writeProbe(p core.AnchorProbeResult) {
	if x.sink == nil {
		return
	}

	pc := core.ProbeContext{
		RunID:    x.runID,
		Scenario: x.scenario.Name,
		Model:    x.model,
		Branch:   x.branch.ID,
	}

	if err := x.sink.WriteProbe(pc, p); err != nil {
		x.logger.Warn("sink rejected probe", "turn", p.Turn, "probe", p.ProbeIndex, "error", err)
	}
}

// finish snapshots the transcript, notifies the observer and returns the
// branch outcome.
func (x *branchExecutor) finish() BranchOutcome {
	outcome := BranchOutcome{
		Model:   x.model,
		Branch:  x.branch.ID,
		Status:  x.state.status,
		Turns:   x.state.turn,
		Records: x.state.records,
		Err:     x.state.termErr,
	}

	if x.sink != nil {
		t := &core.Transcript{
			RunID:     x.runID,
			Scenario:  x.scenario.Name,
			Model:     x.model,
			Branch:    x.branch.ID,
			Status:    x.state.status,
			Messages:  x.state.history.Clone(),
			Turns:     x.state.turn,
			Records:   x.state.records,
			Usage:     x.state.usage,
			StartedAt: x.state.started,
			Timestamp: time.Now().UTC(),
		}

		if err := x.sink.WriteTranscript(t); err != nil {
			x.logger.Warn("sink rejected transcript", "model", x.model, "branch", x.branch.ID, "error", err)
		}
	}

	x.logger.Info("branch finished",
		"model", x.model,
		"branch", x.branch.ID,
		"status", string(x.state.status),
		"turns", x.state.turn,
		"records", x.state.records,
		"tokens", x.state.usage.TotalTokens,
	)

	x.observer.OnBranchCompleted(x.runID, outcome)

	return outcome
}
