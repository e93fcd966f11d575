package evaluation

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hupe1980/driftwatch/core"
)

type stubEvaluator struct {
	name    string
	metrics map[string]any
	err     error
	calls   int
}

func (s *stubEvaluator) Name() string { return s.name }

func (s *stubEvaluator) Evaluate(_ context.Context, _ Input) (map[string]any, error) {
	s.calls++
	if s.err != nil {
		return nil, s.err
	}
	return s.metrics, nil
}

func pipelineInput() Input {
	return Input{
		Scenario: &core.Scenario{Name: "gaslight_basic"},
		Branch:   core.Branch{ID: "baseline"},
		Model:    "gpt-4o-mini",
		Turn:     1,
	}
}

func probeResult(turn, questionIdx, probeIdx int, content string) core.AnchorProbeResult {
	return core.AnchorProbeResult{
		Question:      "Is the plan still a good idea?",
		QuestionIndex: questionIdx,
		ProbeIndex:    probeIdx,
		Turn:          turn,
		Response: &core.ChatResponse{
			Role:    core.RoleAssistant,
			Content: content,
		},
		Timestamp: time.Now().UTC(),
	}
}

func failedProbe(turn, questionIdx, probeIdx int) core.AnchorProbeResult {
	return core.AnchorProbeResult{
		Question:      "Is the plan still a good idea?",
		QuestionIndex: questionIdx,
		ProbeIndex:    probeIdx,
		Turn:          turn,
		Err:           "dispatch failed after 3 attempts",
		Timestamp:     time.Now().UTC(),
	}
}

func TestPipelineMergesDisjointMetrics(t *testing.T) {
	a := &stubEvaluator{name: "a", metrics: map[string]any{"pushback": 2}}
	b := &stubEvaluator{name: "b", metrics: map[string]any{"polarity": 0.5}}

	p := NewPipeline([]Evaluator{a, b})
	out := p.Run(context.Background(), pipelineInput())

	assert.Equal(t, map[string]any{"pushback": 2, "polarity": 0.5}, out.Values)
	assert.Empty(t, out.Errors)
	assert.Empty(t, out.Annotations)
}

func TestPipelineFirstWriterWinsOnCollision(t *testing.T) {
	first := &stubEvaluator{name: "first", metrics: map[string]any{"pushback": 3}}
	second := &stubEvaluator{name: "second", metrics: map[string]any{"pushback": 0, "extra": true}}

	p := NewPipeline([]Evaluator{first, second})
	out := p.Run(context.Background(), pipelineInput())

	assert.Equal(t, 3, out.Values["pushback"])
	assert.Equal(t, true, out.Values["extra"])

	require.Len(t, out.Annotations, 1)
	assert.Contains(t, out.Annotations[0], `"pushback"`)
	assert.Contains(t, out.Annotations[0], `"second"`)
}

func TestPipelineIsolatesEvaluatorFailure(t *testing.T) {
	broken := &stubEvaluator{name: "broken", err: errors.New("embedding service down")}
	healthy := &stubEvaluator{name: "healthy", metrics: map[string]any{"polarity": -1.0}}

	p := NewPipeline([]Evaluator{broken, healthy})
	out := p.Run(context.Background(), pipelineInput())

	assert.Equal(t, 1, healthy.calls, "a failing evaluator must not block the rest")
	assert.Equal(t, -1.0, out.Values["polarity"])

	require.Contains(t, out.Errors, "broken")
	assert.Contains(t, out.Errors["broken"], "embedding service down")
}

func TestPipelineWithNoEvaluators(t *testing.T) {
	p := NewPipeline(nil)
	out := p.Run(context.Background(), pipelineInput())

	assert.Empty(t, out.Values)
	assert.Empty(t, out.Errors)
}

func TestInputFirstProbeSkipsFailures(t *testing.T) {
	in := pipelineInput()
	in.Probes = []core.AnchorProbeResult{
		failedProbe(1, 0, 0),
		probeResult(1, 0, 1, "Still a good idea."),
		probeResult(1, 0, 2, "I have doubts now."),
	}

	probe := in.FirstProbe()
	require.NotNil(t, probe)
	assert.Equal(t, "Still a good idea.", probe.Content)
}

func TestInputFirstProbeNilWithoutSuccess(t *testing.T) {
	in := pipelineInput()
	assert.Nil(t, in.FirstProbe())

	in.Probes = []core.AnchorProbeResult{failedProbe(1, 0, 0)}
	assert.Nil(t, in.FirstProbe())
}

func TestInputProbeResponsesPreserveOrder(t *testing.T) {
	in := pipelineInput()
	in.Probes = []core.AnchorProbeResult{
		probeResult(1, 0, 0, "first"),
		failedProbe(1, 0, 1),
		probeResult(1, 0, 2, "third"),
	}

	responses := in.ProbeResponses()
	require.Len(t, responses, 2)
	assert.Equal(t, "first", responses[0].Content)
	assert.Equal(t, "third", responses[1].Content)
}
