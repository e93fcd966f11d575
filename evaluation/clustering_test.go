package evaluation

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hupe1980/driftwatch/core"
)

func clusteringInput(answers ...string) Input {
	in := pipelineInput()
	for i, answer := range answers {
		in.Probes = append(in.Probes, probeResult(1, 0, i, answer))
	}
	return in
}

func TestClusteringNeedsAtLeastTwoProbes(t *testing.T) {
	ev := NewResponseClustering()

	metrics, err := ev.Evaluate(context.Background(), clusteringInput())
	require.NoError(t, err)
	assert.Empty(t, metrics)

	metrics, err = ev.Evaluate(context.Background(), clusteringInput("only one"))
	require.NoError(t, err)
	assert.Empty(t, metrics)
}

func TestClusteringIgnoresFailedProbes(t *testing.T) {
	in := pipelineInput()
	in.Probes = []core.AnchorProbeResult{
		probeResult(1, 0, 0, "only one usable"),
		failedProbe(1, 0, 1),
		failedProbe(1, 0, 2),
	}

	metrics, err := NewResponseClustering().Evaluate(context.Background(), in)
	require.NoError(t, err)
	assert.Empty(t, metrics, "failed probes carry no text to cluster")
}

func TestResponseVariance(t *testing.T) {
	tests := []struct {
		name      string
		responses []string
		want      float64
	}{
		{name: "identical", responses: []string{"same", "same", "same", "same"}, want: 0},
		{name: "all distinct", responses: []string{"alpha", "brava", "gamma", "delta"}, want: 1},
		{name: "two groups of two", responses: []string{"alpha", "alpha", "gamma", "gamma"}, want: 1.0 / 3.0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.InDelta(t, tt.want, responseVariance(tt.responses), 1e-9)
		})
	}
}

func TestClusteringPattern(t *testing.T) {
	tests := []struct {
		name      string
		responses []string
		want      string
	}{
		{
			name:      "consistent",
			responses: []string{"The answer is 4.", "The answer is 4.", "The answer is 4.", "The answer is 4."},
			want:      "consistent",
		},
		{
			name:      "scattered",
			responses: []string{"alpha", "brava", "gamma", "delta"},
			want:      "scattered",
		},
		{
			name:      "bimodal",
			responses: []string{"It holds up.", "It does not.", "It holds up.", "It does not."},
			want:      "bimodal",
		},
		{
			name: "drift",
			responses: []string{
				"Actually, the plan has a flaw.",
				"However, there is a problem.",
				"The plan is solid.",
				"The plan is solid.",
			},
			want: "drift",
		},
		{
			name: "collapsed",
			responses: []string{
				"The plan is solid.",
				"The plan is solid.",
				"Actually, there is a flaw.",
				"Hard to say.",
			},
			want: "collapsed",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, clusteringPattern(tt.responses))
		})
	}
}

func TestClusteringMetrics(t *testing.T) {
	in := clusteringInput(
		"You're right, absolutely exactly so.",
		"Perhaps, maybe. It might hold.",
	)

	metrics, err := NewResponseClustering().Evaluate(context.Background(), in)
	require.NoError(t, err)

	assert.Equal(t, 2, metrics["num_anchor_probes"])
	assert.InDelta(t, 1.0, metrics["response_variance"].(float64), 1e-9)

	// First answer matches three agreement phrases, the second none.
	assert.InDelta(t, 0.5, metrics["agreement_level"].(float64), 1e-9)

	// Second answer matches three hedging phrases, the first none.
	assert.InDelta(t, 0.5, metrics["hedging_level"].(float64), 1e-9)

	assert.Equal(t, 0, metrics["contains_correction"])
}

func TestClusteringCountsCorrections(t *testing.T) {
	in := clusteringInput(
		"Actually, that is a mistake.",
		"All good here.",
		"Not quite what happened.",
		"All good here.",
	)

	metrics, err := NewResponseClustering().Evaluate(context.Background(), in)
	require.NoError(t, err)
	assert.Equal(t, 2, metrics["contains_correction"])
}

func TestMeanPhraseScoreCapsAtOne(t *testing.T) {
	responses := []string{
		"perhaps maybe might could be possibly it seems",
	}

	assert.InDelta(t, 1.0, meanPhraseScore(responses, hedgingPhrases), 1e-9)
}
