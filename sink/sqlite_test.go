package sink

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hupe1980/driftwatch/core"
)

func newTestDB(t *testing.T) *SQLite {
	t.Helper()

	s, err := NewSQLite(filepath.Join(t.TempDir(), "nested", "driftwatch.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })

	return s
}

func TestSQLiteRoundTrip(t *testing.T) {
	s := newTestDB(t)

	rec := testRecord("rec-1", "run-1", 2, map[string]any{"pushback_rate": 0.5})
	rec.Probes = []core.AnchorProbeResult{testProbe(2, 0, 0)}

	require.NoError(t, s.WriteRecord(rec))
	require.NoError(t, s.WriteRecord(testRecord("rec-2", "run-1", 1, nil)))
	require.NoError(t, s.WriteProbe(testContext("run-1"), testProbe(2, 0, 0)))
	require.NoError(t, s.WriteProbe(testContext("run-1"), testProbe(2, 0, 1)))
	require.NoError(t, s.WriteTranscript(testTranscript("run-1", "gaslight_math", "mock-model", "baseline")))

	records, err := s.Records("run-1")
	require.NoError(t, err)
	require.Len(t, records, 2)

	// Ordered by turn within the branch, not by insert order.
	assert.Equal(t, "rec-2", records[0].ID)
	assert.Equal(t, "rec-1", records[1].ID)
	assert.Equal(t, 0.5, records[1].Values["pushback_rate"])
	require.Len(t, records[1].Probes, 1)
	assert.Equal(t, "Yes, the original answer stands.", records[1].Probes[0].Answer())

	probes, err := s.Probes("run-1")
	require.NoError(t, err)
	require.Len(t, probes, 2)
	assert.Equal(t, 0, probes[0].Probe.ProbeIndex)
	assert.Equal(t, 1, probes[1].Probe.ProbeIndex)
	assert.Equal(t, "gaslight_math", probes[0].Context.Scenario)

	transcripts, err := s.Transcripts("run-1")
	require.NoError(t, err)
	require.Len(t, transcripts, 1)
	assert.Equal(t, core.BranchCompleted, transcripts[0].Status)
	assert.Len(t, transcripts[0].Messages, 2)
}

func TestSQLiteUpsertsByKey(t *testing.T) {
	s := newTestDB(t)

	rec := testRecord("rec-1", "run-1", 1, nil)
	require.NoError(t, s.WriteRecord(rec))

	rec.Status = core.BranchCompleted
	require.NoError(t, s.WriteRecord(rec))

	records, err := s.Records("run-1")
	require.NoError(t, err)
	require.Len(t, records, 1)
	assert.Equal(t, core.BranchCompleted, records[0].Status)

	probe := testProbe(1, 0, 0)
	require.NoError(t, s.WriteProbe(testContext("run-1"), probe))

	probe.Err = "dispatch timed out"
	probe.Response = nil
	require.NoError(t, s.WriteProbe(testContext("run-1"), probe))

	probes, err := s.Probes("run-1")
	require.NoError(t, err)
	require.Len(t, probes, 1)
	assert.False(t, probes[0].Probe.OK())

	transcript := testTranscript("run-1", "gaslight_math", "mock-model", "baseline")
	require.NoError(t, s.WriteTranscript(transcript))

	transcript.Status = core.BranchBudgetHalted
	require.NoError(t, s.WriteTranscript(transcript))

	transcripts, err := s.Transcripts("run-1")
	require.NoError(t, err)
	require.Len(t, transcripts, 1)
	assert.Equal(t, core.BranchBudgetHalted, transcripts[0].Status)
}

func TestSQLiteIsolatesRuns(t *testing.T) {
	s := newTestDB(t)

	require.NoError(t, s.WriteRecord(testRecord("rec-1", "run-1", 1, nil)))
	require.NoError(t, s.WriteRecord(testRecord("rec-2", "run-2", 1, nil)))

	records, err := s.Records("run-2")
	require.NoError(t, err)
	require.Len(t, records, 1)
	assert.Equal(t, "rec-2", records[0].ID)

	runs, err := s.Runs()
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"run-1", "run-2"}, runs)
}

func TestSQLiteSurvivesReopen(t *testing.T) {
	path := filepath.Join(t.TempDir(), "driftwatch.db")

	s, err := NewSQLite(path)
	require.NoError(t, err)
	require.NoError(t, s.WriteRecord(testRecord("rec-1", "run-1", 1, nil)))
	require.NoError(t, s.Close())

	reopened, err := NewSQLite(path)
	require.NoError(t, err)
	defer reopened.Close()

	records, err := reopened.Records("run-1")
	require.NoError(t, err)
	require.Len(t, records, 1)
}
