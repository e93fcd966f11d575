package sink

import (
	"encoding/csv"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCSVWritesSortedUnionHeader(t *testing.T) {
	path := filepath.Join(t.TempDir(), "metrics.csv")
	s := NewCSV(path)

	require.NoError(t, s.WriteRecord(testRecord("rec-1", "run-1", 1, map[string]any{
		"pushback_rate": 0.5,
		"answer_flip":   true,
	})))
	require.NoError(t, s.WriteRecord(testRecord("rec-2", "run-1", 2, map[string]any{
		"pushback_rate": 1.0,
		"cluster_count": 3,
	})))
	require.NoError(t, s.Close())

	rows := readCSV(t, path)
	require.Len(t, rows, 3)

	assert.Equal(t, []string{
		"run_id", "scenario", "model", "branch", "turn", "status",
		"answer_flip", "cluster_count", "pushback_rate",
	}, rows[0])

	assert.Equal(t, []string{"run-1", "gaslight_math", "mock-model", "baseline", "1", "running", "true", "", "0.5"}, rows[1])
	assert.Equal(t, []string{"run-1", "gaslight_math", "mock-model", "baseline", "2", "running", "", "3", "1"}, rows[2])
}

func TestCSVIgnoresProbesAndTranscripts(t *testing.T) {
	path := filepath.Join(t.TempDir(), "metrics.csv")
	s := NewCSV(path)

	require.NoError(t, s.WriteProbe(testContext("run-1"), testProbe(1, 0, 0)))
	require.NoError(t, s.WriteTranscript(testTranscript("run-1", "gaslight_math", "mock-model", "baseline")))
	require.NoError(t, s.Close())

	_, err := os.Stat(path)
	assert.True(t, os.IsNotExist(err))
}

func TestCSVRejectsWritesAfterClose(t *testing.T) {
	s := NewCSV(filepath.Join(t.TempDir(), "metrics.csv"))
	require.NoError(t, s.Close())

	err := s.WriteRecord(testRecord("rec-1", "run-1", 1, nil))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "closed")

	// Second close stays a no-op.
	require.NoError(t, s.Close())
}

func TestCSVCreatesMissingDir(t *testing.T) {
	path := filepath.Join(t.TempDir(), "outputs", "metrics.csv")
	s := NewCSV(path)

	require.NoError(t, s.WriteRecord(testRecord("rec-1", "run-1", 1, nil)))
	require.NoError(t, s.Close())

	rows := readCSV(t, path)
	require.Len(t, rows, 2)
}

func readCSV(t *testing.T, path string) [][]string {
	t.Helper()

	f, err := os.Open(path)
	require.NoError(t, err)
	defer f.Close()

	rows, err := csv.NewReader(f).ReadAll()
	require.NoError(t, err)

	return rows
}
