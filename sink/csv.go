package sink

import (
	"encoding/csv"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"sync"

	"github.com/hupe1980/driftwatch/core"
)

// Compile-time check.
var _ core.Sink = (*CSV)(nil)

// identityColumns lead every metrics.csv row, before the metric columns.
var identityColumns = []string{"run_id", "scenario", "model", "branch", "turn", "status"}

// CSV collects metric records and writes a single CSV file on Close: one
// row per turn, identity columns first, then the union of all metric keys
// in sorted order. The header depends on which evaluators ran, so the file
// cannot be streamed and is written in one pass at the end of the run.
//
// Probes and transcripts are not representable as flat rows and are
// ignored; pair this sink with JSONL or SQLite via Multi to keep them.
type CSV struct {
	path string

	mu      sync.Mutex
	records []core.MetricRecord
	closed  bool
}

// NewCSV creates a sink that will write the collected records to path.
func NewCSV(path string) *CSV {
	return &CSV{path: path}
}

// WriteRecord buffers a copy of the record.
func (s *CSV) WriteRecord(rec *core.MetricRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return fmt.Errorf("csv sink already closed")
	}

	s.records = append(s.records, *rec)
	return nil
}

// WriteProbe is a no-op; probe results do not appear in the CSV.
func (s *CSV) WriteProbe(core.ProbeContext, core.AnchorProbeResult) error {
	return nil
}

// WriteTranscript is a no-op; transcripts do not appear in the CSV.
func (s *CSV) WriteTranscript(*core.Transcript) error {
	return nil
}

// Close writes the CSV file. With no buffered records it writes nothing
// and leaves no file behind.
func (s *CSV) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return nil
	}
	s.closed = true

	if len(s.records) == 0 {
		return nil
	}

	if dir := filepath.Dir(s.path); dir != "" && dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create metrics directory: %w", err)
		}
	}

	f, err := os.Create(s.path)
	if err != nil {
		return fmt.Errorf("create metrics file: %w", err)
	}

	w := csv.NewWriter(f)
	keys := s.metricKeys()

	header := append(append([]string{}, identityColumns...), keys...)
	if err := w.Write(header); err != nil {
		_ = f.Close()
		return fmt.Errorf("write header: %w", err)
	}

	for i := range s.records {
		rec := &s.records[i]

		row := make([]string, 0, len(header))
		row = append(row,
			rec.RunID, rec.Scenario, rec.Model, rec.Branch,
			strconv.Itoa(rec.Turn), string(rec.Status))

		for _, key := range keys {
			v, ok := rec.Values[key]
			if !ok {
				row = append(row, "")
				continue
			}
			row = append(row, formatCell(v))
		}

		if err := w.Write(row); err != nil {
			_ = f.Close()
			return fmt.Errorf("write row: %w", err)
		}
	}

	w.Flush()
	if err := w.Error(); err != nil {
		_ = f.Close()
		return fmt.Errorf("flush metrics file: %w", err)
	}

	return f.Close()
}

// metricKeys returns the sorted union of value keys across all buffered
// records. Caller holds the lock.
func (s *CSV) metricKeys() []string {
	seen := make(map[string]struct{})

	for i := range s.records {
		for key := range s.records[i].Values {
			seen[key] = struct{}{}
		}
	}

	keys := make([]string, 0, len(seen))
	for key := range seen {
		keys = append(keys, key)
	}

	sort.Strings(keys)
	return keys
}

func formatCell(v any) string {
	switch val := v.(type) {
	case string:
		return val
	case bool:
		return strconv.FormatBool(val)
	case int:
		return strconv.Itoa(val)
	case int64:
		return strconv.FormatInt(val, 10)
	case float64:
		return strconv.FormatFloat(val, 'g', -1, 64)
	case float32:
		return strconv.FormatFloat(float64(val), 'g', -1, 32)
	default:
		return fmt.Sprint(val)
	}
}
