package sink

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/hupe1980/driftwatch/core"
)

// Compile-time check.
var _ core.Sink = (*JSONL)(nil)

// runDirLayout is the UTC timestamp format for run directory names.
const runDirLayout = "2006-01-02T15-04-05Z"

// NewRunDir creates a timestamped run directory under base, including the
// transcripts subdirectory, and returns its path:
//
//	<base>/<UTC timestamp>/
//	    transcripts/
func NewRunDir(base string) (string, error) {
	dir := filepath.Join(base, time.Now().UTC().Format(runDirLayout))

	if err := os.MkdirAll(filepath.Join(dir, "transcripts"), 0o755); err != nil {
		return "", fmt.Errorf("create run directory: %w", err)
	}

	return dir, nil
}

// JSONL appends run artifacts as JSON lines under a run directory:
//
//	<dir>/records.jsonl                                   one line per turn record
//	<dir>/probes.jsonl                                    one line per probe result
//	<dir>/transcripts/<scenario>_<model>_<branch>_<run>.jsonl
//
// Records and probes stream as they are produced; transcripts are written
// once per branch when the branch ends.
type JSONL struct {
	dir string

	mu      sync.Mutex
	records *os.File
	probes  *os.File
}

// NewJSONL opens a JSONL sink rooted at dir. The directory and its
// transcripts subdirectory are created if missing, so dir may come from
// NewRunDir or be any writable path.
func NewJSONL(dir string) (*JSONL, error) {
	if err := os.MkdirAll(filepath.Join(dir, "transcripts"), 0o755); err != nil {
		return nil, fmt.Errorf("create run directory: %w", err)
	}

	records, err := openAppend(filepath.Join(dir, "records.jsonl"))
	if err != nil {
		return nil, fmt.Errorf("open records log: %w", err)
	}

	probes, err := openAppend(filepath.Join(dir, "probes.jsonl"))
	if err != nil {
		_ = records.Close()
		return nil, fmt.Errorf("open probes log: %w", err)
	}

	return &JSONL{dir: dir, records: records, probes: probes}, nil
}

// Dir returns the run directory this sink writes into.
func (s *JSONL) Dir() string {
	return s.dir
}

// WriteRecord appends the record to records.jsonl.
func (s *JSONL) WriteRecord(rec *core.MetricRecord) error {
	return s.appendLine(s.records, rec)
}

// WriteProbe appends the probe result, tagged with its run coordinates, to
// probes.jsonl.
func (s *JSONL) WriteProbe(pc core.ProbeContext, probe core.AnchorProbeResult) error {
	entry := struct {
		core.ProbeContext
		Probe core.AnchorProbeResult `json:"probe"`
	}{ProbeContext: pc, Probe: probe}

	return s.appendLine(s.probes, entry)
}

// WriteTranscript appends the transcript as one JSON line to its branch
// file under transcripts/.
func (s *JSONL) WriteTranscript(t *core.Transcript) error {
	name := fmt.Sprintf("%s_%s_%s_%s.jsonl",
		sanitizeName(t.Scenario), sanitizeName(t.Model), sanitizeName(t.Branch), t.RunID)

	data, err := json.Marshal(t)
	if err != nil {
		return fmt.Errorf("marshal transcript: %w", err)
	}

	f, err := openAppend(filepath.Join(s.dir, "transcripts", name))
	if err != nil {
		return fmt.Errorf("open transcript: %w", err)
	}

	if _, err := f.Write(append(data, '\n')); err != nil {
		_ = f.Close()
		return fmt.Errorf("write transcript: %w", err)
	}

	return f.Close()
}

// Close closes the streaming log files. Transcript files are closed per
// write and need no teardown.
func (s *JSONL) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	recErr := s.records.Close()
	if probeErr := s.probes.Close(); probeErr != nil {
		return probeErr
	}

	return recErr
}

func (s *JSONL) appendLine(f *os.File, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("marshal: %w", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, err := f.Write(append(data, '\n')); err != nil {
		return fmt.Errorf("append line: %w", err)
	}

	return nil
}

func openAppend(path string) (*os.File, error) {
	return os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
}

// sanitizeName makes an identifier safe for use in a filename. Scenario
// names come from untrusted markdown frontmatter and model ids contain
// provider prefixes with slashes.
func sanitizeName(name string) string {
	return strings.Map(func(r rune) rune {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9':
			return r
		case r == '-' || r == '_' || r == '.':
			return r
		default:
			return '-'
		}
	}, name)
}
