package sink

import (
	"sync"

	"github.com/hupe1980/driftwatch/core"
)

// Compile-time check.
var _ core.Sink = (*Memory)(nil)

// ProbeEntry pairs an anchor probe result with the conversation it was
// dispatched from.
type ProbeEntry struct {
	Context core.ProbeContext
	Probe   core.AnchorProbeResult
}

// Memory is a volatile sink that keeps every artifact in process-local
// slices. It is safe for concurrent use and is the sink of choice for
// tests and for library consumers that post-process records in code.
type Memory struct {
	mu          sync.RWMutex
	records     []core.MetricRecord
	probes      []ProbeEntry
	transcripts []*core.Transcript
}

// NewMemory creates an empty in-memory sink.
func NewMemory() *Memory {
	return &Memory{}
}

// WriteRecord stores a copy of the record.
func (s *Memory) WriteRecord(rec *core.MetricRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.records = append(s.records, *rec)
	return nil
}

// WriteProbe stores the probe result together with its context.
func (s *Memory) WriteProbe(pc core.ProbeContext, probe core.AnchorProbeResult) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.probes = append(s.probes, ProbeEntry{Context: pc, Probe: probe})
	return nil
}

// WriteTranscript stores the transcript.
func (s *Memory) WriteTranscript(t *core.Transcript) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.transcripts = append(s.transcripts, t)
	return nil
}

// Close is a no-op.
func (s *Memory) Close() error {
	return nil
}

// Records returns a copy of all stored records in write order.
func (s *Memory) Records() []core.MetricRecord {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]core.MetricRecord, len(s.records))
	copy(out, s.records)
	return out
}

// Probes returns a copy of all stored probe entries in write order.
func (s *Memory) Probes() []ProbeEntry {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]ProbeEntry, len(s.probes))
	copy(out, s.probes)
	return out
}

// Transcripts returns all stored transcripts in write order.
func (s *Memory) Transcripts() []*core.Transcript {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]*core.Transcript, len(s.transcripts))
	copy(out, s.transcripts)
	return out
}

// Transcript returns the stored transcript for a (scenario, model, branch)
// triple, or nil if none was written.
func (s *Memory) Transcript(scenario, model, branch string) *core.Transcript {
	s.mu.RLock()
	defer s.mu.RUnlock()

	for _, t := range s.transcripts {
		if t.Scenario == scenario && t.Model == model && t.Branch == branch {
			return t
		}
	}

	return nil
}
