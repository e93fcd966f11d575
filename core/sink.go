package core

import "time"

// ProbeContext situates a probe result within a run for persistence. Probe
// results themselves carry only turn-local coordinates.
type ProbeContext struct {
	RunID    string `json:"run_id"`
	Scenario string `json:"scenario"`
	Model    string `json:"model"`
	Branch   string `json:"branch"`
}

// Transcript is the full snapshot of one finished branch: the live history
// as the executor left it plus run provenance. Written once per branch.
type Transcript struct {
	RunID     string       `json:"run_id"`
	Scenario  string       `json:"scenario"`
	Model     string       `json:"model"`
	Branch    string       `json:"branch"`
	Status    BranchStatus `json:"status"`
	Messages  History      `json:"messages"`
	Turns     int          `json:"turns"`
	Records   int          `json:"records"`
	Usage     TokenUsage   `json:"usage"`
	StartedAt time.Time    `json:"started_at"`
	Timestamp time.Time    `json:"timestamp"`
}

// Sink receives run output as it is produced. Implementations must be safe
// for concurrent use; branch executors write from parallel goroutines.
//
// Write failures are reported to the caller but treated as non-fatal by the
// runner: losing a row never stops a conversation.
type Sink interface {
	// WriteRecord persists one turn record.
	WriteRecord(rec *MetricRecord) error

	// WriteProbe persists one probe result as it completes.
	WriteProbe(pc ProbeContext, probe AnchorProbeResult) error

	// WriteTranscript persists a branch snapshot after the branch ends.
	WriteTranscript(t *Transcript) error

	// Close flushes and releases underlying resources.
	Close() error
}
