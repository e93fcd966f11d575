// Package runner implements the orchestration layer of driftwatch.
//
// The Runner takes a validated scenario, a set of models and a set of
// branches, and drives one branch executor per (model, branch) pair. Each
// executor owns its conversation history exclusively and walks the scripted
// turns sequentially: user turn in, primary reply out, anchor probe wave on
// derived histories, evaluator pipeline, metric record out. Executors run
// concurrently, bounded only by the shared budget controller's admission
// slots; one failing pair never cancels its siblings.
//
// Results stream to the caller as they are emitted:
//   - MetricRecords per turn over the records channel
//   - probe results and branch transcripts to the configured Sink
//   - lifecycle callbacks to the configured Observer
//
// Use Run for streaming consumption, RunSync for collect-everything runs,
// and Cancel to abort a run in flight.
package runner
