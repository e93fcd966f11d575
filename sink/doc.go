// Package sink persists run artifacts: metric records, anchor probe
// results and branch transcripts.
//
// Implementations of core.Sink:
//   - Memory buffers everything in process, for tests and library use
//   - JSONL appends JSON lines under a run directory, transcripts split
//     per (scenario, model, branch)
//   - CSV collects records and writes one metrics.csv on Close
//   - SQLite persists into a queryable database
//   - Multi fans writes out to several sinks at once
//
// Sinks receive writes from concurrent branch executors and must be safe
// for concurrent use.
package sink
