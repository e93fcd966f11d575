// Package core provides the foundational domain types, interfaces and error
// taxonomy used by driftwatch. It defines the core abstractions for:
//
//   - Messages and Histories (ordered conversation transcripts)
//   - Scenarios, Branches and Turns (scripted conversation plans)
//   - ChatDriver (provider-agnostic model dispatch contract)
//   - MetricRecords and AnchorProbeResults (observation output)
//   - The error classes driving retry and halt decisions
//
// The package intentionally keeps implementation concerns (provider SDKs,
// budget accounting, orchestration, persistence) out of scope, exposing small
// types and interfaces so higher layers and custom backends stay decoupled.
// All exported identifiers include concise documentation to aid
// discoverability and external consumption.
package core
