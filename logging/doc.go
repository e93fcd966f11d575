// Package logging provides a minimal logging interface and adapters for driftwatch.
//
// The Logger interface defines the standard logging methods (Debug, Info, Warn, Error)
// that the runner, dispatch gate and drivers use for observability. This package includes:
//
//   - Logger interface for dependency injection
//   - SlogAdapter wrapping Go's structured logging
//   - NoOpLogger for silent operation (testing, minimal setups)
//   - DriftwatchLogger with run/scenario context and domain helpers
//
// Usage:
//
//	logger := logging.NewSlogLogger(logging.LogLevelInfo, "json", false)
//	r := runner.New(gate, runner.WithLogger(logger))
//
// The design intentionally keeps the interface minimal to avoid vendor lock-in
// while supporting structured logging where available.
package logging
