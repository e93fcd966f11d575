package sink

import (
	"errors"

	"github.com/hupe1980/driftwatch/core"
)

// Compile-time check.
var _ core.Sink = (*Multi)(nil)

// Multi fans every write out to all child sinks. A failing child never
// starves the others; errors are joined and returned after all children
// have been attempted.
type Multi struct {
	sinks []core.Sink
}

// NewMulti combines several sinks into one.
func NewMulti(sinks ...core.Sink) *Multi {
	return &Multi{sinks: sinks}
}

// WriteRecord writes the record to every child sink.
func (m *Multi) WriteRecord(rec *core.MetricRecord) error {
	var errs []error

	for _, s := range m.sinks {
		if err := s.WriteRecord(rec); err != nil {
			errs = append(errs, err)
		}
	}

	return errors.Join(errs...)
}

// WriteProbe writes the probe result to every child sink.
func (m *Multi) WriteProbe(pc core.ProbeContext, probe core.AnchorProbeResult) error {
	var errs []error

	for _, s := range m.sinks {
		if err := s.WriteProbe(pc, probe); err != nil {
			errs = append(errs, err)
		}
	}

	return errors.Join(errs...)
}

// WriteTranscript writes the transcript to every child sink.
func (m *Multi) WriteTranscript(t *core.Transcript) error {
	var errs []error

	for _, s := range m.sinks {
		if err := s.WriteTranscript(t); err != nil {
			errs = append(errs, err)
		}
	}

	return errors.Join(errs...)
}

// Close closes every child sink.
func (m *Multi) Close() error {
	var errs []error

	for _, s := range m.sinks {
		if err := s.Close(); err != nil {
			errs = append(errs, err)
		}
	}

	return errors.Join(errs...)
}
