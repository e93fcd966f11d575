// Package budget enforces the two admission constraints every dispatch must
// pass before generating load: a bounded concurrency slot pool and a
// cumulative monetary spend ceiling.
//
// The Controller hands out Permits. A dispatch acquires a permit (blocking
// until a slot frees, subject to context cancellation), performs its call,
// and releases the permit with the actual token usage so the ledger reflects
// real spend. Admission is rejected once the ceiling is reached or would be
// exceeded by the estimate; any rejection latches the exhausted state so
// admission never oscillates near the ceiling.
//
// Pricing is a per-model table in USD per 1K tokens. Models missing from the
// table cost zero, which keeps mocks and self-hosted models from ever
// blocking on budget.
package budget
