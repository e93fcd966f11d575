// Package dispatch wraps every model call in the run-wide dispatch policy:
// budget admission, a per-call timeout and classified retry with exponential
// backoff.
//
// The Gate is the single funnel between the orchestration layers and a
// core.ChatDriver. Per attempt it admits against the budget controller
// (blocking for a concurrency slot), dispatches under a timeout, classifies
// the failure and releases the permit with the actual usage. Only transient
// classes (rate_limited, timeout, provider_error) are retried; budget
// rejections surface immediately and are never retried.
package dispatch
