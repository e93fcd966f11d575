// Package driver defines the provider-agnostic helpers shared by driftwatch
// chat drivers.
//
// Core goals:
//   - Keep dispatch provider-neutral: adapters implement core.ChatDriver and
//     translate to vendor SDKs at the edge
//   - Local token estimation for budget admission (tiktoken, no network I/O)
//   - Facilitate lightweight mocking for tests and examples (MockDriver)
//
// Providers (e.g. OpenAI, Anthropic) live in subpackages so higher layers
// (dispatch gate, runner) remain decoupled from vendor SDKs.
package driver
