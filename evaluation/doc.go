// Package evaluation scores conversation turns after they complete.
//
// An Evaluator inspects one finished turn (the primary assistant reply, the
// anchor probe wave and the live history) and contributes named metrics. A
// Pipeline runs evaluators in order and merges their output into a single
// value map per turn, isolating failures so one broken evaluator never
// blocks the rest.
//
// The built-in evaluators are:
//   - Pushback: pattern-based resistance grading (0-3)
//   - JudgePushback: the same scale graded by a judge model
//   - AnchorDrift: polarity, token entropy and embedding distance of anchor
//     answers relative to the first answer seen
//   - ResponseClustering: agreement patterns across a probe wave
package evaluation
