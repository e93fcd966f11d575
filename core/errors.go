package core

import (
	"context"
	"errors"
	"fmt"
	"strings"
)

// Class buckets an error for retry and halt decisions.
type Class string

// Error classes. The first three are transient and eligible for retry;
// budget_exceeded and malformed_scenario are fatal to their branch or run;
// evaluator_failure never aborts a turn.
const (
	ClassRateLimited       Class = "rate_limited"
	ClassTimeout           Class = "timeout"
	ClassProviderError     Class = "provider_error"
	ClassBudgetExceeded    Class = "budget_exceeded"
	ClassEvaluatorFailure  Class = "evaluator_failure"
	ClassMalformedScenario Class = "malformed_scenario"
	ClassUnknown           Class = "unknown"
)

// Retryable reports whether dispatches failing with this class may be
// attempted again.
func (c Class) Retryable() bool {
	switch c {
	case ClassRateLimited, ClassTimeout, ClassProviderError:
		return true
	}
	return false
}

// DriverError describes a failed provider dispatch. Adapters classify the
// vendor error into a Class so the dispatch gate can decide on retry without
// inspecting SDK types.
type DriverError struct {
	Class    Class
	Provider string
	Model    string
	Status   int
	Message  string
	Cause    error
}

// Error implements the error interface.
func (e *DriverError) Error() string {
	msg := e.Message
	if msg == "" && e.Cause != nil {
		msg = e.Cause.Error()
	}
	if e.Status > 0 {
		return fmt.Sprintf("%s: %s %s dispatch failed (status %d): %s", e.Class, e.Provider, e.Model, e.Status, msg)
	}
	return fmt.Sprintf("%s: %s %s dispatch failed: %s", e.Class, e.Provider, e.Model, msg)
}

// Unwrap returns the underlying vendor error.
func (e *DriverError) Unwrap() error { return e.Cause }

// BudgetExceededError signals that the monetary ceiling blocks further
// dispatches. It is fatal: callers halt rather than retry.
type BudgetExceededError struct {
	Spend   float64
	Ceiling float64
}

// Error implements the error interface.
func (e *BudgetExceededError) Error() string {
	return fmt.Sprintf("budget exceeded: spent $%.4f of $%.4f ceiling", e.Spend, e.Ceiling)
}

// MalformedScenarioError reports every structural problem found in a
// scenario. Detected before any dispatch, so no spend occurs.
type MalformedScenarioError struct {
	Name     string
	Problems []string
}

// Error implements the error interface.
func (e *MalformedScenarioError) Error() string {
	name := e.Name
	if name == "" {
		name = "(unnamed)"
	}
	return fmt.Sprintf("malformed scenario %s: %s", name, strings.Join(e.Problems, "; "))
}

// EvaluatorError marks a scoring failure. The turn proceeds; the failure is
// recorded on the metric record instead of the metric value.
type EvaluatorError struct {
	Evaluator string
	Cause     error
}

// Error implements the error interface.
func (e *EvaluatorError) Error() string {
	return fmt.Sprintf("evaluator %s failed: %v", e.Evaluator, e.Cause)
}

// Unwrap returns the underlying failure.
func (e *EvaluatorError) Unwrap() error { return e.Cause }

// ClassOf classifies err. Unrecognized errors classify as provider errors so
// transient provider hiccups stay retryable; cancellation is never retried.
func ClassOf(err error) Class {
	if err == nil {
		return ClassUnknown
	}
	var de *DriverError
	if errors.As(err, &de) {
		return de.Class
	}
	var be *BudgetExceededError
	if errors.As(err, &be) {
		return ClassBudgetExceeded
	}
	var me *MalformedScenarioError
	if errors.As(err, &me) {
		return ClassMalformedScenario
	}
	var ee *EvaluatorError
	if errors.As(err, &ee) {
		return ClassEvaluatorFailure
	}
	switch {
	case errors.Is(err, context.DeadlineExceeded):
		return ClassTimeout
	case errors.Is(err, context.Canceled):
		return ClassUnknown
	}
	return ClassProviderError
}

// IsRetryable reports whether err is eligible for another dispatch attempt.
func IsRetryable(err error) bool {
	return ClassOf(err).Retryable()
}

// IsBudgetExceeded reports whether err carries a budget ceiling rejection.
func IsBudgetExceeded(err error) bool {
	var be *BudgetExceededError
	return errors.As(err, &be)
}
