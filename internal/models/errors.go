package models

import (
	"errors"
	"fmt"
)

// ValidationError reports malformed input rejected at the boundary. It is
// never persisted.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("validation failed on %s: %s", e.Field, e.Reason)
}

// RejectReason identifies the risk gate that stopped a signal.
type RejectReason string

const (
	RejectBelowAdvisorThreshold RejectReason = "BELOW_ADVISOR_THRESHOLD"
	RejectDailyTradeLimit       RejectReason = "DAILY_TRADE_LIMIT"
	RejectCooldownActive        RejectReason = "COOLDOWN_ACTIVE"
	RejectDailyLossBreach       RejectReason = "DAILY_LOSS_BREACH"
	RejectDrawdownBreach        RejectReason = "DRAWDOWN_BREACH"
)

// PolicyRejection means a valid signal was gated by risk policy. The signal
// is recorded as processed with no order produced; this is an expected
// outcome, not a failure.
type PolicyRejection struct {
	Reason RejectReason
	Detail string
}

func (e *PolicyRejection) Error() string {
	return fmt.Sprintf("policy rejection %s: %s", e.Reason, e.Detail)
}

// ExecutionFailure wraps an exchange timeout or error after retries are
// exhausted.
type ExecutionFailure struct {
	Op  string
	Err error
}

func (e *ExecutionFailure) Error() string {
	return fmt.Sprintf("execution failure during %s: %v", e.Op, e.Err)
}

func (e *ExecutionFailure) Unwrap() error { return e.Err }

// Programming-contract violations. These are logged and rejected, never
// silently corrected.
var (
	ErrInsufficientBalance    = errors.New("insufficient balance")
	ErrStaleFillReport        = errors.New("stale fill report")
	ErrSignalAlreadyProcessed = errors.New("signal already processed")
	ErrInvalidTransition      = errors.New("invalid order state transition")
	ErrOrderNotFound          = errors.New("order not found")
)

// IsInvariantViolation reports whether err is a programming-contract
// violation rather than a user-actionable condition.
func IsInvariantViolation(err error) bool {
	return errors.Is(err, ErrInsufficientBalance) ||
		errors.Is(err, ErrStaleFillReport) ||
		errors.Is(err, ErrSignalAlreadyProcessed) ||
		errors.Is(err, ErrInvalidTransition)
}
