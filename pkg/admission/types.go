package admission

import (
	"errors"
	"time"
)

// Outcome tags an admission decision for callers and metrics.
type Outcome string

const (
	// OutcomeAllowed means every gate passed.
	OutcomeAllowed Outcome = "allowed"

	// OutcomeDeniedRateLimited means the token bucket for the
	// (principal, category) pair was empty. Retryable after RetryAfter.
	OutcomeDeniedRateLimited Outcome = "denied_rate_limited"

	// OutcomeDeniedBudget means the principal's monthly spend ceiling
	// would be exceeded. Retryable only after the next billing period.
	OutcomeDeniedBudget Outcome = "denied_budget_exceeded"

	// OutcomeDeniedLedgerUnavailable means the spend ledger could not be
	// read and the budget guard failed closed. Transient.
	OutcomeDeniedLedgerUnavailable Outcome = "denied_ledger_unavailable"
)

// Error sentinels for the admission taxonomy. Decisions are returned as
// values; these exist for callers that fold denials into error flows.
var (
	// ErrRateLimited corresponds to OutcomeDeniedRateLimited.
	ErrRateLimited = errors.New("rate limited")

	// ErrBudgetExceeded corresponds to OutcomeDeniedBudget.
	ErrBudgetExceeded = errors.New("budget exceeded")

	// ErrLedgerUnavailable corresponds to OutcomeDeniedLedgerUnavailable.
	ErrLedgerUnavailable = errors.New("spend ledger unavailable")
)

// Decision is the result of running a request through the admission
// gates. It is a value, not an error: the gates resolve rate, budget, and
// ledger failures internally and hand the caller a tagged outcome.
type Decision struct {
	// Allowed indicates if the request may proceed.
	Allowed bool

	// Outcome tags the decision.
	Outcome Outcome

	// Reason is a human-readable explanation for a denial.
	Reason string

	// RetryAfter is the wait hint for a rate-limit denial.
	RetryAfter time.Duration

	// TotalSpentUSD is the principal's month-to-date spend, when the
	// budget gate was consulted.
	TotalSpentUSD float64

	// RemainingUSD is the budget left before the monthly ceiling, when
	// the budget gate was consulted.
	RemainingUSD float64
}

// Err maps a denial to its taxonomy sentinel, or nil when allowed.
func (d Decision) Err() error {
	switch d.Outcome {
	case OutcomeDeniedRateLimited:
		return ErrRateLimited
	case OutcomeDeniedBudget:
		return ErrBudgetExceeded
	case OutcomeDeniedLedgerUnavailable:
		return ErrLedgerUnavailable
	default:
		return nil
	}
}

// Result is the outcome of Gate.Execute for a synchronous billed call.
type Result struct {
	// Decision is the admission outcome. When it is a denial the other
	// fields are zero.
	Decision Decision

	// Payload is the response body (from cache or a fresh call).
	Payload []byte

	// FromCache indicates the response was served from the memo cache
	// without a billed external call.
	FromCache bool

	// CostUSD is the actual recorded cost (zero for cache hits).
	CostUSD float64
}
