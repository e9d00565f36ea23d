package admission

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"brightreel-ai/reelgate/pkg/admission/budget"
	"brightreel-ai/reelgate/pkg/admission/cache"
	"brightreel-ai/reelgate/pkg/admission/ratelimit"
)

// CallFunc performs the external generative call for Execute. It returns
// the response payload and the actual billed cost in USD.
type CallFunc func(ctx context.Context) (payload []byte, costUSD float64, err error)

// Gate composes the admission pipeline in front of every costly AI call:
// rate limiter, then budget guard, then (for synchronous calls) the
// response cache.
//
// The rate and cache gates are pure in-memory operations; only the budget
// gate touches storage. Gate methods return decisions as values and never
// surface gate-internal failures as errors — an unreadable ledger, for
// example, becomes a tagged denial.
type Gate struct {
	rates   *ratelimit.Registry
	guard   *budget.Guard
	cache   *cache.Cache
	metrics *Metrics
	logger  *slog.Logger
}

// NewGate creates the admission gate. metrics may be nil to disable
// instrumentation (useful in tests).
func NewGate(rates *ratelimit.Registry, guard *budget.Guard, c *cache.Cache, metrics *Metrics, logger *slog.Logger) *Gate {
	if logger == nil {
		logger = slog.Default()
	}
	return &Gate{
		rates:   rates,
		guard:   guard,
		cache:   c,
		metrics: metrics,
		logger:  logger.With("component", "admission"),
	}
}

// CheckAdmission runs the rate and budget gates for a billed call without
// executing it. This is the admission path for asynchronous jobs, where
// the external call is submitted separately after admission.
func (g *Gate) CheckAdmission(ctx context.Context, principal, category string, estimatedCostUSD float64) Decision {
	start := time.Now()
	rd := g.rates.Check(principal, category)
	g.metrics.observeCheckDuration("rate", time.Since(start).Seconds())
	g.metrics.recordRateCheck(category, rd.Allowed)

	if !rd.Allowed {
		g.logger.Debug("request rate limited",
			"principal", principal, "category", category, "retry_after", rd.RetryAfter)
		return Decision{
			Allowed:    false,
			Outcome:    OutcomeDeniedRateLimited,
			Reason:     fmt.Sprintf("rate limit exceeded for %s requests, retry in %s", category, rd.RetryAfter),
			RetryAfter: rd.RetryAfter,
		}
	}

	start = time.Now()
	bs := g.guard.Check(ctx, principal, estimatedCostUSD)
	g.metrics.observeCheckDuration("budget", time.Since(start).Seconds())
	g.metrics.recordBudgetCheck(bs.Allowed)

	if !bs.Allowed {
		outcome := OutcomeDeniedBudget
		if bs.Unavailable {
			outcome = OutcomeDeniedLedgerUnavailable
		}
		g.logger.Info("request denied by budget guard",
			"principal", principal, "reason", bs.Reason)
		return Decision{
			Allowed:       false,
			Outcome:       outcome,
			Reason:        bs.Reason,
			TotalSpentUSD: bs.TotalSpent,
			RemainingUSD:  bs.Remaining,
		}
	}

	return Decision{
		Allowed:       true,
		Outcome:       OutcomeAllowed,
		TotalSpentUSD: bs.TotalSpent,
		RemainingUSD:  bs.Remaining,
	}
}

// Execute runs a synchronous billed call through the full pipeline:
// rate limiter, budget guard, cache lookup, external call, spend
// recording, cache store.
//
// A denial is reported in Result.Decision with a nil error. An error is
// returned only when the external call itself fails; the gates never
// propagate their own failures past this method.
func (g *Gate) Execute(ctx context.Context, principal, category string, request []byte, estimatedCostUSD float64, call CallFunc) (*Result, error) {
	decision := g.CheckAdmission(ctx, principal, category, estimatedCostUSD)
	if !decision.Allowed {
		return &Result{Decision: decision}, nil
	}

	if payload, ok := g.cache.Get(request); ok {
		g.metrics.recordCacheLookup(true)
		return &Result{
			Decision:  decision,
			Payload:   payload,
			FromCache: true,
		}, nil
	}
	g.metrics.recordCacheLookup(false)

	payload, costUSD, err := call(ctx)
	if err != nil {
		return nil, fmt.Errorf("external call failed: %w", err)
	}

	// Recording spend is append-only and best-effort after the fact: the
	// call already happened, so a ledger write failure must not turn a
	// served response into an error. The next Check fails closed anyway
	// if the ledger stays unreachable.
	if err := g.guard.Record(ctx, principal, costUSD); err != nil {
		g.logger.Error("failed to record spend",
			"principal", principal, "cost_usd", costUSD, "error", err)
	} else {
		g.metrics.recordSpend(costUSD)
	}

	g.cache.Set(request, payload)

	return &Result{
		Decision: decision,
		Payload:  payload,
		CostUSD:  costUSD,
	}, nil
}

// SweepBuckets reclaims idle rate buckets. Intended to be called from a
// periodic maintenance job.
func (g *Gate) SweepBuckets() int {
	return g.rates.Sweep()
}
