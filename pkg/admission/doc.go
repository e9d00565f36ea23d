// Package admission gates every costly call to a generative backend.
//
// Three gates run in order: a per-(principal, category) token-bucket rate
// limiter, a per-principal monthly budget guard over a durable spend
// ledger, and a content-addressed response cache for deterministic
// synchronous calls. The composed pipeline lives in Gate; the individual
// gates live in the ratelimit, budget, and cache subpackages.
//
// Callers receive tagged Decision values rather than errors: rate, budget,
// and ledger failures are resolved inside the admission layer.
package admission
