// Package mergeresolver implements the per-page merge resolver
// controller: the state machine that watches for new commits,
// debounces, checks for multiple heads, and drives whichever
// strategy.Strategy is currently installed to resolve them.
package mergeresolver
