// Package clock provides the wall-clock and pseudo-random sources the
// conflict resolution subsystem's Environment exposes: a Source for
// commit timestamps and debounce scheduling, with a Fake
// implementation for deterministic tests.
package clock
