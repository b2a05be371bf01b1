// Package scheduler implements the cooperative single-threaded main
// scheduler: every controller, strategy, and result-provider callback
// is posted here and runs one at a time, in the order it was posted
// (modulo PostDelayed's delay). It is the environment's main runner.
package scheduler
