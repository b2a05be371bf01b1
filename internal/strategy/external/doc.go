// Package external implements the external resolver client: it dials
// an out-of-process resolver over internal/resolverrpc, hands it
// three read-only snapshots, and answers the resolver's
// get_left_diff/get_right_diff/merge/done requests until the resolver
// signals done or the merge is cancelled.
package external
