// Package commit defines the Commit value type and the fixed-width,
// content-addressed CommitID used throughout the conflict resolution
// subsystem. It holds no behavior beyond id/timestamp bookkeeping; the
// storage collaborator that actually persists commits lives outside
// this module.
package commit
