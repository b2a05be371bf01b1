package storage

import (
	"context"
	"io"

	"pagekv/internal/commit"
	"pagekv/internal/mergevalue"
)

// NewCommitsSource names where a batch of newly-observed commits came
// from. The controller reacts identically regardless of source.
type NewCommitsSource int

const (
	// Local indicates commits created by this device.
	Local NewCommitsSource = iota
	// Sync indicates commits that arrived from cloud replication.
	Sync
)

// String implements fmt.Stringer.
func (s NewCommitsSource) String() string {
	if s == Sync {
		return "SYNC"
	}
	return "LOCAL"
}

// JournalKind distinguishes the two ways a single-parent journal can
// be opened; the core treats it as opaque and forwards it to storage.
type JournalKind int

const (
	// ImplicitJournal commits are folded into the parent's change set
	// automatically by storage.
	ImplicitJournal JournalKind = iota
	// ExplicitJournal commits are only visible once Commit is called.
	ExplicitJournal
)

// Entry is one key/object pair as stored in a commit's root tree.
type Entry struct {
	Key      []byte
	ObjectID commit.ID
}

// CommitWatcher is notified whenever storage observes new commits for
// a page, whether created locally or received via sync.
type CommitWatcher interface {
	OnNewCommits(ctx context.Context, commits []*commit.Commit, source NewCommitsSource)
}

// Journal is the mutable, single-owner commit builder. Operations are
// only valid while the journal is Open; Commit and
// Rollback each terminate the journal exactly once. A Journal that is
// dropped without either call must behave as if Rollback had been
// called. Go has no destructor to hook; fakestorage's journal keeps
// its changes private until Commit, so dropping an open one leaves
// storage exactly as Rollback would.
type Journal interface {
	// Put records that key now maps to objectID, eagerly or lazily
	// synced per priority.
	Put(ctx context.Context, key []byte, objectID commit.ID, priority mergevalue.Priority) error
	// Delete records that key is removed.
	Delete(ctx context.Context, key []byte) error
	// Commit finalizes the journal and produces a new Commit. The
	// journal is terminated whether or not this succeeds.
	Commit(ctx context.Context) (*commit.Commit, error)
	// Rollback abandons the journal without producing a commit. Safe
	// to call more than once.
	Rollback(ctx context.Context) error
}

// Store is the storage collaborator interface consumed by the
// conflict resolution subsystem. Every method may block and must be
// safe to call from the main scheduler; implementations
// are expected to hop to their own I/O scheduler internally and post
// results back.
type Store interface {
	// GetHeadCommitIDs returns the current head set for the page.
	GetHeadCommitIDs(ctx context.Context) ([]commit.ID, error)
	// GetCommit looks up a commit by id.
	GetCommit(ctx context.Context, id commit.ID) (*commit.Commit, error)
	// AddCommitWatcher registers w to receive future OnNewCommits
	// calls. Registering the same watcher twice is a no-op.
	AddCommitWatcher(w CommitWatcher)
	// RemoveCommitWatcher unregisters w. Removing an unregistered
	// watcher is a no-op.
	RemoveCommitWatcher(w CommitWatcher)
	// StartCommit opens a single-parent journal.
	StartCommit(ctx context.Context, parentID commit.ID, kind JournalKind) (Journal, error)
	// StartMergeCommit opens a two-parent journal seeded from left's
	// entries: left is the implicit default for untouched keys.
	StartMergeCommit(ctx context.Context, left, right commit.ID) (Journal, error)
	// MergeIdenticalCommits folds two commits with equal RootID into a
	// single merge commit without invoking any strategy. The result's
	// timestamp is min(a.Timestamp, b.Timestamp).
	MergeIdenticalCommits(ctx context.Context, a, b *commit.Commit) (*commit.Commit, error)
	// GetEntryFromCommit looks up key in c's root tree. A missing key
	// is reported as a *pageerr.Error with Code == pageerr.NotFound,
	// which callers are expected to treat as an ordinary outcome.
	GetEntryFromCommit(ctx context.Context, c *commit.Commit, key []byte) (*Entry, error)
	// AddObjectFromLocal streams size bytes from r into storage and
	// returns the resulting content id.
	AddObjectFromLocal(ctx context.Context, r io.Reader, size int64) (commit.ID, error)
}

// PageChange is a paginated diff payload: the entries changed and the
// keys deleted going from one commit to another.
type PageChange struct {
	Changes   []Entry
	Deletions [][]byte
}

// PageManager computes paginated diffs between commits for a page, on
// behalf of the external resolver client's result provider. It is an
// external collaborator in the same sense as Store: this module
// specifies only the interface it consumes.
type PageManager interface {
	// ComputePageChange returns the diff from -> to, picking up where
	// token left off. A nil nextToken means this was the final page.
	// budgetBytes bounds the serialized size of one page.
	ComputePageChange(ctx context.Context, from, to commit.ID, token []byte, budgetBytes int) (change *PageChange, nextToken []byte, err error)
}
