package fakestorage

import (
	"context"
	"sync"

	"pagekv/internal/commit"
	"pagekv/internal/mergevalue"
	"pagekv/internal/pageerr"
)

type journalState int

const (
	journalOpen journalState = iota
	journalCommitted
	journalRolledBack
)

// journal is FakeStorage's storage.Journal implementation. It is
// single-owner; each method still takes j.mu, and Commit also takes
// the shared FakeStorage's lock for its bookkeeping.
type journal struct {
	mu      sync.Mutex
	store   *FakeStorage
	parents []commit.ID
	entries map[string]commit.ID
	state   journalState
}

func newJournal(store *FakeStorage, parents []commit.ID, base map[string]commit.ID) *journal {
	return &journal{store: store, parents: parents, entries: base, state: journalOpen}
}

// Put implements storage.Journal.
func (j *journal) Put(ctx context.Context, key []byte, objectID commit.ID, priority mergevalue.Priority) error {
	j.mu.Lock()
	defer j.mu.Unlock()
	if j.state != journalOpen {
		return pageerr.Internal("journal: put on closed journal")
	}
	j.entries[string(key)] = objectID
	return nil
}

// Delete implements storage.Journal.
func (j *journal) Delete(ctx context.Context, key []byte) error {
	j.mu.Lock()
	defer j.mu.Unlock()
	if j.state != journalOpen {
		return pageerr.Internal("journal: delete on closed journal")
	}
	delete(j.entries, string(key))
	return nil
}

// Commit implements storage.Journal.
func (j *journal) Commit(ctx context.Context) (*commit.Commit, error) {
	j.mu.Lock()
	defer j.mu.Unlock()
	if j.state != journalOpen {
		return nil, pageerr.Internal("journal: commit on closed journal")
	}
	j.state = journalCommitted

	id := newContentID()
	c := &commit.Commit{
		ID:        id,
		ParentIDs: append([]commit.ID(nil), j.parents...),
		Timestamp: j.store.clk.NowMillis(),
		RootID:    id,
	}

	j.store.mu.Lock()
	j.store.entries[id] = cloneEntries(j.entries)
	j.store.registerCommitLocked(c)
	j.store.notifyLocked(ctx, []*commit.Commit{c})
	j.store.mu.Unlock()

	return c, nil
}

// Rollback implements storage.Journal. Idempotent.
func (j *journal) Rollback(ctx context.Context) error {
	j.mu.Lock()
	defer j.mu.Unlock()
	if j.state == journalCommitted {
		return pageerr.Internal("journal: rollback after commit")
	}
	j.state = journalRolledBack
	return nil
}
