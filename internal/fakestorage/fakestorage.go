package fakestorage

import (
	"context"
	"io"
	"sort"
	"strconv"
	"sync"

	"github.com/google/uuid"

	"pagekv/internal/clock"
	"pagekv/internal/commit"
	"pagekv/internal/pageerr"
	"pagekv/internal/storage"
)

// FakeStorage is an in-memory storage.Store + storage.PageManager
// double. It is safe for concurrent use; every method takes the same
// lock guarding the commit, entry, object, and head maps.
type FakeStorage struct {
	mu       sync.Mutex
	clk      clock.Source
	commits  map[commit.ID]*commit.Commit
	entries  map[commit.ID]map[string]commit.ID // RootID -> key -> objectID
	objects  map[commit.ID][]byte
	heads    map[commit.ID]struct{}
	watchers []storage.CommitWatcher
}

// New creates a FakeStorage seeded with the reserved root commit.
func New(clk clock.Source) *FakeStorage {
	s := &FakeStorage{
		clk:     clk,
		commits: map[commit.ID]*commit.Commit{},
		entries: map[commit.ID]map[string]commit.ID{},
		objects: map[commit.ID][]byte{},
		heads:   map[commit.ID]struct{}{},
	}
	root := &commit.Commit{
		ID:        commit.RootCommitID,
		ParentIDs: nil,
		Timestamp: 0,
		RootID:    commit.RootCommitID,
	}
	s.commits[root.ID] = root
	s.entries[root.RootID] = map[string]commit.ID{}
	s.heads[root.ID] = struct{}{}
	return s
}

func newContentID() commit.ID {
	u := uuid.New()
	var id commit.ID
	copy(id[:], u[:])
	return id
}

// GetHeadCommitIDs implements storage.Store.
func (s *FakeStorage) GetHeadCommitIDs(ctx context.Context) ([]commit.ID, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	ids := make([]commit.ID, 0, len(s.heads))
	for id := range s.heads {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i].Less(ids[j]) })
	return ids, nil
}

// GetCommit implements storage.Store.
func (s *FakeStorage) GetCommit(ctx context.Context, id commit.ID) (*commit.Commit, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.commits[id]
	if !ok {
		return nil, pageerr.NotFoundError("commit " + id.String())
	}
	return c, nil
}

// AddCommitWatcher implements storage.Store.
func (s *FakeStorage) AddCommitWatcher(w storage.CommitWatcher) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, existing := range s.watchers {
		if existing == w {
			return
		}
	}
	s.watchers = append(s.watchers, w)
}

// RemoveCommitWatcher implements storage.Store.
func (s *FakeStorage) RemoveCommitWatcher(w storage.CommitWatcher) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i, existing := range s.watchers {
		if existing == w {
			s.watchers = append(s.watchers[:i], s.watchers[i+1:]...)
			return
		}
	}
}

// StartCommit implements storage.Store.
func (s *FakeStorage) StartCommit(ctx context.Context, parentID commit.ID, kind storage.JournalKind) (storage.Journal, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	parent, ok := s.commits[parentID]
	if !ok {
		return nil, pageerr.NotFoundError("parent commit " + parentID.String())
	}
	base := cloneEntries(s.entries[parent.RootID])
	return newJournal(s, []commit.ID{parentID}, base), nil
}

// StartMergeCommit implements storage.Store. The journal starts from
// left's entries: left is the implicit default for untouched keys.
func (s *FakeStorage) StartMergeCommit(ctx context.Context, left, right commit.ID) (storage.Journal, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	leftCommit, ok := s.commits[left]
	if !ok {
		return nil, pageerr.NotFoundError("left commit " + left.String())
	}
	if _, ok := s.commits[right]; !ok {
		return nil, pageerr.NotFoundError("right commit " + right.String())
	}
	base := cloneEntries(s.entries[leftCommit.RootID])
	return newJournal(s, []commit.ID{left, right}, base), nil
}

// MergeIdenticalCommits implements storage.Store.
func (s *FakeStorage) MergeIdenticalCommits(ctx context.Context, a, b *commit.Commit) (*commit.Commit, error) {
	if a.RootID != b.RootID {
		return nil, pageerr.Internal("merge_identical_commits: root ids differ")
	}
	ts := a.Timestamp
	if b.Timestamp < ts {
		ts = b.Timestamp
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	id := newContentID()
	merged := &commit.Commit{
		ID:        id,
		ParentIDs: []commit.ID{a.ID, b.ID},
		Timestamp: ts,
		RootID:    id,
	}
	s.entries[id] = cloneEntries(s.entries[a.RootID])
	s.registerCommitLocked(merged)
	s.notifyLocked(ctx, []*commit.Commit{merged})
	return merged, nil
}

// GetEntryFromCommit implements storage.Store.
func (s *FakeStorage) GetEntryFromCommit(ctx context.Context, c *commit.Commit, key []byte) (*storage.Entry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	tree, ok := s.entries[c.RootID]
	if !ok {
		return nil, pageerr.NotFoundError("root " + c.RootID.String())
	}
	objID, ok := tree[string(key)]
	if !ok {
		return nil, pageerr.NotFoundError("key")
	}
	return &storage.Entry{Key: key, ObjectID: objID}, nil
}

// AddObjectFromLocal implements storage.Store.
func (s *FakeStorage) AddObjectFromLocal(ctx context.Context, r io.Reader, size int64) (commit.ID, error) {
	data, err := io.ReadAll(io.LimitReader(r, size))
	if err != nil {
		return commit.ID{}, pageerr.Wrap(pageerr.Storage, err)
	}
	id := newContentID()
	s.mu.Lock()
	s.objects[id] = data
	s.mu.Unlock()
	return id, nil
}

// SeedCommit directly registers a fully-formed commit and its entries
// tree, bypassing the journal. This fake mints a fresh random id per
// commit rather than hashing content, so it cannot produce two
// independently-built commits that share a root_id; tests that need
// that scenario (the identical-content fast path) use SeedCommit to
// construct it directly. No commit watcher is notified.
func (s *FakeStorage) SeedCommit(c *commit.Commit, entries map[string]commit.ID) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.entries[c.RootID] = cloneEntries(entries)
	s.registerCommitLocked(c)
}

// Object returns the bytes stored under id, for test assertions.
func (s *FakeStorage) Object(id commit.ID) ([]byte, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	data, ok := s.objects[id]
	return data, ok
}

// registerCommitLocked records a newly-created commit and updates the
// head set: its parents are no longer heads, and it becomes one.
// Callers must hold s.mu.
func (s *FakeStorage) registerCommitLocked(c *commit.Commit) {
	s.commits[c.ID] = c
	for _, p := range c.ParentIDs {
		delete(s.heads, p)
	}
	s.heads[c.ID] = struct{}{}
}

// notifyLocked fans out a commit-arrival notification. Callers must
// hold s.mu; notification runs synchronously on the caller's
// goroutine.
func (s *FakeStorage) notifyLocked(ctx context.Context, commits []*commit.Commit) {
	watchers := append([]storage.CommitWatcher(nil), s.watchers...)
	for _, w := range watchers {
		w.OnNewCommits(ctx, commits, storage.Local)
	}
}

func cloneEntries(src map[string]commit.ID) map[string]commit.ID {
	dst := make(map[string]commit.ID, len(src))
	for k, v := range src {
		dst[k] = v
	}
	return dst
}

// ComputePageChange implements storage.PageManager. It diffs the
// entries of two commits and paginates the result, approximating
// MAX_INLINE_DATA_SIZE by entry count since this fake has no real
// serialized byte size to budget against.
func (s *FakeStorage) ComputePageChange(ctx context.Context, from, to commit.ID, token []byte, budgetBytes int) (*storage.PageChange, []byte, error) {
	const bytesPerEntry = 256 // rough amortized entry size for pagination math
	perPage := budgetBytes / bytesPerEntry
	if perPage <= 0 {
		perPage = 1
	}

	s.mu.Lock()
	fromCommit, ok := s.commits[from]
	if !ok {
		s.mu.Unlock()
		return nil, nil, pageerr.NotFoundError("from commit " + from.String())
	}
	toCommit, ok := s.commits[to]
	if !ok {
		s.mu.Unlock()
		return nil, nil, pageerr.NotFoundError("to commit " + to.String())
	}
	fromTree := s.entries[fromCommit.RootID]
	toTree := s.entries[toCommit.RootID]

	type op struct {
		key      string
		objectID commit.ID
		isDelete bool
	}
	var ops []op
	for k, v := range toTree {
		if prev, ok := fromTree[k]; !ok || prev != v {
			ops = append(ops, op{key: k, objectID: v})
		}
	}
	for k := range fromTree {
		if _, ok := toTree[k]; !ok {
			ops = append(ops, op{key: k, isDelete: true})
		}
	}
	s.mu.Unlock()

	sort.Slice(ops, func(i, j int) bool { return ops[i].key < ops[j].key })

	offset := 0
	if len(token) > 0 {
		parsed, err := strconv.Atoi(string(token))
		if err != nil {
			return nil, nil, pageerr.Internal("invalid page token")
		}
		offset = parsed
	}
	if offset > len(ops) {
		offset = len(ops)
	}

	end := offset + perPage
	if end > len(ops) {
		end = len(ops)
	}

	change := &storage.PageChange{}
	for _, o := range ops[offset:end] {
		if o.isDelete {
			change.Deletions = append(change.Deletions, []byte(o.key))
		} else {
			change.Changes = append(change.Changes, storage.Entry{Key: []byte(o.key), ObjectID: o.objectID})
		}
	}

	if end >= len(ops) {
		return change, nil, nil
	}
	return change, []byte(strconv.Itoa(end)), nil
}
