package fakestorage

import (
	"bytes"
	"context"
	"testing"

	"pagekv/internal/clock"
	"pagekv/internal/commit"
	"pagekv/internal/mergevalue"
	"pagekv/internal/pageerr"
	"pagekv/internal/storage"
)

func TestNewSeedsRootAsTheOnlyHead(t *testing.T) {
	s := New(clock.NewFake(0))
	ctx := context.Background()

	heads, err := s.GetHeadCommitIDs(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if len(heads) != 1 || heads[0] != commit.RootCommitID {
		t.Fatalf("expected [root], got %v", heads)
	}
}

func TestStartCommitPutThenCommitAdvancesHead(t *testing.T) {
	s := New(clock.NewFake(100))
	ctx := context.Background()

	j, err := s.StartCommit(ctx, commit.RootCommitID, storage.ExplicitJournal)
	if err != nil {
		t.Fatal(err)
	}
	objID, _ := s.AddObjectFromLocal(ctx, bytes.NewReader([]byte("hello")), 5)
	if err := j.Put(ctx, []byte("k"), objID, mergevalue.Eager); err != nil {
		t.Fatal(err)
	}
	c, err := j.Commit(ctx)
	if err != nil {
		t.Fatal(err)
	}

	heads, _ := s.GetHeadCommitIDs(ctx)
	if len(heads) != 1 || heads[0] != c.ID {
		t.Fatalf("expected new commit to be the sole head, got %v", heads)
	}

	entry, err := s.GetEntryFromCommit(ctx, c, []byte("k"))
	if err != nil {
		t.Fatal(err)
	}
	if entry.ObjectID != objID {
		t.Errorf("expected entry to point at %s, got %s", objID, entry.ObjectID)
	}
}

func TestGetEntryFromCommitMissingKeyIsNotFound(t *testing.T) {
	s := New(clock.NewFake(0))
	ctx := context.Background()
	root, _ := s.GetCommit(ctx, commit.RootCommitID)

	_, err := s.GetEntryFromCommit(ctx, root, []byte("absent"))
	if !pageerr.Is(err, pageerr.NotFound) {
		t.Errorf("expected NotFound, got %v", err)
	}
}

func TestStartMergeCommitSeedsFromLeftEntries(t *testing.T) {
	s := New(clock.NewFake(0))
	ctx := context.Background()

	leftJ, _ := s.StartCommit(ctx, commit.RootCommitID, storage.ExplicitJournal)
	objID, _ := s.AddObjectFromLocal(ctx, bytes.NewReader([]byte("L")), 1)
	leftJ.Put(ctx, []byte("k"), objID, mergevalue.Eager)
	left, _ := leftJ.Commit(ctx)

	right, _ := s.StartCommit(ctx, commit.RootCommitID, storage.ExplicitJournal)
	rightCommit, _ := right.Commit(ctx)

	mj, err := s.StartMergeCommit(ctx, left.ID, rightCommit.ID)
	if err != nil {
		t.Fatal(err)
	}
	merged, err := mj.Commit(ctx)
	if err != nil {
		t.Fatal(err)
	}

	entry, err := s.GetEntryFromCommit(ctx, merged, []byte("k"))
	if err != nil {
		t.Fatalf("expected left's key to survive into the merge journal, got %v", err)
	}
	if entry.ObjectID != objID {
		t.Errorf("expected left's object id, got %s", entry.ObjectID)
	}
}

func TestMergeIdenticalCommitsTakesTheMinimumTimestamp(t *testing.T) {
	s := New(clock.NewFake(0))
	ctx := context.Background()

	a := &commit.Commit{ID: newContentID(), ParentIDs: []commit.ID{commit.RootCommitID}, Timestamp: 20, RootID: commit.RootCommitID}
	b := &commit.Commit{ID: newContentID(), ParentIDs: []commit.ID{commit.RootCommitID}, Timestamp: 10, RootID: commit.RootCommitID}
	s.mu.Lock()
	s.commits[a.ID] = a
	s.commits[b.ID] = b
	delete(s.heads, commit.RootCommitID)
	s.heads[a.ID] = struct{}{}
	s.heads[b.ID] = struct{}{}
	s.mu.Unlock()

	merged, err := s.MergeIdenticalCommits(ctx, a, b)
	if err != nil {
		t.Fatal(err)
	}
	if merged.Timestamp != 10 {
		t.Errorf("expected min(20,10)=10, got %d", merged.Timestamp)
	}

	heads, _ := s.GetHeadCommitIDs(ctx)
	if len(heads) != 1 || heads[0] != merged.ID {
		t.Fatalf("expected merge commit to be the sole head, got %v", heads)
	}
}

type recordingWatcher struct {
	calls [][]*commit.Commit
}

func (w *recordingWatcher) OnNewCommits(ctx context.Context, commits []*commit.Commit, source storage.NewCommitsSource) {
	w.calls = append(w.calls, commits)
}

func TestCommitWatcherIsNotifiedOnCommit(t *testing.T) {
	s := New(clock.NewFake(0))
	ctx := context.Background()
	w := &recordingWatcher{}
	s.AddCommitWatcher(w)

	j, _ := s.StartCommit(ctx, commit.RootCommitID, storage.ExplicitJournal)
	c, _ := j.Commit(ctx)

	if len(w.calls) != 1 || w.calls[0][0].ID != c.ID {
		t.Fatalf("expected watcher to be notified with the new commit, got %v", w.calls)
	}

	s.RemoveCommitWatcher(w)
	j2, _ := s.StartCommit(ctx, c.ID, storage.ExplicitJournal)
	j2.Commit(ctx)
	if len(w.calls) != 1 {
		t.Fatalf("expected no further notifications after removal, got %d", len(w.calls))
	}
}

func TestJournalOperationsFailAfterCommit(t *testing.T) {
	s := New(clock.NewFake(0))
	ctx := context.Background()
	j, _ := s.StartCommit(ctx, commit.RootCommitID, storage.ExplicitJournal)
	if _, err := j.Commit(ctx); err != nil {
		t.Fatal(err)
	}

	if err := j.Put(ctx, []byte("k"), commit.ID{}, mergevalue.Eager); err == nil {
		t.Error("expected Put after Commit to fail")
	}
	if _, err := j.Commit(ctx); err == nil {
		t.Error("expected double Commit to fail")
	}
}

func TestRollbackIsIdempotentAndProducesNoCommit(t *testing.T) {
	s := New(clock.NewFake(0))
	ctx := context.Background()
	j, _ := s.StartCommit(ctx, commit.RootCommitID, storage.ExplicitJournal)
	if err := j.Rollback(ctx); err != nil {
		t.Fatal(err)
	}
	if err := j.Rollback(ctx); err != nil {
		t.Fatal(err)
	}

	heads, _ := s.GetHeadCommitIDs(ctx)
	if len(heads) != 1 || heads[0] != commit.RootCommitID {
		t.Errorf("rollback must not change heads, got %v", heads)
	}
}

func TestComputePageChangePaginatesByBudget(t *testing.T) {
	s := New(clock.NewFake(0))
	ctx := context.Background()

	j, _ := s.StartCommit(ctx, commit.RootCommitID, storage.ExplicitJournal)
	for i := 0; i < 5; i++ {
		objID, _ := s.AddObjectFromLocal(ctx, bytes.NewReader([]byte{byte(i)}), 1)
		j.Put(ctx, []byte{byte('a' + i)}, objID, mergevalue.Eager)
	}
	c, _ := j.Commit(ctx)

	var allChanges []storage.Entry
	var token []byte
	for {
		change, next, err := s.ComputePageChange(ctx, commit.RootCommitID, c.ID, token, 256) // 1 entry per page
		if err != nil {
			t.Fatal(err)
		}
		allChanges = append(allChanges, change.Changes...)
		if next == nil {
			break
		}
		token = next
	}

	if len(allChanges) != 5 {
		t.Fatalf("expected 5 total changes across pages, got %d", len(allChanges))
	}
}
