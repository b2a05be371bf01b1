package automatic

import (
	"context"
	"sync"

	"pagekv/internal/commit"
	"pagekv/internal/mergevalue"
	"pagekv/internal/pageerr"
	"pagekv/internal/storage"
	"pagekv/internal/strategy"
)

// MaxInlineDataSize bounds one ComputePageChange page.
const MaxInlineDataSize = 64 * 1024

// Strategy is the automatic last-writer-wins merge strategy. The zero
// value is ready to use; a single instance handles merges one at a
// time, as the strategy.Strategy contract requires.
type Strategy struct {
	mu     sync.Mutex
	cancel context.CancelFunc
}

// New returns a ready Strategy.
func New() *Strategy {
	return &Strategy{}
}

// Merge implements strategy.Strategy.
func (s *Strategy) Merge(ctx context.Context, store storage.Store, pages storage.PageManager, left, right, ancestor *commit.Commit, onDone func(strategy.Result)) {
	mergeCtx, cancel := context.WithCancel(ctx)
	s.mu.Lock()
	s.cancel = cancel
	s.mu.Unlock()

	go s.run(mergeCtx, store, pages, left, right, ancestor, onDone)
}

// Cancel implements strategy.Strategy.
func (s *Strategy) Cancel() {
	s.mu.Lock()
	cancel := s.cancel
	s.mu.Unlock()
	if cancel != nil {
		cancel()
	}
}

func (s *Strategy) run(ctx context.Context, store storage.Store, pages storage.PageManager, left, right, ancestor *commit.Commit, onDone func(strategy.Result)) {
	journal, err := store.StartMergeCommit(ctx, left.ID, right.ID)
	if err != nil {
		onDone(strategy.Result{Outcome: strategy.Failed, Err: err})
		return
	}

	if ctx.Err() != nil {
		journal.Rollback(ctx)
		onDone(strategy.Result{Outcome: strategy.Cancelled})
		return
	}

	leftChanges, leftDeletions, err := collectDiff(ctx, pages, ancestor.ID, left.ID)
	if err != nil {
		journal.Rollback(ctx)
		onDone(strategy.Result{Outcome: strategy.Failed, Err: err})
		return
	}
	rightChanges, rightDeletions, err := collectDiff(ctx, pages, ancestor.ID, right.ID)
	if err != nil {
		journal.Rollback(ctx)
		onDone(strategy.Result{Outcome: strategy.Failed, Err: err})
		return
	}

	touched := make(map[string]struct{})
	for k := range leftChanges {
		touched[k] = struct{}{}
	}
	for k := range leftDeletions {
		touched[k] = struct{}{}
	}
	for k := range rightChanges {
		touched[k] = struct{}{}
	}
	for k := range rightDeletions {
		touched[k] = struct{}{}
	}

	for k := range touched {
		if ctx.Err() != nil {
			journal.Rollback(ctx)
			onDone(strategy.Result{Outcome: strategy.Cancelled})
			return
		}
		if !rightWins(left, right) {
			// left's value is already the journal's baseline.
			continue
		}
		key := []byte(k)
		if objID, ok := rightChanges[k]; ok {
			if err := journal.Put(ctx, key, objID, mergevalue.Eager); err != nil {
				journal.Rollback(ctx)
				onDone(strategy.Result{Outcome: strategy.Failed, Err: err})
				return
			}
			continue
		}
		if _, ok := rightDeletions[k]; ok {
			if err := journal.Delete(ctx, key); err != nil {
				journal.Rollback(ctx)
				onDone(strategy.Result{Outcome: strategy.Failed, Err: err})
				return
			}
			continue
		}
		// right never touched this key: its value equals ancestor's.
		entry, err := store.GetEntryFromCommit(ctx, right, key)
		if pageerr.Is(err, pageerr.NotFound) {
			if err := journal.Delete(ctx, key); err != nil {
				journal.Rollback(ctx)
				onDone(strategy.Result{Outcome: strategy.Failed, Err: err})
				return
			}
			continue
		}
		if err != nil {
			journal.Rollback(ctx)
			onDone(strategy.Result{Outcome: strategy.Failed, Err: err})
			return
		}
		if err := journal.Put(ctx, key, entry.ObjectID, mergevalue.Eager); err != nil {
			journal.Rollback(ctx)
			onDone(strategy.Result{Outcome: strategy.Failed, Err: err})
			return
		}
	}

	mergeCommit, err := journal.Commit(ctx)
	if err != nil {
		onDone(strategy.Result{Outcome: strategy.Failed, Err: err})
		return
	}
	onDone(strategy.Result{Outcome: strategy.Success, Commit: mergeCommit})
}

// rightWins reports whether right's head takes priority over left's
// for a conflicting key: greater timestamp wins, ties broken by id.
func rightWins(left, right *commit.Commit) bool {
	if left.Timestamp != right.Timestamp {
		return right.Timestamp > left.Timestamp
	}
	return left.ID.Less(right.ID)
}

// collectDiff walks every page of the from->to diff and flattens it
// into a changed-keys map and a deleted-keys set.
func collectDiff(ctx context.Context, pages storage.PageManager, from, to commit.ID) (map[string]commit.ID, map[string]struct{}, error) {
	changes := make(map[string]commit.ID)
	deletions := make(map[string]struct{})

	var token []byte
	for {
		page, next, err := pages.ComputePageChange(ctx, from, to, token, MaxInlineDataSize)
		if err != nil {
			return nil, nil, err
		}
		for _, entry := range page.Changes {
			changes[string(entry.Key)] = entry.ObjectID
		}
		for _, key := range page.Deletions {
			deletions[string(key)] = struct{}{}
		}
		if len(next) == 0 {
			break
		}
		token = next
	}
	return changes, deletions, nil
}
