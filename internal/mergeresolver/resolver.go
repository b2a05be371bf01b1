package mergeresolver

import (
	"context"
	"log"
	"sort"
	"sync"

	"pagekv/internal/ancestor"
	"pagekv/internal/commit"
	"pagekv/internal/pageenv"
	"pagekv/internal/storage"
	"pagekv/internal/strategy"
)

// Resolver is one page's merge resolver controller. It registers
// itself as a storage.CommitWatcher at construction and drives at
// most one merge at a time.
type Resolver struct {
	pageID string
	env    *pageenv.Environment
	store  storage.Store
	graph  ancestor.Graph

	mu              sync.Mutex
	strategy        strategy.Strategy
	nextStrategy    strategy.Strategy
	hasNextStrategy bool
	pages           storage.PageManager
	mergeInProgress bool
	destroyed       bool
	onEmpty         func()
	onDestroyed     func()
}

// New constructs a Resolver watching store for pageID and registers
// it as a commit watcher. The controller is inert (check_conflicts is
// a no-op) until SetMergeStrategy and SetPageManager are both called.
func New(env *pageenv.Environment, store storage.Store, graph ancestor.Graph, pageID string) *Resolver {
	r := &Resolver{
		pageID: pageID,
		env:    env,
		store:  store,
		graph:  graph,
	}
	store.AddCommitWatcher(r)
	return r
}

// OnNewCommits implements storage.CommitWatcher. It reacts identically
// regardless of source (local or synced).
func (r *Resolver) OnNewCommits(ctx context.Context, commits []*commit.Commit, source storage.NewCommitsSource) {
	r.postCheckConflicts()
}

// SetMergeStrategy installs s. If a merge is in progress, s is
// deferred as next_strategy and the in-flight strategy is cancelled;
// the swap happens once that merge's cleanup runs.
func (r *Resolver) SetMergeStrategy(s strategy.Strategy) {
	r.mu.Lock()
	if r.mergeInProgress {
		r.nextStrategy = s
		r.hasNextStrategy = true
		current := r.strategy
		r.mu.Unlock()
		if current != nil {
			current.Cancel()
		}
		return
	}
	r.strategy = s
	r.mu.Unlock()
	r.postCheckConflicts()
}

// SetPageManager must be called exactly once before the first merge;
// the controller is inert until it is set.
func (r *Resolver) SetPageManager(pm storage.PageManager) {
	r.mu.Lock()
	r.pages = pm
	r.mu.Unlock()
}

// SetOnEmpty registers cb to fire whenever merge_in_progress
// transitions back to false.
func (r *Resolver) SetOnEmpty(cb func()) {
	r.mu.Lock()
	r.onEmpty = cb
	r.mu.Unlock()
}

// SetOnDestroyed registers cb to fire from Destroy.
func (r *Resolver) SetOnDestroyed(cb func()) {
	r.mu.Lock()
	r.onDestroyed = cb
	r.mu.Unlock()
}

// Destroy unregisters the controller from storage and fires
// on_destroyed. Scheduled callbacks observe destroyed and become
// no-ops, a weak-self-reference pattern adapted to Go as an explicit
// flag check.
func (r *Resolver) Destroy() {
	r.mu.Lock()
	r.destroyed = true
	cb := r.onDestroyed
	r.mu.Unlock()
	r.store.RemoveCommitWatcher(r)
	if cb != nil {
		cb()
	}
}

func (r *Resolver) isDestroyed() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.destroyed
}

// postCheckConflicts schedules check_conflicts after a randomized
// debounce delay.
func (r *Resolver) postCheckConflicts() {
	delay := r.env.RandomDebounceDelay()
	r.env.MainRunner.PostDelayed(delay, func() {
		if r.isDestroyed() {
			return
		}
		r.checkConflicts()
	})
}

// checkConflicts is a no-op if there is no strategy, no page manager,
// a merge is already in progress, or there is a single head.
func (r *Resolver) checkConflicts() {
	r.mu.Lock()
	idle := r.strategy == nil || r.pages == nil || r.mergeInProgress
	r.mu.Unlock()
	if idle {
		return
	}

	ctx := context.Background()
	heads, err := r.store.GetHeadCommitIDs(ctx)
	if err != nil {
		log.Printf("[%s] check_conflicts: get_head_commit_ids failed: %v", r.pageID, err)
		return
	}
	if len(heads) <= 1 {
		return
	}
	sort.Slice(heads, func(i, j int) bool { return heads[i].Less(heads[j]) })
	r.resolveConflicts(ctx, heads[:2])
}

// resolveConflicts requires at least two sorted heads and runs one
// merge attempt, arming a scoped cleanup on every exit path.
func (r *Resolver) resolveConflicts(ctx context.Context, heads []commit.ID) {
	r.mu.Lock()
	r.mergeInProgress = true
	r.mu.Unlock()

	cleanup := func() {
		r.mu.Lock()
		r.mergeInProgress = false
		if r.hasNextStrategy {
			r.strategy = r.nextStrategy
			r.nextStrategy = nil
			r.hasNextStrategy = false
		}
		onEmpty := r.onEmpty
		r.mu.Unlock()

		r.postCheckConflicts()
		if onEmpty != nil {
			onEmpty()
		}
	}

	h1, err := r.store.GetCommit(ctx, heads[0])
	if err != nil {
		log.Printf("[%s] resolve_conflicts: get_commit(%s) failed: %v", r.pageID, heads[0], err)
		cleanup()
		return
	}
	h2, err := r.store.GetCommit(ctx, heads[1])
	if err != nil {
		log.Printf("[%s] resolve_conflicts: get_commit(%s) failed: %v", r.pageID, heads[1], err)
		cleanup()
		return
	}

	// Identical content fast path: no strategy is consulted.
	if h1.RootID == h2.RootID {
		if _, err := r.store.MergeIdenticalCommits(ctx, h1, h2); err != nil {
			log.Printf("[%s] resolve_conflicts: merge_identical_commits failed: %v", r.pageID, err)
		}
		cleanup()
		return
	}

	if r.swapPending() {
		cleanup()
		return
	}

	older, newer := h1, h2
	if h2.Timestamp < h1.Timestamp {
		older, newer = h2, h1
	}
	// The external client requires left.timestamp >= right.timestamp,
	// so the newer head is passed as left.
	left, right := newer, older

	ancestorCommit, err := ancestor.Find(ctx, r.graph, left.ID, right.ID)
	if err != nil {
		log.Printf("[%s] resolve_conflicts: find_common_ancestor failed: %v", r.pageID, err)
		cleanup()
		return
	}

	if r.swapPending() {
		cleanup()
		return
	}

	r.mu.Lock()
	strat := r.strategy
	pages := r.pages
	r.mu.Unlock()
	if pages == nil {
		log.Printf("[%s] resolve_conflicts: no page manager set, deferring", r.pageID)
		cleanup()
		return
	}

	strat.Merge(ctx, r.store, pages, left, right, ancestorCommit, func(res strategy.Result) {
		r.env.MainRunner.Post(func() {
			switch res.Outcome {
			case strategy.Failed:
				log.Printf("[%s] merge failed: %v", r.pageID, res.Err)
			case strategy.Cancelled:
				log.Printf("[%s] merge cancelled", r.pageID)
			case strategy.Success:
				log.Printf("[%s] merge produced commit %s", r.pageID, res.Commit.ID)
			}
			cleanup()
		})
	})
}

func (r *Resolver) swapPending() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.hasNextStrategy
}
