package mergeresolver

import (
	"context"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"pagekv/internal/clock"
	"pagekv/internal/commit"
	"pagekv/internal/fakestorage"
	"pagekv/internal/mergevalue"
	"pagekv/internal/oracle"
	"pagekv/internal/pageenv"
	"pagekv/internal/scheduler"
	"pagekv/internal/storage"
	"pagekv/internal/strategy"
)

func newTestEnv() (*pageenv.Environment, *scheduler.Runner, *clock.Fake) {
	clk := clock.NewFake(0)
	runner := scheduler.New()
	return pageenv.New(runner, clk), runner, clk
}

func putKey(t *testing.T, ctx context.Context, s *fakestorage.FakeStorage, parent commit.ID, key, value string) *commit.Commit {
	t.Helper()
	j, err := s.StartCommit(ctx, parent, 0)
	require.NoError(t, err)
	objID, err := s.AddObjectFromLocal(ctx, strings.NewReader(value), int64(len(value)))
	require.NoError(t, err)
	require.NoError(t, j.Put(ctx, []byte(key), objID, mergevalue.Eager))
	c, err := j.Commit(ctx)
	require.NoError(t, err)
	return c
}

func TestIdenticalRootFastPathSkipsStrategy(t *testing.T) {
	ctx := context.Background()
	env, runner, clk := newTestEnv()
	defer runner.StopAndWait()

	store := fakestorage.New(clk)

	var sharedRoot commit.ID
	sharedRoot[0] = 0xAA
	entries := map[string]commit.ID{}

	var idA, idB commit.ID
	idA[0] = 0x01
	idB[0] = 0x02
	store.SeedCommit(&commit.Commit{ID: idA, ParentIDs: []commit.ID{commit.RootCommitID}, Timestamp: 10, RootID: sharedRoot}, entries)
	store.SeedCommit(&commit.Commit{ID: idB, ParentIDs: []commit.ID{commit.RootCommitID}, Timestamp: 20, RootID: sharedRoot}, entries)

	r := New(env, store, oracle.New(store), "page-identical-roots")
	r.SetPageManager(store)

	emptyCh := make(chan struct{}, 1)
	r.SetOnEmpty(func() {
		select {
		case emptyCh <- struct{}{}:
		default:
		}
	})

	r.SetMergeStrategy(noopMergeStrategy{t: t})

	select {
	case <-emptyCh:
	case <-time.After(2 * time.Second):
		t.Fatal("resolve_conflicts did not complete")
	}

	heads, err := store.GetHeadCommitIDs(ctx)
	require.NoError(t, err)
	require.Len(t, heads, 1)

	merged, err := store.GetCommit(ctx, heads[0])
	require.NoError(t, err)
	require.Equal(t, int64(10), merged.Timestamp)
}

// noopMergeStrategy fails the test if Merge is ever invoked; the
// identical-root fast path must never reach a strategy.
type noopMergeStrategy struct {
	t *testing.T
}

func (s noopMergeStrategy) Merge(ctx context.Context, store storage.Store, pages storage.PageManager, left, right, ancestor *commit.Commit, onDone func(strategy.Result)) {
	// Errorf, not Fatal: this may run on the scheduler's goroutine, and
	// only the test's own goroutine may call FailNow.
	s.t.Errorf("strategy.Merge should not be called on the identical-root fast path")
}
func (s noopMergeStrategy) Cancel() {}

// controllableStrategy lets a test observe Merge being invoked and
// decide exactly when it completes, via an explicit onDone capture.
type controllableStrategy struct {
	mu          sync.Mutex
	onDone      func(strategy.Result)
	mergeCalled chan struct{}
}

func newControllableStrategy() *controllableStrategy {
	return &controllableStrategy{mergeCalled: make(chan struct{})}
}

func (c *controllableStrategy) Merge(ctx context.Context, store storage.Store, pages storage.PageManager, left, right, ancestor *commit.Commit, onDone func(strategy.Result)) {
	c.mu.Lock()
	c.onDone = onDone
	c.mu.Unlock()
	close(c.mergeCalled)
}

func (c *controllableStrategy) Cancel() {
	c.mu.Lock()
	onDone := c.onDone
	c.mu.Unlock()
	if onDone != nil {
		onDone(strategy.Result{Outcome: strategy.Cancelled})
	}
}

func TestSetMergeStrategyMidMergeCancelsThenSwaps(t *testing.T) {
	ctx := context.Background()
	env, runner, clk := newTestEnv()
	defer runner.StopAndWait()

	store := fakestorage.New(clk)
	clk.Advance(10)
	putKey(t, ctx, store, commit.RootCommitID, "a", "1")
	clk.Advance(10)
	putKey(t, ctx, store, commit.RootCommitID, "b", "2")

	r := New(env, store, oracle.New(store), "page-mid-merge-swap")
	r.SetPageManager(store)

	first := newControllableStrategy()
	r.SetMergeStrategy(first)

	select {
	case <-first.mergeCalled:
	case <-time.After(2 * time.Second):
		t.Fatal("first strategy's Merge was never called")
	}

	second := newControllableStrategy()
	r.SetMergeStrategy(second) // merge in progress: deferred + cancel

	select {
	case <-second.mergeCalled:
	case <-time.After(2 * time.Second):
		t.Fatal("second strategy's Merge was never called after swap")
	}
}
