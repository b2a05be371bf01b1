package ancestor

import (
	"container/heap"
	"context"
	"fmt"

	"pagekv/internal/commit"
)

// Graph is the subset of the Commit Graph Oracle the search needs:
// id-to-commit lookup. *oracle.Oracle satisfies this.
type Graph interface {
	Commit(ctx context.Context, id commit.ID) (*commit.Commit, error)
}

// side tags which input subtree has reached a commit.
type side uint8

const (
	leftSide  side = 1 << 0
	rightSide side = 1 << 1
	bothSides      = leftSide | rightSide
)

// frontierItem is one entry in the max-heap, keyed newest-first by
// (timestamp, id).
type frontierItem struct {
	id        commit.ID
	timestamp int64
}

type frontierHeap []frontierItem

func (h frontierHeap) Len() int { return len(h) }

func (h frontierHeap) Less(i, j int) bool {
	if h[i].timestamp != h[j].timestamp {
		return h[i].timestamp > h[j].timestamp // newest first
	}
	return h[i].id.Less(h[j].id) // deterministic tie-break
}

func (h frontierHeap) Swap(i, j int) { h[i], h[j] = h[j], h[i] }

func (h *frontierHeap) Push(x interface{}) {
	*h = append(*h, x.(frontierItem))
}

func (h *frontierHeap) Pop() interface{} {
	old := *h
	n := len(old)
	item := old[n-1]
	*h = old[:n-1]
	return item
}

// Find returns the lowest common ancestor of left and right: a common
// ancestor with no strictly younger common ancestor. Among multiple
// minimal ancestors under criss-cross merges, the one with the
// greatest timestamp is returned; ties are broken lexicographically by
// id.
func Find(ctx context.Context, g Graph, left, right commit.ID) (*commit.Commit, error) {
	fetched := map[commit.ID]*commit.Commit{}
	fetch := func(id commit.ID) (*commit.Commit, error) {
		if c, ok := fetched[id]; ok {
			return c, nil
		}
		c, err := g.Commit(ctx, id)
		if err != nil {
			return nil, fmt.Errorf("ancestor: fetch %s: %w", id, err)
		}
		fetched[id] = c
		return c, nil
	}

	leftCommit, err := fetch(left)
	if err != nil {
		return nil, err
	}
	rightCommit, err := fetch(right)
	if err != nil {
		return nil, err
	}

	tags := map[commit.ID]side{}
	expanded := map[commit.ID]side{}

	h := &frontierHeap{}
	heap.Init(h)

	tag(tags, left, leftSide)
	heap.Push(h, frontierItem{id: left, timestamp: leftCommit.Timestamp})
	tag(tags, right, rightSide)
	heap.Push(h, frontierItem{id: right, timestamp: rightCommit.Timestamp})

	for h.Len() > 0 {
		item := heap.Pop(h).(frontierItem)

		current := tags[item.id]
		already := expanded[item.id]
		if current&^already == 0 {
			// Nothing new reached this commit since it was last
			// expanded; a stale duplicate heap entry.
			continue
		}

		if current == bothSides {
			return fetch(item.id)
		}

		c, err := fetch(item.id)
		if err != nil {
			return nil, err
		}
		expanded[item.id] = current

		for _, parentID := range c.ParentIDs {
			before := tags[parentID]
			after := before | current
			if after == before {
				continue
			}
			tags[parentID] = after

			parentCommit, err := fetch(parentID)
			if err != nil {
				return nil, err
			}
			heap.Push(h, frontierItem{id: parentID, timestamp: parentCommit.Timestamp})
		}
	}

	// Unreachable for a well-formed DAG: the root is an ancestor of
	// every commit and will accumulate both tags.
	return nil, fmt.Errorf("ancestor: no common ancestor found for %s and %s", left, right)
}

func tag(tags map[commit.ID]side, id commit.ID, s side) {
	tags[id] = tags[id] | s
}
