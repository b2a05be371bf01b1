package oracle

import (
	"context"

	"pagekv/internal/commit"
	"pagekv/internal/storage"
)

// Oracle is a read-only view of a page's commit DAG.
type Oracle struct {
	store storage.Store
}

// New wraps store as a Commit Graph Oracle.
func New(store storage.Store) *Oracle {
	return &Oracle{store: store}
}

// Heads returns the page's current head commit ids.
func (o *Oracle) Heads(ctx context.Context) ([]commit.ID, error) {
	return o.store.GetHeadCommitIDs(ctx)
}

// Commit looks up a commit by id.
func (o *Oracle) Commit(ctx context.Context, id commit.ID) (*commit.Commit, error) {
	return o.store.GetCommit(ctx, id)
}

// Parents returns id's parent ids (zero, one, or two).
func (o *Oracle) Parents(ctx context.Context, id commit.ID) ([]commit.ID, error) {
	c, err := o.store.GetCommit(ctx, id)
	if err != nil {
		return nil, err
	}
	return c.ParentIDs, nil
}

// Timestamp returns id's assigned timestamp.
func (o *Oracle) Timestamp(ctx context.Context, id commit.ID) (int64, error) {
	c, err := o.store.GetCommit(ctx, id)
	if err != nil {
		return 0, err
	}
	return c.Timestamp, nil
}

// RootID returns id's entries tree id.
func (o *Oracle) RootID(ctx context.Context, id commit.ID) (commit.ID, error) {
	c, err := o.store.GetCommit(ctx, id)
	if err != nil {
		return commit.ID{}, err
	}
	return c.RootID, nil
}
