package external

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"sync"

	"pagekv/internal/commit"
	"pagekv/internal/mergevalue"
	"pagekv/internal/pageerr"
	"pagekv/internal/resolverrpc"
	"pagekv/internal/storage"
	"pagekv/internal/strategy"
)

// MaxInlineDataSize bounds one diff page.
const MaxInlineDataSize = 64 * 1024

// Strategy is the external resolver client: it delegates merges to an
// out-of-process resolver over a dialed resolverrpc.ResolverClient. A
// single instance handles merges one at a time, never two
// concurrently.
type Strategy struct {
	client resolverrpc.ResolverClient

	mu      sync.Mutex
	current *session
}

// New wraps client, the already-dialed connection to the external
// resolver process.
func New(client resolverrpc.ResolverClient) *Strategy {
	return &Strategy{client: client}
}

// Merge implements strategy.Strategy. Callers must pass left with the
// greater-or-equal timestamp; the controller (internal/mergeresolver)
// is responsible for that ordering.
func (s *Strategy) Merge(ctx context.Context, store storage.Store, pages storage.PageManager, left, right, ancestor *commit.Commit, onDone func(strategy.Result)) {
	if left.Timestamp < right.Timestamp {
		onDone(strategy.Result{Outcome: strategy.Failed, Err: fmt.Errorf("external: precondition violated: left.timestamp %d < right.timestamp %d", left.Timestamp, right.Timestamp)})
		return
	}

	sessCtx, cancel := context.WithCancel(ctx)
	sess := &session{
		ctx:      sessCtx,
		cancel:   cancel,
		store:    store,
		pages:    pages,
		left:     left,
		right:    right,
		ancestor: ancestor,
		onDone:   onDone,
	}

	s.mu.Lock()
	s.current = sess
	s.mu.Unlock()

	go sess.run(s.client)
}

// Cancel implements strategy.Strategy.
func (s *Strategy) Cancel() {
	s.mu.Lock()
	sess := s.current
	s.mu.Unlock()
	if sess != nil {
		sess.requestCancel()
	}
}

// session holds the state of one in-flight merge.
type session struct {
	ctx    context.Context
	cancel context.CancelFunc

	store    storage.Store
	pages    storage.PageManager
	left     *commit.Commit
	right    *commit.Commit
	ancestor *commit.Commit
	onDone   func(strategy.Result)

	journal storage.Journal
	stream  resolverrpc.ResolverService_ResolveClient
	ops     operationSerializer

	mu              sync.Mutex
	cancelled       bool
	inClientRequest bool
	finalized       bool
}

func (sess *session) requestCancel() {
	sess.mu.Lock()
	sess.cancelled = true
	inFlight := sess.inClientRequest
	sess.mu.Unlock()

	if inFlight {
		sess.finalize(strategy.Result{Outcome: strategy.Cancelled})
	}
	// Otherwise the next result-provider callback observes cancelled
	// and finalizes itself.
}

func (sess *session) isCancelled() bool {
	sess.mu.Lock()
	defer sess.mu.Unlock()
	return sess.cancelled
}

func (sess *session) setInClientRequest(v bool) {
	sess.mu.Lock()
	sess.inClientRequest = v
	sess.mu.Unlock()
}

// finalize rolls back or leaves the journal committed and fires
// onDone exactly once. All outstanding callbacks are safe against
// this having already run, because each checks finalized under lock.
func (sess *session) finalize(result strategy.Result) {
	sess.mu.Lock()
	if sess.finalized {
		sess.mu.Unlock()
		return
	}
	sess.finalized = true
	sess.mu.Unlock()

	if result.Outcome != strategy.Success && sess.journal != nil {
		sess.journal.Rollback(sess.ctx)
	}
	sess.cancel()
	sess.onDone(result)
}

func (sess *session) run(client resolverrpc.ResolverClient) {
	journal, err := sess.store.StartMergeCommit(sess.ctx, sess.left.ID, sess.right.ID)
	if err != nil {
		sess.finalize(strategy.Result{Outcome: strategy.Failed, Err: err})
		return
	}
	sess.journal = journal

	stream, err := client.Resolve(sess.ctx, resolverrpc.CallOption())
	if err != nil {
		sess.finalize(strategy.Result{Outcome: strategy.Failed, Err: err})
		return
	}
	sess.stream = stream

	if err := stream.Send(&resolverrpc.ClientMessage{
		Kind: resolverrpc.ClientBegin,
		Begin: &resolverrpc.BeginPayload{
			LeftID:     sess.left.ID[:],
			RightID:    sess.right.ID[:],
			AncestorID: sess.ancestor.ID[:],
		},
	}); err != nil {
		sess.finalize(strategy.Result{Outcome: strategy.Failed, Err: err})
		return
	}

	for {
		if sess.isCancelled() {
			sess.finalize(strategy.Result{Outcome: strategy.Cancelled})
			return
		}

		msg, err := stream.Recv()
		if err == io.EOF {
			sess.finalize(strategy.Result{Outcome: strategy.Failed, Err: fmt.Errorf("external: resolver closed stream without done")})
			return
		}
		if err != nil {
			sess.finalize(strategy.Result{Outcome: strategy.Failed, Err: err})
			return
		}

		sess.setInClientRequest(true)
		done, final := sess.handle(msg)
		sess.setInClientRequest(false)

		if done != nil {
			<-done
		}
		if final {
			return
		}
	}
}

// handle processes one resolver message via the operation serializer
// and returns a channel closed once processing (and its reply) has
// completed, plus whether the session is now finished.
func (sess *session) handle(msg *resolverrpc.ResolverMessage) (chan struct{}, bool) {
	if sess.isCancelled() {
		sess.finalize(strategy.Result{Outcome: strategy.Cancelled})
		return nil, true
	}

	signal := make(chan struct{})
	switch msg.Kind {
	case resolverrpc.ResolverGetLeftDiff:
		sess.ops.enqueue(func(opDone func()) {
			sess.handleDiff(msg, true)
			close(signal)
			opDone()
		})
		return signal, false
	case resolverrpc.ResolverGetRightDiff:
		sess.ops.enqueue(func(opDone func()) {
			sess.handleDiff(msg, false)
			close(signal)
			opDone()
		})
		return signal, false
	case resolverrpc.ResolverMerge:
		sess.ops.enqueue(func(opDone func()) {
			sess.handleMerge(msg)
			close(signal)
			opDone()
		})
		return signal, false
	case resolverrpc.ResolverDone:
		sess.ops.enqueue(func(opDone func()) {
			sess.handleDone(msg)
			close(signal)
			opDone()
		})
		return signal, true
	default:
		log.Printf("external: unknown resolver message kind %q", msg.Kind)
		close(signal)
		return signal, false
	}
}

func (sess *session) handleDiff(msg *resolverrpc.ResolverMessage, left bool) {
	from := sess.ancestor.ID
	var to commit.ID
	if left {
		to = sess.left.ID
	} else {
		to = sess.right.ID
	}

	change, next, err := sess.pages.ComputePageChange(sess.ctx, from, to, msg.Token, MaxInlineDataSize)
	if err != nil {
		log.Printf("external: diff lookup failed: %v", err)
		sess.finalize(strategy.Result{Outcome: strategy.Failed, Err: err})
		return
	}

	status := "OK"
	if len(next) > 0 {
		status = "PARTIAL_RESULT"
	}
	wire := &resolverrpc.PageChangeWire{Status: status, NextToken: next}
	for _, e := range change.Changes {
		wire.Changes = append(wire.Changes, resolverrpc.EntryWire{Key: e.Key, ObjectID: e.ObjectID[:]})
	}
	wire.Deletions = change.Deletions

	reply := &resolverrpc.ClientMessage{RequestID: msg.RequestID}
	if left {
		reply.Kind = resolverrpc.ClientLeftDiffResult
		reply.LeftDiffResult = wire
	} else {
		reply.Kind = resolverrpc.ClientRightDiffResult
		reply.RightDiffResult = wire
	}
	if err := sess.stream.Send(reply); err != nil {
		sess.finalize(strategy.Result{Outcome: strategy.Failed, Err: err})
	}
}

func (sess *session) handleMerge(msg *resolverrpc.ResolverMessage) {
	status := &resolverrpc.StatusWire{Status: "OK"}
	if err := sess.applyBatch(msg.Values); err != nil {
		status = &resolverrpc.StatusWire{Status: statusFromErr(err), ErrorMessage: err.Error()}
		log.Printf("external: merge batch failed: %v", err)
	}
	if err := sess.stream.Send(&resolverrpc.ClientMessage{
		Kind:        resolverrpc.ClientMergeResult,
		RequestID:   msg.RequestID,
		MergeResult: status,
	}); err != nil {
		sess.finalize(strategy.Result{Outcome: strategy.Failed, Err: err})
		return
	}
	if status.Status != "OK" {
		sess.finalize(strategy.Result{Outcome: strategy.Failed, Err: fmt.Errorf("external: %s", status.ErrorMessage)})
	}
}

func (sess *session) handleDone(msg *resolverrpc.ResolverMessage) {
	mergeCommit, err := sess.journal.Commit(sess.ctx)
	if err != nil {
		sess.stream.Send(&resolverrpc.ClientMessage{
			Kind:       resolverrpc.ClientDoneResult,
			RequestID:  msg.RequestID,
			DoneResult: &resolverrpc.StatusWire{Status: statusFromErr(err), ErrorMessage: err.Error()},
		})
		sess.finalize(strategy.Result{Outcome: strategy.Failed, Err: err})
		return
	}
	sess.stream.Send(&resolverrpc.ClientMessage{
		Kind:       resolverrpc.ClientDoneResult,
		RequestID:  msg.RequestID,
		DoneResult: &resolverrpc.StatusWire{Status: "OK"},
	})
	sess.finalize(strategy.Result{Outcome: strategy.Success, Commit: mergeCommit})
}

func (sess *session) applyBatch(values []resolverrpc.MergedValueWire) error {
	for _, w := range values {
		mv, err := mergedValueFromWire(w)
		if err != nil {
			return err
		}
		switch mv.Source {
		case mergevalue.Right:
			entry, err := sess.store.GetEntryFromCommit(sess.ctx, sess.right, mv.Key)
			if err != nil {
				return err
			}
			if err := sess.journal.Put(sess.ctx, mv.Key, entry.ObjectID, mv.Priority); err != nil {
				return err
			}
		case mergevalue.New:
			objID := commit.ID{}
			if mv.NewValue.IsReference() {
				objID = *mv.NewValue.Reference
			} else {
				id, err := sess.store.AddObjectFromLocal(sess.ctx, bytes.NewReader(mv.NewValue.Bytes), int64(len(mv.NewValue.Bytes)))
				if err != nil {
					return err
				}
				objID = id
			}
			if err := sess.journal.Put(sess.ctx, mv.Key, objID, mv.Priority); err != nil {
				return err
			}
		case mergevalue.Delete:
			if err := sess.journal.Delete(sess.ctx, mv.Key); err != nil {
				return err
			}
		}
	}
	return nil
}

// statusFromErr maps err to the wire status string the resolver
// protocol expects. A *pageerr.Error carries its own code (e.g.
// NotFound when a RIGHT value names a key absent from right); any
// other error is reported as a generic internal error.
func statusFromErr(err error) string {
	var pe *pageerr.Error
	if errors.As(err, &pe) {
		return pe.Code.String()
	}
	return pageerr.InternalError.String()
}

func mergedValueFromWire(w resolverrpc.MergedValueWire) (mergevalue.MergedValue, error) {
	mv := mergevalue.MergedValue{Key: w.Key}

	switch w.Source {
	case "RIGHT":
		mv.Source = mergevalue.Right
	case "NEW":
		mv.Source = mergevalue.New
	case "DELETE":
		mv.Source = mergevalue.Delete
	default:
		return mv, fmt.Errorf("external: unknown merged value source %q", w.Source)
	}

	switch w.Priority {
	case "LAZY":
		mv.Priority = mergevalue.Lazy
	default:
		mv.Priority = mergevalue.Eager
	}

	if mv.Source == mergevalue.New {
		if len(w.ReferenceID) > 0 {
			id, err := idFromBytes(w.ReferenceID)
			if err != nil {
				return mv, err
			}
			mv.NewValue = mergevalue.NewValue{Reference: &id}
		} else {
			mv.NewValue = mergevalue.NewValue{Bytes: w.Bytes}
		}
	}
	return mv, nil
}

func idFromBytes(b []byte) (commit.ID, error) {
	var id commit.ID
	if len(b) != commit.IDSize {
		return id, pageerr.Internal(fmt.Sprintf("external: invalid id length %d", len(b)))
	}
	copy(id[:], b)
	return id, nil
}
