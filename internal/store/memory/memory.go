// Package memory is an in-process, mutex-guarded implementation of
// the store abstraction, grounded on the teacher's
// internal/repo/memory/events_repo.go (a map keyed by id behind a
// sync.RWMutex, sorted slices on List). It backs unit tests for the
// evaluator, dispatcher, executor, reaper, and dormant-activation
// components without a Postgres instance.
package memory

import (
	"context"
	"sort"
	"sync"

	"github.com/chainsharp/scheduler/internal/domain/deadletter"
	"github.com/chainsharp/scheduler/internal/domain/execution"
	"github.com/chainsharp/scheduler/internal/domain/manifest"
	"github.com/chainsharp/scheduler/internal/domain/manifestgroup"
	"github.com/chainsharp/scheduler/internal/domain/workqueue"
	"github.com/chainsharp/scheduler/internal/store"
)

// state is the shared, mutable backing for every in-memory DataContext
// handed out from the same Store. A DataContext obtained from
// BeginTransaction shares the same *state but holds state.mu across
// the whole unit of work, exactly as a real Postgres transaction would
// serialize concurrent writers.
type state struct {
	mu sync.Mutex

	groups      map[int64]manifestgroup.ManifestGroup
	groupsByKey map[string]int64
	nextGroupID int64

	manifests      map[int64]manifest.Manifest
	manifestsByExt map[string]int64
	nextManifestID int64

	queue           map[int64]workqueue.Entry
	queuedByManifest map[int64]int64 // manifestID -> queue entry id, only while status=queued
	nextQueueID     int64

	metadata      map[int64]execution.Metadata
	nextMetadataID int64

	deadLetters   map[int64]deadletter.DeadLetter
	nextDLID      int64

	advisoryLocks map[int64]bool
}

func newState() *state {
	return &state{
		groups:           make(map[int64]manifestgroup.ManifestGroup),
		groupsByKey:      make(map[string]int64),
		manifests:        make(map[int64]manifest.Manifest),
		manifestsByExt:   make(map[string]int64),
		queue:            make(map[int64]workqueue.Entry),
		queuedByManifest: make(map[int64]int64),
		metadata:         make(map[int64]execution.Metadata),
		deadLetters:      make(map[int64]deadletter.DeadLetter),
		advisoryLocks:    make(map[int64]bool),
	}
}

// clone deep-copies every map so a transaction can roll back to this
// snapshot without the real Postgres rollback machinery.
func (s *state) clone() *state {
	c := newState()
	for k, v := range s.groups {
		c.groups[k] = v
	}
	for k, v := range s.groupsByKey {
		c.groupsByKey[k] = v
	}
	for k, v := range s.manifests {
		c.manifests[k] = v
	}
	for k, v := range s.manifestsByExt {
		c.manifestsByExt[k] = v
	}
	for k, v := range s.queue {
		c.queue[k] = v
	}
	for k, v := range s.queuedByManifest {
		c.queuedByManifest[k] = v
	}
	for k, v := range s.metadata {
		c.metadata[k] = v
	}
	for k, v := range s.deadLetters {
		c.deadLetters[k] = v
	}
	for k, v := range s.advisoryLocks {
		c.advisoryLocks[k] = v
	}
	c.nextGroupID = s.nextGroupID
	c.nextManifestID = s.nextManifestID
	c.nextQueueID = s.nextQueueID
	c.nextMetadataID = s.nextMetadataID
	c.nextDLID = s.nextDLID
	return c
}

func (s *state) restore(from *state) {
	s.groups = from.groups
	s.groupsByKey = from.groupsByKey
	s.manifests = from.manifests
	s.manifestsByExt = from.manifestsByExt
	s.queue = from.queue
	s.queuedByManifest = from.queuedByManifest
	s.metadata = from.metadata
	s.deadLetters = from.deadLetters
	s.advisoryLocks = from.advisoryLocks
	s.nextGroupID = from.nextGroupID
	s.nextManifestID = from.nextManifestID
	s.nextQueueID = from.nextQueueID
	s.nextMetadataID = from.nextMetadataID
	s.nextDLID = from.nextDLID
}

// Store is the top-level handle tests construct; DataContext() returns
// a fresh store.DataContext bound to it.
type Store struct {
	st *state
}

func New() *Store {
	return &Store{st: newState()}
}

func (s *Store) DataContext() store.DataContext {
	return &dataContext{st: s.st, locked: false}
}

// dataContext is the in-memory store.DataContext. When locked is true
// it was obtained from BeginTransaction and already holds st.mu.
type dataContext struct {
	st     *state
	locked bool
	snapshot *state
}

func (dc *dataContext) withLock(fn func()) {
	if dc.locked {
		fn()
		return
	}
	dc.st.mu.Lock()
	defer dc.st.mu.Unlock()
	fn()
}

func (dc *dataContext) ManifestGroups() store.ManifestGroupStore { return &groupRepo{dc: dc} }
func (dc *dataContext) Manifests() store.ManifestStore           { return &manifestRepo{dc: dc} }
func (dc *dataContext) WorkQueue() store.WorkQueueStore          { return &queueRepo{dc: dc} }
func (dc *dataContext) Executions() store.ExecutionStore         { return &executionRepo{dc: dc} }
func (dc *dataContext) DeadLetters() store.DeadLetterStore       { return &deadLetterRepo{dc: dc} }

// BeginTransaction locks the shared state for the duration of the
// returned Tx and snapshots it so Rollback can restore it, mirroring
// Postgres transaction isolation closely enough for single-process
// tests.
func (dc *dataContext) BeginTransaction(ctx context.Context) (store.DataContext, store.Tx, error) {
	dc.st.mu.Lock()
	snap := dc.st.clone()
	txDC := &dataContext{st: dc.st, locked: true, snapshot: snap}
	return txDC, &tx{dc: txDC}, nil
}

type tx struct {
	dc   *dataContext
	done bool
}

func (t *tx) Commit(ctx context.Context) error {
	if t.done {
		return nil
	}
	t.done = true
	for key, held := range t.dc.st.advisoryLocks {
		if held {
			delete(t.dc.st.advisoryLocks, key)
		}
	}
	t.dc.st.mu.Unlock()
	return nil
}

func (t *tx) Rollback(ctx context.Context) error {
	if t.done {
		return nil
	}
	t.done = true
	t.dc.st.restore(t.dc.snapshot)
	t.dc.st.mu.Unlock()
	return nil
}

// TryAdvisoryLock mimics pg_try_advisory_xact_lock: the first caller
// within a live transaction to ask for a key wins; it's released when
// that transaction commits or rolls back.
func (dc *dataContext) TryAdvisoryLock(ctx context.Context, key int64) (bool, error) {
	var acquired bool
	dc.withLock(func() {
		if dc.st.advisoryLocks[key] {
			acquired = false
			return
		}
		dc.st.advisoryLocks[key] = true
		acquired = true
	})
	return acquired, nil
}

func sortedKeys[V any](m map[int64]V, less func(a, b V) bool) []V {
	out := make([]V, 0, len(m))
	for _, v := range m {
		out = append(out, v)
	}
	sort.Slice(out, func(i, j int) bool { return less(out[i], out[j]) })
	return out
}
