package memory

import (
	"context"
	"sort"
	"time"

	"github.com/chainsharp/scheduler/internal/domain/workqueue"
)

type queueRepo struct {
	dc *dataContext
}

func nowUTC() time.Time { return time.Now().UTC() }

func (r *queueRepo) Enqueue(ctx context.Context, e workqueue.Entry) (workqueue.Entry, error) {
	var err error
	r.dc.withLock(func() {
		if e.ManifestID != nil {
			if _, already := r.dc.st.queuedByManifest[*e.ManifestID]; already {
				err = workqueue.ErrDuplicateQueued
				return
			}
		}
		r.dc.st.nextQueueID++
		e.ID = r.dc.st.nextQueueID
		r.dc.st.queue[e.ID] = e
		if e.ManifestID != nil {
			r.dc.st.queuedByManifest[*e.ManifestID] = e.ID
		}
	})
	if err != nil {
		return workqueue.Entry{}, err
	}
	return e, nil
}

// groupPriority resolves the manifest_group.priority that dominates
// dispatch order, defaulting to 0 for ad-hoc entries and for manifests
// whose group lookup fails (already excluded as disabled upstream).
func (r *queueRepo) groupPriority(e workqueue.Entry) int {
	if e.ManifestID == nil {
		return 0
	}
	m, ok := r.dc.st.manifests[*e.ManifestID]
	if !ok {
		return 0
	}
	g, ok := r.dc.st.groups[m.ManifestGroupID]
	if !ok {
		return 0
	}
	return g.Priority
}

func (r *queueRepo) LoadQueuedForDispatch(ctx context.Context) ([]workqueue.Entry, error) {
	var out []workqueue.Entry
	r.dc.withLock(func() {
		for _, e := range r.dc.st.queue {
			if e.Status != workqueue.StatusQueued {
				continue
			}
			if e.ManifestID != nil {
				m, ok := r.dc.st.manifests[*e.ManifestID]
				if !ok {
					continue
				}
				g, ok := r.dc.st.groups[m.ManifestGroupID]
				if !ok || !g.IsEnabled {
					continue
				}
			}
			out = append(out, e)
		}
	})
	sort.Slice(out, func(i, j int) bool {
		gi, gj := r.groupPriority(out[i]), r.groupPriority(out[j])
		if gi != gj {
			return gi > gj
		}
		if out[i].Priority != out[j].Priority {
			return out[i].Priority > out[j].Priority
		}
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	return out, nil
}

func (r *queueRepo) MarkDispatched(ctx context.Context, id int64, metadataID int64) error {
	var err error
	r.dc.withLock(func() {
		e, ok := r.dc.st.queue[id]
		if !ok || e.Status != workqueue.StatusQueued {
			err = workqueue.ErrEntryNotFound
			return
		}
		now := nowUTC()
		e.Status = workqueue.StatusDispatched
		e.MetadataID = &metadataID
		e.DispatchedAt = &now
		r.dc.st.queue[id] = e
		if e.ManifestID != nil {
			delete(r.dc.st.queuedByManifest, *e.ManifestID)
		}
	})
	return err
}

func (r *queueRepo) Cancel(ctx context.Context, id int64) error {
	var err error
	r.dc.withLock(func() {
		e, ok := r.dc.st.queue[id]
		if !ok || e.Status != workqueue.StatusQueued {
			err = workqueue.ErrEntryNotFound
			return
		}
		e.Status = workqueue.StatusCancelled
		r.dc.st.queue[id] = e
		if e.ManifestID != nil {
			delete(r.dc.st.queuedByManifest, *e.ManifestID)
		}
	})
	return err
}

func (r *queueRepo) GetByManifestID(ctx context.Context, manifestID int64) (workqueue.Entry, bool, error) {
	var e workqueue.Entry
	var found bool
	r.dc.withLock(func() {
		id, ok := r.dc.st.queuedByManifest[manifestID]
		if !ok {
			return
		}
		e, found = r.dc.st.queue[id], true
	})
	return e, found, nil
}
