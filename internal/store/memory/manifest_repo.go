package memory

import (
	"context"
	"strings"
	"time"

	"github.com/chainsharp/scheduler/internal/domain/manifest"
	"github.com/chainsharp/scheduler/internal/store"
)

type manifestRepo struct {
	dc *dataContext
}

func (r *manifestRepo) Upsert(ctx context.Context, m manifest.Manifest) (manifest.Manifest, error) {
	var err error
	r.dc.withLock(func() {
		if id, ok := r.dc.st.manifestsByExt[m.ExternalID]; ok {
			m.ID = id
			existing := r.dc.st.manifests[id]
			m.CreatedAt = existing.CreatedAt
		} else {
			for _, existing := range r.dc.st.manifests {
				if existing.ExternalID == m.ExternalID {
					err = manifest.ErrDuplicateExternalID
					return
				}
			}
			r.dc.st.nextManifestID++
			m.ID = r.dc.st.nextManifestID
		}
		r.dc.st.manifests[m.ID] = m
		r.dc.st.manifestsByExt[m.ExternalID] = m.ID
	})
	if err != nil {
		return manifest.Manifest{}, err
	}
	return m, nil
}

func (r *manifestRepo) GetByExternalID(ctx context.Context, externalID string) (manifest.Manifest, error) {
	var m manifest.Manifest
	var err error
	r.dc.withLock(func() {
		id, ok := r.dc.st.manifestsByExt[externalID]
		if !ok {
			err = manifest.ErrManifestNotFound
			return
		}
		m = r.dc.st.manifests[id]
	})
	return m, err
}

func (r *manifestRepo) GetByID(ctx context.Context, id int64) (manifest.Manifest, error) {
	var m manifest.Manifest
	var err error
	r.dc.withLock(func() {
		v, ok := r.dc.st.manifests[id]
		if !ok {
			err = manifest.ErrManifestNotFound
			return
		}
		m = v
	})
	return m, err
}

func (r *manifestRepo) List(ctx context.Context) ([]manifest.Manifest, error) {
	var out []manifest.Manifest
	r.dc.withLock(func() {
		out = sortedKeys(r.dc.st.manifests, func(a, b manifest.Manifest) bool { return a.ID < b.ID })
	})
	return out, nil
}

// PruneExcept cascade-deletes manifests whose external_id begins with
// prefix and is not in keepExternalIDs, along with their dead-letters
// and metadata, per spec.md §4.2's re-sync semantics.
func (r *manifestRepo) PruneExcept(ctx context.Context, prefix string, keepExternalIDs []string) (int64, error) {
	keep := make(map[string]bool, len(keepExternalIDs))
	for _, id := range keepExternalIDs {
		keep[id] = true
	}

	var n int64
	r.dc.withLock(func() {
		var toDelete []int64
		for id, m := range r.dc.st.manifests {
			if !strings.HasPrefix(m.ExternalID, prefix) || keep[m.ExternalID] {
				continue
			}
			toDelete = append(toDelete, id)
		}
		for _, id := range toDelete {
			m := r.dc.st.manifests[id]
			delete(r.dc.st.manifests, id)
			delete(r.dc.st.manifestsByExt, m.ExternalID)
			for dlID, dl := range r.dc.st.deadLetters {
				if dl.ManifestID == id {
					delete(r.dc.st.deadLetters, dlID)
				}
			}
			for mdID, md := range r.dc.st.metadata {
				if md.ManifestID != nil && *md.ManifestID == id {
					delete(r.dc.st.metadata, mdID)
				}
			}
			if qID, ok := r.dc.st.queuedByManifest[id]; ok {
				delete(r.dc.st.queue, qID)
				delete(r.dc.st.queuedByManifest, id)
			}
			n++
		}
	})
	return n, nil
}

func (r *manifestRepo) SetEnabled(ctx context.Context, externalID string, enabled bool) (manifest.Manifest, error) {
	var m manifest.Manifest
	var err error
	r.dc.withLock(func() {
		id, ok := r.dc.st.manifestsByExt[externalID]
		if !ok {
			err = manifest.ErrManifestNotFound
			return
		}
		m = r.dc.st.manifests[id]
		m.IsEnabled = enabled
		r.dc.st.manifests[id] = m
	})
	return m, err
}

func (r *manifestRepo) SetLastSuccessfulRun(ctx context.Context, id int64, t time.Time) error {
	var err error
	r.dc.withLock(func() {
		m, ok := r.dc.st.manifests[id]
		if !ok {
			err = manifest.ErrManifestNotFound
			return
		}
		m.LastSuccessfulRun = &t
		m.UpdatedAt = time.Now().UTC()
		r.dc.st.manifests[id] = m
	})
	return err
}

func (r *manifestRepo) LoadCandidates(ctx context.Context) ([]store.CandidateView, error) {
	var out []store.CandidateView
	r.dc.withLock(func() {
		for _, m := range r.dc.st.manifests {
			if !m.IsEnabled {
				continue
			}
			g, ok := r.dc.st.groups[m.ManifestGroupID]
			if !ok {
				continue
			}
			v := store.CandidateView{Manifest: m, Group: g}

			for _, md := range r.dc.st.metadata {
				if md.ManifestID == nil || *md.ManifestID != m.ID {
					continue
				}
				if md.WorkflowState == "failed" {
					v.FailedCount++
				}
				if md.WorkflowState == "pending" || md.WorkflowState == "in_progress" {
					v.HasActiveExecution = true
				}
			}
			for _, dl := range r.dc.st.deadLetters {
				if dl.ManifestID == m.ID && dl.Open() {
					v.HasAwaitingDeadLetter = true
				}
			}
			if _, ok := r.dc.st.queuedByManifest[m.ID]; ok {
				v.HasQueuedWork = true
			}
			if m.DependsOnManifestID != nil {
				if parent, ok := r.dc.st.manifests[*m.DependsOnManifestID]; ok {
					v.ParentLastSuccessful = parent.LastSuccessfulRun
				}
			}
			out = append(out, v)
		}
	})
	return out, nil
}
