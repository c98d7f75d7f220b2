package memory

import (
	"context"
	"time"

	"github.com/chainsharp/scheduler/internal/domain/execution"
	"github.com/chainsharp/scheduler/internal/store"
)

type executionRepo struct {
	dc *dataContext
}

func (r *executionRepo) Create(ctx context.Context, m execution.Metadata) (execution.Metadata, error) {
	r.dc.withLock(func() {
		r.dc.st.nextMetadataID++
		m.ID = r.dc.st.nextMetadataID
		r.dc.st.metadata[m.ID] = m
	})
	return m, nil
}

func (r *executionRepo) GetByID(ctx context.Context, id int64) (execution.Metadata, error) {
	var m execution.Metadata
	var err error
	r.dc.withLock(func() {
		v, ok := r.dc.st.metadata[id]
		if !ok {
			err = execution.ErrMetadataNotFound
			return
		}
		m = v
	})
	return m, err
}

func (r *executionRepo) Update(ctx context.Context, m execution.Metadata) error {
	var err error
	r.dc.withLock(func() {
		if _, ok := r.dc.st.metadata[m.ID]; !ok {
			err = execution.ErrMetadataNotFound
			return
		}
		r.dc.st.metadata[m.ID] = m
	})
	return err
}

func (r *executionRepo) LoadActiveCounts(ctx context.Context, excludedWorkflowNames []string) (store.ActiveCounts, error) {
	excluded := make(map[string]bool, len(excludedWorkflowNames))
	for _, n := range excludedWorkflowNames {
		excluded[n] = true
	}

	counts := store.ActiveCounts{GroupActive: map[int64]int{}}
	r.dc.withLock(func() {
		for _, md := range r.dc.st.metadata {
			if md.WorkflowState != execution.StatePending && md.WorkflowState != execution.StateInProgress {
				continue
			}
			if excluded[md.Name] {
				continue
			}
			counts.GlobalActive++
			if md.ManifestID == nil {
				continue
			}
			m, ok := r.dc.st.manifests[*md.ManifestID]
			if !ok {
				continue
			}
			counts.GroupActive[m.ManifestGroupID]++
		}
	})
	return counts, nil
}

func (r *executionRepo) CountFailed(ctx context.Context, manifestID int64) (int, error) {
	var n int
	r.dc.withLock(func() {
		for _, md := range r.dc.st.metadata {
			if md.ManifestID != nil && *md.ManifestID == manifestID && md.WorkflowState == execution.StateFailed {
				n++
			}
		}
	})
	return n, nil
}

func (r *executionRepo) LoadFailuresInWindow(ctx context.Context, workflowName string, since time.Time) ([]execution.Metadata, error) {
	var out []execution.Metadata
	r.dc.withLock(func() {
		for _, md := range r.dc.st.metadata {
			if md.Name != workflowName || md.WorkflowState != execution.StateFailed {
				continue
			}
			if md.EndTime == nil || md.EndTime.Before(since) {
				continue
			}
			out = append(out, md)
		}
	})
	return out, nil
}

func (r *executionRepo) LoadLastSuccess(ctx context.Context, workflowName string) (*time.Time, error) {
	var last *time.Time
	r.dc.withLock(func() {
		for _, md := range r.dc.st.metadata {
			if md.Name != workflowName || md.WorkflowState != execution.StateCompleted || md.EndTime == nil {
				continue
			}
			if last == nil || md.EndTime.After(*last) {
				t := *md.EndTime
				last = &t
			}
		}
	})
	return last, nil
}

func (r *executionRepo) HasActiveByManifestID(ctx context.Context, manifestID int64) (bool, error) {
	var found bool
	r.dc.withLock(func() {
		for _, md := range r.dc.st.metadata {
			if md.ManifestID != nil && *md.ManifestID == manifestID &&
				(md.WorkflowState == execution.StatePending || md.WorkflowState == execution.StateInProgress) {
				found = true
				return
			}
		}
	})
	return found, nil
}

func (r *executionRepo) RequestCancel(ctx context.Context, id int64) error {
	var err error
	r.dc.withLock(func() {
		md, ok := r.dc.st.metadata[id]
		if !ok || md.WorkflowState.Terminal() {
			err = execution.ErrMetadataNotFound
			return
		}
		md.CancelRequested = true
		r.dc.st.metadata[id] = md
	})
	return err
}

func (r *executionRepo) RecoverStuck(ctx context.Context, cutoff time.Time) (int64, error) {
	var n int64
	r.dc.withLock(func() {
		for id, md := range r.dc.st.metadata {
			if md.WorkflowState.Terminal() || md.StartTime.After(cutoff) {
				continue
			}
			if md.StepStartedAt != nil && md.StepStartedAt.After(cutoff) {
				continue
			}
			now := time.Now().UTC()
			md.WorkflowState = execution.StateFailed
			md.EndTime = &now
			step := ""
			if md.CurrentlyRunningStep != nil {
				step = *md.CurrentlyRunningStep
			}
			md.FailureStep = &step
			exception := "process_restart"
			md.FailureException = &exception
			reason := "execution abandoned by a process restart"
			md.FailureReason = &reason
			r.dc.st.metadata[id] = md
			n++
		}
	})
	return n, nil
}
