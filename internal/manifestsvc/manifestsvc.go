// Package manifestsvc implements the ScheduleMany/Enable/Disable/
// Trigger operations spec.md §4.2 describes, the transactional
// write-path the Trigger API (C9) drives.
package manifestsvc

import (
	"context"
	"errors"

	"github.com/chainsharp/scheduler/internal/domain/manifest"
	"github.com/chainsharp/scheduler/internal/domain/workqueue"
	"github.com/chainsharp/scheduler/internal/registry"
	"github.com/chainsharp/scheduler/internal/store"
)

var (
	ErrUnknownParent        = errors.New("manifestsvc: depends_on external_id not found")
	ErrUnregisteredWorkflow = errors.New("manifestsvc: input_type_name has no registered workflow")
	ErrUnknownGroup         = errors.New("manifestsvc: manifest_group_id not found")
)

// Item is one manifest to upsert, with DependsOnExternalID resolved to
// DependsOnManifestID inside the same transaction (SPEC_FULL.md's
// UpsertDependent "resolves parent by external_id" behavior).
type Item struct {
	Request             manifest.CreateRequest
	DependsOnExternalID *string
	GroupName           string
}

type Service struct {
	dc  store.DataContext
	reg *registry.Registry
}

func New(dc store.DataContext, reg *registry.Registry) *Service {
	return &Service{dc: dc, reg: reg}
}

// ScheduleMany upserts every item in one transaction; when prunePrefix
// is non-empty, every manifest whose external_id begins with it and is
// not among the upserted externalIDs is cascade-deleted afterward,
// per spec.md §4.2's "ScheduleMany ... accept an optional prunePrefix".
func (s *Service) ScheduleMany(ctx context.Context, items []Item, prunePrefix string) ([]manifest.Manifest, error) {
	dc, tx, err := s.dc.BeginTransaction(ctx)
	if err != nil {
		return nil, err
	}
	defer func() { _ = tx.Rollback(ctx) }()

	out := make([]manifest.Manifest, 0, len(items))
	kept := make([]string, 0, len(items))

	for _, item := range items {
		if !s.reg.IsRegistered(item.Request.InputTypeName) {
			return nil, ErrUnregisteredWorkflow
		}

		req := item.Request
		if item.DependsOnExternalID != nil {
			parent, err := dc.Manifests().GetByExternalID(ctx, *item.DependsOnExternalID)
			if err != nil {
				return nil, ErrUnknownParent
			}
			req.DependsOnManifestID = &parent.ID
		}

		if item.GroupName != "" {
			group, err := dc.ManifestGroups().GetByName(ctx, item.GroupName)
			if err != nil {
				return nil, ErrUnknownGroup
			}
			req.ManifestGroupID = group.ID
		}

		m := manifest.New(req)
		if err := m.Validate(); err != nil {
			return nil, err
		}

		saved, err := dc.Manifests().Upsert(ctx, m)
		if err != nil {
			return nil, err
		}

		out = append(out, saved)
		kept = append(kept, saved.ExternalID)
	}

	if prunePrefix != "" {
		if _, err := dc.Manifests().PruneExcept(ctx, prunePrefix, kept); err != nil {
			return nil, err
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, err
	}
	return out, nil
}

func (s *Service) Enable(ctx context.Context, externalID string) (manifest.Manifest, error) {
	return s.dc.Manifests().SetEnabled(ctx, externalID, true)
}

func (s *Service) Disable(ctx context.Context, externalID string) (manifest.Manifest, error) {
	return s.dc.Manifests().SetEnabled(ctx, externalID, false)
}

// Trigger writes a queued WorkQueue entry for externalID with priority
// copied from the manifest. It does not bypass capacity: the
// dispatcher still applies its usual global/group limits to the
// resulting entry (spec.md §4.2).
func (s *Service) Trigger(ctx context.Context, externalID string) (workqueue.Entry, error) {
	m, err := s.dc.Manifests().GetByExternalID(ctx, externalID)
	if err != nil {
		return workqueue.Entry{}, err
	}

	entry := workqueue.New(workqueue.CreateRequest{
		WorkflowName:  m.WorkflowName,
		Input:         m.InputProperties,
		InputTypeName: m.InputTypeName,
		ManifestID:    &m.ID,
		Priority:      m.Priority,
	})
	return s.dc.WorkQueue().Enqueue(ctx, entry)
}
