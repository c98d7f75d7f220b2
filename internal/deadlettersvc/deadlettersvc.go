// Package deadlettersvc implements the operator-facing dead-letter
// resolution actions spec.md §4.7 describes: retry and acknowledge.
package deadlettersvc

import (
	"context"

	"github.com/chainsharp/scheduler/internal/domain/deadletter"
	"github.com/chainsharp/scheduler/internal/domain/execution"
	"github.com/chainsharp/scheduler/internal/store"
	"github.com/chainsharp/scheduler/internal/taskserver"
)

type Service struct {
	dc    store.DataContext
	tasks taskserver.BackgroundTaskServer
}

func New(dc store.DataContext, tasks taskserver.BackgroundTaskServer) *Service {
	return &Service{dc: dc, tasks: tasks}
}

// Retry creates a fresh execution row linked to the dead-lettered
// manifest, marks the dead-letter retried with the new
// retry_metadata_id, and hands the execution straight to the worker
// pool, per spec.md §4.7. An operator-initiated retry is an explicit
// administrative override of the normal capacity walk: the manifest
// already exhausted its ordinary, capacity-gated attempts, so this
// does not re-enter the WorkQueue behind other due work.
func (s *Service) Retry(ctx context.Context, deadLetterID int64) (execution.Metadata, error) {
	d, err := s.dc.DeadLetters().GetByID(ctx, deadLetterID)
	if err != nil {
		return execution.Metadata{}, err
	}

	m, err := s.dc.Manifests().GetByID(ctx, d.ManifestID)
	if err != nil {
		return execution.Metadata{}, err
	}

	md, err := s.dc.Executions().Create(ctx, execution.New(execution.CreateRequest{
		Name:          m.WorkflowName,
		InputTypeName: m.InputTypeName,
		Input:         m.InputProperties,
		ManifestID:    &m.ID,
	}))
	if err != nil {
		return execution.Metadata{}, err
	}

	if err := d.Retry(md.ID); err != nil {
		return execution.Metadata{}, err
	}
	if err := s.dc.DeadLetters().Update(ctx, d); err != nil {
		return execution.Metadata{}, err
	}

	if _, err := s.tasks.Enqueue(ctx, md.ID, m.InputProperties); err != nil {
		return execution.Metadata{}, err
	}

	return md, nil
}

// Acknowledge resolves a dead-letter without re-running its manifest.
func (s *Service) Acknowledge(ctx context.Context, deadLetterID int64, note string) (deadletter.DeadLetter, error) {
	d, err := s.dc.DeadLetters().GetByID(ctx, deadLetterID)
	if err != nil {
		return deadletter.DeadLetter{}, err
	}

	if err := d.Acknowledge(note); err != nil {
		return deadletter.DeadLetter{}, err
	}
	if err := s.dc.DeadLetters().Update(ctx, d); err != nil {
		return deadletter.DeadLetter{}, err
	}

	return d, nil
}
