// Package reaper implements the dead-letter promotion phase spec.md
// §4.7 describes as "a phase of the evaluator cycle (§4.3 step 3), not
// standalone" — factored into its own package for independent unit
// testing, but always invoked from within the evaluator's transaction
// in production.
package reaper

import (
	"context"
	"log/slog"

	"github.com/chainsharp/scheduler/internal/domain/deadletter"
	"github.com/chainsharp/scheduler/internal/observability"
	"github.com/chainsharp/scheduler/internal/store"
)

// Reap walks candidates and dead-letters every manifest whose
// cumulative failed_count has reached max_retries and that does not
// already have an open dead-letter, per spec.md §4.7's promotion
// predicate. It returns the set of manifest ids newly dead-lettered
// this pass, which §4.3 step 4 uses to exclude them from the same
// cycle's enqueue decision.
func Reap(ctx context.Context, dc store.DataContext, candidates []store.CandidateView, prom *observability.Prom, log *slog.Logger) (map[int64]bool, error) {
	if log == nil {
		log = slog.Default()
	}
	newlyDeadLettered := make(map[int64]bool)

	for _, c := range candidates {
		if c.HasAwaitingDeadLetter {
			continue
		}
		if c.FailedCount < c.Manifest.MaxRetries {
			continue
		}

		_, err := dc.DeadLetters().Create(ctx, deadletter.New(deadletter.CreateRequest{
			ManifestID:     c.Manifest.ID,
			Reason:         deadletter.ReasonMaxRetriesExceeded,
			FailedCountNow: c.FailedCount,
		}))
		if err != nil {
			return nil, err
		}

		newlyDeadLettered[c.Manifest.ID] = true
		log.WarnContext(ctx, "reaper.dead_lettered",
			"manifest_id", c.Manifest.ID,
			"workflow_name", c.Manifest.WorkflowName,
			"failed_count", c.FailedCount,
			"max_retries", c.Manifest.MaxRetries,
		)
		if prom != nil {
			prom.DeadLetteredTotal.Inc()
		}
	}

	return newlyDeadLettered, nil
}
