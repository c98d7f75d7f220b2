// Package taskserver is the external worker pool boundary spec.md
// §4.5 describes: the dispatcher hands it (execution_id, input) pairs
// and never relies on it for retry logic — failures are counted in the
// execution metadata table and surfaced to the reaper instead.
package taskserver

import (
	"context"
	"encoding/json"
	"time"
)

// Handle identifies one scheduled or enqueued unit of work, returned
// by Enqueue/ScheduleAt and accepted back by TryCancel.
type Handle int64

// Handler is invoked with the execution id and its decoded-later input
// blob; it is the executor's entry point (spec.md §4.6).
type Handler func(ctx context.Context, executionID int64, input json.RawMessage)

// BackgroundTaskServer is the capability set spec.md §4.5 requires
// from an external worker pool. Contract: at-least-once delivery; the
// pool is responsible for its own crash recovery.
type BackgroundTaskServer interface {
	// Enqueue runs immediately.
	Enqueue(ctx context.Context, executionID int64, input json.RawMessage) (Handle, error)
	// ScheduleAt runs no earlier than instant.
	ScheduleAt(ctx context.Context, executionID int64, input json.RawMessage, instant time.Time) (Handle, error)
	// TryCancel reports whether handle was prevented from running; it
	// returns false once the task has already started.
	TryCancel(handle Handle) bool
}
