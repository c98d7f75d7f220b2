package handlers

import (
	"context"
	"log/slog"

	"github.com/chainsharp/scheduler/internal/actorctx"
)

// logActorAction records who performed an operator-only mutation, for
// the audit trail spec.md's operator-facing API implies but leaves to
// the deployment's own observability stack. actorctx has nothing to
// report for requests that reach this path without going through
// RequireAuth (there are none in the current router), in which case
// the action is still logged, just without an actor.
func logActorAction(ctx context.Context, action string, attrs ...any) {
	actor, _ := actorctx.UserIDFrom(ctx)
	slog.Default().InfoContext(ctx, action, append([]any{"actor", actor}, attrs...)...)
}
