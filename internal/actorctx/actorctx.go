// Package actorctx carries the authenticated operator id on a plain
// context.Context, for the service layer below the gin handlers where
// only ctx.Request.Context() is available, not *gin.Context.
package actorctx

import (
	"context"

	"github.com/chainsharp/scheduler/internal/httpapi/middlewares"
)

func WithUserID(ctx context.Context, userID string) context.Context {
	return context.WithValue(ctx, middlewares.KeyUserID, userID)
}

func UserIDFrom(ctx context.Context) (string, bool) {
	v, ok := ctx.Value(middlewares.KeyUserID).(string)

	return v, ok && v != ""
}
