package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/chainsharp/scheduler/internal/store"
)

type ExecutionsHandler struct {
	executions store.ExecutionStore
}

func NewExecutionsHandler(executions store.ExecutionStore) *ExecutionsHandler {
	return &ExecutionsHandler{executions: executions}
}

// Cancel sets cancel_requested on the execution; the executor's
// cooperative poll picks it up on its next check, per spec.md §4.6
// step 9.
func (h *ExecutionsHandler) Cancel(ctx *gin.Context) {
	id, ok := parseIDParam(ctx, "id")
	if !ok {
		return
	}

	if err := h.executions.RequestCancel(ctx.Request.Context(), id); err != nil {
		RespondNotFound(ctx, "Execution not found")
		return
	}

	ctx.Status(http.StatusAccepted)
}
