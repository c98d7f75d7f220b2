package handlers

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/chainsharp/scheduler/internal/deadlettersvc"
	"github.com/chainsharp/scheduler/internal/domain/deadletter"
	"github.com/chainsharp/scheduler/internal/store"
)

type DeadLettersHandler struct {
	deadLetters store.DeadLetterStore
	svc         *deadlettersvc.Service
}

func NewDeadLettersHandler(deadLetters store.DeadLetterStore, svc *deadlettersvc.Service) *DeadLettersHandler {
	return &DeadLettersHandler{deadLetters: deadLetters, svc: svc}
}

func (h *DeadLettersHandler) List(ctx *gin.Context) {
	var status *deadletter.Status
	if raw := ctx.Query("status"); raw != "" {
		s := deadletter.Status(raw)
		status = &s
	}

	rows, err := h.deadLetters.List(ctx.Request.Context(), status)
	if err != nil {
		RespondInternal(ctx, "Could not list dead letters")
		return
	}
	ctx.JSON(http.StatusOK, gin.H{"deadLetters": rows})
}

func (h *DeadLettersHandler) Retry(ctx *gin.Context) {
	id, ok := parseIDParam(ctx, "id")
	if !ok {
		return
	}

	md, err := h.svc.Retry(ctx.Request.Context(), id)
	if err != nil {
		if errors.Is(err, deadletter.ErrNotFound) {
			RespondNotFound(ctx, "Dead letter not found")
			return
		}
		if errors.Is(err, deadletter.ErrNotAwaitingRetry) {
			RespondConflict(ctx, "not_awaiting_intervention", "Dead letter is not awaiting intervention")
			return
		}
		RespondInternal(ctx, "Could not retry dead letter")
		return
	}
	logActorAction(ctx.Request.Context(), "deadletters.retried", "id", id)
	ctx.JSON(http.StatusAccepted, md)
}

type AcknowledgeRequest struct {
	Note string `json:"note,omitempty"`
}

func (h *DeadLettersHandler) Acknowledge(ctx *gin.Context) {
	id, ok := parseIDParam(ctx, "id")
	if !ok {
		return
	}

	var req AcknowledgeRequest
	if !BindJSON(ctx, &req) {
		return
	}

	d, err := h.svc.Acknowledge(ctx.Request.Context(), id, req.Note)
	if err != nil {
		if errors.Is(err, deadletter.ErrNotFound) {
			RespondNotFound(ctx, "Dead letter not found")
			return
		}
		if errors.Is(err, deadletter.ErrNotAwaitingRetry) {
			RespondConflict(ctx, "not_awaiting_intervention", "Dead letter is not awaiting intervention")
			return
		}
		RespondInternal(ctx, "Could not acknowledge dead letter")
		return
	}
	logActorAction(ctx.Request.Context(), "deadletters.acknowledged", "id", id)
	ctx.JSON(http.StatusOK, d)
}
