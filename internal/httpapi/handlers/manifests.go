package handlers

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/chainsharp/scheduler/internal/domain/manifest"
	"github.com/chainsharp/scheduler/internal/domain/schedule"
	"github.com/chainsharp/scheduler/internal/manifestsvc"
	"github.com/chainsharp/scheduler/internal/store"
)

type ManifestsHandler struct {
	manifests store.ManifestStore
	svc       *manifestsvc.Service
}

func NewManifestsHandler(manifests store.ManifestStore, svc *manifestsvc.Service) *ManifestsHandler {
	return &ManifestsHandler{manifests: manifests, svc: svc}
}

// ManifestUpsertRequest is one item of a POST /manifests batch.
type ManifestUpsertRequest struct {
	ExternalID          string          `json:"externalId" binding:"required"`
	WorkflowName        string          `json:"workflowName" binding:"required"`
	InputTypeName       string          `json:"inputTypeName" binding:"required"`
	InputProperties     json.RawMessage `json:"inputProperties,omitempty"`
	IsEnabled           *bool           `json:"isEnabled,omitempty"`
	ScheduleType        string          `json:"scheduleType" binding:"required"`
	CronExpression      *string         `json:"cronExpression,omitempty"`
	IntervalSeconds     *int            `json:"intervalSeconds,omitempty"`
	DependsOnExternalID *string         `json:"dependsOnExternalId,omitempty"`
	GroupName           string          `json:"groupName,omitempty"`
	Priority            int             `json:"priority,omitempty"`
	MaxRetries          int             `json:"maxRetries,omitempty"`
	TimeoutSeconds      *int            `json:"timeoutSeconds,omitempty"`
}

type ScheduleManyRequest struct {
	Manifests   []ManifestUpsertRequest `json:"manifests" binding:"required,min=1,dive"`
	PrunePrefix string                  `json:"prunePrefix,omitempty"`
}

func (h *ManifestsHandler) ScheduleMany(ctx *gin.Context) {
	var req ScheduleManyRequest
	if !BindJSON(ctx, &req) {
		return
	}

	items := make([]manifestsvc.Item, 0, len(req.Manifests))
	for _, m := range req.Manifests {
		items = append(items, manifestsvc.Item{
			Request: manifest.CreateRequest{
				ExternalID:      m.ExternalID,
				WorkflowName:    m.WorkflowName,
				InputTypeName:   m.InputTypeName,
				InputProperties: m.InputProperties,
				IsEnabled:       m.IsEnabled,
				ScheduleType:    schedule.Type(m.ScheduleType),
				CronExpression:  m.CronExpression,
				IntervalSeconds: m.IntervalSeconds,
				Priority:        m.Priority,
				MaxRetries:      m.MaxRetries,
				TimeoutSeconds:  m.TimeoutSeconds,
			},
			DependsOnExternalID: m.DependsOnExternalID,
			GroupName:           m.GroupName,
		})
	}

	saved, err := h.svc.ScheduleMany(ctx.Request.Context(), items, req.PrunePrefix)
	if err != nil {
		switch {
		case errors.Is(err, manifestsvc.ErrUnknownParent),
			errors.Is(err, manifestsvc.ErrUnregisteredWorkflow),
			errors.Is(err, manifestsvc.ErrUnknownGroup):
			RespondBadRequest(ctx, err.Error(), nil)
		default:
			RespondInternal(ctx, "Could not schedule manifests")
		}
		return
	}

	logActorAction(ctx.Request.Context(), "manifests.scheduled", "count", len(saved))
	ctx.JSON(http.StatusOK, gin.H{"manifests": saved})
}

func (h *ManifestsHandler) List(ctx *gin.Context) {
	manifests, err := h.manifests.List(ctx.Request.Context())
	if err != nil {
		RespondInternal(ctx, "Could not list manifests")
		return
	}
	ctx.JSON(http.StatusOK, gin.H{"manifests": manifests})
}

func (h *ManifestsHandler) Get(ctx *gin.Context) {
	m, err := h.manifests.GetByExternalID(ctx.Request.Context(), ctx.Param("externalId"))
	if err != nil {
		RespondNotFound(ctx, "Manifest not found")
		return
	}
	ctx.JSON(http.StatusOK, m)
}

func (h *ManifestsHandler) Enable(ctx *gin.Context) {
	m, err := h.svc.Enable(ctx.Request.Context(), ctx.Param("externalId"))
	if err != nil {
		if errors.Is(err, manifest.ErrManifestNotFound) {
			RespondNotFound(ctx, "Manifest not found")
			return
		}
		RespondInternal(ctx, "Could not enable manifest")
		return
	}
	logActorAction(ctx.Request.Context(), "manifests.enabled", "external_id", m.ExternalID)
	ctx.JSON(http.StatusOK, m)
}

func (h *ManifestsHandler) Disable(ctx *gin.Context) {
	m, err := h.svc.Disable(ctx.Request.Context(), ctx.Param("externalId"))
	if err != nil {
		if errors.Is(err, manifest.ErrManifestNotFound) {
			RespondNotFound(ctx, "Manifest not found")
			return
		}
		RespondInternal(ctx, "Could not disable manifest")
		return
	}
	logActorAction(ctx.Request.Context(), "manifests.disabled", "external_id", m.ExternalID)
	ctx.JSON(http.StatusOK, m)
}

func (h *ManifestsHandler) Trigger(ctx *gin.Context) {
	entry, err := h.svc.Trigger(ctx.Request.Context(), ctx.Param("externalId"))
	if err != nil {
		if errors.Is(err, manifest.ErrManifestNotFound) {
			RespondNotFound(ctx, "Manifest not found")
			return
		}
		RespondInternal(ctx, "Could not trigger manifest")
		return
	}
	logActorAction(ctx.Request.Context(), "manifests.triggered", "external_id", ctx.Param("externalId"), "entry_id", entry.ID)
	ctx.JSON(http.StatusAccepted, entry)
}
