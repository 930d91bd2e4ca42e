package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/theblitlabs/parity-server/internal/api/middleware"
	"github.com/theblitlabs/parity-server/internal/core/apierr"
	"github.com/theblitlabs/parity-server/internal/core/models"
	"github.com/theblitlabs/parity-server/internal/core/services"
)

// CheckpointHandler exposes the runner-facing create/finalize/status
// surface of spec component C7 over HTTP.
type CheckpointHandler struct {
	checkpoints *services.CheckpointService
}

func NewCheckpointHandler(checkpoints *services.CheckpointService) *CheckpointHandler {
	return &CheckpointHandler{checkpoints: checkpoints}
}

type createCheckpointRequest struct {
	RunnerID string `json:"runner_id" binding:"required"`
	JobID    string `json:"job_id" binding:"required"`
	Caller   string `json:"caller"`
}

// Create implements §4.3 step 1: the body's runner_id must match the
// token's runner, distinguishing this endpoint from finalize/status/
// readiness, which all infer runner_id from the token alone.
func (h *CheckpointHandler) Create(c *gin.Context) {
	runner := c.MustGet(middleware.RunnerContextKey).(*models.Runner)

	var req createCheckpointRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	if req.RunnerID != runner.RunnerID {
		respondError(c, &apierr.ForbiddenError{Msg: "runner_id does not match authenticated runner"})
		return
	}

	checkpoint, err := h.checkpoints.Create(c.Request.Context(), runner.RunnerID, req.JobID)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusCreated, checkpoint)
}

type finalizeCheckpointRequest struct {
	CheckpointName string `json:"checkpoint_name" binding:"required"`
	Status         string `json:"status" binding:"required"`
	Source         string `json:"source"`
}

// Finalize is the HTTP-exposed queue_finalize sink a CI post-job step
// calls directly, so an omitted source defaults to "hook" (§4.9(a));
// the agentchannel WS path tags its own calls "agent" instead. The
// caller must own the checkpoint being finalized: the token authenticates
// a runner, not a checkpoint, so without this check any runner could
// finalize (and thereby reset) a checkpoint belonging to another.
func (h *CheckpointHandler) Finalize(c *gin.Context) {
	runner := c.MustGet(middleware.RunnerContextKey).(*models.Runner)

	var req finalizeCheckpointRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	status := models.FinalizeStatus(req.Status)
	switch status {
	case models.FinalizeSuccess, models.FinalizeFailure, models.FinalizeCanceled:
	default:
		c.JSON(http.StatusBadRequest, gin.H{"error": "status must be one of: success, failure, canceled"})
		return
	}

	if req.Source == "" {
		req.Source = string(models.SourceHook)
	}
	source := models.FinalizeSource(req.Source)
	switch source {
	case models.SourceHook, models.SourcePoller, models.SourceWebhook, models.SourceAgent:
	default:
		c.JSON(http.StatusBadRequest, gin.H{"error": "source must be one of: hook, poller, webhook, agent"})
		return
	}

	existing, err := h.checkpoints.GetStatus(c.Request.Context(), req.CheckpointName)
	if err != nil {
		respondError(c, err)
		return
	}
	if existing.RunnerID != runner.RunnerID {
		respondError(c, &apierr.ForbiddenError{Msg: "checkpoint does not belong to authenticated runner"})
		return
	}

	checkpoint, alreadyQueued, err := h.checkpoints.QueueFinalize(c.Request.Context(), req.CheckpointName, status, source)
	if err != nil {
		respondError(c, err)
		return
	}

	code := http.StatusAccepted
	if alreadyQueued {
		code = http.StatusOK
	}
	c.JSON(code, checkpoint)
}

func (h *CheckpointHandler) Status(c *gin.Context) {
	name := c.Param("name")
	if !models.IsValidCheckpointName(name) {
		respondError(c, &apierr.ValidationError{Msg: "invalid checkpoint name"})
		return
	}

	checkpoint, err := h.checkpoints.GetStatus(c.Request.Context(), name)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, checkpoint)
}
