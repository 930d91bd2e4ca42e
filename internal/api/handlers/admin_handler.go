package handlers

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/theblitlabs/parity-server/internal/core/apierr"
	"github.com/theblitlabs/parity-server/internal/core/models"
	"github.com/theblitlabs/parity-server/internal/core/services"
	"github.com/theblitlabs/parity-server/internal/database/repositories"
)

// AdminHandler is the runner-registry CRUD surface (spec component C3),
// gated by middleware.AdminAuth rather than a runner token.
type AdminHandler struct {
	registry *services.RunnerRegistry
}

func NewAdminHandler(registry *services.RunnerRegistry) *AdminHandler {
	return &AdminHandler{registry: registry}
}

func (h *AdminHandler) CreateRunner(c *gin.Context) {
	var runner models.Runner
	if err := c.ShouldBindJSON(&runner); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	created, err := h.registry.Create(c.Request.Context(), &runner)
	if err != nil {
		respondError(c, err)
		return
	}

	// Token is only ever returned here, at creation/reactivation time —
	// models.Runner.Token is otherwise json:"-".
	c.JSON(http.StatusCreated, gin.H{
		"runner_id": created.RunnerID,
		"token":     created.Token,
		"backend":   created.Backend,
	})
}

func (h *AdminHandler) ListRunners(c *gin.Context) {
	runners, err := h.registry.List(c.Request.Context())
	if err != nil {
		respondError(c, &apierr.StoreError{Err: err})
		return
	}
	c.JSON(http.StatusOK, runners)
}

func (h *AdminHandler) GetRunner(c *gin.Context) {
	runnerID := c.Param("runner_id")
	runner, err := h.registry.Lookup(c.Request.Context(), runnerID)
	if err != nil {
		if errors.Is(err, repositories.ErrRunnerNotFound) {
			respondError(c, &apierr.NotFoundError{Msg: "runner '" + runnerID + "' not found"})
			return
		}
		respondError(c, &apierr.StoreError{Err: err})
		return
	}
	c.JSON(http.StatusOK, runner)
}

func (h *AdminHandler) DeleteRunner(c *gin.Context) {
	runnerID := c.Param("runner_id")
	if err := h.registry.Deactivate(c.Request.Context(), runnerID); err != nil {
		respondError(c, &apierr.StoreError{Err: err})
		return
	}
	c.Status(http.StatusNoContent)
}
