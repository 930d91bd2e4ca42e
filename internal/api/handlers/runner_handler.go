package handlers

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/theblitlabs/parity-server/internal/api/middleware"
	"github.com/theblitlabs/parity-server/internal/core/backends"
	"github.com/theblitlabs/parity-server/internal/core/models"
)

// RunnerHandler serves the runner-facing readiness probe: a CI job script
// polls this once it believes its own host has come back up, letting the
// controller confirm (or re-run) the backend's readiness check itself
// rather than trusting the caller's word for it.
type RunnerHandler struct {
	backends *backends.Resolver
	timeout  time.Duration
}

func NewRunnerHandler(backendResolver *backends.Resolver, timeout time.Duration) *RunnerHandler {
	return &RunnerHandler{backends: backendResolver, timeout: timeout}
}

func (h *RunnerHandler) Readiness(c *gin.Context) {
	runner := c.MustGet(middleware.RunnerContextKey).(*models.Runner)

	backend, err := h.backends.Resolve(runner)
	if err != nil {
		respondError(c, err)
		return
	}

	if err := backend.ReadinessWait(c.Request.Context(), runner, h.timeout); err != nil {
		respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"ready": true})
}
