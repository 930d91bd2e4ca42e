package handlers

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/theblitlabs/parity-server/internal/agentchannel"
)

// InternalHandler answers the cross-replica dispatch hop: each replica
// only holds the agent-channel connections runner-hosts dialed into it,
// and this endpoint runs a command over one of those local connections.
// Returns 404 when this replica isn't the one currently holding that
// runner's connection. Nothing in this codebase calls it from another
// replica; the backends call the local Hub directly.
type InternalHandler struct {
	hub *agentchannel.Hub
}

func NewInternalHandler(hub *agentchannel.Hub) *InternalHandler {
	return &InternalHandler{hub: hub}
}

type internalExecRequest struct {
	Command        string `json:"command" binding:"required"`
	TimeoutSeconds int    `json:"timeout_seconds"`
}

func (h *InternalHandler) Exec(c *gin.Context) {
	runnerID := c.Param("runner_id")
	if !h.hub.IsConnected(runnerID) {
		c.JSON(http.StatusNotFound, gin.H{"error": "runner not connected to this replica"})
		return
	}

	var req internalExecRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	timeout := time.Duration(req.TimeoutSeconds) * time.Second
	if timeout <= 0 {
		timeout = 30 * time.Second
	}

	result, err := h.hub.Exec(c.Request.Context(), runnerID, req.Command, timeout)
	if err != nil {
		c.JSON(http.StatusBadGateway, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, result)
}

func (h *InternalHandler) Connected(c *gin.Context) {
	runnerID := c.Param("runner_id")
	if !h.hub.IsConnected(runnerID) {
		c.JSON(http.StatusNotFound, gin.H{"connected": false})
		return
	}
	c.JSON(http.StatusOK, gin.H{"connected": true})
}
