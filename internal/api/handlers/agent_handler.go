package handlers

import (
	"github.com/gin-gonic/gin"
	"github.com/theblitlabs/parity-server/internal/agentchannel"
	"github.com/theblitlabs/parity-server/internal/api/middleware"
	"github.com/theblitlabs/parity-server/internal/core/models"
)

// AgentHandler upgrades authenticated runner-host connections into the
// persistent agent channel (spec component C6).
type AgentHandler struct {
	hub *agentchannel.Hub
}

func NewAgentHandler(hub *agentchannel.Hub) *AgentHandler {
	return &AgentHandler{hub: hub}
}

func (h *AgentHandler) ServeWS(c *gin.Context) {
	runner := c.MustGet(middleware.RunnerContextKey).(*models.Runner)
	_ = h.hub.ServeWS(c.Writer, c.Request, runner.RunnerID)
}
