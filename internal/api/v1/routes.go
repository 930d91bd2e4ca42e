package v1

import (
	"github.com/gin-gonic/gin"
	"github.com/theblitlabs/parity-server/internal/api/handlers"
	"github.com/theblitlabs/parity-server/internal/api/middleware"
	"github.com/theblitlabs/parity-server/internal/core/services"
)

// Handlers bundles every route group's handler, mirroring the teacher's
// flat per-handler-struct registration but as one struct so RegisterRoutes
// takes a single argument instead of growing a parameter per handler.
type Handlers struct {
	Checkpoint *handlers.CheckpointHandler
	Runner     *handlers.RunnerHandler
	Admin      *handlers.AdminHandler
	Webhook    *handlers.WebhookHandler
	Internal   *handlers.InternalHandler
	Health     *handlers.HealthHandler
	Agent      *handlers.AgentHandler
}

func RegisterRoutes(api *gin.RouterGroup, h *Handlers, registry *services.RunnerRegistry, adminAPIKey string) {
	runnerAuth := middleware.RunnerAuth(registry)

	checkpoint := api.Group("/checkpoint", runnerAuth)
	{
		checkpoint.POST("/create", h.Checkpoint.Create)
		checkpoint.POST("/finalize", h.Checkpoint.Finalize)
		checkpoint.GET("/status/:name", h.Checkpoint.Status)
	}

	api.GET("/runner/readiness", runnerAuth, h.Runner.Readiness)
	api.GET("/healthz", h.Health.Healthz)

	admin := api.Group("/api/runners", middleware.AdminAuth(adminAPIKey))
	{
		admin.POST("", h.Admin.CreateRunner)
		admin.GET("", h.Admin.ListRunners)
		admin.GET("/:runner_id", h.Admin.GetRunner)
		admin.DELETE("/:runner_id", h.Admin.DeleteRunner)
	}

	webhooks := api.Group("/webhooks")
	{
		webhooks.POST("/gitlab", h.Webhook.GitLab)
		webhooks.POST("/github", h.Webhook.GitHub)
	}

	// Cross-replica dispatch hop: trusted internal network, no per-request
	// auth layered on top.
	internalGroup := api.Group("/internal/agent")
	{
		internalGroup.POST("/:runner_id/exec", h.Internal.Exec)
		internalGroup.GET("/:runner_id/connected", h.Internal.Connected)
	}

	api.GET("/ws/agent", runnerAuth, h.Agent.ServeWS)
}
