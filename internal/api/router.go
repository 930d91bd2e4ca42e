package api

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/theblitlabs/parity-server/internal/api/middleware"
	v1 "github.com/theblitlabs/parity-server/internal/api/v1"
	"github.com/theblitlabs/parity-server/internal/core/services"
)

func init() {
	// Set Gin to release mode to disable debug logging
	gin.SetMode(gin.ReleaseMode)
}

type Router struct {
	engine   *gin.Engine
	endpoint string
}

func NewRouter(h *v1.Handlers, registry *services.RunnerRegistry, adminAPIKey, endpoint string) *Router {
	engine := gin.New()

	engine.Use(gin.Recovery())
	engine.Use(middleware.Logging())

	r := &Router{
		engine:   engine,
		endpoint: endpoint,
	}

	api := r.engine.Group(r.endpoint)
	v1.RegisterRoutes(api, h, registry, adminAPIKey)
	return r
}

func (r *Router) Engine() *gin.Engine {
	return r.engine
}

func (r *Router) AddMiddleware(middleware gin.HandlerFunc) {
	r.engine.Use(middleware)
}

func (r *Router) ServeHTTP(w http.ResponseWriter, req *http.Request) {
	r.engine.ServeHTTP(w, req)
}
