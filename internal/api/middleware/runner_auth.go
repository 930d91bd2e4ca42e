package middleware

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/theblitlabs/parity-server/internal/core/services"
)

const RunnerContextKey = "runner"

// RunnerAuth resolves the bearer token on every checkpoint/agent-channel
// request to a registered, active runner via the shared RunnerRegistry
// cache, and stores it in the gin context for handlers to read.
func RunnerAuth(registry *services.RunnerRegistry) gin.HandlerFunc {
	return func(c *gin.Context) {
		token := bearerToken(c.GetHeader("Authorization"))
		if token == "" {
			token = c.Query("token")
		}
		if token == "" {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "missing bearer token"})
			return
		}

		runner, err := registry.LookupByToken(c.Request.Context(), token)
		if err != nil {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "invalid runner token"})
			return
		}

		c.Set(RunnerContextKey, runner)
		c.Next()
	}
}

func bearerToken(header string) string {
	const prefix = "Bearer "
	if !strings.HasPrefix(header, prefix) {
		return ""
	}
	return strings.TrimPrefix(header, prefix)
}
