package middleware

import (
	"crypto/subtle"
	"net/http"

	"github.com/gin-gonic/gin"
)

// AdminAuth gates the runner-registry admin API behind a single shared
// API key, compared in constant time to avoid a timing side channel.
func AdminAuth(apiKey string) gin.HandlerFunc {
	return func(c *gin.Context) {
		got := bearerToken(c.GetHeader("Authorization"))
		if got == "" || subtle.ConstantTimeCompare([]byte(got), []byte(apiKey)) != 1 {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "invalid admin API key"})
			return
		}
		c.Next()
	}
}
