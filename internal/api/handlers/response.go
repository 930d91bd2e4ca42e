package handlers

import (
	"github.com/gin-gonic/gin"
	"github.com/theblitlabs/parity-server/internal/core/apierr"
)

// respondError writes err's apierr-mapped status code with a uniform
// {"error": "..."} body, the shape every handler in this package uses.
func respondError(c *gin.Context, err error) {
	c.JSON(apierr.StatusCode(err), gin.H{"error": err.Error()})
}
