package middleware

import (
	"net/http"

	"github.com/gin-gonic/gin"
)

// NewCallerMiddleware extracts the caller identity the surrounding host
// framework forwards with each request. The core trusts this header, the
// host is responsible for authenticating the user before setting it.
func NewCallerMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		requestID := c.MustGet("requestID").(string)

		callerID := c.GetHeader("X-Caller-ID")
		if callerID == "" {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{
				"error":     "no_caller",
				"requestID": requestID,
			})
			return
		}

		c.Set("callerID", callerID)
		c.Next()
	}
}
