package api

import (
	"net/http"

	"github.com/gin-gonic/gin"
)

// Heartbeat lets load balancers and the host framework check liveness
func (a *API) Heartbeat(c *gin.Context) {
	c.Status(http.StatusOK)
}
