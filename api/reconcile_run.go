package api

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
)

// ReconcileRun triggers one reconciliation pass and returns its health
// report
func (a *API) ReconcileRun(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), 30*time.Minute)
	defer cancel()

	report := a.Deps.Reconciler.Run(ctx)

	c.JSON(http.StatusOK, report)
}
