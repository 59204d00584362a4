package api

import (
	"errors"
	"net/http"

	"bitwise74/stream-vault/internal/queue"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

// AssetReset is the manual error -> pending path. Parked work items for
// the asset get their retry budget back.
func (a *API) AssetReset(c *gin.Context) {
	requestID := c.MustGet("requestID").(string)
	assetID := c.Param("assetID")

	asset, err := a.Deps.Queue.ResetForRetry(assetID)
	if err != nil {
		if errors.Is(err, queue.ErrNotInErrorState) {
			c.AbortWithStatusJSON(http.StatusConflict, gin.H{
				"error":     "not_in_error_state",
				"requestID": requestID,
			})
			return
		}

		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{
			"error":     "internal_server_error",
			"requestID": requestID,
		})

		zap.L().Error("Failed to reset asset", zap.String("id", assetID), zap.Error(err))
		return
	}

	c.JSON(http.StatusOK, asset)
}
