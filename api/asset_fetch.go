package api

import (
	"errors"
	"net/http"

	"bitwise74/stream-vault/internal/model"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

// AssetFetch returns one asset's lifecycle state together with its queue
// history, which is what the admin glue renders.
func (a *API) AssetFetch(c *gin.Context) {
	requestID := c.MustGet("requestID").(string)
	assetID := c.Param("assetID")

	var asset model.Asset

	err := a.Deps.DB.Where("id = ?", assetID).First(&asset).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			c.AbortWithStatusJSON(http.StatusNotFound, gin.H{
				"error":     "Asset not found",
				"requestID": requestID,
			})
			return
		}

		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{
			"error":     "internal_server_error",
			"requestID": requestID,
		})

		zap.L().Error("Failed to fetch asset", zap.String("id", assetID), zap.Error(err))
		return
	}

	var items []model.QueueItem
	if err := a.Deps.DB.Where("asset_id = ?", assetID).Order("created_at ASC").Find(&items).Error; err != nil {
		zap.L().Error("Failed to fetch queue items", zap.String("id", assetID), zap.Error(err))
	}

	c.JSON(http.StatusOK, gin.H{
		"asset": asset,
		"queue": items,
	})
}
