package api

import (
	"errors"
	"net/http"
	"time"

	"bitwise74/stream-vault/internal/model"
	"bitwise74/stream-vault/validators"

	"github.com/gin-gonic/gin"
	gonanoid "github.com/matoous/go-nanoid/v2"
	"go.uber.org/zap"
)

type assetCreateRequest struct {
	CollectionID string            `json:"collection_id" binding:"required"`
	Source       string            `json:"source" binding:"required"`
	Priority     int               `json:"priority"`
	Metadata     model.MetadataMap `json:"metadata"`
}

// AssetCreate accepts a file for transfer: it creates the pending asset
// record and enqueues the upload in one request.
func (a *API) AssetCreate(c *gin.Context) {
	requestID := c.MustGet("requestID").(string)
	callerID := c.MustGet("callerID").(string)

	var req assetCreateRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{
			"error":     "Missing collection ID or source path",
			"requestID": requestID,
		})
		return
	}

	size, err := validators.SourceFile(req.Source)
	if err != nil {
		status := http.StatusBadRequest
		if errors.Is(err, validators.ErrSourceTooLarge) {
			status = http.StatusRequestEntityTooLarge
		}

		c.AbortWithStatusJSON(status, gin.H{
			"error":     err.Error(),
			"requestID": requestID,
		})
		return
	}

	id, err := gonanoid.New(16)
	if err != nil {
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{
			"error":     "internal_server_error",
			"requestID": requestID,
		})
		return
	}

	asset := &model.Asset{
		ID:           id,
		UserID:       callerID,
		CollectionID: req.CollectionID,
		Size:         size,
		Status:       model.StatusPending,
		Metadata:     req.Metadata,
		SubmittedAt:  time.Now().Unix(),
	}

	if err := a.Deps.DB.Create(asset).Error; err != nil {
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{
			"error":     "internal_server_error",
			"requestID": requestID,
		})

		zap.L().Error("Failed to create asset", zap.Error(err), zap.String("requestID", requestID))
		return
	}

	if _, err := a.Deps.Queue.Enqueue(asset.ID, model.ActionUpload, req.Priority, req.Source); err != nil {
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{
			"error":     "internal_server_error",
			"requestID": requestID,
		})

		zap.L().Error("Failed to enqueue upload", zap.Error(err), zap.String("requestID", requestID))
		return
	}

	c.JSON(http.StatusCreated, asset)
}
