package api

import (
	"errors"
	"net/http"

	"bitwise74/stream-vault/internal/model"
	"bitwise74/stream-vault/validators"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

type enqueueRequest struct {
	AssetID  string `json:"asset_id" binding:"required"`
	Action   string `json:"action" binding:"required"`
	Priority int    `json:"priority"`
	Payload  string `json:"payload"`
}

// QueueEnqueue creates a work item for an asset. Upload payloads are
// validated before they enter the queue.
func (a *API) QueueEnqueue(c *gin.Context) {
	requestID := c.MustGet("requestID").(string)

	var req enqueueRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{
			"error":     "Missing asset ID or action",
			"requestID": requestID,
		})
		return
	}

	action, err := model.ParseAction(req.Action)
	if err != nil {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{
			"error":     err.Error(),
			"requestID": requestID,
		})
		return
	}

	if action == model.ActionUpload {
		if _, err := validators.SourceFile(req.Payload); err != nil {
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
	}

	item, err := a.Deps.Queue.Enqueue(req.AssetID, action, req.Priority, req.Payload)
	if err != nil {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{
			"error":     err.Error(),
			"requestID": requestID,
		})

		zap.L().Warn("Failed to enqueue work item", zap.Error(err), zap.String("requestID", requestID))
		return
	}

	c.JSON(http.StatusCreated, item)
}
