package api

import (
	"errors"
	"net/http"

	"bitwise74/stream-vault/internal/token"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

type tokenIssueRequest struct {
	AssetID string `json:"asset_id" binding:"required"`
	BindIP  bool   `json:"bind_ip"`
	BindUA  bool   `json:"bind_ua"`
}

// TokenIssue hands out a signed playback token for a ready asset the
// caller is authorized to view
func (a *API) TokenIssue(c *gin.Context) {
	requestID := c.MustGet("requestID").(string)
	callerID := c.MustGet("callerID").(string)

	var req tokenIssueRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{
			"error":     "No asset ID provided",
			"requestID": requestID,
		})
		return
	}

	res, err := a.Deps.Tokens.Issue(callerID, req.AssetID, token.IssueOpts{
		IP:        c.ClientIP(),
		UserAgent: c.Request.UserAgent(),
		BindIP:    req.BindIP,
		BindUA:    req.BindUA,
	})
	if err != nil {
		var re *token.ReasonError
		if errors.As(err, &re) {
			c.AbortWithStatusJSON(reasonStatus(re.Reason), gin.H{
				"error":     re.Reason,
				"requestID": requestID,
			})
			return
		}

		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{
			"error":     "internal_server_error",
			"requestID": requestID,
		})

		zap.L().Error("Failed to issue token",
			zap.String("asset_id", req.AssetID),
			zap.Error(err),
			zap.String("requestID", requestID))
		return
	}

	c.JSON(http.StatusOK, res)
}
