package api

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

type tokenRevokeRequest struct {
	Token string `json:"token" binding:"required"`
}

// TokenRevoke invalidates a single token by deleting its server-side
// record
func (a *API) TokenRevoke(c *gin.Context) {
	requestID := c.MustGet("requestID").(string)

	var req tokenRevokeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{
			"error":     "No token provided",
			"requestID": requestID,
		})
		return
	}

	if err := a.Deps.Tokens.Revoke(req.Token); err != nil {
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{
			"error":     "internal_server_error",
			"requestID": requestID,
		})

		zap.L().Error("Failed to revoke token", zap.Error(err), zap.String("requestID", requestID))
		return
	}

	c.Status(http.StatusNoContent)
}

// TokenRevokeUser drops every live token of one user. Incident response
func (a *API) TokenRevokeUser(c *gin.Context) {
	requestID := c.MustGet("requestID").(string)

	n, err := a.Deps.Tokens.RevokeUser(c.Param("id"))
	if err != nil {
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{
			"error":     "internal_server_error",
			"requestID": requestID,
		})

		zap.L().Error("Failed to bulk revoke tokens", zap.Error(err), zap.String("requestID", requestID))
		return
	}

	c.JSON(http.StatusOK, gin.H{"revoked": n})
}

// TokenRevokeAsset drops every live token for one asset
func (a *API) TokenRevokeAsset(c *gin.Context) {
	requestID := c.MustGet("requestID").(string)

	n, err := a.Deps.Tokens.RevokeAsset(c.Param("id"))
	if err != nil {
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{
			"error":     "internal_server_error",
			"requestID": requestID,
		})

		zap.L().Error("Failed to bulk revoke tokens", zap.Error(err), zap.String("requestID", requestID))
		return
	}

	c.JSON(http.StatusOK, gin.H{"revoked": n})
}
