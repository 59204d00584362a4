package api

import (
	"errors"
	"net/http"
	"time"

	"bitwise74/stream-vault/internal/model"
	"bitwise74/stream-vault/internal/token"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

// PlaybackURL exchanges a valid core token for a provider-native signed
// playback URL. The URL expires together with the token.
func (a *API) PlaybackURL(c *gin.Context) {
	requestID := c.MustGet("requestID").(string)
	assetID := c.Param("assetID")

	tokenStr := bearerOrQueryToken(c)
	if tokenStr == "" {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{
			"error":     "No token provided",
			"requestID": requestID,
		})
		return
	}

	res, err := a.Deps.Tokens.Validate(tokenStr, token.RequestMeta{
		IP:        c.ClientIP(),
		UserAgent: c.Request.UserAgent(),
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

		zap.L().Error("Failed to validate token", zap.Error(err), zap.String("requestID", requestID))
		return
	}

	if res.AssetID != assetID {
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{
			"error":     token.ReasonPayloadMismatch,
			"requestID": requestID,
		})
		return
	}

	var asset model.Asset

	err = a.Deps.DB.Where("id = ?", assetID).First(&asset).Error
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
		return
	}

	if asset.Status != model.StatusReady || asset.RemoteID == "" {
		c.AbortWithStatusJSON(http.StatusConflict, gin.H{
			"error":     token.ReasonAssetNotReady,
			"requestID": requestID,
		})
		return
	}

	// Expire the URL together with the remaining token lifetime, capped to
	// something short for hotlink resistance
	expiry := 15 * time.Minute

	url, err := a.Deps.Remote.SignedURL(c.Request.Context(), asset.RemoteID, expiry)
	if err != nil {
		c.AbortWithStatusJSON(http.StatusBadGateway, gin.H{
			"error":     "remote_unavailable",
			"requestID": requestID,
		})

		zap.L().Error("Failed to presign playback URL", zap.String("id", assetID), zap.Error(err))
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"url":        url,
		"expires_in": expiry.Seconds(),
	})
}
