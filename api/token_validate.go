package api

import (
	"errors"
	"net/http"
	"strings"

	"bitwise74/stream-vault/internal/token"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

// TokenValidate checks a playback token against the current request. An
// optional asset_id query parameter additionally pins the token to one
// asset.
func (a *API) TokenValidate(c *gin.Context) {
	requestID := c.MustGet("requestID").(string)

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

	if want := c.Query("asset_id"); want != "" && want != res.AssetID {
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{
			"error":     token.ReasonPayloadMismatch,
			"requestID": requestID,
		})
		return
	}

	c.JSON(http.StatusOK, res)
}

func bearerOrQueryToken(c *gin.Context) string {
	if h := c.GetHeader("Authorization"); strings.HasPrefix(h, "Bearer ") {
		return strings.TrimPrefix(h, "Bearer ")
	}

	return c.Query("token")
}
