package api

import (
	"context"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/spf13/viper"
	"go.uber.org/zap"
)

// QueueDrain runs one drain batch on demand, the same code path the
// scheduler drives periodically.
func (a *API) QueueDrain(c *gin.Context) {
	requestID := c.MustGet("requestID").(string)

	batch := viper.GetInt("queue.batch_size")
	if v := c.Query("batch"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 {
			c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{
				"error":     "Invalid batch size",
				"requestID": requestID,
			})
			return
		}

		batch = n
	}

	ctx, cancel := context.WithTimeout(c.Request.Context(), viper.GetDuration("queue.drain_deadline"))
	defer cancel()

	res, err := a.Deps.Queue.Drain(ctx, batch)
	if err != nil {
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{
			"error":     "internal_server_error",
			"requestID": requestID,
		})

		zap.L().Error("Queue drain failed", zap.Error(err), zap.String("requestID", requestID))
		return
	}

	c.JSON(http.StatusOK, res)
}
