package main

import (
	"context"
	"fmt"

	"bitwise74/stream-vault/api"
	"bitwise74/stream-vault/config"

	"github.com/gin-gonic/gin"
	"github.com/spf13/viper"
	"go.uber.org/zap"
)

func main() {
	gin.SetMode(gin.ReleaseMode)

	err := config.Setup()
	if err != nil {
		panic(err)
	}

	a, err := api.NewRouter()
	if err != nil {
		panic(err)
	}

	if config.ReconcileOnce() {
		report := a.Deps.Reconciler.Run(context.Background())
		zap.L().Info("Reconciliation pass done",
			zap.Int("healthy", report.Healthy),
			zap.Int("unhealthy", report.Unhealthy))
		return
	}

	zap.L().Info("Server starting", zap.Int("port", viper.GetInt("host.port")))

	err = a.Router.Run(fmt.Sprintf(":%d", viper.GetInt("host.port")))
	if err != nil {
		panic(err)
	}
}
