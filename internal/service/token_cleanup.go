// Package service holds background maintenance jobs driven by the
// scheduler
package service

import (
	"time"

	"bitwise74/stream-vault/internal/model"

	"go.uber.org/zap"
	"gorm.io/gorm"
)

// TokenSweep deletes access token records past their expiry. An expired
// token is already unusable so this is pure hygiene, but it keeps the
// unknown_token lookup table small.
func TokenSweep(db *gorm.DB) {
	res := db.
		Where("expires_at < ?", time.Now().Unix()).
		Delete(model.AccessToken{})
	if res.Error != nil {
		zap.L().Error("Failed to sweep expired tokens", zap.Error(res.Error))
		return
	}

	if res.RowsAffected > 0 {
		zap.L().Debug("Swept expired tokens", zap.Int64("deleted", res.RowsAffected))
	}
}
