// Package db opens the asset store and keeps its schema migrated
package db

import (
	"fmt"

	"bitwise74/stream-vault/internal/identity"
	"bitwise74/stream-vault/internal/model"

	"github.com/spf13/viper"
	"gorm.io/driver/postgres"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
)

func New() (*gorm.DB, error) {
	var dialector gorm.Dialector

	dsn := viper.GetString("store.dsn")

	switch viper.GetString("store.driver") {
	case "postgres":
		dialector = postgres.Open(dsn)
	default:
		dialector = sqlite.Open(dsn)
	}

	db, err := gorm.Open(dialector)
	if err != nil {
		return nil, fmt.Errorf("failed to open the asset store, %w", err)
	}

	err = db.AutoMigrate(
		model.Asset{},
		model.QueueItem{},
		model.AccessToken{},
		identity.Collection{},
		identity.Membership{},
	)
	if err != nil {
		return nil, fmt.Errorf("failed to automigrate tables, %w", err)
	}

	return db, nil
}
