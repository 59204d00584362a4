package internal

import (
	"bitwise74/stream-vault/internal/authz"
	"bitwise74/stream-vault/internal/queue"
	"bitwise74/stream-vault/internal/reconcile"
	"bitwise74/stream-vault/internal/remote"
	"bitwise74/stream-vault/internal/token"

	"gorm.io/gorm"
)

type Deps struct {
	DB         *gorm.DB
	Remote     remote.Client
	Authz      *authz.Engine
	Tokens     *token.Service
	Queue      *queue.Queue
	Reconciler *reconcile.Runner
}
