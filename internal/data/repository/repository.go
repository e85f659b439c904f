package repository

import (
	"credential-service/pkg/database"
	"credential-service/pkg/utils"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

type Repository struct {
	User         UserRepository
	Verification VerificationRepository
}

func NewRepository(db database.PgxIface, rdb redis.Cmdable, config *utils.Config, log *zap.Logger) *Repository {
	return &Repository{
		User:         NewUserRepository(db, config.Timeout.Store, log),
		Verification: NewVerificationRepository(rdb, config.Timeout.Cache, log),
	}
}
