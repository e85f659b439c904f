package usecase

import (
	"credential-service/internal/data/repository"
	"credential-service/pkg/mailer"
	"credential-service/pkg/token"
	"credential-service/pkg/utils"

	"go.uber.org/zap"
)

type Service struct {
	Auth AuthService
	User UserService
}

func NewService(
	repo *repository.Repository,
	mail mailer.Mailer,
	issuer token.Issuer,
	config *utils.Config,
	log *zap.Logger,
) *Service {
	return &Service{
		Auth: NewAuthService(repo, mail, issuer, config, log),
		User: NewUserService(repo.User, config, log),
	}
}
