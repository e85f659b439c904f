package wire

import (
	"credential-service/internal/adaptor"
	"credential-service/pkg/middleware"
	"credential-service/pkg/utils"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"
)

// wireUser registers the caller's own account routes; all of them need a valid token
func wireUser(
	r chi.Router,
	userHandler *adaptor.UserHandler,
	deps Deps,
	config *utils.Config,
	log *zap.Logger,
) {
	// ==================== PROTECTED ROUTES ====================
	r.Route("/users/me", func(r chi.Router) {
		r.Use(middleware.Auth(deps.Issuer, deps.Repo.User, log))

		r.Get("/", userHandler.GetProfile)
		r.Patch("/", userHandler.UpdateProfile)
		r.Delete("/", userHandler.DeleteAccount)
		r.Patch("/password", userHandler.ChangePassword)
	})
}
