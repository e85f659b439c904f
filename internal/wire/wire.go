package wire

import (
	"context"
	"net/http"
	"sort"
	"time"

	"credential-service/internal/adaptor"
	"credential-service/internal/data/repository"
	"credential-service/internal/usecase"
	"credential-service/pkg/mailer"
	"credential-service/pkg/middleware"
	"credential-service/pkg/token"
	"credential-service/pkg/utils"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"
)

// HealthCheck reports whether one backing service is reachable.
type HealthCheck func(ctx context.Context) error

// App holds the wired HTTP surface
type App struct {
	Router *chi.Mux
}

// Deps are the clients constructed in main and shared by every request.
type Deps struct {
	Repo   *repository.Repository
	Mailer mailer.Mailer
	Issuer token.Issuer
	Checks map[string]HealthCheck
}

// Wiring builds services, handlers and routes
func Wiring(deps Deps, config *utils.Config, logger *zap.Logger) *App {
	service := usecase.NewService(deps.Repo, deps.Mailer, deps.Issuer, config, logger)
	handler := adaptor.NewHandler(service, logger)

	router := setupRouter(handler, deps, config, logger)

	return &App{
		Router: router,
	}
}

func setupRouter(
	handler *adaptor.Handler,
	deps Deps,
	config *utils.Config,
	logger *zap.Logger,
) *chi.Mux {
	r := chi.NewRouter()

	// Global middleware
	r.Use(middleware.Logger(logger))
	r.Use(middleware.Recover(logger))
	r.Use(middleware.CORS())

	r.Route("/api/v1", func(r chi.Router) {
		wireAuth(r, handler.Auth, deps, config, logger)
		wireUser(r, handler.User, deps, config, logger)
	})

	r.Get("/health", healthHandler(deps.Checks, logger))

	return r
}

func healthHandler(checks map[string]HealthCheck, logger *zap.Logger) http.HandlerFunc {
	names := make([]string, 0, len(checks))
	for name := range checks {
		names = append(names, name)
	}
	sort.Strings(names)

	return func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		defer cancel()

		status := make(map[string]string, len(names))
		healthy := true
		for _, name := range names {
			if err := checks[name](ctx); err != nil {
				logger.Warn("Health check failed", zap.String("check", name), zap.Error(err))
				status[name] = "down"
				healthy = false
				continue
			}
			status[name] = "up"
		}

		if !healthy {
			utils.ResponseUnavailable(w, "Unhealthy", status)
			return
		}
		utils.ResponseSuccess(w, "OK", status)
	}
}
