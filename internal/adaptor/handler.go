package adaptor

import (
	"encoding/json"
	"errors"
	"net/http"

	"credential-service/internal/usecase"
	"credential-service/pkg/utils"

	"go.uber.org/zap"
)

type Handler struct {
	Auth *AuthHandler
	User *UserHandler
}

func NewHandler(service *usecase.Service, log *zap.Logger) *Handler {
	return &Handler{
		Auth: NewAuthHandler(service.Auth, log),
		User: NewUserHandler(service.User, log),
	}
}

// decodeAndValidate reads a JSON body into dst and runs the validate tags.
// It writes the 400 response itself and reports whether the caller may go on.
func decodeAndValidate(w http.ResponseWriter, r *http.Request, dst any) bool {
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		utils.ResponseBadRequest(w, "Invalid request body", nil)
		return false
	}

	if validationErrors := utils.ValidateStruct(dst); len(validationErrors) > 0 {
		utils.ResponseBadRequest(w, "Validation failed", validationErrors)
		return false
	}

	return true
}

// handleServiceError maps service failures to status codes
func handleServiceError(w http.ResponseWriter, log *zap.Logger, err error, operation string) {
	switch {
	case errors.Is(err, usecase.ErrConflict):
		log.Warn(operation+" failed - conflict", zap.Error(err))
		utils.ResponseConflict(w, usecase.ErrConflict.Error())

	case errors.Is(err, usecase.ErrNotFound):
		log.Warn(operation+" failed - not found", zap.Error(err))
		utils.ResponseNotFound(w, usecase.ErrNotFound.Error())

	case errors.Is(err, usecase.ErrAlreadyVerified):
		log.Warn(operation+" failed - already verified", zap.Error(err))
		utils.ResponseBadRequest(w, usecase.ErrAlreadyVerified.Error(), nil)

	case errors.Is(err, usecase.ErrCodeExpired):
		log.Warn(operation+" failed - code expired", zap.Error(err))
		utils.ResponseBadRequest(w, usecase.ErrCodeExpired.Error(), nil)

	case errors.Is(err, usecase.ErrCodeMismatch):
		log.Warn(operation+" failed - code mismatch", zap.Error(err))
		utils.ResponseBadRequest(w, usecase.ErrCodeMismatch.Error(), nil)

	case errors.Is(err, usecase.ErrUnauthorized):
		log.Warn(operation+" failed - unauthorized", zap.Error(err))
		utils.ResponseUnauthorized(w, usecase.ErrUnauthorized.Error())

	case errors.Is(err, usecase.ErrDeliveryFailure):
		log.Error(operation+" failed - email delivery", zap.Error(err))
		utils.ResponseBadGateway(w, usecase.ErrDeliveryFailure.Error())

	default:
		log.Error("Failed to "+operation, zap.Error(err), zap.String("operation", operation))
		utils.ResponseInternalError(w, "Internal server error")
	}
}
