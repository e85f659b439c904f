package usecase

import "errors"

// Failure kinds reported by the services. Callers match them with errors.Is.
var (
	ErrConflict        = errors.New("email already registered")
	ErrNotFound        = errors.New("user not found")
	ErrAlreadyVerified = errors.New("email already verified")
	ErrCodeExpired     = errors.New("verification code expired or not issued")
	ErrCodeMismatch    = errors.New("verification code does not match")
	ErrUnauthorized    = errors.New("invalid credentials")
	ErrDeliveryFailure = errors.New("failed to deliver email")
)
