package repository

import "errors"

var (
	// ErrDuplicateEmail is returned by Create when the email is already taken.
	ErrDuplicateEmail = errors.New("email already exists")
	// ErrUserNotFound is returned by mutations that matched no row.
	ErrUserNotFound = errors.New("user not found")
	// ErrCacheUnavailable wraps transport failures of the verification cache.
	ErrCacheUnavailable = errors.New("verification cache unavailable")
)
