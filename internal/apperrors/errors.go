package apperrors

import (
	"errors"
)

var (
	ErrUnauthorized = errors.New("unauthorized")
	ErrNotFound     = errors.New("not found")

	ErrNotAuthenticated   = errors.New("session is not authenticated")
	ErrInvalidCredentials = errors.New("invalid credentials")

	ErrNoRefreshToken = errors.New("refresh token not found")
	ErrRefreshFailed  = errors.New("refresh token failed")
)
