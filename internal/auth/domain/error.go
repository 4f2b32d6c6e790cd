package domain

import "errors"

var (
	ErrMissingToken      = errors.New("missing token")
	ErrInvalidToken      = errors.New("invalid token")
	ErrSecretNotProvided = errors.New("auth jwt secret not configured")
)
