package domain

import (
	"context"
	"errors"

	"github.com/bwmarrin/snowflake"
)

var (
	ErrUserNotFound = errors.New("user_not_found")
	ErrInvalidEmail = errors.New("invalid_email")
)

type Service interface {
	GetByID(ctx context.Context, id snowflake.ID) (User, error)
	// EnsureBillingCustomer returns the user's provider customer id, creating it at most once.
	EnsureBillingCustomer(ctx context.Context, id snowflake.ID) (string, error)
}
