// Package domain contains core types for bearer-token authentication.
package domain

import (
	"time"

	"github.com/bwmarrin/snowflake"
)

// Identity is the caller resolved from a verified bearer token.
type Identity struct {
	UserID snowflake.ID
	Email  string
}

type TokenService interface {
	Verify(raw string) (Identity, error)
	Issue(identity Identity, ttl time.Duration) (string, error)
}
