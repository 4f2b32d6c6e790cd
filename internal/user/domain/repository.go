package domain

import (
	"context"
	"time"

	"github.com/bwmarrin/snowflake"
	"gorm.io/gorm"
)

type Repository interface {
	Insert(ctx context.Context, db *gorm.DB, user *User) error
	FindByID(ctx context.Context, db *gorm.DB, id snowflake.ID) (*User, error)
	// SetProviderCustomerIDIfEmpty writes the id only when none is stored and reports whether it did.
	SetProviderCustomerIDIfEmpty(ctx context.Context, db *gorm.DB, id snowflake.ID, providerCustomerID string, now time.Time) (bool, error)
}
