package domain

import (
	"time"

	"github.com/bwmarrin/snowflake"
)

// User is the local account. ProviderCustomerID is set lazily on the first invoice.
type User struct {
	ID                 snowflake.ID `gorm:"primaryKey" json:"id"`
	Email              string       `gorm:"not null" json:"email"`
	DisplayName        string       `gorm:"column:display_name" json:"display_name,omitempty"`
	ProviderCustomerID *string      `gorm:"column:provider_customer_id" json:"provider_customer_id,omitempty"`
	CreatedAt          time.Time    `gorm:"not null" json:"created_at"`
	UpdatedAt          time.Time    `gorm:"not null" json:"updated_at"`
}

func (User) TableName() string { return "users" }

func (u User) HasBillingCustomer() bool {
	return u.ProviderCustomerID != nil && *u.ProviderCustomerID != ""
}
