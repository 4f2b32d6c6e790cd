package domain

import (
	"context"
	"strings"
	"time"

	"github.com/bwmarrin/snowflake"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

// Service is a priced offering such as a certificate type.
type Service struct {
	ID             snowflake.ID `gorm:"primaryKey" json:"id"`
	Name           string       `gorm:"not null" json:"name"`
	PriceReference *string      `gorm:"column:price_reference" json:"price_reference,omitempty"`
	BuildingType   string       `gorm:"column:building_type" json:"building_type"`
	CreatedAt      time.Time    `gorm:"not null" json:"created_at"`
}

func (Service) TableName() string { return "services" }

type Booking struct {
	ID             snowflake.ID      `gorm:"primaryKey" json:"id"`
	UserID         snowflake.ID      `gorm:"not null;index" json:"user_id"`
	ServiceID      snowflake.ID      `gorm:"not null" json:"service_id"`
	PropertyID     snowflake.ID      `gorm:"not null" json:"property_id"`
	AssessmentTime *time.Time        `json:"assessment_time,omitempty"`
	ContactDetails datatypes.JSONMap `gorm:"type:jsonb;not null;default:'{}'" json:"contact_details"`
	BuildingType   string            `json:"building_type"`
	Status         string            `gorm:"not null" json:"status"`
	CreatedAt      time.Time         `gorm:"not null" json:"created_at"`
}

func (Booking) TableName() string { return "bookings" }

// Billable is a booking joined with the price reference of its service.
type Billable struct {
	BookingID      snowflake.ID
	ServiceID      snowflake.ID
	ServiceName    string
	PriceReference *string
}

// Price returns the trimmed price reference. Blank references count as missing.
func (b Billable) Price() (string, bool) {
	if b.PriceReference == nil {
		return "", false
	}
	price := strings.TrimSpace(*b.PriceReference)
	if price == "" {
		return "", false
	}
	return price, true
}

type Repository interface {
	InsertService(ctx context.Context, db *gorm.DB, service *Service) error
	InsertBooking(ctx context.Context, db *gorm.DB, booking *Booking) error
	// FindBillable returns the caller's bookings among ids. Missing ids are simply absent.
	FindBillable(ctx context.Context, db *gorm.DB, userID snowflake.ID, ids []snowflake.ID) ([]Billable, error)
}
