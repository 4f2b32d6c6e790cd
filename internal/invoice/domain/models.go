package domain

import (
	"time"

	"github.com/bwmarrin/snowflake"
)

const (
	StatusDraft         = "draft"
	StatusOpen          = "open"
	StatusPaid          = "paid"
	StatusUncollectible = "uncollectible"
	StatusVoid          = "void"
)

// Invoice is the local record of a provider invoice. Only Status, AmountPaid and UpdatedAt
// change after creation.
type Invoice struct {
	ID                snowflake.ID   `gorm:"primaryKey" json:"id"`
	UserID            snowflake.ID   `gorm:"not null;index" json:"user_id"`
	Provider          string         `gorm:"not null" json:"provider"`
	ProviderInvoiceID string         `gorm:"column:provider_invoice_id;not null;uniqueIndex" json:"provider_invoice_id"`
	Status            string         `gorm:"not null" json:"status"`
	AmountDue         int64          `gorm:"not null" json:"amount_due"`
	AmountPaid        *int64         `json:"amount_paid"`
	Currency          string         `json:"currency"`
	DueDate           *time.Time     `json:"due_date"`
	HostedURL         string         `gorm:"column:hosted_url" json:"hosted_url"`
	PDFURL            string         `gorm:"column:pdf_url" json:"pdf_url"`
	CreatedAt         time.Time      `gorm:"not null" json:"created_at"`
	UpdatedAt         time.Time      `gorm:"not null" json:"updated_at"`
	BookingIDs        []snowflake.ID `gorm:"-" json:"booking_ids"`
}

func (Invoice) TableName() string { return "invoices" }

func IsTerminal(status string) bool {
	switch status {
	case StatusPaid, StatusUncollectible, StatusVoid:
		return true
	}
	return false
}

type InvoiceBooking struct {
	InvoiceID snowflake.ID `gorm:"primaryKey"`
	BookingID snowflake.ID `gorm:"primaryKey"`
	CreatedAt time.Time
}

func (InvoiceBooking) TableName() string { return "invoice_bookings" }
