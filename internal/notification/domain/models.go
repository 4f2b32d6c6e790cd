package domain

import (
	"time"

	"github.com/bwmarrin/snowflake"
	"gorm.io/datatypes"
)

type Type string

const (
	TypeBookingCreated       Type = "booking_created"
	TypeBookingStatusChanged Type = "booking_status_changed"
	TypeInvoiceCreated       Type = "invoice_created"
	TypeDocumentUploaded     Type = "document_uploaded"
	TypePropertyAssigned     Type = "property_assigned"
	TypeServiceDue           Type = "service_due"
	TypeOther                Type = "other"
)

func (t Type) Valid() bool {
	switch t {
	case TypeBookingCreated, TypeBookingStatusChanged, TypeInvoiceCreated,
		TypeDocumentUploaded, TypePropertyAssigned, TypeServiceDue, TypeOther:
		return true
	}
	return false
}

type Notification struct {
	ID        snowflake.ID      `gorm:"primaryKey" json:"id"`
	UserID    snowflake.ID      `gorm:"not null;index" json:"user_id"`
	Type      Type              `gorm:"not null" json:"type"`
	Title     string            `gorm:"not null" json:"title"`
	Body      string            `json:"body"`
	Meta      datatypes.JSONMap `gorm:"type:jsonb;not null;default:'{}'" json:"meta"`
	CreatedAt time.Time         `gorm:"not null" json:"created_at"`
	ReadAt    *time.Time        `json:"read_at"`
}

func (Notification) TableName() string { return "notifications" }

func (n Notification) IsRead() bool { return n.ReadAt != nil }

// Event kinds pushed to subscribers.
const (
	EventInsert = "insert"
	EventUpdate = "update"
	// EventResync is emitted by stream clients after a reconnect, never by the server.
	EventResync = "resync"
)

// Event is a row change on the notifications table.
type Event struct {
	Kind         string       `json:"kind"`
	Notification Notification `json:"notification"`
}
