package domain

import (
	"context"
	"time"

	"github.com/bwmarrin/snowflake"
	"gorm.io/gorm"
)

type Repository interface {
	Insert(ctx context.Context, db *gorm.DB, invoice *Invoice) error
	InsertBookings(ctx context.Context, db *gorm.DB, invoiceID snowflake.ID, bookingIDs []snowflake.ID, now time.Time) error
	FindByID(ctx context.Context, db *gorm.DB, userID, id snowflake.ID) (*Invoice, error)
	FindByProviderInvoiceID(ctx context.Context, db *gorm.DB, provider, providerInvoiceID string) (*Invoice, error)
	List(ctx context.Context, db *gorm.DB, userID snowflake.ID, limit int) ([]Invoice, error)
	ListBookingIDs(ctx context.Context, db *gorm.DB, invoiceIDs []snowflake.ID) (map[snowflake.ID][]snowflake.ID, error)
	// UpdatePaymentState sets status, and amount_paid when given, on the row keyed by provider id.
	UpdatePaymentState(ctx context.Context, db *gorm.DB, provider, providerInvoiceID, status string, amountPaid *int64, now time.Time) (int64, error)
}
