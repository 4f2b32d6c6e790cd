package repository

import (
	"context"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/compliancehub/internal/invoice/domain"
	"gorm.io/gorm"
)

type repo struct{}

func Provide() domain.Repository {
	return &repo{}
}

const selectColumns = `SELECT id, user_id, provider, provider_invoice_id, status, amount_due, amount_paid, currency,
	due_date, hosted_url, pdf_url, created_at, updated_at FROM invoices`

func (r *repo) Insert(ctx context.Context, db *gorm.DB, invoice *domain.Invoice) error {
	return db.WithContext(ctx).Exec(
		`INSERT INTO invoices (id, user_id, provider, provider_invoice_id, status, amount_due, amount_paid, currency,
			due_date, hosted_url, pdf_url, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		invoice.ID,
		invoice.UserID,
		invoice.Provider,
		invoice.ProviderInvoiceID,
		invoice.Status,
		invoice.AmountDue,
		invoice.AmountPaid,
		invoice.Currency,
		invoice.DueDate,
		invoice.HostedURL,
		invoice.PDFURL,
		invoice.CreatedAt,
		invoice.UpdatedAt,
	).Error
}

func (r *repo) InsertBookings(ctx context.Context, db *gorm.DB, invoiceID snowflake.ID, bookingIDs []snowflake.ID, now time.Time) error {
	for _, bookingID := range bookingIDs {
		err := db.WithContext(ctx).Exec(
			`INSERT INTO invoice_bookings (invoice_id, booking_id, created_at) VALUES (?, ?, ?)`,
			invoiceID,
			bookingID,
			now,
		).Error
		if err != nil {
			return err
		}
	}
	return nil
}

func (r *repo) FindByID(ctx context.Context, db *gorm.DB, userID, id snowflake.ID) (*domain.Invoice, error) {
	var invoice domain.Invoice
	err := db.WithContext(ctx).Raw(selectColumns+` WHERE user_id = ? AND id = ?`, userID, id).Scan(&invoice).Error
	if err != nil {
		return nil, err
	}
	if invoice.ID == 0 {
		return nil, nil
	}
	return &invoice, nil
}

func (r *repo) FindByProviderInvoiceID(ctx context.Context, db *gorm.DB, provider, providerInvoiceID string) (*domain.Invoice, error) {
	var invoice domain.Invoice
	err := db.WithContext(ctx).Raw(
		selectColumns+` WHERE provider = ? AND provider_invoice_id = ?`,
		provider,
		providerInvoiceID,
	).Scan(&invoice).Error
	if err != nil {
		return nil, err
	}
	if invoice.ID == 0 {
		return nil, nil
	}
	return &invoice, nil
}

func (r *repo) List(ctx context.Context, db *gorm.DB, userID snowflake.ID, limit int) ([]domain.Invoice, error) {
	var items []domain.Invoice
	err := db.WithContext(ctx).Raw(
		selectColumns+` WHERE user_id = ? ORDER BY created_at DESC, id DESC LIMIT ?`,
		userID,
		limit,
	).Scan(&items).Error
	if err != nil {
		return nil, err
	}
	return items, nil
}

func (r *repo) ListBookingIDs(ctx context.Context, db *gorm.DB, invoiceIDs []snowflake.ID) (map[snowflake.ID][]snowflake.ID, error) {
	out := make(map[snowflake.ID][]snowflake.ID, len(invoiceIDs))
	if len(invoiceIDs) == 0 {
		return out, nil
	}
	var rows []domain.InvoiceBooking
	err := db.WithContext(ctx).Raw(
		`SELECT invoice_id, booking_id, created_at FROM invoice_bookings
		 WHERE invoice_id IN ? ORDER BY invoice_id, booking_id`,
		invoiceIDs,
	).Scan(&rows).Error
	if err != nil {
		return nil, err
	}
	for _, row := range rows {
		out[row.InvoiceID] = append(out[row.InvoiceID], row.BookingID)
	}
	return out, nil
}

func (r *repo) UpdatePaymentState(ctx context.Context, db *gorm.DB, provider, providerInvoiceID, status string, amountPaid *int64, now time.Time) (int64, error) {
	var result *gorm.DB
	if amountPaid != nil {
		result = db.WithContext(ctx).Exec(
			`UPDATE invoices SET status = ?, amount_paid = ?, updated_at = ?
			 WHERE provider = ? AND provider_invoice_id = ?`,
			status,
			*amountPaid,
			now,
			provider,
			providerInvoiceID,
		)
	} else {
		result = db.WithContext(ctx).Exec(
			`UPDATE invoices SET status = ?, updated_at = ?
			 WHERE provider = ? AND provider_invoice_id = ?`,
			status,
			now,
			provider,
			providerInvoiceID,
		)
	}
	if result.Error != nil {
		return 0, result.Error
	}
	return result.RowsAffected, nil
}
