package domain

import "context"

type CreateInvoiceRequest struct {
	BookingIDs []string
	// UserID from the request body is informational; the caller comes from the context.
	UserID string
}

type ListInvoiceRequest struct {
	Limit int
}

type Service interface {
	Create(ctx context.Context, req CreateInvoiceRequest) (Invoice, error)
	List(ctx context.Context, req ListInvoiceRequest) ([]Invoice, error)
	GetByID(ctx context.Context, id string) (Invoice, error)
}
