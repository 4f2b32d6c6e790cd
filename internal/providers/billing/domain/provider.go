// Package domain defines the billing provider contract used by the invoice flow.
package domain

import "context"

// Invoice statuses mirrored from the provider.
const (
	InvoiceStatusDraft         = "draft"
	InvoiceStatusOpen          = "open"
	InvoiceStatusPaid          = "paid"
	InvoiceStatusUncollectible = "uncollectible"
	InvoiceStatusVoid          = "void"
)

type CreateCustomerInput struct {
	Email          string
	Name           string
	Metadata       map[string]string
	IdempotencyKey string
}

type Customer struct {
	ID    string
	Email string
}

type CreateInvoiceInput struct {
	CustomerID     string
	DaysUntilDue   int64
	Metadata       map[string]string
	IdempotencyKey string
}

type AddLineItemInput struct {
	CustomerID     string
	InvoiceID      string
	PriceID        string
	Quantity       int64
	Description    string
	Metadata       map[string]string
	IdempotencyKey string
}

// Invoice is the provider view of an invoice. DueDate is epoch seconds, zero when unset.
type Invoice struct {
	ID         string
	CustomerID string
	Status     string
	AmountDue  int64
	AmountPaid int64
	Currency   string
	DueDate    int64
	HostedURL  string
	PDFURL     string
}

// Provider is the payment provider client. Implementations never retry on their own.
type Provider interface {
	Name() string
	CreateCustomer(ctx context.Context, in CreateCustomerInput) (Customer, error)
	CreateDraftInvoice(ctx context.Context, in CreateInvoiceInput) (Invoice, error)
	AddLineItem(ctx context.Context, in AddLineItemInput) error
	FinalizeInvoice(ctx context.Context, invoiceID string) (Invoice, error)
	SendInvoice(ctx context.Context, invoiceID string) (Invoice, error)
	VoidInvoice(ctx context.Context, invoiceID string) error
}
