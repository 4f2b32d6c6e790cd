// Package billingtest provides an in-memory billing provider for service tests.
package billingtest

import (
	"context"
	"fmt"
	"sync"

	billingdomain "github.com/smallbiznis/compliancehub/internal/providers/billing/domain"
)

type LineItem struct {
	InvoiceID      string
	PriceID        string
	Metadata       map[string]string
	IdempotencyKey string
}

// Stripe metadata limits.
const (
	maxMetadataKeys     = 50
	maxMetadataKeyLen   = 40
	maxMetadataValueLen = 500
)

// Provider records every call. Fail* hooks return an error for the named operation.
type Provider struct {
	mu sync.Mutex

	Customers  []billingdomain.CreateCustomerInput
	Drafts     []billingdomain.CreateInvoiceInput
	LineItems  []LineItem
	Finalized  []string
	Sent       []string
	Voided     []string
	AmountEach int64

	FailCustomer bool
	FailLineItem string // price id that fails
	FailFinalize bool
	FailSend     bool
	FailVoid     bool

	seq int
}

func New() *Provider {
	return &Provider{AmountEach: 7500}
}

func (p *Provider) Name() string { return "fake" }

func (p *Provider) CreateCustomer(ctx context.Context, in billingdomain.CreateCustomerInput) (billingdomain.Customer, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.FailCustomer {
		return billingdomain.Customer{}, p.upstream("create_customer")
	}
	p.Customers = append(p.Customers, in)
	return billingdomain.Customer{ID: fmt.Sprintf("cus_%d", len(p.Customers)), Email: in.Email}, nil
}

func (p *Provider) CreateDraftInvoice(ctx context.Context, in billingdomain.CreateInvoiceInput) (billingdomain.Invoice, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if err := p.checkMetadata("create_invoice", in.Metadata); err != nil {
		return billingdomain.Invoice{}, err
	}
	p.Drafts = append(p.Drafts, in)
	p.seq++
	return billingdomain.Invoice{
		ID:         fmt.Sprintf("in_%d", p.seq),
		CustomerID: in.CustomerID,
		Status:     billingdomain.InvoiceStatusDraft,
		Currency:   "gbp",
	}, nil
}

func (p *Provider) AddLineItem(ctx context.Context, in billingdomain.AddLineItemInput) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.FailLineItem != "" && p.FailLineItem == in.PriceID {
		return p.upstream("add_line_item")
	}
	if err := p.checkMetadata("add_line_item", in.Metadata); err != nil {
		return err
	}
	p.LineItems = append(p.LineItems, LineItem{
		InvoiceID:      in.InvoiceID,
		PriceID:        in.PriceID,
		Metadata:       in.Metadata,
		IdempotencyKey: in.IdempotencyKey,
	})
	return nil
}

func (p *Provider) FinalizeInvoice(ctx context.Context, invoiceID string) (billingdomain.Invoice, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.FailFinalize {
		return billingdomain.Invoice{}, p.upstream("finalize_invoice")
	}
	p.Finalized = append(p.Finalized, invoiceID)
	return p.invoiceLocked(invoiceID), nil
}

func (p *Provider) SendInvoice(ctx context.Context, invoiceID string) (billingdomain.Invoice, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.FailSend {
		return billingdomain.Invoice{}, p.upstream("send_invoice")
	}
	p.Sent = append(p.Sent, invoiceID)
	inv := p.invoiceLocked(invoiceID)
	inv.HostedURL = "https://pay.example/" + invoiceID
	inv.PDFURL = "https://pay.example/" + invoiceID + ".pdf"
	return inv, nil
}

func (p *Provider) VoidInvoice(ctx context.Context, invoiceID string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.FailVoid {
		return p.upstream("void_invoice")
	}
	p.Voided = append(p.Voided, invoiceID)
	return nil
}

func (p *Provider) LineItemsFor(invoiceID string) []LineItem {
	p.mu.Lock()
	defer p.mu.Unlock()
	var out []LineItem
	for _, item := range p.LineItems {
		if item.InvoiceID == invoiceID {
			out = append(out, item)
		}
	}
	return out
}

func (p *Provider) invoiceLocked(invoiceID string) billingdomain.Invoice {
	var items int64
	for _, item := range p.LineItems {
		if item.InvoiceID == invoiceID {
			items++
		}
	}
	return billingdomain.Invoice{
		ID:        invoiceID,
		Status:    billingdomain.InvoiceStatusOpen,
		AmountDue: items * p.AmountEach,
		Currency:  "gbp",
		DueDate:   1767225600,
	}
}

func (p *Provider) checkMetadata(op string, metadata map[string]string) error {
	if len(metadata) > maxMetadataKeys {
		return &billingdomain.UpstreamError{Provider: "fake", Op: op, Message: "too many metadata keys"}
	}
	for key, value := range metadata {
		if len(key) > maxMetadataKeyLen || len(value) > maxMetadataValueLen {
			return &billingdomain.UpstreamError{Provider: "fake", Op: op, Message: "metadata " + key + " too long"}
		}
	}
	return nil
}

func (p *Provider) upstream(op string) error {
	return &billingdomain.UpstreamError{Provider: "fake", Op: op, Message: op + " rejected"}
}
