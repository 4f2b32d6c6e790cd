package stripe

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/smallbiznis/compliancehub/internal/config"
	"github.com/smallbiznis/compliancehub/internal/observability/metrics"
	billingdomain "github.com/smallbiznis/compliancehub/internal/providers/billing/domain"
	stripesdk "github.com/stripe/stripe-go/v76"
	"github.com/stripe/stripe-go/v76/client"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

const providerName = "stripe"

type Params struct {
	fx.In

	Cfg     config.Config
	Log     *zap.Logger
	Metrics *metrics.Metrics `optional:"true"`
}

type Adapter struct {
	api     *client.API
	log     *zap.Logger
	metrics *metrics.Metrics
}

func New(p Params) (billingdomain.Provider, error) {
	return NewAdapter(p.Cfg.Stripe, p.Log, p.Metrics)
}

// NewAdapter builds a Stripe client. APIURL redirects every call, which is how tests run against httptest.
func NewAdapter(cfg config.StripeConfig, log *zap.Logger, m *metrics.Metrics) (*Adapter, error) {
	key := strings.TrimSpace(cfg.SecretKey)
	if key == "" {
		return nil, billingdomain.ErrProviderNotConfigured
	}
	if log == nil {
		log = zap.NewNop()
	}
	log = log.Named("billing.stripe")

	backendCfg := &stripesdk.BackendConfig{
		HTTPClient:        &http.Client{Timeout: 30 * time.Second},
		LeveledLogger:     log.Sugar(),
		MaxNetworkRetries: stripesdk.Int64(cfg.MaxNetworkRetries),
	}
	if url := strings.TrimRight(strings.TrimSpace(cfg.APIURL), "/"); url != "" {
		backendCfg.URL = stripesdk.String(url)
	}

	return &Adapter{
		api:     client.New(key, stripesdk.NewBackendsWithConfig(backendCfg)),
		log:     log,
		metrics: m,
	}, nil
}

func (a *Adapter) Name() string { return providerName }

func (a *Adapter) CreateCustomer(ctx context.Context, in billingdomain.CreateCustomerInput) (billingdomain.Customer, error) {
	params := &stripesdk.CustomerParams{
		Email:    stripesdk.String(in.Email),
		Metadata: in.Metadata,
	}
	if name := strings.TrimSpace(in.Name); name != "" {
		params.Name = stripesdk.String(name)
	}
	params.Context = ctx
	if in.IdempotencyKey != "" {
		params.SetIdempotencyKey(in.IdempotencyKey)
	}

	customer, err := a.api.Customers.New(params)
	if err := a.observe(ctx, "create_customer", err); err != nil {
		return billingdomain.Customer{}, err
	}
	return billingdomain.Customer{ID: customer.ID, Email: customer.Email}, nil
}

func (a *Adapter) CreateDraftInvoice(ctx context.Context, in billingdomain.CreateInvoiceInput) (billingdomain.Invoice, error) {
	params := &stripesdk.InvoiceParams{
		Customer:                    stripesdk.String(in.CustomerID),
		CollectionMethod:            stripesdk.String(string(stripesdk.InvoiceCollectionMethodSendInvoice)),
		DaysUntilDue:                stripesdk.Int64(in.DaysUntilDue),
		AutoAdvance:                 stripesdk.Bool(false),
		PendingInvoiceItemsBehavior: stripesdk.String("exclude"),
		Metadata:                    in.Metadata,
	}
	params.Context = ctx
	if in.IdempotencyKey != "" {
		params.SetIdempotencyKey(in.IdempotencyKey)
	}

	inv, err := a.api.Invoices.New(params)
	if err := a.observe(ctx, "create_invoice", err); err != nil {
		return billingdomain.Invoice{}, err
	}
	return toInvoice(inv), nil
}

func (a *Adapter) AddLineItem(ctx context.Context, in billingdomain.AddLineItemInput) error {
	quantity := in.Quantity
	if quantity <= 0 {
		quantity = 1
	}
	params := &stripesdk.InvoiceItemParams{
		Customer: stripesdk.String(in.CustomerID),
		Invoice:  stripesdk.String(in.InvoiceID),
		Price:    stripesdk.String(in.PriceID),
		Quantity: stripesdk.Int64(quantity),
		Metadata: in.Metadata,
	}
	if in.Description != "" {
		params.Description = stripesdk.String(in.Description)
	}
	params.Context = ctx
	if in.IdempotencyKey != "" {
		params.SetIdempotencyKey(in.IdempotencyKey)
	}

	_, err := a.api.InvoiceItems.New(params)
	return a.observe(ctx, "add_line_item", err)
}

func (a *Adapter) FinalizeInvoice(ctx context.Context, invoiceID string) (billingdomain.Invoice, error) {
	params := &stripesdk.InvoiceFinalizeInvoiceParams{AutoAdvance: stripesdk.Bool(false)}
	params.Context = ctx

	inv, err := a.api.Invoices.FinalizeInvoice(invoiceID, params)
	if err := a.observe(ctx, "finalize_invoice", err); err != nil {
		return billingdomain.Invoice{}, err
	}
	return toInvoice(inv), nil
}

func (a *Adapter) SendInvoice(ctx context.Context, invoiceID string) (billingdomain.Invoice, error) {
	params := &stripesdk.InvoiceSendInvoiceParams{}
	params.Context = ctx

	inv, err := a.api.Invoices.SendInvoice(invoiceID, params)
	if err := a.observe(ctx, "send_invoice", err); err != nil {
		return billingdomain.Invoice{}, err
	}
	return toInvoice(inv), nil
}

func (a *Adapter) VoidInvoice(ctx context.Context, invoiceID string) error {
	params := &stripesdk.InvoiceVoidInvoiceParams{}
	params.Context = ctx

	_, err := a.api.Invoices.VoidInvoice(invoiceID, params)
	return a.observe(ctx, "void_invoice", err)
}

func (a *Adapter) observe(ctx context.Context, op string, err error) error {
	a.metrics.RecordProviderCall(ctx, providerName, op, err)
	if err == nil {
		return nil
	}

	upstream := &billingdomain.UpstreamError{Provider: providerName, Op: op, Err: err}
	var stripeErr *stripesdk.Error
	if errors.As(err, &stripeErr) {
		upstream.Message = stripeErr.Msg
		a.log.Warn("stripe call failed",
			zap.String("operation", op),
			zap.Int("status", stripeErr.HTTPStatusCode),
			zap.String("request_id", stripeErr.RequestID),
			zap.String("code", string(stripeErr.Code)),
		)
	} else {
		a.log.Warn("stripe call failed", zap.String("operation", op), zap.Error(err))
	}
	return upstream
}

func toInvoice(inv *stripesdk.Invoice) billingdomain.Invoice {
	if inv == nil {
		return billingdomain.Invoice{}
	}
	out := billingdomain.Invoice{
		ID:         inv.ID,
		Status:     string(inv.Status),
		AmountDue:  inv.AmountDue,
		AmountPaid: inv.AmountPaid,
		Currency:   string(inv.Currency),
		DueDate:    inv.DueDate,
		HostedURL:  inv.HostedInvoiceURL,
		PDFURL:     inv.InvoicePDF,
	}
	if inv.Customer != nil {
		out.CustomerID = inv.Customer.ID
	}
	return out
}
