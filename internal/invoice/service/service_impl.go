package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/oklog/ulid/v2"
	"github.com/smallbiznis/compliancehub/internal/authcontext"
	bookingdomain "github.com/smallbiznis/compliancehub/internal/booking/domain"
	"github.com/smallbiznis/compliancehub/internal/clock"
	"github.com/smallbiznis/compliancehub/internal/config"
	"github.com/smallbiznis/compliancehub/internal/invoice/domain"
	notificationdomain "github.com/smallbiznis/compliancehub/internal/notification/domain"
	"github.com/smallbiznis/compliancehub/internal/observability/metrics"
	"github.com/smallbiznis/compliancehub/internal/observability/tracing"
	billingdomain "github.com/smallbiznis/compliancehub/internal/providers/billing/domain"
	userdomain "github.com/smallbiznis/compliancehub/internal/user/domain"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

const defaultListLimit = 50

type Params struct {
	fx.In

	DB              *gorm.DB
	Log             *zap.Logger
	GenID           *snowflake.Node
	Clock           clock.Clock
	Repo            domain.Repository
	BookingRepo     bookingdomain.Repository
	UserSvc         userdomain.Service
	Provider        billingdomain.Provider
	NotificationSvc notificationdomain.Service
	InvoicingConfig *config.InvoicingConfigHolder
	Metrics         *metrics.Metrics `optional:"true"`
}

type Service struct {
	db              *gorm.DB
	log             *zap.Logger
	genID           *snowflake.Node
	clock           clock.Clock
	repo            domain.Repository
	bookingRepo     bookingdomain.Repository
	userSvc         userdomain.Service
	provider        billingdomain.Provider
	notificationSvc notificationdomain.Service
	invoicingCfg    *config.InvoicingConfigHolder
	metrics         *metrics.Metrics
}

func New(p Params) domain.Service {
	return &Service{
		db:              p.DB,
		log:             p.Log.Named("invoice.service"),
		genID:           p.GenID,
		clock:           p.Clock,
		repo:            p.Repo,
		bookingRepo:     p.BookingRepo,
		userSvc:         p.UserSvc,
		provider:        p.Provider,
		notificationSvc: p.NotificationSvc,
		invoicingCfg:    p.InvoicingConfig,
		metrics:         p.Metrics,
	}
}

// Create bills the given bookings as one provider invoice. Steps run strictly in order:
// customer, bookings and prices, draft, line items, finalize, send, local rows.
func (s *Service) Create(ctx context.Context, req domain.CreateInvoiceRequest) (invoice domain.Invoice, err error) {
	ctx, span := tracing.StartSpan(ctx, "invoice.create", attribute.Int("bookings", len(req.BookingIDs)))
	defer func() {
		if err != nil {
			span.RecordError(tracing.SafeError(err))
			span.SetStatus(codes.Error, "invoice create failed")
			s.metrics.RecordInvoiceFailure(ctx, failureReason(err))
		}
		span.End()
	}()

	bookingIDs, err := parseBookingIDs(req.BookingIDs)
	if err != nil {
		return domain.Invoice{}, err
	}

	userID, ok := authcontext.UserIDFromContext(ctx)
	if !ok {
		return domain.Invoice{}, domain.ErrUnauthorized
	}
	log := s.log.With(zap.String("user_id", userID.String()))

	customerID, err := s.userSvc.EnsureBillingCustomer(ctx, userID)
	if err != nil {
		if errors.Is(err, userdomain.ErrUserNotFound) {
			return domain.Invoice{}, domain.ErrUnauthorized
		}
		if billingdomain.IsUpstream(err) {
			return domain.Invoice{}, err
		}
		return domain.Invoice{}, &domain.PersistenceError{Op: "billing_customer", Err: err}
	}

	prices, err := s.resolvePrices(ctx, userID, bookingIDs)
	if err != nil {
		return domain.Invoice{}, err
	}

	cfg := s.invoicingCfg.Get()
	correlationID := ulid.Make().String()
	log = log.With(zap.String("correlation_id", correlationID))

	draft, err := s.provider.CreateDraftInvoice(ctx, billingdomain.CreateInvoiceInput{
		CustomerID:   customerID,
		DaysUntilDue: cfg.NetTermsDays,
		Metadata: map[string]string{
			"user_id":        userID.String(),
			"correlation_id": correlationID,
		},
		IdempotencyKey: "invoice:" + correlationID,
	})
	if err != nil {
		return domain.Invoice{}, err
	}
	log = log.With(zap.String("provider_invoice_id", draft.ID))

	for i, bookingID := range bookingIDs {
		err := s.provider.AddLineItem(ctx, billingdomain.AddLineItemInput{
			CustomerID:     customerID,
			InvoiceID:      draft.ID,
			PriceID:        prices[i],
			Quantity:       1,
			Description:    "Booking " + bookingID.String(),
			Metadata:       map[string]string{"booking_id": bookingID.String()},
			IdempotencyKey: fmt.Sprintf("invoice:%s:item:%d", correlationID, i),
		})
		if err != nil {
			s.voidOrphanedDraft(ctx, log, draft.ID, cfg)
			return domain.Invoice{}, err
		}
	}

	finalized, err := s.provider.FinalizeInvoice(ctx, draft.ID)
	if err != nil {
		s.voidOrphanedDraft(ctx, log, draft.ID, cfg)
		return domain.Invoice{}, err
	}
	sent, err := s.provider.SendInvoice(ctx, draft.ID)
	if err != nil {
		s.voidOrphanedDraft(ctx, log, draft.ID, cfg)
		return domain.Invoice{}, err
	}

	now := s.clock.Now().UTC()
	invoice = buildInvoice(s.genID.Generate(), userID, s.provider.Name(), draft, finalized, sent, now)
	invoice.BookingIDs = bookingIDs

	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := s.repo.Insert(ctx, tx, &invoice); err != nil {
			return err
		}
		return s.repo.InsertBookings(ctx, tx, invoice.ID, bookingIDs, now)
	})
	if err != nil {
		// The provider invoice is already sent; it is left as is and surfaces through logs.
		log.Error("persist sent invoice failed", zap.Error(err))
		return domain.Invoice{}, &domain.PersistenceError{Op: "invoice", Err: err}
	}

	s.metrics.RecordInvoiceCreated(ctx, len(bookingIDs))
	log.Info("invoice created",
		zap.String("invoice_id", invoice.ID.String()),
		zap.String("status", invoice.Status),
		zap.Int64("amount_due", invoice.AmountDue),
		zap.Int("line_items", len(bookingIDs)),
	)
	s.notifyCreated(ctx, log, invoice)
	return invoice, nil
}

func (s *Service) List(ctx context.Context, req domain.ListInvoiceRequest) ([]domain.Invoice, error) {
	userID, ok := authcontext.UserIDFromContext(ctx)
	if !ok {
		return nil, domain.ErrUnauthorized
	}
	limit := req.Limit
	if limit <= 0 || limit > 200 {
		limit = defaultListLimit
	}

	items, err := s.repo.List(ctx, s.db, userID, limit)
	if err != nil {
		return nil, err
	}
	ids := make([]snowflake.ID, 0, len(items))
	for _, item := range items {
		ids = append(ids, item.ID)
	}
	bookings, err := s.repo.ListBookingIDs(ctx, s.db, ids)
	if err != nil {
		return nil, err
	}
	for i := range items {
		items[i].BookingIDs = bookings[items[i].ID]
	}
	if items == nil {
		items = []domain.Invoice{}
	}
	return items, nil
}

func (s *Service) GetByID(ctx context.Context, id string) (domain.Invoice, error) {
	userID, ok := authcontext.UserIDFromContext(ctx)
	if !ok {
		return domain.Invoice{}, domain.ErrUnauthorized
	}
	invoiceID, err := snowflake.ParseString(strings.TrimSpace(id))
	if err != nil || invoiceID == 0 {
		return domain.Invoice{}, domain.ErrInvalidInvoiceID
	}

	item, err := s.repo.FindByID(ctx, s.db, userID, invoiceID)
	if err != nil {
		return domain.Invoice{}, err
	}
	if item == nil {
		return domain.Invoice{}, domain.ErrInvoiceNotFound
	}
	bookings, err := s.repo.ListBookingIDs(ctx, s.db, []snowflake.ID{item.ID})
	if err != nil {
		return domain.Invoice{}, err
	}
	item.BookingIDs = bookings[item.ID]
	return *item, nil
}

// resolvePrices returns the price reference per booking, in request order. Any missing
// booking or price fails the whole request before the provider is touched.
func (s *Service) resolvePrices(ctx context.Context, userID snowflake.ID, bookingIDs []snowflake.ID) ([]string, error) {
	rows, err := s.bookingRepo.FindBillable(ctx, s.db, userID, bookingIDs)
	if err != nil {
		return nil, &domain.PersistenceError{Op: "load_bookings", Err: err}
	}
	byID := make(map[snowflake.ID]bookingdomain.Billable, len(rows))
	for _, row := range rows {
		byID[row.BookingID] = row
	}

	prices := make([]string, 0, len(bookingIDs))
	for _, bookingID := range bookingIDs {
		row, ok := byID[bookingID]
		if !ok {
			return nil, fmt.Errorf("%w: %s", domain.ErrBookingNotFound, bookingID)
		}
		price, ok := row.Price()
		if !ok {
			return nil, &domain.MissingPriceConfigurationError{
				BookingID: bookingID.String(),
				ServiceID: row.ServiceID.String(),
			}
		}
		prices = append(prices, price)
	}
	return prices, nil
}

func (s *Service) voidOrphanedDraft(ctx context.Context, log *zap.Logger, providerInvoiceID string, cfg config.InvoicingConfig) {
	if !cfg.VoidOrphanedDrafts {
		log.Warn("provider draft left orphaned")
		return
	}
	if err := s.provider.VoidInvoice(context.WithoutCancel(ctx), providerInvoiceID); err != nil {
		log.Warn("void orphaned draft failed", zap.Error(err))
		return
	}
	log.Info("orphaned draft voided")
}

func (s *Service) notifyCreated(ctx context.Context, log *zap.Logger, invoice domain.Invoice) {
	if s.notificationSvc == nil {
		return
	}
	_, err := s.notificationSvc.Create(ctx, notificationdomain.CreateRequest{
		UserID: invoice.UserID.String(),
		Type:   notificationdomain.TypeInvoiceCreated,
		Title:  "Invoice created",
		Body:   fmt.Sprintf("An invoice for %d booking(s) has been sent.", len(invoice.BookingIDs)),
		Meta: map[string]any{
			"invoice_id":          invoice.ID.String(),
			"provider_invoice_id": invoice.ProviderInvoiceID,
			"amount_due":          invoice.AmountDue,
			"currency":            invoice.Currency,
			"hosted_url":          invoice.HostedURL,
		},
	})
	if err != nil {
		log.Warn("invoice notification failed", zap.Error(err))
	}
}

func parseBookingIDs(raw []string) ([]snowflake.ID, error) {
	if len(raw) == 0 {
		return nil, domain.ErrEmptyBookingIDs
	}
	seen := make(map[snowflake.ID]struct{}, len(raw))
	out := make([]snowflake.ID, 0, len(raw))
	for _, value := range raw {
		id, err := snowflake.ParseString(strings.TrimSpace(value))
		if err != nil || id <= 0 {
			return nil, domain.ErrInvalidBookingID
		}
		if _, dup := seen[id]; dup {
			continue
		}
		seen[id] = struct{}{}
		out = append(out, id)
	}
	return out, nil
}

func buildInvoice(id, userID snowflake.ID, provider string, draft, finalized, sent billingdomain.Invoice, now time.Time) domain.Invoice {
	pick := func(values ...string) string {
		for _, v := range values {
			if v != "" {
				return v
			}
		}
		return ""
	}

	amountDue := sent.AmountDue
	if amountDue == 0 {
		amountDue = finalized.AmountDue
	}
	dueDate := sent.DueDate
	if dueDate == 0 {
		dueDate = finalized.DueDate
	}

	invoice := domain.Invoice{
		ID:                id,
		UserID:            userID,
		Provider:          provider,
		ProviderInvoiceID: pick(sent.ID, finalized.ID, draft.ID),
		Status:            normalizeStatus(pick(sent.Status, finalized.Status)),
		AmountDue:         amountDue,
		Currency:          strings.ToLower(pick(sent.Currency, finalized.Currency, draft.Currency)),
		HostedURL:         pick(sent.HostedURL, finalized.HostedURL),
		PDFURL:            pick(sent.PDFURL, finalized.PDFURL),
		CreatedAt:         now,
		UpdatedAt:         now,
	}
	if dueDate > 0 {
		due := time.Unix(dueDate, 0).UTC()
		invoice.DueDate = &due
	}
	if invoice.Status == domain.StatusPaid {
		paid := pickAmountPaid(sent, finalized)
		invoice.AmountPaid = &paid
	}
	return invoice
}

func pickAmountPaid(sent, finalized billingdomain.Invoice) int64 {
	if sent.AmountPaid > 0 {
		return sent.AmountPaid
	}
	return finalized.AmountPaid
}

func normalizeStatus(status string) string {
	switch status {
	case domain.StatusDraft, domain.StatusOpen, domain.StatusPaid, domain.StatusUncollectible, domain.StatusVoid:
		return status
	}
	return domain.StatusOpen
}

func failureReason(err error) string {
	var (
		missingPrice *domain.MissingPriceConfigurationError
		persistence  *domain.PersistenceError
	)
	switch {
	case errors.Is(err, domain.ErrInvalidArgument):
		return "invalid_argument"
	case errors.Is(err, domain.ErrUnauthorized):
		return "unauthorized"
	case errors.Is(err, domain.ErrBookingNotFound):
		return "booking_not_found"
	case errors.As(err, &missingPrice):
		return "missing_price_configuration"
	case billingdomain.IsUpstream(err):
		return "upstream_provider_error"
	case errors.As(err, &persistence):
		return "persistence_error"
	}
	return "internal"
}
