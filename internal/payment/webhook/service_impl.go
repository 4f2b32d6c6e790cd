package webhook

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/compliancehub/internal/clock"
	"github.com/smallbiznis/compliancehub/internal/config"
	invoicedomain "github.com/smallbiznis/compliancehub/internal/invoice/domain"
	notificationdomain "github.com/smallbiznis/compliancehub/internal/notification/domain"
	"github.com/smallbiznis/compliancehub/internal/observability/metrics"
	paymentdomain "github.com/smallbiznis/compliancehub/internal/payment/domain"
	"github.com/stripe/stripe-go/v76"
	stripewebhook "github.com/stripe/stripe-go/v76/webhook"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

type Params struct {
	fx.In

	DB              *gorm.DB
	Log             *zap.Logger
	GenID           *snowflake.Node
	Clock           clock.Clock
	Cfg             config.Config
	Repo            paymentdomain.Repository
	InvoiceRepo     invoicedomain.Repository
	NotificationSvc notificationdomain.Service `optional:"true"`
	Metrics         *metrics.Metrics           `optional:"true"`
}

type Service struct {
	db              *gorm.DB
	log             *zap.Logger
	genID           *snowflake.Node
	clock           clock.Clock
	secret          string
	repo            paymentdomain.Repository
	invoiceRepo     invoicedomain.Repository
	notificationSvc notificationdomain.Service
	metrics         *metrics.Metrics
}

func NewService(p Params) paymentdomain.Service {
	return &Service{
		db:              p.DB,
		log:             p.Log.Named("payment.webhook"),
		genID:           p.GenID,
		clock:           p.Clock,
		secret:          strings.TrimSpace(p.Cfg.Stripe.WebhookSecret),
		repo:            p.Repo,
		invoiceRepo:     p.InvoiceRepo,
		notificationSvc: p.NotificationSvc,
		metrics:         p.Metrics,
	}
}

// paymentUpdate is the local change an invoice event asks for.
type paymentUpdate struct {
	providerInvoiceID string
	status            string
	amountPaid        *int64
}

func (s *Service) IngestStripe(ctx context.Context, payload []byte, signature string) (paymentdomain.Outcome, error) {
	if s.secret == "" {
		return "", paymentdomain.ErrWebhookSecretMissing
	}

	event, err := stripewebhook.ConstructEventWithOptions(payload, signature, s.secret, stripewebhook.ConstructEventOptions{
		IgnoreAPIVersionMismatch: true,
	})
	if err != nil {
		if isSignatureError(err) {
			s.log.Warn("stripe webhook signature rejected", zap.Error(err))
			s.metrics.RecordWebhookEvent(ctx, paymentdomain.ProviderStripe, "unknown", "rejected")
			return "", fmt.Errorf("%w: %v", paymentdomain.ErrSignatureVerification, err)
		}
		return "", fmt.Errorf("%w: %v", paymentdomain.ErrInvalidPayload, err)
	}
	if strings.TrimSpace(event.ID) == "" {
		return "", fmt.Errorf("%w: missing event id", paymentdomain.ErrInvalidPayload)
	}

	eventType := string(event.Type)
	log := s.log.With(zap.String("event_id", event.ID), zap.String("event_type", eventType))

	update, err := parseUpdate(event)
	if err != nil {
		return "", err
	}

	now := s.clock.Now().UTC()
	received := paymentdomain.EventRecord{
		ID:              s.genID.Generate(),
		Provider:        paymentdomain.ProviderStripe,
		ProviderEventID: event.ID,
		EventType:       eventType,
		Payload:         datatypes.JSON(payload),
		ReceivedAt:      now,
	}
	inserted, err := s.repo.InsertEvent(ctx, s.db, &received)
	if err != nil {
		return "", err
	}
	stored := &received
	if !inserted {
		stored, err = s.repo.FindEvent(ctx, s.db, paymentdomain.ProviderStripe, event.ID)
		if err != nil {
			return "", err
		}
		if stored == nil {
			return "", fmt.Errorf("payment event %s vanished after conflict", event.ID)
		}
		if stored.ProcessedAt != nil {
			log.Info("stripe webhook already processed")
			s.metrics.RecordWebhookEvent(ctx, paymentdomain.ProviderStripe, eventType, string(paymentdomain.OutcomeDuplicate))
			return paymentdomain.OutcomeDuplicate, nil
		}
	}

	if update == nil {
		if err := s.repo.MarkProcessed(ctx, s.db, stored.ID, now); err != nil {
			return "", err
		}
		log.Info("stripe webhook ignored")
		s.metrics.RecordWebhookEvent(ctx, paymentdomain.ProviderStripe, eventType, string(paymentdomain.OutcomeIgnored))
		return paymentdomain.OutcomeIgnored, nil
	}

	var (
		before   *invoicedomain.Invoice
		affected int64
	)
	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var err error
		before, err = s.invoiceRepo.FindByProviderInvoiceID(ctx, tx, paymentdomain.ProviderStripe, update.providerInvoiceID)
		if err != nil {
			return err
		}
		affected, err = s.invoiceRepo.UpdatePaymentState(ctx, tx, paymentdomain.ProviderStripe, update.providerInvoiceID, update.status, update.amountPaid, now)
		if err != nil {
			return err
		}
		return s.repo.MarkProcessed(ctx, tx, stored.ID, now)
	})
	if err != nil {
		log.Error("stripe webhook update failed", zap.Error(err))
		s.metrics.RecordWebhookEvent(ctx, paymentdomain.ProviderStripe, eventType, "failed")
		return "", err
	}

	log = log.With(zap.String("provider_invoice_id", update.providerInvoiceID))
	if affected == 0 {
		log.Warn("stripe webhook for unknown invoice")
		s.metrics.RecordWebhookEvent(ctx, paymentdomain.ProviderStripe, eventType, string(paymentdomain.OutcomeUnmatched))
		return paymentdomain.OutcomeUnmatched, nil
	}

	log.Info("invoice payment state updated", zap.String("status", update.status))
	s.metrics.RecordWebhookEvent(ctx, paymentdomain.ProviderStripe, eventType, string(paymentdomain.OutcomeApplied))
	if before != nil && before.Status != invoicedomain.StatusPaid && update.status == invoicedomain.StatusPaid {
		s.notifyPaid(ctx, log, *before, update)
	}
	return paymentdomain.OutcomeApplied, nil
}

func parseUpdate(event stripe.Event) (*paymentUpdate, error) {
	var status string
	switch string(event.Type) {
	case paymentdomain.EventInvoicePaymentSucceeded:
		status = invoicedomain.StatusPaid
	case paymentdomain.EventInvoicePaymentFailed:
		status = invoicedomain.StatusUncollectible
	default:
		return nil, nil
	}

	if event.Data == nil || len(event.Data.Raw) == 0 {
		return nil, fmt.Errorf("%w: event has no data object", paymentdomain.ErrInvalidPayload)
	}
	var invoice stripe.Invoice
	if err := json.Unmarshal(event.Data.Raw, &invoice); err != nil {
		return nil, fmt.Errorf("%w: %v", paymentdomain.ErrInvalidPayload, err)
	}
	if strings.TrimSpace(invoice.ID) == "" {
		return nil, fmt.Errorf("%w: invoice id missing", paymentdomain.ErrInvalidPayload)
	}

	update := &paymentUpdate{providerInvoiceID: invoice.ID, status: status}
	if status == invoicedomain.StatusPaid {
		amountPaid := invoice.AmountPaid
		update.amountPaid = &amountPaid
	}
	return update, nil
}

func (s *Service) notifyPaid(ctx context.Context, log *zap.Logger, invoice invoicedomain.Invoice, update *paymentUpdate) {
	if s.notificationSvc == nil {
		return
	}
	meta := map[string]any{
		"invoice_id":          invoice.ID.String(),
		"provider_invoice_id": update.providerInvoiceID,
		"currency":            invoice.Currency,
	}
	if update.amountPaid != nil {
		meta["amount_paid"] = *update.amountPaid
	}
	_, err := s.notificationSvc.Create(ctx, notificationdomain.CreateRequest{
		UserID: invoice.UserID.String(),
		Type:   notificationdomain.TypeOther,
		Title:  "Invoice paid",
		Body:   "Thank you, your payment has been received.",
		Meta:   meta,
	})
	if err != nil {
		log.Warn("invoice paid notification failed", zap.Error(err))
	}
}

func isSignatureError(err error) bool {
	return errors.Is(err, stripewebhook.ErrNotSigned) ||
		errors.Is(err, stripewebhook.ErrInvalidHeader) ||
		errors.Is(err, stripewebhook.ErrNoValidSignature) ||
		errors.Is(err, stripewebhook.ErrTooOld)
}
