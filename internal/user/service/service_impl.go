package service

import (
	"context"
	"fmt"
	"strings"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/compliancehub/internal/clock"
	billingdomain "github.com/smallbiznis/compliancehub/internal/providers/billing/domain"
	"github.com/smallbiznis/compliancehub/internal/user/domain"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

type Params struct {
	fx.In

	DB       *gorm.DB
	Log      *zap.Logger
	Clock    clock.Clock
	Repo     domain.Repository
	Provider billingdomain.Provider
}

type Service struct {
	db       *gorm.DB
	log      *zap.Logger
	clock    clock.Clock
	repo     domain.Repository
	provider billingdomain.Provider
}

func New(p Params) domain.Service {
	return &Service{
		db:       p.DB,
		log:      p.Log.Named("user.service"),
		clock:    p.Clock,
		repo:     p.Repo,
		provider: p.Provider,
	}
}

func (s *Service) GetByID(ctx context.Context, id snowflake.ID) (domain.User, error) {
	user, err := s.repo.FindByID(ctx, s.db, id)
	if err != nil {
		return domain.User{}, err
	}
	if user == nil {
		return domain.User{}, domain.ErrUserNotFound
	}
	return *user, nil
}

func (s *Service) EnsureBillingCustomer(ctx context.Context, id snowflake.ID) (string, error) {
	user, err := s.GetByID(ctx, id)
	if err != nil {
		return "", err
	}
	if user.HasBillingCustomer() {
		return *user.ProviderCustomerID, nil
	}

	email := strings.TrimSpace(user.Email)
	if email == "" {
		return "", domain.ErrInvalidEmail
	}

	// Concurrent creators share the idempotency key and therefore the provider customer.
	customer, err := s.provider.CreateCustomer(ctx, billingdomain.CreateCustomerInput{
		Email:          email,
		Name:           user.DisplayName,
		Metadata:       map[string]string{"user_id": user.ID.String()},
		IdempotencyKey: "customer:" + user.ID.String(),
	})
	if err != nil {
		return "", err
	}

	written, err := s.repo.SetProviderCustomerIDIfEmpty(ctx, s.db, user.ID, customer.ID, s.clock.Now())
	if err != nil {
		return "", fmt.Errorf("store provider customer id: %w", err)
	}
	if written {
		s.log.Info("billing customer created",
			zap.String("user_id", user.ID.String()),
			zap.String("provider_customer_id", customer.ID),
		)
		return customer.ID, nil
	}

	// Another request stored an id first; the stored one wins.
	stored, err := s.GetByID(ctx, id)
	if err != nil {
		return "", err
	}
	if !stored.HasBillingCustomer() {
		return "", fmt.Errorf("provider customer id not persisted for user %s", id)
	}
	if *stored.ProviderCustomerID != customer.ID {
		s.log.Warn("billing customer already linked",
			zap.String("user_id", user.ID.String()),
			zap.String("stored", *stored.ProviderCustomerID),
			zap.String("created", customer.ID),
		)
	}
	return *stored.ProviderCustomerID, nil
}
