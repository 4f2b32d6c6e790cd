package payment

import (
	"github.com/smallbiznis/compliancehub/internal/payment/repository"
	"github.com/smallbiznis/compliancehub/internal/payment/webhook"
	"go.uber.org/fx"
)

var Module = fx.Module("payment.webhook",
	fx.Provide(repository.Provide),
	fx.Provide(webhook.NewService),
)
