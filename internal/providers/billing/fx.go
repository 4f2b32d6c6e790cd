package billing

import (
	"github.com/smallbiznis/compliancehub/internal/providers/billing/stripe"
	"go.uber.org/fx"
)

var Module = fx.Module("billing.provider",
	fx.Provide(stripe.New),
)
