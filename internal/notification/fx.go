package notification

import (
	"github.com/smallbiznis/compliancehub/internal/notification/realtime"
	"github.com/smallbiznis/compliancehub/internal/notification/repository"
	"github.com/smallbiznis/compliancehub/internal/notification/service"
	"go.uber.org/fx"
)

var Module = fx.Module("notification.service",
	realtime.Module,
	fx.Provide(repository.Provide),
	fx.Provide(service.New),
)
