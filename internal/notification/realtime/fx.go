package realtime

import (
	"context"
	"strings"

	"github.com/redis/go-redis/v9"
	"github.com/smallbiznis/compliancehub/internal/config"
	"github.com/smallbiznis/compliancehub/internal/notification/domain"
	"go.uber.org/fx"
	"go.uber.org/multierr"
	"go.uber.org/zap"
)

type PublisherParams struct {
	fx.In

	Lc  fx.Lifecycle
	Cfg config.Config
	Hub *Hub
	Log *zap.Logger
}

// ProvidePublisher publishes through Redis when REDIS_ADDR is set and straight to the hub otherwise.
func ProvidePublisher(p PublisherParams) domain.Publisher {
	addr := strings.TrimSpace(p.Cfg.Redis.Addr)
	if addr == "" {
		return p.Hub
	}

	client := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: p.Cfg.Redis.Password,
		DB:       p.Cfg.Redis.DB,
	})
	relay := NewRedisRelay(client, p.Cfg.Redis.Channel, p.Hub, p.Log)

	p.Lc.Append(fx.Hook{
		OnStart: relay.Start,
		OnStop: func(ctx context.Context) error {
			return multierr.Combine(relay.Stop(ctx), client.Close())
		},
	})
	return relay
}

var Module = fx.Module("notification.realtime",
	fx.Provide(NewHub),
	fx.Provide(ProvidePublisher),
)
