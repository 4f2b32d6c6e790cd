package main

import (
	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/compliancehub/internal/clock"
	"github.com/smallbiznis/compliancehub/internal/config"
	"github.com/smallbiznis/compliancehub/internal/observability"
	"github.com/smallbiznis/compliancehub/internal/server"
	"github.com/smallbiznis/compliancehub/pkg/db"
	"go.uber.org/fx"
)

func main() {
	app := fx.New(
		config.Module,
		observability.Module,
		fx.Provide(RegisterSnowflake),
		db.Module,
		clock.Module,

		// Stripe webhook only; invoices and notifications are served by `compliance serve`.
		server.WebhookModule,
	)
	app.Run()
}

func RegisterSnowflake(cfg config.Config) (*snowflake.Node, error) {
	return snowflake.NewNode(cfg.SnowflakeNode)
}
