package main

import (
	"github.com/smallbiznis/compliancehub/internal/clock"
	"github.com/smallbiznis/compliancehub/internal/config"
	"github.com/smallbiznis/compliancehub/internal/migration"
	"github.com/smallbiznis/compliancehub/internal/observability"
	"github.com/smallbiznis/compliancehub/internal/server"
	"github.com/smallbiznis/compliancehub/pkg/db"
	"github.com/spf13/cobra"
	"go.uber.org/fx"
)

func serveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP API (invoices, webhooks, notifications)",
		RunE: func(cmd *cobra.Command, args []string) error {
			app := fx.New(
				config.Module,
				observability.Module,
				fx.Provide(RegisterSnowflake),
				db.Module,
				clock.Module,
				migration.Module,
				server.Module,
			)
			if err := app.Err(); err != nil {
				return err
			}
			app.Run()
			return nil
		},
	}
}
