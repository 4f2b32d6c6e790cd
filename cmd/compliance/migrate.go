package main

import (
	"context"
	"fmt"

	"github.com/smallbiznis/compliancehub/internal/config"
	"github.com/smallbiznis/compliancehub/internal/migration"
	"github.com/smallbiznis/compliancehub/internal/observability"
	"github.com/smallbiznis/compliancehub/pkg/db"
	"github.com/spf13/cobra"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

func migrateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Apply the embedded schema migrations and exit",
		RunE: func(cmd *cobra.Command, args []string) error {
			app := fx.New(
				fx.NopLogger,
				config.Module,
				observability.Module,
				db.Module,
				fx.Invoke(func(conn *gorm.DB, log *zap.Logger) error {
					sqlDB, err := conn.DB()
					if err != nil {
						return err
					}
					if err := migration.RunMigrations(sqlDB); err != nil {
						return fmt.Errorf("apply migrations: %w", err)
					}
					log.Info("migrations applied")
					return nil
				}),
			)
			if err := app.Err(); err != nil {
				return err
			}
			ctx := context.Background()
			if err := app.Start(ctx); err != nil {
				return err
			}
			return app.Stop(ctx)
		},
	}
}
