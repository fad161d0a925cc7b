package main

import (
	"fmt"

	"github.com/notimo/notimo-api/internal/infra/sqlite"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"
)

func migrateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Apply pending database migrations",
		RunE: func(_ *cobra.Command, _ []string) error {
			path := viper.GetString("database_path")
			if err := sqlite.RunMigrations(path); err != nil {
				return fmt.Errorf("migrate %s: %w", path, err)
			}
			logger.Info("migrations applied", zap.String("database_path", path))
			return nil
		},
	}
}

func seedCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "seed",
		Short: "Insert the missing predefined categories",
		Long:  `Insert every predefined category that does not exist yet. Existing rows are left untouched.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			db, categories, err := openCategories()
			if err != nil {
				return err
			}
			defer db.Close()

			n, err := categories.Seed(cmd.Context())
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%d predefined categories added\n", n)
			return nil
		},
	}
}
