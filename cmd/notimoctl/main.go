// Command notimoctl is the operator tool of the Notimo API: it applies
// migrations, seeds the predefined catalogue and edits predefined categories.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/notimo/notimo-api/internal/infra/observability"
	"github.com/notimo/notimo-api/internal/infra/sqlite"
	"github.com/notimo/notimo-api/internal/service"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"
)

var (
	cfgFile string
	logger  = zap.NewNop()
	rootCmd = &cobra.Command{
		Use:               "notimoctl",
		Short:             "Operator commands for the Notimo API",
		SilenceUsage:      true,
		PersistentPreRunE: initConfig,
	}
)

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (yaml)")
	rootCmd.PersistentFlags().String("db", "data/notimo.db", "path of the SQLite database")
	rootCmd.PersistentFlags().String("log-level", "info", "log level (debug, info, warn, error)")

	_ = viper.BindPFlag("database_path", rootCmd.PersistentFlags().Lookup("db"))
	_ = viper.BindPFlag("log_level", rootCmd.PersistentFlags().Lookup("log-level"))

	rootCmd.AddCommand(migrateCmd())
	rootCmd.AddCommand(seedCmd())
	rootCmd.AddCommand(categoriesCmd())
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	err := rootCmd.ExecuteContext(ctx)
	stop()
	logger.Sync()

	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func initConfig(_ *cobra.Command, _ []string) error {
	if cfgFile != "" {
		viper.SetConfigFile(cfgFile)
		if err := viper.ReadInConfig(); err != nil {
			return fmt.Errorf("failed to read config: %w", err)
		}
	}

	// NOTIMO_DATABASE_PATH, NOTIMO_LOG_LEVEL
	viper.SetEnvPrefix("NOTIMO")
	viper.AutomaticEnv()

	logger = observability.NewLogger(viper.GetString("log_level"))
	return nil
}

// openCategories opens the configured database and returns the category
// service on top of it. The caller closes the database.
func openCategories() (*sqlite.DB, *service.CategoryService, error) {
	path := viper.GetString("database_path")
	db, err := sqlite.Open(path)
	if err != nil {
		return nil, nil, fmt.Errorf("open %s: %w", path, err)
	}
	return db, service.NewCategoryService(sqlite.NewCategoryStore(db), logger), nil
}
