package main

import (
	"context"
	"fmt"
	"os"

	"github.com/JayJamieson/csv-sql/pkg/api"
	"github.com/JayJamieson/csv-sql/pkg/app"
	"github.com/JayJamieson/csv-sql/pkg/config"
	"github.com/JayJamieson/csv-sql/pkg/logging"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"
)

var cfgFile string

var rootCmd = &cobra.Command{
	Use:   "csvsql-server",
	Short: "HTTP server for asking questions about an uploaded CSV file",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.Load(viper.GetViper(), cfgFile)
		if err != nil {
			return err
		}

		logger, err := logging.NewLogger(cfg.Log.Level, cfg.Log.JSON)
		if err != nil {
			return err
		}
		defer func() { _ = logger.Sync() }()

		a, err := app.New(context.Background(), cfg, logger)
		if err != nil {
			return err
		}

		server, err := api.New(api.Config{
			Port:           cfg.Server.Port,
			MaxUploadBytes: cfg.Upload.MaxBytes,
		}, a.Session, a.Fetcher, logger)
		if err != nil {
			_ = a.Close()
			return fmt.Errorf("failed to create server: %w", err)
		}

		if err := server.Start(); err != nil {
			logger.Error("server error", zap.Error(err))
			return err
		}
		return nil
	},
}

func init() {
	flags := rootCmd.Flags()
	flags.StringVar(&cfgFile, "config", "", "config file (default is ./csvsql.yaml)")
	flags.Int("port", 8001, "Server port")
	flags.String("db-url", "", "database URL, empty for in-memory")
	flags.String("engine", "duckdb", "embedded engine: duckdb or sqlite")
	flags.String("table", "transactions", "name of the loaded table")

	_ = viper.BindPFlag("server.port", flags.Lookup("port"))
	_ = viper.BindPFlag("store.url", flags.Lookup("db-url"))
	_ = viper.BindPFlag("store.engine", flags.Lookup("engine"))
	_ = viper.BindPFlag("table.name", flags.Lookup("table"))
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
