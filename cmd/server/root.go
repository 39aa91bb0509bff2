package main

import (
	"context"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/pesio-ai/be-documents/internal/platform/config"
	"github.com/pesio-ai/be-documents/internal/platform/database"
	"github.com/pesio-ai/be-documents/internal/platform/logger"
)

var (
	configPath string

	cfg *config.Config
	log *logger.Logger
)

// rootCmd is the documents service binary.
var rootCmd = &cobra.Command{
	Use:   "documents",
	Short: "Document lifecycle and approval workflow service",
	Long: `documents stores document versions behind a malware gate, runs the
multi-approver publication workflow and sends review reminders and escalations.`,
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		var err error
		cfg, err = config.Load(configPath)
		if err != nil {
			return fmt.Errorf("load configuration: %w", err)
		}

		log = logger.New(logger.Config{
			Level:       cfg.Service.LogLevel,
			Environment: cfg.Service.Environment,
			ServiceName: cfg.Service.Name,
			Version:     cfg.Service.Version,
		})
		return nil
	},
}

// Execute runs the command selected on the command line.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "", "Path to a YAML configuration file")
}

func openDatabase(ctx context.Context) (*database.DB, error) {
	db, err := database.New(ctx, database.Config{
		Host:        cfg.Database.Host,
		Port:        cfg.Database.Port,
		User:        cfg.Database.User,
		Password:    cfg.Database.Password,
		Database:    cfg.Database.Database,
		SSLMode:     cfg.Database.SSLMode,
		MaxConns:    cfg.Database.MaxConns,
		MinConns:    cfg.Database.MinConns,
		MaxConnTime: cfg.Database.MaxConnTime,
		MaxIdleTime: cfg.Database.MaxIdleTime,
		HealthCheck: cfg.Database.HealthCheck,
	})
	if err != nil {
		return nil, err
	}
	log.Info().Str("host", cfg.Database.Host).Msg("Database connection established")
	return db, nil
}
