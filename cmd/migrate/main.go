// Command migrate applies the embedded schema migrations.
package main

import (
	"errors"
	"fmt"
	"os"

	"github.com/golang-migrate/migrate/v4"
	"github.com/spf13/cobra"

	"github.com/ignite/campaign-engine/internal/config"
	"github.com/ignite/campaign-engine/internal/pkg/logger"
	"github.com/ignite/campaign-engine/internal/repository/postgres"
)

func main() {
	var configPath string
	rootCmd := &cobra.Command{
		Use:          "migrate",
		Short:        "manage the campaign engine schema",
		SilenceUsage: true,
	}
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "path to config.yaml (DATABASE_URL also works)")

	open := func() (*migrate.Migrate, error) {
		cfg, err := config.LoadFromEnv(configPath)
		if err != nil {
			return nil, err
		}
		logger.Init(cfg.Logging.Level, cfg.Logging.Redact())
		if cfg.Database.URL == "" {
			return nil, errors.New("DATABASE_URL is required")
		}
		return postgres.NewMigrator(cfg.Database.URL)
	}

	rootCmd.AddCommand(
		&cobra.Command{
			Use:   "up",
			Short: "apply all pending migrations",
			RunE: func(cmd *cobra.Command, args []string) error {
				m, err := open()
				if err != nil {
					return err
				}
				defer m.Close()
				if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
					return err
				}
				return report(m)
			},
		},
		&cobra.Command{
			Use:   "down",
			Short: "roll back the most recent migration",
			RunE: func(cmd *cobra.Command, args []string) error {
				m, err := open()
				if err != nil {
					return err
				}
				defer m.Close()
				if err := m.Steps(-1); err != nil {
					return err
				}
				return report(m)
			},
		},
		&cobra.Command{
			Use:   "version",
			Short: "print the applied schema version",
			RunE: func(cmd *cobra.Command, args []string) error {
				m, err := open()
				if err != nil {
					return err
				}
				defer m.Close()
				return report(m)
			},
		},
	)

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func report(m *migrate.Migrate) error {
	v, dirty, err := m.Version()
	if errors.Is(err, migrate.ErrNilVersion) {
		logger.Info("[migrate] no migrations applied")
		return nil
	}
	if err != nil {
		return err
	}
	logger.Info("[migrate] schema version", "version", v, "dirty", dirty)
	return nil
}
