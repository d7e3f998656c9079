package main

import (
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/zulandar/roadcall/internal/config"
	"github.com/zulandar/roadcall/internal/db"
)

func newMigrateCmd() *cobra.Command {
	var configPath string

	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Create or update the report ledger schema",
		Long: `Connects to the configured ledger database (SQLite or MySQL) and runs the
schema migrations. serve does this on startup too; migrate lets you do it
ahead of a deploy. Safe to run multiple times.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(cmd, configPath)
			if err != nil {
				return err
			}
			return runMigrate(cmd.OutOrStdout(), cfg)
		},
	}

	cmd.Flags().StringVarP(&configPath, "config", "c", defaultConfigPath, "path to roadcall config file")
	return cmd
}

func runMigrate(out io.Writer, cfg *config.Config) error {
	opts := dbOptions(cfg)
	gormDB, err := db.Connect(opts)
	if err != nil {
		return err
	}
	defer db.Close(gormDB)

	if err := db.AutoMigrate(gormDB); err != nil {
		return err
	}
	fmt.Fprintf(out, "Ledger schema up to date (%s)\n", describeDB(opts))
	return nil
}

func describeDB(o db.Options) string {
	if o.Driver == db.DriverMySQL {
		return fmt.Sprintf("mysql %s:%d/%s", o.Host, o.Port, o.Database)
	}
	return "sqlite " + o.Path
}
