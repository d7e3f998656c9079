package main

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/zulandar/roadcall/internal/sheets"
)

func newSheetsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "sheets",
		Short: "Manage the Google Sheets export",
	}
	cmd.AddCommand(newSheetsSetupCmd())
	return cmd
}

func newSheetsSetupCmd() *cobra.Command {
	var configPath string

	cmd := &cobra.Command{
		Use:   "setup",
		Short: "Write the header row to the export spreadsheet",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(cmd, configPath)
			if err != nil {
				return err
			}
			if !cfg.Sheets.Enabled {
				return fmt.Errorf("sheets: export is not enabled in the config (set sheets.enabled)")
			}
			exp, err := sheets.NewFromCredentials(cmd.Context(), cfg.Sheets.CredentialsFile, cfg.Sheets.SpreadsheetID)
			if err != nil {
				return err
			}
			return runSheetsSetup(cmd.Context(), cmd, exp)
		},
	}

	cmd.Flags().StringVarP(&configPath, "config", "c", defaultConfigPath, "path to roadcall config file")
	return cmd
}

type headerWriter interface {
	SetupHeaders(ctx context.Context) error
}

func runSheetsSetup(ctx context.Context, cmd *cobra.Command, w headerWriter) error {
	if err := w.SetupHeaders(ctx); err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "Wrote %d header columns\n", len(sheets.Headers))
	return nil
}
