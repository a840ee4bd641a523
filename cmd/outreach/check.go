package main

import (
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"

	"outreach/internal/app"
)

func newCheckConfigCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "check-config",
		Short: "Validate the config file and exit",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := app.CheckConfig(configPath(cmd))
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "config ok: storage=%s whatsapp=%t operator=%t api=%t\n",
				cfg.Storage.Driver, cfg.WhatsApp.Enabled, cfg.Operator.Enabled, cfg.API.Enabled)
			return nil
		},
	}
}

func newInspectCmd() *cobra.Command {
	var (
		contact string
		audit   int
	)
	cmd := &cobra.Command{
		Use:   "inspect",
		Short: "Print the persisted campaign state as JSON",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			rep, err := app.Inspect(cmd.Context(), configPath(cmd), contact, audit)
			if err != nil {
				return err
			}
			enc := json.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent("", "  ")
			return enc.Encode(rep)
		},
	}
	cmd.Flags().StringVar(&contact, "contact", "", "phone number to show instead of the full snapshot")
	cmd.Flags().IntVar(&audit, "audit", 0, "also print the newest N audit entries")
	return cmd
}
