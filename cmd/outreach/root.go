package main

import (
	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
)

func newRootCmd() *cobra.Command {
	var envFile string
	cmd := &cobra.Command{
		Use:           "outreach",
		Short:         "WhatsApp follow-up scheduler",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			// Secrets (OUTREACH_OPERATOR_TOKEN, OUTREACH_API_TOKEN) may live in .env.
			if cmd.Flags().Changed("env-file") {
				return godotenv.Load(envFile)
			}
			_ = godotenv.Load()
			return nil
		},
	}
	cmd.PersistentFlags().String("config", "./config.yaml", "path to config (yaml or json)")
	cmd.PersistentFlags().StringVar(&envFile, "env-file", ".env", "dotenv file with secrets")

	cmd.AddCommand(newRunCmd(), newCheckConfigCmd(), newInspectCmd())
	return cmd
}

func configPath(cmd *cobra.Command) string {
	p, _ := cmd.Flags().GetString("config")
	return p
}
