package commands

import (
	"fmt"

	"github.com/spf13/cobra"
	"github.com/zhaobenny/gasometer/cli/internal/config"
)

func newConfigCmd() *cobra.Command {
	var (
		server string
		apiKey string
		show   bool
	)

	cmd := &cobra.Command{
		Use:   "config",
		Short: "Configure the server and API key",
		Example: `  gasometer config --server https://gasometer.example.com --api-key gaso_xxx
  gasometer config --show`,
		RunE: func(cmd *cobra.Command, args []string) error {
			out := cmd.OutOrStdout()
			path, err := config.Path()
			if err != nil {
				return err
			}

			if show {
				cfg, err := config.LoadFile(path)
				if err != nil {
					return fmt.Errorf("failed to load config: %w", err)
				}
				if !cfg.Configured() {
					fmt.Fprintln(out, "No configuration found. Run 'gasometer config --server <url> --api-key <key>' to configure.")
					return nil
				}
				fmt.Fprintf(out, "Config file: %s\n", path)
				fmt.Fprintf(out, "Server: %s\n", cfg.Server)
				if cfg.APIKey != "" {
					fmt.Fprintf(out, "API Key: %s\n", cfg.MaskedKey())
				} else {
					fmt.Fprintln(out, "API Key: not set")
				}
				if cfg.LastSyncAt != nil {
					fmt.Fprintf(out, "Last sync: %s\n", cfg.LastSyncAt.Local().Format("2006-01-02 15:04:05"))
				}
				return nil
			}

			if server == "" && apiKey == "" {
				return cmd.Help()
			}

			cfg, err := config.LoadFile(path)
			if err != nil {
				cfg = &config.Config{}
			}
			if server != "" {
				cfg.Server = server
			}
			if apiKey != "" {
				cfg.APIKey = apiKey
			}

			if err := config.SaveFile(path, cfg); err != nil {
				return fmt.Errorf("failed to save config: %w", err)
			}
			fmt.Fprintln(out, "Configuration saved.")
			return nil
		},
	}

	cmd.Flags().StringVar(&server, "server", "", "Server URL")
	cmd.Flags().StringVar(&apiKey, "api-key", "", "API key for authentication")
	cmd.Flags().BoolVar(&show, "show", false, "Show current configuration")
	return cmd
}
