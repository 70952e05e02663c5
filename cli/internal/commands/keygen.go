package commands

import (
	"fmt"

	"github.com/spf13/cobra"
	"github.com/zhaobenny/gasometer/internal/apikey"
)

func newKeygenCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "keygen",
		Short: "Generate an API key and its bcrypt hash",
		Long: `Prints a new API key for clients and its bcrypt hash for the server.
Put the hash in auth.api_key (or GASOMETER_API_KEY) on the server and the key in
each client's config.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			key, err := apikey.Generate()
			if err != nil {
				return fmt.Errorf("failed to generate key: %w", err)
			}
			hash, err := apikey.Hash(key)
			if err != nil {
				return fmt.Errorf("failed to hash key: %w", err)
			}
			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "API key:     %s\n", key)
			fmt.Fprintf(out, "Server hash: %s\n", hash)
			return nil
		},
	}
}
