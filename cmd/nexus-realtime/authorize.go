package main

import (
	"encoding/json"
	"errors"

	"github.com/spf13/cobra"
)

func newAuthorizeCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "authorize <channel>",
		Short: "Request a channel signature from the configured auth endpoint",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, logger, err := loadConfig(cmd)
			if err != nil {
				return err
			}
			socketID, _ := cmd.Flags().GetString("socket-id")

			authorizer := cfg.Authorizer(logger)
			if authorizer == nil {
				return errors.New("auth.endpoint is not configured")
			}
			out, err := authorizer.Authorize(cmd.Context(), socketID, args[0])
			if err != nil {
				return err
			}
			enc := json.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent("", "  ")
			return enc.Encode(out)
		},
	}
	cmd.Flags().String("socket-id", "", "socket id to sign for")
	cmd.MarkFlagRequired("socket-id")
	return cmd
}
