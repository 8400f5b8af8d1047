package cmd

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/Ai-QJY/every-thing-api/internal/config"
	"github.com/Ai-QJY/every-thing-api/internal/service"
)

func newStatusCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show the stored session",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withService(cmd, nil, func(ctx context.Context, cfg *config.Config, svc *service.Service) error {
				return printJSON(cmd.OutOrStdout(), svc.GetSessionStatus(ctx))
			})
		},
	}
}

func newLogoutCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "logout",
		Short: "Delete the session record and the persistent browser profile",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withService(cmd, nil, func(ctx context.Context, cfg *config.Config, svc *service.Service) error {
				if err := svc.Logout(ctx); err != nil {
					return err
				}
				fmt.Fprintln(cmd.OutOrStdout(), "Logged out.")
				return nil
			})
		},
	}
}
