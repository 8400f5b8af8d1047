package cmd

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"

	json "github.com/json-iterator/go"
	"github.com/spf13/cobra"

	"github.com/Ai-QJY/every-thing-api/api/schemas"
	"github.com/Ai-QJY/every-thing-api/internal/config"
	"github.com/Ai-QJY/every-thing-api/internal/monitor"
	"github.com/Ai-QJY/every-thing-api/internal/service"
)

func newLoginCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "login",
		Short: "Sign in interactively and save the session",
	}
	cmd.AddCommand(newPasswordLoginCmd())
	cmd.AddCommand(newOAuthLoginCmd())
	return cmd
}

func newPasswordLoginCmd() *cobra.Command {
	var creds service.Credentials
	cmd := &cobra.Command{
		Use:   "password",
		Short: "Submit the login form with a username and password",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if creds.Password == "" {
				creds.Password = os.Getenv("EVERYTHING_PASSWORD")
			}
			if creds.Username == "" || creds.Password == "" {
				return errors.New("--username and --password (or EVERYTHING_PASSWORD) are required")
			}
			return withService(cmd, nil, func(ctx context.Context, cfg *config.Config, svc *service.Service) error {
				result, err := svc.LoginWithPassword(ctx, creds)
				if err != nil {
					return err
				}
				return reportLogin(cmd.OutOrStdout(), result)
			})
		},
	}
	cmd.Flags().StringVarP(&creds.Username, "username", "u", "", "account username")
	cmd.Flags().StringVar(&creds.Password, "password", "", "account password")
	cmd.Flags().BoolVar(&creds.RememberMe, "remember", false, "tick the remember-me box when present")
	return cmd
}

func newOAuthLoginCmd() *cobra.Command {
	var (
		timeout  int
		provider string
	)
	cmd := &cobra.Command{
		Use:   "oauth",
		Short: "Open a browser window and wait for a provider sign-in",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			notifier := &monitor.WriterNotifier{W: cmd.OutOrStdout()}
			return withService(cmd, notifier, func(ctx context.Context, cfg *config.Config, svc *service.Service) error {
				result, err := svc.RunOAuthLogin(ctx, timeout, provider)
				if err != nil {
					return err
				}
				return reportLogin(cmd.OutOrStdout(), result)
			})
		},
	}
	cmd.Flags().IntVarP(&timeout, "timeout", "t", 0, "seconds to wait for the sign-in (default login.oauth_timeout)")
	cmd.Flags().StringVar(&provider, "provider", "", "provider recorded with the session (default login.default_provider)")
	return cmd
}

// reportLogin prints result and turns an unsuccessful wait into an error.
func reportLogin(w io.Writer, result *schemas.LoginResult) error {
	if err := printJSON(w, result); err != nil {
		return err
	}
	if result.Status != schemas.MonitorDetected {
		return fmt.Errorf("login not completed: %s", result.Status)
	}
	return nil
}

func printJSON(w io.Writer, v any) error {
	out, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}
	_, err = fmt.Fprintln(w, string(out))
	return err
}
