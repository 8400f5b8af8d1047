package cmd

import (
	"context"
	"errors"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/Ai-QJY/every-thing-api/api/schemas"
	"github.com/Ai-QJY/every-thing-api/internal/config"
	"github.com/Ai-QJY/every-thing-api/internal/service"
	"github.com/Ai-QJY/every-thing-api/internal/store"
)

// readCookieFile accepts either a bare JSON array or an exported cookie file.
func readCookieFile(path string) ([]schemas.CookieRecord, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read %s: %w", path, err)
	}
	records, err := store.DecodeCookies(data)
	if err != nil {
		return nil, fmt.Errorf("failed to parse %s: %w", path, err)
	}
	return records, nil
}

func newInjectCmd() *cobra.Command {
	var userAgent string
	cmd := &cobra.Command{
		Use:   "inject [file]",
		Short: "Inject cookies into a browser and check that the session is logged in",
		Long: "Inject cookies from a JSON file. Without a file, the cookies exported to\n" +
			"session.cookie_file by a previous login are used.",
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			var records []schemas.CookieRecord
			if len(args) == 1 {
				var err error
				if records, err = readCookieFile(args[0]); err != nil {
					return err
				}
			}
			return withService(cmd, nil, func(ctx context.Context, cfg *config.Config, svc *service.Service) error {
				var (
					report *schemas.InjectionReport
					err    error
				)
				if records == nil {
					report, err = svc.ImportCookies(ctx, userAgent)
				} else {
					report, err = svc.InjectCookies(ctx, records, userAgent)
				}
				if err != nil {
					return err
				}
				if err := printJSON(cmd.OutOrStdout(), report); err != nil {
					return err
				}
				if !report.Success {
					return errors.New("injection did not produce a logged-in session")
				}
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&userAgent, "user-agent", "", "user agent to present while injecting")
	return cmd
}

func newValidateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "validate <file>",
		Short: "Normalize cookies from a JSON file without starting a browser",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			records, err := readCookieFile(args[0])
			if err != nil {
				return err
			}
			return withService(cmd, nil, func(ctx context.Context, cfg *config.Config, svc *service.Service) error {
				results := svc.ValidateCookies(ctx, records)
				if err := printJSON(cmd.OutOrStdout(), results); err != nil {
					return err
				}
				invalid := 0
				for _, r := range results {
					if !r.Valid {
						invalid++
					}
				}
				if invalid > 0 {
					return fmt.Errorf("%d of %d cookies are invalid", invalid, len(results))
				}
				return nil
			})
		},
	}
}
