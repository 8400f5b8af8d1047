package cmd

import (
	"context"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/Ai-QJY/every-thing-api/internal/api"
	"github.com/Ai-QJY/every-thing-api/internal/config"
	"github.com/Ai-QJY/every-thing-api/internal/observability"
	"github.com/Ai-QJY/every-thing-api/internal/service"
)

func newServeCmd() *cobra.Command {
	var (
		host string
		port int
	)
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP API",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withService(cmd, nil, func(ctx context.Context, cfg *config.Config, svc *service.Service) error {
				if cmd.Flags().Changed("host") {
					cfg.APICfg.Host = host
				}
				if cmd.Flags().Changed("port") {
					cfg.APICfg.Port = port
				}
				return serve(ctx, cfg, svc)
			})
		},
	}
	cmd.Flags().StringVar(&host, "host", "", "listen host (overrides api.host)")
	cmd.Flags().IntVarP(&port, "port", "p", 0, "listen port (overrides api.port)")
	return cmd
}

// serve runs the API and the task reaper until ctx is cancelled.
func serve(ctx context.Context, cfg *config.Config, svc *service.Service) error {
	logger := observability.GetLogger()
	server := api.NewServer(cfg.API(), svc, Version, logger)

	if taskManager := svc.Tasks(); taskManager != nil {
		taskManager.Start()
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(server.Start)
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.API().ShutdownTimeout)
		defer cancel()
		return server.Shutdown(shutdownCtx)
	})

	logger.Info("Session API listening.", zap.String("addr", cfg.API().Addr()), zap.String("target", cfg.Target().URL))
	if err := g.Wait(); err != nil {
		return err
	}
	logger.Info("Session API stopped.")
	return nil
}
