package cli

import (
	"context"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"photo-critic/api/internal/handle"
	"photo-critic/api/internal/httpserver"
)

func newServeCmd() *cobra.Command {
	return &cobra.Command{
		Use:     "serve",
		Short:   "Run the HTTP API (POST /analyze)",
		Example: `photo-critic serve --config config.yaml`,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()
			return serve(ctx)
		},
	}
}

func serve(ctx context.Context) error {
	critic, err := buildCritic(cfg, log)
	if err != nil {
		return err
	}
	history, closeDB, err := openHistory(ctx, cfg, log)
	if err != nil {
		return err
	}
	defer closeDB()

	h := handle.New(critic, history, handle.Options{
		RequestTimeout: cfg.Server.RequestTimeout,
		MaxUpload:      cfg.Server.MaxUpload,
		Image:          imageOptions(cfg),
		Version:        Version,
	}, log)

	r := httpserver.NewEngine(cfg.Server.Mode, log)
	h.Register(r)

	return httpserver.Run(ctx, httpserver.New(cfg.Addr(), r), log)
}

func init() { rootCmd.AddCommand(newServeCmd()) }
