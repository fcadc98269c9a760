package main

import (
	"context"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/animus-labs/thyroid/internal/api"
	"github.com/animus-labs/thyroid/internal/platform/env"
	"github.com/animus-labs/thyroid/internal/platform/httpserver"
)

// ServeCmd runs the HTTP API until SIGINT or SIGTERM.
func ServeCmd(opts *globalOptions) *cobra.Command {
	var descriptorPath string

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve /train, /predict and /registry over HTTP",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			addr := env.String("THYROID_HTTP_ADDR", ":8080")
			shutdownTimeout, err := env.Duration("THYROID_SHUTDOWN_TIMEOUT", 10*time.Second)
			if err != nil {
				return err
			}
			if descriptorPath == "" {
				descriptorPath = env.String("THYROID_DESCRIPTOR", "")
			}

			rt, err := openRuntime(ctx, *opts, true)
			if err != nil {
				return err
			}
			defer rt.Close()

			var checks []httpserver.ReadinessCheck
			if rt.db != nil {
				checks = append(checks, httpserver.ReadinessCheck{
					Name:  "database",
					Check: func(ctx context.Context) error { return rt.db.PingContext(ctx) },
				})
			}
			srv, err := api.New(api.Config{
				Service:         "thyroid",
				Trainer:         rt.trigger(),
				Registry:        rt.reg,
				Store:           rt.store,
				DescriptorPath:  descriptorPath,
				ReadinessChecks: checks,
				Logger:          rt.logger,
			})
			if err != nil {
				return err
			}
			return httpserver.Run(ctx, rt.logger, httpserver.Config{
				Service:         "thyroid",
				Addr:            addr,
				ShutdownTimeout: shutdownTimeout,
			}, srv.Handler())
		},
	}
	cmd.Flags().StringVar(&descriptorPath, "descriptor", "", "descriptor to serve predictions from at startup (env THYROID_DESCRIPTOR)")
	return cmd
}
