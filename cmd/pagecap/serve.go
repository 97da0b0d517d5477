package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"pagecap-go/presentation/api"
	"pagecap-go/presentation/node"
)

func newServeCommand(flags *globalFlags) *cobra.Command {
	var addr string

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP API",
		Long: `Run the HTTP API.

  Captures run on the configured browser and are recorded in the history store.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			a, err := newApp(ctx, flags, true)
			if err != nil {
				return err
			}
			defer a.Close()

			if addr != "" {
				a.cfg.Server.Addr = addr
			}

			srv := api.NewServer(&api.Config{
				Addr:           a.cfg.Server.Addr,
				RequestTimeout: a.cfg.Server.RequestTimeout,
				MaxBodyBytes:   a.cfg.Server.MaxBodyBytes,
				Captures:       a.coordinator,
				Node:           node.New(&node.Config{Executor: a.coordinator, Logger: a.logger}),
				EventBus:       a.eventBus,
				Metrics:        a.collector.Handler(),
				Logger:         a.logger,
			})

			a.logger.Info("Starting pagecap server", "addr", a.cfg.Server.Addr)
			return srv.Run(ctx)
		},
	}

	cmd.Flags().StringVar(&addr, "addr", "", "listen address, overrides server.addr")
	return cmd
}
