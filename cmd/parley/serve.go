package main

import (
	"context"
	"errors"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/teslashibe/go-parley/pkg/metrics"
	"github.com/teslashibe/go-parley/pkg/web"
)

var serveAddr string

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the conversation behind the web dashboard",
	Long: `Serve exposes the conversation over HTTP: a dashboard, a JSON API for
sending utterances and interrupting, live sentence and turn feeds over
WebSocket, and Prometheus metrics on /metrics.`,
	Args: cobra.NoArgs,
	RunE: runServe,
}

func init() {
	serveCmd.Flags().StringVar(&serveAddr, "addr", "", "Listen address (overrides PARLEY_PORT)")
	rootCmd.AddCommand(serveCmd)
}

func runServe(cmd *cobra.Command, args []string) error {
	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	addr := cfg.Addr()
	if serveAddr != "" {
		addr = serveAddr
	}

	// The server is the loop's sink and the loop is the server's
	// conversation, so the sink forwards to a server created afterwards.
	fwd := &forwardSink{}
	a, err := newApp(cfg, fwd)
	if err != nil {
		return err
	}
	defer a.Close()

	server := web.NewServer(a.loop, metrics.NewRegistry(), a.logger)
	fwd.set(server)

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return server.Run(ctx, addr)
	})
	g.Go(func() error {
		err := a.runSpeaker(ctx)
		if errors.Is(err, context.Canceled) {
			return nil
		}
		return err
	})

	a.logger.Info("dashboard listening", "addr", addr)
	return g.Wait()
}
