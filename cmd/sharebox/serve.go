package main

import (
	"context"
	"errors"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	httpclient "github.com/Monas-project/Prot-Prototype/internal/platform/http/client"
	"github.com/Monas-project/Prot-Prototype/internal/platform/http/server"
)

func newServeCmd(g *globalFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP API",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			d, logger, err := g.newDeps(ctx, cmd)
			if err != nil {
				return err
			}
			defer d.Close()

			logger.Info("effective configuration", "config", d.Config.Redacted())

			srv, err := server.New(d.Config, d, logger)
			if err != nil {
				return err
			}

			if d.Config.TLS.Mode == "acme" {
				pool, err := httpclient.LoadRootCAs(d.Config.OutboundHTTP.TLSRootCAFile, d.Config.OutboundHTTP.TLSRootCADir)
				if err != nil {
					logger.Warn("ACME root CAs not loaded, using system pool", "error", err)
				}
				srv.SetRootCAPool(pool)
			}

			errCh := make(chan error, 1)
			go func() { errCh <- srv.Start() }()

			select {
			case err := <-errCh:
				if errors.Is(err, http.ErrServerClosed) {
					return nil
				}
				return err
			case <-ctx.Done():
			}

			shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			defer cancel()
			if err := srv.Shutdown(shutdownCtx); err != nil {
				logger.Error("shutdown error", "error", err)
				return err
			}
			logger.Info("server stopped")
			return nil
		},
	}
}
