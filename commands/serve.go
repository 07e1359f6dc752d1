package commands

import (
	"context"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/pkg/errors"
	"github.com/spf13/cobra"

	"github.com/slashbinslashnoname/hire-checkout/checkout"
	"github.com/slashbinslashnoname/hire-checkout/config"
	"github.com/slashbinslashnoname/hire-checkout/httpapi"
)

const shutdownTimeout = 5 * time.Second

// writeTimeout leaves room for a full checkout after the request is read.
// An unbounded processing timeout leaves the write unbounded too.
func writeTimeout(cfg *config.Config) time.Duration {
	if cfg.ProcessingTimeout <= 0 {
		return 0
	}
	return cfg.ProcessingTimeout + 30*time.Second
}

func serveCmd(configPath *string) *cobra.Command {
	var addr string

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP API",
		Long: `Run the checkout HTTP API for the web client.

Examples:
  hire-checkout serve
  hire-checkout serve --addr :9090`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(*configPath)
			if err != nil {
				return err
			}
			if addr != "" {
				cfg.HTTPAddr = addr
			}
			if cfg.LogLevel != "debug" {
				gin.SetMode(gin.ReleaseMode)
			}

			a, err := newApp(cfg)
			if err != nil {
				return err
			}
			defer a.Close()

			sessions := checkout.NewRegistry(cfg.SessionTTL)
			sweepCtx, stopSweep := context.WithCancel(context.Background())
			defer stopSweep()
			go sessions.Run(sweepCtx, time.Minute)

			router := httpapi.NewRouter(httpapi.NewHandler(a.svc, a.ledger, sessions), cfg.CORSOrigins)
			srv := &http.Server{
				Addr:         cfg.HTTPAddr,
				Handler:      router,
				ReadTimeout:  60 * time.Second,
				WriteTimeout: writeTimeout(cfg),
				IdleTimeout:  120 * time.Second,
			}

			errCh := make(chan error, 1)
			go func() {
				slog.Info("server starting", "addr", cfg.HTTPAddr)
				if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
					errCh <- err
				}
			}()

			quit := make(chan os.Signal, 1)
			signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
			select {
			case err := <-errCh:
				return errors.Wrap(err, "failed to start server")
			case <-quit:
			}
			slog.Info("shutting down server...")

			ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
			defer cancel()
			if err := srv.Shutdown(ctx); err != nil {
				return errors.Wrap(err, "server forced to shutdown")
			}

			slog.Info("server exited gracefully")
			return nil
		},
	}

	cmd.Flags().StringVar(&addr, "addr", "", "listen address (overrides HTTP_ADDR)")
	return cmd
}
