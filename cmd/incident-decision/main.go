// Command incident-decision runs incident descriptions through the decision
// workflow and seeds the evidence store.
package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"

	"github.com/dshills/incidentgraph/internal/app"
	"github.com/dshills/incidentgraph/internal/config"
)

// version is set at build time via -ldflags.
var version = "dev"

const shutdownTimeout = 5 * time.Second

var rootFlags struct {
	metricsAddr string
}

var rootCmd = &cobra.Command{
	Use:           "incident-decision",
	Short:         "Evidence-based decisions for production incidents",
	Long:          "incident-decision classifies an incident, retrieves similar past incidents,\ndrafts a recommendation and scores its confidence. Low-confidence or risky\ndecisions are flagged for human review.",
	SilenceUsage:  true,
	SilenceErrors: true,
	CompletionOptions: cobra.CompletionOptions{
		HiddenDefaultCmd: true,
	},
}

func init() {
	rootCmd.PersistentFlags().StringVar(&rootFlags.metricsAddr, "metrics-addr", "", "Serve Prometheus metrics on this address (e.g. :9090)")
	rootCmd.AddCommand(decideCmd)
	rootCmd.AddCommand(seedCmd)
	rootCmd.Version = version
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := rootCmd.ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

// withApp loads configuration, builds the App and runs fn with it. The App
// is closed afterwards with a fresh deadline so pending spans still flush
// after an interrupt.
func withApp(cmd *cobra.Command, fn func(context.Context, *app.App) error, opts ...app.Option) error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}

	ctx := cmd.Context()
	a, err := app.Build(ctx, cfg, opts...)
	if err != nil {
		return fmt.Errorf("build engine: %w", err)
	}
	defer func() {
		closeCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := a.Close(closeCtx); err != nil {
			a.Logger.Error("shutdown", slog.String("error", err.Error()))
		}
	}()

	if rootFlags.metricsAddr != "" {
		srv, err := serveMetrics(a, rootFlags.metricsAddr)
		if err != nil {
			return err
		}
		defer srv.Close()
	}

	return fn(ctx, a)
}

func serveMetrics(a *app.App, addr string) (*http.Server, error) {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("listen metrics: %w", err)
	}

	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(a.Registry, promhttp.HandlerOpts{}))
	srv := &http.Server{Handler: mux, ReadHeaderTimeout: 5 * time.Second}

	go func() {
		if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			a.Logger.Error("metrics server", slog.String("error", err.Error()))
		}
	}()
	a.Logger.Info("serving metrics", slog.String("addr", ln.Addr().String()))
	return srv, nil
}
