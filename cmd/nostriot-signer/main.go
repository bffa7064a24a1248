package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"nostriot/internal/config"
	"nostriot/internal/daemon"
	"nostriot/internal/logger"
	"nostriot/internal/metrics"
	"nostriot/internal/pprofutil"
	"nostriot/internal/provider"
	"nostriot/internal/relay"
	"nostriot/internal/signer"
)

func main() {
	os.Exit(run(os.Args[1:], os.Stdout, os.Stderr))
}

func run(args []string, stdout, stderr io.Writer) int {
	if len(args) == 0 || args[0] == "--help" || args[0] == "-h" {
		printUsage(stdout)
		return 0
	}
	switch args[0] {
	case "run":
		return runSigner(args[1:], stdout, stderr)
	case "pubkey":
		return runPubkey(args[1:], stdout, stderr)
	default:
		fmt.Fprintf(stderr, "unknown command: %s\n", args[0])
		printUsage(stderr)
		return 1
	}
}

func printUsage(w io.Writer) {
	fmt.Fprintln(w, "usage: nostriot-signer <run|pubkey> [args]")
	fmt.Fprintln(w, "  run    --config <path>")
	fmt.Fprintln(w, "  pubkey --config <path> | --key <hex>")
}

func runSigner(args []string, stdout, stderr io.Writer) int {
	fs := flag.NewFlagSet("run", flag.ContinueOnError)
	fs.SetOutput(stderr)
	cfgPath := fs.String("config", "", "path to config file (JSON)")
	if err := fs.Parse(args); err != nil {
		return 1
	}
	cfg, err := config.Load(*cfgPath)
	if err != nil {
		fmt.Fprintf(stderr, "load config failed: %v\n", err)
		return 1
	}

	log := logger.NewZap(cfg.LogLevel)
	rec, reg := buildMetrics(cfg)

	device, err := provider.NewDevice(1, "1")
	if err != nil {
		fmt.Fprintf(stderr, "build device failed: %v\n", err)
		return 1
	}
	runner, err := daemon.NewRunner(cfg, []provider.Provider{device},
		daemon.WithLogger(log),
		daemon.WithMetrics(rec),
	)
	if err != nil {
		fmt.Fprintf(stderr, "build signer failed: %v\n", err)
		return 1
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := pprofutil.StartFromEnv(stderr); err != nil {
		fmt.Fprintf(stderr, "pprof disabled: %v\n", err)
	}

	if cfg.MetricsAddr != "" {
		serveMetrics(ctx, cfg.MetricsAddr, reg, log)
	}

	fmt.Fprintf(stdout, "READY relay=%s pubkey=%s\n", cfg.RelayURL, runner.PublicKey())
	err = runner.Run(ctx)
	switch {
	case errors.Is(err, relay.ErrGiveUp):
		fmt.Fprintf(stderr, "reconnect attempts exhausted, exiting for restart\n")
		return 1
	case errors.Is(err, context.Canceled):
		return 0
	case err != nil:
		fmt.Fprintf(stderr, "run failed: %v\n", err)
		return 1
	}
	return 0
}

func runPubkey(args []string, stdout, stderr io.Writer) int {
	fs := flag.NewFlagSet("pubkey", flag.ContinueOnError)
	fs.SetOutput(stderr)
	cfgPath := fs.String("config", "", "path to config file (JSON)")
	key := fs.String("key", "", "private key, hex (overrides config)")
	if err := fs.Parse(args); err != nil {
		return 1
	}
	sk := *key
	if sk == "" {
		cfg, err := config.Load(*cfgPath)
		if err != nil {
			fmt.Fprintf(stderr, "load config failed: %v\n", err)
			return 1
		}
		sk = cfg.PrivateKey
	}
	pk, err := signer.DerivePublicKey(sk)
	if err != nil {
		fmt.Fprintf(stderr, "derive public key failed: %v\n", err)
		return 1
	}
	fmt.Fprintln(stdout, pk)
	return 0
}

// buildMetrics returns the recorder plus the registry backing it, so the
// scrape endpoint serves exactly what the daemon records. Without a metrics
// address nothing is registered.
func buildMetrics(cfg config.Config) (metrics.Recorder, *prometheus.Registry) {
	if cfg.MetricsAddr == "" {
		return metrics.Noop{}, nil
	}
	reg := prometheus.NewRegistry()
	return metrics.NewPrometheusRecorder(reg), reg
}

func serveMetrics(ctx context.Context, addr string, reg *prometheus.Registry, log logger.Logger) {
	srv := &http.Server{
		Addr:              addr,
		Handler:           promhttp.HandlerFor(reg, promhttp.HandlerOpts{}),
		ReadHeaderTimeout: 5 * time.Second,
	}
	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error("metrics listener failed", map[string]any{"addr": addr, "err": err.Error()})
		}
	}()
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()
	log.Info("metrics listening", map[string]any{"addr": addr})
}
