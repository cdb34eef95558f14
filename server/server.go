package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/sync/errgroup"

	"networks_nsu/submit/internal/receiver"
)

var (
	port        = flag.Int("port", 18213, "TCP port to listen on")
	metricsPort = flag.Int("metrics-port", 2112, "HTTP port to serve Prometheus metrics")
	uploadDir   = flag.String("dir", "uploads", "directory submissions are stored in")
	maxName     = flag.Int("max-name", receiver.DefaultMaxName, "longest accepted upload name in bytes")
)

func main() {
	flag.Parse()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx); err != nil {
		slog.Error("intake server failed", "error", err)
		os.Exit(1)
	}
}

func run(ctx context.Context) error {
	reg := prometheus.NewRegistry()
	metrics := receiver.NewMetrics(reg)

	recv, err := receiver.New(*uploadDir, metrics, receiver.WithMaxName(*maxName))
	if err != nil {
		return err
	}

	addr := fmt.Sprintf(":%d", *port)
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", addr, err)
	}
	slog.Info("server listening", "addr", addr, "dir", *uploadDir)

	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))
	metricsSrv := &http.Server{
		Addr:              fmt.Sprintf(":%d", *metricsPort),
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return recv.Serve(ctx, ln)
	})
	g.Go(func() error {
		slog.Info("metrics endpoint listening", "addr", metricsSrv.Addr+"/metrics")
		if err := metricsSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("metrics HTTP server failed: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return metricsSrv.Shutdown(shutdownCtx)
	})

	return g.Wait()
}
