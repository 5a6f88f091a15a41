package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/jhendriks/go-price-tracker/config"
	"github.com/jhendriks/go-price-tracker/logbook"
	"github.com/jhendriks/go-price-tracker/monitor"
	"github.com/jhendriks/go-price-tracker/publisher"
	"github.com/jhendriks/go-price-tracker/scraper"
	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

func main() {
	// Optional in development; the supervisor injects the environment
	// in production.
	_ = godotenv.Load()

	optionsPath := flag.String("options", config.DefaultOptionsPath, "Path to the options document")
	flag.Parse()

	cfg, err := config.Load(*optionsPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "invalid configuration: %v\n", err)
		os.Exit(1)
	}

	logger := newLogger(cfg.LogLevel)
	slog.SetDefault(logger)

	metrics := scraper.NewMetrics()
	runner := scraper.NewRunner(cfg, metrics)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	var notifier monitor.Notifier
	if lb := logbook.New(cfg.Logbook, cfg.ProductName); lb != nil {
		notifier = lb
	}

	// The broker delivers refresh presses on its own goroutines as soon
	// as the command subscription is up, so the monitor must exist before
	// the connection does. Presses land in its buffered trigger until the
	// sweep loop starts.
	mon := monitor.New(cfg, runner, notifier, metrics)
	pub, err := publisher.Connect(cfg, metrics, mon.RequestRefresh)
	if err != nil {
		slog.Error("connecting to MQTT broker", slog.Any("error", err))
		os.Exit(1)
	}
	defer pub.Disconnect()

	mon.AttachPublisher(pub)
	pub.PublishRefreshButton()

	var metricsServer *http.Server
	if cfg.MetricsAddr != "" {
		metricsServer = &http.Server{
			Addr:    cfg.MetricsAddr,
			Handler: promhttp.HandlerFor(metrics.Registry, promhttp.HandlerOpts{}),
		}
		go func() {
			if err := metricsServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				slog.Error("metrics server failed", slog.Any("error", err))
			}
		}()
		slog.Info("metrics server enabled", slog.String("addr", cfg.MetricsAddr))
	}

	schedule := cfg.Schedule()
	mode := "interval"
	if schedule.Mode == config.ScheduleFixed {
		mode = "scheduled"
	}
	slog.Info("tracker initialised",
		slog.String("mode", mode),
		slog.String("run_time", cfg.RunTime),
		slog.Int("scan_interval", cfg.ScanInterval),
		slog.Int("sites", len(cfg.Sites)),
		slog.Float64("min_price", cfg.MinPrice),
		slog.Float64("max_price", cfg.MaxPrice),
		slog.String("base_topic", cfg.BaseTopic),
		slog.String("product_name", cfg.ProductName),
	)

	mon.Run(ctx)

	slog.Info("shutdown signal received, stopping")
	if metricsServer != nil {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		if err := metricsServer.Shutdown(shutdownCtx); err != nil {
			slog.Error("metrics server shutdown failed", slog.Any("error", err))
		}
		cancel()
	}
}

func newLogger(level string) *slog.Logger {
	lvl := &slog.LevelVar{}
	switch strings.ToLower(strings.TrimSpace(level)) {
	case "debug":
		lvl.Set(slog.LevelDebug)
	case "warning", "warn":
		lvl.Set(slog.LevelWarn)
	case "error":
		lvl.Set(slog.LevelError)
	default:
		lvl.Set(slog.LevelInfo)
	}

	opts := &slog.HandlerOptions{Level: lvl}
	var handler slog.Handler
	if isTerminal(os.Stdout) {
		handler = slog.NewTextHandler(os.Stdout, opts)
	} else {
		handler = slog.NewJSONHandler(os.Stdout, opts)
	}
	return slog.New(handler)
}

func isTerminal(f *os.File) bool {
	info, err := f.Stat()
	if err != nil {
		return false
	}
	return (info.Mode() & os.ModeCharDevice) != 0
}
