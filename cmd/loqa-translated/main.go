package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/loqalabs/loqa-translate/internal/config"
	"github.com/loqalabs/loqa-translate/internal/runtime"
)

var version = "0.1.0-dev"

func main() {
	var (
		configPath  string
		showVersion bool
		noPreload   bool
	)

	flag.StringVar(&configPath, "config", "loqa-translate.yaml", "Path to configuration file")
	flag.BoolVar(&showVersion, "version", false, "Print version and exit")
	flag.BoolVar(&noPreload, "no-preload", false, "Initialize synthesis backends on first use instead of at startup")
	flag.Parse()

	if showVersion {
		fmt.Println(version)
		return
	}

	cfg, err := config.Load(configPath)
	if err != nil {
		logger := runtime.NewLogger(os.Stdout, "info")
		logger.Error("failed to load config", slog.String("error", err.Error()))
		os.Exit(1)
	}
	if noPreload {
		cfg.TTS.Preload = false
	}

	logger := runtime.NewLogger(os.Stdout, cfg.Telemetry.LogLevel)
	rt := runtime.New(cfg, logger)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := rt.Start(ctx); err != nil {
		logger.Error("runtime exited with error", slog.String("error", err.Error()))
		time.Sleep(1 * time.Second)
		os.Exit(1)
	}

	logger.Info("shutdown complete")
}
