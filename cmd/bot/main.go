package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"go.uber.org/zap"

	"streamBot/internal/app/runtime"
	"streamBot/internal/infrastructure/config"
	"streamBot/internal/telemetry"
	"streamBot/internal/util"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "config: %v\n", err)
		os.Exit(1)
	}

	logger, err := util.NewLogger(cfg.Logging.Level, cfg.Logging.File)
	if err != nil {
		fmt.Fprintf(os.Stderr, "logger: %v\n", err)
		os.Exit(1)
	}
	defer logger.Sync()

	telemetry.Init()

	rt, err := runtime.New(ctx, cfg, logger)
	if err != nil {
		logger.Fatal("runtime: init failed", zap.Error(err))
	}
	defer rt.Close()

	logger.Info("iniciando bot...")
	if err := rt.Run(ctx); err != nil {
		logger.Error("runtime: exited with error", zap.Error(err))
	}
	logger.Info("bot apagado")
}
