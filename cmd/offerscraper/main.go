package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"

	"go.uber.org/zap"

	"github.com/JakeFAU/realtime-offer-scraper/internal/config"
	"github.com/JakeFAU/realtime-offer-scraper/internal/dispatcher"
	"github.com/JakeFAU/realtime-offer-scraper/internal/logging"
	"github.com/JakeFAU/realtime-offer-scraper/internal/server"
)

func main() {
	cfgPath := flag.String("config", "", "Path to config file")
	flag.Parse()

	cfg, err := config.Load(*cfgPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "load config failed: %v\n", err)
		os.Exit(1)
	}
	logger, err := logging.New(cfg.Logging.Development, cfg.Logging.Level)
	if err != nil {
		fmt.Fprintf(os.Stderr, "logger init failed: %v\n", err)
		os.Exit(1)
	}
	zap.ReplaceGlobals(logger)

	os.Exit(run(context.Background(), cfg, logger))
}

func run(ctx context.Context, cfg config.Config, logger *zap.Logger) int {
	app, err := server.Build(ctx, cfg, logger)
	if err != nil {
		logger.Error("startup failed", zap.Error(err))
		_ = logger.Sync()
		return 1
	}
	if err := app.Run(ctx); err != nil {
		if errors.Is(err, dispatcher.ErrConsumerClosed) {
			logger.Error("broker closed the job subscription", zap.Error(err))
		} else {
			logger.Error("scraper stopped", zap.Error(err))
		}
		return 1
	}
	return 0
}
