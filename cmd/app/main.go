package main

import (
	"context"
	"flag"
	"fmt"
	"os"

	"github.com/google/uuid"

	"MarketMaker/internal/di"
	"MarketMaker/pkg/config"
	"MarketMaker/pkg/logger"
)

func main() {
	configPath := flag.String("config", "configs/config.yaml", "config file path")
	flag.Parse()

	cfg, err := config.LoadWithEnv(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "config load failed: %v\n", err)
		os.Exit(1)
	}
	if cfg.Session.ID == "" {
		cfg.Session.ID = uuid.NewString()
	}

	log, err := logger.New(&cfg.Logger)
	if err != nil {
		fmt.Fprintf(os.Stderr, "logger init failed: %v\n", err)
		os.Exit(1)
	}
	log = log.With(logger.String("session", cfg.Session.ID))
	log.Info("starting",
		logger.String("env", cfg.Environment),
		logger.String("mode", cfg.Session.Mode),
		logger.String("scenario", cfg.Session.Scenario),
		logger.String("backend", cfg.Backend.Type))

	app, cleanup, err := di.InitializeApp(cfg, log)
	if err != nil {
		log.Error("initialization failed", logger.Error(err))
		os.Exit(1)
	}

	runErr := app.Run(context.Background())
	cleanup()
	if runErr != nil {
		log.Error("session ended with errors", logger.Error(runErr))
		os.Exit(1)
	}
}
