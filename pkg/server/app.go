package server

import (
	"context"
	"errors"
	"os"
	"os/signal"
	"syscall"

	"MarketMaker/internal/usecase"
	"MarketMaker/pkg/config"
	xhttp "MarketMaker/pkg/http"
	pkgkafka "MarketMaker/pkg/kafka"
	"MarketMaker/pkg/logger"
)

// App runs one trading session together with its status API and, in replay mode, the snapshot
// consumer.
type App struct {
	cfg      *config.Config
	log      *logger.Logger
	runner   *usecase.SessionRunner
	consumer *pkgkafka.Consumer
	http     *xhttp.Server
}

// New creates an App. consumer is nil in live mode.
func New(cfg *config.Config, log *logger.Logger, runner *usecase.SessionRunner, consumer *pkgkafka.Consumer, http *xhttp.Server) *App {
	return &App{cfg: cfg, log: log.Component("app"), runner: runner, consumer: consumer, http: http}
}

// Run starts every component and blocks until a signal arrives, the market stream ends for good
// or the HTTP listener fails. It then shuts everything down.
func (a *App) Run(ctx context.Context) error {
	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := a.http.Start(); err != nil {
		return err
	}
	if err := a.runner.Start(ctx); err != nil {
		a.log.Error("session start failed", logger.Error(err))
		return errors.Join(err, a.shutdown())
	}
	if a.consumer != nil {
		if err := a.consumer.Start(); err != nil {
			a.log.Error("replay consumer start failed", logger.Error(err))
			return errors.Join(err, a.shutdown())
		}
		a.log.Info("replay consumer started", logger.String("topic", a.cfg.Kafka.ReplayTopic))
	}
	a.log.Info("session running",
		logger.String("mode", a.cfg.Session.Mode),
		logger.String("scenario", a.cfg.Session.Scenario))

	var runErr error
	select {
	case <-ctx.Done():
		a.log.Info("shutdown signal received")
	case <-a.runner.Done():
		a.log.Warn("market stream ended")
	case runErr = <-a.http.Err():
	}
	return errors.Join(runErr, a.shutdown())
}

// shutdown stops intake first, then lets the session drain and persist, then the API.
func (a *App) shutdown() error {
	ctx, cancel := context.WithTimeout(context.Background(), a.cfg.Server.ShutdownTimeout)
	defer cancel()

	var errs []error
	if a.consumer != nil {
		if err := a.consumer.Stop(ctx); err != nil {
			a.log.Warn("replay consumer stop failed", logger.Error(err))
			errs = append(errs, err)
		}
	}
	if err := a.runner.Shutdown(ctx); err != nil {
		a.log.Warn("session shutdown incomplete", logger.Error(err))
		errs = append(errs, err)
	}
	if err := a.http.Stop(context.Background()); err != nil {
		errs = append(errs, err)
	}
	return errors.Join(errs...)
}
