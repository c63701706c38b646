// server runs the Notification Planner's event-driven side and the HTTP
// surface: health, metrics, and the Manual Trigger (spec §4.3, §4.7).
package main

import (
	"context"
	"errors"
	"log"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/lmittmann/tint"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/rhewin/birthday-notifier/config"
	"github.com/rhewin/birthday-notifier/internal/dispatcher"
	"github.com/rhewin/birthday-notifier/internal/domain"
	"github.com/rhewin/birthday-notifier/internal/eventbus"
	"github.com/rhewin/birthday-notifier/internal/health"
	"github.com/rhewin/birthday-notifier/internal/infrastructure/postgres"
	"github.com/rhewin/birthday-notifier/internal/infrastructure/redisqueue"
	ctxlog "github.com/rhewin/birthday-notifier/internal/log"
	"github.com/rhewin/birthday-notifier/internal/metrics"
	"github.com/rhewin/birthday-notifier/internal/planner"
	"github.com/rhewin/birthday-notifier/internal/sweeper"
	httptransport "github.com/rhewin/birthday-notifier/internal/transport/http"
	"github.com/rhewin/birthday-notifier/internal/transport/http/handler"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("config: %v", err)
	}

	logger := newLogger(cfg.Env, cfg.SlogLevel())

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)

	pool, err := postgres.NewPool(ctx, cfg.DatabaseURL)
	if err != nil {
		stop()
		log.Fatalf("db: %v", err)
	}
	defer pool.Close()

	rdb, err := redisqueue.NewClient(cfg.RedisURL)
	if err != nil {
		stop()
		log.Fatalf("redis: %v", err)
	}
	defer rdb.Close()

	scheduleStore := postgres.NewScheduleStore(pool)
	recipientStore := postgres.NewRecipientStore(pool)

	dispatcherCfg := dispatcher.DefaultConfig()
	dispatcherCfg.MaxAttempts = cfg.QueueMaxRetries
	disp := dispatcher.New(rdb, dispatcherCfg, logger)

	bus := eventbus.New(logger)
	p := planner.New(scheduleStore, disp, disp, logger, cfg.BirthdayMessageHour)
	bus.Subscribe(domain.TopicRecipientCreated, p.HandleCreated)
	bus.Subscribe(domain.TopicRecipientUpdated, p.HandleUpdated)
	bus.Subscribe(domain.TopicRecipientDeleted, p.HandleDeleted)

	sw := sweeper.New(scheduleStore, recipientStore, disp, logger, cfg.BirthdayMessageHour)
	manualHandler := handler.NewManualHandler(sw)

	metrics.Register()
	checker := health.NewChecker(pool, redisqueue.NewPinger(rdb), logger, prometheus.DefaultRegisterer)

	srv := http.Server{
		Addr:    ":" + cfg.Port,
		Handler: httptransport.NewRouter(logger, manualHandler, checker, []byte(cfg.JWTSecret)),
	}

	metricsSrv := metrics.NewServer(":" + cfg.MetricsPort)

	go func() {
		logger.Info("server started", "port", cfg.Port)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatalf("server: %v", err)
		}
	}()

	go func() {
		logger.Info("metrics server started", "port", cfg.MetricsPort)
		if err := metricsSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("metrics server", "error", err)
		}
	}()

	<-ctx.Done()
	stop()
	logger.Info("shutting down...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("server shutdown", "error", err)
	}
	if err := metricsSrv.Shutdown(shutdownCtx); err != nil {
		logger.Error("metrics server shutdown", "error", err)
	}
}

func newLogger(env string, level slog.Level) *slog.Logger {
	var inner slog.Handler
	if env == "local" {
		inner = tint.NewHandler(os.Stdout, &tint.Options{
			Level:      level,
			TimeFormat: time.Kitchen,
		})
	} else {
		inner = slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
			Level: level,
		})
	}
	return slog.New(ctxlog.NewContextHandler(inner))
}
