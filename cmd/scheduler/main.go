// scheduler runs the Hourly Sweeper and the Delivery Worker pool: the
// clock-driven half of the engine, as opposed to cmd/server's event- and
// HTTP-driven half.
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

	"github.com/rhewin/birthday-notifier/config"
	"github.com/rhewin/birthday-notifier/internal/circuitbreaker"
	"github.com/rhewin/birthday-notifier/internal/deliveryclient"
	"github.com/rhewin/birthday-notifier/internal/dispatcher"
	"github.com/rhewin/birthday-notifier/internal/infrastructure/postgres"
	"github.com/rhewin/birthday-notifier/internal/infrastructure/redisqueue"
	ctxlog "github.com/rhewin/birthday-notifier/internal/log"
	"github.com/rhewin/birthday-notifier/internal/metrics"
	"github.com/rhewin/birthday-notifier/internal/reaper"
	"github.com/rhewin/birthday-notifier/internal/sweeper"
	"github.com/rhewin/birthday-notifier/internal/worker"
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

	logger.Info("db and redis connected")

	metrics.Register()

	scheduleStore := postgres.NewScheduleStore(pool)
	recipientStore := postgres.NewRecipientStore(pool)

	dispatcherCfg := dispatcher.DefaultConfig()
	dispatcherCfg.MaxAttempts = cfg.QueueMaxRetries
	disp := dispatcher.New(rdb, dispatcherCfg, logger)

	var sender deliveryclient.Sender
	if cfg.Env == "local" {
		sender = deliveryclient.NewLogSender(logger)
	} else {
		sender = deliveryclient.NewHTTPSender(cfg.EmailAPIURL, cfg.EmailAPITimeout(), logger)
	}
	breaker := circuitbreaker.New(circuitbreaker.DefaultConfig("delivery-endpoint"), logger)

	workerCfg := worker.DefaultConfig()
	workerCfg.Concurrency = cfg.QueueConcurrency
	workerCfg.PollInterval = time.Duration(cfg.WorkerPollIntervalSec) * time.Second
	w := worker.New(scheduleStore, recipientStore, disp, breaker, sender, logger, workerCfg)
	go w.Start(ctx)

	rp := reaper.New(scheduleStore, logger, cfg.ReaperInterval(), cfg.ReaperLeaseTimeout(), cfg.QueueMaxRetries)
	go rp.Start(ctx)

	sw := sweeper.New(scheduleStore, recipientStore, disp, logger, cfg.BirthdayMessageHour)
	if err := sw.Start(ctx); err != nil {
		stop()
		log.Fatalf("sweeper: %v", err)
	}
	defer sw.Stop()

	metricsSrv := metrics.NewServer(":" + cfg.MetricsPort)
	go func() {
		logger.Info("metrics server started", "port", cfg.MetricsPort)
		if err := metricsSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("metrics server", "error", err)
		}
	}()

	<-ctx.Done()
	stop()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := metricsSrv.Shutdown(shutdownCtx); err != nil {
		logger.Error("metrics server shutdown", "error", err)
	}

	logger.Info("scheduler shut down")
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
