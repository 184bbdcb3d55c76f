package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/hibiken/asynq"

	"github.com/defter-erp/defter/internal/app"
	"github.com/defter-erp/defter/internal/invoice"
	"github.com/defter-erp/defter/internal/masterdata/taxes"
	"github.com/defter-erp/defter/internal/observability"
	"github.com/defter-erp/defter/internal/payment"
	"github.com/defter-erp/defter/internal/platform/db"
	"github.com/defter-erp/defter/internal/schedule"
	"github.com/defter-erp/defter/internal/shared"
	"github.com/defter-erp/defter/jobs"
)

func main() {
	if app.InTestMode() {
		slog.Default().Info("test mode detected, skipping runtime startup")
		return
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cfg, err := app.LoadConfig()
	if err != nil {
		slog.Default().Error("load config", slog.Any("error", err))
		os.Exit(1)
	}

	logger := app.NewLogger(cfg)

	pool, err := db.New(ctx, cfg.PGDSN, db.Options{MaxConns: 10, MaxConnLifetime: time.Hour})
	if err != nil {
		logger.Error("connect postgres", slog.Any("error", err))
		os.Exit(1)
	}
	defer pool.Close()

	metrics := observability.NewMetrics()

	taxRepo := taxes.NewRepository(pool)
	taxService := taxes.NewService(taxRepo)
	taxHandler := taxes.NewHandler(logger, taxService)

	invoiceRepo := invoice.NewRepository(pool)
	scheduleRepo := schedule.NewRepository(pool)
	invoiceService := invoice.NewService(invoiceRepo, scheduleRepo).WithTaxRates(taxService)
	invoiceHandler := invoice.NewHandler(logger, invoiceService)

	scheduleService := schedule.NewService(scheduleRepo, invoiceRepo)
	scheduleHandler := schedule.NewHandler(logger, scheduleService)

	paymentStore := payment.NewRepository(pool)
	paymentService := payment.NewService(paymentStore)
	idempotencyKeys := shared.NewIdempotencyStore(pool)
	paymentHandler := payment.NewHandler(logger, paymentService, idempotencyKeys, metrics)

	inspector := asynq.NewInspector(asynq.RedisClientOpt{Addr: cfg.RedisAddr})
	defer func() {
		if err := inspector.Close(); err != nil {
			logger.Warn("inspector close", slog.Any("error", err))
		}
	}()
	jobHandler := jobs.NewHandler(inspector, logger)

	router := app.NewRouter(app.RouterParams{
		Logger:          logger,
		Config:          cfg,
		InvoiceHandler:  invoiceHandler,
		ScheduleHandler: scheduleHandler,
		PaymentHandler:  paymentHandler,
		TaxesHandler:    taxHandler,
		JobHandler:      jobHandler,
		Metrics:         metrics,
	})

	server := &http.Server{
		Addr:         cfg.AppAddr,
		Handler:      router,
		ReadTimeout:  cfg.AppReadTimeout,
		WriteTimeout: cfg.AppWriteTimeout,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("http server listening", slog.String("addr", cfg.AppAddr))
		errCh <- server.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			logger.Error("server shutdown", slog.Any("error", err))
		}
	case err := <-errCh:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("http server", slog.Any("error", err))
			os.Exit(1)
		}
	}
}
