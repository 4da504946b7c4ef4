package main

import (
	"context"
	"log/slog"
	"net/http"
	"os"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/riverqueue/river"
	"github.com/riverqueue/river/riverdriver/riverpgxv5"
	"github.com/riverqueue/river/rivermigrate"
	"github.com/rs/cors"

	"github.com/typeflow/backend/internal/ai"
	"github.com/typeflow/backend/internal/archive"
	"github.com/typeflow/backend/internal/auth"
	"github.com/typeflow/backend/internal/billing"
	"github.com/typeflow/backend/internal/config"
	"github.com/typeflow/backend/internal/entitlement"
	"github.com/typeflow/backend/internal/guest"
	"github.com/typeflow/backend/internal/handlers"
	"github.com/typeflow/backend/internal/ledger"
	"github.com/typeflow/backend/internal/repository"
	"github.com/typeflow/backend/internal/router"
)

func main() {
	logger := slog.New(slog.NewJSONHandler(os.Stdout, nil))
	slog.SetDefault(logger)

	cfg, err := config.Load()
	if err != nil {
		slog.Error("Invalid configuration", "error", err)
		os.Exit(1)
	}

	ctx := context.Background()
	pool, err := pgxpool.New(ctx, cfg.DatabaseURL)
	if err != nil {
		slog.Error("Unable to create database pool", "error", err)
		os.Exit(1)
	}
	defer pool.Close()

	if err := pool.Ping(ctx); err != nil {
		slog.Error("Cannot reach PostgreSQL. Ensure Postgres is running, e.g. docker-compose up -d", "error", err)
		os.Exit(1)
	}
	slog.Info("Connected to PostgreSQL")

	// River migrations
	migrator, err := rivermigrate.New(riverpgxv5.New(pool), nil)
	if err != nil {
		slog.Error("Failed to create River migrator", "error", err)
		os.Exit(1)
	}
	if _, err := migrator.Migrate(ctx, rivermigrate.DirectionUp, nil); err != nil {
		slog.Error("River migrate up failed. If the error is 'connection refused', start PostgreSQL first", "error", err)
		os.Exit(1)
	}
	slog.Info("River migrations applied")

	// Repositories
	accountRepo := repository.NewAccountRepo(pool)
	deviceRepo := repository.NewDeviceRepo(pool)
	purchaseRepo := repository.NewPurchaseRepo(pool)
	adjustmentRepo := repository.NewAdjustmentRepo(pool)
	usageRepo := repository.NewUsageRepo(pool)

	// Services
	ledgerSvc := ledger.NewService(pool, accountRepo, adjustmentRepo, usageRepo, logger)
	guestSvc := guest.NewService(deviceRepo, usageRepo, logger)
	archiveSvc := archive.NewService(pool, accountRepo,
		[]archive.DependentStore{purchaseRepo, adjustmentRepo, usageRepo}, logger)
	entitlementSvc := entitlement.NewService(pool, accountRepo, deviceRepo, purchaseRepo,
		adjustmentRepo, usageRepo, archiveSvc, logger)
	billingSvc := billing.NewService(pool, accountRepo, purchaseRepo, ledgerSvc, logger)

	verifier := auth.NewClaimsVerifier(cfg.RelayDomain)
	authSvc := auth.NewService(accountRepo, entitlementSvc, verifier, []byte(cfg.JWTSecret))

	gateway := ai.NewGatewayClient(cfg.AIGatewayURL, cfg.AIGatewayKey)

	// River: daily sweep for archived accounts past the restore window.
	workers := river.NewWorkers()
	river.AddWorker(workers, archive.NewPurgeWorker(archiveSvc, logger))

	riverClient, err := river.NewClient(riverpgxv5.New(pool), &river.Config{
		Queues: map[string]river.QueueConfig{
			river.QueueDefault: {MaxWorkers: 10},
		},
		Workers: workers,
		PeriodicJobs: []*river.PeriodicJob{
			river.NewPeriodicJob(
				river.PeriodicInterval(24*time.Hour),
				func() (river.JobArgs, *river.InsertOpts) {
					return archive.PurgeJobArgs{}, nil
				},
				&river.PeriodicJobOpts{RunOnStart: true},
			),
		},
	})
	if err != nil {
		slog.Error("Failed to create River client", "error", err)
		os.Exit(1)
	}

	// Handlers
	apiRouter := router.New(router.Deps{
		Auth: auth.NewHandler(authSvc, logger),
		AI: &handlers.AIHandler{
			Completer: gateway,
			Ledger:    ledgerSvc,
			Guests:    guestSvc,
			Logger:    logger,
		},
		Voice: &handlers.VoiceHandler{
			Transcriber: gateway,
			Synthesizer: gateway,
			Cloner:      gateway,
			Completer:   gateway,
			Ledger:      ledgerSvc,
			Refunder:    ledgerSvc,
			Guests:      guestSvc,
			Logger:      logger,
		},
		Purchases: &handlers.PurchaseHandler{
			Billing: billingSvc,
			Events:  billingSvc,
			Linker:  billingSvc,
			Logger:  logger,
		},
		Guest: &handlers.GuestHandler{
			Guests: guestSvc,
			Logger: logger,
		},
		Account: &handlers.AccountHandler{
			Archive: archiveSvc,
			Logger:  logger,
		},
		Admin: &handlers.AdminHandler{
			Accounts:    accountRepo,
			Granter:     ledgerSvc,
			Purchases:   purchaseRepo,
			Adjustments: adjustmentRepo,
			Usage:       usageRepo,
			Logger:      logger,
		},
		Tokens:   authSvc,
		Accounts: accountRepo,
	})

	corsHandler := cors.New(cors.Options{
		AllowedOrigins:   cfg.AllowedOrigins,
		AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type"},
		AllowCredentials: true,
	}).Handler(apiRouter)

	riverCtx, stopRiver := context.WithCancel(ctx)
	defer stopRiver()
	go func() {
		if err := riverClient.Start(riverCtx); err != nil && riverCtx.Err() == nil {
			slog.Error("River client stopped", "error", err)
		}
	}()

	serverAddr := "0.0.0.0:" + cfg.Port
	slog.Info("Starting HTTP server", "addr", serverAddr)
	if err := http.ListenAndServe(serverAddr, corsHandler); err != nil {
		slog.Error("HTTP server failed", "error", err)
		os.Exit(1)
	}
}
