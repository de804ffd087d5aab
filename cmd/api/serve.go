package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/spf13/cobra"

	"github.com/daloamarket/backend/internal/auth"
	"github.com/daloamarket/backend/internal/config"
	"github.com/daloamarket/backend/internal/db"
	"github.com/daloamarket/backend/internal/gateway"
	"github.com/daloamarket/backend/internal/handlers"
	"github.com/daloamarket/backend/internal/jobs"
	"github.com/daloamarket/backend/internal/ledger"
	"github.com/daloamarket/backend/internal/middleware"
	"github.com/daloamarket/backend/internal/notify"
	"github.com/daloamarket/backend/internal/reconcile"
	"github.com/daloamarket/backend/internal/repository"
	"github.com/daloamarket/backend/internal/router"
	"github.com/daloamarket/backend/internal/services"
)

func serveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP API and background workers",
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()
			return run(ctx)
		},
	}
}

func run(ctx context.Context) error {
	logger := slog.Default()

	cfg, err := config.Load()
	if err != nil {
		return err
	}

	if err := db.RunMigrations(cfg.DatabaseURL); err != nil {
		return err
	}
	pool, err := db.Connect(ctx, cfg.DatabaseURL)
	if err != nil {
		return fmt.Errorf("cannot reach PostgreSQL: %w", err)
	}
	defer pool.Close()
	logger.Info("Connected to PostgreSQL database successfully!")

	if err := db.RunRiverMigrations(ctx, pool); err != nil {
		return err
	}

	// Repositories
	userRepo := repository.NewUserRepo(pool)
	listingRepo := repository.NewListingRepo(pool)
	accountRepo := repository.NewCreditAccountRepo(pool)
	creditRepo := repository.NewCreditRepo(pool)
	issueRepo := repository.NewIssueRepo(pool)

	ledgerSvc := ledger.NewService(ledger.NewRepository(pool))

	gw := gateway.NewClient(gateway.Config{
		BaseURL:    cfg.PayDunya.Endpoint(),
		MasterKey:  cfg.PayDunya.MasterKey,
		PrivateKey: cfg.PayDunya.PrivateKey,
		PublicKey:  cfg.PayDunya.PublicKey,
		Token:      cfg.PayDunya.Token,
		Mode:       cfg.PayDunya.Mode,
		Timeout:    20 * time.Second,
	})

	creditSvc := services.NewCreditService(pool, accountRepo, creditRepo)
	invoiceSvc := &services.InvoiceService{
		Users:       userRepo,
		Listings:    listingRepo,
		Gateway:     gw,
		Ledger:      ledgerSvc,
		AppURL:      cfg.AppURL,
		CallbackURL: cfg.CallbackURL(),
		Logger:      logger,
	}
	publisher := &services.Publisher{
		Pool:     pool,
		Users:    userRepo,
		Listings: listingRepo,
		Credits:  creditSvc,
		Invoices: invoiceSvc,
		Logger:   logger,
	}
	listingSvc := &services.ListingService{Pool: pool, Repo: listingRepo, Logger: logger}

	// The engine enqueues receipts through the river client, whose workers
	// need the engine: bind the client after both exist.
	receipts := &jobs.ReceiptEnqueuer{}
	engine := &reconcile.Engine{
		Pool:           pool,
		Ledger:         ledgerSvc,
		Listings:       listingRepo,
		Credits:        creditSvc,
		Issues:         issueRepo,
		EnqueueReceipt: receipts.Enqueue,
		Logger:         logger,
	}

	var sender notify.Sender = notify.LogSender{Logger: logger}
	if cfg.ResendAPIKey != "" {
		sender = notify.NewResendSender(cfg.ResendAPIKey, cfg.EmailFrom)
	}
	riverClient, err := jobs.NewClient(pool,
		jobs.NewReceiptWorker(ledgerSvc, userRepo, sender, cfg.AppURL, logger),
		jobs.NewConfirmWorker(ledgerSvc, gw, engine, cfg.StalePendingAfter, logger),
		jobs.ClientConfig{MaxWorkers: cfg.RiverMaxWorkers, SweepInterval: cfg.ConfirmSweepInterval, Logger: logger},
	)
	if err != nil {
		return fmt.Errorf("create River client: %w", err)
	}
	receipts.Bind(riverClient)

	tokens, err := auth.NewService(cfg.JWTSecret, 24*time.Hour, cfg.JWTAudience)
	if err != nil {
		return err
	}
	schemas, err := services.NewValidator()
	if err != nil {
		return fmt.Errorf("compile request schemas: %w", err)
	}
	if !cfg.PayDunya.VerifyHash {
		logger.Warn("PayDunya callback hash verification is disabled")
	}
	if cfg.OperatorKeyHash == "" {
		logger.Warn("OPERATOR_KEY_HASH is empty, admin routes are disabled")
	}

	handler := router.New(router.Deps{
		Payments: &handlers.PaymentHandler{
			Engine:     engine,
			Invoices:   invoiceSvc,
			Ledger:     ledgerSvc,
			Schemas:    schemas,
			Hash:       gw,
			VerifyHash: cfg.PayDunya.VerifyHash,
			Logger:     logger,
		},
		Listings: &handlers.ListingHandler{
			Listings:  listingSvc,
			Publisher: publisher,
			Schemas:   schemas,
			Structs:   validator.New(),
			Logger:    logger,
		},
		Credits: &handlers.CreditHandler{
			Credits: creditSvc,
			Requests: &services.CreditRequestService{
				Users:      userRepo,
				Sender:     sender,
				StaffEmail: cfg.StaffEmail,
				Logger:     logger,
			},
			Schemas: schemas,
			Logger:  logger,
		},
		Admin: &handlers.AdminHandler{
			Issues:  issueRepo,
			Credits: creditSvc,
			Schemas: schemas,
			Logger:  logger,
		},
		Tokens:          tokens,
		OperatorKeyHash: cfg.OperatorKeyHash,
		RateLimiter:     middleware.NewRateLimiter(ctx, cfg.RateLimitRPS, cfg.RateLimitBurst, 3*time.Minute),
		AllowedOrigins:  cfg.AllowedOrigins,
	})

	if err := riverClient.Start(ctx); err != nil {
		return fmt.Errorf("start River client: %w", err)
	}

	srv := &http.Server{
		Addr:              cfg.Addr(),
		Handler:           handler,
		ReadHeaderTimeout: 10 * time.Second,
	}
	errCh := make(chan error, 1)
	go func() {
		logger.Info("Starting HTTP server", "addr", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case <-ctx.Done():
		logger.Info("shutting down")
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("HTTP server failed: %w", err)
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 20*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("HTTP shutdown", "error", err)
	}
	if err := riverClient.Stop(shutdownCtx); err != nil {
		logger.Error("River shutdown", "error", err)
	}
	return nil
}
