package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/recoupapp/recoup-worker/internal/config"
	"github.com/recoupapp/recoup-worker/internal/database"
	"github.com/recoupapp/recoup-worker/internal/docstore"
	"github.com/recoupapp/recoup-worker/internal/extract"
	"github.com/recoupapp/recoup-worker/internal/fulfillment"
	"github.com/recoupapp/recoup-worker/internal/mailprovider"
	"github.com/recoupapp/recoup-worker/internal/mailprovider/gmail"
	"github.com/recoupapp/recoup-worker/internal/mailprovider/outlook"
	"github.com/recoupapp/recoup-worker/internal/models"
	"github.com/recoupapp/recoup-worker/internal/repository"
	"github.com/recoupapp/recoup-worker/internal/service"
	"github.com/recoupapp/recoup-worker/internal/vault"
	"github.com/recoupapp/recoup-worker/internal/watcher"
)

func main() {
	if err := run(); err != nil {
		log.Fatalf("Application error: %v", err)
	}
}

func run() error {
	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		return err
	}

	// Connect to database
	db, err := database.Connect(cfg.DatabaseURL)
	if err != nil {
		return err
	}
	sqlDB, err := db.DB()
	if err != nil {
		return err
	}
	defer sqlDB.Close()

	log.Println("Database connected successfully")

	// Run migrations
	log.Println("Running database migrations...")
	if err := database.RunMigrations(db); err != nil {
		return err
	}
	log.Println("Migrations completed successfully")

	// Token vault
	tokenVault, err := vault.New(cfg.VaultKey)
	if err != nil {
		return err
	}

	// Initialize repositories
	mailboxRepo := repository.NewMailboxRepository(db)
	supplierRepo := repository.NewSupplierRepository(sqlDB)
	invoiceRepo := repository.NewInvoiceRepository(db)
	processedRepo := repository.NewProcessedMessageRepository(sqlDB)
	credentialRepo := repository.NewFulfillmentCredentialRepository(db)
	shipmentRepo := repository.NewShipmentRepository(sqlDB)
	claimRepo := repository.NewClaimRepository(sqlDB)
	jobRepo := repository.NewSyncJobRepository(sqlDB)

	// Mail providers
	providers := map[string]mailprovider.Provider{
		models.ProviderGmail:   gmail.NewClient(cfg.GoogleClientID, cfg.GoogleClientSecret),
		models.ProviderOutlook: outlook.NewClient(cfg.MicrosoftClientID, cfg.MicrosoftClientSecret),
	}

	// Document store
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	store, err := docstore.NewS3Store(ctx, cfg.S3Bucket, cfg.AWSRegion)
	if err != nil {
		return err
	}

	// Extraction
	parserCfg := extract.DefaultParserConfig()
	parserCfg.Model = cfg.ExtractionModel
	extractClient := extract.NewClient(cfg.OpenRouterAPIKey)
	extractor := service.NewExtractor(invoiceRepo, extractClient, store, parserCfg)

	// Mail sync pipeline
	discovery := service.NewDiscoverer(supplierRepo)
	ingestion := service.NewIngestor(supplierRepo, invoiceRepo, processedRepo, store, extractor)
	mailSync := service.NewMailSyncOrchestrator(mailboxRepo, tokenVault, providers, discovery, ingestion, extractor)

	// Fulfillment sync pipeline
	fulfillClient := fulfillment.NewClient(cfg.FulfillmentAPIURL, cfg.FulfillmentClientID, cfg.FulfillmentClientSecret)
	poller := fulfillment.NewPoller(fulfillClient)
	fulfillSync := service.NewFulfillmentSyncer(credentialRepo, shipmentRepo, claimRepo, fulfillClient, poller, tokenVault)

	// Initialize watcher
	w := watcher.New(cfg, jobRepo, mailSync, fulfillSync)

	// Handle shutdown signals
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)

	// Start watcher in goroutine
	errChan := make(chan error, 1)
	go func() {
		errChan <- w.Start(ctx)
	}()

	// Wait for shutdown signal or error
	select {
	case <-sigChan:
		log.Println("Shutdown signal received")
		cancel()

		// Wait for graceful shutdown
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), time.Duration(cfg.ShutdownTimeout)*time.Second)
		defer shutdownCancel()

		select {
		case <-shutdownCtx.Done():
			log.Println("Shutdown timeout exceeded")
		case err := <-errChan:
			if err != nil && err != context.Canceled {
				log.Printf("Watcher error: %v", err)
			}
		}

		log.Println("Application stopped")
		return nil

	case err := <-errChan:
		return err
	}
}
