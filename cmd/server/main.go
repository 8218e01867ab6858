package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/ledgerkeep/receiptpipe/internal/admission"
	"github.com/ledgerkeep/receiptpipe/internal/config"
	"github.com/ledgerkeep/receiptpipe/internal/dedup"
	"github.com/ledgerkeep/receiptpipe/internal/export"
	"github.com/ledgerkeep/receiptpipe/internal/extraction"
	"github.com/ledgerkeep/receiptpipe/internal/ingest"
	"github.com/ledgerkeep/receiptpipe/internal/notify"
	"github.com/ledgerkeep/receiptpipe/internal/recall"
	"github.com/ledgerkeep/receiptpipe/internal/repository"
	"github.com/ledgerkeep/receiptpipe/internal/rules"
	"github.com/ledgerkeep/receiptpipe/internal/server"
	"github.com/ledgerkeep/receiptpipe/internal/split"
	"github.com/ledgerkeep/receiptpipe/internal/storage"
	"github.com/ledgerkeep/receiptpipe/internal/warranty"
	"github.com/ledgerkeep/receiptpipe/pkg/database"
	"github.com/ledgerkeep/receiptpipe/pkg/utils"
	"github.com/subosito/gotenv"
	"go.uber.org/zap"
)

func main() {
	// Local development convenience; missing .env is fine.
	_ = gotenv.Load()

	cfg, err := config.Load("configs/config.yaml")
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load configuration: %v\n", err)
		os.Exit(1)
	}

	logger, err := utils.NewLogger(utils.LoggerConfig{
		Level:      cfg.Logger.Level,
		OutputPath: cfg.Logger.OutputPath,
		Format:     cfg.Logger.Format,
	})
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to initialize logger: %v\n", err)
		os.Exit(1)
	}
	defer logger.Sync()

	logger.Info("Starting receipt pipeline",
		zap.Int("port", cfg.Server.Port))

	db, err := database.New(database.Config{
		Path:            cfg.Database.Path,
		MaxOpenConns:    cfg.Database.MaxOpenConns,
		MaxIdleConns:    cfg.Database.MaxIdleConns,
		ConnMaxLifetime: cfg.Database.ConnMaxLifetime,
	}, logger)
	if err != nil {
		logger.Fatal("Failed to initialize database", zap.Error(err))
	}
	defer db.Close()

	migrator := database.NewMigrator(db, logger)
	if err := migrator.RunMigrations(cfg.Database.MigrationsDir); err != nil {
		logger.Fatal("Failed to run database migrations", zap.Error(err))
	}

	if err := os.MkdirAll(cfg.Storage.BaseDir, 0755); err != nil {
		logger.Fatal("Failed to create storage directory", zap.Error(err))
	}

	// Repositories
	receiptRepo := repository.NewReceiptRepository(db.DB, logger)
	itemRepo := repository.NewLineItemRepository(db.DB, logger)
	ruleRepo := repository.NewRuleRepository(db.DB, logger)
	emailRepo := repository.NewInboundEmailRepository(db.DB, logger)
	tenantRepo := repository.NewTenantRepository(db.DB, logger)
	warrantyRepo := repository.NewWarrantyRepository(db.DB, logger)

	// Pipeline components
	store := storage.NewLocalStore(cfg.Storage.BaseDir, logger)
	controller := admission.NewController(admission.Config{
		MaxConcurrent: cfg.Admission.MaxConcurrent,
		MaxQueueDepth: cfg.Admission.MaxQueueDepth,
		QueueTimeout:  cfg.Admission.QueueTimeout,
	}, logger)
	extractor := extraction.NewClient(
		cfg.OpenAI.APIKey,
		cfg.OpenAI.BaseURL,
		cfg.OpenAI.Model,
		cfg.OpenAI.Temperature,
		cfg.OpenAI.MaxTokens,
		extraction.Config{
			MaxAttempts:    cfg.Extraction.MaxAttempts,
			BaseBackoff:    cfg.Extraction.BaseBackoff,
			RequestTimeout: cfg.Extraction.RequestTimeout,
		},
		logger,
	)

	orchestrator := ingest.NewOrchestrator(
		ingest.Config{
			MaxFileSizeBytes: cfg.Ingest.MaxFileSizeBytes,
			AliasCacheTTL:    cfg.Ingest.AliasCacheTTL,
			AliasCacheSize:   cfg.Ingest.AliasCacheSize,
			AliasRateLimit:   cfg.Ingest.AliasRateLimit,
			AliasRateWindow:  cfg.Ingest.AliasRateWindow,
		},
		db,
		receiptRepo, itemRepo, emailRepo, tenantRepo, warrantyRepo,
		store,
		controller,
		extractor,
		dedup.NewDetector(receiptRepo, logger),
		rules.NewEngine(ruleRepo, itemRepo, receiptRepo, logger),
		warranty.NewService(warrantyRepo, cfg.Ingest.WarrantyMonths, logger),
		recall.NewClient(cfg.Recall.BaseURL, cfg.Recall.Timeout, logger),
		notify.NewLogNotifier(logger),
		logger,
	)

	splitEngine := split.NewEngine(itemRepo, receiptRepo, logger)
	exporter := export.NewExporter(receiptRepo, itemRepo, store, cfg.Export.OutputPrefix, logger)

	srv := server.New(cfg.Internal.APIToken, orchestrator, splitEngine, exporter, logger)

	httpServer := &http.Server{
		Addr:         fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port),
		Handler:      srv.Router(),
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}

	go func() {
		logger.Info("HTTP server listening", zap.String("addr", httpServer.Addr))
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal("Failed to start HTTP server", zap.Error(err))
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info("Shutting down server...")

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := httpServer.Shutdown(ctx); err != nil {
		logger.Error("Server forced to shutdown", zap.Error(err))
	}

	logger.Info("Server exited")
}
