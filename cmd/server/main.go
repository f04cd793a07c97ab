package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/facturaIA/dte-extraction-service/api"
	"github.com/facturaIA/dte-extraction-service/internal/acquisition"
	"github.com/facturaIA/dte-extraction-service/internal/ai"
	"github.com/facturaIA/dte-extraction-service/internal/auth"
	"github.com/facturaIA/dte-extraction-service/internal/db"
	"github.com/facturaIA/dte-extraction-service/internal/extraction"
	"github.com/facturaIA/dte-extraction-service/internal/logger"
	"github.com/facturaIA/dte-extraction-service/internal/models"
	"github.com/facturaIA/dte-extraction-service/internal/ocr"
	"github.com/facturaIA/dte-extraction-service/internal/ocr/tesseract"
	"github.com/facturaIA/dte-extraction-service/internal/services"
	"github.com/facturaIA/dte-extraction-service/internal/storage"
)

func main() {
	configPath := flag.String("config", "config.yaml", "path to the YAML configuration file")
	flag.Parse()

	config, err := models.LoadConfig(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
		os.Exit(1)
	}
	logger.Init(config.LogLevel, config.LogPretty)

	// Initialize JWT
	if err := auth.Init(); err != nil {
		log.Fatal().Err(err).Msg("failed to initialize auth")
	}

	// Initialize database connection pool
	var documents api.DocumentRepository
	var store services.DocumentStore
	if err := db.Init(); err != nil {
		log.Warn().Err(err).Msg("database not available, running in extraction-only mode")
	} else {
		defer db.Close()
		s := db.NewStore(db.Pool)
		documents, store = s, s
	}

	// Initialize MinIO storage
	var files api.FileStore
	var fetch services.FileFetcher
	if err := storage.Init(); err != nil {
		log.Warn().Err(err).Msg("MinIO storage not available, documents will not be stored")
	} else {
		files = api.MinioFiles{}
		fetch = storage.DownloadDocument
	}

	ctx := context.Background()

	vision, err := ai.NewTranscriber(ctx, config.AI)
	if err != nil {
		log.Info().Err(err).Msg("vision fallback disabled")
	}

	acqConfig := acquisition.Config{
		Preprocessor:   ocr.NewPreprocessor(config.OCR.MaxImageSide, 0),
		Vision:         vision,
		MinNativeChars: config.OCR.MinNativeChars,
		Timeout:        time.Duration(config.OCR.TimeoutSeconds) * time.Second,
	}

	var ocrStatus api.OCRStatus
	if config.OCR.Engine == "tesseract" {
		recognizer := tesseract.New(config.OCR.Language)
		ocrStatus = recognizer
		if err := recognizer.Available(); err != nil {
			log.Warn().Err(err).Msg("tesseract not usable, OCR disabled")
		} else {
			acqConfig.Recognizer = recognizer
			log.Info().Str("version", recognizer.Version()).Str("language", config.OCR.Language).Msg("tesseract ready")
		}
	}
	if rasterizer := ocr.NewRasterizer(0, 0); rasterizer != nil {
		acqConfig.Rasterizer = rasterizer
	} else {
		log.Info().Msg("pdftoppm not found, scanned PDFs rely on the vision provider")
	}

	processor := services.NewProcessor(services.ProcessorConfig{
		Acquirer: acquisition.New(acqConfig),
		Vision:   vision,
		Engine: extraction.New(extraction.Options{
			DefaultIVARate: config.Extraction.IVARate,
			Tolerance:      config.Extraction.Tolerance,
		}),
		Validator: services.NewTaxValidator(config.Extraction.IVARate, config.Extraction.Tolerance),
		Store:     store,
		Fetch:     fetch,
	})

	deps := api.Deps{
		Config:    config,
		Processor: processor,
		Batch:     services.NewBatchReprocessor(processor, config.Batch.Workers),
		Documents: documents,
		Files:     files,
		OCR:       ocrStatus,
		Login:     auth.LoginHandler,
	}
	if documents != nil {
		deps.PingDB = db.Ping
	}

	handler := api.NewHandler(deps)

	// Wrap router with JWT middleware (skips /health and /api/login)
	protectedRouter := auth.JWTMiddleware(handler.SetupRoutes())

	addr := fmt.Sprintf("%s:%d", config.Host, config.Port)
	server := &http.Server{
		Addr:              addr,
		Handler:           protectedRouter,
		ReadHeaderTimeout: 10 * time.Second,
		WriteTimeout:      time.Duration(config.OCR.TimeoutSeconds+30) * time.Second,
	}

	log.Info().
		Str("addr", addr).
		Str("version", api.Version).
		Str("ocr_engine", config.OCR.Engine).
		Str("vision_provider", config.AI.DefaultProvider).
		Bool("database", documents != nil).
		Bool("storage", files != nil).
		Msg("starting DTE extraction service")

	go func() {
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatal().Err(err).Msg("server failed")
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)
	<-stop

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("graceful shutdown failed")
	}
	if closer, ok := vision.(interface{ Close() error }); ok {
		closer.Close()
	}
	log.Info().Msg("server stopped")
}
