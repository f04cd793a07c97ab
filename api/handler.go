package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"runtime"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/mux"
	"github.com/rs/zerolog"

	"github.com/facturaIA/dte-extraction-service/internal/acquisition"
	"github.com/facturaIA/dte-extraction-service/internal/auth"
	"github.com/facturaIA/dte-extraction-service/internal/db"
	"github.com/facturaIA/dte-extraction-service/internal/logger"
	"github.com/facturaIA/dte-extraction-service/internal/models"
	"github.com/facturaIA/dte-extraction-service/internal/services"
)

const (
	MaxUploadSize = 10 * 1024 * 1024 // 10MB
	Version       = "3.0.0"
)

// DocumentRepository is the document persistence used by the handlers.
// *db.Store implements it.
type DocumentRepository interface {
	services.DocumentStore
	EnsureSchema(ctx context.Context, alias string) error
	ListDocuments(ctx context.Context, alias string, f db.ListFilter) ([]db.Document, int, error)
	DeleteDocument(ctx context.Context, alias string, id uuid.UUID) (string, error)
	GetMonthlyStats(ctx context.Context, alias string) (*db.MonthlyStats, error)
}

// OCRStatus reports on the OCR engine for the health check.
type OCRStatus interface {
	Version() string
	Available() error
}

// Deps are the collaborators of the HTTP layer. Documents, Files, OCR,
// Batch, PingDB and Login may be nil; the matching endpoints then answer
// 503 or report the dependency as unavailable.
type Deps struct {
	Config    *models.Config
	Processor *services.Processor
	Batch     *services.BatchReprocessor
	Documents DocumentRepository
	Files     FileStore
	OCR       OCRStatus
	PingDB    func(ctx context.Context) error
	Login     http.HandlerFunc
}

// Handler handles HTTP requests for document processing
type Handler struct {
	config    *models.Config
	processor *services.Processor
	batch     *services.BatchReprocessor
	documents DocumentRepository
	files     FileStore
	ocr       OCRStatus
	pingDB    func(ctx context.Context) error
	login     http.HandlerFunc
	log       zerolog.Logger

	// empresas whose schema has been ensured
	schemas sync.Map
}

// NewHandler creates a new API handler
func NewHandler(deps Deps) *Handler {
	if deps.Config == nil {
		deps.Config = &models.Config{}
		deps.Config.ApplyDefaults()
	}
	return &Handler{
		config:    deps.Config,
		processor: deps.Processor,
		batch:     deps.Batch,
		documents: deps.Documents,
		files:     deps.Files,
		ocr:       deps.OCR,
		pingDB:    deps.PingDB,
		login:     deps.Login,
		log:       logger.WithComponent("api"),
	}
}

// SetupRoutes configures the HTTP routes
func (h *Handler) SetupRoutes() *mux.Router {
	router := mux.NewRouter()

	// Stateless extraction
	router.HandleFunc("/api/extract", h.Extract).Methods("POST")

	// Documents
	router.HandleFunc("/api/documents", h.UploadDocument).Methods("POST")
	router.HandleFunc("/api/documents", h.ListDocuments).Methods("GET")
	router.HandleFunc("/api/documents/reprocess", h.ReprocessPending).Methods("POST")
	router.HandleFunc("/api/documents/{id}", h.GetDocument).Methods("GET")
	router.HandleFunc("/api/documents/{id}", h.DeleteDocument).Methods("DELETE")
	router.HandleFunc("/api/documents/{id}/reprocess", h.ReprocessDocument).Methods("POST")

	// Statistics
	router.HandleFunc("/api/stats", h.GetStats).Methods("GET")

	// Health check
	router.HandleFunc("/health", h.Health).Methods("GET")

	if h.login != nil {
		router.HandleFunc("/api/login", h.login).Methods("POST")
	}

	return router
}

// HealthResponse represents the health check response structure
type HealthResponse struct {
	Status    string            `json:"status"`
	Version   string            `json:"version"`
	Timestamp string            `json:"timestamp"`
	Uptime    string            `json:"uptime"`
	Memory    MemoryStats       `json:"memory"`
	Tesseract ServiceStatus     `json:"tesseract"`
	Database  ServiceStatus     `json:"database"`
	Storage   ServiceStatus     `json:"storage"`
	Vision    ServiceStatus     `json:"vision"`
	Config    map[string]string `json:"config"`
}

// MemoryStats represents memory usage statistics
type MemoryStats struct {
	Allocated string `json:"allocated"`
	Total     string `json:"total"`
	System    string `json:"system"`
}

// ServiceStatus represents the status of a service dependency
type ServiceStatus struct {
	Available bool   `json:"available"`
	Version   string `json:"version,omitempty"`
	Error     string `json:"error,omitempty"`
}

var startTime = time.Now()

// Health endpoint - enhanced for monitoring
func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")

	ctx, cancel := context.WithTimeout(r.Context(), 3*time.Second)
	defer cancel()

	var m runtime.MemStats
	runtime.ReadMemStats(&m)

	response := HealthResponse{
		Status:    "healthy",
		Version:   Version,
		Timestamp: time.Now().Format(time.RFC3339),
		Uptime:    time.Since(startTime).String(),
		Memory: MemoryStats{
			Allocated: fmt.Sprintf("%.2f MB", float64(m.Alloc)/1024/1024),
			Total:     fmt.Sprintf("%.2f MB", float64(m.TotalAlloc)/1024/1024),
			System:    fmt.Sprintf("%.2f MB", float64(m.Sys)/1024/1024),
		},
		Tesseract: h.checkOCR(),
		Database:  h.checkDatabase(ctx),
		Storage:   h.checkStorage(ctx),
		Vision:    h.checkVision(),
		Config: map[string]string{
			"ocrEngine":      h.config.OCR.Engine,
			"ocrLanguage":    h.config.OCR.Language,
			"visionProvider": h.config.AI.DefaultProvider,
		},
	}

	// OCR is the only dependency the extraction path cannot work around
	if h.config.OCR.Engine == "tesseract" && !response.Tesseract.Available {
		response.Status = "degraded"
		w.WriteHeader(http.StatusServiceUnavailable)
	} else {
		w.WriteHeader(http.StatusOK)
	}

	json.NewEncoder(w).Encode(response)
}

func (h *Handler) checkOCR() ServiceStatus {
	if h.ocr == nil {
		return ServiceStatus{Available: false, Error: "ocr engine not configured"}
	}
	if err := h.ocr.Available(); err != nil {
		return ServiceStatus{Available: false, Error: err.Error()}
	}
	return ServiceStatus{Available: true, Version: h.ocr.Version()}
}

func (h *Handler) checkDatabase(ctx context.Context) ServiceStatus {
	if h.documents == nil || h.pingDB == nil {
		return ServiceStatus{Available: false, Error: "database pool not initialized"}
	}
	if err := h.pingDB(ctx); err != nil {
		return ServiceStatus{Available: false, Error: err.Error()}
	}
	return ServiceStatus{Available: true, Version: "PostgreSQL"}
}

func (h *Handler) checkStorage(ctx context.Context) ServiceStatus {
	if h.files == nil {
		return ServiceStatus{Available: false, Error: "storage client not initialized"}
	}
	if err := h.files.Check(ctx); err != nil {
		return ServiceStatus{Available: false, Error: err.Error()}
	}
	return ServiceStatus{Available: true, Version: "MinIO S3"}
}

func (h *Handler) checkVision() ServiceStatus {
	if h.processor == nil || h.processor.Vision() == nil {
		return ServiceStatus{Available: false, Error: "no vision provider configured"}
	}
	return ServiceStatus{Available: true, Version: h.processor.Vision().Name()}
}

// claims returns the caller's claims or writes 401.
func (h *Handler) claims(w http.ResponseWriter, r *http.Request) (*auth.Claims, bool) {
	claims, err := auth.GetClaimsFromContext(r.Context())
	if err != nil {
		h.sendError(w, http.StatusUnauthorized, "unauthorized")
		return nil, false
	}
	return claims, true
}

// ensureSchema creates the empresa tables once per process.
func (h *Handler) ensureSchema(ctx context.Context, alias string) error {
	if _, done := h.schemas.Load(alias); done {
		return nil
	}
	if err := h.documents.EnsureSchema(ctx, alias); err != nil {
		return err
	}
	h.schemas.Store(alias, struct{}{})
	return nil
}

// statusFor maps package errors to HTTP status codes.
func statusFor(err error) int {
	switch {
	case errors.Is(err, db.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, db.ErrInvalidAlias):
		return http.StatusBadRequest
	case errors.Is(err, db.ErrNoDatabase), errors.Is(err, services.ErrNoStore):
		return http.StatusServiceUnavailable
	case errors.Is(err, acquisition.ErrUnsupportedKind):
		return http.StatusUnsupportedMediaType
	case errors.Is(err, services.ErrNoSourceFile):
		return http.StatusConflict
	case errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout
	}
	return http.StatusInternalServerError
}

func (h *Handler) sendJSON(w http.ResponseWriter, statusCode int, body interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	json.NewEncoder(w).Encode(body)
}

func (h *Handler) sendError(w http.ResponseWriter, statusCode int, message string) {
	h.sendJSON(w, statusCode, map[string]string{
		"error": message,
	})
}
