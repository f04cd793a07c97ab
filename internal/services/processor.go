// Package services runs the document pipeline: acquisition, extraction,
// validation and persistence.
package services

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/facturaIA/dte-extraction-service/internal/acquisition"
	"github.com/facturaIA/dte-extraction-service/internal/ai"
	"github.com/facturaIA/dte-extraction-service/internal/db"
	"github.com/facturaIA/dte-extraction-service/internal/extraction"
	"github.com/facturaIA/dte-extraction-service/internal/logger"
)

var (
	// ErrNoFields means nothing required could be extracted, even after the
	// vision retry.
	ErrNoFields = errors.New("no required fields found")
	// ErrNoStore is returned by operations that need persistence.
	ErrNoStore = errors.New("document store not configured")
	// ErrNoSourceFile is returned when a document has neither a stored file
	// nor raw text to reprocess.
	ErrNoSourceFile = errors.New("document has no stored file or text")
)

// DocumentStore is the persistence used by the processor. *db.Store
// implements it.
type DocumentStore interface {
	CreateDocument(ctx context.Context, alias string, doc *db.Document) error
	ApplyExtraction(ctx context.Context, alias string, id uuid.UUID, res extraction.Result) error
	MarkDocumentError(ctx context.Context, alias string, id uuid.UUID, msg string) error
	GetDocument(ctx context.Context, alias string, id uuid.UUID) (*db.Document, error)
	ListPendingDocuments(ctx context.Context, alias string, limit int) ([]db.Document, error)
}

// TextAcquirer turns document bytes into text. *acquisition.Adapter
// implements it.
type TextAcquirer interface {
	Acquire(ctx context.Context, data []byte, filename string) (acquisition.Text, error)
}

// FileFetcher loads a stored file by its object path.
type FileFetcher func(ctx context.Context, objectPath string) ([]byte, error)

// Outcome is the full result of processing one document.
type Outcome struct {
	DocumentID uuid.UUID         `json:"document_id,omitempty"`
	Estado     string            `json:"estado"`
	Kind       string            `json:"kind,omitempty"`
	Method     string            `json:"method,omitempty"`
	Pages      int               `json:"pages,omitempty"`
	Result     extraction.Result `json:"result"`
	Validation *ValidationResult `json:"validation"`
	Readiness  Readiness         `json:"readiness"`
	DurationMS int64             `json:"duration_ms"`
	Error      string            `json:"error,omitempty"`
}

// ProcessorConfig wires a Processor. Only Acquirer is required.
type ProcessorConfig struct {
	Acquirer  TextAcquirer
	Vision    ai.Transcriber
	Engine    *extraction.Engine
	Validator *TaxValidator
	Store     DocumentStore
	Fetch     FileFetcher
}

// Processor runs one document through the pipeline.
type Processor struct {
	acquirer  TextAcquirer
	vision    ai.Transcriber
	engine    *extraction.Engine
	validator *TaxValidator
	store     DocumentStore
	fetch     FileFetcher
	log       zerolog.Logger
}

// NewProcessor creates a processor, filling unset parts with defaults.
func NewProcessor(cfg ProcessorConfig) *Processor {
	if cfg.Engine == nil {
		cfg.Engine = extraction.New(extraction.Options{})
	}
	if cfg.Validator == nil {
		cfg.Validator = NewTaxValidator(0, 0)
	}
	return &Processor{
		acquirer:  cfg.Acquirer,
		vision:    cfg.Vision,
		engine:    cfg.Engine,
		validator: cfg.Validator,
		store:     cfg.Store,
		fetch:     cfg.Fetch,
		log:       logger.WithComponent("processor"),
	}
}

// HasStore reports whether results are persisted.
func (p *Processor) HasStore() bool { return p.store != nil }

// Vision returns the provider used for retries, or nil.
func (p *Processor) Vision() ai.Transcriber { return p.vision }

// Store returns the configured store, or nil.
func (p *Processor) Store() DocumentStore { return p.store }

// Evaluate extracts and validates text without acquisition or persistence.
func (p *Processor) Evaluate(text string, source extraction.Source) *Outcome {
	start := time.Now()
	res := p.engine.Extract(text, source)
	return p.finish(&Outcome{Result: res}, start)
}

// Analyze acquires, extracts and validates data without persisting anything.
// A hard acquisition failure is returned as an error; a document without
// any required field comes back with Estado error and ErrNoFields.
func (p *Processor) Analyze(ctx context.Context, data []byte, filename string) (*Outcome, error) {
	start := time.Now()

	text, err := p.acquirer.Acquire(ctx, data, filename)
	if err != nil && !(errors.Is(err, acquisition.ErrNoText) && strings.TrimSpace(text.Content) != "") {
		return nil, fmt.Errorf("acquisition: %w", err)
	}
	if err != nil {
		p.log.Debug().Err(err).Str("file", filename).Msg("continuing with partial text")
	}

	out := &Outcome{
		Kind:   text.Kind.String(),
		Method: text.Method,
		Pages:  text.Pages,
		Result: p.engine.Extract(text.Content, text.Source),
	}

	if allRequiredMissing(out.Result) {
		p.retryWithVision(ctx, data, text, out)
	}

	p.finish(out, start)
	if out.Estado == db.EstadoError {
		return out, ErrNoFields
	}
	return out, nil
}

// retryWithVision transcribes the original bytes with the vision provider
// and keeps the new result when it fills more required fields.
func (p *Processor) retryWithVision(ctx context.Context, data []byte, text acquisition.Text, out *Outcome) {
	if p.vision == nil || text.Method == acquisition.MethodVision {
		return
	}
	if text.Kind != acquisition.KindPDF && text.Kind != acquisition.KindImage {
		return
	}
	if text.Kind == acquisition.KindPDF && !p.vision.SupportsPDF() {
		return
	}

	transcript, err := p.vision.Transcribe(ctx, data, acquisition.DetectMIME(data))
	if err != nil {
		p.log.Warn().Err(err).Str("provider", p.vision.Name()).Msg("vision retry failed")
		return
	}
	retried := p.engine.Extract(transcript, extraction.SourceRecognition)
	if len(MissingRequiredFields(retried)) < len(MissingRequiredFields(out.Result)) {
		out.Result = retried
		out.Method = acquisition.MethodVision
		p.log.Info().Str("provider", p.vision.Name()).Msg("vision retry improved extraction")
	}
}

func (p *Processor) finish(out *Outcome, start time.Time) *Outcome {
	out.Validation = p.validator.Validate(out.Result)
	out.Readiness = CheckReadiness(out.Result)
	out.Estado = db.EstadoProcesado
	if allRequiredMissing(out.Result) {
		out.Estado = db.EstadoError
		out.Error = ErrNoFields.Error()
	}
	out.DurationMS = time.Since(start).Milliseconds()
	return out
}

// Process analyzes data and records the outcome on document id.
func (p *Processor) Process(ctx context.Context, alias string, id uuid.UUID, data []byte, filename string) (*Outcome, error) {
	if p.store == nil {
		return nil, ErrNoStore
	}
	out, err := p.Analyze(ctx, data, filename)
	return p.record(ctx, alias, id, out, err)
}

// Reprocess runs a stored document through the pipeline again. The file is
// fetched from storage when possible; otherwise the stored raw text is
// re-extracted.
func (p *Processor) Reprocess(ctx context.Context, alias string, id uuid.UUID) (*Outcome, error) {
	if p.store == nil {
		return nil, ErrNoStore
	}
	doc, err := p.store.GetDocument(ctx, alias, id)
	if err != nil {
		return nil, err
	}

	if doc.ArchivoURL != "" && p.fetch != nil {
		data, err := p.fetch(ctx, doc.ArchivoURL)
		if err == nil {
			out, err := p.Analyze(ctx, data, doc.ArchivoNombre)
			return p.record(ctx, alias, id, out, err)
		}
		p.log.Warn().Err(err).Str("document_id", id.String()).Msg("stored file unavailable, using raw text")
	}

	if strings.TrimSpace(doc.RawText) == "" {
		return nil, ErrNoSourceFile
	}
	source, ok := extraction.ParseSource(doc.FuenteTexto)
	if !ok {
		source = extraction.SourceRecognition
	}
	out := p.Evaluate(doc.RawText, source)
	var evalErr error
	if out.Estado == db.EstadoError {
		evalErr = ErrNoFields
	}
	return p.record(ctx, alias, id, out, evalErr)
}

// record persists the outcome of Analyze. out is nil when acquisition
// failed outright.
func (p *Processor) record(ctx context.Context, alias string, id uuid.UUID, out *Outcome, procErr error) (*Outcome, error) {
	log := p.log.With().Str("empresa", alias).Str("document_id", id.String()).Logger()

	if procErr != nil {
		if out == nil {
			out = &Outcome{Estado: db.EstadoError}
		}
		out.DocumentID = id
		out.Estado = db.EstadoError
		out.Error = procErr.Error()
		if err := p.store.MarkDocumentError(ctx, alias, id, procErr.Error()); err != nil {
			return out, fmt.Errorf("mark error: %w", err)
		}
		log.Warn().Err(procErr).Msg("document processing failed")
		return out, procErr
	}

	out.DocumentID = id
	if err := p.store.ApplyExtraction(ctx, alias, id, out.Result); err != nil {
		return out, fmt.Errorf("save extraction: %w", err)
	}
	log.Info().
		Str("tipo", string(out.Result.TipoDocumento)).
		Str("method", out.Method).
		Float64("confianza", out.Result.Confianza).
		Bool("ready_for_sii", out.Readiness.ReadyForSII).
		Int64("duration_ms", out.DurationMS).
		Msg("document processed")
	return out, nil
}
