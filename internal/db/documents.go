package db

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/facturaIA/dte-extraction-service/internal/extraction"
)

// Document states.
const (
	EstadoPendiente = "pendiente"
	EstadoProcesado = "procesado"
	EstadoError     = "error"
)

// Document is one uploaded tax document and its extracted fields.
type Document struct {
	ID              uuid.UUID  `json:"id"`
	ArchivoURL      string     `json:"archivo_url"`
	ArchivoNombre   string     `json:"archivo_nombre"`
	Mime            string     `json:"mime"`
	Estado          string     `json:"estado"`
	TipoDocumento   string     `json:"tipo_documento"`
	RUTProveedor    string     `json:"rut_proveedor"`
	RUTReceptor     string     `json:"rut_receptor"`
	ProveedorNombre string     `json:"proveedor_nombre"`
	Folio           string     `json:"folio"`
	FechaEmision    *time.Time `json:"fecha_emision"`
	IVATasa         int        `json:"iva_tasa"`
	MontoNeto       *int64     `json:"monto_neto"`
	MontoExento     *int64     `json:"monto_exento"`
	IVA             *int64     `json:"iva"`
	Total           *int64     `json:"total"`
	FuenteTexto     string     `json:"fuente_texto"`
	Confianza       float64    `json:"confianza"`
	RawText         string     `json:"raw_text,omitempty"`
	OCRJSON         string     `json:"ocr_json,omitempty"`
	ErrorMsg        string     `json:"error_msg,omitempty"`
	UsuarioID       uuid.UUID  `json:"usuario_id"`
	CreatedAt       time.Time  `json:"created_at"`
	UpdatedAt       *time.Time `json:"updated_at,omitempty"`
}

// ListFilter selects a page of documents.
type ListFilter struct {
	Limit  int
	Offset int
	Estado string
}

const documentsDDL = `
CREATE SCHEMA IF NOT EXISTS %[1]s;
CREATE TABLE IF NOT EXISTS %[1]s.documentos (
	id               UUID PRIMARY KEY DEFAULT gen_random_uuid(),
	archivo_url      TEXT,
	archivo_nombre   TEXT,
	mime             TEXT,
	estado           TEXT NOT NULL DEFAULT 'pendiente',
	tipo_documento   TEXT,
	rut_proveedor    TEXT,
	rut_receptor     TEXT,
	proveedor_nombre TEXT,
	folio            TEXT,
	fecha_emision    DATE,
	iva_tasa         INTEGER,
	monto_neto       BIGINT,
	monto_exento     BIGINT,
	iva              BIGINT,
	total            BIGINT,
	fuente_texto     TEXT,
	confianza        DOUBLE PRECISION,
	raw_text         TEXT,
	ocr_json         JSONB,
	error_msg        TEXT,
	usuario_id       UUID,
	created_at       TIMESTAMPTZ NOT NULL DEFAULT now(),
	updated_at       TIMESTAMPTZ
);
CREATE INDEX IF NOT EXISTS documentos_estado_idx ON %[1]s.documentos (estado);`

const documentColumns = `id, COALESCE(archivo_url, ''), COALESCE(archivo_nombre, ''), COALESCE(mime, ''),
	estado, COALESCE(tipo_documento, ''), COALESCE(rut_proveedor, ''), COALESCE(rut_receptor, ''),
	COALESCE(proveedor_nombre, ''), COALESCE(folio, ''), fecha_emision, COALESCE(iva_tasa, 0),
	monto_neto, monto_exento, iva, total, COALESCE(fuente_texto, ''), COALESCE(confianza, 0),
	COALESCE(usuario_id, '00000000-0000-0000-0000-000000000000'::uuid), created_at, updated_at`

// Store runs document queries against a pool or transaction.
type Store struct {
	db DBTX
}

// NewStore wraps db, usually the global Pool.
func NewStore(db DBTX) *Store {
	return &Store{db: db}
}

// EnsureSchema creates the empresa schema and documentos table if missing.
func (s *Store) EnsureSchema(ctx context.Context, alias string) error {
	schema, err := schemaFor(alias)
	if err != nil {
		return err
	}
	for _, stmt := range strings.Split(fmt.Sprintf(documentsDDL, schema), ";") {
		if strings.TrimSpace(stmt) == "" {
			continue
		}
		if _, err := s.db.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("ensure schema %s: %w", schema, err)
		}
	}
	return nil
}

// CreateDocument inserts doc in state pendiente and fills its ID and
// CreatedAt.
func (s *Store) CreateDocument(ctx context.Context, alias string, doc *Document) error {
	schema, err := schemaFor(alias)
	if err != nil {
		return err
	}
	if doc.Estado == "" {
		doc.Estado = EstadoPendiente
	}

	query := fmt.Sprintf(`
		INSERT INTO %s.documentos (archivo_url, archivo_nombre, mime, estado, usuario_id)
		VALUES ($1, $2, $3, $4, $5)
		RETURNING id, created_at
	`, schema)

	err = s.db.QueryRow(ctx, query,
		doc.ArchivoURL, doc.ArchivoNombre, doc.Mime, doc.Estado, nullUUID(doc.UsuarioID),
	).Scan(&doc.ID, &doc.CreatedAt)
	if err != nil {
		return fmt.Errorf("create document: %w", err)
	}
	return nil
}

// ApplyExtraction copies the extracted fields onto the document, stores the
// full result as ocr_json and flips the state to procesado.
func (s *Store) ApplyExtraction(ctx context.Context, alias string, id uuid.UUID, res extraction.Result) error {
	schema, err := schemaFor(alias)
	if err != nil {
		return err
	}
	dump, err := json.Marshal(res)
	if err != nil {
		return fmt.Errorf("encode extraction: %w", err)
	}

	query := fmt.Sprintf(`
		UPDATE %s.documentos SET
			estado = $1, tipo_documento = $2, rut_proveedor = $3, rut_receptor = $4,
			proveedor_nombre = $5, folio = $6, fecha_emision = $7, iva_tasa = $8,
			monto_neto = $9, monto_exento = $10, iva = $11, total = $12,
			fuente_texto = $13, confianza = $14, raw_text = $15, ocr_json = $16,
			error_msg = NULL, updated_at = now()
		WHERE id = $17
	`, schema)

	args := append(extractionArgs(res), string(dump), id)
	tag, err := s.db.Exec(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("apply extraction: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// extractionArgs returns the values bound to $1..$15 of ApplyExtraction.
func extractionArgs(res extraction.Result) []any {
	var fecha *time.Time
	if t, ok := res.IssueDate(); ok {
		fecha = &t
	}
	return []any{
		EstadoProcesado,
		string(res.TipoDocumento),
		nullString(res.RUTProveedor),
		nullString(res.RUTReceptor),
		nullString(res.ProveedorNombre),
		nullString(res.Folio),
		fecha,
		res.IVATasa,
		res.MontoNeto,
		res.MontoExento,
		res.IVA,
		res.Total,
		string(res.FuenteTexto),
		res.Confianza,
		res.RawText,
	}
}

// MarkDocumentError records a processing failure.
func (s *Store) MarkDocumentError(ctx context.Context, alias string, id uuid.UUID, msg string) error {
	schema, err := schemaFor(alias)
	if err != nil {
		return err
	}
	query := fmt.Sprintf(`
		UPDATE %s.documentos SET estado = $1, error_msg = $2, updated_at = now()
		WHERE id = $3
	`, schema)

	tag, err := s.db.Exec(ctx, query, EstadoError, msg, id)
	if err != nil {
		return fmt.Errorf("mark document error: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// GetDocument retrieves a single document by ID, including raw text and the
// stored extraction dump.
func (s *Store) GetDocument(ctx context.Context, alias string, id uuid.UUID) (*Document, error) {
	schema, err := schemaFor(alias)
	if err != nil {
		return nil, err
	}
	query := fmt.Sprintf(`
		SELECT %s, COALESCE(raw_text, ''), COALESCE(ocr_json::text, ''), COALESCE(error_msg, '')
		FROM %s.documentos
		WHERE id = $1
	`, documentColumns, schema)

	var doc Document
	dest := append(doc.scanTargets(), &doc.RawText, &doc.OCRJSON, &doc.ErrorMsg)
	if err := s.db.QueryRow(ctx, query, id).Scan(dest...); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("get document: %w", err)
	}
	return &doc, nil
}

// ListDocuments returns a page of documents, newest first, and the total
// count matching the filter.
func (s *Store) ListDocuments(ctx context.Context, alias string, f ListFilter) ([]Document, int, error) {
	schema, err := schemaFor(alias)
	if err != nil {
		return nil, 0, err
	}

	where, args := listWhere(f)
	var total int
	countQuery := fmt.Sprintf("SELECT COUNT(*) FROM %s.documentos%s", schema, where)
	if err := s.db.QueryRow(ctx, countQuery, args...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("count documents: %w", err)
	}

	limit, offset := clampPage(f.Limit, f.Offset)
	query := fmt.Sprintf(`
		SELECT %s
		FROM %s.documentos%s
		ORDER BY created_at DESC
		LIMIT $%d OFFSET $%d
	`, documentColumns, schema, where, len(args)+1, len(args)+2)

	docs, err := s.queryDocuments(ctx, query, append(args, limit, offset)...)
	if err != nil {
		return nil, 0, err
	}
	return docs, total, nil
}

// ListPendingDocuments returns documents waiting for (re)processing, oldest
// first.
func (s *Store) ListPendingDocuments(ctx context.Context, alias string, limit int) ([]Document, error) {
	schema, err := schemaFor(alias)
	if err != nil {
		return nil, err
	}
	limit, _ = clampPage(limit, 0)
	query := fmt.Sprintf(`
		SELECT %s
		FROM %s.documentos
		WHERE estado IN ($1, $2)
		ORDER BY created_at ASC
		LIMIT $3
	`, documentColumns, schema)
	return s.queryDocuments(ctx, query, EstadoPendiente, EstadoError, limit)
}

// DeleteDocument removes a document and returns its stored file path.
func (s *Store) DeleteDocument(ctx context.Context, alias string, id uuid.UUID) (string, error) {
	schema, err := schemaFor(alias)
	if err != nil {
		return "", err
	}
	query := fmt.Sprintf("DELETE FROM %s.documentos WHERE id = $1 RETURNING COALESCE(archivo_url, '')", schema)

	var archivoURL string
	if err := s.db.QueryRow(ctx, query, id).Scan(&archivoURL); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return "", ErrNotFound
		}
		return "", fmt.Errorf("delete document: %w", err)
	}
	return archivoURL, nil
}

// MonthlyStats represents monthly statistics
type MonthlyStats struct {
	Month       string `json:"month"`
	Documentos  int    `json:"total_documentos"`
	Procesados  int    `json:"procesados"`
	ConError    int    `json:"con_error"`
	TotalNeto   int64  `json:"total_neto"`
	TotalIVA    int64  `json:"total_iva"`
	TotalMontos int64  `json:"total_monto"`
}

// GetMonthlyStats returns statistics for documents uploaded this month.
// Credit notes are stored negative, so the sums are already net of them.
func (s *Store) GetMonthlyStats(ctx context.Context, alias string) (*MonthlyStats, error) {
	schema, err := schemaFor(alias)
	if err != nil {
		return nil, err
	}
	query := fmt.Sprintf(`
		SELECT
			COUNT(*),
			COUNT(*) FILTER (WHERE estado = $1),
			COUNT(*) FILTER (WHERE estado = $2),
			COALESCE(SUM(monto_neto), 0)::bigint,
			COALESCE(SUM(iva), 0)::bigint,
			COALESCE(SUM(total), 0)::bigint
		FROM %s.documentos
		WHERE DATE_TRUNC('month', created_at) = DATE_TRUNC('month', CURRENT_DATE)
	`, schema)

	stats := &MonthlyStats{Month: time.Now().Format("2006-01")}
	err = s.db.QueryRow(ctx, query, EstadoProcesado, EstadoError).Scan(
		&stats.Documentos,
		&stats.Procesados,
		&stats.ConError,
		&stats.TotalNeto,
		&stats.TotalIVA,
		&stats.TotalMontos,
	)
	if err != nil {
		return nil, fmt.Errorf("monthly stats: %w", err)
	}
	return stats, nil
}

func (s *Store) queryDocuments(ctx context.Context, query string, args ...any) ([]Document, error) {
	rows, err := s.db.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query documents: %w", err)
	}
	defer rows.Close()

	docs := []Document{}
	for rows.Next() {
		var doc Document
		if err := rows.Scan(doc.scanTargets()...); err != nil {
			return nil, fmt.Errorf("scan document: %w", err)
		}
		docs = append(docs, doc)
	}
	return docs, rows.Err()
}

// scanTargets matches documentColumns.
func (d *Document) scanTargets() []any {
	return []any{
		&d.ID, &d.ArchivoURL, &d.ArchivoNombre, &d.Mime,
		&d.Estado, &d.TipoDocumento, &d.RUTProveedor, &d.RUTReceptor,
		&d.ProveedorNombre, &d.Folio, &d.FechaEmision, &d.IVATasa,
		&d.MontoNeto, &d.MontoExento, &d.IVA, &d.Total, &d.FuenteTexto, &d.Confianza,
		&d.UsuarioID, &d.CreatedAt, &d.UpdatedAt,
	}
}

func listWhere(f ListFilter) (string, []any) {
	if f.Estado == "" {
		return "", nil
	}
	return " WHERE estado = $1", []any{f.Estado}
}

func clampPage(limit, offset int) (int, int) {
	if limit <= 0 {
		limit = 50
	}
	if limit > 500 {
		limit = 500
	}
	if offset < 0 {
		offset = 0
	}
	return limit, offset
}

// ValidEstado reports whether s is a known document state.
func ValidEstado(s string) bool {
	switch s {
	case EstadoPendiente, EstadoProcesado, EstadoError:
		return true
	}
	return false
}

func nullString(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

func nullUUID(id uuid.UUID) *uuid.UUID {
	if id == uuid.Nil {
		return nil
	}
	return &id
}
