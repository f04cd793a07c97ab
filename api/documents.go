package api

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/mux"

	"github.com/facturaIA/dte-extraction-service/internal/acquisition"
	"github.com/facturaIA/dte-extraction-service/internal/auth"
	"github.com/facturaIA/dte-extraction-service/internal/db"
	"github.com/facturaIA/dte-extraction-service/internal/extraction"
	"github.com/facturaIA/dte-extraction-service/internal/services"
	"github.com/facturaIA/dte-extraction-service/internal/storage"
)

// ExtractRequest is the JSON body of POST /api/extract.
type ExtractRequest struct {
	Text   string `json:"text"`
	Source string `json:"source"`
}

// Extract runs the engine on text or an uploaded file without persisting
// anything. It works without a database.
func (h *Handler) Extract(w http.ResponseWriter, r *http.Request) {
	if h.processor == nil {
		h.sendError(w, http.StatusServiceUnavailable, "processor not available")
		return
	}

	if strings.HasPrefix(r.Header.Get("Content-Type"), "multipart/form-data") {
		data, filename, status, err := readUpload(w, r)
		if err != nil {
			h.sendError(w, status, err.Error())
			return
		}
		out, err := h.processor.Analyze(r.Context(), data, filename)
		if out == nil {
			h.sendError(w, statusFor(err), err.Error())
			return
		}
		h.sendJSON(w, http.StatusOK, out)
		return
	}

	var req ExtractRequest
	r.Body = http.MaxBytesReader(w, r.Body, MaxUploadSize)
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.sendError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	source := extraction.SourceNativeText
	if req.Source != "" {
		s, ok := extraction.ParseSource(req.Source)
		if !ok {
			h.sendError(w, http.StatusBadRequest, fmt.Sprintf("unknown source %q", req.Source))
			return
		}
		source = s
	}

	h.sendJSON(w, http.StatusOK, h.processor.Evaluate(req.Text, source))
}

// UploadDocument stores a file, creates its row and processes it
// synchronously.
func (h *Handler) UploadDocument(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	claims, ok := h.claims(w, r)
	if !ok {
		return
	}
	usuarioID, err := uuid.Parse(claims.UserID)
	if err != nil {
		h.log.Warn().Err(err).Str("user_id", claims.UserID).Msg("token user id is not a uuid")
		h.sendError(w, http.StatusUnauthorized, "invalid token subject")
		return
	}
	if h.documents == nil || h.processor == nil {
		h.sendError(w, http.StatusServiceUnavailable, "database not available")
		return
	}

	data, filename, status, err := readUpload(w, r)
	if err != nil {
		h.sendError(w, status, err.Error())
		return
	}

	if acquisition.Detect(data, filename) == acquisition.KindUnknown {
		h.sendError(w, http.StatusUnsupportedMediaType, "unsupported file type (pdf, image, xml or text)")
		return
	}

	if err := h.ensureSchema(ctx, claims.EmpresaAlias); err != nil {
		h.log.Error().Err(err).Str("empresa", claims.EmpresaAlias).Msg("ensure schema failed")
		h.sendError(w, statusFor(err), "failed to prepare storage for empresa")
		return
	}

	contentType := acquisition.DetectMIME(data)
	var archivoURL string
	if h.files != nil {
		archivoURL, err = h.files.Upload(ctx, claims.EmpresaAlias, storedName(filename, contentType),
			bytes.NewReader(data), int64(len(data)), contentType)
		if err != nil {
			// Storage is optional; the document is still processed
			h.log.Warn().Err(err).Str("empresa", claims.EmpresaAlias).Msg("failed to upload document to MinIO")
			archivoURL = ""
		}
	}

	doc := &db.Document{
		ArchivoURL:    archivoURL,
		ArchivoNombre: filename,
		Mime:          contentType,
		UsuarioID:     usuarioID,
	}
	if err := h.documents.CreateDocument(ctx, claims.EmpresaAlias, doc); err != nil {
		h.log.Error().Err(err).Str("empresa", claims.EmpresaAlias).Msg("create document failed")
		h.sendError(w, statusFor(err), "failed to create document")
		return
	}

	out, err := h.processor.Process(ctx, claims.EmpresaAlias, doc.ID, data, filename)
	if out == nil || (err != nil && out.Estado != db.EstadoError) {
		h.log.Error().Err(err).Str("document_id", doc.ID.String()).Msg("processing failed")
		h.sendError(w, statusFor(err), "failed to process document")
		return
	}

	h.sendJSON(w, http.StatusCreated, map[string]interface{}{
		"success":       out.Estado == db.EstadoProcesado,
		"document":      out,
		"archivo_url":   archivoURL,
		"saved_to_db":   true,
		"empresa_alias": claims.EmpresaAlias,
	})
}

// ListDocuments returns a page of the empresa's documents
func (h *Handler) ListDocuments(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	claims, ok := h.claims(w, r)
	if !ok {
		return
	}
	if h.documents == nil {
		h.sendError(w, http.StatusServiceUnavailable, "database not available")
		return
	}

	q := r.URL.Query()
	limit, err := queryInt(q.Get("limit"))
	if err != nil {
		h.sendError(w, http.StatusBadRequest, "invalid limit")
		return
	}
	offset, err := queryInt(q.Get("offset"))
	if err != nil {
		h.sendError(w, http.StatusBadRequest, "invalid offset")
		return
	}
	estado := q.Get("estado")
	if estado != "" && !db.ValidEstado(estado) {
		h.sendError(w, http.StatusBadRequest, "invalid estado (pendiente, procesado, error)")
		return
	}

	docs, total, err := h.documents.ListDocuments(ctx, claims.EmpresaAlias, db.ListFilter{
		Limit:  limit,
		Offset: offset,
		Estado: estado,
	})
	if err != nil {
		h.log.Error().Err(err).Str("empresa", claims.EmpresaAlias).Msg("list documents failed")
		h.sendError(w, statusFor(err), "failed to list documents")
		return
	}

	for i := range docs {
		h.presign(r, &docs[i])
	}

	h.sendJSON(w, http.StatusOK, map[string]interface{}{
		"success":       true,
		"documents":     docs,
		"count":         len(docs),
		"total":         total,
		"empresa_alias": claims.EmpresaAlias,
	})
}

// GetDocument returns a single document
func (h *Handler) GetDocument(w http.ResponseWriter, r *http.Request) {
	claims, id, ok := h.documentRequest(w, r)
	if !ok {
		return
	}

	doc, err := h.documents.GetDocument(r.Context(), claims.EmpresaAlias, id)
	if err != nil {
		h.sendError(w, statusFor(err), "document not found")
		return
	}
	h.presign(r, doc)

	h.sendJSON(w, http.StatusOK, map[string]interface{}{
		"success":       true,
		"document":      doc,
		"empresa_alias": claims.EmpresaAlias,
	})
}

// DeleteDocument removes a document and its stored file
func (h *Handler) DeleteDocument(w http.ResponseWriter, r *http.Request) {
	claims, id, ok := h.documentRequest(w, r)
	if !ok {
		return
	}

	archivoURL, err := h.documents.DeleteDocument(r.Context(), claims.EmpresaAlias, id)
	if err != nil {
		h.sendError(w, statusFor(err), "failed to delete document")
		return
	}

	if archivoURL != "" && h.files != nil {
		if err := h.files.Delete(r.Context(), archivoURL); err != nil {
			h.log.Warn().Err(err).Str("path", archivoURL).Msg("failed to delete file from MinIO")
		}
	}

	h.sendJSON(w, http.StatusOK, map[string]interface{}{
		"success": true,
		"deleted": id,
	})
}

// ReprocessDocument runs one stored document through the pipeline again
func (h *Handler) ReprocessDocument(w http.ResponseWriter, r *http.Request) {
	claims, id, ok := h.documentRequest(w, r)
	if !ok {
		return
	}
	if h.processor == nil {
		h.sendError(w, http.StatusServiceUnavailable, "processor not available")
		return
	}

	out, err := h.processor.Reprocess(r.Context(), claims.EmpresaAlias, id)
	if out == nil || (err != nil && out.Estado != db.EstadoError) {
		h.sendError(w, statusFor(err), reprocessMessage(err))
		return
	}

	h.sendJSON(w, http.StatusOK, map[string]interface{}{
		"success":  out.Estado == db.EstadoProcesado,
		"document": out,
	})
}

// ReprocessPending re-runs pending and failed documents of the empresa
func (h *Handler) ReprocessPending(w http.ResponseWriter, r *http.Request) {
	claims, ok := h.claims(w, r)
	if !ok {
		return
	}
	if h.batch == nil || h.documents == nil {
		h.sendError(w, http.StatusServiceUnavailable, "database not available")
		return
	}

	limit, err := queryInt(r.URL.Query().Get("limit"))
	if err != nil {
		h.sendError(w, http.StatusBadRequest, "invalid limit")
		return
	}
	if limit == 0 {
		limit = h.config.Batch.Limit
	}

	report, err := h.batch.Run(r.Context(), claims.EmpresaAlias, limit)
	if err != nil {
		h.log.Error().Err(err).Str("empresa", claims.EmpresaAlias).Msg("batch reprocess failed")
		h.sendError(w, statusFor(err), "batch reprocess failed")
		return
	}

	h.sendJSON(w, http.StatusOK, map[string]interface{}{
		"success": true,
		"report":  report,
	})
}

// GetStats returns this month's statistics
func (h *Handler) GetStats(w http.ResponseWriter, r *http.Request) {
	claims, ok := h.claims(w, r)
	if !ok {
		return
	}
	if h.documents == nil {
		h.sendError(w, http.StatusServiceUnavailable, "database not available")
		return
	}

	stats, err := h.documents.GetMonthlyStats(r.Context(), claims.EmpresaAlias)
	if err != nil {
		h.log.Error().Err(err).Str("empresa", claims.EmpresaAlias).Msg("stats failed")
		h.sendError(w, statusFor(err), "failed to get stats")
		return
	}

	h.sendJSON(w, http.StatusOK, map[string]interface{}{
		"success":       true,
		"stats":         stats,
		"empresa_alias": claims.EmpresaAlias,
	})
}

// documentRequest resolves claims, the store and the {id} path variable.
func (h *Handler) documentRequest(w http.ResponseWriter, r *http.Request) (claims *auth.Claims, id uuid.UUID, ok bool) {
	claims, ok = h.claims(w, r)
	if !ok {
		return nil, uuid.Nil, false
	}
	if h.documents == nil {
		h.sendError(w, http.StatusServiceUnavailable, "database not available")
		return nil, uuid.Nil, false
	}
	id, err := uuid.Parse(mux.Vars(r)["id"])
	if err != nil {
		h.sendError(w, http.StatusBadRequest, "invalid document id")
		return nil, uuid.Nil, false
	}
	return claims, id, true
}

// presign swaps the stored object path for a temporary download URL.
func (h *Handler) presign(r *http.Request, doc *db.Document) {
	if doc.ArchivoURL == "" || h.files == nil {
		return
	}
	if u, err := h.files.PresignedURL(r.Context(), doc.ArchivoURL); err == nil {
		doc.ArchivoURL = u
	}
}

// readUpload reads the "file" (or "image") form field. On failure it
// returns the HTTP status to answer with.
func readUpload(w http.ResponseWriter, r *http.Request) ([]byte, string, int, error) {
	r.Body = http.MaxBytesReader(w, r.Body, MaxUploadSize+1024*1024)
	if err := r.ParseMultipartForm(MaxUploadSize); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			return nil, "", http.StatusRequestEntityTooLarge, errors.New("file too large (max 10MB)")
		}
		return nil, "", http.StatusBadRequest, errors.New("invalid form data")
	}

	file, header, err := r.FormFile("file")
	if err != nil {
		file, header, err = r.FormFile("image")
		if err != nil {
			return nil, "", http.StatusBadRequest, errors.New("no file provided (use 'file' field)")
		}
	}
	defer file.Close()

	if header.Size > MaxUploadSize {
		return nil, "", http.StatusRequestEntityTooLarge, errors.New("file too large (max 10MB)")
	}
	data, err := io.ReadAll(file)
	if err != nil {
		return nil, "", http.StatusBadRequest, errors.New("failed to read file")
	}
	if len(data) == 0 {
		return nil, "", http.StatusBadRequest, errors.New("empty file")
	}
	return data, filepath.Base(header.Filename), http.StatusOK, nil
}

// storedName is the unique object name for an upload.
func storedName(original, contentType string) string {
	ext := storage.FileExtension(contentType)
	if ext == "" || ext == ".bin" {
		ext = strings.ToLower(filepath.Ext(original))
	}
	return fmt.Sprintf("%s_%s%s",
		time.Now().Format("20060102_150405"),
		uuid.New().String()[:8],
		ext,
	)
}

func queryInt(s string) (int, error) {
	if s == "" {
		return 0, nil
	}
	n, err := strconv.Atoi(s)
	if err != nil || n < 0 {
		return 0, fmt.Errorf("invalid integer %q", s)
	}
	return n, nil
}

func reprocessMessage(err error) string {
	switch {
	case errors.Is(err, db.ErrNotFound):
		return "document not found"
	case errors.Is(err, services.ErrNoSourceFile):
		return "document has no stored file or text to reprocess"
	}
	return "failed to reprocess document"
}
