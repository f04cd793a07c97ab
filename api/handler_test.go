package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/facturaIA/dte-extraction-service/internal/acquisition"
	"github.com/facturaIA/dte-extraction-service/internal/auth"
	"github.com/facturaIA/dte-extraction-service/internal/db"
	"github.com/facturaIA/dte-extraction-service/internal/extraction"
	"github.com/facturaIA/dte-extraction-service/internal/models"
	"github.com/facturaIA/dte-extraction-service/internal/services"
)

const sampleInvoice = `COMERCIAL LOS ANDES SPA
Giro: Venta al por mayor
R.U.T.: 76.333.222-5
FACTURA ELECTRÓNICA
N° 004512
Fecha Emisión: 15 de Marzo del 2024
SEÑOR(ES): Distribuidora Sur Ltda
R.U.T.: 77.123.456-9
MONTO NETO $ 100.000
IVA 19% $ 19.000
TOTAL $ 119.000`

type mockRepo struct {
	mock.Mock
}

func (m *mockRepo) CreateDocument(ctx context.Context, alias string, doc *db.Document) error {
	return m.Called(ctx, alias, doc).Error(0)
}

func (m *mockRepo) ApplyExtraction(ctx context.Context, alias string, id uuid.UUID, res extraction.Result) error {
	return m.Called(ctx, alias, id, res).Error(0)
}

func (m *mockRepo) MarkDocumentError(ctx context.Context, alias string, id uuid.UUID, msg string) error {
	return m.Called(ctx, alias, id, msg).Error(0)
}

func (m *mockRepo) GetDocument(ctx context.Context, alias string, id uuid.UUID) (*db.Document, error) {
	args := m.Called(ctx, alias, id)
	doc, _ := args.Get(0).(*db.Document)
	return doc, args.Error(1)
}

func (m *mockRepo) ListPendingDocuments(ctx context.Context, alias string, limit int) ([]db.Document, error) {
	args := m.Called(ctx, alias, limit)
	docs, _ := args.Get(0).([]db.Document)
	return docs, args.Error(1)
}

func (m *mockRepo) EnsureSchema(ctx context.Context, alias string) error {
	return m.Called(ctx, alias).Error(0)
}

func (m *mockRepo) ListDocuments(ctx context.Context, alias string, f db.ListFilter) ([]db.Document, int, error) {
	args := m.Called(ctx, alias, f)
	docs, _ := args.Get(0).([]db.Document)
	return docs, args.Int(1), args.Error(2)
}

func (m *mockRepo) DeleteDocument(ctx context.Context, alias string, id uuid.UUID) (string, error) {
	args := m.Called(ctx, alias, id)
	return args.String(0), args.Error(1)
}

func (m *mockRepo) GetMonthlyStats(ctx context.Context, alias string) (*db.MonthlyStats, error) {
	args := m.Called(ctx, alias)
	stats, _ := args.Get(0).(*db.MonthlyStats)
	return stats, args.Error(1)
}

type mockFiles struct {
	mock.Mock
}

func (m *mockFiles) Upload(ctx context.Context, alias, filename string, r io.Reader, size int64, contentType string) (string, error) {
	args := m.Called(ctx, alias, filename, r, size, contentType)
	return args.String(0), args.Error(1)
}

func (m *mockFiles) PresignedURL(ctx context.Context, objectPath string) (string, error) {
	args := m.Called(ctx, objectPath)
	return args.String(0), args.Error(1)
}

func (m *mockFiles) Delete(ctx context.Context, objectPath string) error {
	return m.Called(ctx, objectPath).Error(0)
}

func (m *mockFiles) Check(ctx context.Context) error {
	return m.Called(ctx).Error(0)
}

type fakeOCR struct{ err error }

func (f fakeOCR) Version() string  { return "5.3.0" }
func (f fakeOCR) Available() error { return f.err }

var testClaims = &auth.Claims{UserID: "5b7f2c0e-7d43-4a55-9a51-2b0b1a7c9e10", EmpresaAlias: "andes", Rol: "admin"}

// newTestHandler wires the real acquisition adapter and processor around the
// given repository and file store. Pass nil for either to leave it unset.
func newTestHandler(repo *mockRepo, files *mockFiles) *Handler {
	cfg := &models.Config{}
	cfg.ApplyDefaults()

	deps := Deps{Config: cfg}
	pc := services.ProcessorConfig{Acquirer: acquisition.New(acquisition.Config{})}
	if repo != nil {
		pc.Store = repo
		deps.Documents = repo
		deps.PingDB = func(context.Context) error { return nil }
	}
	if files != nil {
		deps.Files = files
	}
	deps.Processor = services.NewProcessor(pc)
	deps.Batch = services.NewBatchReprocessor(deps.Processor, 2)
	return NewHandler(deps)
}

func serve(h *Handler, req *http.Request, withClaims bool) *httptest.ResponseRecorder {
	if withClaims {
		req = req.WithContext(auth.WithClaims(req.Context(), testClaims))
	}
	rec := httptest.NewRecorder()
	h.SetupRoutes().ServeHTTP(rec, req)
	return rec
}

func decode(t *testing.T, rec *httptest.ResponseRecorder) map[string]interface{} {
	t.Helper()
	var body map[string]interface{}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body), rec.Body.String())
	return body
}

func multipartBody(t *testing.T, field, filename string, content []byte) (*bytes.Buffer, string) {
	t.Helper()
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	fw, err := mw.CreateFormFile(field, filename)
	require.NoError(t, err)
	_, err = fw.Write(content)
	require.NoError(t, err)
	require.NoError(t, mw.Close())
	return &buf, mw.FormDataContentType()
}

func TestExtractText(t *testing.T) {
	h := newTestHandler(nil, nil)
	body := `{"text":` + mustJSON(t, sampleInvoice) + `,"source":"native-text"}`

	rec := serve(h, httptest.NewRequest(http.MethodPost, "/api/extract", strings.NewReader(body)), true)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	var out services.Outcome
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out))
	assert.Equal(t, "76333222-5", out.Result.RUTProveedor)
	assert.Equal(t, extraction.FacturaAfecta, out.Result.TipoDocumento)
	assert.Equal(t, extraction.SourceNativeText, out.Result.FuenteTexto)
	assert.True(t, out.Readiness.ReadyForSII)
	assert.True(t, out.Validation.Valid)
}

func TestExtractBadRequests(t *testing.T) {
	h := newTestHandler(nil, nil)
	tests := []struct {
		name string
		body string
	}{
		{"not json", "{"},
		{"unknown source", `{"text":"FACTURA","source":"telepathy"}`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := serve(h, httptest.NewRequest(http.MethodPost, "/api/extract", strings.NewReader(tt.body)), true)
			assert.Equal(t, http.StatusBadRequest, rec.Code)
			assert.Contains(t, decode(t, rec), "error")
		})
	}
}

func TestExtractFile(t *testing.T) {
	h := newTestHandler(nil, nil)
	body, contentType := multipartBody(t, "file", "factura.txt", []byte(sampleInvoice))

	req := httptest.NewRequest(http.MethodPost, "/api/extract", body)
	req.Header.Set("Content-Type", contentType)
	rec := serve(h, req, true)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	var out services.Outcome
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out))
	assert.Equal(t, "text", out.Kind)
	assert.Equal(t, acquisition.MethodPlainText, out.Method)
	assert.Equal(t, "004512", out.Result.Folio)
}

func TestUploadDocument(t *testing.T) {
	id := uuid.New()
	repo := new(mockRepo)
	files := new(mockFiles)

	files.On("Upload", mock.Anything, "andes", mock.AnythingOfType("string"), mock.Anything, int64(len(sampleInvoice)), "text/plain").
		Return("documentos/andes/2024/03/f.txt", nil)
	repo.On("EnsureSchema", mock.Anything, "andes").Return(nil).Once()
	repo.On("CreateDocument", mock.Anything, "andes", mock.MatchedBy(func(d *db.Document) bool {
		return d.ArchivoURL == "documentos/andes/2024/03/f.txt" && d.ArchivoNombre == "factura.txt" &&
			d.UsuarioID.String() == testClaims.UserID
	})).Run(func(args mock.Arguments) {
		args.Get(2).(*db.Document).ID = id
	}).Return(nil)
	repo.On("ApplyExtraction", mock.Anything, "andes", id, mock.Anything).Return(nil)

	h := newTestHandler(repo, files)
	for i := 0; i < 2; i++ {
		body, contentType := multipartBody(t, "file", "factura.txt", []byte(sampleInvoice))
		req := httptest.NewRequest(http.MethodPost, "/api/documents", body)
		req.Header.Set("Content-Type", contentType)
		rec := serve(h, req, true)
		require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())

		resp := decode(t, rec)
		assert.Equal(t, true, resp["success"])
		doc := resp["document"].(map[string]interface{})
		assert.Equal(t, id.String(), doc["document_id"])
		assert.Equal(t, db.EstadoProcesado, doc["estado"])
	}

	// schema is ensured once per empresa
	repo.AssertNumberOfCalls(t, "EnsureSchema", 1)
	repo.AssertExpectations(t)
	files.AssertExpectations(t)
}

func TestUploadDocumentRejections(t *testing.T) {
	tests := []struct {
		name     string
		repo     bool
		claims   bool
		field    string
		filename string
		content  []byte
		status   int
	}{
		{"no claims", true, false, "file", "f.txt", []byte(sampleInvoice), http.StatusUnauthorized},
		{"no database", false, true, "file", "f.txt", []byte(sampleInvoice), http.StatusServiceUnavailable},
		{"wrong field", true, true, "attachment", "f.txt", []byte(sampleInvoice), http.StatusBadRequest},
		{"unsupported", true, true, "file", "blob.bin", []byte{0x00, 0x01, 0x02, 0xfe, 0xff, 0x00}, http.StatusUnsupportedMediaType},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var repo *mockRepo
			if tt.repo {
				repo = new(mockRepo)
			}
			h := newTestHandler(repo, nil)

			body, contentType := multipartBody(t, tt.field, tt.filename, tt.content)
			req := httptest.NewRequest(http.MethodPost, "/api/documents", body)
			req.Header.Set("Content-Type", contentType)
			rec := serve(h, req, tt.claims)

			assert.Equal(t, tt.status, rec.Code)
			assert.Contains(t, decode(t, rec), "error")
		})
	}
}

func TestUploadDocumentRejectsNonUUIDSubject(t *testing.T) {
	repo := new(mockRepo)
	h := newTestHandler(repo, nil)

	body, contentType := multipartBody(t, "file", "factura.txt", []byte(sampleInvoice))
	req := httptest.NewRequest(http.MethodPost, "/api/documents", body)
	req.Header.Set("Content-Type", contentType)
	claims := *testClaims
	claims.UserID = "42"
	req = req.WithContext(auth.WithClaims(req.Context(), &claims))
	rec := serve(h, req, false)

	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.Equal(t, "invalid token subject", decode(t, rec)["error"])
	repo.AssertNotCalled(t, "EnsureSchema", mock.Anything, mock.Anything)
	repo.AssertNotCalled(t, "CreateDocument", mock.Anything, mock.Anything, mock.Anything)
}

func TestListDocuments(t *testing.T) {
	repo := new(mockRepo)
	files := new(mockFiles)
	docs := []db.Document{
		{ID: uuid.New(), ArchivoURL: "documentos/andes/a.pdf", Estado: db.EstadoProcesado},
		{ID: uuid.New(), Estado: db.EstadoError},
	}
	repo.On("ListDocuments", mock.Anything, "andes", db.ListFilter{Limit: 20, Offset: 40, Estado: "procesado"}).
		Return(docs, 42, nil)
	files.On("PresignedURL", mock.Anything, "documentos/andes/a.pdf").Return("https://minio/a.pdf?sig", nil)

	h := newTestHandler(repo, files)
	rec := serve(h, httptest.NewRequest(http.MethodGet, "/api/documents?limit=20&offset=40&estado=procesado", nil), true)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	body := decode(t, rec)
	assert.Equal(t, float64(2), body["count"])
	assert.Equal(t, float64(42), body["total"])
	first := body["documents"].([]interface{})[0].(map[string]interface{})
	assert.Equal(t, "https://minio/a.pdf?sig", first["archivo_url"])
}

func TestListDocumentsBadQuery(t *testing.T) {
	h := newTestHandler(new(mockRepo), nil)
	for _, q := range []string{"limit=abc", "offset=-1", "estado=archivado"} {
		t.Run(q, func(t *testing.T) {
			rec := serve(h, httptest.NewRequest(http.MethodGet, "/api/documents?"+q, nil), true)
			assert.Equal(t, http.StatusBadRequest, rec.Code)
		})
	}
}

func TestGetDocument(t *testing.T) {
	id := uuid.New()
	repo := new(mockRepo)
	repo.On("GetDocument", mock.Anything, "andes", id).Return(&db.Document{ID: id, Folio: "4512"}, nil)
	repo.On("GetDocument", mock.Anything, "andes", mock.Anything).Return(nil, db.ErrNotFound)
	h := newTestHandler(repo, nil)

	tests := []struct {
		name   string
		path   string
		status int
	}{
		{"found", "/api/documents/" + id.String(), http.StatusOK},
		{"missing", "/api/documents/" + uuid.New().String(), http.StatusNotFound},
		{"bad id", "/api/documents/not-a-uuid", http.StatusBadRequest},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := serve(h, httptest.NewRequest(http.MethodGet, tt.path, nil), true)
			assert.Equal(t, tt.status, rec.Code)
		})
	}
}

func TestDeleteDocument(t *testing.T) {
	id := uuid.New()
	repo := new(mockRepo)
	files := new(mockFiles)
	repo.On("DeleteDocument", mock.Anything, "andes", id).Return("documentos/andes/a.pdf", nil)
	files.On("Delete", mock.Anything, "documentos/andes/a.pdf").Return(errors.New("already gone"))

	h := newTestHandler(repo, files)
	rec := serve(h, httptest.NewRequest(http.MethodDelete, "/api/documents/"+id.String(), nil), true)

	assert.Equal(t, http.StatusOK, rec.Code)
	files.AssertExpectations(t)
}

func TestReprocessDocument(t *testing.T) {
	found, missing, empty := uuid.New(), uuid.New(), uuid.New()
	repo := new(mockRepo)
	repo.On("GetDocument", mock.Anything, "andes", found).
		Return(&db.Document{ID: found, RawText: sampleInvoice, FuenteTexto: "native-text"}, nil)
	repo.On("GetDocument", mock.Anything, "andes", missing).Return(nil, db.ErrNotFound)
	repo.On("GetDocument", mock.Anything, "andes", empty).Return(&db.Document{ID: empty}, nil)
	repo.On("ApplyExtraction", mock.Anything, "andes", found, mock.Anything).Return(nil)
	h := newTestHandler(repo, nil)

	tests := []struct {
		id     uuid.UUID
		status int
	}{
		{found, http.StatusOK},
		{missing, http.StatusNotFound},
		{empty, http.StatusConflict},
	}
	for _, tt := range tests {
		rec := serve(h, httptest.NewRequest(http.MethodPost, "/api/documents/"+tt.id.String()+"/reprocess", nil), true)
		assert.Equal(t, tt.status, rec.Code, rec.Body.String())
	}
}

func TestReprocessPending(t *testing.T) {
	id := uuid.New()
	repo := new(mockRepo)
	repo.On("ListPendingDocuments", mock.Anything, "andes", 100).Return([]db.Document{{ID: id}}, nil)
	repo.On("GetDocument", mock.Anything, "andes", id).
		Return(&db.Document{ID: id, RawText: sampleInvoice}, nil)
	repo.On("ApplyExtraction", mock.Anything, "andes", id, mock.Anything).Return(nil)

	h := newTestHandler(repo, nil)
	rec := serve(h, httptest.NewRequest(http.MethodPost, "/api/documents/reprocess", nil), true)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	report := decode(t, rec)["report"].(map[string]interface{})
	assert.Equal(t, float64(1), report["total"])
	assert.Equal(t, float64(1), report["procesados"])
}

func TestGetStats(t *testing.T) {
	repo := new(mockRepo)
	repo.On("GetMonthlyStats", mock.Anything, "andes").Return(&db.MonthlyStats{Month: "2024-03", Documentos: 3}, nil)

	rec := serve(newTestHandler(repo, nil), httptest.NewRequest(http.MethodGet, "/api/stats", nil), true)
	require.Equal(t, http.StatusOK, rec.Code)
	stats := decode(t, rec)["stats"].(map[string]interface{})
	assert.Equal(t, float64(3), stats["total_documentos"])

	rec = serve(newTestHandler(nil, nil), httptest.NewRequest(http.MethodGet, "/api/stats", nil), true)
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
}

func TestHealth(t *testing.T) {
	files := new(mockFiles)
	files.On("Check", mock.Anything).Return(nil)

	h := newTestHandler(new(mockRepo), files)
	h.ocr = fakeOCR{}
	rec := serve(h, httptest.NewRequest(http.MethodGet, "/health", nil), false)
	require.Equal(t, http.StatusOK, rec.Code)

	var resp HealthResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, "healthy", resp.Status)
	assert.True(t, resp.Tesseract.Available)
	assert.Equal(t, "5.3.0", resp.Tesseract.Version)
	assert.True(t, resp.Database.Available)
	assert.True(t, resp.Storage.Available)
	assert.False(t, resp.Vision.Available)

	h.ocr = fakeOCR{err: errors.New("spa.traineddata missing")}
	rec = serve(h, httptest.NewRequest(http.MethodGet, "/health", nil), false)
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, "degraded", resp.Status)
}

func TestRoutesRequireToken(t *testing.T) {
	require.NoError(t, auth.Configure("0123456789abcdef0123456789abcdef", time.Hour))
	h := newTestHandler(nil, nil)
	router := auth.JWTMiddleware(h.SetupRoutes())

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/api/extract", strings.NewReader(`{"text":"x"}`)))
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	token, err := auth.GenerateToken(testClaims.UserID, "ana@example.cl", "andes", "", "admin")
	require.NoError(t, err)
	req := httptest.NewRequest(http.MethodPost, "/api/extract", strings.NewReader(`{"text":"x"}`))
	req.Header.Set("Authorization", "Bearer "+token)
	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestStatusFor(t *testing.T) {
	tests := []struct {
		err    error
		status int
	}{
		{db.ErrNotFound, http.StatusNotFound},
		{db.ErrInvalidAlias, http.StatusBadRequest},
		{db.ErrNoDatabase, http.StatusServiceUnavailable},
		{services.ErrNoStore, http.StatusServiceUnavailable},
		{acquisition.ErrUnsupportedKind, http.StatusUnsupportedMediaType},
		{services.ErrNoSourceFile, http.StatusConflict},
		{context.DeadlineExceeded, http.StatusGatewayTimeout},
		{errors.New("boom"), http.StatusInternalServerError},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.status, statusFor(tt.err), tt.err.Error())
	}
}

func mustJSON(t *testing.T, v interface{}) string {
	t.Helper()
	b, err := json.Marshal(v)
	require.NoError(t, err)
	return string(b)
}
