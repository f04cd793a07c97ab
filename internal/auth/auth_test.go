package auth

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"

	"github.com/facturaIA/dte-extraction-service/internal/db"
)

const testSecret = "0123456789abcdef0123456789abcdef"

func setup(t *testing.T) {
	t.Helper()
	require.NoError(t, Configure(testSecret, time.Hour))
}

func TestConfigureRejectsShortSecret(t *testing.T) {
	assert.Error(t, Configure("short", time.Hour))
}

func TestInitFromEnv(t *testing.T) {
	t.Setenv("JWT_SECRET", testSecret)
	t.Setenv("JWT_EXPIRY_HOURS", "2")
	require.NoError(t, Init())
	assert.Equal(t, 2*time.Hour, tokenExpiry)

	t.Setenv("JWT_EXPIRY_HOURS", "zero")
	assert.Error(t, Init())

	t.Setenv("JWT_EXPIRY_HOURS", "")
	t.Setenv("JWT_SECRET", "")
	assert.Error(t, Init())
}

func TestGenerateAndValidateToken(t *testing.T) {
	setup(t)

	token, err := GenerateToken("u-1", "ana@example.cl", "andes", "Comercial Los Andes", "admin")
	require.NoError(t, err)

	claims, err := ValidateToken(token)
	require.NoError(t, err)
	assert.Equal(t, "u-1", claims.UserID)
	assert.Equal(t, "andes", claims.EmpresaAlias)
	assert.Equal(t, "admin", claims.Rol)
	assert.WithinDuration(t, time.Now().Add(time.Hour), claims.ExpiresAt.Time, 5*time.Second)
}

func TestValidateTokenRejects(t *testing.T) {
	setup(t)

	expired := jwt.NewWithClaims(jwt.SigningMethodHS256, Claims{
		UserID: "u-1",
		RegisteredClaims: jwt.RegisteredClaims{
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(-time.Minute)),
		},
	})
	expiredString, err := expired.SignedString([]byte(testSecret))
	require.NoError(t, err)

	otherKey, err := jwt.NewWithClaims(jwt.SigningMethodHS256, Claims{UserID: "u-1"}).
		SignedString([]byte("another-secret-another-secret-xx"))
	require.NoError(t, err)

	unsigned, err := jwt.NewWithClaims(jwt.SigningMethodNone, Claims{UserID: "u-1"}).
		SignedString(jwt.UnsafeAllowNoneSignatureType)
	require.NoError(t, err)

	tests := []struct {
		name  string
		token string
	}{
		{"garbage", "not-a-token"},
		{"expired", expiredString},
		{"wrong key", otherKey},
		{"alg none", unsigned},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ValidateToken(tt.token)
			assert.ErrorIs(t, err, ErrInvalidToken)
		})
	}
}

func TestJWTMiddleware(t *testing.T) {
	setup(t)
	token, err := GenerateToken("u-1", "ana@example.cl", "andes", "", "user")
	require.NoError(t, err)

	var seen *Claims
	next := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen, _ = GetClaimsFromContext(r.Context())
		w.WriteHeader(http.StatusNoContent)
	})
	h := JWTMiddleware(next)

	tests := []struct {
		name   string
		path   string
		header string
		status int
		claims bool
	}{
		{"health is public", "/health", "", http.StatusNoContent, false},
		{"login is public", "/api/login", "", http.StatusNoContent, false},
		{"missing header", "/api/documents", "", http.StatusUnauthorized, false},
		{"wrong scheme", "/api/documents", "Basic abc", http.StatusUnauthorized, false},
		{"bad token", "/api/documents", "Bearer nope", http.StatusUnauthorized, false},
		{"valid token", "/api/documents", "Bearer " + token, http.StatusNoContent, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			seen = nil
			req := httptest.NewRequest(http.MethodGet, tt.path, nil)
			if tt.header != "" {
				req.Header.Set("Authorization", tt.header)
			}
			rec := httptest.NewRecorder()
			h.ServeHTTP(rec, req)

			assert.Equal(t, tt.status, rec.Code)
			if tt.claims {
				require.NotNil(t, seen)
				assert.Equal(t, "andes", seen.EmpresaAlias)
			} else {
				assert.Nil(t, seen)
			}
			if tt.status == http.StatusUnauthorized {
				assert.Contains(t, rec.Body.String(), `"error"`)
			}
		})
	}
}

func TestGetClaimsFromContext(t *testing.T) {
	_, err := GetClaimsFromContext(context.Background())
	assert.ErrorIs(t, err, ErrNoClaims)

	ctx := WithClaims(context.Background(), &Claims{UserID: "u-9"})
	claims, err := GetClaimsFromContext(ctx)
	require.NoError(t, err)
	assert.Equal(t, "u-9", claims.UserID)
}

type mockUsers struct {
	mock.Mock
}

func (m *mockUsers) FindUser(ctx context.Context, empresaAlias, email string) (*User, error) {
	args := m.Called(ctx, empresaAlias, email)
	u, _ := args.Get(0).(*User)
	return u, args.Error(1)
}

func (m *mockUsers) RecordLogin(ctx context.Context, userID string) error {
	return m.Called(ctx, userID).Error(0)
}

func hash(t *testing.T, password string) string {
	t.Helper()
	h, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.MinCost)
	require.NoError(t, err)
	return string(h)
}

func postLogin(h http.Handler, body string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodPost, "/api/login", strings.NewReader(body))
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func TestLoginSuccess(t *testing.T) {
	setup(t)
	users := new(mockUsers)
	users.On("FindUser", mock.Anything, "andes", "ana@example.cl").Return(&User{
		ID:            "5b7f2c0e-7d43-4a55-9a51-2b0b1a7c9e10",
		Email:         "ana@example.cl",
		Nombre:        "Ana Rojas",
		Rol:           "admin",
		EmpresaAlias:  "andes",
		EmpresaNombre: "Comercial Los Andes",
		PasswordHash:  hash(t, "secreta"),
	}, nil)

	recorded := make(chan struct{})
	users.On("RecordLogin", mock.Anything, "5b7f2c0e-7d43-4a55-9a51-2b0b1a7c9e10").
		Return(nil).
		Run(func(mock.Arguments) { close(recorded) })

	rec := postLogin(NewLoginHandler(users), `{"empresa_alias":" andes ","email":"ana@example.cl","password":"secreta"}`)
	require.Equal(t, http.StatusOK, rec.Code)

	var resp LoginResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, "Ana Rojas", resp.Nombre)
	assert.Equal(t, "andes", resp.EmpresaAlias)

	claims, err := ValidateToken(resp.Token)
	require.NoError(t, err)
	assert.Equal(t, resp.UserID, claims.UserID)

	select {
	case <-recorded:
	case <-time.After(2 * time.Second):
		t.Fatal("login was not recorded")
	}
	users.AssertExpectations(t)
}

func TestLoginFailures(t *testing.T) {
	setup(t)
	stored := &User{ID: "u-1", EmpresaAlias: "andes", PasswordHash: hash(t, "secreta")}

	tests := []struct {
		name   string
		method string
		body   string
		user   *User
		err    error
		status int
	}{
		{"wrong method", http.MethodGet, "", nil, nil, http.StatusMethodNotAllowed},
		{"bad json", http.MethodPost, "{", nil, nil, http.StatusBadRequest},
		{"missing fields", http.MethodPost, `{"email":"a@b.cl"}`, nil, nil, http.StatusBadRequest},
		{"unknown user", http.MethodPost, `{"empresa_alias":"andes","email":"x@b.cl","password":"p"}`, nil, ErrUserNotFound, http.StatusUnauthorized},
		{"wrong password", http.MethodPost, `{"empresa_alias":"andes","email":"x@b.cl","password":"otra"}`, stored, nil, http.StatusUnauthorized},
		{"no database", http.MethodPost, `{"empresa_alias":"andes","email":"x@b.cl","password":"p"}`, nil, db.ErrNoDatabase, http.StatusServiceUnavailable},
		{"lookup error", http.MethodPost, `{"empresa_alias":"andes","email":"x@b.cl","password":"p"}`, nil, errors.New("boom"), http.StatusInternalServerError},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			users := new(mockUsers)
			users.On("FindUser", mock.Anything, mock.Anything, mock.Anything).Return(tt.user, tt.err).Maybe()

			req := httptest.NewRequest(tt.method, "/api/login", strings.NewReader(tt.body))
			rec := httptest.NewRecorder()
			NewLoginHandler(users).ServeHTTP(rec, req)

			assert.Equal(t, tt.status, rec.Code)
			assert.Contains(t, rec.Body.String(), `"error"`)
			users.AssertNotCalled(t, "RecordLogin", mock.Anything, mock.Anything)
		})
	}
}
