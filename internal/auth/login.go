package auth

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/rs/zerolog/log"
	"golang.org/x/crypto/bcrypt"

	"github.com/facturaIA/dte-extraction-service/internal/db"
)

// ErrUserNotFound is returned by a UserStore when no active user matches.
var ErrUserNotFound = errors.New("user not found")

// LoginRequest represents the login request body
type LoginRequest struct {
	EmpresaAlias string `json:"empresa_alias"`
	Email        string `json:"email"`
	Password     string `json:"password"`
}

// LoginResponse represents the successful login response
type LoginResponse struct {
	Token         string `json:"token"`
	UserID        string `json:"user_id"`
	Email         string `json:"email"`
	Nombre        string `json:"nombre"`
	Rol           string `json:"rol"`
	EmpresaAlias  string `json:"empresa_alias"`
	EmpresaNombre string `json:"empresa_nombre"`
}

// User is an account row joined with its empresa.
type User struct {
	ID            string
	Email         string
	Nombre        string
	Rol           string
	EmpresaAlias  string
	EmpresaNombre string
	PasswordHash  string
}

// UserStore looks up accounts for LoginHandler.
type UserStore interface {
	FindUser(ctx context.Context, empresaAlias, email string) (*User, error)
	RecordLogin(ctx context.Context, userID string) error
}

// PoolUsers reads accounts from public.usuarios through db.Pool.
type PoolUsers struct{}

// FindUser implements UserStore.
func (PoolUsers) FindUser(ctx context.Context, empresaAlias, email string) (*User, error) {
	if db.Pool == nil {
		return nil, db.ErrNoDatabase
	}
	query := `SELECT u.id::text, u.email, u.nombre, u.rol, e.alias, e.nombre, u.password_hash
		FROM public.usuarios u
		JOIN public.empresas e ON e.id = u.empresa_id
		WHERE e.alias = $1 AND lower(u.email) = lower($2) AND u.activo`

	var u User
	err := db.Pool.QueryRow(ctx, query, empresaAlias, email).Scan(
		&u.ID, &u.Email, &u.Nombre, &u.Rol, &u.EmpresaAlias, &u.EmpresaNombre, &u.PasswordHash,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrUserNotFound
	}
	if err != nil {
		return nil, err
	}
	return &u, nil
}

// RecordLogin implements UserStore.
func (PoolUsers) RecordLogin(ctx context.Context, userID string) error {
	if db.Pool == nil {
		return db.ErrNoDatabase
	}
	_, err := db.Pool.Exec(ctx, `UPDATE public.usuarios SET ultimo_login = NOW() WHERE id = $1::uuid`, userID)
	return err
}

// LoginHandler authenticates against the shared database pool.
func LoginHandler(w http.ResponseWriter, r *http.Request) {
	NewLoginHandler(PoolUsers{}).ServeHTTP(w, r)
}

// NewLoginHandler returns a POST /api/login handler backed by users.
func NewLoginHandler(users UserStore) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")

		if r.Method != http.MethodPost {
			http.Error(w, `{"error":"method not allowed"}`, http.StatusMethodNotAllowed)
			return
		}

		var req LoginRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			http.Error(w, `{"error":"invalid request body"}`, http.StatusBadRequest)
			return
		}
		req.EmpresaAlias = strings.TrimSpace(req.EmpresaAlias)
		req.Email = strings.TrimSpace(req.Email)

		if req.EmpresaAlias == "" || req.Email == "" || req.Password == "" {
			http.Error(w, `{"error":"empresa_alias, email and password are required"}`, http.StatusBadRequest)
			return
		}

		ctx, cancel := context.WithTimeout(r.Context(), 10*time.Second)
		defer cancel()

		user, err := users.FindUser(ctx, req.EmpresaAlias, req.Email)
		switch {
		case errors.Is(err, db.ErrNoDatabase):
			http.Error(w, `{"error":"authentication service unavailable"}`, http.StatusServiceUnavailable)
			return
		case errors.Is(err, ErrUserNotFound):
			http.Error(w, `{"error":"invalid credentials"}`, http.StatusUnauthorized)
			return
		case err != nil:
			log.Error().Err(err).Str("empresa", req.EmpresaAlias).Msg("login lookup failed")
			http.Error(w, `{"error":"internal error"}`, http.StatusInternalServerError)
			return
		}

		if err := bcrypt.CompareHashAndPassword([]byte(user.PasswordHash), []byte(req.Password)); err != nil {
			http.Error(w, `{"error":"invalid credentials"}`, http.StatusUnauthorized)
			return
		}

		token, err := GenerateToken(user.ID, user.Email, user.EmpresaAlias, user.EmpresaNombre, user.Rol)
		if err != nil {
			http.Error(w, `{"error":"failed to generate token"}`, http.StatusInternalServerError)
			return
		}

		// Update last login in background
		go func(userID string) {
			ctx2, cancel2 := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel2()
			if err := users.RecordLogin(ctx2, userID); err != nil {
				log.Warn().Err(err).Str("user_id", userID).Msg("could not record login")
			}
		}(user.ID)

		json.NewEncoder(w).Encode(LoginResponse{
			Token:         token,
			UserID:        user.ID,
			Email:         user.Email,
			Nombre:        user.Nombre,
			Rol:           user.Rol,
			EmpresaAlias:  user.EmpresaAlias,
			EmpresaNombre: user.EmpresaNombre,
		})
	}
}
