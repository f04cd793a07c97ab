package auth

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

var (
	ErrInvalidToken = errors.New("invalid token")
	ErrNoClaims     = errors.New("no claims in context")
)

// MinSecretLength is the shortest HS256 secret Init accepts.
const MinSecretLength = 32

var (
	jwtSecret   []byte
	tokenExpiry = 24 * time.Hour
)

// Claims are the JWT claims carried by every authenticated request.
type Claims struct {
	UserID        string `json:"user_id"`
	Email         string `json:"email"`
	EmpresaAlias  string `json:"empresa_alias"`
	EmpresaNombre string `json:"empresa_nombre,omitempty"`
	Rol           string `json:"rol"`
	jwt.RegisteredClaims
}

type contextKey string

const claimsKey contextKey = "claims"

// Init reads JWT_SECRET and JWT_EXPIRY_HOURS from the environment.
func Init() error {
	expiry := 24 * time.Hour
	if h := os.Getenv("JWT_EXPIRY_HOURS"); h != "" {
		n, err := strconv.Atoi(h)
		if err != nil || n <= 0 {
			return fmt.Errorf("invalid JWT_EXPIRY_HOURS %q", h)
		}
		expiry = time.Duration(n) * time.Hour
	}
	return Configure(os.Getenv("JWT_SECRET"), expiry)
}

// Configure sets the signing secret and token lifetime directly.
func Configure(secret string, expiry time.Duration) error {
	if len(secret) < MinSecretLength {
		return fmt.Errorf("JWT_SECRET must be at least %d bytes", MinSecretLength)
	}
	if expiry <= 0 {
		expiry = 24 * time.Hour
	}
	jwtSecret = []byte(secret)
	tokenExpiry = expiry
	return nil
}

// GenerateToken signs a new HS256 token for the given user
func GenerateToken(userID, email, empresaAlias, empresaNombre, rol string) (string, error) {
	if len(jwtSecret) == 0 {
		return "", errors.New("auth not initialized")
	}
	now := time.Now()
	claims := Claims{
		UserID:        userID,
		Email:         email,
		EmpresaAlias:  empresaAlias,
		EmpresaNombre: empresaNombre,
		Rol:           rol,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   userID,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(tokenExpiry)),
		},
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString(jwtSecret)
}

// ValidateToken parses and verifies tokenString.
func ValidateToken(tokenString string) (*Claims, error) {
	if len(jwtSecret) == 0 {
		return nil, ErrInvalidToken
	}
	token, err := jwt.ParseWithClaims(tokenString, &Claims{}, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", t.Header["alg"])
		}
		return jwtSecret, nil
	})
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}
	claims, ok := token.Claims.(*Claims)
	if !ok || !token.Valid {
		return nil, ErrInvalidToken
	}
	return claims, nil
}

// publicPaths never require a token.
var publicPaths = map[string]bool{
	"/health":    true,
	"/api/login": true,
}

// JWTMiddleware validates the Bearer token and stores its claims in the
// request context. /health and /api/login pass through untouched.
func JWTMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if publicPaths[r.URL.Path] || r.Method == http.MethodOptions {
			next.ServeHTTP(w, r)
			return
		}

		header := r.Header.Get("Authorization")
		tokenString, found := strings.CutPrefix(header, "Bearer ")
		if !found || strings.TrimSpace(tokenString) == "" {
			unauthorized(w, "missing bearer token")
			return
		}

		claims, err := ValidateToken(strings.TrimSpace(tokenString))
		if err != nil {
			unauthorized(w, "invalid or expired token")
			return
		}

		next.ServeHTTP(w, r.WithContext(WithClaims(r.Context(), claims)))
	})
}

// WithClaims returns a copy of ctx carrying claims.
func WithClaims(ctx context.Context, claims *Claims) context.Context {
	return context.WithValue(ctx, claimsKey, claims)
}

// GetClaimsFromContext returns the claims stored by JWTMiddleware.
func GetClaimsFromContext(ctx context.Context) (*Claims, error) {
	claims, ok := ctx.Value(claimsKey).(*Claims)
	if !ok || claims == nil {
		return nil, ErrNoClaims
	}
	return claims, nil
}

func unauthorized(w http.ResponseWriter, msg string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusUnauthorized)
	json.NewEncoder(w).Encode(map[string]string{"error": msg})
}
