package db

import (
	"context"
	"errors"
	"fmt"
	"os"
	"regexp"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rs/zerolog/log"
)

var (
	// ErrNoDatabase means no connection settings were found; the service
	// then runs in extraction-only mode.
	ErrNoDatabase = errors.New("no database configuration")
	// ErrNotFound is returned when a row does not exist.
	ErrNotFound = errors.New("not found")
	// ErrInvalidAlias is returned for empresa aliases that cannot name a schema.
	ErrInvalidAlias = errors.New("invalid empresa alias")
)

// Pool is the global database connection pool
var Pool *pgxpool.Pool

// DBTX is the subset of pgxpool.Pool used by Store, so a pgx.Tx works too.
type DBTX interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// DatabaseURL resolves the connection string from DATABASE_URL or the DB_*
// variables.
func DatabaseURL(getenv func(string) string) (string, error) {
	if u := getenv("DATABASE_URL"); u != "" {
		return u, nil
	}
	host := getenv("DB_HOST")
	port := getenv("DB_PORT")
	user := getenv("DB_USER")
	password := getenv("DB_PASSWORD")
	dbname := getenv("DB_NAME")

	if host == "" || user == "" || dbname == "" {
		return "", ErrNoDatabase
	}
	if port == "" {
		port = "5432"
	}
	sslmode := getenv("DB_SSLMODE")
	if sslmode == "" {
		sslmode = "disable"
	}
	return fmt.Sprintf("postgresql://%s:%s@%s:%s/%s?sslmode=%s",
		user, password, host, port, dbname, sslmode), nil
}

// Init initializes the database connection pool
func Init() error {
	databaseURL, err := DatabaseURL(os.Getenv)
	if err != nil {
		log.Info().Msg("no database configuration found, running in extraction-only mode")
		return err
	}

	config, err := pgxpool.ParseConfig(databaseURL)
	if err != nil {
		return fmt.Errorf("failed to parse database URL: %w", err)
	}

	// Connection pool settings optimized for PgBouncer
	config.MaxConns = 10
	config.MinConns = 2
	config.MaxConnLifetime = 1 * time.Hour
	config.MaxConnIdleTime = 30 * time.Minute
	config.HealthCheckPeriod = 1 * time.Minute

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	pool, err := pgxpool.NewWithConfig(ctx, config)
	if err != nil {
		return fmt.Errorf("failed to create connection pool: %w", err)
	}

	// Verify connection
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return fmt.Errorf("failed to ping database: %w", err)
	}

	Pool = pool
	log.Info().
		Str("host", config.ConnConfig.Host).
		Str("database", config.ConnConfig.Database).
		Msg("database connection pool initialized")
	return nil
}

// Close closes the database connection pool
func Close() {
	if Pool != nil {
		Pool.Close()
		log.Info().Msg("database connection pool closed")
	}
}

// Ping checks the pool. It returns ErrNoDatabase when Init did not succeed.
func Ping(ctx context.Context) error {
	if Pool == nil {
		return ErrNoDatabase
	}
	return Pool.Ping(ctx)
}

var aliasPattern = regexp.MustCompile(`^[a-z0-9_]{1,40}$`)

// GetSchemaForEmpresa returns the schema name for a given empresa alias
func GetSchemaForEmpresa(alias string) string {
	if alias == "" {
		return "public"
	}
	return "emp_" + alias
}

// schemaFor validates alias and returns its quoted schema identifier.
func schemaFor(alias string) (string, error) {
	if alias != "" && !aliasPattern.MatchString(alias) {
		return "", fmt.Errorf("%w: %q", ErrInvalidAlias, alias)
	}
	return pgx.Identifier{GetSchemaForEmpresa(alias)}.Sanitize(), nil
}
