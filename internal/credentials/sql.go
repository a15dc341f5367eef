package credentials

import (
	"context"
	"database/sql"
	"embed"
	stderrors "errors"
	"fmt"
	"time"

	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database"
	pgxmigrate "github.com/golang-migrate/migrate/v4/database/pgx/v5"
	sqlitemigrate "github.com/golang-migrate/migrate/v4/database/sqlite3"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/stdlib"
	_ "github.com/mattn/go-sqlite3"

	"token-relay/internal/common/errors"
	"token-relay/internal/token"
)

//go:embed migrations
var migrations embed.FS

// Dialect selects SQL syntax and migrations for a database engine
type Dialect string

const (
	DialectSQLite   Dialect = "sqlite"
	DialectPostgres Dialect = "postgres"
)

type queries struct {
	get    string
	upsert string
	delete string
}

var dialectQueries = map[Dialect]queries{
	DialectSQLite: {
		get: `SELECT access_token, refresh_token, expires_at, updated_at FROM oauth_credentials WHERE id = ?`,
		upsert: `INSERT INTO oauth_credentials (id, access_token, refresh_token, expires_at, updated_at)
VALUES (?, ?, ?, ?, ?)
ON CONFLICT (id) DO UPDATE SET
    access_token = excluded.access_token,
    refresh_token = excluded.refresh_token,
    expires_at = excluded.expires_at,
    updated_at = excluded.updated_at`,
		delete: `DELETE FROM oauth_credentials WHERE id = ?`,
	},
	DialectPostgres: {
		get: `SELECT access_token, refresh_token, expires_at, updated_at::text FROM oauth_credentials WHERE id = $1`,
		upsert: `INSERT INTO oauth_credentials (id, access_token, refresh_token, expires_at, updated_at)
VALUES ($1, $2, $3, $4, $5)
ON CONFLICT (id) DO UPDATE SET
    access_token = EXCLUDED.access_token,
    refresh_token = EXCLUDED.refresh_token,
    expires_at = EXCLUDED.expires_at,
    updated_at = EXCLUDED.updated_at`,
		delete: `DELETE FROM oauth_credentials WHERE id = $1`,
	},
}

// SQLStore keeps one row per identifier in the oauth_credentials table.
type SQLStore struct {
	db      *sql.DB
	dialect Dialect
	q       queries
	sealer  *Sealer
}

// OpenSQLite opens (creating if needed) a SQLite database file and migrates it
func OpenSQLite(path string, sealer *Sealer) (*SQLStore, error) {
	if path == "" {
		return nil, errors.ConfigError("database path is required")
	}
	if sealer == nil {
		return nil, errors.ConfigError("sealer is required")
	}

	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open SQLite database: %w", err)
	}
	// SQLite serializes writers; one connection avoids "database is locked".
	db.SetMaxOpenConns(1)

	store, err := NewSQLStore(db, DialectSQLite, sealer)
	if err != nil {
		db.Close()
		return nil, err
	}
	return store, nil
}

// OpenPostgres connects to PostgreSQL through pgx's database/sql driver and migrates the schema
func OpenPostgres(ctx context.Context, dsn string, sealer *Sealer) (*SQLStore, error) {
	if sealer == nil {
		return nil, errors.ConfigError("sealer is required")
	}
	connConfig, err := pgx.ParseConfig(dsn)
	if err != nil {
		appErr := errors.ConfigError("invalid PostgreSQL connection string")
		appErr.Cause = err
		return nil, appErr
	}

	db := stdlib.OpenDB(*connConfig)
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, errors.ConnectionError("failed to connect to PostgreSQL database", err)
	}

	store, err := NewSQLStore(db, DialectPostgres, sealer)
	if err != nil {
		db.Close()
		return nil, err
	}
	return store, nil
}

// NewSQLStore wraps an open database and applies pending migrations.
func NewSQLStore(db *sql.DB, dialect Dialect, sealer *Sealer) (*SQLStore, error) {
	q, ok := dialectQueries[dialect]
	if !ok {
		return nil, errors.ConfigError(fmt.Sprintf("unsupported database dialect: %s", dialect))
	}
	if db == nil {
		return nil, errors.ConfigError("database handle is required")
	}
	if sealer == nil {
		return nil, errors.ConfigError("sealer is required")
	}

	store := &SQLStore{
		db:      db,
		dialect: dialect,
		q:       q,
		sealer:  sealer,
	}

	if err := store.migrate(); err != nil {
		return nil, errors.InternalError("failed to run migrations", err)
	}

	return store, nil
}

func (s *SQLStore) migrate() error {
	var (
		driver database.Driver
		err    error
	)

	switch s.dialect {
	case DialectSQLite:
		driver, err = sqlitemigrate.WithInstance(s.db, &sqlitemigrate.Config{})
	case DialectPostgres:
		driver, err = pgxmigrate.WithInstance(s.db, &pgxmigrate.Config{})
	}
	if err != nil {
		return err
	}

	source, err := iofs.New(migrations, "migrations/"+string(s.dialect))
	if err != nil {
		return err
	}

	instance, err := migrate.NewWithInstance("iofs", source, string(s.dialect), driver)
	if err != nil {
		return err
	}

	if err := instance.Up(); err != nil && !stderrors.Is(err, migrate.ErrNoChange) {
		return err
	}
	return nil
}

func (s *SQLStore) GetCredentials(ctx context.Context, id string) (*token.Record, error) {
	var r row
	err := s.db.QueryRowContext(ctx, s.q.get, id).Scan(&r.AccessToken, &r.RefreshToken, &r.ExpiresAt, &r.UpdatedAt)
	if stderrors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, errors.ConnectionError("failed to read credentials", err).WithContext("id", id)
	}

	return s.sealer.open(r)
}

func (s *SQLStore) SaveToken(ctx context.Context, id string, record *token.Record) error {
	now := time.Now()
	r, err := s.sealer.seal(record, now)
	if err != nil {
		return err
	}

	if _, err := s.db.ExecContext(ctx, s.q.upsert, id, r.AccessToken, r.RefreshToken, r.ExpiresAt, now.UTC()); err != nil {
		return errors.ConnectionError("failed to write credentials", err).WithContext("id", id)
	}
	return nil
}

func (s *SQLStore) DeleteToken(ctx context.Context, id string) error {
	if _, err := s.db.ExecContext(ctx, s.q.delete, id); err != nil {
		return errors.ConnectionError("failed to delete credentials", err).WithContext("id", id)
	}
	return nil
}

// Health pings the database
func (s *SQLStore) Health(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

func (s *SQLStore) Close() error {
	return s.db.Close()
}
