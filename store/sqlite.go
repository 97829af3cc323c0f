package store

import (
	"context"
	"database/sql"
	"embed"
	"fmt"
	"sync"

	"github.com/pressly/goose/v3"
	_ "modernc.org/sqlite" // pure-Go SQLite driver
)

//go:embed migrations/*.sql
var migrations embed.FS

// goose keeps its base FS and dialect in package globals.
var migrateMu sync.Mutex

// SQLiteStore persists the pair in an SQLite database so that it survives
// process restarts. Both tokens are written inside one transaction.
type SQLiteStore struct {
	db *sql.DB
}

// RunMigrations applies the embedded schema migrations to db.
func RunMigrations(ctx context.Context, db *sql.DB) error {
	migrateMu.Lock()
	defer migrateMu.Unlock()

	goose.SetBaseFS(migrations)
	defer goose.SetBaseFS(nil)

	if err := goose.SetDialect("sqlite3"); err != nil {
		return fmt.Errorf("failed to set goose dialect: %w", err)
	}
	if err := goose.UpContext(ctx, db, "migrations"); err != nil {
		return fmt.Errorf("failed to apply credential store migrations: %w", err)
	}
	return nil
}

// OpenSQLiteStore opens (or creates) the database at dsn and migrates it.
func OpenSQLiteStore(ctx context.Context, dsn string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open credential store: %w", err)
	}
	// a single connection serialises writers and keeps :memory: databases coherent
	db.SetMaxOpenConns(1)

	if err := RunMigrations(ctx, db); err != nil {
		_ = db.Close()
		return nil, err
	}
	return &SQLiteStore{db: db}, nil
}

func (s *SQLiteStore) Get(ctx context.Context) (Credentials, error) {
	var creds Credentials
	if s.db == nil {
		return creds, ErrStoreClosed
	}

	rows, err := s.db.QueryContext(ctx,
		`SELECT key, value FROM credentials WHERE key IN (?, ?)`,
		AccessTokenKey, RefreshTokenKey)
	if err != nil {
		return creds, fmt.Errorf("failed to read credentials: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var key, value string
		if err := rows.Scan(&key, &value); err != nil {
			return Credentials{}, fmt.Errorf("failed to scan credential row: %w", err)
		}
		switch key {
		case AccessTokenKey:
			creds.AccessToken = value
		case RefreshTokenKey:
			creds.RefreshToken = value
		}
	}
	if err := rows.Err(); err != nil {
		return Credentials{}, fmt.Errorf("failed to iterate credential rows: %w", err)
	}
	return creds, nil
}

func (s *SQLiteStore) Set(ctx context.Context, creds Credentials) error {
	if s.db == nil {
		return ErrStoreClosed
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin credential write: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	for _, kv := range [][2]string{
		{AccessTokenKey, creds.AccessToken},
		{RefreshTokenKey, creds.RefreshToken},
	} {
		if kv[1] == "" {
			if _, err := tx.ExecContext(ctx, `DELETE FROM credentials WHERE key = ?`, kv[0]); err != nil {
				return fmt.Errorf("failed to delete credentials[%s]: %w", kv[0], err)
			}
			continue
		}
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO credentials (key, value) VALUES (?, ?)
			ON CONFLICT(key) DO UPDATE SET value = excluded.value
		`, kv[0], kv[1]); err != nil {
			return fmt.Errorf("failed to set credentials[%s]: %w", kv[0], err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit credential write: %w", err)
	}
	return nil
}

func (s *SQLiteStore) Clear(ctx context.Context) error {
	if s.db == nil {
		return ErrStoreClosed
	}
	_, err := s.db.ExecContext(ctx,
		`DELETE FROM credentials WHERE key IN (?, ?)`,
		AccessTokenKey, RefreshTokenKey)
	if err != nil {
		return fmt.Errorf("failed to clear credentials: %w", err)
	}
	return nil
}

// Close releases the underlying database handle.
func (s *SQLiteStore) Close() error {
	if s.db == nil {
		return nil
	}
	err := s.db.Close()
	s.db = nil
	return err
}
