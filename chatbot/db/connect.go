// Package db opens the embedded libsql database that backs durable conversation history.
package db

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"

	"github.com/rs/zerolog"
	_ "github.com/tursodatabase/go-libsql"
)

// DriverName is the database/sql driver registered by go-libsql.
const DriverName = "libsql"

// LibSQLEmbeddedConfig holds configuration for embedded libsql connections
type LibSQLEmbeddedConfig struct {
	DatabasePath string // Path to .db file, ":memory:" for a throwaway database
	Logger       zerolog.Logger
}

func ConnectToDB(path string, logger zerolog.Logger) (*sql.DB, error) {
	return ConnectToDBWithConfig(&LibSQLEmbeddedConfig{DatabasePath: path, Logger: logger})
}

func ConnectToDBWithConfig(config *LibSQLEmbeddedConfig) (*sql.DB, error) {
	logger := config.Logger.With().Str("component", "db").Logger()

	var dsn string
	if config.DatabasePath == ":memory:" {
		dsn = "file::memory:?cache=shared"
	} else {
		dir := filepath.Dir(config.DatabasePath)
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("could not create database directory %s: %w", dir, err)
		}

		if _, err := os.Stat(config.DatabasePath); os.IsNotExist(err) {
			logger.Info().Str("path", config.DatabasePath).Msg("Database not found, creating a new one")
			file, err := os.Create(config.DatabasePath)
			if err != nil {
				return nil, fmt.Errorf("could not create db at path %s: %w", config.DatabasePath, err)
			}
			file.Close()
		}

		dsn = fmt.Sprintf("file:%s?_foreign_keys=1&_journal_mode=WAL&_synchronous=NORMAL&_temp_store=memory",
			config.DatabasePath)
	}

	logger.Info().Str("dsn", dsn).Msg("Connecting to embedded libsql")

	db, err := sql.Open(DriverName, dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open libsql connection: %w", err)
	}

	if err := verify(db); err != nil {
		db.Close()
		return nil, err
	}

	// Foreign keys are per-connection in SQLite; a single writer keeps cascades reliable.
	db.SetMaxOpenConns(1)
	if _, err := db.Exec("PRAGMA foreign_keys = ON"); err != nil {
		logger.Warn().Err(err).Msg("Could not enable foreign keys")
	}

	return db, nil
}

func verify(db *sql.DB) error {
	var result int
	if err := db.QueryRowContext(context.Background(), "SELECT 1").Scan(&result); err != nil {
		return fmt.Errorf("basic connectivity test failed: %w", err)
	}
	if result != 1 {
		return fmt.Errorf("basic connectivity test failed: unexpected result %d", result)
	}
	return nil
}
