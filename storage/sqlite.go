package storage

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"go.uber.org/zap"
	_ "modernc.org/sqlite"
)

// SQLite holds the SQLite database connections. Reads and writes use separate
// pools so WAL mode's concurrent readers are not serialized behind the single
// writer.
type SQLite struct {
	DB     *sql.DB // write pool, MaxOpenConns=1 (WAL single writer)
	ReadDB *sql.DB // read pool
	Path   string
	Logger *zap.SugaredLogger
}

// configureConnection applies the standard SQLite settings: WAL journal mode,
// foreign key enforcement, and a busy timeout.
func configureConnection(db *sql.DB, dbPath string) error {
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		return fmt.Errorf("failed to enable WAL mode: %w", err)
	}

	// SQLite disables foreign keys by default; the delete guards depend on them.
	if _, err := db.Exec("PRAGMA foreign_keys=ON"); err != nil {
		return fmt.Errorf("failed to enable foreign keys: %w", err)
	}
	var fkEnabled int
	if err := db.QueryRow("PRAGMA foreign_keys").Scan(&fkEnabled); err != nil {
		return fmt.Errorf("failed to verify foreign keys: %w", err)
	}
	if fkEnabled != 1 {
		return fmt.Errorf("foreign keys not enabled (got: %d)", fkEnabled)
	}

	if _, err := db.Exec("PRAGMA busy_timeout=5000"); err != nil {
		return fmt.Errorf("failed to set busy timeout: %w", err)
	}

	if err := db.Ping(); err != nil {
		return fmt.Errorf("failed to ping SQLite database: %w", err)
	}

	return nil
}

// NewSQLite opens the database, configures both pools, and creates the schema.
func NewSQLite(dbPath string, logger *zap.SugaredLogger) (*SQLite, error) {
	dir := filepath.Dir(dbPath)
	if dbPath != ":memory:" && dir != "." && dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("failed to create database directory: %w", err)
		}
	}

	// In-memory databases need shared cache so both pools see the same data.
	actualPath := dbPath
	if dbPath == ":memory:" {
		actualPath = "file::memory:?cache=shared"
	}

	writeDB, err := sql.Open("sqlite", actualPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open SQLite write database: %w", err)
	}
	if err := configureConnection(writeDB, dbPath); err != nil {
		_ = writeDB.Close()
		return nil, fmt.Errorf("failed to configure write connection: %w", err)
	}
	writeDB.SetMaxOpenConns(1)
	writeDB.SetMaxIdleConns(1)
	writeDB.SetConnMaxLifetime(0)

	readDB, err := sql.Open("sqlite", actualPath)
	if err != nil {
		_ = writeDB.Close()
		return nil, fmt.Errorf("failed to open SQLite read database: %w", err)
	}
	if err := configureConnection(readDB, dbPath); err != nil {
		_ = writeDB.Close()
		_ = readDB.Close()
		return nil, fmt.Errorf("failed to configure read connection: %w", err)
	}
	readDB.SetMaxOpenConns(10)
	readDB.SetMaxIdleConns(5)
	readDB.SetConnMaxLifetime(5 * time.Minute)

	sqlite := &SQLite{
		DB:     writeDB,
		ReadDB: readDB,
		Path:   dbPath,
		Logger: logger,
	}

	if err := sqlite.createTables(); err != nil {
		_ = writeDB.Close()
		_ = readDB.Close()
		return nil, fmt.Errorf("failed to create tables: %w", err)
	}

	logger.Infow("SQLite database initialized", "path", dbPath)
	return sqlite, nil
}

// createTables creates the schema if it does not exist.
func (s *SQLite) createTables() error {
	schema := `
	CREATE TABLE IF NOT EXISTS users (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		username TEXT NOT NULL UNIQUE,
		apikey TEXT NOT NULL UNIQUE,
		active INTEGER NOT NULL DEFAULT 1
	);

	-- Lookup tables, resolved by unique value.
	CREATE TABLE IF NOT EXISTS indicator_types (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		value TEXT NOT NULL UNIQUE
	);
	CREATE TABLE IF NOT EXISTS indicator_confidences (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		value TEXT NOT NULL UNIQUE
	);
	CREATE TABLE IF NOT EXISTS indicator_impacts (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		value TEXT NOT NULL UNIQUE
	);
	CREATE TABLE IF NOT EXISTS indicator_statuses (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		value TEXT NOT NULL UNIQUE
	);
	CREATE TABLE IF NOT EXISTS tags (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		value TEXT NOT NULL UNIQUE
	);
	CREATE TABLE IF NOT EXISTS intel_sources (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		value TEXT NOT NULL UNIQUE
	);

	CREATE TABLE IF NOT EXISTS campaigns (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		name TEXT NOT NULL UNIQUE,
		created_time DATETIME NOT NULL,
		modified_time DATETIME NOT NULL
	);

	CREATE TABLE IF NOT EXISTS intel_references (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		reference TEXT NOT NULL,
		intel_source_id INTEGER NOT NULL REFERENCES intel_sources(id),
		user_id INTEGER NOT NULL REFERENCES users(id),
		UNIQUE (reference, intel_source_id)
	);
	CREATE INDEX IF NOT EXISTS idx_intel_references_source ON intel_references(intel_source_id);

	CREATE TABLE IF NOT EXISTS indicators (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		type_id INTEGER NOT NULL REFERENCES indicator_types(id),
		confidence_id INTEGER NOT NULL REFERENCES indicator_confidences(id),
		impact_id INTEGER NOT NULL REFERENCES indicator_impacts(id),
		status_id INTEGER NOT NULL REFERENCES indicator_statuses(id),
		user_id INTEGER NOT NULL REFERENCES users(id),
		value TEXT NOT NULL,
		case_sensitive INTEGER NOT NULL DEFAULT 0,
		substring INTEGER NOT NULL DEFAULT 0,
		created_time DATETIME NOT NULL,
		modified_time DATETIME NOT NULL
	);
	CREATE UNIQUE INDEX IF NOT EXISTS idx_indicators_type_value ON indicators(type_id, value);
	CREATE INDEX IF NOT EXISTS idx_indicators_created_time ON indicators(created_time);
	CREATE INDEX IF NOT EXISTS idx_indicators_modified_time ON indicators(modified_time);

	-- Association tables. The indicator side cascades so deleting an indicator
	-- removes its associations but never the related entities.
	CREATE TABLE IF NOT EXISTS indicator_campaigns (
		indicator_id INTEGER NOT NULL REFERENCES indicators(id) ON DELETE CASCADE,
		campaign_id INTEGER NOT NULL REFERENCES campaigns(id),
		PRIMARY KEY (indicator_id, campaign_id)
	);
	CREATE INDEX IF NOT EXISTS idx_indicator_campaigns_campaign ON indicator_campaigns(campaign_id);

	CREATE TABLE IF NOT EXISTS indicator_tags (
		indicator_id INTEGER NOT NULL REFERENCES indicators(id) ON DELETE CASCADE,
		tag_id INTEGER NOT NULL REFERENCES tags(id),
		PRIMARY KEY (indicator_id, tag_id)
	);
	CREATE INDEX IF NOT EXISTS idx_indicator_tags_tag ON indicator_tags(tag_id);

	CREATE TABLE IF NOT EXISTS indicator_references (
		indicator_id INTEGER NOT NULL REFERENCES indicators(id) ON DELETE CASCADE,
		intel_reference_id INTEGER NOT NULL REFERENCES intel_references(id),
		PRIMARY KEY (indicator_id, intel_reference_id)
	);
	CREATE INDEX IF NOT EXISTS idx_indicator_references_reference ON indicator_references(intel_reference_id);
	`

	if _, err := s.DB.Exec(schema); err != nil {
		return fmt.Errorf("failed to create schema: %w", err)
	}
	return nil
}

// WithTransaction runs fn inside a transaction on the write pool, rolling
// back on error or panic and committing otherwise.
func (s *SQLite) WithTransaction(ctx context.Context, fn func(tx *sql.Tx) error) error {
	tx, err := s.DB.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}

	defer func() {
		if p := recover(); p != nil {
			_ = tx.Rollback()
			panic(p)
		}
	}()

	if err := fn(tx); err != nil {
		_ = tx.Rollback()
		return err
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("transaction commit failed: %w", err)
	}
	return nil
}

// Close closes both connection pools.
func (s *SQLite) Close() error {
	var firstErr error
	if err := s.DB.Close(); err != nil {
		firstErr = err
	}
	if err := s.ReadDB.Close(); err != nil && firstErr == nil {
		firstErr = err
	}
	return firstErr
}
