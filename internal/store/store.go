// Package store is the durable record of projects, sessions, usage and
// in-flight operations, backed by a single-file SQLite database.
package store

import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"

	apperrors "github.com/loomdev/loom/internal/errors"
	"github.com/loomdev/loom/internal/logger"
)

// Store wraps the SQLite database. Writes go through a single-connection
// writer handle; reads use a small pool.
type Store struct {
	writer *sql.DB
	reader *sql.DB
}

// Open opens (creating if needed) the database at dbPath and applies
// migrations in order. Migration failure is a fatal data error.
func Open(dbPath string) (*Store, error) {
	const op = apperrors.Op("store.Open")

	if err := os.MkdirAll(filepath.Dir(dbPath), 0o755); err != nil {
		return nil, apperrors.E(op, apperrors.KindEnvironment, "failed to create database directory", err)
	}

	dsn := dbPath + "?_pragma=foreign_keys(1)&_pragma=journal_mode(WAL)&_pragma=synchronous(NORMAL)&_pragma=busy_timeout(5000)"

	writer, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, apperrors.E(op, apperrors.KindData, "failed to open database", err)
	}
	// SQLite supports one writer at a time.
	writer.SetMaxOpenConns(1)
	writer.SetMaxIdleConns(1)
	writer.SetConnMaxLifetime(time.Hour)

	reader, err := sql.Open("sqlite", dsn)
	if err != nil {
		_ = writer.Close()
		return nil, apperrors.E(op, apperrors.KindData, "failed to open read pool", err)
	}
	reader.SetMaxOpenConns(4)

	s := &Store{writer: writer, reader: reader}
	if err := s.migrate(); err != nil {
		_ = writer.Close()
		_ = reader.Close()
		return nil, apperrors.E(op, apperrors.KindData, "failed to run migrations", err)
	}
	return s, nil
}

// Close closes both database handles.
func (s *Store) Close() error {
	rerr := s.reader.Close()
	werr := s.writer.Close()
	if werr != nil {
		return werr
	}
	return rerr
}

// migrate applies any unapplied migrations in order, recording each in
// schema_migrations.
func (s *Store) migrate() error {
	if _, err := s.writer.Exec(`
		CREATE TABLE IF NOT EXISTS schema_migrations (
			version INTEGER PRIMARY KEY,
			applied_at INTEGER NOT NULL DEFAULT (strftime('%s','now'))
		)`); err != nil {
		return fmt.Errorf("create schema_migrations: %w", err)
	}

	var current int
	if err := s.writer.QueryRow(`SELECT COALESCE(MAX(version), 0) FROM schema_migrations`).Scan(&current); err != nil {
		return fmt.Errorf("read schema version: %w", err)
	}

	for _, m := range migrations {
		if m.version <= current {
			continue
		}
		logger.Info("Store: applying migration %d", m.version)
		tx, err := s.writer.Begin()
		if err != nil {
			return fmt.Errorf("migration %d: begin: %w", m.version, err)
		}
		if _, err := tx.Exec(m.sql); err != nil {
			_ = tx.Rollback()
			return fmt.Errorf("migration %d: %w", m.version, err)
		}
		if _, err := tx.Exec(`INSERT INTO schema_migrations (version) VALUES (?)`, m.version); err != nil {
			_ = tx.Rollback()
			return fmt.Errorf("migration %d: record: %w", m.version, err)
		}
		if err := tx.Commit(); err != nil {
			return fmt.Errorf("migration %d: commit: %w", m.version, err)
		}
	}
	return nil
}
