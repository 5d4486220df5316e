// Package db provides database schema migration management.
package db

import (
	"database/sql"
	"fmt"
	"time"
)

// migration is one versioned schema change applied in order.
type migration struct {
	Version     int
	Description string
	SQL         string
}

// migrations is the ordered list of schema changes. Append only.
var migrations = []migration{
	{
		Version:     1,
		Description: "settings key/value store",
		SQL: `
		CREATE TABLE IF NOT EXISTS settings (
			key TEXT PRIMARY KEY CHECK(length(key) > 0),
			value TEXT NOT NULL,
			updated_at INTEGER NOT NULL
		);`,
	},
	{
		Version:     2,
		Description: "pending operation queue",
		SQL: `
		CREATE TABLE IF NOT EXISTS pending_operations (
			position INTEGER PRIMARY KEY AUTOINCREMENT,
			id TEXT NOT NULL UNIQUE,
			payload TEXT NOT NULL,
			created_at INTEGER NOT NULL
		);`,
	},
	{
		Version:     3,
		Description: "conflict log",
		SQL: `
		CREATE TABLE IF NOT EXISTS conflict_log (
			id TEXT PRIMARY KEY,
			item_key TEXT NOT NULL,
			kind TEXT NOT NULL,
			local_timestamp INTEGER NOT NULL,
			remote_timestamp INTEGER NOT NULL,
			resolution TEXT NOT NULL,
			detected_at INTEGER NOT NULL
		);`,
	},
}

// Migrate applies all pending migrations.
func Migrate(db *DB) error {
	if err := initMigrations(db.DB); err != nil {
		return fmt.Errorf("failed to initialize migrations table: %w", err)
	}

	current, err := currentVersion(db.DB)
	if err != nil {
		return fmt.Errorf("failed to read schema version: %w", err)
	}

	for _, m := range migrations {
		if m.Version <= current {
			continue
		}
		if err := apply(db.DB, m); err != nil {
			return fmt.Errorf("migration V%d (%s) failed: %w", m.Version, m.Description, err)
		}
	}
	return nil
}

func initMigrations(db *sql.DB) error {
	query := `
	CREATE TABLE IF NOT EXISTS schema_migrations (
		version INTEGER PRIMARY KEY CHECK(version > 0),
		applied_at INTEGER NOT NULL CHECK(applied_at > 0),
		description TEXT NOT NULL CHECK(length(description) > 0)
	);`
	_, err := db.Exec(query)
	return err
}

func currentVersion(db *sql.DB) (int, error) {
	var version int
	err := db.QueryRow("SELECT COALESCE(MAX(version), 0) FROM schema_migrations").Scan(&version)
	return version, err
}

func apply(db *sql.DB, m migration) error {
	tx, err := db.Begin()
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if _, err := tx.Exec(m.SQL); err != nil {
		return err
	}
	if _, err := tx.Exec(
		"INSERT INTO schema_migrations (version, applied_at, description) VALUES (?, ?, ?)",
		m.Version, time.Now().Unix(), m.Description,
	); err != nil {
		return err
	}
	return tx.Commit()
}
