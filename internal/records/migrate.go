package records

import (
	"database/sql"
	"fmt"
)

// SchemaVersion is the latest schema version the migrator produces.
const SchemaVersion = 1

// Migrate ensures the donations schema exists at SchemaVersion.
func Migrate(db *sql.DB) error {
	if db == nil {
		return fmt.Errorf("migrate: db is nil")
	}

	_, err := db.Exec(`CREATE TABLE IF NOT EXISTS schema_migrations (version INTEGER PRIMARY KEY);`)
	if err != nil {
		return fmt.Errorf("migrate: create schema_migrations: %w", err)
	}

	var current int
	err = db.QueryRow(`SELECT COALESCE(MAX(version), 0) FROM schema_migrations;`).Scan(&current)
	if err != nil {
		return fmt.Errorf("migrate: read current version: %w", err)
	}
	if current >= SchemaVersion {
		return nil
	}

	tx, err := db.Begin()
	if err != nil {
		return fmt.Errorf("migrate: begin transaction: %w", err)
	}
	defer func() {
		_ = tx.Rollback()
	}()

	_, err = tx.Exec(`
		CREATE TABLE IF NOT EXISTS donations (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			category TEXT NOT NULL,
			item_name TEXT NOT NULL,
			estimated_weight_lbs REAL NULL,
			estimated_expiry TEXT NULL,
			timestamp TEXT NOT NULL,
			image_path TEXT NULL,
			donor_id TEXT NULL
		);
	`)
	if err != nil {
		return fmt.Errorf("migrate: create donations table: %w", err)
	}

	_, err = tx.Exec(`CREATE INDEX IF NOT EXISTS idx_donations_category ON donations(category);`)
	if err != nil {
		return fmt.Errorf("migrate: create idx_donations_category: %w", err)
	}

	_, err = tx.Exec(`CREATE INDEX IF NOT EXISTS idx_donations_timestamp ON donations(timestamp);`)
	if err != nil {
		return fmt.Errorf("migrate: create idx_donations_timestamp: %w", err)
	}

	_, err = tx.Exec(`INSERT INTO schema_migrations(version) VALUES (?);`, SchemaVersion)
	if err != nil {
		return fmt.Errorf("migrate: record schema version: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("migrate: commit transaction: %w", err)
	}
	return nil
}
