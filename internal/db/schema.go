package db

import (
	"fmt"
	"time"
)

// migrations is the ordered list of schema versions. Each entry is applied in
// its own transaction and recorded in schema_version, so a restart resumes
// where it left off.
var migrations = []struct {
	version    int
	statements []string
}{
	{
		version: 1,
		statements: []string{
			`CREATE TABLE IF NOT EXISTS sync_jobs (
				id TEXT PRIMARY KEY,
				source_id TEXT NOT NULL,
				source_name TEXT NOT NULL,
				streams TEXT NOT NULL,
				sync_mode TEXT NOT NULL,
				status TEXT NOT NULL,
				created_at TIMESTAMP NOT NULL,
				started_at TIMESTAMP,
				completed_at TIMESTAMP,
				records_synced INTEGER NOT NULL DEFAULT 0,
				error_message TEXT,
				stream_results TEXT
			)`,
			`CREATE INDEX IF NOT EXISTS idx_sync_jobs_status ON sync_jobs(status)`,
			`CREATE INDEX IF NOT EXISTS idx_sync_jobs_created_at ON sync_jobs(created_at)`,
			`CREATE TABLE IF NOT EXISTS schedules (
				id TEXT PRIMARY KEY,
				source_id TEXT NOT NULL,
				source_name TEXT NOT NULL,
				streams TEXT NOT NULL,
				sync_mode TEXT NOT NULL,
				cron_expression TEXT NOT NULL,
				enabled INTEGER NOT NULL DEFAULT 1,
				created_at TIMESTAMP NOT NULL,
				last_run_at TIMESTAMP,
				next_run_at TIMESTAMP,
				run_count INTEGER NOT NULL DEFAULT 0,
				disabled_reason TEXT NOT NULL DEFAULT ''
			)`,
			`CREATE TABLE IF NOT EXISTS stream_cursors (
				source_id TEXT NOT NULL,
				stream_name TEXT NOT NULL,
				cursor_value TEXT NOT NULL,
				last_synced_at TIMESTAMP NOT NULL,
				PRIMARY KEY (source_id, stream_name)
			)`,
		},
	},
}

// Migrate brings the schema up to the latest version.
func (db *DB) Migrate() error {
	if _, err := db.Exec(`CREATE TABLE IF NOT EXISTS schema_version (
		version INTEGER PRIMARY KEY,
		applied_at TIMESTAMP NOT NULL
	)`); err != nil {
		return fmt.Errorf("failed to create schema_version table: %w", err)
	}

	current, err := db.SchemaVersion()
	if err != nil {
		return err
	}

	for _, migration := range migrations {
		if migration.version <= current {
			continue
		}

		err := db.WithTransaction(func(tx *Tx) error {
			for _, stmt := range migration.statements {
				if _, err := tx.Exec(stmt); err != nil {
					return fmt.Errorf("migration %d failed: %w", migration.version, err)
				}
			}
			_, err := tx.Exec(`INSERT INTO schema_version (version, applied_at) VALUES (?, ?)`,
				migration.version, time.Now().UTC())
			return err
		})
		if err != nil {
			return err
		}
	}

	return nil
}

// SchemaVersion returns the highest applied migration version, 0 when none.
func (db *DB) SchemaVersion() (int, error) {
	var version int
	err := db.QueryRow(`SELECT COALESCE(MAX(version), 0) FROM schema_version`).Scan(&version)
	if err != nil {
		return 0, fmt.Errorf("failed to read schema version: %w", err)
	}
	return version, nil
}
