package store

import (
	"database/sql"
	"fmt"
	"log"
	"time"
)

// migration is one schema step. Versions must be increasing; applied steps
// are never edited.
type migration struct {
	Version     int
	Description string
	SQL         string
}

var migrations = []migration{
	{
		Version:     1,
		Description: "Initial schema",
		SQL: `
CREATE TABLE IF NOT EXISTS daily_records (
    location_key TEXT NOT NULL,
    date TEXT NOT NULL,
    temperature REAL NOT NULL,
    max_temperature REAL NOT NULL,
    min_temperature REAL NOT NULL,
    precipitation REAL NOT NULL,
    wind_speed REAL NOT NULL,
    humidity REAL NOT NULL,
    source TEXT NOT NULL,
    fetched_at DATETIME NOT NULL,
    PRIMARY KEY (location_key, date)
);

CREATE TABLE IF NOT EXISTS record_coverage (
    location_key TEXT PRIMARY KEY,
    latitude REAL NOT NULL,
    longitude REAL NOT NULL,
    start_date TEXT NOT NULL,
    end_date TEXT NOT NULL,
    record_count INTEGER NOT NULL,
    source TEXT NOT NULL,
    fetched_at DATETIME NOT NULL
);

CREATE TABLE IF NOT EXISTS ingest_runs (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    started_at DATETIME NOT NULL,
    finished_at DATETIME,
    source TEXT NOT NULL,
    endpoint TEXT NOT NULL,
    location_key TEXT,
    http_status INTEGER,
    response_size_bytes INTEGER,
    records_parsed INTEGER,
    records_stored INTEGER,
    records_rejected INTEGER,
    parse_errors INTEGER,
    success BOOLEAN NOT NULL DEFAULT FALSE,
    error_message TEXT
);

CREATE INDEX IF NOT EXISTS idx_ingest_runs_started ON ingest_runs(started_at);

CREATE TABLE IF NOT EXISTS raw_payloads (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    ingest_run_id INTEGER REFERENCES ingest_runs(id),
    fetched_at DATETIME NOT NULL,
    source TEXT NOT NULL,
    endpoint TEXT NOT NULL,
    location_key TEXT,
    payload_compressed BLOB NOT NULL,
    payload_hash TEXT NOT NULL UNIQUE,
    schema_version INTEGER NOT NULL DEFAULT 1
);
`,
	},
	{
		Version:     2,
		Description: "Add analyses log",
		SQL: `
CREATE TABLE IF NOT EXISTS analyses (
    id TEXT PRIMARY KEY,
    created_at DATETIME NOT NULL,
    latitude REAL NOT NULL,
    longitude REAL NOT NULL,
    date TEXT NOT NULL,
    path TEXT NOT NULL,
    strategy TEXT NOT NULL,
    preset TEXT,
    score REAL NOT NULL,
    result_json TEXT NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_analyses_created ON analyses(created_at);
`,
	},
	{
		Version:     3,
		Description: "Add air quality cache",
		SQL: `
CREATE TABLE IF NOT EXISTS air_quality (
    location_key TEXT PRIMARY KEY,
    fetched_at DATETIME NOT NULL,
    aqi INTEGER NOT NULL,
    payload_json TEXT NOT NULL
);
`,
	},
	{
		Version:     4,
		Description: "Index raw payloads for replay",
		SQL: `
CREATE INDEX IF NOT EXISTS idx_raw_payloads_location ON raw_payloads(source, location_key, fetched_at);
`,
	},
}

// Migrate applies every migration newer than the recorded schema version,
// each in its own transaction.
func (s *Store) Migrate() error {
	if _, err := s.db.Exec(`CREATE TABLE IF NOT EXISTS schema_migrations (
		version INTEGER PRIMARY KEY,
		description TEXT,
		applied_at DATETIME
	)`); err != nil {
		return fmt.Errorf("ensure migrations table: %w", err)
	}

	current, err := s.MigrationVersion()
	if err != nil {
		return fmt.Errorf("read schema version: %w", err)
	}
	for _, m := range migrations {
		if m.Version <= current {
			continue
		}
		log.Printf("migrations: applying %d - %s", m.Version, m.Description)
		if err := s.apply(m); err != nil {
			return fmt.Errorf("migration %d: %w", m.Version, err)
		}
	}
	return nil
}

func (s *Store) apply(m migration) (err error) {
	tx, err := s.db.Begin()
	if err != nil {
		return err
	}
	defer func() {
		if err != nil {
			tx.Rollback()
		}
	}()

	if _, err = tx.Exec(m.SQL); err != nil {
		return err
	}
	if _, err = tx.Exec(`INSERT INTO schema_migrations (version, description, applied_at) VALUES (?, ?, ?)`,
		m.Version, m.Description, time.Now().UTC()); err != nil {
		return err
	}
	return tx.Commit()
}

// MigrationVersion is the highest applied migration, or 0 on a new database.
func (s *Store) MigrationVersion() (int, error) {
	var version sql.NullInt64
	if err := s.db.QueryRow(`SELECT MAX(version) FROM schema_migrations`).Scan(&version); err != nil {
		return 0, err
	}
	return int(version.Int64), nil
}
