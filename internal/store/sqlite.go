package store

import (
	"database/sql"
	"errors"
	"fmt"
	"time"

	_ "modernc.org/sqlite"

	"github.com/lox/fairweather/internal/models"
)

// ErrNotFound is returned by lookups that address a single row by ID.
var ErrNotFound = errors.New("not found")

type Store struct {
	db *sql.DB
}

func New(db *sql.DB) *Store {
	return &Store{db: db}
}

// Open opens (or creates) the SQLite database at path with WAL enabled.
// ":memory:" is accepted for tests and one-off CLI runs.
func Open(path string) (*sql.DB, error) {
	dsn := path
	if path != ":memory:" {
		dsn = "file:" + path + "?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)"
	}
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open db: %w", err)
	}
	db.SetMaxOpenConns(1)
	return db, nil
}

func (s *Store) Close() error {
	return s.db.Close()
}

// UpsertRecords writes daily records for a location in one transaction and
// returns how many were written.
func (s *Store) UpsertRecords(locationKey, source string, records []models.DailyRecord, fetchedAt time.Time) (int, error) {
	tx, err := s.db.Begin()
	if err != nil {
		return 0, fmt.Errorf("begin: %w", err)
	}
	defer tx.Rollback()

	stmt, err := tx.Prepare(`
		INSERT INTO daily_records (location_key, date, temperature, max_temperature, min_temperature, precipitation, wind_speed, humidity, source, fetched_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(location_key, date) DO UPDATE SET
			temperature = excluded.temperature,
			max_temperature = excluded.max_temperature,
			min_temperature = excluded.min_temperature,
			precipitation = excluded.precipitation,
			wind_speed = excluded.wind_speed,
			humidity = excluded.humidity,
			source = excluded.source,
			fetched_at = excluded.fetched_at
	`)
	if err != nil {
		return 0, fmt.Errorf("prepare: %w", err)
	}
	defer stmt.Close()

	n := 0
	for _, r := range records {
		if _, err := stmt.Exec(locationKey, r.Date.Format(time.DateOnly), r.Temperature, r.MaxTemperature,
			r.MinTemperature, r.Precipitation, r.WindSpeed, r.Humidity, source, fetchedAt.UTC()); err != nil {
			return n, fmt.Errorf("insert %s: %w", r.Date.Format(time.DateOnly), err)
		}
		n++
	}
	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("commit: %w", err)
	}
	return n, nil
}

// GetRecords returns a location's records between start and end inclusive,
// ordered by date.
func (s *Store) GetRecords(locationKey string, start, end time.Time) ([]models.DailyRecord, error) {
	rows, err := s.db.Query(`
		SELECT date, temperature, max_temperature, min_temperature, precipitation, wind_speed, humidity
		FROM daily_records
		WHERE location_key = ? AND date >= ? AND date <= ?
		ORDER BY date
	`, locationKey, start.Format(time.DateOnly), end.Format(time.DateOnly))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var records []models.DailyRecord
	for rows.Next() {
		var r models.DailyRecord
		var date string
		if err := rows.Scan(&date, &r.Temperature, &r.MaxTemperature, &r.MinTemperature,
			&r.Precipitation, &r.WindSpeed, &r.Humidity); err != nil {
			return nil, err
		}
		if r.Date, err = time.Parse(time.DateOnly, date); err != nil {
			return nil, fmt.Errorf("parse date %q: %w", date, err)
		}
		records = append(records, r)
	}
	return records, rows.Err()
}

// Coverage records which span of dates has been fetched for a location, so
// a cache hit can be told apart from a location with partial data.
type Coverage struct {
	LocationKey string
	Location    models.Location
	Start       time.Time
	End         time.Time
	RecordCount int
	Source      string
	FetchedAt   time.Time
}

// Covers reports whether c spans [start, end] and is younger than maxAge.
func (c *Coverage) Covers(start, end, now time.Time, maxAge time.Duration) bool {
	if c == nil {
		return false
	}
	if c.Start.After(start) || c.End.Before(end) {
		return false
	}
	return maxAge <= 0 || now.Sub(c.FetchedAt) <= maxAge
}

func (s *Store) UpsertCoverage(c Coverage) error {
	_, err := s.db.Exec(`
		INSERT INTO record_coverage (location_key, latitude, longitude, start_date, end_date, record_count, source, fetched_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(location_key) DO UPDATE SET
			latitude = excluded.latitude,
			longitude = excluded.longitude,
			start_date = excluded.start_date,
			end_date = excluded.end_date,
			record_count = excluded.record_count,
			source = excluded.source,
			fetched_at = excluded.fetched_at
	`, c.LocationKey, c.Location.Latitude, c.Location.Longitude, c.Start.Format(time.DateOnly),
		c.End.Format(time.DateOnly), c.RecordCount, c.Source, c.FetchedAt.UTC())
	return err
}

// GetCoverage returns nil, nil when the location has never been fetched.
func (s *Store) GetCoverage(locationKey string) (*Coverage, error) {
	row := s.db.QueryRow(`
		SELECT location_key, latitude, longitude, start_date, end_date, record_count, source, fetched_at
		FROM record_coverage WHERE location_key = ?
	`, locationKey)

	var c Coverage
	var start, end string
	err := row.Scan(&c.LocationKey, &c.Location.Latitude, &c.Location.Longitude, &start, &end,
		&c.RecordCount, &c.Source, &c.FetchedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	if c.Start, err = time.Parse(time.DateOnly, start); err != nil {
		return nil, fmt.Errorf("parse start %q: %w", start, err)
	}
	if c.End, err = time.Parse(time.DateOnly, end); err != nil {
		return nil, fmt.Errorf("parse end %q: %w", end, err)
	}
	return &c, nil
}

// ListCoverage returns every cached location, most recently fetched first.
func (s *Store) ListCoverage() ([]Coverage, error) {
	rows, err := s.db.Query(`
		SELECT location_key, latitude, longitude, start_date, end_date, record_count, source, fetched_at
		FROM record_coverage ORDER BY fetched_at DESC
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Coverage
	for rows.Next() {
		var c Coverage
		var start, end string
		if err := rows.Scan(&c.LocationKey, &c.Location.Latitude, &c.Location.Longitude, &start, &end,
			&c.RecordCount, &c.Source, &c.FetchedAt); err != nil {
			return nil, err
		}
		c.Start, _ = time.Parse(time.DateOnly, start)
		c.End, _ = time.Parse(time.DateOnly, end)
		out = append(out, c)
	}
	return out, rows.Err()
}
