package store

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/lox/fairweather/internal/models"
)

// AnalysisRecord is one stored analysis. Result holds the full JSON body as
// returned to the caller.
type AnalysisRecord struct {
	ID        string
	CreatedAt time.Time
	Location  models.Location
	Date      string
	Path      string
	Strategy  string
	Preset    string
	Score     float64
	Result    json.RawMessage
}

// SaveAnalysis stores rec, assigning a new ID when it has none, and returns
// the ID.
func (s *Store) SaveAnalysis(rec AnalysisRecord) (string, error) {
	if rec.ID == "" {
		rec.ID = uuid.NewString()
	}
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = time.Now()
	}
	var preset sql.NullString
	if rec.Preset != "" {
		preset = sql.NullString{String: rec.Preset, Valid: true}
	}

	_, err := s.db.Exec(`
		INSERT INTO analyses (id, created_at, latitude, longitude, date, path, strategy, preset, score, result_json)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, rec.ID, rec.CreatedAt.UTC(), rec.Location.Latitude, rec.Location.Longitude, rec.Date,
		rec.Path, rec.Strategy, preset, rec.Score, string(rec.Result))
	if err != nil {
		return "", fmt.Errorf("insert analysis: %w", err)
	}
	return rec.ID, nil
}

// GetAnalysis returns ErrNotFound for unknown IDs.
func (s *Store) GetAnalysis(id string) (*AnalysisRecord, error) {
	row := s.db.QueryRow(`
		SELECT id, created_at, latitude, longitude, date, path, strategy, preset, score, result_json
		FROM analyses WHERE id = ?
	`, id)
	rec, err := scanAnalysis(row)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("analysis %s: %w", id, ErrNotFound)
	}
	if err != nil {
		return nil, err
	}
	return rec, nil
}

// RecentAnalyses returns the newest analyses first.
func (s *Store) RecentAnalyses(limit int) ([]AnalysisRecord, error) {
	rows, err := s.db.Query(`
		SELECT id, created_at, latitude, longitude, date, path, strategy, preset, score, result_json
		FROM analyses ORDER BY created_at DESC LIMIT ?
	`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []AnalysisRecord
	for rows.Next() {
		rec, err := scanAnalysis(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *rec)
	}
	return out, rows.Err()
}

// AnalysisCounts returns how many analyses took each path.
func (s *Store) AnalysisCounts() (map[string]int, error) {
	rows, err := s.db.Query(`SELECT path, COUNT(*) FROM analyses GROUP BY path`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	counts := make(map[string]int)
	for rows.Next() {
		var path string
		var n int
		if err := rows.Scan(&path, &n); err != nil {
			return nil, err
		}
		counts[path] = n
	}
	return counts, rows.Err()
}

type scanner interface {
	Scan(dest ...any) error
}

func scanAnalysis(row scanner) (*AnalysisRecord, error) {
	var rec AnalysisRecord
	var preset sql.NullString
	var result string
	if err := row.Scan(&rec.ID, &rec.CreatedAt, &rec.Location.Latitude, &rec.Location.Longitude,
		&rec.Date, &rec.Path, &rec.Strategy, &preset, &rec.Score, &result); err != nil {
		return nil, err
	}
	rec.Preset = preset.String
	rec.Result = json.RawMessage(result)
	return &rec, nil
}

// PutAirQuality caches the latest reading for a location.
func (s *Store) PutAirQuality(locationKey string, aq models.AirQuality, fetchedAt time.Time) error {
	payload, err := json.Marshal(aq)
	if err != nil {
		return fmt.Errorf("marshal air quality: %w", err)
	}
	_, err = s.db.Exec(`
		INSERT INTO air_quality (location_key, fetched_at, aqi, payload_json)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(location_key) DO UPDATE SET
			fetched_at = excluded.fetched_at,
			aqi = excluded.aqi,
			payload_json = excluded.payload_json
	`, locationKey, fetchedAt.UTC(), aq.AQI, string(payload))
	return err
}

// GetAirQuality returns the cached reading if it is no older than maxAge at
// now, or nil, nil.
func (s *Store) GetAirQuality(locationKey string, now time.Time, maxAge time.Duration) (*models.AirQuality, error) {
	var fetchedAt time.Time
	var payload string
	err := s.db.QueryRow(`SELECT fetched_at, payload_json FROM air_quality WHERE location_key = ?`, locationKey).
		Scan(&fetchedAt, &payload)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	if now.Sub(fetchedAt) > maxAge {
		return nil, nil
	}
	var aq models.AirQuality
	if err := json.Unmarshal([]byte(payload), &aq); err != nil {
		return nil, fmt.Errorf("unmarshal air quality: %w", err)
	}
	return &aq, nil
}
