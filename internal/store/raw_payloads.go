package store

import (
	"bytes"
	"compress/gzip"
	"crypto/sha256"
	"database/sql"
	"encoding/hex"
	"fmt"
	"io"
	"time"
)

// RawPayload is an archived provider response with its body decompressed.
type RawPayload struct {
	ID          int64
	IngestRunID sql.NullInt64
	FetchedAt   time.Time
	Source      string
	Endpoint    string
	LocationKey sql.NullString
	Body        []byte
	Hash        string
}

// StoreRawPayload gzips and archives a provider response. Bodies are keyed
// by SHA-256, so re-fetching an unchanged span stores nothing and returns 0.
func (s *Store) StoreRawPayload(runID *int64, source, endpoint string, locationKey *string, payload []byte, fetchedAt time.Time) (int64, error) {
	compressed, err := gzipBytes(payload)
	if err != nil {
		return 0, err
	}
	sum := sha256.Sum256(payload)

	var run sql.NullInt64
	if runID != nil {
		run = sql.NullInt64{Int64: *runID, Valid: true}
	}
	var key sql.NullString
	if locationKey != nil {
		key = sql.NullString{String: *locationKey, Valid: true}
	}

	result, err := s.db.Exec(`
		INSERT INTO raw_payloads
		(ingest_run_id, fetched_at, source, endpoint, location_key, payload_compressed, payload_hash)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(payload_hash) DO NOTHING
	`, run, fetchedAt.UTC(), source, endpoint, key, compressed, hex.EncodeToString(sum[:]))
	if err != nil {
		return 0, fmt.Errorf("insert raw payload: %w", err)
	}
	if n, err := result.RowsAffected(); err != nil || n == 0 {
		return 0, err
	}
	return result.LastInsertId()
}

// GetRawPayload returns the decompressed body of payload id.
func (s *Store) GetRawPayload(id int64) ([]byte, error) {
	var compressed []byte
	err := s.db.QueryRow(`SELECT payload_compressed FROM raw_payloads WHERE id = ?`, id).Scan(&compressed)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("raw payload %d: %w", id, ErrNotFound)
	}
	if err != nil {
		return nil, err
	}
	return gunzipBytes(compressed)
}

// LatestRawPayload returns the newest archived response from source for a
// location, or ErrNotFound.
func (s *Store) LatestRawPayload(source, locationKey string) (*RawPayload, error) {
	row := s.db.QueryRow(`
		SELECT id, ingest_run_id, fetched_at, source, endpoint, location_key, payload_compressed, payload_hash
		FROM raw_payloads
		WHERE source = ? AND location_key = ?
		ORDER BY fetched_at DESC, id DESC
		LIMIT 1
	`, source, locationKey)

	var p RawPayload
	var compressed []byte
	err := row.Scan(&p.ID, &p.IngestRunID, &p.FetchedAt, &p.Source, &p.Endpoint, &p.LocationKey, &compressed, &p.Hash)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("raw payload %s %s: %w", source, locationKey, ErrNotFound)
	}
	if err != nil {
		return nil, err
	}
	if p.Body, err = gunzipBytes(compressed); err != nil {
		return nil, err
	}
	return &p, nil
}

// RawPayloadStats summarises the payload archive.
type RawPayloadStats struct {
	TotalCount      int              `json:"total_count"`
	TotalSizeBytes  int64            `json:"total_size_bytes"`
	OldestFetchedAt time.Time        `json:"oldest_fetched_at"`
	NewestFetchedAt time.Time        `json:"newest_fetched_at"`
	CountBySource   map[string]int   `json:"count_by_source"`
	SizeBySource    map[string]int64 `json:"size_by_source"`
}

func (s *Store) GetRawPayloadStats() (*RawPayloadStats, error) {
	stats := &RawPayloadStats{
		CountBySource: make(map[string]int),
		SizeBySource:  make(map[string]int64),
	}

	// Aggregates lose the column's DATETIME affinity, so these come back as text.
	var oldest, newest sql.NullString
	err := s.db.QueryRow(`
		SELECT COUNT(*), COALESCE(SUM(LENGTH(payload_compressed)), 0), MIN(fetched_at), MAX(fetched_at)
		FROM raw_payloads
	`).Scan(&stats.TotalCount, &stats.TotalSizeBytes, &oldest, &newest)
	if err != nil {
		return nil, err
	}
	stats.OldestFetchedAt = parseStoredTime(oldest)
	stats.NewestFetchedAt = parseStoredTime(newest)

	rows, err := s.db.Query(`
		SELECT source, COUNT(*), SUM(LENGTH(payload_compressed))
		FROM raw_payloads GROUP BY source
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	for rows.Next() {
		var source string
		var count int
		var size int64
		if err := rows.Scan(&source, &count, &size); err != nil {
			return nil, err
		}
		stats.CountBySource[source] = count
		stats.SizeBySource[source] = size
	}
	return stats, rows.Err()
}

// PruneRawPayloads deletes payloads fetched before cutoff, keeping the newest
// payload for each source and location so it can still be replayed.
func (s *Store) PruneRawPayloads(cutoff time.Time) (int64, error) {
	result, err := s.db.Exec(`
		DELETE FROM raw_payloads
		WHERE fetched_at < ?
		  AND id NOT IN (
			SELECT MAX(id) FROM raw_payloads
			WHERE location_key IS NOT NULL
			GROUP BY source, location_key
		  )
	`, cutoff.UTC())
	if err != nil {
		return 0, fmt.Errorf("prune raw payloads: %w", err)
	}
	return result.RowsAffected()
}

func gzipBytes(b []byte) ([]byte, error) {
	var buf bytes.Buffer
	gz := gzip.NewWriter(&buf)
	if _, err := gz.Write(b); err != nil {
		return nil, fmt.Errorf("compress payload: %w", err)
	}
	if err := gz.Close(); err != nil {
		return nil, fmt.Errorf("close gzip: %w", err)
	}
	return buf.Bytes(), nil
}

func gunzipBytes(b []byte) ([]byte, error) {
	gz, err := gzip.NewReader(bytes.NewReader(b))
	if err != nil {
		return nil, fmt.Errorf("create gzip reader: %w", err)
	}
	defer gz.Close()
	return io.ReadAll(gz)
}

// storedTimeLayouts are the text forms the sqlite driver may have written
// for a time.Time; by default it uses time.Time.String.
var storedTimeLayouts = []string{
	"2006-01-02 15:04:05.999999999 -0700 MST",
	"2006-01-02 15:04:05.999999999-07:00",
}

func parseStoredTime(v sql.NullString) time.Time {
	if !v.Valid {
		return time.Time{}
	}
	for _, layout := range storedTimeLayouts {
		if t, err := time.Parse(layout, v.String); err == nil {
			return t
		}
	}
	return time.Time{}
}
