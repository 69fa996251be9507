package store

import (
	"database/sql"
	"fmt"
	"time"
)

// IngestRun represents a single provider fetch for auditing.
type IngestRun struct {
	ID                int64
	StartedAt         time.Time
	FinishedAt        sql.NullTime
	Source            string // "nasa_power", "archive", "open_meteo"
	Endpoint          string // "temporal/daily/point", "ftp/csv", etc.
	LocationKey       sql.NullString
	HTTPStatus        sql.NullInt64
	ResponseSizeBytes sql.NullInt64
	RecordsParsed     sql.NullInt64
	RecordsStored     sql.NullInt64
	RecordsRejected   sql.NullInt64 // Dropped by validation
	ParseErrors       sql.NullInt64 // Rows that failed to parse
	Success           bool
	ErrorMessage      sql.NullString
}

// StartIngestRun records the start of a provider call. The run is marked
// failed until CompleteIngestRun says otherwise.
func (s *Store) StartIngestRun(source, endpoint string, locationKey *string) (*IngestRun, error) {
	run := &IngestRun{StartedAt: time.Now().UTC(), Source: source, Endpoint: endpoint}
	if locationKey != nil {
		run.LocationKey = sql.NullString{String: *locationKey, Valid: true}
	}

	res, err := s.db.Exec(`INSERT INTO ingest_runs (started_at, source, endpoint, location_key, success) VALUES (?, ?, ?, ?, FALSE)`,
		run.StartedAt, run.Source, run.Endpoint, run.LocationKey)
	if err != nil {
		return nil, fmt.Errorf("start ingest run: %w", err)
	}
	if run.ID, err = res.LastInsertId(); err != nil {
		return nil, err
	}
	return run, nil
}

// CompleteIngestRun writes the outcome of run. A nil run is ignored so
// callers without a store can pass through whatever StartIngestRun gave them.
func (s *Store) CompleteIngestRun(run *IngestRun) error {
	if run == nil {
		return nil
	}
	run.FinishedAt = sql.NullTime{Time: time.Now().UTC(), Valid: true}

	_, err := s.db.Exec(`
		UPDATE ingest_runs
		SET finished_at = ?, http_status = ?, response_size_bytes = ?, records_parsed = ?,
		    records_stored = ?, records_rejected = ?, parse_errors = ?, success = ?, error_message = ?
		WHERE id = ?
	`, run.FinishedAt, run.HTTPStatus, run.ResponseSizeBytes, run.RecordsParsed, run.RecordsStored,
		run.RecordsRejected, run.ParseErrors, run.Success, run.ErrorMessage, run.ID)
	if err != nil {
		return fmt.Errorf("complete ingest run %d: %w", run.ID, err)
	}
	return nil
}

// SourceHealth summarises the audit log for one provider endpoint.
type SourceHealth struct {
	Source      string
	Endpoint    string
	Runs        int
	Failures    int
	Records     int64
	Rejected    int64
	ParseErrors int64
	LastSuccess time.Time
	LastFailure time.Time
}

// Degraded reports whether more calls failed than succeeded.
func (h SourceHealth) Degraded() bool {
	return h.Failures > h.Runs-h.Failures
}

// IngestHealthSince aggregates the runs started at or after since, one row
// per source and endpoint.
func (s *Store) IngestHealthSince(since time.Time) ([]SourceHealth, error) {
	// started_at is stored as time.Time.String(); its first 19 bytes sort
	// like the cutoff below.
	rows, err := s.db.Query(`
		SELECT source, endpoint, COUNT(*),
		       SUM(CASE WHEN success THEN 0 ELSE 1 END),
		       COALESCE(SUM(records_stored), 0),
		       COALESCE(SUM(records_rejected), 0),
		       COALESCE(SUM(parse_errors), 0),
		       MAX(CASE WHEN success THEN started_at END),
		       MAX(CASE WHEN success THEN NULL ELSE started_at END)
		FROM ingest_runs
		WHERE SUBSTR(started_at, 1, 19) >= ?
		GROUP BY source, endpoint
		ORDER BY source, endpoint
	`, since.UTC().Format(time.DateTime))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []SourceHealth
	for rows.Next() {
		var h SourceHealth
		var lastOK, lastFail sql.NullString
		if err := rows.Scan(&h.Source, &h.Endpoint, &h.Runs, &h.Failures,
			&h.Records, &h.Rejected, &h.ParseErrors, &lastOK, &lastFail); err != nil {
			return nil, err
		}
		h.LastSuccess = parseStoredTime(lastOK)
		h.LastFailure = parseStoredTime(lastFail)
		out = append(out, h)
	}
	return out, rows.Err()
}

// GetRecentIngestErrors returns recent failed ingest runs.
func (s *Store) GetRecentIngestErrors(limit int) ([]IngestRun, error) {
	rows, err := s.db.Query(`
		SELECT id, started_at, finished_at, source, endpoint, location_key,
			   http_status, response_size_bytes, records_parsed, records_stored,
			   success, error_message
		FROM ingest_runs
		WHERE success = FALSE
		ORDER BY started_at DESC
		LIMIT ?
	`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var results []IngestRun
	for rows.Next() {
		var r IngestRun
		if err := rows.Scan(&r.ID, &r.StartedAt, &r.FinishedAt, &r.Source, &r.Endpoint,
			&r.LocationKey, &r.HTTPStatus, &r.ResponseSizeBytes,
			&r.RecordsParsed, &r.RecordsStored, &r.Success, &r.ErrorMessage); err != nil {
			return nil, err
		}
		results = append(results, r)
	}
	return results, rows.Err()
}
