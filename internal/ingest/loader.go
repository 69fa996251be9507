package ingest

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/jonboulle/clockwork"

	"github.com/lox/fairweather/internal/metrics"
	"github.com/lox/fairweather/internal/models"
	"github.com/lox/fairweather/internal/store"
)

const (
	DefaultRecordMaxAge     = 30 * 24 * time.Hour
	DefaultAirQualityMaxAge = time.Hour
)

// Loader serves daily records and air quality through the SQLite cache,
// going to the providers on a miss and auditing every provider call.
type Loader struct {
	store    *store.Store
	power    *PowerClient
	archive  *ArchiveClient
	aq       *AirQualityClient
	clock    clockwork.Clock
	maxAge   time.Duration
	aqMaxAge time.Duration
}

func NewLoader(st *store.Store, power *PowerClient, aq *AirQualityClient, clock clockwork.Clock) *Loader {
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	return &Loader{
		store:    st,
		power:    power,
		aq:       aq,
		clock:    clock,
		maxAge:   DefaultRecordMaxAge,
		aqMaxAge: DefaultAirQualityMaxAge,
	}
}

// SetArchive configures an FTP archive tried when NASA POWER fails.
func (l *Loader) SetArchive(a *ArchiveClient) {
	l.archive = a
}

// SetMaxAge sets how long cached record spans stay fresh.
func (l *Loader) SetMaxAge(d time.Duration) {
	l.maxAge = d
}

// Records returns the daily records for loc between start and end.
func (l *Loader) Records(ctx context.Context, loc models.Location, start, end time.Time) ([]models.DailyRecord, error) {
	key := loc.Key()

	if l.store != nil {
		cov, err := l.store.GetCoverage(key)
		if err != nil {
			log.Printf("ingest: coverage lookup %s: %v", key, err)
		} else if cov.Covers(start, end, l.clock.Now(), l.maxAge) {
			records, err := l.store.GetRecords(key, start, end)
			if err == nil {
				metrics.CacheLookups.WithLabelValues("hit").Inc()
				return records, nil
			}
			log.Printf("ingest: cached records %s: %v", key, err)
		}
		metrics.CacheLookups.WithLabelValues("miss").Inc()
	}

	records, err := l.fetchPower(ctx, loc, start, end)
	if err == nil || ctx.Err() != nil {
		return records, err
	}
	if l.archive != nil {
		log.Printf("ingest: nasa power %s failed, trying archive: %v", key, err)
		metrics.FallbacksTotal.WithLabelValues("archive").Inc()
		archived, archiveErr := l.fetchArchive(ctx, loc, start, end)
		if archiveErr == nil {
			return archived, nil
		}
		err = errors.Join(err, archiveErr)
	}
	if replayed, ok := l.replay(loc, start, end); ok {
		return replayed, nil
	}
	return nil, err
}

// replay re-parses the newest archived POWER response for loc. It serves
// stale data when every provider is down and is only used if it still has
// records inside the window.
func (l *Loader) replay(loc models.Location, start, end time.Time) ([]models.DailyRecord, bool) {
	if l.store == nil {
		return nil, false
	}
	p, err := l.store.LatestRawPayload("nasa_power", loc.Key())
	if err != nil {
		if !errors.Is(err, store.ErrNotFound) {
			log.Printf("ingest: replay lookup %s: %v", loc.Key(), err)
		}
		return nil, false
	}
	records, _, err := ParsePower(p.Body)
	if err != nil {
		log.Printf("ingest: replay parse payload %d: %v", p.ID, err)
		return nil, false
	}
	records = between(DropFlagged(records), start, end)
	if len(records) == 0 {
		return nil, false
	}
	log.Printf("ingest: replaying %d records for %s from payload fetched %s", len(records), loc.Key(), p.FetchedAt.Format(time.RFC3339))
	metrics.FallbacksTotal.WithLabelValues("replay").Inc()
	return records, true
}

func (l *Loader) fetchPower(ctx context.Context, loc models.Location, start, end time.Time) ([]models.DailyRecord, error) {
	key := loc.Key()
	run := l.startRun("nasa_power", "temporal/daily/point", key)

	log.Printf("ingest: fetching nasa power %s", describe(loc, start, end))
	records, body, result, err := l.power.FetchDaily(ctx, loc, start, end)
	l.finish(run, "nasa_power", "temporal/daily/point", key, loc, start, end, records, body, result, err)
	if err != nil {
		return nil, err
	}
	return records, nil
}

func (l *Loader) fetchArchive(ctx context.Context, loc models.Location, start, end time.Time) ([]models.DailyRecord, error) {
	key := loc.Key()
	run := l.startRun("archive", "ftp/csv", key)

	records, body, result, err := l.archive.FetchDaily(ctx, loc)
	if err == nil {
		records = between(records, start, end)
	}
	l.finish(run, "archive", "ftp/csv", key, loc, start, end, records, body, result, err)
	if err != nil {
		return nil, err
	}
	return records, nil
}

func (l *Loader) startRun(source, endpoint, key string) *store.IngestRun {
	if l.store == nil {
		return nil
	}
	run, err := l.store.StartIngestRun(source, endpoint, &key)
	if err != nil {
		log.Printf("ingest: start run %s: %v", source, err)
	}
	return run
}

// finish completes the audit row, archives the raw body and caches the
// records with their coverage.
func (l *Loader) finish(run *store.IngestRun, source, endpoint, key string, loc models.Location, start, end time.Time,
	records []models.DailyRecord, body []byte, result *FetchResult, err error) {
	if l.store == nil {
		return
	}

	if run != nil {
		run.Success = err == nil
		if result != nil {
			run.HTTPStatus = sql.NullInt64{Int64: int64(result.HTTPStatus), Valid: result.HTTPStatus > 0}
			run.ResponseSizeBytes = sql.NullInt64{Int64: int64(result.ResponseSize), Valid: result.ResponseSize > 0}
			run.RecordsParsed = sql.NullInt64{Int64: int64(result.RecordCount), Valid: true}
			run.RecordsRejected = sql.NullInt64{Int64: int64(result.Rejected), Valid: true}
			if result.ParseErrors > 0 {
				run.ParseErrors = sql.NullInt64{Int64: int64(result.ParseErrors), Valid: true}
				run.ErrorMessage = sql.NullString{String: result.ParseError, Valid: true}
				log.Printf("ingest: %s parse errors: %s", source, result.ParseError)
			}
		}
		if err != nil {
			run.ErrorMessage = sql.NullString{String: err.Error(), Valid: true}
		}
	}

	// Only good bodies are archived; replay trusts the newest one.
	if err == nil && len(body) > 0 && run != nil {
		if _, err := l.store.StoreRawPayload(&run.ID, source, endpoint, &key, body, l.clock.Now()); err != nil {
			log.Printf("ingest: store %s raw payload: %v", source, err)
		}
	}

	if err == nil {
		now := l.clock.Now()
		stored, err := l.store.UpsertRecords(key, source, records, now)
		if err != nil {
			log.Printf("ingest: store %s records: %v", source, err)
		} else {
			log.Printf("ingest: stored %d %s records for %s", stored, source, key)
			if run != nil {
				run.RecordsStored = sql.NullInt64{Int64: int64(stored), Valid: true}
			}
			if err := l.store.UpsertCoverage(store.Coverage{
				LocationKey: key,
				Location:    loc,
				Start:       start,
				End:         end,
				RecordCount: stored,
				Source:      source,
				FetchedAt:   now,
			}); err != nil {
				log.Printf("ingest: store coverage %s: %v", key, err)
			}
		}
	}

	if run != nil {
		if err := l.store.CompleteIngestRun(run); err != nil {
			log.Printf("ingest: complete run %d: %v", run.ID, err)
		}
	}
}

// AirQuality returns a cached reading when fresh, otherwise the provider's
// reading or the location fallback. Fallbacks are not cached.
func (l *Loader) AirQuality(ctx context.Context, loc models.Location) models.AirQuality {
	key := loc.Key()
	now := l.clock.Now()
	if l.store != nil {
		cached, err := l.store.GetAirQuality(key, now, l.aqMaxAge)
		if err != nil {
			log.Printf("ingest: air quality cache %s: %v", key, err)
		} else if cached != nil {
			return *cached
		}
	}

	aq := l.aq.CurrentOrFallback(ctx, loc)
	if l.store != nil && !aq.Fallback {
		if err := l.store.PutAirQuality(key, aq, now); err != nil {
			log.Printf("ingest: cache air quality %s: %v", key, err)
		}
	}
	return aq
}

func between(records []models.DailyRecord, start, end time.Time) []models.DailyRecord {
	out := records[:0:0]
	for _, r := range records {
		if r.Date.Before(start) || r.Date.After(end) {
			continue
		}
		out = append(out, r)
	}
	return out
}

// describe is used in log lines that mention a span.
func describe(loc models.Location, start, end time.Time) string {
	return fmt.Sprintf("%s %s..%s", loc.Key(), start.Format(time.DateOnly), end.Format(time.DateOnly))
}
