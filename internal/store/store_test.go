package store

import (
	"database/sql"
	"encoding/json"
	"errors"
	"testing"
	"time"

	_ "modernc.org/sqlite"

	"github.com/lox/fairweather/internal/models"
)

func setupTestStore(t *testing.T) *Store {
	t.Helper()
	db, err := sql.Open("sqlite", ":memory:")
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	db.SetMaxOpenConns(1)
	t.Cleanup(func() { db.Close() })

	store := New(db)
	if err := store.Migrate(); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	return store
}

func day(y int, m time.Month, d int) time.Time {
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

func TestUpsertAndGetRecords(t *testing.T) {
	store := setupTestStore(t)
	fetched := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)

	records := []models.DailyRecord{
		{Date: day(2020, 6, 15), Temperature: 20, MaxTemperature: 25, MinTemperature: 15, Precipitation: 1.5, WindSpeed: 4, Humidity: 60},
		{Date: day(2021, 6, 15), Temperature: 22, MaxTemperature: 27, MinTemperature: 16, Precipitation: 0, WindSpeed: 3, Humidity: 55},
		{Date: day(2022, 6, 15), Temperature: 18, MaxTemperature: 23, MinTemperature: 12, Precipitation: 12, WindSpeed: 6, Humidity: 80},
	}
	n, err := store.UpsertRecords("-33.87,151.21", "nasa_power", records, fetched)
	if err != nil {
		t.Fatalf("UpsertRecords: %v", err)
	}
	if n != 3 {
		t.Errorf("UpsertRecords = %d, want 3", n)
	}

	got, err := store.GetRecords("-33.87,151.21", day(2020, 1, 1), day(2022, 12, 31))
	if err != nil {
		t.Fatalf("GetRecords: %v", err)
	}
	if len(got) != 3 {
		t.Fatalf("len(records) = %d, want 3", len(got))
	}
	if !got[0].Date.Equal(day(2020, 6, 15)) {
		t.Errorf("first date = %v, want 2020-06-15", got[0].Date)
	}
	if got[2].Precipitation != 12 {
		t.Errorf("Precipitation = %v, want 12", got[2].Precipitation)
	}

	other, err := store.GetRecords("51.51,-0.13", day(2020, 1, 1), day(2022, 12, 31))
	if err != nil {
		t.Fatalf("GetRecords other: %v", err)
	}
	if len(other) != 0 {
		t.Errorf("other location returned %d records, want 0", len(other))
	}
}

func TestUpsertRecords_Overwrites(t *testing.T) {
	store := setupTestStore(t)
	fetched := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	key := "40.71,-74.01"

	first := []models.DailyRecord{{Date: day(2020, 1, 1), Temperature: 1}}
	if _, err := store.UpsertRecords(key, "archive", first, fetched); err != nil {
		t.Fatal(err)
	}
	second := []models.DailyRecord{{Date: day(2020, 1, 1), Temperature: 2}}
	if _, err := store.UpsertRecords(key, "nasa_power", second, fetched.Add(time.Hour)); err != nil {
		t.Fatal(err)
	}

	got, err := store.GetRecords(key, day(2020, 1, 1), day(2020, 1, 1))
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 1 {
		t.Fatalf("len(records) = %d, want 1", len(got))
	}
	if got[0].Temperature != 2 {
		t.Errorf("Temperature = %v, want 2", got[0].Temperature)
	}
}

func TestGetRecords_InclusiveDateRange(t *testing.T) {
	store := setupTestStore(t)
	key := "0.00,0.00"
	var records []models.DailyRecord
	for d := 1; d <= 5; d++ {
		records = append(records, models.DailyRecord{Date: day(2024, 3, d)})
	}
	if _, err := store.UpsertRecords(key, "nasa_power", records, time.Now()); err != nil {
		t.Fatal(err)
	}

	got, err := store.GetRecords(key, day(2024, 3, 2), day(2024, 3, 4))
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 3 {
		t.Errorf("len(records) = %d, want 3", len(got))
	}
}

func TestCoverage(t *testing.T) {
	store := setupTestStore(t)

	c, err := store.GetCoverage("1.35,103.82")
	if err != nil {
		t.Fatalf("GetCoverage: %v", err)
	}
	if c != nil {
		t.Fatalf("GetCoverage before upsert = %+v, want nil", c)
	}

	fetched := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	want := Coverage{
		LocationKey: "1.35,103.82",
		Location:    models.Location{Latitude: 1.35, Longitude: 103.82},
		Start:       day(2005, 1, 1),
		End:         day(2024, 12, 31),
		RecordCount: 7305,
		Source:      "nasa_power",
		FetchedAt:   fetched,
	}
	if err := store.UpsertCoverage(want); err != nil {
		t.Fatalf("UpsertCoverage: %v", err)
	}

	c, err = store.GetCoverage("1.35,103.82")
	if err != nil {
		t.Fatalf("GetCoverage: %v", err)
	}
	if c == nil {
		t.Fatal("GetCoverage returned nil")
	}
	if c.RecordCount != 7305 {
		t.Errorf("RecordCount = %d, want 7305", c.RecordCount)
	}
	if !c.Start.Equal(want.Start) || !c.End.Equal(want.End) {
		t.Errorf("span = %v..%v, want %v..%v", c.Start, c.End, want.Start, want.End)
	}
	if !c.FetchedAt.Equal(fetched) {
		t.Errorf("FetchedAt = %v, want %v", c.FetchedAt, fetched)
	}

	all, err := store.ListCoverage()
	if err != nil {
		t.Fatalf("ListCoverage: %v", err)
	}
	if len(all) != 1 {
		t.Errorf("len(ListCoverage) = %d, want 1", len(all))
	}
}

func TestCoverage_Covers(t *testing.T) {
	now := time.Date(2025, 6, 15, 0, 0, 0, 0, time.UTC)
	c := &Coverage{Start: day(2005, 1, 1), End: day(2024, 12, 31), FetchedAt: now.Add(-48 * time.Hour)}

	tests := []struct {
		name       string
		start, end time.Time
		maxAge     time.Duration
		want       bool
	}{
		{"exact span", day(2005, 1, 1), day(2024, 12, 31), 0, true},
		{"inner span", day(2010, 1, 1), day(2020, 12, 31), 0, true},
		{"starts earlier", day(2004, 1, 1), day(2024, 12, 31), 0, false},
		{"ends later", day(2005, 1, 1), day(2025, 12, 31), 0, false},
		{"fresh enough", day(2005, 1, 1), day(2024, 12, 31), 72 * time.Hour, true},
		{"stale", day(2005, 1, 1), day(2024, 12, 31), 24 * time.Hour, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := c.Covers(tt.start, tt.end, now, tt.maxAge); got != tt.want {
				t.Errorf("Covers = %v, want %v", got, tt.want)
			}
		})
	}

	var nilCov *Coverage
	if nilCov.Covers(day(2005, 1, 1), day(2005, 1, 1), now, 0) {
		t.Error("nil coverage should not cover anything")
	}
}

func TestAnalyses_SaveAndGet(t *testing.T) {
	store := setupTestStore(t)
	created := time.Date(2025, 6, 15, 10, 0, 0, 0, time.UTC)

	id, err := store.SaveAnalysis(AnalysisRecord{
		CreatedAt: created,
		Location:  models.Location{Latitude: 40.7128, Longitude: -74.006},
		Date:      "2025-07-04",
		Path:      "historical",
		Strategy:  "composite",
		Preset:    "picnic",
		Score:     82,
		Result:    json.RawMessage(`{"suitability_score":82}`),
	})
	if err != nil {
		t.Fatalf("SaveAnalysis: %v", err)
	}
	if len(id) != 36 {
		t.Errorf("id = %q, want a UUID", id)
	}

	rec, err := store.GetAnalysis(id)
	if err != nil {
		t.Fatalf("GetAnalysis: %v", err)
	}
	if rec.Path != "historical" || rec.Strategy != "composite" || rec.Preset != "picnic" {
		t.Errorf("rec = %+v", rec)
	}
	if rec.Score != 82 {
		t.Errorf("Score = %v, want 82", rec.Score)
	}
	if string(rec.Result) != `{"suitability_score":82}` {
		t.Errorf("Result = %s", rec.Result)
	}
	if !rec.CreatedAt.Equal(created) {
		t.Errorf("CreatedAt = %v, want %v", rec.CreatedAt, created)
	}
}

func TestAnalyses_NotFound(t *testing.T) {
	store := setupTestStore(t)

	_, err := store.GetAnalysis("00000000-0000-0000-0000-000000000000")
	if !errors.Is(err, ErrNotFound) {
		t.Errorf("err = %v, want ErrNotFound", err)
	}
}

func TestAnalyses_RecentAndCounts(t *testing.T) {
	store := setupTestStore(t)
	base := time.Date(2025, 6, 15, 10, 0, 0, 0, time.UTC)

	for i, path := range []string{"historical", "substitute", "historical"} {
		_, err := store.SaveAnalysis(AnalysisRecord{
			CreatedAt: base.Add(time.Duration(i) * time.Minute),
			Date:      "2025-07-04",
			Path:      path,
			Strategy:  "basic",
			Result:    json.RawMessage(`{}`),
		})
		if err != nil {
			t.Fatal(err)
		}
	}

	recent, err := store.RecentAnalyses(2)
	if err != nil {
		t.Fatalf("RecentAnalyses: %v", err)
	}
	if len(recent) != 2 {
		t.Fatalf("len(recent) = %d, want 2", len(recent))
	}
	if !recent[0].CreatedAt.After(recent[1].CreatedAt) {
		t.Error("recent analyses should be newest first")
	}
	if recent[0].Preset != "" {
		t.Errorf("Preset = %q, want empty", recent[0].Preset)
	}

	counts, err := store.AnalysisCounts()
	if err != nil {
		t.Fatalf("AnalysisCounts: %v", err)
	}
	if counts["historical"] != 2 || counts["substitute"] != 1 {
		t.Errorf("counts = %v", counts)
	}
}

func TestAirQualityCache(t *testing.T) {
	store := setupTestStore(t)
	fetched := time.Date(2025, 6, 15, 10, 0, 0, 0, time.UTC)
	pm := 8.5

	if err := store.PutAirQuality("51.51,-0.13", models.AirQuality{AQI: 35, Category: "Good", PM25: &pm, Source: "open-meteo"}, fetched); err != nil {
		t.Fatalf("PutAirQuality: %v", err)
	}

	aq, err := store.GetAirQuality("51.51,-0.13", fetched.Add(30*time.Minute), time.Hour)
	if err != nil {
		t.Fatalf("GetAirQuality: %v", err)
	}
	if aq == nil {
		t.Fatal("GetAirQuality returned nil for fresh entry")
	}
	if aq.AQI != 35 || aq.PM25 == nil || *aq.PM25 != 8.5 {
		t.Errorf("aq = %+v", aq)
	}

	stale, err := store.GetAirQuality("51.51,-0.13", fetched.Add(2*time.Hour), time.Hour)
	if err != nil {
		t.Fatal(err)
	}
	if stale != nil {
		t.Error("stale entry should read as nil")
	}

	missing, err := store.GetAirQuality("0.00,0.00", fetched, time.Hour)
	if err != nil {
		t.Fatal(err)
	}
	if missing != nil {
		t.Error("missing entry should read as nil")
	}
}

func TestIngestRun_StartAndComplete(t *testing.T) {
	store := setupTestStore(t)

	key := "-33.87,151.21"
	run, err := store.StartIngestRun("nasa_power", "temporal/daily/point", &key)
	if err != nil {
		t.Fatalf("StartIngestRun: %v", err)
	}
	if run.ID == 0 {
		t.Error("run.ID should be set")
	}
	if run.Source != "nasa_power" {
		t.Errorf("run.Source = %q, want 'nasa_power'", run.Source)
	}

	run.HTTPStatus = sql.NullInt64{Int64: 200, Valid: true}
	run.ResponseSizeBytes = sql.NullInt64{Int64: 1024, Valid: true}
	run.RecordsParsed = sql.NullInt64{Int64: 10, Valid: true}
	run.RecordsStored = sql.NullInt64{Int64: 9, Valid: true}
	run.RecordsRejected = sql.NullInt64{Int64: 1, Valid: true}
	run.Success = true

	if err := store.CompleteIngestRun(run); err != nil {
		t.Fatalf("CompleteIngestRun: %v", err)
	}

	failed, err := store.StartIngestRun("nasa_power", "temporal/daily/point", &key)
	if err != nil {
		t.Fatal(err)
	}
	failed.ErrorMessage = sql.NullString{String: "status 500", Valid: true}
	if err := store.CompleteIngestRun(failed); err != nil {
		t.Fatal(err)
	}

	health, err := store.IngestHealthSince(time.Now().Add(-time.Hour))
	if err != nil {
		t.Fatalf("IngestHealthSince: %v", err)
	}
	if len(health) != 1 {
		t.Fatalf("len(health) = %d, want 1", len(health))
	}
	h := health[0]
	if h.Source != "nasa_power" || h.Endpoint != "temporal/daily/point" {
		t.Errorf("source = %s/%s", h.Source, h.Endpoint)
	}
	if h.Runs != 2 || h.Failures != 1 {
		t.Errorf("runs = %d failures = %d, want 2 and 1", h.Runs, h.Failures)
	}
	if h.Records != 9 || h.Rejected != 1 {
		t.Errorf("records = %d rejected = %d, want 9 and 1", h.Records, h.Rejected)
	}
	if h.LastSuccess.IsZero() || h.LastFailure.IsZero() {
		t.Errorf("last success %v, last failure %v; want both set", h.LastSuccess, h.LastFailure)
	}
	if h.Degraded() {
		t.Error("one failure in two runs should not be degraded")
	}

	later, err := store.IngestHealthSince(time.Now().Add(time.Hour))
	if err != nil {
		t.Fatal(err)
	}
	if len(later) != 0 {
		t.Errorf("runs after cutoff = %d, want 0", len(later))
	}
}

func TestIngestRun_GetRecentErrors(t *testing.T) {
	store := setupTestStore(t)

	run, err := store.StartIngestRun("open_meteo", "air-quality", nil)
	if err != nil {
		t.Fatal(err)
	}

	run.HTTPStatus = sql.NullInt64{Int64: 500, Valid: true}
	run.Success = false
	run.ErrorMessage = sql.NullString{String: "server error", Valid: true}
	if err := store.CompleteIngestRun(run); err != nil {
		t.Fatal(err)
	}

	errs, err := store.GetRecentIngestErrors(10)
	if err != nil {
		t.Fatalf("GetRecentIngestErrors: %v", err)
	}
	if len(errs) != 1 {
		t.Fatalf("len(errors) = %d, want 1", len(errs))
	}
	if errs[0].ErrorMessage.String != "server error" {
		t.Errorf("ErrorMessage = %q, want 'server error'", errs[0].ErrorMessage.String)
	}
}

func TestRawPayload_StoreAndDedupe(t *testing.T) {
	store := setupTestStore(t)
	payload := []byte(`{"properties":{"parameter":{"T2M":{"20200101":21.5}}}}`)
	key := "0.00,0.00"
	fetched := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)

	id, err := store.StoreRawPayload(nil, "nasa_power", "temporal/daily/point", &key, payload, fetched)
	if err != nil {
		t.Fatalf("StoreRawPayload: %v", err)
	}
	if id == 0 {
		t.Fatal("first payload should get an ID")
	}

	dup, err := store.StoreRawPayload(nil, "nasa_power", "temporal/daily/point", &key, payload, fetched.Add(time.Hour))
	if err != nil {
		t.Fatalf("StoreRawPayload duplicate: %v", err)
	}
	if dup != 0 {
		t.Errorf("duplicate payload id = %d, want 0", dup)
	}

	got, err := store.GetRawPayload(id)
	if err != nil {
		t.Fatalf("GetRawPayload: %v", err)
	}
	if string(got) != string(payload) {
		t.Errorf("payload = %s, want %s", got, payload)
	}

	stats, err := store.GetRawPayloadStats()
	if err != nil {
		t.Fatalf("GetRawPayloadStats: %v", err)
	}
	if stats.TotalCount != 1 || stats.CountBySource["nasa_power"] != 1 {
		t.Errorf("stats = %+v", stats)
	}
	if !stats.OldestFetchedAt.Equal(fetched) {
		t.Errorf("OldestFetchedAt = %v, want %v", stats.OldestFetchedAt, fetched)
	}

	if _, err := store.GetRawPayload(id + 100); !errors.Is(err, ErrNotFound) {
		t.Errorf("GetRawPayload(missing) err = %v, want ErrNotFound", err)
	}
}

func TestRawPayload_LatestAndPrune(t *testing.T) {
	store := setupTestStore(t)
	key := "1.00,2.00"
	other := "3.00,4.00"
	base := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)

	for i, body := range []string{`{"v":1}`, `{"v":2}`, `{"v":3}`} {
		if _, err := store.StoreRawPayload(nil, "nasa_power", "temporal/daily/point", &key, []byte(body), base.AddDate(0, i, 0)); err != nil {
			t.Fatalf("StoreRawPayload %d: %v", i, err)
		}
	}
	if _, err := store.StoreRawPayload(nil, "nasa_power", "temporal/daily/point", &other, []byte(`{"v":"other"}`), base); err != nil {
		t.Fatal(err)
	}

	latest, err := store.LatestRawPayload("nasa_power", key)
	if err != nil {
		t.Fatalf("LatestRawPayload: %v", err)
	}
	if string(latest.Body) != `{"v":3}` {
		t.Errorf("latest body = %s, want {\"v\":3}", latest.Body)
	}
	if !latest.FetchedAt.Equal(base.AddDate(0, 2, 0)) {
		t.Errorf("latest FetchedAt = %v", latest.FetchedAt)
	}

	if _, err := store.LatestRawPayload("nasa_power", "9.00,9.00"); !errors.Is(err, ErrNotFound) {
		t.Errorf("LatestRawPayload(unknown) err = %v, want ErrNotFound", err)
	}

	// Everything is older than the cutoff, but the newest payload per
	// location survives.
	n, err := store.PruneRawPayloads(base.AddDate(1, 0, 0))
	if err != nil {
		t.Fatalf("PruneRawPayloads: %v", err)
	}
	if n != 2 {
		t.Errorf("pruned = %d, want 2", n)
	}

	stats, err := store.GetRawPayloadStats()
	if err != nil {
		t.Fatal(err)
	}
	if stats.TotalCount != 2 {
		t.Errorf("remaining = %d, want 2", stats.TotalCount)
	}
	latest, err = store.LatestRawPayload("nasa_power", key)
	if err != nil {
		t.Fatalf("LatestRawPayload after prune: %v", err)
	}
	if string(latest.Body) != `{"v":3}` {
		t.Errorf("latest body after prune = %s", latest.Body)
	}
}

func TestMigrationVersion(t *testing.T) {
	store := setupTestStore(t)

	version, err := store.MigrationVersion()
	if err != nil {
		t.Fatalf("MigrationVersion: %v", err)
	}
	if version != len(migrations) {
		t.Errorf("MigrationVersion = %d, want %d", version, len(migrations))
	}

	if err := store.Migrate(); err != nil {
		t.Fatalf("second Migrate: %v", err)
	}
}
