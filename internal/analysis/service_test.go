package analysis

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lox/fairweather/internal/models"
	"github.com/lox/fairweather/internal/store"
	"github.com/lox/fairweather/internal/suitability"
)

var (
	nyc  = models.Location{Name: "New York, NY", Latitude: 40.7128, Longitude: -74.0060}
	june = time.Date(2025, 6, 15, 0, 0, 0, 0, time.UTC)
)

type fakeRecords struct {
	mu         sync.Mutex
	records    []models.DailyRecord
	err        error
	calls      int
	start, end time.Time
}

func (f *fakeRecords) Records(_ context.Context, _ models.Location, start, end time.Time) ([]models.DailyRecord, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	f.start, f.end = start, end
	return f.records, f.err
}

type fakeAir struct{ aqi int }

func (f fakeAir) AirQuality(context.Context, models.Location) models.AirQuality {
	return models.AirQuality{AQI: f.aqi, Category: models.AQIStatus(float64(f.aqi)), Source: "test"}
}

// juneRecords is twenty years of 15 June: six rainy days, one windy day and
// a spread of temperatures that never crosses the dynamic thresholds.
func juneRecords() []models.DailyRecord {
	var out []models.DailyRecord
	for i := range 20 {
		r := models.DailyRecord{
			Date:           time.Date(2005+i, 6, 15, 0, 0, 0, 0, time.UTC),
			Temperature:    20,
			MaxTemperature: 24 + float64(i%5),
			MinTemperature: 13 + float64(i%5),
			WindSpeed:      4,
			Humidity:       60,
		}
		if i < 6 {
			r.Precipitation = 5
		}
		if i == 19 {
			r.WindSpeed = 10
		}
		out = append(out, r)
		// A neighbouring day that must be filtered out.
		out = append(out, models.DailyRecord{
			Date: r.Date.AddDate(0, 0, 1), Temperature: 40, MaxTemperature: 45, MinTemperature: 30,
			Precipitation: 50, WindSpeed: 30, Humidity: 99,
		})
	}
	return out
}

func setupTestStore(t *testing.T) *store.Store {
	t.Helper()
	db, err := store.Open(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	st := store.New(db)
	require.NoError(t, st.Migrate())
	return st
}

func newTestService(t *testing.T, src RecordSource) (*Service, *store.Store) {
	t.Helper()
	st := setupTestStore(t)
	clock := clockwork.NewFakeClockAt(time.Date(2025, 6, 1, 9, 30, 0, 0, time.UTC))
	return New(src, fakeAir{aqi: 40}, st, clock, DefaultConfig()), st
}

func TestAnalyze_HistoricalBasic(t *testing.T) {
	src := &fakeRecords{records: juneRecords()}
	svc, _ := newTestService(t, src)

	res, err := svc.Analyze(context.Background(), Request{Location: nyc, Date: june})
	require.NoError(t, err)

	assert.Equal(t, PathHistorical, res.Path)
	assert.Equal(t, suitability.StrategyBasic, res.Strategy)
	assert.Equal(t, 30.0, res.Probabilities[models.Rain])
	assert.Equal(t, 0.0, res.Probabilities[models.HeavyRain])
	assert.Equal(t, 5.0, res.Probabilities[models.HighWind])
	assert.Equal(t, 0.0, res.Probabilities[models.VeryHot])

	// 100 - 30*0.3 - 5*0.2
	assert.Equal(t, models.Fixed1(90), res.SuitabilityScore)
	assert.Equal(t, "Low", string(res.RiskAssessment.OverallRisk))
	assert.Nil(t, res.Preset)

	require.NotNil(t, res.HistoricalAverages)
	assert.Equal(t, models.Fixed1(20), res.HistoricalAverages.Temperature)
	assert.Equal(t, 20.0, res.ExpectedTemperature())

	assert.Equal(t, "2005-2024", res.Metadata.HistoricalPeriod)
	assert.Equal(t, 20, res.Metadata.TotalYears)
	assert.Equal(t, 20, res.Metadata.TotalRecords)
	assert.Equal(t, "MERRA-2 Reanalysis", res.Metadata.Model)

	assert.Equal(t, time.Date(2005, 1, 1, 0, 0, 0, 0, time.UTC), src.start)
	assert.Equal(t, time.Date(2024, 12, 31, 0, 0, 0, 0, time.UTC), src.end)
	assert.Equal(t, 40, res.Health.AQI.Value)
}

func TestAnalyze_HistoricalCompositeWithPreset(t *testing.T) {
	svc, _ := newTestService(t, &fakeRecords{records: juneRecords()})

	preset := suitability.Preset{Name: "general"}
	res, err := svc.Analyze(context.Background(), Request{Location: nyc, Date: june, Preset: &preset})
	require.NoError(t, err)

	assert.Equal(t, suitability.StrategyComposite, res.Strategy)
	require.NotNil(t, res.Suitability)
	assert.Equal(t, "planner", res.Suitability.Blend)
	assert.Equal(t, models.Fixed1(100), res.Suitability.Weather)
	assert.Equal(t, models.Fixed1(92), res.Suitability.Health)
	assert.Equal(t, models.Fixed1(100), res.Suitability.Risk)
	// round(100*0.75 + 92*0.2 + 100*0.05)
	assert.Equal(t, models.Fixed1(98), res.SuitabilityScore)
	require.NotNil(t, res.Preset)
	assert.Equal(t, "general", res.Preset.Name)
}

func TestAnalyze_ExplicitStrategyOverridesPreset(t *testing.T) {
	svc, _ := newTestService(t, &fakeRecords{records: juneRecords()})

	preset := suitability.Preset{Name: "general"}
	res, err := svc.Analyze(context.Background(), Request{
		Location: nyc, Date: june, Preset: &preset, Strategy: suitability.StrategyBasic,
	})
	require.NoError(t, err)
	assert.Equal(t, models.Fixed1(90), res.SuitabilityScore)
}

func TestAnalyze_FallsBackToSubstitute(t *testing.T) {
	svc, _ := newTestService(t, &fakeRecords{})

	first, err := svc.Analyze(context.Background(), Request{Location: nyc, Date: june})
	require.NoError(t, err)
	second, err := svc.Analyze(context.Background(), Request{Location: nyc, Date: june})
	require.NoError(t, err)

	assert.Equal(t, PathSubstitute, first.Path)
	require.NotNil(t, first.Substitute)
	assert.Nil(t, first.HistoricalAverages)
	assert.Equal(t, "Substitute model", first.Metadata.DataSource)
	assert.Equal(t, first.Substitute.Temperature, first.ExpectedTemperature())

	// Without a session the model is seeded by location and date.
	assert.Equal(t, first.Probabilities, second.Probabilities)
	assert.Equal(t, first.SuitabilityScore, second.SuitabilityScore)

	for c, p := range first.Probabilities {
		assert.GreaterOrEqual(t, p, 0.0, c)
		assert.LessOrEqual(t, p, 100.0, c)
	}
}

func TestAnalyze_SubstituteComposite(t *testing.T) {
	svc, _ := newTestService(t, &fakeRecords{})

	res, err := svc.Analyze(context.Background(), Request{
		Location: nyc, Date: june, Strategy: suitability.StrategyComposite,
	})
	require.NoError(t, err)
	require.NotNil(t, res.Suitability)
	assert.Equal(t, models.Fixed1(res.Substitute.SuitabilityScore), res.SuitabilityScore)
}

func TestAnalyze_SessionKeepsHistory(t *testing.T) {
	svc, _ := newTestService(t, &fakeRecords{})

	for range 3 {
		_, err := svc.Analyze(context.Background(), Request{Location: nyc, Date: june, Session: "s1"})
		require.NoError(t, err)
	}
	_, err := svc.Analyze(context.Background(), Request{Location: nyc, Date: june, Session: "s2"})
	require.NoError(t, err)

	assert.Equal(t, 2, svc.Sessions())
	assert.Equal(t, 3, svc.sessions["s1"].History().Len())
	assert.Equal(t, 1, svc.sessions["s2"].History().Len())
}

func TestAnalyze_SessionsAreBounded(t *testing.T) {
	cfg := DefaultConfig()
	cfg.MaxSessions = 2
	svc := New(&fakeRecords{}, fakeAir{aqi: 40}, nil, clockwork.NewFakeClock(), cfg)

	for _, s := range []string{"a", "b", "c"} {
		_, err := svc.Analyze(context.Background(), Request{Location: nyc, Date: june, Session: s})
		require.NoError(t, err)
	}
	assert.Equal(t, 2, svc.Sessions())
}

func TestAnalyze_ProviderError(t *testing.T) {
	boom := errors.New("provider down")
	svc, _ := newTestService(t, &fakeRecords{err: boom})

	_, err := svc.Analyze(context.Background(), Request{Location: nyc, Date: june})
	assert.ErrorIs(t, err, boom)
}

func TestAnalyze_InvalidRequests(t *testing.T) {
	zero := suitability.Weights{}
	tests := []struct {
		name string
		req  Request
	}{
		{"baseline too short", Request{Location: nyc, Date: june, BaselineYears: 3}},
		{"baseline too long", Request{Location: nyc, Date: june, BaselineYears: 41}},
		{"unknown strategy", Request{Location: nyc, Date: june, Strategy: "fancy"}},
		{"zero weights", Request{Location: nyc, Date: june, Preset: &suitability.Preset{Name: "flat", Weights: &zero}}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			src := &fakeRecords{records: juneRecords()}
			svc, _ := newTestService(t, src)
			_, err := svc.Analyze(context.Background(), tt.req)
			assert.ErrorIs(t, err, ErrInvalidRequest)
			assert.Zero(t, src.calls)
		})
	}
}

func TestAnalyze_StoredAndReloaded(t *testing.T) {
	svc, st := newTestService(t, &fakeRecords{records: juneRecords()})

	preset := suitability.Preset{Name: "picnic"}
	res, err := svc.Analyze(context.Background(), Request{Location: nyc, Date: june, Preset: &preset})
	require.NoError(t, err)
	require.NotEmpty(t, res.ID)

	got, err := svc.Get(res.ID)
	require.NoError(t, err)
	assert.Equal(t, res.ID, got.ID)
	assert.Equal(t, res.Path, got.Path)
	assert.Equal(t, res.SuitabilityScore, got.SuitabilityScore)
	assert.Equal(t, res.Probabilities, got.Probabilities)
	assert.Equal(t, res.RiskAssessment.Recommendations, got.RiskAssessment.Recommendations)

	rec, err := st.GetAnalysis(res.ID)
	require.NoError(t, err)
	assert.Equal(t, "picnic", rec.Preset)
	assert.Equal(t, "2025-06-15", rec.Date)

	_, err = svc.Get("missing")
	assert.ErrorIs(t, err, store.ErrNotFound)
}

func TestAnalyze_WithoutStore(t *testing.T) {
	svc := New(&fakeRecords{records: juneRecords()}, fakeAir{aqi: 40}, nil, clockwork.NewFakeClock(), Config{})

	res, err := svc.Analyze(context.Background(), Request{Location: nyc, Date: june})
	require.NoError(t, err)
	assert.Empty(t, res.ID)

	_, err = svc.Get("anything")
	assert.ErrorIs(t, err, store.ErrNotFound)
}

func TestSimulate(t *testing.T) {
	svc, _ := newTestService(t, &fakeRecords{})

	series, err := svc.Simulate(nyc, 7, nil, "")
	require.NoError(t, err)
	require.Len(t, series.Days, 7)
	assert.Equal(t, "2025-05-31", series.Days[6].Date)

	_, err = svc.Simulate(nyc, 0, nil, "")
	assert.ErrorIs(t, err, ErrInvalidRequest)
}

func TestDistance(t *testing.T) {
	la := models.Location{Latitude: 34.0522, Longitude: -118.2437}
	assert.InDelta(t, 3935.75, Distance(nyc, la), 0.5)
	assert.InDelta(t, Distance(nyc, la), Distance(la, nyc), 1e-9)
	assert.Zero(t, Distance(nyc, nyc))
}

func TestRoutePoints(t *testing.T) {
	midtown := models.Location{Latitude: 40.7580, Longitude: -73.9855}
	short := RoutePoints(nyc, midtown)
	require.Len(t, short, 2)
	assert.Equal(t, PointStart, short[0].Type)
	assert.Equal(t, PointEnd, short[1].Type)

	philly := models.Location{Latitude: 39.9526, Longitude: -75.1652}
	long := RoutePoints(nyc, philly)
	require.Len(t, long, 4)
	assert.Equal(t, PointMidpoint, long[1].Type)
	assert.InDelta(t, 40.7128+(39.9526-40.7128)*0.33, long[1].Latitude, 1e-9)
	assert.InDelta(t, -74.0060+(-75.1652+74.0060)*0.67, long[2].Longitude, 1e-9)
	assert.Equal(t, philly.Latitude, long[3].Latitude)
}

func TestAnalyzeRoute(t *testing.T) {
	svc, _ := newTestService(t, &fakeRecords{records: juneRecords()})
	philly := models.Location{Latitude: 39.9526, Longitude: -75.1652}

	res, err := svc.AnalyzeRoute(context.Background(), RouteRequest{Start: nyc, End: philly, Date: june})
	require.NoError(t, err)

	require.Len(t, res.RoutePoints, 4)
	for i, p := range res.RoutePoints {
		assert.Empty(t, p.Error)
		require.NotNil(t, p.WeatherAnalysis)
		assert.Empty(t, p.WeatherAnalysis.ID, "route points are not stored")
		assert.Equal(t, "Point "+string(rune('1'+i)), p.LocationName)
	}
	assert.Equal(t, 129.61, res.TotalDistance)
	require.NotNil(t, res.OverallAQI)
	assert.Equal(t, OverallAQI{AQI: 40, Category: "Good"}, *res.OverallAQI)
	assert.Equal(t, RouteMetadata{
		AnalysisDate:  "2025-06-15",
		BaselineYears: 20,
		TotalPoints:   4,
		DataSource:    "NASA POWER + Open-Meteo AQI",
	}, res.Metadata)
	assert.Equal(t,
		"Route distance: 129.6 km | Expected temperatures: 20.0°C to 20.0°C | "+
			"Air quality: Good (AQI 40) to Good (AQI 40) | Weather risk: Low to Low",
		res.TravelSummary)
}

func TestAnalyzeRoute_PointFailures(t *testing.T) {
	svc, _ := newTestService(t, &fakeRecords{err: errors.New("provider down")})
	midtown := models.Location{Latitude: 40.7580, Longitude: -73.9855}

	res, err := svc.AnalyzeRoute(context.Background(), RouteRequest{Start: nyc, End: midtown, Date: june})
	require.NoError(t, err)

	require.Len(t, res.RoutePoints, 2)
	for _, p := range res.RoutePoints {
		assert.Contains(t, p.Error, "provider down")
		assert.Nil(t, p.WeatherAnalysis)
	}
	assert.Nil(t, res.OverallAQI)
	assert.True(t, strings.HasPrefix(res.TravelSummary, "Route distance: 5.3 km"))
	assert.NotContains(t, res.TravelSummary, "|")
}

func TestAnalyzeRoute_InvalidBaseline(t *testing.T) {
	svc, _ := newTestService(t, &fakeRecords{})
	_, err := svc.AnalyzeRoute(context.Background(), RouteRequest{Start: nyc, End: nyc, Date: june, BaselineYears: 50})
	assert.ErrorIs(t, err, ErrInvalidRequest)
}

// airByLatitude reports a fixed AQI per point, keyed by latitude.
type airByLatitude map[float64]int

func (a airByLatitude) AirQuality(_ context.Context, loc models.Location) models.AirQuality {
	aqi := a[loc.Latitude]
	return models.AirQuality{AQI: aqi, Category: models.AQIStatus(float64(aqi)), Source: "test"}
}

func TestAnalyzeRoute_OverallAQIRounds(t *testing.T) {
	midtown := models.Location{Latitude: 40.7580, Longitude: -73.9855}
	air := airByLatitude{nyc.Latitude: 50, midtown.Latitude: 51}
	clock := clockwork.NewFakeClockAt(time.Date(2025, 6, 1, 9, 30, 0, 0, time.UTC))
	svc := New(&fakeRecords{records: juneRecords()}, air, nil, clock, DefaultConfig())

	res, err := svc.AnalyzeRoute(context.Background(), RouteRequest{Start: nyc, End: midtown, Date: june})
	require.NoError(t, err)

	require.Len(t, res.RoutePoints, 2)
	require.NotNil(t, res.OverallAQI)
	// (50 + 51) / 2 = 50.5 rounds half away from zero.
	assert.Equal(t, 51, res.OverallAQI.AQI)
	assert.Equal(t, "Moderate", res.OverallAQI.Category)
}
