// Package analysis runs a complete event-weather analysis: it loads the
// historical baseline and air quality, picks the historical or substitute
// path, scores suitability and records the result.
package analysis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"
	"golang.org/x/sync/errgroup"

	"github.com/lox/fairweather/internal/climatology"
	"github.com/lox/fairweather/internal/ingest"
	"github.com/lox/fairweather/internal/metrics"
	"github.com/lox/fairweather/internal/models"
	"github.com/lox/fairweather/internal/risk"
	"github.com/lox/fairweather/internal/simulate"
	"github.com/lox/fairweather/internal/store"
	"github.com/lox/fairweather/internal/suitability"
)

// RecordSource supplies the historical baseline. *ingest.Loader satisfies it.
type RecordSource interface {
	Records(ctx context.Context, loc models.Location, start, end time.Time) ([]models.DailyRecord, error)
}

// AirQualitySource never fails; it returns a fallback reading instead.
type AirQualitySource interface {
	AirQuality(ctx context.Context, loc models.Location) models.AirQuality
}

// Store persists analyses. *store.Store satisfies it.
type Store interface {
	SaveAnalysis(rec store.AnalysisRecord) (string, error)
	GetAnalysis(id string) (*store.AnalysisRecord, error)
}

// ErrInvalidRequest marks requests rejected before any data is loaded.
var ErrInvalidRequest = errors.New("invalid request")

// Path is which engine produced a result.
type Path string

const (
	PathHistorical Path = "historical"
	PathSubstitute Path = "substitute"
)

const (
	DefaultBaselineYears = 20
	MinBaselineYears     = 5
	MaxBaselineYears     = 40

	defaultMaxSessions = 1024
)

// Config tunes a Service.
type Config struct {
	BaselineYears int
	// Blend is used by the composite strategy on the historical path.
	Blend       suitability.Blend
	Climatology climatology.Config
	Simulate    simulate.Config
	MaxSessions int
}

func DefaultConfig() Config {
	return Config{
		BaselineYears: DefaultBaselineYears,
		Blend:         suitability.Planner,
		Climatology:   climatology.DefaultConfig(),
		Simulate:      simulate.DefaultConfig(),
		MaxSessions:   defaultMaxSessions,
	}
}

// Request describes one analysis.
type Request struct {
	Location      models.Location
	Date          time.Time
	BaselineYears int
	// Preset is optional; a nil preset means no activity was chosen.
	Preset *suitability.Preset
	// Strategy is optional; empty picks composite with a preset and basic
	// without one.
	Strategy suitability.Strategy
	// Session keys a substitute model whose history persists across
	// requests. Empty uses a fresh model seeded by location and date.
	Session string
}

// Metadata describes where a result came from.
type Metadata struct {
	DataSource         string    `json:"data_source"`
	Model              string    `json:"model"`
	SpatialResolution  string    `json:"spatial_resolution"`
	TemporalResolution string    `json:"temporal_resolution"`
	HistoricalPeriod   string    `json:"historical_period"`
	TotalYears         int       `json:"total_years"`
	TotalRecords       int       `json:"total_records"`
	AnalysisTimestamp  time.Time `json:"analysis_timestamp"`
}

// Result is the single output of both paths.
type Result struct {
	ID       string               `json:"id,omitempty"`
	Location models.Location      `json:"location"`
	Date     string               `json:"date"`
	Path     Path                 `json:"path"`
	Strategy suitability.Strategy `json:"strategy"`

	Probabilities      models.ProbabilitySet     `json:"probabilities"`
	HistoricalAverages *climatology.Averages     `json:"historical_averages,omitempty"`
	Thresholds         *climatology.Thresholds   `json:"thresholds,omitempty"`
	Ranges             *climatology.Ranges       `json:"ranges,omitempty"`
	Percentiles        *climatology.Percentiles  `json:"percentiles,omitempty"`
	ClimateTrends      *climatology.ClimateTrend `json:"climate_trends,omitempty"`
	Substitute         *simulate.Bundle          `json:"substitute,omitempty"`

	RiskAssessment   risk.Assessment        `json:"risk_assessment"`
	FactorAssessment risk.FactorAssessment  `json:"factor_assessment"`
	Suitability      *suitability.Breakdown `json:"suitability,omitempty"`
	SuitabilityScore models.Fixed1          `json:"suitability_score"`
	Preset           *suitability.Resolved  `json:"preset,omitempty"`

	AirQuality models.AirQuality `json:"aqi_data"`
	Health     models.HealthData `json:"health_data"`
	Metadata   Metadata          `json:"metadata"`
}

// ExpectedTemperature is the mean temperature the result is based on.
func (r *Result) ExpectedTemperature() float64 {
	if r.HistoricalAverages != nil {
		return float64(r.HistoricalAverages.Temperature)
	}
	if r.Substitute != nil {
		return r.Substitute.Temperature
	}
	return 0
}

// Service orchestrates analyses. It is safe for concurrent use.
type Service struct {
	records  RecordSource
	air      AirQualitySource
	store    Store
	clock    clockwork.Clock
	cfg      Config
	analyzer *climatology.Analyzer
	composer *suitability.Composer

	mu       sync.Mutex
	sessions map[string]*simulate.Model
}

// New builds a service. st may be nil to skip persistence.
func New(records RecordSource, air AirQualitySource, st Store, clock clockwork.Clock, cfg Config) *Service {
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	def := DefaultConfig()
	if cfg.BaselineYears <= 0 {
		cfg.BaselineYears = def.BaselineYears
	}
	if cfg.Blend.Name == "" {
		cfg.Blend = def.Blend
	}
	if cfg.Climatology == (climatology.Config{}) {
		cfg.Climatology = def.Climatology
	}
	if cfg.MaxSessions <= 0 {
		cfg.MaxSessions = def.MaxSessions
	}
	return &Service{
		records:  records,
		air:      air,
		store:    st,
		clock:    clock,
		cfg:      cfg,
		analyzer: climatology.NewAnalyzer(cfg.Climatology),
		composer: suitability.NewComposer(cfg.Blend),
		sessions: make(map[string]*simulate.Model),
	}
}

// Analyze runs an analysis and stores it.
func (s *Service) Analyze(ctx context.Context, req Request) (*Result, error) {
	res, err := s.analyze(ctx, req)
	if err != nil {
		return nil, err
	}
	s.save(res, req)
	return res, nil
}

func (s *Service) analyze(ctx context.Context, req Request) (*Result, error) {
	began := time.Now()

	years := req.BaselineYears
	if years == 0 {
		years = s.cfg.BaselineYears
	}
	if years < MinBaselineYears || years > MaxBaselineYears {
		return nil, fmt.Errorf("baseline_years %d: %w", years, ErrInvalidRequest)
	}
	strategy := req.Strategy
	if strategy == "" {
		strategy = suitability.StrategyBasic
		if req.Preset != nil {
			strategy = suitability.StrategyComposite
		}
	}
	if _, err := suitability.ParseStrategy(string(strategy)); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidRequest, err)
	}
	if req.Preset != nil {
		if err := req.Preset.Validate(); err != nil {
			return nil, fmt.Errorf("%w: %w", ErrInvalidRequest, err)
		}
	}

	now := s.clock.Now()
	start, end := ingest.BaselineWindow(now, years)

	var records []models.DailyRecord
	var aq models.AirQuality
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		var err error
		records, err = s.records.Records(gctx, req.Location, start, end)
		return err
	})
	g.Go(func() error {
		aq = s.air.AirQuality(gctx, req.Location)
		return nil
	})
	if err := g.Wait(); err != nil {
		return nil, fmt.Errorf("load baseline: %w", err)
	}

	res := &Result{
		Location:   req.Location,
		Date:       req.Date.Format(time.DateOnly),
		Strategy:   strategy,
		AirQuality: aq,
	}

	a, err := s.analyzer.Analyze(records, req.Date.Month(), req.Date.Day())
	switch {
	case err == nil:
		s.historical(res, a, req.Preset)
		res.Metadata = Metadata{
			DataSource:         "NASA POWER (power.larc.nasa.gov)",
			Model:              "MERRA-2 Reanalysis",
			SpatialResolution:  "0.5° × 0.625°",
			TemporalResolution: "Daily",
			HistoricalPeriod:   fmt.Sprintf("%d-%d", start.Year(), end.Year()),
			TotalYears:         a.LocationStats.TotalYears,
			TotalRecords:       a.LocationStats.TotalRecords,
		}
	case errors.Is(err, climatology.ErrNoHistoricalData):
		log.Printf("analysis: %s %s: %v, using substitute model", req.Location.Key(), res.Date, err)
		metrics.FallbacksTotal.WithLabelValues("substitute").Inc()
		s.substitute(res, req, now)
		res.Metadata = Metadata{
			DataSource:         "Substitute model",
			Model:              "Feature-engineered climate zone model",
			SpatialResolution:  "Point",
			TemporalResolution: "Instantaneous",
		}
	default:
		return nil, err
	}
	res.Metadata.AnalysisTimestamp = now

	if strategy == suitability.StrategyBasic || res.Suitability == nil {
		res.SuitabilityScore = res.RiskAssessment.SuitabilityScore
	} else {
		res.SuitabilityScore = models.Fixed1(res.Suitability.Score)
	}

	metrics.AnalysesTotal.WithLabelValues(string(res.Path), string(strategy)).Inc()
	metrics.AnalysisLatency.WithLabelValues(string(res.Path)).Observe(time.Since(began).Seconds())
	return res, nil
}

func (s *Service) historical(res *Result, a *climatology.Analysis, preset *suitability.Preset) {
	res.Path = PathHistorical
	res.Probabilities = a.Probabilities
	res.HistoricalAverages = &a.HistoricalAverages
	res.Thresholds = &a.Thresholds
	res.Ranges = &a.Ranges
	res.Percentiles = &a.Percentiles
	res.ClimateTrends = &a.ClimateTrend
	res.RiskAssessment = risk.Assess(a.Probabilities)
	res.FactorAssessment = risk.AssessFactors(risk.Factors(a.Probabilities))
	res.Health = res.AirQuality.Health()

	var p suitability.Preset
	if preset != nil {
		p = *preset
	}
	resolved := p.Resolve()
	avg := a.HistoricalAverages
	match := suitability.HistoricalHelpers.Match(float64(avg.Temperature), float64(avg.WindSpeed),
		float64(avg.Humidity), float64(avg.Precipitation), resolved.Ranges)
	b := s.composer.Compose(match, float64(res.AirQuality.AQI), suitability.RiskInputsFrom(a.Probabilities), resolved.Weights)
	res.Suitability = &b
	if preset != nil {
		res.Preset = &resolved
	}
}

func (s *Service) substitute(res *Result, req Request, now time.Time) {
	var p suitability.Preset
	if req.Preset != nil {
		p = *req.Preset
	}
	at := time.Date(req.Date.Year(), req.Date.Month(), req.Date.Day(), now.Hour(), now.Minute(), 0, 0, time.UTC)
	b := s.model(req.Session, req.Location, req.Date).PredictAt(at, req.Location, p)

	res.Path = PathSubstitute
	res.Substitute = &b
	res.Probabilities = b.Probabilities
	res.RiskAssessment = risk.Assess(b.Probabilities)
	res.FactorAssessment = b.Risk
	res.Suitability = &b.Suitability
	res.Health = b.Health
	if req.Preset != nil {
		res.Preset = &b.Preset
	}
}

// model returns the session's model, creating it on first use. Without a
// session the model is fresh and seeded from the location and date.
func (s *Service) model(session string, loc models.Location, day time.Time) *simulate.Model {
	if session == "" {
		return simulate.New(nil, simulate.NewSeeded(loc, day), s.clock, s.cfg.Simulate)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if m, ok := s.sessions[session]; ok {
		return m
	}
	if len(s.sessions) >= s.cfg.MaxSessions {
		for k := range s.sessions {
			delete(s.sessions, k)
			break
		}
	}
	m := simulate.New(simulate.NewHistoryBuffer(simulate.DefaultHistorySize), simulate.NewSeeded(loc, day), s.clock, s.cfg.Simulate)
	s.sessions[session] = m
	return m
}

// Sessions reports how many session models are live.
func (s *Service) Sessions() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.sessions)
}

// Simulate returns a smoothed synthetic series of days ending yesterday.
func (s *Service) Simulate(loc models.Location, days int, preset *suitability.Preset, session string) (simulate.Series, error) {
	if days < 1 || days > 366 {
		return simulate.Series{}, fmt.Errorf("days %d: %w", days, ErrInvalidRequest)
	}
	var p suitability.Preset
	if preset != nil {
		if err := preset.Validate(); err != nil {
			return simulate.Series{}, fmt.Errorf("%w: %w", ErrInvalidRequest, err)
		}
		p = *preset
	}
	return s.model(session, loc, s.clock.Now()).Series(days, loc, p), nil
}

func (s *Service) save(res *Result, req Request) {
	if s.store == nil {
		return
	}
	res.ID = uuid.NewString()
	body, err := json.Marshal(res)
	if err != nil {
		log.Printf("analysis: marshal %s: %v", res.ID, err)
		res.ID = ""
		return
	}
	rec := store.AnalysisRecord{
		ID:        res.ID,
		CreatedAt: res.Metadata.AnalysisTimestamp,
		Location:  res.Location,
		Date:      res.Date,
		Path:      string(res.Path),
		Strategy:  string(res.Strategy),
		Score:     float64(res.SuitabilityScore),
		Result:    body,
	}
	if req.Preset != nil {
		rec.Preset = req.Preset.Name
	}
	if _, err := s.store.SaveAnalysis(rec); err != nil {
		log.Printf("analysis: save %s: %v", res.ID, err)
		res.ID = ""
	}
}

// Get loads a stored analysis.
func (s *Service) Get(id string) (*Result, error) {
	if s.store == nil {
		return nil, fmt.Errorf("analysis %s: %w", id, store.ErrNotFound)
	}
	rec, err := s.store.GetAnalysis(id)
	if err != nil {
		return nil, err
	}
	var res Result
	if err := json.Unmarshal(rec.Result, &res); err != nil {
		return nil, fmt.Errorf("decode analysis %s: %w", id, err)
	}
	return &res, nil
}
