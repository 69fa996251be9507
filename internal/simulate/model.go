// Package simulate synthesises plausible weather when no historical baseline
// is available for a location.
//
// The model is a set of fixed linear formulas driven by lagged values from
// its own recent output, seasonal and diurnal harmonics, and a bounded
// perturbation from an injected random source. With a seeded source and a
// frozen clock the output is fully reproducible.
package simulate

import (
	"math/rand/v2"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/zeebo/xxh3"

	"github.com/lox/fairweather/internal/models"
	"github.com/lox/fairweather/internal/risk"
	"github.com/lox/fairweather/internal/suitability"
)

// Config tunes a Model.
type Config struct {
	// AQICap is the upper clamp for the synthetic AQI.
	AQICap float64
	// Blend is the suitability blend applied to each prediction.
	Blend suitability.Blend
}

func DefaultConfig() Config {
	return Config{AQICap: 500, Blend: suitability.Planner}
}

// Bundle is one synthetic observation with everything derived from it.
type Bundle struct {
	Time          time.Time `json:"time"`
	Zone          Zone      `json:"zone"`
	Temperature   float64   `json:"temperature"`
	Humidity      float64   `json:"humidity"`
	Pressure      float64   `json:"pressure"`
	WindSpeed     float64   `json:"wind_speed"`
	Precipitation float64   `json:"precipitation"`
	CloudCover    float64   `json:"cloud_cover"`
	UVIndex       float64   `json:"uv_index"`
	AQI           float64   `json:"aqi"`

	Probabilities    models.ProbabilitySet `json:"probabilities"`
	Risk             risk.FactorAssessment `json:"risk_assessment"`
	Suitability      suitability.Breakdown `json:"suitability"`
	SuitabilityScore int                   `json:"suitability_score"`
	Health           models.HealthData     `json:"health_data"`
	Preset           suitability.Resolved  `json:"preset"`
}

// Model is a substitute weather generator. A Model serialises its own
// predictions; give each logical session its own Model and HistoryBuffer.
type Model struct {
	mu       sync.Mutex
	history  *HistoryBuffer
	rnd      Rand
	clock    clockwork.Clock
	cfg      Config
	composer *suitability.Composer
}

// New builds a model around a caller-owned history buffer. Nil arguments
// get an empty default buffer, a time-seeded source and the real clock.
func New(history *HistoryBuffer, rnd Rand, clock clockwork.Clock, cfg Config) *Model {
	if history == nil {
		history = NewHistoryBuffer(DefaultHistorySize)
	}
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	if rnd == nil {
		now := uint64(clock.Now().UnixNano())
		rnd = rand.New(rand.NewPCG(now, now>>1))
	}
	if cfg.AQICap <= 0 {
		cfg.AQICap = DefaultConfig().AQICap
	}
	if cfg.Blend.Name == "" {
		cfg.Blend = DefaultConfig().Blend
	}
	return &Model{
		history:  history,
		rnd:      rnd,
		clock:    clock,
		cfg:      cfg,
		composer: suitability.NewComposer(cfg.Blend),
	}
}

// NewSeeded returns a source seeded from a location and a day, so repeated
// requests for the same place and date perturb identically.
func NewSeeded(loc models.Location, day time.Time) *rand.Rand {
	seed := xxh3.HashString(loc.Key() + "@" + day.UTC().Format(time.DateOnly))
	return rand.New(rand.NewPCG(seed, seed^0x9e3779b97f4a7c15))
}

func (m *Model) History() *HistoryBuffer { return m.history }

func (m *Model) Config() Config { return m.cfg }

// Predict synthesises a bundle for the current time.
func (m *Model) Predict(loc models.Location, preset suitability.Preset) Bundle {
	return m.PredictAt(m.clock.Now(), loc, preset)
}

// PredictAt synthesises a bundle for t and appends it to the history.
func (m *Model) PredictAt(t time.Time, loc models.Location, preset suitability.Preset) Bundle {
	m.mu.Lock()
	defer m.mu.Unlock()

	f := BuildFeatures(t, loc, m.history.Recent(3))

	b := Bundle{
		Time:          t,
		Zone:          ZoneFor(loc.Latitude),
		Temperature:   temperature(f, m.rnd),
		Humidity:      humidity(f, m.rnd),
		Pressure:      pressure(f, m.rnd),
		WindSpeed:     windSpeed(f, m.rnd),
		Precipitation: precipitation(f, m.rnd),
		CloudCover:    cloudCover(f, m.rnd),
		UVIndex:       uvIndex(f, m.rnd),
		AQI:           airQuality(f, m.rnd, m.cfg.AQICap),
	}

	b.Probabilities = Probabilities(b)
	b.Risk = risk.AssessFactors(risk.Factors(b.Probabilities))

	b.Preset = preset.Resolve()
	match := suitability.SubstituteHelpers.Match(b.Temperature, b.WindSpeed, b.Humidity, b.Precipitation, b.Preset.Ranges)
	b.Suitability = m.composer.Compose(match, b.AQI, suitability.RiskInputsFrom(b.Probabilities), b.Preset.Weights)
	b.SuitabilityScore = b.Suitability.Score

	b.Health = healthData(b.AQI, b.UVIndex, m.rnd)

	m.history.Push(b)
	return b
}
