// Package suitability combines weather match, air quality and risk into a
// single 0-100 score for an activity preset.
package suitability

import (
	"fmt"
	"math"

	"github.com/lox/fairweather/internal/models"
)

// Helpers holds the penalty slopes for the range scoring helpers. The two
// prediction paths use different slopes.
type Helpers struct {
	InRange  float64
	MaxValue float64
}

var (
	HistoricalHelpers = Helpers{InRange: 5, MaxValue: 5}
	SubstituteHelpers = Helpers{InRange: 3, MaxValue: 4}
)

// ScoreInRange is 100 inside [min,max], otherwise 100 minus k per unit of
// distance to the nearest bound, floored at 0.
func ScoreInRange(v, min, max, k float64) float64 {
	if v >= min && v <= max {
		return 100
	}
	dist := math.Min(math.Abs(v-min), math.Abs(v-max))
	return models.Clamp(100-dist*k, 0, 100)
}

// ScoreMaxValue is 100 at or below max, otherwise 100 minus k per unit over.
func ScoreMaxValue(v, max, k float64) float64 {
	if v <= max {
		return 100
	}
	return models.Clamp(100-(v-max)*k, 0, 100)
}

// WeatherMatch holds the four per-category match scores, each 0-100.
type WeatherMatch struct {
	TemperatureInRange    float64 `json:"temperature"`
	WindUnderMax          float64 `json:"wind"`
	HumidityUnderMax      float64 `json:"humidity"`
	PrecipitationUnderMax float64 `json:"precipitation"`
}

// Match scores observed or predicted values against the preset ranges.
func (h Helpers) Match(temp, wind, humidity, precip float64, r Ranges) WeatherMatch {
	return WeatherMatch{
		TemperatureInRange:    ScoreInRange(temp, r.TempMin, r.TempMax, h.InRange),
		WindUnderMax:          ScoreMaxValue(wind, r.WindMax, h.MaxValue),
		HumidityUnderMax:      ScoreMaxValue(humidity, r.HumidityMax, h.MaxValue),
		PrecipitationUnderMax: ScoreMaxValue(precip, r.PrecipMax, h.MaxValue),
	}
}

// RiskInputs are the risk probabilities the composer inverts.
type RiskInputs struct {
	ExtremeHeat   float64
	ExtremeCold   float64
	HighWind      float64
	Uncomfortable float64
}

func RiskInputsFrom(p models.ProbabilitySet) RiskInputs {
	return RiskInputs{
		ExtremeHeat:   p.Get(models.VeryHot),
		ExtremeCold:   p.Get(models.VeryCold),
		HighWind:      p[models.HighWind],
		Uncomfortable: p[models.Uncomfortable],
	}
}

// Blend is a named weighting of the three components plus the floor above
// which a risk value counts as significant.
type Blend struct {
	Name    string
	Weather float64
	Health  float64
	Risk    float64
	Floor   float64
}

var (
	Planner   = Blend{Name: "planner", Weather: 0.75, Health: 0.2, Risk: 0.05, Floor: 30}
	Dashboard = Blend{Name: "dashboard", Weather: 0.7, Health: 0.2, Risk: 0.1, Floor: 50}
)

var blends = map[string]Blend{
	Planner.Name:   Planner,
	Dashboard.Name: Dashboard,
}

func BlendByName(name string) (Blend, error) {
	b, ok := blends[name]
	if !ok {
		return Blend{}, fmt.Errorf("unknown blend %q", name)
	}
	return b, nil
}

// Combine rounds and clamps the blended component scores.
func (b Blend) Combine(weather, health, risk float64) float64 {
	return models.Clamp(math.Round(weather*b.Weather+health*b.Health+risk*b.Risk), 0, 100)
}

// Breakdown is the composed score with each component kept for display.
type Breakdown struct {
	Blend          string        `json:"blend"`
	Weather        models.Fixed1 `json:"weather_score"`
	Health         models.Fixed1 `json:"health_score"`
	Risk           models.Fixed1 `json:"risk_score"`
	Score          int           `json:"score"`
	PresetWeighted int           `json:"preset_weighted_score"`
}

type Composer struct {
	blend Blend
}

func NewComposer(b Blend) *Composer {
	return &Composer{blend: b}
}

func (c *Composer) Blend() Blend { return c.blend }

// Compose blends the weather match, the AQI-derived health score and the
// inverted risk. Weights whose weather part sums to zero fall back to a
// divisor of 1; callers that care should run Weights.Validate first.
func (c *Composer) Compose(match WeatherMatch, aqi float64, risk RiskInputs, w Weights) Breakdown {
	weather := WeatherScore(match, w)
	health := HealthScore(aqi)
	riskScore := RiskScore(risk, c.blend.Floor)

	return Breakdown{
		Blend:          c.blend.Name,
		Weather:        models.Fixed1(models.Round(weather, 1)),
		Health:         models.Fixed1(models.Round(health, 1)),
		Risk:           models.Fixed1(models.Round(riskScore, 1)),
		Score:          int(c.blend.Combine(weather, health, riskScore)),
		PresetWeighted: PresetWeighted(match, aqi, w),
	}
}

// WeatherScore is the weighted mean of the four match scores using the
// weather weights renormalised to sum to 1.
func WeatherScore(m WeatherMatch, w Weights) float64 {
	sum := w.weatherSum()
	if sum <= 0 || math.IsNaN(sum) {
		sum = 1
	}
	v := (m.TemperatureInRange*w.Temp +
		m.WindUnderMax*w.Wind +
		m.HumidityUnderMax*w.Humidity +
		m.PrecipitationUnderMax*w.Precipitation) / sum
	return models.ClampPercent(v)
}

// HealthScore maps AQI 0..500 linearly onto 100..0.
func HealthScore(aqi float64) float64 {
	return models.ClampPercent(100 - aqi/500*100)
}

// RiskScore inverts the mean of the risk values strictly above floor.
// With nothing significant the score is 100.
func RiskScore(r RiskInputs, floor float64) float64 {
	var sum float64
	var n int
	for _, v := range []float64{r.ExtremeHeat, r.ExtremeCold, r.HighWind, r.Uncomfortable} {
		if v > floor {
			sum += v
			n++
		}
	}
	if n == 0 {
		return 100
	}
	return models.ClampPercent(100 - sum/float64(n))
}

// PresetWeighted is the single-formula score where the air-quality weight
// applies to an AQI score of 100 - aqi/3.
func PresetWeighted(m WeatherMatch, aqi float64, w Weights) int {
	aqiScore := math.Max(0, 100-aqi/3)
	v := m.TemperatureInRange*w.Temp +
		m.WindUnderMax*w.Wind +
		m.HumidityUnderMax*w.Humidity +
		m.PrecipitationUnderMax*w.Precipitation +
		aqiScore*w.AirQuality
	return int(models.Clamp(math.Round(v), 0, 100))
}

// Strategy selects between the basic risk score and the composed score.
type Strategy string

const (
	StrategyBasic     Strategy = "basic"
	StrategyComposite Strategy = "composite"
)

func ParseStrategy(s string) (Strategy, error) {
	switch Strategy(s) {
	case StrategyBasic, StrategyComposite:
		return Strategy(s), nil
	}
	return "", fmt.Errorf("unknown strategy %q", s)
}
