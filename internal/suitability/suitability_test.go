package suitability

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lox/fairweather/internal/models"
)

func perfectMatch() WeatherMatch {
	return WeatherMatch{
		TemperatureInRange:    100,
		WindUnderMax:          100,
		HumidityUnderMax:      100,
		PrecipitationUnderMax: 100,
	}
}

func TestBlendCombine_AllHundred(t *testing.T) {
	for _, b := range []Blend{Planner, Dashboard} {
		t.Run(b.Name, func(t *testing.T) {
			assert.Equal(t, 100.0, b.Combine(100, 100, 100))
		})
	}
}

func TestCompose_PerfectInputs(t *testing.T) {
	for _, b := range []Blend{Planner, Dashboard} {
		t.Run(b.Name, func(t *testing.T) {
			got := NewComposer(b).Compose(perfectMatch(), 0, RiskInputs{}, DefaultWeights())
			assert.Equal(t, 100, got.Score)
			assert.Equal(t, models.Fixed1(100), got.Weather)
			assert.Equal(t, models.Fixed1(100), got.Health)
			assert.Equal(t, models.Fixed1(100), got.Risk)
			assert.Equal(t, b.Name, got.Blend)
		})
	}
}

func TestCompose_BlendsDiffer(t *testing.T) {
	match := WeatherMatch{TemperatureInRange: 80, WindUnderMax: 60, HumidityUnderMax: 100, PrecipitationUnderMax: 40}
	risk := RiskInputs{ExtremeHeat: 40, Uncomfortable: 60}

	planner := NewComposer(Planner).Compose(match, 100, risk, DefaultWeights())
	dashboard := NewComposer(Dashboard).Compose(match, 100, risk, DefaultWeights())

	// weather: (80*0.3 + 60*0.2 + 100*0.15 + 40*0.25) / 0.9 = 67.777...
	assert.Equal(t, models.Fixed1(67.8), planner.Weather)
	assert.Equal(t, models.Fixed1(80), planner.Health)
	// planner floor 30: both values count, mean 50.
	assert.Equal(t, models.Fixed1(50), planner.Risk)
	// dashboard floor 50: only 60 counts.
	assert.Equal(t, models.Fixed1(40), dashboard.Risk)

	assert.Equal(t, 69, planner.Score)   // 50.83 + 16 + 2.5 = 69.33
	assert.Equal(t, 67, dashboard.Score) // 47.44 + 16 + 4 = 67.44
}

func TestWeatherScore_ZeroWeightsUseDivisorOne(t *testing.T) {
	w := Weights{AirQuality: 1}
	assert.Equal(t, 0.0, WeatherScore(perfectMatch(), w))

	err := w.Validate()
	require.Error(t, err)
	var ipe *InvalidPresetError
	assert.True(t, errors.As(err, &ipe))
}

func TestWeatherScore_ExcludesAirQuality(t *testing.T) {
	a := DefaultWeights()
	b := DefaultWeights()
	b.AirQuality = 0.9
	m := WeatherMatch{TemperatureInRange: 10, WindUnderMax: 90, HumidityUnderMax: 50, PrecipitationUnderMax: 70}
	assert.InDelta(t, WeatherScore(m, a), WeatherScore(m, b), 1e-12)
}

func TestHealthScore(t *testing.T) {
	assert.Equal(t, 100.0, HealthScore(0))
	assert.Equal(t, 50.0, HealthScore(250))
	assert.Equal(t, 0.0, HealthScore(500))
	assert.Equal(t, 0.0, HealthScore(900))
}

func TestRiskScore_FloorIsStrict(t *testing.T) {
	assert.Equal(t, 100.0, RiskScore(RiskInputs{ExtremeHeat: 30, HighWind: 30}, 30))
	assert.Equal(t, 69.0, RiskScore(RiskInputs{ExtremeHeat: 31, HighWind: 30}, 30))
	assert.Equal(t, 100.0, RiskScore(RiskInputs{}, 50))
}

func TestScoreHelpers(t *testing.T) {
	tests := []struct {
		name string
		got  float64
		want float64
	}{
		{"in range", ScoreInRange(20, 18, 26, 5), 100},
		{"on bound", ScoreInRange(26, 18, 26, 5), 100},
		{"below range k5", ScoreInRange(16, 18, 26, 5), 90},
		{"above range k3", ScoreInRange(30, 18, 26, 3), 88},
		{"floored", ScoreInRange(-40, 18, 26, 5), 0},
		{"under max", ScoreMaxValue(10, 15, 4), 100},
		{"over max k4", ScoreMaxValue(20, 15, 4), 80},
		{"over max k5", ScoreMaxValue(20, 15, 5), 75},
		{"max floored", ScoreMaxValue(100, 2, 5), 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, tt.got)
		})
	}
}

func TestHelpersMatch(t *testing.T) {
	r := DefaultRanges()
	got := SubstituteHelpers.Match(28, 15, 75, 3, r)
	assert.Equal(t, WeatherMatch{
		TemperatureInRange:    94,
		WindUnderMax:          100,
		HumidityUnderMax:      80,
		PrecipitationUnderMax: 96,
	}, got)

	hist := HistoricalHelpers.Match(28, 15, 75, 3, r)
	assert.Equal(t, 90.0, hist.TemperatureInRange)
	assert.Equal(t, 75.0, hist.HumidityUnderMax)
}

func TestPresetWeighted(t *testing.T) {
	// aqi 30 gives an aqi score of 90.
	got := PresetWeighted(perfectMatch(), 30, DefaultWeights())
	assert.Equal(t, 99, got)

	assert.Equal(t, 100, PresetWeighted(perfectMatch(), 0, DefaultWeights()))
}

func TestRiskInputsFrom(t *testing.T) {
	p := models.ProbabilitySet{
		models.ExtremeHeat:   12,
		models.VeryCold:      7,
		models.HighWind:      3,
		models.Uncomfortable: 44,
	}
	assert.Equal(t, RiskInputs{ExtremeHeat: 12, ExtremeCold: 7, HighWind: 3, Uncomfortable: 44}, RiskInputsFrom(p))
}

func TestBlendByName(t *testing.T) {
	b, err := BlendByName("dashboard")
	require.NoError(t, err)
	assert.Equal(t, Dashboard, b)

	_, err = BlendByName("weekend")
	assert.Error(t, err)
}

func TestParseStrategy(t *testing.T) {
	s, err := ParseStrategy("composite")
	require.NoError(t, err)
	assert.Equal(t, StrategyComposite, s)

	_, err = ParseStrategy("fancy")
	assert.Error(t, err)
}
