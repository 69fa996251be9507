// Package climatology derives empirical weather probabilities for a calendar
// date from a multi-year record of daily observations.
package climatology

import (
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/lox/fairweather/internal/models"
	"github.com/lox/fairweather/internal/stats"
)

// ErrNoHistoricalData is returned when no record matches the target date.
// Callers are expected to fall back to the substitute model.
var ErrNoHistoricalData = errors.New("no historical data available for this date")

const (
	RainThreshold         = 1.0
	HeavyRainThreshold    = 10.0
	HighHumidityThreshold = 80.0

	trendYears     = 5
	trendDelta     = 1.0
	uncomfortHot   = 27.0
	uncomfortHumid = 70.0
	uncomfortCold  = 5.0
	uncomfortHeat  = 35.0
)

// Config holds the k multipliers for the dynamic thresholds.
type Config struct {
	HotK  float64
	ColdK float64
	WindK float64
}

func DefaultConfig() Config {
	return Config{HotK: 1.5, ColdK: 1.5, WindK: 1.0}
}

type Analyzer struct {
	cfg Config
}

func NewAnalyzer(cfg Config) *Analyzer {
	return &Analyzer{cfg: cfg}
}

// Thresholds are the cutoffs used for one analysis.
type Thresholds struct {
	VeryHot      models.Fixed1 `json:"very_hot_threshold"`
	VeryCold     models.Fixed1 `json:"very_cold_threshold"`
	HighWind     models.Fixed1 `json:"high_wind_threshold"`
	Rain         models.Fixed1 `json:"rain_threshold"`
	HeavyRain    models.Fixed1 `json:"heavy_rain_threshold"`
	HighHumidity models.Fixed1 `json:"high_humidity_threshold"`
}

type Averages struct {
	Temperature    models.Fixed1 `json:"temperature"`
	MaxTemperature models.Fixed1 `json:"max_temperature"`
	MinTemperature models.Fixed1 `json:"min_temperature"`
	Precipitation  models.Fixed2 `json:"precipitation"`
	WindSpeed      models.Fixed1 `json:"wind_speed"`
	Humidity       models.Fixed1 `json:"humidity"`
}

type Range struct {
	Min float64 `json:"min"`
	Max float64 `json:"max"`
}

type Ranges struct {
	Temperature   Range `json:"temp_range"`
	Precipitation Range `json:"precipitation_range"`
	Wind          Range `json:"wind_range"`
}

type Percentiles struct {
	MaxTemperatureP10 models.Fixed1 `json:"max_temperature_p10"`
	MaxTemperatureP50 models.Fixed1 `json:"max_temperature_p50"`
	MaxTemperatureP90 models.Fixed1 `json:"max_temperature_p90"`
	PrecipitationP50  models.Fixed2 `json:"precipitation_p50"`
	PrecipitationP90  models.Fixed2 `json:"precipitation_p90"`
}

type Trend string

const (
	TrendStable  Trend = "stable"
	TrendWarming Trend = "warming"
	TrendCooling Trend = "cooling"
)

type ClimateTrend struct {
	Trend          Trend          `json:"temperature_trend"`
	RecentAvgTemp  *models.Fixed1 `json:"recent_avg_temp"`
	EarlierAvgTemp *models.Fixed1 `json:"earlier_avg_temp"`
}

type LocationStats struct {
	TotalYears   int    `json:"total_years"`
	TotalRecords int    `json:"total_records"`
	DateAnalyzed string `json:"date_analyzed"`
}

type Analysis struct {
	Probabilities      models.ProbabilitySet `json:"probabilities"`
	Thresholds         Thresholds            `json:"thresholds"`
	HistoricalAverages Averages              `json:"historical_averages"`
	Ranges             Ranges                `json:"ranges"`
	Percentiles        Percentiles           `json:"percentiles"`
	ClimateTrend       ClimateTrend          `json:"climate_trends"`
	LocationStats      LocationStats         `json:"location_stats"`
}

// Analyze runs the default analyzer.
func Analyze(records []models.DailyRecord, month time.Month, day int) (*Analysis, error) {
	return NewAnalyzer(DefaultConfig()).Analyze(records, month, day)
}

// Analyze filters records to the target month/day across all years and
// computes occurrence probabilities. Rounding happens only on output.
func (a *Analyzer) Analyze(records []models.DailyRecord, month time.Month, day int) (*Analysis, error) {
	slice := FilterByDate(records, month, day)
	if len(slice) == 0 {
		return nil, fmt.Errorf("%02d-%02d: %w", int(month), day, ErrNoHistoricalData)
	}

	n := len(slice)
	temps := make([]float64, n)
	maxTemps := make([]float64, n)
	minTemps := make([]float64, n)
	precip := make([]float64, n)
	wind := make([]float64, n)
	humidity := make([]float64, n)
	years := make(map[int]struct{})
	for i, r := range slice {
		temps[i] = r.Temperature
		maxTemps[i] = r.MaxTemperature
		minTemps[i] = r.MinTemperature
		precip[i] = r.Precipitation
		wind[i] = r.WindSpeed
		humidity[i] = r.Humidity
		years[r.Date.Year()] = struct{}{}
	}

	maxMean, maxSD := meanStd(maxTemps)
	minMean, minSD := meanStd(minTemps)
	windMean, windSD := meanStd(wind)

	hotThreshold := maxMean + a.cfg.HotK*maxSD
	coldThreshold := minMean - a.cfg.ColdK*minSD
	windThreshold := windMean + a.cfg.WindK*windSD

	uncomfortable := 0
	for i := range slice {
		if IsUncomfortable(temps[i], humidity[i]) {
			uncomfortable++
		}
	}

	probs := models.ProbabilitySet{
		models.Rain:          percent(countAtLeast(precip, RainThreshold), n),
		models.HeavyRain:     percent(countAtLeast(precip, HeavyRainThreshold), n),
		models.VeryHot:       percent(countAbove(maxTemps, hotThreshold), n),
		models.VeryCold:      percent(countBelow(minTemps, coldThreshold), n),
		models.HighWind:      percent(countAbove(wind, windThreshold), n),
		models.HighHumidity:  percent(countAtLeast(humidity, HighHumidityThreshold), n),
		models.Uncomfortable: percent(uncomfortable, n),
	}

	tempMean, _ := stats.Mean(temps)
	precipMean, _ := stats.Mean(precip)
	humidityMean, _ := stats.Mean(humidity)

	return &Analysis{
		Probabilities: probs,
		Thresholds: Thresholds{
			VeryHot:      models.Fixed1(models.Round(hotThreshold, 1)),
			VeryCold:     models.Fixed1(models.Round(coldThreshold, 1)),
			HighWind:     models.Fixed1(models.Round(windThreshold, 1)),
			Rain:         RainThreshold,
			HeavyRain:    HeavyRainThreshold,
			HighHumidity: HighHumidityThreshold,
		},
		HistoricalAverages: Averages{
			Temperature:    models.Fixed1(models.Round(tempMean, 1)),
			MaxTemperature: models.Fixed1(models.Round(maxMean, 1)),
			MinTemperature: models.Fixed1(models.Round(minMean, 1)),
			Precipitation:  models.Fixed2(models.Round(precipMean, 2)),
			WindSpeed:      models.Fixed1(models.Round(windMean, 1)),
			Humidity:       models.Fixed1(models.Round(humidityMean, 1)),
		},
		Ranges: Ranges{
			Temperature:   rangeOf(temps, 1),
			Precipitation: rangeOf(precip, 2),
			Wind:          rangeOf(wind, 1),
		},
		Percentiles:  percentiles(maxTemps, precip),
		ClimateTrend: climateTrend(slice),
		LocationStats: LocationStats{
			TotalYears:   len(years),
			TotalRecords: n,
			DateAnalyzed: fmt.Sprintf("%02d-%02d", int(month), day),
		},
	}, nil
}

// FilterByDate returns the records whose month and day match, in input order.
func FilterByDate(records []models.DailyRecord, month time.Month, day int) []models.DailyRecord {
	var out []models.DailyRecord
	for _, r := range records {
		if r.Date.Month() == month && r.Date.Day() == day {
			out = append(out, r)
		}
	}
	return out
}

// IsUncomfortable flags hot-and-humid, very cold, or very hot days.
func IsUncomfortable(temp, humidity float64) bool {
	return (temp > uncomfortHot && humidity > uncomfortHumid) || temp < uncomfortCold || temp > uncomfortHeat
}

// meanStd is only called with the non-empty filtered slice.
func meanStd(xs []float64) (float64, float64) {
	mean, _ := stats.Mean(xs)
	sd, _ := stats.StdDev(xs)
	return mean, sd
}

func countAtLeast(xs []float64, threshold float64) int {
	n := 0
	for _, x := range xs {
		if x >= threshold {
			n++
		}
	}
	return n
}

// countAbove and countBelow apply the dynamic cutoffs, which are strict so a
// slice with no spread never exceeds its own mean.
func countAbove(xs []float64, threshold float64) int {
	n := 0
	for _, x := range xs {
		if x > threshold {
			n++
		}
	}
	return n
}

func countBelow(xs []float64, threshold float64) int {
	n := 0
	for _, x := range xs {
		if x < threshold {
			n++
		}
	}
	return n
}

func percent(count, total int) float64 {
	return models.Round(float64(count)/float64(total)*100, 1)
}

func rangeOf(xs []float64, places int) Range {
	lo, _ := stats.Min(xs)
	hi, _ := stats.Max(xs)
	return Range{Min: models.Round(lo, places), Max: models.Round(hi, places)}
}

func percentiles(maxTemps, precip []float64) Percentiles {
	sortedMax := append([]float64(nil), maxTemps...)
	sort.Float64s(sortedMax)
	sortedPrecip := append([]float64(nil), precip...)
	sort.Float64s(sortedPrecip)

	at := func(xs []float64, p float64) float64 {
		v, _ := stats.Percentile(xs, p)
		return v
	}
	return Percentiles{
		MaxTemperatureP10: models.Fixed1(models.Round(at(sortedMax, 10), 1)),
		MaxTemperatureP50: models.Fixed1(models.Round(at(sortedMax, 50), 1)),
		MaxTemperatureP90: models.Fixed1(models.Round(at(sortedMax, 90), 1)),
		PrecipitationP50:  models.Fixed2(models.Round(at(sortedPrecip, 50), 2)),
		PrecipitationP90:  models.Fixed2(models.Round(at(sortedPrecip, 90), 2)),
	}
}

// climateTrend compares the most recent years in the slice with the rest.
func climateTrend(slice []models.DailyRecord) ClimateTrend {
	latest := slice[0].Date.Year()
	for _, r := range slice {
		if r.Date.Year() > latest {
			latest = r.Date.Year()
		}
	}
	cutoff := latest - trendYears + 1

	var recent, earlier []float64
	for _, r := range slice {
		if r.Date.Year() >= cutoff {
			recent = append(recent, r.Temperature)
		} else {
			earlier = append(earlier, r.Temperature)
		}
	}

	trend := ClimateTrend{Trend: TrendStable}
	if len(recent) == 0 || len(earlier) == 0 {
		return trend
	}

	recentMean, _ := stats.Mean(recent)
	earlierMean, _ := stats.Mean(earlier)
	r := models.Fixed1(models.Round(recentMean, 1))
	e := models.Fixed1(models.Round(earlierMean, 1))
	trend.RecentAvgTemp = &r
	trend.EarlierAvgTemp = &e

	switch diff := recentMean - earlierMean; {
	case diff > trendDelta:
		trend.Trend = TrendWarming
	case diff < -trendDelta:
		trend.Trend = TrendCooling
	}
	return trend
}
