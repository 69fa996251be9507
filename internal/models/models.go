package models

import (
	"math"
	"strconv"
	"time"
)

// DailyRecord is one day of observations at a location.
// Units: °C, mm/day, m/s, %.
type DailyRecord struct {
	Date           time.Time
	Temperature    float64
	MaxTemperature float64
	MinTemperature float64
	Precipitation  float64
	WindSpeed      float64
	Humidity       float64
}

type Location struct {
	Latitude  float64 `json:"latitude"`
	Longitude float64 `json:"longitude"`
	Name      string  `json:"name,omitempty"`
}

// Key is a stable identifier used for caching records by location, at the
// provider's grid resolution (~0.5°) rounded to two decimals.
func (l Location) Key() string {
	return strconv.FormatFloat(l.Latitude, 'f', 2, 64) + "," + strconv.FormatFloat(l.Longitude, 'f', 2, 64)
}

type Condition string

const (
	Rain          Condition = "rain"
	HeavyRain     Condition = "heavy_rain"
	VeryHot       Condition = "very_hot"
	VeryCold      Condition = "very_cold"
	HighWind      Condition = "high_wind"
	HighHumidity  Condition = "high_humidity"
	Uncomfortable Condition = "uncomfortable"

	// Aliases produced by the substitute model.
	ExtremeHeat Condition = "extreme_heat"
	ExtremeCold Condition = "extreme_cold"
)

// Conditions lists the canonical conditions in reporting order.
var Conditions = []Condition{Rain, HeavyRain, VeryHot, VeryCold, HighWind, HighHumidity, Uncomfortable}

var aliases = map[Condition]Condition{
	VeryHot:  ExtremeHeat,
	VeryCold: ExtremeCold,
}

// ProbabilitySet maps a condition to its probability in percent.
type ProbabilitySet map[Condition]float64

// Get returns the probability for c, falling back to its substitute-model
// alias when the canonical key is absent. Missing conditions read as 0.
func (p ProbabilitySet) Get(c Condition) float64 {
	if v, ok := p[c]; ok {
		return v
	}
	if alias, ok := aliases[c]; ok {
		return p[alias]
	}
	return 0
}

// Has reports whether c or its alias is present.
func (p ProbabilitySet) Has(c Condition) bool {
	if _, ok := p[c]; ok {
		return true
	}
	alias, ok := aliases[c]
	if !ok {
		return false
	}
	_, ok = p[alias]
	return ok
}

// Fixed1 is a value that always renders with exactly one decimal.
type Fixed1 float64

func (f Fixed1) String() string { return strconv.FormatFloat(float64(f), 'f', 1, 64) }

func (f Fixed1) MarshalJSON() ([]byte, error) { return []byte(f.String()), nil }

// Fixed2 is a value that always renders with exactly two decimals.
type Fixed2 float64

func (f Fixed2) String() string { return strconv.FormatFloat(float64(f), 'f', 2, 64) }

func (f Fixed2) MarshalJSON() ([]byte, error) { return []byte(f.String()), nil }

// Round rounds v half away from zero to the given number of decimals.
func Round(v float64, places int) float64 {
	scale := math.Pow(10, float64(places))
	return math.Round(v*scale) / scale
}

// Clamp bounds v to [lo, hi]. NaN maps to lo.
func Clamp(v, lo, hi float64) float64 {
	if math.IsNaN(v) || v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

// ClampPercent bounds v to [0, 100].
func ClampPercent(v float64) float64 {
	return Clamp(v, 0, 100)
}

// SampleLocations are well-known places offered to clients and used to warm
// the record cache.
var SampleLocations = []Location{
	{Name: "New York, NY", Latitude: 40.7128, Longitude: -74.0060},
	{Name: "Los Angeles, CA", Latitude: 34.0522, Longitude: -118.2437},
	{Name: "Chicago, IL", Latitude: 41.8781, Longitude: -87.6298},
	{Name: "Phoenix, AZ", Latitude: 33.4484, Longitude: -112.0740},
	{Name: "Miami, FL", Latitude: 25.7617, Longitude: -80.1918},
	{Name: "London, UK", Latitude: 51.5074, Longitude: -0.1278},
	{Name: "Tokyo, Japan", Latitude: 35.6762, Longitude: 139.6503},
	{Name: "Sydney, Australia", Latitude: -33.8688, Longitude: 151.2093},
}
