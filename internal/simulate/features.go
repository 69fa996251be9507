package simulate

import (
	"math"
	"time"

	"github.com/lox/fairweather/internal/models"
)

// Zone is a coarse climate classification by absolute latitude.
type Zone string

const (
	Tropical  Zone = "tropical"
	Temperate Zone = "temperate"
	Polar     Zone = "polar"
)

func ZoneFor(lat float64) Zone {
	switch abs := math.Abs(lat); {
	case abs < 23.5:
		return Tropical
	case abs < 50:
		return Temperate
	default:
		return Polar
	}
}

// Baseline is the zone's expected conditions for a seasonal and diurnal phase.
type Baseline struct {
	Temperature float64
	Humidity    float64
	Pressure    float64
}

func (z Zone) Baseline(seasonal, daily float64) Baseline {
	var b Baseline
	switch z {
	case Tropical:
		b = Baseline{
			Temperature: 26 + seasonal*3 + daily*4,
			Humidity:    75 + seasonal*10,
			Pressure:    1010 + seasonal*3,
		}
	case Temperate:
		b = Baseline{
			Temperature: 15 + seasonal*15 + daily*5,
			Humidity:    60 + seasonal*15,
			Pressure:    1013 + seasonal*5,
		}
	default:
		b = Baseline{
			Temperature: seasonal*20 + daily*3,
			Humidity:    65 + seasonal*10,
			Pressure:    1015 + seasonal*8,
		}
	}
	b.Humidity = models.Clamp(b.Humidity, 20, 100)
	return b
}

// FeatureVector is the model input for a single prediction.
type FeatureVector struct {
	TempLag1     float64
	TempLag2     float64
	HumidityLag1 float64
	PressureLag1 float64
	HourOfDay    int
	DayOfYear    int

	SeasonalFactor float64
	DailyFactor    float64

	TempHumidityInteraction     float64
	PressureSeasonalInteraction float64
	HourSeasonalInteraction     float64
}

// SolarHour approximates local time from longitude: UTC hour plus one hour
// per 15 degrees east.
func SolarHour(t time.Time, lon float64) int {
	h := (t.UTC().Hour() + int(math.Round(lon/15))) % 24
	if h < 0 {
		h += 24
	}
	return h
}

// BuildFeatures derives the features for a prediction at t. Lags come from
// the average of recent (at most the last three bundles are used); with an
// empty history the zone baseline stands in.
func BuildFeatures(t time.Time, loc models.Location, recent []Bundle) FeatureVector {
	hour := SolarHour(t, loc.Longitude)
	doy := t.UTC().YearDay()
	seasonal := math.Sin(2 * math.Pi * float64(doy) / 365)
	daily := math.Sin(2 * math.Pi * float64(hour) / 24)

	base := ZoneFor(loc.Latitude).Baseline(seasonal, daily)
	f := FeatureVector{
		TempLag1:       base.Temperature,
		TempLag2:       base.Temperature,
		HumidityLag1:   base.Humidity,
		PressureLag1:   base.Pressure,
		HourOfDay:      hour,
		DayOfYear:      doy,
		SeasonalFactor: seasonal,
		DailyFactor:    daily,
	}

	if len(recent) > 3 {
		recent = recent[len(recent)-3:]
	}
	if len(recent) > 0 {
		var temp, hum, pres float64
		for _, b := range recent {
			temp += b.Temperature
			hum += b.Humidity
			pres += b.Pressure
		}
		n := float64(len(recent))
		f.TempLag1 = temp / n
		f.HumidityLag1 = hum / n
		f.PressureLag1 = pres / n
		if len(recent) > 1 {
			f.TempLag2 = recent[len(recent)-2].Temperature
		}
	}

	f.TempHumidityInteraction = f.TempLag1 * f.HumidityLag1
	f.PressureSeasonalInteraction = f.PressureLag1 * f.SeasonalFactor
	f.HourSeasonalInteraction = float64(f.HourOfDay) * f.SeasonalFactor
	return f
}
