package simulate

import (
	"math"

	"github.com/lox/fairweather/internal/models"
)

// Rand is the perturbation source. *math/rand/v2.Rand satisfies it.
type Rand interface {
	Float64() float64
}

// jitter returns a uniform value in [-span/2, span/2).
func jitter(r Rand, span float64) float64 {
	return (r.Float64() - 0.5) * span
}

func diurnal(hour int) float64 {
	return math.Sin(float64(hour) * math.Pi / 12)
}

func temperature(f FeatureVector, r Rand) float64 {
	t := f.TempLag1 * 0.85
	t += f.SeasonalFactor * 3.2
	t += f.DailyFactor * 2.1
	t += (f.PressureLag1 - 1013) * 0.08
	t += f.TempHumidityInteraction * 0.001
	t += jitter(r, 1.5)
	return models.Clamp(t, -20, 45)
}

func humidity(f FeatureVector, r Rand) float64 {
	h := f.HumidityLag1 * 0.7
	h += (25 - f.TempLag1) * 1.8
	h += f.SeasonalFactor * 4
	h += (1013 - f.PressureLag1) * 0.15
	h += diurnal(f.HourOfDay) * 8
	h += jitter(r, 8)
	return models.Clamp(h, 15, 95)
}

func pressure(f FeatureVector, r Rand) float64 {
	p := f.PressureLag1 * 0.95
	p += f.SeasonalFactor * 3.5
	p += diurnal(f.HourOfDay) * 2
	p += jitter(r, 8)
	return models.Clamp(p, 980, 1040)
}

func windSpeed(f FeatureVector, r Rand) float64 {
	w := 6 + math.Abs(f.PressureLag1-1013)*0.2
	w += f.SeasonalFactor * 3
	w += math.Abs(f.DailyFactor) * 2
	w += r.Float64() * 6
	return models.Clamp(w, 0, 40)
}

// precipitation is a Bernoulli draw: no rain when the draw is at or above
// the derived chance, otherwise a second draw scaled to 0-8 mm.
func precipitation(f FeatureVector, r Rand) float64 {
	humid := math.Max(0, f.HumidityLag1-60) * 0.1
	low := math.Max(0, 1015-f.PressureLag1) * 0.05
	season := math.Max(0, f.SeasonalFactor) * 2
	chance := (humid + low + season) / 100

	if r.Float64() >= chance {
		return 0
	}
	return r.Float64() * 8
}

func cloudCover(f FeatureVector, r Rand) float64 {
	c := (f.HumidityLag1 - 40) * 1.2
	c += (1013 - f.PressureLag1) * 2.5
	c += f.SeasonalFactor * 10
	c += jitter(r, 25)
	return models.Clamp(c, 0, 100)
}

func uvIndex(f FeatureVector, r Rand) float64 {
	uv := 6 + f.SeasonalFactor*4 + f.DailyFactor*3
	uv = math.Max(0, uv-math.Max(0, f.HumidityLag1-50)*0.08)
	uv += jitter(r, 1.5)
	return models.Clamp(uv, 0, 12)
}

func airQuality(f FeatureVector, r Rand, ceiling float64) float64 {
	a := 45 + f.SeasonalFactor*25
	a += (f.TempLag1 - 15) * 0.8
	a += math.Max(0, 30-float64(f.HourOfDay)) * 0.5
	a += jitter(r, 30)
	return models.Clamp(a, 0, ceiling)
}

// Probabilities maps raw quantities onto condition probabilities with fixed
// linear mappings.
func Probabilities(b Bundle) models.ProbabilitySet {
	t, h, w, p := b.Temperature, b.Humidity, b.WindSpeed, b.Precipitation
	return models.ProbabilitySet{
		models.Rain:         models.ClampPercent(b.CloudCover*0.8 + h*0.4 - 40 + p*15),
		models.HeavyRain:    models.ClampPercent(p * 18),
		models.ExtremeHeat:  models.ClampPercent((t - 32) * 4),
		models.ExtremeCold:  models.ClampPercent((5 - t) * 6),
		models.HighWind:     models.ClampPercent((w - 20) * 3),
		models.HighHumidity: models.ClampPercent((h - 80) * 5),
		models.Uncomfortable: models.ClampPercent(
			(math.Abs(t-22)*2 + math.Abs(h-50)*1.2 + math.Max(0, w-25)*1.5) / 3,
		),
	}
}

// healthData derives pollutant readings from the AQI and UV index. Only
// PM2.5 and PM10 track AQI closely; the rest are bounded placeholders.
func healthData(aqi, uv float64, r Rand) models.HealthData {
	pm25 := aqi * 0.4
	pm10 := aqi * 0.6
	return models.HealthData{
		AQI: models.Reading{
			Value:  int(math.Round(aqi)),
			Status: models.AQIStatus(aqi),
			Level:  models.AQILevel(aqi),
		},
		PM25: models.Reading{
			Value:  int(math.Round(pm25 + r.Float64()*5)),
			Status: models.PMStatus(pm25),
			Level:  models.PMLevel(pm25),
		},
		PM10: models.Reading{
			Value:  int(math.Round(pm10 + r.Float64()*10)),
			Status: models.PMStatus(pm10),
			Level:  models.PMLevel(pm10),
		},
		NO2: models.Reading{
			Value:  int(math.Round(10 + r.Float64()*40 + aqi/10)),
			Status: "Moderate",
			Level:  2,
		},
		O3: models.Reading{
			Value:  int(math.Round(30 + uv*8 + r.Float64()*20)),
			Status: "Moderate",
			Level:  2,
		},
		SO2: models.Reading{
			Value:  int(math.Round(5 + r.Float64()*15 + aqi/20)),
			Status: "Good",
			Level:  1,
		},
	}
}
