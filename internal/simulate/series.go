package simulate

import (
	"time"

	"github.com/lox/fairweather/internal/models"
	"github.com/lox/fairweather/internal/stats"
	"github.com/lox/fairweather/internal/suitability"
)

// Day is one smoothed, rounded point of a synthetic series.
type Day struct {
	Date          string        `json:"date"`
	Temperature   models.Fixed1 `json:"temperature"`
	TempMax       models.Fixed1 `json:"temp_max"`
	TempMin       models.Fixed1 `json:"temp_min"`
	Humidity      models.Fixed1 `json:"humidity"`
	Precipitation models.Fixed2 `json:"precipitation"`
	WindSpeed     models.Fixed1 `json:"wind_speed"`
	CloudCover    models.Fixed1 `json:"cloud_cover"`
}

type SeriesAverages struct {
	Temperature   models.Fixed1 `json:"temperature"`
	TempMax       models.Fixed1 `json:"temp_max"`
	TempMin       models.Fixed1 `json:"temp_min"`
	Humidity      models.Fixed1 `json:"humidity"`
	Precipitation models.Fixed2 `json:"precipitation"`
	WindSpeed     models.Fixed1 `json:"wind_speed"`
	CloudCover    models.Fixed1 `json:"cloud_cover"`
}

type Series struct {
	Location models.Location `json:"location"`
	Days     []Day           `json:"historical"`
	Averages SeriesAverages  `json:"averages"`
}

// Records converts the series into daily records, for callers that want to
// feed synthetic days through the same code as observed ones.
func (s Series) Records() []models.DailyRecord {
	out := make([]models.DailyRecord, 0, len(s.Days))
	for _, d := range s.Days {
		date, err := time.Parse(time.DateOnly, d.Date)
		if err != nil {
			continue
		}
		out = append(out, models.DailyRecord{
			Date:           date,
			Temperature:    float64(d.Temperature),
			MaxTemperature: float64(d.TempMax),
			MinTemperature: float64(d.TempMin),
			Precipitation:  float64(d.Precipitation),
			WindSpeed:      float64(d.WindSpeed),
			Humidity:       float64(d.Humidity),
		})
	}
	return out
}

type channels struct {
	temp, tmax, tmin, hum, precip, wind, cloud []float64
}

// Series produces n daily predictions ending yesterday. Each channel is
// smoothed with a centred three-point moving average before rounding.
func (m *Model) Series(n int, loc models.Location, preset suitability.Preset) Series {
	out := Series{Location: loc}
	if n <= 0 {
		return out
	}

	now := m.clock.Now()
	dates := make([]time.Time, n)
	var c channels
	for i := 0; i < n; i++ {
		at := now.AddDate(0, 0, -(n - i))
		b := m.PredictAt(at, loc, preset)

		m.mu.Lock()
		tmax := b.Temperature + m.rnd.Float64()*5
		tmin := b.Temperature - m.rnd.Float64()*5
		m.mu.Unlock()

		dates[i] = at
		c.temp = append(c.temp, b.Temperature)
		c.tmax = append(c.tmax, tmax)
		c.tmin = append(c.tmin, tmin)
		c.hum = append(c.hum, b.Humidity)
		c.precip = append(c.precip, b.Precipitation)
		c.wind = append(c.wind, b.WindSpeed)
		c.cloud = append(c.cloud, b.CloudCover)
	}

	c = channels{
		temp:   Smooth(c.temp),
		tmax:   Smooth(c.tmax),
		tmin:   Smooth(c.tmin),
		hum:    Smooth(c.hum),
		precip: Smooth(c.precip),
		wind:   Smooth(c.wind),
		cloud:  Smooth(c.cloud),
	}

	out.Days = make([]Day, n)
	for i := range out.Days {
		out.Days[i] = Day{
			Date:          dates[i].UTC().Format(time.DateOnly),
			Temperature:   fixed1(c.temp[i]),
			TempMax:       fixed1(c.tmax[i]),
			TempMin:       fixed1(c.tmin[i]),
			Humidity:      fixed1(c.hum[i]),
			Precipitation: models.Fixed2(models.Round(c.precip[i], 2)),
			WindSpeed:     fixed1(c.wind[i]),
			CloudCover:    fixed1(c.cloud[i]),
		}
	}
	out.Averages = SeriesAverages{
		Temperature:   fixed1(mean(c.temp)),
		TempMax:       fixed1(mean(c.tmax)),
		TempMin:       fixed1(mean(c.tmin)),
		Humidity:      fixed1(mean(c.hum)),
		Precipitation: models.Fixed2(models.Round(mean(c.precip), 2)),
		WindSpeed:     fixed1(mean(c.wind)),
		CloudCover:    fixed1(mean(c.cloud)),
	}
	return out
}

// Smooth applies a centred window-3 moving average. At either end the window
// is truncated and divided by the number of points it actually covers.
func Smooth(xs []float64) []float64 {
	out := make([]float64, len(xs))
	for i := range xs {
		lo, hi := max(0, i-1), min(len(xs)-1, i+1)
		var sum float64
		for j := lo; j <= hi; j++ {
			sum += xs[j]
		}
		out[i] = sum / float64(hi-lo+1)
	}
	return out
}

// mean is only called on non-empty channels.
func mean(xs []float64) float64 {
	v, _ := stats.Mean(xs)
	return v
}

func fixed1(v float64) models.Fixed1 {
	return models.Fixed1(models.Round(v, 1))
}
