package suitability

import (
	"errors"
	"fmt"
	"math"
)

// Weights are the per-category weights of an activity preset.
type Weights struct {
	Temp          float64 `json:"temp" yaml:"temp"`
	Wind          float64 `json:"wind" yaml:"wind"`
	Humidity      float64 `json:"humidity" yaml:"humidity"`
	Precipitation float64 `json:"precipitation" yaml:"precipitation"`
	AirQuality    float64 `json:"air_quality" yaml:"air_quality"`
}

func DefaultWeights() Weights {
	return Weights{Temp: 0.3, Wind: 0.2, Humidity: 0.15, Precipitation: 0.25, AirQuality: 0.1}
}

// InvalidPresetError reports weights that cannot be normalised.
type InvalidPresetError struct {
	Preset string
	Reason string
}

func (e *InvalidPresetError) Error() string {
	if e.Preset == "" {
		return "invalid preset: " + e.Reason
	}
	return fmt.Sprintf("invalid preset %q: %s", e.Preset, e.Reason)
}

// Validate checks that no weight is negative and that the four weather
// weights have a positive sum.
func (w Weights) Validate() error {
	fields := []struct {
		name string
		v    float64
	}{
		{"temp", w.Temp},
		{"wind", w.Wind},
		{"humidity", w.Humidity},
		{"precipitation", w.Precipitation},
		{"air_quality", w.AirQuality},
	}
	for _, f := range fields {
		if f.v < 0 || math.IsNaN(f.v) {
			return &InvalidPresetError{Reason: fmt.Sprintf("weight %s is %v", f.name, f.v)}
		}
	}
	if w.weatherSum() <= 0 {
		return &InvalidPresetError{Reason: "weather weights sum to zero"}
	}
	return nil
}

func (w Weights) weatherSum() float64 {
	return w.Temp + w.Wind + w.Humidity + w.Precipitation
}

// Ranges are the acceptable conditions for an activity.
type Ranges struct {
	TempMin     float64 `json:"temp_min"`
	TempMax     float64 `json:"temp_max"`
	WindMax     float64 `json:"wind_max"`
	HumidityMax float64 `json:"humidity_max"`
	PrecipMax   float64 `json:"precip_max"`
	CloudMax    float64 `json:"cloud_max"`
}

// DefaultRanges is the single default table for unset preset fields.
func DefaultRanges() Ranges {
	return Ranges{TempMin: 18, TempMax: 26, WindMax: 15, HumidityMax: 70, PrecipMax: 2, CloudMax: 60}
}

// Preset is an activity's weather preferences as supplied by a catalog or a
// request. Nil fields take the defaults on Resolve.
type Preset struct {
	Name        string   `json:"name" yaml:"name"`
	Description string   `json:"description,omitempty" yaml:"description"`
	TempMin     *float64 `json:"temp_min,omitempty" yaml:"temp_min"`
	TempMax     *float64 `json:"temp_max,omitempty" yaml:"temp_max"`
	WindMax     *float64 `json:"wind_max,omitempty" yaml:"wind_max"`
	HumidityMax *float64 `json:"humidity_max,omitempty" yaml:"humidity_max"`
	PrecipMax   *float64 `json:"precip_max,omitempty" yaml:"precip_max"`
	CloudMax    *float64 `json:"cloud_max,omitempty" yaml:"cloud_max"`
	Weights     *Weights `json:"weights,omitempty" yaml:"weights"`
}

// Resolved is a Preset with every field filled in.
type Resolved struct {
	Name    string  `json:"name"`
	Ranges  Ranges  `json:"ranges"`
	Weights Weights `json:"weights"`
}

func (p Preset) Resolve() Resolved {
	r := DefaultRanges()
	pick(&r.TempMin, p.TempMin)
	pick(&r.TempMax, p.TempMax)
	pick(&r.WindMax, p.WindMax)
	pick(&r.HumidityMax, p.HumidityMax)
	pick(&r.PrecipMax, p.PrecipMax)
	pick(&r.CloudMax, p.CloudMax)

	w := DefaultWeights()
	if p.Weights != nil {
		w = *p.Weights
	}
	return Resolved{Name: p.Name, Ranges: r, Weights: w}
}

// Validate checks the weights and that the temperature range is ordered.
func (p Preset) Validate() error {
	res := p.Resolve()
	if err := res.Weights.Validate(); err != nil {
		var ipe *InvalidPresetError
		if errors.As(err, &ipe) {
			ipe.Preset = p.Name
		}
		return err
	}
	if res.Ranges.TempMin > res.Ranges.TempMax {
		return &InvalidPresetError{Preset: p.Name, Reason: "temp_min above temp_max"}
	}
	return nil
}

func pick(dst *float64, v *float64) {
	if v != nil {
		*dst = *v
	}
}

// Float returns a pointer to v, for building presets in code.
func Float(v float64) *float64 { return &v }
