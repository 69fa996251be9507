package suitability

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPresetResolve_Defaults(t *testing.T) {
	got := Preset{Name: "custom"}.Resolve()
	assert.Equal(t, "custom", got.Name)
	assert.Equal(t, DefaultRanges(), got.Ranges)
	assert.Equal(t, DefaultWeights(), got.Weights)
}

func TestPresetResolve_PartialOverride(t *testing.T) {
	p := Preset{
		Name:      "beach_day",
		TempMin:   Float(24),
		TempMax:   Float(32),
		PrecipMax: Float(0),
	}
	got := p.Resolve()
	assert.Equal(t, 24.0, got.Ranges.TempMin)
	assert.Equal(t, 32.0, got.Ranges.TempMax)
	// An explicit zero is kept, not replaced by the default.
	assert.Equal(t, 0.0, got.Ranges.PrecipMax)
	assert.Equal(t, 15.0, got.Ranges.WindMax)
	assert.Equal(t, 60.0, got.Ranges.CloudMax)
}

func TestPresetValidate(t *testing.T) {
	tests := []struct {
		name    string
		preset  Preset
		wantErr bool
	}{
		{"defaults", Preset{Name: "default"}, false},
		{"zero weather weights", Preset{Name: "air", Weights: &Weights{AirQuality: 1}}, true},
		{"negative weight", Preset{Name: "neg", Weights: &Weights{Temp: 1, Wind: -0.1}}, true},
		{"inverted temperature range", Preset{Name: "inv", TempMin: Float(30), TempMax: Float(10)}, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.preset.Validate()
			if !tt.wantErr {
				require.NoError(t, err)
				return
			}
			require.Error(t, err)
			var ipe *InvalidPresetError
			require.True(t, errors.As(err, &ipe))
			assert.Equal(t, tt.preset.Name, ipe.Preset)
		})
	}
}
