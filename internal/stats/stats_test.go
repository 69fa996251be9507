package stats

import (
	"errors"
	"math/rand/v2"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMean(t *testing.T) {
	got, err := Mean([]float64{1, 2, 3, 4})
	require.NoError(t, err)
	assert.InDelta(t, 2.5, got, 1e-12)
}

func TestStdDevIsPopulation(t *testing.T) {
	// Population σ of {2,4,4,4,5,5,7,9} is exactly 2; the sample σ would be ~2.138.
	got, err := StdDev([]float64{2, 4, 4, 4, 5, 5, 7, 9})
	require.NoError(t, err)
	assert.InDelta(t, 2.0, got, 1e-12)
}

func TestStdDevZeroIffConstant(t *testing.T) {
	for _, xs := range [][]float64{
		{7.5, 7.5, 7.5},
		{0.1, 0.1, 0.1},
		{0.7, 0.7, 0.7, 0.7, 0.7, 0.7, 0.7},
		{1.1, 1.1, 1.1, 1.1, 1.1, 1.1, 1.1, 1.1, 1.1, 1.1},
	} {
		sd, err := StdDev(xs)
		require.NoError(t, err)
		assert.Zero(t, sd, "StdDev(%v)", xs)
	}

	single, err := StdDev([]float64{3})
	require.NoError(t, err)
	assert.Zero(t, single)

	varied, err := StdDev([]float64{7.5, 7.5, 7.6})
	require.NoError(t, err)
	assert.Greater(t, varied, 0.0)
}

func TestStdDevNonNegative(t *testing.T) {
	r := rand.New(rand.NewPCG(1, 2))
	for i := 0; i < 200; i++ {
		n := 1 + r.IntN(50)
		xs := make([]float64, n)
		for j := range xs {
			xs[j] = r.NormFloat64() * 20
		}
		sd, err := StdDev(xs)
		require.NoError(t, err)
		assert.GreaterOrEqual(t, sd, 0.0)
	}
}

func TestPercentileNearestRank(t *testing.T) {
	sorted := []float64{10, 20, 30, 40, 50, 60, 70, 80, 90, 100}

	tests := []struct {
		p    float64
		want float64
	}{
		{0, 10},
		{10, 20},
		{25, 30},
		{50, 60},
		{90, 100},
		{100, 100},
	}
	for _, tt := range tests {
		got, err := Percentile(sorted, tt.p)
		require.NoError(t, err)
		assert.Equal(t, tt.want, got, "p=%v", tt.p)
	}
}

func TestEmptyInput(t *testing.T) {
	ops := map[string]func([]float64) (float64, error){
		"mean":   Mean,
		"stddev": StdDev,
		"min":    Min,
		"max":    Max,
		"percentile": func(xs []float64) (float64, error) {
			return Percentile(xs, 50)
		},
	}
	for name, op := range ops {
		t.Run(name, func(t *testing.T) {
			_, err := op(nil)
			require.Error(t, err)
			assert.True(t, errors.Is(err, ErrEmptyInput))

			var empty *EmptyInputError
			require.ErrorAs(t, err, &empty)
			assert.Equal(t, name, empty.Op)
		})
	}
}

func TestMinMax(t *testing.T) {
	xs := []float64{3, -1, 8, 2}
	lo, err := Min(xs)
	require.NoError(t, err)
	hi, err := Max(xs)
	require.NoError(t, err)
	assert.Equal(t, -1.0, lo)
	assert.Equal(t, 8.0, hi)
}
