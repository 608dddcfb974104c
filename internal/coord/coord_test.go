package coord

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"tz-api/internal/tzerr"
)

func TestQuantizeRoundTrip(t *testing.T) {
	half := 0.5 / Scale
	cases := [][2]float64{
		{0, 0},
		{13.358, 52.5061},
		{-180, -90},
		{180, 90},
		{-74.0060152, 40.7127281},
		{151.2092955, -33.8698439},
		{0.00000004, -0.00000006},
		{179.99999996, 89.99999994},
	}
	for _, c := range cases {
		p, err := Quantize(c[0], c[1])
		require.NoError(t, err)
		lng, lat := Dequantize(p)
		assert.LessOrEqual(t, math.Abs(lng-c[0]), half+1e-12, "lng %v", c[0])
		assert.LessOrEqual(t, math.Abs(lat-c[1]), half+1e-12, "lat %v", c[1])
	}
}

func TestQuantizeExactValues(t *testing.T) {
	p, err := Quantize(180, -90)
	require.NoError(t, err)
	assert.Equal(t, MaxX, p.X)
	assert.Equal(t, -MaxY, p.Y)

	p, err = Quantize(1.23456789, 0)
	require.NoError(t, err)
	assert.Equal(t, int32(12345679), p.X)
}

func TestQuantizeOutOfRange(t *testing.T) {
	bad := [][2]float64{
		{180.0000001, 0},
		{-180.5, 0},
		{0, 90.01},
		{0, -91},
		{math.NaN(), 0},
		{0, math.NaN()},
		{math.Inf(1), 0},
	}
	for _, c := range bad {
		_, err := Quantize(c[0], c[1])
		require.Error(t, err, "%v", c)
		assert.ErrorIs(t, err, tzerr.ErrOutOfRange)
	}
}

func TestMustQuantizePanics(t *testing.T) {
	assert.Panics(t, func() { MustQuantize(200, 0) })
	assert.NotPanics(t, func() { MustQuantize(10, 10) })
}
