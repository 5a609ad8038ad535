package diff

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func solidFrame(w, h int, r, g, b byte) Frame {
	pix := make([]byte, w*h*3)
	for i := 0; i < w*h; i++ {
		pix[i*3] = r
		pix[i*3+1] = g
		pix[i*3+2] = b
	}
	return Frame{Width: w, Height: h, Pix: pix}
}

func TestDiff_Idempotent(t *testing.T) {
	f := solidFrame(4, 4, 50, 10, 200)
	res := Diff(f, f, nil)
	assert.Equal(t, 0.0, res.Average)
	assert.Equal(t, 0.0, res.StdDevEstimate)
}

func TestDiff_IdempotentWithMask(t *testing.T) {
	f := solidFrame(4, 4, 50, 10, 200)
	mask := make([]byte, 16)
	for i := range mask {
		mask[i] = 255
	}
	mask[0] = 0 // include exactly one pixel
	res := Diff(f, f, mask)
	assert.Equal(t, 0.0, res.Average)
	assert.Equal(t, 0.0, res.StdDevEstimate)
}

func TestDiff_Symmetric(t *testing.T) {
	a := solidFrame(4, 4, 0, 0, 0)
	b := solidFrame(4, 4, 50, 0, 0)
	ab := Diff(a, b, nil)
	ba := Diff(b, a, nil)
	assert.Equal(t, ab.Average, ba.Average)
}

func TestDiff_KnownDelta(t *testing.T) {
	// Every pixel differs by 50 on the red channel only: d_i = 50^2 = 2500
	// for every pixel, so stddev is 0 (no dispersion) and average is 2500.
	a := solidFrame(4, 4, 0, 0, 0)
	b := solidFrame(4, 4, 50, 0, 0)
	res := Diff(a, b, nil)
	assert.InDelta(t, 2500.0, res.Average, 1e-9)
	assert.InDelta(t, 0.0, res.StdDevEstimate, 1e-9)
}

func TestDiff_AllMaskedYieldsNaN(t *testing.T) {
	a := solidFrame(2, 2, 0, 0, 0)
	b := solidFrame(2, 2, 10, 0, 0)
	mask := make([]byte, 4)
	for i := range mask {
		mask[i] = 1
	}
	res := Diff(a, b, mask)
	assert.True(t, math.IsNaN(res.Average))
	assert.True(t, math.IsNaN(res.StdDevEstimate))
}

func TestDiff_MixedDeltasProducesDispersion(t *testing.T) {
	w, h := 2, 2
	a := solidFrame(w, h, 0, 0, 0)
	b := solidFrame(w, h, 0, 0, 0)
	// Pixel 0 differs by 10, the rest are identical.
	b.Pix[0] = 10
	res := Diff(a, b, nil)
	require.False(t, math.IsNaN(res.Average))
	assert.Greater(t, res.StdDevEstimate, 0.0)
}

func TestDiff_ShapeMismatchPanics(t *testing.T) {
	a := solidFrame(2, 2, 0, 0, 0)
	b := solidFrame(3, 3, 0, 0, 0)
	assert.Panics(t, func() { Diff(a, b, nil) })
}
