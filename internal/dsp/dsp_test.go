package dsp

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBandPassRejectsDC(t *testing.T) {
	f := NewBandPass(5, 15, 250)
	for i := 0; i < 500; i++ {
		y := f.Step(3.5)
		require.InDelta(t, 0, y, 1e-12, "sample %d", i)
	}
}

func TestLowPassDCGain(t *testing.T) {
	lp := LowPass(15, 250)
	assert.InDelta(t, 1, lp.DCGain(), 1e-12)
	hp := HighPass(5, 250)
	assert.Equal(t, 0.0, hp.DCGain())
}

func TestBandPassAttenuatesOutOfBand(t *testing.T) {
	const fs = 250.0
	rms := func(freq float64) float64 {
		f := NewBandPass(5, 15, fs)
		var sum float64
		n := 0
		for i := 0; i < 2500; i++ {
			y := f.Step(math.Sin(2 * math.Pi * freq * float64(i) / fs))
			if i >= 500 {
				sum += y * y
				n++
			}
		}
		return math.Sqrt(sum / float64(n))
	}
	inBand := rms(10)
	assert.Greater(t, inBand, 0.5)
	assert.Less(t, rms(0.5), inBand/10)
	assert.Less(t, rms(80), inBand/10)
}

func TestWelchLocatesTone(t *testing.T) {
	const fs = 4.0
	x := make([]float64, 1200)
	for i := range x {
		x[i] = math.Sin(2 * math.Pi * 0.25 * float64(i) / fs)
	}
	psd := Welch(x, fs, 256)
	require.Len(t, psd.Freqs, 129)
	peak := 0
	for k := range psd.Power {
		if psd.Power[k] > psd.Power[peak] {
			peak = k
		}
	}
	assert.InDelta(t, 0.25, psd.Freqs[peak], psd.DF)
	// Integrated power approximates the signal variance (0.5 for a unit sine).
	assert.InDelta(t, 0.5, psd.TotalPower(), 0.05)
	assert.Greater(t, psd.BandPower(0.15, 0.4), 0.9*psd.TotalPower())
}

func TestWelchShortInput(t *testing.T) {
	assert.Empty(t, Welch([]float64{1}, 4, 256).Power)
	psd := Welch([]float64{1, 2, 3, 4}, 4, 256)
	assert.Len(t, psd.Power, 3)
}

func TestSpectralEntropy(t *testing.T) {
	flat := PSD{Power: []float64{1, 1, 1, 1}, DF: 1}
	assert.InDelta(t, 1, flat.SpectralEntropy(), 1e-12)
	peaked := PSD{Power: []float64{0, 1, 0, 0}, DF: 1}
	assert.InDelta(t, 0, peaked.SpectralEntropy(), 1e-12)
}

func TestMedian(t *testing.T) {
	assert.Equal(t, 0.0, Median(nil))
	assert.Equal(t, 2.0, Median([]float64{3, 1, 2}))
	assert.Equal(t, 2.5, Median([]float64{4, 1, 3, 2}))
}

func TestSlope(t *testing.T) {
	assert.InDelta(t, 2, Slope([]float64{0, 1, 2, 3}, []float64{1, 3, 5, 7}), 1e-12)
}

func TestWelford(t *testing.T) {
	var w Welford
	for _, v := range []float64{0.80, 0.82, 0.78, 0.81} {
		w.Add(v)
	}
	assert.Equal(t, 4, w.N())
	assert.InDelta(t, 0.8025, w.Mean(), 1e-12)
	assert.InDelta(t, 0.000875/3, w.SampleVariance(), 1e-12)
	assert.InDelta(t, 0.000875/4, w.PopulationVariance(), 1e-12)

	// Large offsets must not cancel catastrophically.
	var big Welford
	for _, v := range []float64{1e9 + 4, 1e9 + 7, 1e9 + 13, 1e9 + 16} {
		big.Add(v)
	}
	assert.InDelta(t, 30, big.SampleVariance(), 1e-6)
}
