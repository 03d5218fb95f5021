package sqi

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/banshee-data/cardio.report/internal/physio"
)

func steadyRR(t *testing.T, n int, v float64) physio.RRSeries {
	t.Helper()
	out := make([]float64, n)
	for i := range out {
		out[i] = v
	}
	rr, err := physio.NewRRSeries(out)
	require.NoError(t, err)
	return rr
}

func rrOf(t *testing.T, v ...float64) physio.RRSeries {
	t.Helper()
	rr, err := physio.NewRRSeries(v)
	require.NoError(t, err)
	return rr
}

func TestEvaluateStatus(t *testing.T) {
	clean := physio.Synthesize(physio.SynthOptions{FS: 250, Seconds: 10, HeartBPM: 72, Seed: 1})
	noisy := physio.Synthesize(physio.SynthOptions{FS: 250, Seconds: 10, HeartBPM: 72, Noise: 1.0, Seed: 1})
	short := physio.Synthesize(physio.SynthOptions{FS: 250, Seconds: 3, HeartBPM: 72, Seed: 1})

	tests := []struct {
		name   string
		series physio.TimeSeries
		rr     physio.RRSeries
		want   Status
	}{
		{"clean", clean, steadyRR(t, 11, 60.0/72), Good},
		{"variable rhythm", clean, rrOf(t, 0.6, 1.0, 0.6, 1.0, 0.6, 1.0), Uncertain},
		{"erratic rhythm", clean, rrOf(t, 0.3, 1.3, 0.3, 1.3, 0.3, 1.3), Bad},
		{"noise", noisy, steadyRR(t, 11, 60.0/72), Bad},
		{"too short", short, steadyRR(t, 3, 60.0/72), Bad},
		{"no beats", clean, physio.RRSeries{}, Bad},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := Evaluate(tt.series, tt.rr, DefaultThresholds())
			assert.Equal(t, tt.want, r.Status, "reasons: %v", r.Reasons)
			if tt.want == Good {
				assert.Empty(t, r.Reasons)
			} else {
				assert.NotEmpty(t, r.Reasons)
			}
		})
	}
}

func TestEvaluateCleanIndices(t *testing.T) {
	clean := physio.Synthesize(physio.SynthOptions{FS: 250, Seconds: 10, HeartBPM: 72, Seed: 1})
	r := Evaluate(clean, steadyRR(t, 11, 60.0/72), DefaultThresholds())
	assert.Greater(t, r.Kurtosis, 10.0)
	assert.Greater(t, r.SNR, 3.0)
	assert.Greater(t, r.SNRdB, 0.0)
	assert.Equal(t, 0.0, r.RRCV)
	assert.Greater(t, r.SpectralEntropy, 0.0)
	assert.Less(t, r.SpectralEntropy, 1.0)
}

func TestEvaluateFlatLine(t *testing.T) {
	flat := physio.TimeSeries{FS: 250, Data: make([]float64, 2500)}
	r := Evaluate(flat, physio.RRSeries{}, DefaultThresholds())
	assert.Equal(t, Bad, r.Status)
	assert.Equal(t, 0.0, r.Kurtosis)
	assert.Equal(t, 0.0, r.SNR)

	// Zero SNR must still serialise.
	_, err := json.Marshal(r)
	assert.NoError(t, err)
}

func TestKurtosis(t *testing.T) {
	assert.Equal(t, 0.0, Kurtosis([]float64{2, 2, 2, 2}))
	// A symmetric two-point distribution has kurtosis 1.
	assert.InDelta(t, 1.0, Kurtosis([]float64{-1, 1, -1, 1}), 1e-12)
}

func TestCoefficientOfVariation(t *testing.T) {
	assert.InDelta(t, 0.25, CoefficientOfVariation([]float64{0.6, 1.0, 0.6, 1.0}), 1e-12)
	assert.Equal(t, 0.0, CoefficientOfVariation(nil))
}

func TestSpikeRatio(t *testing.T) {
	x := make([]float64, 101)
	for i := range x {
		x[i] = float64(i % 2)
	}
	assert.Equal(t, 0.0, SpikeRatio(x))

	for i := range x {
		x[i] = float64(i) * 0.01
	}
	x[50] = 10
	assert.InDelta(t, 2.0/100, SpikeRatio(x), 1e-12)
}

func TestThresholdsValidate(t *testing.T) {
	assert.NoError(t, DefaultThresholds().Validate())

	th := DefaultThresholds()
	th.SNRBad = th.SNRGood + 1
	assert.ErrorIs(t, th.Validate(), physio.ErrConfiguration)

	th = DefaultThresholds()
	th.NoiseHz = th.BandHighHz
	assert.ErrorIs(t, th.Validate(), physio.ErrConfiguration)
}
